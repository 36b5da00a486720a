// Command dbctl is a minimal command-line harness for manually
// exercising the storage engine: one subcommand per programmatic-API
// operation (spec.md §6). It is deliberately thin — there is no SQL
// parsing or query planning here, only direct calls into query.Query
// (and into Database for create-table/drop-table).
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	storageengine "lstore/storage_engine"
)

var (
	dbPath     string
	tableName  string
	numColumns int
	keyColumn  int

	rootCmd = &cobra.Command{
		Use:   "dbctl",
		Short: "A command-line harness for the L-Store storage engine",
	}
)

func init() {
	fs := rootCmd.PersistentFlags()
	fs.StringVar(&dbPath, "db", "./lstore-data", "database directory")
	fs.StringVar(&tableName, "table", "", "table name")
	fs.IntVar(&numColumns, "columns", 0, "number of data columns (create-table only)")
	fs.IntVar(&keyColumn, "key", 0, "primary key column index (create-table only)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openDB opens the database named by --db, logging at info level to
// stderr, matching the teacher's "print what's happening" tracing
// habit but through logrus instead of bare fmt.Printf.
func openDB() (*storageengine.Database, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	return storageengine.Open(dbPath, storageengine.WithLogger(log))
}

func requireTable(cmd *cobra.Command) error {
	if tableName == "" {
		return fmt.Errorf("%s: --table is required", cmd.Use)
	}
	return nil
}
