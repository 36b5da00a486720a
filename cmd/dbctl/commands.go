package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"lstore/query"
)

func init() {
	rootCmd.AddCommand(createTableCmd, dropTableCmd, insertCmd, selectCmd, updateCmd, deleteCmd, sumCmd, incrementCmd)
}

var createTableCmd = &cobra.Command{
	Use:   "create-table",
	Short: "Create a table with --columns data columns and primary key --key",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTable(cmd); err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if _, err := db.CreateTable(tableName, numColumns, keyColumn); err != nil {
			return err
		}
		fmt.Printf("created table %q (%d columns, key=%d)\n", tableName, numColumns, keyColumn)
		return nil
	},
}

var dropTableCmd = &cobra.Command{
	Use:   "drop-table",
	Short: "Drop a table",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTable(cmd); err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DropTable(tableName); err != nil {
			return err
		}
		fmt.Printf("dropped table %q\n", tableName)
		return nil
	},
}

var insertCmd = &cobra.Command{
	Use:   "insert [values...]",
	Short: "Insert one row of space-separated int64 column values",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTable(cmd); err != nil {
			return err
		}
		values, err := parseInts(args)
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		t, err := db.Table(tableName)
		if err != nil {
			return err
		}
		if ok := query.New(db, t).Insert(values...); !ok {
			return fmt.Errorf("insert failed")
		}
		fmt.Println("ok")
		return nil
	},
}

var (
	selectKey     int64
	selectIndex   int
	selectMask    string
	selectVersion int
)

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Select rows matching --key in column --index, projected by --mask",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTable(cmd); err != nil {
			return err
		}
		mask, err := parseMask(selectMask)
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		t, err := db.Table(tableName)
		if err != nil {
			return err
		}
		rows := query.New(db, t).SelectVersion(selectKey, selectIndex, mask, selectVersion)
		for _, row := range rows {
			fmt.Println(formatRow(row))
		}
		return nil
	},
}

var (
	updateKey int64
	updateSet string
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update the row keyed by --key, --set col=value[,col=value...]",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTable(cmd); err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		t, err := db.Table(tableName)
		if err != nil {
			return err
		}
		newValues := make([]*int64, t.NumColumns())
		for _, pair := range strings.Split(updateSet, ",") {
			if pair == "" {
				continue
			}
			colStr, valStr, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("bad --set entry %q, want col=value", pair)
			}
			col, err := strconv.Atoi(colStr)
			if err != nil {
				return fmt.Errorf("bad column in %q: %w", pair, err)
			}
			val, err := strconv.ParseInt(valStr, 10, 64)
			if err != nil {
				return fmt.Errorf("bad value in %q: %w", pair, err)
			}
			if col < 0 || col >= len(newValues) {
				return fmt.Errorf("column %d out of range", col)
			}
			newValues[col] = &val
		}

		if ok := query.New(db, t).Update(updateKey, newValues); !ok {
			return fmt.Errorf("update failed")
		}
		fmt.Println("ok")
		return nil
	},
}

var deleteKey int64

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the row keyed by --key",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTable(cmd); err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		t, err := db.Table(tableName)
		if err != nil {
			return err
		}
		if ok := query.New(db, t).Delete(deleteKey); !ok {
			return fmt.Errorf("delete failed")
		}
		fmt.Println("ok")
		return nil
	},
}

var (
	sumStart   int64
	sumEnd     int64
	sumCol     int
	sumVersion int
)

var sumCmd = &cobra.Command{
	Use:   "sum",
	Short: "Sum column --col over primary keys in [--start, --end]",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTable(cmd); err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		t, err := db.Table(tableName)
		if err != nil {
			return err
		}
		total, ok := query.New(db, t).SumVersion(sumStart, sumEnd, sumCol, sumVersion)
		if !ok {
			return fmt.Errorf("sum: no record in range")
		}
		fmt.Println(total)
		return nil
	},
}

var (
	incrementKey int64
	incrementCol int
)

var incrementCmd = &cobra.Command{
	Use:   "increment",
	Short: "Increment column --col for the row keyed by --key",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTable(cmd); err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		t, err := db.Table(tableName)
		if err != nil {
			return err
		}
		if ok := query.New(db, t).Increment(incrementKey, incrementCol); !ok {
			return fmt.Errorf("increment failed")
		}
		fmt.Println("ok")
		return nil
	},
}

func init() {
	selectCmd.Flags().Int64Var(&selectKey, "key", 0, "search key")
	selectCmd.Flags().IntVar(&selectIndex, "index", 0, "column to search on")
	selectCmd.Flags().StringVar(&selectMask, "mask", "", "comma-separated 0/1 projection mask")
	selectCmd.Flags().IntVar(&selectVersion, "version", 0, "version offset (0 = latest)")

	updateCmd.Flags().Int64Var(&updateKey, "key", 0, "primary key of the row to update")
	updateCmd.Flags().StringVar(&updateSet, "set", "", "col=value[,col=value...]")

	deleteCmd.Flags().Int64Var(&deleteKey, "key", 0, "primary key of the row to delete")

	sumCmd.Flags().Int64Var(&sumStart, "start", 0, "range start (inclusive)")
	sumCmd.Flags().Int64Var(&sumEnd, "end", 0, "range end (inclusive)")
	sumCmd.Flags().IntVar(&sumCol, "col", 0, "column to aggregate")
	sumCmd.Flags().IntVar(&sumVersion, "version", 0, "version offset (0 = latest)")

	incrementCmd.Flags().Int64Var(&incrementKey, "key", 0, "primary key of the row to increment")
	incrementCmd.Flags().IntVar(&incrementCol, "col", 0, "column to increment")
}

func parseInts(args []string) ([]int64, error) {
	out := make([]int64, len(args))
	for i, a := range args {
		v, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad value %q: %w", a, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseMask(s string) ([]int, error) {
	if s == "" {
		return nil, fmt.Errorf("--mask is required")
	}
	parts := strings.Split(s, ",")
	mask := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("bad mask entry %q: %w", p, err)
		}
		mask[i] = v
	}
	return mask, nil
}

func formatRow(row []int64) string {
	parts := make([]string, len(row))
	for i, v := range row {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, ",")
}
