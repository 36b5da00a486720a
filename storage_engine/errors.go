package storageengine

import "errors"

// Sentinel errors matching spec.md §7's taxonomy. Conflict has no
// sentinel here — the ops.go wrappers turn a refused lock.Manager
// acquisition into txn.ErrAbort, which query.Query's one-shot
// transactions retry and, failing that, turn into a plain bool.
// RangeFull is avoided by Table, which allocates a new page range
// whenever the last one is full before inserting into it.
// PoolExhausted is handled by bufferpool.Pool's own yield-and-retry
// loop and also should not reach here under ordinary load.
var (
	// ErrNotFound is returned when a key is absent from the index a
	// lookup is keyed on.
	ErrNotFound = errors.New("storageengine: key not found")
	// ErrDuplicateKey is returned when an insert or a primary-key
	// update would collide with an existing key.
	ErrDuplicateKey = errors.New("storageengine: duplicate key")
	// ErrNoIndex is returned by Select/Update when asked to look up a
	// column that has no index.
	ErrNoIndex = errors.New("storageengine: column has no index")
	// ErrSchemaMismatch is returned for wrong-arity writes at the API
	// boundary. Fatal for the offending call only, never poisons the
	// Database.
	ErrSchemaMismatch = errors.New("storageengine: schema mismatch")
	// ErrTableNotFound is returned by Database operations naming an
	// unregistered table.
	ErrTableNotFound = errors.New("storageengine: table not found")
	// ErrTableExists is returned by CreateTable for a name already
	// registered.
	ErrTableExists = errors.New("storageengine: table already exists")
	// ErrPoisoned is wrapped by the error that Database's CreateTable,
	// DropTable, Table and Close return once a catalog write, buffer
	// pool flush, directory removal or file close inside one of those
	// methods has failed. Page I/O errors raised by Table operations
	// do not poison the Database.
	ErrPoisoned = errors.New("storageengine: database poisoned by prior I/O error")
)
