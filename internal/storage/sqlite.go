// Package storage provides the SQLite-backed ledger substrate: a record arena
// keyed by deterministic addresses, a balance book, and an append-only
// transaction log. Records are never deleted; the arena only grows.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Sentinel errors for record and balance operations.
var (
	ErrNotFound            = errors.New("record not found")
	ErrExists              = errors.New("record already exists")
	ErrStale               = errors.New("record version is stale")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// DB wraps a sql.DB connection to a SQLite database.
type DB struct {
	db *sql.DB
}

// NewDB opens (or creates) a SQLite database at path and runs schema migrations.
// Transactions acquire the write lock up front (_txlock=immediate) so that two
// instructions touching the same records serialize instead of deadlocking.
func NewDB(path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// migrate creates all required tables if they do not already exist.
func (d *DB) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS records (
    address BLOB PRIMARY KEY,
    kind INTEGER NOT NULL,
    version INTEGER NOT NULL,
    data BLOB NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS balances (
    address BLOB PRIMARY KEY,
    balance INTEGER NOT NULL CHECK (balance >= 0)
);

CREATE TABLE IF NOT EXISTS tx_log (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL,
    instruction TEXT NOT NULL,
    caller TEXT NOT NULL,
    params TEXT,
    applied_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind);
CREATE INDEX IF NOT EXISTS idx_tx_log_instruction ON tx_log(instruction);`
	_, err := d.db.Exec(schema)
	return err
}

// Tx is one atomic unit of work against the substrate. All record and balance
// mutations of an instruction happen through a single Tx; either the whole
// instruction commits or nothing does.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction, committing on nil and rolling back on
// error. The returned error is fn's error, or the commit error.
func (d *DB) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Tx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --- Record arena ---

func getRecord(q interface {
	QueryRow(query string, args ...any) *sql.Row
}, address []byte) (*Record, error) {
	r := &Record{Address: address}
	err := q.QueryRow(
		`SELECT kind, version, data FROM records WHERE address = ?`, address,
	).Scan(&r.Kind, &r.Version, &r.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return r, nil
}

// GetRecord reads a record by address within the transaction.
func (t *Tx) GetRecord(address []byte) (*Record, error) {
	return getRecord(t.tx, address)
}

// CreateRecord inserts a new record at version 1. Fails with ErrExists if a
// record already occupies the address.
func (t *Tx) CreateRecord(address []byte, kind int, data []byte) error {
	var one int
	err := t.tx.QueryRow(`SELECT 1 FROM records WHERE address = ?`, address).Scan(&one)
	if err == nil {
		return ErrExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("create record: %w", err)
	}
	_, err = t.tx.Exec(
		`INSERT INTO records (address, kind, version, data, updated_at)
		 VALUES (?, ?, 1, ?, ?)`,
		address, kind, data, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	return nil
}

// UpdateRecord replaces a record's data, compare-and-swap on the version read
// earlier in this instruction. ErrStale means another instruction committed a
// newer version and the caller must abort.
func (t *Tx) UpdateRecord(address []byte, expectedVersion int64, data []byte) error {
	res, err := t.tx.Exec(
		`UPDATE records SET data = ?, version = version + 1, updated_at = ?
		 WHERE address = ? AND version = ?`,
		data, time.Now().Unix(), address, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record rows affected: %w", err)
	}
	if n == 0 {
		return ErrStale
	}
	return nil
}

// --- Balance book ---

func getBalance(q interface {
	QueryRow(query string, args ...any) *sql.Row
}, address []byte) (uint64, error) {
	var bal int64
	err := q.QueryRow(`SELECT balance FROM balances WHERE address = ?`, address).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return uint64(bal), nil
}

// GetBalance reads the balance at an address. A missing row is a zero balance.
func (t *Tx) GetBalance(address []byte) (uint64, error) {
	return getBalance(t.tx, address)
}

// Credit adds amount to the balance at address, creating the row if needed.
func (t *Tx) Credit(address []byte, amount uint64) error {
	_, err := t.tx.Exec(
		`INSERT INTO balances (address, balance) VALUES (?, ?)
		 ON CONFLICT(address) DO UPDATE SET balance = balance + excluded.balance`,
		address, int64(amount),
	)
	if err != nil {
		return fmt.Errorf("credit: %w", err)
	}
	return nil
}

// Debit subtracts amount from the balance at address. Fails with
// ErrInsufficientBalance rather than letting the balance go negative.
func (t *Tx) Debit(address []byte, amount uint64) error {
	res, err := t.tx.Exec(
		`UPDATE balances SET balance = balance - ? WHERE address = ? AND balance >= ?`,
		int64(amount), address, int64(amount),
	)
	if err != nil {
		return fmt.Errorf("debit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("debit rows affected: %w", err)
	}
	if n == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// Transfer moves amount from one balance to another within the transaction.
func (t *Tx) Transfer(from, to []byte, amount uint64) error {
	if err := t.Debit(from, amount); err != nil {
		return err
	}
	return t.Credit(to, amount)
}

// --- Transaction log ---

// AppendLog writes one committed-instruction entry. The log is append-only;
// there is no update or delete path.
func (t *Tx) AppendLog(e *LogEntry) error {
	_, err := t.tx.Exec(
		`INSERT INTO tx_log (id, instruction, caller, params, applied_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Instruction, e.Caller, e.Params, e.AppliedAt,
	)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// --- Read-only access outside a transaction ---

// GetRecord reads a committed record by address.
func (d *DB) GetRecord(address []byte) (*Record, error) {
	return getRecord(d.db, address)
}

// GetBalance reads a committed balance. A missing row is a zero balance.
func (d *DB) GetBalance(address []byte) (uint64, error) {
	return getBalance(d.db, address)
}

// ListRecordsByKind returns all committed records of one kind.
func (d *DB) ListRecordsByKind(kind int) ([]Record, error) {
	rows, err := d.db.Query(
		`SELECT address, kind, version, data FROM records WHERE kind = ? ORDER BY address`, kind,
	)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Address, &r.Kind, &r.Version, &r.Data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ListLog returns up to limit log entries with seq greater than afterSeq,
// in commit order.
func (d *DB) ListLog(afterSeq int64, limit int) ([]LogEntry, error) {
	rows, err := d.db.Query(
		`SELECT seq, id, instruction, caller, params, applied_at
		 FROM tx_log WHERE seq > ? ORDER BY seq LIMIT ?`, afterSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list log: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var params sql.NullString
		if err := rows.Scan(&e.Seq, &e.ID, &e.Instruction, &e.Caller, &params, &e.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		e.Params = params.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
