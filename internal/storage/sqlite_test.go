package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func addr(b byte) []byte {
	a := make([]byte, 32)
	for i := range a {
		a[i] = b
	}
	return a
}

func TestRecordLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a := addr(1)

	err := db.WithTx(ctx, func(tx *Tx) error {
		return tx.CreateRecord(a, 2, []byte("v1"))
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rec, err := db.GetRecord(a)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if rec.Kind != 2 || rec.Version != 1 || string(rec.Data) != "v1" {
		t.Errorf("unexpected record: %+v", rec)
	}

	err = db.WithTx(ctx, func(tx *Tx) error {
		return tx.UpdateRecord(a, 1, []byte("v2"))
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	rec, _ = db.GetRecord(a)
	if rec.Version != 2 || string(rec.Data) != "v2" {
		t.Errorf("update not applied: %+v", rec)
	}
}

func TestCreateRecord_Exists(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a := addr(1)

	if err := db.WithTx(ctx, func(tx *Tx) error { return tx.CreateRecord(a, 1, nil) }); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := db.WithTx(ctx, func(tx *Tx) error { return tx.CreateRecord(a, 1, nil) })
	if !errors.Is(err, ErrExists) {
		t.Fatalf("got %v, want ErrExists", err)
	}
}

func TestUpdateRecord_Stale(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a := addr(1)

	if err := db.WithTx(ctx, func(tx *Tx) error { return tx.CreateRecord(a, 1, []byte("v1")) }); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Wrong expected version must not write.
	err := db.WithTx(ctx, func(tx *Tx) error { return tx.UpdateRecord(a, 7, []byte("v2")) })
	if !errors.Is(err, ErrStale) {
		t.Fatalf("got %v, want ErrStale", err)
	}
	rec, _ := db.GetRecord(a)
	if string(rec.Data) != "v1" {
		t.Errorf("stale update changed data to %q", rec.Data)
	}

	// Missing record is also stale from the writer's view.
	err = db.WithTx(ctx, func(tx *Tx) error { return tx.UpdateRecord(addr(9), 1, nil) })
	if !errors.Is(err, ErrStale) {
		t.Fatalf("got %v, want ErrStale for missing record", err)
	}
}

func TestGetRecord_NotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetRecord(addr(5)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestBalances(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a, b := addr(1), addr(2)

	err := db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.Credit(a, 100); err != nil {
			return err
		}
		return tx.Credit(a, 50)
	})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if bal, _ := db.GetBalance(a); bal != 150 {
		t.Errorf("balance = %d, want 150", bal)
	}

	// Unknown addresses read as zero.
	if bal, err := db.GetBalance(b); err != nil || bal != 0 {
		t.Errorf("GetBalance(unknown) = %d, %v, want 0, nil", bal, err)
	}

	if err := db.WithTx(ctx, func(tx *Tx) error { return tx.Transfer(a, b, 60) }); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if bal, _ := db.GetBalance(a); bal != 90 {
		t.Errorf("sender balance = %d, want 90", bal)
	}
	if bal, _ := db.GetBalance(b); bal != 60 {
		t.Errorf("receiver balance = %d, want 60", bal)
	}
}

func TestDebit_Insufficient(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a := addr(1)

	if err := db.WithTx(ctx, func(tx *Tx) error { return tx.Credit(a, 10) }); err != nil {
		t.Fatalf("credit: %v", err)
	}
	err := db.WithTx(ctx, func(tx *Tx) error { return tx.Debit(a, 11) })
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
	if bal, _ := db.GetBalance(a); bal != 10 {
		t.Errorf("balance = %d, want unchanged 10", bal)
	}

	// Debiting an address with no row at all behaves the same.
	err = db.WithTx(ctx, func(tx *Tx) error { return tx.Debit(addr(9), 1) })
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance for missing row", err)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a := addr(1)

	boom := errors.New("boom")
	err := db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.Credit(a, 100); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if bal, _ := db.GetBalance(a); bal != 0 {
		t.Errorf("balance = %d after rollback, want 0", bal)
	}
}

func TestTxLog(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for i, op := range []string{"initialize", "deposit", "register_provider"} {
		err := db.WithTx(ctx, func(tx *Tx) error {
			return tx.AppendLog(&LogEntry{
				ID:          "id-" + op,
				Instruction: op,
				Caller:      "caller",
				Params:      "{}",
				AppliedAt:   1_756_000_000 + int64(i),
			})
		})
		if err != nil {
			t.Fatalf("AppendLog(%s): %v", op, err)
		}
	}

	entries, err := db.ListLog(0, 10)
	if err != nil {
		t.Fatalf("ListLog: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Seq <= entries[i-1].Seq {
			t.Errorf("sequence not strictly increasing: %d then %d", entries[i-1].Seq, entries[i].Seq)
		}
	}

	// Paging past the first entry.
	tail, err := db.ListLog(entries[0].Seq, 10)
	if err != nil {
		t.Fatalf("ListLog after: %v", err)
	}
	if len(tail) != 2 || tail[0].Instruction != "deposit" {
		t.Errorf("unexpected tail: %+v", tail)
	}
}

func TestListRecordsByKind(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx *Tx) error {
		for i := 0; i < 3; i++ {
			if err := tx.CreateRecord(addr(byte(i)), 2, []byte{byte(i)}); err != nil {
				return err
			}
		}
		return tx.CreateRecord(addr(10), 3, nil)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	recs, err := db.ListRecordsByKind(2)
	if err != nil {
		t.Fatalf("ListRecordsByKind: %v", err)
	}
	if len(recs) != 3 {
		t.Errorf("got %d records of kind 2, want 3", len(recs))
	}
	for _, r := range recs {
		if r.Kind != 2 {
			t.Errorf("record of kind %d in result", r.Kind)
		}
	}
}
