package storage

// Record is one versioned entry in the record arena, keyed by its 32-byte
// deterministic address. Version increments on every write and backs the
// compare-and-swap update discipline.
type Record struct {
	Address []byte `json:"address"`
	Kind    int    `json:"kind"`
	Version int64  `json:"version"`
	Data    []byte `json:"-"`
}

// LogEntry is one row of the append-only transaction log: a committed
// instruction with its caller and a JSON snapshot of its parameters.
type LogEntry struct {
	Seq         int64  `json:"seq"`
	ID          string `json:"id"`
	Instruction string `json:"instruction"`
	Caller      string `json:"caller"`
	Params      string `json:"params,omitempty"`
	AppliedAt   int64  `json:"applied_at"`
}
