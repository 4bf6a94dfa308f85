package app

import "toggl-etl/internal/model"

// LoadOperation tracks a CLI invocation that may record a load run.
// Operations are created in memory with ID=0. Only the load command
// persists one (giving it an auto-increment ID from the database).
type LoadOperation struct {
	ID        int64
	RunKey    string
	Operation string
	Status    string // model.LoadRunSucceeded or model.LoadRunFailed
	Inserted  int
}

// NewLoadOperation creates a new in-memory operation.
func NewLoadOperation(operation, runKey string) *LoadOperation {
	return &LoadOperation{
		Operation: operation,
		RunKey:    runKey,
		Status:    model.LoadRunSucceeded,
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *LoadOperation) Persisted() bool {
	return op.ID != 0
}

// Fail marks the operation as failed.
func (op *LoadOperation) Fail() {
	op.Status = model.LoadRunFailed
}
