package app

import "strings"

const (
	OperationSuccess = "success"
	OperationError   = "error"
)

// Operation tracks a CLI command that may mutate the catalog.
// Operations are created in memory with ID=0. Only mutating commands
// persist them (giving them an auto-increment ID from the database).
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
}

// NewOperation creates a new in-memory operation. Parameters are joined
// with spaces.
func NewOperation(operation string, parameters ...string) *Operation {
	return &Operation{
		Operation:  operation,
		Parameters: strings.Join(parameters, " "),
		Status:     OperationSuccess,
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Fail marks the operation as failed.
func (op *Operation) Fail() {
	op.Status = OperationError
}
