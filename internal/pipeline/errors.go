package pipeline

import "fmt"

// PreconditionError means a deploy was refused before any mutation: the
// environment was never touched and nothing needs rolling back.
type PreconditionError struct {
	Check string
	Err   error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition %s: %v", e.Check, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// StageError means a pipeline stage failed after mutation may have begun.
// The run aborts and the operator is pointed at the pre-deploy backup.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
