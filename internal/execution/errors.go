package execution

import (
	"errors"
	"fmt"
)

var (
	ErrMasterStart      = errors.New("execution: master start failed")
	ErrMasterAlreadySet = errors.New("execution: master endpoint already set")
	ErrShutdown         = errors.New("execution: service shut down")
)

// MasterStartError reports a local master that never reached readiness.
type MasterStartError struct {
	Private bool
	Addr    string
	Err     error
}

func (e *MasterStartError) Error() string {
	visibility := "public"
	if e.Private {
		visibility = "private"
	}
	return fmt.Sprintf("execution: start %s master on %s: %v", visibility, e.Addr, e.Err)
}

func (e *MasterStartError) Unwrap() error {
	return e.Err
}

func (e *MasterStartError) Is(target error) bool {
	return target == ErrMasterStart
}
