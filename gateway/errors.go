package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork indicates the gateway could not be reached.
	ErrNetwork = errors.New("gateway unreachable")

	// ErrRejected indicates the gateway answered but refused the operation.
	ErrRejected = errors.New("gateway rejected operation")

	// ErrMalformed indicates the gateway payload could not be understood.
	ErrMalformed = errors.New("malformed gateway response")
)

type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, ErrNetwork, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

type RejectedError struct {
	Op         string
	StatusCode int
	Reason     string
}

func (e *RejectedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Op, ErrRejected, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, ErrRejected, e.Reason)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

type MalformedResponseError struct {
	Op  string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, ErrMalformed, e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

func (e *MalformedResponseError) Is(target error) bool {
	return target == ErrMalformed
}

// Reason returns the operator-facing reason carried by a rejection, if any.
func Reason(err error) (string, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) && rejected.Reason != "" {
		return rejected.Reason, true
	}
	return "", false
}
