package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error implements repositories.RepositoryError for Firestore backed repositories.
type Error struct {
	Op   string
	Code codes.Code
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("firestore %s: %v", e.Op, e.Err)
	}
	return "firestore: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the document was missing.
func (e *Error) IsNotFound() bool {
	return e != nil && e.Code == codes.NotFound
}

// IsConflict reports contention or a precondition failure, including exhausted transaction retries.
func (e *Error) IsConflict() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		return true
	}
	return false
}

// IsUnavailable reports a transient backend outage.
func (e *Error) IsUnavailable() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return true
	}
	return false
}

// WrapError annotates Firestore errors with repository semantics. Context errors and errors that
// are not gRPC statuses (domain errors raised inside a transaction) pass through unchanged.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	return &Error{Op: op, Code: st.Code(), Err: err}
}

func isIteratorDone(err error) bool {
	return errors.Is(err, iterator.Done)
}
