package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{code: codes.NotFound, notFound: true},
		{code: codes.Aborted, conflict: true},
		{code: codes.AlreadyExists, conflict: true},
		{code: codes.Unavailable, unavailable: true},
		{code: codes.ResourceExhausted, unavailable: true},
		{code: codes.PermissionDenied},
	}
	for _, tc := range cases {
		t.Run(tc.code.String(), func(t *testing.T) {
			err := WrapError("counters.next", status.Error(tc.code, "boom"))
			var fsErr *Error
			if !errors.As(err, &fsErr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if fsErr.IsNotFound() != tc.notFound || fsErr.IsConflict() != tc.conflict || fsErr.IsUnavailable() != tc.unavailable {
				t.Fatalf("unexpected classification for %s: %+v", tc.code, fsErr)
			}
			if fsErr.Op != "counters.next" {
				t.Fatalf("expected op recorded, got %q", fsErr.Op)
			}
		})
	}
}

func TestWrapErrorPassesThrough(t *testing.T) {
	if WrapError("op", nil) != nil {
		t.Fatalf("expected nil")
	}
	if err := WrapError("op", status.Error(codes.Canceled, "stop")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	domainErr := errors.New("counter exhausted")
	if err := WrapError("op", domainErr); err != domainErr {
		t.Fatalf("expected plain errors untouched, got %v", err)
	}
	wrapped := WrapError("inner", status.Error(codes.NotFound, "gone"))
	if err := WrapError("outer", wrapped); err != wrapped {
		t.Fatalf("expected already wrapped error untouched")
	}
}
