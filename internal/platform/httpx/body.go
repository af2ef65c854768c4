package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrBodyTooLarge is returned by DecodeJSON when the body exceeds the limit.
var ErrBodyTooLarge = errors.New("request body exceeds allowed size")

// DecodeJSON reads at most limit bytes into dst, rejecting unknown fields and trailing data.
// An empty body leaves dst untouched unless required is set.
func DecodeJSON(r *http.Request, limit int64, required bool, dst any) error {
	if r.Body == nil {
		if required {
			return errors.New("request body is required")
		}
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > limit {
		return ErrBodyTooLarge
	}
	if strings.TrimSpace(string(data)) == "" {
		if required {
			return errors.New("request body is required")
		}
		return nil
	}
	decoder := json.NewDecoder(strings.NewReader(string(data)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if decoder.More() {
		return errors.New("invalid JSON body: unexpected trailing data")
	}
	return nil
}

// WriteDecodeError maps a DecodeJSON failure to 413 or 400.
func WriteDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrBodyTooLarge) {
		WriteError(r.Context(), w, NewError("payload_too_large", err.Error(), http.StatusRequestEntityTooLarge))
		return
	}
	WriteError(r.Context(), w, NewError("invalid_request", err.Error(), http.StatusBadRequest))
}
