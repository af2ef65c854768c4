// Package pagination parses page_size/page_token query parameters and encodes the opaque
// keyset cursors that list endpoints hand back.
package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// Params is a validated page request.
type Params struct {
	PageSize  int
	PageToken string
}

// Parse reads page_size and page_token. Sizes above MaxPageSize are clamped; zero, negative
// and non-numeric sizes are rejected. The token is checked for shape only.
func Parse(values url.Values) (Params, error) {
	params := Params{PageSize: DefaultPageSize}

	if raw := strings.TrimSpace(values.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		}
		if size <= 0 {
			return Params{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
		}
		params.PageSize = min(size, MaxPageSize)
	}

	if token := strings.TrimSpace(values.Get("page_token")); token != "" {
		if _, err := DecodeToken(token); err != nil {
			return Params{}, err
		}
		params.PageToken = token
	}
	return params, nil
}
