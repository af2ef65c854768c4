package postgres

import (
	"fmt"
	"time"

	"github.com/hanko-field/orderledger/internal/platform/pagination"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type keyset struct {
	At time.Time
	ID string
}

func pageSize(size int) int {
	switch {
	case size <= 0:
		return defaultPageSize
	case size > maxPageSize:
		return maxPageSize
	default:
		return size
	}
}

func decodeKeyset(token string) (*keyset, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return nil, err
	}
	if len(cursor.StartAfter) == 0 {
		return nil, nil
	}
	if len(cursor.StartAfter) != 2 {
		return nil, fmt.Errorf("%w: unexpected cursor length", pagination.ErrInvalidPageToken)
	}
	rawAt, ok := cursor.StartAfter[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: cursor timestamp", pagination.ErrInvalidPageToken)
	}
	id, ok := cursor.StartAfter[1].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: cursor id", pagination.ErrInvalidPageToken)
	}
	at, err := time.Parse(time.RFC3339Nano, rawAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
	}
	return &keyset{At: at, ID: id}, nil
}

func encodeKeyset(at time.Time, id string) (string, error) {
	return pagination.EncodeToken(pagination.Cursor{StartAfter: []any{at.UTC().Format(time.RFC3339Nano), id}})
}
