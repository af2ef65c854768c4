package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Cursor is the opaque position carried by a page token: the sort key values of the last item
// on the previous page.
type Cursor struct {
	StartAfter []any `json:"a,omitempty"`
}

// EncodeToken renders cursor as URL-safe base64 JSON. An empty cursor yields "".
func EncodeToken(cursor Cursor) (string, error) {
	if len(cursor.StartAfter) == 0 {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken reverses EncodeToken. Malformed tokens wrap ErrInvalidPageToken.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if len(cursor.StartAfter) == 0 {
		return Cursor{}, fmt.Errorf("%w: empty cursor", ErrInvalidPageToken)
	}
	return cursor, nil
}
