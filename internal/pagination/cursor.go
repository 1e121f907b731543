// Package pagination implements the opaque keyset cursors used by the admin
// user directory. A cursor names the last row of the previous page by its
// (created_at, id) sort key; the store resumes strictly after it, so pages
// stay stable while new users register.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

// ErrInvalidCursor is returned for any cursor the service did not mint.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is the decoded page position.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// cursorPayload is the wire form. Short keys keep the token compact.
type cursorPayload struct {
	T  int64  `json:"t"`  // created_at, unix nanoseconds
	ID string `json:"id"` // tiebreaker row id
}

// Encode mints the opaque token for the given sort key.
func Encode(createdAt time.Time, id string) string {
	raw, _ := json.Marshal(cursorPayload{T: createdAt.UnixNano(), ID: id})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode parses a client-supplied token. Empty input means "first page" and
// yields a nil cursor; anything unparseable yields ErrInvalidCursor.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	var p cursorPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, p.T).UTC(), ID: p.ID}, nil
}

// ComputePage trims an overfetched result down to one page. Callers query
// limit+1 rows; the extra row, when present, proves another page exists and
// its predecessor becomes the next cursor. key extracts the sort key from an
// item.
func ComputePage[T any](items []T, limit int, key func(T) (time.Time, string)) (page []T, next string, hasMore bool) {
	if len(items) <= limit {
		return items, "", false
	}
	page = items[:limit]
	createdAt, id := key(page[len(page)-1])
	return page, Encode(createdAt, id), true
}
