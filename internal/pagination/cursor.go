package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Cursor points just past the last row of a page ordered by (timestamp, id) descending
type Cursor struct {
	LastID    string
	Timestamp time.Time
}

var ErrInvalidCursor = errors.New("invalid cursor format")

// EncodeCursor returns an opaque, URL-safe token for the row (lastID, timestamp)
func EncodeCursor(lastID string, timestamp time.Time) string {
	if lastID == "" {
		return ""
	}
	raw := strconv.FormatInt(timestamp.UTC().UnixNano(), 10) + ":" + lastID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token from EncodeCursor. An empty token means the first page.
func DecodeCursor(cursor string) (*Cursor, error) {
	if cursor == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	nanos, id, ok := strings.Cut(string(decoded), ":")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}

	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	return &Cursor{
		LastID:    id,
		Timestamp: time.Unix(0, n).UTC(),
	}, nil
}

// Trim cuts rows fetched with LIMIT limit+1 down to one page and returns the
// cursor for the next page, empty when this is the last one.
func Trim[T any](rows []T, limit int, key func(T) (string, time.Time)) (page []T, next string, hasMore bool) {
	if limit <= 0 || len(rows) <= limit {
		return rows, "", false
	}
	page = rows[:limit]
	id, ts := key(page[len(page)-1])
	return page, EncodeCursor(id, ts), true
}
