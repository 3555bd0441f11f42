package pagination

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

// Params holds cursor pagination inputs from controllers.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor is a (created_at, id) keyset position.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// Direction picks the keyset ordering.
type Direction int

const (
	// NewestFirst lists orders and wallet transactions.
	NewestFirst Direction = iota
	// OldestFirst lists audit trails so they read chronologically.
	OldestFirst
)

// NormalizeLimit enforces DefaultLimit and MaxLimit.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// Keyset scopes a query to the page after cursor and fetches one extra row so
// Trim can tell whether another page exists.
func Keyset(cursor *Cursor, dir Direction, limit int) func(*gorm.DB) *gorm.DB {
	op, order := "<", "DESC"
	if dir == OldestFirst {
		op, order = ">", "ASC"
	}
	return func(db *gorm.DB) *gorm.DB {
		if cursor != nil {
			db = db.Where(
				fmt.Sprintf("(created_at %s ?) OR (created_at = ? AND id %s ?)", op, op),
				cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
			)
		}
		return db.Order("created_at " + order).Order("id " + order).Limit(NormalizeLimit(limit) + 1)
	}
}

// Trim drops the lookahead row fetched by Keyset and returns the cursor for the
// next page, or "" on the last page.
func Trim[T any](rows []T, limit int, position func(T) Cursor) ([]T, string) {
	limit = NormalizeLimit(limit)
	if len(rows) <= limit {
		return rows, ""
	}
	rows = rows[:limit]
	return rows, EncodeCursor(position(rows[limit-1]))
}

// EncodeCursor renders an opaque, URL-safe cursor.
func EncodeCursor(c Cursor) string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor decodes a cursor produced by EncodeCursor. Blank input means the first page.
func ParseCursor(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	ts, id, ok := strings.Cut(string(decoded), "|")
	if !ok {
		return nil, fmt.Errorf("invalid cursor format")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor timestamp: %w", err)
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor id: %w", err)
	}
	return &Cursor{CreatedAt: createdAt, ID: uid}, nil
}
