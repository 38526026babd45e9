package db

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"pastry/pkg/domain"
)

// Cursor is the keyset position of the last summary a list page returned.
// It is opaque to clients: an encoded created_at|id pair.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

func (c *Cursor) Encode() string {
	raw := fmt.Sprintf("%s|%s", c.CreatedAt.UTC().Format(time.RFC3339Nano), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, domain.ErrInvalidRequest
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, domain.ErrInvalidRequest
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, domain.ErrInvalidRequest
	}
	return &Cursor{CreatedAt: ts, ID: parts[1]}, nil
}
