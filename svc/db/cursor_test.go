package db

import (
	"testing"
	"time"

	"pastry/pkg/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	c := &Cursor{CreatedAt: time.Now().UTC().Truncate(time.Microsecond), ID: "abc12345"}
	got, err := DecodeCursor(c.Encode())
	if err != nil {
		t.Fatalf("DecodeCursor failed: %v", err)
	}
	if !got.CreatedAt.Equal(c.CreatedAt) || got.ID != c.ID {
		t.Errorf("round trip = %+v, want %+v", got, c)
	}
}

func TestDecodeCursorEmpty(t *testing.T) {
	c, err := DecodeCursor("")
	if err != nil {
		t.Fatalf("DecodeCursor(\"\") failed: %v", err)
	}
	if c != nil {
		t.Errorf("cursor = %+v, want nil", c)
	}
}

func TestDecodeCursorGarbage(t *testing.T) {
	for _, in := range []string{"!!!not-base64!!!", "bm9wZQ", "fA"} {
		if _, err := DecodeCursor(in); err != domain.ErrInvalidRequest {
			t.Errorf("DecodeCursor(%q) err = %v, want ErrInvalidRequest", in, err)
		}
	}
}
