package alloc

import (
	"context"
	"crypto/rand"
	"math/big"

	"github.com/pkg/errors"

	"pastry/pkg/domain"
)

const base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const (
	// ShortIDLen is tuned for low collision probability at expected table
	// sizes while keeping URLs short. LongIDLen is the opt-in high-entropy
	// form for deployments under namespace pressure.
	ShortIDLen = 8
	LongIDLen  = 24

	maxRetries = 5
)

// ExistsFunc probes whether an id is already present in the store. The
// allocator never writes; uniqueness at insert time is re-checked by the
// store's atomic put.
type ExistsFunc func(ctx context.Context, id string) (bool, error)

type Allocator struct {
	exists ExistsFunc
}

func New(exists ExistsFunc) *Allocator {
	if exists == nil {
		panic("alloc: nil exists func")
	}
	return &Allocator{exists: exists}
}

// Allocate draws a random identifier, redrawing on collision up to a bounded
// retry count. A saturated namespace surfaces as ErrAllocationExhausted and
// is not retried transparently by callers.
func (a *Allocator) Allocate(ctx context.Context, long bool) (string, error) {
	length := ShortIDLen
	if long {
		length = LongIDLen
	}
	for retry := 0; retry < maxRetries; retry++ {
		id, err := randomID(length)
		if err != nil {
			return "", errors.Wrap(err, "draw id")
		}
		exist, err := a.exists(ctx, id)
		if err != nil {
			return "", errors.Wrap(err, "exists probe")
		}
		if !exist {
			return id, nil
		}
	}
	return "", domain.ErrAllocationExhausted
}

func randomID(length int) (string, error) {
	max := big.NewInt(int64(len(base62Chars)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(err, "rand fail")
		}
		buf[i] = base62Chars[n.Int64()]
	}
	return string(buf), nil
}
