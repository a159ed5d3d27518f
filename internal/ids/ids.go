// Package ids issues the identifiers used for users, roles, tokens and
// activity rows.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a ULID. IDs issued within the same millisecond remain
// lexicographically ordered, which keeps `order by id` listings stable.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a ULID stamped with the given time.
func NewAt(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
