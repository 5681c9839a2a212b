// Package ids generates ULID identifiers. Signature key timestamps are
// built from these, so ordering matters: within one process every id is
// strictly greater than the one before it.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var source = struct {
	sync.Mutex
	entropy *ulid.MonotonicEntropy
}{
	entropy: ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0),
}

// New returns a lexicographically sortable identifier. Key rotation picks
// the "current" signature as the maximum valid key timestamp, which is
// only sound because ids produced later always sort later.
func New() string {
	source.Lock()
	defer source.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), source.entropy).String()
}
