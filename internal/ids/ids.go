package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a time-sortable ULID encoded as a 26-character string.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// ClientID returns a physical connection id. The lowercase form keeps ids
// readable in logs next to logical names such as agent-7.
func ClientID() string {
	return "client-" + strings.ToLower(New())
}
