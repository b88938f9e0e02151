package helper

import (
	"crypto/rand"

	"github.com/oklog/ulid"
)

// GenerateRequestID returns a lexicographically sortable unique id used to
// trace a request across the gateway and its upstreams.
func GenerateRequestID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
