package rooms

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	idAlphabet   = "0123456789abcdefghijklmnopqrstuvwxyz"
	idLength     = 9
	codeAlphabet = "0123456789"
	codeLength   = 6
)

func randomString(alphabet string, length int) string {
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform entropy source is
			// broken; keep the format intact rather than truncating.
			b.WriteByte(alphabet[0])
			continue
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String()
}

// NewRoomID returns an orchestration-level room identifier of the form
// room-<9 random base36 characters>.
func NewRoomID() string {
	return "room-" + randomString(idAlphabet, idLength)
}

// NewRoomCode returns a 6-digit numeric code used when a session-level room
// is claimed without a name, or the requested name is taken.
func NewRoomCode() string {
	return randomString(codeAlphabet, codeLength)
}
