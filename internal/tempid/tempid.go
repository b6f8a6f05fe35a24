// Package tempid generates deterministic placeholder identifiers for entities
// that could not be resolved with enough confidence.
package tempid

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"strings"

	"github.com/rotisserie/eris"
)

// Prefix marks temporary identifiers.
const Prefix = "IN"

// bodyLen is the number of encoded characters after the prefix. 16 base32
// characters carry exactly 80 bits of the digest.
const bodyLen = 16

const digestBytes = bodyLen * 5 / 8

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ErrEmptySalt is returned when a generator is built without a salt.
var ErrEmptySalt = eris.New("tempid: salt is required")

// Generate returns IN followed by 16 base32 characters derived from
// HMAC-SHA256(salt, normalized). The same inputs always produce the same ID.
func Generate(normalized, salt string) string {
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(normalized))
	sum := mac.Sum(nil)
	return Prefix + encoding.EncodeToString(sum[:digestBytes])
}

// IsTemp reports whether id has the shape of a temporary identifier. The
// check is case-insensitive because the alphabet is. It cannot tell a
// generated identifier from any other string of the same shape, so
// canonical identifiers must never take the "IN" + 16 base32 form.
func IsTemp(id string) bool {
	if len(id) != len(Prefix)+bodyLen {
		return false
	}
	upper := strings.ToUpper(id)
	if !strings.HasPrefix(upper, Prefix) {
		return false
	}
	_, err := encoding.DecodeString(upper[len(Prefix):])
	return err == nil
}

// Generator binds a deployment salt.
type Generator struct {
	salt string
}

// New creates a Generator. An empty salt is a configuration error.
func New(salt string) (*Generator, error) {
	if salt == "" {
		return nil, ErrEmptySalt
	}
	return &Generator{salt: salt}, nil
}

// Generate returns the temporary identifier for a normalized name.
func (g *Generator) Generate(normalized string) string {
	return Generate(normalized, g.salt)
}
