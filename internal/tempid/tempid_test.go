package tempid

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Format(t *testing.T) {
	id := Generate("ACME", "salt")
	assert.Len(t, id, 18)
	assert.Equal(t, "IN", id[:2])
	assert.Regexp(t, `^IN[A-Z2-7]{16}$`, id)
}

func TestGenerate_Deterministic(t *testing.T) {
	a := Generate("ACME ADVISORS", "s3cret")
	b := Generate("ACME ADVISORS", "s3cret")
	assert.Equal(t, a, b)

	// A changed algorithm would orphan every temp ID already handed out.
	assert.Equal(t, "INSECRU3YO7RJTYGIY", a)

	g, err := New("s3cret")
	require.NoError(t, err)
	assert.Equal(t, a, g.Generate("ACME ADVISORS"))
}

func TestGenerate_SaltAndInputSensitive(t *testing.T) {
	assert.NotEqual(t, Generate("ACME", "salt-a"), Generate("ACME", "salt-b"))
	assert.NotEqual(t, Generate("ACME", "salt"), Generate("ACME2", "salt"))
}

func TestGenerate_NoCollisions(t *testing.T) {
	const n = 10000
	seen := make(map[string]string, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("COMPANY %05d", i)
		id := Generate(name, "collision-salt")
		prev, dup := seen[id]
		require.False(t, dup, "collision between %q and %q", prev, name)
		seen[id] = name
	}
	assert.Len(t, seen, n)
}

func TestIsTemp(t *testing.T) {
	id := Generate("ACME", "salt")
	assert.True(t, IsTemp(id))
	assert.True(t, IsTemp(strings.ToLower(id)))
	assert.False(t, IsTemp("C-100"))
	assert.False(t, IsTemp(""))
	assert.False(t, IsTemp("XX"+id[2:]))
	assert.False(t, IsTemp("IN1111111111111111"))
}

func TestIsTemp_ShapeOnly(t *testing.T) {
	// Any string of the right shape passes, whether or not it was generated.
	assert.True(t, IsTemp("INAAAAAAAAAAAAAAAA"))
	assert.True(t, IsTemp("inzzzzzzzzzzzzzzzz"))
	assert.False(t, IsTemp("INAAAAAAAAAAAAAAA"))
}

func TestNew_EmptySalt(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrEmptySalt)
}
