package main

import (
	"testing"

	"github.com/charmbracelet/ssh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	opsKey   = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIDu5ZY59Q/JRIEhHuEzt9iScBL1vgzb84hTAnAKIEFS8 ops@laptop"
	otherKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIIVUBdS6wB2ljQz5VISGsQKArkvnaaOqz/Mg3KEACEKY other"
)

func parseKey(t *testing.T, line string) ssh.PublicKey {
	t.Helper()
	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
	require.NoError(t, err)
	return key
}

func TestIsKeyAllowed(t *testing.T) {
	ops := parseKey(t, opsKey)
	other := parseKey(t, otherKey)

	file := []byte("# team keys\n\n" + otherKey + "\n" + opsKey + "\n")
	assert.True(t, isKeyAllowed(file, ops))
	assert.True(t, isKeyAllowed(file, other))

	assert.False(t, isKeyAllowed([]byte(otherKey+"\n"), ops))
	assert.False(t, isKeyAllowed(nil, ops))
	assert.False(t, isKeyAllowed([]byte("garbage\n"), ops))
}
