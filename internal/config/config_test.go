package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptionKeyIsDeterministic(t *testing.T) {
	c := Config{EncryptionKeyHex: "correct horse battery staple"}
	k1 := c.EncryptionKey()
	k2 := c.EncryptionKey()
	require.Equal(t, k1, k2)
}

func TestEncryptionKeyDiffersByPassphrase(t *testing.T) {
	k1 := Config{EncryptionKeyHex: "first passphrase"}.EncryptionKey()
	k2 := Config{EncryptionKeyHex: "second passphrase"}.EncryptionKey()
	require.NotEqual(t, k1, k2)
}

func TestSplitHeadersEmpty(t *testing.T) {
	require.Nil(t, splitHeaders(""))
}

func TestSplitHeadersTrimsAndFiltersBlankLines(t *testing.T) {
	out := splitHeaders("X-Foo: bar\n  \nX-Baz: qux\n")
	require.Equal(t, []string{"X-Foo: bar", "X-Baz: qux"}, out)
}
