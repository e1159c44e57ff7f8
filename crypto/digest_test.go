package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockDigestVerifies(t *testing.T) {
	payload := []byte("sixty kibibytes, give or take")
	digest := BlockDigest(payload)

	require.Len(t, digest, DigestSize)
	assert.True(t, VerifyBlock(payload, digest))
	assert.True(t, VerifyBlock(payload, nil), "missing digest is accepted")

	tampered := append([]byte(nil), payload...)
	tampered[0] ^= 0xff
	assert.False(t, VerifyBlock(tampered, digest))
	assert.False(t, VerifyBlock(payload, digest[:8]))
}

func TestFileChecksumMatchesInMemoryChecksum(t *testing.T) {
	data := []byte("hello filenet")
	path := filepath.Join(t.TempDir(), "f.bin")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	got, err := FileChecksumHex(path)
	require.NoError(t, err)
	assert.Equal(t, ChecksumHex(data), got)

	_, err = FileChecksumHex(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestHash64IsStableAcrossSplits(t *testing.T) {
	assert.Len(t, Hash64([]byte("ab")), 8)
	assert.Equal(t, Hash64([]byte("ab"), []byte("cd")), Hash64([]byte("abcd")))
	assert.NotEqual(t, Hash64([]byte("abcd")), Hash64([]byte("abce")))

	streaming := NewHash64()
	_, _ = streaming.Write([]byte("ab"))
	_, _ = streaming.Write([]byte("cd"))
	assert.Equal(t, Hash64([]byte("abcd")), streaming.Sum(nil))
}
