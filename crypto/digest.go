package crypto

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// DigestSize is the length in bytes of block and file digests.
const DigestSize = blake2b.Size256

// BlockDigest returns the BLAKE2b-256 digest of one block payload.
func BlockDigest(payload []byte) []byte {
	sum := blake2b.Sum256(payload)
	return sum[:]
}

// VerifyBlock reports whether digest matches payload. An empty digest is
// treated as "not supplied" and accepted.
func VerifyBlock(payload, digest []byte) bool {
	if len(digest) == 0 {
		return true
	}
	if len(digest) != DigestSize {
		return false
	}
	sum := blake2b.Sum256(payload)
	return subtle.ConstantTimeCompare(sum[:], digest) == 1
}

// ChecksumHex returns the hex BLAKE2b-256 digest of data.
func ChecksumHex(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FileChecksumHex streams a file through BLAKE2b-256.
func FileChecksumHex(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("init hasher: %w", err)
	}
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Hash64Size is the length in bytes of a Hash64 digest.
const Hash64Size = 8

// NewHash64 returns a streaming hasher producing the same digest as Hash64.
func NewHash64() hash.Hash {
	hasher, err := blake2b.New(Hash64Size, nil)
	if err != nil {
		panic(fmt.Sprintf("blake2b: %v", err))
	}
	return hasher
}

// Hash64 returns a 64-bit BLAKE2b digest of the concatenated parts.
func Hash64(parts ...[]byte) []byte {
	hasher := NewHash64()
	for _, part := range parts {
		_, _ = hasher.Write(part)
	}
	return hasher.Sum(nil)
}
