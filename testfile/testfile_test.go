package testfile

import (
	"bytes"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(seed byte) *rand.ChaCha8 {
	var key [32]byte
	key[0] = seed
	return rand.NewChaCha8(key)
}

func generate(t *testing.T, length int64, seed byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Generate(&buf, length, seeded(seed), nil))
	return buf.Bytes()
}

func TestGenerateProducesExactLengthThatChecks(t *testing.T) {
	for _, length := range []int64{MinLength, 17, 1000, 70_000, 300_000} {
		data := generate(t, length, 1)
		require.Len(t, data, int(length))

		report, err := Check(data, length, nil)
		require.NoError(t, err, "length %d", length)
		assert.Equal(t, length, report.Length)
	}
}

func TestLargeFilesContainCompleteRuns(t *testing.T) {
	data := generate(t, 1024*1024, 2)

	report, err := Check(data, 0, nil)
	require.NoError(t, err)
	assert.Greater(t, report.Runs, 0)
}

func TestGenerateRejectsShortLengths(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, Generate(&buf, MinLength-1, seeded(1), nil), ErrTooShort)
}

func TestCheckDetectsCorruption(t *testing.T) {
	data := generate(t, 200_000, 3)
	data[len(data)/2] ^= 0xFF

	_, err := Check(data, 0, nil)
	assert.ErrorIs(t, err, ErrHashMismatch)
}

func TestCheckDetectsLengthProblems(t *testing.T) {
	data := generate(t, 5000, 4)

	_, err := Check(data, 4000, nil)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = Check(data[:4000], 0, nil)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = Check(data[:MinLength-1], 0, nil)
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestGenerateReportsProgress(t *testing.T) {
	var last, total int64
	var buf bytes.Buffer
	require.NoError(t, Generate(&buf, 100_000, seeded(5), func(done, all int64) {
		assert.GreaterOrEqual(t, done, last)
		last, total = done, all
	}))
	assert.Equal(t, int64(100_000), last)
	assert.Equal(t, int64(100_000), total)
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.bin")
	require.NoError(t, GenerateFile(path, 64*1024, seeded(6), nil))

	report, err := CheckFile(path, 64*1024, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(64*1024), report.Length)

	_, err = CheckFile(filepath.Join(t.TempDir(), "missing.bin"), 0, nil)
	assert.Error(t, err)
}
