// Package testfile writes and verifies self-checking files used to exercise
// transfers end to end.
//
// Layout: an 8-byte little-endian total length, then runs of
// [u16 n][n random bytes][8-byte hash of the previous two], cut so that the
// last 8 bytes of the file can hold the hash of everything before them.
package testfile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"filenet/crypto"
)

const (
	// HeaderSize is the length prefix at the start of a test file.
	HeaderSize = 8
	// HashSize is the size of every run hash and of the trailing file hash.
	HashSize = crypto.Hash64Size
	// MinLength is the smallest valid test file: a header and the trailing hash.
	MinLength = HeaderSize + HashSize
	// DefaultLength is used when no length is given.
	DefaultLength = 1024 * 1024
)

var (
	// ErrTooShort indicates a requested or found length below MinLength.
	ErrTooShort = errors.New("testfile: too short")
	// ErrLengthMismatch indicates a file whose size disagrees with its header or the caller.
	ErrLengthMismatch = errors.New("testfile: length mismatch")
	// ErrHashMismatch indicates corrupted content.
	ErrHashMismatch = errors.New("testfile: hash mismatch")
)

// ProgressFunc receives the bytes processed so far and the total.
type ProgressFunc func(done, total int64)

// Report summarises a successful check.
type Report struct {
	Length int64
	Runs   int
}

// Generate writes a test file of exactly length bytes to w, drawing run sizes
// and contents from random.
func Generate(w io.Writer, length int64, random io.Reader, progress ProgressFunc) error {
	if length < MinLength {
		return fmt.Errorf("%w: %d < %d", ErrTooShort, length, MinLength)
	}

	out := bufio.NewWriter(w)
	whole := crypto.NewHash64()
	body := length - HashSize
	var written int64

	emit := func(p []byte) error {
		if remaining := body - written; int64(len(p)) > remaining {
			p = p[:remaining]
		}
		if _, err := out.Write(p); err != nil {
			return fmt.Errorf("write test file: %w", err)
		}
		_, _ = whole.Write(p)
		written += int64(len(p))
		return nil
	}

	header := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(header, uint64(length))
	if err := emit(header); err != nil {
		return err
	}

	var size [2]byte
	for written < body {
		if _, err := io.ReadFull(random, size[:]); err != nil {
			return fmt.Errorf("draw run size: %w", err)
		}
		payload := make([]byte, binary.LittleEndian.Uint16(size[:]))
		if _, err := io.ReadFull(random, payload); err != nil {
			return fmt.Errorf("draw run payload: %w", err)
		}

		for _, part := range [][]byte{size[:], payload, crypto.Hash64(size[:], payload)} {
			if err := emit(part); err != nil {
				return err
			}
		}
		if progress != nil {
			progress(written, length)
		}
	}

	if _, err := out.Write(whole.Sum(nil)); err != nil {
		return fmt.Errorf("write file hash: %w", err)
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("flush test file: %w", err)
	}
	if progress != nil {
		progress(length, length)
	}
	return nil
}

// Check verifies a whole test file held in data. A non-zero expected length
// must match the length recorded in the header.
func Check(data []byte, expected int64, progress ProgressFunc) (Report, error) {
	if len(data) < MinLength {
		return Report{}, fmt.Errorf("%w: %d bytes", ErrTooShort, len(data))
	}

	length := int64(binary.LittleEndian.Uint64(data[:HeaderSize]))
	if expected != 0 && expected != length {
		return Report{}, fmt.Errorf("%w: expected %d, header says %d", ErrLengthMismatch, expected, length)
	}
	if int64(len(data)) != length {
		return Report{}, fmt.Errorf("%w: header says %d, file has %d", ErrLengthMismatch, length, len(data))
	}

	body := data[:length-HashSize]
	if !bytes.Equal(crypto.Hash64(body), data[length-HashSize:]) {
		return Report{}, fmt.Errorf("%w: file hash", ErrHashMismatch)
	}

	rest := body[HeaderSize:]
	offset := int64(HeaderSize)
	runs := 0
	for len(rest) > 2 {
		n := int(binary.LittleEndian.Uint16(rest[:2]))
		if len(rest) < 2+n+HashSize {
			// The last run was cut short by the trailing hash.
			break
		}

		sum := crypto.Hash64(rest[:2], rest[2:2+n])
		if !bytes.Equal(sum, rest[2+n:2+n+HashSize]) {
			return Report{}, fmt.Errorf("%w: run %d at bytes %d..%d", ErrHashMismatch, runs, offset, offset+2+int64(n))
		}

		step := 2 + n + HashSize
		rest = rest[step:]
		offset += int64(step)
		runs++
		if progress != nil {
			progress(offset, length)
		}
	}

	return Report{Length: length, Runs: runs}, nil
}

// GenerateFile creates path and fills it with a test file.
func GenerateFile(path string, length int64, random io.Reader, progress ProgressFunc) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create test file: %w", err)
	}
	if err := Generate(file, length, random, progress); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close test file: %w", err)
	}
	return nil
}

// CheckFile reads path and verifies it.
func CheckFile(path string, expected int64, progress ProgressFunc) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("read test file: %w", err)
	}
	return Check(data, expected, progress)
}
