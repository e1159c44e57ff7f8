package transfer

import (
	"encoding/json"
	"fmt"
	"math"

	"filenet/crypto"
	"filenet/models"
)

// DefaultBlockSize is the payload size of every block but the last.
const DefaultBlockSize = 60 * 1024

// Block is one numbered slice of a file as it travels on a data connection.
type Block struct {
	FileID  uint64 `json:"file_id"`
	Index   uint64 `json:"index"`
	Payload []byte `json:"payload"`
	Digest  []byte `json:"digest,omitempty"`
}

// EncodeBlock marshals a block for a data connection frame.
func EncodeBlock(block Block) ([]byte, error) {
	payload, err := json.Marshal(block)
	if err != nil {
		return nil, fmt.Errorf("marshal block %d/%d: %w", block.FileID, block.Index, err)
	}
	return payload, nil
}

// DecodeBlock parses a data connection frame.
func DecodeBlock(payload []byte) (Block, error) {
	var block Block
	if err := json.Unmarshal(payload, &block); err != nil {
		return Block{}, fmt.Errorf("%w: %v", ErrMalformedBlock, err)
	}
	if block.FileID == 0 {
		return Block{}, fmt.Errorf("%w: missing file id", ErrMalformedBlock)
	}
	return block, nil
}

// BlockSet tracks which blocks of one transfer are present. It is owned by a
// single goroutine and is not safe for concurrent use.
type BlockSet struct {
	desc        models.BlockDescriptor
	payloads    [][]byte
	done        []bool
	outstanding uint64
}

// checkDescriptor rejects descriptors that are inconsistent or that would
// make the receiver allocate more than maxSize bytes or MaxBlockCount slots.
func checkDescriptor(desc models.BlockDescriptor, maxSize uint64) error {
	switch {
	case !desc.Valid():
		return fmt.Errorf("%w: %+v", ErrInvalidDescriptor, desc)
	case desc.BlockSize > MaxBlockSize:
		return fmt.Errorf("%w: block size %d above %d", ErrInvalidDescriptor, desc.BlockSize, MaxBlockSize)
	case desc.Length > maxSize:
		return fmt.Errorf("%w: length %d above %d", ErrInvalidDescriptor, desc.Length, maxSize)
	case desc.BlockCount > MaxBlockCount:
		return fmt.Errorf("%w: %d blocks above %d", ErrInvalidDescriptor, desc.BlockCount, MaxBlockCount)
	}
	return nil
}

// FromDescriptor returns an empty set ready to collect the blocks of desc.
func FromDescriptor(desc models.BlockDescriptor) (*BlockSet, error) {
	if err := checkDescriptor(desc, math.MaxUint64); err != nil {
		return nil, err
	}
	return &BlockSet{
		desc:        desc,
		payloads:    make([][]byte, desc.BlockCount),
		done:        make([]bool, desc.BlockCount),
		outstanding: desc.BlockCount,
	}, nil
}

// Split cuts data into blocks of blockSize under transfer id. All blocks are
// present and all are outstanding until marked Done.
func Split(id uint64, data []byte, blockSize uint64) *BlockSet {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	length := uint64(len(data))
	count := models.BlockCountFor(length, blockSize)

	set := &BlockSet{
		desc: models.BlockDescriptor{
			TransferID: id,
			BlockSize:  blockSize,
			BlockCount: count,
			Length:     length,
		},
		payloads:    make([][]byte, count),
		done:        make([]bool, count),
		outstanding: count,
	}
	for i := uint64(0); i < count; i++ {
		start := i * blockSize
		end := min(start+blockSize, length)
		set.payloads[i] = data[start:end]
	}
	return set
}

// Descriptor returns the wire descriptor of the set.
func (s *BlockSet) Descriptor() models.BlockDescriptor {
	return s.desc
}

// ExpectedSize is the payload length block index must have.
func (s *BlockSet) ExpectedSize(index uint64) uint64 {
	return expectedSize(s.desc, index)
}

func expectedSize(desc models.BlockDescriptor, index uint64) uint64 {
	if index >= desc.BlockCount {
		return 0
	}
	if index == desc.BlockCount-1 {
		return desc.Length - index*desc.BlockSize
	}
	return desc.BlockSize
}

// Fits reports whether block belongs to desc: right id, index in range,
// payload of the expected length and a matching digest.
func Fits(desc models.BlockDescriptor, block Block) bool {
	if block.FileID == 0 || block.FileID != desc.TransferID {
		return false
	}
	if block.Index >= desc.BlockCount {
		return false
	}
	if uint64(len(block.Payload)) != expectedSize(desc, block.Index) {
		return false
	}
	return crypto.VerifyBlock(block.Payload, block.Digest)
}

// Get returns block index with its digest, if the payload is present.
func (s *BlockSet) Get(index uint64) (Block, bool) {
	if index >= s.desc.BlockCount || s.payloads[index] == nil && s.ExpectedSize(index) > 0 {
		return Block{}, false
	}
	payload := s.payloads[index]
	return Block{
		FileID:  s.desc.TransferID,
		Index:   index,
		Payload: payload,
		Digest:  crypto.BlockDigest(payload),
	}, true
}

// Done marks index as delivered. It returns false when index is out of range
// or already done.
func (s *BlockSet) Done(index uint64) bool {
	if index >= s.desc.BlockCount || s.done[index] {
		return false
	}
	s.done[index] = true
	s.outstanding--
	return true
}

// Set stores a received block. Blocks that do not fit the descriptor and
// blocks already present are ignored and return false.
func (s *BlockSet) Set(block Block) bool {
	if !Fits(s.desc, block) || s.done[block.Index] {
		return false
	}
	s.payloads[block.Index] = append([]byte(nil), block.Payload...)
	return s.Done(block.Index)
}

// Finished reports whether no block is outstanding.
func (s *BlockSet) Finished() bool {
	return s.outstanding == 0
}

// Next returns the lowest outstanding index.
func (s *BlockSet) Next() (uint64, bool) {
	for i, done := range s.done {
		if !done {
			return uint64(i), true
		}
	}
	return 0, false
}

// Completed returns how many blocks are done.
func (s *BlockSet) Completed() uint64 {
	return s.desc.BlockCount - s.outstanding
}

// Progress returns the done fraction in [0, 1].
func (s *BlockSet) Progress() float64 {
	if s.desc.BlockCount == 0 {
		return 1
	}
	return float64(s.Completed()) / float64(s.desc.BlockCount)
}

// Bytes concatenates the payloads in index order.
func (s *BlockSet) Bytes() []byte {
	out := make([]byte, 0, s.desc.Length)
	for _, payload := range s.payloads {
		out = append(out, payload...)
	}
	return out
}
