package models

// Manifest describes one file offered to a peer. It travels inside a
// post_file signal ahead of the file's blocks.
type Manifest struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	Checksum   string `json:"checksum"`
	IsFolder   bool   `json:"is_folder"`
	LinkedPath string `json:"linked_path,omitempty"`
	IsCopied   bool   `json:"is_copied"`
	IsSynced   bool   `json:"is_synced"`
}

// Remote returns the copy of m that is safe to hand to a peer: the local
// source path is meaningless on the other host.
func (m Manifest) Remote() Manifest {
	out := m
	out.LinkedPath = ""
	return out
}

// BlockDescriptor announces how a transfer is split into blocks.
type BlockDescriptor struct {
	TransferID uint64 `json:"transfer_id"`
	BlockSize  uint64 `json:"block_size"`
	BlockCount uint64 `json:"block_count"`
	Length     uint64 `json:"length"`
}

// Valid reports whether the descriptor is internally consistent.
func (d BlockDescriptor) Valid() bool {
	if d.TransferID == 0 || d.BlockSize == 0 {
		return false
	}
	return d.BlockCount == BlockCountFor(d.Length, d.BlockSize)
}

// BlockCountFor returns ceil(length / blockSize).
func BlockCountFor(length, blockSize uint64) uint64 {
	if blockSize == 0 {
		return 0
	}
	count := length / blockSize
	if length%blockSize != 0 {
		count++
	}
	return count
}
