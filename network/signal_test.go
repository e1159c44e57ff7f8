package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filenet/models"
)

func TestSignalRoundTrip(t *testing.T) {
	manifest := models.Manifest{Name: "report.pdf", Size: 153600, Checksum: "abcd"}
	blocks := models.BlockDescriptor{TransferID: 7, BlockSize: 61440, BlockCount: 3, Length: 153600}

	signals := []Signal{
		Accept("", ""),
		Accept("192.168.1.4:7878", "desk"),
		AddStream(),
		PostFile(manifest, blocks),
		Pardon(),
		Shut(),
		DecodeFailure(),
	}

	for _, want := range signals {
		payload, err := EncodeSignal(want)
		require.NoError(t, err)
		assert.Equal(t, want, DecodeSignal(payload), "round trip of %s", want)
	}
}

func TestDecodeSignalFallsBackToDecodeFailure(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
	}{
		{name: "empty", payload: []byte{}},
		{name: "garbage", payload: []byte{0xff, 0x00, 0x13, 0x37}},
		{name: "truncated json", payload: []byte(`{"type":"acc`)},
		{name: "unknown type", payload: []byte(`{"type":"launch"}`)},
		{name: "post without body", payload: []byte(`{"type":"post_file"}`)},
		{name: "post without blocks", payload: []byte(`{"type":"post_file","manifest":{"name":"a","size":1}}`)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, TypeDecodeFail, DecodeSignal(tc.payload).Type)
		})
	}
}

func TestPostFileDropsLinkedPathOnTheWire(t *testing.T) {
	manifest := models.Manifest{Name: "a.bin", Size: 1, LinkedPath: "/home/me/a.bin"}
	payload, err := EncodeSignal(PostFile(manifest.Remote(), models.BlockDescriptor{TransferID: 1, BlockSize: 1, BlockCount: 1, Length: 1}))
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "linked_path")
}
