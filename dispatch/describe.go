package dispatch

import (
	"errors"

	"filenet/network"
	"filenet/transfer"
)

var descriptions = []struct {
	target error
	text   string
}{
	{transfer.ErrCannotRead, "cannot read file"},
	{transfer.ErrCannotWrite, "cannot write file"},
	{transfer.ErrNoStream, "no data connection available"},
	{transfer.ErrBlockRefused, "peer asked for a block again"},
	{transfer.ErrStreamIO, "data connection failed"},
	{transfer.ErrRejected, "peer rejected the transfer"},
	{transfer.ErrLinkDown, "link to the peer ended"},
	{transfer.ErrCanceled, "canceled"},
	{transfer.ErrChecksumMismatch, "file failed its checksum"},
	{transfer.ErrDuplicateTransfer, "transfer is already in progress"},
	{transfer.ErrInvalidDescriptor, "invalid transfer announcement"},
	{transfer.ErrMalformedBlock, "malformed block received"},
	{transfer.ErrReaderFailed, "data connection closed"},
	{network.ErrPeerShut, "peer closed the link"},
	{network.ErrLinkLost, "connection lost"},
	{network.ErrHandshake, "handshake failed"},
	{network.ErrNoAddress, "no address given"},
	{network.ErrNoPort, "no port given"},
	{network.ErrFrameTooLarge, "message too large"},
	{ErrNotLinked, "not linked to a peer"},
}

// Describe maps an error to the short status text shown to the user.
func Describe(err error) string {
	if err == nil {
		return "ok"
	}
	for _, d := range descriptions {
		if errors.Is(err, d.target) {
			return d.text
		}
	}
	return err.Error()
}
