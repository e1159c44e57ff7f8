package network

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"filenet/models"
)

// SignalType is the wire discriminator of a Signal.
type SignalType string

const (
	TypeAccept     SignalType = "accept"
	TypeAddStream  SignalType = "add_stream"
	TypePostFile   SignalType = "post_file"
	TypePardon     SignalType = "pardon"
	TypeShut       SignalType = "shut"
	TypeDecodeFail SignalType = "error_into"
)

// Signal is one control-plane message. Only the fields of its Type are set.
type Signal struct {
	Type SignalType `json:"type"`

	IPAddr string `json:"ip_addr,omitempty"`
	Name   string `json:"name,omitempty"`

	Manifest *models.Manifest        `json:"manifest,omitempty"`
	Blocks   *models.BlockDescriptor `json:"blocks,omitempty"`
}

// Accept builds the handshake / keepalive / acknowledgement signal.
func Accept(ipAddr, name string) Signal {
	return Signal{Type: TypeAccept, IPAddr: ipAddr, Name: name}
}

// AddStream asks the peer to open one more physical connection.
func AddStream() Signal { return Signal{Type: TypeAddStream} }

// PostFile announces an inbound transfer.
func PostFile(manifest models.Manifest, blocks models.BlockDescriptor) Signal {
	return Signal{Type: TypePostFile, Manifest: &manifest, Blocks: &blocks}
}

// Pardon asks the peer to send its last message again.
func Pardon() Signal { return Signal{Type: TypePardon} }

// Shut tells the peer this side is closing.
func Shut() Signal { return Signal{Type: TypeShut} }

// DecodeFailure is the fallback produced for anything that does not decode.
func DecodeFailure() Signal { return Signal{Type: TypeDecodeFail} }

// IsAccept reports whether s acknowledges.
func (s Signal) IsAccept() bool { return s.Type == TypeAccept }

func (s Signal) String() string {
	switch s.Type {
	case TypeAccept:
		return fmt.Sprintf("Accept{ip=%q name=%q}", s.IPAddr, s.Name)
	case TypePostFile:
		if s.Manifest != nil && s.Blocks != nil {
			return fmt.Sprintf("PostFile{name=%q id=%d blocks=%d}", s.Manifest.Name, s.Blocks.TransferID, s.Blocks.BlockCount)
		}
	}
	return string(s.Type)
}

// EncodeSignal marshals a signal to its wire payload.
func EncodeSignal(s Signal) ([]byte, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal signal %s: %w", s.Type, err)
	}
	return payload, nil
}

// DecodeSignal never fails: any payload that is not a well-formed signal
// yields DecodeFailure.
func DecodeSignal(payload []byte) Signal {
	var s Signal
	if err := json.Unmarshal(payload, &s); err != nil {
		return DecodeFailure()
	}

	switch s.Type {
	case TypeAccept:
		return Accept(s.IPAddr, s.Name)
	case TypeAddStream, TypePardon, TypeShut, TypeDecodeFail:
		return Signal{Type: s.Type}
	case TypePostFile:
		if s.Manifest == nil || s.Blocks == nil {
			return DecodeFailure()
		}
		return PostFile(*s.Manifest, *s.Blocks)
	default:
		return DecodeFailure()
	}
}

// WriteSignal encodes and frames s onto conn.
func WriteSignal(conn net.Conn, timeout time.Duration, s Signal) error {
	payload, err := EncodeSignal(s)
	if err != nil {
		return err
	}
	return WriteFrameWithTimeout(conn, timeout, payload)
}

// ReadSignal reads one frame from conn and decodes it. Transport errors are
// returned; decode problems are not errors and surface as DecodeFailure.
func ReadSignal(conn net.Conn, timeout time.Duration) (Signal, error) {
	payload, err := ReadFrameWithTimeout(conn, timeout)
	if err != nil {
		return Signal{}, err
	}
	return DecodeSignal(payload), nil
}
