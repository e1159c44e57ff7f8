package models

// Peer is what a remote side told us about itself in its accept handshake.
type Peer struct {
	IPAddr string `json:"ip_addr"`
	Name   string `json:"name"`
}
