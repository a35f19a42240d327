package wire

import "io"

// ChannelID uniquely identifies a hosted channel on the wire. It is
// derived deterministically from the host and client public keys; see
// pkg/hcrypto.DeriveChannelID.
type ChannelID [32]byte

func readChannelID(r io.Reader) (ChannelID, error) {
	var id ChannelID
	err := readFixed(r, id[:])
	return id, err
}

func writeChannelID(w io.Writer, id ChannelID) error {
	return writeFixed(w, id[:])
}

// ShortChannelID is the 8-byte graph identifier used to address a hosted
// channel in onion routing hints, derived deterministically from the host
// and client public keys; see pkg/hcrypto.DeriveShortChannelID.
type ShortChannelID uint64

func readShortChannelID(r io.Reader) (ShortChannelID, error) {
	v, err := readU64(r)
	return ShortChannelID(v), err
}

func writeShortChannelID(w io.Writer, id ShortChannelID) error {
	return writeU64(w, uint64(id))
}
