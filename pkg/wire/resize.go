package wire

import (
	"bytes"
	"crypto/sha256"
	"io"
)

// ResizeChannel proposes growing a channel's capacity. Only the client
// signs; the host accepts by folding the new capacity into the next
// LastCrossSignedState. Resize is growth-only: NewCapacitySat must
// exceed the channel's current capacity.
type ResizeChannel struct {
	ChanID        ChannelID
	NewCapacitySat uint64
	ClientSig     Signature
}

func (m *ResizeChannel) Tag() uint16 { return TagResizeChannel }

func (m *ResizeChannel) Encode(w io.Writer) error {
	if err := writeChannelID(w, m.ChanID); err != nil {
		return err
	}
	if err := writeU64(w, m.NewCapacitySat); err != nil {
		return err
	}
	return writeSignature(w, m.ClientSig)
}

func (m *ResizeChannel) Decode(r io.Reader) error {
	var err error
	if m.ChanID, err = readChannelID(r); err != nil {
		return err
	}
	if m.NewCapacitySat, err = readU64(r); err != nil {
		return err
	}
	m.ClientSig, err = readSignature(r)
	return err
}

// SigMaterial is the little-endian 64-bit newCapacity buffer the client
// signs.
func (m *ResizeChannel) SigMaterial() []byte {
	var buf bytes.Buffer
	writeLE64(&buf, m.NewCapacitySat)
	return buf.Bytes()
}

// SigHash is the SHA256 of SigMaterial.
func (m *ResizeChannel) SigHash() [32]byte {
	return sha256.Sum256(m.SigMaterial())
}
