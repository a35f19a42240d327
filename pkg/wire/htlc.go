package wire

import "io"

// OnionPacketSize is the size of the serialized Sphinx onion packet
// carried by UpdateAddHtlc, matching BOLT #2's UpdateAddHTLC layout
// bit-for-bit so its bytes can be folded into a LastCrossSignedState's
// signature material identically on both sides.
const OnionPacketSize = 1254

// UpdateAddHtlc proposes adding a new HTLC to the channel.
type UpdateAddHtlc struct {
	ChanID      ChannelID
	ID          uint64
	Amount      MilliSatoshi
	PaymentHash [32]byte
	CltvExpiry  uint32
	OnionBlob   [OnionPacketSize]byte
}

func (m *UpdateAddHtlc) Tag() uint16 { return TagUpdateAddHtlc }

func (m *UpdateAddHtlc) Encode(w io.Writer) error {
	if err := writeChannelID(w, m.ChanID); err != nil {
		return err
	}
	if err := writeU64(w, m.ID); err != nil {
		return err
	}
	if err := writeU64(w, uint64(m.Amount)); err != nil {
		return err
	}
	if err := writeFixed(w, m.PaymentHash[:]); err != nil {
		return err
	}
	if err := writeU32(w, m.CltvExpiry); err != nil {
		return err
	}
	return writeFixed(w, m.OnionBlob[:])
}

func (m *UpdateAddHtlc) Decode(r io.Reader) error {
	var err error
	if m.ChanID, err = readChannelID(r); err != nil {
		return err
	}
	if m.ID, err = readU64(r); err != nil {
		return err
	}
	amt, err := readU64(r)
	if err != nil {
		return err
	}
	m.Amount = MilliSatoshi(amt)
	if err = readFixed(r, m.PaymentHash[:]); err != nil {
		return err
	}
	if m.CltvExpiry, err = readU32(r); err != nil {
		return err
	}
	return readFixed(r, m.OnionBlob[:])
}

// Encode appends this HTLC's bit-exact wire form (sans tag) to the LCSS
// signature material.
func (m *UpdateAddHtlc) encodeForSigMaterial(w io.Writer) error {
	return m.Encode(w)
}

// UpdateFulfillHtlc resolves an HTLC with its preimage.
type UpdateFulfillHtlc struct {
	ChanID   ChannelID
	ID       uint64
	Preimage [32]byte
}

func (m *UpdateFulfillHtlc) Tag() uint16 { return TagUpdateFulfillHtlc }

func (m *UpdateFulfillHtlc) Encode(w io.Writer) error {
	if err := writeChannelID(w, m.ChanID); err != nil {
		return err
	}
	if err := writeU64(w, m.ID); err != nil {
		return err
	}
	return writeFixed(w, m.Preimage[:])
}

func (m *UpdateFulfillHtlc) Decode(r io.Reader) error {
	var err error
	if m.ChanID, err = readChannelID(r); err != nil {
		return err
	}
	if m.ID, err = readU64(r); err != nil {
		return err
	}
	return readFixed(r, m.Preimage[:])
}

// UpdateFailHtlc fails an HTLC with an opaque, onion-encrypted reason.
type UpdateFailHtlc struct {
	ChanID ChannelID
	ID     uint64
	Reason []byte
}

func (m *UpdateFailHtlc) Tag() uint16 { return TagUpdateFailHtlc }

func (m *UpdateFailHtlc) Encode(w io.Writer) error {
	if err := writeChannelID(w, m.ChanID); err != nil {
		return err
	}
	if err := writeU64(w, m.ID); err != nil {
		return err
	}
	return writeBytesPrefixed(w, m.Reason)
}

func (m *UpdateFailHtlc) Decode(r io.Reader) error {
	var err error
	if m.ChanID, err = readChannelID(r); err != nil {
		return err
	}
	if m.ID, err = readU64(r); err != nil {
		return err
	}
	m.Reason, err = readBytesPrefixed(r)
	return err
}

// UpdateFailMalformedHtlc fails an HTLC the receiver could not even parse
// (bad onion), carrying the SHA256 of the onion and a BOLT #4 failure code
// instead of an encrypted reason.
type UpdateFailMalformedHtlc struct {
	ChanID       ChannelID
	ID           uint64
	OnionSHA256  [32]byte
	FailureCode  uint16
}

func (m *UpdateFailMalformedHtlc) Tag() uint16 { return TagUpdateFailMalformedHtlc }

func (m *UpdateFailMalformedHtlc) Encode(w io.Writer) error {
	if err := writeChannelID(w, m.ChanID); err != nil {
		return err
	}
	if err := writeU64(w, m.ID); err != nil {
		return err
	}
	if err := writeFixed(w, m.OnionSHA256[:]); err != nil {
		return err
	}
	return writeU16(w, m.FailureCode)
}

func (m *UpdateFailMalformedHtlc) Decode(r io.Reader) error {
	var err error
	if m.ChanID, err = readChannelID(r); err != nil {
		return err
	}
	if m.ID, err = readU64(r); err != nil {
		return err
	}
	if err = readFixed(r, m.OnionSHA256[:]); err != nil {
		return err
	}
	m.FailureCode, err = readU16(r)
	return err
}
