package wire

import "io"

// StateUpdate is exchanged by both sides to commit a candidate
// LastCrossSignedState built from uncommittedUpdates.
type StateUpdate struct {
	ChanID        ChannelID
	BlockDay      uint32
	LocalUpdates  uint32
	RemoteUpdates uint32
	Sig           Signature
}

func (m *StateUpdate) Tag() uint16 { return TagStateUpdate }

func (m *StateUpdate) Encode(w io.Writer) error {
	if err := writeChannelID(w, m.ChanID); err != nil {
		return err
	}
	if err := writeU32(w, m.BlockDay); err != nil {
		return err
	}
	if err := writeU32(w, m.LocalUpdates); err != nil {
		return err
	}
	if err := writeU32(w, m.RemoteUpdates); err != nil {
		return err
	}
	return writeSignature(w, m.Sig)
}

func (m *StateUpdate) Decode(r io.Reader) error {
	var err error
	if m.ChanID, err = readChannelID(r); err != nil {
		return err
	}
	if m.BlockDay, err = readU32(r); err != nil {
		return err
	}
	if m.LocalUpdates, err = readU32(r); err != nil {
		return err
	}
	if m.RemoteUpdates, err = readU32(r); err != nil {
		return err
	}
	m.Sig, err = readSignature(r)
	return err
}
