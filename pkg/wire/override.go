package wire

import "io"

// StateOverride is issued host->client to forcibly reset a Suspended
// channel's state, discarding any in-flight HTLCs. The client ratifies it
// by signing the reversed override and returning a StateUpdate.
type StateOverride struct {
	ChanID           ChannelID
	BlockDay         uint32
	LocalBalanceMsat MilliSatoshi
	LocalUpdates     uint32
	RemoteUpdates    uint32
	Sig              Signature
}

func (m *StateOverride) Tag() uint16 { return TagStateOverride }

func (m *StateOverride) Encode(w io.Writer) error {
	if err := writeChannelID(w, m.ChanID); err != nil {
		return err
	}
	if err := writeU32(w, m.BlockDay); err != nil {
		return err
	}
	if err := writeU64(w, uint64(m.LocalBalanceMsat)); err != nil {
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

func (m *StateOverride) Decode(r io.Reader) error {
	var err error
	if m.ChanID, err = readChannelID(r); err != nil {
		return err
	}
	if m.BlockDay, err = readU32(r); err != nil {
		return err
	}
	v, err := readU64(r)
	if err != nil {
		return err
	}
	m.LocalBalanceMsat = MilliSatoshi(v)

	if m.LocalUpdates, err = readU32(r); err != nil {
		return err
	}
	if m.RemoteUpdates, err = readU32(r); err != nil {
		return err
	}
	m.Sig, err = readSignature(r)
	return err
}
