package wire

import "io"

// AnnouncementSignature carries a party's signature over a
// ChannelAnnouncement, exchanged so both sides can assemble a jointly
// signed announcement to gossip. Publication policy is out of scope here;
// this package only codecs the message.
type AnnouncementSignature struct {
	ChanID         ChannelID
	ShortChannelID ShortChannelID
	Sig            Signature
}

func (m *AnnouncementSignature) Tag() uint16 { return TagAnnouncementSignature }

func (m *AnnouncementSignature) Encode(w io.Writer) error {
	if err := writeChannelID(w, m.ChanID); err != nil {
		return err
	}
	if err := writeShortChannelID(w, m.ShortChannelID); err != nil {
		return err
	}
	return writeSignature(w, m.Sig)
}

func (m *AnnouncementSignature) Decode(r io.Reader) error {
	var err error
	if m.ChanID, err = readChannelID(r); err != nil {
		return err
	}
	if m.ShortChannelID, err = readShortChannelID(r); err != nil {
		return err
	}
	m.Sig, err = readSignature(r)
	return err
}

// ChannelAnnouncement advertises a hosted channel's existence and the
// public keys of both endpoints, mirroring BOLT #7's channel_announcement
// but for a trust-based channel with no on-chain funding output to prove.
type ChannelAnnouncement struct {
	ChainHash      ChainHash
	ShortChannelID ShortChannelID
	NodeID1        [33]byte
	NodeID2        [33]byte
	NodeSig1       Signature
	NodeSig2       Signature
	Features       FeatureBits
}

func (m *ChannelAnnouncement) Tag() uint16 { return TagChannelAnnouncement }

func (m *ChannelAnnouncement) Encode(w io.Writer) error {
	if err := writeFixed(w, m.ChainHash[:]); err != nil {
		return err
	}
	if err := writeShortChannelID(w, m.ShortChannelID); err != nil {
		return err
	}
	if err := writeFixed(w, m.NodeID1[:]); err != nil {
		return err
	}
	if err := writeFixed(w, m.NodeID2[:]); err != nil {
		return err
	}
	if err := writeSignature(w, m.NodeSig1); err != nil {
		return err
	}
	if err := writeSignature(w, m.NodeSig2); err != nil {
		return err
	}
	return writeFeatureBits(w, m.Features)
}

func (m *ChannelAnnouncement) Decode(r io.Reader) error {
	var err error
	if err = readFixed(r, m.ChainHash[:]); err != nil {
		return err
	}
	if m.ShortChannelID, err = readShortChannelID(r); err != nil {
		return err
	}
	if err = readFixed(r, m.NodeID1[:]); err != nil {
		return err
	}
	if err = readFixed(r, m.NodeID2[:]); err != nil {
		return err
	}
	if m.NodeSig1, err = readSignature(r); err != nil {
		return err
	}
	if m.NodeSig2, err = readSignature(r); err != nil {
		return err
	}
	m.Features, err = readFeatureBits(r)
	return err
}

// ChannelUpdate advertises a hosted channel's current routing policy
// (fees, CLTV delta, disabled flag), mirroring BOLT #7's channel_update.
type ChannelUpdate struct {
	ChainHash       ChainHash
	ShortChannelID  ShortChannelID
	Sig             Signature
	Timestamp       uint32
	Disabled        bool
	CltvExpiryDelta uint16
	HtlcMinimumMsat MilliSatoshi
	FeeBaseMsat     uint32
	FeeProportional uint32
	HtlcMaxMsat     MilliSatoshi
}

func (m *ChannelUpdate) Tag() uint16 { return TagChannelUpdate }

func (m *ChannelUpdate) Encode(w io.Writer) error {
	if err := writeFixed(w, m.ChainHash[:]); err != nil {
		return err
	}
	if err := writeShortChannelID(w, m.ShortChannelID); err != nil {
		return err
	}
	if err := writeSignature(w, m.Sig); err != nil {
		return err
	}
	if err := writeU32(w, m.Timestamp); err != nil {
		return err
	}
	if err := writeBool(w, m.Disabled); err != nil {
		return err
	}
	if err := writeU16(w, m.CltvExpiryDelta); err != nil {
		return err
	}
	if err := writeU64(w, uint64(m.HtlcMinimumMsat)); err != nil {
		return err
	}
	if err := writeU32(w, m.FeeBaseMsat); err != nil {
		return err
	}
	if err := writeU32(w, m.FeeProportional); err != nil {
		return err
	}
	return writeU64(w, uint64(m.HtlcMaxMsat))
}

func (m *ChannelUpdate) Decode(r io.Reader) error {
	var err error
	if err = readFixed(r, m.ChainHash[:]); err != nil {
		return err
	}
	if m.ShortChannelID, err = readShortChannelID(r); err != nil {
		return err
	}
	if m.Sig, err = readSignature(r); err != nil {
		return err
	}
	if m.Timestamp, err = readU32(r); err != nil {
		return err
	}
	if m.Disabled, err = readBool(r); err != nil {
		return err
	}
	if m.CltvExpiryDelta, err = readU16(r); err != nil {
		return err
	}
	v, err := readU64(r)
	if err != nil {
		return err
	}
	m.HtlcMinimumMsat = MilliSatoshi(v)

	if m.FeeBaseMsat, err = readU32(r); err != nil {
		return err
	}
	if m.FeeProportional, err = readU32(r); err != nil {
		return err
	}
	v, err = readU64(r)
	m.HtlcMaxMsat = MilliSatoshi(v)
	return err
}

// QueryPublicHostedChannels requests all publicly announced hosted
// channels known to the peer for a given chain.
type QueryPublicHostedChannels struct {
	ChainHash ChainHash
}

func (m *QueryPublicHostedChannels) Tag() uint16 { return TagQueryPublicHostedChans }

func (m *QueryPublicHostedChannels) Encode(w io.Writer) error {
	return writeFixed(w, m.ChainHash[:])
}

func (m *QueryPublicHostedChannels) Decode(r io.Reader) error {
	return readFixed(r, m.ChainHash[:])
}

// ReplyPublicHostedChannels answers a QueryPublicHostedChannels with the
// matching set of announcements.
type ReplyPublicHostedChannels struct {
	Announcements []*ChannelAnnouncement
}

func (m *ReplyPublicHostedChannels) Tag() uint16 { return TagReplyPublicHostedChans }

func (m *ReplyPublicHostedChannels) Encode(w io.Writer) error {
	if err := writeU16(w, uint16(len(m.Announcements))); err != nil {
		return err
	}
	for _, a := range m.Announcements {
		if err := a.Encode(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *ReplyPublicHostedChannels) Decode(r io.Reader) error {
	n, err := readU16(r)
	if err != nil {
		return err
	}
	m.Announcements = make([]*ChannelAnnouncement, 0, n)
	for i := uint16(0); i < n; i++ {
		a := &ChannelAnnouncement{}
		if err := a.Decode(r); err != nil {
			return err
		}
		m.Announcements = append(m.Announcements, a)
	}
	return nil
}

// QueryPreimages asks the peer whether it holds preimages for the given
// payment hashes, used to recover HTLC resolution after a crash or a
// forced channel override.
type QueryPreimages struct {
	PaymentHashes [][32]byte
}

func (m *QueryPreimages) Tag() uint16 { return TagQueryPreimages }

func (m *QueryPreimages) Encode(w io.Writer) error {
	if err := writeU16(w, uint16(len(m.PaymentHashes))); err != nil {
		return err
	}
	for _, h := range m.PaymentHashes {
		if err := writeFixed(w, h[:]); err != nil {
			return err
		}
	}
	return nil
}

func (m *QueryPreimages) Decode(r io.Reader) error {
	n, err := readU16(r)
	if err != nil {
		return err
	}
	m.PaymentHashes = make([][32]byte, n)
	for i := uint16(0); i < n; i++ {
		if err := readFixed(r, m.PaymentHashes[i][:]); err != nil {
			return err
		}
	}
	return nil
}

// ReplyPreimages answers QueryPreimages with whatever preimages the
// responder actually holds; Preimages may be shorter than the request.
type ReplyPreimages struct {
	Preimages [][32]byte
}

func (m *ReplyPreimages) Tag() uint16 { return TagReplyPreimages }

func (m *ReplyPreimages) Encode(w io.Writer) error {
	if err := writeU16(w, uint16(len(m.Preimages))); err != nil {
		return err
	}
	for _, p := range m.Preimages {
		if err := writeFixed(w, p[:]); err != nil {
			return err
		}
	}
	return nil
}

func (m *ReplyPreimages) Decode(r io.Reader) error {
	n, err := readU16(r)
	if err != nil {
		return err
	}
	m.Preimages = make([][32]byte, n)
	for i := uint16(0); i < n; i++ {
		if err := readFixed(r, m.Preimages[i][:]); err != nil {
			return err
		}
	}
	return nil
}
