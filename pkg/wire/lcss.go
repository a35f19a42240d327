package wire

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
)

// Signature is a 64-byte compact ECDSA signature over a hostedSigHash.
type Signature [64]byte

func readSignature(r io.Reader) (Signature, error) {
	var s Signature
	err := readFixed(r, s[:])
	return s, err
}

func writeSignature(w io.Writer, s Signature) error {
	return writeFixed(w, s[:])
}

// LastCrossSignedState is the canonical, cross-signed hosted-channel
// state. IsHost, the two signature fields, and the HTLC lists are always
// held from the local party's point of view; Reverse flips all of them to
// describe the same channel from the counterparty's point of view.
type LastCrossSignedState struct {
	IsHost             bool
	RefundScriptPubKey []byte
	InitHostedChannel  InitHostedChannelParams
	BlockDay           uint32
	LocalBalanceMsat   MilliSatoshi
	RemoteBalanceMsat  MilliSatoshi
	LocalUpdates       uint32
	RemoteUpdates      uint32
	IncomingHtlcs      []*UpdateAddHtlc
	OutgoingHtlcs      []*UpdateAddHtlc
	RemoteSigOfLocal   Signature
	LocalSigOfRemote   Signature
}

func (m *LastCrossSignedState) Tag() uint16 { return TagLastCrossSignedState }

func (m *LastCrossSignedState) Encode(w io.Writer) error {
	if err := writeBool(w, m.IsHost); err != nil {
		return err
	}
	if err := writeBytesPrefixed(w, m.RefundScriptPubKey); err != nil {
		return err
	}
	if err := m.InitHostedChannel.encode(w); err != nil {
		return err
	}
	if err := writeU32(w, m.BlockDay); err != nil {
		return err
	}
	if err := writeU64(w, uint64(m.LocalBalanceMsat)); err != nil {
		return err
	}
	if err := writeU64(w, uint64(m.RemoteBalanceMsat)); err != nil {
		return err
	}
	if err := writeU32(w, m.LocalUpdates); err != nil {
		return err
	}
	if err := writeU32(w, m.RemoteUpdates); err != nil {
		return err
	}
	if err := writeHtlcList(w, m.IncomingHtlcs); err != nil {
		return err
	}
	if err := writeHtlcList(w, m.OutgoingHtlcs); err != nil {
		return err
	}
	if err := writeSignature(w, m.RemoteSigOfLocal); err != nil {
		return err
	}
	return writeSignature(w, m.LocalSigOfRemote)
}

func (m *LastCrossSignedState) Decode(r io.Reader) error {
	var err error
	if m.IsHost, err = readBool(r); err != nil {
		return err
	}
	if m.RefundScriptPubKey, err = readBytesPrefixed(r); err != nil {
		return err
	}
	if err = m.InitHostedChannel.decode(r); err != nil {
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

	if v, err = readU64(r); err != nil {
		return err
	}
	m.RemoteBalanceMsat = MilliSatoshi(v)

	if m.LocalUpdates, err = readU32(r); err != nil {
		return err
	}
	if m.RemoteUpdates, err = readU32(r); err != nil {
		return err
	}
	if m.IncomingHtlcs, err = readHtlcList(r); err != nil {
		return err
	}
	if m.OutgoingHtlcs, err = readHtlcList(r); err != nil {
		return err
	}
	if m.RemoteSigOfLocal, err = readSignature(r); err != nil {
		return err
	}
	m.LocalSigOfRemote, err = readSignature(r)
	return err
}

func writeHtlcList(w io.Writer, list []*UpdateAddHtlc) error {
	if err := writeU16(w, uint16(len(list))); err != nil {
		return err
	}
	for _, h := range list {
		if err := h.Encode(w); err != nil {
			return err
		}
	}
	return nil
}

func readHtlcList(r io.Reader) ([]*UpdateAddHtlc, error) {
	n, err := readU16(r)
	if err != nil {
		return nil, err
	}
	list := make([]*UpdateAddHtlc, 0, n)
	for i := uint16(0); i < n; i++ {
		h := &UpdateAddHtlc{}
		if err := h.Decode(r); err != nil {
			return nil, err
		}
		list = append(list, h)
	}
	return list, nil
}

// SigMaterial builds the fixed-layout buffer both parties sign:
//
//	refundScriptPubKey || LE64(capacity) || LE64(initialClientBalance) ||
//	LE32(blockDay) || LE64(localBalance) || LE64(remoteBalance) ||
//	LE32(localUpdates) || LE32(remoteUpdates) ||
//	concat(encode(htlc) for each incoming) ||
//	concat(encode(htlc) for each outgoing) || byte(isHost)
//
// Every integer here is little-endian, unlike the big-endian convention
// used for the rest of the wire protocol — a deliberate quirk of the LCSS
// signature hash that both implementations must reproduce exactly.
func (m *LastCrossSignedState) SigMaterial() []byte {
	var buf bytes.Buffer
	buf.Write(m.RefundScriptPubKey)
	writeLE64(&buf, uint64(m.InitHostedChannel.CapacityMsat))
	writeLE64(&buf, uint64(m.InitHostedChannel.InitialClientBalanceMsat))
	writeLE32(&buf, m.BlockDay)
	writeLE64(&buf, uint64(m.LocalBalanceMsat))
	writeLE64(&buf, uint64(m.RemoteBalanceMsat))
	writeLE32(&buf, m.LocalUpdates)
	writeLE32(&buf, m.RemoteUpdates)
	for _, h := range m.IncomingHtlcs {
		_ = h.encodeForSigMaterial(&buf)
	}
	for _, h := range m.OutgoingHtlcs {
		_ = h.encodeForSigMaterial(&buf)
	}
	if m.IsHost {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// HostedSigHash is the SHA256 of SigMaterial — the digest both parties
// actually sign and verify.
func (m *LastCrossSignedState) HostedSigHash() [32]byte {
	return sha256.Sum256(m.SigMaterial())
}

// Reverse returns the same channel state viewed from the counterparty's
// side: role, balances, update counters, HTLC direction, and signatures
// are all swapped. Reverse(Reverse(x)) == x (spec invariant #5).
func (m *LastCrossSignedState) Reverse() *LastCrossSignedState {
	return &LastCrossSignedState{
		IsHost:             !m.IsHost,
		RefundScriptPubKey: append([]byte(nil), m.RefundScriptPubKey...),
		InitHostedChannel:  m.InitHostedChannel,
		BlockDay:           m.BlockDay,
		LocalBalanceMsat:   m.RemoteBalanceMsat,
		RemoteBalanceMsat:  m.LocalBalanceMsat,
		LocalUpdates:       m.RemoteUpdates,
		RemoteUpdates:      m.LocalUpdates,
		IncomingHtlcs:      copyHtlcList(m.OutgoingHtlcs),
		OutgoingHtlcs:      copyHtlcList(m.IncomingHtlcs),
		RemoteSigOfLocal:   m.LocalSigOfRemote,
		LocalSigOfRemote:   m.RemoteSigOfLocal,
	}
}

func copyHtlcList(list []*UpdateAddHtlc) []*UpdateAddHtlc {
	out := make([]*UpdateAddHtlc, len(list))
	for i, h := range list {
		cp := *h
		out[i] = &cp
	}
	return out
}

// CheckInvariants validates this LCSS's structural invariants in
// isolation: the two balances sum to the capacity, every HTLC is at or
// above htlcMinimumMsat, and the HTLC count and total in-flight value are
// within their limits. Signature verification is the caller's job since
// it needs the peer public keys.
func (m *LastCrossSignedState) CheckInvariants() error {
	sum := uint64(m.LocalBalanceMsat) + uint64(m.RemoteBalanceMsat)
	var inFlight uint64
	count := len(m.IncomingHtlcs) + len(m.OutgoingHtlcs)

	for _, h := range m.IncomingHtlcs {
		if h.Amount < m.InitHostedChannel.HtlcMinimumMsat {
			return fmt.Errorf("incoming htlc %d below htlcMinimumMsat", h.ID)
		}
		inFlight += uint64(h.Amount)
	}
	for _, h := range m.OutgoingHtlcs {
		if h.Amount < m.InitHostedChannel.HtlcMinimumMsat {
			return fmt.Errorf("outgoing htlc %d below htlcMinimumMsat", h.ID)
		}
		inFlight += uint64(h.Amount)
	}

	if sum != uint64(m.InitHostedChannel.CapacityMsat) {
		return fmt.Errorf("balances sum %d != capacity %d", sum, m.InitHostedChannel.CapacityMsat)
	}
	if count > int(m.InitHostedChannel.MaxAcceptedHtlcs) {
		return fmt.Errorf("htlc count %d exceeds maxAcceptedHtlcs %d", count, m.InitHostedChannel.MaxAcceptedHtlcs)
	}
	if inFlight > uint64(m.InitHostedChannel.MaxHtlcValueInFlightMsat) {
		return fmt.Errorf("in-flight value %d exceeds maxHtlcValueInFlightMsat %d", inFlight, m.InitHostedChannel.MaxHtlcValueInFlightMsat)
	}
	return nil
}

func writeLE32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	buf.Write(b[:])
}

func writeLE64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	buf.Write(b[:])
}
