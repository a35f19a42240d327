package wire

import "io"

// InitHostedChannelParams describes the terms a host offers for a hosted
// channel: its capacity, HTLC bounds, and the client's opening balance.
// These fields are embedded verbatim in InitHostedChannel and also feed
// LastCrossSignedState.SigMaterial.
type InitHostedChannelParams struct {
	CapacityMsat             MilliSatoshi
	HtlcMinimumMsat          MilliSatoshi
	MaxAcceptedHtlcs         uint16
	MaxHtlcValueInFlightMsat MilliSatoshi
	InitialClientBalanceMsat MilliSatoshi
	Features                 FeatureBits
}

func (p *InitHostedChannelParams) encode(w io.Writer) error {
	if err := writeU64(w, uint64(p.CapacityMsat)); err != nil {
		return err
	}
	if err := writeU64(w, uint64(p.HtlcMinimumMsat)); err != nil {
		return err
	}
	if err := writeU16(w, p.MaxAcceptedHtlcs); err != nil {
		return err
	}
	if err := writeU64(w, uint64(p.MaxHtlcValueInFlightMsat)); err != nil {
		return err
	}
	if err := writeU64(w, uint64(p.InitialClientBalanceMsat)); err != nil {
		return err
	}
	return writeFeatureBits(w, p.Features)
}

func (p *InitHostedChannelParams) decode(r io.Reader) error {
	v, err := readU64(r)
	if err != nil {
		return err
	}
	p.CapacityMsat = MilliSatoshi(v)

	if v, err = readU64(r); err != nil {
		return err
	}
	p.HtlcMinimumMsat = MilliSatoshi(v)

	if p.MaxAcceptedHtlcs, err = readU16(r); err != nil {
		return err
	}

	if v, err = readU64(r); err != nil {
		return err
	}
	p.MaxHtlcValueInFlightMsat = MilliSatoshi(v)

	if v, err = readU64(r); err != nil {
		return err
	}
	p.InitialClientBalanceMsat = MilliSatoshi(v)

	p.Features, err = readFeatureBits(r)
	return err
}

// InitHostedChannel is sent host->client in response to InvokeHostedChannel,
// announcing the terms of the channel being offered.
type InitHostedChannel struct {
	Params InitHostedChannelParams
}

func (m *InitHostedChannel) Tag() uint16 { return TagInitHostedChannel }

func (m *InitHostedChannel) Encode(w io.Writer) error {
	return m.Params.encode(w)
}

func (m *InitHostedChannel) Decode(r io.Reader) error {
	return m.Params.decode(r)
}
