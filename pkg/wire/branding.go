package wire

import "io"

// HostedChannelBranding lets a host attach cosmetic metadata (color, logo,
// contact info) to a channel for display in the client's wallet UI. It
// carries no signature and has no bearing on channel invariants.
type HostedChannelBranding struct {
	ChanID      ChannelID
	RGBColor    [3]byte
	PngIcon     []byte
	ContactInfo string
}

func (m *HostedChannelBranding) Tag() uint16 { return TagHostedChannelBranding }

func (m *HostedChannelBranding) Encode(w io.Writer) error {
	if err := writeChannelID(w, m.ChanID); err != nil {
		return err
	}
	if err := writeFixed(w, m.RGBColor[:]); err != nil {
		return err
	}
	if err := writeBytesPrefixed(w, m.PngIcon); err != nil {
		return err
	}
	return writeString(w, m.ContactInfo)
}

func (m *HostedChannelBranding) Decode(r io.Reader) error {
	var err error
	if m.ChanID, err = readChannelID(r); err != nil {
		return err
	}
	if err = readFixed(r, m.RGBColor[:]); err != nil {
		return err
	}
	if m.PngIcon, err = readBytesPrefixed(r); err != nil {
		return err
	}
	m.ContactInfo, err = readString(r)
	return err
}

// AskBrandingInfo is sent client->host to request the current
// HostedChannelBranding for a channel.
type AskBrandingInfo struct {
	ChanID ChannelID
}

func (m *AskBrandingInfo) Tag() uint16 { return TagAskBrandingInfo }

func (m *AskBrandingInfo) Encode(w io.Writer) error {
	return writeChannelID(w, m.ChanID)
}

func (m *AskBrandingInfo) Decode(r io.Reader) error {
	var err error
	m.ChanID, err = readChannelID(r)
	return err
}
