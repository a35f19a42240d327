package wire

import "io"

// Error reports a protocol failure for a specific channel, such as a
// stale blockDay or a failed signature check, and typically precedes the
// sender moving the channel to Suspended.
type Error struct {
	ChanID ChannelID
	Data   string
}

func (m *Error) Tag() uint16 { return TagError }

func (m *Error) Encode(w io.Writer) error {
	if err := writeChannelID(w, m.ChanID); err != nil {
		return err
	}
	return writeString(w, m.Data)
}

func (m *Error) Decode(r io.Reader) error {
	var err error
	if m.ChanID, err = readChannelID(r); err != nil {
		return err
	}
	m.Data, err = readString(r)
	return err
}
