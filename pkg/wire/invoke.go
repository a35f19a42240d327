package wire

import "io"

// ChainHash identifies the blockchain both parties must agree on before a
// hosted channel can be opened.
type ChainHash [32]byte

// InvokeHostedChannel is sent client->host to request opening a hosted
// channel, or to resume an existing one after reconnect.
type InvokeHostedChannel struct {
	ChainHash          ChainHash
	RefundScriptPubKey []byte
}

func (m *InvokeHostedChannel) Tag() uint16 { return TagInvokeHostedChannel }

func (m *InvokeHostedChannel) Encode(w io.Writer) error {
	if err := writeFixed(w, m.ChainHash[:]); err != nil {
		return err
	}
	return writeBytesPrefixed(w, m.RefundScriptPubKey)
}

func (m *InvokeHostedChannel) Decode(r io.Reader) error {
	if err := readFixed(r, m.ChainHash[:]); err != nil {
		return err
	}
	var err error
	m.RefundScriptPubKey, err = readBytesPrefixed(r)
	return err
}
