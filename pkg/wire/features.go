package wire

import "io"

// FeatureBits is a compact set of feature flags advertised in
// InitHostedChannel. Bit semantics beyond "known/unknown" are a matter for
// the host node; the codec only needs to round-trip the bitset.
type FeatureBits uint64

func (f FeatureBits) Has(bit uint) bool {
	return f&(1<<bit) != 0
}

func (f FeatureBits) Set(bit uint) FeatureBits {
	return f | (1 << bit)
}

func readFeatureBits(r io.Reader) (FeatureBits, error) {
	v, err := readU64(r)
	return FeatureBits(v), err
}

func writeFeatureBits(w io.Writer, f FeatureBits) error {
	return writeU64(w, uint64(f))
}
