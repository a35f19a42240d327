package wire

import "fmt"

// MilliSatoshi represents a thousandth of a satoshi, the base unit all
// hosted-channel balances and HTLC amounts are denominated in.
type MilliSatoshi uint64

const mSatScale = 1000

// ToSatoshis rounds down to the nearest whole satoshi.
func (m MilliSatoshi) ToSatoshis() int64 {
	return int64(m / mSatScale)
}

// ToBTC converts to a floating point BTC amount. Lossy; for display only.
func (m MilliSatoshi) ToBTC() float64 {
	return float64(m) / mSatScale / 1e8
}

func (m MilliSatoshi) String() string {
	return fmt.Sprintf("%d mSAT", uint64(m))
}
