// Package hcrypto implements the signature and identifier derivations a
// hosted channel needs: signing and verifying LastCrossSignedState and
// ResizeChannel digests, and deriving a channel's ChannelID and
// ShortChannelID from its two endpoints' public keys.
package hcrypto

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/wlns-network/hosted-channels/pkg/wire"
)

// Sign produces a compact 64-byte signature over digest using priv.
func Sign(priv *btcec.PrivateKey, digest [32]byte) wire.Signature {
	sig := ecdsa.Sign(priv, digest[:])
	return compact(sig)
}

// Verify reports whether sig is a valid signature by pub over digest.
func Verify(pub *btcec.PublicKey, digest [32]byte, sig wire.Signature) bool {
	parsed, err := parseCompact(sig)
	if err != nil {
		return false
	}
	return parsed.Verify(digest[:], pub)
}

// compact serializes an ECDSA signature as a fixed 64-byte r||s buffer.
// btcec's native DER serialization is variable-length, which doesn't fit
// wire.Signature's fixed-size wire field, so r and s are each padded to
// 32 bytes independently.
func compact(sig *ecdsa.Signature) wire.Signature {
	var out wire.Signature
	der := sig.Serialize()
	r, s := splitDER(der)
	copy(out[32-len(r):32], r)
	copy(out[64-len(s):64], s)
	return out
}

func parseCompact(sig wire.Signature) (*ecdsa.Signature, error) {
	r := new(btcec.ModNScalar)
	s := new(btcec.ModNScalar)
	r.SetByteSlice(sig[:32])
	s.SetByteSlice(sig[32:])
	return ecdsa.NewSignature(r, s), nil
}

// splitDER pulls the raw r and s big-endian integers out of a DER-encoded
// ECDSA signature produced by ecdsa.Sign.
func splitDER(der []byte) (r, s []byte) {
	// DER: 0x30 len 0x02 rlen r 0x02 slen s
	if len(der) < 6 || der[0] != 0x30 {
		return nil, nil
	}
	rLen := int(der[3])
	rStart := 4
	r = der[rStart : rStart+rLen]
	sStart := rStart + rLen + 2
	sLen := int(der[sStart-1])
	s = der[sStart : sStart+sLen]
	// Strip DER's leading zero byte added to keep a high-bit integer
	// positive; our fixed-width encoding doesn't need it.
	for len(r) > 0 && r[0] == 0 {
		r = r[1:]
	}
	for len(s) > 0 && s[0] == 0 {
		s = s[1:]
	}
	return r, s
}

// DeriveChannelID computes the ChannelID for a hosted channel as the
// SHA256 of the two parties' compressed public keys, host first, so both
// sides derive an identical identifier regardless of who opened it.
func DeriveChannelID(hostPub, clientPub *btcec.PublicKey) wire.ChannelID {
	h := sha256.New()
	h.Write(hostPub.SerializeCompressed())
	h.Write(clientPub.SerializeCompressed())
	var id wire.ChannelID
	copy(id[:], h.Sum(nil))
	return id
}

// DeriveShortChannelID derives the 8-byte graph identifier used to
// address a hosted channel in onion routing hints. It folds the
// ChannelID down to 8 bytes via its leading bytes; hosted channels have
// no block/tx/output coordinate to encode, unlike on-chain channels.
func DeriveShortChannelID(chanID wire.ChannelID) wire.ShortChannelID {
	return wire.ShortChannelID(binary.BigEndian.Uint64(chanID[:8]))
}

// ParsePubKey parses a 33-byte compressed secp256k1 public key.
func ParsePubKey(b []byte) (*btcec.PublicKey, error) {
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("hcrypto: parse pubkey: %w", err)
	}
	return pub, nil
}
