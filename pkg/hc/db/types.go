// Package db defines the persisted state of a hosted-channels node:
// channel records, pending forwards, and the preimage cache, independent
// of any particular storage engine.
package db

import (
	"errors"
	"time"

	"github.com/wlns-network/hosted-channels/pkg/wire"
)

var (
	ErrAlreadyExists = errors.New("db: already exists")
	ErrNotFound       = errors.New("db: not found")
)

// ChannelStatus tracks a hosted channel through its lifecycle.
type ChannelStatus uint8

const (
	StatusOffline ChannelStatus = iota
	StatusOpening
	StatusActive
	StatusSuspended
	StatusOverriding
	// StatusAny is only valid as a GetChannels filter, never a stored value.
	StatusAny ChannelStatus = 100
)

func (s ChannelStatus) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusOpening:
		return "opening"
	case StatusActive:
		return "active"
	case StatusSuspended:
		return "suspended"
	case StatusOverriding:
		return "overriding"
	default:
		return "unknown"
	}
}

// UncommittedUpdateKind identifies which HTLC action an UncommittedUpdate
// carries.
type UncommittedUpdateKind uint8

const (
	UpdateKindAddHtlc UncommittedUpdateKind = iota
	UpdateKindFulfillHtlc
	UpdateKindFailHtlc
	UpdateKindFailMalformedHtlc
)

// UncommittedUpdate is one entry of a channel's uncommittedUpdates queue:
// a proposed HTLC action not yet folded into a cross-signed
// LastCrossSignedState. Exactly one of the embedded messages is non-nil,
// selected by Kind.
type UncommittedUpdate struct {
	Kind UncommittedUpdateKind

	FromLocal bool

	Add              *wire.UpdateAddHtlc
	Fulfill          *wire.UpdateFulfillHtlc
	Fail             *wire.UpdateFailHtlc
	FailMalformed    *wire.UpdateFailMalformedHtlc
}

// Channel is the full persisted record of one hosted channel.
type Channel struct {
	ChanID      wire.ChannelID
	PeerPubKey  []byte
	IsHost      bool
	Status      ChannelStatus

	LCSS wire.LastCrossSignedState

	UncommittedUpdates []UncommittedUpdate

	// CurrentBlockDay is this node's local view of the chain-derived
	// blockDay, advanced by ChannelMaster's chain-tip fan-out.
	CurrentBlockDay uint32

	// CurrentBlockHeight is the exact chain height backing CurrentBlockDay,
	// kept alongside it so the per-block outgoing-HTLC expiry scan can
	// compare against a precise height instead of the coarser blockDay
	// bucket.
	CurrentBlockHeight uint32

	// ReconcileRetries counts consecutive counter-mismatch retries for the
	// in-flight reconciliation round; reset to 0 on a successful commit.
	ReconcileRetries int

	// AwaitingAck is true while this side has sent a StateUpdate proposal
	// of its own and is waiting for the peer's matching reply. It lets a
	// commit that completes one of these proposals settle quietly instead
	// of echoing a reply back to whoever just acked it.
	AwaitingAck bool

	// PendingResizeNewCapacitySat is nonzero on the client side between
	// sending a ResizeChannel proposal and receiving the host's
	// countersigned StateUpdate reply, so the reply can be folded into
	// this side's own LCSS the same way the host folded it into its own.
	PendingResizeNewCapacitySat uint64

	CreatedAt time.Time
	UpdatedAt time.Time

	// DBVersion implements optimistic concurrency control: UpdateChannel
	// fails if the caller's copy's DBVersion doesn't match the stored one.
	DBVersion int64
}

// HtlcIdentifier addresses one HTLC on one channel.
type HtlcIdentifier struct {
	ChanID wire.ChannelID
	HtlcID uint64
}

// HtlcForward records that an incoming HTLC on one channel was forwarded
// as an outgoing HTLC on another, so ChannelMaster can route the eventual
// fulfill/fail back to the correct incoming side, including across a
// restart. OutgoingAdd carries the full UpdateAddHtlc proposed for the
// outgoing leg, so Replay can re-propose it if a crash happened between
// this record being written and the outgoing AddHtlc actually landing in
// the channel's LCSS or uncommitted updates.
type HtlcForward struct {
	Incoming    HtlcIdentifier
	Outgoing    HtlcIdentifier
	OutgoingAdd *wire.UpdateAddHtlc
	CreatedAt   time.Time
}

// Preimage is a cached HTLC preimage, discovered either from a peer's
// UpdateFulfillHtlc or by BlockchainPreimageCatcher scanning a
// transaction.
type Preimage struct {
	PaymentHash [32]byte
	Preimage    [32]byte
	DiscoveredVia string
	At          time.Time
}
