package hc

import (
	"context"
	"fmt"

	"github.com/wlns-network/hosted-channels/pkg/hc/db"
	"github.com/wlns-network/hosted-channels/pkg/hcrypto"
	"github.com/wlns-network/hosted-channels/pkg/wire"
)

// Channel is a bound handle onto one persisted channel record. It holds
// no state of its own beyond the identifiers needed to load, lock, and
// save that record, so handles are cheap and always reflect the latest
// committed state.
type Channel struct {
	m      *ChannelMaster
	chanID wire.ChannelID
}

// withChannel loads the channel under its per-channel lock, lets mutate
// change it in place, and persists the result unless mutate returns an
// error (in which case nothing is written). Any payment hash that drops
// out of the channel's in-flight HTLC sets across the mutation is offered
// to the preimage cache for eviction.
func (c *Channel) withChannel(ctx context.Context, mutate func(ch *db.Channel) error) error {
	lock := c.m.lockFor(c.chanID)
	lock.Lock()
	defer lock.Unlock()

	ch, err := c.m.db.GetChannel(ctx, c.chanID)
	if err != nil {
		return fmt.Errorf("%w: load channel: %v", ErrDatabase, err)
	}

	before := htlcPaymentHashes(ch)

	if err := mutate(ch); err != nil {
		return err
	}

	if err := c.m.db.UpdateChannel(ctx, ch); err != nil {
		return fmt.Errorf("%w: save channel: %v", ErrDatabase, err)
	}
	c.m.observe(ch)

	after := htlcPaymentHashes(ch)
	for hash := range before {
		if _, still := after[hash]; !still {
			c.m.evictPreimageIfUnused(ctx, hash)
		}
	}
	return nil
}

// htlcPaymentHashes collects the payment hash of every HTLC currently
// in flight on ch, in either direction.
func htlcPaymentHashes(ch *db.Channel) map[[32]byte]struct{} {
	out := map[[32]byte]struct{}{}
	for _, h := range ch.LCSS.IncomingHtlcs {
		out[h.PaymentHash] = struct{}{}
	}
	for _, h := range ch.LCSS.OutgoingHtlcs {
		out[h.PaymentHash] = struct{}{}
	}
	return out
}

func (c *Channel) handle(ctx context.Context, peerPubKey []byte, msg wire.Message) error {
	switch m := msg.(type) {
	case *wire.StateUpdate:
		return c.handleStateUpdate(ctx, peerPubKey, m)
	case *wire.UpdateAddHtlc:
		return c.handleAddHtlc(ctx, peerPubKey, m)
	case *wire.UpdateFulfillHtlc:
		return c.handleFulfillHtlc(ctx, m)
	case *wire.UpdateFailHtlc:
		return c.handleFailHtlc(ctx, m)
	case *wire.UpdateFailMalformedHtlc:
		return c.handleFailMalformedHtlc(ctx, m)
	case *wire.StateOverride:
		return c.handleStateOverride(ctx, peerPubKey, m)
	case *wire.ResizeChannel:
		return c.handleResizeChannel(ctx, peerPubKey, m)
	case *wire.Error:
		return c.handlePeerError(ctx, m)
	default:
		return fmt.Errorf("%w: unhandled message tag %d", ErrProtocol, msg.Tag())
	}
}

// HandleInvoke is the host-side entry point for InvokeHostedChannel: a
// client is asking to open (or resume) a hosted channel. The host
// responds with InitHostedChannel describing the terms it offers.
func (m *ChannelMaster) HandleInvoke(ctx context.Context, clientPub []byte, msg *wire.InvokeHostedChannel) error {
	ourChain, err := m.node.ChainHash(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChain, err)
	}
	if wire.ChainHash(msg.ChainHash) != ourChain {
		return fmt.Errorf("%w: chain hash mismatch", ErrProtocol)
	}

	client, err := hcrypto.ParsePubKey(clientPub)
	if err != nil {
		return fmt.Errorf("%w: parse client pubkey: %v", ErrProtocol, err)
	}
	chanID := hcrypto.DeriveChannelID(m.node.NodePrivateKey().PubKey(), client)

	existing, err := m.db.GetChannel(ctx, chanID)
	if err == nil {
		return m.resendInit(ctx, clientPub, existing)
	}
	if err != db.ErrNotFound {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	d := m.cfg.ChannelDefaults
	params := wire.InitHostedChannelParams{
		CapacityMsat:             wire.MilliSatoshi(d.CapacityMsat),
		HtlcMinimumMsat:          wire.MilliSatoshi(d.HtlcMinimumMsat),
		MaxAcceptedHtlcs:         d.MaxAcceptedHtlcs,
		MaxHtlcValueInFlightMsat: wire.MilliSatoshi(d.MaxHtlcValueInFlightMsat),
		InitialClientBalanceMsat: wire.MilliSatoshi(d.CapacityMsat),
	}

	ch := &db.Channel{
		ChanID:     chanID,
		PeerPubKey: append([]byte(nil), clientPub...),
		IsHost:     true,
		Status:     db.StatusOpening,
		LCSS: wire.LastCrossSignedState{
			IsHost:             true,
			RefundScriptPubKey: append([]byte(nil), msg.RefundScriptPubKey...),
			InitHostedChannel:  params,
		},
	}
	if err := m.db.CreateChannel(ctx, ch); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return m.node.SendMessage(ctx, clientPub, &wire.InitHostedChannel{Params: params})
}

func (m *ChannelMaster) resendInit(ctx context.Context, clientPub []byte, ch *db.Channel) error {
	return m.node.SendMessage(ctx, clientPub, &wire.InitHostedChannel{Params: ch.LCSS.InitHostedChannel})
}

// HandleInit is the client-side entry point for InitHostedChannel: the
// host has offered terms for a new channel. The client builds the
// initial LastCrossSignedState (all balance on its side, zero updates),
// signs it, and proposes it via StateUpdate.
func (m *ChannelMaster) HandleInit(ctx context.Context, hostPub []byte, msg *wire.InitHostedChannel) error {
	host, err := hcrypto.ParsePubKey(hostPub)
	if err != nil {
		return fmt.Errorf("%w: parse host pubkey: %v", ErrProtocol, err)
	}
	chanID := hcrypto.DeriveChannelID(host, m.node.NodePrivateKey().PubKey())

	lcss := wire.LastCrossSignedState{
		IsHost:             false,
		InitHostedChannel:  msg.Params,
		LocalBalanceMsat:   msg.Params.InitialClientBalanceMsat,
		RemoteBalanceMsat:  msg.Params.CapacityMsat - msg.Params.InitialClientBalanceMsat,
	}
	if err := lcss.CheckInvariants(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvariant, err)
	}

	sig := hcrypto.Sign(m.node.NodePrivateKey(), lcss.HostedSigHash())
	lcss.LocalSigOfRemote = sig

	ch := &db.Channel{
		ChanID:     chanID,
		PeerPubKey: append([]byte(nil), hostPub...),
		IsHost:     false,
		Status:     db.StatusOpening,
		LCSS:       lcss,
	}
	if err := m.db.CreateChannel(ctx, ch); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return m.node.SendMessage(ctx, hostPub, &wire.StateUpdate{
		ChanID:        chanID,
		BlockDay:      ch.CurrentBlockDay,
		LocalUpdates:  0,
		RemoteUpdates: 0,
		Sig:           sig,
	})
}

// handleStateUpdate implements both the opening handshake's second half
// (host countersigning the client's initial state, or client
// countersigning the host's reply) and ongoing pending-updates
// reconciliation.
func (c *Channel) handleStateUpdate(ctx context.Context, peerPubKey []byte, msg *wire.StateUpdate) error {
	var (
		echo        *wire.StateUpdate
		resolutions []forwardResolution
		suspendErr  error
	)
	err := c.withChannel(ctx, func(ch *db.Channel) error {
		if ch.Status == db.StatusOpening {
			return c.completeOpening(ctx, ch, peerPubKey, msg)
		}
		if ch.PendingResizeNewCapacitySat != 0 {
			return c.completeResize(ctx, ch, peerPubKey, msg)
		}
		var rerr error
		echo, resolutions, rerr = c.reconcileIncoming(ctx, ch, peerPubKey, msg)
		if rerr != nil && ch.Status == db.StatusSuspended {
			// Persist the suspension; the error is still returned below.
			suspendErr = rerr
			return nil
		}
		return rerr
	})
	if err != nil {
		return err
	}
	if suspendErr != nil {
		return suspendErr
	}

	for _, r := range resolutions {
		if err := c.resolveForward(ctx, r.htlcID, r.settled, r.preimage, r.failCode); err != nil {
			c.m.log.Warn().Err(err).Uint64("htlcID", r.htlcID).Msg("failed to resolve forwarded htlc after commit")
		}
	}

	if echo == nil {
		return nil
	}
	return c.m.node.SendMessage(ctx, peerPubKey, echo)
}

// completeOpening cross-signs the channel's very first LastCrossSignedState.
func (c *Channel) completeOpening(ctx context.Context, ch *db.Channel, peerPubKey []byte, msg *wire.StateUpdate) error {
	peerPub, err := hcrypto.ParsePubKey(peerPubKey)
	if err != nil {
		return fmt.Errorf("%w: parse peer pubkey: %v", ErrProtocol, err)
	}

	candidate := ch.LCSS
	if ch.IsHost {
		// The host's LCSS is created by HandleInvoke with both balances
		// still at their zero value; derive them from the offered terms
		// the same way resize.go and override.go derive a candidate's
		// balances from their own inputs before verifying/signing.
		candidate.RemoteBalanceMsat = candidate.InitHostedChannel.InitialClientBalanceMsat
		candidate.LocalBalanceMsat = candidate.InitHostedChannel.CapacityMsat - candidate.InitHostedChannel.InitialClientBalanceMsat
	}
	candidate.BlockDay = msg.BlockDay
	rev := candidate.Reverse()
	if !hcrypto.Verify(peerPub, rev.HostedSigHash(), msg.Sig) {
		return fmt.Errorf("%w: opening signature", ErrSignature)
	}
	if err := candidate.CheckInvariants(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvariant, err)
	}

	candidate.RemoteSigOfLocal = msg.Sig
	if candidate.LocalSigOfRemote == (wire.Signature{}) {
		candidate.LocalSigOfRemote = hcrypto.Sign(c.m.node.NodePrivateKey(), candidate.HostedSigHash())
	}

	ch.LCSS = candidate
	ch.Status = db.StatusActive

	if ch.IsHost {
		return c.m.node.SendMessage(ctx, peerPubKey, &wire.StateUpdate{
			ChanID:        c.chanID,
			BlockDay:      candidate.BlockDay,
			LocalUpdates:  0,
			RemoteUpdates: 0,
			Sig:           candidate.LocalSigOfRemote,
		})
	}
	return nil
}

// cltvExpiryFailCode tags an UpdateFailHtlc raised by the per-block
// outgoing-HTLC expiry scan, distinct from override's discard code
// (0x2001) and routing's no-path code (0x2002).
const cltvExpiryFailCode = 0x2003

// advanceBlockDay updates a channel's local view of the chain-derived
// blockDay and height, used both to drive the staleness check on
// incoming StateUpdates and the BlockDay a channel proposes in its own.
// It also scans the channel's outgoing HTLCs for anything past its CLTV
// safety margin: such a channel transitions to Suspended and each
// near-expiry HTLC is failed upstream rather than risk a force-close
// race with the peer.
func (c *Channel) advanceBlockDay(ctx context.Context, height, blockDay uint32) error {
	var expired []uint64
	err := c.withChannel(ctx, func(ch *db.Channel) error {
		ch.CurrentBlockHeight = height
		ch.CurrentBlockDay = blockDay

		if ch.Status != db.StatusActive {
			return nil
		}
		safety := height + c.m.cfg.CLTVSafetyDeltaBlocks
		for _, h := range ch.LCSS.OutgoingHtlcs {
			if h.CltvExpiry <= safety {
				expired = append(expired, h.ID)
			}
		}
		if len(expired) > 0 {
			ch.Status = db.StatusSuspended
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range expired {
		if err := c.resolveForward(ctx, id, false, [32]byte{}, cltvExpiryFailCode); err != nil {
			c.m.log.Warn().Err(err).Uint64("htlcID", id).Msg("failed to fail upstream htlc past cltv safety margin")
		}
	}
	return nil
}

func (c *Channel) handlePeerError(ctx context.Context, msg *wire.Error) error {
	return c.withChannel(ctx, func(ch *db.Channel) error {
		ch.Status = db.StatusSuspended
		return nil
	})
}

// blockDayIsStale applies the staleness rule: a received
// StateUpdate whose blockDay differs from the local view by more than
// one is rejected.
func blockDayIsStale(local, received uint32) bool {
	diff := int64(local) - int64(received)
	if diff < 0 {
		diff = -diff
	}
	return diff > 1
}
