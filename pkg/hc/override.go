package hc

import (
	"context"
	"fmt"

	"github.com/wlns-network/hosted-channels/pkg/hc/db"
	"github.com/wlns-network/hosted-channels/pkg/hcrypto"
	"github.com/wlns-network/hosted-channels/pkg/wire"
)

// handleStateOverride is the ratifying side of a state override: a
// Suspended channel's counterparty has unilaterally proposed a fresh,
// HTLC-free LastCrossSignedState. The receiver rebuilds its own view of
// that state, verifies the proposer's signature, discards every in-flight
// HTLC and fails the ones it had forwarded upstream, then cross-signs.
func (c *Channel) handleStateOverride(ctx context.Context, peerPubKey []byte, msg *wire.StateOverride) error {
	var (
		toFail []uint64
		toSend *wire.StateUpdate
	)

	err := c.withChannel(ctx, func(ch *db.Channel) error {
		if ch.Status != db.StatusSuspended {
			return ErrNotSuspended
		}

		capacity := ch.LCSS.InitHostedChannel.CapacityMsat
		candidate := ch.LCSS
		candidate.BlockDay = msg.BlockDay
		candidate.RemoteBalanceMsat = msg.LocalBalanceMsat
		candidate.LocalBalanceMsat = capacity - msg.LocalBalanceMsat
		candidate.LocalUpdates = msg.RemoteUpdates
		candidate.RemoteUpdates = msg.LocalUpdates
		candidate.IncomingHtlcs = nil
		candidate.OutgoingHtlcs = nil

		peerPub, err := hcrypto.ParsePubKey(peerPubKey)
		if err != nil {
			return fmt.Errorf("%w: parse peer pubkey: %v", ErrProtocol, err)
		}
		if !hcrypto.Verify(peerPub, candidate.Reverse().HostedSigHash(), msg.Sig) {
			return fmt.Errorf("%w: override", ErrSignature)
		}
		if err := candidate.CheckInvariants(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvariant, err)
		}

		candidate.RemoteSigOfLocal = msg.Sig
		candidate.LocalSigOfRemote = hcrypto.Sign(c.m.node.NodePrivateKey(), candidate.HostedSigHash())

		for _, h := range ch.LCSS.OutgoingHtlcs {
			toFail = append(toFail, h.ID)
		}

		ch.LCSS = candidate
		ch.UncommittedUpdates = nil
		ch.ReconcileRetries = 0
		ch.Status = db.StatusActive

		toSend = &wire.StateUpdate{
			ChanID:        c.chanID,
			BlockDay:      candidate.BlockDay,
			LocalUpdates:  candidate.LocalUpdates,
			RemoteUpdates: candidate.RemoteUpdates,
			Sig:           candidate.LocalSigOfRemote,
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range toFail {
		if err := c.resolveForward(ctx, id, false, [32]byte{}, 0x2001); err != nil {
			c.m.log.Warn().Err(err).Uint64("htlcID", id).Msg("failed to fail upstream htlc discarded by override")
		}
	}

	return c.m.node.SendMessage(ctx, peerPubKey, toSend)
}

// InitiateOverride forces a Suspended channel back to a clean,
// HTLC-free state with newLocalBalanceMsat as the host's balance.
func (m *ChannelMaster) InitiateOverride(ctx context.Context, chanID wire.ChannelID, peerPubKey []byte, newLocalBalanceMsat wire.MilliSatoshi) error {
	var (
		toFail []uint64
		toSend *wire.StateOverride
	)

	c := m.channel(chanID)
	err := c.withChannel(ctx, func(ch *db.Channel) error {
		if ch.Status != db.StatusSuspended {
			return ErrNotSuspended
		}
		if !ch.IsHost {
			return fmt.Errorf("%w: only the host may initiate an override", ErrProtocol)
		}

		capacity := ch.LCSS.InitHostedChannel.CapacityMsat
		if newLocalBalanceMsat > capacity {
			return fmt.Errorf("%w: new balance %d msat exceeds capacity %d msat",
				ErrInvariant, newLocalBalanceMsat, capacity)
		}

		candidate := ch.LCSS
		candidate.BlockDay = ch.CurrentBlockDay
		candidate.LocalBalanceMsat = newLocalBalanceMsat
		candidate.RemoteBalanceMsat = capacity - newLocalBalanceMsat
		candidate.LocalUpdates++
		candidate.IncomingHtlcs = nil
		candidate.OutgoingHtlcs = nil
		if err := candidate.CheckInvariants(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvariant, err)
		}

		sig := hcrypto.Sign(m.node.NodePrivateKey(), candidate.HostedSigHash())
		candidate.LocalSigOfRemote = sig

		toSend = &wire.StateOverride{
			ChanID:           chanID,
			BlockDay:         candidate.BlockDay,
			LocalBalanceMsat: candidate.LocalBalanceMsat,
			LocalUpdates:     candidate.LocalUpdates,
			RemoteUpdates:    candidate.RemoteUpdates,
			Sig:              sig,
		}

		for _, h := range ch.LCSS.OutgoingHtlcs {
			toFail = append(toFail, h.ID)
		}

		ch.LCSS = candidate
		ch.UncommittedUpdates = nil
		ch.ReconcileRetries = 0
		ch.Status = db.StatusOverriding
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range toFail {
		if err := c.resolveForward(ctx, id, false, [32]byte{}, 0x2001); err != nil {
			m.log.Warn().Err(err).Uint64("htlcID", id).Msg("failed to fail upstream htlc discarded by override")
		}
	}

	return m.node.SendMessage(ctx, peerPubKey, toSend)
}
