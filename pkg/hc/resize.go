package hc

import (
	"context"
	"fmt"

	"github.com/wlns-network/hosted-channels/pkg/hc/db"
	"github.com/wlns-network/hosted-channels/pkg/hcrypto"
	"github.com/wlns-network/hosted-channels/pkg/wire"
)

// handleResizeChannel handles a client-proposed capacity increase: the
// client signs only the new capacity value, and the host folds the
// extra liquidity into its own balance on acceptance.
func (c *Channel) handleResizeChannel(ctx context.Context, peerPubKey []byte, msg *wire.ResizeChannel) error {
	return c.withChannel(ctx, func(ch *db.Channel) error {
		if ch.Status != db.StatusActive {
			return ErrNotActive
		}

		newCapacityMsat := wire.MilliSatoshi(msg.NewCapacitySat * 1000)
		if newCapacityMsat <= ch.LCSS.InitHostedChannel.CapacityMsat {
			return fmt.Errorf("%w: new capacity %d msat <= current %d msat",
				ErrShrinkNotAllowed, newCapacityMsat, ch.LCSS.InitHostedChannel.CapacityMsat)
		}

		peerPub, err := hcrypto.ParsePubKey(peerPubKey)
		if err != nil {
			return fmt.Errorf("%w: parse peer pubkey: %v", ErrProtocol, err)
		}
		if !hcrypto.Verify(peerPub, msg.SigHash(), msg.ClientSig) {
			return fmt.Errorf("%w: resize", ErrSignature)
		}

		added := newCapacityMsat - ch.LCSS.InitHostedChannel.CapacityMsat
		candidate := ch.LCSS
		candidate.InitHostedChannel.CapacityMsat = newCapacityMsat
		// The grown liquidity is new capacity the client is adding on the
		// host's side of the channel: it credits whichever party is not
		// the one proposing the resize. Resize is only ever
		// client-initiated, so the extra capacity lands on the host's
		// local balance. LocalUpdates/RemoteUpdates are left untouched —
		// they track the ordinary HTLC update queue, not resizes, and a
		// resize must leave both sides' counters matching so the next
		// ordinary reconciliation round still agrees on its starting point.
		if ch.IsHost {
			candidate.LocalBalanceMsat += added
		} else {
			candidate.RemoteBalanceMsat += added
		}
		if err := candidate.CheckInvariants(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvariant, err)
		}

		candidate.LocalSigOfRemote = hcrypto.Sign(c.m.node.NodePrivateKey(), candidate.HostedSigHash())
		ch.LCSS = candidate

		return c.m.node.SendMessage(ctx, peerPubKey, &wire.StateUpdate{
			ChanID:        c.chanID,
			BlockDay:      candidate.BlockDay,
			LocalUpdates:  candidate.LocalUpdates,
			RemoteUpdates: candidate.RemoteUpdates,
			Sig:           candidate.LocalSigOfRemote,
		})
	})
}

// ResizeChannel is the client-side entry point for proposing a capacity
// increase.
func (m *ChannelMaster) ResizeChannel(ctx context.Context, chanID wire.ChannelID, peerPubKey []byte, newCapacitySat uint64) error {
	c := m.channel(chanID)
	return c.proposeResize(ctx, peerPubKey, newCapacitySat)
}

// proposeResize signs and sends a ResizeChannel proposal, recording the
// pending capacity so the host's countersigned reply can be recognized
// and folded in by completeResize.
func (c *Channel) proposeResize(ctx context.Context, peerPubKey []byte, newCapacitySat uint64) error {
	var toSend *wire.ResizeChannel

	err := c.withChannel(ctx, func(ch *db.Channel) error {
		if ch.IsHost {
			return fmt.Errorf("%w: only a client may propose a resize", ErrProtocol)
		}
		if ch.Status != db.StatusActive {
			return ErrNotActive
		}
		newCapacityMsat := wire.MilliSatoshi(newCapacitySat * 1000)
		if newCapacityMsat <= ch.LCSS.InitHostedChannel.CapacityMsat {
			return fmt.Errorf("%w: new capacity %d msat <= current %d msat",
				ErrShrinkNotAllowed, newCapacityMsat, ch.LCSS.InitHostedChannel.CapacityMsat)
		}

		toSend = &wire.ResizeChannel{ChanID: ch.ChanID, NewCapacitySat: newCapacitySat}
		toSend.ClientSig = hcrypto.Sign(c.m.node.NodePrivateKey(), toSend.SigHash())
		ch.PendingResizeNewCapacitySat = newCapacitySat
		return nil
	})
	if err != nil {
		return err
	}

	return c.m.node.SendMessage(ctx, peerPubKey, toSend)
}

// completeResize handles the host's countersigned StateUpdate reply to a
// resize proposal, folding the same capacity/balance change the host
// applied into this side's own LCSS before accepting its signature.
func (c *Channel) completeResize(ctx context.Context, ch *db.Channel, peerPubKey []byte, msg *wire.StateUpdate) error {
	newCapacityMsat := wire.MilliSatoshi(ch.PendingResizeNewCapacitySat * 1000)
	added := newCapacityMsat - ch.LCSS.InitHostedChannel.CapacityMsat

	candidate := ch.LCSS
	candidate.InitHostedChannel.CapacityMsat = newCapacityMsat
	candidate.BlockDay = msg.BlockDay
	if ch.IsHost {
		candidate.LocalBalanceMsat += added
	} else {
		candidate.RemoteBalanceMsat += added
	}

	peerPub, err := hcrypto.ParsePubKey(peerPubKey)
	if err != nil {
		return fmt.Errorf("%w: parse peer pubkey: %v", ErrProtocol, err)
	}
	if !hcrypto.Verify(peerPub, candidate.Reverse().HostedSigHash(), msg.Sig) {
		return fmt.Errorf("%w: resize ack", ErrSignature)
	}
	if err := candidate.CheckInvariants(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvariant, err)
	}

	candidate.RemoteSigOfLocal = msg.Sig
	candidate.LocalSigOfRemote = hcrypto.Sign(c.m.node.NodePrivateKey(), candidate.HostedSigHash())

	ch.LCSS = candidate
	ch.PendingResizeNewCapacitySat = 0
	return nil
}
