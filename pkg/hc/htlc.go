package hc

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/wlns-network/hosted-channels/pkg/hc/db"
	"github.com/wlns-network/hosted-channels/pkg/hc/node"
	"github.com/wlns-network/hosted-channels/pkg/hcrypto"
	"github.com/wlns-network/hosted-channels/pkg/wire"
)

// handleAddHtlc buffers a peer-proposed UpdateAddHtlc. The CLTV safety
// check happens here, before the HTLC is even buffered, so an
// about-to-expire HTLC never enters a candidate state. Once buffered, the
// onion it carries is decrypted to decide whether this node routes it
// onward or leaves it for something else to settle.
func (c *Channel) handleAddHtlc(ctx context.Context, peerPubKey []byte, msg *wire.UpdateAddHtlc) error {
	err := c.withChannelNoCommit(ctx, func(ch *db.Channel) error {
		if ch.Status != db.StatusActive {
			return ErrNotActive
		}
		if msg.CltvExpiry <= ch.CurrentBlockDay*144+c.m.cfg.CLTVSafetyDeltaBlocks {
			return fmt.Errorf("%w: htlc %d expiry too close to chain tip", ErrHtlc, msg.ID)
		}
		ch.UncommittedUpdates = append(ch.UncommittedUpdates, db.UncommittedUpdate{
			Kind: db.UpdateKindAddHtlc,
			Add:  msg,
		})
		return nil
	})
	if err != nil {
		return err
	}

	return c.routeIncomingHtlc(ctx, peerPubKey, msg)
}

// routeIncomingHtlc decrypts the onion layer carried by a freshly
// buffered incoming AddHtlc and either forwards the payment across
// another hosted channel this node manages, or, when the onion names no
// further hop, leaves it buffered for whatever settles payments locally
// (invoice matching) to fulfil or fail. An unreadable onion or an unknown
// next hop fails the incoming HTLC outright.
func (c *Channel) routeIncomingHtlc(ctx context.Context, peerPubKey []byte, msg *wire.UpdateAddHtlc) error {
	hop, ok, err := c.m.node.DecryptOnion(ctx, msg.OnionBlob, msg.PaymentHash)
	if err != nil || !ok {
		return c.m.FailHtlc(ctx, c.chanID, peerPubKey, &wire.UpdateFailHtlc{
			ChanID: c.chanID,
			ID:     msg.ID,
			Reason: []byte("unable to decrypt onion"),
		})
	}
	if hop.NextScid == 0 {
		return nil
	}

	dest, err := c.m.findChannelByScid(ctx, hop.NextScid)
	if err != nil {
		return c.m.FailHtlc(ctx, c.chanID, peerPubKey, &wire.UpdateFailHtlc{
			ChanID: c.chanID,
			ID:     msg.ID,
			Reason: []byte("no route to next hop"),
		})
	}

	incoming := db.HtlcIdentifier{ChanID: c.chanID, HtlcID: msg.ID}
	if err := c.m.forwardHtlc(ctx, incoming, dest, msg.PaymentHash, hop); err != nil {
		return c.m.FailHtlc(ctx, c.chanID, peerPubKey, &wire.UpdateFailHtlc{
			ChanID: c.chanID,
			ID:     msg.ID,
			Reason: []byte("forward failed"),
		})
	}
	return nil
}

// handleFulfillHtlc buffers a peer-sent fulfillment and caches its
// preimage immediately, but defers notifying whatever upstream leg this
// HTLC was forwarded from until the StateUpdate that removes it from the
// LCSS actually commits, via reconcileIncoming's deferred
// forwardResolution.
func (c *Channel) handleFulfillHtlc(ctx context.Context, msg *wire.UpdateFulfillHtlc) error {
	if err := c.withChannelNoCommit(ctx, func(ch *db.Channel) error {
		ch.UncommittedUpdates = append(ch.UncommittedUpdates, db.UncommittedUpdate{
			Kind:    db.UpdateKindFulfillHtlc,
			Fulfill: msg,
		})
		return nil
	}); err != nil {
		return err
	}

	return c.m.db.PutPreimage(ctx, &db.Preimage{
		PaymentHash:   paymentHashFromPreimage(msg.Preimage),
		Preimage:      msg.Preimage,
		DiscoveredVia: "peer",
	})
}

// handleFailHtlc buffers a peer-sent failure; the upstream notification is
// deferred the same way handleFulfillHtlc's is.
func (c *Channel) handleFailHtlc(ctx context.Context, msg *wire.UpdateFailHtlc) error {
	return c.withChannelNoCommit(ctx, func(ch *db.Channel) error {
		ch.UncommittedUpdates = append(ch.UncommittedUpdates, db.UncommittedUpdate{
			Kind: db.UpdateKindFailHtlc,
			Fail: msg,
		})
		return nil
	})
}

// handleFailMalformedHtlc buffers a peer-sent malformed-HTLC failure; the
// upstream notification is deferred the same way handleFulfillHtlc's is.
func (c *Channel) handleFailMalformedHtlc(ctx context.Context, msg *wire.UpdateFailMalformedHtlc) error {
	return c.withChannelNoCommit(ctx, func(ch *db.Channel) error {
		ch.UncommittedUpdates = append(ch.UncommittedUpdates, db.UncommittedUpdate{
			Kind:          db.UpdateKindFailMalformedHtlc,
			FailMalformed: msg,
		})
		return nil
	})
}

// withChannelNoCommit is withChannel without the automatic commit
// attempt that proposeLocal makes — used for remote-originated updates,
// where commit is driven by whichever StateUpdate arrives next.
func (c *Channel) withChannelNoCommit(ctx context.Context, mutate func(ch *db.Channel) error) error {
	return c.withChannel(ctx, mutate)
}

func paymentHashFromPreimage(preimage [32]byte) [32]byte {
	// HTLC payment hashes are SHA256(preimage); callers that only have the
	// preimage (e.g. from an UpdateFulfillHtlc) must hash it before using
	// it as a cache key.
	return sha256.Sum256(preimage[:])
}

// AddHtlc proposes a new outgoing HTLC on this channel, buffering it and
// sending it to the peer, then attempting to commit.
func (m *ChannelMaster) AddHtlc(ctx context.Context, chanID wire.ChannelID, peerPubKey []byte, htlc *wire.UpdateAddHtlc) error {
	c := m.channel(chanID)
	return c.proposeLocal(ctx, peerPubKey, db.UncommittedUpdate{Kind: db.UpdateKindAddHtlc, Add: htlc}, htlc)
}

// FulfillHtlc proposes settling an HTLC with its preimage: normally an
// incoming HTLC this node owes, but also used by the preimage catcher to
// self-settle a stuck outgoing HTLC once it learns the preimage on chain
// instead of from the peer.
func (m *ChannelMaster) FulfillHtlc(ctx context.Context, chanID wire.ChannelID, peerPubKey []byte, msg *wire.UpdateFulfillHtlc) error {
	c := m.channel(chanID)
	return c.proposeLocal(ctx, peerPubKey, db.UncommittedUpdate{Kind: db.UpdateKindFulfillHtlc, Fulfill: msg}, msg)
}

// FailHtlc fails an incoming HTLC with an opaque reason.
func (m *ChannelMaster) FailHtlc(ctx context.Context, chanID wire.ChannelID, peerPubKey []byte, msg *wire.UpdateFailHtlc) error {
	c := m.channel(chanID)
	return c.proposeLocal(ctx, peerPubKey, db.UncommittedUpdate{Kind: db.UpdateKindFailHtlc, Fail: msg}, msg)
}

// resolveForward looks up the forwarding record for an incoming HTLC
// that was routed out over this channel and finishes the other side, then
// removes the forward. The incoming leg is either a genuine hosted
// channel this node also manages (routeIncomingHtlc's hosted-to-hosted
// forwards) or an opaque switch intercept handle (handleInterceptedHtlc's
// forwards); GetChannel distinguishes the two, since an intercept handle
// is vanishingly unlikely to collide with a real derived channel id.
func (c *Channel) resolveForward(ctx context.Context, outgoingHtlcID uint64, settled bool, preimage [32]byte, failCode uint16) error {
	outID := db.HtlcIdentifier{ChanID: c.chanID, HtlcID: outgoingHtlcID}
	fw, err := c.m.db.GetHtlcForward(ctx, outID)
	if err == db.ErrNotFound {
		// This HTLC originated locally (not forwarded from another hosted
		// channel or the switch), nothing further to resolve.
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if incomingCh, gerr := c.m.db.GetChannel(ctx, fw.Incoming.ChanID); gerr == nil {
		if err := c.resolveHostedForward(ctx, incomingCh, fw.Incoming.HtlcID, settled, preimage, failCode); err != nil {
			return err
		}
		return c.m.db.DeleteHtlcForward(ctx, outID)
	}

	if err := c.m.node.ResolveIntercepted(ctx, interceptIDFor(fw.Incoming), node.InterceptResolution{
		Settle:   settled,
		Preimage: preimage,
		FailCode: failCode,
	}); err != nil {
		return fmt.Errorf("%w: resolve intercepted htlc: %v", ErrHtlc, err)
	}

	return c.m.db.DeleteHtlcForward(ctx, outID)
}

// resolveHostedForward finishes the incoming leg of a hosted-to-hosted
// forward by proposing a fulfill or fail directly on that channel, the
// counterpart to ResolveIntercepted for forwards that never touched the
// host node's switch at all.
func (c *Channel) resolveHostedForward(ctx context.Context, incomingCh *db.Channel, htlcID uint64, settled bool, preimage [32]byte, failCode uint16) error {
	if settled {
		return c.m.FulfillHtlc(ctx, incomingCh.ChanID, incomingCh.PeerPubKey, &wire.UpdateFulfillHtlc{
			ChanID:   incomingCh.ChanID,
			ID:       htlcID,
			Preimage: preimage,
		})
	}
	return c.m.FailHtlc(ctx, incomingCh.ChanID, incomingCh.PeerPubKey, &wire.UpdateFailHtlc{
		ChanID: incomingCh.ChanID,
		ID:     htlcID,
		Reason: []byte(fmt.Sprintf("forward failed, code %d", failCode)),
	})
}

// interceptIDFor recovers the switch's opaque intercept handle from a
// forward record. For the incoming leg of a switch-forwarded payment,
// HtlcIdentifier.ChanID carries that handle directly rather than a real
// hosted channel ID, since the incoming side isn't a hosted channel at
// all.
func interceptIDFor(id db.HtlcIdentifier) [32]byte {
	return [32]byte(id.ChanID)
}

// handleInterceptedHtlc is invoked by the host node's switch when it
// wants this plugin to forward a payment across a hosted channel it
// owns the outgoing side of. The incoming leg here isn't a hosted
// channel at all, so its HtlcIdentifier borrows the switch's opaque
// intercept handle as a stand-in ChanID (see interceptIDFor).
func (m *ChannelMaster) handleInterceptedHtlc(ctx context.Context, h *node.InterceptedHtlc) {
	ch, err := m.findChannelForPeer(ctx, h.OutgoingPeer)
	if err != nil {
		_ = m.node.ResolveIntercepted(ctx, h.ID, node.InterceptResolution{FailCode: 0x2002})
		return
	}

	incoming := db.HtlcIdentifier{ChanID: wire.ChannelID(h.ID), HtlcID: 0}
	hop := node.OnionHop{AmountMsat: h.AmountMsat, CltvExpiry: h.CltvExpiry, NextOnion: h.OnionBlob}
	if err := m.forwardHtlc(ctx, incoming, ch, h.PaymentHash, hop); err != nil {
		_ = m.node.ResolveIntercepted(ctx, h.ID, node.InterceptResolution{FailCode: 0x2002})
	}
}

// forwardHtlc persists the incoming→outgoing forwarding map and proposes
// the outgoing AddHtlc, in that order, so a crash between the two leaves
// a recoverable record for Replay.reproposeForward to finish.
func (m *ChannelMaster) forwardHtlc(ctx context.Context, incoming db.HtlcIdentifier, dest *db.Channel, paymentHash [32]byte, hop node.OnionHop) error {
	htlcID, err := m.nextHtlcID(ctx, dest.ChanID)
	if err != nil {
		return err
	}

	add := &wire.UpdateAddHtlc{
		ChanID:      dest.ChanID,
		ID:          htlcID,
		Amount:      hop.AmountMsat,
		PaymentHash: paymentHash,
		CltvExpiry:  hop.CltvExpiry,
		OnionBlob:   hop.NextOnion,
	}

	if err := m.db.PutHtlcForward(ctx, &db.HtlcForward{
		Incoming:    incoming,
		Outgoing:    db.HtlcIdentifier{ChanID: dest.ChanID, HtlcID: htlcID},
		OutgoingAdd: add,
	}); err != nil {
		return err
	}

	return m.AddHtlc(ctx, dest.ChanID, dest.PeerPubKey, add)
}

func (m *ChannelMaster) findChannelForPeer(ctx context.Context, peerPubKey []byte) (*db.Channel, error) {
	channels, err := m.db.GetChannels(ctx, peerPubKey, db.StatusActive)
	if err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		return nil, db.ErrNotFound
	}
	return channels[0], nil
}

// findChannelByScid resolves a short channel id named by an onion hop
// back to one of this node's own active hosted channels. There is no
// persistent scid index: short channel ids are derived deterministically
// from the channel id (hcrypto.DeriveShortChannelID), so a linear scan
// comparing derived ids against every active channel is enough at this
// scale.
func (m *ChannelMaster) findChannelByScid(ctx context.Context, scid wire.ShortChannelID) (*db.Channel, error) {
	channels, err := m.db.GetChannels(ctx, nil, db.StatusActive)
	if err != nil {
		return nil, err
	}
	for _, ch := range channels {
		if hcrypto.DeriveShortChannelID(ch.ChanID) == scid {
			return ch, nil
		}
	}
	return nil, db.ErrNotFound
}

// nextHtlcID picks the next unused HTLC id for a channel: one past the
// highest id among this side's own outgoing HTLCs, committed or still
// buffered as local uncommitted adds. Incoming HTLC ids are not consulted.
func (m *ChannelMaster) nextHtlcID(ctx context.Context, chanID wire.ChannelID) (uint64, error) {
	ch, err := m.db.GetChannel(ctx, chanID)
	if err != nil {
		return 0, err
	}
	var max uint64
	for _, h := range ch.LCSS.OutgoingHtlcs {
		if h.ID >= max {
			max = h.ID + 1
		}
	}
	for _, u := range ch.UncommittedUpdates {
		if u.Kind == db.UpdateKindAddHtlc && u.FromLocal && u.Add.ID >= max {
			max = u.Add.ID + 1
		}
	}
	return max, nil
}
