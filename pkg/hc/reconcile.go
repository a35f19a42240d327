package hc

import (
	"context"
	"fmt"

	"github.com/wlns-network/hosted-channels/pkg/hc/db"
	"github.com/wlns-network/hosted-channels/pkg/hc/metrics"
	"github.com/wlns-network/hosted-channels/pkg/hcrypto"
	"github.com/wlns-network/hosted-channels/pkg/wire"
)

// applyUncommitted folds a channel's buffered updates onto its last
// committed LastCrossSignedState in proposal order, producing the
// candidate both sides converge on before cross-signing it.
func applyUncommitted(base wire.LastCrossSignedState, updates []db.UncommittedUpdate) (wire.LastCrossSignedState, error) {
	candidate := base
	candidate.IncomingHtlcs = append([]*wire.UpdateAddHtlc(nil), base.IncomingHtlcs...)
	candidate.OutgoingHtlcs = append([]*wire.UpdateAddHtlc(nil), base.OutgoingHtlcs...)

	var localDelta, remoteDelta uint32
	for _, u := range updates {
		switch u.Kind {
		case db.UpdateKindAddHtlc:
			if u.FromLocal {
				candidate.OutgoingHtlcs = append(candidate.OutgoingHtlcs, u.Add)
			} else {
				candidate.IncomingHtlcs = append(candidate.IncomingHtlcs, u.Add)
			}
		case db.UpdateKindFulfillHtlc:
			if err := resolveHtlc(&candidate, u.Fulfill.ID, true); err != nil {
				return candidate, err
			}
		case db.UpdateKindFailHtlc:
			if err := resolveHtlc(&candidate, u.Fail.ID, false); err != nil {
				return candidate, err
			}
		case db.UpdateKindFailMalformedHtlc:
			if err := resolveHtlc(&candidate, u.FailMalformed.ID, false); err != nil {
				return candidate, err
			}
		default:
			return candidate, fmt.Errorf("%w: unknown update kind %d", ErrProtocol, u.Kind)
		}

		if u.FromLocal {
			localDelta++
		} else {
			remoteDelta++
		}
	}

	candidate.LocalUpdates = base.LocalUpdates + localDelta
	candidate.RemoteUpdates = base.RemoteUpdates + remoteDelta
	return candidate, nil
}

// resolveHtlc removes the HTLC identified by id from whichever list holds
// it and, on fulfillment, moves its value to the side that received the
// payment. A fulfilled outgoing HTLC (one we added) pays the local
// balance out to the remote side; a fulfilled incoming HTLC pays the
// remote balance in to us.
func resolveHtlc(candidate *wire.LastCrossSignedState, id uint64, fulfilled bool) error {
	for i, h := range candidate.OutgoingHtlcs {
		if h.ID == id {
			if fulfilled {
				candidate.LocalBalanceMsat -= h.Amount
				candidate.RemoteBalanceMsat += h.Amount
			}
			candidate.OutgoingHtlcs = append(candidate.OutgoingHtlcs[:i], candidate.OutgoingHtlcs[i+1:]...)
			return nil
		}
	}
	for i, h := range candidate.IncomingHtlcs {
		if h.ID == id {
			if fulfilled {
				candidate.RemoteBalanceMsat -= h.Amount
				candidate.LocalBalanceMsat += h.Amount
			}
			candidate.IncomingHtlcs = append(candidate.IncomingHtlcs[:i], candidate.IncomingHtlcs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: htlc %d not found in either list", ErrHtlc, id)
}

// proposeLocal buffers a locally originated update, sends its wire
// message to the peer, and immediately attempts to commit the resulting
// candidate.
func (c *Channel) proposeLocal(ctx context.Context, peerPubKey []byte, update db.UncommittedUpdate, wireMsg wire.Message) error {
	update.FromLocal = true

	err := c.withChannel(ctx, func(ch *db.Channel) error {
		if ch.Status != db.StatusActive {
			return ErrNotActive
		}
		ch.UncommittedUpdates = append(ch.UncommittedUpdates, update)
		return nil
	})
	if err != nil {
		return err
	}

	if err := c.m.node.SendMessage(ctx, peerPubKey, wireMsg); err != nil {
		return fmt.Errorf("%w: send update: %v", ErrProtocol, err)
	}

	return c.proposeCommit(ctx, peerPubKey)
}

// proposeCommit builds this channel's candidate LastCrossSignedState from
// its buffered updates and sends a StateUpdate proposing it.
func (c *Channel) proposeCommit(ctx context.Context, peerPubKey []byte) error {
	var toSend *wire.StateUpdate

	err := c.withChannel(ctx, func(ch *db.Channel) error {
		if len(ch.UncommittedUpdates) == 0 {
			return nil
		}
		candidate, err := applyUncommitted(ch.LCSS, ch.UncommittedUpdates)
		if err != nil {
			return err
		}
		candidate.BlockDay = ch.CurrentBlockDay
		if err := candidate.CheckInvariants(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvariant, err)
		}

		sig := hcrypto.Sign(c.m.node.NodePrivateKey(), candidate.HostedSigHash())
		toSend = &wire.StateUpdate{
			ChanID:        c.chanID,
			BlockDay:      candidate.BlockDay,
			LocalUpdates:  candidate.LocalUpdates,
			RemoteUpdates: candidate.RemoteUpdates,
			Sig:           sig,
		}
		ch.AwaitingAck = true
		return nil
	})
	if err != nil || toSend == nil {
		return err
	}

	return c.m.node.SendMessage(ctx, peerPubKey, toSend)
}

// forwardResolution is a post-commit side effect deferred out of
// reconcileIncoming: a remote-originated Fulfill/Fail/FailMalformed only
// resolves the upstream leg it was forwarded from once the StateUpdate
// that removes it from the LCSS actually commits.
type forwardResolution struct {
	htlcID   uint64
	settled  bool
	preimage [32]byte
	failCode uint16
}

// forwardResolutionsFor scans a channel's about-to-be-cleared uncommitted
// updates for remote-originated HTLC resolutions and returns the
// resolveForward calls they require once the commit they're part of
// actually lands.
func forwardResolutionsFor(updates []db.UncommittedUpdate) []forwardResolution {
	var out []forwardResolution
	for _, u := range updates {
		if u.FromLocal {
			continue
		}
		switch u.Kind {
		case db.UpdateKindFulfillHtlc:
			out = append(out, forwardResolution{htlcID: u.Fulfill.ID, settled: true, preimage: u.Fulfill.Preimage})
		case db.UpdateKindFailHtlc:
			out = append(out, forwardResolution{htlcID: u.Fail.ID})
		case db.UpdateKindFailMalformedHtlc:
			out = append(out, forwardResolution{htlcID: u.FailMalformed.ID, failCode: u.FailMalformed.FailureCode})
		}
	}
	return out
}

// reconcileIncoming handles a peer's StateUpdate against an Active
// channel: it rebuilds the same candidate from its own buffered updates
// and checks blockDay freshness, counter equality, and the peer's
// signature before committing.
//
// A commit that merely acks a proposal this side sent (AwaitingAck) settles
// silently. A commit triggered by an unsolicited proposal from the peer
// echoes this side's own countersigned view back, so the peer's matching
// buffered updates converge too without both sides needing to propose.
func (c *Channel) reconcileIncoming(ctx context.Context, ch *db.Channel, peerPubKey []byte, msg *wire.StateUpdate) (*wire.StateUpdate, []forwardResolution, error) {
	if blockDayIsStale(ch.CurrentBlockDay, msg.BlockDay) {
		_ = c.m.node.SendMessage(ctx, peerPubKey, &wire.Error{ChanID: c.chanID, Data: "blockday too stale"})
		ch.Status = db.StatusSuspended
		return nil, nil, fmt.Errorf("%w", ErrStaleBlockDay)
	}

	candidate, err := applyUncommitted(ch.LCSS, ch.UncommittedUpdates)
	if err != nil {
		return nil, nil, err
	}
	candidate.BlockDay = msg.BlockDay

	if candidate.LocalUpdates != msg.RemoteUpdates || candidate.RemoteUpdates != msg.LocalUpdates {
		echo, err := c.handleCounterMismatch(ctx, ch, peerPubKey)
		return echo, nil, err
	}

	peerPub, err := hcrypto.ParsePubKey(peerPubKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: parse peer pubkey: %v", ErrProtocol, err)
	}
	if !hcrypto.Verify(peerPub, candidate.Reverse().HostedSigHash(), msg.Sig) {
		metrics.ReconcileRetries.WithLabelValues(fmt.Sprintf("%x", ch.PeerPubKey), "bad-signature").Inc()
		return nil, nil, fmt.Errorf("%w: state update", ErrSignature)
	}
	if err := candidate.CheckInvariants(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvariant, err)
	}

	candidate.RemoteSigOfLocal = msg.Sig
	candidate.LocalSigOfRemote = hcrypto.Sign(c.m.node.NodePrivateKey(), candidate.HostedSigHash())

	resolutions := forwardResolutionsFor(ch.UncommittedUpdates)

	ch.LCSS = candidate
	ch.UncommittedUpdates = nil
	ch.ReconcileRetries = 0
	if ch.Status == db.StatusOverriding {
		ch.Status = db.StatusActive
	}
	metrics.ReconcileRetries.WithLabelValues(fmt.Sprintf("%x", ch.PeerPubKey), "committed").Inc()

	wasAwaiting := ch.AwaitingAck
	ch.AwaitingAck = false
	if wasAwaiting {
		return nil, resolutions, nil
	}

	return &wire.StateUpdate{
		ChanID:        c.chanID,
		BlockDay:      candidate.BlockDay,
		LocalUpdates:  candidate.LocalUpdates,
		RemoteUpdates: candidate.RemoteUpdates,
		Sig:           candidate.LocalSigOfRemote,
	}, resolutions, nil
}

// handleCounterMismatch handles the case where, on a counter
// mismatch, the side with its own pending updates re-sends its outstanding
// updates and a fresh StateUpdate proposal, bounded by
// config.ReconciliationRetryBound retries before the channel suspends.
// It never commits, so it never has forward resolutions of its own to
// report.
func (c *Channel) handleCounterMismatch(ctx context.Context, ch *db.Channel, peerPubKey []byte) (*wire.StateUpdate, error) {
	ch.ReconcileRetries++
	metrics.ReconcileRetries.WithLabelValues(fmt.Sprintf("%x", ch.PeerPubKey), "mismatch").Inc()

	if ch.ReconcileRetries > c.m.cfg.ReconciliationRetryBound {
		ch.Status = db.StatusSuspended
		return nil, fmt.Errorf("%w: exceeded retry bound", ErrCounterMismatch)
	}

	for _, u := range ch.UncommittedUpdates {
		if !u.FromLocal {
			continue
		}
		if msg := uncommittedWireMessage(u); msg != nil {
			if err := c.m.node.SendMessage(ctx, peerPubKey, msg); err != nil {
				return nil, fmt.Errorf("%w: resend update: %v", ErrProtocol, err)
			}
		}
	}

	if len(ch.UncommittedUpdates) == 0 {
		return nil, nil
	}

	candidate, err := applyUncommitted(ch.LCSS, ch.UncommittedUpdates)
	if err != nil {
		return nil, err
	}
	candidate.BlockDay = ch.CurrentBlockDay
	if err := candidate.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvariant, err)
	}

	sig := hcrypto.Sign(c.m.node.NodePrivateKey(), candidate.HostedSigHash())
	ch.AwaitingAck = true
	return &wire.StateUpdate{
		ChanID:        c.chanID,
		BlockDay:      candidate.BlockDay,
		LocalUpdates:  candidate.LocalUpdates,
		RemoteUpdates: candidate.RemoteUpdates,
		Sig:           sig,
	}, nil
}

func uncommittedWireMessage(u db.UncommittedUpdate) wire.Message {
	switch u.Kind {
	case db.UpdateKindAddHtlc:
		return u.Add
	case db.UpdateKindFulfillHtlc:
		return u.Fulfill
	case db.UpdateKindFailHtlc:
		return u.Fail
	case db.UpdateKindFailMalformedHtlc:
		return u.FailMalformed
	default:
		return nil
	}
}
