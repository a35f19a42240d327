// Package hc implements the hosted-channels plugin: the channel state
// machine, pending-updates reconciliation, HTLC forwarding, resize and
// override handling, and the blockchain preimage catcher, orchestrated by
// ChannelMaster the way tonpayments.Service orchestrates TON payment
// channels.
package hc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wlns-network/hosted-channels/pkg/hc/config"
	"github.com/wlns-network/hosted-channels/pkg/hc/db"
	"github.com/wlns-network/hosted-channels/pkg/hc/metrics"
	"github.com/wlns-network/hosted-channels/pkg/hc/node"
	"github.com/wlns-network/hosted-channels/pkg/wire"
)

// ChannelMaster is the top-level object of a hosted-channels node: it
// owns every channel's persisted state, dispatches incoming wire
// messages to the right channel, forwards HTLCs across channels it
// manages, and fans the chain tip out to every channel once a minute so
// each can advance its local blockDay.
type ChannelMaster struct {
	db   *db.DB
	node node.Interface
	cfg  *config.Config
	log  zerolog.Logger

	catcher *PreimageCatcher

	chanMx sync.Mutex
	locks  map[wire.ChannelID]*sync.Mutex

	stopFanOut context.CancelFunc
}

func NewChannelMaster(store *db.DB, n node.Interface, cfg *config.Config, logger zerolog.Logger) *ChannelMaster {
	m := &ChannelMaster{
		db:    store,
		node:  n,
		cfg:   cfg,
		log:   logger.With().Str("component", "channel-master").Logger(),
		locks: map[wire.ChannelID]*sync.Mutex{},
	}
	m.catcher = NewPreimageCatcher(m, store, n, cfg.PreimageCatcherWorkers, m.log)
	return m
}

// Start registers this master as the receiver for peer wire traffic and
// host-switch HTLC interception, replays persisted state left over from
// before a restart, launches the preimage catcher, and begins fanning
// out the chain tip once every ChainTipPollIntervalSec.
func (m *ChannelMaster) Start(ctx context.Context) error {
	m.node.OnPeerMessage(m.HandlePeerMessage)
	m.node.InterceptHtlc(m.handleInterceptedHtlc)

	if err := m.Replay(ctx); err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	m.catcher.Start(ctx)

	fanOutCtx, cancel := context.WithCancel(ctx)
	m.stopFanOut = cancel
	go m.fanOutChainTip(fanOutCtx)

	return nil
}

func (m *ChannelMaster) Stop() {
	if m.stopFanOut != nil {
		m.stopFanOut()
	}
	m.catcher.Stop()
}

func (m *ChannelMaster) lockFor(id wire.ChannelID) *sync.Mutex {
	m.chanMx.Lock()
	defer m.chanMx.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// Replay reloads every channel, whatever its status, and its pending HTLC forwards
// from the database, so in-flight reconciliation and forwarding survive
// a restart.
func (m *ChannelMaster) Replay(ctx context.Context) error {
	channels, err := m.db.GetChannels(ctx, nil, db.StatusAny)
	if err != nil {
		return fmt.Errorf("list channels on replay: %w", err)
	}

	byChanID := make(map[wire.ChannelID]*db.Channel, len(channels))
	for _, ch := range channels {
		byChanID[ch.ChanID] = ch
		m.observe(ch)
		m.log.Info().
			Str("chanID", fmt.Sprintf("%x", ch.ChanID)).
			Str("status", ch.Status.String()).
			Msg("replayed channel")
	}

	forwards, err := m.db.ListHtlcForwards(ctx)
	if err != nil {
		return fmt.Errorf("list forwards on replay: %w", err)
	}
	m.log.Info().Int("count", len(forwards)).Msg("replayed pending htlc forwards")

	for _, fw := range forwards {
		m.reproposeForward(ctx, fw, byChanID)
	}

	return nil
}

// reproposeForward re-sends the outgoing leg of a persisted HTLC forward
// if it never made it into the target channel's LCSS or uncommitted
// updates, recovering from a crash between PutHtlcForward and the
// subsequent AddHtlc call in handleInterceptedHtlc.
func (m *ChannelMaster) reproposeForward(ctx context.Context, fw *db.HtlcForward, byChanID map[wire.ChannelID]*db.Channel) {
	if fw.OutgoingAdd == nil {
		// Forward records written before this field existed; nothing to
		// re-propose from, the commit either already landed or is lost.
		return
	}

	ch, ok := byChanID[fw.Outgoing.ChanID]
	if !ok {
		m.log.Warn().Str("chanID", fmt.Sprintf("%x", fw.Outgoing.ChanID)).Msg("htlc forward points at an unknown channel")
		return
	}

	if forwardAlreadyProposed(ch, fw.Outgoing.HtlcID) {
		return
	}

	m.log.Info().
		Str("chanID", fmt.Sprintf("%x", fw.Outgoing.ChanID)).
		Uint64("htlcID", fw.Outgoing.HtlcID).
		Msg("re-proposing outgoing htlc lost between forward record and commit")

	if err := m.AddHtlc(ctx, fw.Outgoing.ChanID, ch.PeerPubKey, fw.OutgoingAdd); err != nil {
		m.log.Warn().Err(err).
			Str("chanID", fmt.Sprintf("%x", fw.Outgoing.ChanID)).
			Uint64("htlcID", fw.Outgoing.HtlcID).
			Msg("failed to re-propose forwarded htlc on replay")
	}
}

// forwardAlreadyProposed reports whether htlcID is already reflected in
// ch's committed LCSS or its buffered uncommitted updates, so replay
// never double-proposes an outgoing leg that already made it through.
func forwardAlreadyProposed(ch *db.Channel, htlcID uint64) bool {
	for _, h := range ch.LCSS.OutgoingHtlcs {
		if h.ID == htlcID {
			return true
		}
	}
	for _, u := range ch.UncommittedUpdates {
		if u.FromLocal && u.Kind == db.UpdateKindAddHtlc && u.Add.ID == htlcID {
			return true
		}
	}
	return false
}

// fanOutChainTip advances every channel's view of the current blockDay
// once per ChainTipPollIntervalSec, the mechanism by which
// LastCrossSignedState.BlockDay tracks the chain without each channel
// polling the node independently.
func (m *ChannelMaster) fanOutChainTip(ctx context.Context) {
	interval := time.Duration(m.cfg.ChainTipPollIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.advanceBlockDay(ctx)
		}
	}
}

func (m *ChannelMaster) advanceBlockDay(ctx context.Context) {
	block, err := m.node.CurrentBlock(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to fetch current block for chain-tip fan-out")
		return
	}
	blockDay := blockDayFromHeight(block.Height)

	channels, err := m.db.GetChannels(ctx, nil, db.StatusAny)
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to list channels for chain-tip fan-out")
		return
	}

	for _, ch := range channels {
		if ch.Status == db.StatusOffline {
			continue
		}
		c := m.channel(ch.ChanID)
		if err := c.advanceBlockDay(ctx, block.Height, blockDay); err != nil {
			m.log.Warn().Err(err).Str("chanID", fmt.Sprintf("%x", ch.ChanID)).Msg("advance blockday failed")
		}
	}
}

// blockDayFromHeight buckets a chain height into a coarser "day" counter
// shared across both cross-signers, matching the LastCrossSignedState
// field of the same name. One blockDay is 144 blocks: roughly a day on
// Bitcoin, far coarser than the CLTV safety margins it's compared
// against.
func blockDayFromHeight(height uint32) uint32 {
	return height / 144
}

// channel returns a bound handle for operating on chanID, loading and
// persisting through m.db and serializing concurrent access through
// m.lockFor.
func (m *ChannelMaster) channel(chanID wire.ChannelID) *Channel {
	return &Channel{m: m, chanID: chanID}
}

// evictPreimageIfUnused deletes a cached preimage once hash no longer
// appears in any channel's in-flight HTLC set, the same all-channels
// scan pendingPaymentHashes uses to find what the preimage catcher
// should still watch for.
func (m *ChannelMaster) evictPreimageIfUnused(ctx context.Context, hash [32]byte) {
	channels, err := m.db.GetChannels(ctx, nil, db.StatusAny)
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to list channels for preimage eviction check")
		return
	}
	for _, ch := range channels {
		for _, h := range ch.LCSS.IncomingHtlcs {
			if h.PaymentHash == hash {
				return
			}
		}
		for _, h := range ch.LCSS.OutgoingHtlcs {
			if h.PaymentHash == hash {
				return
			}
		}
	}
	if err := m.db.DeletePreimage(ctx, hash); err != nil {
		m.log.Warn().Err(err).Msg("failed to evict unused preimage")
	}
}

// observe updates the metrics gauges for one channel's current state.
func (m *ChannelMaster) observe(ch *db.Channel) {
	peer := fmt.Sprintf("%x", ch.PeerPubKey)
	isHost := "false"
	if ch.IsHost {
		isHost = "true"
	}
	metrics.ChannelBalance.WithLabelValues(peer, isHost).Set(float64(ch.LCSS.LocalBalanceMsat))
	metrics.InFlightHtlcs.WithLabelValues(peer, "incoming").Set(float64(len(ch.LCSS.IncomingHtlcs)))
	metrics.InFlightHtlcs.WithLabelValues(peer, "outgoing").Set(float64(len(ch.LCSS.OutgoingHtlcs)))
	metrics.UncommittedUpdates.WithLabelValues(peer).Set(float64(len(ch.UncommittedUpdates)))
	for _, s := range []db.ChannelStatus{db.StatusOffline, db.StatusOpening, db.StatusActive, db.StatusSuspended, db.StatusOverriding} {
		v := 0.0
		if ch.Status == s {
			v = 1.0
		}
		metrics.ChannelStatus.WithLabelValues(peer, s.String()).Set(v)
	}
}

// HandlePeerMessage dispatches one decoded wire message from peerPubKey,
// the entry point registered with the host node via
// node.Interface.OnPeerMessage. The two opening messages have no channel
// id to key off yet (InvokeHostedChannel predates the channel existing at
// all), so they go to their own entry points; everything else is routed
// to the channel it names.
func (m *ChannelMaster) HandlePeerMessage(ctx context.Context, peerPubKey []byte, msg wire.Message) {
	switch im := msg.(type) {
	case *wire.InvokeHostedChannel:
		if err := m.HandleInvoke(ctx, peerPubKey, im); err != nil {
			m.log.Warn().Err(err).Msg("failed to handle invoke")
		}
		return
	case *wire.InitHostedChannel:
		if err := m.HandleInit(ctx, peerPubKey, im); err != nil {
			m.log.Warn().Err(err).Msg("failed to handle init")
		}
		return
	}

	chanID, ok := channelIDOf(msg)
	if !ok {
		m.log.Warn().Uint16("tag", msg.Tag()).Msg("dropping message with no channel id")
		return
	}

	c := m.channel(chanID)
	if err := c.handle(ctx, peerPubKey, msg); err != nil {
		m.log.Warn().Err(err).Str("chanID", fmt.Sprintf("%x", chanID)).Uint16("tag", msg.Tag()).Msg("failed to handle peer message")
	}
}

func channelIDOf(msg wire.Message) (wire.ChannelID, bool) {
	switch m := msg.(type) {
	case *wire.UpdateAddHtlc:
		return m.ChanID, true
	case *wire.UpdateFulfillHtlc:
		return m.ChanID, true
	case *wire.UpdateFailHtlc:
		return m.ChanID, true
	case *wire.UpdateFailMalformedHtlc:
		return m.ChanID, true
	case *wire.StateUpdate:
		return m.ChanID, true
	case *wire.StateOverride:
		return m.ChanID, true
	case *wire.ResizeChannel:
		return m.ChanID, true
	case *wire.AskBrandingInfo:
		return m.ChanID, true
	case *wire.HostedChannelBranding:
		return m.ChanID, true
	case *wire.Error:
		return m.ChanID, true
	default:
		return wire.ChannelID{}, false
	}
}
