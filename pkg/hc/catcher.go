package hc

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wlns-network/hosted-channels/pkg/hc/db"
	"github.com/wlns-network/hosted-channels/pkg/hc/metrics"
	"github.com/wlns-network/hosted-channels/pkg/hc/node"
	"github.com/wlns-network/hosted-channels/pkg/wire"
)

// PreimageCatcher watches the chain for HTLC preimages revealed on-chain
// (a counterparty claiming a matching contract elsewhere, a cooperative
// close, anything that puts a payment's preimage into a transaction
// witness) and caches anything that matches a payment hash this node is
// still holding an HTLC open for. When the match is one of this node's
// own stuck outgoing HTLCs, it also dispatches a synthetic
// UpdateFulfillHtlc through that HTLC's channel to settle it, rather
// than waiting indefinitely for the peer's own fulfillment. It is
// grounded on the same task-channel-plus-worker-pool shape as a chain
// scanner that fetches many accounts per block concurrently: here the
// unit of work is one candidate preimage instead of one account.
type PreimageCatcher struct {
	store  *db.DB
	node   node.Interface
	master *ChannelMaster
	log    zerolog.Logger

	workers int
	tasks   chan scanTask

	cancel context.CancelFunc
	wg     sync.WaitGroup

	lastScanned uint32
}

// htlcLocation identifies the outgoing HTLC a caught payment hash belongs
// to, so its preimage can settle it directly instead of only being cached.
type htlcLocation struct {
	chanID     wire.ChannelID
	htlcID     uint64
	peerPubKey []byte
}

type scanTask struct {
	candidate [32]byte
	wanted    map[[32]byte]*htlcLocation
}

func NewPreimageCatcher(master *ChannelMaster, store *db.DB, n node.Interface, workers int, log zerolog.Logger) *PreimageCatcher {
	if workers <= 0 {
		workers = 1
	}
	return &PreimageCatcher{
		store:   store,
		node:    n,
		master:  master,
		log:     log.With().Str("component", "preimage-catcher").Logger(),
		workers: workers,
		tasks:   make(chan scanTask, 256),
	}
}

// Start launches the worker pool and a poll loop that fetches the chain
// tip once a second and scans it when its height is above the last one
// scanned. Only the tip block is fetched: blocks passed over between two
// polls are not scanned.
func (p *PreimageCatcher) Start(ctx context.Context) {
	scanCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(scanCtx)
	}

	go p.pollLoop(scanCtx)
}

func (p *PreimageCatcher) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *PreimageCatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.scanTip(ctx)
		}
	}
}

func (p *PreimageCatcher) scanTip(ctx context.Context) {
	block, err := p.node.CurrentBlock(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("failed to fetch current block")
		return
	}
	if block.Height <= p.lastScanned {
		return
	}
	p.lastScanned = block.Height

	wanted, err := p.pendingPaymentHashes(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("failed to collect pending payment hashes")
		return
	}
	if len(wanted) == 0 {
		return
	}

	for _, w := range block.WitnessData {
		if len(w) != 32 {
			continue
		}
		var candidate [32]byte
		copy(candidate[:], w)

		select {
		case p.tasks <- scanTask{candidate: candidate, wanted: wanted}:
		case <-ctx.Done():
			return
		}
	}
	metrics.BlockScanWorkQueue.Set(float64(len(p.tasks)))
}

func (p *PreimageCatcher) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.tasks:
			p.check(ctx, task)
			metrics.BlockScanWorkQueue.Set(float64(len(p.tasks)))
		}
	}
}

func (p *PreimageCatcher) check(ctx context.Context, task scanTask) {
	hash := sha256.Sum256(task.candidate[:])
	loc, ok := task.wanted[hash]
	if !ok {
		return
	}

	if err := p.store.PutPreimage(ctx, &db.Preimage{
		PaymentHash:   hash,
		Preimage:      task.candidate,
		DiscoveredVia: "chain",
	}); err != nil {
		p.log.Warn().Err(err).Msg("failed to persist caught preimage")
		return
	}
	metrics.PreimagesCaught.Inc()

	if loc == nil {
		// The hash belongs to an incoming HTLC only: this node is the
		// payee, not the payer, so there's nothing of ours to settle.
		return
	}

	err := p.master.FulfillHtlc(ctx, loc.chanID, loc.peerPubKey, &wire.UpdateFulfillHtlc{
		ChanID:   loc.chanID,
		ID:       loc.htlcID,
		Preimage: task.candidate,
	})
	if err != nil {
		p.log.Warn().Err(err).
			Str("chanID", fmt.Sprintf("%x", loc.chanID)).
			Uint64("htlcID", loc.htlcID).
			Msg("failed to settle stuck outgoing htlc with caught preimage")
		return
	}
	p.log.Info().
		Str("chanID", fmt.Sprintf("%x", loc.chanID)).
		Uint64("htlcID", loc.htlcID).
		Msg("settled stuck outgoing htlc from preimage caught on chain")
}

// pendingPaymentHashes collects the payment hash of every HTLC currently
// open on any channel this node holds, the set the catcher checks
// on-chain witness data against. Incoming HTLCs map to a nil location
// (cache the preimage, nothing to self-settle); outgoing HTLCs map to the
// channel and peer that can be driven to settle directly.
func (p *PreimageCatcher) pendingPaymentHashes(ctx context.Context) (map[[32]byte]*htlcLocation, error) {
	channels, err := p.store.GetChannels(ctx, nil, db.StatusAny)
	if err != nil {
		return nil, err
	}

	out := map[[32]byte]*htlcLocation{}
	for _, ch := range channels {
		for _, h := range ch.LCSS.IncomingHtlcs {
			out[h.PaymentHash] = nil
		}
		for _, h := range ch.LCSS.OutgoingHtlcs {
			out[h.PaymentHash] = &htlcLocation{
				chanID:     ch.ChanID,
				htlcID:     h.ID,
				peerPubKey: ch.PeerPubKey,
			}
		}
	}
	return out, nil
}
