package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Iterator walks a key range in a storage backend in byte order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

// Executor is the minimal key-value surface a storage backend must
// provide, usable either directly or inside a Transaction.
type Executor interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Get(key []byte) (value []byte, err error)
	Has(key []byte) (ret bool, err error)
	NewIterator(prefix []byte) Iterator
}

// Storage is the backend DB implements on top of: an atomic
// read-modify-write Transaction plus a plain Executor for reads outside
// one.
type Storage interface {
	Transaction(ctx context.Context, f func(ctx context.Context) error) error
	GetExecutor(ctx context.Context) Executor
	Close()
}

const (
	prefixChannel  = "ch:"
	prefixPreimage = "pi:"
	prefixForward  = "fw:"
	keyMigration   = "__migration_version"
)

// DB is the storage-backend-agnostic persistence layer for a
// hosted-channels node: channel records, the preimage cache, and the
// HTLC forwarding table.
type DB struct {
	storage Storage

	onChannelStateChange func(ch *Channel, statusChanged bool)
}

func NewDB(storage Storage) *DB {
	return &DB{storage: storage}
}

func (d *DB) Close() {
	d.storage.Close()
}

func (d *DB) Transaction(ctx context.Context, f func(ctx context.Context) error) error {
	return d.storage.Transaction(ctx, f)
}

// SetOnChannelUpdated registers a callback fired whenever CreateChannel
// or UpdateChannel commits, with statusChanged set when Status differs
// from the previously stored value.
func (d *DB) SetOnChannelUpdated(f func(ch *Channel, statusChanged bool)) {
	d.onChannelStateChange = f
}

func channelKey(hex string) []byte {
	return []byte(prefixChannel + hex)
}

func chanIDHex(id [32]byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range id {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}

func (d *DB) CreateChannel(ctx context.Context, ch *Channel) error {
	key := channelKey(chanIDHex(ch.ChanID))

	return d.storage.Transaction(ctx, func(ctx context.Context) error {
		exec := d.storage.GetExecutor(ctx)

		has, err := exec.Has(key)
		if err != nil {
			return fmt.Errorf("check existence: %w", err)
		}
		if has {
			return ErrAlreadyExists
		}

		now := time.Now()
		ch.CreatedAt = now
		ch.UpdatedAt = now
		ch.DBVersion = now.UnixNano()

		data, err := json.Marshal(ch)
		if err != nil {
			return fmt.Errorf("encode channel: %w", err)
		}
		if err := exec.Put(key, data); err != nil {
			return fmt.Errorf("put channel: %w", err)
		}

		if d.onChannelStateChange != nil {
			d.onChannelStateChange(ch, true)
		}
		return nil
	})
}

// UpdateChannel writes ch, first checking that the caller's DBVersion
// matches what's currently stored — an optimistic-concurrency guard
// against two goroutines racing to commit conflicting updates to the
// same channel.
func (d *DB) UpdateChannel(ctx context.Context, ch *Channel) error {
	key := channelKey(chanIDHex(ch.ChanID))

	return d.storage.Transaction(ctx, func(ctx context.Context) error {
		exec := d.storage.GetExecutor(ctx)

		cur, err := d.getChannelLocked(exec, key)
		if err != nil {
			return err
		}
		if cur.DBVersion != ch.DBVersion {
			return fmt.Errorf("db: channel %x version mismatch, retry (have %d, want %d)",
				ch.ChanID, cur.DBVersion, ch.DBVersion)
		}

		ch.UpdatedAt = time.Now()
		ch.DBVersion = time.Now().UnixNano()

		data, err := json.Marshal(ch)
		if err != nil {
			return fmt.Errorf("encode channel: %w", err)
		}
		if err := exec.Put(key, data); err != nil {
			return fmt.Errorf("put channel: %w", err)
		}

		if d.onChannelStateChange != nil && cur.Status != ch.Status {
			d.onChannelStateChange(ch, true)
		} else if d.onChannelStateChange != nil {
			d.onChannelStateChange(ch, false)
		}
		return nil
	})
}

func (d *DB) GetChannel(ctx context.Context, chanID [32]byte) (*Channel, error) {
	exec := d.storage.GetExecutor(ctx)
	return d.getChannelLocked(exec, channelKey(chanIDHex(chanID)))
}

// DeleteChannel removes a channel record entirely. It is the only path
// that ever deletes a Channel, used by the control API's close operation.
// It checks only that the record exists; no balance or in-flight HTLC
// precondition is checked.
func (d *DB) DeleteChannel(ctx context.Context, chanID [32]byte) error {
	key := channelKey(chanIDHex(chanID))
	return d.storage.Transaction(ctx, func(ctx context.Context) error {
		exec := d.storage.GetExecutor(ctx)
		if _, err := d.getChannelLocked(exec, key); err != nil {
			return err
		}
		return exec.Delete(key)
	})
}

func (d *DB) getChannelLocked(exec Executor, key []byte) (*Channel, error) {
	data, err := exec.Get(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get channel: %w", err)
	}

	var ch Channel
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, fmt.Errorf("decode channel: %w", err)
	}
	return &ch, nil
}

// GetChannels returns every channel matching status (StatusAny for all)
// and, if peerPubKey is non-nil, belonging to that peer.
func (d *DB) GetChannels(ctx context.Context, peerPubKey []byte, status ChannelStatus) ([]*Channel, error) {
	exec := d.storage.GetExecutor(ctx)
	iter := exec.NewIterator([]byte(prefixChannel))
	defer iter.Release()

	var out []*Channel
	for iter.Next() {
		var ch Channel
		if err := json.Unmarshal(iter.Value(), &ch); err != nil {
			return nil, fmt.Errorf("decode channel: %w", err)
		}
		if status != StatusAny && ch.Status != status {
			continue
		}
		if peerPubKey != nil && string(peerPubKey) != string(ch.PeerPubKey) {
			continue
		}
		cp := ch
		out = append(out, &cp)
	}
	return out, iter.Error()
}

func preimageKey(hash [32]byte) []byte {
	return []byte(prefixPreimage + chanIDHex(hash))
}

func (d *DB) PutPreimage(ctx context.Context, p *Preimage) error {
	exec := d.storage.GetExecutor(ctx)
	p.At = time.Now()
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode preimage: %w", err)
	}
	return exec.Put(preimageKey(p.PaymentHash), data)
}

func (d *DB) GetPreimage(ctx context.Context, hash [32]byte) (*Preimage, error) {
	exec := d.storage.GetExecutor(ctx)
	data, err := exec.Get(preimageKey(hash))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get preimage: %w", err)
	}
	var p Preimage
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode preimage: %w", err)
	}
	return &p, nil
}

// DeletePreimage evicts a cached preimage. Callers are expected to check
// first that hash no longer appears in any channel's in-flight HTLC set;
// DeletePreimage itself does no such check, the same way DeleteHtlcForward
// trusts its caller to know the forward is done.
func (d *DB) DeletePreimage(ctx context.Context, hash [32]byte) error {
	exec := d.storage.GetExecutor(ctx)
	return exec.Delete(preimageKey(hash))
}

// forwardKey indexes a forward record by its outgoing leg: the side
// that settles first (the peer fulfilling or failing the HTLC this node
// proposed), which is also the only side resolveForward has on hand when
// it needs to look the record back up.
func forwardKey(outgoing HtlcIdentifier) []byte {
	return []byte(fmt.Sprintf("%s%s:%d", prefixForward, chanIDHex(outgoing.ChanID), outgoing.HtlcID))
}

func (d *DB) PutHtlcForward(ctx context.Context, fw *HtlcForward) error {
	exec := d.storage.GetExecutor(ctx)
	fw.CreatedAt = time.Now()
	data, err := json.Marshal(fw)
	if err != nil {
		return fmt.Errorf("encode forward: %w", err)
	}
	return exec.Put(forwardKey(fw.Outgoing), data)
}

func (d *DB) GetHtlcForward(ctx context.Context, outgoing HtlcIdentifier) (*HtlcForward, error) {
	exec := d.storage.GetExecutor(ctx)
	data, err := exec.Get(forwardKey(outgoing))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get forward: %w", err)
	}
	var fw HtlcForward
	if err := json.Unmarshal(data, &fw); err != nil {
		return nil, fmt.Errorf("decode forward: %w", err)
	}
	return &fw, nil
}

func (d *DB) DeleteHtlcForward(ctx context.Context, outgoing HtlcIdentifier) error {
	exec := d.storage.GetExecutor(ctx)
	return exec.Delete(forwardKey(outgoing))
}

// ListHtlcForwards returns every pending forward, used to replay
// in-flight HTLCs after a restart.
func (d *DB) ListHtlcForwards(ctx context.Context) ([]*HtlcForward, error) {
	exec := d.storage.GetExecutor(ctx)
	iter := exec.NewIterator([]byte(prefixForward))
	defer iter.Release()

	var out []*HtlcForward
	for iter.Next() {
		var fw HtlcForward
		if err := json.Unmarshal(iter.Value(), &fw); err != nil {
			return nil, fmt.Errorf("decode forward: %w", err)
		}
		cp := fw
		out = append(out, &cp)
	}
	return out, iter.Error()
}

func (d *DB) GetMigrationVersion(ctx context.Context) (int, error) {
	exec := d.storage.GetExecutor(ctx)
	value, err := exec.Get([]byte(keyMigration))
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get migration version: %w", err)
	}
	var version int
	if _, err := fmt.Sscanf(string(value), "%d", &version); err != nil {
		return 0, fmt.Errorf("parse migration version: %w", err)
	}
	return version, nil
}

func (d *DB) SetMigrationVersion(ctx context.Context, version int) error {
	exec := d.storage.GetExecutor(ctx)
	return exec.Put([]byte(keyMigration), []byte(fmt.Sprintf("%d", version)))
}
