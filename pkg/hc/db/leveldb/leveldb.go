// Package leveldb implements pkg/hc/db.Storage on top of goleveldb,
// giving channel updates atomicity via batched writes under a snapshot.
package leveldb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/wlns-network/hosted-channels/pkg/hc/db"
)

type Backend struct {
	path string
	ldb  *leveldb.DB

	mx sync.Mutex
}

func Open(path string) (*Backend, bool, error) {
	isNew := false
	if _, err := os.Stat(filepath.Join(path, "CURRENT")); errors.Is(err, os.ErrNotExist) {
		isNew = true
	}

	ldb, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, false, fmt.Errorf("leveldb: open %s: %w", path, err)
	}

	return &Backend{path: path, ldb: ldb}, isNew, nil
}

func (b *Backend) Close() {
	b.ldb.Close()
}

type batchExecutor struct {
	batch *leveldb.Batch
	ldb   *leveldb.DB
	snap  *leveldb.Snapshot
}

func (e *batchExecutor) Put(key, value []byte) error {
	e.batch.Put(key, value)
	return nil
}

func (e *batchExecutor) Delete(key []byte) error {
	e.batch.Delete(key)
	return nil
}

func (e *batchExecutor) Get(key []byte) ([]byte, error) {
	v, err := e.snap.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, db.ErrNotFound
	}
	return v, err
}

func (e *batchExecutor) Has(key []byte) (bool, error) {
	return e.snap.Has(key, nil)
}

func (e *batchExecutor) NewIterator(prefix []byte) db.Iterator {
	return &iterWrap{e.snap.NewIterator(util.BytesPrefix(prefix), nil)}
}

type plainExecutor struct {
	ldb *leveldb.DB
}

func (e *plainExecutor) Put(key, value []byte) error {
	return e.ldb.Put(key, value, &opt.WriteOptions{Sync: true})
}

func (e *plainExecutor) Delete(key []byte) error {
	return e.ldb.Delete(key, &opt.WriteOptions{Sync: true})
}

func (e *plainExecutor) Get(key []byte) ([]byte, error) {
	v, err := e.ldb.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, db.ErrNotFound
	}
	return v, err
}

func (e *plainExecutor) Has(key []byte) (bool, error) {
	return e.ldb.Has(key, nil)
}

func (e *plainExecutor) NewIterator(prefix []byte) db.Iterator {
	return &iterWrap{e.ldb.NewIterator(util.BytesPrefix(prefix), nil)}
}

type iterWrap struct {
	iterator.Iterator
}

type txKeyType struct{}

var txKey = txKeyType{}

// Transaction gives callers kinda-ACID semantics over goleveldb: reads
// inside f see a consistent snapshot, writes accumulate in a batch, and
// the whole batch commits atomically (and durably, since Sync is set)
// only if f returns nil.
func (b *Backend) Transaction(ctx context.Context, f func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey).(*batchExecutor); ok {
		return f(ctx)
	}

	b.mx.Lock()
	defer b.mx.Unlock()

	snap, err := b.ldb.GetSnapshot()
	if err != nil {
		return fmt.Errorf("leveldb: snapshot: %w", err)
	}
	defer snap.Release()

	exec := &batchExecutor{batch: new(leveldb.Batch), ldb: b.ldb, snap: snap}

	if err := f(context.WithValue(ctx, txKey, exec)); err != nil {
		return err
	}

	return b.ldb.Write(exec.batch, &opt.WriteOptions{Sync: true})
}

func (b *Backend) GetExecutor(ctx context.Context) db.Executor {
	if exec, ok := ctx.Value(txKey).(*batchExecutor); ok {
		return exec
	}
	return &plainExecutor{ldb: b.ldb}
}
