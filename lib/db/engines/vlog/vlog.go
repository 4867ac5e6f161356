package vlog

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/sKV/lib/db"
	badger "github.com/dgraph-io/badger/v3"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("store")

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

const (
	defaultGCInterval     = 5 * time.Minute
	defaultGCDiscardRatio = 0.5
)

// DBOptions configures the badger backed database
type DBOptions struct {
	Dir            string        // Directory for LSM and value log files (ignored if InMemory)
	InMemory       bool          // Keep everything in memory, mostly useful for tests
	SyncWrites     bool          // fsync after every write
	GCInterval     time.Duration // Interval of the value log GC (0 = default, <0 = disabled)
	GCDiscardRatio float64       // Fraction of a value log file that must be garbage before it is rewritten
}

// DefaultOptions returns the default options for a database in dir
func DefaultOptions(dir string) *DBOptions {
	return &DBOptions{
		Dir:            dir,
		GCInterval:     defaultGCInterval,
		GCDiscardRatio: defaultGCDiscardRatio,
	}
}

// --------------------------------------------------------------------------
// Core structure
// --------------------------------------------------------------------------

// vlogImpl stores keys in badger's LSM tree and values in its value log
type vlogImpl struct {
	conn   *badger.DB
	opts   DBOptions
	stopGC chan struct{}
	gcWG   sync.WaitGroup
	closed atomic.Bool

	gcRuns     atomic.Uint64
	gcRewrites atomic.Uint64
}

// NewVlogDB opens (or creates) the database described by opts. It is up to the
// caller to close the database with Close().
func NewVlogDB(opts *DBOptions) (db.KVDB, error) {
	if opts == nil {
		return nil, fmt.Errorf("vlog: options are required")
	}
	if opts.GCDiscardRatio <= 0 || opts.GCDiscardRatio >= 1 {
		opts.GCDiscardRatio = defaultGCDiscardRatio
	}
	if opts.GCInterval == 0 {
		opts.GCInterval = defaultGCInterval
	}

	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		bopts = badger.DefaultOptions(opts.Dir)
	}
	bopts = bopts.WithSyncWrites(opts.SyncWrites).WithLogger(Logger)

	conn, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("can't open the db connection: %w", err)
	}

	v := &vlogImpl{
		conn:   conn,
		opts:   *opts,
		stopGC: make(chan struct{}),
	}

	// the value log GC is not available in memory mode
	if !opts.InMemory && opts.GCInterval > 0 {
		v.gcWG.Add(1)
		go v.gcLoop()
	}

	return v, nil
}

// --------------------------------------------------------------------------
// Garbage collection
// --------------------------------------------------------------------------

// gcLoop runs the value log GC every GCInterval until the database is closed
func (v *vlogImpl) gcLoop() {
	defer v.gcWG.Done()
	ticker := time.NewTicker(v.opts.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-v.stopGC:
			return
		case <-ticker.C:
			if err := v.Compact(); err != nil {
				Logger.Warningf("value log gc failed: %v", err)
			}
		}
	}
}

// Compact rewrites value log files until badger finds nothing worth rewriting.
func (v *vlogImpl) Compact() error {
	if v.closed.Load() {
		return db.ErrClosed
	}
	if v.opts.InMemory {
		return nil
	}

	v.gcRuns.Add(1)
	for {
		err := v.conn.RunValueLogGC(v.opts.GCDiscardRatio)
		switch {
		case err == nil:
			v.gcRewrites.Add(1)
		case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrRejected):
			// nothing (more) to rewrite or another GC is running
			return nil
		default:
			return err
		}
	}
}

// --------------------------------------------------------------------------
// KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// update runs fn in a read-write transaction and retries on conflicts.
// Badger tracks the keys read in fn, so a concurrent commit on the same key
// makes the commit fail with ErrConflict instead of losing an update.
func (v *vlogImpl) update(fn func(txn *badger.Txn) error) error {
	if v.closed.Load() {
		return db.ErrClosed
	}
	for {
		err := v.conn.Update(fn)
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return err
	}
}

// readPrev loads the current value of key inside txn
func readPrev(txn *badger.Txn, key []byte) ([]byte, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	// item.Value() is only valid inside the transaction, so copy
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, fmt.Errorf("can't copy the value from the database: %w", err)
	}
	return val, true, nil
}

func (v *vlogImpl) Set(key string, value []byte) ([]byte, bool, error) {
	var (
		prev   []byte
		loaded bool
	)
	err := v.update(func(txn *badger.Txn) error {
		var err error
		prev, loaded, err = readPrev(txn, []byte(key))
		if err != nil {
			return err
		}
		if err := txn.Set([]byte(key), value); err != nil {
			return fmt.Errorf("could not set the KV pair: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return prev, loaded, nil
}

func (v *vlogImpl) Delete(key string) ([]byte, bool, error) {
	var (
		prev   []byte
		loaded bool
	)
	err := v.update(func(txn *badger.Txn) error {
		var err error
		prev, loaded, err = readPrev(txn, []byte(key))
		if err != nil || !loaded {
			return err
		}
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return nil, false, err
	}
	return prev, loaded, nil
}

// --------------------------------------------------------------------------
// KVDB Interface Methods - Query Operations
// --------------------------------------------------------------------------

func (v *vlogImpl) Get(key string) ([]byte, bool, error) {
	if v.closed.Load() {
		return nil, false, db.ErrClosed
	}
	var (
		val    []byte
		loaded bool
	)
	err := v.conn.View(func(txn *badger.Txn) error {
		var err error
		val, loaded, err = readPrev(txn, []byte(key))
		return err
	})
	return val, loaded, err
}

func (v *vlogImpl) Has(key string) (bool, error) {
	if v.closed.Load() {
		return false, db.ErrClosed
	}
	var found bool
	err := v.conn.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		found = err == nil
		return err
	})
	return found, err
}

// GetAll returns all entries in key order
func (v *vlogImpl) GetAll() ([]db.Entry, error) {
	it, err := v.Iterate("")
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var entries []db.Entry
	for it.Next() {
		entries = append(entries, it.Entry())
	}
	return entries, it.Err()
}

// Iterate opens a read-only transaction, so the iterator sees the database
// as it was when Iterate was called.
func (v *vlogImpl) Iterate(prefix string) (db.Iterator, error) {
	if v.closed.Load() {
		return nil, db.ErrClosed
	}
	txn := v.conn.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	return &iterator{
		txn:    txn,
		it:     txn.NewIterator(opts),
		prefix: []byte(prefix),
	}, nil
}

// iterator adapts a badger iterator to db.Iterator
type iterator struct {
	txn     *badger.Txn
	it      *badger.Iterator
	prefix  []byte
	started bool
	cur     db.Entry
	err     error
	closed  bool
}

func (i *iterator) Next() bool {
	if i.closed || i.err != nil {
		return false
	}
	if !i.started {
		i.it.Seek(i.prefix)
		i.started = true
	} else {
		i.it.Next()
	}
	if !i.it.ValidForPrefix(i.prefix) {
		return false
	}

	item := i.it.Item()
	val, err := item.ValueCopy(nil)
	if err != nil {
		i.err = err
		return false
	}
	i.cur = db.Entry{Key: string(item.KeyCopy(nil)), Value: val}
	return true
}

func (i *iterator) Entry() db.Entry { return i.cur }

func (i *iterator) Err() error { return i.err }

func (i *iterator) Close() error {
	if i.closed {
		return nil
	}
	i.closed = true
	i.it.Close()
	i.txn.Discard()
	return nil
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

const supportedFeatures = db.FeaturePersistent | db.FeatureKeyOrder | db.FeatureSnapshotIterate | db.FeatureGarbageCollect

func (v *vlogImpl) SupportsFeature(feature db.Feature) bool {
	return supportedFeatures&feature == feature
}

// GetInfo reports the on-disk size as seen by badger and counts the keys
// with a key-only iteration.
func (v *vlogImpl) GetInfo() db.DatabaseInfo {
	info := db.DatabaseInfo{
		DbType:            db.ImplVlog,
		Ordering:          db.OrderKey,
		SupportedFeatures: db.Features(supportedFeatures),
	}
	if v.closed.Load() {
		return info
	}

	lsmSize, vlogSize := v.conn.Size()
	info.SizeBytes = lsmSize + vlogSize

	_ = v.conn.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			info.Keys++
		}
		return nil
	})

	info.Metadata = &struct {
		LsmSizeBytes   int64  `json:"lsm_size_bytes"`
		VlogSizeBytes  int64  `json:"vlog_size_bytes"`
		InMemory       bool   `json:"in_memory"`
		GCRuns         uint64 `json:"gc_runs"`
		GCRewrites     uint64 `json:"gc_rewrites"`
		GCDiscardRatio string `json:"gc_discard_ratio"`
	}{
		LsmSizeBytes:   lsmSize,
		VlogSizeBytes:  vlogSize,
		InMemory:       v.opts.InMemory,
		GCRuns:         v.gcRuns.Load(),
		GCRewrites:     v.gcRewrites.Load(),
		GCDiscardRatio: fmt.Sprintf("%.2f", v.opts.GCDiscardRatio),
	}
	return info
}

// Close stops the GC and closes badger. Open iterators must be closed before.
func (v *vlogImpl) Close() error {
	if v.closed.Swap(true) {
		return nil
	}
	close(v.stopGC)
	v.gcWG.Wait()
	if err := v.conn.Close(); err != nil {
		return fmt.Errorf("could not close the database: %w", err)
	}
	return nil
}
