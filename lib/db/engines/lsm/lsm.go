package lsm

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync/atomic"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/util"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("store")

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// DBOptions configures the pebble backed database
type DBOptions struct {
	Dir         string // Directory of the database
	InMemory    bool   // Use an in-memory file system, mostly useful for tests
	SyncWrites  bool   // Sync the WAL after every write
	LockStripes int    // Number of write lock stripes (0 = 64 per CPU)
}

// DefaultOptions returns the default options for a database in dir
func DefaultOptions(dir string) *DBOptions {
	return &DBOptions{
		Dir:         dir,
		SyncWrites:  true,
		LockStripes: 64 * runtime.NumCPU(),
	}
}

// pebbleLogger forwards pebble's log output to the store logger
type pebbleLogger struct {
	l logger.ILogger
}

func (p pebbleLogger) Infof(format string, args ...interface{})  { p.l.Infof(format, args...) }
func (p pebbleLogger) Errorf(format string, args ...interface{}) { p.l.Errorf(format, args...) }
func (p pebbleLogger) Fatalf(format string, args ...interface{}) { p.l.Panicf(format, args...) }

// --------------------------------------------------------------------------
// Core structure
// --------------------------------------------------------------------------

// lsmImpl stores all entries in a pebble LSM tree.
//
// Pebble has no conditional writes, so Set and Delete take a per-key lock
// stripe around the read of the previous value and the write. Reads never lock.
type lsmImpl struct {
	conn      *pebble.DB
	opts      DBOptions
	writeOpts *pebble.WriteOptions
	locks     *util.KeyLocks
	closed    atomic.Bool
}

// NewLsmDB opens (or creates) the database described by opts
func NewLsmDB(opts *DBOptions) (db.KVDB, error) {
	if opts == nil {
		return nil, fmt.Errorf("lsm: options are required")
	}
	if opts.LockStripes <= 0 {
		opts.LockStripes = 64 * runtime.NumCPU()
	}

	popts := &pebble.Options{
		Logger: pebbleLogger{l: Logger},
	}
	if opts.InMemory {
		popts.FS = vfs.NewMem()
	}

	conn, err := pebble.Open(opts.Dir, popts)
	if err != nil {
		return nil, fmt.Errorf("can't open the db connection: %w", err)
	}

	writeOpts := pebble.NoSync
	if opts.SyncWrites {
		writeOpts = pebble.Sync
	}

	return &lsmImpl{
		conn:      conn,
		opts:      *opts,
		writeOpts: writeOpts,
		locks:     util.NewKeyLocks(opts.LockStripes),
	}, nil
}

// --------------------------------------------------------------------------
// KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

func (l *lsmImpl) Set(key string, value []byte) ([]byte, bool, error) {
	if l.closed.Load() {
		return nil, false, db.ErrClosed
	}
	unlock := l.locks.Lock(key)
	defer unlock()

	prev, loaded, err := l.get([]byte(key))
	if err != nil {
		return nil, false, err
	}
	if err := l.conn.Set([]byte(key), value, l.writeOpts); err != nil {
		return nil, false, fmt.Errorf("could not set the KV pair: %w", err)
	}
	return prev, loaded, nil
}

func (l *lsmImpl) Delete(key string) ([]byte, bool, error) {
	if l.closed.Load() {
		return nil, false, db.ErrClosed
	}
	unlock := l.locks.Lock(key)
	defer unlock()

	prev, loaded, err := l.get([]byte(key))
	if err != nil || !loaded {
		return nil, false, err
	}
	if err := l.conn.Delete([]byte(key), l.writeOpts); err != nil {
		return nil, false, fmt.Errorf("could not delete the key: %w", err)
	}
	return prev, true, nil
}

// --------------------------------------------------------------------------
// KVDB Interface Methods - Query Operations
// --------------------------------------------------------------------------

// get reads a key and copies the value, pebble owns the returned buffer until the closer is called
func (l *lsmImpl) get(key []byte) ([]byte, bool, error) {
	val, closer, err := l.conn.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out := slices.Clone(val)
	if out == nil {
		out = []byte{}
	}
	return out, true, closer.Close()
}

func (l *lsmImpl) Get(key string) ([]byte, bool, error) {
	if l.closed.Load() {
		return nil, false, db.ErrClosed
	}
	return l.get([]byte(key))
}

func (l *lsmImpl) Has(key string) (bool, error) {
	_, ok, err := l.Get(key)
	return ok, err
}

// GetAll returns all entries in key order
func (l *lsmImpl) GetAll() ([]db.Entry, error) {
	it, err := l.Iterate("")
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

// Iterate takes a pebble snapshot and iterates over it, so the iterator sees
// the database as it was when Iterate was called.
func (l *lsmImpl) Iterate(prefix string) (db.Iterator, error) {
	if l.closed.Load() {
		return nil, db.ErrClosed
	}

	snap := l.conn.NewSnapshot()
	iterOpts := &pebble.IterOptions{}
	if prefix != "" {
		iterOpts.LowerBound = []byte(prefix)
		iterOpts.UpperBound = prefixUpperBound([]byte(prefix))
	}

	return &iterator{
		snap:   snap,
		it:     snap.NewIter(iterOpts),
		prefix: []byte(prefix),
	}, nil
}

// prefixUpperBound returns the smallest key that is greater than every key with the given prefix.
// A prefix of only 0xff bytes has no upper bound (nil).
func prefixUpperBound(prefix []byte) []byte {
	end := slices.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// iterator adapts a pebble iterator over a snapshot to db.Iterator
type iterator struct {
	snap    *pebble.Snapshot
	it      *pebble.Iterator
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
	var valid bool
	if !i.started {
		valid = i.it.First()
		i.started = true
	} else {
		valid = i.it.Next()
	}
	if !valid {
		i.err = i.it.Error()
		return false
	}
	if !bytes.HasPrefix(i.it.Key(), i.prefix) {
		return false
	}
	i.cur = db.Entry{Key: string(i.it.Key()), Value: slices.Clone(i.it.Value())}
	return true
}

func (i *iterator) Entry() db.Entry { return i.cur }

func (i *iterator) Err() error { return i.err }

func (i *iterator) Close() error {
	if i.closed {
		return nil
	}
	i.closed = true
	return errors.Join(i.it.Close(), i.snap.Close())
}

// --------------------------------------------------------------------------
// Maintenance
// --------------------------------------------------------------------------

// Compact flushes the memtable to an sstable. Compaction of sstables is
// scheduled by pebble in the background.
func (l *lsmImpl) Compact() error {
	if l.closed.Load() {
		return db.ErrClosed
	}
	return l.conn.Flush()
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

const supportedFeatures = db.FeaturePersistent | db.FeatureKeyOrder | db.FeatureSnapshotIterate | db.FeatureCompaction

func (l *lsmImpl) SupportsFeature(feature db.Feature) bool {
	return supportedFeatures&feature == feature
}

// GetInfo reports pebble's disk space usage and counts the keys with a full scan
func (l *lsmImpl) GetInfo() db.DatabaseInfo {
	info := db.DatabaseInfo{
		DbType:            db.ImplLsm,
		Ordering:          db.OrderKey,
		SupportedFeatures: db.Features(supportedFeatures),
	}
	if l.closed.Load() {
		return info
	}

	metrics := l.conn.Metrics()
	info.SizeBytes = int64(metrics.DiskSpaceUsage())

	it := l.conn.NewIter(nil)
	for valid := it.First(); valid; valid = it.Next() {
		info.Keys++
	}
	_ = it.Close()

	info.Metadata = &struct {
		LockStripes int    `json:"lock_stripes"`
		InMemory    bool   `json:"in_memory"`
		SyncWrites  bool   `json:"sync_writes"`
		Levels      string `json:"levels"`
	}{
		LockStripes: l.opts.LockStripes,
		InMemory:    l.opts.InMemory,
		SyncWrites:  l.opts.SyncWrites,
		Levels:      fmt.Sprintf("%d sstables in L0", metrics.Levels[0].NumFiles),
	}
	return info
}

// Close flushes and closes pebble. Open iterators must be closed before.
func (l *lsmImpl) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	if err := l.conn.Flush(); err != nil {
		Logger.Warningf("flush before close failed: %v", err)
	}
	if err := l.conn.Close(); err != nil {
		return fmt.Errorf("could not close the database: %w", err)
	}
	return nil
}
