package maple

import (
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/sKV/lib/db/util"
)

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl implements an in-memory database with sharded data
type mapleImpl struct {
	seed   uint64            // Seed for hash function
	shards []*internal.Shard // Array of shards
	seq    atomic.Uint64     // Last assigned insertion sequence
	keys   atomic.Int64      // Number of live keys
	closed atomic.Bool
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	NumShards int // Number of shards (0 = one per CPU)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		NumShards: runtime.NumCPU(),
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new MapleDB instance with the specified options (optional)
//
// Thread-safety: This function is not thread-safe and should only be called once
// during initialization.
func NewMapleDB(opts *DBOptions) db.KVDB {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.NumShards <= 0 {
		opts.NumShards = runtime.NumCPU()
	}

	shards := make([]*internal.Shard, opts.NumShards)
	for i := range shards {
		shards[i] = internal.NewShard()
	}

	return &mapleImpl{
		seed:   util.GenerateSeed(),
		shards: shards,
	}
}

// shard returns the shard responsible for key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) shard(key string) *internal.Shard {
	return util.Pick(util.HashString(key, maple.seed), maple.shards)
}

// --------------------------------------------------------------------------
// KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Set inserts or updates an entry. An overwrite keeps the insertion
// position of the key, a new key is appended at the end.
//
// Thread-safety: The read of the previous value and the write happen
// atomically inside the Compute call of the shard map.
func (maple *mapleImpl) Set(key string, value []byte) ([]byte, bool, error) {
	if maple.closed.Load() {
		return nil, false, db.ErrClosed
	}

	valueCopy := slices.Clone(value)

	var (
		prev   []byte
		loaded bool
	)
	maple.shard(key).Data.Compute(key, func(old internal.Entry, exists bool) (internal.Entry, bool) {
		prev, loaded = old.Value, exists
		seq := old.Seq
		if !exists {
			seq = maple.seq.Add(1)
		}
		return internal.Entry{Value: valueCopy, Seq: seq}, false
	})

	if !loaded {
		maple.keys.Add(1)
	}
	return prev, loaded, nil
}

// Delete removes an entry and returns the removed value.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Delete(key string) ([]byte, bool, error) {
	if maple.closed.Load() {
		return nil, false, db.ErrClosed
	}

	var (
		prev   []byte
		loaded bool
	)
	maple.shard(key).Data.Compute(key, func(old internal.Entry, exists bool) (internal.Entry, bool) {
		prev, loaded = old.Value, exists
		return old, true
	})

	if loaded {
		maple.keys.Add(-1)
	}
	return prev, loaded, nil
}

// --------------------------------------------------------------------------
// KVDB Interface Methods - Query Operations
// --------------------------------------------------------------------------

func (maple *mapleImpl) Get(key string) ([]byte, bool, error) {
	if maple.closed.Load() {
		return nil, false, db.ErrClosed
	}
	entry, ok := maple.shard(key).Data.Load(key)
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(entry.Value), true, nil
}

func (maple *mapleImpl) Has(key string) (bool, error) {
	if maple.closed.Load() {
		return false, db.ErrClosed
	}
	_, ok := maple.shard(key).Data.Load(key)
	return ok, nil
}

// GetAll returns all entries in insertion order.
// The result is assembled shard by shard, a write that runs concurrently
// may or may not be part of it.
func (maple *mapleImpl) GetAll() ([]db.Entry, error) {
	return maple.collect(func(string) bool { return true })
}

// Iterate copies all entries with the given prefix at call time and
// iterates over the copy in insertion order.
func (maple *mapleImpl) Iterate(prefix string) (db.Iterator, error) {
	entries, err := maple.collect(func(key string) bool { return strings.HasPrefix(key, prefix) })
	if err != nil {
		return nil, err
	}
	return db.NewSliceIterator(entries), nil
}

// collect gathers all matching entries from all shards and sorts them by insertion sequence
func (maple *mapleImpl) collect(keep func(key string) bool) ([]db.Entry, error) {
	if maple.closed.Load() {
		return nil, db.ErrClosed
	}

	var keyed []internal.KeyedEntry
	for _, shard := range maple.shards {
		keyed = shard.Collect(keyed, keep)
	}

	slices.SortFunc(keyed, func(a, b internal.KeyedEntry) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		default:
			return 0
		}
	})

	entries := make([]db.Entry, len(keyed))
	for i, e := range keyed {
		entries[i] = db.Entry{Key: e.Key, Value: slices.Clone(e.Value)}
	}
	return entries, nil
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

const supportedFeatures = db.FeatureInsertionOrder | db.FeatureSnapshotIterate

func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	return supportedFeatures&feature == feature
}

// GetInfo returns statistics about the database. Sizes are estimated from
// a sample of up to 100 entries per shard.
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {
	histogram := util.NewSizeHistogram()
	samplesPerShard := 100
	shardSizes := make([]float64, len(maple.shards))

	var wg sync.WaitGroup
	wg.Add(len(maple.shards))
	for i, shard := range maple.shards {
		go func(i int, s *internal.Shard) {
			defer wg.Done()
			count := 0
			s.Data.Range(func(key string, entry internal.Entry) bool {
				histogram.AddSample(len(key) + len(entry.Value))
				count++
				return count < samplesPerShard
			})
			shardSizes[i] = float64(s.Data.Size())
		}(i, shard)
	}
	wg.Wait()

	// 16 bytes per entry for the sequence number and the slice header overhead
	entryOverhead := 16
	medianSize := histogram.MedianEstimate() + entryOverhead
	avgSize := histogram.AverageSize() + entryOverhead
	keys := maple.keys.Load()

	// weighted estimate (60% median, 40% average)
	sizeBytes := int64((medianSize*60+avgSize*40)/100) * keys

	meta := &struct {
		ShardCount        int                    `json:"shard_count"`
		ShardDistribution util.DistributionStats `json:"shard_distribution"`
		LastSequence      uint64                 `json:"last_sequence"`
		Info              string                 `json:"info"`
	}{
		ShardCount:        len(maple.shards),
		ShardDistribution: util.NewDistributionStats(shardSizes),
		LastSequence:      maple.seq.Load(),
		Info:              "SizeBytes is an estimate based on sampled entries.",
	}

	return db.DatabaseInfo{
		SizeBytes:         sizeBytes,
		Keys:              keys,
		DbType:            db.ImplMaple,
		Ordering:          db.OrderInsertion,
		SupportedFeatures: db.Features(supportedFeatures),
		Metadata:          meta,
	}
}

// Close drops all data. Every later call returns db.ErrClosed.
func (maple *mapleImpl) Close() error {
	if maple.closed.Swap(true) {
		return nil
	}
	for _, shard := range maple.shards {
		shard.Data.Clear()
	}
	maple.keys.Store(0)
	return nil
}
