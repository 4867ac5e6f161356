package engines

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines/lsm"
	"github.com/ValentinKolb/sKV/lib/db/engines/maple"
	"github.com/ValentinKolb/sKV/lib/db/engines/vlog"
)

// Config selects and configures one of the available engines
type Config struct {
	Engine     db.Implementation
	DataDir    string        // base directory, each engine uses its own subdirectory
	InMemory   bool          // disk engines keep their files in memory
	SyncWrites bool          // fsync after every write (disk engines)
	GCInterval time.Duration // value log GC interval (vlog only)
	Shards     int           // number of shards (maple only, 0 = one per CPU)
}

// Open creates the engine named in cfg
func Open(cfg Config) (db.KVDB, error) {
	switch cfg.Engine {
	case db.ImplMaple, "":
		return maple.NewMapleDB(&maple.DBOptions{NumShards: cfg.Shards}), nil

	case db.ImplVlog:
		opts := vlog.DefaultOptions(filepath.Join(cfg.DataDir, string(db.ImplVlog)))
		opts.InMemory = cfg.InMemory
		opts.SyncWrites = cfg.SyncWrites
		if cfg.GCInterval != 0 {
			opts.GCInterval = cfg.GCInterval
		}
		return vlog.NewVlogDB(opts)

	case db.ImplLsm:
		opts := lsm.DefaultOptions(filepath.Join(cfg.DataDir, string(db.ImplLsm)))
		opts.InMemory = cfg.InMemory
		opts.SyncWrites = cfg.SyncWrites
		return lsm.NewLsmDB(opts)

	default:
		return nil, fmt.Errorf("unknown engine %q (expected one of: %s, %s, %s)", cfg.Engine, db.ImplMaple, db.ImplVlog, db.ImplLsm)
	}
}
