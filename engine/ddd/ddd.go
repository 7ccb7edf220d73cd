// Package ddd implements HashDDDOpenList: a hash-sharded, file-backed open
// list with f-layered expansion and bulk cross-layer duplicate removal
// (spec.md §4.3).
//
// Grounded on friggdb's per-tenant sharded block layout (friggdb/pool/pool.go
// fanning work out across a fixed worker count, friggdb/backend/local
// addressing blocks by a stable path scheme) generalised from "shard by
// tenant" to "shard by state hash"; the LIFO recursive-bucket pop mirrors
// friggdb/wal/complete_block.go's pattern of treating a single file as a
// scratch stack during compaction. The shard hash itself is ZobristHasher
// (spec.md §4.5), the same primary state hash CompressClosedList indexes
// its PointerTable with, so a cached parent_hash means the same thing
// everywhere in the engine.
package ddd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"

	"github.com/shunjilin/extsearch/engine/collab"
	"github.com/shunjilin/extsearch/engine/config"
	"github.com/shunjilin/extsearch/engine/errs"
	"github.com/shunjilin/extsearch/engine/record"
	"github.com/shunjilin/extsearch/engine/zobrist"
)

// fInfinity stands in for an open list with no remaining candidates.
const fInfinity = int32(1<<31 - 1)

var (
	metricLayers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "extsearch",
		Subsystem: "hash_ddd",
		Name:      "layers_expanded_total",
		Help:      "Number of RemoveDuplicates passes (layer boundaries crossed).",
	})
	metricDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "extsearch",
		Subsystem: "hash_ddd",
		Name:      "duplicates_removed_total",
		Help:      "States pruned by RemoveDuplicates across all shards.",
	})
)

// Heuristic recomputes f = g + h for a state. Narrower than
// collab.Evaluator's float64 h-value contract: layer comparisons in
// HashDDDOpenList need an exact integer f. search.Driver does not convert
// between the two; whoever constructs the open list passes a Heuristic
// to New.
type Heuristic interface {
	H(state *record.State) (int32, error)
}

// Stats mirrors CompressClosedList.Stats for the DDD open list (SPEC_FULL.md
// §6, "Statistics snapshot type").
type Stats struct {
	LayersExpanded    uint64
	DuplicatesRemoved uint64
}

// HashDDDOpenList is the open list described by spec.md §4.3.
type HashDDDOpenList struct {
	cfg       config.HashDDDConfig
	heuristic Heuristic
	logger    log.Logger

	packer collab.StatePacker
	hasher *zobrist.Hasher

	shards int
	open   []*bucketFile
	next   []*bucketFile
	closed []*bucketFile
	recur  *bucketFile

	firstInsert bool
	minF        int32
	maxG        int32
	cur         int
	exhausted   bool

	layersExpanded    atomic.Uint64
	duplicatesRemoved atomic.Uint64
}

// New opens (creating or truncating) the B shard files for each tier plus
// the recursive bucket, under workDir/open_list_buckets (spec.md §6).
//
// packer and masterSeed wire up ZobristHasher as the shard hash, the
// same way CompressClosedList.New wires it as the PointerTable hash:
// masterSeed seeds the process-wide table on first use (a no-op if
// already seeded with the same domain), packer decodes packed_vars into
// the per-variable view the hasher operates over.
func New(cfg config.HashDDDConfig, workDir string, packer collab.StatePacker, masterSeed int64, heuristic Heuristic, logger log.Logger) (*HashDDDOpenList, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	zobrist.Init(masterSeed, packer.DomainSizes())
	shards := cfg.Shards
	if shards < 1 {
		shards = 1
	}

	dir := filepath.Join(workDir, "open_list_buckets")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errs.NewIOError("mkdir", dir, err)
	}

	o := &HashDDDOpenList{
		cfg:         cfg,
		heuristic:   heuristic,
		logger:      logger,
		packer:      packer,
		hasher:      zobrist.New(zobrist.Twisted),
		shards:      shards,
		open:        make([]*bucketFile, shards),
		next:        make([]*bucketFile, shards),
		closed:      make([]*bucketFile, shards),
		firstInsert: true,
		minF:        fInfinity,
	}

	for i := 0; i < shards; i++ {
		var err error
		if o.open[i], err = openBucketFile(filepath.Join(dir, fmt.Sprintf("%d_open.bucket", i))); err != nil {
			return nil, err
		}
		if o.next[i], err = openBucketFile(filepath.Join(dir, fmt.Sprintf("%d_next.bucket", i))); err != nil {
			return nil, err
		}
		if o.closed[i], err = openBucketFile(filepath.Join(dir, fmt.Sprintf("%d_closed.bucket", i))); err != nil {
			return nil, err
		}
	}
	recur, err := openBucketFile(filepath.Join(dir, "recursive.bucket"))
	if err != nil {
		return nil, err
	}
	o.recur = recur

	return o, nil
}

// shardOf is spec.md §4.3's "hash(entry) mod B", using the same primary
// state hash (ZobristHasher) CompressClosedList uses, so a state's
// parent_hash -- computed wherever the state was created -- routes to
// the same shard this state's own entry was filed under.
func (o *HashDDDOpenList) shardOf(s *record.State) int {
	return int(o.hasher.Hash(o.view(s)) % uint64(o.shards))
}

// view decodes s.PackedVars into the per-variable slice ZobristHasher
// expects, via the injected StatePacker (collab.go, spec.md §6).
func (o *HashDDDOpenList) view(s *record.State) []int {
	sizes := o.packer.DomainSizes()
	v := make([]int, len(sizes))
	for i := range v {
		v[i] = o.packer.Get(s.PackedVars, i)
	}
	return v
}

func (o *HashDDDOpenList) fOf(s *record.State) (int32, error) {
	h, err := o.heuristic.H(s)
	if err != nil {
		return 0, err
	}
	return s.G + h, nil
}

// Insert implements spec.md §4.3's insert.
func (o *HashDDDOpenList) Insert(entry *record.State) error {
	f, err := o.fOf(entry)
	if err != nil {
		return err
	}

	if o.firstInsert {
		o.minF = f
		if o.cfg.TieBreakFG {
			o.maxG = entry.G
		}
		o.firstInsert = false
		return o.open[o.shardOf(entry)].Append(entry)
	}

	sameLayer := f == o.minF
	if sameLayer && o.cfg.TieBreakFG {
		sameLayer = entry.G == o.maxG
	}
	if sameLayer {
		return o.recur.Append(entry)
	}
	return o.next[o.shardOf(entry)].Append(entry)
}

// RemoveMin implements spec.md §4.3's remove_min, recursing (via an outer
// loop, not a call stack) across layer boundaries until it either finds a
// state to expand or the open list is exhausted.
func (o *HashDDDOpenList) RemoveMin() (*record.State, error) {
	for {
		s, ok, err := o.recur.PopLast()
		if err != nil {
			return nil, err
		}
		if ok {
			shard := o.shardOf(s)
			if err := o.closed[shard].Append(s); err != nil {
				return nil, err
			}
			return s, nil
		}

		for o.cur < o.shards {
			s, ok, err := o.open[o.cur].Next()
			if err != nil {
				return nil, err
			}
			if !ok {
				o.cur++
				continue
			}

			f, err := o.fOf(s)
			if err != nil {
				return nil, err
			}
			matches := f == o.minF
			if matches && o.cfg.TieBreakFG {
				matches = s.G == o.maxG
			}

			shard := o.shardOf(s)
			if matches {
				if err := o.closed[shard].Append(s); err != nil {
					return nil, err
				}
				return s, nil
			}
			if err := o.next[shard].Append(s); err != nil {
				return nil, err
			}
		}

		if err := o.removeDuplicates(); err != nil {
			return nil, err
		}
		if o.minF == fInfinity {
			o.exhausted = true
			return nil, errs.ErrOpenListEmpty
		}
		o.cur = 0
		if err := o.recur.Truncate(); err != nil {
			return nil, err
		}
	}
}

// removeDuplicates implements spec.md §4.3's RemoveDuplicates: per shard,
// fold next[i] into a hash set keyed by packed_vars keeping the lower g,
// prune entries already present in closed[i], then recreate open[i] from
// the survivors while tracking the new global min_f (and max_g).
func (o *HashDDDOpenList) removeDuplicates() error {
	newMinF := fInfinity
	newMaxG := int32(0)
	removed := uint64(0)

	for i := 0; i < o.shards; i++ {
		nextStates, err := o.next[i].ReadAll()
		if err != nil {
			return err
		}
		seen := make(map[string]*record.State, len(nextStates))
		for _, s := range nextStates {
			k := string(s.PackedVars)
			if existing, dup := seen[k]; !dup || s.G < existing.G {
				seen[k] = s
			}
		}

		closedStates, err := o.closed[i].ReadAll()
		if err != nil {
			return err
		}
		for _, s := range closedStates {
			k := string(s.PackedVars)
			if _, dup := seen[k]; dup {
				delete(seen, k)
				removed++
			}
		}

		if err := o.open[i].Truncate(); err != nil {
			return err
		}
		for _, s := range seen {
			if err := o.open[i].Append(s); err != nil {
				return err
			}
			f, err := o.fOf(s)
			if err != nil {
				return err
			}
			if f < newMinF {
				newMinF = f
				newMaxG = s.G
			} else if f == newMinF && s.G > newMaxG {
				newMaxG = s.G
			}
		}

		if err := o.next[i].Truncate(); err != nil {
			return err
		}
	}

	o.minF = newMinF
	if o.cfg.TieBreakFG {
		o.maxG = newMaxG
	}
	o.layersExpanded.Inc()
	o.duplicatesRemoved.Add(removed)
	metricLayers.Inc()
	metricDuplicates.Add(float64(removed))
	level.Debug(o.logger).Log("msg", "removed duplicates", "min_f", o.minF, "removed", removed)
	return nil
}

// IsDeadEnd reports whether a prior RemoveMin call has already signalled
// ErrOpenListEmpty.
func (o *HashDDDOpenList) IsDeadEnd() bool {
	return o.exhausted
}

// TracePath implements spec.md §4.3's trace_path: to find a parent,
// consult only closed[parent_hash mod B], since every closed state was
// routed there.
func (o *HashDDDOpenList) TracePath(goal *record.State) ([]int32, error) {
	var ops []int32
	cur := goal

outer:
	for cur.ParentStateID != record.NoState {
		ops = append(ops, cur.CreatingOp)
		target := cur.ParentStateID
		shard := int(cur.ParentHash % uint64(o.shards))

		states, err := o.closed[shard].ReadAll()
		if err != nil {
			return nil, err
		}
		for _, s := range states {
			if s.StateID == target {
				cur = s
				continue outer
			}
		}
		return nil, errs.ErrTraceBroken
	}

	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}
	return ops, nil
}

// Stats snapshots the counters SPEC_FULL.md §6 adds for the DDD open list.
func (o *HashDDDOpenList) Stats() Stats {
	return Stats{
		LayersExpanded:    o.layersExpanded.Load(),
		DuplicatesRemoved: o.duplicatesRemoved.Load(),
	}
}

// Clear tears down every bucket file. Idempotent.
func (o *HashDDDOpenList) Clear() error {
	var firstErr error
	destroy := func(bs []*bucketFile) {
		for _, b := range bs {
			if b == nil {
				continue
			}
			if err := b.Destroy(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	destroy(o.open)
	destroy(o.next)
	destroy(o.closed)
	if o.recur != nil {
		if err := o.recur.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
		o.recur = nil
	}
	o.open, o.next, o.closed = nil, nil, nil
	return firstErr
}
