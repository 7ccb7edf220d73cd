// Package closedlist implements CompressClosedList: a hybrid in-memory
// then memory-mapped-external closed set (spec.md §4.2).
//
// Grounded on friggdb's own two-phase lifecycle -- a WAL head block that
// fills in RAM and is "completed" into an on-disk, indexed block
// (friggdb/wal/head_block.go, friggdb/wal/complete_block.go) -- generalised
// from "one head block per flush" to "one in-memory hash set, then one
// PointerTable-indexed mmap region for the rest of the run".
package closedlist

import (
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/ristretto/z"
	"github.com/dgryski/go-farm"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"

	"github.com/shunjilin/extsearch/engine/collab"
	"github.com/shunjilin/extsearch/engine/config"
	"github.com/shunjilin/extsearch/engine/errs"
	"github.com/shunjilin/extsearch/engine/mapping"
	"github.com/shunjilin/extsearch/engine/mmapbucket"
	"github.com/shunjilin/extsearch/engine/ptrtable"
	"github.com/shunjilin/extsearch/engine/record"
	"github.com/shunjilin/extsearch/engine/zobrist"
)

const partitionSalt uint64 = 0x9e3779b97f4a7c15

var (
	metricProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "extsearch",
		Subsystem: "closed_list",
		Name:      "probes_total",
		Help:      "PointerTable probes performed by the closed list, by outcome.",
	}, []string{"outcome"})

	metricLoadFactor = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "extsearch",
		Subsystem: "closed_list",
		Name:      "load_factor",
		Help:      "Occupied slots over capacity in the external phase's PointerTable.",
	})
)

// Stats is the snapshot exposed in place of spec.md's print_statistics
// (see SPEC_FULL.md §6, "Statistics snapshot type").
type Stats struct {
	GoodProbes uint64
	BadProbes  uint64
	LoadFactor float64
}

type phase int

const (
	phaseMemory phase = iota
	phaseExternal
)

// CompressClosedList is the closed set described by spec.md §4.2.
type CompressClosedList struct {
	cfg     config.ClosedListConfig
	workDir string
	logger  log.Logger

	packer collab.StatePacker
	hasher *zobrist.Hasher

	phase       phase
	mem         map[string]*record.State
	memCapacity int

	partitions       int
	buffers          [][]*record.State
	maxBufferEntries int

	table   *ptrtable.Table
	bucket  *mmapbucket.Bucket
	mapping *mapping.Table
	nextSlot uint64

	bloom *z.Bloom

	goodProbes atomic.Uint64
	badProbes  atomic.Uint64
}

// New constructs a CompressClosedList in its initial in-memory phase. The
// external phase's sizing is deferred until the record stride R is known
// (spec.md §9, "lazy initialisation"), so workDir is only recorded here.
//
// packer and masterSeed wire up ZobristHasher (spec.md §4.5) as the
// primary state hash: masterSeed seeds the process-wide table on first
// use (a no-op if some other component already seeded it with the same
// domain), and packer decodes packed_vars into the per-variable view the
// hasher operates over.
func New(cfg config.ClosedListConfig, workDir string, packer collab.StatePacker, masterSeed int64, logger log.Logger) *CompressClosedList {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	zobrist.Init(masterSeed, packer.DomainSizes())
	partitions := 1
	if cfg.EnablePartitioning {
		partitions = cfg.Partitions
		if partitions < 1 {
			partitions = 1
		}
	}
	return &CompressClosedList{
		cfg:        cfg,
		workDir:    workDir,
		logger:     logger,
		packer:     packer,
		hasher:     zobrist.New(zobrist.Twisted),
		phase:      phaseMemory,
		mem:        make(map[string]*record.State),
		partitions: partitions,
		buffers:    make([][]*record.State, partitions),
	}
}

func budgetBytes(gb float64) uint64 {
	return uint64(gb * float64(1<<30))
}

// never spill: internal_closed_gb == 0 is the "pure in-memory" degenerate
// configuration from Open Question (b); internal_closed_gb < 0 is rejected
// by config.Validate before it ever reaches here.
func (c *CompressClosedList) neverSpills() bool {
	return c.cfg.InternalClosedGB == 0
}

func key(s *record.State) string { return string(s.PackedVars) }

// FindInsert implements spec.md §4.2's find_insert across both phases.
func (c *CompressClosedList) FindInsert(entry *record.State) (found bool, reopened bool, err error) {
	if c.phase == phaseMemory {
		if c.memCapacity == 0 && !c.neverSpills() {
			r := record.Stride()
			c.memCapacity = int(budgetBytes(c.cfg.InternalClosedGB) / uint64(r))
			if c.memCapacity < 1 {
				c.memCapacity = 1
			}
		}
		return c.findInsertMemory(entry)
	}
	return c.findInsertExternal(entry)
}

func (c *CompressClosedList) findInsertMemory(entry *record.State) (bool, bool, error) {
	k := key(entry)
	if existing, ok := c.mem[k]; ok {
		if c.cfg.ReopenClosed && entry.G < existing.G {
			c.mem[k] = reopenRecord(existing, entry)
			return true, true, nil
		}
		return true, false, nil
	}

	c.mem[k] = entry
	if !c.neverSpills() && len(c.mem) >= c.memCapacity {
		if err := c.transition(); err != nil {
			return false, false, err
		}
	}
	return false, false, nil
}

// reopenRecord builds the record that replaces existing after a
// lower-g reopen, preserving existing's identity (StateID, PackedVars) so
// that any child already pointing at this parent by id remains valid.
func reopenRecord(existing, entry *record.State) *record.State {
	return &record.State{
		PackedVars:    existing.PackedVars,
		StateID:       existing.StateID,
		ParentStateID: entry.ParentStateID,
		CreatingOp:    entry.CreatingOp,
		G:             entry.G,
		ParentHash:    entry.ParentHash,
	}
}

// transition moves from the in-memory phase to the external phase,
// replaying every in-memory entry into its partition buffer and flushing
// whenever a buffer fills, per spec.md §4.2 ("On transition, all
// in-memory entries are replayed into buffers then flushed"). Replaying
// one entry at a time through the same append/flush-on-full path
// findInsertExternal uses (rather than dumping the whole replayed buffer
// into a single oversized flush) keeps every on-disk batch exactly
// maxBufferEntries long, which MappingTable.Lookup's ptr/batchSize
// arithmetic assumes.
func (c *CompressClosedList) transition() error {
	r := record.Stride()
	n := budgetBytes(c.cfg.InternalClosedGB)

	table, err := ptrtable.New(n, c.cfg.PrimeCardinality)
	if err != nil {
		return err
	}

	path := filepath.Join(c.workDir, "closed_list.bucket")
	bucket, err := mmapbucket.Create(path, r, table.Capacity())
	if err != nil {
		return err
	}

	c.maxBufferEntries = 4096 / r
	if c.maxBufferEntries < 1 {
		c.maxBufferEntries = 1
	}

	c.table = table
	c.bucket = bucket
	c.mapping = mapping.New(uint64(c.maxBufferEntries))

	if c.cfg.UseBloomFilter {
		c.bloom = z.NewBloomFilter(float64(table.Capacity()), 0.01)
	}

	level.Info(c.logger).Log("msg", "closed list spilling to external phase",
		"capacity", table.Capacity(), "width", table.Width(), "path", path)

	c.phase = phaseExternal
	for _, e := range c.mem {
		p := c.partitionOf(e)
		c.buffers[p] = append(c.buffers[p], e)
		if c.bloom != nil {
			c.bloom.Add(farm.Fingerprint64(e.PackedVars))
		}
		if len(c.buffers[p]) >= c.maxBufferEntries {
			if err := c.flush(p); err != nil {
				return err
			}
		}
	}
	c.mem = nil
	return nil
}

func (c *CompressClosedList) partitionOf(s *record.State) int {
	if c.partitions <= 1 {
		return 0
	}
	return int(farm.Hash64WithSeed(s.PackedVars, partitionSalt) % uint64(c.partitions))
}

// primaryHash is the spec.md §4.2 "primary_hash(entry)": ZobristHasher
// over the packed-variable view, so the same hash function both indexes
// the PointerTable here and is what a parent_hash cached on a child state
// must match when trace_path walks back up to this entry.
func (c *CompressClosedList) primaryHash(s *record.State) uint64 {
	return c.hasher.Hash(c.view(s))
}

// view decodes s.PackedVars into the per-variable slice ZobristHasher
// expects, via the injected StatePacker (collab.go, spec.md §6).
func (c *CompressClosedList) view(s *record.State) []int {
	sizes := c.packer.DomainSizes()
	v := make([]int, len(sizes))
	for i := range v {
		v[i] = c.packer.Get(s.PackedVars, i)
	}
	return v
}

func (c *CompressClosedList) probeStep(h uint64) uint64 {
	if c.cfg.DoubleHashing {
		return ptrtable.DoubleStep(h, c.table.Capacity())
	}
	return ptrtable.LinearStep()
}

func (c *CompressClosedList) findInsertExternal(entry *record.State) (bool, bool, error) {
	p := c.partitionOf(entry)

	for i, buffered := range c.buffers[p] {
		if buffered.Equal(entry) {
			c.recordProbe(true)
			if c.cfg.ReopenClosed && entry.G < buffered.G {
				c.buffers[p][i] = reopenRecord(buffered, entry)
				return true, true, nil
			}
			return true, false, nil
		}
	}

	h := c.primaryHash(entry)
	skipDiskProbe := c.bloom != nil && !c.bloom.Has(farm.Fingerprint64(entry.PackedVars))

	if !skipDiskProbe {
		found, reopened, candidate, ptr, err := c.probeDisk(entry, h, p)
		if err != nil {
			return false, false, err
		}
		if found {
			if reopened {
				buf := make([]byte, record.Stride())
				candidate.Marshal(buf)
				c.bucket.WriteAt(ptr, buf)
			}
			return true, reopened, nil
		}
	}

	c.buffers[p] = append(c.buffers[p], entry)
	if c.bloom != nil {
		c.bloom.Add(farm.Fingerprint64(entry.PackedVars))
	}
	if len(c.buffers[p]) >= c.maxBufferEntries {
		if err := c.flush(p); err != nil {
			return false, false, err
		}
	}
	return false, false, nil
}

// probeDisk implements spec.md §4.2 steps 3-4: probe the PointerTable,
// rejecting slots whose partition tag disagrees, reading candidates from
// the MmapBucket and comparing by packed_vars.
func (c *CompressClosedList) probeDisk(entry *record.State, h uint64, p int) (found, reopened bool, candidate *record.State, ptr uint64, err error) {
	step := c.probeStep(h)
	cursor := c.table.StartProbe(h, step)

	for attempts := uint64(0); attempts < c.table.Capacity(); attempts++ {
		if attempts > 0 {
			cursor.Advance()
		}
		slot := cursor.Ptr()
		if slot == c.table.Invalid() {
			return false, false, nil, 0, nil
		}

		if c.partitions > 1 {
			if tag, ok := c.mapping.Lookup(slot); ok && tag != uint32(p) {
				c.recordProbe(false)
				continue
			}
		}

		buf := make([]byte, record.Stride())
		c.bucket.ReadAt(slot, buf)
		cand := record.Unmarshal(buf)
		if cand.Equal(entry) {
			c.recordProbe(true)
			if c.cfg.ReopenClosed && entry.G < cand.G {
				return true, true, reopenRecord(cand, entry), slot, nil
			}
			return true, false, cand, slot, nil
		}
		c.recordProbe(false)
	}
	return false, false, nil, 0, nil
}

func (c *CompressClosedList) recordProbe(good bool) {
	if good {
		c.goodProbes.Inc()
		metricProbes.WithLabelValues("good").Inc()
	} else {
		c.badProbes.Inc()
		metricProbes.WithLabelValues("bad").Inc()
	}
}

// flush writes buffer[p] into the MmapBucket and PointerTable, per
// spec.md §4.2 step 5, then releases the buffer's memory.
func (c *CompressClosedList) flush(p int) error {
	for _, s := range c.buffers[p] {
		if c.nextSlot >= c.table.Capacity() {
			return errs.ErrCapacityExceeded
		}
		slot := c.nextSlot
		c.nextSlot++

		buf := make([]byte, record.Stride())
		s.Marshal(buf)
		c.bucket.WriteAt(slot, buf)

		h := c.primaryHash(s)
		step := c.probeStep(h)
		if err := c.table.HashInsert(slot, h, step); err != nil {
			return err
		}
	}
	if c.partitions > 1 {
		c.mapping.Append(uint32(p))
	}
	c.buffers[p] = nil
	return nil
}

// TracePath implements spec.md §4.2's trace_path: walk parent_state_id,
// searching in-memory buffers first, then the PointerTable by the cached
// parent_hash. The restart-the-outer-loop goto spec.md §9 Open Question
// (c) describes becomes this labelled continue.
func (c *CompressClosedList) TracePath(goal *record.State) ([]int32, error) {
	var ops []int32
	cur := goal

outer:
	for cur.ParentStateID != record.NoState {
		ops = append(ops, cur.CreatingOp)
		target := cur.ParentStateID

		if c.phase == phaseMemory {
			for _, s := range c.mem {
				if s.StateID == target {
					cur = s
					continue outer
				}
			}
			return nil, errs.ErrTraceBroken
		}

		for _, buf := range c.buffers {
			for _, s := range buf {
				if s.StateID == target {
					cur = s
					continue outer
				}
			}
		}

		parentHash := cur.ParentHash
		step := c.probeStep(parentHash)
		cursor := c.table.StartProbe(parentHash, step)
		for attempts := uint64(0); attempts < c.table.Capacity(); attempts++ {
			if attempts > 0 {
				cursor.Advance()
			}
			slot := cursor.Ptr()
			if slot == c.table.Invalid() {
				break
			}
			buf := make([]byte, record.Stride())
			c.bucket.ReadAt(slot, buf)
			candidate := record.Unmarshal(buf)
			if candidate.StateID == target {
				cur = candidate
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

// Stats snapshots the counters spec.md §4.2 calls for under
// print_statistics (see SPEC_FULL.md §6).
func (c *CompressClosedList) Stats() Stats {
	var load float64
	if c.phase == phaseExternal && c.table != nil && c.table.Capacity() > 0 {
		load = float64(c.table.Len()) / float64(c.table.Capacity())
		metricLoadFactor.Set(load)
	}
	return Stats{
		GoodProbes: c.goodProbes.Load(),
		BadProbes:  c.badProbes.Load(),
		LoadFactor: load,
	}
}

// Clear tears the closed list down: unmaps and unlinks the MmapBucket,
// drops every buffer. Idempotent, matching completeBlock.Clear()'s guard
// pattern (SPEC_FULL.md §6).
func (c *CompressClosedList) Clear() error {
	if c.bucket != nil {
		if err := c.bucket.Destroy(); err != nil {
			return fmt.Errorf("closed list clear: %w", err)
		}
		c.bucket = nil
	}
	c.table = nil
	c.mapping = nil
	c.mem = nil
	c.buffers = nil
	return nil
}
