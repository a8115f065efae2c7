// Package twig accumulates entries into fixed-capacity Merkle subtrees and
// combines their roots into one global root.
package twig

import (
	"cmp"
	"context"
	"crypto/sha256"
	"fmt"
	"hash"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	DefaultCapacity        = 2048
	DefaultGroups          = 16
	DefaultCacheExpiration = 5 * time.Minute
)

type Config struct {
	// Capacity is the number of entries per twig, a power of two >= 8.
	Capacity int
	Groups   int

	// CacheExpiration bounds how long entries loaded for a non-resident twig
	// stay in memory.
	CacheExpiration time.Duration

	Logger  *slog.Logger
	Verbose bool
}

func (c *Config) Normalize() error {
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	if c.Groups == 0 {
		c.Groups = DefaultGroups
	}
	if c.CacheExpiration == 0 {
		c.CacheExpiration = DefaultCacheExpiration
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Capacity < 8 || c.Capacity&(c.Capacity-1) != 0 {
		return fmt.Errorf("twig: capacity %d is not a power of two >= 8", c.Capacity)
	}
	if c.Groups < 1 {
		return fmt.Errorf("twig: invalid group count %d", c.Groups)
	}
	return nil
}

// Store persists entries of twigs that left the Fresh state.
type Store interface {
	// SaveEntries durably writes the entries of a newly Full twig along with
	// its record.
	SaveEntries(twigID uint64, entries []Entry, rec *Record) error
	LoadEntries(twigID uint64) ([]Entry, error)

	// PruneEntries deletes the entries of a twig and writes its Pruned record.
	PruneEntries(twigID uint64, rec *Record) error
}

// Manager owns every twig. Twigs are partitioned into groups, each with its
// own lock and Fresh twig; twig ids are interleaved by group.
type Manager struct {
	cfg    Config
	lay    *layout
	store  Store
	groups []Group
	upper  *upperTree
	cache  *cache.Cache
	logger *slog.Logger
}

func New(cfg Config, store Store) (*Manager, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	hasher := sha256.New()
	lay := newLayout(hasher, cfg.Capacity)
	m := &Manager{
		cfg:    cfg,
		lay:    lay,
		store:  store,
		groups: make([]Group, cfg.Groups),
		upper:  newUpperTree(lay.nullTwig),
		cache:  cache.New(cfg.CacheExpiration, 2*cfg.CacheExpiration),
		logger: cfg.Logger,
	}
	for i := range m.groups {
		m.groups[i] = Group{
			m:      m,
			index:  i,
			twigs:  make(map[uint64]*Twig),
			hasher: sha256.New(),
		}
	}
	return m, nil
}

func (m *Manager) Config() Config {
	return m.cfg
}

func (m *Manager) Capacity() int {
	return m.lay.capacity
}

func (m *Manager) Groups() int {
	return len(m.groups)
}

// TwigOf returns the twig id holding entry id.
func (m *Manager) TwigOf(id uint64) uint64 {
	return id / uint64(m.lay.capacity)
}

func (m *Manager) groupOfTwig(twigID uint64) *Group {
	return &m.groups[twigID%uint64(len(m.groups))]
}

// Update runs f with the group locked.
func (m *Manager) Update(group int, f func(g *Group) error) error {
	g := &m.groups[group]
	g.mu.Lock()
	defer g.mu.Unlock()
	return f(g)
}

// View runs f with the group read-locked; views of one group run in
// parallel. f may only call Entry, Active and Index.
func (m *Manager) View(group int, f func(g *Group) error) error {
	g := &m.groups[group]
	g.mu.RLock()
	defer g.mu.RUnlock()
	return f(g)
}

// Exclusive runs f with every group locked.
func (m *Manager) Exclusive(f func() error) error {
	for i := range m.groups {
		m.groups[i].mu.Lock()
	}
	defer func() {
		for i := range m.groups {
			m.groups[i].mu.Unlock()
		}
	}()
	return f()
}

// Entry returns entry id from whichever twig holds it.
func (m *Manager) Entry(id uint64) (Entry, error) {
	g := m.groupOfTwig(m.TwigOf(id))
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.Entry(id)
}

// Root returns the global root.
func (m *Manager) Root() Hash {
	return m.upper.root()
}

// TwigState reports the state of a twig.
func (m *Manager) TwigState(twigID uint64) (State, bool) {
	g := m.groupOfTwig(twigID)
	g.mu.RLock()
	defer g.mu.RUnlock()
	t := g.twigs[twigID]
	if t == nil {
		return 0, false
	}
	return t.state, true
}

// Prune discards the entries of an Inactive twig, keeping its root.
func (m *Manager) Prune(twigID uint64) error {
	g := m.groupOfTwig(twigID)
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prune(twigID)
}

// PruneInactive prunes every Inactive twig and returns how many were pruned.
func (m *Manager) PruneInactive() (int, error) {
	var n int
	for i := range m.groups {
		err := m.Update(i, func(g *Group) error {
			for _, id := range g.twigIDs() {
				if g.twigs[id].state != Inactive {
					continue
				}
				if err := g.prune(id); err != nil {
					return err
				}
				n++
			}
			return nil
		})
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

type Stats struct {
	Fresh    int
	Full     int
	Inactive int
	Pruned   int
	Entries  int
	Active   int
}

func (m *Manager) Stats() Stats {
	var st Stats
	for i := range m.groups {
		g := &m.groups[i]
		g.mu.RLock()
		for _, t := range g.twigs {
			switch t.state {
			case Fresh:
				st.Fresh++
			case Full:
				st.Full++
			case Inactive:
				st.Inactive++
			case Pruned:
				st.Pruned++
			}
			st.Entries += t.count
			st.Active += t.activeCount
		}
		g.mu.RUnlock()
	}
	return st
}

// TwigInfo describes one twig for inspection.
type TwigInfo struct {
	ID     uint64
	State  State
	Count  int
	Active int
	Root   Hash
}

// Twigs lists every twig in id order.
func (m *Manager) Twigs() []TwigInfo {
	var out []TwigInfo
	for i := range m.groups {
		g := &m.groups[i]
		g.mu.RLock()
		for _, t := range g.twigs {
			out = append(out, TwigInfo{t.id, t.state, t.count, t.activeCount, t.root})
		}
		g.mu.RUnlock()
	}
	slices.SortFunc(out, func(a, b TwigInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

type loadedTwig struct {
	entries []Entry
	tree    *tree
}

// resident returns the entries and entry tree of t, loading and caching them
// if t is not resident. Caller holds the group lock, read or write; concurrent
// readers may load the same twig twice.
func (m *Manager) resident(t *Twig) ([]Entry, *tree, error) {
	if t.state == Pruned {
		return nil, nil, twigErrf(t.id, ErrPrunedData, "")
	}
	if t.resident() {
		return t.entries, t.entryTree, nil
	}
	key := strconv.FormatUint(t.id, 10)
	if v, ok := m.cache.Get(key); ok {
		lt := v.(*loadedTwig)
		return lt.entries, lt.tree, nil
	}

	entries, err := m.store.LoadEntries(t.id)
	if err != nil {
		return nil, nil, twigErrf(t.id, err, "loading entries")
	}
	if len(entries) != t.count {
		return nil, nil, twigErrf(t.id, ErrCorrupt, "loaded %d entries, wanted %d", len(entries), t.count)
	}
	hasher := sha256.New()
	tr := newTree(m.lay.capacity, m.lay.entryNulls)
	leaves := make([]Hash, m.lay.capacity)
	var buf []byte
	for i := range leaves {
		if i < len(entries) {
			buf = entries[i].AppendBinary(buf[:0])
			leaves[i] = hashLeaf(hasher, buf)
		} else {
			leaves[i] = m.lay.entryNulls[0]
		}
	}
	tr.fill(hasher, leaves)
	if tr.root() != t.entriesRoot {
		return nil, nil, twigErrf(t.id, ErrCorrupt, "loaded entries hash to %v, wanted %v", tr.root(), t.entriesRoot)
	}
	m.cache.Set(key, &loadedTwig{entries, tr}, cache.DefaultExpiration)
	return entries, tr, nil
}

func (m *Manager) logTransition(t *Twig, from State) {
	if !m.cfg.Verbose {
		return
	}
	m.logger.LogAttrs(context.Background(), slog.LevelDebug, "twig: state changed",
		slog.Uint64("twig", t.id),
		slog.String("from", from.String()),
		slog.String("to", t.state.String()))
}

// Group is the set of twigs fed by one group of shards. Its methods must only
// be called from inside Manager.Update or Manager.Exclusive, or Manager.View
// for the read-only ones. hasher belongs to writers.
type Group struct {
	mu        sync.RWMutex
	m         *Manager
	index     int
	nextLocal uint64
	fresh     *Twig
	twigs     map[uint64]*Twig
	hasher    hash.Hash
	dirty     bool
}

func (g *Group) Index() int {
	return g.index
}

func (g *Group) ensureFresh() *Twig {
	if g.fresh == nil {
		id := g.nextLocal*uint64(len(g.m.groups)) + uint64(g.index)
		g.nextLocal++
		g.fresh = newFreshTwig(g.hasher, g.m.lay, id)
		g.twigs[id] = g.fresh
		g.m.upper.set(id, g.fresh.root)
		g.dirty = true
	}
	return g.fresh
}

// NextID returns the id the next appended entry will get.
func (g *Group) NextID() uint64 {
	t := g.ensureFresh()
	return t.id*uint64(g.m.lay.capacity) + uint64(t.count)
}

// Append adds e to the Fresh twig and marks it active. e.ID must equal
// NextID(). A filled twig is sealed, saved and replaced on the next append.
func (g *Group) Append(e Entry) uint64 {
	t := g.ensureFresh()
	if want := g.NextID(); e.ID != want {
		panic(fmt.Errorf("twig: appending entry %d, next id is %d", e.ID, want))
	}
	t.append(g.hasher, e)
	g.m.upper.set(t.id, t.root)
	g.dirty = true
	if t.count == g.m.lay.capacity {
		g.seal(t)
	}
	return e.ID
}

func (g *Group) seal(t *Twig) {
	ensure(t.seal())
	g.m.logTransition(t, Fresh)
	g.fresh = nil
	g.save(t)
}

// save writes the entries of a sealed twig and evicts them from memory. On
// failure they stay resident and are retried by the next checkpoint.
func (g *Group) save(t *Twig) {
	rec := t.record()
	if err := g.m.store.SaveEntries(t.id, t.entries, rec); err != nil {
		t.unsaved = true
		g.m.logger.LogAttrs(context.Background(), slog.LevelError, "twig: saving entries failed", slog.Uint64("twig", t.id), slog.Any("err", err))
		return
	}
	t.evict()
}

// Deactivate clears the active bit of entry id.
func (g *Group) Deactivate(id uint64) error {
	t, slot, err := g.locate(id)
	if err != nil {
		return err
	}
	if err := t.clear(g.hasher, slot); err != nil {
		return err
	}
	if t.state == Full && t.activeCount == 0 {
		ensure(t.retire())
		g.m.logTransition(t, Full)
	}
	g.m.upper.set(t.id, t.root)
	g.dirty = true
	return nil
}

// Entry returns entry id, loading it from the store if needed.
func (g *Group) Entry(id uint64) (Entry, error) {
	t, slot, err := g.locate(id)
	if err != nil {
		return Entry{}, err
	}
	entries, _, err := g.m.resident(t)
	if err != nil {
		return Entry{}, err
	}
	return entries[slot], nil
}

// Active reports whether entry id is active.
func (g *Group) Active(id uint64) (bool, error) {
	t, slot, err := g.locate(id)
	if err != nil {
		return false, err
	}
	if t.state == Pruned {
		return false, nil
	}
	return t.isActive(slot), nil
}

func (g *Group) locate(id uint64) (*Twig, int, error) {
	twigID := g.m.TwigOf(id)
	slot := int(id % uint64(g.m.lay.capacity))
	t := g.twigs[twigID]
	if t == nil || slot >= t.count {
		return nil, 0, twigErrf(twigID, ErrEntryNotFound, "entry %d", id)
	}
	return t, slot, nil
}

func (g *Group) prune(twigID uint64) error {
	t := g.twigs[twigID]
	if t == nil {
		return twigErrf(twigID, ErrEntryNotFound, "no such twig")
	}
	if t.state != Inactive {
		return twigErrf(twigID, ErrInvalidTransition, "prune %v twig", t.state)
	}
	rec := &Record{State: Pruned, Count: t.count, Root: t.root, EntriesRoot: t.entriesRoot}
	if err := g.m.store.PruneEntries(twigID, rec); err != nil {
		return twigErrf(twigID, err, "pruning")
	}
	ensure(t.prune())
	t.dirty = false
	g.m.cache.Delete(strconv.FormatUint(twigID, 10))
	g.m.logTransition(t, Inactive)
	return nil
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}
