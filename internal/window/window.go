package window

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/ecoagent-memory/internal/model"
)

// DefaultMaxSize is the default token budget of a window.
const DefaultMaxSize = 8000

// DefaultTargetReduction is the share of items optimize tries to drop.
const DefaultTargetReduction = 0.2

// Config configures a window.
type Config struct {
	MaxSize int
	Now     func() time.Time
}

// Window holds the working context of one session.
type Window struct {
	mu        sync.Mutex
	maxSize   int
	now       func() time.Time
	logger    *zap.Logger
	items     map[string]*Item
	compactor *Compactor
	snapshots []*Snapshot
}

// New creates an empty window. A nil logger discards output.
func New(cfg Config, logger *zap.Logger) *Window {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Window{
		maxSize:   cfg.MaxSize,
		now:       cfg.Now,
		logger:    logger.With(zap.String("component", "context_window")),
		items:     make(map[string]*Item),
		compactor: NewCompactor(cfg.MaxSize),
	}
}

// MaxSize is the window's token budget.
func (w *Window) MaxSize() int { return w.maxSize }

// Add stores an item, replacing any item with the same key. ttlSeconds <= 0
// means the item never expires.
func (w *Window) Add(key string, value any, typ ContextType, importance model.Importance, ttlSeconds int) *Item {
	if importance == 0 {
		importance = model.ImportanceMedium
	}
	now := w.now()
	it := &Item{
		Key:        key,
		Value:      cloneAny(value),
		Type:       typ,
		Importance: importance,
		Timestamp:  now,
	}
	if ttlSeconds > 0 {
		exp := now.Add(time.Duration(ttlSeconds) * time.Second)
		it.ExpiresAt = &exp
		it.TTLSeconds = ttlSeconds
	}

	w.mu.Lock()
	w.items[key] = it
	w.mu.Unlock()
	return it.Clone()
}

// Get returns a live item and records the access. An expired item is
// dropped on read.
func (w *Window) Get(key string) (*Item, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	it, ok := w.items[key]
	if !ok {
		return nil, false
	}
	now := w.now()
	if it.IsExpired(now) {
		delete(w.items, key)
		return nil, false
	}
	it.touch(now)
	return it.Clone(), true
}

// Remove deletes an item and reports whether it existed.
func (w *Window) Remove(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.items[key]; !ok {
		return false
	}
	delete(w.items, key)
	return true
}

// Len counts stored items, expired or not.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

// CleanupExpired removes every expired item and returns how many it removed.
func (w *Window) CleanupExpired() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cleanupLocked(w.now())
}

func (w *Window) cleanupLocked(now time.Time) int {
	n := 0
	for k, it := range w.items {
		if it.IsExpired(now) {
			delete(w.items, k)
			n++
		}
	}
	return n
}

// OptimizeReport describes one optimize pass.
type OptimizeReport struct {
	BeforeSize     int       `json:"before_size"`
	AfterSize      int       `json:"after_size"`
	ExpiredRemoved int       `json:"expired_removed"`
	ReductionRatio float64   `json:"reduction_ratio"`
	Timestamp      time.Time `json:"timestamp"`
}

// Optimize drops expired items and then compacts what is left.
func (w *Window) Optimize(targetReduction float64) OptimizeReport {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	before := len(w.items)
	expired := w.cleanupLocked(now)
	if len(w.items) > 0 {
		w.items = w.compactor.Compact(w.items, targetReduction, now)
	}

	r := OptimizeReport{
		BeforeSize:     before,
		AfterSize:      len(w.items),
		ExpiredRemoved: expired,
		Timestamp:      now,
	}
	if before > 0 {
		r.ReductionRatio = 1 - float64(r.AfterSize)/float64(before)
	}
	w.logger.Debug("window optimized",
		zap.Int("before", r.BeforeSize),
		zap.Int("after", r.AfterSize),
		zap.Int("expired", r.ExpiredRemoved))
	return r
}

// Summary counts items by type and importance.
type Summary struct {
	TotalItems   int            `json:"total_items"`
	ByType       map[string]int `json:"by_type"`
	ByImportance map[string]int `json:"by_importance"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Summary describes the stored items.
func (w *Window) Summary() Summary {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Summary{
		TotalItems:   len(w.items),
		ByType:       map[string]int{},
		ByImportance: map[string]int{},
		Timestamp:    w.now(),
	}
	for _, it := range w.items {
		s.ByType[string(it.Type)]++
		s.ByImportance[it.Importance.String()]++
	}
	return s
}

// ItemView is the display form of a live item.
type ItemView struct {
	Value       any     `json:"value"`
	Type        string  `json:"type"`
	Importance  string  `json:"importance"`
	AgeSeconds  float64 `json:"age_seconds"`
	AccessCount int     `json:"access_count"`
}

// Data returns every non-expired item keyed by its key.
func (w *Window) Data() map[string]ItemView {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	out := make(map[string]ItemView, len(w.items))
	for k, it := range w.items {
		if it.IsExpired(now) {
			continue
		}
		out[k] = ItemView{
			Value:       cloneAny(it.Value),
			Type:        string(it.Type),
			Importance:  it.Importance.String(),
			AgeSeconds:  it.Age(now).Seconds(),
			AccessCount: it.AccessCount,
		}
	}
	return out
}

// Items returns copies of every stored item ordered by key.
func (w *Window) Items() []*Item {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]*Item, 0, len(w.items))
	for _, it := range w.items {
		out = append(out, it.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// PurgeParams selects the items to purge. An empty Type matches every type;
// a zero OlderThan matches every age. With both unset nothing is purged.
type PurgeParams struct {
	Type      ContextType
	OlderThan time.Duration
}

// PurgeReport describes one purge.
type PurgeReport struct {
	Purged    int `json:"purged_items"`
	Remaining int `json:"remaining_items"`
}

// Purge removes the items matching p.
func (w *Window) Purge(p PurgeParams) PurgeReport {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p.Type == "" && p.OlderThan <= 0 {
		return PurgeReport{Remaining: len(w.items)}
	}
	now := w.now()
	n := 0
	for k, it := range w.items {
		if p.Type != "" && it.Type != p.Type {
			continue
		}
		if p.OlderThan > 0 && !it.Timestamp.Before(now.Add(-p.OlderThan)) {
			continue
		}
		delete(w.items, k)
		n++
	}
	return PurgeReport{Purged: n, Remaining: len(w.items)}
}

// TakeSnapshot records and returns a copy of the current items.
func (w *Window) TakeSnapshot() *Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := newSnapshot(w.items, w.now())
	w.snapshots = append(w.snapshots, s)
	return s
}

// Snapshots returns every snapshot taken so far, oldest first.
func (w *Window) Snapshots() []*Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*Snapshot(nil), w.snapshots...)
}

// CompressionHistory returns the compactor's history.
func (w *Window) CompressionHistory() []CompressionRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.compactor.History()
}

// Summaries renders every stored item as a display line.
func (w *Window) Summaries() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Summarize(w.items)
}

// UsedTokens estimates the window's token use at four bytes per token.
func (w *Window) UsedTokens() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return SizeBytes(w.items) / bytesPerToken
}
