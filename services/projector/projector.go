package projector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"merchant-voucher/services/balance"
	"merchant-voucher/services/catalog"
	"merchant-voucher/services/claimpool"
	"merchant-voucher/services/event"
	"merchant-voucher/services/merchant"
	"merchant-voucher/services/outcome"
	"merchant-voucher/services/redemption"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// ErrLogCorrupted halts replay. Ingestion stays refused until Rebuild
// succeeds.
var ErrLogCorrupted = errors.New("projector: event log corrupted")

// Views are the materialized components the projector writes to. They are
// only safe to touch through Projector.Read or from inside the projector.
type Views struct {
	Registry *merchant.Registry
	Catalog  *catalog.Catalog
	Ledger   *balance.Ledger
	Pool     *claimpool.Pool
	Engine   *redemption.Engine
	Recorder redemption.Recorder
}

func NewViews(recorder redemption.Recorder) Views {
	registry := merchant.NewRegistry()
	cat := catalog.New()
	ledger := balance.NewLedger()
	return Views{
		Registry: registry,
		Catalog:  cat,
		Ledger:   ledger,
		Pool:     claimpool.New(ledger),
		Engine:   redemption.NewEngine(registry, cat, ledger, recorder),
		Recorder: recorder,
	}
}

// reset empties every view. The recorder is emptied too, since replay
// records every use again.
func (v Views) reset() {
	v.Registry.Reset()
	v.Catalog.Reset()
	v.Ledger.Reset()
	v.Pool.Reset()
	if r, ok := v.Recorder.(interface{ Reset() }); ok {
		r.Reset()
	}
}

type Result struct {
	Applied    int  `json:"applied"`
	Duplicates int  `json:"duplicates"`
	Skipped    int  `json:"skipped"`
	Rebuilt    bool `json:"rebuilt"`
}

type Status struct {
	Watermark event.Position `json:"watermark"`
	Events    int            `json:"events"`
	Corrupted bool           `json:"corrupted"`
	Reason    string         `json:"reason,omitempty"`
}

type Options struct {
	RecentSize int
}

// Projector is the single writer of the materialized views. Ingest and
// Rebuild hold the write lock; readers go through Read.
type Projector struct {
	mu    sync.RWMutex
	store event.Store
	views Views
	opts  Options

	seen      map[event.Key]string
	positions map[event.Position]event.Key
	txs       map[common.Hash][]event.Event
	outcomes  map[event.Key]outcome.Outcome
	skipped   map[event.Key]bool
	watermark event.Position
	applied   bool
	recent    []event.Event
	corrupted error

	// counted survives rebuilds so a replayed use is only counted once
	counted map[event.Key]bool
}

func New(store event.Store, views Views, opts Options) *Projector {
	if opts.RecentSize <= 0 {
		opts.RecentSize = 200
	}
	p := &Projector{
		store:   store,
		views:   views,
		opts:    opts,
		counted: make(map[event.Key]bool),
	}
	p.resetIndex()
	return p
}

func (p *Projector) resetIndex() {
	p.seen = make(map[event.Key]string)
	p.positions = make(map[event.Position]event.Key)
	p.txs = make(map[common.Hash][]event.Event)
	p.outcomes = make(map[event.Key]outcome.Outcome)
	p.skipped = make(map[event.Key]bool)
	p.watermark = event.Position{}
	p.applied = false
	p.recent = nil
}

func (p *Projector) halt(format string, args ...any) error {
	err := fmt.Errorf("%w: "+format, append([]any{ErrLogCorrupted}, args...)...)
	p.corrupted = err
	corruptionsTotal.Inc()
	zap.L().Error("replay halted", zap.Error(err))
	return err
}

// screen splits a batch into unseen events, counting exact duplicates. A key
// with a different fingerprint, or a position claimed by two keys, is fatal.
func (p *Projector) screen(events []event.Event) ([]event.Event, int, error) {
	fresh := make([]event.Event, 0, len(events))
	batchSeen := make(map[event.Key]string, len(events))
	batchPos := make(map[event.Position]event.Key, len(events))
	duplicates := 0

	for _, e := range events {
		key, pos, fp := e.Key(), e.Position(), e.Fingerprint()

		known, ok := p.seen[key]
		if !ok {
			known, ok = batchSeen[key]
		}
		if ok {
			if known != fp {
				return nil, 0, p.halt("event %s replayed with a different payload", key)
			}
			duplicates++
			continue
		}

		owner, ok := p.positions[pos]
		if !ok {
			owner, ok = batchPos[pos]
		}
		if ok && owner != key {
			return nil, 0, p.halt("position %s claimed by %s and %s", pos, owner, key)
		}

		batchSeen[key] = fp
		batchPos[pos] = key
		fresh = append(fresh, e)
	}

	return fresh, duplicates, nil
}

// Ingest persists unseen events and applies them in ledger order. An event
// below the applied watermark triggers a full rebuild from the store.
func (p *Projector) Ingest(ctx context.Context, events []event.Event) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.corrupted != nil {
		return Result{}, p.corrupted
	}

	fresh, duplicates, err := p.screen(events)
	if err != nil {
		return Result{}, err
	}
	res := Result{Duplicates: duplicates}
	duplicatesTotal.Add(float64(duplicates))
	if len(fresh) == 0 {
		return res, nil
	}

	event.SortByPosition(fresh)

	if _, err := p.store.Append(ctx, fresh); err != nil {
		return res, fmt.Errorf("append events: %w", err)
	}

	if p.applied && fresh[0].Position().Less(p.watermark) {
		zap.L().Info("out-of-order events, rebuilding views",
			zap.Stringer("watermark", p.watermark),
			zap.Stringer("earliest", fresh[0].Position()),
		)
		rebuilt, err := p.rebuild(ctx)
		if err != nil {
			return res, err
		}
		rebuilt.Duplicates = duplicates
		return rebuilt, nil
	}

	for _, e := range fresh {
		if p.apply(ctx, e) {
			res.Applied++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}

// Rebuild resets every view and replays the stored log. It clears a previous
// corruption halt when the stored log replays cleanly.
func (p *Projector) Rebuild(ctx context.Context) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rebuild(ctx)
}

func (p *Projector) rebuild(ctx context.Context) (Result, error) {
	events, err := p.store.Load(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load events: %w", err)
	}

	p.views.reset()
	p.resetIndex()
	p.corrupted = nil
	rebuildsTotal.Inc()

	fresh, duplicates, err := p.screen(events)
	if err != nil {
		return Result{}, err
	}

	res := Result{Duplicates: duplicates, Rebuilt: true}
	event.SortByPosition(fresh)
	for _, e := range fresh {
		if p.apply(ctx, e) {
			res.Applied++
		} else {
			res.Skipped++
		}
	}

	zap.L().Info("views rebuilt",
		zap.Int("applied", res.Applied),
		zap.Int("skipped", res.Skipped),
		zap.Stringer("watermark", p.watermark),
	)
	return res, nil
}

// CheckHead halts replay when the ledger reports a head below what has
// already been applied.
func (p *Projector) CheckHead(head uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.corrupted != nil {
		return p.corrupted
	}
	if p.applied && head < p.watermark.Block {
		return p.halt("chain head %d is below applied block %d", head, p.watermark.Block)
	}
	return nil
}

// track indexes an event as seen regardless of whether it could be applied,
// so a malformed event is never retried.
func (p *Projector) track(e event.Event) {
	key := e.Key()
	p.seen[key] = e.Fingerprint()
	p.positions[e.Position()] = key
	p.txs[e.TxHash] = append(p.txs[e.TxHash], e)
	if !p.applied || p.watermark.Less(e.Position()) {
		p.watermark = e.Position()
	}
	p.applied = true

	p.recent = append(p.recent, e)
	if len(p.recent) > p.opts.RecentSize {
		p.recent = p.recent[len(p.recent)-p.opts.RecentSize:]
	}
}

func (p *Projector) Seen(key event.Key) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.seen[key]
	return ok
}

// Read runs fn under the read lock.
func (p *Projector) Read(fn func(v Views)) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fn(p.views)
}

// Outcome returns the replay verdict of a VoucherUsed or VoucherClaimed event.
func (p *Projector) Outcome(key event.Key) (outcome.Outcome, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	o, ok := p.outcomes[key]
	return o, ok
}

// TxOutcome resolves a transaction once it holds an applied event that
// satisfies match. Events of the transaction that match is not looking for,
// or that were skipped, leave it unresolved. A rejected match wins over
// accepted ones.
func (p *Projector) TxOutcome(txHash common.Hash, match func(event.Payload) bool) (outcome.Outcome, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	found := false
	for _, e := range p.txs[txHash] {
		key := e.Key()
		if p.skipped[key] {
			continue
		}
		payload, err := event.Decode(e)
		if err != nil || !match(payload) {
			continue
		}
		if o, ok := p.outcomes[key]; ok && o.IsRejected() {
			return o, true
		}
		found = true
	}
	if !found {
		return outcome.Outcome{}, false
	}
	return outcome.Accept(), true
}

// Recent returns up to limit of the latest events, newest TriggeredAt first.
func (p *Projector) Recent(limit int) []event.Event {
	p.mu.RLock()
	out := make([]event.Event, len(p.recent))
	copy(out, p.recent)
	p.mu.RUnlock()

	event.SortByTriggeredAtDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ReadStatus runs fn under the read lock together with the status the views
// correspond to.
func (p *Projector) ReadStatus(fn func(v Views, s Status)) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fn(p.views, p.status())
}

func (p *Projector) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status()
}

func (p *Projector) status() Status {
	s := Status{Watermark: p.watermark, Events: len(p.seen), Corrupted: p.corrupted != nil}
	if p.corrupted != nil {
		s.Reason = p.corrupted.Error()
	}
	return s
}
