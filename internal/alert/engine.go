package alert

import (
	"context"
	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"levels-telegram-bot/internal/types"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultInterval = 2 * time.Second
	defaultBackoff  = time.Second
)

// Store persists outstanding watches per symbol. Saving an empty set must
// clear the symbol's entry so a restart cannot resurrect finished watches.
// There is no cross-symbol atomicity; each symbol is its own record.
type Store interface {
	LoadAll(ctx context.Context) (map[string][]Alert, error)
	Save(ctx context.Context, symbol string, alerts []Alert) error
}

// Feed produces batched price updates for a set of symbols until ctx is
// cancelled. Failures travel in-band as PriceResult.Err; the channel stays
// open across them.
type Feed interface {
	Stream(ctx context.Context, symbols []string, interval time.Duration) <-chan types.PriceResult
}

// Notifier delivers a fired-level message to the chat a watch came from.
// Delivery is best effort; a failed send is logged, never retried.
type Notifier interface {
	Send(ctx context.Context, dest Destination, text string) error
}

// Engine owns the live registry of outstanding watches and the monitor
// goroutines that evaluate them. The registry and the task table are guarded
// by separate mutexes, and neither lock is ever held across I/O.
type Engine struct {
	feed     Feed
	notifier Notifier
	store    Store

	interval time.Duration
	backoff  time.Duration

	mu     sync.Mutex
	alerts map[string][]Alert

	tasksMu sync.Mutex
	tasks   map[string]struct{}

	registered atomic.Uint64
	fired      atomic.Uint64
}

// Option adjusts an Engine at construction.
type Option func(*Engine)

// WithInterval sets the poll cadence handed to the price feed.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithBackoff sets how long a monitor sleeps after a feed error.
func WithBackoff(d time.Duration) Option {
	return func(e *Engine) { e.backoff = d }
}

// NewEngine wires an engine around its collaborators. store may be nil, in
// which case watches live only in memory and hydration is a no-op.
func NewEngine(feed Feed, notifier Notifier, store Store, opts ...Option) *Engine {
	e := &Engine{
		feed:     feed,
		notifier: notifier,
		store:    store,
		interval: defaultInterval,
		backoff:  defaultBackoff,
		alerts:   make(map[string][]Alert),
		tasks:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Hydrate rebuilds the registry from the store and starts a monitor for every
// symbol that still has outstanding watches. Meant to run once at startup,
// before any registrations arrive.
func (e *Engine) Hydrate(ctx context.Context) error {
	if e.store == nil {
		log.Debug("no store configured, skipping hydration")
		return nil
	}

	loaded, err := e.store.LoadAll(ctx)
	if err != nil {
		return errors.Wrap(err, "could not load persisted watches")
	}
	log.Debugf("hydrating watches: %s", spew.Sdump(loaded))

	count := 0
	e.mu.Lock()
	for symbol, alerts := range loaded {
		live := make([]Alert, 0, len(alerts))
		for _, a := range alerts {
			if a.Outstanding() > 0 {
				live = append(live, a.clone())
			}
		}
		if len(live) == 0 {
			continue
		}
		e.alerts[symbol] = live
		count += len(live)
	}
	symbols := make([]string, 0, len(e.alerts))
	for symbol := range e.alerts {
		symbols = append(symbols, symbol)
	}
	e.mu.Unlock()

	for _, symbol := range symbols {
		e.ensureMonitor(symbol)
	}

	log.Infof("hydrated %d watches across %d symbols", count, len(symbols))
	return nil
}

// Register adds a watch to the registry, persists the full set for its
// symbol, and makes sure a monitor is running. The registry insert is undone
// when the store write fails, so the caller is never told a watch is live
// that a restart would lose.
func (e *Engine) Register(ctx context.Context, a Alert) (Alert, error) {
	if a.Outstanding() == 0 {
		return Alert{}, errors.Errorf("watch %s has no levels to monitor", a.ID)
	}

	stored := a.clone()

	e.mu.Lock()
	e.alerts[stored.Symbol] = append(e.alerts[stored.Symbol], stored)
	snapshot := cloneAlerts(e.alerts[stored.Symbol])
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.Save(ctx, stored.Symbol, snapshot); err != nil {
			e.removeAlert(stored.Symbol, stored.ID)
			return Alert{}, errors.Wrapf(err, "could not persist watches for %s", stored.Symbol)
		}
	}

	e.registered.Add(1)
	e.ensureMonitor(stored.Symbol)

	log.Infof("registered watch %s with %d levels", stored.ID, len(stored.Levels))
	return stored.clone(), nil
}

// RegisterFromMessage parses a pasted watch block and registers the result.
func (e *Engine) RegisterFromMessage(ctx context.Context, raw string, dest Destination) (Alert, error) {
	a, err := ParseMessage(raw, dest)
	if err != nil {
		return Alert{}, err
	}
	return e.Register(ctx, a)
}

// ensureMonitor spawns a monitor goroutine for symbol unless one is already
// running. The check and the table insert happen under one lock so concurrent
// registrations cannot double-spawn; the spawn itself runs after release.
func (e *Engine) ensureMonitor(symbol string) {
	e.tasksMu.Lock()
	if _, running := e.tasks[symbol]; running {
		e.tasksMu.Unlock()
		return
	}
	e.tasks[symbol] = struct{}{}
	e.tasksMu.Unlock()

	go func() {
		e.runMonitor(symbol)
		e.monitorExited(symbol)
	}()
}

// monitorExited clears symbol's task table entry once its goroutine returns.
// A registration that arrived while the monitor was draining saw the stale
// entry and skipped the spawn, so the registry is re-checked here and the
// monitor restarted if watches remain.
func (e *Engine) monitorExited(symbol string) {
	e.tasksMu.Lock()
	delete(e.tasks, symbol)
	e.tasksMu.Unlock()

	e.mu.Lock()
	_, alive := e.alerts[symbol]
	e.mu.Unlock()

	if alive {
		e.ensureMonitor(symbol)
	}
}

func (e *Engine) removeAlert(symbol, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.alerts[symbol][:0]
	for _, a := range e.alerts[symbol] {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	if len(kept) == 0 {
		delete(e.alerts, symbol)
		return
	}
	e.alerts[symbol] = kept
}

// Snapshot returns a deep copy of the registry keyed by symbol.
func (e *Engine) Snapshot() map[string][]Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string][]Alert, len(e.alerts))
	for symbol, alerts := range e.alerts {
		out[symbol] = cloneAlerts(alerts)
	}
	return out
}

// ActiveWatches counts the watches currently outstanding across all symbols.
func (e *Engine) ActiveWatches() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, alerts := range e.alerts {
		n += len(alerts)
	}
	return n
}

// ActiveMonitors counts the monitor goroutines currently running.
func (e *Engine) ActiveMonitors() int {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()
	return len(e.tasks)
}

// Registered returns how many watches have been accepted since construction.
func (e *Engine) Registered() uint64 { return e.registered.Load() }

// Fired returns how many levels have fired since construction.
func (e *Engine) Fired() uint64 { return e.fired.Load() }
