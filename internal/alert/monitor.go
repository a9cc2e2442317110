package alert

import (
	"context"
	"fmt"
	log "github.com/sirupsen/logrus"
	"levels-telegram-bot/internal/types"
	"strings"
	"time"
)

type firing struct {
	dest Destination
	text string
}

// runMonitor is the per-symbol loop. It consumes the price stream until the
// symbol has no outstanding watches left, then returns so the engine can
// retire its task table entry. A single bad stream item never ends the loop;
// the monitor logs, sleeps the backoff, and keeps consuming.
func (e *Engine) runMonitor(symbol string) {
	log.Infof("starting monitor for %s", symbol)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for res := range e.feed.Stream(ctx, []string{symbol}, e.interval) {
		if res.Err != nil {
			log.Warnf("price stream error for %s: %v", symbol, res.Err)
			time.Sleep(e.backoff)
			continue
		}

		quote, ok := matchQuote(res.Update, symbol)
		if !ok {
			log.Warnf("no usable price for %s in update", symbol)
			continue
		}

		if done := e.handlePrice(ctx, symbol, quote.Price); done {
			log.Infof("no watches left for %s, stopping monitor", symbol)
			return
		}
	}

	// The stream closed underneath us while watches remain. Back off before
	// returning so the restart in monitorExited cannot spin.
	e.mu.Lock()
	_, alive := e.alerts[symbol]
	e.mu.Unlock()
	if alive {
		log.Warnf("price stream for %s ended early, restarting after backoff", symbol)
		time.Sleep(e.backoff)
	}
}

// matchQuote picks symbol's entry out of a batched update, falling back to
// the first quote when no exact match exists. The fallback can hand back
// another instrument's price when several symbols share one stream; monitors
// subscribe a single symbol at a time, which keeps the first entry correct.
func matchQuote(u types.PriceUpdate, symbol string) (types.Quote, bool) {
	if len(u.Prices) == 0 {
		return types.Quote{}, false
	}
	for _, q := range u.Prices {
		if strings.EqualFold(q.Symbol, symbol) {
			return q, true
		}
	}
	return u.Prices[0], true
}

// handlePrice runs one evaluation pass and performs the follow-up I/O in the
// order notify-all-then-persist, outside the registry lock. It reports true
// when the symbol has drained and the monitor should stop.
func (e *Engine) handlePrice(ctx context.Context, symbol string, price float64) bool {
	firings, remaining, empty := e.evaluate(symbol, price)

	for _, f := range firings {
		if err := e.notifier.Send(ctx, f.dest, f.text); err != nil {
			log.Warnf("could not deliver %q for %s: %v", f.text, symbol, err)
		} else {
			log.Infof("fired %q for %s", f.text, symbol)
		}
		e.fired.Add(1)
	}

	if e.store != nil {
		if err := e.store.Save(ctx, symbol, remaining); err != nil {
			log.Warnf("could not persist watches for %s: %v", symbol, err)
		}
	}

	return empty
}

// evaluate applies one price tick to every watch under symbol. Levels are
// checked in creation order; a hit flips Fired and is collected for delivery.
// Exhausted watches are dropped, and when none survive the symbol key is
// removed from the registry. All of this happens under the registry lock with
// no I/O; the returned slice is a deep copy safe to persist after release.
func (e *Engine) evaluate(symbol string, price float64) (firings []firing, remaining []Alert, empty bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	alerts := e.alerts[symbol]
	for i := range alerts {
		for j := range alerts[i].Levels {
			lvl := &alerts[i].Levels[j]
			if lvl.Fired || !lvl.Direction.Hit(price, lvl.Target) {
				continue
			}
			lvl.Fired = true
			firings = append(firings, firing{
				dest: alerts[i].Destination,
				text: fmt.Sprintf("%s %.2f HIT", lvl.Label, lvl.Target),
			})
		}
	}

	kept := alerts[:0]
	for _, a := range alerts {
		if !a.exhausted() {
			kept = append(kept, a)
		}
	}

	if len(kept) == 0 {
		delete(e.alerts, symbol)
		return firings, nil, true
	}
	e.alerts[symbol] = kept
	return firings, cloneAlerts(kept), false
}
