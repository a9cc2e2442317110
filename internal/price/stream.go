package price

import (
	"context"
	log "github.com/sirupsen/logrus"
	"levels-telegram-bot/internal/types"
	"time"
)

// Stream polls quotes for symbols on the given cadence and delivers batched
// updates until ctx is cancelled. The first poll happens right away. A failed
// poll travels in-band as PriceResult.Err so the consumer decides how to back
// off; the channel closes only on cancellation.
func (s *Service) Stream(ctx context.Context, symbols []string, interval time.Duration) <-chan types.PriceResult {
	if interval <= 0 {
		interval = time.Second
	}

	ch := make(chan types.PriceResult)
	go func() {
		defer close(ch)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			res := s.poll(symbols)
			select {
			case ch <- res:
			case <-ctx.Done():
				return
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// poll fetches every symbol once and folds the results into one update. The
// batch degrades to an error only when no symbol produced a quote; partial
// results pass through as a normal update.
func (s *Service) poll(symbols []string) types.PriceResult {
	update := types.PriceUpdate{Timestamp: time.Now().UTC()}

	var lastErr error
	for _, symbol := range symbols {
		q, err := s.Quote(symbol)
		if err != nil {
			log.Debugf("quote poll failed for %s: %v", symbol, err)
			lastErr = err
			continue
		}
		update.Prices = append(update.Prices, q)
	}

	if len(update.Prices) == 0 && lastErr != nil {
		return types.PriceResult{Err: lastErr}
	}
	return types.PriceResult{Update: update}
}
