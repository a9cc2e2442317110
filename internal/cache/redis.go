package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"levels-telegram-bot/internal/alert"
)

const symbolSetKey = "price_alerts:symbols"

// NewClient opens a Redis client from a URL like redis://localhost:6379/0.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse redis url")
	}
	return redis.NewClient(opts), nil
}

// AlertStore keeps outstanding watches in Redis, one JSON array per symbol
// plus an index set naming the symbols that have entries. Entries carry no
// TTL; a watch leaves the store only by being saved away.
type AlertStore struct {
	client *redis.Client
}

var _ alert.Store = (*AlertStore)(nil)

func NewAlertStore(client *redis.Client) *AlertStore {
	return &AlertStore{client: client}
}

// alertsKey returns the Redis key holding one symbol's watches.
func (s *AlertStore) alertsKey(symbol string) string {
	return fmt.Sprintf("price_alerts:%s", symbol)
}

// LoadAll walks the index set and decodes each symbol's watches. A symbol
// with a missing or empty entry is cleaned out of the index, an unreadable
// one is skipped with a warning. Only a failure to read the index itself
// comes back as an error.
func (s *AlertStore) LoadAll(ctx context.Context) (map[string][]alert.Alert, error) {
	symbols, err := s.client.SMembers(ctx, symbolSetKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "could not read symbol index")
	}

	out := make(map[string][]alert.Alert, len(symbols))
	for _, symbol := range symbols {
		data, err := s.client.Get(ctx, s.alertsKey(symbol)).Bytes()
		if errors.Is(err, redis.Nil) {
			log.Warnf("symbol %s is indexed but has no entry, removing it", symbol)
			if err := s.clear(ctx, symbol); err != nil {
				log.Warn(err)
			}
			continue
		}
		if err != nil {
			log.Warnf("could not read watches for %s: %v", symbol, err)
			continue
		}

		var alerts []alert.Alert
		if err := json.Unmarshal(data, &alerts); err != nil {
			log.Warnf("could not decode watches for %s: %v", symbol, err)
			continue
		}
		if len(alerts) == 0 {
			if err := s.clear(ctx, symbol); err != nil {
				log.Warn(err)
			}
			continue
		}
		out[symbol] = alerts
	}
	return out, nil
}

// Save replaces the stored set for one symbol. An empty set clears both the
// entry and the index membership so hydration never resurrects it.
func (s *AlertStore) Save(ctx context.Context, symbol string, alerts []alert.Alert) error {
	if len(alerts) == 0 {
		return s.clear(ctx, symbol)
	}

	data, err := json.Marshal(alerts)
	if err != nil {
		return errors.Wrapf(err, "could not encode watches for %s", symbol)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.alertsKey(symbol), data, 0)
		pipe.SAdd(ctx, symbolSetKey, symbol)
		return nil
	})
	return errors.Wrapf(err, "could not store watches for %s", symbol)
}

func (s *AlertStore) clear(ctx context.Context, symbol string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.alertsKey(symbol))
		pipe.SRem(ctx, symbolSetKey, symbol)
		return nil
	})
	return errors.Wrapf(err, "could not clear watches for %s", symbol)
}
