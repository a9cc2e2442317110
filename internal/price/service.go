package price

import (
	"github.com/coinpaprika/coinpaprika-api-go-client/v2/coinpaprika"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"levels-telegram-bot/internal/types"
	"sync"
)

// Service answers quote lookups against the CoinPaprika API. Resolved coin
// ids are cached per symbol so a polling monitor does not repeat the search
// on every tick.
type Service struct {
	client *coinpaprika.Client

	mu  sync.Mutex
	ids map[string]string
}

// NewService builds a Service over the public API, or the pro API when a key
// is configured.
func NewService(apiKey string) *Service {
	if apiKey != "" {
		return NewServiceWithClient(coinpaprika.NewClient(nil, coinpaprika.WithAPIKey(apiKey)))
	}
	return NewServiceWithClient(coinpaprika.NewClient(nil))
}

// NewServiceWithClient wraps an already configured API client.
func NewServiceWithClient(client *coinpaprika.Client) *Service {
	return &Service{client: client, ids: make(map[string]string)}
}

// Quote resolves symbol to a coin and fetches its current USD quote.
func (s *Service) Quote(symbol string) (types.Quote, error) {
	id, err := s.resolve(symbol)
	if err != nil {
		return types.Quote{}, err
	}

	ticker, err := s.client.Tickers.GetByID(id, &coinpaprika.TickersOptions{Quotes: "USD"})
	if err != nil {
		return types.Quote{}, errors.Wrapf(err, "could not fetch ticker %s", id)
	}

	usd, ok := ticker.Quotes["USD"]
	if ticker.Name == nil || ticker.Symbol == nil || !ok || usd.Price == nil {
		return types.Quote{}, errors.Errorf("coin %s has no usable quote", id)
	}

	q := types.Quote{
		Symbol: *ticker.Symbol,
		Name:   *ticker.Name,
		Price:  *usd.Price,
	}
	if usd.PercentChange24h != nil {
		q.PercentChange24h = *usd.PercentChange24h
	}
	return q, nil
}

// resolve maps a symbol to its coin id, consulting the cache first.
func (s *Service) resolve(symbol string) (string, error) {
	s.mu.Lock()
	if id, ok := s.ids[symbol]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	coin, err := s.search(symbol)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.ids[symbol] = *coin.ID
	s.mu.Unlock()

	log.Debugf("resolved %s to %s", symbol, *coin.ID)
	return *coin.ID, nil
}

// search looks a coin up by symbol, falling back to a name search when the
// symbol search comes up empty.
func (s *Service) search(query string) (*coinpaprika.Coin, error) {
	searchOpts := &coinpaprika.SearchOptions{
		Query:      query,
		Categories: "currencies",
		Modifier:   "symbol_search",
	}
	result, err := s.client.Search.Search(searchOpts)
	if err != nil || len(result.Currencies) == 0 {
		log.Debugf("no results for symbol search, trying name search for '%s'", query)
		searchOpts = &coinpaprika.SearchOptions{Query: query, Categories: "currencies"}
		result, err = s.client.Search.Search(searchOpts)
		if err != nil || len(result.Currencies) == 0 {
			return nil, errors.Errorf("invalid coin name, ticker, or symbol: %s", query)
		}
	}

	return result.Currencies[0], nil
}
