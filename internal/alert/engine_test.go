package alert

import (
	"context"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"levels-telegram-bot/internal/types"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// stubFeed replays a scripted sequence of results per symbol, then parks
// until the subscription context is cancelled so monitors stay alive.
type stubFeed struct {
	mu      sync.Mutex
	scripts map[string][]types.PriceResult
	streams atomic.Int32
}

func newStubFeed() *stubFeed {
	return &stubFeed{scripts: make(map[string][]types.PriceResult)}
}

func (f *stubFeed) script(symbol string, results ...types.PriceResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[symbol] = results
}

func (f *stubFeed) Stream(ctx context.Context, symbols []string, _ time.Duration) <-chan types.PriceResult {
	f.streams.Add(1)

	f.mu.Lock()
	script := f.scripts[symbols[0]]
	f.mu.Unlock()

	ch := make(chan types.PriceResult)
	go func() {
		defer close(ch)
		for _, res := range script {
			select {
			case ch <- res:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return ch
}

func quoteResult(symbol string, price float64) types.PriceResult {
	return types.PriceResult{Update: types.PriceUpdate{
		Prices:    []types.Quote{{Symbol: symbol, Price: price}},
		Timestamp: time.Now(),
	}}
}

type sentMessage struct {
	dest Destination
	text string
}

// recorderNotifier captures deliveries in memory.
type recorderNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (n *recorderNotifier) Send(_ context.Context, dest Destination, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{dest: dest, text: text})
	return nil
}

func (n *recorderNotifier) texts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	for i, m := range n.sent {
		out[i] = m.text
	}
	return out
}

// memStore is an in-memory Store with injectable failures.
type memStore struct {
	mu      sync.Mutex
	data    map[string][]Alert
	saves   map[string]int
	loadErr error
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{
		data:  make(map[string][]Alert),
		saves: make(map[string]int),
	}
}

func (s *memStore) LoadAll(_ context.Context) (map[string][]Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make(map[string][]Alert, len(s.data))
	for symbol, alerts := range s.data {
		out[symbol] = cloneAlerts(alerts)
	}
	return out, nil
}

func (s *memStore) Save(_ context.Context, symbol string, alerts []Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves[symbol]++
	if len(alerts) == 0 {
		delete(s.data, symbol)
		return nil
	}
	s.data[symbol] = cloneAlerts(alerts)
	return nil
}

func (s *memStore) seed(symbol string, alerts ...Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[symbol] = cloneAlerts(alerts)
}

func (s *memStore) stored(symbol string) []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAlerts(s.data[symbol])
}

func (s *memStore) has(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[symbol]
	return ok
}

func (s *memStore) savesFor(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[symbol]
}

func makeAlert(symbol, id string, levels ...Level) Alert {
	return Alert{
		ID:           id,
		Symbol:       symbol,
		CreatedAt:    time.Now().UTC(),
		CreatedPrice: 683.63,
		Destination:  Destination{ChatID: 42},
		Levels:       levels,
	}
}

func TestRegisterPersistsAndStartsMonitor(t *testing.T) {
	feed := newStubFeed()
	notifier := &recorderNotifier{}
	store := newMemStore()
	e := NewEngine(feed, notifier, store)

	a, err := ParseMessage(spyBlock, Destination{ChatID: 77, MessageID: 3})
	require.NoError(t, err)

	stored, err := e.Register(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, a.ID, stored.ID)

	persisted := store.stored("SPY")
	require.Len(t, persisted, 1)
	assert.Len(t, persisted[0].Levels, 8)

	assert.Equal(t, 1, e.ActiveWatches())
	assert.Equal(t, uint64(1), e.Registered())
	require.Eventually(t, func() bool { return e.ActiveMonitors() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestRegisterRollsBackWhenStoreFails(t *testing.T) {
	feed := newStubFeed()
	store := newMemStore()
	store.saveErr = errors.New("redis gone")
	e := NewEngine(feed, &recorderNotifier{}, store)

	a, err := ParseMessage(spyBlock, Destination{ChatID: 77})
	require.NoError(t, err)

	_, err = e.Register(context.Background(), a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not persist watches for SPY")

	assert.Equal(t, 0, e.ActiveWatches())
	assert.Equal(t, 0, e.ActiveMonitors())
	assert.Equal(t, uint64(0), e.Registered())
	assert.Empty(t, e.Snapshot())
}

func TestRegisterRejectsWatchWithNoLevels(t *testing.T) {
	e := NewEngine(newStubFeed(), &recorderNotifier{}, nil)

	a := makeAlert("SPY", "SPY-1",
		Level{Label: "Lambda", Target: 684.5, Direction: AtOrAbove, Fired: true})

	_, err := e.Register(context.Background(), a)
	require.Error(t, err)
	assert.Equal(t, 0, e.ActiveWatches())
}

func TestRegisterFromMessageRejectsBadBlock(t *testing.T) {
	e := NewEngine(newStubFeed(), &recorderNotifier{}, newMemStore())

	_, err := e.RegisterFromMessage(context.Background(), "nonsense", Destination{ChatID: 1})
	require.Error(t, err)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 0, e.ActiveWatches())
}

func TestRegisterWithoutStoreKeepsWatchInMemory(t *testing.T) {
	e := NewEngine(newStubFeed(), &recorderNotifier{}, nil)

	a, err := ParseMessage(spyBlock, Destination{ChatID: 77})
	require.NoError(t, err)

	_, err = e.Register(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, 1, e.ActiveWatches())
}

func TestHydrateRebuildsRegistryAndMonitors(t *testing.T) {
	feed := newStubFeed()
	store := newMemStore()
	store.seed("SPY", makeAlert("SPY", "SPY-1",
		Level{Label: "Lambda", Target: 684.5, Direction: AtOrAbove},
		Level{Label: "FAIL SAFE", Target: 681, Direction: AtOrBelow, Fired: true}))
	store.seed("QQQ", makeAlert("QQQ", "QQQ-1",
		Level{Label: "PT1 Upside", Target: 500, Direction: AtOrAbove}))

	e := NewEngine(feed, &recorderNotifier{}, store)
	assert.Equal(t, 0, e.ActiveMonitors())

	require.NoError(t, e.Hydrate(context.Background()))

	snap := e.Snapshot()
	require.Len(t, snap, 2)
	require.Len(t, snap["SPY"], 1)
	assert.Equal(t, "SPY-1", snap["SPY"][0].ID)
	assert.True(t, snap["SPY"][0].Levels[1].Fired)
	require.Len(t, snap["QQQ"], 1)

	require.Eventually(t, func() bool { return e.ActiveMonitors() == 2 },
		time.Second, 5*time.Millisecond)
}

func TestHydrateDropsExhaustedWatches(t *testing.T) {
	store := newMemStore()
	store.seed("SPY", makeAlert("SPY", "SPY-1",
		Level{Label: "Lambda", Target: 684.5, Direction: AtOrAbove, Fired: true}))

	e := NewEngine(newStubFeed(), &recorderNotifier{}, store)
	require.NoError(t, e.Hydrate(context.Background()))

	assert.Empty(t, e.Snapshot())
	assert.Equal(t, 0, e.ActiveMonitors())
}

func TestHydrateWithoutStoreIsNoop(t *testing.T) {
	e := NewEngine(newStubFeed(), &recorderNotifier{}, nil)
	require.NoError(t, e.Hydrate(context.Background()))
	assert.Equal(t, 0, e.ActiveMonitors())
}

func TestHydrateReportsStoreOutage(t *testing.T) {
	store := newMemStore()
	store.loadErr = errors.New("connection refused")

	e := NewEngine(newStubFeed(), &recorderNotifier{}, store)
	err := e.Hydrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not load persisted watches")
}

func TestEnsureMonitorSpawnsExactlyOneTask(t *testing.T) {
	feed := newStubFeed()
	e := NewEngine(feed, &recorderNotifier{}, nil)

	e.mu.Lock()
	e.alerts["SPY"] = []Alert{makeAlert("SPY", "SPY-1",
		Level{Label: "Lambda", Target: 1000, Direction: AtOrAbove})}
	e.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.ensureMonitor("SPY")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, e.ActiveMonitors())
	require.Eventually(t, func() bool { return feed.streams.Load() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), feed.streams.Load())
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	e := NewEngine(newStubFeed(), &recorderNotifier{}, nil)

	a, err := ParseMessage(spyBlock, Destination{ChatID: 77})
	require.NoError(t, err)
	_, err = e.Register(context.Background(), a)
	require.NoError(t, err)

	snap := e.Snapshot()
	snap["SPY"][0].Levels[0].Fired = true

	again := e.Snapshot()
	assert.False(t, again["SPY"][0].Levels[0].Fired)
}
