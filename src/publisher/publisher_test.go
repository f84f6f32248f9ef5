package publisher

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"trading-hub/src/config"
	"trading-hub/src/logger"
	"trading-hub/src/metrics"
	"trading-hub/src/models"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

type fakePortfolio struct {
	mu    sync.Mutex
	snap  *models.MPortfolioData
	err   error
	calls int
}

func (f *fakePortfolio) set(total float64, positions int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := &models.MPortfolioData{TotalValue: total}
	for i := 0; i < positions; i++ {
		snap.Positions = append(snap.Positions, models.MPosition{Symbol: "SYM", Quantity: 1})
	}
	f.snap = snap
	f.err = nil
}

func (f *fakePortfolio) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakePortfolio) FetchPortfolioSnapshot(ctx context.Context) (*models.MPortfolioData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.snap
	return &cp, nil
}

// blockingPortfolio stalls its first fetch after reading the snapshot until
// release is closed.
type blockingPortfolio struct {
	inner   *fakePortfolio
	fetched chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func (b *blockingPortfolio) FetchPortfolioSnapshot(ctx context.Context) (*models.MPortfolioData, error) {
	snap, err := b.inner.FetchPortfolioSnapshot(ctx)

	b.mu.Lock()
	b.calls++
	first := b.calls == 1
	b.mu.Unlock()

	if first {
		close(b.fetched)
		<-b.release
	}
	return snap, err
}

type fakeMarket struct {
	mu   sync.Mutex
	snap *models.MMarketData
	err  error
}

func (f *fakeMarket) set(index float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = &models.MMarketData{
		IndexSymbol: "^GSPC",
		IndexValue:  index,
		Quotes: map[string]models.MQuote{
			"AAPL": {Symbol: "AAPL", Price: 190, PricePercentChange: 1.2},
		},
		FetchedAt: 1700000000000,
	}
}

func (f *fakeMarket) FetchMarketSnapshot(ctx context.Context) (*models.MMarketData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.snap
	return &cp, nil
}

type fakeNews struct {
	items []models.MNewsItem
}

func (f *fakeNews) FetchLatestNews(ctx context.Context) ([]models.MNewsItem, error) {
	items := f.items
	f.items = nil
	return items, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.MOutboundEvent
	full   bool
}

func (s *recordingSink) Publish(evt models.MOutboundEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.events = append(s.events, evt)
	return true
}

func (s *recordingSink) all() []models.MOutboundEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MOutboundEvent(nil), s.events...)
}

type memoryArchive struct {
	mu     sync.Mutex
	points []models.MMarketPoint
	news   []models.MNewsItem
}

func (a *memoryArchive) Initialize() error { return nil }
func (a *memoryArchive) Close() error      { return nil }

func (a *memoryArchive) SaveMarketPoints(ctx context.Context, points []models.MMarketPoint) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.points = append(a.points, points...)
	return nil
}

func (a *memoryArchive) SaveNewsItems(ctx context.Context, items []models.MNewsItem) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.news = append(a.news, items...)
	return nil
}

func (a *memoryArchive) LoadMarketPoints(ctx context.Context, symbol string, limit int) ([]models.MMarketPoint, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.MMarketPoint
	for _, p := range a.points {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

func (a *memoryArchive) CleanupOldData(ctx context.Context) error { return nil }

// -----------------------------------------------------------------------------

type fixture struct {
	pub       *ChangeGatedPublisher
	portfolio *fakePortfolio
	market    *fakeMarket
	news      *fakeNews
	sink      *recordingSink
	metrics   *metrics.Metrics
	clock     *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default().MConfig
	f := &fixture{
		portfolio: &fakePortfolio{},
		market:    &fakeMarket{},
		news:      &fakeNews{},
		sink:      &recordingSink{},
		metrics:   metrics.NewNop(),
		clock:     clockwork.NewFakeClock(),
	}
	f.portfolio.set(100000, 2)
	f.market.set(5000)

	log := logger.NewLoggerWithWriter(cfg, "publisher", io.Discard)
	sources := Sources{Portfolio: f.portfolio, Market: f.market, News: f.news}
	f.pub = NewChangeGatedPublisher(cfg, log, sources, f.sink, f.metrics, f.clock)
	return f
}

// -----------------------------------------------------------------------------
// Portfolio
// -----------------------------------------------------------------------------

func TestPollPortfolio_FirstSnapshotPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	published, err := f.pub.PollPortfolio(ctx)
	require.NoError(t, err)
	assert.True(t, published)

	events := f.sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, []string{models.TopicPortfolio}, events[0].Topics)
	assert.Equal(t, models.MsgPortfolioUpdate, events[0].Message.Type)
}

func TestPollPortfolio_ThresholdGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.pub.PollPortfolio(ctx)
	require.NoError(t, err)

	// 0.05% move stays under the 0.1% threshold.
	f.portfolio.set(100050, 2)
	published, err := f.pub.PollPortfolio(ctx)
	require.NoError(t, err)
	assert.False(t, published)

	// Still compared against 100000, not 100050.
	f.portfolio.set(100090, 2)
	published, _ = f.pub.PollPortfolio(ctx)
	assert.False(t, published)

	f.portfolio.set(100200, 2)
	published, _ = f.pub.PollPortfolio(ctx)
	assert.True(t, published)
	assert.Equal(t, 100200.0, f.pub.lastPortfolio.TotalValue)

	assert.Len(t, f.sink.all(), 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.PublisherCycles.WithLabelValues("portfolio", "unchanged")))
}

func TestPollPortfolio_PositionCountChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.pub.PollPortfolio(ctx)

	f.portfolio.set(100000, 3)
	published, err := f.pub.PollPortfolio(ctx)
	require.NoError(t, err)
	assert.True(t, published)
}

func TestPollPortfolio_FailureKeepsSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.pub.PollPortfolio(ctx)

	f.portfolio.fail(errors.New("brokerage down"))
	published, err := f.pub.PollPortfolio(ctx)
	assert.Error(t, err)
	assert.False(t, published)
	assert.Equal(t, 100000.0, f.pub.lastPortfolio.TotalValue)
	assert.Len(t, f.sink.all(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PublisherCycles.WithLabelValues("portfolio", "failed")))

	// Recovery compares against the last broadcast snapshot.
	f.portfolio.set(100010, 2)
	published, err = f.pub.PollPortfolio(ctx)
	require.NoError(t, err)
	assert.False(t, published)
}

func TestPollPortfolio_ZeroBaseline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.portfolio.set(0, 0)
	published, _ := f.pub.PollPortfolio(ctx)
	assert.True(t, published)

	published, _ = f.pub.PollPortfolio(ctx)
	assert.False(t, published)

	f.portfolio.set(10, 0)
	published, _ = f.pub.PollPortfolio(ctx)
	assert.True(t, published)
}

func TestRefreshPortfolio_BypassesGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.pub.PollPortfolio(ctx)

	require.NoError(t, f.pub.RefreshPortfolio(ctx))
	require.NoError(t, f.pub.RefreshPortfolio(ctx))

	events := f.sink.all()
	require.Len(t, events, 3)
	for _, evt := range events[1:] {
		assert.Equal(t, []string{models.TopicPortfolio, models.TopicTrading}, evt.Topics)
		assert.Equal(t, models.MsgPortfolioUpdate, evt.Message.Type)
	}
}

func TestRefreshPortfolio_SlowPollDoesNotOverwrite(t *testing.T) {
	f := newFixture(t)
	slow := &blockingPortfolio{inner: f.portfolio, fetched: make(chan struct{}), release: make(chan struct{})}
	f.pub.sources.Portfolio = slow
	ctx := context.Background()

	type result struct {
		published bool
		err       error
	}
	done := make(chan result, 1)
	go func() {
		published, err := f.pub.PollPortfolio(ctx)
		done <- result{published, err}
	}()

	// The poll has read 100000 and is stalled; a trade lands meanwhile.
	<-slow.fetched
	f.portfolio.set(95000, 2)
	require.NoError(t, f.pub.RefreshPortfolio(ctx))
	close(slow.release)

	res := <-done
	require.NoError(t, res.err)
	assert.False(t, res.published)

	events := f.sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, 95000.0, events[0].Message.Data.(*models.MPortfolioData).TotalValue)
	assert.Equal(t, 95000.0, f.pub.lastPortfolio.TotalValue)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PublisherCycles.WithLabelValues("portfolio", "stale")))
}

func TestRefreshPortfolio_Error(t *testing.T) {
	f := newFixture(t)
	f.portfolio.fail(errors.New("timeout"))

	err := f.pub.RefreshPortfolio(context.Background())
	assert.Error(t, err)
	assert.Empty(t, f.sink.all())
}

// -----------------------------------------------------------------------------
// Market
// -----------------------------------------------------------------------------

func TestPollMarket_IndexGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	published, err := f.pub.PollMarket(ctx)
	require.NoError(t, err)
	assert.True(t, published)

	f.market.set(5002) // 0.04%
	published, _ = f.pub.PollMarket(ctx)
	assert.False(t, published)

	f.market.set(5003) // 0.06%
	published, _ = f.pub.PollMarket(ctx)
	assert.True(t, published)

	events := f.sink.all()
	require.Len(t, events, 2)
	assert.Equal(t, []string{models.TopicMarket}, events[1].Topics)
	assert.Equal(t, models.MsgMarketData, events[1].Message.Type)
}

func TestPollMarket_RecordsHistoryAndArchive(t *testing.T) {
	f := newFixture(t)
	archive := &memoryArchive{}
	f.pub.SetArchive(archive)
	ctx := context.Background()

	_, _ = f.pub.PollMarket(ctx)
	f.market.set(5100)
	_, _ = f.pub.PollMarket(ctx)

	points := f.pub.MarketHistory("^GSPC", 10)
	require.Len(t, points, 2)
	assert.Equal(t, 5000.0, points[0].Value)
	assert.Equal(t, 5100.0, points[1].Value)
	assert.InDelta(t, 0.02, points[1].ChangePercent, 1e-9)
	assert.Equal(t, int64(1700000000000), points[1].Timestamp)

	aapl := f.pub.MarketHistory("AAPL", 10)
	require.Len(t, aapl, 2)
	assert.Equal(t, 1.2, aapl[0].ChangePercent)

	archive.mu.Lock()
	assert.Len(t, archive.points, 4)
	archive.mu.Unlock()
}

func TestMarketHistory_FallsBackToArchive(t *testing.T) {
	f := newFixture(t)
	archive := &memoryArchive{points: []models.MMarketPoint{{Symbol: "MSFT", Value: 410, Timestamp: 1}}}
	f.pub.SetArchive(archive)

	points := f.pub.MarketHistory("MSFT", 5)
	require.Len(t, points, 1)
	assert.Equal(t, 410.0, points[0].Value)
}

// -----------------------------------------------------------------------------
// News
// -----------------------------------------------------------------------------

func TestPollNews_EmptySkips(t *testing.T) {
	f := newFixture(t)
	published, err := f.pub.PollNews(context.Background())
	require.NoError(t, err)
	assert.False(t, published)
	assert.Empty(t, f.sink.all())
}

func TestPollNews_PublishesAndArchives(t *testing.T) {
	f := newFixture(t)
	archive := &memoryArchive{}
	f.pub.SetArchive(archive)
	f.news.items = []models.MNewsItem{{ID: "1", Headline: "Fed holds rates"}}

	published, err := f.pub.PollNews(context.Background())
	require.NoError(t, err)
	assert.True(t, published)

	events := f.sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, []string{models.TopicNews}, events[0].Topics)
	assert.Equal(t, models.MsgNewsUpdate, events[0].Message.Type)
	assert.Len(t, archive.news, 1)
}

// -----------------------------------------------------------------------------
// Run
// -----------------------------------------------------------------------------

func TestRun_PollsImmediatelyAndOnTicks(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.pub.Run(ctx)
		close(done)
	}()

	// portfolio, market and news loops each hold one ticker.
	require.NoError(t, f.clock.BlockUntilContext(ctx, 3))
	assert.Eventually(t, func() bool { return len(f.sink.all()) == 2 }, 2*time.Second, 10*time.Millisecond)

	f.portfolio.set(200000, 2)
	f.clock.Advance(30 * time.Second)
	assert.Eventually(t, func() bool { return len(f.sink.all()) == 3 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not stop")
	}
}
