package publisher

import (
	"context"
	"sync"
	"time"

	"trading-hub/src/analysis/core"
	"trading-hub/src/helpers"
	"trading-hub/src/interfaces"
	"trading-hub/src/logger"
	"trading-hub/src/metrics"
	"trading-hub/src/models"
	"trading-hub/src/utils"

	"github.com/jonboulle/clockwork"
)

const (
	archiveTimeout  = 5 * time.Second
	cleanupInterval = time.Hour
)

// Sources groups the collaborators polled by the publisher. Nil sources are
// not polled.
type Sources struct {
	Portfolio interfaces.IPortfolioSource
	Market    interfaces.IMarketSource
	News      interfaces.INewsSource
}

// -----------------------------------------------------------------------------
// ChangeGatedPublisher
// -----------------------------------------------------------------------------

// ChangeGatedPublisher polls the collaborators and publishes a topic update
// only when the new snapshot differs enough from the last one it published.
type ChangeGatedPublisher struct {
	Config *models.MConfig
	Logger *logger.Logger

	sources Sources
	sink    interfaces.IEventSink
	metrics *metrics.Metrics
	errors  *helpers.ErrorHandler
	clock   clockwork.Clock

	archive   interfaces.IDatabase
	scheduler *utils.MarketScheduler
	history   *utils.MarketHistory

	// mu guards the last-broadcast snapshots. Portfolio fetches are numbered
	// so a slow poll cannot overwrite a newer refresh.
	mu               sync.Mutex
	lastPortfolio    *models.MPortfolioData
	lastMarket       *models.MMarketData
	portfolioIssued  uint64
	portfolioApplied uint64

	wg sync.WaitGroup
}

// -----------------------------------------------------------------------------

func NewChangeGatedPublisher(cfg *models.MConfig, log *logger.Logger, sources Sources, sink interfaces.IEventSink, m *metrics.Metrics, clock clockwork.Clock) *ChangeGatedPublisher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &ChangeGatedPublisher{
		Config:  cfg,
		Logger:  log,
		sources: sources,
		sink:    sink,
		metrics: m,
		errors:  helpers.NewErrorHandler(log),
		clock:   clock,
		history: utils.NewMarketHistory(cfg.Publisher.HistorySize),
	}
}

// SetArchive stores every published market point and headline in db.
func (p *ChangeGatedPublisher) SetArchive(db interfaces.IDatabase) {
	p.archive = db
}

// SetScheduler enables market-hours gating of the market poll.
func (p *ChangeGatedPublisher) SetScheduler(s *utils.MarketScheduler) {
	p.scheduler = s
}

// -----------------------------------------------------------------------------
// Loops
// -----------------------------------------------------------------------------

// Run polls every configured source on its own interval until ctx is done.
func (p *ChangeGatedPublisher) Run(ctx context.Context) {
	cfg := p.Config.Publisher

	if p.sources.Portfolio != nil {
		p.startLoop(ctx, "portfolio", seconds(cfg.PortfolioIntervalSeconds), p.PollPortfolio)
	}
	if p.sources.Market != nil {
		p.startLoop(ctx, "market", seconds(cfg.MarketIntervalSeconds), p.PollMarket)
	}
	if p.sources.News != nil {
		p.startLoop(ctx, "news", seconds(cfg.NewsIntervalSeconds), p.PollNews)
	}
	if p.archive != nil {
		p.startLoop(ctx, "archive cleanup", cleanupInterval, func(ctx context.Context) (bool, error) {
			err := p.archive.CleanupOldData(ctx)
			p.errors.Handle(err, "archive cleanup")
			return err == nil, err
		})
	}

	<-ctx.Done()
	p.wg.Wait()
	p.Logger.Info("Publisher stopped")
}

func (p *ChangeGatedPublisher) startLoop(ctx context.Context, name string, interval time.Duration, poll func(context.Context) (bool, error)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		p.Logger.Info("Polling %s every %v", name, interval)
		ticker := p.clock.NewTicker(interval)
		defer ticker.Stop()

		_, _ = poll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				_, _ = poll(ctx)
			}
		}
	}()
}

// -----------------------------------------------------------------------------
// Polls. Each returns whether it published.
// -----------------------------------------------------------------------------

// PollPortfolio fetches a portfolio snapshot and publishes it when the total
// value moved past the threshold or the position count changed.
func (p *ChangeGatedPublisher) PollPortfolio(ctx context.Context) (bool, error) {
	seq := p.nextPortfolioSeq()
	snap, err := p.sources.Portfolio.FetchPortfolioSnapshot(ctx)
	if p.errors.Handle(err, "portfolio poll") > 0 {
		p.cycle("portfolio", "failed")
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.applyPortfolioSeq(seq) {
		p.Logger.Debug("Discarding stale portfolio poll #%d", seq)
		p.cycle("portfolio", "stale")
		return false, nil
	}
	if !PortfolioChanged(p.lastPortfolio, snap, p.Config.Publisher.PortfolioThreshold) {
		p.cycle("portfolio", "unchanged")
		return false, nil
	}

	p.lastPortfolio = snap
	p.publish([]string{models.TopicPortfolio}, models.MsgPortfolioUpdate, snap)
	p.cycle("portfolio", "published")
	return true, nil
}

// -----------------------------------------------------------------------------

// PollMarket fetches a market snapshot and publishes it when the reference
// index moved past the threshold.
func (p *ChangeGatedPublisher) PollMarket(ctx context.Context) (bool, error) {
	if p.Config.Market.MarketHoursOnly && p.scheduler != nil && !p.scheduler.AnyMarketOpen() {
		p.Logger.Debug("Markets closed, skipping market poll")
		p.cycle("market", "closed")
		return false, nil
	}

	snap, err := p.sources.Market.FetchMarketSnapshot(ctx)
	if p.errors.Handle(err, "market poll") > 0 {
		p.cycle("market", "failed")
		return false, err
	}

	p.mu.Lock()
	prev := p.lastMarket
	changed := MarketChanged(prev, snap, p.Config.Publisher.MarketThreshold)
	if changed {
		p.lastMarket = snap
	}
	p.mu.Unlock()

	if !changed {
		p.cycle("market", "unchanged")
		return false, nil
	}

	p.publish([]string{models.TopicMarket}, models.MsgMarketData, snap)
	p.cycle("market", "published")
	p.recordMarket(ctx, prev, snap)
	return true, nil
}

// -----------------------------------------------------------------------------

// PollNews publishes whatever new headlines the feed returned.
func (p *ChangeGatedPublisher) PollNews(ctx context.Context) (bool, error) {
	items, err := p.sources.News.FetchLatestNews(ctx)
	if p.errors.Handle(err, "news poll") > 0 {
		p.cycle("news", "failed")
		return false, err
	}

	if !NewsChanged(items) {
		p.cycle("news", "unchanged")
		return false, nil
	}

	p.publish([]string{models.TopicNews}, models.MsgNewsUpdate, items)
	p.cycle("news", "published")

	if p.archive != nil {
		actx, cancel := context.WithTimeout(ctx, archiveTimeout)
		defer cancel()
		p.errors.Handle(p.archive.SaveNewsItems(actx, items), "news archive")
	}
	return true, nil
}

// -----------------------------------------------------------------------------

// RefreshPortfolio publishes a fresh portfolio snapshot to the portfolio and
// trading topics, bypassing the change gate. Used after executed actions.
func (p *ChangeGatedPublisher) RefreshPortfolio(ctx context.Context) error {
	if p.sources.Portfolio == nil {
		return nil
	}

	seq := p.nextPortfolioSeq()
	snap, err := p.sources.Portfolio.FetchPortfolioSnapshot(ctx)
	if err != nil {
		p.cycle("portfolio", "failed")
		return helpers.NewCollaboratorError("portfolio refresh failed", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.applyPortfolioSeq(seq) {
		p.Logger.Debug("Discarding stale portfolio refresh #%d", seq)
		p.cycle("portfolio", "stale")
		return nil
	}

	p.lastPortfolio = snap
	p.publish([]string{models.TopicPortfolio, models.TopicTrading}, models.MsgPortfolioUpdate, snap)
	p.cycle("portfolio", "refreshed")
	return nil
}

func (p *ChangeGatedPublisher) nextPortfolioSeq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.portfolioIssued++
	return p.portfolioIssued
}

// applyPortfolioSeq reports whether a fetch numbered seq is newer than the
// last one applied. Callers hold p.mu.
func (p *ChangeGatedPublisher) applyPortfolioSeq(seq uint64) bool {
	if seq < p.portfolioApplied {
		return false
	}
	p.portfolioApplied = seq
	return true
}

// -----------------------------------------------------------------------------
// History
// -----------------------------------------------------------------------------

// MarketHistory serves recent points from memory, falling back to the
// archive for symbols not seen since startup.
func (p *ChangeGatedPublisher) MarketHistory(symbol string, limit int) []models.MMarketPoint {
	points := p.history.MarketHistory(symbol, limit)
	if len(points) > 0 || p.archive == nil {
		return points
	}

	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	archived, err := p.archive.LoadMarketPoints(ctx, symbol, limit)
	if err != nil {
		p.Logger.Warning("Failed to load %s history from archive: %v", symbol, err)
		return points
	}
	return archived
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (p *ChangeGatedPublisher) publish(topics []string, msgType string, data any) {
	evt := models.MOutboundEvent{Topics: topics, Message: models.NewMessage(msgType, data)}
	if !p.sink.Publish(evt) {
		p.Logger.Warning("Dropped %s update, event queue full", msgType)
	}
}

func (p *ChangeGatedPublisher) recordMarket(ctx context.Context, prev, snap *models.MMarketData) {
	ts := snap.FetchedAt
	if ts == 0 {
		ts = p.clock.Now().UnixMilli()
	}

	var prevIndex float64
	if prev != nil {
		prevIndex = prev.IndexValue
	}

	points := []models.MMarketPoint{{
		Symbol:        snap.IndexSymbol,
		Value:         snap.IndexValue,
		ChangePercent: core.RelativeChange(snap.IndexValue, prevIndex),
		Timestamp:     ts,
	}}
	for sym, q := range snap.Quotes {
		points = append(points, models.MMarketPoint{
			Symbol:        sym,
			Value:         q.Price,
			ChangePercent: q.PricePercentChange,
			Timestamp:     ts,
		})
	}

	p.history.Record(points...)

	if p.archive != nil {
		actx, cancel := context.WithTimeout(ctx, archiveTimeout)
		defer cancel()
		p.errors.Handle(p.archive.SaveMarketPoints(actx, points), "market archive")
	}
}

func (p *ChangeGatedPublisher) cycle(source, outcome string) {
	p.metrics.PublisherCycles.WithLabelValues(source, outcome).Inc()
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
