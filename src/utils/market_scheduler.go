package utils

import (
	"sync"

	"trading-hub/src/logger"

	"github.com/jonboulle/clockwork"
)

// MarketScheduler tells the publisher whether any watched market is trading.
type MarketScheduler struct {
	Logger *logger.Logger

	clock     clockwork.Clock
	mu        sync.RWMutex
	calendars map[string]*TradingCalendar // by MIC
}

// -----------------------------------------------------------------------------

func NewMarketScheduler(symbols []string, clock clockwork.Clock, l *logger.Logger) *MarketScheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ms := &MarketScheduler{
		Logger: l,
		clock:  clock,
	}
	ms.UpdateSymbols(symbols)
	return ms
}

// -----------------------------------------------------------------------------

// UpdateSymbols replaces the tracked symbols.
func (ms *MarketScheduler) UpdateSymbols(symbols []string) {
	calendars := make(map[string]*TradingCalendar)
	for _, symbol := range symbols {
		mic := MICForSymbol(symbol)
		if _, ok := calendars[mic]; ok {
			continue
		}
		cal := GetCalendar(symbol)
		if cal.Fallback {
			ms.Logger.Warning("No calendar for %s (%s), using Mon-Fri 09:30-16:00 New York", symbol, mic)
		}
		calendars[cal.MIC] = cal
	}

	ms.mu.Lock()
	ms.calendars = calendars
	ms.mu.Unlock()

	ms.Logger.Info("Mapped %d symbols to %d calendars", len(symbols), len(calendars))
}

// -----------------------------------------------------------------------------

// AnyMarketOpen reports whether at least one tracked market is open now.
// With no tracked symbols it reports false.
func (ms *MarketScheduler) AnyMarketOpen() bool {
	now := ms.clock.Now().UTC()

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	for _, cal := range ms.calendars {
		if cal.IsOpenOnMinute(now) {
			return true
		}
	}
	return false
}

// Calendars returns the MICs being tracked.
func (ms *MarketScheduler) Calendars() []string {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]string, 0, len(ms.calendars))
	for mic := range ms.calendars {
		out = append(out, mic)
	}
	return out
}
