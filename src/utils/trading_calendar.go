package utils

import (
	"strings"
	"time"

	"github.com/scmhub/calendar"
)

// Yahoo symbol suffix to exchange MIC (ISO 10383), as understood by scmhub/calendar.
var suffixMIC = map[string]string{
	".L":  "xlon",
	".PA": "xpar",
	".DE": "xfra",
	".AS": "xams",
	".BR": "xbru",
	".MI": "xmil",
	".MC": "xmad",
	".ST": "xsto",
	".CO": "xcse",
	".HE": "xhel",
	".VI": "xwbo",
	".SW": "xswx",
	".TO": "xtse",
	".V":  "xtsx",
	".T":  "xtks",
	".HK": "xhkg",
	".AX": "xasx",
	".KS": "xkrx",
	".TW": "xtai",
	".SS": "xshg",
	".SZ": "xshe",
}

// Reference indices trade on the exchange whose session they follow.
var indexMIC = map[string]string{
	"^GSPC":  "xnys",
	"^DJI":   "xnys",
	"^IXIC":  "xnys",
	"^RUT":   "xnys",
	"^VIX":   "xnys",
	"^FTSE":  "xlon",
	"^GDAXI": "xfra",
	"^FCHI":  "xpar",
	"^N225":  "xtks",
	"^HSI":   "xhkg",
	"^AXJO":  "xasx",
}

// TradingCalendar answers "is this market open" for one exchange.
type TradingCalendar struct {
	MIC      string
	Calendar *calendar.Calendar
	Fallback bool
	Timezone *time.Location
}

// -----------------------------------------------------------------------------

// MICForSymbol maps a ticker to its exchange. Unknown tickers are treated as NYSE.
func MICForSymbol(symbol string) string {
	if mic, ok := indexMIC[strings.ToUpper(symbol)]; ok {
		return mic
	}
	if dot := strings.LastIndex(symbol, "."); dot > 0 {
		if mic, ok := suffixMIC[strings.ToUpper(symbol[dot:])]; ok {
			return mic
		}
	}
	return "xnys"
}

// -----------------------------------------------------------------------------

// GetCalendar returns the calendar for symbol. When no calendar can be loaded
// it falls back to Mon-Fri 09:30-16:00 New York time.
func GetCalendar(symbol string) *TradingCalendar {
	mic := MICForSymbol(symbol)

	cal := calendar.GetCalendar(mic)
	if cal == nil {
		mic = "xnys"
		cal = calendar.GetCalendar(mic)
	}
	if cal == nil {
		nyLoc, err := time.LoadLocation("America/New_York")
		if err != nil {
			nyLoc = time.UTC
		}
		return &TradingCalendar{MIC: mic, Fallback: true, Timezone: nyLoc}
	}

	return &TradingCalendar{MIC: mic, Calendar: cal, Timezone: cal.Loc}
}

// -----------------------------------------------------------------------------

func (tc *TradingCalendar) IsTradingDay(date time.Time) bool {
	if tc.Timezone != nil {
		date = date.In(tc.Timezone)
	}

	if tc.Fallback {
		weekday := date.Weekday()
		return weekday != time.Saturday && weekday != time.Sunday
	}
	return tc.Calendar.IsBusinessDay(date)
}

// -----------------------------------------------------------------------------

// IsOpenOnMinute checks if the market is open at t.
func (tc *TradingCalendar) IsOpenOnMinute(t time.Time) bool {
	if tc.Timezone != nil {
		t = t.In(tc.Timezone)
	}

	if tc.Fallback {
		if !tc.IsTradingDay(t) {
			return false
		}
		minutes := t.Hour()*60 + t.Minute()
		return minutes >= 9*60+30 && minutes < 16*60
	}

	return tc.Calendar.IsOpen(t)
}
