package risk

import "time"

// SettlementHour is the hour (local exchange time) from which shares
// settling today become sellable: the afternoon session open.
const SettlementHour = 13

// Calendar answers trading-day questions for the Vietnamese market.
// The holiday set is injected so the published schedule for each year
// can be loaded from configuration.
type Calendar struct {
	holidays map[string]bool // "2006-01-02" keys
}

// VietnamHolidays2026 is the published public holiday schedule:
// New Year, Tet (Jan 26-30), Reunification Day, Labour Day and
// National Day.
func VietnamHolidays2026() []time.Time {
	dates := []string{
		"2026-01-01",
		"2026-01-26", "2026-01-27", "2026-01-28", "2026-01-29", "2026-01-30",
		"2026-04-30",
		"2026-05-01",
		"2026-09-02",
	}
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		t, _ := time.Parse("2006-01-02", d)
		out = append(out, t)
	}
	return out
}

// NewCalendar builds a calendar from a holiday list.
func NewCalendar(holidays []time.Time) *Calendar {
	m := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		m[h.Format("2006-01-02")] = true
	}
	return &Calendar{holidays: m}
}

// IsTradingDay reports whether d is a weekday and not a holiday.
func (c *Calendar) IsTradingDay(d time.Time) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.holidays[d.Format("2006-01-02")]
}

// NextTradingDay returns the first trading day strictly after d.
func (c *Calendar) NextTradingDay(d time.Time) time.Time {
	next := d.AddDate(0, 0, 1)
	for !c.IsTradingDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// SettlementDate returns the T+2 settlement date for a buy executed
// on buyDate: the trading day after the trading day after the buy.
func (c *Calendar) SettlementDate(buyDate time.Time) time.Time {
	return c.NextTradingDay(c.NextTradingDay(buyDate))
}

// CanSellNow reports whether shares bought on buyDate are sellable at
// the given moment. Before the settlement date: no. On the settlement
// date: only from the afternoon session (13:00). After: yes.
func (c *Calendar) CanSellNow(buyDate, now time.Time) bool {
	settle := c.SettlementDate(buyDate)
	sy, sm, sd := settle.Date()
	ny, nm, nd := now.Date()

	settleDay := time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC)
	nowDay := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)

	switch {
	case nowDay.After(settleDay):
		return true
	case nowDay.Equal(settleDay):
		return now.Hour() >= SettlementHour
	default:
		return false
	}
}
