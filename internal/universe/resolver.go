package universe

import "time"

// TradingDate resolves the most recent weekday session on or before the
// given instant. Saturday and Sunday step back to Friday; a Monday before
// the session opens is still Monday — intraday staleness is the snapshot
// stage's problem, not the resolver's.
func TradingDate(now time.Time) time.Time {
	d := now
	for {
		switch d.Weekday() {
		case time.Saturday:
			d = d.AddDate(0, 0, -1)
		case time.Sunday:
			d = d.AddDate(0, 0, -2)
		default:
			return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		}
	}
}
