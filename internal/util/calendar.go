package util

import "time"

// krxOpenMinute and krxCloseMinute bound the regular KRX session,
// 09:00-15:30 KST, in minutes from midnight.
const (
	krxOpenMinute  = 9 * 60
	krxCloseMinute = 15*60 + 30
)

// KRXCalendar provides market-hours awareness for the Korea Exchange.
// Weekends are closed; exchange holidays are not modeled, so the engine may
// idle through a holiday submitting nothing (quotes go stale and no signals
// fire), which is safe.
type KRXCalendar struct {
	loc *time.Location
}

// NewKRXCalendar creates a calendar pinned to Asia/Seoul. When the zone
// database is unavailable it falls back to fixed KST (UTC+9); Korea has not
// observed daylight saving since 1988.
func NewKRXCalendar() *KRXCalendar {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		loc = time.FixedZone("KST", 9*60*60)
	}
	return &KRXCalendar{loc: loc}
}

// IsOpen reports whether the regular session is trading at time t.
func (c *KRXCalendar) IsOpen(t time.Time) bool {
	local := t.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= krxOpenMinute && minute < krxCloseMinute
}

// TradingDay returns the KST calendar date containing t, the key used for
// daily baseline resets.
func (c *KRXCalendar) TradingDay(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// NextOpen returns the next session open at or after t.
func (c *KRXCalendar) NextOpen(t time.Time) time.Time {
	local := t.In(c.loc)
	open := time.Date(local.Year(), local.Month(), local.Day(), 9, 0, 0, 0, c.loc)
	if !local.Before(open) {
		open = open.AddDate(0, 0, 1)
	}
	for open.Weekday() == time.Saturday || open.Weekday() == time.Sunday {
		open = open.AddDate(0, 0, 1)
	}
	return open
}
