package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsMidway(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Retry called fn %d times, want 3", attempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	sentinel := errors.New("persistent error")

	err := Retry(context.Background(), 3, 0, func() error {
		attempts++
		return sentinel
	})

	if !errors.Is(err, sentinel) {
		t.Fatalf("Retry returned %v, want the last error", err)
	}
	if attempts != 3 {
		t.Errorf("Retry called fn %d times, want 3", attempts)
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, 3, time.Hour, func() error { return errors.New("always") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry returned %v, want context.Canceled", err)
	}
}

func TestRateLimiterFirstCallImmediate(t *testing.T) {
	rl := NewRateLimiter(60)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first Wait should not block: %v", err)
	}
}

func TestRateLimiterBlocksWhenDrained(t *testing.T) {
	rl := NewRateLimiter(1) // one token per minute
	ctx := context.Background()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := rl.Wait(tctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("drained limiter returned %v, want deadline exceeded", err)
	}
}

func TestKRXCalendarSessionHours(t *testing.T) {
	cal := NewKRXCalendar()
	kst := time.FixedZone("KST", 9*60*60)

	cases := []struct {
		name string
		t    time.Time
		open bool
	}{
		{"mid-session Monday", time.Date(2026, 8, 31, 11, 0, 0, 0, kst), true},
		{"open bell", time.Date(2026, 8, 31, 9, 0, 0, 0, kst), true},
		{"just before close", time.Date(2026, 8, 31, 15, 29, 0, 0, kst), true},
		{"at close", time.Date(2026, 8, 31, 15, 30, 0, 0, kst), false},
		{"before open", time.Date(2026, 8, 31, 8, 59, 0, 0, kst), false},
		{"Saturday", time.Date(2026, 9, 5, 11, 0, 0, 0, kst), false},
		{"Sunday", time.Date(2026, 9, 6, 11, 0, 0, 0, kst), false},
	}
	for _, tc := range cases {
		if got := cal.IsOpen(tc.t); got != tc.open {
			t.Errorf("%s: IsOpen = %v, want %v", tc.name, got, tc.open)
		}
	}
}

func TestKRXCalendarTradingDayCrossesUTC(t *testing.T) {
	cal := NewKRXCalendar()
	// 23:00 UTC on Aug 31 is already Sep 1 in Seoul.
	utc := time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC)
	if got := cal.TradingDay(utc); got != "2026-09-01" {
		t.Errorf("TradingDay = %s, want 2026-09-01", got)
	}
}

func TestKRXCalendarNextOpen(t *testing.T) {
	cal := NewKRXCalendar()
	kst := time.FixedZone("KST", 9*60*60)

	// Friday evening rolls to Monday 09:00.
	friday := time.Date(2026, 9, 4, 18, 0, 0, 0, kst)
	next := cal.NextOpen(friday)
	if next.Weekday() != time.Monday || next.Hour() != 9 {
		t.Errorf("NextOpen(Friday evening) = %v, want Monday 09:00", next)
	}

	// Early morning opens the same day.
	morning := time.Date(2026, 9, 1, 7, 0, 0, 0, kst)
	next = cal.NextOpen(morning)
	if next.Day() != 1 || next.Hour() != 9 {
		t.Errorf("NextOpen(early morning) = %v, want same-day 09:00", next)
	}
}
