package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)

	if d := clock.Since(past); d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_AdvanceMovesNow(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	clock.Advance(90 * time.Second)

	if got := clock.Since(start); got != 90*time.Second {
		t.Errorf("Since() = %v, want 90s", got)
	}
}

func TestMockTicker_FiresOnDeadline(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	ticker := clock.NewTicker(time.Second)

	clock.Advance(500 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired before its deadline")
	default:
	}

	clock.Advance(500 * time.Millisecond)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire at its deadline")
	}
}

func TestMockTicker_StopSuppressesTicks(t *testing.T) {
	clock := NewMockClock(time.Time{})
	ticker := clock.NewTicker(time.Second)
	ticker.Stop()
	clock.Advance(5 * time.Second)

	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
	if n := clock.ActiveTickers(); n != 0 {
		t.Errorf("ActiveTickers() = %d, want 0", n)
	}
}

func TestMockTicker_Trigger(t *testing.T) {
	clock := NewMockClock(time.Time{})
	ticker := clock.NewTicker(time.Hour)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ticker.(*MockTicker).Trigger(at)

	select {
	case got := <-ticker.C():
		if !got.Equal(at) {
			t.Errorf("tick = %v, want %v", got, at)
		}
	default:
		t.Fatal("Trigger did not deliver a tick")
	}
}

func TestMockClock_WaitForTicker(t *testing.T) {
	clock := NewMockClock(time.Time{})
	if clock.WaitForTicker(10 * time.Millisecond) {
		t.Fatal("WaitForTicker reported a ticker before any was created")
	}

	go clock.NewTicker(time.Second)
	if !clock.WaitForTicker(time.Second) {
		t.Fatal("WaitForTicker did not observe the new ticker")
	}
}
