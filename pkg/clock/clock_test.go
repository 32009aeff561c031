package clock

import (
	"testing"
	"time"
)

var start = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func TestManual_SetAndAdvance(t *testing.T) {
	m := NewManual(start)
	if !m.Now().Equal(start) {
		t.Fatalf("Now = %v, want %v", m.Now(), start)
	}
	m.Advance(90 * time.Second)
	if want := start.Add(90 * time.Second); !m.Now().Equal(want) {
		t.Fatalf("after Advance: %v, want %v", m.Now(), want)
	}
	later := start.Add(48 * time.Hour)
	m.Set(later)
	if !m.Now().Equal(later) {
		t.Fatalf("after Set: %v, want %v", m.Now(), later)
	}
}

func TestManual_TickDeliversCurrentTime(t *testing.T) {
	m := NewManual(start)
	tk := m.NewTicker(time.Minute)
	defer tk.Stop()

	select {
	case <-tk.C():
		t.Fatal("ticker fired before Tick")
	default:
	}

	m.Advance(time.Minute)
	m.Tick()
	select {
	case got := <-tk.C():
		if !got.Equal(start.Add(time.Minute)) {
			t.Fatalf("tick carried %v", got)
		}
	default:
		t.Fatal("Tick should deliver to a live ticker")
	}
}

func TestManual_TickDropsWhenUnread(t *testing.T) {
	m := NewManual(start)
	tk := m.NewTicker(time.Minute)
	m.Tick()
	m.Advance(time.Minute)
	m.Tick()

	if got := <-tk.C(); !got.Equal(start) {
		t.Fatalf("first tick should be kept, got %v", got)
	}
	select {
	case got := <-tk.C():
		t.Fatalf("second tick should have been dropped, got %v", got)
	default:
	}
}

func TestManual_StoppedTickerStaysQuiet(t *testing.T) {
	m := NewManual(start)
	a := m.NewTicker(time.Minute)
	b := m.NewTicker(time.Minute)
	a.Stop()
	m.Tick()

	select {
	case <-a.C():
		t.Fatal("stopped ticker fired")
	default:
	}
	select {
	case <-b.C():
	default:
		t.Fatal("other tickers should still fire")
	}
}

func TestReal(t *testing.T) {
	var c Clock = Real{}
	before := time.Now()
	if c.Now().Before(before) {
		t.Fatal("Real.Now went backwards")
	}
	tk := c.NewTicker(time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker never fired")
	}
}
