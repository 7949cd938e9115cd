package timeresolve_test

import (
	"testing"
	"time"

	"evremind/internal/timeresolve"
)

var refDate = time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)

func TestResolveUnschedulable(t *testing.T) {
	tests := []string{
		"All Day",
		"all day",
		"Tentative",
		"Data unavailable",
		"Day 2",
		"",
		"   ",
		"8:30",
		"13:00 PM",
		"0:15 AM",
		"8:75 AM",
		"noon",
	}
	for _, text := range tests {
		text := text
		t.Run(text, func(t *testing.T) {
			if got, ok := timeresolve.Resolve(text, refDate, time.UTC); ok {
				t.Errorf("expected unschedulable, got %v", got)
			}
		})
	}
}

func TestResolveClock(t *testing.T) {
	tests := []struct {
		text         string
		hour, minute int
	}{
		{"8:30 AM", 8, 30},
		{"8:30am", 8, 30},
		{"  8:30 am ", 8, 30},
		{"12:00 PM", 12, 0},
		{"12:00 AM", 0, 0},
		{"12:45am", 0, 45},
		{"1:05 PM", 13, 5},
		{"11:59 pm", 23, 59},
		{"2pm", 14, 0},
		{"7 A.M.", 7, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.text, func(t *testing.T) {
			got, ok := timeresolve.Resolve(tt.text, refDate, time.UTC)
			if !ok {
				t.Fatal("expected a schedulable instant")
			}
			want := time.Date(2024, 3, 12, tt.hour, tt.minute, 0, 0, time.UTC)
			if !got.Equal(want) {
				t.Errorf("wrong instant\ngot:  %v\nwant: %v", got, want)
			}
		})
	}
}

func TestResolveUsesLocation(t *testing.T) {
	loc := time.FixedZone("EST", -5*60*60)
	got, ok := timeresolve.Resolve("8:30 AM", refDate, loc)
	if !ok {
		t.Fatal("expected a schedulable instant")
	}
	if got.Location() != loc || got.Hour() != 8 || got.Day() != 12 {
		t.Errorf("wrong instant: %v", got)
	}
	if want := time.Date(2024, 3, 12, 13, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("wrong absolute instant\ngot:  %v\nwant: %v", got.UTC(), want)
	}
}

func TestResolveDeterministic(t *testing.T) {
	a, okA := timeresolve.Resolve("3:15 PM", refDate, time.UTC)
	b, okB := timeresolve.Resolve("3:15 PM", refDate, time.UTC)
	if okA != okB || !a.Equal(b) {
		t.Errorf("non-deterministic result: %v/%v vs %v/%v", a, okA, b, okB)
	}
}

func TestMinutesUntil(t *testing.T) {
	at := time.Date(2024, 3, 12, 8, 30, 0, 0, time.UTC)
	tests := []struct {
		now  time.Time
		want int
	}{
		{at.Add(-15 * time.Minute), 15},
		{at.Add(-15*time.Minute - 30*time.Second), 15},
		{at.Add(-14*time.Minute - 59*time.Second), 14},
		{at, 0},
		{at.Add(30 * time.Second), -1},
		{at.Add(time.Minute), -1},
	}
	for _, tt := range tests {
		if got := timeresolve.MinutesUntil(at, tt.now); got != tt.want {
			t.Errorf("wrong minutes for now=%v\ngot:  %d\nwant: %d", tt.now, got, tt.want)
		}
	}
}
