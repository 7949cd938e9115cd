package quiet_test

import (
	"testing"
	"time"

	"evremind/internal/quiet"
)

func at(hour, minute int) time.Time {
	return time.Date(2024, 3, 12, hour, minute, 0, 0, time.UTC)
}

func TestIsSuppressed(t *testing.T) {
	overnight := quiet.Default()
	daytime, err := quiet.Parse("09:00", "17:30")
	if err != nil {
		t.Fatal(err)
	}
	empty, err := quiet.Parse("10:00", "10:00")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		policy quiet.Policy
		now    time.Time
		want   bool
	}{
		{"wrap late evening", overnight, at(23, 0), true},
		{"wrap at start", overnight, at(22, 0), true},
		{"wrap just before start", overnight, at(21, 59), false},
		{"wrap after midnight", overnight, at(0, 30), true},
		{"wrap just before end", overnight, at(5, 59), true},
		{"wrap at end", overnight, at(6, 0), false},
		{"wrap morning", overnight, at(7, 0), false},
		{"plain inside", daytime, at(12, 0), true},
		{"plain at start", daytime, at(9, 0), true},
		{"plain at end", daytime, at(17, 30), false},
		{"plain before", daytime, at(8, 59), false},
		{"empty window", empty, at(10, 0), false},
		{"disabled", quiet.Policy{}, at(23, 0), false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.IsSuppressed(tt.now); got != tt.want {
				t.Errorf("wrong result\ngot:  %v\nwant: %v", got, tt.want)
			}
		})
	}
}

func TestParseClockErrors(t *testing.T) {
	for _, s := range []string{"", "22", "24:00", "12:60", "ab:cd", "-1:00"} {
		if _, err := quiet.ParseClock(s); err == nil {
			t.Errorf("expected error for %q", s)
		}
	}
}

func TestPolicyString(t *testing.T) {
	if got, want := quiet.Default().String(), "22:00-06:00"; got != want {
		t.Errorf("wrong string\ngot:  %s\nwant: %s", got, want)
	}
	if got, want := (quiet.Policy{}).String(), "disabled"; got != want {
		t.Errorf("wrong string\ngot:  %s\nwant: %s", got, want)
	}
}
