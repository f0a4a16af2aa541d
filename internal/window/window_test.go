package window

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func at(hour, minute int) time.Time {
	return time.Date(2024, time.March, 10, hour, minute, 0, 0, time.UTC)
}

func mustParse(t *testing.T, windows ...Window) Set {
	t.Helper()
	set, errs := Parse(windows)
	if len(errs) != 0 {
		t.Fatalf("Parse(%v) returned errors: %v", windows, errs)
	}
	return set
}

func TestContains_SameDay(t *testing.T) {
	set := mustParse(t, Window{Start: "09:00", End: "17:00"})

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before start", at(8, 59), false},
		{"at start", at(9, 0), true},
		{"middle", at(12, 30), true},
		{"last minute", at(16, 59), true},
		{"at end is exclusive", at(17, 0), false},
		{"evening", at(22, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := set.Contains(tt.now); got != tt.want {
				t.Errorf("Contains(%s) = %v, want %v", tt.now.Format("15:04"), got, tt.want)
			}
		})
	}
}

func TestContains_Wraparound(t *testing.T) {
	set := mustParse(t, Window{Start: "22:00", End: "02:00"})

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"late evening", at(23, 30), true},
		{"after midnight", at(1, 0), true},
		{"at start", at(22, 0), true},
		{"at end is exclusive", at(2, 0), false},
		{"morning", at(10, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := set.Contains(tt.now); got != tt.want {
				t.Errorf("Contains(%s) = %v, want %v", tt.now.Format("15:04"), got, tt.want)
			}
		})
	}
}

func TestContains_MatchesIntervalContainment(t *testing.T) {
	windows := []Window{
		{Start: "01:15", End: "03:45"},
		{Start: "12:00", End: "12:30"},
		{Start: "18:00", End: "23:59"},
	}
	bounds := [][2]int{{75, 225}, {720, 750}, {1080, 1439}}
	set := mustParse(t, windows...)

	base := at(0, 0)
	for minute := 0; minute < 24*60; minute++ {
		now := base.Add(time.Duration(minute) * time.Minute)
		want := false
		for _, b := range bounds {
			if b[0] <= minute && minute < b[1] {
				want = true
			}
		}
		if got := set.Contains(now); got != want {
			t.Fatalf("Contains(%s) = %v, want %v", now.Format("15:04"), got, want)
		}
	}
}

func TestContains_EmptyIsAlwaysOpen(t *testing.T) {
	set, errs := Parse(nil)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if !set.IsAlwaysOpen() {
		t.Fatal("expected empty window set to be always open")
	}
	for _, now := range []time.Time{at(0, 0), at(12, 0), at(23, 59)} {
		if !set.Contains(now) {
			t.Errorf("Contains(%s) = false, want true", now.Format("15:04"))
		}
	}
}

func TestParse_MalformedEntriesSkipped(t *testing.T) {
	set, errs := Parse([]Window{
		{Start: "25:00", End: "26:00"},
		{Start: "09:00", End: "17:00"},
		{Start: "nine", End: "10:00"},
	})

	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(errs), errs)
	}
	for _, err := range errs {
		if !errors.Is(err, ErrInvalidWindow) {
			t.Errorf("error %v does not wrap ErrInvalidWindow", err)
		}
	}
	if set.Len() != 1 {
		t.Fatalf("expected 1 valid window, got %d", set.Len())
	}
	if set.Contains(at(8, 0)) {
		t.Error("08:00 should be outside the surviving 09:00-17:00 window")
	}
}

func TestParse_AllMalformedFallsBackToAlwaysOpen(t *testing.T) {
	set, errs := Parse([]Window{{Start: "xx", End: "yy"}, {Start: "10:00", End: ""}})
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(errs))
	}
	if !set.IsAlwaysOpen() {
		t.Fatal("expected always-open fallback")
	}
	if !set.Contains(at(4, 0)) {
		t.Error("always-open set should contain every instant")
	}
}

func TestParse_DegenerateWindowIsAlwaysOpen(t *testing.T) {
	set, errs := Parse([]Window{{Start: "00:00", End: "00:00"}})
	if len(errs) != 1 {
		t.Fatalf("expected degenerate window to be reported, got %v", errs)
	}
	if !set.IsAlwaysOpen() {
		t.Fatal("degenerate window should fall back to always open")
	}
	if !set.Contains(at(15, 0)) {
		t.Error("expected 15:00 to be allowed")
	}
}

func TestNextStart(t *testing.T) {
	set := mustParse(t, Window{Start: "09:00", End: "17:00"})

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before start same day", at(8, 0), at(9, 0)},
		{"after start same day", at(9, 30), at(9, 0).AddDate(0, 0, 1)},
		{"exactly at start", at(9, 0), at(9, 0).AddDate(0, 0, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := set.NextStart(tt.now); !got.Equal(tt.want) {
				t.Errorf("NextStart(%s) = %s, want %s", tt.now, got, tt.want)
			}
		})
	}
}

func TestNextStart_PicksEarliestWindow(t *testing.T) {
	set := mustParse(t,
		Window{Start: "18:00", End: "20:00"},
		Window{Start: "07:00", End: "08:00"},
		Window{Start: "13:00", End: "14:00"},
	)

	if got, want := set.NextStart(at(10, 0)), at(13, 0); !got.Equal(want) {
		t.Errorf("NextStart(10:00) = %s, want %s", got, want)
	}
	if got, want := set.NextStart(at(21, 0)), at(7, 0).AddDate(0, 0, 1); !got.Equal(want) {
		t.Errorf("NextStart(21:00) = %s, want %s", got, want)
	}
}

func TestNextStart_NeverInThePast(t *testing.T) {
	set := mustParse(t,
		Window{Start: "22:00", End: "02:00"},
		Window{Start: "06:30", End: "07:00"},
	)

	now := time.Date(2024, time.March, 10, 0, 0, 30, 0, time.UTC)
	for i := 0; i < 24*60; i++ {
		next := set.NextStart(now)
		if !next.After(now) {
			t.Fatalf("NextStart(%s) = %s is not after now", now, next)
		}
		if next.Sub(now) > 24*time.Hour {
			t.Fatalf("NextStart(%s) = %s is more than a day away", now, next)
		}
		now = now.Add(time.Minute)
	}
}

func TestNextStart_NoWindowsIsNextMidnight(t *testing.T) {
	now := at(15, 45)
	want := time.Date(2024, time.March, 11, 0, 0, 0, 0, time.UTC)
	if got := AlwaysOpen().NextStart(now); !got.Equal(want) {
		t.Errorf("NextStart() = %s, want %s", got, want)
	}
}

func TestNextOccurrence(t *testing.T) {
	reset := TimeOfDay{Hour: 3}

	if got, want := NextOccurrence(at(2, 0), reset), at(3, 0); !got.Equal(want) {
		t.Errorf("NextOccurrence(02:00) = %s, want %s", got, want)
	}
	if got, want := NextOccurrence(at(3, 0), reset), at(3, 0).AddDate(0, 0, 1); !got.Equal(want) {
		t.Errorf("NextOccurrence(03:00) = %s, want %s (strictly after)", got, want)
	}
	if got, want := NextOccurrence(at(20, 0), reset), at(3, 0).AddDate(0, 0, 1); !got.Equal(want) {
		t.Errorf("NextOccurrence(20:00) = %s, want %s", got, want)
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{"03:00", TimeOfDay{Hour: 3}, false},
		{"23:59", TimeOfDay{Hour: 23, Minute: 59}, false},
		{" 07:15 ", TimeOfDay{Hour: 7, Minute: 15}, false},
		{"07:15:42", TimeOfDay{Hour: 7, Minute: 15}, false},
		{"24:00", TimeOfDay{}, true},
		{"12:60", TimeOfDay{}, true},
		{"", TimeOfDay{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimeOfDay(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseTimeOfDay(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestWindow_UnmarshalJSON(t *testing.T) {
	var windows []Window
	if err := json.Unmarshal([]byte(`[["22:00","02:00"],"09:00-17:00"]`), &windows); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	want := []Window{{Start: "22:00", End: "02:00"}, {Start: "09:00", End: "17:00"}}
	if len(windows) != len(want) {
		t.Fatalf("got %d windows, want %d", len(windows), len(want))
	}
	for i := range want {
		if windows[i] != want[i] {
			t.Errorf("window %d = %v, want %v", i, windows[i], want[i])
		}
	}

	var bad Window
	if err := json.Unmarshal([]byte(`["09:00"]`), &bad); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("expected ErrInvalidWindow for single bound, got %v", err)
	}

	out, err := json.Marshal(want[0])
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(out) != `["22:00","02:00"]` {
		t.Errorf("Marshal = %s", out)
	}
}

func TestFromStrings(t *testing.T) {
	windows, errs := FromStrings([]string{"00:00-06:00", "bogus", "", " 22:00 - 23:00 "})
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %v", errs)
	}
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %v", windows)
	}
	if windows[1] != (Window{Start: "22:00", End: "23:00"}) {
		t.Errorf("unexpected trimmed window %v", windows[1])
	}
}
