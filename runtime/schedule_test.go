package runtime

import (
	"testing"
	"time"
)

func TestParseScheduleDuration(t *testing.T) {
	sched, err := ParseSchedule("15m")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	now := time.Now()
	next := sched.Next(now)
	diff := next.Sub(now)
	// ConstantDelaySchedule rounds to the second.
	if diff < 14*time.Minute || diff > 16*time.Minute {
		t.Errorf("expected ~15m delay, got %v", diff)
	}
}

func TestParseScheduleCron(t *testing.T) {
	t.Run("five_field", func(t *testing.T) {
		sched, err := ParseSchedule("*/15 * * * *")
		if err != nil {
			t.Fatalf("ParseSchedule: %v", err)
		}
		base := time.Date(2025, 1, 1, 10, 2, 0, 0, time.UTC)
		next := sched.Next(base)
		want := time.Date(2025, 1, 1, 10, 15, 0, 0, time.UTC)
		if !next.Equal(want) {
			t.Errorf("expected %v, got %v", want, next)
		}
	})
	t.Run("six_field", func(t *testing.T) {
		sched, err := ParseSchedule("30 * * * * *")
		if err != nil {
			t.Fatalf("ParseSchedule: %v", err)
		}
		base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
		next := sched.Next(base)
		want := time.Date(2025, 1, 1, 10, 0, 30, 0, time.UTC)
		if !next.Equal(want) {
			t.Errorf("expected %v, got %v", want, next)
		}
	})
	t.Run("descriptor", func(t *testing.T) {
		if _, err := ParseSchedule("@hourly"); err != nil {
			t.Errorf("ParseSchedule(@hourly): %v", err)
		}
	})
}

func TestParseScheduleInvalid(t *testing.T) {
	for _, s := range []string{"", "not a schedule", "99 99 99 99 99"} {
		if _, err := ParseSchedule(s); err == nil {
			t.Errorf("expected error for %q", s)
		}
	}
}
