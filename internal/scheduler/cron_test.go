package scheduler

import (
	"testing"
	"time"
)

func TestValidateCronExpression(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"yearly", "@yearly", false},
		{"monthly", "@monthly", false},
		{"weekly", "@weekly", false},
		{"daily", "@daily", false},
		{"hourly", "@hourly", false},
		{"every 15m", "@every 15m", false},
		{"every 7d", "@every 7d", false},
		{"every zero", "@every 0s", true},
		{"every negative days", "@every -1d", true},
		{"standard cron", "*/5 * * * *", true},
		{"invalid", "@invalid", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCronExpression(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCronExpression(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestParseCronExpression(t *testing.T) {
	baseTime := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC) // a Monday

	tests := []struct {
		name string
		expr string
		want time.Time
	}{
		{"hourly", "@hourly", time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC)},
		{"daily", "@daily", time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)},
		{"weekly", "@weekly", time.Date(2024, 1, 21, 0, 0, 0, 0, time.UTC)},
		{"monthly", "@monthly", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"yearly", "@yearly", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"every 15m", "@every 15m", time.Date(2024, 1, 15, 10, 45, 0, 0, time.UTC)},
		{"every 2d", "@every 2d", time.Date(2024, 1, 17, 10, 30, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := ParseCronExpression(tt.expr, baseTime)
			if err != nil {
				t.Fatalf("ParseCronExpression(%q) error = %v", tt.expr, err)
			}
			if !next.Equal(tt.want) {
				t.Errorf("next = %v, want %v", next, tt.want)
			}
		})
	}
}

func TestNextMonthRollsOverYear(t *testing.T) {
	dec := time.Date(2024, 12, 20, 8, 0, 0, 0, time.UTC)
	if got := nextMonth(dec); !got.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("nextMonth(%v) = %v", dec, got)
	}
}

func TestScheduleString(t *testing.T) {
	s, err := Parse("  @every 30m ")
	if err != nil {
		t.Fatal(err)
	}
	if s.String() != "@every 30m" {
		t.Errorf("String() = %q", s.String())
	}
}
