package tradingtime

import (
	"errors"
	"testing"
)

func mustParse(t *testing.T, s string) int64 {
	t.Helper()
	ts, err := ParseDatetime(s)
	if err != nil {
		t.Fatalf("ParseDatetime(%q) error = %v", s, err)
	}
	return ts
}

func TestParseDatetime(t *testing.T) {
	if got := mustParse(t, "2020-01-03 21:00:00.000000"); got != 1578056400000000000 {
		t.Errorf("ParseDatetime = %d", got)
	}
	if got := mustParse(t, "2020-01-03 21:00:00.5"); got != 1578056400500000000 {
		t.Errorf("short fraction = %d", got)
	}
	if _, err := ParseDatetime("not a time"); err == nil {
		t.Error("ParseDatetime accepted garbage")
	}
	if got := FormatDatetime(1578056400500000000); got != "2020-01-03 21:00:00.500000" {
		t.Errorf("FormatDatetime = %q", got)
	}
	if got := FormatDate(1578056400500000000); got != "2020-01-03" {
		t.Errorf("FormatDate = %q", got)
	}
}

func TestTradingDay(t *testing.T) {
	monday := mustParse(t, "2020-01-06 00:00:00")
	tuesday := mustParse(t, "2020-01-07 00:00:00")

	tests := []struct {
		name string
		at   string
		want int64
	}{
		{"friday day session", "2020-01-03 14:00:00", mustParse(t, "2020-01-03 00:00:00")},
		{"friday just before night", "2020-01-03 17:59:59", mustParse(t, "2020-01-03 00:00:00")},
		{"friday night belongs to monday", "2020-01-03 21:00:00", monday},
		{"saturday early morning", "2020-01-04 01:00:00", monday},
		{"sunday", "2020-01-05 12:00:00", monday},
		{"monday day", "2020-01-06 10:00:00", monday},
		{"monday night", "2020-01-06 21:00:00", tuesday},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TradingDay(mustParse(t, tt.at)); got != tt.want {
				t.Errorf("TradingDay(%s) = %s, want %s", tt.at, FormatDatetime(got), FormatDatetime(tt.want))
			}
		})
	}
}

func TestDayStartEnd(t *testing.T) {
	monday := mustParse(t, "2020-01-06 00:00:00")
	if got, want := DayStart(monday), mustParse(t, "2020-01-03 18:00:00"); got != want {
		t.Errorf("DayStart(monday) = %s", FormatDatetime(got))
	}
	tuesday := mustParse(t, "2020-01-07 00:00:00")
	if got, want := DayStart(tuesday), mustParse(t, "2020-01-06 18:00:00"); got != want {
		t.Errorf("DayStart(tuesday) = %s", FormatDatetime(got))
	}
	if got, want := DayEnd(monday), mustParse(t, "2020-01-06 18:00:00")-1; got != want {
		t.Errorf("DayEnd(monday) = %s", FormatDatetime(got))
	}
	if TradingDay(DayEnd(monday)) != monday || TradingDay(DayEnd(monday)+1) != tuesday {
		t.Error("DayEnd is not the last nanosecond of the trading day")
	}
}

func TestInTradingTime(t *testing.T) {
	tt := map[string]any{
		"day":   []any{[]any{"09:00:00", "10:15:00"}, []any{"13:30:00", "15:00:00"}},
		"night": []any{[]any{"21:00:00", "25:00:00"}},
	}
	tests := []struct {
		at   string
		want bool
	}{
		{"2020-01-06 09:00:00", true},
		{"2020-01-06 10:15:00", false},
		{"2020-01-06 12:00:00", false},
		{"2020-01-06 14:59:59.999", true},
		{"2020-01-03 21:00:00", true},
		{"2020-01-04 00:59:59", true},
		{"2020-01-04 01:00:00", false},
		{"2020-01-03 20:59:59", false},
	}
	for _, c := range tests {
		got, err := InTradingTime(tt, mustParse(t, c.at))
		if err != nil {
			t.Fatalf("InTradingTime error = %v", err)
		}
		if got != c.want {
			t.Errorf("InTradingTime(%s) = %v, want %v", c.at, got, c.want)
		}
	}

	bad := map[string]any{"day": []any{[]any{"9am", "10:00:00"}}}
	if _, err := InTradingTime(bad, 0); !errors.Is(err, ErrBadPeriod) {
		t.Errorf("bad period error = %v, want ErrBadPeriod", err)
	}
}
