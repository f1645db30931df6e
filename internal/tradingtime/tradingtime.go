// Package tradingtime does trading-day arithmetic for Chinese futures
// exchanges. All timestamps are nanoseconds since the Unix epoch; wall clock
// strings are China Standard Time.
//
// A trading day is identified by the timestamp of its midnight. It starts at
// 18:00 of the previous business day (so a Monday trading day starts on
// Friday evening) and ends just before 18:00 of its own date.
package tradingtime

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CST is the exchange time zone.
var CST = time.FixedZone("CST", 8*3600)

const (
	// Day is one calendar day in nanoseconds.
	Day int64 = 86400_000_000_000

	// epoch is 1990-01-01 00:00 CST, a Monday.
	epoch int64 = 631123200_000_000_000

	sixHours     int64 = 21600_000_000_000
	eighteenHour int64 = 64800_000_000_000
)

// DatetimeLayout is the quote datetime format.
const DatetimeLayout = "2006-01-02 15:04:05.000000"

// ErrBadPeriod is returned for a trading period that is not HH:MM:SS.
var ErrBadPeriod = errors.New("tradingtime: bad period")

// TradingDay returns the trading day ts belongs to.
func TradingDay(ts int64) int64 {
	days := floorDiv(ts-epoch, Day)
	if mod(ts-epoch, Day) >= eighteenHour {
		days++
	}
	if wd := days % 7; wd >= 5 {
		days += 7 - wd
	}
	return epoch + days*Day
}

// DayStart returns the first nanosecond of tradingDay.
func DayStart(tradingDay int64) int64 {
	start := tradingDay - sixHours
	if wd := floorDiv(start-epoch, Day) % 7; wd >= 5 {
		start -= Day * (wd - 4)
	}
	return start
}

// DayEnd returns the last nanosecond of tradingDay.
func DayEnd(tradingDay int64) int64 {
	return tradingDay + eighteenHour - 1
}

// ParseDatetime parses a quote datetime such as "2020-01-02 09:00:00.500000".
// Fractions shorter than six digits are accepted.
func ParseDatetime(s string) (int64, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04:05.999999999", s, CST)
	if err != nil {
		return 0, fmt.Errorf("parse datetime %q: %w", s, err)
	}
	return t.UnixNano(), nil
}

// FormatDatetime formats ts as a quote datetime.
func FormatDatetime(ts int64) string {
	return time.Unix(0, ts).In(CST).Format(DatetimeLayout)
}

// FormatDate formats ts as 2006-01-02 in CST.
func FormatDate(ts int64) string {
	return time.Unix(0, ts).In(CST).Format("2006-01-02")
}

// Period is a half-open [Start, End) interval in nanoseconds.
type Period struct {
	Start int64
	End   int64
}

// Periods resolves the quote trading_time table for the trading day that
// contains now. Day sessions are anchored at the trading day itself, night
// sessions at the previous trading day, so "21:00:00"-"25:00:00" on a Monday
// trading day covers Friday 21:00 to Saturday 01:00.
func Periods(tradingTime map[string]any, now int64) ([]Period, error) {
	day := TradingDay(now)
	prev := TradingDay(DayStart(day) - 1)

	var out []Period
	for _, part := range []struct {
		key  string
		base int64
	}{{"day", day}, {"night", prev}} {
		ranges, _ := tradingTime[part.key].([]any)
		for _, r := range ranges {
			pair, ok := r.([]any)
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("%w: %v", ErrBadPeriod, r)
			}
			start, err := clock(pair[0])
			if err != nil {
				return nil, err
			}
			end, err := clock(pair[1])
			if err != nil {
				return nil, err
			}
			out = append(out, Period{Start: part.base + start, End: part.base + end})
		}
	}
	return out, nil
}

// InTradingTime reports whether now falls in one of the trading periods of
// tradingTime.
func InTradingTime(tradingTime map[string]any, now int64) (bool, error) {
	periods, err := Periods(tradingTime, now)
	if err != nil {
		return false, err
	}
	for _, p := range periods {
		if p.Start <= now && now < p.End {
			return true, nil
		}
	}
	return false, nil
}

// clock converts "HH:MM:SS" to nanoseconds past midnight. Hours may exceed
// 23 for sessions running past midnight.
func clock(v any) (int64, error) {
	s, _ := v.(string)
	fields := strings.Split(s, ":")
	if len(fields) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrBadPeriod, s)
	}
	var secs int64
	for i, f := range fields {
		n, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadPeriod, s)
		}
		secs += n * []int64{3600, 60, 1}[i]
	}
	return secs * int64(time.Second), nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func mod(a, b int64) int64 {
	return a - floorDiv(a, b)*b
}
