package period

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// YearMonth identifies one monthly partition.
// Its String form ("yyyy-mm") sorts lexicographically in chronological order.
type YearMonth struct {
	Year  int
	Month int
}

// Parse accepts "yyyy-mm", "yyyymm" or "yyyy-mm-dd" (the day is ignored).
func Parse(s string) (YearMonth, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return YearMonth{}, fmt.Errorf("year-month must not be empty")
	}

	var yyyy, mm string
	switch {
	case len(s) == 6 && !strings.Contains(s, "-"):
		yyyy, mm = s[:4], s[4:]
	case len(s) >= 7 && s[4] == '-':
		yyyy, mm = s[:4], s[5:7]
	default:
		return YearMonth{}, fmt.Errorf("invalid year-month %q", s)
	}

	year, err := strconv.Atoi(yyyy)
	if err != nil {
		return YearMonth{}, fmt.Errorf("invalid year in %q: %w", s, err)
	}
	month, err := strconv.Atoi(mm)
	if err != nil {
		return YearMonth{}, fmt.Errorf("invalid month in %q: %w", s, err)
	}
	return New(year, month)
}

// MustParse is Parse for constants and tests.
func MustParse(s string) YearMonth {
	ym, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return ym
}

// New validates year and month.
func New(year, month int) (YearMonth, error) {
	if year < 1 || year > 9999 {
		return YearMonth{}, fmt.Errorf("year %d out of range", year)
	}
	if month < 1 || month > 12 {
		return YearMonth{}, fmt.Errorf("month %d out of range", month)
	}
	return YearMonth{Year: year, Month: month}, nil
}

// Of returns the month containing t.
func Of(t time.Time) YearMonth {
	return YearMonth{Year: t.Year(), Month: int(t.Month())}
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, ym.Month)
}

// YYYY and MM are the zero-padded template substitutions.
func (ym YearMonth) YYYY() string { return fmt.Sprintf("%04d", ym.Year) }
func (ym YearMonth) MM() string   { return fmt.Sprintf("%02d", ym.Month) }

func (ym YearMonth) IsZero() bool { return ym.Year == 0 && ym.Month == 0 }

// Compare returns -1, 0 or +1.
func (ym YearMonth) Compare(other YearMonth) int {
	switch {
	case ym.Year != other.Year:
		if ym.Year < other.Year {
			return -1
		}
		return 1
	case ym.Month < other.Month:
		return -1
	case ym.Month > other.Month:
		return 1
	}
	return 0
}

func (ym YearMonth) Before(other YearMonth) bool { return ym.Compare(other) < 0 }
func (ym YearMonth) After(other YearMonth) bool  { return ym.Compare(other) > 0 }

// AddMonths moves n months forward (negative n moves backward).
func (ym YearMonth) AddMonths(n int) YearMonth {
	idx := ym.Year*12 + (ym.Month - 1) + n
	return YearMonth{Year: idx / 12, Month: idx%12 + 1}
}

// Start is the first instant of the month in UTC.
func (ym YearMonth) Start() time.Time {
	return time.Date(ym.Year, time.Month(ym.Month), 1, 0, 0, 0, 0, time.UTC)
}

// Range is an inclusive month range.
type Range struct {
	Start YearMonth
	End   YearMonth
}

// NewRange validates start <= end.
func NewRange(start, end YearMonth) (Range, error) {
	if start.After(end) {
		return Range{}, fmt.Errorf("range start %s is after end %s", start, end)
	}
	return Range{Start: start, End: end}, nil
}

// Contains reports whether ym lies within the inclusive range.
func (r Range) Contains(ym YearMonth) bool {
	return !ym.Before(r.Start) && !ym.After(r.End)
}

// Months enumerates every month in the range, oldest first.
func (r Range) Months() []YearMonth {
	if r.Start.After(r.End) {
		return nil
	}
	var out []YearMonth
	for cur := r.Start; !cur.After(r.End); cur = cur.AddMonths(1) {
		out = append(out, cur)
	}
	return out
}

func (r Range) String() string {
	return r.Start.String() + ".." + r.End.String()
}

// MarshalText renders "yyyy-mm"; this also makes YearMonth usable as a JSON map key.
func (ym YearMonth) MarshalText() ([]byte, error) {
	return []byte(ym.String()), nil
}

func (ym *YearMonth) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*ym = parsed
	return nil
}
