package aggregate

import (
	"math"
	"sort"
	"time"

	"github.com/civic-sage/backend/internal/storage/models"
)

// Month is a calendar month in the aggregation time zone.
type Month struct {
	Start time.Time
}

func MonthOf(t time.Time) Month {
	y, m, _ := t.Date()
	return Month{Start: time.Date(y, m, 1, 0, 0, 0, 0, t.Location())}
}

// End is the first instant of the following month.
func (m Month) End() time.Time {
	return m.Start.AddDate(0, 1, 0)
}

// Days lists every date of the month as YYYY-MM-DD.
func (m Month) Days() []string {
	var days []string
	for d := m.Start; d.Before(m.End()); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(models.SessionDateLayout))
	}
	return days
}

func (m Month) Contains(t time.Time) bool {
	return t.Year() == m.Start.Year() && t.Month() == m.Start.Month()
}

// WeekOf buckets a day of the month into week 1 to 5.
func WeekOf(day int) int {
	return (day-1)/7 + 1
}

// Bin is [Low, High) except the lowest bin of a set, which is [Low, High].
// The lowest bin's High is therefore the largest value its label covers.
type Bin struct {
	Label string
	Low   float64
	High  float64
}

var (
	HourBins = []Bin{
		{"00:00-03:59", 0, 3},
		{"04:00-07:59", 4, 8},
		{"08:00-11:59", 8, 12},
		{"12:00-15:59", 12, 16},
		{"16:00-23:59", 16, 24},
	}

	LengthBins = []Bin{
		{"<1 min", 0, math.Nextafter(60, 0)},
		{"1-5 min", 60, 300},
		{"5-15 min", 300, 900},
		{"15-30 min", 900, 1800},
		{"30 min-1 hour", 1800, 3600},
		{"1 hour+", 3600, math.Inf(1)},
	}

	MessageBins = []Bin{
		{"1-5", 1, 5},
		{"6-10", 6, 11},
		{"11-19", 11, 20},
		{"20+", 20, math.Inf(1)},
	}
)

// binIndex finds the bin holding v, or -1.
func binIndex(bins []Bin, v float64) int {
	for i, b := range bins {
		if v < b.Low {
			continue
		}
		if v < b.High || i == 0 && v == b.High {
			return i
		}
	}
	return -1
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// medianVector takes the per-label median over a pool of equal-length score
// vectors and rescales the result to sum to one. A zero sum stays all zero.
func medianVector(pool [][]float64, width int) []float64 {
	out := make([]float64, width)
	if len(pool) == 0 {
		return out
	}
	column := make([]float64, len(pool))
	for i := 0; i < width; i++ {
		for j, v := range pool {
			column[j] = v[i]
		}
		out[i] = median(column)
	}

	sum := 0.0
	for _, v := range out {
		sum += v
	}
	if sum > 0 {
		for i := range out {
			out[i] /= sum
		}
	}
	return out
}

// round rounds half to even at the given number of decimals.
func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.RoundToEven(v*p) / p
}
