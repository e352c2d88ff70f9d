package analytics

import (
	"bytes"
	"cmp"
	"encoding/json"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/roach88/skinscan/internal/scan"
)

// DailyCount is one (date, condition) group.
type DailyCount struct {
	Date      string `json:"date"`
	Condition string `json:"condition"`
	Count     int    `json:"count"`
}

// ConditionCount is one label with its record count.
type ConditionCount struct {
	Condition string `json:"condition"`
	Count     int    `json:"count"`
}

// WeekdayCount is the number of scans on one day of the week.
type WeekdayCount struct {
	Weekday time.Weekday `json:"-"`
	Day     string       `json:"day"`
	Count   int          `json:"count"`
}

// PivotRow counts labels within one confidence range.
//
// It marshals flat: {"confidenceRange": "0.5-0.8", "<label>": n, ...}, with
// only the labels present in the range.
type PivotRow struct {
	Range  string
	Counts map[string]int
}

// dateLayout is the calendar-date format of DailyCount.Date.
const dateLayout = "2006-01-02"

// DailyConditionFrequency groups records by (calendar date in loc, label).
// Rows are sorted by date ascending, then condition ascending.
func DailyConditionFrequency(records []scan.Record, loc *time.Location) []DailyCount {
	loc = orUTC(loc)

	type key struct{ date, label string }
	counts := make(map[key]int)
	for _, rec := range records {
		counts[key{rec.Timestamp.In(loc).Format(dateLayout), rec.Label}]++
	}

	out := make([]DailyCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, DailyCount{Date: k.date, Condition: k.label, Count: n})
	}
	slices.SortFunc(out, func(a, b DailyCount) int {
		if c := cmp.Compare(a.Date, b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.Condition, b.Condition)
	})
	return out
}

// ConditionDistribution counts records per label.
// Rows are sorted by count descending, ties by label ascending.
// The counts sum to len(records).
func ConditionDistribution(records []scan.Record) []ConditionCount {
	counts := make(map[string]int)
	for _, rec := range records {
		counts[rec.Label]++
	}

	out := make([]ConditionCount, 0, len(counts))
	for label, n := range counts {
		out = append(out, ConditionCount{Condition: label, Count: n})
	}
	slices.SortFunc(out, func(a, b ConditionCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Condition, b.Condition)
	})
	return out
}

// WeekdayFrequency counts records per day of the week in loc.
// Days without records are omitted; rows run Sunday to Saturday.
func WeekdayFrequency(records []scan.Record, loc *time.Location) []WeekdayCount {
	loc = orUTC(loc)

	var counts [7]int
	for _, rec := range records {
		counts[rec.Timestamp.In(loc).Weekday()]++
	}

	out := []WeekdayCount{}
	for day, n := range counts {
		if n == 0 {
			continue
		}
		wd := time.Weekday(day)
		out = append(out, WeekdayCount{Weekday: wd, Day: wd.String(), Count: n})
	}
	return out
}

// confidenceBucket is a half-open range [lo, hi), or closed [lo, hi] when
// closed is set.
type confidenceBucket struct {
	name   string
	lo, hi float64
	closed bool
}

var confidenceBuckets = []confidenceBucket{
	{name: "0-0.5", lo: 0.0, hi: 0.5},
	{name: "0.5-0.8", lo: 0.5, hi: 0.8},
	{name: "0.8-1.0", lo: 0.8, hi: 1.0, closed: true},
}

// bucketIndex returns the bucket holding c, or -1 if c is outside [0, 1].
func bucketIndex(c float64) int {
	for i, b := range confidenceBuckets {
		if c >= b.lo && (c < b.hi || (b.closed && c == b.hi)) {
			return i
		}
	}
	return -1
}

// ConfidencePivot partitions records into the confidence ranges "0-0.5",
// "0.5-0.8" and "0.8-1.0" and counts labels within each. Empty ranges are
// omitted; rows are ordered by range lower bound.
//
// A confidence outside [0, 1] violates the record invariant. It is reported
// as a scan.KindInvariant error rather than dropped.
func ConfidencePivot(records []scan.Record) ([]PivotRow, error) {
	counts := make([]map[string]int, len(confidenceBuckets))
	for _, rec := range records {
		i := bucketIndex(rec.Confidence)
		if i < 0 {
			return nil, scan.Errorf(scan.KindInvariant, "stats.condition-by-confidence",
				"record %s has confidence %v outside [0, 1]", rec.ID, rec.Confidence)
		}
		if counts[i] == nil {
			counts[i] = make(map[string]int)
		}
		counts[i][rec.Label]++
	}

	out := []PivotRow{}
	for i, c := range counts {
		if c == nil {
			continue
		}
		out = append(out, PivotRow{Range: confidenceBuckets[i].name, Counts: c})
	}
	return out, nil
}

// MarshalJSON renders the row flat with confidenceRange first and labels in
// ascending order.
func (r PivotRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"` + scan.PivotRangeKey + `":`)
	rng, err := json.Marshal(r.Range)
	if err != nil {
		return nil, err
	}
	buf.Write(rng)

	for _, label := range slices.Sorted(maps.Keys(r.Counts)) {
		key, err := json.Marshal(label)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(r.Counts[label]))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func orUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
