package store

import (
	"math"
	"sort"
	"time"
)

// bucketOrigin anchors bucket boundaries, as date_bin(..., '2000-01-01') does.
var bucketOrigin = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// binTime returns the start of the width-wide bucket containing ts.
func binTime(ts time.Time, width time.Duration) time.Time {
	since := ts.Sub(bucketOrigin)
	n := since / width
	if since < 0 && since%width != 0 {
		n--
	}
	return bucketOrigin.Add(n * width)
}

// offsetRow is the projection OffsetBuckets needs from a row.
type offsetRow struct {
	ts     time.Time
	offset *float64
}

// aggregateOffsets groups rows into buckets the way the Postgres query does:
// avg of signed offsets, continuous 95th percentile and max of absolute
// offsets. Rows without an offset still create their bucket. The result is
// ordered by bucket.
func aggregateOffsets(rows []offsetRow, width time.Duration) []OffsetBucket {
	groups := make(map[time.Time][]float64)
	var order []time.Time

	for _, r := range rows {
		b := binTime(r.ts, width)
		vals, seen := groups[b]
		if !seen {
			order = append(order, b)
		}
		if r.offset != nil {
			vals = append(vals, *r.offset)
		}
		groups[b] = vals
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })

	out := make([]OffsetBucket, 0, len(order))
	for _, b := range order {
		bucket := OffsetBucket{Bucket: b}
		vals := groups[b]
		if len(vals) > 0 {
			var sum float64
			abs := make([]float64, len(vals))
			for i, v := range vals {
				sum += v
				abs[i] = math.Abs(v)
			}
			sort.Float64s(abs)

			avg := sum / float64(len(vals))
			p95 := percentileCont(abs, 0.95)
			maxAbs := abs[len(abs)-1]
			bucket.AvgOffsetSec = &avg
			bucket.P95AbsOffsetSec = &p95
			bucket.MaxAbsOffsetSec = &maxAbs
		}
		out = append(out, bucket)
	}
	return out
}

// percentileCont interpolates linearly between the closest ranks, matching
// Postgres percentile_cont. sorted must be ascending and non-empty.
func percentileCont(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p * float64(len(sorted)-1)
	lo := math.Floor(pos)
	hi := math.Ceil(pos)
	if lo == hi {
		return sorted[int(lo)]
	}
	return sorted[int(lo)] + (sorted[int(hi)]-sorted[int(lo)])*(pos-lo)
}
