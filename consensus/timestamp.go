package consensus

import "sort"

// Timestamp validation constants (C3, spec §4.3). MaxFutureTime and
// MaxBackwardDrift are seconds; RetargetMinAvgInterval/RetargetMaxAvgInterval
// bound the average inter-block time across a difficulty-retarget window.
const (
	MaxFutureTime                 = 2 * 60 * 60
	MaxBackwardDrift              = 60 * 60
	MaxIdenticalConsecutiveStamps = 5
	RetargetMinAvgInterval        = 10
	RetargetMaxAvgInterval        = 7200
	TimeWarpAlternationMinCount   = 4
	TimeWarpSwingRatio            = 2
)

// medianPastTimestamp returns the median-time-past for a block at height,
// computed over the most recent min(height, 11) ancestor headers (oldest to
// newest, as BlockValidationContext.AncestorHeaders is ordered). It uses the
// upper median (index N/2, including for even-length windows) rather than
// the conventional lower median: this bit-for-bit matches the upstream
// source's calculate_median_time behavior, which the spec preserves.
func medianPastTimestamp(ancestorHeaders []BlockHeader, height uint64) (uint64, error) {
	k := 11
	if height < 11 {
		k = int(height)
	}
	if k == 0 || len(ancestorHeaders) < k {
		return 0, txerr(BLOCK_ERR_TIMESTAMP_OLD, "insufficient ancestor headers for median-time-past")
	}
	window := make([]uint64, k)
	// ancestorHeaders is oldest->newest; the most recent k ancestors are the tail.
	src := ancestorHeaders[len(ancestorHeaders)-k:]
	for i, h := range src {
		window[i] = h.Timestamp
	}
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
	return window[len(window)/2], nil
}

// TimestampValidator implements the full C3 contract for a new header given
// an ordered slice of previous timestamps, newest first, per spec §4.3.
// It is used outside the inline ApplyBlock MTP check above: header-only
// sync validation (before the block body is available) and miner
// pre-checks consult it directly.
type TimestampValidator struct {
	// CurrentTime, when non-nil, overrides the wall clock for MaxFutureTime
	// checks (tests and deterministic replay).
	CurrentTime *uint64
}

// Validate checks a candidate header timestamp against the median-time-past
// rule, the future-time cap, the backward-drift cap, and the time-warp
// alternation-pattern detector. prevTimestamps must be newest-first and
// contain at least the last 11 timestamps when available.
func (v TimestampValidator) Validate(candidate uint64, prevTimestamps []uint64, now uint64) error {
	if v.CurrentTime != nil {
		now = *v.CurrentTime
	}
	if candidate > now+MaxFutureTime {
		return txerr(BLOCK_ERR_TIMESTAMP_FUTURE, "timestamp exceeds max future time")
	}
	if len(prevTimestamps) > 0 {
		k := len(prevTimestamps)
		if k > 11 {
			k = 11
		}
		median := upperMedian(prevTimestamps[:k])
		if candidate <= median {
			return txerr(BLOCK_ERR_TIMESTAMP_OLD, "timestamp <= median-time-past")
		}
		previous := prevTimestamps[0]
		if candidate+MaxBackwardDrift < previous {
			return txerr(BLOCK_ERR_TIMESTAMP_BACKWARD, "timestamp precedes previous by more than max backward drift")
		}
	}
	if detectTimeWarpAlternation(prevTimestamps, candidate) {
		return txerr(BLOCK_ERR_TIMESTAMP_WARP, "alternating-pattern time warp")
	}
	return nil
}

// ValidateRetargetWindow additionally enforces the retarget-window average
// inter-block-time bounds and the identical-timestamp run limit, applicable
// only at difficulty-retarget heights (spec §4.3 final paragraph).
// timestamps must be ordered oldest to newest and span the whole window.
func ValidateRetargetWindow(timestamps []uint64) error {
	if len(timestamps) < 2 {
		return nil
	}
	first := timestamps[0]
	last := timestamps[len(timestamps)-1]
	if last < first {
		return txerr(BLOCK_ERR_RETARGET_INTERVAL, "retarget window timestamps non-monotonic")
	}
	avg := (last - first) / uint64(len(timestamps)-1)
	if avg < RetargetMinAvgInterval || avg > RetargetMaxAvgInterval {
		return txerr(BLOCK_ERR_RETARGET_INTERVAL, "retarget window average inter-block time out of bounds")
	}
	run := 1
	for i := 1; i < len(timestamps); i++ {
		if timestamps[i] == timestamps[i-1] {
			run++
			if run > MaxIdenticalConsecutiveStamps {
				return txerr(BLOCK_ERR_RETARGET_INTERVAL, "too many consecutive identical timestamps")
			}
		} else {
			run = 1
		}
	}
	return nil
}

// detectTimeWarpAlternation flags the pattern in spec §4.3: build the 5
// deltas between the 6 most recent timestamps (candidate prepended to
// prevTimestamps, newest first) and examine sign alternations between
// consecutive deltas. An alternating high/low timestamp sequence (the
// hallmark of a time-warp attack attempting to manipulate the next
// difficulty retarget) produces a sign flip at every step, but small
// natural jitter around a steady block interval alternates too; what
// distinguishes an attack is that the peak and trough of each swing are
// themselves far apart. A sign flip only counts toward the alternation
// total when the high point of its 3-timestamp window is at least
// TimeWarpSwingRatio times the low point; ≥4 such flips among the 4
// adjacent delta pairs trips the detector.
func detectTimeWarpAlternation(prevTimestamps []uint64, candidate uint64) bool {
	series := make([]uint64, 0, 6)
	series = append(series, candidate)
	series = append(series, prevTimestamps...)
	if len(series) > 6 {
		series = series[:6]
	}
	if len(series) < 6 {
		return false
	}
	deltas := make([]int64, 5)
	for i := 0; i < 5; i++ {
		deltas[i] = int64(series[i]) - int64(series[i+1])
	}
	alternations := 0
	for i := 1; i < len(deltas); i++ {
		prev, cur := deltas[i-1], deltas[i]
		if (prev > 0 && cur < 0) || (prev < 0 && cur > 0) {
			if swingsBeyondRatio(series[i-1], series[i], series[i+1]) {
				alternations++
			}
		}
	}
	return alternations >= TimeWarpAlternationMinCount
}

// swingsBeyondRatio reports whether the peak and trough of the 3-timestamp
// window spanning one sign flip differ by at least TimeWarpSwingRatio, the
// magnitude gate that separates a time-warp swing from ordinary jitter.
func swingsBeyondRatio(a, b, c uint64) bool {
	hi, lo := a, a
	for _, v := range [2]uint64{b, c} {
		if v > hi {
			hi = v
		}
		if v < lo {
			lo = v
		}
	}
	if lo == 0 {
		return hi > 0
	}
	return hi >= TimeWarpSwingRatio*lo
}

func upperMedian(window []uint64) uint64 {
	sorted := append([]uint64(nil), window...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}

