package mempool

import "sort"

// FeeBand selects a percentile band for fee-rate queries (spec §4.5:
// "Economy | Standard | Priority").
type FeeBand int

const (
	Economy FeeBand = iota
	Standard
	Priority
)

// Congestion thresholds and the fee-estimator window size (spec §4.5,
// concretized in SPEC_FULL.md §3 from the source's fee_estimator.rs).
const (
	FeeWindowBlocks        = 144
	CongestionLowThreshold = 1000
	CongestionHighThresh   = 5000
	MaxEnvDiscount         = 0.20
)

type blockSample struct {
	median float64
	avg    float64
}

// FeeEstimator maintains the sliding window of recent blocks' fee-rate
// statistics and answers percentile queries for block-template fee
// suggestions (spec §4.5 "Dynamic fee estimator").
type FeeEstimator struct {
	samples []blockSample // ring buffer, oldest first, capped at FeeWindowBlocks
}

// NewFeeEstimator returns an estimator with an empty window; queries before
// any sample is recorded fall back to MinRelayFeeRate.
func NewFeeEstimator() *FeeEstimator {
	return &FeeEstimator{}
}

// RecordBlock appends one sample computed from the fee rates of the
// transactions a just-applied block included, trimming the window to the
// most recent FeeWindowBlocks.
func (f *FeeEstimator) RecordBlock(includedFeeRates []float64) {
	if len(includedFeeRates) == 0 {
		return
	}
	sorted := append([]float64(nil), includedFeeRates...)
	sort.Float64s(sorted)
	var sum float64
	for _, r := range sorted {
		sum += r
	}
	sample := blockSample{
		median: sorted[len(sorted)/2],
		avg:    sum / float64(len(sorted)),
	}
	f.samples = append(f.samples, sample)
	if len(f.samples) > FeeWindowBlocks {
		f.samples = f.samples[len(f.samples)-FeeWindowBlocks:]
	}
}

// percentileOf returns the q-quantile (0..1) of the window's medians, or
// MinRelayFeeRate if the window is empty.
func (f *FeeEstimator) percentileOf(q float64) float64 {
	if len(f.samples) == 0 {
		return MinRelayFeeRate
	}
	medians := make([]float64, len(f.samples))
	for i, s := range f.samples {
		medians[i] = s.median
	}
	sort.Float64s(medians)
	idx := int(q * float64(len(medians)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(medians) {
		idx = len(medians) - 1
	}
	return medians[idx]
}

func bandQuantile(band FeeBand) float64 {
	switch band {
	case Economy:
		return 0.25
	case Standard:
		return 0.50
	case Priority:
		return 0.75
	default:
		return 0.50
	}
}

// congestionMultiplier steps at the configured mempool-size thresholds
// (spec §4.5: "congestion multiplier based on current mempool size
// crossing configured thresholds").
func congestionMultiplier(mempoolCandidateCount int) float64 {
	switch {
	case mempoolCandidateCount >= CongestionHighThresh:
		return 2.0
	case mempoolCandidateCount >= CongestionLowThreshold:
		return 1.5
	default:
		return 1.0
	}
}

// Estimate returns the suggested fee rate for the given priority band,
// mempool candidate count (for the congestion multiplier), and an optional
// per-transaction environmental score in [0,1] (0 disables the discount).
// The result is never below MinRelayFeeRate (spec §4.5, P9).
func (f *FeeEstimator) Estimate(band FeeBand, mempoolCandidateCount int, envScore float64) float64 {
	base := f.percentileOf(bandQuantile(band))
	estimate := base * congestionMultiplier(mempoolCandidateCount)
	if estimate < MinRelayFeeRate {
		estimate = MinRelayFeeRate
	}
	if envScore > 0 {
		discount := envScore * MaxEnvDiscount
		if discount > MaxEnvDiscount {
			discount = MaxEnvDiscount
		}
		discounted := estimate * (1 - discount)
		if discounted < MinRelayFeeRate {
			discounted = MinRelayFeeRate
		}
		estimate = discounted
	}
	return estimate
}

// Percentiles returns the four standard percentile bands in ascending
// order, exercising P9's monotonicity property directly.
func (f *FeeEstimator) Percentiles(mempoolCandidateCount int) (p25, p50, p75, p90 float64) {
	mult := congestionMultiplier(mempoolCandidateCount)
	clamp := func(v float64) float64 {
		v *= mult
		if v < MinRelayFeeRate {
			return MinRelayFeeRate
		}
		return v
	}
	return clamp(f.percentileOf(0.25)), clamp(f.percentileOf(0.50)), clamp(f.percentileOf(0.75)), clamp(f.percentileOf(0.90))
}
