package consensus

// RetargetV1Clamped computes the next target the same way RetargetV1 does,
// taking a full window of timestamps (oldest to newest) instead of just the
// first and last, for callers that already have the whole window on hand.
func RetargetV1Clamped(targetOld [32]byte, windowTimestamps []uint64) ([32]byte, error) {
	if len(windowTimestamps) < 2 {
		var zero [32]byte
		return zero, txerr(TX_ERR_PARSE, "retarget: window too short")
	}
	first := windowTimestamps[0]
	last := windowTimestamps[len(windowTimestamps)-1]
	return RetargetV1(targetOld, first, last)
}
