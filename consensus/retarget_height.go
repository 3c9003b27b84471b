package consensus

// blockExpectedTarget returns the target a block at height must carry given
// its ancestor headers (oldest to newest) and the target currently in force.
// Outside retarget boundaries the target carries forward unchanged; at a
// WINDOW_SIZE boundary it is recomputed from the full retarget window via
// RetargetV1.
func blockExpectedTarget(ancestorHeaders []BlockHeader, height uint64, targetIn [32]byte) ([32]byte, error) {
	if height == 0 {
		return targetIn, nil
	}
	if height%WINDOW_SIZE != 0 {
		return targetIn, nil
	}
	if uint64(len(ancestorHeaders)) < WINDOW_SIZE {
		var zero [32]byte
		return zero, txerr(BLOCK_ERR_TARGET_INVALID, "insufficient ancestor headers for retarget window")
	}
	first := ancestorHeaders[0]
	last := ancestorHeaders[WINDOW_SIZE-1]
	return RetargetV1(last.Target, first.Timestamp, last.Timestamp)
}

// BlockExpectedTarget is the exported form of blockExpectedTarget for callers
// outside this package (P2P header validation) that need the same retarget
// decision ApplyBlock uses.
func BlockExpectedTarget(ancestorHeaders []BlockHeader, height uint64, targetIn [32]byte) ([32]byte, error) {
	return blockExpectedTarget(ancestorHeaders, height, targetIn)
}

// blockRewardForHeight returns the block subsidy at height under the
// remainder-distributed issuance schedule: the total supply is spread evenly
// across SUBSIDY_DURATION_BLOCKS blocks, with the first SUBSIDY_TOTAL_MINED %
// SUBSIDY_DURATION_BLOCKS blocks receiving one extra base unit so the full
// total is issued exactly. No subsidy is paid once the duration elapses.
func blockRewardForHeight(height uint64) uint64 {
	if height >= SUBSIDY_DURATION_BLOCKS {
		return 0
	}
	base := uint64(SUBSIDY_TOTAL_MINED) / uint64(SUBSIDY_DURATION_BLOCKS)
	rem := uint64(SUBSIDY_TOTAL_MINED) % uint64(SUBSIDY_DURATION_BLOCKS)
	if height < rem {
		return base + 1
	}
	return base
}
