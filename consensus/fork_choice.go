package consensus

import (
	"math/big"
)

var twoTo256 = new(big.Int).Lsh(big.NewInt(1), 256)

// WorkFromTarget computes the proof-of-work credited to a single block with
// the given target: floor(2^256 / (target+1)). Must stay deterministic
// big.Int arithmetic — floating point has no place in chain-work accounting.
func WorkFromTarget(target [32]byte) (*big.Int, error) {
	t := new(big.Int).SetBytes(target[:]) // big-endian
	if t.Sign() <= 0 {
		return nil, txerr(TX_ERR_PARSE, "fork_work: target is zero")
	}
	powLimit := new(big.Int).SetBytes(POW_LIMIT[:])
	if t.Cmp(powLimit) > 0 {
		return nil, txerr(TX_ERR_PARSE, "fork_work: target above pow_limit")
	}
	denom := new(big.Int).Add(t, big.NewInt(1))
	return new(big.Int).Div(twoTo256, denom), nil
}

// ChainWorkFromTargets sums WorkFromTarget over a list of block targets —
// the accumulated-work figure fork choice compares between candidate tips.
func ChainWorkFromTargets(targets [][32]byte) (*big.Int, error) {
	total := new(big.Int)
	for _, t := range targets {
		w, err := WorkFromTarget(t)
		if err != nil {
			return nil, err
		}
		total.Add(total, w)
	}
	return total, nil
}

