package peerdiversity

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// DefaultPoWDifficulty is the default leading-zero-bit requirement for the
// inbound connection admission challenge (spec §4.6, default range 8-20).
const DefaultPoWDifficulty = 8

// Challenge is an issued PoW admission challenge (spec §4.6 step 4; S11).
// Nonce is sent to the connecting peer, which must return an 8-byte
// Solution such that SHA256(Nonce || Solution) has at least Difficulty
// leading zero bits.
type Challenge struct {
	Nonce      [32]byte
	Difficulty int
}

// NewChallenge issues a fresh random challenge at the given difficulty.
func NewChallenge(difficulty int) (Challenge, error) {
	if difficulty <= 0 {
		difficulty = DefaultPoWDifficulty
	}
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return Challenge{}, fmt.Errorf("pow: generating nonce: %w", err)
	}
	return Challenge{Nonce: nonce, Difficulty: difficulty}, nil
}

// Verify reports whether solution satisfies the challenge: SHA256(nonce ||
// solution) must have at least Difficulty leading zero bits.
func (c Challenge) Verify(solution [8]byte) bool {
	h := sha256.Sum256(append(c.Nonce[:], solution[:]...))
	return leadingZeroBits(h[:]) >= c.Difficulty
}

func leadingZeroBits(digest []byte) int {
	count := 0
	for _, b := range digest {
		if b == 0 {
			count += 8
			continue
		}
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			if b&mask != 0 {
				return count
			}
			count++
		}
	}
	return count
}

// ErrPoWNotCompleted is the typed reason returned when admission proceeds
// without a verified solution (spec §4.6 "PoW not completed"; S11).
var ErrPoWNotCompleted = &AdmissionError{Reason: ReasonPoWNotCompleted}
