package consensus

import (
	"bytes"
	"fmt"

	"github.com/supernova-chain/supernova/crypto"
)

// ValidateBlockHeaderStage1 validates the header-only consensus rules that
// don't depend on knowing the block's place in the chain: proof-of-work and
// the transaction merkle root. When ctx carries ancestor headers (the
// block's ancestry is known), it additionally validates the expected target
// and median-time-past rules; orphan blocks (ancestry not yet known) skip
// those and are revisited once their parent arrives.
func ValidateBlockHeaderStage1(p crypto.CryptoProvider, block *Block, ctx BlockValidationContext) error {
	if block == nil {
		return fmt.Errorf(BLOCK_ERR_PARSE)
	}

	blockHash := blockHeaderHash(p, &block.Header)
	if bytes.Compare(blockHash[:], block.Header.Target[:]) >= 0 {
		return fmt.Errorf(BLOCK_ERR_POW_INVALID)
	}

	headerTxs := make([]*Tx, len(block.Transactions))
	for i := range block.Transactions {
		headerTxs[i] = &block.Transactions[i]
	}
	merkleRoot, err := merkleRootTxIDs(p, headerTxs)
	if err != nil {
		return fmt.Errorf(BLOCK_ERR_MERKLE_INVALID)
	}
	if merkleRoot != block.Header.MerkleRoot {
		return fmt.Errorf(BLOCK_ERR_MERKLE_INVALID)
	}

	if len(ctx.AncestorHeaders) == 0 {
		return nil
	}

	expectedTarget, err := blockExpectedTarget(ctx.AncestorHeaders, ctx.Height, block.Header.Target)
	if err != nil {
		return err
	}
	if !bytes.Equal(block.Header.Target[:], expectedTarget[:]) {
		return fmt.Errorf(BLOCK_ERR_TARGET_INVALID)
	}

	if ctx.Height > 0 {
		medianTs, err := medianPastTimestamp(ctx.AncestorHeaders, ctx.Height)
		if err != nil {
			return err
		}
		if block.Header.Timestamp <= medianTs {
			return fmt.Errorf(BLOCK_ERR_TIMESTAMP_OLD)
		}
		if ctx.LocalTimeSet && block.Header.Timestamp > ctx.LocalTime+MAX_FUTURE_DRIFT {
			return fmt.Errorf(BLOCK_ERR_TIMESTAMP_FUTURE)
		}
	}

	return nil
}
