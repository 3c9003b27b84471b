package store

import (
	"fmt"
	"math/big"

	"github.com/supernova-chain/supernova/consensus"
	"github.com/supernova-chain/supernova/crypto"
	"github.com/supernova-chain/supernova/node/checkpoint"

	bolt "go.etcd.io/bbolt"
)

// ReorgToTip performs the Phase 1 disconnect/connect procedure to move the applied tip
// from the manifest tip to newTipHash (which must be present in block_index_by_hash).
//
// This mutates persistent chainstate (utxo + undo + manifest). It is deterministic given
// the stored blocks and index.
//
// checkpoints may be nil, in which case no depth gate applies (spec §4.4 step 2 is
// skipped, matching an empty checkpoint.Manager). When non-nil, the reorg is gated
// per checkpoints.CheckReorg against the common ancestor height before any mutation
// begins: a Strict-mode violation aborts before either chain is touched.
func (d *DB) ReorgToTip(p crypto.CryptoProvider, chainID [32]byte, newTipHash [32]byte, opts ApplyOptions, checkpoints *checkpoint.Manager) error {
	if d == nil || d.db == nil || d.manifest == nil {
		return fmt.Errorf("db not ready")
	}
	if p == nil {
		return fmt.Errorf("crypto provider required")
	}

	oldTipHash, err := parseHex32(d.manifest.TipHashHex)
	if err != nil {
		return err
	}
	if oldTipHash == newTipHash {
		return nil
	}

	forkHash, err := d.findForkPoint(oldTipHash, newTipHash)
	if err != nil {
		return err
	}

	if checkpoints != nil {
		forkIdx, ok, err := d.GetIndex(forkHash)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("REORG_ERR_INDEX_MISSING")
		}
		if allow, _, gateErr := checkpoints.CheckReorg(forkIdx.Height); !allow {
			return gateErr
		}
	}

	// Disconnect old chain tip -> fork+1.
	cur := oldTipHash
	for cur != forkHash {
		parentHash, err := d.disconnectTip(cur)
		if err != nil {
			return err
		}
		cur = parentHash
	}

	// Connect fork+1 -> new tip. If a block partway through fails to apply,
	// rewind whatever of the new branch was already connected and restore
	// the original tip (spec §4.4 step 4) rather than leaving the chain
	// stopped mid-reorg.
	path, err := d.pathFromAncestor(forkHash, newTipHash)
	if err != nil {
		return err
	}
	for i, h := range path {
		blockBytes, ok, err := d.GetBlockBytes(h)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("REORG_ERR_BLOCK_MISSING")
		}
		// Direct connect: must extend current manifest tip by construction.
		decision, applyErr := d.applyBlockAsNewTip(p, chainID, blockBytes, opts)
		if applyErr != nil {
			// Mark INVALID_BODY on the failing block, then undo the part of
			// the new branch already connected (path[:i]) and replay the
			// original chain back up to oldTipHash.
			idx, ok2, _ := d.GetIndex(h)
			if ok2 {
				idx.Status = BlockStatusInvalid
				_ = d.PutIndex(h, *idx)
			}
			if rbErr := d.restoreOriginalTip(p, chainID, path[:i], oldTipHash, opts); rbErr != nil {
				return fmt.Errorf("reorg: apply failed (%w) and restoring original tip also failed: %v", applyErr, rbErr)
			}
			return applyErr
		}
		if decision != ApplyAppliedAsTip {
			if rbErr := d.restoreOriginalTip(p, chainID, path[:i+1], oldTipHash, opts); rbErr != nil {
				return fmt.Errorf("reorg: unexpected decision %s and restoring original tip also failed: %v", decision, rbErr)
			}
			return fmt.Errorf("reorg: unexpected decision %s", decision)
		}
	}
	return nil
}

// disconnectTip undoes the single block cur (must be the current manifest
// tip) using its stored undo record, restoring the UTXO set and advancing
// the manifest tip to cur's parent. Returns the parent hash.
func (d *DB) disconnectTip(cur [32]byte) ([32]byte, error) {
	idx, ok, err := d.GetIndex(cur)
	if err != nil {
		return [32]byte{}, err
	}
	if !ok {
		return [32]byte{}, fmt.Errorf("REORG_ERR_INDEX_MISSING")
	}

	undo, ok, err := d.GetUndo(cur)
	if err != nil {
		return [32]byte{}, err
	}
	if !ok || undo == nil {
		return [32]byte{}, fmt.Errorf("REORG_ERR_UNDO_MISSING")
	}

	// Apply undo atomically (DB batch), then advance manifest to parent as commit point.
	if err := d.db.Update(func(tx *bolt.Tx) error {
		bu := tx.Bucket(bucketUtxo)
		for _, c := range undo.Created {
			if err := bu.Delete(encodeOutpointKey(c)); err != nil {
				return err
			}
		}
		for _, s := range undo.Spent {
			val, err := encodeUtxoEntry(s.RestoredEntry)
			if err != nil {
				return err
			}
			if err := bu.Put(encodeOutpointKey(s.OutPoint), val); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return [32]byte{}, err
	}

	parentHash := idx.PrevHash
	parentIdx, ok, err := d.GetIndex(parentHash)
	if err != nil {
		return [32]byte{}, err
	}
	if !ok {
		return [32]byte{}, fmt.Errorf("REORG_ERR_INDEX_MISSING")
	}
	m := &Manifest{
		SchemaVersion: SchemaVersionV1,
		ChainIDHex:    d.manifest.ChainIDHex,

		TipHashHex:           hex32(parentHash),
		TipHeight:            parentIdx.Height,
		TipCumulativeWorkDec: parentIdx.CumulativeWork.Text(10),

		LastAppliedBlockHashHex: hex32(parentHash),
		LastAppliedHeight:       parentIdx.Height,
	}
	if err := d.SetManifest(m); err != nil {
		return [32]byte{}, err
	}
	return parentHash, nil
}

// restoreOriginalTip undoes appliedNewBranch (hashes of new-branch blocks
// already connected onto the tip in this ReorgToTip call, oldest first)
// and then re-applies the original chain's blocks back up to oldTipHash, so
// the manifest tip ends up exactly where it started before the reorg
// attempt. Used when connecting the new branch fails partway through.
func (d *DB) restoreOriginalTip(p crypto.CryptoProvider, chainID [32]byte, appliedNewBranch [][32]byte, oldTipHash [32]byte, opts ApplyOptions) error {
	for i := len(appliedNewBranch) - 1; i >= 0; i-- {
		tipHash, err := parseHex32(d.manifest.TipHashHex)
		if err != nil {
			return err
		}
		if tipHash != appliedNewBranch[i] {
			return fmt.Errorf("reorg: rollback tip mismatch, expected %x got %x", appliedNewBranch[i], tipHash)
		}
		if _, err := d.disconnectTip(tipHash); err != nil {
			return err
		}
	}

	forkHash, err := parseHex32(d.manifest.TipHashHex)
	if err != nil {
		return err
	}
	originalPath, err := d.pathFromAncestor(forkHash, oldTipHash)
	if err != nil {
		return err
	}
	for _, h := range originalPath {
		blockBytes, ok, err := d.GetBlockBytes(h)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("REORG_ERR_BLOCK_MISSING")
		}
		decision, err := d.applyBlockAsNewTip(p, chainID, blockBytes, opts)
		if err != nil {
			return fmt.Errorf("restoring original chain block %x: %w", h, err)
		}
		if decision != ApplyAppliedAsTip {
			return fmt.Errorf("restoring original chain block %x: unexpected decision %s", h, decision)
		}
	}
	return nil
}

func (d *DB) findForkPoint(oldTip [32]byte, newTip [32]byte) ([32]byte, error) {
	a := oldTip
	b := newTip

	ha, ok, err := d.GetIndex(a)
	if err != nil {
		return [32]byte{}, err
	}
	if !ok {
		return [32]byte{}, fmt.Errorf("REORG_ERR_INDEX_MISSING")
	}
	hb, ok, err := d.GetIndex(b)
	if err != nil {
		return [32]byte{}, err
	}
	if !ok {
		return [32]byte{}, fmt.Errorf("REORG_ERR_INDEX_MISSING")
	}

	for ha.Height > hb.Height {
		a = ha.PrevHash
		ha, ok, err = d.GetIndex(a)
		if err != nil {
			return [32]byte{}, err
		}
		if !ok {
			return [32]byte{}, fmt.Errorf("REORG_ERR_INDEX_MISSING")
		}
	}
	for hb.Height > ha.Height {
		b = hb.PrevHash
		hb, ok, err = d.GetIndex(b)
		if err != nil {
			return [32]byte{}, err
		}
		if !ok {
			return [32]byte{}, fmt.Errorf("REORG_ERR_INDEX_MISSING")
		}
	}
	for a != b {
		a = ha.PrevHash
		b = hb.PrevHash
		ha, ok, err = d.GetIndex(a)
		if err != nil {
			return [32]byte{}, err
		}
		if !ok {
			return [32]byte{}, fmt.Errorf("REORG_ERR_INDEX_MISSING")
		}
		hb, ok, err = d.GetIndex(b)
		if err != nil {
			return [32]byte{}, err
		}
		if !ok {
			return [32]byte{}, fmt.Errorf("REORG_ERR_INDEX_MISSING")
		}
	}
	return a, nil
}

// pathFromAncestor returns the hashes from ancestor's child up to tip (ascending height).
func (d *DB) pathFromAncestor(ancestor [32]byte, tip [32]byte) ([][32]byte, error) {
	if ancestor == tip {
		return nil, nil
	}
	// Walk back from tip to ancestor, then reverse.
	cur := tip
	out := make([][32]byte, 0, 16)
	for cur != ancestor {
		out = append(out, cur)
		idx, ok, err := d.GetIndex(cur)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("REORG_ERR_INDEX_MISSING")
		}
		cur = idx.PrevHash
		if cur == ([32]byte{}) {
			return nil, fmt.Errorf("REORG_ERR_INDEX_MISSING")
		}
	}
	// Reverse.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// applyBlockAsNewTip applies a block that is expected to directly extend the current applied tip.
func (d *DB) applyBlockAsNewTip(
	p crypto.CryptoProvider,
	chainID [32]byte,
	blockBytes []byte,
	opts ApplyOptions,
) (ApplyDecision, error) {
	// This is the "direct connect" half of ApplyBlockIfBestTip, without Stage0-3.
	block, err := consensus.ParseBlockBytes(blockBytes)
	if err != nil {
		return "", err
	}
	blockHash, err := consensus.BlockHeaderHash(p, block.Header)
	if err != nil {
		return "", err
	}
	tipHash, err := parseHex32(d.manifest.TipHashHex)
	if err != nil {
		return "", err
	}
	if block.Header.PrevBlockHash != tipHash {
		return "", fmt.Errorf("REORG_ERR_LINKAGE")
	}

	parentIndex, ok, err := d.GetIndex(tipHash)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("REORG_ERR_INDEX_MISSING")
	}
	height := parentIndex.Height + 1

	utxo, err := d.LoadUTXOSet()
	if err != nil {
		return "", err
	}
	ancestorHeaders, err := d.loadAncestorHeadersForParent(tipHash, height)
	if err != nil {
		return "", err
	}
	ctx := consensus.BlockValidationContext{
		Height:           height,
		AncestorHeaders:  ancestorHeaders,
		LocalTime:        opts.LocalTime,
		LocalTimeSet:     opts.LocalTimeSet,
		SuiteIDSLHActive: opts.SuiteIDSLHActive,
		HTLCV2Active:     opts.HTLCV2Active,
	}
	if err := consensus.ApplyBlock(p, chainID, &block, utxo, ctx); err != nil {
		return "", err
	}

	preUtxo, err := d.LoadUTXOSet()
	if err != nil {
		return "", err
	}
	undo, created, err := computeUndoForBlock(p, height, &block, preUtxo)
	if err != nil {
		return "", err
	}
	undo.Created = created

	createdEntries, err := computeCreatedEntries(p, height, &block)
	if err != nil {
		return "", err
	}
	undoBytes, err := encodeUndoRecord(undo)
	if err != nil {
		return "", err
	}

	idx, ok, err := d.GetIndex(blockHash)
	if err != nil {
		return "", err
	}
	if !ok {
		// If index wasn't set, compute minimal here.
		w, err := WorkFromTarget(block.Header.Target)
		if err != nil {
			return "", err
		}
		idx = &BlockIndexEntry{
			Height:         height,
			PrevHash:       tipHash,
			CumulativeWork: new(big.Int).Add(parentIndex.CumulativeWork, w),
			Status:         BlockStatusValid,
		}
	} else {
		idx.Height = height
		idx.PrevHash = tipHash
		idx.Status = BlockStatusValid
	}
	indexBytes, err := encodeIndexEntry(*idx)
	if err != nil {
		return "", err
	}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketUndo).Put(blockHash[:], undoBytes); err != nil {
			return err
		}
		bu := tx.Bucket(bucketUtxo)
		for _, s := range undo.Spent {
			if err := bu.Delete(encodeOutpointKey(s.OutPoint)); err != nil {
				return err
			}
		}
		for _, ce := range createdEntries {
			val, err := encodeUtxoEntry(ce.Entry)
			if err != nil {
				return err
			}
			if err := bu.Put(encodeOutpointKey(ce.Point), val); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketIndex).Put(blockHash[:], indexBytes); err != nil {
			return err
		}
		return nil
	}); err != nil {
		return "", err
	}

	m := &Manifest{
		SchemaVersion: SchemaVersionV1,
		ChainIDHex:    d.manifest.ChainIDHex,

		TipHashHex:           hex32(blockHash),
		TipHeight:            idx.Height,
		TipCumulativeWorkDec: idx.CumulativeWork.Text(10),

		LastAppliedBlockHashHex: hex32(blockHash),
		LastAppliedHeight:       idx.Height,
	}
	if err := d.SetManifest(m); err != nil {
		return "", err
	}
	return ApplyAppliedAsTip, nil
}

