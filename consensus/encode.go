package consensus

import "encoding/binary"

func appendU32LE(dst []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(dst, tmp[:]...)
}

func appendU64LE(dst []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(dst, tmp[:]...)
}

func appendU16LE(dst []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(dst, tmp[:]...)
}

func appendLenPrefixed(dst []byte, b []byte) []byte {
	dst = append(dst, CompactSize(len(b)).Encode()...)
	return append(dst, b...)
}

// BlockHeaderBytes serializes a BlockHeader: version, prev_block_hash,
// merkle_root, timestamp, target, nonce.
func BlockHeaderBytes(header BlockHeader) []byte {
	out := make([]byte, 0, 4+32+32+8+32+8)
	out = appendU32LE(out, header.Version)
	out = append(out, header.PrevBlockHash[:]...)
	out = append(out, header.MerkleRoot[:]...)
	out = appendU64LE(out, header.Timestamp)
	out = append(out, header.Target[:]...)
	out = appendU64LE(out, header.Nonce)
	return out
}

// TxOutputBytes serializes a TxOutput: value, covenant_type, then a
// compact-size-prefixed covenant_data payload.
func TxOutputBytes(o TxOutput) []byte {
	out := make([]byte, 0, 8+2+9+len(o.CovenantData))
	out = appendU64LE(out, o.Value)
	out = appendU16LE(out, o.CovenantType)
	out = appendLenPrefixed(out, o.CovenantData)
	return out
}

// WitnessItemBytes serializes a WitnessItem: suite_id, then compact-size-
// prefixed pubkey and signature.
func WitnessItemBytes(w WitnessItem) []byte {
	out := make([]byte, 0, 1+9+len(w.Pubkey)+9+len(w.Signature))
	out = append(out, w.SuiteID)
	out = appendLenPrefixed(out, w.Pubkey)
	out = appendLenPrefixed(out, w.Signature)
	return out
}

// WitnessBytes serializes a witness section: a compact-size item count
// followed by each WitnessItemBytes in order.
func WitnessBytes(w WitnessSection) []byte {
	out := make([]byte, 0, 9)
	out = append(out, CompactSize(len(w.Witnesses)).Encode()...)
	for _, item := range w.Witnesses {
		out = append(out, WitnessItemBytes(item)...)
	}
	return out
}

// TxNoWitnessBytes serializes everything a transaction signs over: version,
// tx_nonce, inputs, outputs, locktime. The witness section is deliberately
// excluded since it sits outside the signature domain.
func TxNoWitnessBytes(tx *Tx) []byte {
	out := make([]byte, 0, 4+8)
	out = appendU32LE(out, tx.Version)
	out = appendU64LE(out, tx.TxNonce)

	out = append(out, CompactSize(len(tx.Inputs)).Encode()...)
	for _, in := range tx.Inputs {
		out = append(out, in.PrevTxid[:]...)
		out = appendU32LE(out, in.PrevVout)
		out = appendLenPrefixed(out, in.ScriptSig)
		out = appendU32LE(out, in.Sequence)
	}

	out = append(out, CompactSize(len(tx.Outputs)).Encode()...)
	for _, o := range tx.Outputs {
		out = append(out, TxOutputBytes(o)...)
	}

	out = appendU32LE(out, tx.Locktime)
	return out
}

// TxBytes serializes tx in full, appending the witness section after the
// signed fields TxNoWitnessBytes produces.
func TxBytes(tx *Tx) []byte {
	out := TxNoWitnessBytes(tx)
	out = append(out, WitnessBytes(tx.Witness)...)
	return out
}

// BlockBytes serializes a Block: header, a compact-size transaction count,
// then each transaction in full (including witnesses).
func BlockBytes(block *Block) []byte {
	out := make([]byte, 0, 64)
	out = append(out, BlockHeaderBytes(block.Header)...)
	out = append(out, CompactSize(len(block.Transactions)).Encode()...)
	for _, tx := range block.Transactions {
		out = append(out, TxBytes(&tx)...)
	}
	return out
}
