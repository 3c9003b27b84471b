package consensus

import "fmt"

// readList reads a compact-size count from cur, then calls parseOne that
// many times, collecting the results. Every variable-length list in the
// wire format (inputs, outputs, witnesses, transactions) shares this same
// count-then-repeat shape, so parseInputList/parseOutputList/
// parseWitnessList are thin instantiations of it rather than hand-copied
// loops.
func readList[T any](cur *cursor, label string, parseOne func(*cursor) (T, error)) ([]T, error) {
	countU64, err := cur.readCompactSize()
	if err != nil {
		return nil, err
	}
	count, err := toIntLen(countU64, label)
	if err != nil {
		return nil, err
	}
	items := make([]T, 0, count)
	for i := 0; i < count; i++ {
		item, err := parseOne(cur)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// parseInput reads a TxInput: 32-byte previous txid, little-endian 4-byte
// previous output index, a compact-size-length scriptSig, and a
// little-endian 4-byte sequence.
func parseInput(cur *cursor) (TxInput, error) {
	prevTxidBytes, err := cur.readExact(32)
	if err != nil {
		return TxInput{}, err
	}
	var prevTxid [32]byte
	copy(prevTxid[:], prevTxidBytes)

	prevVout, err := cur.readU32LE()
	if err != nil {
		return TxInput{}, err
	}

	scriptSig, err := readLenPrefixedBytes(cur, "script_sig_len")
	if err != nil {
		return TxInput{}, err
	}

	sequence, err := cur.readU32LE()
	if err != nil {
		return TxInput{}, err
	}

	return TxInput{
		PrevTxid:  prevTxid,
		PrevVout:  prevVout,
		ScriptSig: scriptSig,
		Sequence:  sequence,
	}, nil
}

// parseOutput reads a TxOutput: an 8-byte value, a 2-byte covenant_type
// discriminant, and a compact-size-length covenant_data payload whose shape
// is interpreted per covenant_type elsewhere (validate.go, covenant_genesis.go).
func parseOutput(cur *cursor) (TxOutput, error) {
	value, err := cur.readU64LE()
	if err != nil {
		return TxOutput{}, err
	}
	covenantType, err := cur.readU16LE()
	if err != nil {
		return TxOutput{}, err
	}
	covenantData, err := readLenPrefixedBytes(cur, "covenant_data_len")
	if err != nil {
		return TxOutput{}, err
	}

	return TxOutput{
		Value:        value,
		CovenantType: covenantType,
		CovenantData: covenantData,
	}, nil
}

// parseWitnessItem reads a WitnessItem: a 1-byte suite ID, a compact-size
// pubkey, and a compact-size signature.
func parseWitnessItem(cur *cursor) (WitnessItem, error) {
	suiteID, err := cur.readU8()
	if err != nil {
		return WitnessItem{}, err
	}
	pubkey, err := readLenPrefixedBytes(cur, "pubkey_len")
	if err != nil {
		return WitnessItem{}, err
	}
	signature, err := readLenPrefixedBytes(cur, "sig_len")
	if err != nil {
		return WitnessItem{}, err
	}

	return WitnessItem{
		SuiteID:   suiteID,
		Pubkey:    pubkey,
		Signature: signature,
	}, nil
}

// readLenPrefixedBytes reads a compact-size length followed by that many
// raw bytes, returning a fresh copy detached from the cursor's backing array.
func readLenPrefixedBytes(cur *cursor, label string) ([]byte, error) {
	lenU64, err := cur.readCompactSize()
	if err != nil {
		return nil, err
	}
	n, err := toIntLen(lenU64, label)
	if err != nil {
		return nil, err
	}
	raw, err := cur.readExact(n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), raw...), nil
}

func parseInputList(cur *cursor) ([]TxInput, error) {
	return readList(cur, "input_count", parseInput)
}

func parseOutputList(cur *cursor) ([]TxOutput, error) {
	return readList(cur, "output_count", parseOutput)
}

func parseWitnessList(cur *cursor) ([]WitnessItem, error) {
	return readList(cur, "witness_count", parseWitnessItem)
}

// parseTxFields reads everything a Tx carries on the wire after any
// envelope the caller has already consumed: version, tx_nonce, inputs,
// outputs, locktime, witnesses. Both ParseTxBytes (top-level, trailing-byte
// checked) and ParseTxBytesFromCursor (embedded in a block body) build on
// this shared field reader.
func parseTxFields(cur *cursor) (*Tx, error) {
	version, err := cur.readU32LE()
	if err != nil {
		return nil, err
	}
	txNonce, err := cur.readU64LE()
	if err != nil {
		return nil, err
	}
	inputs, err := parseInputList(cur)
	if err != nil {
		return nil, err
	}
	outputs, err := parseOutputList(cur)
	if err != nil {
		return nil, err
	}
	locktime, err := cur.readU32LE()
	if err != nil {
		return nil, err
	}
	witnesses, err := parseWitnessList(cur)
	if err != nil {
		return nil, err
	}
	return &Tx{
		Version:  version,
		TxNonce:  txNonce,
		Inputs:   inputs,
		Outputs:  outputs,
		Locktime: locktime,
		Witness:  WitnessSection{Witnesses: witnesses},
	}, nil
}

// ParseTxBytes parses a standalone serialized transaction from b, rejecting
// any trailing bytes left over after the last field.
func ParseTxBytes(b []byte) (*Tx, error) {
	cur := newCursor(b)
	tx, err := parseTxFields(cur)
	if err != nil {
		return nil, err
	}
	if cur.pos != len(b) {
		return nil, fmt.Errorf("parse: trailing bytes")
	}
	return tx, nil
}

// ParseTxBytesFromCursor parses one transaction from cur without requiring
// the cursor to be exhausted afterward, for use when a transaction is
// embedded in a larger buffer (a block body).
func ParseTxBytesFromCursor(cur *cursor) (*Tx, error) {
	return parseTxFields(cur)
}

// ParseBlockHeader reads the fixed-size block header: version, previous
// block hash, merkle root, timestamp, target, and nonce.
func ParseBlockHeader(cur *cursor) (BlockHeader, error) {
	version, err := cur.readU32LE()
	if err != nil {
		return BlockHeader{}, err
	}
	prev, err := cur.readExact(32)
	if err != nil {
		return BlockHeader{}, err
	}
	merkle, err := cur.readExact(32)
	if err != nil {
		return BlockHeader{}, err
	}
	timestamp, err := cur.readU64LE()
	if err != nil {
		return BlockHeader{}, err
	}
	target, err := cur.readExact(32)
	if err != nil {
		return BlockHeader{}, err
	}
	nonce, err := cur.readU64LE()
	if err != nil {
		return BlockHeader{}, err
	}

	var prev32, merkle32, target32 [32]byte
	copy(prev32[:], prev)
	copy(merkle32[:], merkle)
	copy(target32[:], target)

	return BlockHeader{
		Version:       version,
		PrevBlockHash: prev32,
		MerkleRoot:    merkle32,
		Timestamp:     timestamp,
		Target:        target32,
		Nonce:         nonce,
	}, nil
}

// ParseBlockBytes parses a complete block: header, then a compact-size
// transaction count and that many transactions. Trailing bytes after the
// last transaction are rejected.
func ParseBlockBytes(b []byte) (Block, error) {
	cur := newCursor(b)
	header, err := ParseBlockHeader(cur)
	if err != nil {
		return Block{}, err
	}
	txs, err := readList(cur, "tx_count", ParseTxBytesFromCursor)
	if err != nil {
		return Block{}, err
	}
	if cur.pos != len(b) {
		return Block{}, fmt.Errorf("BLOCK_ERR_PARSE")
	}

	flat := make([]Tx, len(txs))
	for i, tx := range txs {
		flat[i] = *tx
	}
	return Block{
		Header:       header,
		Transactions: flat,
	}, nil
}
