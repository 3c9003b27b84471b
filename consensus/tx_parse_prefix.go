package consensus

// ParseTxBytesPrefix parses one canonical transaction from the front of b
// and reports how many bytes it consumed, for callers (P2P compact blocks)
// that parse a stream of back-to-back transactions and only need validated
// structure plus a byte count, not the txid/wtxid ParseTx also computes.
func ParseTxBytesPrefix(b []byte) (*TxV2, int, error) {
	tx, _, _, used, err := ParseTx(b)
	if err != nil {
		return nil, 0, err
	}
	return tx, used, nil
}

// TxWeightAndStats is the exported form of txWeightAndStats.
func TxWeightAndStats(tx *TxV2) (uint64, uint64, uint64, error) {
	return txWeightAndStats(tx)
}

// OutputDescriptorBytes returns the canonical byte encoding of an output's
// covenant descriptor (covenant_type || covenant_data), used wherever a
// covenant needs to be identified by hash rather than by raw bytes (e.g.
// a CORE_VAULT whitelist entry keyed on the hash of an allowed destination
// descriptor).
func OutputDescriptorBytes(covType uint16, covData []byte) []byte {
	out := make([]byte, 0, 2+len(covData))
	out = AppendU16le(out, covType)
	out = append(out, covData...)
	return out
}
