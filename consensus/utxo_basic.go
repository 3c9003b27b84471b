package consensus

import "encoding/binary"

type Outpoint struct {
	Txid [32]byte
	Vout uint32
}

type BasicUtxoEntry struct {
	Value             uint64
	CovenantType      uint16
	CovenantData      []byte
	CreationHeight    uint64
	CreatedByCoinbase bool
}

type UtxoApplySummary struct {
	Fee       uint64
	UtxoCount uint64
}

func ApplyNonCoinbaseTxBasic(tx *Tx, txid [32]byte, utxoSet map[Outpoint]BasicUtxoEntry, height uint64, blockTimestamp uint64) (*UtxoApplySummary, error) {
	_, summary, err := applyNonCoinbaseTxBasicCore(tx, txid, utxoSet, height, blockTimestamp, blockTimestamp)
	return summary, err
}

// ApplyNonCoinbaseTxBasicWithMTP is ApplyNonCoinbaseTxBasic with an explicit
// median-time-past value for BIP113-style (lock_mode 0x01) timelock checks,
// and a chainID binding for callers that also verify witness signatures
// against this transaction's sighash domain.
func ApplyNonCoinbaseTxBasicWithMTP(tx *Tx, txid [32]byte, utxoSet map[Outpoint]BasicUtxoEntry, height uint64, blockTimestamp uint64, mtp uint64, chainID [32]byte) (*UtxoApplySummary, error) {
	_, summary, err := applyNonCoinbaseTxBasicCore(tx, txid, utxoSet, height, blockTimestamp, mtp)
	return summary, err
}

// ApplyNonCoinbaseTxBasicUpdate is ApplyNonCoinbaseTxBasic but additionally
// returns the updated UTXO set (spent entries removed, new outputs added)
// rather than mutating the caller's map in place.
func ApplyNonCoinbaseTxBasicUpdate(tx *Tx, txid [32]byte, utxoSet map[Outpoint]BasicUtxoEntry, height uint64, blockTimestamp uint64, chainID [32]byte) (map[Outpoint]BasicUtxoEntry, *UtxoApplySummary, error) {
	return applyNonCoinbaseTxBasicCore(tx, txid, utxoSet, height, blockTimestamp, blockTimestamp)
}

// ApplyNonCoinbaseTxBasicUpdateWithMTP combines ApplyNonCoinbaseTxBasicUpdate
// and ApplyNonCoinbaseTxBasicWithMTP.
func ApplyNonCoinbaseTxBasicUpdateWithMTP(tx *Tx, txid [32]byte, utxoSet map[Outpoint]BasicUtxoEntry, height uint64, blockTimestamp uint64, mtp uint64, chainID [32]byte) (map[Outpoint]BasicUtxoEntry, *UtxoApplySummary, error) {
	return applyNonCoinbaseTxBasicCore(tx, txid, utxoSet, height, blockTimestamp, mtp)
}

func applyNonCoinbaseTxBasicCore(tx *Tx, txid [32]byte, utxoSet map[Outpoint]BasicUtxoEntry, height uint64, blockTimestamp uint64, mtp uint64) (map[Outpoint]BasicUtxoEntry, *UtxoApplySummary, error) {
	if tx == nil {
		return nil, nil, txerr(TX_ERR_PARSE, "nil tx")
	}
	if len(tx.Inputs) == 0 {
		return nil, nil, txerr(TX_ERR_PARSE, "non-coinbase must have at least one input")
	}

	if err := ValidateTxCovenantsGenesis(tx); err != nil {
		return nil, nil, err
	}

	work := make(map[Outpoint]BasicUtxoEntry, len(utxoSet))
	for k, v := range utxoSet {
		work[k] = v
	}

	var sumIn uint64
	for _, in := range tx.Inputs {
		op := Outpoint{Txid: in.PrevTxid, Vout: in.PrevVout}
		entry, ok := work[op]
		if !ok {
			return nil, nil, txerr(TX_ERR_MISSING_UTXO, "utxo not found")
		}

		if entry.CovenantType == COV_TYPE_ANCHOR || entry.CovenantType == COV_TYPE_DA_COMMIT {
			return nil, nil, txerr(TX_ERR_MISSING_UTXO, "attempt to spend non-spendable covenant")
		}

		if entry.CreatedByCoinbase && height < entry.CreationHeight+COINBASE_MATURITY {
			return nil, nil, txerr(TX_ERR_COINBASE_IMMATURE, "coinbase immature")
		}

		if err := checkSpendTimelock(
			entry.CovenantType,
			entry.CovenantData,
			height,
			mtp,
			entry.CreationHeight,
		); err != nil {
			return nil, nil, err
		}

		var err error
		sumIn, err = addU64(sumIn, entry.Value)
		if err != nil {
			return nil, nil, err
		}

		delete(work, op)
	}

	var sumOut uint64
	for i, out := range tx.Outputs {
		var err error
		sumOut, err = addU64(sumOut, out.Value)
		if err != nil {
			return nil, nil, err
		}

		if out.CovenantType == COV_TYPE_ANCHOR || out.CovenantType == COV_TYPE_DA_COMMIT {
			continue
		}

		op := Outpoint{Txid: txid, Vout: uint32(i)}
		work[op] = BasicUtxoEntry{
			Value:             out.Value,
			CovenantType:      out.CovenantType,
			CovenantData:      append([]byte(nil), out.CovenantData...),
			CreationHeight:    height,
			CreatedByCoinbase: false,
		}
	}

	if sumOut > sumIn {
		return nil, nil, txerr(TX_ERR_VALUE_CONSERVATION, "sum_out exceeds sum_in")
	}

	return work, &UtxoApplySummary{
		Fee:       sumIn - sumOut,
		UtxoCount: uint64(len(work)),
	}, nil
}

func checkSpendTimelock(
	covType uint16,
	covData []byte,
	height uint64,
	blockTimestamp uint64,
	creationHeight uint64,
) error {
	if covType == COV_TYPE_P2PK {
		return nil
	}
	if covType == COV_TYPE_VAULT {
		v, err := ParseVaultCovenantData(covData)
		if err != nil {
			return err
		}
		// Basic apply path models owner spend-delay guard only.
		if v.SpendDelay > 0 {
			unlockHeight, err := addU64(creationHeight, v.SpendDelay)
			if err != nil {
				return err
			}
			if height < unlockHeight {
				return txerr(TX_ERR_TIMELOCK_NOT_MET, "vault spend_delay not met")
			}
		}
		return nil
	}
	if covType != COV_TYPE_TIMELOCK {
		// HTLC/reserved/unknown are unsupported in basic apply path.
		return txerr(TX_ERR_COVENANT_TYPE_INVALID, "unsupported covenant in basic apply")
	}

	if len(covData) != MAX_TIMELOCK_COVENANT_DATA {
		return txerr(TX_ERR_COVENANT_TYPE_INVALID, "invalid timelock covenant_data length")
	}
	lockMode := covData[0]
	lockValue := binary.LittleEndian.Uint64(covData[1:])
	switch lockMode {
	case 0x00:
		if height < lockValue {
			return txerr(TX_ERR_TIMELOCK_NOT_MET, "height timelock not met")
		}
	case 0x01:
		if blockTimestamp < lockValue {
			return txerr(TX_ERR_TIMELOCK_NOT_MET, "timestamp timelock not met")
		}
	default:
		return txerr(TX_ERR_COVENANT_TYPE_INVALID, "invalid timelock lock_mode")
	}
	return nil
}
