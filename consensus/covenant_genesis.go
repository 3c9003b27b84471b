package consensus

// ValidateTxCovenantsGenesis enforces the covenant_type rules that hold
// from genesis onward, before any feature-bit deployment can be active.
// Only CORE_P2PK, CORE_TIMELOCK_V1, and CORE_ANCHOR are spendable/creatable
// at this layer; CORE_HTLC_V1/V2 and CORE_VAULT_V1 require an activated
// deployment (consensus/validate.go's height-gated checks) and are
// rejected here regardless of block height.
func ValidateTxCovenantsGenesis(tx *Tx) error {
	if tx == nil {
		return txerr(TX_ERR_PARSE, "nil tx")
	}

	for _, out := range tx.Outputs {
		if err := validateGenesisCovenantOutput(out); err != nil {
			return err
		}
	}
	return nil
}

func validateGenesisCovenantOutput(out TxOutput) error {
	switch out.CovenantType {
	case COV_TYPE_P2PK:
		return validateGenesisP2PK(out)
	case COV_TYPE_TIMELOCK:
		return validateGenesisTimelock(out)
	case COV_TYPE_ANCHOR:
		return validateGenesisAnchor(out)
	case COV_TYPE_VAULT:
		// Pending: vault semantics are not yet ratified for activation.
		return txerr(TX_ERR_COVENANT_TYPE_INVALID, "CORE_VAULT semantics pending")
	case COV_TYPE_RESERVED_FUTURE, COV_TYPE_HTLC, COV_TYPE_DA_COMMIT:
		return txerr(TX_ERR_COVENANT_TYPE_INVALID, "reserved or unsupported covenant_type")
	default:
		return txerr(TX_ERR_COVENANT_TYPE_INVALID, "unknown covenant_type")
	}
}

func validateGenesisP2PK(out TxOutput) error {
	if len(out.CovenantData) != MAX_P2PK_COVENANT_DATA {
		return txerr(TX_ERR_COVENANT_TYPE_INVALID, "invalid CORE_P2PK covenant_data length")
	}
	if out.CovenantData[0] != SUITE_ID_ML_DSA_87 {
		return txerr(TX_ERR_COVENANT_TYPE_INVALID, "invalid CORE_P2PK suite_id")
	}
	return nil
}

func validateGenesisTimelock(out TxOutput) error {
	if len(out.CovenantData) != MAX_TIMELOCK_COVENANT_DATA {
		return txerr(TX_ERR_COVENANT_TYPE_INVALID, "invalid CORE_TIMELOCK covenant_data length")
	}
	lockMode := out.CovenantData[0]
	if lockMode != TIMELOCK_MODE_HEIGHT && lockMode != TIMELOCK_MODE_TIMESTAMP {
		return txerr(TX_ERR_COVENANT_TYPE_INVALID, "invalid CORE_TIMELOCK lock_mode")
	}
	return nil
}

func validateGenesisAnchor(out TxOutput) error {
	if out.Value != 0 {
		return txerr(TX_ERR_COVENANT_TYPE_INVALID, "CORE_ANCHOR value must be 0")
	}
	covLen := len(out.CovenantData)
	if covLen == 0 || covLen > MAX_ANCHOR_PAYLOAD_SIZE {
		return txerr(TX_ERR_COVENANT_TYPE_INVALID, "invalid CORE_ANCHOR covenant_data length")
	}
	return nil
}
