package consensus

import (
	"encoding/binary"
	"testing"
)

func TestU128Helpers_SubUnderflowAndToU64Overflow(t *testing.T) {
	// subU128 underflow
	_, err := subU128(u128{hi: 0, lo: 0}, u128{hi: 0, lo: 1})
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := mustTxErrCode(t, err); got != TX_ERR_PARSE {
		t.Fatalf("code=%s, want %s", got, TX_ERR_PARSE)
	}

	// u128ToU64 overflow
	_, err = u128ToU64(u128{hi: 1, lo: 0})
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := mustTxErrCode(t, err); got != TX_ERR_PARSE {
		t.Fatalf("code=%s, want %s", got, TX_ERR_PARSE)
	}
}

func timelockCovenantData(lockMode byte, lockValue uint64) []byte {
	data := make([]byte, MAX_TIMELOCK_COVENANT_DATA)
	data[0] = lockMode
	binary.LittleEndian.PutUint64(data[1:], lockValue)
	return data
}

func vaultCovenantDataWithSpendDelay(spendDelay uint64) []byte {
	data := make([]byte, MAX_VAULT_COVENANT_DATA)
	data[31] = 0x01 // owner_key_id byte, distinct from recovery_key_id below
	binary.LittleEndian.PutUint64(data[32:40], spendDelay)
	data[40] = TIMELOCK_MODE_HEIGHT
	data[79] = 0x02 // recovery_key_id byte
	return data
}

func TestCheckSpendTimelock_SupportedTypes(t *testing.T) {
	if err := checkSpendTimelock(COV_TYPE_P2PK, nil, 100, 1000, 1); err != nil {
		t.Fatalf("CORE_P2PK: %v", err)
	}

	vaultData := vaultCovenantDataWithSpendDelay(MIN_VAULT_SPEND_DELAY)
	if err := checkSpendTimelock(COV_TYPE_VAULT, vaultData, MIN_VAULT_SPEND_DELAY, 1000, 0); err != nil {
		t.Fatalf("CORE_VAULT: %v", err)
	}

	heightData := timelockCovenantData(TIMELOCK_MODE_HEIGHT, 100)
	if err := checkSpendTimelock(COV_TYPE_TIMELOCK, heightData, 100, 1000, 1); err != nil {
		t.Fatalf("CORE_TIMELOCK_V1 height: %v", err)
	}

	tsData := timelockCovenantData(TIMELOCK_MODE_TIMESTAMP, 500)
	if err := checkSpendTimelock(COV_TYPE_TIMELOCK, tsData, 100, 500, 1); err != nil {
		t.Fatalf("CORE_TIMELOCK_V1 timestamp: %v", err)
	}
}

func TestCheckSpendTimelock_Errors(t *testing.T) {
	vaultData := vaultCovenantDataWithSpendDelay(MIN_VAULT_SPEND_DELAY)
	if err := checkSpendTimelock(COV_TYPE_VAULT, vaultData, MIN_VAULT_SPEND_DELAY-1, 1000, 0); err == nil {
		t.Fatalf("expected error for CORE_VAULT spend_delay not met")
	}

	heightData := timelockCovenantData(TIMELOCK_MODE_HEIGHT, 100)
	if err := checkSpendTimelock(COV_TYPE_TIMELOCK, heightData, 99, 1000, 1); err == nil {
		t.Fatalf("expected error for unmet height timelock")
	}

	if err := checkSpendTimelock(COV_TYPE_TIMELOCK, nil, 100, 1000, 1); err == nil {
		t.Fatalf("expected error for invalid timelock covenant_data length")
	}
	if got := mustTxErrCode(t, checkSpendTimelock(COV_TYPE_TIMELOCK, nil, 100, 1000, 1)); got != TX_ERR_COVENANT_TYPE_INVALID {
		t.Fatalf("code=%s, want %s", got, TX_ERR_COVENANT_TYPE_INVALID)
	}

	err := checkSpendTimelock(COV_TYPE_HTLC, nil, 100, 1000, 1)
	if err == nil {
		t.Fatalf("expected error for unsupported covenant type in basic apply path")
	}
	if got := mustTxErrCode(t, err); got != TX_ERR_COVENANT_TYPE_INVALID {
		t.Fatalf("code=%s, want %s", got, TX_ERR_COVENANT_TYPE_INVALID)
	}
}
