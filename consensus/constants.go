package consensus

// Legacy covenant_type aliases. Several call sites (covenant_genesis.go,
// utxo_basic.go, block_basic.go, connect_block_inmem.go) were written against
// COV_TYPE_* names from an earlier draft of the predicate set; tx.go's wire
// constants use the CORE_* names. Both name the same discriminant values, so
// the aliases below keep both call-site generations compiling against one
// source of truth instead of forcing a blind rename across the package.
const (
	COV_TYPE_P2PK            = CORE_P2PK
	COV_TYPE_TIMELOCK        = CORE_TIMELOCK_V1
	COV_TYPE_ANCHOR          = CORE_ANCHOR
	COV_TYPE_HTLC            = CORE_HTLC_V1
	COV_TYPE_VAULT           = CORE_VAULT_V1
	COV_TYPE_DA_COMMIT       = CORE_DA_COMMIT
	COV_TYPE_RESERVED_FUTURE = CORE_RESERVED_FUTURE
)

// CovenantData length bounds per covenant_type. CORE_P2PK carries a 1-byte
// suite_id plus a 32-byte key hash; CORE_TIMELOCK_V1 a 1-byte lock_mode plus
// an 8-byte lock_value.
const (
	MAX_P2PK_COVENANT_DATA     = 33
	MAX_TIMELOCK_COVENANT_DATA = 9

	MAX_VAULT_COVENANT_LEGACY = 73
	MAX_VAULT_COVENANT_DATA   = 81
	MIN_VAULT_SPEND_DELAY     = 144

	MAX_COVENANT_DATA_PER_OUTPUT = 65_536
)

// Suite-ID aliases naming the concrete NIST parameter sets behind
// SUITE_ID_ML_DSA (ML-DSA-87) and SUITE_ID_SLH_DSA (SLH-DSA-SHAKE-256f).
const (
	SUITE_ID_ML_DSA_87          = SUITE_ID_ML_DSA
	SUITE_ID_SLH_DSA_SHAKE_256F = SUITE_ID_SLH_DSA

	ML_DSA_87_PUBKEY_BYTES          = ML_DSA_PUBKEY_BYTES
	ML_DSA_87_SIG_BYTES             = ML_DSA_SIG_BYTES
	SLH_DSA_SHAKE_256F_PUBKEY_BYTES = SLH_DSA_PUBKEY_BYTES
	MAX_SLH_DSA_SIG_BYTES           = SLH_DSA_SIG_MAX_BYTES

	VERIFY_COST_ML_DSA_87          = VERIFY_COST_ML_DSA
	VERIFY_COST_SLH_DSA_SHAKE_256F = VERIFY_COST_SLH_DSA

	// SLH_DSA_ACTIVATION_HEIGHT gates SLH-DSA-SHAKE-256f witnesses; chosen on
	// a retarget-window boundary (250 * WINDOW_SIZE) so it lines up with a
	// difficulty adjustment in devnet-scale test chains.
	SLH_DSA_ACTIVATION_HEIGHT = 250 * WINDOW_SIZE
)

// Input/witness size policy caps.
const (
	MAX_SCRIPT_SIG_BYTES    = 10_000
	MAX_HTLC_PREIMAGE_BYTES = 128

	// WITNESS_DISCOUNT_DIVISOR scales witness bytes into block-weight units,
	// mirroring the segwit-style weight discount.
	WITNESS_DISCOUNT_DIVISOR = 4
)

// POW_LIMIT is the easiest allowed target; fork_choice.go and the retarget
// logic clamp against it.
var POW_LIMIT = MAX_TARGET

// BIP9-style feature-bit signal window. SIGNAL_THRESHOLD is 95% of
// SIGNAL_WINDOW, matching the conventional activation bar.
const (
	SIGNAL_WINDOW    = WINDOW_SIZE
	SIGNAL_THRESHOLD = 1_916
)

// Data-availability block-level caps, aliased from tx.go's MAX_DA_* wire caps.
const (
	MAX_DA_BATCHES_PER_BLOCK = MAX_DA_COMMITS_PER_BLOCK
	CHUNK_BYTES              = MAX_DA_CHUNK_BYTES_PER_TX
)
