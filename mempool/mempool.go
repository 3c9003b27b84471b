// Package mempool implements the C7 candidate-transaction pool: admission,
// per-peer rate limiting, memory-capped fee-based eviction, and the
// fee-estimator exposed to block-template construction (spec §4.5).
//
// The pool is the exclusive owner of its candidate map (spec §3 Ownership);
// callers reach it only through the methods below, never the map directly,
// matching how the teacher's chainstate guards its own maps behind an
// internal mutex in node/chainstate.go.
package mempool

import (
	"sort"
	"sync"
	"time"

	"github.com/supernova-chain/supernova/consensus"
	"github.com/supernova-chain/supernova/crypto"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Admission-policy constants (spec §4.5 defaults).
const (
	MaxSingleTxBytes       = 1 << 20 // 1 MiB
	MinRelayFeeRate        = 1000    // base units / byte
	MaxTxsPerPeerPerMinute = 100
	RateLimitWindow        = 60 * time.Second
	MaxMempoolBytes        = 300 << 20 // 300 MiB
	MinRBFIncrease         = 0.10      // new fee rate must be >= 1.10x old
)

// Code is a stable tagged reason a transaction was rejected, matching the
// spec §7 "structured reason" requirement: callers switch on Code, never on
// Error()'s string.
type Code string

const (
	CodeTooLarge        Code = "MEMPOOL_ERR_TOO_LARGE"
	CodeEmptyTx         Code = "MEMPOOL_ERR_EMPTY"
	CodeLowFeeRate      Code = "MEMPOOL_ERR_LOW_FEE_RATE"
	CodeRateLimited     Code = "MEMPOOL_ERR_RATE_LIMITED"
	CodeMemoryFull      Code = "MEMPOOL_ERR_MEMORY_FULL"
	CodeInputMissing    Code = "MEMPOOL_ERR_INPUT_MISSING"
	CodeDoubleSpend     Code = "MEMPOOL_ERR_DOUBLE_SPEND"
	CodeAlreadyPresent  Code = "MEMPOOL_ERR_ALREADY_PRESENT"
	CodeInvalidTx       Code = "MEMPOOL_ERR_INVALID_TX"
)

// AdmitError is returned by Admit on rejection. Admission is boolean with a
// typed reason (spec §9 resolves the source's inconsistent Ok/Err-on-
// eviction-failure ambiguity this way, per the expanded spec §3).
type AdmitError struct {
	Code Code
	Msg  string
}

func (e *AdmitError) Error() string {
	if e.Msg == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Msg
}

func admitErr(code Code, msg string) *AdmitError { return &AdmitError{Code: code, Msg: msg} }

// UTXOSource is the narrow read-only dependency Admit uses for input
// existence checks (spec §4.5 step 5); *store.DB satisfies it. Kept as an
// interface, per spec §9's "ValidationContext as plain closures/interfaces"
// guidance, so the pool never imports the storage package.
type UTXOSource interface {
	GetUTXO(op consensus.TxOutPoint) (consensus.UtxoEntry, bool, error)
}

// Entry is a single admitted candidate.
type Entry struct {
	TxID        [32]byte
	Tx          *consensus.Tx
	Size        int
	Fee         uint64
	FeeRate     float64 // base units per byte
	PeerID      string
	AdmittedAt  time.Time
	EnvScore    float64
}

type spentBy struct {
	txid [32]byte
}

// Pool is the C7 mempool. Zero value is not usable; construct with New.
type Pool struct {
	log *zap.Logger

	mu          sync.Mutex
	candidates  map[[32]byte]*Entry
	byOutpoint  map[consensus.TxOutPoint]spentBy
	totalBytes  int
	peerWindows *lru.Cache[string, []time.Time]
	holding     []*Entry // bounded area for txs orphaned by reorg (spec §4.5 on_block_applied)

	fees *FeeEstimator

	maxMempoolBytes int
	minRelayFeeRate float64
}

// Option customizes a Pool at construction.
type Option func(*Pool)

// WithMaxBytes overrides MaxMempoolBytes, mainly for tests.
func WithMaxBytes(n int) Option { return func(p *Pool) { p.maxMempoolBytes = n } }

// WithMinRelayFeeRate overrides MinRelayFeeRate, mainly for tests.
func WithMinRelayFeeRate(r float64) Option { return func(p *Pool) { p.minRelayFeeRate = r } }

// New constructs an empty Pool. log may be nil (a no-op logger is used),
// matching the teacher's convention of subsystems taking a *zap.Logger at
// construction and naming it (log.Named("mempool")).
func New(log *zap.Logger, opts ...Option) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	windows, err := lru.New[string, []time.Time](4096)
	if err != nil {
		// Only fails for non-positive size; 4096 is a compile-time constant.
		panic(err)
	}
	p := &Pool{
		log:             log.Named("mempool"),
		candidates:      make(map[[32]byte]*Entry),
		byOutpoint:      make(map[consensus.TxOutPoint]spentBy),
		peerWindows:     windows,
		fees:            NewFeeEstimator(),
		maxMempoolBytes: MaxMempoolBytes,
		minRelayFeeRate: MinRelayFeeRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Admit runs the spec §4.5 admission pipeline in order and either stores the
// transaction or returns a typed AdmitError. Every predicate ahead of the
// per-peer rate limit must pass before the limit's sliding window is
// consumed, so a peer is never charged a slot for a tx rejected later for
// being over the memory cap or a losing double-spend. envScore, if non-zero,
// feeds the fee estimator's environmental-discount tracking for this tx
// only; it does not affect admission.
func (p *Pool) Admit(crypt crypto.CryptoProvider, tx *consensus.Tx, peerID string, now time.Time, envScore float64, utxo UTXOSource) (*Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// 1. Stateless validity.
	if tx == nil || len(tx.Inputs) == 0 || len(tx.Outputs) == 0 {
		return nil, admitErr(CodeEmptyTx, "transaction has no inputs or outputs")
	}
	raw := consensus.TxBytes(tx)
	if len(raw) > MaxSingleTxBytes {
		return nil, admitErr(CodeTooLarge, "exceeds MAX_SINGLE_TX")
	}

	txid := consensus.TxID(crypt, tx)
	if _, exists := p.candidates[txid]; exists {
		return nil, admitErr(CodeAlreadyPresent, "already in mempool")
	}

	// 5 (moved earlier so fee can be computed): input existence + value sum.
	var inputValue uint64
	for _, in := range tx.Inputs {
		op := consensus.TxOutPoint{TxID: in.PrevTxid, Vout: in.PrevVout}
		entry, ok, err := utxo.GetUTXO(op)
		if err != nil {
			return nil, admitErr(CodeInvalidTx, "utxo lookup failed: "+err.Error())
		}
		if !ok {
			return nil, admitErr(CodeInputMissing, "referenced outpoint not found")
		}
		inputValue += entry.Output.Value
	}
	var outputValue uint64
	for _, out := range tx.Outputs {
		outputValue += out.Value
	}
	if inputValue < outputValue {
		return nil, admitErr(CodeInvalidTx, "outputs exceed inputs")
	}
	fee := inputValue - outputValue
	feeRate := float64(fee) / float64(len(raw))

	// 2. Fee rate floor.
	if feeRate < p.minRelayFeeRate {
		return nil, admitErr(CodeLowFeeRate, "below MIN_RELAY_FEE")
	}

	// 4. Global memory cap + fee-based eviction.
	if p.totalBytes+len(raw) > p.maxMempoolBytes {
		if !p.evictForSpace(len(raw), feeRate) {
			return nil, admitErr(CodeMemoryFull, "mempool memory cap reached")
		}
	}

	// 6. No-double-spend / RBF. Checked before the rate-limit window is
	// consumed: a tx that loses here must not cost its peer a rate-limit
	// slot (spec §4.5 admission predicates are checked in order, and the
	// rate limit is the last gate before a candidate is actually stored).
	for _, in := range tx.Inputs {
		op := consensus.TxOutPoint{TxID: in.PrevTxid, Vout: in.PrevVout}
		if conflict, ok := p.byOutpoint[op]; ok {
			existing := p.candidates[conflict.txid]
			if existing == nil {
				continue
			}
			threshold := existing.FeeRate * (1 + MinRBFIncrease)
			if feeRate < threshold {
				return nil, admitErr(CodeDoubleSpend, "conflicts with existing mempool transaction")
			}
			// RBF satisfied for this input; the conflicting tx is evicted below
			// once all inputs have been checked, to keep eviction atomic.
		}
	}

	// 3. Per-peer rate limit, sliding 60s window (spec §9: sliding, not
	// reset-on-first-request-after-expiry, per the migration note). Consumed
	// last, once every other admission predicate has already passed, so a
	// rejection earlier in the pipeline never spends the peer's slot.
	if peerID != "" {
		windowStart := now.Add(-RateLimitWindow)
		times, _ := p.peerWindows.Get(peerID)
		kept := times[:0]
		for _, t := range times {
			if t.After(windowStart) {
				kept = append(kept, t)
			}
		}
		if len(kept) >= MaxTxsPerPeerPerMinute {
			p.peerWindows.Add(peerID, kept)
			return nil, admitErr(CodeRateLimited, "rate limit exceeded")
		}
		kept = append(kept, now)
		p.peerWindows.Add(peerID, kept)
	}

	// Replace any RBF'd conflicts now that every admission predicate has passed.
	replaced := make(map[[32]byte]struct{})
	for _, in := range tx.Inputs {
		op := consensus.TxOutPoint{TxID: in.PrevTxid, Vout: in.PrevVout}
		if conflict, ok := p.byOutpoint[op]; ok {
			if _, already := replaced[conflict.txid]; !already {
				p.removeLocked(conflict.txid)
				replaced[conflict.txid] = struct{}{}
			}
		}
	}

	entry := &Entry{
		TxID:       txid,
		Tx:         tx,
		Size:       len(raw),
		Fee:        fee,
		FeeRate:    feeRate,
		PeerID:     peerID,
		AdmittedAt: now,
		EnvScore:   envScore,
	}
	p.candidates[txid] = entry
	for _, in := range tx.Inputs {
		p.byOutpoint[consensus.TxOutPoint{TxID: in.PrevTxid, Vout: in.PrevVout}] = spentBy{txid: txid}
	}
	p.totalBytes += len(raw)
	p.log.Debug("admitted", zap.String("txid", hexShort(txid)), zap.Float64("fee_rate", feeRate))
	return entry, nil
}

// evictForSpace repeatedly removes the lowest-fee-rate candidate until
// enough headroom exists for needBytes, provided the incoming fee rate
// strictly exceeds the highest rate evicted so far (spec §4.5 step 4). On
// failure to reach headroom under that constraint, no candidate already
// evicted is restored from this call's perspective — callers must treat a
// false return as "do not admit"; this is only invoked while p.mu is held,
// so a failed attempt still leaves a valid (if now smaller) pool.
func (p *Pool) evictForSpace(needBytes int, incomingRate float64) bool {
	var highestEvicted float64
	for p.totalBytes+needBytes > p.maxMempoolBytes {
		victim := p.lowestFeeRateLocked()
		if victim == nil {
			return false
		}
		if victim.FeeRate > highestEvicted {
			highestEvicted = victim.FeeRate
		}
		if incomingRate <= highestEvicted {
			return false
		}
		p.removeLocked(victim.TxID)
		p.log.Debug("evicted for space", zap.String("txid", hexShort(victim.TxID)), zap.Float64("fee_rate", victim.FeeRate))
	}
	return true
}

func (p *Pool) lowestFeeRateLocked() *Entry {
	var lowest *Entry
	for _, e := range p.candidates {
		if lowest == nil || e.FeeRate < lowest.FeeRate {
			lowest = e
		}
	}
	return lowest
}

func (p *Pool) removeLocked(txid [32]byte) {
	e, ok := p.candidates[txid]
	if !ok {
		return
	}
	delete(p.candidates, txid)
	p.totalBytes -= e.Size
	for _, in := range e.Tx.Inputs {
		op := consensus.TxOutPoint{TxID: in.PrevTxid, Vout: in.PrevVout}
		if cur, ok := p.byOutpoint[op]; ok && cur.txid == txid {
			delete(p.byOutpoint, op)
		}
	}
}

// Get returns the candidate with the given txid, if present.
func (p *Pool) Get(txid [32]byte) (*Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.candidates[txid]
	return e, ok
}

// Len returns the number of candidates currently held.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.candidates)
}

// TotalBytes returns the current memory usage.
func (p *Pool) TotalBytes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalBytes
}

// BestK returns up to n candidates ordered by descending fee rate, for
// block template construction (spec §4.5 "best_k(n)").
func (p *Pool) BestK(n int) []*Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Entry, 0, len(p.candidates))
	for _, e := range p.candidates {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FeeRate > out[j].FeeRate })
	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// OnBlockApplied removes included transactions from the pool and records a
// (median, average) fee-rate sample for the fee estimator (spec §4.5
// "on_block_applied"). includedTxIDs are the txids present in the applied
// block, excluding the coinbase.
func (p *Pool) OnBlockApplied(includedTxIDs [][32]byte) {
	p.mu.Lock()
	var sampleRates []float64
	for _, txid := range includedTxIDs {
		if e, ok := p.candidates[txid]; ok {
			sampleRates = append(sampleRates, e.FeeRate)
		}
		p.removeLocked(txid)
	}
	p.mu.Unlock()
	if len(sampleRates) > 0 {
		p.fees.RecordBlock(sampleRates)
	}
}

// OnReorg re-admits txs that were included in rewound blocks but are not in
// the new chain (spec §3 "unincluded" lifecycle transition; §4.5
// on_block_applied orphan re-admission). Re-admission failures (e.g. the
// spending UTXO no longer exists) drop the tx silently into neither state,
// matching "re-admitted or dropped" in spec §3 — callers observe this via
// the returned count.
func (p *Pool) OnReorg(crypt crypto.CryptoProvider, orphaned []*consensus.Tx, now time.Time, utxo UTXOSource) (readmitted int) {
	for _, tx := range orphaned {
		if _, err := p.Admit(crypt, tx, "", now, 0, utxo); err == nil {
			readmitted++
		}
	}
	return readmitted
}

// Fees exposes the fee estimator for query.
func (p *Pool) Fees() *FeeEstimator { return p.fees }

func hexShort(b [32]byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 16)
	for i := 0; i < 8; i++ {
		out[i*2] = hexDigits[b[i]>>4]
		out[i*2+1] = hexDigits[b[i]&0xf]
	}
	return string(out)
}
