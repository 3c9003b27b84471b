// Package messagebus implements the C9 policy layer that sits in front of
// the wire codec (node/p2p_runtime.go, node/p2p/envelope.go): per-message
// minimum-validity gates, a BLAKE3 duplicate-suppression cache, bounded
// per-peer incoming queues, and the backpressure rule that throttles the
// slowest peer before rejecting new connections outright (spec §4.7).
package messagebus

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"lukechampine.com/blake3"
)

// Wire-level limits (spec §4.7, §6).
const (
	MaxMessageSize = 32 << 20 // 32 MiB

	MaxGetBlocksLocators = 500
	MinGetBlocksLocators = 1
	MaxGetHeadersSpan    = 2000

	SeenCacheTTL      = 2 * time.Minute
	SeenCacheCapacity = 65536

	// BackpressureWarnFraction and BackpressureRejectFraction are the
	// queue-fill thresholds at which the bus throttles the slowest peer and,
	// respectively, stops admitting new connections (spec §4.7).
	BackpressureWarnFraction   = 0.75
	BackpressureRejectFraction = 1.0
)

// Kind is the message-type tag (spec §4.7).
type Kind string

const (
	KindBlock      Kind = "block"
	KindTx         Kind = "tx"
	KindGetBlocks  Kind = "getblocks"
	KindGetHeaders Kind = "getheaders"
	KindPing       Kind = "ping"
	KindPong       Kind = "pong"
	KindHandshake  Kind = "handshake"
)

// Envelope is one deframed, type-tagged message handed to the bus.
type Envelope struct {
	Kind   Kind
	PeerID string
	Bytes  []byte // raw payload, for the Block/Transaction variants
	Locators int  // for GetBlocks: len(locator_hashes)
	Start, End uint64 // for GetHeaders
	Nonce  uint64 // for Ping/Pong
}

// ValidationError is the typed minimum-validity rejection (spec §7
// "decoding failure, oversized message, protocol violation").
type ValidationError struct {
	Kind Kind
	Msg  string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("messagebus: %s: %s", e.Kind, e.Msg) }

// ValidateEnvelope applies the minimum validity for each Kind (spec §4.7).
func ValidateEnvelope(env Envelope) error {
	switch env.Kind {
	case KindBlock:
		if len(env.Bytes) == 0 {
			return &ValidationError{Kind: env.Kind, Msg: "empty block payload"}
		}
		if len(env.Bytes) > MaxMessageSize {
			return &ValidationError{Kind: env.Kind, Msg: "exceeds MAX_MESSAGE_SIZE"}
		}
	case KindTx:
		if len(env.Bytes) == 0 {
			return &ValidationError{Kind: env.Kind, Msg: "empty transaction payload"}
		}
	case KindGetBlocks:
		if env.Locators < MinGetBlocksLocators || env.Locators > MaxGetBlocksLocators {
			return &ValidationError{Kind: env.Kind, Msg: "locator count out of range"}
		}
	case KindGetHeaders:
		if env.End < env.Start {
			return &ValidationError{Kind: env.Kind, Msg: "end before start"}
		}
		if env.End-env.Start > MaxGetHeadersSpan {
			return &ValidationError{Kind: env.Kind, Msg: "span exceeds MAX_GETHEADERS_SPAN"}
		}
	case KindPing, KindPong, KindHandshake:
		// No additional minimum-validity constraints beyond successful decode.
	default:
		return &ValidationError{Kind: env.Kind, Msg: "unknown message kind"}
	}
	return nil
}

// SeenCache suppresses duplicate messages using a BLAKE3 digest of the raw
// frame, bounded by an LRU with a time-based expiry check on lookup (spec
// §4.7: "bounded seen-cache with 2-min TTL").
type SeenCache struct {
	mu    sync.Mutex
	cache *lru.Cache[[32]byte, time.Time]
	ttl   time.Duration
}

// NewSeenCache builds a seen-cache capped at SeenCacheCapacity entries.
func NewSeenCache() *SeenCache {
	c, err := lru.New[[32]byte, time.Time](SeenCacheCapacity)
	if err != nil {
		panic(err)
	}
	return &SeenCache{cache: c, ttl: SeenCacheTTL}
}

// Digest returns the BLAKE3-256 hash used as the seen-cache key.
func Digest(frame []byte) [32]byte {
	return blake3.Sum256(frame)
}

// CheckAndMark reports whether frame was already seen within the TTL; if
// not, it records it as seen as of now and returns false (not a duplicate).
func (s *SeenCache) CheckAndMark(frame []byte, now time.Time) bool {
	digest := Digest(frame)
	s.mu.Lock()
	defer s.mu.Unlock()
	if seenAt, ok := s.cache.Get(digest); ok {
		if now.Sub(seenAt) < s.ttl {
			return true
		}
	}
	s.cache.Add(digest, now)
	return false
}

// PeerQueue is a bounded incoming-message queue for one peer with drain-rate
// tracking, used to pick "the slowest peer" for backpressure (spec §4.7).
type PeerQueue struct {
	mu       sync.Mutex
	capacity int
	items    [][]byte
	drained  int
	windowStart time.Time
}

// NewPeerQueue constructs a queue bounded at capacity messages.
func NewPeerQueue(capacity int) *PeerQueue {
	return &PeerQueue{capacity: capacity, windowStart: time.Time{}}
}

// ErrQueueFull is returned by Push when the queue is at capacity.
var ErrQueueFull = fmt.Errorf("messagebus: peer queue full")

// Push enqueues a message, failing if the queue is at capacity.
func (q *PeerQueue) Push(msg []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return ErrQueueFull
	}
	q.items = append(q.items, msg)
	return nil
}

// Pop dequeues the oldest message, if any, and records a drain for
// drain-rate tracking.
func (q *PeerQueue) Pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	msg := q.items[0]
	q.items = q.items[1:]
	q.drained++
	return msg, true
}

// Fraction returns the current fill level in [0,1].
func (q *PeerQueue) Fraction() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.capacity == 0 {
		return 0
	}
	return float64(len(q.items)) / float64(q.capacity)
}

// DrainRate returns messages drained since the last call and resets the
// counter, so callers can compare peers over equal intervals.
func (q *PeerQueue) DrainRate() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.drained
	q.drained = 0
	return n
}

// Bus is the single-consumer batch processor fed by bounded per-peer
// queues (spec §4.7).
type Bus struct {
	log *zap.Logger

	mu     sync.Mutex
	queues map[string]*PeerQueue
	seen   *SeenCache

	perPeerCapacity int
}

// NewBus constructs a Bus with the given per-peer queue capacity. log may
// be nil (a no-op logger is used).
func NewBus(log *zap.Logger, perPeerCapacity int) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	if perPeerCapacity <= 0 {
		perPeerCapacity = 1024
	}
	return &Bus{
		log:             log.Named("messagebus"),
		queues:          make(map[string]*PeerQueue),
		seen:            NewSeenCache(),
		perPeerCapacity: perPeerCapacity,
	}
}

func (b *Bus) queueFor(peerID string) *PeerQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[peerID]
	if !ok {
		q = NewPeerQueue(b.perPeerCapacity)
		b.queues[peerID] = q
	}
	return q
}

// RemovePeer drops a disconnected peer's queue (spec §5: "aborting a peer
// ... drops its queued messages").
func (b *Bus) RemovePeer(peerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, peerID)
}

// Receive processes one raw frame from peerID: it deduplicates via the
// seen-cache, validates the envelope's minimum validity, and enqueues it
// for the batch processor. A duplicate is dropped without error (spec
// §4.7: "duplicates are dropped without dispatch").
func (b *Bus) Receive(env Envelope, raw []byte, now time.Time) (accepted bool, err error) {
	if len(raw) > MaxMessageSize {
		return false, &ValidationError{Kind: env.Kind, Msg: "frame exceeds MAX_MESSAGE_SIZE"}
	}
	if err := ValidateEnvelope(env); err != nil {
		return false, err
	}
	if b.seen.CheckAndMark(raw, now) {
		return false, nil
	}
	q := b.queueFor(env.PeerID)
	if err := q.Push(raw); err != nil {
		return false, err
	}
	return true, nil
}

// Backpressure reports whether queueFraction crosses the warn threshold
// (the bus should throttle this peer) and whether it has reached the
// reject threshold (new connections should be refused at the peer manager,
// spec §4.7's final sentence).
func Backpressure(queueFraction float64) (throttle bool, rejectNewConnections bool) {
	return queueFraction >= BackpressureWarnFraction, queueFraction >= BackpressureRejectFraction
}

// SlowestPeer returns the peerID with the lowest drain rate among active
// queues, for the bus to throttle under backpressure (spec §4.7: "stops
// reading from the slowest peer (as measured by drain rate)").
func (b *Bus) SlowestPeer() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var slowest string
	var slowestRate = -1
	found := false
	for id, q := range b.queues {
		rate := q.DrainRate()
		if !found || rate < slowestRate {
			slowest = id
			slowestRate = rate
			found = true
		}
	}
	return slowest, found
}

// QueueFraction returns the fill fraction of peerID's queue, or 0 if the
// peer has no queue yet.
func (b *Bus) QueueFraction(peerID string) float64 {
	b.mu.Lock()
	q, ok := b.queues[peerID]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	return q.Fraction()
}
