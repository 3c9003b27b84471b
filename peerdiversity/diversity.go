// Package peerdiversity implements the C8 eclipse-prevention half of the
// peer manager: network-diversity accounting (subnet/ASN/region shares),
// behavior scoring, PoW admission challenges, forced rotation, and
// eclipse-risk classification (spec §4.6).
//
// It deliberately does not import node/p2p: per spec §9's "break the cyclic
// reference" note, this package owns only the diversity/behavior/rotation
// policy and is driven by a caller (the connection manager) that owns the
// actual peer table and posts events in. That keeps this package trivially
// testable without a network.
package peerdiversity

import (
	"math"
	"sync"
	"time"
)

// PeerID identifies a connected peer to this package; callers typically use
// a stable pubkey-derived or session identifier.
type PeerID string

// Admission-policy defaults (spec §4.6).
const (
	MinConnectionsForDiversity = 5
	MaxSubnetShare             = 0.15
	MaxASNShare                = 0.25
	MaxRegionShare             = 0.35
	MaxInboundShare            = 0.67

	MaxSubnetConnectionsPerWindow = 10
	SubnetRateWindow              = 60 * time.Second

	InitialBehaviorScore  = 100.0
	BehaviorBanThreshold  = 25.0
	RotationInterval      = time.Hour
	RotationPercentage    = 0.25
)

// Behavior-score deltas (spec §4.6).
const (
	ScoreValidBlock        = 0.5
	ScoreInvalidBlock      = -10.0
	ScoreValidTx           = 0.1
	ScoreInvalidTx         = -2.0
	ScoreProtocolViolation = -25.0
	ScoreUnusualPattern    = -5.0
)

// Attributes describes a connecting peer's network-placement metadata, the
// inputs to diversity accounting (spec §3 "subnet/ASN/region accounting").
type Attributes struct {
	Subnet24 string // e.g. the /24 CIDR text of the peer's IP
	ASN      string
	Region   string
	Inbound  bool
	Anchor   bool // operator-designated persistent peer, exempt from rotation
}

// RejectReason is a stable, typed admission-rejection code (spec §7:
// "rejected submissions receive a structured reason").
type RejectReason string

const (
	ReasonBanned            RejectReason = "banned"
	ReasonSubnetFlood       RejectReason = "Connection flooding detected"
	ReasonSubnetShare       RejectReason = "Too many connections from subnet"
	ReasonASNShare          RejectReason = "Too many connections from ASN"
	ReasonRegionShare       RejectReason = "Too many connections from region"
	ReasonInboundShare      RejectReason = "Too many inbound connections"
	ReasonPoWNotCompleted   RejectReason = "PoW challenge not completed"
)

// AdmissionError carries a RejectReason through a normal error return.
type AdmissionError struct {
	Reason RejectReason
}

func (e *AdmissionError) Error() string { return string(e.Reason) }

// RiskLevel is the eclipse-risk classification (spec §4.6).
type RiskLevel int

const (
	Safe RiskLevel = iota
	Elevated
	High
	Critical
)

func (r RiskLevel) String() string {
	switch r {
	case Safe:
		return "safe"
	case Elevated:
		return "elevated"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

type peerRecord struct {
	attrs    Attributes
	behavior float64
	lastSeen time.Time
}

// connAttempt is one recorded inbound connection attempt, used by the
// per-subnet flood detector.
type connAttempt struct {
	subnet string
	at     time.Time
}

// Tracker owns diversity counts, behavior scores, and connection-flood
// bookkeeping for the currently connected peer set. It replaces the
// source's cyclic PeerManager/ConnectionManager reference (spec §9) with a
// single owner whose table only this package mutates.
type Tracker struct {
	mu sync.Mutex

	peers map[PeerID]*peerRecord

	subnetCounts map[string]int
	asnCounts    map[string]int
	regionCounts map[string]int
	inboundCount int

	recentAttempts []connAttempt

	banned map[string]time.Time // ip/pid -> ban expiry
}

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		peers:        make(map[PeerID]*peerRecord),
		subnetCounts: make(map[string]int),
		asnCounts:    make(map[string]int),
		regionCounts: make(map[string]int),
		banned:       make(map[string]time.Time),
	}
}

// IsBanned reports whether identifier (an IP or a peer id) is currently
// banned as of now.
func (t *Tracker) IsBanned(identifier string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	until, ok := t.banned[identifier]
	if !ok {
		return false
	}
	if now.After(until) {
		delete(t.banned, identifier)
		return false
	}
	return true
}

// Ban marks identifier banned until now+duration. Repeated bans of the same
// identifier extend exponentially (spec §4.6): each call doubles the
// previous remaining duration, floored at duration.
func (t *Tracker) Ban(identifier string, now time.Time, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.banned[identifier]; ok && prev.After(now) {
		remaining := prev.Sub(now)
		doubled := remaining * 2
		if doubled > duration {
			duration = doubled
		}
	}
	t.banned[identifier] = now.Add(duration)
}

// RecordAttempt logs an inbound connection attempt from subnet for the
// flood detector (spec §4.6 step 2: >10 attempts per /24 per 60s window is
// rejected). It returns an error if the subnet has flooded.
func (t *Tracker) RecordAttempt(subnet string, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	windowStart := now.Add(-SubnetRateWindow)
	kept := t.recentAttempts[:0]
	count := 0
	for _, a := range t.recentAttempts {
		if a.at.After(windowStart) {
			kept = append(kept, a)
			if a.subnet == subnet {
				count++
			}
		}
	}
	t.recentAttempts = kept
	if count >= MaxSubnetConnectionsPerWindow {
		return &AdmissionError{Reason: ReasonSubnetFlood}
	}
	t.recentAttempts = append(t.recentAttempts, connAttempt{subnet: subnet, at: now})
	return nil
}

// CheckDiversity evaluates whether admitting a peer with the given
// Attributes would push any share cap over its limit (spec §4.6 step 3).
// The check only applies once MinConnectionsForDiversity connections are
// already established (P7).
func (t *Tracker) CheckDiversity(attrs Attributes) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := len(t.peers)
	if total < MinConnectionsForDiversity {
		return nil
	}
	newTotal := total + 1
	if shareAfter(t.subnetCounts[attrs.Subnet24], newTotal) > MaxSubnetShare {
		return &AdmissionError{Reason: ReasonSubnetShare}
	}
	if shareAfter(t.asnCounts[attrs.ASN], newTotal) > MaxASNShare {
		return &AdmissionError{Reason: ReasonASNShare}
	}
	if shareAfter(t.regionCounts[attrs.Region], newTotal) > MaxRegionShare {
		return &AdmissionError{Reason: ReasonRegionShare}
	}
	if attrs.Inbound {
		if shareAfter(t.inboundCount, newTotal) > MaxInboundShare {
			return &AdmissionError{Reason: ReasonInboundShare}
		}
	}
	return nil
}

func shareAfter(currentCount int, newTotal int) float64 {
	return float64(currentCount+1) / float64(newTotal)
}

// Admit records a connected peer after all admission checks have passed.
// Behavior score starts at InitialBehaviorScore (spec §4.6).
func (t *Tracker) Admit(id PeerID, attrs Attributes, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[id] = &peerRecord{attrs: attrs, behavior: InitialBehaviorScore, lastSeen: now}
	t.subnetCounts[attrs.Subnet24]++
	t.asnCounts[attrs.ASN]++
	t.regionCounts[attrs.Region]++
	if attrs.Inbound {
		t.inboundCount++
	}
}

// Remove disconnects a peer and releases its diversity-count contribution.
func (t *Tracker) Remove(id PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(id)
}

func (t *Tracker) removeLocked(id PeerID) {
	rec, ok := t.peers[id]
	if !ok {
		return
	}
	delete(t.peers, id)
	t.subnetCounts[rec.attrs.Subnet24]--
	t.asnCounts[rec.attrs.ASN]--
	t.regionCounts[rec.attrs.Region]--
	if rec.attrs.Inbound {
		t.inboundCount--
	}
}

// AdjustBehavior applies a behavior-score delta to a connected peer (spec
// §4.6 event table) and returns the peer's resulting score plus whether it
// has dropped below BehaviorBanThreshold and should be disconnected.
func (t *Tracker) AdjustBehavior(id PeerID, delta float64) (score float64, shouldDisconnect bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.peers[id]
	if !ok {
		return 0, false
	}
	rec.behavior += delta
	return rec.behavior, rec.behavior < BehaviorBanThreshold
}

// DiversityScore returns the composite diversity score in [0,1]: the
// geometric mean of (1 - max_share_X) across subnet, ASN, and region (spec
// §4.6 "Network diversity tracker").
func (t *Tracker) DiversityScore() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := len(t.peers)
	if total == 0 {
		return 1.0
	}
	subnetTerm := clamp01(1 - maxShare(t.subnetCounts, total))
	asnTerm := clamp01(1 - maxShare(t.asnCounts, total))
	regionTerm := clamp01(1 - maxShare(t.regionCounts, total))
	product := subnetTerm * asnTerm * regionTerm
	if product <= 0 {
		return 0
	}
	return math.Cbrt(product)
}

func maxShare(counts map[string]int, total int) float64 {
	var max int
	for _, c := range counts {
		if c > max {
			max = c
		}
	}
	return float64(max) / float64(total)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Len reports the number of currently admitted peers.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}
