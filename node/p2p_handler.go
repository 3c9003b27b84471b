package node

import (
	"time"

	"github.com/supernova-chain/supernova/consensus"
	"github.com/supernova-chain/supernova/node/p2p"
)

// RuntimeHandler adapts a Runtime to p2p.PeerHandler so a p2p.Peer's message
// loop dispatches into the C5-C7 policy layers (spec §2's "C9 -> C6/C7" data
// flow) instead of the handler doing nothing. Blocks, if non-nil, backs
// OnGetHeaders with the height-indexed block store; left nil, OnGetHeaders
// returns no headers rather than erroring (a peer asking before the local
// node has one to serve).
type RuntimeHandler struct {
	Runtime *Runtime
	Blocks  *BlockStore
}

// NewRuntimeHandler builds a RuntimeHandler over rt. blocks may be nil.
func NewRuntimeHandler(rt *Runtime, blocks *BlockStore) *RuntimeHandler {
	return &RuntimeHandler{Runtime: rt, Blocks: blocks}
}

// OnBlock decodes an inbound Block message and hands it to the runtime's
// checkpoint-gated apply path (spec §2 "C9 deframes ... hands to C6").
func (h *RuntimeHandler) OnBlock(_ *p2p.Peer, blockBytes []byte) error {
	_, err := h.Runtime.HandleInboundBlock("p2p", blockBytes, time.Now())
	return err
}

// OnTx decodes an inbound Transaction message and admits it to the mempool
// (spec §2 "C9 -> C7 admission").
func (h *RuntimeHandler) OnTx(_ *p2p.Peer, txBytes []byte) error {
	_, err := h.Runtime.HandleInboundTransaction("p2p", txBytes, 0, time.Now())
	return err
}

// OnGetHeaders walks the local canonical chain in Blocks from its tip down
// to the first hash present in req.BlockLocator (or genesis, if none
// match), then returns headers forward from there up to
// p2p.MaxHeadersPerMsg or req.HashStop, whichever comes first.
func (h *RuntimeHandler) OnGetHeaders(_ *p2p.Peer, req *p2p.GetHeadersPayload) ([]consensus.BlockHeader, error) {
	if h.Blocks == nil || req == nil {
		return nil, nil
	}
	tipHeight, _, ok, err := h.Blocks.Tip()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	locator := make(map[[32]byte]struct{}, len(req.BlockLocator))
	for _, hash := range req.BlockLocator {
		locator[hash] = struct{}{}
	}

	startHeight := uint64(0)
	for height := tipHeight; ; height-- {
		hash, present, err := h.Blocks.CanonicalHash(height)
		if err != nil {
			return nil, err
		}
		if present {
			if _, isLocator := locator[hash]; isLocator {
				startHeight = height + 1
				break
			}
		}
		if height == 0 {
			break
		}
	}

	headers := make([]consensus.BlockHeader, 0, p2p.MaxHeadersPerMsg)
	for height := startHeight; height <= tipHeight && len(headers) < p2p.MaxHeadersPerMsg; height++ {
		hash, present, err := h.Blocks.CanonicalHash(height)
		if err != nil {
			return nil, err
		}
		if !present || hash == req.HashStop {
			break
		}
		raw, err := h.Blocks.GetHeaderByHash(hash)
		if err != nil {
			break
		}
		hdr, err := consensus.ParseBlockHeaderBytes(raw)
		if err != nil {
			return nil, err
		}
		headers = append(headers, hdr)
	}
	return headers, nil
}

// OnHeaders validates the linkage and proof-of-work of an unsolicited
// headers announcement. Target/timestamp checks are skipped here (they
// need ancestor context this standalone call doesn't have); full
// contextual validation happens when the corresponding block is fetched
// and passed to OnBlock.
func (h *RuntimeHandler) OnHeaders(_ *p2p.Peer, headers []consensus.BlockHeader) error {
	if len(headers) == 0 {
		return nil
	}
	return p2p.ValidateHeadersProfile(h.Runtime.Crypto, headers, consensus.BlockValidationContext{})
}

// OnInv, OnGetData, and OnNotFound are advisory inventory-relay messages:
// this node always fetches full blocks/transactions directly rather than
// negotiating getdata/notfound round-trips, so they are accepted without
// further action.
func (h *RuntimeHandler) OnInv(*p2p.Peer, []p2p.InvVector) error      { return nil }
func (h *RuntimeHandler) OnGetData(*p2p.Peer, []p2p.InvVector) error  { return nil }
func (h *RuntimeHandler) OnNotFound(*p2p.Peer, []p2p.InvVector) error { return nil }

var _ p2p.PeerHandler = (*RuntimeHandler)(nil)
