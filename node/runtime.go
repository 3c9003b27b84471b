package node

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/supernova-chain/supernova/consensus"
	"github.com/supernova-chain/supernova/crypto"
	"github.com/supernova-chain/supernova/mempool"
	"github.com/supernova-chain/supernova/messagebus"
	"github.com/supernova-chain/supernova/node/checkpoint"
	"github.com/supernova-chain/supernova/node/store"
	"github.com/supernova-chain/supernova/peerdiversity"
)

// Runtime bundles the long-lived services a running node needs: the
// persistence layer, the mempool, peer-diversity accounting, the message
// bus, and the checkpoint-gated reorg manager. It is the thing main()
// constructs once and threads through the connection-accept and
// block-apply paths.
type Runtime struct {
	Config  Config
	Log     *zap.Logger
	ChainID [32]byte

	Crypto crypto.CryptoProvider
	Store  *store.DB

	Mempool     *mempool.Pool
	Diversity   *peerdiversity.Tracker
	Bus         *messagebus.Bus
	Checkpoints *checkpoint.Manager
	Peers       *PeerManager
}

// NewRuntime wires the four C7-C10 policy packages into a PeerManager and
// persistence handle according to cfg. db and crypt must already be open;
// checkpoints may be nil or empty (no gating).
func NewRuntime(cfg Config, log *zap.Logger, crypt crypto.CryptoProvider, db *store.DB, checkpoints []checkpoint.Checkpoint) (*Runtime, error) {
	if log == nil {
		var err error
		log, err = NewLogger(cfg)
		if err != nil {
			return nil, fmt.Errorf("building logger: %w", err)
		}
	}

	enforcement, err := CheckpointEnforcement(cfg)
	if err != nil {
		return nil, err
	}
	ckpts, err := checkpoint.NewManager(enforcement, checkpoints)
	if err != nil {
		return nil, fmt.Errorf("building checkpoint manager: %w", err)
	}

	pool := mempool.New(log,
		mempool.WithMaxBytes(cfg.Mempool.MaxBytes),
		mempool.WithMinRelayFeeRate(cfg.Mempool.MinRelayFeeRate),
	)

	diversity := peerdiversity.NewTracker()
	bus := messagebus.NewBus(log, cfg.MaxPeers*64)

	peers := NewPeerManager(DefaultPeerRuntimeConfig(cfg.Network, cfg.MaxPeers)).
		WithDiversityTracker(diversity)

	return &Runtime{
		Config:      cfg,
		Log:         log,
		Crypto:      crypt,
		Store:       db,
		Mempool:     pool,
		Diversity:   diversity,
		Bus:         bus,
		Checkpoints: ckpts,
		Peers:       peers,
	}, nil
}

// ApplyBlock runs db.ApplyBlockIfBestTip under this runtime's checkpoint
// gate, then prunes any mempool candidates the block just confirmed.
func (rt *Runtime) ApplyBlock(chainID [32]byte, blockBytes []byte, opts store.ApplyOptions) (store.ApplyDecision, error) {
	decision, err := rt.Store.ApplyBlockIfBestTip(rt.Crypto, chainID, blockBytes, opts, rt.Checkpoints)
	if err != nil {
		return decision, err
	}
	if decision == store.ApplyAppliedAsTip {
		if block, perr := consensus.ParseBlockBytes(blockBytes); perr == nil {
			ids := make([][32]byte, 0, len(block.Transactions))
			for i := range block.Transactions {
				ids = append(ids, consensus.TxID(rt.Crypto, &block.Transactions[i]))
			}
			rt.Mempool.OnBlockApplied(ids)
		}
	}
	return decision, nil
}

// HandleInboundBlock deframes a Block{bytes} message (spec §4.7): it checks
// the bus's minimum-validity gate and duplicate-suppression cache first,
// then on acceptance hands the bytes to ApplyBlock under rt.ChainID. It
// returns (false, nil) for a dropped duplicate, matching messagebus.Bus's
// own "dropped without dispatch" contract.
func (rt *Runtime) HandleInboundBlock(peerID string, raw []byte, now time.Time) (bool, error) {
	accepted, err := rt.Bus.Receive(messagebus.Envelope{Kind: messagebus.KindBlock, PeerID: peerID, Bytes: raw}, raw, now)
	if err != nil || !accepted {
		return false, err
	}
	_, err = rt.ApplyBlock(rt.ChainID, raw, store.ApplyOptions{})
	return err == nil, err
}

// HandleInboundTransaction deframes a Transaction{bytes} message (spec
// §4.7): bus validity + dedup, then consensus.ParseTxBytes, then
// rt.Mempool.Admit against the live UTXO set (spec §2's "C9 -> C7
// admission" data flow).
func (rt *Runtime) HandleInboundTransaction(peerID string, raw []byte, envScore float64, now time.Time) (*mempool.Entry, error) {
	accepted, err := rt.Bus.Receive(messagebus.Envelope{Kind: messagebus.KindTx, PeerID: peerID, Bytes: raw}, raw, now)
	if err != nil {
		return nil, err
	}
	if !accepted {
		return nil, nil // duplicate, dropped without dispatch
	}
	tx, err := consensus.ParseTxBytes(raw)
	if err != nil {
		return nil, err
	}
	return rt.Mempool.Admit(rt.Crypto, tx, peerID, now, envScore, rt.Store)
}
