// Package harness wires N consensus.Controllers to one network.Simulator,
// the integration concern described in spec §4.6. It owns nothing a
// Controller doesn't already own — the harness's job is construction and
// driving the virtual clock, not holding consensus state itself.
package harness

import (
	"crypto/ed25519"
	"fmt"
	"sort"

	"github.com/tolelom/bftsim/codec"
	"github.com/tolelom/bftsim/config"
	"github.com/tolelom/bftsim/consensus"
	"github.com/tolelom/bftsim/crypto"
	"github.com/tolelom/bftsim/events"
	"github.com/tolelom/bftsim/execution"
	"github.com/tolelom/bftsim/ledger"
	"github.com/tolelom/bftsim/network"
)

// NodeHandle bundles everything the harness builds per validator.
type NodeHandle struct {
	ID         string
	PrivKey    crypto.PrivateKey
	Controller *consensus.Controller
	Exec       *execution.State
	Ledger     *ledger.Ledger
	Emitter    *events.Emitter
}

// Harness is a fully wired scenario: one network.Simulator and one
// consensus.Node per validator, all sharing the same chain ID and
// validator set.
type Harness struct {
	ChainID string
	Net     *network.Simulator
	Nodes   map[string]*NodeHandle
	order   []string // validator IDs, sorted, for deterministic iteration
}

// New builds a Harness with numNodes validators whose keys are derived
// deterministically from seed (so two Harnesses built with the same seed
// and numNodes are byte-identical), a full-mesh topology including
// self-loops (spec §4.6), and an empty BlockBuilder that proposes blocks
// with no transactions. Callers that want real transactions should replace
// each NodeHandle.Controller.Build after New returns.
func New(chainID string, numNodes int, seed int64, netCfg network.Config) (*Harness, error) {
	if numNodes <= 0 {
		return nil, fmt.Errorf("harness: numNodes must be positive, got %d", numNodes)
	}

	sim := network.NewSimulator(seed, netCfg)
	h := &Harness{ChainID: chainID, Net: sim, Nodes: make(map[string]*NodeHandle)}

	type built struct {
		id   string
		priv crypto.PrivateKey
	}
	built_ := make([]built, 0, numNodes)
	for i := 0; i < numNodes; i++ {
		var rawSeed [ed25519.SeedSize]byte
		copy(rawSeed[:], fmt.Sprintf("bftsim-node-%d-seed-%d", i, seed))
		priv, pub := crypto.KeyFromSeed(rawSeed)
		built_ = append(built_, built{id: pub.Hex(), priv: priv})
	}
	sort.Slice(built_, func(i, j int) bool { return built_[i].id < built_[j].id })

	validators := make([]string, len(built_))
	for i, b := range built_ {
		validators[i] = b.id
	}
	h.order = validators

	var edges []network.Edge
	for _, a := range validators {
		for _, b := range validators {
			edges = append(edges, network.Edge{Sender: a, Receiver: b})
		}
	}
	sim.LoadTopology(edges)

	for _, b := range built_ {
		lg := ledger.New()
		exec := execution.New(chainID)
		emitter := events.NewEmitter()

		nodeID := b.id
		ctrl := consensus.NewController(chainID, validators, nodeID, b.priv, sim, emptyBlockBuilder, lg, exec, config.GenesisHash)
		ctrl.Emitter = emitter

		node := &consensus.Node{Controller: ctrl}
		sim.Register(nodeID, node)

		h.Nodes[nodeID] = &NodeHandle{ID: nodeID, PrivKey: b.priv, Controller: ctrl, Exec: exec, Ledger: lg, Emitter: emitter}
	}

	return h, nil
}

// emptyBlockBuilder is the default BlockBuilder: a block with no
// transactions. Scenarios that need transactional content should set
// Controller.Build directly after construction.
func emptyBlockBuilder(height int64, round uint64, parentHash, proposer string) consensus.Block {
	return consensus.NewBlock(height, round, parentHash, proposer, nil)
}

// Start begins round 0 at every node's current height. Callers should
// follow Start with Run or manual calls to Net.RunUntilIdle /
// Net.AdvanceTime to drive the scenario to completion.
func (h *Harness) Start() {
	for _, id := range h.order {
		h.Nodes[id].Controller.StartRound(0)
	}
}

// Run drains the network until idle. Because every timeout is itself a
// scheduled event, RunUntilIdle naturally carries the scenario through
// round changes and commits until no node has outstanding work — it only
// returns early if every node has stalled waiting on input the scenario
// never supplies (e.g. an isolated minority partition).
//
// Consensus itself never stops on its own (a commit immediately starts the
// next round), so RunUntilIdle only terminates when the network truly runs
// dry — which happens in a partition, never in a healthy scenario. Use
// RunUntilHeight to drive a bounded number of commits instead.
func (h *Harness) Run() int {
	return h.Net.RunUntilIdle()
}

// RunUntilHeight steps the simulator one virtual-time instant at a time
// until every node's ledger has reached targetHeight, the network goes
// idle with no further events scheduled, or maxEvents envelope deliveries
// have been processed (a safety bound against a scenario that never
// converges). It reports whether every node reached targetHeight.
func (h *Harness) RunUntilHeight(targetHeight int64, maxEvents int) bool {
	delivered := 0
	for delivered < maxEvents {
		if h.allAtLeast(targetHeight) {
			return true
		}
		n := h.Net.StepOnce()
		if n == 0 {
			return h.allAtLeast(targetHeight)
		}
		delivered += n
	}
	return h.allAtLeast(targetHeight)
}

func (h *Harness) allAtLeast(height int64) bool {
	for _, n := range h.Nodes {
		if n.Ledger.Height() < height {
			return false
		}
	}
	return true
}

// Heights returns the committed height of every node's ledger, keyed by
// node ID — the harness's view of whether all validators have converged.
func (h *Harness) Heights() map[string]int64 {
	out := make(map[string]int64, len(h.Nodes))
	for id, n := range h.Nodes {
		out[id] = n.Ledger.Height()
	}
	return out
}

// CommittedHashes returns the block hash each node committed at height,
// keyed by node ID, for agreement checks (spec §8's Agreement property:
// every non-faulty node that commits at height h commits the same hash).
func (h *Harness) CommittedHashes(height int64) map[string]string {
	out := make(map[string]string, len(h.Nodes))
	for id, n := range h.Nodes {
		if entry, err := n.Ledger.Get(height); err == nil {
			out[id] = entry.BlockHash
		}
	}
	return out
}

// SignTx builds and signs an execution.Tx for sender using priv, assigning
// it the given nonce. key must live under the sender's own
// "<pubkey_hex>/" namespace or execution.State.Apply will reject it with
// ErrNotOwner. Exposed so scenario code and tests can construct valid
// transactions without reaching into the codec/crypto packages directly.
func SignTx(chainID string, priv crypto.PrivateKey, key string, value any, nonce uint64) (execution.Tx, error) {
	sender := priv.Public().Hex()
	msg, err := codec.EncodeTx(codec.TxSigningPayload{Sender: sender, Key: key, Value: value, Nonce: nonce}, chainID)
	if err != nil {
		return execution.Tx{}, err
	}
	return execution.Tx{
		Sender:    sender,
		Key:       key,
		Value:     value,
		Nonce:     nonce,
		Signature: crypto.Sign(priv, msg),
	}, nil
}
