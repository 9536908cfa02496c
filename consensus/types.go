// Package consensus implements the per-node Tendermint-style BFT state
// machine: proposal, prevote, precommit, lock, timeout, and round-change,
// plus the vote aggregation engine that detects +2/3 quorums. It is the
// core of the simulator alongside the network package; everything here is
// driven synchronously by envelopes and timeout events delivered through a
// network.Simulator — there are no goroutines and no real clocks.
package consensus

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/tolelom/bftsim/codec"
	"github.com/tolelom/bftsim/crypto"
	"github.com/tolelom/bftsim/execution"
)

// Step identifies where in a round a node currently is.
type Step string

const (
	StepPropose   Step = "PROPOSE"
	StepPrevote   Step = "PREVOTE"
	StepPrecommit Step = "PRECOMMIT"
)

// NilHash is the distinguished sentinel meaning "no block this round". It
// is never a valid block hash (block hashes are 64-char hex SHA-256 sums).
const NilHash = "NIL"

// Default step timeouts (spec §4.5). Implementations may scale these
// linearly with round number to tolerate adversarial scheduling; see
// Controller.RoundTimeoutScale.
const (
	TimeoutPropose   = 3 * time.Second
	TimeoutPrevote   = 2 * time.Second
	TimeoutPrecommit = 2 * time.Second
)

// BlockHeader is the signed, hashed portion of a Block.
type BlockHeader struct {
	Height     int64  `json:"height"`
	Round      uint64 `json:"round"`
	ParentHash string `json:"parent_hash"`
	Proposer   string `json:"proposer"`
	Signature  string `json:"signature"` // hex; proposer's signature over the header under the HEADER domain
}

// Block is a proposal's payload: a header plus an ordered transaction list.
// Hash is the codec-deterministic SHA-256 of the header (without its
// Signature) and tx list; Hash itself is not part of what gets hashed. A block's state_root is not part of
// the block at all (spec §4.2) — it is computed by the committing
// controller's execution.State and recorded only in the ledger.Entry.
type Block struct {
	Header BlockHeader    `json:"header"`
	Txs    []execution.Tx `json:"txs"`
	Hash   string         `json:"hash"`
}

// blockHashPayload is the portion of a Block that its Hash covers: every
// field except Hash itself and the header's Signature.
type blockHashPayload struct {
	Height     int64          `json:"height"`
	Round      uint64         `json:"round"`
	ParentHash string         `json:"parent_hash"`
	Proposer   string         `json:"proposer"`
	Txs        []execution.Tx `json:"txs"`
}

// ComputeBlockHash returns the codec-deterministic SHA-256 hex digest of a
// block's header fields and transaction list, per spec §4.2 ("hash is the
// codec-deterministic SHA-256 of the block's remaining fields").
func ComputeBlockHash(header BlockHeader, txs []execution.Tx) string {
	payload := blockHashPayload{Height: header.Height, Round: header.Round, ParentHash: header.ParentHash, Proposer: header.Proposer, Txs: txs}
	b, err := codec.CanonicalJSON(payload)
	if err != nil {
		// CanonicalJSON only fails on unsupported Go types (channels,
		// functions); Txs is always JSON-serializable, so this is
		// unreachable in practice.
		panic(err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// NewBlock builds a Block with its Hash already computed. The header is
// left unsigned (Signature == ""); the proposer signs it separately via
// SignBlockHeader once it has decided to broadcast.
func NewBlock(height int64, round uint64, parentHash, proposer string, txs []execution.Tx) Block {
	header := BlockHeader{Height: height, Round: round, ParentHash: parentHash, Proposer: proposer}
	return Block{Header: header, Txs: txs, Hash: ComputeBlockHash(header, txs)}
}

// headerSigningPayload builds the HEADER-domain signing payload for header.
// StateRoot is always encoded empty: a block's state root is never part of
// the block itself (spec §4.2) — it only exists once a committing node
// applies the block's transactions, long after the header is signed.
func headerSigningPayload(header BlockHeader) codec.HeaderSigningPayload {
	return codec.HeaderSigningPayload{
		Height:     header.Height,
		Round:      header.Round,
		ParentHash: header.ParentHash,
		StateRoot:  "",
		Proposer:   header.Proposer,
	}
}

// SignBlockHeader returns header with Signature set to priv's signature
// over its HEADER-domain encoding, grounded on
// original_source/src/simulator/block.py's sign_block_header.
func SignBlockHeader(header BlockHeader, chainID string, priv crypto.PrivateKey) (BlockHeader, error) {
	msg, err := codec.EncodeHeader(headerSigningPayload(header), chainID)
	if err != nil {
		return header, fmt.Errorf("consensus: encode header for signing: %w", err)
	}
	header.Signature = crypto.Sign(priv, msg)
	return header, nil
}

// VerifyBlockHeader checks header.Signature against header.Proposer's own
// public key under the HEADER domain, grounded on
// original_source/src/simulator/block.py's verify_block_header.
func VerifyBlockHeader(header BlockHeader, chainID string) error {
	pub, err := crypto.PubKeyFromHex(header.Proposer)
	if err != nil {
		return fmt.Errorf("consensus: decode proposer pubkey: %w", err)
	}
	msg, err := codec.EncodeHeader(headerSigningPayload(header), chainID)
	if err != nil {
		return fmt.Errorf("consensus: encode header for verification: %w", err)
	}
	if err := crypto.Verify(pub, msg, header.Signature); err != nil {
		return fmt.Errorf("consensus: invalid block header signature: %w", err)
	}
	return nil
}

// Proposal is the PROPOSAL envelope payload (spec §6).
type Proposal struct {
	Height    int64  `json:"height"`
	Round     uint64 `json:"round"`
	BlockHash string `json:"block_hash"`
	Block     Block  `json:"block"`
}

// Vote is the VOTE envelope payload (spec §6). BlockHash is NilHash for a
// NIL vote.
type Vote struct {
	Height    int64  `json:"height"`
	Round     uint64 `json:"round"`
	Step      Step   `json:"step"`
	BlockHash string `json:"block_hash"`
	Voter     string `json:"from"`
	Signature string `json:"signature"`
}

// State is a node's consensus position: height/round/step plus the locking
// state that prevents equivocation across rounds within a height (spec
// §3). LockedBlock == nil iff LockedRound == -1.
type State struct {
	NodeID      string
	Height      int64
	Round       uint64
	Step        Step
	LockedBlock *Block
	LockedRound int64 // -1 when unlocked
}

// Threshold is the Byzantine quorum size for n voters: floor(2n/3) + 1.
func Threshold(n int) int {
	return (2*n)/3 + 1
}
