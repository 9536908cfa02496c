package consensus

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/tolelom/bftsim/codec"
	"github.com/tolelom/bftsim/crypto"
	"github.com/tolelom/bftsim/events"
	"github.com/tolelom/bftsim/execution"
	"github.com/tolelom/bftsim/ledger"
)

// Broadcaster is the subset of network.Simulator a Controller needs: send a
// HEADER/BODY pair to one peer, and schedule a tagged timeout for itself.
// Depending on an interface instead of *network.Simulator keeps this
// package ignorant of wire-level concerns (drops, bandwidth, topology) —
// those are the simulator's problem, not the state machine's.
type Broadcaster interface {
	SendHeader(sender, receiver, headerID string, height int64, payload any)
	SendBody(sender, receiver, headerID string, height int64, payload any)
	ScheduleTimeout(nodeID string, delayMs int64, tag any)
}

// TimeoutTag identifies one scheduled timeout. A delivered timeout whose
// tag no longer matches the controller's current (height, round, step) is
// stale and ignored — the cancellation equivalent in a network with no
// real cancellation (spec §5).
type TimeoutTag struct {
	Height int64
	Round  uint64
	Step   Step
}

// BlockBuilder constructs a fresh block for a proposer to propose when it
// has no locked block to re-propose. Supplied by the harness so the
// consensus package stays decoupled from how transactions are sourced.
type BlockBuilder func(height int64, round uint64, parentHash, proposer string) Block

// Controller drives one validator's Tendermint-style state machine. Every
// method runs to completion before returning control to its caller — there
// is no internal concurrency, matching spec §5's single-threaded handler
// model. A Controller owns its State, Aggregator, BlockStore, Ledger, and
// Exec exclusively; nothing outside this node's handler path mutates them.
type Controller struct {
	ChainID    string
	Validators []string // sorted validator IDs (pubkey hex), shared across the harness
	NodeID     string
	PrivKey    crypto.PrivateKey

	Net     Broadcaster
	Build   BlockBuilder
	Ledger  *ledger.Ledger
	Exec    *execution.State
	Emitter *events.Emitter // optional; nil disables event emission

	St        State
	Votes     *Aggregator
	Store     *BlockStore
	Validator *MessageValidator

	// ParentHash is the hash of the most recently committed block, or the
	// configured genesis hash before height 1 commits.
	ParentHash string

	// RoundTimeoutScale, when non-nil, scales step timeouts linearly with
	// round number to tolerate adversarial scheduling (spec §4.5 "MAY
	// increase timeouts linearly with round number"). Left nil, timeouts
	// are constant across rounds.
	RoundTimeoutScale func(base time.Duration, round uint64) time.Duration
}

// NewController creates a Controller for validator nodeID, starting at
// height 1 round 0, unlocked. Validators must already be sorted and
// identical across every controller sharing a harness (spec §4.6).
func NewController(chainID string, validators []string, nodeID string, priv crypto.PrivateKey, net Broadcaster, build BlockBuilder, lg *ledger.Ledger, exec *execution.State, genesisHash string) *Controller {
	sorted := append([]string(nil), validators...)
	sort.Strings(sorted)
	threshold := Threshold(len(sorted))
	return &Controller{
		ChainID:    chainID,
		Validators: sorted,
		NodeID:     nodeID,
		PrivKey:    priv,
		Net:        net,
		Build:      build,
		Ledger:     lg,
		Exec:       exec,
		St:         State{NodeID: nodeID, Height: 1, Round: 0, Step: StepPropose, LockedRound: -1},
		Votes:      NewAggregator(chainID, threshold),
		Store:      NewBlockStore(),
		Validator:  NewMessageValidator(chainID),
		ParentHash: genesisHash,
	}
}

// Proposer returns the deterministic proposer for (height, round), per
// spec §4.6: sorted(validator_ids)[(height+round) mod N].
func (c *Controller) Proposer(height int64, round uint64) string {
	n := int64(len(c.Validators))
	idx := (height + int64(round)) % n
	return c.Validators[idx]
}

// IsProposer reports whether this node is the proposer for (height, round).
func (c *Controller) IsProposer(height int64, round uint64) bool {
	return c.Proposer(height, round) == c.NodeID
}

// emit forwards ev to c.Emitter if one is configured; a nil Emitter means
// no one is listening and events are simply not produced.
func (c *Controller) emit(typ events.EventType, data map[string]any) {
	if c.Emitter == nil {
		return
	}
	c.Emitter.Emit(events.Event{Type: typ, NodeID: c.NodeID, Height: c.St.Height, Round: c.St.Round, Data: data})
}

// StartRound begins round R at the controller's current height: the
// proposer (re-)proposes, everyone else schedules timeout_propose.
func (c *Controller) StartRound(round uint64) {
	if round > 0 {
		c.emit(events.EventRoundChange, map[string]any{"round": round})
	}
	c.St.Round = round
	c.St.Step = StepPropose

	if c.IsProposer(c.St.Height, round) {
		c.propose(round)
		return
	}
	c.scheduleTimeout(TimeoutPropose, TimeoutTag{Height: c.St.Height, Round: round, Step: StepPropose})
}

func (c *Controller) propose(round uint64) {
	var block Block
	if c.St.LockedBlock != nil {
		block = *c.St.LockedBlock
	} else {
		block = c.Build(c.St.Height, round, c.ParentHash, c.NodeID)
	}
	if block.Header.Signature == "" {
		signed, err := SignBlockHeader(block.Header, c.ChainID, c.PrivKey)
		if err != nil {
			log.Printf("[consensus] node %s failed to sign block header: %v", c.NodeID, err)
			return
		}
		block.Header = signed
	}
	c.Store.Save(&block)
	prop := Proposal{Height: c.St.Height, Round: round, BlockHash: block.Hash, Block: block}
	c.emit(events.EventProposal, map[string]any{"block_hash": prop.BlockHash})
	c.broadcastProposal(prop)
}

// broadcastProposal sends a HEADER/BODY pair for prop to every validator,
// including self (spec §4.6's self-inclusive broadcast).
func (c *Controller) broadcastProposal(prop Proposal) {
	headerID := fmt.Sprintf("proposal-%d-%d-%s", prop.Height, prop.Round, c.NodeID)
	for _, peer := range c.Validators {
		c.Net.SendHeader(c.NodeID, peer, headerID, prop.Height, prop)
		c.Net.SendBody(c.NodeID, peer, headerID, prop.Height, prop)
	}
}

func (c *Controller) broadcastVote(v Vote) {
	headerID := fmt.Sprintf("vote-%d-%d-%s-%s-%s", v.Height, v.Round, v.Step, c.NodeID, v.BlockHash)
	for _, peer := range c.Validators {
		c.Net.SendHeader(c.NodeID, peer, headerID, v.Height, v)
		c.Net.SendBody(c.NodeID, peer, headerID, v.Height, v)
	}
}

func (c *Controller) scheduleTimeout(base time.Duration, tag TimeoutTag) {
	d := base
	if c.RoundTimeoutScale != nil {
		d = c.RoundTimeoutScale(base, tag.Round)
	}
	c.Net.ScheduleTimeout(c.NodeID, d.Milliseconds(), tag)
}

// HandleProposal processes a received PROPOSAL envelope (spec §4.5 "Proposal
// received"). Stale proposals (wrong height/round, or this node is not in
// PROPOSE) are ignored per the "any message for step != current" rule.
func (c *Controller) HandleProposal(prop Proposal) {
	if prop.Height != c.St.Height || prop.Round != c.St.Round || c.St.Step != StepPropose {
		return
	}
	if err := c.Validator.ValidateProposal(prop); err != nil {
		log.Printf("[consensus] node %s dropped invalid proposal from %s: %v", c.NodeID, prop.Block.Header.Proposer, err)
		return
	}
	block := prop.Block
	c.Store.Save(&block)

	var voteHash string
	if c.St.LockedBlock == nil || c.St.LockedBlock.Hash == prop.BlockHash {
		voteHash = prop.BlockHash
	} else {
		voteHash = NilHash
	}
	c.St.Step = StepPrevote
	c.castVote(StepPrevote, voteHash)
	c.scheduleTimeout(TimeoutPrevote, TimeoutTag{Height: c.St.Height, Round: c.St.Round, Step: StepPrevote})
}

// HandleTimeout processes a delivered timeout tag. A tag that no longer
// matches the controller's current (height, round, step) is stale and
// silently dropped (spec §5's cancellation equivalent).
func (c *Controller) HandleTimeout(tag TimeoutTag) {
	if tag.Height != c.St.Height || tag.Round != c.St.Round || tag.Step != c.St.Step {
		return
	}
	c.emit(events.EventTimeout, map[string]any{"step": string(tag.Step)})
	switch tag.Step {
	case StepPropose:
		c.St.Step = StepPrevote
		c.castVote(StepPrevote, NilHash)
		c.scheduleTimeout(TimeoutPrevote, TimeoutTag{Height: c.St.Height, Round: c.St.Round, Step: StepPrevote})
	case StepPrevote:
		c.St.Step = StepPrecommit
		c.castVote(StepPrecommit, NilHash)
		c.scheduleTimeout(TimeoutPrecommit, TimeoutTag{Height: c.St.Height, Round: c.St.Round, Step: StepPrecommit})
	case StepPrecommit:
		c.StartRound(c.St.Round + 1)
	}
}

// HandleVote records an incoming VOTE and, if it completes a quorum for
// this controller's current height/round/step, drives the corresponding
// transition. A quorum signal for a height/round the controller has
// already moved past (or not yet reached) is ignored: it was either acted
// on already via this node's own vote, or belongs to a round this node
// will only reach later, at which point StartRound re-evaluates from
// scratch.
func (c *Controller) HandleVote(v Vote) {
	if err := c.Validator.ValidateVote(v); err != nil {
		log.Printf("[consensus] node %s dropped invalid vote from %s: %v", c.NodeID, v.Voter, err)
		return
	}
	signal, err := c.Votes.Record(v)
	if err != nil {
		log.Printf("[consensus] node %s dropped invalid vote from %s: %v", c.NodeID, v.Voter, err)
		return
	}
	if signal == nil {
		return
	}
	if signal.Height != c.St.Height || signal.Round != c.St.Round {
		return
	}

	switch signal.Step {
	case StepPrevote:
		if c.St.Step != StepPrevote {
			return
		}
		if signal.BlockHash != NilHash {
			block := c.Store.Get(signal.BlockHash)
			c.St.LockedBlock = block
			c.St.LockedRound = int64(signal.Round)
			c.St.Step = StepPrecommit
			c.castVote(StepPrecommit, signal.BlockHash)
		} else {
			c.St.Step = StepPrecommit
			c.castVote(StepPrecommit, NilHash)
		}
		c.scheduleTimeout(TimeoutPrecommit, TimeoutTag{Height: c.St.Height, Round: c.St.Round, Step: StepPrecommit})

	case StepPrecommit:
		if c.St.Step != StepPrecommit {
			return
		}
		if signal.BlockHash != NilHash {
			c.commit(signal.BlockHash)
		} else {
			c.StartRound(c.St.Round + 1)
		}
	}
}

// commit applies blockHash's transactions to this node's execution state,
// appends the resulting ledger.Entry, clears the lock, advances height,
// and starts round 0 of the next height.
func (c *Controller) commit(blockHash string) {
	block := c.Store.Get(blockHash)
	if block == nil {
		log.Printf("[consensus] node %s commit(%s): block missing from store", c.NodeID, blockHash)
		return
	}

	stateRoot, err := c.Exec.ApplyBlock(block.Txs)
	if err != nil {
		log.Printf("[consensus] node %s commit(%s): tx application failed: %v", c.NodeID, blockHash, err)
		return
	}

	entry := ledger.Entry{
		Height:     block.Header.Height,
		ParentHash: block.Header.ParentHash,
		StateRoot:  stateRoot,
		Proposer:   block.Header.Proposer,
		BlockHash:  blockHash,
	}
	if err := c.Ledger.Append(entry); err != nil {
		log.Printf("[consensus] node %s failed to append ledger entry at height %d: %v", c.NodeID, entry.Height, err)
		return
	}
	c.emit(events.EventCommit, map[string]any{"block_hash": blockHash, "state_root": stateRoot})

	c.ParentHash = blockHash
	c.St.LockedBlock = nil
	c.St.LockedRound = -1
	c.St.Height++
	c.StartRound(0)
}

// castVote signs and broadcasts a PREVOTE or PRECOMMIT for blockHash
// (which may be NilHash), then records it in this node's own tally the
// same way an incoming vote would be.
func (c *Controller) castVote(step Step, blockHash string) {
	v := Vote{Height: c.St.Height, Round: c.St.Round, Step: step, BlockHash: blockHash, Voter: c.PrivKey.Public().Hex()}
	msg, err := codec.EncodeVote(codec.VoteSigningPayload{
		Height:    v.Height,
		Round:     v.Round,
		Step:      string(v.Step),
		BlockHash: v.BlockHash,
		Voter:     v.Voter,
	}, c.ChainID)
	if err != nil {
		log.Printf("[consensus] node %s failed to encode vote: %v", c.NodeID, err)
		return
	}
	v.Signature = crypto.Sign(c.PrivKey, msg)
	if step == StepPrevote {
		c.emit(events.EventPrevote, map[string]any{"block_hash": blockHash})
	} else {
		c.emit(events.EventPrecommit, map[string]any{"block_hash": blockHash})
	}
	c.broadcastVote(v)
	c.HandleVote(v)
}
