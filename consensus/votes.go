package consensus

import (
	"errors"
	"fmt"

	"github.com/tolelom/bftsim/codec"
	"github.com/tolelom/bftsim/crypto"
)

// ErrInvalidVoteSignature is the "protocol violation" outcome of Record: the
// vote is dropped, no state changes, and the caller should log it at debug
// level (spec §7) rather than propagate it further.
var ErrInvalidVoteSignature = errors.New("consensus: invalid vote signature")

// VoteKey identifies one quorum-counting bucket: a (height, round, step,
// block hash) tuple. Spec §9 calls out nested maps as a zero-initialization
// hazard ("dictionary-of-dictionaries"); this flat key avoids that.
type VoteKey struct {
	Height    int64
	Round     uint64
	Step      Step
	BlockHash string
}

// QuorumSignal is emitted at most once per VoteKey, the instant its tally
// first reaches the Byzantine threshold.
type QuorumSignal struct {
	Height    int64
	Round     uint64
	Step      Step
	BlockHash string
}

// Aggregator tallies votes per VoteKey and reports quorum transitions
// exactly once (spec §4.4). It retains every vote it has ever accepted —
// including for keys that already reached quorum — to support late-arriving
// evidence, per spec §3.
type Aggregator struct {
	chainID   string
	threshold int
	votes     map[VoteKey]map[string]struct{}
	signaled  map[VoteKey]bool
}

// NewAggregator creates an Aggregator for chainID (used to reconstruct the
// VOTE domain-signing bytes) with the given quorum threshold. The harness
// must use the same threshold here as every controller's Threshold(N), per
// spec §4.6.
func NewAggregator(chainID string, threshold int) *Aggregator {
	return &Aggregator{
		chainID:   chainID,
		threshold: threshold,
		votes:     make(map[VoteKey]map[string]struct{}),
		signaled:  make(map[VoteKey]bool),
	}
}

// Record verifies vote's signature, inserts it (idempotently) into its
// tally, and returns a QuorumSignal the first and only time that tally
// reaches the quorum threshold. A vote whose signature does not verify
// under the VOTE domain is dropped: Record returns (nil,
// ErrInvalidVoteSignature) and the tally is unchanged.
func (a *Aggregator) Record(vote Vote) (*QuorumSignal, error) {
	pub, err := crypto.PubKeyFromHex(vote.Voter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVoteSignature, err)
	}
	msg, err := codec.EncodeVote(codec.VoteSigningPayload{
		Height:    vote.Height,
		Round:     vote.Round,
		Step:      string(vote.Step),
		BlockHash: vote.BlockHash,
		Voter:     vote.Voter,
	}, a.chainID)
	if err != nil {
		return nil, fmt.Errorf("consensus: encode vote for verification: %w", err)
	}
	if err := crypto.Verify(pub, msg, vote.Signature); err != nil {
		return nil, ErrInvalidVoteSignature
	}

	key := VoteKey{Height: vote.Height, Round: vote.Round, Step: vote.Step, BlockHash: vote.BlockHash}
	voters, ok := a.votes[key]
	if !ok {
		voters = make(map[string]struct{})
		a.votes[key] = voters
	}
	if _, dup := voters[vote.Voter]; dup {
		return nil, nil // idempotent replay, no state change, no signal
	}
	voters[vote.Voter] = struct{}{}

	if len(voters) != a.threshold || a.signaled[key] {
		return nil, nil
	}
	a.signaled[key] = true
	return &QuorumSignal{Height: key.Height, Round: key.Round, Step: key.Step, BlockHash: key.BlockHash}, nil
}

// Count returns the current number of distinct voters for key, for tests
// and diagnostics.
func (a *Aggregator) Count(key VoteKey) int {
	return len(a.votes[key])
}
