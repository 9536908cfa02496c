package consensus

import (
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/tolelom/bftsim/codec"
	"github.com/tolelom/bftsim/crypto"
)

const votesChainID = "votes-test-chain"

func voteKeyFor(t *testing.T, label string) crypto.PrivateKey {
	t.Helper()
	var seed [ed25519.SeedSize]byte
	copy(seed[:], label)
	priv, _ := crypto.KeyFromSeed(seed)
	return priv
}

func signVote(t *testing.T, priv crypto.PrivateKey, height int64, round uint64, step Step, blockHash string) Vote {
	t.Helper()
	voter := priv.Public().Hex()
	msg, err := codec.EncodeVote(codec.VoteSigningPayload{
		Height: height, Round: round, Step: string(step), BlockHash: blockHash, Voter: voter,
	}, votesChainID)
	if err != nil {
		t.Fatal(err)
	}
	return Vote{Height: height, Round: round, Step: step, BlockHash: blockHash, Voter: voter, Signature: crypto.Sign(priv, msg)}
}

func TestAggregatorSignalsExactlyOnceAtThreshold(t *testing.T) {
	agg := NewAggregator(votesChainID, 3)
	voters := []crypto.PrivateKey{
		voteKeyFor(t, "voter-a"),
		voteKeyFor(t, "voter-b"),
		voteKeyFor(t, "voter-c"),
		voteKeyFor(t, "voter-d"),
	}

	signals := 0
	for _, v := range voters {
		vote := signVote(t, v, 1, 0, StepPrevote, "blockhash1")
		signal, err := agg.Record(vote)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if signal != nil {
			signals++
		}
	}
	if signals != 1 {
		t.Fatalf("expected exactly one quorum signal across %d voters at threshold 3, got %d", len(voters), signals)
	}
}

func TestAggregatorDedupesRepeatedVoter(t *testing.T) {
	agg := NewAggregator(votesChainID, 2)
	priv := voteKeyFor(t, "dup-voter")
	vote := signVote(t, priv, 1, 0, StepPrecommit, "blockhash1")

	if _, err := agg.Record(vote); err != nil {
		t.Fatal(err)
	}
	if _, err := agg.Record(vote); err != nil {
		t.Fatal(err)
	}
	key := VoteKey{Height: 1, Round: 0, Step: StepPrecommit, BlockHash: "blockhash1"}
	if got := agg.Count(key); got != 1 {
		t.Fatalf("expected the repeated vote to be deduped, count = %d", got)
	}
}

func TestAggregatorRejectsInvalidSignature(t *testing.T) {
	agg := NewAggregator(votesChainID, 1)
	priv := voteKeyFor(t, "tamper-voter")
	vote := signVote(t, priv, 1, 0, StepPrevote, "blockhash1")
	vote.BlockHash = "blockhash2" // mutate after signing

	if _, err := agg.Record(vote); !errors.Is(err, ErrInvalidVoteSignature) {
		t.Fatalf("expected ErrInvalidVoteSignature, got %v", err)
	}
}

func TestAggregatorKeepsVotesSeparatePerKey(t *testing.T) {
	agg := NewAggregator(votesChainID, 2)
	priv := voteKeyFor(t, "separate-voter")
	prevote := signVote(t, priv, 1, 0, StepPrevote, "blockhash1")
	precommit := signVote(t, priv, 1, 0, StepPrecommit, "blockhash1")

	if _, err := agg.Record(prevote); err != nil {
		t.Fatal(err)
	}
	if _, err := agg.Record(precommit); err != nil {
		t.Fatal(err)
	}
	if agg.Count(VoteKey{Height: 1, Round: 0, Step: StepPrevote, BlockHash: "blockhash1"}) != 1 {
		t.Fatal("expected the prevote tally to be unaffected by the precommit vote")
	}
}
