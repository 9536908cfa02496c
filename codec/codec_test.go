package codec

import (
	"bytes"
	"testing"
)

func TestEncodeVoteDeterministic(t *testing.T) {
	v := VoteSigningPayload{Height: 1, Round: 0, Step: "PREVOTE", BlockHash: "abc", Voter: "node0"}
	a, err := EncodeVote(v, "chain-1")
	if err != nil {
		t.Fatalf("EncodeVote: %v", err)
	}
	b, err := EncodeVote(v, "chain-1")
	if err != nil {
		t.Fatalf("EncodeVote: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("encoding the same vote twice produced different bytes")
	}
	if !bytes.HasPrefix(a, []byte("VOTE:chain-1|")) {
		t.Fatalf("missing domain prefix: %q", a)
	}
}

func TestDomainSeparation(t *testing.T) {
	vote := VoteSigningPayload{Height: 1, Round: 0, Step: "PREVOTE", BlockHash: "abc", Voter: "node0"}
	header := HeaderSigningPayload{Height: 1, Round: 0, ParentHash: "p", StateRoot: "s", Proposer: "node0"}

	voteBytes, err := EncodeVote(vote, "chain-1")
	if err != nil {
		t.Fatal(err)
	}
	headerBytes, err := EncodeHeader(header, "chain-1")
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(voteBytes, headerBytes) {
		t.Fatal("vote and header encodings must never collide")
	}
	if bytes.HasPrefix(voteBytes, []byte("HEADER:")) || bytes.HasPrefix(headerBytes, []byte("VOTE:")) {
		t.Fatal("domain prefixes must not be interchangeable")
	}
}

func TestCanonicalJSONKeyOrderStable(t *testing.T) {
	m1 := map[string]int{"b": 2, "a": 1, "c": 3}
	out, err := CanonicalJSON(m1)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"a":1,"b":2,"c":3}` {
		t.Fatalf("expected sorted keys, got %s", out)
	}
}
