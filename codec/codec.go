// Package codec provides deterministic, domain-separated byte encodings for
// the objects that get signed or hashed: transactions, block headers, and
// votes. Equal values must encode to byte-identical output across runs and
// platforms, since the simulator's determinism guarantees depend on it.
package codec

import "encoding/json"

// CanonicalJSON marshals v to JSON with no extra whitespace. Go's
// encoding/json already emits object keys in the order struct fields are
// declared and sorts map[string]T keys lexicographically, so a fixed struct
// layout with no indentation is already canonical: no extra sorting step is
// needed on top of the standard marshaler.
func CanonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// TxSigningPayload holds the fields of a transaction that are covered by its
// signature (everything except the signature itself).
type TxSigningPayload struct {
	Sender string `json:"sender"`
	Key    string `json:"key"`
	Value  any    `json:"value"`
	Nonce  uint64 `json:"nonce"`
}

// HeaderSigningPayload holds the fields of a block header that are covered
// by its signature.
type HeaderSigningPayload struct {
	Height     int64  `json:"height"`
	Round      uint64 `json:"round"`
	ParentHash string `json:"parent_hash"`
	StateRoot  string `json:"state_root"`
	Proposer   string `json:"proposer"`
}

// VoteSigningPayload holds the fields of a vote that are covered by its
// signature.
type VoteSigningPayload struct {
	Height    int64  `json:"height"`
	Round     uint64 `json:"round"`
	Step      string `json:"step"`
	BlockHash string `json:"block_hash"`
	Voter     string `json:"voter"`
}

// EncodeTx returns the domain-separated signing bytes for a transaction:
// "TX:<chain_id>|" followed by the canonical encoding of payload.
func EncodeTx(payload TxSigningPayload, chainID string) ([]byte, error) {
	return encodeDomain("TX:", chainID, payload)
}

// EncodeHeader returns the domain-separated signing bytes for a block
// header: "HEADER:<chain_id>|" followed by the canonical encoding of
// payload.
func EncodeHeader(payload HeaderSigningPayload, chainID string) ([]byte, error) {
	return encodeDomain("HEADER:", chainID, payload)
}

// EncodeVote returns the domain-separated signing bytes for a vote:
// "VOTE:<chain_id>|" followed by the canonical encoding of payload.
func EncodeVote(payload VoteSigningPayload, chainID string) ([]byte, error) {
	return encodeDomain("VOTE:", chainID, payload)
}

func encodeDomain(prefix, chainID string, payload any) ([]byte, error) {
	body, err := CanonicalJSON(payload)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(prefix)+len(chainID)+1+len(body))
	out = append(out, prefix...)
	out = append(out, chainID...)
	out = append(out, '|')
	out = append(out, body...)
	return out, nil
}
