// Package execution implements the deterministic per-node transaction
// executor and Merkle-like state-root computation that the consensus core
// treats as an external collaborator (spec §2's "out of scope" list, §8
// scenario 5). A committed block's transactions are applied in order
// against a flat key/value store with per-sender nonces for replay and
// skip protection; the resulting root is what the controller records in
// its ledger.Entry.
package execution

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tolelom/bftsim/codec"
	"github.com/tolelom/bftsim/crypto"
)

// ErrBadNonce is returned by Apply when tx.Nonce is not exactly one more
// than the sender's last-applied nonce — this rejects both replays
// (nonce <= current) and skips (nonce > current+1), per spec §8 scenario 5.
var ErrBadNonce = errors.New("execution: bad nonce")

// ErrBadSignature is returned by Apply when tx's signature does not verify
// under the TX domain for this chain.
var ErrBadSignature = errors.New("execution: bad signature")

// ErrNotOwner is returned by Apply when tx.Key does not live under the
// sender's own "<sender_hex>/" namespace — a validly signed tx from sender A
// still cannot write sender B's keys.
var ErrNotOwner = errors.New("execution: sender does not own key")

// Tx is a single state mutation: sender writes value to key, authenticated
// by a TX-domain signature and ordered by a per-sender nonce.
type Tx struct {
	Sender    string `json:"sender"`
	Key       string `json:"key"`
	Value     any    `json:"value"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

// State is a deterministic key/value store with per-sender nonces. Every key
// lives under its writer's own "<sender_hex>/" namespace (enforced by
// Apply); a sender can never mutate another sender's keys even with a
// validly signed tx. It is owned exclusively by one consensus.Controller;
// nothing outside that controller's handler path mutates it (spec §5).
type State struct {
	chainID string
	kv      map[string]any
	nonces  map[string]uint64
}

// New creates an empty State for chainID.
func New(chainID string) *State {
	return &State{chainID: chainID, kv: make(map[string]any), nonces: make(map[string]uint64)}
}

// snapshot is a deep-enough copy of State to restore on a failed block
// application — grounded on the teacher's Snapshot/RevertToSnapshot
// contract (core/state.go), adapted here to a single in-process struct
// instead of a numbered snapshot stack, since execution.State never needs
// more than one outstanding snapshot (one per in-flight ApplyBlock).
type snapshot struct {
	kv     map[string]any
	nonces map[string]uint64
}

func (s *State) snapshotNow() snapshot {
	kv := make(map[string]any, len(s.kv))
	for k, v := range s.kv {
		kv[k] = v
	}
	nonces := make(map[string]uint64, len(s.nonces))
	for k, v := range s.nonces {
		nonces[k] = v
	}
	return snapshot{kv: kv, nonces: nonces}
}

func (s *State) restore(snap snapshot) {
	s.kv = snap.kv
	s.nonces = snap.nonces
}

// Apply verifies tx's signature, nonce, and key ownership, in that order,
// and applies it only if all three pass. require_signature is always true;
// there is no unauthenticated path in this executor (unlike the reference
// implementation's optional verify_fn, which existed only for its own unit
// tests).
func (s *State) Apply(tx Tx) error {
	pub, err := crypto.PubKeyFromHex(tx.Sender)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	msg, err := codec.EncodeTx(codec.TxSigningPayload{
		Sender: tx.Sender,
		Key:    tx.Key,
		Value:  tx.Value,
		Nonce:  tx.Nonce,
	}, s.chainID)
	if err != nil {
		return fmt.Errorf("execution: encode tx: %w", err)
	}
	if err := crypto.Verify(pub, msg, tx.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	expected := s.nonces[tx.Sender] + 1
	if tx.Nonce != expected {
		return fmt.Errorf("%w: sender %s expected nonce %d, got %d", ErrBadNonce, tx.Sender, expected, tx.Nonce)
	}

	if !strings.HasPrefix(tx.Key, tx.Sender+"/") {
		return fmt.Errorf("%w: sender %s cannot touch key %q", ErrNotOwner, tx.Sender, tx.Key)
	}

	s.kv[tx.Key] = tx.Value
	s.nonces[tx.Sender] = tx.Nonce
	return nil
}

// ApplyBlock applies txs in order. If any transaction is rejected, the
// entire block's effect is rolled back (atomic-per-block, matching the
// teacher's snapshot-then-revert executor pattern) and ApplyBlock returns
// the rejecting transaction's error; the state is left exactly as it was
// before the call.
func (s *State) ApplyBlock(txs []Tx) (stateRoot string, err error) {
	snap := s.snapshotNow()
	for i, tx := range txs {
		if err := s.Apply(tx); err != nil {
			s.restore(snap)
			return "", fmt.Errorf("execution: tx %d rejected: %w", i, err)
		}
	}
	return s.ComputeStateRoot(), nil
}

// ComputeStateRoot returns the deterministic Merkle-like root over the
// state's sorted key/value pairs: each leaf is sha256(canonical([key,
// value])), and internal nodes are sha256(left || right), duplicating the
// last leaf when a level has an odd count. An empty state roots to
// sha256 of the empty byte string, ported from original_source's
// compute_state_root.
func (s *State) ComputeStateRoot() string {
	type kv struct {
		key string
		val any
	}
	items := make([]kv, 0, len(s.kv))
	for k, v := range s.kv {
		items = append(items, kv{k, v})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].key < items[j].key })

	if len(items) == 0 {
		sum := sha256.Sum256(nil)
		return hex.EncodeToString(sum[:])
	}

	leaves := make([][]byte, len(items))
	for i, it := range items {
		leafBytes, err := json.Marshal([]any{it.key, it.val})
		if err != nil {
			leafBytes = []byte(fmt.Sprintf("%q:%v", it.key, it.val))
		}
		sum := sha256.Sum256(leafBytes)
		leaves[i] = sum[:]
	}

	for len(leaves) > 1 {
		var next [][]byte
		for i := 0; i < len(leaves); i += 2 {
			left := leaves[i]
			right := left
			if i+1 < len(leaves) {
				right = leaves[i+1]
			}
			combined := append(append([]byte{}, left...), right...)
			sum := sha256.Sum256(combined)
			next = append(next, sum[:])
		}
		leaves = next
	}
	return hex.EncodeToString(leaves[0])
}

// Get returns the current value for key and whether it is set.
func (s *State) Get(key string) (any, bool) {
	v, ok := s.kv[key]
	return v, ok
}

// Nonce returns the last-applied nonce for sender (0 if none yet).
func (s *State) Nonce(sender string) uint64 {
	return s.nonces[sender]
}
