package execution

import (
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/tolelom/bftsim/codec"
	"github.com/tolelom/bftsim/crypto"
)

const testChainID = "test-chain"

// signedTx signs a tx writing localKey under sender's own namespace
// ("<sender_hex>/<localKey>"), matching what Apply's ownership check
// requires.
func signedTx(t *testing.T, priv crypto.PrivateKey, localKey string, value any, nonce uint64) Tx {
	t.Helper()
	sender := priv.Public().Hex()
	key := sender + "/" + localKey
	msg, err := codec.EncodeTx(codec.TxSigningPayload{Sender: sender, Key: key, Value: value, Nonce: nonce}, testChainID)
	if err != nil {
		t.Fatal(err)
	}
	return Tx{Sender: sender, Key: key, Value: value, Nonce: nonce, Signature: crypto.Sign(priv, msg)}
}

func fullKey(priv crypto.PrivateKey, localKey string) string {
	return priv.Public().Hex() + "/" + localKey
}

func testKey(t *testing.T, label string) crypto.PrivateKey {
	t.Helper()
	var seed [ed25519.SeedSize]byte
	copy(seed[:], label)
	priv, _ := crypto.KeyFromSeed(seed)
	return priv
}

func TestApplyAcceptsFirstNonce(t *testing.T) {
	priv := testKey(t, "sender-one")
	s := New(testChainID)
	tx := signedTx(t, priv, "k", "v", 1)
	if err := s.Apply(tx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok := s.Get(fullKey(priv, "k"))
	if !ok || v != "v" {
		t.Fatalf("expected k=v, got %v, %v", v, ok)
	}
}

func TestApplyRejectsReplayedNonce(t *testing.T) {
	priv := testKey(t, "sender-two")
	s := New(testChainID)
	tx := signedTx(t, priv, "k", "v1", 1)
	if err := s.Apply(tx); err != nil {
		t.Fatal(err)
	}
	replay := signedTx(t, priv, "k", "v2", 1)
	if err := s.Apply(replay); !errors.Is(err, ErrBadNonce) {
		t.Fatalf("expected ErrBadNonce on replay, got %v", err)
	}
}

func TestApplyRejectsSkippedNonce(t *testing.T) {
	priv := testKey(t, "sender-three")
	s := New(testChainID)
	tx := signedTx(t, priv, "k", "v", 3)
	if err := s.Apply(tx); !errors.Is(err, ErrBadNonce) {
		t.Fatalf("expected ErrBadNonce skipping straight to nonce 3, got %v", err)
	}
}

func TestApplyRejectsBadSignature(t *testing.T) {
	priv := testKey(t, "sender-four")
	s := New(testChainID)
	tx := signedTx(t, priv, "k", "v", 1)
	tx.Value = "tampered-after-signing"
	if err := s.Apply(tx); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature on tampered tx, got %v", err)
	}
}

func TestApplyRejectsKeyOutsideSenderNamespace(t *testing.T) {
	senderPriv := testKey(t, "sender-owner")
	otherPriv := testKey(t, "sender-victim")
	sender := senderPriv.Public().Hex()

	// tx is validly signed by sender but targets a key under otherPriv's
	// namespace instead of its own.
	key := otherPriv.Public().Hex() + "/balance"
	msg, err := codec.EncodeTx(codec.TxSigningPayload{Sender: sender, Key: key, Value: "stolen", Nonce: 1}, testChainID)
	if err != nil {
		t.Fatal(err)
	}
	tx := Tx{Sender: sender, Key: key, Value: "stolen", Nonce: 1, Signature: crypto.Sign(senderPriv, msg)}

	s := New(testChainID)
	if err := s.Apply(tx); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner writing another sender's namespace, got %v", err)
	}
	if _, set := s.Get(key); set {
		t.Fatal("expected the ownership violation to leave the key unset")
	}
}

func TestApplyBlockRollsBackOnFailure(t *testing.T) {
	priv := testKey(t, "sender-five")
	s := New(testChainID)
	ok := signedTx(t, priv, "a", "1", 1)
	bad := signedTx(t, priv, "b", "2", 5) // wrong nonce, should fail and roll back the whole block

	_, err := s.ApplyBlock([]Tx{ok, bad})
	if err == nil {
		t.Fatal("expected ApplyBlock to fail")
	}
	if _, set := s.Get(fullKey(priv, "a")); set {
		t.Fatal("expected block-level rollback to undo the first transaction's effect too")
	}
	if s.Nonce(priv.Public().Hex()) != 0 {
		t.Fatal("expected nonce to be rolled back to 0")
	}
}

func TestComputeStateRootDeterministicAndOrderIndependent(t *testing.T) {
	privA := testKey(t, "root-sender-a")
	privB := testKey(t, "root-sender-b")

	s1 := New(testChainID)
	s1.Apply(signedTx(t, privA, "a", 1, 1))
	s1.Apply(signedTx(t, privB, "b", 2, 1))

	s2 := New(testChainID)
	s2.Apply(signedTx(t, privB, "b", 2, 1))
	s2.Apply(signedTx(t, privA, "a", 1, 1))

	if s1.ComputeStateRoot() != s2.ComputeStateRoot() {
		t.Fatal("state root must not depend on application order, only on final kv contents")
	}
}

func TestComputeStateRootEmpty(t *testing.T) {
	s := New(testChainID)
	root := s.ComputeStateRoot()
	if root == "" {
		t.Fatal("expected a non-empty root even for empty state")
	}
	s2 := New(testChainID)
	if root != s2.ComputeStateRoot() {
		t.Fatal("two empty states must produce the same root")
	}
}
