package wallet

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/tolelom/bftsim/execution"
)

const walletChainID = "wallet-test-chain"

func TestGenerateProducesUsableWallet(t *testing.T) {
	w, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if w.PubKey() == "" || w.Address() == "" {
		t.Fatal("expected non-empty pubkey and address")
	}
}

func TestNewTxIsAcceptedByExecutionState(t *testing.T) {
	w, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	key := w.PubKey() + "/k"
	tx, err := w.NewTx(walletChainID, key, "v", 1)
	if err != nil {
		t.Fatalf("NewTx: %v", err)
	}
	if tx.Sender != w.PubKey() {
		t.Fatalf("tx sender %q does not match wallet pubkey %q", tx.Sender, w.PubKey())
	}

	s := execution.New(walletChainID)
	if err := s.Apply(tx); err != nil {
		t.Fatalf("execution.State rejected a wallet-signed tx: %v", err)
	}
	v, ok := s.Get(key)
	if !ok || v != "v" {
		t.Fatalf("expected k=v after apply, got %v, %v", v, ok)
	}
}

func TestNewTxSecondNonceRejectedWithoutFirst(t *testing.T) {
	w, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	tx, err := w.NewTx(walletChainID, w.PubKey()+"/k", "v", 2)
	if err != nil {
		t.Fatalf("NewTx: %v", err)
	}
	s := execution.New(walletChainID)
	if err := s.Apply(tx); err == nil {
		t.Fatal("expected execution.State to reject a tx starting at nonce 2")
	}
}

func TestNewTxRejectedOutsideOwnNamespace(t *testing.T) {
	w, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	tx, err := w.NewTx(walletChainID, "someone-else/k", "v", 1)
	if err != nil {
		t.Fatalf("NewTx: %v", err)
	}
	s := execution.New(walletChainID)
	if err := s.Apply(tx); !errors.Is(err, execution.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner for a key outside the wallet's own namespace, got %v", err)
	}
}

func TestSaveLoadKeyRoundTrip(t *testing.T) {
	w, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "key.json")

	if err := SaveKey(path, "correct horse battery staple", w.PrivKey()); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	loaded, err := LoadKey(path, "correct horse battery staple")
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if New(loaded).PubKey() != w.PubKey() {
		t.Fatal("round-tripped key does not match original")
	}
}

func TestLoadKeyRejectsWrongPassword(t *testing.T) {
	w, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "key.json")
	if err := SaveKey(path, "right-password", w.PrivKey()); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	if _, err := LoadKey(path, "wrong-password"); err == nil {
		t.Fatal("expected LoadKey to fail with the wrong password")
	}
}
