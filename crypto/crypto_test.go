package crypto

import (
	"crypto/ed25519"
	"testing"
)

func TestKeyFromSeedDeterministic(t *testing.T) {
	var seed [ed25519.SeedSize]byte
	copy(seed[:], []byte("deterministic-validator-seed-01"))

	priv1, pub1 := KeyFromSeed(seed)
	priv2, pub2 := KeyFromSeed(seed)

	if priv1.Hex() != priv2.Hex() {
		t.Fatal("same seed produced different private keys")
	}
	if pub1.Hex() != pub2.Hex() {
		t.Fatal("same seed produced different public keys")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	var seed [ed25519.SeedSize]byte
	copy(seed[:], []byte("node-0-seed"))
	priv, pub := KeyFromSeed(seed)

	msg := []byte("VOTE:chain-1|{}")
	sig := Sign(priv, msg)
	if err := Verify(pub, msg, sig); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := Verify(pub, []byte("tampered"), sig); err == nil {
		t.Fatal("tampered message should fail verification")
	}
}

func TestPubKeyFromHexRoundTrip(t *testing.T) {
	var seed [ed25519.SeedSize]byte
	copy(seed[:], []byte("node-1-seed"))
	_, pub := KeyFromSeed(seed)

	decoded, err := PubKeyFromHex(pub.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Hex() != pub.Hex() {
		t.Fatal("round-tripped pubkey does not match")
	}
}
