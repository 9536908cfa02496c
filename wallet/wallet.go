package wallet

import (
	"github.com/tolelom/bftsim/codec"
	"github.com/tolelom/bftsim/crypto"
	"github.com/tolelom/bftsim/execution"
)

// Wallet holds a key pair and provides transaction-building helpers for a
// validator's own signing key. It is independent of consensus: a node's
// Controller signs votes and proposals directly with its PrivateKey, while
// Wallet is the convenience surface for building execution.Tx values (the
// transactions that go *inside* proposed blocks).
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key (used as "from" address and tx sender).
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Address returns the short human-readable address (first 20 bytes of SHA-256(pubkey)).
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// NewTx builds and signs an execution.Tx setting key to value at nonce.
// chainID must match the target chain's domain-separated signing prefix;
// nonce must be exactly one more than the sender's last applied nonce.
func (w *Wallet) NewTx(chainID, key string, value any, nonce uint64) (execution.Tx, error) {
	sender := w.pub.Hex()
	msg, err := codec.EncodeTx(codec.TxSigningPayload{
		Sender: sender,
		Key:    key,
		Value:  value,
		Nonce:  nonce,
	}, chainID)
	if err != nil {
		return execution.Tx{}, err
	}
	return execution.Tx{
		Sender:    sender,
		Key:       key,
		Value:     value,
		Nonce:     nonce,
		Signature: crypto.Sign(w.priv, msg),
	}, nil
}
