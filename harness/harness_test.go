package harness

import (
	"testing"

	"github.com/tolelom/bftsim/network"
)

func TestFourNodeHappyPathReachesAgreement(t *testing.T) {
	cfg := network.DefaultConfig()
	h, err := New("happy-path-chain", 4, 1, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.Start()
	if !h.RunUntilHeight(1, 200_000) {
		t.Fatalf("scenario did not reach height 1; heights = %v", h.Heights())
	}

	hashes := h.CommittedHashes(1)
	if len(hashes) != 4 {
		t.Fatalf("expected all 4 nodes to commit height 1, got %d", len(hashes))
	}
	var want string
	first := true
	for id, hash := range hashes {
		if first {
			want = hash
			first = false
			continue
		}
		if hash != want {
			t.Fatalf("node %s committed a different hash at height 1: got %q want %q", id, hash, want)
		}
	}
}

func TestEightNodeHappyPathReachesAgreement(t *testing.T) {
	h, err := New("eight-node-chain", 8, 2, network.DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.Start()
	if !h.RunUntilHeight(2, 500_000) {
		t.Fatalf("scenario did not reach height 2; heights = %v", h.Heights())
	}

	for height := int64(1); height <= 2; height++ {
		hashes := h.CommittedHashes(height)
		if len(hashes) != 8 {
			t.Fatalf("height %d: expected 8 commits, got %d", height, len(hashes))
		}
		var want string
		first := true
		for id, hash := range hashes {
			if first {
				want = hash
				first = false
				continue
			}
			if hash != want {
				t.Fatalf("height %d: node %s diverged: got %q want %q", height, id, hash, want)
			}
		}
	}
}

func TestHarnessIsDeterministicAcrossRuns(t *testing.T) {
	run := func() (map[string]int64, map[string]string) {
		h, err := New("determinism-chain", 4, 99, network.DefaultConfig())
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		h.Start()
		h.RunUntilHeight(1, 200_000)
		return h.Heights(), h.CommittedHashes(1)
	}

	heights1, hashes1 := run()
	heights2, hashes2 := run()

	for id, h1 := range heights1 {
		if heights2[id] != h1 {
			t.Fatalf("node %s height diverged across identical runs: %d vs %d", id, h1, heights2[id])
		}
	}
	for id, hash1 := range hashes1 {
		if hashes2[id] != hash1 {
			t.Fatalf("node %s committed hash diverged across identical runs: %q vs %q", id, hash1, hashes2[id])
		}
	}
}

// Under packet loss a node can fall behind (a dropped proposal envelope leaves
// it without the block content it would need to commit, with no retry
// mechanism in this design), so this test does not require every node to
// reach height 1 — only that whichever nodes DO commit it agree on the hash
// (spec §8's Agreement property binds non-faulty nodes that commit, not
// every node unconditionally).
func TestLossyNetworkNeverDisagreesAmongNodesThatCommit(t *testing.T) {
	cfg := network.DefaultConfig()
	cfg.DropRate = 0.1
	cfg.DuplicateRate = 0.05
	h, err := New("lossy-chain", 4, 5, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.Start()
	h.RunUntilHeight(1, 2_000_000)

	hashes := h.CommittedHashes(1)
	var want string
	first := true
	for id, hash := range hashes {
		if first {
			want = hash
			first = false
			continue
		}
		if hash != want {
			t.Fatalf("node %s committed a different hash under packet loss: got %q want %q", id, hash, want)
		}
	}
}
