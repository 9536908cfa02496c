// Package indexer maintains an in-memory, height-keyed index over a
// node's consensus lifecycle events, so an inspection API can answer
// "what happened at height H" without replaying network logs.
package indexer

import (
	"sync"

	"github.com/tolelom/bftsim/events"
)

// HeightIndex subscribes to every consensus event type and retains them
// grouped by height, in emission order. Unlike the teacher's LevelDB-backed
// asset index, this index has no durable backing store: its scope is one
// scenario run, matching the spec's exclusion of storage durability beyond
// the in-memory ledger.
type HeightIndex struct {
	mu       sync.RWMutex
	byHeight map[int64][]events.Event
}

// New creates a HeightIndex and subscribes it to every consensus event
// type on emitter.
func New(emitter *events.Emitter) *HeightIndex {
	idx := &HeightIndex{byHeight: make(map[int64][]events.Event)}
	for _, typ := range []events.EventType{
		events.EventProposal,
		events.EventPrevote,
		events.EventPrecommit,
		events.EventCommit,
		events.EventRoundChange,
		events.EventTimeout,
	} {
		emitter.Subscribe(typ, idx.onEvent)
	}
	return idx
}

func (idx *HeightIndex) onEvent(ev events.Event) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byHeight[ev.Height] = append(idx.byHeight[ev.Height], ev)
}

// ByHeight returns every event recorded for height, in emission order.
func (idx *HeightIndex) ByHeight(height int64) []events.Event {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]events.Event, len(idx.byHeight[height]))
	copy(out, idx.byHeight[height])
	return out
}

// Heights returns every height that has at least one recorded event, in
// no particular order.
func (idx *HeightIndex) Heights() []int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]int64, 0, len(idx.byHeight))
	for h := range idx.byHeight {
		out = append(out, h)
	}
	return out
}
