package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/bftsim/events"
	"github.com/tolelom/bftsim/indexer"
	"github.com/tolelom/bftsim/ledger"
	"github.com/tolelom/bftsim/network"
)

// Handler holds all dependencies needed to serve RPC methods against one
// node's view of a running simulation. It is read-only: nothing exposed
// here can mutate consensus, the ledger, or the network — inspection only,
// per spec §6's harness interface.
type Handler struct {
	ledger  *ledger.Ledger
	sim     *network.Simulator
	index   *indexer.HeightIndex
	chainID string
}

// NewHandler creates an RPC Handler bound to one node's ledger, the shared
// simulator (for logs), and that node's event index.
func NewHandler(lg *ledger.Ledger, sim *network.Simulator, idx *indexer.HeightIndex, chainID string) *Handler {
	return &Handler{ledger: lg, sim: sim, index: idx, chainID: chainID}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getHeight":
		return okResponse(req.ID, h.ledger.Height())

	case "getBlock":
		return h.getBlock(req)

	case "getLedger":
		return okResponse(req.ID, h.ledger.All())

	case "getLogs":
		return okResponse(req.ID, h.sim.Logs())

	case "getEventsAtHeight":
		return h.getEventsAtHeight(req)

	case "getStatus":
		return okResponse(req.ID, map[string]any{
			"chain_id": h.chainID,
			"height":   h.ledger.Height(),
			"now_ms":   h.sim.Now(),
		})

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Height int64 `json:"height"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	entry, err := h.ledger.Get(params.Height)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, entry)
}

func (h *Handler) getEventsAtHeight(req Request) Response {
	var params struct {
		Height int64 `json:"height"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	var evs []events.Event
	if h.index != nil {
		evs = h.index.ByHeight(params.Height)
	}
	return okResponse(req.ID, evs)
}
