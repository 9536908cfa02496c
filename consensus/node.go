package consensus

import "github.com/tolelom/bftsim/network"

// Node adapts a Controller to network.Handler so the simulator can deliver
// envelopes to it directly. A Controller sends the same payload in a HEADER
// and a BODY. The simulator accepts a BODY only after its HEADER has been
// delivered, and a Controller sends each BODY right after its HEADER, so the
// HEADER is the copy that arrives. Payloads from both kinds are handed to the
// controller; a second copy changes nothing, since the Aggregator ignores a
// repeated vote and HandleProposal ignores a proposal once the node has left
// PROPOSE.
type Node struct {
	Controller *Controller
}

// Deliver implements network.Handler.
func (n *Node) Deliver(env network.Envelope) {
	switch env.Kind {
	case network.KindTimeout:
		if tag, ok := env.Payload.(TimeoutTag); ok {
			n.Controller.HandleTimeout(tag)
		}
	case network.KindHeader, network.KindBody:
		switch payload := env.Payload.(type) {
		case Proposal:
			n.Controller.HandleProposal(payload)
		case Vote:
			n.Controller.HandleVote(payload)
		}
	}
}
