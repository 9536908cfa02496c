package network

// Kind distinguishes the two wire phases of a message (spec §4.3): a small
// HEADER that announces a message is coming, and the BODY that carries the
// actual payload. Headers are always scheduled to arrive no later than
// their body, so a receiver can observe "something is arriving" before it
// observes the content.
type Kind string

const (
	KindHeader  Kind = "HEADER"
	KindBody    Kind = "BODY"
	KindTimeout Kind = "TIMEOUT"
)

// Envelope is one scheduled delivery: either a HEADER/BODY pair exchanged
// between two nodes, or a TIMEOUT self-delivery a node scheduled for
// itself. Payload is opaque to the simulator — it is whatever the caller
// handed to Send/ScheduleTimeout, round-tripped unchanged to the
// destination's Handler. The simulator never inspects consensus semantics.
type Envelope struct {
	Kind     Kind
	HeaderID string
	Height   int64
	Sender   string
	Receiver string
	Payload  any
}

// Handler receives envelopes delivered to one node. Deliver is called
// synchronously from within Simulator.RunUntilIdle / Simulator.AdvanceTime;
// it must not block or spawn goroutines, since the whole simulation is
// single-threaded and deterministic by construction (spec §5).
type Handler interface {
	Deliver(env Envelope)
}
