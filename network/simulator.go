package network

import (
	"container/heap"
	"encoding/json"
	"math/rand"
)

// LogEntry is one structured, JSON-lines-serializable event emitted by the
// simulator: drops, scheduling, delivery, blocking, and backpressure all
// produce one of these. Field names match original_source's _log_event so
// scenario logs can be diffed against the reference implementation.
type LogEntry struct {
	TimeMs  int64          `json:"time_ms"`
	Event   string         `json:"event"`
	From    string         `json:"from"`
	To      string         `json:"to"`
	Height  *int64         `json:"height"`
	Details map[string]any `json:"details"`
}

type link struct {
	Sender   string
	Receiver string
}

type scheduledItem struct {
	deliverAt int64
	msgID     int64
	env       Envelope
	sizeBytes int
}

// eventHeap is a min-heap ordered by (deliverAt, msgID), matching Python's
// dataclass(order=True) tie-break on ScheduledMessage.
type eventHeap []*scheduledItem

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].deliverAt != h[j].deliverAt {
		return h[i].deliverAt < h[j].deliverAt
	}
	return h[i].msgID < h[j].msgID
}
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)        { *h = append(*h, x.(*scheduledItem)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Simulator is a deterministic, single-threaded, virtual-time network: no
// goroutines, no real sockets, no wall-clock reads. Every source of
// nondeterminism (delay jitter, drop, duplication) is drawn from one seeded
// rng owned exclusively by the Simulator, so two runs built from the same
// seed and the same sequence of calls produce byte-identical logs (spec
// §5). Ported field-for-field from original_source's NetworkSimulator.
type Simulator struct {
	config Config
	rng    *rand.Rand

	handlers map[string]Handler
	nowMs    int64

	queue      eventHeap
	nextMsgID  int64
	logs       []LogEntry

	inflightCount     map[string]int
	inflightLink      map[link]int
	inflightBytesLink map[link]int
	seenHeaders       map[headerKey]bool

	allowedEdges    map[link]bool
	hasTopology     bool
	blockedLinks    map[link]bool
	autoBlockedUntil map[link]int64

	pendingLink        map[link][]*scheduledItem
	linkNextAvailable  map[link]int64
	linkProfile        map[link]LinkProfile
	linkSendTimes      map[link][]int64
}

type headerKey struct {
	Receiver string
	HeaderID string
}

// NewSimulator creates a Simulator seeded for reproducibility. cfg is
// copied; zero-valued fields behave like Python's dataclass defaults only
// if the caller passes DefaultConfig() — an explicit zero Config means
// zero drop rate, zero jitter, etc., same as constructing NetworkConfig()
// with all-default kwargs in the reference implementation would not be:
// callers should pass DefaultConfig() unless they intend every knob unset.
func NewSimulator(seed int64, cfg Config) *Simulator {
	return &Simulator{
		config:            cfg,
		rng:               rand.New(rand.NewSource(seed)),
		handlers:          make(map[string]Handler),
		nextMsgID:         1,
		inflightCount:     make(map[string]int),
		inflightLink:      make(map[link]int),
		inflightBytesLink: make(map[link]int),
		seenHeaders:       make(map[headerKey]bool),
		blockedLinks:      make(map[link]bool),
		autoBlockedUntil:  make(map[link]int64),
		pendingLink:       make(map[link][]*scheduledItem),
		linkNextAvailable: make(map[link]int64),
		linkProfile:       make(map[link]LinkProfile),
		linkSendTimes:     make(map[link][]int64),
	}
}

// Register attaches a node's Handler so it can receive envelopes.
func (s *Simulator) Register(nodeID string, h Handler) {
	s.handlers[nodeID] = h
	if _, ok := s.inflightCount[nodeID]; !ok {
		s.inflightCount[nodeID] = 0
	}
}

// LoadTopology restricts delivery to the given directed edges. Without a
// call to LoadTopology or LoadTopologyFile the network is fully connected.
func (s *Simulator) LoadTopology(edges []Edge) {
	allowed := make(map[link]bool, len(edges))
	for _, e := range edges {
		allowed[link{e.Sender, e.Receiver}] = true
	}
	s.allowedEdges = allowed
	s.hasTopology = true
}

// LoadTopologyFile loads and applies a topology file (see LoadTopologyFile
// in topology.go for format).
func (s *Simulator) LoadTopologyFile(path string) error {
	edges, err := LoadTopologyFile(path)
	if err != nil {
		return err
	}
	s.LoadTopology(edges)
	return nil
}

// LoadLinkProfileFile loads per-link overrides from a file (see
// LoadLinkProfileFile in topology.go for format).
func (s *Simulator) LoadLinkProfileFile(path string) error {
	profiles, err := LoadLinkProfileFile(path)
	if err != nil {
		return err
	}
	for e, p := range profiles {
		s.linkProfile[link{e.Sender, e.Receiver}] = p
	}
	return nil
}

// BlockLink makes every enqueue on (sender, receiver) drop until Unblock.
func (s *Simulator) BlockLink(sender, receiver string) {
	s.blockedLinks[link{sender, receiver}] = true
	s.logEvent("block_link", sender, receiver, nil, map[string]any{})
}

// UnblockLink lifts a BlockLink.
func (s *Simulator) UnblockLink(sender, receiver string) {
	delete(s.blockedLinks, link{sender, receiver})
	s.logEvent("unblock_link", sender, receiver, nil, map[string]any{})
}

// SendHeader enqueues a HEADER envelope. A body for the same header_id is
// only accepted by the receiver after its header has been delivered.
func (s *Simulator) SendHeader(sender, receiver, headerID string, height int64, payload any) {
	env := Envelope{Kind: KindHeader, HeaderID: headerID, Height: height, Sender: sender, Receiver: receiver, Payload: payload}
	s.enqueue(env)
}

// SendBody enqueues a BODY envelope. It is dropped (logged as
// body_rejected_missing_header) if this receiver has not yet seen the
// matching header.
func (s *Simulator) SendBody(sender, receiver, headerID string, height int64, payload any) {
	key := headerKey{Receiver: receiver, HeaderID: headerID}
	if !s.seenHeaders[key] {
		h := height
		s.logEvent("body_rejected_missing_header", sender, receiver, &h, map[string]any{"header_id": headerID})
		return
	}
	env := Envelope{Kind: KindBody, HeaderID: headerID, Height: height, Sender: sender, Receiver: receiver, Payload: payload}
	s.enqueue(env)
}

// ScheduleTimeout schedules a self-delivery to nodeID after delayMs virtual
// milliseconds, carrying tag as the envelope payload. Timeouts share the
// same delivery heap and tick loop as ordinary messages (so their ordering
// relative to in-flight envelopes is deterministic and total-ordered by
// msg_id), but bypass topology/drop/bandwidth/backpressure entirely: they
// are not network traffic, they are a node's own clock.
func (s *Simulator) ScheduleTimeout(nodeID string, delayMs int64, tag any) {
	env := Envelope{Kind: KindTimeout, Sender: nodeID, Receiver: nodeID, Payload: tag}
	msgID := s.nextMsgID
	s.nextMsgID++
	item := &scheduledItem{deliverAt: s.nowMs + delayMs, msgID: msgID, env: env}
	heap.Push(&s.queue, item)
	s.logEvent("schedule_timeout", nodeID, nodeID, nil, map[string]any{
		"msg_id": msgID, "deliver_at": item.deliverAt, "delay_ms": delayMs,
	})
}

// Tick delivers every message whose delivery time is <= the current clock
// and returns how many were delivered.
func (s *Simulator) Tick() int {
	delivered := 0
	for s.queue.Len() > 0 && s.queue[0].deliverAt <= s.nowMs {
		item := heap.Pop(&s.queue).(*scheduledItem)
		env := item.env

		if env.Kind != KindTimeout {
			s.inflightCount[env.Sender] = max0(s.inflightCount[env.Sender] - 1)
			lk := link{env.Sender, env.Receiver}
			s.inflightLink[lk] = max0(s.inflightLink[lk] - 1)
			s.inflightBytesLink[lk] = max0(s.inflightBytesLink[lk] - item.sizeBytes)

			if env.Kind == KindHeader {
				s.seenHeaders[headerKey{Receiver: env.Receiver, HeaderID: env.HeaderID}] = true
			}

			s.deliver(env)
			s.drainPendingLink(lk)
		} else {
			s.deliver(env)
		}
		delivered++
	}
	return delivered
}

// AdvanceTime moves the virtual clock forward by deltaMs and delivers
// whatever becomes due.
func (s *Simulator) AdvanceTime(deltaMs int64) int {
	s.nowMs += deltaMs
	return s.Tick()
}

// RunUntilIdle jumps the clock from due time to due time until the queue is
// empty, delivering everything along the way. Used to drain a scenario to
// completion once no more external input will be injected. Because
// consensus is unbounded (a commit immediately starts the next round), this
// only terminates for scenarios with a built-in stopping condition; callers
// that need to stop at a target height should use StepOnce in a loop
// instead.
func (s *Simulator) RunUntilIdle() int {
	delivered := 0
	for s.queue.Len() > 0 {
		s.nowMs = s.queue[0].deliverAt
		delivered += s.Tick()
	}
	return delivered
}

// StepOnce jumps the clock to the next scheduled event's due time and
// delivers everything due at that time, returning how many envelopes were
// delivered (0 if the queue is empty). Unlike RunUntilIdle, one call
// advances the scenario by exactly one virtual-time instant, letting a
// caller check a stopping condition (e.g. a target commit height) between
// steps.
func (s *Simulator) StepOnce() int {
	if s.queue.Len() == 0 {
		return 0
	}
	s.nowMs = s.queue[0].deliverAt
	return s.Tick()
}

// Now returns the current virtual clock in milliseconds.
func (s *Simulator) Now() int64 { return s.nowMs }

// Logs returns every event logged so far, in emission order.
func (s *Simulator) Logs() []LogEntry {
	out := make([]LogEntry, len(s.logs))
	copy(out, s.logs)
	return out
}

// --- internal pipeline -------------------------------------------------

func (s *Simulator) enqueue(env Envelope) {
	sizeBytes := estimateSize(env)
	s.maybeAutoUnblock(env.Sender, env.Receiver)

	height := env.Height
	if _, ok := s.handlers[env.Receiver]; !ok {
		s.logEvent("drop_no_receiver", env.Sender, env.Receiver, &height, envelopeDetails(env))
		return
	}

	lk := link{env.Sender, env.Receiver}
	if s.hasTopology && !s.allowedEdges[lk] {
		s.logEvent("drop_disconnected", env.Sender, env.Receiver, &height, envelopeDetails(env))
		return
	}

	if s.isBlocked(env.Sender, env.Receiver) {
		s.logEvent("drop_blocked_link", env.Sender, env.Receiver, &height, envelopeDetails(env))
		return
	}

	inflight := s.inflightCount[env.Sender]
	if inflight >= s.config.MaxInflightPerSender {
		s.logEvent("drop_rate_limit_sender", env.Sender, env.Receiver, &height, envelopeDetails(env))
		return
	}

	inflightLink := s.inflightLink[lk]
	if inflightLink >= s.config.MaxInflightPerLink {
		s.logEvent("drop_rate_limit_link", env.Sender, env.Receiver, &height, envelopeDetails(env))
		return
	}

	inflightBytes := s.inflightBytesLink[lk]
	if inflightBytes+sizeBytes > s.config.MaxBytesInflightPerLink {
		q := s.pendingLink[lk]
		item := &scheduledItem{env: env, sizeBytes: sizeBytes}
		q = append(q, item)
		s.pendingLink[lk] = q
		s.logEvent("backpressure_queue", env.Sender, env.Receiver, &height, map[string]any{
			"queued_size": sizeBytes, "queue_len": len(q), "inflight_bytes": inflightBytes,
		})
		return
	}

	if inflightLink+1 >= s.config.AutoBlockInflightThreshold {
		until := s.nowMs + s.config.AutoBlockDurationMs
		s.autoBlockedUntil[lk] = until
		s.logEvent("auto_block_link", env.Sender, env.Receiver, &height, map[string]any{
			"inflight": inflightLink, "block_until": until,
		})
		return
	}

	if s.isRateOverflow(lk) {
		until := s.nowMs + s.config.AutoBlockDurationMs
		s.autoBlockedUntil[lk] = until
		s.logEvent("auto_block_link_rate", env.Sender, env.Receiver, &height, map[string]any{
			"block_until": until, "window_ms": s.config.RateWindowMs, "max_msgs": s.config.MaxMsgsPerLinkPerWindow,
		})
		return
	}

	dropRate := s.linkDropRate(lk)
	if s.rng.Float64() < dropRate {
		s.logEvent("drop_random", env.Sender, env.Receiver, &height, envelopeDetails(env))
		return
	}

	s.scheduleEnvelope(env, sizeBytes, inflight, inflightLink)
}

func (s *Simulator) scheduleEnvelope(env Envelope, sizeBytes, inflightSender, inflightLink int) {
	lk := link{env.Sender, env.Receiver}
	params := s.linkParams(lk)

	startTime := s.nowMs
	if next, ok := s.linkNextAvailable[lk]; ok && next > startTime {
		startTime = next
	}
	bandwidth := params.bandwidth
	if bandwidth <= 0 {
		bandwidth = 1
	}
	txTime := int64((sizeBytes + bandwidth - 1) / bandwidth)
	if txTime < 1 {
		txTime = 1
	}
	s.linkNextAvailable[lk] = startTime + txTime

	delay := int64(params.baseDelay) + randInt63n(s.rng, int64(params.jitter))
	deliverAt := startTime + delay
	msgID := s.nextMsgID
	s.nextMsgID++

	s.inflightCount[env.Sender] = inflightSender + 1
	s.inflightLink[lk] = inflightLink + 1
	s.inflightBytesLink[lk] = s.inflightBytesLink[lk] + sizeBytes

	item := &scheduledItem{deliverAt: deliverAt, msgID: msgID, env: env, sizeBytes: sizeBytes}
	heap.Push(&s.queue, item)

	height := env.Height
	s.logEvent("delay_scheduled", env.Sender, env.Receiver, &height, map[string]any{
		"msg_id": msgID, "deliver_at": deliverAt, "start_time_ms": startTime, "delay_ms": delay,
	})
	s.logEvent("send", env.Sender, env.Receiver, &height, map[string]any{
		"msg_id": msgID, "delay_ms": delay, "tx_time_ms": txTime, "start_time_ms": startTime,
		"size_bytes": sizeBytes, "envelope": envelopeDetails(env),
	})

	if s.rng.Float64() < s.config.DuplicateRate {
		dupDelay := delay + randInt63n(s.rng, int64(s.config.JitterMs))
		dupID := s.nextMsgID
		s.nextMsgID++
		dup := &scheduledItem{deliverAt: s.nowMs + dupDelay, msgID: dupID, env: env, sizeBytes: sizeBytes}
		heap.Push(&s.queue, dup)
		s.inflightCount[env.Sender]++
		s.inflightLink[lk] = s.inflightLink[lk] + 1
		s.inflightBytesLink[lk] = s.inflightBytesLink[lk] + sizeBytes
		s.logEvent("duplicate", env.Sender, env.Receiver, &height, map[string]any{
			"orig_msg_id": msgID, "dup_msg_id": dupID, "extra_delay_ms": dupDelay - delay,
		})
	}
}

func (s *Simulator) deliver(env Envelope) {
	handler, ok := s.handlers[env.Receiver]
	if !ok {
		height := env.Height
		s.logEvent("drop_missing_handler", env.Sender, env.Receiver, &height, envelopeDetails(env))
		return
	}
	height := env.Height
	s.logEvent("deliver", env.Sender, env.Receiver, &height, map[string]any{"envelope": envelopeDetails(env)})
	handler.Deliver(env)
}

func (s *Simulator) drainPendingLink(lk link) {
	if s.isBlocked(lk.Sender, lk.Receiver) {
		return
	}
	q := s.pendingLink[lk]
	if len(q) == 0 {
		return
	}

	inflightSender := s.inflightCount[lk.Sender]
	inflightLink := s.inflightLink[lk]
	inflightBytes := s.inflightBytesLink[lk]

	drained := 0
	for len(q) > 0 {
		item := q[0]
		if inflightLink >= s.config.MaxInflightPerLink {
			break
		}
		if inflightBytes+item.sizeBytes > s.config.MaxBytesInflightPerLink {
			break
		}
		if inflightLink+1 >= s.config.AutoBlockInflightThreshold {
			break
		}

		q = q[1:]
		s.scheduleEnvelope(item.env, item.sizeBytes, inflightSender, inflightLink)
		inflightSender = s.inflightCount[lk.Sender]
		inflightLink = s.inflightLink[lk]
		inflightBytes = s.inflightBytesLink[lk]
		drained++
	}

	if drained > 0 && len(q) == 0 {
		delete(s.pendingLink, lk)
	} else {
		s.pendingLink[lk] = q
	}
}

func (s *Simulator) isBlocked(sender, receiver string) bool {
	lk := link{sender, receiver}
	if s.blockedLinks[lk] {
		return true
	}
	until, ok := s.autoBlockedUntil[lk]
	if !ok {
		return false
	}
	if s.nowMs >= until {
		delete(s.autoBlockedUntil, lk)
		s.logEvent("auto_unblock_link", sender, receiver, nil, map[string]any{"time_ms": s.nowMs})
		return false
	}
	return true
}

func (s *Simulator) maybeAutoUnblock(sender, receiver string) {
	_ = s.isBlocked(sender, receiver)
}

type linkParams struct {
	baseDelay int
	jitter    int
	bandwidth int
}

func (s *Simulator) linkParams(lk link) linkParams {
	p := linkParams{baseDelay: s.config.BaseDelayMs, jitter: s.config.JitterMs, bandwidth: s.config.LinkBandwidthBytesPerMs}
	if prof, ok := s.linkProfile[lk]; ok {
		if prof.HasBaseDelay {
			p.baseDelay = prof.BaseDelayMs
		}
		if prof.HasJitter {
			p.jitter = prof.JitterMs
		}
		if prof.HasBandwidth {
			p.bandwidth = prof.BandwidthBytesPerMs
		}
	}
	return p
}

func (s *Simulator) linkDropRate(lk link) float64 {
	if prof, ok := s.linkProfile[lk]; ok && prof.HasDropRate {
		return prof.DropRate
	}
	return s.config.DropRate
}

func (s *Simulator) isRateOverflow(lk link) bool {
	if s.config.MaxMsgsPerLinkPerWindow <= 0 {
		return false
	}
	window := s.config.RateWindowMs
	times := s.linkSendTimes[lk]
	cut := 0
	for cut < len(times) && s.nowMs-times[cut] > window {
		cut++
	}
	times = times[cut:]
	if len(times) >= s.config.MaxMsgsPerLinkPerWindow {
		s.linkSendTimes[lk] = times
		return true
	}
	s.linkSendTimes[lk] = append(times, s.nowMs)
	return false
}

func (s *Simulator) logEvent(event, from, to string, height *int64, details map[string]any) {
	s.logs = append(s.logs, LogEntry{TimeMs: s.nowMs, Event: event, From: from, To: to, Height: height, Details: details})
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// randInt63n mirrors Python's random.randint(0, n) (inclusive upper bound).
// rand.Int63n panics on n<=0, so a zero-width range always yields 0.
func randInt63n(rng *rand.Rand, n int64) int64 {
	if n <= 0 {
		return 0
	}
	return rng.Int63n(n + 1)
}

func envelopeDetails(env Envelope) map[string]any {
	return map[string]any{
		"type":      string(env.Kind),
		"header_id": env.HeaderID,
		"height":    env.Height,
		"from":      env.Sender,
		"to":        env.Receiver,
		"payload":   env.Payload,
	}
}

// estimateSize gives a deterministic byte-size estimate for bandwidth
// accounting, mirroring original_source's str(envelope).encode("utf-8")
// with a stable JSON encoding instead of Python repr formatting.
func estimateSize(env Envelope) int {
	b, err := json.Marshal(envelopeDetails(env))
	if err != nil {
		return 0
	}
	return len(b)
}
