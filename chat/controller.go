package chat

import (
	"fmt"
	"slices"
)

// State is the source driving a session's confirmed messages.
type State int

const (
	// Uninitialized sessions have not attempted to subscribe yet.
	Uninitialized State = iota
	// Streaming sessions render what the live subscription emits.
	Streaming
	// Degraded sessions render the result of a one-shot fetch.
	Degraded
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Streaming:
		return "streaming"
	case Degraded:
		return "degraded"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// FallbackPolicy decides whether a one-shot fetch is compared against the
// first emission of a subscription, and which of the two is rendered.
type FallbackPolicy int

const (
	// FallbackOnEmpty fetches when the first emission is empty and renders
	// the fetch result if it holds any messages.
	FallbackOnEmpty FallbackPolicy = iota
	// FallbackWhenRicher fetches after every first emission and renders the
	// fetch result if it holds strictly more messages. Ties go to the stream.
	FallbackWhenRicher
	// FallbackNever trusts the first emission.
	FallbackNever
)

// ParseFallbackPolicy parses the configuration name of a policy.
func ParseFallbackPolicy(s string) (FallbackPolicy, error) {
	switch s {
	case "", "on-empty":
		return FallbackOnEmpty, nil
	case "when-richer":
		return FallbackWhenRicher, nil
	case "never":
		return FallbackNever, nil
	}
	return 0, fmt.Errorf("unknown fallback policy %q", s)
}

func (p FallbackPolicy) String() string {
	switch p {
	case FallbackOnEmpty:
		return "on-empty"
	case FallbackWhenRicher:
		return "when-richer"
	case FallbackNever:
		return "never"
	}
	return fmt.Sprintf("FallbackPolicy(%d)", int(p))
}

func (p FallbackPolicy) probe(streamLen int) bool {
	switch p {
	case FallbackOnEmpty:
		return streamLen == 0
	case FallbackWhenRicher:
		return true
	}
	return false
}

func (p FallbackPolicy) fallbackWins(fetchedLen, streamLen int) bool {
	switch p {
	case FallbackOnEmpty:
		return streamLen == 0 && fetchedLen > 0
	case FallbackWhenRicher:
		return fetchedLen > streamLen
	}
	return false
}

// A Step tells the caller what to do after a controller transition.
type Step struct {
	// Render is set when the confirmed messages changed.
	Render bool
	// Fetch is set when the caller should issue a one-shot fetch for the
	// current attempt.
	Fetch bool
}

// A Controller decides whether a session's confirmed messages come from the
// live subscription or from a one-shot fetch. It performs no I/O; the
// session reports events to it and acts on the returned steps.
//
// Every subscription attempt gets a new generation. Events carrying an older
// generation are ignored.
type Controller struct {
	policy FallbackPolicy
	state  State
	gen    uint64

	// live is set while the attempt's subscription is open.
	live bool
	// first is set until the attempt's first emission arrives.
	first bool
	// probing is set while a fetch is being compared to the stream.
	probing bool

	streamLen   int
	fallbackLen int
	confirmed   []Message
}

// NewController returns an uninitialized controller.
func NewController(policy FallbackPolicy) *Controller {
	return &Controller{policy: policy}
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// Live reports whether the current attempt's subscription is open.
func (c *Controller) Live() bool {
	return c.live
}

// Generation returns the current attempt's generation.
func (c *Controller) Generation() uint64 {
	return c.gen
}

// Confirmed returns a copy of the last-known confirmed messages.
func (c *Controller) Confirmed() []Message {
	return slices.Clone(c.confirmed)
}

// Attempt starts a fresh subscription attempt and returns its generation.
// The previous attempt's subscription, if any, must be closed by the caller.
func (c *Controller) Attempt() uint64 {
	c.gen++
	c.live = false
	c.first = true
	c.probing = false
	c.streamLen = 0
	c.fallbackLen = 0
	return c.gen
}

// Subscribed records that the attempt's subscription is open.
func (c *Controller) Subscribed(gen uint64) bool {
	if gen != c.gen {
		return false
	}
	c.live = true
	c.state = Streaming
	return true
}

// SubscribeFailed records that the attempt could not open a subscription.
func (c *Controller) SubscribeFailed(gen uint64) Step {
	if gen != c.gen {
		return Step{}
	}
	return c.degrade()
}

// StreamFailed records that the attempt's subscription ended.
func (c *Controller) StreamFailed(gen uint64) Step {
	if gen != c.gen || !c.live {
		return Step{}
	}
	return c.degrade()
}

func (c *Controller) degrade() Step {
	c.live = false
	c.first = false
	c.probing = false
	c.state = Degraded
	return Step{Fetch: true}
}

// Emission records a snapshot delivered by the attempt's subscription.
func (c *Controller) Emission(gen uint64, msgs []Message) Step {
	if gen != c.gen || !c.live {
		return Step{}
	}
	msgs = confirmedCopy(msgs)

	if c.first {
		c.first = false
		c.streamLen = len(msgs)
		c.confirmed = msgs
		if c.policy.probe(len(msgs)) {
			c.probing = true
			return Step{Render: true, Fetch: true}
		}
		return Step{Render: true}
	}

	c.streamLen = len(msgs)
	if c.state == Degraded {
		// The fetch result stays on screen until the stream catches up.
		if len(msgs) < c.fallbackLen {
			return Step{}
		}
		c.state = Streaming
		c.fallbackLen = 0
	}
	c.confirmed = msgs
	return Step{Render: true}
}

// Fetched records the result of a one-shot fetch issued for gen.
func (c *Controller) Fetched(gen uint64, msgs []Message) Step {
	if gen != c.gen {
		return Step{}
	}
	msgs = confirmedCopy(msgs)

	if !c.live {
		c.confirmed = msgs
		return Step{Render: true}
	}
	if !c.probing {
		return Step{}
	}
	c.probing = false
	if !c.policy.fallbackWins(len(msgs), c.streamLen) {
		return Step{}
	}
	c.state = Degraded
	c.fallbackLen = len(msgs)
	c.confirmed = msgs
	return Step{Render: true}
}

// FetchFailed records that the one-shot fetch issued for gen failed. The
// last-known confirmed messages stay in place.
func (c *Controller) FetchFailed(gen uint64) {
	if gen == c.gen {
		c.probing = false
	}
}

// Upsert adds or replaces a confirmed message by id.
func (c *Controller) Upsert(m Message) {
	m.Kind = Confirmed
	i := slices.IndexFunc(c.confirmed, func(x Message) bool { return x.ID == m.ID })
	if i >= 0 {
		c.confirmed[i] = m
		return
	}
	c.confirmed = append(c.confirmed, m)
	if c.state == Degraded && c.live {
		c.fallbackLen++
	}
}

func confirmedCopy(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		m.Kind = Confirmed
		out[i] = m
	}
	return out
}
