// Package connstate implements the feed client's connection state machine:
// a closed set of states, a single legal trigger per (state, trigger) pair,
// and an exponential-backoff retry policy for the Degraded state.
package connstate

import (
	"math"
	"sync"
	"time"

	"github.com/krakenfeed/sdk/errs"
)

// DegradeReason is the closed set of reasons a connection can degrade.
type DegradeReason string

const (
	ReasonConnectionFailed     DegradeReason = "connection_failed"
	ReasonAuthenticationFailed DegradeReason = "authentication_failed"
	ReasonSubscriptionFailed   DegradeReason = "subscription_failed"
	ReasonServerDisconnect     DegradeReason = "server_disconnect"
)

// CloseReason is the closed set of reasons a connection can close.
type CloseReason string

const (
	CloseUserRequested      CloseReason = "user_requested"
	CloseMaxRetriesExceeded CloseReason = "max_retries_exceeded"
)

// Kind enumerates the state tags. Degraded and Closed carry extra fields,
// accessible on the State value when Kind matches.
type Kind string

const (
	KindDisconnected   Kind = "disconnected"
	KindConnecting     Kind = "connecting"
	KindAuthenticating Kind = "authenticating"
	KindSubscribing    Kind = "subscribing"
	KindSubscribed     Kind = "subscribed"
	KindResyncing      Kind = "resyncing"
	KindDegraded       Kind = "degraded"
	KindClosed         Kind = "closed"
)

// State is the tagged connection-state variant.
type State struct {
	Kind Kind

	// Degraded-only.
	DegradeReason DegradeReason
	Retries       int
	Since         time.Time

	// Closed-only.
	CloseReason CloseReason
}

func Disconnected() State { return State{Kind: KindDisconnected} }

// Trigger is the closed set of events that drive transitions.
type Trigger string

const (
	TriggerUserConnect            Trigger = "user_connect"
	TriggerConnectionEstablished  Trigger = "connection_established"
	TriggerConnectionFailed       Trigger = "connection_failed"
	TriggerAuthSuccess            Trigger = "auth_success"
	TriggerAuthFailed             Trigger = "auth_failed"
	TriggerSubscriptionsConfirmed Trigger = "subscriptions_confirmed"
	TriggerSubscriptionFailed     Trigger = "subscription_failed"
	TriggerSequenceGap            Trigger = "sequence_gap"
	TriggerResyncComplete         Trigger = "resync_complete"
	TriggerServerDisconnect       Trigger = "server_disconnect"
	TriggerRetryAttempt           Trigger = "retry_attempt"
	TriggerMaxRetriesExceeded     Trigger = "max_retries_exceeded"
	TriggerUserClose              Trigger = "user_close"
)

// TransitionEvent is one timestamped entry in the bounded history.
type TransitionEvent struct {
	From      State
	Trigger   Trigger
	To        State
	Timestamp time.Time
}

// Policy configures retry backoff and transition history depth.
type Policy struct {
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	MaxRetries        int
	HistoryDepth      int
	RequiresAuth      bool
}

// DefaultPolicy mirrors config.Default().Reconnect with a history depth of
// 100, matching spec defaults.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		MaxRetries:        0,
		HistoryDepth:      100,
	}
}

// Machine enforces the legal transition table and keeps a bounded history.
type Machine struct {
	policy Policy

	mu      sync.Mutex
	current State
	retries int
	history []TransitionEvent

	now func() time.Time
}

// New constructs a Machine starting in Disconnected.
func New(policy Policy) *Machine {
	return &Machine{
		policy:  policy,
		current: Disconnected(),
		now:     time.Now,
	}
}

// Current returns the machine's current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// History returns a copy of the bounded transition history, oldest first.
func (m *Machine) History() []TransitionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TransitionEvent, len(m.history))
	copy(out, m.history)
	return out
}

// Fire applies trigger to the current state. Any (state, trigger) pair not
// in the transition table is an error: no silent ignores.
func (m *Machine) Fire(trigger Trigger, reason DegradeReason) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.current
	to, err := m.next(from, trigger, reason)
	if err != nil {
		return from, err
	}

	m.current = to
	m.appendHistory(from, trigger, to)
	return to, nil
}

func (m *Machine) next(from State, trigger Trigger, reason DegradeReason) (State, error) {
	switch from.Kind {
	case KindDisconnected, KindClosed:
		if trigger == TriggerUserConnect {
			return State{Kind: KindConnecting}, nil
		}
	case KindConnecting:
		switch trigger {
		case TriggerConnectionEstablished:
			m.retries = 0
			if m.policy.RequiresAuth {
				return State{Kind: KindAuthenticating}, nil
			}
			return State{Kind: KindSubscribing}, nil
		case TriggerConnectionFailed:
			return m.degrade(ReasonConnectionFailed), nil
		}
	case KindAuthenticating:
		switch trigger {
		case TriggerAuthSuccess:
			return State{Kind: KindSubscribing}, nil
		case TriggerAuthFailed:
			return m.degrade(ReasonAuthenticationFailed), nil
		case TriggerServerDisconnect:
			return m.degrade(ReasonServerDisconnect), nil
		}
	case KindSubscribing:
		switch trigger {
		case TriggerSubscriptionsConfirmed:
			return State{Kind: KindSubscribed}, nil
		case TriggerSubscriptionFailed:
			return m.degrade(ReasonSubscriptionFailed), nil
		case TriggerServerDisconnect:
			return m.degrade(ReasonServerDisconnect), nil
		}
	case KindSubscribed:
		switch trigger {
		case TriggerSequenceGap:
			return State{Kind: KindResyncing}, nil
		case TriggerServerDisconnect:
			return m.degrade(ReasonServerDisconnect), nil
		}
	case KindResyncing:
		switch trigger {
		case TriggerResyncComplete:
			return State{Kind: KindSubscribed}, nil
		case TriggerServerDisconnect:
			return m.degrade(ReasonServerDisconnect), nil
		}
	case KindDegraded:
		switch trigger {
		case TriggerRetryAttempt:
			if m.policy.MaxRetries > 0 && m.retries > m.policy.MaxRetries {
				break
			}
			return State{Kind: KindConnecting}, nil
		case TriggerMaxRetriesExceeded:
			return State{Kind: KindClosed, CloseReason: CloseMaxRetriesExceeded}, nil
		}
	}

	if trigger == TriggerUserClose && from.Kind != KindClosed {
		return State{Kind: KindClosed, CloseReason: CloseUserRequested}, nil
	}

	return from, errs.New(errs.CodeConnection,
		errs.WithCanonical(errs.CanonicalInvalidState),
		errs.WithMessage("illegal transition"),
		errs.WithField(string(from.Kind)+"/"+string(trigger)))
}

func (m *Machine) degrade(reason DegradeReason) State {
	return State{Kind: KindDegraded, DegradeReason: reason, Retries: m.retries, Since: m.now()}
}

func (m *Machine) appendHistory(from State, trigger Trigger, to State) {
	m.history = append(m.history, TransitionEvent{From: from, Trigger: trigger, To: to, Timestamp: m.now()})
	if depth := m.policy.HistoryDepth; depth > 0 && len(m.history) > depth {
		m.history = m.history[len(m.history)-depth:]
	}
}

// RetryDelay computes initial * multiplier^retries, capped at max_delay.
func (p Policy) RetryDelay(retries int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(retries))
	if max := float64(p.MaxDelay); max > 0 && delay > max {
		delay = max
	}
	return time.Duration(delay)
}

// NextRetry computes the delay for the next retry attempt from the current
// retry count, then increments that count. Call this before firing
// RetryAttempt so the attempt just started counts toward max_retries.
func (m *Machine) NextRetry() (State, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.Kind != KindDegraded {
		return m.current, 0, errs.New(errs.CodeConnection,
			errs.WithCanonical(errs.CanonicalInvalidState),
			errs.WithMessage("not degraded"))
	}

	delay := m.policy.RetryDelay(m.retries)
	m.retries++
	m.current.Retries = m.retries
	return m.current, delay, nil
}
