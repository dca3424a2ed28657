// Package wallet reconciles wallet-provider events with the session store.
// Providers fire overlapping and redundant events; the bridge guarantees at
// most one login or logout per real transition.
package wallet

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"floaagent/internal/session"
	"floaagent/pkg/logging"
)

// State is the bridge's position in the authentication lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateAuthenticating
	StateAuthenticated
	StateReauthenticating
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateReauthenticating:
		return "reauthenticating"
	default:
		return "unknown"
	}
}

// EventType identifies a wallet-provider event.
type EventType string

const (
	EventAccountChanged    EventType = "accountChanged"
	EventNetworkChanged    EventType = "networkChanged"
	EventConnectionChanged EventType = "connectionChanged"
)

// Event is one wallet-provider notification relayed by the UI.
type Event struct {
	Type      EventType `json:"type"`
	Address   string    `json:"address,omitempty"` // empty means disconnected
	ChainID   int64     `json:"chain_id,omitempty"`
	Connected bool      `json:"connected,omitempty"`
}

// SessionController is the slice of the session store the bridge drives.
type SessionController interface {
	Login(ctx context.Context, address, inviteCode string) (*session.Session, error)
	Logout()
	IsValid() bool
	Address() string
}

// Notification is a classified auth outcome surfaced to the UI.
type Notification struct {
	Address  string
	Err      error
	Rejected bool // wallet user declined the signature
}

// DefaultDebounce is the quiet period before an address disappearance tears
// the session down. Providers flap during reconnects.
const DefaultDebounce = 1500 * time.Millisecond

type authResult struct {
	address string
	err     error
}

// Bridge consumes provider events and drives the session store. All state
// transitions happen on the Run goroutine; Dispatch only posts events.
type Bridge struct {
	store    SessionController
	logger   logging.Logger
	debounce time.Duration
	notify   func(Notification)

	events   chan Event
	authDone chan authResult

	state           atomic.Int32
	previousAddress string
	pendingAuth     string // coalesced re-auth target, empty when none
	authInFlight    bool
	inviteCode      string

	disconnectTimer *time.Timer
	disconnectC     <-chan time.Time
}

// Config configures a bridge.
type Config struct {
	Store      SessionController
	Logger     logging.Logger
	Debounce   time.Duration       // zero means DefaultDebounce
	Notify     func(Notification)  // optional
	InviteCode string              // bound on next login, best-effort
}

// NewBridge creates a wallet event bridge. Call Run to start it.
func NewBridge(cfg Config) *Bridge {
	debounce := cfg.Debounce
	if debounce == 0 {
		debounce = DefaultDebounce
	}
	return &Bridge{
		store:    cfg.Store,
		logger:   cfg.Logger,
		debounce: debounce,
		notify:   cfg.Notify,
		events:   make(chan Event, 16),
		authDone: make(chan authResult, 1),
	}
}

// State returns the current bridge state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Dispatch posts a provider event to the bridge.
func (b *Bridge) Dispatch(ev Event) {
	b.events <- ev
}

// Run processes events until ctx is cancelled. Single goroutine; all
// transitions are serialized here.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.stopDisconnectTimer()
			return
		case ev := <-b.events:
			b.handleEvent(ctx, ev)
		case <-b.disconnectC:
			b.handleDisconnectTimeout()
		case res := <-b.authDone:
			b.handleAuthResult(ctx, res)
		}
	}
}

func (b *Bridge) handleEvent(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventAccountChanged:
		b.handleAccountChanged(ctx, strings.ToLower(ev.Address))
	case EventNetworkChanged:
		b.logger.WithField("chain_id", ev.ChainID).Debug("Network changed")
		b.revalidate(ctx)
	case EventConnectionChanged:
		if ev.Connected {
			b.revalidate(ctx)
		} else {
			b.startDisconnectTimer()
		}
	default:
		b.logger.WithField("type", string(ev.Type)).Warn("Unknown wallet event")
	}
}

func (b *Bridge) handleAccountChanged(ctx context.Context, address string) {
	if address == "" {
		b.startDisconnectTimer()
		return
	}

	// An address is back; any pending teardown is moot
	b.stopDisconnectTimer()

	prev := b.previousAddress
	b.previousAddress = address

	switch {
	case prev == "":
		// Appearance. A valid session for this exact address needs no re-auth.
		if b.store.IsValid() && strings.EqualFold(b.store.Address(), address) {
			b.state.Store(int32(StateAuthenticated))
			b.logger.WithField("address", address).Debug("Wallet reconnected with valid session")
			return
		}
		b.authenticate(ctx, address)
	case prev != address:
		// Change. A stale session for the old address must never be
		// attributed to the new one.
		b.authenticate(ctx, address)
	default:
		// Same address repeated; only act if the session went bad
		if !b.store.IsValid() {
			b.authenticate(ctx, address)
		}
	}
}

// revalidate re-authenticates when an address is present but the session no
// longer satisfies the validity invariant.
func (b *Bridge) revalidate(ctx context.Context) {
	if b.previousAddress != "" && !b.store.IsValid() {
		b.authenticate(ctx, b.previousAddress)
	}
}

func (b *Bridge) authenticate(ctx context.Context, address string) {
	if b.authInFlight {
		// Coalesce: latest target wins, one attempt at a time
		b.pendingAuth = address
		return
	}
	b.authInFlight = true

	if b.State() == StateAuthenticated {
		b.state.Store(int32(StateReauthenticating))
	} else {
		b.state.Store(int32(StateAuthenticating))
	}

	go func() {
		_, err := b.store.Login(ctx, address, b.inviteCode)
		b.authDone <- authResult{address: address, err: err}
	}()
}

func (b *Bridge) handleAuthResult(ctx context.Context, res authResult) {
	b.authInFlight = false

	if res.err != nil {
		rejected := errors.Is(res.err, session.ErrSignatureRejected)
		if rejected {
			b.logger.WithField("address", res.address).Warn("Wallet signature rejected by user")
		} else {
			b.logger.WithError(res.err).WithField("address", res.address).Error("Wallet authentication failed")
		}
		b.store.Logout()
		b.state.Store(int32(StateDisconnected))
		if b.notify != nil {
			b.notify(Notification{Address: res.address, Err: res.err, Rejected: rejected})
		}
	} else {
		b.state.Store(int32(StateAuthenticated))
	}

	// Run the coalesced attempt if it still matters. A target equal to the
	// address that just finished was answered by this attempt, success or
	// failure; retrying it would loop on a rejecting wallet.
	pending := b.pendingAuth
	b.pendingAuth = ""
	if pending == "" {
		return
	}
	if pending == res.address && (res.err != nil || b.store.IsValid()) {
		return
	}
	b.authenticate(ctx, pending)
}

func (b *Bridge) startDisconnectTimer() {
	if b.disconnectTimer != nil {
		return
	}
	b.disconnectTimer = time.NewTimer(b.debounce)
	b.disconnectC = b.disconnectTimer.C
	b.logger.WithField("debounce", b.debounce.String()).Debug("Wallet address disappeared, debouncing teardown")
}

func (b *Bridge) stopDisconnectTimer() {
	if b.disconnectTimer == nil {
		return
	}
	b.disconnectTimer.Stop()
	b.disconnectTimer = nil
	b.disconnectC = nil
}

func (b *Bridge) handleDisconnectTimeout() {
	b.disconnectTimer = nil
	b.disconnectC = nil

	// Reappearance would have cancelled the timer; the quiet period really
	// ended with no address
	b.previousAddress = ""
	b.store.Logout()
	b.state.Store(int32(StateDisconnected))
	b.logger.Info("Wallet disconnected, session torn down")
}
