// Package handlers exposes the conductor's local control API: wallet events
// in, session state out, operation triggers, task polling, and audio control.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"floaagent/internal/session"
	"floaagent/internal/taskpoll"
	"floaagent/internal/txflow"
	"floaagent/internal/wallet"
	"floaagent/pkg/auth"
	"floaagent/pkg/logging"
	"floaagent/pkg/middleware"
	"floaagent/pkg/monitoring"
	"floaagent/pkg/validation"
)

// ConductorMetrics holds the daemon's domain counters.
type ConductorMetrics struct {
	WalletEvents   *prometheus.CounterVec
	Logins         *prometheus.CounterVec
	Operations     *prometheus.CounterVec
	AudioFragments *prometheus.CounterVec
}

// NewConductorMetrics registers the domain counters on the shared collector.
func NewConductorMetrics(mc *monitoring.MetricsCollector) *ConductorMetrics {
	return &ConductorMetrics{
		WalletEvents:   mc.NewCounter("wallet_events_total", "Wallet provider events received", []string{"type"}),
		Logins:         mc.NewCounter("wallet_logins_total", "Wallet authentication outcomes", []string{"outcome"}),
		Operations:     mc.NewCounter("operations_total", "Paid operation runs", []string{"operation", "outcome"}),
		AudioFragments: mc.NewCounter("audio_fragments_total", "Audio fragments received", []string{"outcome"}),
	}
}

// Sessions is the session store surface the handlers need.
type Sessions interface {
	IsValid() bool
	Current() (session.Session, bool)
	Logout()
}

// Dispatcher feeds wallet provider events into the bridge.
type Dispatcher interface {
	Dispatch(event wallet.Event)
	State() wallet.State
}

// Operations is the paid feature surface.
type Operations interface {
	CreateAgent(ctx context.Context, prompt string) error
	UpgradeAgent(ctx context.Context, agentID string, level int) error
	BuyTicket(ctx context.Context, quantity int) error
	AddSlot(ctx context.Context, agentID string) error
	GenerateVideo(ctx context.Context, agentID, prompt string) (string, error)
	RenameAgent(ctx context.Context, agentID, name string) error
	ChangeVoice(ctx context.Context, agentID, voiceID string) error
	DeleteSlot(ctx context.Context, agentID string, slotIndex int) error
	Withdraw(ctx context.Context, amount string) error
	Engine(operation string, requiresApproval bool) *txflow.Engine
	Engines() map[string]*txflow.Engine
}

// AudioQueue is the playback queue surface.
type AudioQueue interface {
	Enqueue(order int, payload string) error
	StopAll()
	Pending() int
	NextIndex() int
}

// ChatStream switches the active conversation stream.
type ChatStream interface {
	Connect(ctx context.Context, conversationID string) error
	Close()
	Conversation() string
}

var (
	logger        logging.Logger
	sessions      Sessions
	bridge        Dispatcher
	ops           Operations
	poller        *taskpoll.Poller
	statusBackend taskpoll.StatusBackend
	tokens        taskpoll.TokenProvider
	queue         AudioQueue
	chatStream    ChatStream
	validate      *validation.RequestValidator
	localSecret   []byte
	metrics       *ConductorMetrics
)

// Deps carries everything the handlers depend on.
type Deps struct {
	Logger        logging.Logger
	Sessions      Sessions
	Bridge        Dispatcher
	Operations    Operations
	Poller        *taskpoll.Poller
	StatusBackend taskpoll.StatusBackend
	Tokens        taskpoll.TokenProvider
	Queue         AudioQueue
	Chat          ChatStream
	LocalSecret   []byte
	Metrics       *ConductorMetrics
}

// Init initializes the handlers with their dependencies.
func Init(deps Deps) {
	logger = deps.Logger
	sessions = deps.Sessions
	bridge = deps.Bridge
	ops = deps.Operations
	poller = deps.Poller
	statusBackend = deps.StatusBackend
	tokens = deps.Tokens
	queue = deps.Queue
	chatStream = deps.Chat
	localSecret = deps.LocalSecret
	metrics = deps.Metrics
	validate = validation.NewRequestValidator()
}

// PostWalletEvent accepts a raw wallet provider event and feeds the bridge.
// The bridge decides what, if anything, to do; this endpoint only queues.
func PostWalletEvent(c middleware.Context) {
	var req validation.WalletEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}
	if err := validate.Validate(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	var event wallet.Event
	switch req.Type {
	case validation.EventAccountChanged:
		event = wallet.Event{Type: wallet.EventAccountChanged, Address: req.Address}
	case validation.EventNetworkChanged:
		event = wallet.Event{Type: wallet.EventNetworkChanged, ChainID: req.ChainID}
	case validation.EventConnectionChanged:
		event = wallet.Event{Type: wallet.EventConnectionChanged, Connected: req.Connected}
	}
	bridge.Dispatch(event)
	if metrics != nil {
		metrics.WalletEvents.WithLabelValues(req.Type).Inc()
	}

	c.JSON(http.StatusAccepted, WalletEventResponse{Queued: true, BridgeState: bridge.State().String()})
}

// GetSessionStatus reports the current session.
func GetSessionStatus(c middleware.Context) {
	resp := SessionStatusResponse{
		LoggedIn:    sessions.IsValid(),
		BridgeState: bridge.State().String(),
	}
	if current, ok := sessions.Current(); ok && resp.LoggedIn {
		resp.Address = current.Address
		resp.User = current.User
		resp.LoginTime = current.LoginTime
		resp.ExpiresAt = current.LoginTime.Add(session.SessionTTL)
	}
	c.JSON(http.StatusOK, resp)
}

// PostSessionToken mints the local JWT that protected routes require. The
// backend access token never leaves the daemon; the UI only ever holds this.
func PostSessionToken(c middleware.Context) {
	current, ok := sessions.Current()
	if !ok || !sessions.IsValid() {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "No valid session"})
		return
	}
	userID := ""
	if current.User != nil {
		userID = current.User.ID
	}
	token, err := auth.GenerateJWT(current.Address, userID, localSecret)
	if err != nil {
		logger.WithError(err).Error("Failed to mint local session token")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to mint token"})
		return
	}
	c.JSON(http.StatusOK, SessionTokenResponse{Token: token, TokenType: "Bearer"})
}

// PostLogout tears the session down explicitly.
func PostLogout(c middleware.Context) {
	sessions.Logout()
	c.JSON(http.StatusOK, LogoutResponse{LoggedOut: true})
}

// requireSession rejects requests when no valid session exists.
func requireSession(c middleware.Context) bool {
	if !sessions.IsValid() {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "No valid session"})
		return false
	}
	return true
}

// operationTimeout bounds one background operation run end to end.
const operationTimeout = 10 * time.Minute
