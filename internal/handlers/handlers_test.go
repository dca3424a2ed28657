package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"floaagent/internal/chain"
	"floaagent/internal/session"
	"floaagent/internal/taskpoll"
	"floaagent/internal/txflow"
	"floaagent/internal/wallet"
	"floaagent/pkg/api/arcade"
	"floaagent/pkg/auth"
	"floaagent/pkg/logging"
)

var testLocalSecret = []byte("local-test-secret")

type fakeSessions struct {
	mu      sync.Mutex
	valid   bool
	current session.Session
	logouts int
}

func (f *fakeSessions) IsValid() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valid
}

func (f *fakeSessions) Current() (session.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, f.valid
}

func (f *fakeSessions) Logout() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	f.valid = false
}

type fakeDispatcher struct {
	mu     sync.Mutex
	events []wallet.Event
}

func (f *fakeDispatcher) Dispatch(event wallet.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeDispatcher) State() wallet.State { return wallet.StateAuthenticated }

func (f *fakeDispatcher) dispatched() []wallet.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wallet.Event(nil), f.events...)
}

type stubChain struct{}

func (stubChain) Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

func (stubChain) SubmitTransaction(ctx context.Context, signer chain.TxSigner, to string, value *big.Int, data []byte) (string, error) {
	return "0xabc123", nil
}

func (stubChain) WaitForReceipt(ctx context.Context, txHash string, timeout time.Duration) (*chain.Receipt, error) {
	return &chain.Receipt{TransactionHash: txHash, Status: "0x1", BlockNumber: "0x10"}, nil
}

type stubSigner struct{}

func (stubSigner) Address() string { return "0x90f8bf6a479f320ead074411a4b0e7944ea8c9c1" }
func (stubSigner) SignTx(nonce uint64, to string, value *big.Int, gasLimit uint64, gasPrice *big.Int, data []byte, chainID *big.Int) ([]byte, error) {
	return []byte{0x01}, nil
}

const stubSig = "0x" +
	"1111111111111111111111111111111111111111111111111111111111111111" +
	"2222222222222222222222222222222222222222222222222222222222222222" +
	"1b"

func stubSignData() *arcade.SignData {
	return &arcade.SignData{
		Amount:    "100",
		Nonce:     "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Signature: stubSig,
		Expiry:    1900000000,
	}
}

type stubSignBackend struct{}

func (stubSignBackend) InteractionSign(ctx context.Context, accessToken string, req *arcade.InteractionSignRequest) (*arcade.SignData, error) {
	d := stubSignData()
	d.OrderID = "rec-1"
	return d, nil
}

func (stubSignBackend) AvatarManagementSign(ctx context.Context, accessToken string, req *arcade.AvatarManagementSignRequest) (*arcade.SignData, error) {
	return stubSignData(), nil
}

func (stubSignBackend) WithdrawalSign(ctx context.Context, accessToken string, req *arcade.WithdrawalSignRequest) (*arcade.WithdrawalSignData, error) {
	return &arcade.WithdrawalSignData{SignData: *stubSignData()}, nil
}

type stubStatusBackend struct{}

func (stubStatusBackend) TaskStatus(ctx context.Context, accessToken, taskID string) (*arcade.TaskStatusData, error) {
	return &arcade.TaskStatusData{Status: "completed", ResultURLs: []string{"https://cdn/v.mp4"}}, nil
}

func (stubStatusBackend) RecordStatus(ctx context.Context, accessToken, recordID string) (*arcade.RecordStatusData, error) {
	return &arcade.RecordStatusData{Status: arcade.RecordStatusDone, URL: "https://cdn/r.mp4"}, nil
}

type fixedToken string

func (s fixedToken) AccessToken() string { return string(s) }

type stubQueue struct {
	mu      sync.Mutex
	orders  []int
	stops   int
	pending int
}

func (q *stubQueue) Enqueue(order int, payload string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.orders = append(q.orders, order)
	q.pending++
	return nil
}

func (q *stubQueue) StopAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stops++
	q.pending = 0
}

func (q *stubQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

func (q *stubQueue) NextIndex() int { return 1 }

type stubChat struct {
	mu           sync.Mutex
	conversation string
	closes       int
}

func (s *stubChat) Connect(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversation = conversationID
	return nil
}

func (s *stubChat) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.conversation = ""
}

func (s *stubChat) Conversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversation
}

type testHarness struct {
	router   *gin.Engine
	sessions *fakeSessions
	bridge   *fakeDispatcher
	queue    *stubQueue
	chat     *stubChat
	service  *txflow.Service
	token    string
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := &testHarness{
		sessions: &fakeSessions{
			valid: true,
			current: session.Session{
				Address:     "0x90f8bf6a479f320ead074411a4b0e7944ea8c9c1",
				User:        &arcade.User{ID: "u-1", Account: "0x90f8bf6a479f320ead074411a4b0e7944ea8c9c1"},
				AccessToken: "tok-1",
				LoginTime:   time.Now(),
			},
		},
		bridge: &fakeDispatcher{},
		queue:  &stubQueue{},
		chat:   &stubChat{},
	}

	logger := logging.NewLogger()
	h.service = txflow.NewService(stubSignBackend{}, fixedToken("tok-1"), stubChain{}, stubSigner{},
		txflow.Contracts{Arcade: "0xarcade", PaymentToken: "0xtoken"}, logger)

	Init(Deps{
		Logger:        logger,
		Sessions:      h.sessions,
		Bridge:        h.bridge,
		Operations:    h.service,
		Poller:        taskpoll.NewPoller(taskpoll.Config{Logger: logger}),
		StatusBackend: stubStatusBackend{},
		Tokens:        fixedToken("tok-1"),
		Queue:         h.queue,
		Chat:          h.chat,
		LocalSecret:   testLocalSecret,
	})

	token, err := auth.GenerateJWT(h.sessions.current.Address, "u-1", testLocalSecret)
	if err != nil {
		t.Fatalf("mint local token: %v", err)
	}
	h.token = token

	h.router = gin.New()
	RegisterRoutes(h.router)
	return h
}

func (h *testHarness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, w.Body.String())
	}
	return out
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPostWalletEventDispatches(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/wallet/events", map[string]interface{}{
		"type":    "accountChanged",
		"address": "0x90f8bf6a479f320ead074411a4b0e7944ea8c9c1",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	events := h.bridge.dispatched()
	if len(events) != 1 || events[0].Type != wallet.EventAccountChanged {
		t.Fatalf("unexpected dispatched events: %+v", events)
	}
}

func TestPostWalletEventRejectsUnknownType(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/wallet/events", map[string]interface{}{"type": "walletLocked"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(h.bridge.dispatched()) != 0 {
		t.Error("invalid event must not reach the bridge")
	}
}

func TestGetSessionStatus(t *testing.T) {
	h := newHarness(t)

	resp := decode[SessionStatusResponse](t, h.do(t, http.MethodGet, "/api/v1/session", nil))
	if !resp.LoggedIn || resp.Address != "0x90f8bf6a479f320ead074411a4b0e7944ea8c9c1" {
		t.Errorf("unexpected session status: %+v", resp)
	}

	h.sessions.mu.Lock()
	h.sessions.valid = false
	h.sessions.mu.Unlock()
	resp = decode[SessionStatusResponse](t, h.do(t, http.MethodGet, "/api/v1/session", nil))
	if resp.LoggedIn || resp.Address != "" {
		t.Errorf("expected logged-out status, got %+v", resp)
	}
}

func TestSessionTokenMintedAndRequired(t *testing.T) {
	h := newHarness(t)

	// protected routes reject calls without the local token
	h.token = ""
	if w := h.do(t, http.MethodGet, "/api/v1/operations", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	resp := decode[SessionTokenResponse](t, h.do(t, http.MethodPost, "/api/v1/session/token", nil))
	if resp.Token == "" || resp.TokenType != "Bearer" {
		t.Fatalf("unexpected token response: %+v", resp)
	}

	h.token = resp.Token
	if w := h.do(t, http.MethodGet, "/api/v1/operations", nil); w.Code != http.StatusOK {
		t.Fatalf("minted token rejected: %d", w.Code)
	}
}

func TestSessionTokenRequiresLogin(t *testing.T) {
	h := newHarness(t)
	h.sessions.mu.Lock()
	h.sessions.valid = false
	h.sessions.mu.Unlock()

	if w := h.do(t, http.MethodPost, "/api/v1/session/token", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestOperationRequiresSession(t *testing.T) {
	h := newHarness(t)
	h.sessions.mu.Lock()
	h.sessions.valid = false
	h.sessions.mu.Unlock()

	w := h.do(t, http.MethodPost, "/api/v1/operations/create-agent", map[string]interface{}{"prompt": "x"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCreateAgentFlowAndConsume(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/operations/create-agent", map[string]interface{}{"prompt": "a sarcastic barista"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	waitFor(t, func() bool {
		eng, ok := h.service.Engines()[arcade.ActionCreateAgent]
		return ok && eng.Status().Step == txflow.StepSucceeded
	}, "operation never succeeded")

	status := decode[OperationStatusResponse](t, h.do(t, http.MethodGet, "/api/v1/operations/"+arcade.ActionCreateAgent, nil))
	if status.Status.Step != txflow.StepSucceeded || status.Result != "succeeded" {
		t.Fatalf("unexpected status: %+v", status)
	}

	first := decode[ConsumeResponse](t, h.do(t, http.MethodPost, "/api/v1/operations/"+arcade.ActionCreateAgent+"/consume", nil))
	if !first.Consumed || first.TxHash != "0xabc123" {
		t.Fatalf("first consume must yield the receipt: %+v", first)
	}
	second := decode[ConsumeResponse](t, h.do(t, http.MethodPost, "/api/v1/operations/"+arcade.ActionCreateAgent+"/consume", nil))
	if second.Consumed {
		t.Error("second consume must be a no-op")
	}

	reset := decode[OperationStatusResponse](t, h.do(t, http.MethodPost, "/api/v1/operations/"+arcade.ActionCreateAgent+"/reset", nil))
	if reset.Status.Step != txflow.StepIdle || reset.Result != "idle" {
		t.Errorf("reset must rearm the engine: %+v", reset)
	}
}

func TestUnknownOperationStatusIs404(t *testing.T) {
	h := newHarness(t)
	if w := h.do(t, http.MethodGet, "/api/v1/operations/never-ran", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestInvalidOperationPayloadRejected(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/api/v1/operations/upgrade-agent", map[string]interface{}{"agent_id": "abc", "level": 3})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if _, ok := h.service.Engines()[arcade.ActionUpgradeAgent]; ok {
		t.Error("invalid payload must not start an engine")
	}
}

func TestStartPollAndStatus(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/tasks", map[string]interface{}{
		"task_id": "t-1", "kind": "task", "max_attempts": 3, "interval_ms": 100,
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[PollResponse](t, w)
	if !resp.Started {
		t.Error("expected a fresh run")
	}

	// stub backend completes on the first attempt; the finished run stays
	// readable until acknowledged
	waitFor(t, func() bool {
		w := h.do(t, http.MethodGet, "/api/v1/tasks/t-1", nil)
		return w.Code == http.StatusOK && decode[PollResponse](t, w).Task.Status == taskpoll.StatusCompleted
	}, "run never finished")

	// restarting the finished id joins the terminal run instead of re-polling
	w = h.do(t, http.MethodPost, "/api/v1/tasks", map[string]interface{}{
		"task_id": "t-1", "kind": "task", "max_attempts": 3, "interval_ms": 100,
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	rejoin := decode[PollResponse](t, w)
	if rejoin.Started {
		t.Error("restarting a finished id must not start a new run")
	}
	if rejoin.Task.Status != taskpoll.StatusCompleted {
		t.Errorf("expected the terminal snapshot, got %s", rejoin.Task.Status)
	}

	// acknowledgment frees the id
	if w := h.do(t, http.MethodDelete, "/api/v1/tasks/t-1", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := h.do(t, http.MethodGet, "/api/v1/tasks/t-1", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after acknowledgment, got %d", w.Code)
	}
	if w := h.do(t, http.MethodDelete, "/api/v1/tasks/t-1", nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a second acknowledgment, got %d", w.Code)
	}
}

func TestAudioEndpoints(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/audio/fragments", map[string]interface{}{"order": 1, "payload": "cGNt"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(h.queue.orders) != 1 || h.queue.orders[0] != 1 {
		t.Errorf("fragment not enqueued: %+v", h.queue.orders)
	}

	if w := h.do(t, http.MethodPost, "/api/v1/audio/stop", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if h.queue.stops != 1 {
		t.Errorf("expected one stop, got %d", h.queue.stops)
	}
}

func TestChatConnectSwitchesConversation(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/chat/connect", map[string]interface{}{"conversation_id": "conv-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if h.chat.Conversation() != "conv-1" {
		t.Errorf("conversation not switched: %q", h.chat.Conversation())
	}

	if w := h.do(t, http.MethodPost, "/api/v1/chat/disconnect", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if h.chat.closes != 1 || h.queue.stops != 1 {
		t.Errorf("disconnect must close the stream and stop playback (closes=%d stops=%d)", h.chat.closes, h.queue.stops)
	}
}

func TestLogoutEndpoint(t *testing.T) {
	h := newHarness(t)

	resp := decode[LogoutResponse](t, h.do(t, http.MethodPost, "/api/v1/session/logout", nil))
	if !resp.LoggedOut || h.sessions.logouts != 1 {
		t.Errorf("logout not applied: %+v (logouts=%d)", resp, h.sessions.logouts)
	}
}
