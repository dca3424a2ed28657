package wallet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"floaagent/internal/chain"
	"floaagent/internal/session"
	"floaagent/pkg/api/arcade"
	"floaagent/pkg/auth"
	arcadeclient "floaagent/pkg/clients/arcade"
	"floaagent/pkg/logging"
)

// End-to-end flow over a real HTTP backend: a wallet appears, the store signs
// the challenge and logs in; the wallet switches accounts, and exactly one
// re-login replaces the session wholesale.

type loginBackend struct {
	mu       sync.Mutex
	logins   []arcade.WalletLoginRequest
	tokenSeq int
}

func (b *loginBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/timestamp", func(w http.ResponseWriter, r *http.Request) {
		var resp arcade.ServerTimestampResponse
		resp.Data.Timestamp = 1000
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/auth/wallet-login", func(w http.ResponseWriter, r *http.Request) {
		var req arcade.WalletLoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad login body: %v", err)
			return
		}
		ok, err := auth.VerifyEthSignature(req.Signer, req.Message, req.SignedMessage)
		if err != nil || !ok {
			t.Errorf("login signature did not verify for %s: %v", req.Signer, err)
		}

		b.mu.Lock()
		b.logins = append(b.logins, req)
		b.tokenSeq++
		seq := b.tokenSeq
		b.mu.Unlock()

		var resp arcade.WalletLoginResponse
		resp.Data.AccessToken = "tok-" + strings.Repeat("1", seq)
		resp.Data.User = arcade.User{ID: "u-1", Account: req.Signer}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/user/me", func(w http.ResponseWriter, r *http.Request) {
		var resp arcade.CurrentUserResponse
		resp.Data = arcade.User{ID: "u-1"}
		json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func (b *loginBackend) loginCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.logins)
}

// Two independent keys so the account switch is a genuinely different signer.
const (
	keyA  = "4f3edf983ac636a65a842ce7c78d9aa706d3b113b37f1f6f0f6a16c3b7f1f941"
	addrA = "0xfa99341c1e9bf760dfec7e938943792f1cc73e16"
	keyB  = "6cbed15c793ce57650b9877cf6fa156fbef513c4e6134f022a85b1ffdd59b2a1"
	addrB = "0xffcf8fdee72ac11b5c542428b35eef5769c409f0"
)

func signWithKey(t *testing.T, key, message string) string {
	t.Helper()
	signer, err := chain.NewLocalKeySigner(key)
	if err != nil {
		t.Fatalf("bad test key: %v", err)
	}
	sig, err := signer.SignMessage(message)
	if err != nil {
		t.Fatalf("signing failed: %v", err)
	}
	return sig
}

func signerFor(t *testing.T, keys map[string]string) session.SignMessageFunc {
	t.Helper()
	return func(ctx context.Context, message string) (string, error) {
		// Sign with whichever key the challenge names
		for addr, key := range keys {
			if strings.Contains(strings.ToLower(message), addr) {
				return signWithKey(t, key, message), nil
			}
		}
		t.Errorf("challenge names no known address: %s", message)
		return "", nil
	}
}

func TestLoginAndAccountSwitchEndToEnd(t *testing.T) {
	backend := &loginBackend{}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	client := arcadeclient.NewClient(arcadeclient.Config{BaseURL: srv.URL, Logger: logging.NewLogger()})
	store := session.NewStore(session.Config{Backend: client, Logger: logging.NewLogger()})
	store.SetSigner(signerFor(t, map[string]string{addrA: keyA, addrB: keyB}))

	bridge := NewBridge(Config{Store: store, Logger: logging.NewLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)

	// wallet appears
	bridge.Dispatch(Event{Type: EventAccountChanged, Address: addrA})
	waitFor(t, func() bool { return store.IsValid() }, "login never completed")

	if backend.loginCount() != 1 {
		t.Fatalf("expected one login, got %d", backend.loginCount())
	}
	current, _ := store.Current()
	if !strings.EqualFold(current.User.Account, addrA) {
		t.Fatalf("session bound to wrong account: %s", current.User.Account)
	}
	firstToken := store.AccessToken()
	if firstToken == "" {
		t.Fatal("no access token after login")
	}

	// wallet switches accounts
	bridge.Dispatch(Event{Type: EventAccountChanged, Address: addrB})
	waitFor(t, func() bool {
		return store.IsValid() && strings.EqualFold(store.Address(), addrB)
	}, "re-login never completed")

	if backend.loginCount() != 2 {
		t.Fatalf("account switch must trigger exactly one re-login, got %d logins", backend.loginCount())
	}
	current, _ = store.Current()
	if !strings.EqualFold(current.User.Account, addrB) {
		t.Fatalf("session still bound to old account: %s", current.User.Account)
	}
	if store.AccessToken() == firstToken {
		t.Fatal("old access token must be fully discarded")
	}
}
