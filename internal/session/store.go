// Package session owns the authenticated binding between a wallet address and
// a backend user identity. The Store is the only place session state lives;
// the wallet bridge and the feature operations all read through it.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"floaagent/pkg/api/arcade"
	"floaagent/pkg/auth"
	fieldcrypt "floaagent/pkg/crypto"
	"floaagent/pkg/logging"
)

var (
	// ErrNoSigner means login was attempted with no signing function installed.
	ErrNoSigner = errors.New("session: no signer installed")
	// ErrSignatureRejected means the wallet user declined the login challenge.
	// Signer implementations return it so the bridge can warn instead of error.
	ErrSignatureRejected = errors.New("session: signature rejected by user")
)

// SessionTTL is how long a login stays valid before re-authentication.
const SessionTTL = 24 * time.Hour

// SignMessageFunc signs a login challenge on behalf of the wallet owner.
// It may block on user approval; it must honor ctx cancellation.
type SignMessageFunc func(ctx context.Context, message string) (string, error)

// Backend is the slice of the arcade client the session layer needs.
type Backend interface {
	ServerTimestamp(ctx context.Context) (int64, error)
	WalletLogin(ctx context.Context, req *arcade.WalletLoginRequest) (*arcade.LoginData, error)
	CurrentUser(ctx context.Context, accessToken string) (*arcade.User, error)
	BindInvite(ctx context.Context, accessToken, inviteCode string) error
}

// Session is a snapshot of the authenticated state.
type Session struct {
	Address     string
	User        *arcade.User
	AccessToken string
	LoginTime   time.Time
}

// Store holds the process-wide session. Safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	backend Backend
	logger  logging.Logger
	db      *sql.DB                   // optional, nil disables persistence
	enc     *fieldcrypt.FieldEncryptor // optional, encrypts tokens at rest
	signer  SignMessageFunc
	ttl     time.Duration

	session     Session
	tokenMirror string // durable copy compared during validity checks
}

// Config configures a session store.
type Config struct {
	Backend   Backend
	Logger    logging.Logger
	DB        *sql.DB
	Encryptor *fieldcrypt.FieldEncryptor
	TTL       time.Duration
}

// NewStore creates a session store. DB and Encryptor may be nil.
func NewStore(cfg Config) *Store {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = SessionTTL
	}
	return &Store{
		backend: cfg.Backend,
		logger:  cfg.Logger,
		db:      cfg.DB,
		enc:     cfg.Encryptor,
		ttl:     ttl,
	}
}

// SetSigner installs or removes the signing function. With a nil signer,
// Login fails fast instead of hanging.
func (s *Store) SetSigner(fn SignMessageFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signer = fn
}

// Login authenticates the given wallet address: fetch the backend timestamp,
// build the canonical challenge, sign it, and exchange the signature for an
// access token. A pending invite code is bound best-effort in the same
// operation; its failure does not roll back the login. Any other failure
// tears the session down fully.
func (s *Store) Login(ctx context.Context, address, inviteCode string) (*Session, error) {
	s.mu.RLock()
	signer := s.signer
	s.mu.RUnlock()
	if signer == nil {
		return nil, ErrNoSigner
	}

	normalized, err := auth.NormalizeEthAddress(address)
	if err != nil {
		return nil, fmt.Errorf("session: bad address: %w", err)
	}

	timestamp, err := s.backend.ServerTimestamp(ctx)
	if err != nil {
		s.teardown()
		return nil, fmt.Errorf("session: failed to fetch server timestamp: %w", err)
	}

	message := auth.BuildLoginMessage(normalized, timestamp)
	signature, err := signer(ctx, message)
	if err != nil {
		s.teardown()
		if errors.Is(err, ErrSignatureRejected) {
			return nil, err
		}
		return nil, fmt.Errorf("session: signing failed: %w", err)
	}

	login, err := s.backend.WalletLogin(ctx, &arcade.WalletLoginRequest{
		ChainNamespace: string(auth.NamespaceEVM),
		Signer:         normalized,
		SignedMessage:  signature,
		Message:        message,
		Timestamp:      timestamp,
	})
	if err != nil {
		s.teardown()
		return nil, fmt.Errorf("session: wallet login failed: %w", err)
	}

	s.mu.Lock()
	s.session = Session{
		Address:     normalized,
		User:        &login.User,
		AccessToken: login.AccessToken,
		LoginTime:   time.Now(),
	}
	s.tokenMirror = login.AccessToken
	snapshot := s.session
	s.mu.Unlock()

	if err := s.persist(ctx); err != nil {
		s.logger.WithError(err).Warn("Failed to persist session")
	}

	if inviteCode != "" {
		if err := s.backend.BindInvite(ctx, login.AccessToken, inviteCode); err != nil {
			s.logger.WithError(err).WithField("address", normalized).Warn("Invite bind failed")
		}
	}

	s.logger.WithFields(logging.Fields{
		"address": normalized,
		"user_id": login.User.ID,
	}).Info("Wallet login succeeded")

	return &snapshot, nil
}

// IsValid reports whether the current session satisfies the validity
// invariant. Pure over in-memory state, never performs I/O.
func (s *Store) IsValid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isValidLocked()
}

func (s *Store) isValidLocked() bool {
	sess := s.session
	if sess.Address == "" || sess.User == nil || sess.AccessToken == "" {
		return false
	}
	if sess.AccessToken != s.tokenMirror {
		return false
	}
	if !strings.EqualFold(sess.User.Account, sess.Address) {
		return false
	}
	return time.Since(sess.LoginTime) < s.ttl
}

// Current returns a snapshot of the session and whether one exists.
func (s *Store) Current() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session, s.session.Address != ""
}

// AccessToken returns the current token, or empty when logged out.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.AccessToken
}

// Address returns the current wallet address, or empty when logged out.
func (s *Store) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Address
}

// Refresh re-fetches the user record and merges it into the session,
// preserving token and login time. Best-effort: errors are swallowed.
func (s *Store) Refresh(ctx context.Context) {
	s.mu.RLock()
	token := s.session.AccessToken
	s.mu.RUnlock()
	if token == "" {
		return
	}

	user, err := s.backend.CurrentUser(ctx, token)
	if err != nil {
		s.logger.WithError(err).Debug("Session refresh failed")
		return
	}

	s.mu.Lock()
	if s.session.AccessToken == token {
		s.session.User = user
	}
	s.mu.Unlock()

	if err := s.persist(ctx); err != nil {
		s.logger.WithError(err).Warn("Failed to persist refreshed session")
	}
}

// Logout clears all session state unconditionally, including the durable
// token mirror and the persisted row.
func (s *Store) Logout() {
	s.teardown()
	s.logger.Info("Session cleared")
}

func (s *Store) teardown() {
	s.mu.Lock()
	s.session = Session{}
	s.tokenMirror = ""
	s.mu.Unlock()

	if s.db != nil {
		if _, err := s.db.Exec(`DELETE FROM conductor.session WHERE id = 1`); err != nil {
			s.logger.WithError(err).Warn("Failed to delete persisted session")
		}
	}
}

// persist writes the session row, encrypting tokens at rest when an
// encryptor is configured.
func (s *Store) persist(ctx context.Context) error {
	if s.db == nil {
		return nil
	}

	s.mu.RLock()
	sess := s.session
	mirror := s.tokenMirror
	s.mu.RUnlock()
	if sess.Address == "" {
		return nil
	}

	userJSON, err := json.Marshal(sess.User)
	if err != nil {
		return err
	}

	token, mirrorStored := sess.AccessToken, mirror
	if s.enc != nil {
		if token, err = s.enc.Encrypt(sess.AccessToken); err != nil {
			return err
		}
		if mirrorStored, err = s.enc.Encrypt(mirror); err != nil {
			return err
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conductor.session (id, address, user_json, access_token, token_mirror, login_time, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			address = $1, user_json = $2, access_token = $3, token_mirror = $4,
			login_time = $5, updated_at = NOW()
	`, sess.Address, userJSON, token, mirrorStored, sess.LoginTime)
	return err
}

// Load restores a persisted session on startup. A row that no longer
// satisfies the validity invariant is discarded.
func (s *Store) Load(ctx context.Context) error {
	if s.db == nil {
		return nil
	}

	var (
		address, token, mirror string
		userJSON               []byte
		loginTime              time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT address, user_json, access_token, token_mirror, login_time
		FROM conductor.session WHERE id = 1
	`).Scan(&address, &userJSON, &token, &mirror, &loginTime)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	if s.enc != nil {
		if token, err = s.enc.Decrypt(token); err != nil {
			return fmt.Errorf("session: failed to decrypt token: %w", err)
		}
		if mirror, err = s.enc.Decrypt(mirror); err != nil {
			return fmt.Errorf("session: failed to decrypt token mirror: %w", err)
		}
	}

	var user arcade.User
	if err := json.Unmarshal(userJSON, &user); err != nil {
		return err
	}

	s.mu.Lock()
	s.session = Session{
		Address:     address,
		User:        &user,
		AccessToken: token,
		LoginTime:   loginTime,
	}
	s.tokenMirror = mirror
	valid := s.isValidLocked()
	s.mu.Unlock()

	if !valid {
		s.logger.WithField("address", address).Info("Discarding stale persisted session")
		s.teardown()
		return nil
	}

	s.logger.WithField("address", address).Info("Restored persisted session")
	return nil
}
