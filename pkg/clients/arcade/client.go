// Package arcade provides a typed HTTP client for the catalog backend.
package arcade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"floaagent/pkg/api/arcade"
	"floaagent/pkg/clients"
	"floaagent/pkg/logging"
)

// Client represents an arcade backend API client
type Client struct {
	baseURL      string
	httpClient   *http.Client
	logger       logging.Logger
	httpExecutor failsafe.Executor[*http.Response]
	shouldRetry  func(resp *http.Response, err error) bool
}

// Config represents the configuration for the arcade client
type Config struct {
	BaseURL              string
	Timeout              time.Duration
	Logger               logging.Logger
	ExecutorConfig       *clients.HTTPExecutorConfig
	CircuitBreakerConfig *clients.CircuitBreakerConfig
}

// NewClient creates a new arcade API client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	executorConfig := clients.DefaultHTTPExecutorConfig()
	if config.ExecutorConfig != nil {
		executorConfig = *config.ExecutorConfig
	}
	if config.CircuitBreakerConfig != nil {
		executorConfig.CircuitBreaker = clients.NewCircuitBreaker(*config.CircuitBreakerConfig)
	}
	if executorConfig.ShouldRetry == nil {
		executorConfig.ShouldRetry = clients.DefaultShouldRetry
	}

	return &Client{
		baseURL:      config.BaseURL,
		httpClient:   &http.Client{Timeout: config.Timeout, Transport: clients.DefaultTransport()},
		logger:       config.Logger,
		httpExecutor: clients.NewHTTPExecutor(executorConfig),
		shouldRetry:  executorConfig.ShouldRetry,
	}
}

// do performs one JSON round trip. A nil body sends a GET, otherwise POST.
// Transport failures and non-200 statuses come back as errors; envelope codes
// are left for the caller to inspect.
func (c *Client) do(ctx context.Context, method, path, accessToken string, body, out interface{}) error {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	// The request is rebuilt per attempt so retries get a fresh body reader.
	resp, err := clients.ExecuteHTTP(ctx, c.httpExecutor, func() (*http.Response, error) {
		var reader io.Reader
		if jsonBody != nil {
			reader = bytes.NewReader(jsonBody)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		if jsonBody != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		if accessToken != "" {
			httpReq.Header.Set("Authorization", "Bearer "+accessToken)
		}
		resp, err := c.httpClient.Do(httpReq)
		if c.shouldRetry != nil && c.shouldRetry(resp, err) {
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
		}
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("failed to call arcade: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		if c.logger != nil {
			c.logger.WithFields(logging.Fields{
				"status_code": resp.StatusCode,
				"path":        path,
				"response":    string(respBody),
			}).Error("Arcade request failed")
		}
		return fmt.Errorf("arcade returned status %d for %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ServerTimestamp fetches the backend clock used as the login anti-replay nonce.
func (c *Client) ServerTimestamp(ctx context.Context) (int64, error) {
	var resp arcade.ServerTimestampResponse
	if err := c.do(ctx, "GET", "/api/auth/timestamp", "", nil, &resp); err != nil {
		return 0, err
	}
	if err := resp.Err(); err != nil {
		return 0, err
	}
	return resp.Data.Timestamp, nil
}

// WalletLogin exchanges a signed challenge for an access token and user record.
func (c *Client) WalletLogin(ctx context.Context, req *arcade.WalletLoginRequest) (*arcade.LoginData, error) {
	var resp arcade.WalletLoginResponse
	if err := c.do(ctx, "POST", "/api/auth/wallet-login", "", req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// CurrentUser fetches the user record bound to the access token.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*arcade.User, error) {
	var resp arcade.CurrentUserResponse
	if err := c.do(ctx, "GET", "/api/user/me", accessToken, nil, &resp); err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// BindInvite binds a pending invite code to the logged-in user.
func (c *Client) BindInvite(ctx context.Context, accessToken, inviteCode string) error {
	var resp arcade.BindInviteResponse
	req := &arcade.BindInviteRequest{InviteCode: inviteCode}
	if err := c.do(ctx, "POST", "/api/user/invite/bind", accessToken, req, &resp); err != nil {
		return err
	}
	return resp.Err()
}

// InteractionSign fetches a backend authorization for a paid catalog action.
func (c *Client) InteractionSign(ctx context.Context, accessToken string, req *arcade.InteractionSignRequest) (*arcade.SignData, error) {
	var resp arcade.SignResponse
	if err := c.do(ctx, "POST", "/api/sign/interaction", accessToken, req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// AvatarManagementSign fetches a backend authorization for an avatar edit.
func (c *Client) AvatarManagementSign(ctx context.Context, accessToken string, req *arcade.AvatarManagementSignRequest) (*arcade.SignData, error) {
	var resp arcade.SignResponse
	if err := c.do(ctx, "POST", "/api/sign/avatar", accessToken, req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// WithdrawalSign fetches a backend authorization for a balance withdrawal.
// The returned data may flag manual review instead of carrying a signature.
func (c *Client) WithdrawalSign(ctx context.Context, accessToken string, req *arcade.WithdrawalSignRequest) (*arcade.WithdrawalSignData, error) {
	var resp arcade.WithdrawalSignResponse
	if err := c.do(ctx, "POST", "/api/sign/withdrawal", accessToken, req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// TaskStatus queries a third-party media generation task.
func (c *Client) TaskStatus(ctx context.Context, accessToken, taskID string) (*arcade.TaskStatusData, error) {
	var resp arcade.TaskStatusResponse
	path := "/api/task/status?task_id=" + url.QueryEscape(taskID)
	if err := c.do(ctx, "GET", path, accessToken, nil, &resp); err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// RecordStatus queries a first-party generation record.
func (c *Client) RecordStatus(ctx context.Context, accessToken, recordID string) (*arcade.RecordStatusData, error) {
	var resp arcade.RecordStatusResponse
	path := "/api/record/status?record_id=" + url.QueryEscape(recordID)
	if err := c.do(ctx, "GET", path, accessToken, nil, &resp); err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}
