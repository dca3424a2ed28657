// Package chat consumes the agent conversation stream. Voice chunks arriving
// over the socket are handed to the audio queue in sequence order; switching
// the active conversation cuts playback instantly.
package chat

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"floaagent/pkg/logging"
)

// Message types on the conversation stream.
const (
	TypeText  = "text"
	TypeAudio = "audio"
	TypeDone  = "done"
)

// Message is one frame on the conversation stream.
type Message struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Order          int    `json:"order,omitempty"`
	Payload        string `json:"payload,omitempty"` // base64 audio fragment
	Text           string `json:"text,omitempty"`
}

// AudioQueue is the playback queue slice the consumer drives.
type AudioQueue interface {
	Enqueue(order int, payload string) error
	StopAll()
}

// TokenProvider supplies the session access token for the handshake.
type TokenProvider interface {
	AccessToken() string
}

// Consumer reads a conversation WebSocket and routes audio into the queue.
type Consumer struct {
	baseURL string
	queue   AudioQueue
	tokens  TokenProvider
	logger  logging.Logger

	mutex        sync.Mutex
	conn         *websocket.Conn
	connected    bool
	conversation string
	stopChan     chan struct{}
	doneChan     chan struct{}
}

// Config configures the conversation consumer.
type Config struct {
	BaseURL string
	Queue   AudioQueue
	Tokens  TokenProvider
	Logger  logging.Logger
}

// NewConsumer creates a disconnected consumer.
func NewConsumer(cfg Config) *Consumer {
	return &Consumer{
		baseURL: cfg.BaseURL,
		queue:   cfg.Queue,
		tokens:  cfg.Tokens,
		logger:  cfg.Logger,
	}
}

// Connect opens the stream for one conversation. An already-open stream for a
// different conversation is closed first and its pending audio dropped.
func (c *Consumer) Connect(ctx context.Context, conversationID string) error {
	c.mutex.Lock()
	switching := c.connected
	if c.connected && c.conversation == conversationID {
		c.mutex.Unlock()
		return nil
	}
	c.mutex.Unlock()

	if switching {
		// Whatever was playing belongs to the old conversation
		c.Close()
		c.queue.StopAll()
	}

	wsURL, err := c.buildWebSocketURL(conversationID)
	if err != nil {
		return err
	}

	headers := make(http.Header)
	if token := c.tokens.AccessToken(); token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 30 * time.Second

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect conversation stream (status: %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect conversation stream: %w", err)
	}

	c.mutex.Lock()
	c.conn = conn
	c.connected = true
	c.conversation = conversationID
	c.stopChan = make(chan struct{})
	c.doneChan = make(chan struct{})
	c.mutex.Unlock()

	go c.readPump(conn, c.stopChan, c.doneChan)

	c.logger.WithField("conversation_id", conversationID).Info("Connected to conversation stream")
	return nil
}

// Conversation returns the active conversation id, empty when disconnected.
func (c *Consumer) Conversation() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.connected {
		return ""
	}
	return c.conversation
}

// IsConnected reports whether a stream is open.
func (c *Consumer) IsConnected() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.connected
}

// Close shuts the stream down. Safe to call when already closed.
func (c *Consumer) Close() {
	c.mutex.Lock()
	if !c.connected {
		c.mutex.Unlock()
		return
	}
	conn := c.conn
	stopChan := c.stopChan
	doneChan := c.doneChan
	c.connected = false
	c.conn = nil
	c.mutex.Unlock()

	close(stopChan)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	<-doneChan

	c.logger.Info("Disconnected from conversation stream")
}

func (c *Consumer) buildWebSocketURL(conversationID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid stream base url: %w", err)
	}
	scheme := "ws"
	if u.Scheme == "https" || u.Scheme == "wss" {
		scheme = "wss"
	}
	wsURL := &url.URL{
		Scheme:   scheme,
		Host:     u.Host,
		Path:     "/ws/conversation",
		RawQuery: url.Values{"conversation_id": {conversationID}}.Encode(),
	}
	return wsURL.String(), nil
}

func (c *Consumer) readPump(conn *websocket.Conn, stopChan chan struct{}, doneChan chan struct{}) {
	defer close(doneChan)
	defer func() {
		c.mutex.Lock()
		if c.conn == conn {
			c.connected = false
			c.conn = nil
		}
		c.mutex.Unlock()
		conn.Close()
	}()

	conn.SetReadLimit(512 * 1024)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		select {
		case <-stopChan:
			return
		default:
		}

		var message Message
		if err := conn.ReadJSON(&message); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("Conversation stream read error")
			}
			return
		}
		c.handle(message)
	}
}

func (c *Consumer) handle(message Message) {
	// Frames from a conversation we already left are stale
	if current := c.Conversation(); current != "" && message.ConversationID != "" && message.ConversationID != current {
		return
	}

	switch message.Type {
	case TypeAudio:
		if err := c.queue.Enqueue(message.Order, message.Payload); err != nil {
			c.logger.WithError(err).WithField("order", message.Order).Warn("Dropped audio fragment")
		}
	case TypeDone:
		c.logger.WithField("conversation_id", message.ConversationID).Debug("Conversation turn complete")
	case TypeText:
		// Text rendering happens upstream; nothing to do here
	default:
		c.logger.WithField("type", message.Type).Debug("Ignoring unknown stream frame")
	}
}
