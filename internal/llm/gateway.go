package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	gatewayWriteTimeout     = 3 * time.Second
	gatewayHandshakeTimeout = 4 * time.Second
)

// GatewayClient streams responses over a local gateway's websocket frame
// protocol. One connection is kept alive across turns and redialed after an
// error; requests carry idempotency keys so a redial cannot double-run a
// turn.
type GatewayClient struct {
	wsURL  string
	token  string
	dialer websocket.Dialer

	mu   sync.Mutex
	sess *wsSession
}

type gatewayFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Event   string          `json:"event,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *gatewayErrBody `json:"error,omitempty"`
}

type gatewayErrBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type gatewayRequest struct {
	Type   string        `json:"type"`
	ID     string        `json:"id"`
	Method string        `json:"method"`
	Params gatewayParams `json:"params"`
}

type gatewayParams struct {
	Request
	IdempotencyKey string `json:"idempotencyKey"`
}

type gatewayDeltaPayload struct {
	RequestID string `json:"requestId"`
	Delta     string `json:"delta"`
}

type gatewayFinalPayload struct {
	ID         string `json:"id"`
	OutputText string `json:"outputText"`
}

func NewGatewayClient(wsURL, token string) (*GatewayClient, error) {
	wsURL, err := normalizeGatewayURL(wsURL)
	if err != nil {
		return nil, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("gateway token is required")
	}

	return &GatewayClient{
		wsURL: wsURL,
		token: token,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: gatewayHandshakeTimeout,
		},
	}, nil
}

func normalizeGatewayURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "ws://127.0.0.1:8790"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported gateway url scheme %q", u.Scheme)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

func (c *GatewayClient) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.ensureSessionLocked(ctx)
	if err != nil {
		return Response{}, err
	}

	resp, keep, err := c.stream(ctx, sess, req, onDelta)
	if !keep {
		c.dropSessionLocked(sess)
	}
	return resp, err
}

// Close shuts the pooled connection down.
func (c *GatewayClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		c.sess.close()
		c.sess = nil
	}
	return nil
}

func (c *GatewayClient) ensureSessionLocked(ctx context.Context) (*wsSession, error) {
	if c.sess != nil {
		return c.sess, nil
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	conn, res, err := c.dialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		if res != nil {
			return nil, fmt.Errorf("gateway dial failed (%s): %w", res.Status, err)
		}
		return nil, fmt.Errorf("gateway dial failed: %w", err)
	}
	c.sess = newWSSession(conn)
	return c.sess, nil
}

func (c *GatewayClient) dropSessionLocked(sess *wsSession) {
	if c.sess == sess {
		c.sess = nil
	}
	sess.close()
}

// stream sends one respond request and drains its frames. The second return
// reports whether the connection is still healthy enough to reuse.
func (c *GatewayClient) stream(ctx context.Context, sess *wsSession, req Request, onDelta DeltaHandler) (Response, bool, error) {
	reqID := uuid.NewString()
	key := strings.TrimSpace(req.TurnID)
	if key == "" {
		key = uuid.NewString()
	}

	frame := gatewayRequest{
		Type:   "req",
		ID:     reqID,
		Method: "respond",
		Params: gatewayParams{Request: req, IdempotencyKey: key},
	}
	if err := sess.writeJSON(frame, gatewayWriteTimeout); err != nil {
		return Response{}, false, fmt.Errorf("gateway write: %w", err)
	}

	var out strings.Builder
	for {
		fr, err := sess.nextFrame(ctx)
		if err != nil {
			return Response{}, false, err
		}

		switch fr.Type {
		case "event":
			if fr.Event != "response.delta" {
				continue
			}
			var evt gatewayDeltaPayload
			if err := json.Unmarshal(fr.Payload, &evt); err != nil {
				continue
			}
			if evt.RequestID != reqID || evt.Delta == "" {
				continue
			}
			out.WriteString(evt.Delta)
			if onDelta != nil {
				if err := onDelta(evt.Delta); err != nil {
					return Response{}, false, err
				}
			}
		case "res":
			if fr.ID != reqID {
				continue
			}
			if !fr.OK {
				gerr := &GatewayError{Code: "error"}
				if fr.Error != nil {
					gerr.Code = fr.Error.Code
					gerr.Message = fr.Error.Message
				}
				return Response{}, false, gerr
			}
			var final gatewayFinalPayload
			if err := json.Unmarshal(fr.Payload, &final); err != nil {
				return Response{}, false, fmt.Errorf("gateway final payload: %w", err)
			}
			text := final.OutputText
			if text == "" {
				text = out.String()
			}
			return Response{ID: final.ID, Text: text}, true, nil
		}
	}
}

// wsSession pumps reads through a goroutine so frame waits can honor
// context cancellation.
type wsSession struct {
	conn *websocket.Conn
	msgs chan []byte
	errs chan error
}

func newWSSession(conn *websocket.Conn) *wsSession {
	s := &wsSession{
		conn: conn,
		msgs: make(chan []byte, 64),
		errs: make(chan error, 1),
	}
	go func() {
		defer close(s.msgs)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				s.errs <- err
				return
			}
			s.msgs <- data
		}
	}()
	return s
}

func (s *wsSession) nextFrame(ctx context.Context) (gatewayFrame, error) {
	select {
	case <-ctx.Done():
		return gatewayFrame{}, ctx.Err()
	case err := <-s.errs:
		if err == nil {
			err = errors.New("gateway connection closed")
		}
		return gatewayFrame{}, err
	case data, ok := <-s.msgs:
		if !ok {
			select {
			case err := <-s.errs:
				if err != nil {
					return gatewayFrame{}, err
				}
			default:
			}
			return gatewayFrame{}, errors.New("gateway connection closed")
		}
		var fr gatewayFrame
		if err := json.Unmarshal(data, &fr); err != nil {
			return gatewayFrame{}, fmt.Errorf("gateway frame parse: %w", err)
		}
		return fr, nil
	}
}

func (s *wsSession) writeJSON(payload any, timeout time.Duration) error {
	if timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	return s.conn.WriteJSON(payload)
}

func (s *wsSession) close() {
	_ = s.conn.Close()
}
