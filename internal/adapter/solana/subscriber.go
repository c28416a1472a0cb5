package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// SubscriberConfig configures AccountSubscriber.
type SubscriberConfig struct {
	Commitment        string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	WriteTimeout      time.Duration
	PingInterval      time.Duration
}

// DefaultSubscriberConfig returns the reconnect and keepalive defaults.
func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		Commitment:        "confirmed",
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
		WriteTimeout:      10 * time.Second,
		PingInterval:      30 * time.Second,
	}
}

// AccountSubscriber holds an accountSubscribe stream for every watched
// address and calls onChange with the address whenever the node reports a
// change. It reconnects with capped exponential backoff.
type AccountSubscriber struct {
	endpoint  string
	addresses []string
	onChange  func(address string)
	cfg       SubscriberConfig
	dialer    *websocket.Dialer
	log       zerolog.Logger
}

// NewAccountSubscriber creates a subscriber; Run starts it.
func NewAccountSubscriber(endpoint string, addresses []string, onChange func(address string), cfg SubscriberConfig, log zerolog.Logger) *AccountSubscriber {
	def := DefaultSubscriberConfig()
	if cfg.Commitment == "" {
		cfg.Commitment = def.Commitment
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = def.MaxReconnectDelay
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &AccountSubscriber{
		endpoint:  endpoint,
		addresses: addresses,
		onChange:  onChange,
		cfg:       cfg,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:       log,
	}
}

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type wsMessage struct {
	ID     *uint64         `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
	Method string          `json:"method,omitempty"`
	Params *struct {
		Subscription uint64 `json:"subscription"`
	} `json:"params,omitempty"`
}

// Run keeps the subscription alive until ctx is cancelled.
func (s *AccountSubscriber) Run(ctx context.Context) error {
	if len(s.addresses) == 0 {
		<-ctx.Done()
		return nil
	}

	delay := s.cfg.ReconnectDelay
	for {
		start := time.Now()
		err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		// A session that stayed up for a while resets the backoff.
		if time.Since(start) > s.cfg.MaxReconnectDelay {
			delay = s.cfg.ReconnectDelay
		}
		s.log.Warn().Err(err).Dur("retry_in", delay).Msg("account subscription dropped")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

func (s *AccountSubscriber) session(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	pending := make(map[uint64]string, len(s.addresses))
	for i, addr := range s.addresses {
		id := uint64(i + 1)
		pending[id] = addr
		req := wsRequest{
			JSONRPC: "2.0",
			ID:      id,
			Method:  "accountSubscribe",
			Params: []interface{}{
				addr,
				map[string]string{"encoding": "base64", "commitment": s.cfg.Commitment},
			},
		}
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := conn.WriteJSON(req); err != nil {
			return fmt.Errorf("write subscribe: %w", err)
		}
	}

	if s.cfg.PingInterval > 0 {
		go s.pingLoop(conn, done)
	}

	subs := make(map[uint64]string, len(s.addresses))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.log.Debug().Err(err).Msg("ignoring malformed websocket message")
			continue
		}

		switch {
		case msg.ID != nil:
			addr, ok := pending[*msg.ID]
			if !ok {
				continue
			}
			delete(pending, *msg.ID)
			if msg.Error != nil {
				return fmt.Errorf("subscribe %s: %w", addr, msg.Error)
			}
			var subID uint64
			if err := json.Unmarshal(msg.Result, &subID); err != nil {
				return fmt.Errorf("subscribe %s: bad subscription id: %w", addr, err)
			}
			subs[subID] = addr
			s.log.Info().Str("address", addr).Uint64("subscription", subID).Msg("account subscription active")

		case msg.Method == "accountNotification" && msg.Params != nil:
			addr, ok := subs[msg.Params.Subscription]
			if !ok {
				continue
			}
			s.log.Debug().Str("address", addr).Msg("account changed")
			s.onChange(addr)
		}
	}
}

func (s *AccountSubscriber) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(s.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout))
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				return
			}
		}
	}
}
