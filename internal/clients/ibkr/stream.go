package ibkr

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/swarmlab/apiary/internal/environment"
	"github.com/swarmlab/apiary/pkg/logger"
)

const (
	streamDialTimeout  = 30 * time.Second
	streamWriteWait    = 10 * time.Second
	baseReconnectDelay = 5 * time.Second
	maxReconnectDelay  = 5 * time.Minute
)

// Stream keeps the client's price cache (and the shared environment's
// market view) warm from a market data websocket, so agent polls rarely
// touch the REST API. Optional: the gateway works without it, just slower.
type Stream struct {
	url     string
	symbols []string
	client  *Client
	env     *environment.Environment
	log     zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	stopped   bool
	stopChan  chan struct{}
	doneChan  chan struct{}
}

// NewStream creates a market data stream feeding the given client's cache.
// The environment is optional; when set, ticks are observed into its price
// history as well.
func NewStream(url string, symbols []string, client *Client, env *environment.Environment, log zerolog.Logger) *Stream {
	return &Stream{
		url:      url,
		symbols:  symbols,
		client:   client,
		env:      env,
		log:      logger.Component(log, "ibkr_stream"),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start connects and launches the read loop. A failed initial connection
// is not fatal; the loop keeps retrying in the background.
func (s *Stream) Start() error {
	err := s.connect()
	if err != nil {
		s.log.Warn().Err(err).Msg("Initial stream connection failed, will retry in background")
	}

	go s.run()
	return err
}

// Stop closes the stream and waits for the read loop to exit.
func (s *Stream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	conn := s.conn
	s.mu.Unlock()

	close(s.stopChan)
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	<-s.doneChan
}

// Connected reports the current connection state.
func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// connect dials the websocket and subscribes to the symbol universe.
func (s *Stream) connect() error {
	dialCtx, cancel := context.WithTimeout(context.Background(), streamDialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial market data stream: %w", err)
	}

	writeCtx, writeCancel := context.WithTimeout(context.Background(), streamWriteWait)
	defer writeCancel()

	sub, err := json.Marshal(map[string]interface{}{"subscribe": s.symbols})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe marshal failed")
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}
	if err := conn.Write(writeCtx, websocket.MessageText, sub); err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	s.log.Info().Str("url", s.url).Int("symbols", len(s.symbols)).Msg("Market data stream connected")
	return nil
}

// run is the read loop with capped exponential reconnect.
func (s *Stream) run() {
	defer close(s.doneChan)

	attempt := 0
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		s.mu.Lock()
		conn := s.conn
		connected := s.connected
		s.mu.Unlock()

		if !connected {
			attempt++
			delay := reconnectDelay(attempt)
			s.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting market data stream")
			select {
			case <-s.stopChan:
				return
			case <-time.After(delay):
			}
			if err := s.connect(); err != nil {
				s.log.Error().Err(err).Int("attempt", attempt).Msg("Stream reconnection failed")
			}
			continue
		}
		attempt = 0

		msgType, message, err := conn.Read(context.Background())
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.conn = nil
			s.connected = false
			s.mu.Unlock()

			if stopped {
				return
			}
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				s.log.Info().Msg("Stream closed by server, reconnecting")
			} else {
				s.log.Error().Err(err).Msg("Stream read error, reconnecting")
			}
			continue
		}

		if msgType != websocket.MessageText {
			continue
		}
		if err := s.handleTick(message); err != nil {
			s.log.Debug().Err(err).Msg("Ignoring malformed stream message")
		}
	}
}

// handleTick applies one price update to the caches.
func (s *Stream) handleTick(message []byte) error {
	var tick streamTick
	if err := json.Unmarshal(message, &tick); err != nil {
		return fmt.Errorf("failed to parse tick: %w", err)
	}
	if tick.Symbol == "" || tick.Last <= 0 {
		return fmt.Errorf("invalid tick: symbol=%q last=%v", tick.Symbol, tick.Last)
	}

	s.client.setCachedPrice(tick.Symbol, tick.Last)
	if s.env != nil {
		s.env.ObservePrice(tick.Symbol, tick.Last)
	}
	return nil
}

// reconnectDelay is capped exponential backoff.
func reconnectDelay(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}
