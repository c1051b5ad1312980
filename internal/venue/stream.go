package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/quartzline/rudder/internal/domain"
)

const (
	dialTimeout        = 30 * time.Second
	baseReconnectDelay = 2 * time.Second
	maxReconnectDelay  = 2 * time.Minute
)

// Stream keeps a live quote cache fed by the venue's combined book-ticker
// websocket feed. The client consults it before making a REST round trip;
// the stream is an optimization, never a requirement, so a dead socket
// degrades to REST quotes without failing a cycle.
type Stream struct {
	url string
	log zerolog.Logger

	mu       sync.RWMutex
	quotes   map[string]quoteEntry
	symbols  []string
	conn     *websocket.Conn
	running  bool
	lastRecv time.Time
}

type quoteEntry struct {
	bid, ask float64
	fetched  time.Time
}

// streamMessage is one combined-stream frame: the payload carries the
// venue symbol and best bid/ask.
type streamMessage struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string `json:"s"`
		Bid    string `json:"b"`
		Ask    string `json:"a"`
	} `json:"data"`
}

// NewStream creates a quote stream for the given websocket base URL
func NewStream(url string, log zerolog.Logger) *Stream {
	return &Stream{
		url:    url,
		log:    log.With().Str("component", "venue_stream").Logger(),
		quotes: make(map[string]quoteEntry),
	}
}

// Run subscribes to the symbols' book-ticker streams and keeps the quote
// cache updated until ctx is cancelled, reconnecting with exponential
// backoff on socket failure. Blocks; callers run it in a goroutine.
func (s *Stream) Run(ctx context.Context, symbols []string) {
	s.mu.Lock()
	s.symbols = symbols
	s.running = true
	s.mu.Unlock()

	delay := baseReconnectDelay
	for {
		if err := s.connectAndRead(ctx, symbols); err != nil {
			if ctx.Err() != nil {
				break
			}
			s.log.Warn().Err(err).Dur("retry_in", delay).Msg("stream disconnected")
		}

		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Stream) connectAndRead(ctx context.Context, symbols []string) error {
	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(venueSymbol(sym)) + "@bookTicker"
	}
	url := fmt.Sprintf("%s/stream?streams=%s", s.url, strings.Join(streams, "/"))

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	// Book ticker frames are small; the default 32KB read limit is ample
	s.log.Info().Int("symbols", len(symbols)).Msg("stream connected")

	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("websocket read failed: %w", err)
		}
		s.handleFrame(payload)
	}
}

func (s *Stream) handleFrame(payload []byte) {
	var msg streamMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.log.Debug().Err(err).Msg("unparseable stream frame")
		return
	}
	if msg.Data.Symbol == "" {
		return
	}

	bid := parseFloat(msg.Data.Bid)
	ask := parseFloat(msg.Data.Ask)
	if bid <= 0 && ask <= 0 {
		return
	}

	now := time.Now().UTC()
	s.mu.Lock()
	s.quotes[msg.Data.Symbol] = quoteEntry{bid: bid, ask: ask, fetched: now}
	s.lastRecv = now
	s.mu.Unlock()
}

// Quote returns the cached live quote for a canonical symbol. The second
// return is false when the stream has never seen the symbol.
func (s *Stream) Quote(symbol string) (domain.PriceData, bool) {
	s.mu.RLock()
	entry, ok := s.quotes[venueSymbol(symbol)]
	s.mu.RUnlock()
	if !ok {
		return domain.PriceData{}, false
	}

	quote := domain.PriceData{
		Symbol:    symbol,
		Source:    "stream",
		Bid:       entry.bid,
		Ask:       entry.ask,
		Timestamp: entry.fetched,
		FetchedAt: entry.fetched,
	}
	if entry.bid > 0 && entry.ask > 0 {
		quote.Price = (entry.bid + entry.ask) / 2
		quote.Last = quote.Price
	}
	return quote, true
}

// Connected reports whether the read loop is live and recently fed
func (s *Stream) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running && time.Since(s.lastRecv) < time.Minute
}
