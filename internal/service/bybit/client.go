package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"SwarmTrader/internal/domain/models"
	drepo "SwarmTrader/internal/domain/repository"
	"SwarmTrader/internal/service/ratelimit"
	"SwarmTrader/pkg/logger"

	"github.com/gorilla/websocket"
)

// subscribeBatch is the exchange's cap on args per subscribe request.
const subscribeBatch = 10

type Options struct {
	URL            string
	Symbols        []string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	SubscribeRPS   float64
	Logger         *logger.Logger
}

// Client implements a MarketStream over the Bybit v5 public linear ticker channel.
// Ticker deltas are merged per symbol so every emitted tick carries the last price
// and, once seen, the funding rate.
type Client struct {
	opts    Options
	limiter *ratelimit.Limiter
	logger  *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	writeMu   sync.Mutex

	state map[string]*tickerState
}

type tickerState struct {
	price      float64
	funding    float64
	hasFunding bool
	vol24h     float64
}

func New(opts Options) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 20 * time.Second
	}
	if opts.SubscribeRPS <= 0 {
		opts.SubscribeRPS = 5
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		opts:    opts,
		limiter: ratelimit.New(),
		logger:  log.With("bybit"),
		state:   make(map[string]*tickerState),
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("bybit connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.closed = false
	c.mu.Unlock()
	c.logger.Info("connected", logger.String("url", c.opts.URL))
	return nil
}

// Subscribe requests ticker topics for all symbols, paced through the limiter.
func (c *Client) Subscribe(ctx context.Context) error {
	if !c.IsConnected() {
		return fmt.Errorf("bybit not connected")
	}
	for i := 0; i < len(c.opts.Symbols); i += subscribeBatch {
		end := min(i+subscribeBatch, len(c.opts.Symbols))
		args := make([]string, 0, end-i)
		for _, s := range c.opts.Symbols[i:end] {
			args = append(args, "tickers."+strings.ToUpper(s))
		}
		if err := c.limiter.Wait(ctx, "subscribe", 1, c.opts.SubscribeRPS); err != nil {
			return err
		}
		if err := c.writeJSON(map[string]any{"op": "subscribe", "args": args}); err != nil {
			return fmt.Errorf("subscribe %v: %w", args, err)
		}
	}
	c.logger.Info("subscribed", logger.Int("symbols", len(c.opts.Symbols)))
	return nil
}

func (c *Client) writeJSON(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("bybit conn nil")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// Read streams ticks until ctx is done. Read errors are reported on the error
// channel and the loop waits for Reconnect to install a new connection.
func (c *Client) Read(ctx context.Context) (<-chan *models.Tick, <-chan error) {
	ticks := make(chan *models.Tick, 1024)
	errs := make(chan error, 1)

	go func() {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.IsConnected() {
					_ = c.writeJSON(map[string]string{"op": "ping"})
				}
			}
		}
	}()

	go func() {
		defer close(ticks)
		defer close(errs)
		for {
			if ctx.Err() != nil {
				return
			}
			c.mu.Lock()
			conn, closed := c.conn, c.closed
			c.mu.Unlock()
			if closed {
				return
			}
			if conn == nil {
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.opts.ReconnectDelay):
				}
				continue
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				c.markDown(conn)
				select {
				case errs <- fmt.Errorf("bybit read: %w", err):
				default:
				}
				continue
			}
			t := c.decode(b, time.Now())
			if t == nil {
				continue
			}
			select {
			case ticks <- t:
			default:
				// drop on backpressure
			}
		}
	}()

	return ticks, errs
}

func (c *Client) markDown(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
		c.connected = false
	}
}

type wsMessage struct {
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	TS      int64           `json:"ts"`
	Data    json.RawMessage `json:"data"`
}

type wsTicker struct {
	Symbol      string `json:"symbol"`
	LastPrice   string `json:"lastPrice"`
	FundingRate string `json:"fundingRate"`
	Volume24h   string `json:"volume24h"`
}

// decode merges one frame into the ticker state and returns the resulting tick,
// or nil for control frames and symbols without a price yet.
func (c *Client) decode(b []byte, now time.Time) *models.Tick {
	var m wsMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	if m.Success != nil {
		if !*m.Success {
			c.logger.Warn("request rejected", logger.String("op", m.Op), logger.String("msg", m.RetMsg))
		}
		return nil
	}
	if !strings.HasPrefix(m.Topic, "tickers.") || len(m.Data) == 0 {
		return nil
	}
	var d wsTicker
	if err := json.Unmarshal(m.Data, &d); err != nil {
		return nil
	}
	sym := d.Symbol
	if sym == "" {
		sym = strings.TrimPrefix(m.Topic, "tickers.")
	}

	st, ok := c.state[sym]
	if !ok || m.Type == "snapshot" {
		prev := st
		st = &tickerState{}
		if prev != nil {
			st.vol24h = prev.vol24h
		}
		c.state[sym] = st
	}
	if v, ok := parseFloat(d.LastPrice); ok {
		st.price = v
	}
	if v, ok := parseFloat(d.FundingRate); ok {
		st.funding = v
		st.hasFunding = true
	}
	var volume float64
	if v, ok := parseFloat(d.Volume24h); ok {
		// the exchange reports a rolling 24h total; a drop means the window rolled
		if st.vol24h > 0 && v >= st.vol24h {
			volume = v - st.vol24h
		}
		st.vol24h = v
	}
	if st.price <= 0 {
		return nil
	}

	ts := now
	if m.TS > 0 {
		ts = time.UnixMilli(m.TS)
	}
	return &models.Tick{
		Symbol:      sym,
		Price:       st.price,
		Volume:      volume,
		FundingRate: st.funding,
		HasFunding:  st.hasFunding,
		Timestamp:   ts.UTC(),
	}
}

func parseFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Reconnect closes and reconnects.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.opts.ReconnectDelay):
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection and ends the read loop.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.closed = true
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

var _ drepo.MarketStream = (*Client)(nil)
