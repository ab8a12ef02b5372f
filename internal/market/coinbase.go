package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	coinbaseWSURL        = "wss://ws-feed.exchange.coinbase.com"
	pingInterval         = 30 * time.Second
	reconnectDelay       = 5 * time.Second
	maxReconnectAttempts = 10
)

// CoinbaseFeed streams ticker quotes from the Coinbase Exchange WebSocket.
type CoinbaseFeed struct {
	wsURL       string
	conn        *websocket.Conn
	connMux     sync.RWMutex
	isConnected bool

	subscriber Subscriber
	subMux     sync.RWMutex

	subscribed    map[string]bool
	subscribedMux sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reconnectAttempts int
}

// NewCoinbaseFeed creates a new CoinbaseFeed. An empty wsURL selects the
// production endpoint.
func NewCoinbaseFeed(wsURL string) *CoinbaseFeed {
	if wsURL == "" {
		wsURL = coinbaseWSURL
	}
	return &CoinbaseFeed{
		wsURL:      wsURL,
		subscribed: make(map[string]bool),
	}
}

// IsConnected returns whether the WebSocket is connected
func (f *CoinbaseFeed) IsConnected() bool {
	f.connMux.RLock()
	defer f.connMux.RUnlock()
	return f.isConnected
}

// Connect establishes the WebSocket connection and starts the read loops
func (f *CoinbaseFeed) Connect(ctx context.Context) error {
	f.ctx, f.cancel = context.WithCancel(ctx)

	if err := f.connect(); err != nil {
		return err
	}

	f.wg.Add(1)
	go f.messageLoop()

	f.wg.Add(1)
	go f.pingLoop()

	return nil
}

func (f *CoinbaseFeed) connect() error {
	f.connMux.Lock()
	defer f.connMux.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.Dial(f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to Coinbase WebSocket: %w", err)
	}

	f.conn = conn
	f.isConnected = true
	f.reconnectAttempts = 0

	log.Printf("[Coinbase] WebSocket connected")

	// Resubscribe to previous products
	f.subscribedMux.RLock()
	symbols := make([]string, 0, len(f.subscribed))
	for symbol := range f.subscribed {
		symbols = append(symbols, symbol)
	}
	f.subscribedMux.RUnlock()

	if len(symbols) > 0 {
		go f.subscribe(symbols)
	}

	return nil
}

// Subscribe subscribes to ticker updates for the given products
func (f *CoinbaseFeed) Subscribe(symbols []string) error {
	f.subscribedMux.Lock()
	for _, symbol := range symbols {
		f.subscribed[strings.ToUpper(symbol)] = true
	}
	f.subscribedMux.Unlock()

	return f.subscribe(symbols)
}

func (f *CoinbaseFeed) subscribe(symbols []string) error {
	if !f.IsConnected() {
		return fmt.Errorf("not connected")
	}

	products := make([]string, len(symbols))
	for i, symbol := range symbols {
		products[i] = strings.ToUpper(symbol)
	}

	msg := map[string]interface{}{
		"type":        "subscribe",
		"product_ids": products,
		"channels":    []string{"ticker"},
	}

	f.connMux.RLock()
	err := f.conn.WriteJSON(msg)
	f.connMux.RUnlock()

	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	log.Printf("[Coinbase] Subscribed to %d products", len(products))
	return nil
}

// SetSubscriber sets the quote subscriber
func (f *CoinbaseFeed) SetSubscriber(subscriber Subscriber) {
	f.subMux.Lock()
	defer f.subMux.Unlock()
	f.subscriber = subscriber
}

func (f *CoinbaseFeed) messageLoop() {
	defer f.wg.Done()

	for {
		select {
		case <-f.ctx.Done():
			return
		default:
		}

		f.connMux.RLock()
		conn := f.conn
		f.connMux.RUnlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Coinbase] WebSocket error: %v", err)
			}
			f.handleDisconnect()
			continue
		}

		f.handleMessage(message)
	}
}

func (f *CoinbaseFeed) handleMessage(message []byte) {
	var msg struct {
		Type      string `json:"type"`
		ProductID string `json:"product_id"`
		Price     string `json:"price"`
		BestBid   string `json:"best_bid"`
		BestAsk   string `json:"best_ask"`
		Time      string `json:"time"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}

	if msg.Type != "ticker" || msg.ProductID == "" {
		return
	}

	last, _ := strconv.ParseFloat(msg.Price, 64)
	bid, _ := strconv.ParseFloat(msg.BestBid, 64)
	ask, _ := strconv.ParseFloat(msg.BestAsk, 64)

	ts, err := time.Parse(time.RFC3339Nano, msg.Time)
	if err != nil {
		ts = time.Now().UTC()
	}

	update := PriceUpdate{
		Symbol: msg.ProductID,
		Bid:    bid,
		Ask:    ask,
		Last:   last,
		Ts:     ts,
	}

	f.subMux.RLock()
	subscriber := f.subscriber
	f.subMux.RUnlock()

	if subscriber != nil {
		subscriber.OnPriceUpdate(update)
	}
}

func (f *CoinbaseFeed) handleDisconnect() {
	f.connMux.Lock()
	f.isConnected = false
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connMux.Unlock()

	for f.reconnectAttempts < maxReconnectAttempts {
		select {
		case <-f.ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}

		f.reconnectAttempts++
		log.Printf("[Coinbase] Attempting reconnect %d/%d", f.reconnectAttempts, maxReconnectAttempts)

		if err := f.connect(); err != nil {
			log.Printf("[Coinbase] Reconnect failed: %v", err)
			continue
		}

		return
	}

	log.Printf("[Coinbase] Max reconnect attempts reached")
}

func (f *CoinbaseFeed) pingLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			f.connMux.RLock()
			conn := f.conn
			isConnected := f.isConnected
			f.connMux.RUnlock()

			if !isConnected || conn == nil {
				continue
			}

			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[Coinbase] Ping failed: %v", err)
			}
		}
	}
}

// Close closes the WebSocket connection
func (f *CoinbaseFeed) Close() error {
	if f.cancel != nil {
		f.cancel()
	}

	f.connMux.Lock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.isConnected = false
	f.connMux.Unlock()

	f.wg.Wait()

	log.Printf("[Coinbase] WebSocket closed")
	return nil
}
