package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Neomon11/LibLocker/pkg/protocol"
)

// defaultReadTimeout outlasts two server ping intervals
const defaultReadTimeout = 90 * time.Second

// Channel is one live connection to the server
type Channel interface {
	Send(env protocol.Envelope) error
	// Receive blocks for the next envelope. Malformed frames return an error
	// wrapping protocol.ErrMalformedEnvelope and leave the channel usable.
	Receive() (protocol.Envelope, error)
	Close() error
}

// Dialer opens channels to the server
type Dialer interface {
	Dial(ctx context.Context) (Channel, error)
}

// WebSocketDialer dials the server's /ws endpoint
type WebSocketDialer struct {
	url         string
	timeout     time.Duration
	readTimeout time.Duration
	dialer      *websocket.Dialer
}

// NewWebSocketDialer uses timeout for the handshake and for each write
func NewWebSocketDialer(url string, timeout time.Duration) *WebSocketDialer {
	return &WebSocketDialer{
		url:         url,
		timeout:     timeout,
		readTimeout: defaultReadTimeout,
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

func (d *WebSocketDialer) Dial(ctx context.Context) (Channel, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	conn, _, err := d.dialer.DialContext(dialCtx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}

	ch := &wsChannel{conn: conn, writeTimeout: d.timeout, readTimeout: d.readTimeout}
	// Server pings extend the read deadline; gorilla's default handler
	// would answer the pong without doing so
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(ch.readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(ch.writeTimeout))
	})
	return ch, nil
}

// wsChannel serializes writes; gorilla allows one concurrent writer
type wsChannel struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	readTimeout  time.Duration
	mu           sync.Mutex
	closeOnce    sync.Once
}

func (c *wsChannel) Send(env protocol.Envelope) error {
	data, err := protocol.Marshal(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsChannel) Receive() (protocol.Envelope, error) {
	c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return protocol.Envelope{}, err
	}
	return protocol.Unmarshal(data)
}

func (c *wsChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		err = c.conn.Close()
	})
	return err
}
