package rosbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DefaultCallTimeout bounds a service call when the caller's context has no deadline.
const DefaultCallTimeout = 10 * time.Second

// TopicHandler receives the msg payload of a publish frame.
type TopicHandler func(msg json.RawMessage)

// Client is a rosbridge v2 WebSocket client.
type Client struct {
	url    string
	logger *zap.Logger

	conn      *websocket.Conn
	connected bool
	connMu    sync.RWMutex
	writeMu   sync.Mutex

	msgID   int
	msgIDMu sync.Mutex

	pending   map[string]chan Message
	pendingMu sync.Mutex

	handlers   map[string]TopicHandler
	handlersMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates a client for url, e.g. ws://10.0.0.5:9090.
func NewClient(url string, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:      url,
		logger:   logger,
		pending:  make(map[string]chan Message),
		handlers: make(map[string]TopicHandler),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Connect dials the bridge and starts the receive loop.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.connected {
		return fmt.Errorf("already connected")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to rosbridge: %w", err)
	}

	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.conn = conn
	c.connected = true
	c.logger.Info("Connected to rosbridge", zap.String("url", c.url))

	go c.receiveMessages(conn)
	return nil
}

// Close shuts the connection down. Pending service calls fail.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.connected {
		return nil
	}
	c.connected = false
	c.cancel()

	c.writeMu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	err := c.conn.Close()
	c.conn = nil
	c.logger.Info("Disconnected from rosbridge")
	return err
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

func (c *Client) nextID(prefix string) string {
	c.msgIDMu.Lock()
	defer c.msgIDMu.Unlock()
	c.msgID++
	return prefix + ":" + strconv.Itoa(c.msgID)
}

func (c *Client) send(msg Message) error {
	c.connMu.RLock()
	conn := c.conn
	connected := c.connected
	c.connMu.RUnlock()
	if !connected {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Op, err)
	}
	return nil
}

// Advertise announces that the client will publish msgType on topic.
func (c *Client) Advertise(topic, msgType string) error {
	return c.send(Message{Op: OpAdvertise, ID: c.nextID("advertise"), Topic: topic, Type: msgType})
}

// Publish sends payload on topic.
func (c *Client) Publish(topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	return c.send(Message{Op: OpPublish, Topic: topic, Msg: raw})
}

// Subscribe routes publish frames for topic to handler.
func (c *Client) Subscribe(topic, msgType string, handler TopicHandler) error {
	c.handlersMu.Lock()
	c.handlers[topic] = handler
	c.handlersMu.Unlock()

	return c.send(Message{Op: OpSubscribe, ID: c.nextID("subscribe"), Topic: topic, Type: msgType})
}

// CallService invokes service with args and decodes the response values into out.
func (c *Client) CallService(ctx context.Context, service string, args, out any) error {
	rawArgs, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal %s args: %w", service, err)
	}

	id := c.nextID("call_service")
	respChan := make(chan Message, 1)
	c.pendingMu.Lock()
	c.pending[id] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.send(Message{Op: OpCallService, ID: id, Service: service, Args: rawArgs}); err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCallTimeout)
		defer cancel()
	}

	c.connMu.RLock()
	done := c.ctx.Done()
	c.connMu.RUnlock()

	select {
	case resp := <-respChan:
		if resp.Result != nil && !*resp.Result {
			return fmt.Errorf("service %s failed: %s", service, string(resp.Values))
		}
		if out != nil && len(resp.Values) > 0 {
			if err := json.Unmarshal(resp.Values, out); err != nil {
				return fmt.Errorf("decode %s response: %w", service, err)
			}
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for %s: %w", service, ctx.Err())
	case <-done:
		return fmt.Errorf("client disconnected")
	}
}

// receiveMessages reads frames until the connection closes.
func (c *Client) receiveMessages(conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if c.IsConnected() {
				c.logger.Error("Failed to read message", zap.Error(err))
				c.Close()
			}
			return
		}

		switch msg.Op {
		case OpPublish:
			c.handlersMu.RLock()
			handler := c.handlers[msg.Topic]
			c.handlersMu.RUnlock()
			if handler != nil {
				handler(msg.Msg)
			}

		case OpServiceResponse:
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.ID]; ok {
				select {
				case ch <- msg:
				default:
					c.logger.Warn("Response channel full", zap.String("id", msg.ID))
				}
			}
			c.pendingMu.Unlock()

		default:
			c.logger.Debug("Ignoring rosbridge frame", zap.String("op", msg.Op))
		}
	}
}
