// Package testutil provides testing utilities for robot drivers and plugins.
// This package contains a mock rosbridge WebSocket server and helpers for
// writing integration tests.
package testutil

import (
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper wraps a WebSocket connection with its write mutex
type connWrapper struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (w *connWrapper) write(frame Frame) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.WriteJSON(frame)
}

// Frame is a rosbridge v2 protocol frame as seen by the server
type Frame struct {
	Op      string          `json:"op"`
	ID      string          `json:"id,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Type    string          `json:"type,omitempty"`
	Msg     json.RawMessage `json:"msg,omitempty"`
	Service string          `json:"service,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	Values  json.RawMessage `json:"values,omitempty"`
	Result  *bool           `json:"result,omitempty"`
}

// ServiceResponse is the canned std_srvs/Trigger style answer for a service
type ServiceResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// MockRosbridgeServer simulates a rosbridge_server endpoint
type MockRosbridgeServer struct {
	server *httptest.Server

	connections []*connWrapper
	connsMu     sync.Mutex

	mu            sync.Mutex
	advertised    map[string]string
	subscriptions map[string]string
	published     []PublishedMessage
	serviceCalls  []ServiceCall
	responses     map[string]ServiceResponse
	failServices  map[string]bool
}

// NewMockRosbridgeServer creates a new mock server. Services without a
// configured response answer success with an empty message.
func NewMockRosbridgeServer() *MockRosbridgeServer {
	return &MockRosbridgeServer{
		connections:   make([]*connWrapper, 0),
		advertised:    make(map[string]string),
		subscriptions: make(map[string]string),
		responses:     make(map[string]ServiceResponse),
		failServices:  make(map[string]bool),
	}
}

// Start starts the mock server on a free local port
func (s *MockRosbridgeServer) Start() {
	s.server = httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
}

// URL returns the ws:// address of the running server
func (s *MockRosbridgeServer) URL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

// Stop closes every connection and the listener
func (s *MockRosbridgeServer) Stop() {
	s.connsMu.Lock()
	for _, wrapper := range s.connections {
		wrapper.conn.Close()
	}
	s.connections = nil
	s.connsMu.Unlock()

	if s.server != nil {
		s.server.Close()
	}
}

// SetServiceResponse configures the answer for service
func (s *MockRosbridgeServer) SetServiceResponse(service string, success bool, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[service] = ServiceResponse{Success: success, Message: message}
}

// FailService makes the bridge itself report service as failed (result=false)
func (s *MockRosbridgeServer) FailService(service string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failServices[service] = true
}

// PublishTo sends msg to every client subscribed to topic
func (s *MockRosbridgeServer) PublishTo(topic string, msg any) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	frame := Frame{Op: "publish", Topic: topic, Msg: raw}

	s.connsMu.Lock()
	wrappers := make([]*connWrapper, len(s.connections))
	copy(wrappers, s.connections)
	s.connsMu.Unlock()

	for _, wrapper := range wrappers {
		wrapper.write(frame)
	}
	return nil
}

// handleWebSocket handles WebSocket connections
func (s *MockRosbridgeServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	wrapper := &connWrapper{conn: conn}

	s.connsMu.Lock()
	s.connections = append(s.connections, wrapper)
	s.connsMu.Unlock()

	defer func() {
		s.connsMu.Lock()
		for i, w := range s.connections {
			if w.conn == conn {
				s.connections = append(s.connections[:i], s.connections[i+1:]...)
				break
			}
		}
		s.connsMu.Unlock()
		conn.Close()
	}()

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Op {
		case "advertise":
			s.mu.Lock()
			s.advertised[frame.Topic] = frame.Type
			s.mu.Unlock()
		case "subscribe":
			s.mu.Lock()
			s.subscriptions[frame.Topic] = frame.Type
			s.mu.Unlock()
		case "unsubscribe":
			s.mu.Lock()
			delete(s.subscriptions, frame.Topic)
			s.mu.Unlock()
		case "publish":
			s.mu.Lock()
			s.published = append(s.published, PublishedMessage{
				Timestamp: time.Now(),
				Topic:     frame.Topic,
				Msg:       frame.Msg,
			})
			s.mu.Unlock()
		case "call_service":
			s.handleCallService(wrapper, frame)
		}
	}
}

// handleCallService records the call and answers with the configured response
func (s *MockRosbridgeServer) handleCallService(wrapper *connWrapper, frame Frame) {
	var args map[string]any
	if len(frame.Args) > 0 {
		json.Unmarshal(frame.Args, &args)
	}

	s.mu.Lock()
	s.serviceCalls = append(s.serviceCalls, ServiceCall{
		Timestamp: time.Now(),
		Service:   frame.Service,
		Args:      args,
	})
	resp, ok := s.responses[frame.Service]
	if !ok {
		resp = ServiceResponse{Success: true}
	}
	failed := s.failServices[frame.Service]
	s.mu.Unlock()

	result := !failed
	values, _ := json.Marshal(resp)
	if failed {
		values, _ = json.Marshal("service unavailable")
	}
	wrapper.write(Frame{
		Op:      "service_response",
		ID:      frame.ID,
		Service: frame.Service,
		Values:  values,
		Result:  &result,
	})
}

// Advertised returns the message type advertised for topic
func (s *MockRosbridgeServer) Advertised(topic string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.advertised[topic]
	return t, ok
}

// Subscribed returns the message type subscribed on topic
func (s *MockRosbridgeServer) Subscribed(topic string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.subscriptions[topic]
	return t, ok
}

// GetPublished returns all messages clients published
func (s *MockRosbridgeServer) GetPublished() []PublishedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PublishedMessage, len(s.published))
	copy(out, s.published)
	return out
}

// GetServiceCalls returns all service calls since last clear
func (s *MockRosbridgeServer) GetServiceCalls() []ServiceCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls := make([]ServiceCall, len(s.serviceCalls))
	copy(calls, s.serviceCalls)
	return calls
}

// ClearRecorded resets the publish and service call logs
func (s *MockRosbridgeServer) ClearRecorded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = nil
	s.serviceCalls = nil
}

// WaitForPublished polls until at least n messages were published on topic
// or timeout elapses, and returns what arrived.
func (s *MockRosbridgeServer) WaitForPublished(topic string, n int, timeout time.Duration) []PublishedMessage {
	deadline := time.Now().Add(timeout)
	for {
		msgs := FilterPublished(s.GetPublished(), topic)
		if len(msgs) >= n || time.Now().After(deadline) {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// WaitForSubscription polls until a client subscribed to topic
func (s *MockRosbridgeServer) WaitForSubscription(topic string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if _, ok := s.Subscribed(topic); ok {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}
