package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sweepworld/server/internal/auth"
	"github.com/sweepworld/server/internal/chunkservice"
	"github.com/sweepworld/server/internal/gridmap"
	"github.com/sweepworld/server/internal/performance"
	"github.com/sweepworld/server/internal/streaming"
)

const (
	// Supported WebSocket protocol versions
	ProtocolVersion1 = "sweepworld-v1"

	// Default ping interval (30 seconds)
	defaultPingInterval = 30 * time.Second

	// Pong wait timeout (60 seconds)
	pongWait = 60 * time.Second

	// Write timeout (10 seconds)
	writeTimeout = 10 * time.Second

	// Largest client message accepted
	maxMessageSize = 64 << 10

	// Outgoing messages buffered per connection
	sendBufferSize = 256

	// Chunks carried by a single stream_delta message
	streamBatchSize = 64
)

var (
	errConnectionClosed = errors.New("connection closed")
	errSendBufferFull   = errors.New("send buffer full")
)

// WebSocketConnection represents an active WebSocket connection
type WebSocketConnection struct {
	conn    *websocket.Conn
	userID  int64
	version string
	hub     *WebSocketHub
	ctx     context.Context
	cancel  context.CancelFunc

	mu            sync.Mutex
	send          chan []byte
	closed        bool
	subscriptions map[string]struct{}
}

// WebSocketHub tracks all active WebSocket connections
type WebSocketHub struct {
	connections map[*WebSocketConnection]bool
	register    chan *WebSocketConnection
	unregister  chan *WebSocketConnection
	stop        chan struct{}
	done        chan struct{}
	stopOnce    sync.Once
	mu          sync.RWMutex
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WebSocketError represents an error message sent over WebSocket
type WebSocketError struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// StreamAckData is the payload of a stream_ack message.
type StreamAckData struct {
	SubscriptionID string   `json:"subscription_id"`
	ChunkIDs       []string `json:"chunk_ids"`
}

// StreamDeltaData is the payload of a stream_delta message. Large windows
// are split across several messages; Complete marks the last one.
type StreamDeltaData struct {
	SubscriptionID string          `json:"subscription_id"`
	AddedChunks    []ChunkResponse `json:"added_chunks"`
	RemovedChunks  []string        `json:"removed_chunks"`
	Complete       bool            `json:"complete"`
}

// StreamUpdateViewportData is the payload of a stream_update_viewport message.
type StreamUpdateViewportData struct {
	SubscriptionID string       `json:"subscription_id"`
	Viewport       gridmap.Rect `json:"viewport"`
}

// StreamUnsubscribeData is the payload of stream_unsubscribe and its reply.
type StreamUnsubscribeData struct {
	SubscriptionID string `json:"subscription_id"`
}

// NewWebSocketHub creates a new WebSocket hub
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		connections: make(map[*WebSocketConnection]bool),
		register:    make(chan *WebSocketConnection),
		unregister:  make(chan *WebSocketConnection),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Run starts the hub's main loop. It returns after Stop.
func (h *WebSocketHub) Run() {
	defer close(h.done)
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn] = true
			h.mu.Unlock()
			log.Printf("WebSocket connection registered: user_id=%d, version=%s", conn.userID, conn.version)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				conn.closeSend()
			}
			h.mu.Unlock()
			log.Printf("WebSocket connection unregistered: user_id=%d", conn.userID)

		case <-h.stop:
			h.mu.Lock()
			for conn := range h.connections {
				conn.closeSend()
				delete(h.connections, conn)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop closes every connection and ends Run.
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

// Count returns the number of registered connections.
func (h *WebSocketHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *WebSocketHub) add(conn *WebSocketConnection) bool {
	select {
	case h.register <- conn:
		return true
	case <-h.done:
		return false
	}
}

func (h *WebSocketHub) remove(conn *WebSocketConnection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// WebSocketHandlers handles WebSocket connections
type WebSocketHandlers struct {
	hub           *WebSocketHub
	service       *chunkservice.Service
	streamManager *streaming.Manager
	profiler      *performance.Profiler
	upgrader      websocket.Upgrader
}

// NewWebSocketHandlers creates WebSocket handlers and starts their hub.
// Call Close to shut the hub down.
func NewWebSocketHandlers(service *chunkservice.Service, streamManager *streaming.Manager, profiler *performance.Profiler, allowedOrigins []string) *WebSocketHandlers {
	h := &WebSocketHandlers{
		hub:           NewWebSocketHub(),
		service:       service,
		streamManager: streamManager,
		profiler:      profiler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(allowedOrigins, r.Header.Get("Origin"))
			},
		},
	}
	go h.hub.Run()
	return h
}

// HandleWebSocket handles WebSocket connection upgrades. It must run
// behind auth.Middleware.Authenticate.
func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r)
	if !ok {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	requestedVersions := r.Header.Get("Sec-WebSocket-Protocol")
	selectedVersion := negotiateVersion(requestedVersions)
	if selectedVersion == "" {
		log.Printf("WebSocket version negotiation failed: requested=%s", requestedVersions)
		http.Error(w, "Unsupported protocol version", http.StatusBadRequest)
		return
	}

	// Only echo a protocol the client asked for; browsers reject others.
	var responseHeaders http.Header
	if requestedVersions != "" {
		responseHeaders = http.Header{}
		responseHeaders.Set("Sec-WebSocket-Protocol", selectedVersion)
	}

	conn, err := h.upgrader.Upgrade(w, r, responseHeaders)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	wsConn := &WebSocketConnection{
		conn:          conn,
		userID:        userID,
		version:       selectedVersion,
		hub:           h.hub,
		ctx:           ctx,
		cancel:        cancel,
		send:          make(chan []byte, sendBufferSize),
		subscriptions: make(map[string]struct{}),
	}

	if !h.hub.add(wsConn) {
		cancel()
		conn.Close()
		return
	}

	go wsConn.writePump()
	go wsConn.readPump(h)
}

// Close stops the hub, closing all connections.
func (h *WebSocketHandlers) Close() {
	h.hub.Stop()
}

// GetHub returns the connection hub
func (h *WebSocketHandlers) GetHub() *WebSocketHub {
	return h.hub
}

// negotiateVersion selects the highest supported protocol version
func negotiateVersion(requested string) string {
	if requested == "" {
		return ProtocolVersion1
	}

	supportedVersions := []string{ProtocolVersion1}
	for _, supported := range supportedVersions {
		for _, version := range strings.Split(requested, ",") {
			if strings.TrimSpace(version) == supported {
				return supported
			}
		}
	}
	return ""
}

// readPump handles incoming messages from the WebSocket connection
func (c *WebSocketConnection) readPump(handlers *WebSocketHandlers) {
	defer func() {
		c.cancel()
		handlers.streamManager.RemoveSubscriptions(c.subscriptionIDs())
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}

		var msg WebSocketMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			c.sendError("", "Invalid message format", "InvalidMessageFormat")
			continue
		}

		// Handled inline so deltas reach the client in request order.
		handlers.handleMessage(c, &msg)
	}
}

// writePump handles outgoing messages to the WebSocket connection
func (c *WebSocketConnection) writePump() {
	ticker := time.NewTicker(defaultPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WebSocketConnection) enqueue(message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnectionClosed
	}
	select {
	case c.send <- message:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *WebSocketConnection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WebSocketConnection) addSubscription(id string) {
	c.mu.Lock()
	c.subscriptions[id] = struct{}{}
	c.mu.Unlock()
}

func (c *WebSocketConnection) removeSubscription(id string) {
	c.mu.Lock()
	delete(c.subscriptions, id)
	c.mu.Unlock()
}

func (c *WebSocketConnection) ownsSubscription(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[id]
	return ok
}

func (c *WebSocketConnection) subscriptionIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.subscriptions))
	for id := range c.subscriptions {
		ids = append(ids, id)
	}
	return ids
}

// sendMessage marshals and queues a message. A client that cannot keep up
// is disconnected.
func (c *WebSocketConnection) sendMessage(messageType, id string, payload interface{}) {
	msg := WebSocketMessage{Type: messageType, ID: id}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("Failed to marshal %s payload: %v", messageType, err)
			return
		}
		msg.Data = data
	}
	c.sendRaw(messageType, msg)
}

func (c *WebSocketConnection) sendRaw(messageType string, v interface{}) {
	bytes, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to marshal %s message: %v", messageType, err)
		return
	}
	switch err := c.enqueue(bytes); {
	case errors.Is(err, errSendBufferFull):
		log.Printf("[Stream] Dropping slow connection: user_id=%d, message=%s", c.userID, messageType)
		c.conn.Close()
	case err != nil:
		// Connection already closing.
	}
}

// sendError sends an error message to the client
func (c *WebSocketConnection) sendError(id, errorMsg, code string) {
	c.sendRaw("error", WebSocketError{
		Type:    "error",
		ID:      id,
		Error:   errorMsg,
		Message: errorMsg,
		Code:    code,
	})
}

// handleMessage routes messages to appropriate handlers
func (h *WebSocketHandlers) handleMessage(conn *WebSocketConnection, msg *WebSocketMessage) {
	switch msg.Type {
	case "ping":
		conn.sendMessage("pong", msg.ID, nil)
	case "stream_subscribe":
		h.handleStreamSubscribe(conn, msg)
	case "stream_update_viewport":
		h.handleStreamUpdateViewport(conn, msg)
	case "stream_unsubscribe":
		h.handleStreamUnsubscribe(conn, msg)
	default:
		conn.sendError(msg.ID, "Unknown message type", "UnknownMessageType")
	}
}

// handleStreamSubscribe registers a subscription and streams its chunks.
func (h *WebSocketHandlers) handleStreamSubscribe(conn *WebSocketConnection, msg *WebSocketMessage) {
	var req streaming.SubscriptionRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		conn.sendError(msg.ID, "Invalid stream_subscribe payload", "InvalidMessageFormat")
		return
	}

	op := h.profiler.Start("stream_subscribe")
	plan, err := h.streamManager.PlanSubscription(conn.userID, req)
	op.End()
	if err != nil {
		log.Printf("[Stream] PlanSubscription failed: user_id=%d: %v", conn.userID, err)
		conn.sendError(msg.ID, err.Error(), "InvalidSubscriptionRequest")
		return
	}
	conn.addSubscription(plan.SubscriptionID)

	log.Printf("[Stream] stream_subscribe: user_id=%d, subscription_id=%s, chunk_count=%d",
		conn.userID, plan.SubscriptionID, len(plan.ChunkIDs))

	conn.sendMessage("stream_ack", msg.ID, StreamAckData{
		SubscriptionID: plan.SubscriptionID,
		ChunkIDs:       plan.ChunkIDs,
	})

	h.deliverChunks(conn, msg.ID, plan.SubscriptionID, plan.ChunkIDs, nil)
}

// handleStreamUpdateViewport moves a subscription's window and streams the
// difference.
func (h *WebSocketHandlers) handleStreamUpdateViewport(conn *WebSocketConnection, msg *WebSocketMessage) {
	var req StreamUpdateViewportData
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		conn.sendError(msg.ID, "Invalid stream_update_viewport payload", "InvalidMessageFormat")
		return
	}
	if !conn.ownsSubscription(req.SubscriptionID) {
		conn.sendError(msg.ID, "Unknown subscription", "SubscriptionNotFound")
		return
	}

	op := h.profiler.Start("stream_update_viewport")
	delta, err := h.streamManager.UpdateViewport(conn.userID, req.SubscriptionID, req.Viewport)
	op.End()
	if err != nil {
		if errors.Is(err, streaming.ErrSubscriptionNotFound) {
			conn.removeSubscription(req.SubscriptionID)
			conn.sendError(msg.ID, err.Error(), "SubscriptionNotFound")
			return
		}
		conn.sendError(msg.ID, err.Error(), "InvalidViewport")
		return
	}

	h.deliverChunks(conn, msg.ID, delta.SubscriptionID, delta.AddedChunks, delta.RemovedChunks)
}

func (h *WebSocketHandlers) handleStreamUnsubscribe(conn *WebSocketConnection, msg *WebSocketMessage) {
	var req StreamUnsubscribeData
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		conn.sendError(msg.ID, "Invalid stream_unsubscribe payload", "InvalidMessageFormat")
		return
	}
	if !conn.ownsSubscription(req.SubscriptionID) {
		conn.sendError(msg.ID, "Unknown subscription", "SubscriptionNotFound")
		return
	}
	conn.removeSubscription(req.SubscriptionID)
	if err := h.streamManager.RemoveSubscription(conn.userID, req.SubscriptionID); err != nil {
		log.Printf("[Stream] RemoveSubscription failed: %v", err)
	}
	conn.sendMessage("stream_unsubscribed", msg.ID, req)
}

// deliverChunks loads the added chunks and sends them as one or more
// stream_delta messages. Removed IDs travel with the first message.
func (h *WebSocketHandlers) deliverChunks(conn *WebSocketConnection, messageID, subscriptionID string, added, removed []string) {
	op := h.profiler.Start("stream_deliver")
	defer op.End()

	coords := make([]gridmap.ChunkCoord, 0, len(added))
	for _, id := range added {
		coord, err := gridmap.ParseChunkID(id)
		if err != nil {
			log.Printf("[Stream] Skipping invalid chunk ID %s: %v", id, err)
			continue
		}
		coords = append(coords, coord)
	}

	chunks, err := h.service.GetChunks(conn.ctx, coords)
	if err != nil {
		if conn.ctx.Err() == nil {
			log.Printf("[Stream] Failed to load %d chunks for subscription %s: %v", len(coords), subscriptionID, err)
			conn.sendError(messageID, "Failed to load chunks", "ChunkUnavailable")
		}
		return
	}

	seed := h.service.WorldInfo().Seed
	if removed == nil {
		removed = []string{}
	}
	start := 0
	for {
		end := min(start+streamBatchSize, len(chunks))
		batch := make([]ChunkResponse, 0, end-start)
		for i := start; i < end; i++ {
			cr, err := newCompressedChunkResponse(seed, &chunks[i])
			if err != nil {
				log.Printf("[Stream] Failed to compress chunk %s: %v", coords[i], err)
				conn.sendError(messageID, "Failed to encode chunks", "CompressionFailed")
				return
			}
			batch = append(batch, cr)
		}

		conn.sendMessage("stream_delta", messageID, StreamDeltaData{
			SubscriptionID: subscriptionID,
			AddedChunks:    batch,
			RemovedChunks:  removed,
			Complete:       end == len(chunks),
		})
		h.profiler.Add("stream_chunks_sent", int64(len(batch)))

		if end == len(chunks) {
			return
		}
		removed = []string{}
		start = end
	}
}
