package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sweepworld/server/internal/auth"
	"github.com/sweepworld/server/internal/compression"
	"github.com/sweepworld/server/internal/gridmap"
)

// wsClient is a test WebSocket client with a read timeout on every message.
type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialTestServer(t *testing.T, f *testFramework, query string, protocols ...string) *wsClient {
	t.Helper()
	server := httptest.NewServer(f.handler)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws" + query
	dialer := websocket.Dialer{Subprotocols: protocols, HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("Dial failed (status %d): %v", status, err)
	}
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(msgType, id string, data interface{}) {
	c.t.Helper()
	msg := map[string]interface{}{"type": msgType, "id": id}
	if data != nil {
		msg["data"] = data
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		c.t.Fatalf("WriteJSON failed: %v", err)
	}
}

func (c *wsClient) read() WebSocketMessage {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg WebSocketMessage
	if err := c.conn.ReadJSON(&msg); err != nil {
		c.t.Fatalf("ReadJSON failed: %v", err)
	}
	return msg
}

func (c *wsClient) readType(want string) WebSocketMessage {
	c.t.Helper()
	msg := c.read()
	if msg.Type != want {
		c.t.Fatalf("Expected %s message, got %s: %s", want, msg.Type, msg.Data)
	}
	return msg
}

func (c *wsClient) readError() WebSocketError {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var e WebSocketError
	if err := c.conn.ReadJSON(&e); err != nil {
		c.t.Fatalf("ReadJSON failed: %v", err)
	}
	if e.Type != "error" {
		c.t.Fatalf("Expected error message, got %+v", e)
	}
	return e
}

// readDelta reads stream_delta messages until one is marked complete and
// merges them.
func (c *wsClient) readDelta() StreamDeltaData {
	c.t.Helper()
	var merged StreamDeltaData
	for {
		msg := c.readType("stream_delta")
		var part StreamDeltaData
		if err := json.Unmarshal(msg.Data, &part); err != nil {
			c.t.Fatalf("Invalid stream_delta payload: %v", err)
		}
		merged.SubscriptionID = part.SubscriptionID
		merged.AddedChunks = append(merged.AddedChunks, part.AddedChunks...)
		merged.RemovedChunks = append(merged.RemovedChunks, part.RemovedChunks...)
		if part.Complete {
			merged.Complete = true
			return merged
		}
	}
}

func chunkIDs(chunks []ChunkResponse) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}

func subscribe(c *wsClient, viewport gridmap.Rect, margin int) StreamAckData {
	c.t.Helper()
	c.send("stream_subscribe", "sub-1", map[string]interface{}{
		"viewport":      viewport,
		"margin_chunks": margin,
	})
	msg := c.readType("stream_ack")
	if msg.ID != "sub-1" {
		c.t.Errorf("Expected ack ID sub-1, got %s", msg.ID)
	}
	var ack StreamAckData
	if err := json.Unmarshal(msg.Data, &ack); err != nil {
		c.t.Fatalf("Invalid stream_ack payload: %v", err)
	}
	return ack
}

func TestWebSocketPing(t *testing.T) {
	f := newTestFramework(t, false, false)
	client := dialTestServer(t, f, "", ProtocolVersion1)

	if got := client.conn.Subprotocol(); got != ProtocolVersion1 {
		t.Errorf("Expected subprotocol %s, got %q", ProtocolVersion1, got)
	}

	client.send("ping", "p1", nil)
	msg := client.readType("pong")
	if msg.ID != "p1" {
		t.Errorf("Expected pong ID p1, got %s", msg.ID)
	}
}

func TestWebSocketWithoutSubprotocol(t *testing.T) {
	f := newTestFramework(t, false, false)
	client := dialTestServer(t, f, "")
	if got := client.conn.Subprotocol(); got != "" {
		t.Errorf("Expected no subprotocol echoed, got %q", got)
	}
}

func TestWebSocketRejectsUnknownProtocol(t *testing.T) {
	f := newTestFramework(t, false, false)
	server := httptest.NewServer(f.handler)
	defer server.Close()

	dialer := websocket.Dialer{Subprotocols: []string{"sweepworld-v9"}}
	_, resp, err := dialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	if err == nil {
		t.Fatal("Expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %v", resp)
	}
}

func TestWebSocketAuth(t *testing.T) {
	f := newTestFramework(t, true, false)
	server := httptest.NewServer(f.handler)
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Expected dial without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %v", resp)
	}

	client := dialTestServer(t, f, "?token="+f.token(t, 9, auth.RolePlayer))
	client.send("ping", "", nil)
	client.readType("pong")
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	f := newTestFramework(t, false, false)
	server := httptest.NewServer(f.handler)
	defer server.Close()

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", header)
	if err == nil {
		t.Fatal("Expected dial from foreign origin to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected status 403, got %v", resp)
	}
}

func TestWebSocketUnknownMessage(t *testing.T) {
	f := newTestFramework(t, false, false)
	client := dialTestServer(t, f, "")

	client.send("teleport", "t1", nil)
	e := client.readError()
	if e.Code != "UnknownMessageType" || e.ID != "t1" {
		t.Errorf("Unexpected error: %+v", e)
	}

	if err := client.conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	if e := client.readError(); e.Code != "InvalidMessageFormat" {
		t.Errorf("Expected InvalidMessageFormat, got %+v", e)
	}
}

func TestStreamSubscribeDeliversChunks(t *testing.T) {
	f := newTestFramework(t, false, false)
	client := dialTestServer(t, f, "", ProtocolVersion1)

	ack := subscribe(client, gridmap.Rect{X1: 0, Y1: 0, X2: 32, Y2: 16}, 0)
	if !slices.Equal(ack.ChunkIDs, []string{"0_0", "1_0"}) {
		t.Fatalf("Expected chunk IDs [0_0 1_0], got %v", ack.ChunkIDs)
	}
	if ack.SubscriptionID == "" {
		t.Fatal("Expected subscription ID")
	}

	delta := client.readDelta()
	if delta.SubscriptionID != ack.SubscriptionID {
		t.Errorf("Expected delta for %s, got %s", ack.SubscriptionID, delta.SubscriptionID)
	}
	if got := chunkIDs(delta.AddedChunks); !slices.Equal(got, ack.ChunkIDs) {
		t.Errorf("Expected added %v, got %v", ack.ChunkIDs, got)
	}
	if len(delta.RemovedChunks) != 0 {
		t.Errorf("Expected no removed chunks, got %v", delta.RemovedChunks)
	}

	for _, cr := range delta.AddedChunks {
		seed, chunk, err := compression.ParseCompressedChunk(cr.Compressed)
		if err != nil {
			t.Fatalf("ParseCompressedChunk(%s) failed: %v", cr.ID, err)
		}
		if seed != 1 {
			t.Errorf("Expected seed 1, got %d", seed)
		}
		if chunk != f.generator.Generate(cr.X, cr.Y) {
			t.Errorf("Streamed chunk %s differs from generator", cr.ID)
		}
	}

	if f.streams.Count() != 1 {
		t.Errorf("Expected 1 subscription, got %d", f.streams.Count())
	}
}

func TestStreamSubscribeBatchesLargeWindows(t *testing.T) {
	f := newTestFramework(t, false, false)
	client := dialTestServer(t, f, "")

	// 10x10 chunks is more than one batch.
	ack := subscribe(client, gridmap.Rect{X1: 0, Y1: 0, X2: 160, Y2: 160}, 0)
	if len(ack.ChunkIDs) != 100 {
		t.Fatalf("Expected 100 chunk IDs, got %d", len(ack.ChunkIDs))
	}

	first := client.readType("stream_delta")
	var part StreamDeltaData
	if err := json.Unmarshal(first.Data, &part); err != nil {
		t.Fatalf("Invalid stream_delta payload: %v", err)
	}
	if len(part.AddedChunks) != streamBatchSize || part.Complete {
		t.Errorf("Expected a first batch of %d incomplete, got %d complete=%v", streamBatchSize, len(part.AddedChunks), part.Complete)
	}

	rest := client.readDelta()
	if got := len(part.AddedChunks) + len(rest.AddedChunks); got != 100 {
		t.Errorf("Expected 100 chunks in total, got %d", got)
	}
}

func TestStreamUpdateViewport(t *testing.T) {
	f := newTestFramework(t, false, false)
	client := dialTestServer(t, f, "")

	ack := subscribe(client, gridmap.Rect{X1: 0, Y1: 0, X2: 32, Y2: 16}, 0)
	client.readDelta()

	client.send("stream_update_viewport", "move-1", StreamUpdateViewportData{
		SubscriptionID: ack.SubscriptionID,
		Viewport:       gridmap.Rect{X1: 16, Y1: 0, X2: 48, Y2: 16},
	})
	delta := client.readDelta()

	if got := chunkIDs(delta.AddedChunks); !slices.Equal(got, []string{"2_0"}) {
		t.Errorf("Expected added [2_0], got %v", got)
	}
	if !slices.Equal(delta.RemovedChunks, []string{"0_0"}) {
		t.Errorf("Expected removed [0_0], got %v", delta.RemovedChunks)
	}

	// Same window again: an empty delta.
	client.send("stream_update_viewport", "move-2", StreamUpdateViewportData{
		SubscriptionID: ack.SubscriptionID,
		Viewport:       gridmap.Rect{X1: 17, Y1: 1, X2: 47, Y2: 15},
	})
	delta = client.readDelta()
	if len(delta.AddedChunks) != 0 || len(delta.RemovedChunks) != 0 {
		t.Errorf("Expected empty delta, got added=%v removed=%v", chunkIDs(delta.AddedChunks), delta.RemovedChunks)
	}
}

func TestStreamErrors(t *testing.T) {
	f := newTestFramework(t, false, false)
	client := dialTestServer(t, f, "")

	client.send("stream_subscribe", "bad-margin", map[string]interface{}{
		"viewport":      gridmap.Rect{X1: 0, Y1: 0, X2: 16, Y2: 16},
		"margin_chunks": 99,
	})
	if e := client.readError(); e.Code != "InvalidSubscriptionRequest" {
		t.Errorf("Expected InvalidSubscriptionRequest, got %+v", e)
	}

	client.send("stream_subscribe", "empty", map[string]interface{}{
		"viewport": gridmap.Rect{X1: 5, Y1: 5, X2: 5, Y2: 10},
	})
	if e := client.readError(); e.Code != "InvalidSubscriptionRequest" {
		t.Errorf("Expected InvalidSubscriptionRequest, got %+v", e)
	}

	client.send("stream_update_viewport", "ghost", StreamUpdateViewportData{
		SubscriptionID: "sub_404_0",
		Viewport:       gridmap.Rect{X1: 0, Y1: 0, X2: 16, Y2: 16},
	})
	if e := client.readError(); e.Code != "SubscriptionNotFound" {
		t.Errorf("Expected SubscriptionNotFound, got %+v", e)
	}

	ack := subscribe(client, gridmap.Rect{X1: 0, Y1: 0, X2: 16, Y2: 16}, 0)
	client.readDelta()

	client.send("stream_update_viewport", "huge", StreamUpdateViewportData{
		SubscriptionID: ack.SubscriptionID,
		Viewport:       gridmap.Rect{X1: 0, Y1: 0, X2: 16 * 100, Y2: 16 * 100},
	})
	if e := client.readError(); e.Code != "InvalidViewport" {
		t.Errorf("Expected InvalidViewport, got %+v", e)
	}
}

func TestStreamSubscriptionsAreConnectionScoped(t *testing.T) {
	f := newTestFramework(t, false, false)
	owner := dialTestServer(t, f, "")
	other := dialTestServer(t, f, "")

	ack := subscribe(owner, gridmap.Rect{X1: 0, Y1: 0, X2: 16, Y2: 16}, 0)
	owner.readDelta()

	// Both connections are the anonymous user, but only the owner may move
	// the window.
	other.send("stream_update_viewport", "steal", StreamUpdateViewportData{
		SubscriptionID: ack.SubscriptionID,
		Viewport:       gridmap.Rect{X1: 0, Y1: 0, X2: 16, Y2: 16},
	})
	if e := other.readError(); e.Code != "SubscriptionNotFound" {
		t.Errorf("Expected SubscriptionNotFound, got %+v", e)
	}
}

func TestStreamUnsubscribe(t *testing.T) {
	f := newTestFramework(t, false, false)
	client := dialTestServer(t, f, "")

	ack := subscribe(client, gridmap.Rect{X1: 0, Y1: 0, X2: 16, Y2: 16}, 1)
	client.readDelta()

	client.send("stream_unsubscribe", "u1", StreamUnsubscribeData{SubscriptionID: ack.SubscriptionID})
	msg := client.readType("stream_unsubscribed")
	if msg.ID != "u1" {
		t.Errorf("Expected ID u1, got %s", msg.ID)
	}
	if f.streams.Count() != 0 {
		t.Errorf("Expected no subscriptions, got %d", f.streams.Count())
	}
}

func TestSubscriptionsRemovedOnDisconnect(t *testing.T) {
	f := newTestFramework(t, false, false)
	client := dialTestServer(t, f, "")

	subscribe(client, gridmap.Rect{X1: 0, Y1: 0, X2: 16, Y2: 16}, 0)
	client.readDelta()
	if f.streams.Count() != 1 {
		t.Fatalf("Expected 1 subscription, got %d", f.streams.Count())
	}

	client.conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for f.streams.Count() != 0 || f.ws.GetHub().Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected cleanup after disconnect, subscriptions=%d connections=%d",
				f.streams.Count(), f.ws.GetHub().Count())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNegotiateVersion(t *testing.T) {
	tests := []struct {
		requested string
		want      string
	}{
		{"", ProtocolVersion1},
		{ProtocolVersion1, ProtocolVersion1},
		{"sweepworld-v2, " + ProtocolVersion1, ProtocolVersion1},
		{"sweepworld-v2", ""},
	}
	for _, tt := range tests {
		if got := negotiateVersion(tt.requested); got != tt.want {
			t.Errorf("negotiateVersion(%q) = %q, want %q", tt.requested, got, tt.want)
		}
	}
}
