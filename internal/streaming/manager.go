package streaming

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweepworld/server/internal/gridmap"
)

const (
	// MaxMarginChunks caps the extra ring of chunks loaded around a viewport.
	MaxMarginChunks = 8
	// MaxChunksPerSubscription caps the size of a streaming window.
	MaxChunksPerSubscription = 1024
)

// ErrSubscriptionNotFound is returned for unknown subscription IDs.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// Manager coordinates server-driven streaming subscriptions.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	seq           atomic.Uint64
}

// Subscription tracks an individual client's visible window.
type Subscription struct {
	ID        string
	UserID    int64
	Request   SubscriptionRequest
	Bounds    gridmap.Bounds
	ChunkIDs  []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChunkDelta describes server-evaluated chunk changes for a subscription.
type ChunkDelta struct {
	SubscriptionID string
	AddedChunks    []string
	RemovedChunks  []string
	CurrentChunks  []string
}

// NewManager builds a streaming manager instance.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*Subscription),
	}
}

// SubscriptionRequest is sent by clients to begin receiving chunks.
type SubscriptionRequest struct {
	Viewport     gridmap.Rect `json:"viewport"`      // visible area in cell units
	MarginChunks int          `json:"margin_chunks"` // chunks to preload beyond the viewport
}

// SubscriptionPlan captures the initial server response for a subscription.
type SubscriptionPlan struct {
	SubscriptionID string   `json:"subscription_id"`
	ChunkIDs       []string `json:"chunk_ids,omitempty"`
}

// Validate checks the viewport and margin and returns the chunk bounds the
// request covers.
func (req SubscriptionRequest) Validate() (gridmap.Bounds, error) {
	if req.MarginChunks < 0 || req.MarginChunks > MaxMarginChunks {
		return gridmap.Bounds{}, fmt.Errorf("margin_chunks must be between 0 and %d", MaxMarginChunks)
	}
	return windowBounds(req.Viewport, req.MarginChunks)
}

func windowBounds(viewport gridmap.Rect, margin int) (gridmap.Bounds, error) {
	if err := viewport.Validate(); err != nil {
		return gridmap.Bounds{}, fmt.Errorf("invalid viewport: %w", err)
	}
	bounds := gridmap.WorldRectToChunkBounds(viewport).Expand(int64(margin)).Clamp()
	if n := bounds.Count(); n > MaxChunksPerSubscription {
		return gridmap.Bounds{}, fmt.Errorf("viewport covers %d chunks, maximum is %d", n, MaxChunksPerSubscription)
	}
	return bounds, nil
}

// PlanSubscription validates the request and registers the subscription plan.
func (m *Manager) PlanSubscription(userID int64, req SubscriptionRequest) (*SubscriptionPlan, error) {
	bounds, err := req.Validate()
	if err != nil {
		return nil, err
	}

	chunkIDs := chunkIDsFor(bounds)
	subscriptionID := fmt.Sprintf("sub_%d_%d", m.seq.Add(1), time.Now().UnixNano())

	now := time.Now()
	subscription := &Subscription{
		ID:        subscriptionID,
		UserID:    userID,
		Request:   req,
		Bounds:    bounds,
		ChunkIDs:  chunkIDs,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.subscriptions[subscriptionID] = subscription
	m.mu.Unlock()

	return &SubscriptionPlan{
		SubscriptionID: subscriptionID,
		ChunkIDs:       chunkIDs,
	}, nil
}

// UpdateViewport recomputes the subscription window and returns chunk deltas.
// Removed chunks are the client's cue to unload them.
func (m *Manager) UpdateViewport(userID int64, subscriptionID string, viewport gridmap.Rect) (*ChunkDelta, error) {
	if subscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	subscription, ok := m.subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subscriptionID)
	}
	if subscription.UserID != userID {
		return nil, fmt.Errorf("subscription %s does not belong to the current user", subscriptionID)
	}

	bounds, err := windowBounds(viewport, subscription.Request.MarginChunks)
	if err != nil {
		return nil, err
	}

	newChunkIDs := subscription.ChunkIDs
	var added, removed []string
	if bounds != subscription.Bounds {
		newChunkIDs = chunkIDsFor(bounds)
		added, removed = diffChunkSets(subscription.ChunkIDs, newChunkIDs)
		log.Printf("[Stream] UpdateViewport: subscription=%s, bounds=%+v, added=%d, removed=%d",
			subscriptionID, bounds, len(added), len(removed))
	}

	subscription.Bounds = bounds
	subscription.ChunkIDs = newChunkIDs
	subscription.Request.Viewport = viewport
	subscription.UpdatedAt = time.Now()

	return &ChunkDelta{
		SubscriptionID: subscriptionID,
		AddedChunks:    added,
		RemovedChunks:  removed,
		CurrentChunks:  newChunkIDs,
	}, nil
}

// GetSubscription retrieves a subscription by ID (for use by websocket handler).
func (m *Manager) GetSubscription(subscriptionID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subscription, ok := m.subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subscriptionID)
	}
	return subscription, nil
}

// RemoveSubscription drops a single subscription owned by userID.
func (m *Manager) RemoveSubscription(userID int64, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	subscription, ok := m.subscriptions[subscriptionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subscriptionID)
	}
	if subscription.UserID != userID {
		return fmt.Errorf("subscription %s does not belong to the current user", subscriptionID)
	}
	delete(m.subscriptions, subscriptionID)
	return nil
}

// RemoveSubscriptions drops the given subscriptions, typically all of a
// connection's subscriptions when it closes. Unknown IDs are ignored.
func (m *Manager) RemoveSubscriptions(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.subscriptions, id)
	}
}

// Count returns the number of active subscriptions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// ComputeChunkWindow returns the chunk IDs covering a viewport plus margin,
// in row-major order.
func ComputeChunkWindow(viewport gridmap.Rect, margin int) ([]string, error) {
	bounds, err := windowBounds(viewport, margin)
	if err != nil {
		return nil, err
	}
	return chunkIDsFor(bounds), nil
}

func chunkIDsFor(bounds gridmap.Bounds) []string {
	coords := bounds.Coords()
	ids := make([]string, len(coords))
	for i, c := range coords {
		ids[i] = c.ID()
	}
	return ids
}

func diffChunkSets(previous, next []string) (added []string, removed []string) {
	prevSet := make(map[string]struct{}, len(previous))
	nextSet := make(map[string]struct{}, len(next))

	for _, id := range previous {
		prevSet[id] = struct{}{}
	}
	for _, id := range next {
		nextSet[id] = struct{}{}
		if _, exists := prevSet[id]; !exists {
			added = append(added, id)
		}
	}
	for _, id := range previous {
		if _, exists := nextSet[id]; !exists {
			removed = append(removed, id)
		}
	}
	return
}
