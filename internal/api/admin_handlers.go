package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/sweepworld/server/internal/chunkservice"
	"github.com/sweepworld/server/internal/streaming"
)

// AdminHandlers handles admin operations
type AdminHandlers struct {
	service *chunkservice.Service
	streams *streaming.Manager
	hub     *WebSocketHub
}

// AdminStatusResponse reports live server state.
type AdminStatusResponse struct {
	World         chunkservice.WorldInfo `json:"world"`
	Connections   int                    `json:"connections"`
	Subscriptions int                    `json:"subscriptions"`
}

// ResetChunksResponse is returned after the chunk cache is emptied.
type ResetChunksResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	DeletedCount int64  `json:"deleted_count"`
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(service *chunkservice.Service, streams *streaming.Manager, hub *WebSocketHub) *AdminHandlers {
	return &AdminHandlers{service: service, streams: streams, hub: hub}
}

// GetStatus handles GET /api/admin/status
func (h *AdminHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, AdminStatusResponse{
		World:         h.service.WorldInfo(),
		Connections:   h.hub.Count(),
		Subscriptions: h.streams.Count(),
	})
}

// ResetChunks handles DELETE /api/admin/chunks/reset
func (h *AdminHandlers) ResetChunks(w http.ResponseWriter, r *http.Request) {
	log.Printf("Admin: Resetting chunk cache...")

	deletedCount, err := h.service.ClearCache(r.Context())
	if errors.Is(err, chunkservice.ErrNoCache) {
		respondWithError(w, http.StatusConflict, "CacheDisabled", "The chunk cache is disabled")
		return
	}
	if err != nil {
		log.Printf("Error resetting chunks: %v", err)
		respondWithError(w, http.StatusInternalServerError, "ResetFailed", "Failed to reset chunk cache")
		return
	}

	respondWithJSON(w, http.StatusOK, ResetChunksResponse{
		Success:      true,
		Message:      "All cached chunks deleted. They will be regenerated on next request.",
		DeletedCount: deletedCount,
	})
}
