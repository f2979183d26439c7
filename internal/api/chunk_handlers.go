package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/sweepworld/server/internal/chunkservice"
	"github.com/sweepworld/server/internal/compression"
	"github.com/sweepworld/server/internal/gridmap"
	"github.com/sweepworld/server/internal/minegen"
	"github.com/sweepworld/server/internal/performance"
)

// maxBatchBodyBytes bounds the JSON body of a batch request.
const maxBatchBodyBytes = 64 << 10

// ChunkHandlers handles chunk and cell HTTP requests.
type ChunkHandlers struct {
	service   *chunkservice.Service
	profiler  *performance.Profiler
	validator *validator.Validate
	maxBatch  int
}

// NewChunkHandlers creates a new instance of ChunkHandlers. maxBatch is
// capped at MaxBatchChunks.
func NewChunkHandlers(service *chunkservice.Service, profiler *performance.Profiler, maxBatch int) *ChunkHandlers {
	if maxBatch <= 0 || maxBatch > MaxBatchChunks {
		maxBatch = MaxBatchChunks
	}
	return &ChunkHandlers{
		service:   service,
		profiler:  profiler,
		validator: validator.New(),
		maxBatch:  maxBatch,
	}
}

// Health handles GET /health.
func (h *ChunkHandlers) Health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "sweepworld-server",
	})
}

// GetWorld handles GET /api/world.
func (h *ChunkHandlers) GetWorld(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.service.WorldInfo())
}

// GetChunk handles GET /api/chunks/{x}/{y}?format=json|binary|text.
func (h *ChunkHandlers) GetChunk(w http.ResponseWriter, r *http.Request) {
	x, err := strconv.ParseInt(r.PathValue("x"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "InvalidChunkCoordinate", "chunk x must be an integer")
		return
	}
	y, err := strconv.ParseInt(r.PathValue("y"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "InvalidChunkCoordinate", "chunk y must be an integer")
		return
	}
	coord, err := gridmap.ValidateChunkCoord(x, y)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "InvalidChunkCoordinate", err.Error())
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatBinary && format != FormatText {
		respondWithError(w, http.StatusBadRequest, "InvalidFormat", "format must be json, binary or text")
		return
	}

	chunk, err := h.service.GetChunk(r.Context(), coord)
	if err != nil {
		log.Printf("Failed to load chunk %s: %v", coord, err)
		respondWithError(w, http.StatusInternalServerError, "ChunkUnavailable", "Failed to load chunk")
		return
	}

	seed := h.service.WorldInfo().Seed
	switch format {
	case FormatBinary:
		data, err := compression.CompressChunk(seed, &chunk)
		if err != nil {
			log.Printf("Failed to compress chunk %s: %v", coord, err)
			respondWithError(w, http.StatusInternalServerError, "CompressionFailed", "Failed to encode chunk")
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	case FormatText:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, minegen.Dump(chunk))
	default:
		respondWithJSON(w, http.StatusOK, newChunkResponse(seed, &chunk))
	}
}

// BatchChunks handles POST /api/chunks/batch.
func (h *ChunkHandlers) BatchChunks(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBatchBodyBytes)

	var req BatchChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "InvalidRequest", "Invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		respondWithValidationError(w, err)
		return
	}
	if len(req.Chunks) > h.maxBatch {
		respondWithError(w, http.StatusBadRequest, "ValidationError",
			fmt.Sprintf("Chunks: must have at most %d items", h.maxBatch))
		return
	}

	coords := make([]gridmap.ChunkCoord, len(req.Chunks))
	for i, c := range req.Chunks {
		coord, err := gridmap.ValidateChunkCoord(*c.X, *c.Y)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "InvalidChunkCoordinate", fmt.Sprintf("chunks[%d]: %v", i, err))
			return
		}
		coords[i] = coord
	}

	chunks, err := h.service.GetChunks(r.Context(), coords)
	if err != nil {
		log.Printf("Failed to load %d chunks: %v", len(coords), err)
		respondWithError(w, http.StatusInternalServerError, "ChunkUnavailable", "Failed to load chunks")
		return
	}

	seed := h.service.WorldInfo().Seed
	resp := BatchChunkResponse{Chunks: make([]ChunkResponse, len(chunks))}
	for i := range chunks {
		if req.Format == FormatCompressed {
			cr, err := newCompressedChunkResponse(seed, &chunks[i])
			if err != nil {
				log.Printf("Failed to compress chunk %s: %v", coords[i], err)
				respondWithError(w, http.StatusInternalServerError, "CompressionFailed", "Failed to encode chunks")
				return
			}
			resp.Chunks[i] = cr
			continue
		}
		resp.Chunks[i] = newChunkResponse(seed, &chunks[i])
	}

	respondWithJSON(w, http.StatusOK, resp)
}

// GetCell handles GET /api/cells/{x}/{y}.
func (h *ChunkHandlers) GetCell(w http.ResponseWriter, r *http.Request) {
	x, err := strconv.ParseInt(r.PathValue("x"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "InvalidCellCoordinate", "cell x must be an integer")
		return
	}
	y, err := strconv.ParseInt(r.PathValue("y"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "InvalidCellCoordinate", "cell y must be an integer")
		return
	}

	info, err := h.service.Cell(x, y)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "InvalidCellCoordinate", err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, info)
}

// GetPerformance handles GET /api/debug/performance.
func (h *ChunkHandlers) GetPerformance(w http.ResponseWriter, r *http.Request) {
	if !h.profiler.IsEnabled() {
		respondWithError(w, http.StatusNotFound, "ProfilingDisabled", "Profiling is not enabled")
		return
	}
	report, err := h.profiler.JSONReport()
	if err != nil {
		log.Printf("Failed to build performance report: %v", err)
		respondWithError(w, http.StatusInternalServerError, "InternalError", "Failed to build report")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(report)
}

func chunkID(chunk *minegen.Chunk) string {
	return gridmap.ChunkCoord{X: chunk.X, Y: chunk.Y}.ID()
}
