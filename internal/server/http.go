package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dovewarden/jukebox/internal/metrics"
	"github.com/dovewarden/jukebox/internal/player"
	"github.com/dovewarden/jukebox/internal/queue"
	"github.com/dovewarden/jukebox/internal/song"
)

// maxBodyBytes bounds request bodies; a full 50 song request stays well below it.
const maxBodyBytes = 1 << 20

// Queue is the part of the voteable queue exposed over HTTP.
type Queue interface {
	Enqueue(payload song.Request) (queue.ItemID, error)
	ScoredVote(id queue.ItemID, voter string, dir queue.Direction) (int, error)
	ScoredRetract(id queue.ItemID, voter string) (int, error)
	TryTakeNext() (queue.Item[song.Request], bool)
	PeekFront() (queue.Item[song.Request], bool)
	Locate(id queue.ItemID) (queue.Item[song.Request], int, bool)
	Snapshot() []queue.Item[song.Request]
	Remove(id queue.ItemID) bool
}

// Player exposes the playback coordinator.
type Player interface {
	NowPlaying() (player.Playing, bool)
	Skip() bool
}

// History serves recently played requests.
type History interface {
	History(ctx context.Context, n int) ([]queue.Item[song.Request], error)
}

// Server handles HTTP requests for the jukebox queue API.
type Server struct {
	queue   Queue
	player  Player
	history History
	metrics *metrics.Metrics
	logger  *slog.Logger
	mux     *http.ServeMux
}

// New creates a new HTTP server.
func New(q Queue, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		queue:   q,
		metrics: m,
		logger:  logger,
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /queue", s.handleEnqueue)
	s.mux.HandleFunc("GET /queue", s.handleSnapshot)
	s.mux.HandleFunc("GET /queue/front", s.handleFront)
	s.mux.HandleFunc("POST /queue/next", s.handleNext)
	s.mux.HandleFunc("GET /queue/{id}", s.handleGet)
	s.mux.HandleFunc("DELETE /queue/{id}", s.handleRemove)
	s.mux.HandleFunc("POST /queue/{id}/votes", s.handleVote)
	s.mux.HandleFunc("DELETE /queue/{id}/votes/{voter}", s.handleRetract)
	s.mux.HandleFunc("GET /player", s.handleNowPlaying)
	s.mux.HandleFunc("POST /player/skip", s.handleSkip)
	s.mux.HandleFunc("GET /history", s.handleHistory)

	return s
}

// SetPlayer attaches the playback coordinator. Without one, /player reports idle.
func (s *Server) SetPlayer(p Player) {
	s.player = p
}

// SetHistory attaches the history view. Without one, /history answers 503.
func (s *Server) SetHistory(h History) {
	s.history = h
}

type itemResponse struct {
	queue.Item[song.Request]
	Title    string `json:"title"`
	Position int    `json:"position"`
	Front    bool   `json:"front"`
}

type voteRequest struct {
	Voter     string `json:"voter"`
	Direction string `json:"direction"`
}

type scoreResponse struct {
	ID    queue.ItemID `json:"id"`
	Score int          `json:"score"`
}

type playingResponse struct {
	ItemID      queue.ItemID `json:"item_id"`
	RequestedBy string       `json:"requested_by"`
	Song        song.Song    `json:"song"`
	Index       int          `json:"index"`
	Total       int          `json:"total"`
	StartedAt   time.Time    `json:"started_at"`
}

func newItemResponse(it queue.Item[song.Request], pos int) itemResponse {
	return itemResponse{Item: it, Title: it.Payload.Title(), Position: pos, Front: pos == 0}
}

// handleEnqueue validates a song request and appends it to the queue.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	s.metrics.RequestsReceived.Inc()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read request body: %v", err), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	req, err := song.Decode(body)
	if err != nil {
		s.metrics.RequestsRejected.Inc()
		s.logger.Debug("Rejected song request", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := s.queue.Enqueue(*req)
	if err != nil {
		s.metrics.EnqueueErrors.Inc()
		if errors.Is(err, queue.ErrQueueFull) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		http.Error(w, fmt.Sprintf("failed to enqueue request: %v", err), http.StatusInternalServerError)
		return
	}
	s.metrics.ItemsEnqueued.Inc()
	s.logger.Info("Request enqueued", "item_id", id, "title", req.Title(), "requested_by", req.RequestedBy)

	it, pos, ok := s.queue.Locate(id)
	if !ok {
		// Taken by the coordinator before we could read it back
		writeJSON(w, http.StatusCreated, scoreResponse{ID: id})
		return
	}
	writeJSON(w, http.StatusCreated, newItemResponse(it, pos))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.queue.Snapshot()
	out := make([]itemResponse, len(snap))
	for i, it := range snap {
		out[i] = newItemResponse(it, i)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFront(w http.ResponseWriter, r *http.Request) {
	it, ok := s.queue.PeekFront()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, newItemResponse(it, 0))
}

// handleNext lets an external consumer take the front item instead of the built-in coordinator.
func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	it, ok := s.queue.TryTakeNext()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.metrics.ItemsTaken.Inc()
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := queue.ItemID(r.PathValue("id"))
	it, pos, ok := s.queue.Locate(id)
	if !ok {
		http.Error(w, queue.ErrUnknownItem.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newItemResponse(it, pos))
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := queue.ItemID(r.PathValue("id"))
	if !s.queue.Remove(id) {
		http.Error(w, queue.ErrUnknownItem.Error(), http.StatusNotFound)
		return
	}
	s.metrics.ItemsRemoved.Inc()
	s.logger.Info("Request removed", "item_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	id := queue.ItemID(r.PathValue("id"))

	var req voteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.metrics.VoteErrors.Inc()
		http.Error(w, fmt.Sprintf("invalid vote: %v", err), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if req.Voter == "" {
		s.metrics.VoteErrors.Inc()
		http.Error(w, "voter is required", http.StatusBadRequest)
		return
	}
	dir, err := queue.ParseDirection(req.Direction)
	if err != nil {
		s.metrics.VoteErrors.Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	score, err := s.queue.ScoredVote(id, req.Voter, dir)
	if err != nil {
		s.metrics.VoteErrors.Inc()
		s.writeQueueError(w, err)
		return
	}
	s.metrics.VotesCast.WithLabelValues(dir.String()).Inc()
	s.logger.Debug("Vote recorded", "item_id", id, "voter", req.Voter, "direction", dir, "score", score)

	writeJSON(w, http.StatusOK, scoreResponse{ID: id, Score: score})
}

func (s *Server) handleRetract(w http.ResponseWriter, r *http.Request) {
	id := queue.ItemID(r.PathValue("id"))
	voter := r.PathValue("voter")

	score, err := s.queue.ScoredRetract(id, voter)
	if err != nil {
		s.metrics.VoteErrors.Inc()
		s.writeQueueError(w, err)
		return
	}
	s.logger.Debug("Vote retracted", "item_id", id, "voter", voter, "score", score)

	writeJSON(w, http.StatusOK, scoreResponse{ID: id, Score: score})
}

func (s *Server) writeQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrUnknownItem):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, queue.ErrInvalidDirection):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("Queue operation failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleNowPlaying(w http.ResponseWriter, r *http.Request) {
	if s.player == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	now, ok := s.player.NowPlaying()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, playingResponse{
		ItemID:      now.Item.ID,
		RequestedBy: now.Item.Payload.RequestedBy,
		Song:        now.Song,
		Index:       now.Index,
		Total:       len(now.Item.Payload.Songs),
		StartedAt:   now.StartedAt,
	})
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	if s.player == nil || !s.player.Skip() {
		http.Error(w, "nothing is playing", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "history is disabled", http.StatusServiceUnavailable)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, fmt.Sprintf("invalid limit %q", v), http.StatusBadRequest)
			return
		}
		limit = n
	}

	items, err := s.history.History(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to read history", "error", err)
		http.Error(w, "history unavailable", http.StatusServiceUnavailable)
		return
	}
	out := make([]itemResponse, len(items))
	for i, it := range items {
		out[i] = itemResponse{Item: it, Title: it.Payload.Title(), Position: -1}
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Handler returns the HTTP handler for use with custom servers (e.g., for testing).
func (s *Server) Handler() http.Handler {
	return s.mux
}
