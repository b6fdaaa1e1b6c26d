// Package api exposes the simulation's read-only HTTP surface: entity
// state queries, activity and attendance history, and a live event
// stream. Writes happen only through the schedulers.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mockingbird-labs/minifirm/internal/platform/pool"
	"github.com/mockingbird-labs/minifirm/internal/services/simulation/broadcast"
	"github.com/mockingbird-labs/minifirm/internal/services/simulation/domain"
	"github.com/mockingbird-labs/minifirm/internal/services/simulation/storage"
	"github.com/mockingbird-labs/minifirm/internal/simclock"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Handler serves the state-query and event-stream endpoints.
type Handler struct {
	store       storage.Store
	broadcaster *broadcast.Broadcaster
	clock       *simclock.Clock
	logger      *log.Logger
	cache       *stateCache
}

// NewHandler wires the read surface over storage and the broadcaster.
func NewHandler(store storage.Store, broadcaster *broadcast.Broadcaster, clock *simclock.Clock, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		store:       store,
		broadcaster: broadcaster,
		clock:       clock,
		logger:      logger,
		cache:       newStateCache(),
	}
}

// Router builds the chi router with the standard middleware chain.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", h.health)
	r.Get("/entities", h.listEntities)
	r.Get("/entities/{id}", h.getEntity)
	r.Get("/entities/{id}/activity", h.listActivity)
	r.Get("/entities/{id}/clock-events", h.listClockEvents)
	r.Get("/events", h.streamEvents)

	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sim_time": h.clock.Now(),
	})
}

// entityView is the JSON shape of one entity's current state.
type entityView struct {
	ID            string               `json:"id"`
	Kind          domain.EntityKind    `json:"kind"`
	Name          string               `json:"name"`
	HouseholdID   string               `json:"household_id"`
	RoleClass     domain.RoleClass     `json:"role_class"`
	SleepState    domain.SleepState    `json:"sleep_state"`
	ActivityState domain.ActivityState `json:"activity_state"`
	Location      string               `json:"location"`
	UpdatedAt     time.Time            `json:"updated_at"`
	Household     []entityView         `json:"household,omitempty"`
	Stale         bool                 `json:"stale,omitempty"`
}

func viewOf(entity domain.Entity) entityView {
	return entityView{
		ID:            entity.ID,
		Kind:          entity.Kind,
		Name:          entity.Name,
		HouseholdID:   entity.HouseholdID,
		RoleClass:     entity.RoleClass,
		SleepState:    entity.SleepState,
		ActivityState: entity.ActivityState,
		Location:      entity.Location,
		UpdatedAt:     entity.UpdatedAt,
	}
}

func (h *Handler) listEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := h.store.ListEntities(r.Context())
	if err != nil {
		// Serve the last good snapshot while the pool is exhausted.
		if pool.IsRetryable(err) {
			if cached, ok := h.cache.list(); ok {
				writeJSON(w, http.StatusOK, cached)
				return
			}
		}
		h.fail(w, "list entities", err)
		return
	}

	views := make([]entityView, 0, len(entities))
	for _, entity := range entities {
		view := viewOf(entity)
		views = append(views, view)
		h.cache.putEntity(view)
	}
	h.cache.putList(views)
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) getEntity(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "id")

	entity, err := h.store.GetEntity(r.Context(), entityID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "entity not found")
			return
		}
		if pool.IsRetryable(err) {
			if cached, ok := h.cache.entity(entityID); ok {
				cached.Stale = true
				writeJSON(w, http.StatusOK, cached)
				return
			}
		}
		h.fail(w, "get entity", err)
		return
	}

	view := viewOf(entity)
	if household, err := h.store.ListHousehold(r.Context(), entity.HouseholdID); err == nil {
		for _, member := range household {
			if member.ID == entity.ID {
				continue
			}
			view.Household = append(view.Household, viewOf(member))
		}
	} else {
		h.logger.Printf("household summary for %s: %v", entityID, err)
	}

	h.cache.putEntity(view)
	writeJSON(w, http.StatusOK, view)
}

type activityView struct {
	ID          string                `json:"id"`
	Kind        domain.TransitionKind `json:"kind"`
	Description string                `json:"description"`
	CreatedAt   time.Time             `json:"created_at"`
}

func (h *Handler) listActivity(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "id")
	limit := historyLimit(r)

	entries, err := h.store.ListActivity(r.Context(), entityID, limit)
	if err != nil {
		h.fail(w, "list activity", err)
		return
	}

	views := make([]activityView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, activityView{
			ID:          entry.ID,
			Kind:        entry.Kind,
			Description: entry.Description,
			CreatedAt:   entry.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

type clockEventView struct {
	ID        string                `json:"id"`
	EventType domain.ClockEventType `json:"event_type"`
	Location  string                `json:"location"`
	CreatedAt time.Time             `json:"created_at"`
}

func (h *Handler) listClockEvents(w http.ResponseWriter, r *http.Request) {
	employeeID := chi.URLParam(r, "id")
	limit := historyLimit(r)

	events, err := h.store.ListClockEvents(r.Context(), employeeID, limit)
	if err != nil {
		h.fail(w, "list clock events", err)
		return
	}

	views := make([]clockEventView, 0, len(events))
	for _, event := range events {
		views = append(views, clockEventView{
			ID:        event.ID,
			EventType: event.EventType,
			Location:  event.Location,
			CreatedAt: event.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// streamEvents pushes committed transitions over SSE. Delivery is best
// effort while connected; recent messages replay on connect.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, cancel := h.broadcaster.Subscribe(16)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case msg, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				h.logger.Printf("encode event: %v", err)
				continue
			}
			if _, err := w.Write([]byte("event: " + string(msg.Type) + "\ndata: " + string(payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Printf("%s: %v", op, err)
	if pool.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "temporarily overloaded, retry")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func historyLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
