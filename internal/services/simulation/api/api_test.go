package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mockingbird-labs/minifirm/internal/platform/pool"
	"github.com/mockingbird-labs/minifirm/internal/services/simulation/broadcast"
	"github.com/mockingbird-labs/minifirm/internal/services/simulation/domain"
	"github.com/mockingbird-labs/minifirm/internal/services/simulation/storage"
	"github.com/mockingbird-labs/minifirm/internal/simclock"
)

type fakeStore struct {
	mu         sync.Mutex
	population []domain.Entity
	activity   []domain.ActivityEntry
	events     []domain.ClockEvent
	err        error
}

func (f *fakeStore) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeStore) ListEntities(ctx context.Context) ([]domain.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.Entity(nil), f.population...), nil
}

func (f *fakeStore) GetEntity(ctx context.Context, entityID string) (domain.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.Entity{}, f.err
	}
	for _, entity := range f.population {
		if entity.ID == entityID {
			return entity, nil
		}
	}
	return domain.Entity{}, storage.ErrNotFound
}

func (f *fakeStore) ListHousehold(ctx context.Context, householdID string) ([]domain.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Entity
	for _, entity := range f.population {
		if entity.HouseholdID == householdID {
			out = append(out, entity)
		}
	}
	return out, nil
}

func (f *fakeStore) CountEntities(ctx context.Context) (int, error) { return len(f.population), nil }

func (f *fakeStore) InsertEntities(ctx context.Context, entities []domain.Entity) error { return nil }

func (f *fakeStore) CommitTick(ctx context.Context, result domain.TickResult) error { return nil }

func (f *fakeStore) ListActivity(ctx context.Context, entityID string, limit int) ([]domain.ActivityEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.ActivityEntry
	for _, entry := range f.activity {
		if entry.EntityID == entityID && len(out) < limit {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *fakeStore) ListClockEvents(ctx context.Context, employeeID string, limit int) ([]domain.ClockEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.ClockEvent
	for _, event := range f.events {
		if event.EmployeeID == employeeID && len(out) < limit {
			out = append(out, event)
		}
	}
	return out, nil
}

func (f *fakeStore) LoadSchedulerState(ctx context.Context) (storage.SchedulerState, bool, error) {
	return storage.SchedulerState{}, false, nil
}

func (f *fakeStore) SaveSchedulerState(ctx context.Context, state storage.SchedulerState) error {
	return nil
}

var _ storage.Store = (*fakeStore)(nil)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestHandler(t *testing.T, store storage.Store, b *broadcast.Broadcaster) *Handler {
	t.Helper()
	clock, err := simclock.New("UTC")
	if err != nil {
		t.Fatalf("new clock: %v", err)
	}
	if b == nil {
		b = broadcast.New(4)
		t.Cleanup(b.Close)
	}
	return NewHandler(store, b, clock, log.New(&discard{}, "", 0))
}

func seedEntity(id, householdID string) domain.Entity {
	return domain.Entity{
		ID:            id,
		Kind:          domain.KindEmployee,
		Name:          "Sam",
		HouseholdID:   householdID,
		RoleClass:     domain.RoleManager,
		SleepState:    domain.SleepAwake,
		ActivityState: domain.ActivityWorking,
		Location:      domain.LocationOffice,
		UpdatedAt:     time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, &fakeStore{}, nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestListEntities(t *testing.T) {
	t.Parallel()

	store := &fakeStore{population: []domain.Entity{seedEntity("emp-1", "house-1"), seedEntity("emp-2", "house-2")}}
	h := newTestHandler(t, store, nil)

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/entities", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var views []entityView
	if err := json.NewDecoder(rec.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("entities = %d, want 2", len(views))
	}
}

func TestGetEntityIncludesHousehold(t *testing.T) {
	t.Parallel()

	pet := seedEntity("pet-1", "house-1")
	pet.Kind = domain.KindPet
	pet.RoleClass = domain.RolePet
	store := &fakeStore{population: []domain.Entity{seedEntity("emp-1", "house-1"), pet}}
	h := newTestHandler(t, store, nil)

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/entities/emp-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var view entityView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.ID != "emp-1" {
		t.Fatalf("id = %q, want emp-1", view.ID)
	}
	if len(view.Household) != 1 || view.Household[0].ID != "pet-1" {
		t.Fatalf("household = %+v, want the pet co-member", view.Household)
	}
}

func TestGetEntityNotFound(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, &fakeStore{}, nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/entities/ghost", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetEntityServesStaleOnExhaustion(t *testing.T) {
	t.Parallel()

	store := &fakeStore{population: []domain.Entity{seedEntity("emp-1", "house-1")}}
	h := newTestHandler(t, store, nil)
	router := h.Router()

	// Warm the cache with one good read.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/entities/emp-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("warm read status = %d, want 200", rec.Code)
	}

	store.setErr(fmt.Errorf("acquire session: %w", pool.ErrExhausted))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/entities/emp-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stale read status = %d, want 200", rec.Code)
	}

	var view entityView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !view.Stale {
		t.Fatal("expected the cached view to be marked stale")
	}
}

func TestGetEntityExhaustionWithoutCacheIs503(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	store.setErr(fmt.Errorf("acquire session: %w", pool.ErrExhausted))
	h := newTestHandler(t, store, nil)

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/entities/emp-1", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After hint")
	}
}

func TestListEntitiesServesCachedSnapshotOnExhaustion(t *testing.T) {
	t.Parallel()

	store := &fakeStore{population: []domain.Entity{seedEntity("emp-1", "house-1")}}
	h := newTestHandler(t, store, nil)
	router := h.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/entities", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("warm list status = %d, want 200", rec.Code)
	}

	store.setErr(fmt.Errorf("acquire session: %w", pool.ErrExhausted))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/entities", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("cached list status = %d, want 200", rec.Code)
	}
}

func TestListActivityHonorsLimit(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	for i := 0; i < 30; i++ {
		store.activity = append(store.activity, domain.ActivityEntry{
			ID:       fmt.Sprintf("act-%d", i),
			EntityID: "emp-1",
			Kind:     domain.TransitionWake,
		})
	}
	h := newTestHandler(t, store, nil)

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/entities/emp-1/activity?limit=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var views []activityView
	if err := json.NewDecoder(rec.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 5 {
		t.Fatalf("entries = %d, want 5", len(views))
	}
}

func TestListClockEvents(t *testing.T) {
	t.Parallel()

	store := &fakeStore{events: []domain.ClockEvent{
		{ID: "clk-1", EmployeeID: "emp-1", EventType: domain.ClockEventClockIn, Location: domain.LocationOffice},
	}}
	h := newTestHandler(t, store, nil)

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/entities/emp-1/clock-events", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var views []clockEventView
	if err := json.NewDecoder(rec.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0].EventType != domain.ClockEventClockIn {
		t.Fatalf("events = %+v, want one clock_in", views)
	}
}

func TestHistoryLimitParsing(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want int
	}{
		{"", defaultHistoryLimit},
		{"5", 5},
		{"0", defaultHistoryLimit},
		{"-3", defaultHistoryLimit},
		{"junk", defaultHistoryLimit},
		{"500", maxHistoryLimit},
	}
	for _, tc := range cases {
		target := "/entities/x/activity"
		if tc.raw != "" {
			target += "?limit=" + tc.raw
		}
		req := httptest.NewRequest(http.MethodGet, target, nil)
		if got := historyLimit(req); got != tc.want {
			t.Fatalf("limit %q = %d, want %d", tc.raw, got, tc.want)
		}
	}
}

func TestStreamEventsReplaysRecentMessages(t *testing.T) {
	t.Parallel()

	b := broadcast.New(4)
	defer b.Close()
	h := newTestHandler(t, &fakeStore{}, b)

	b.Publish(broadcast.Message{
		Type:        broadcast.TypeActivity,
		EntityID:    "emp-1",
		Description: "woke up",
		Timestamp:   time.Date(2026, 9, 1, 6, 30, 0, 0, time.UTC),
	})

	server := httptest.NewServer(h.Router())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect stream: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q, want text/event-stream", got)
	}

	scanner := bufio.NewScanner(resp.Body)
	var dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			dataLine = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	if dataLine == "" {
		t.Fatalf("no data line received: %v", scanner.Err())
	}

	var msg broadcast.Message
	if err := json.Unmarshal([]byte(dataLine), &msg); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if msg.EntityID != "emp-1" || msg.Description != "woke up" {
		t.Fatalf("unexpected event: %+v", msg)
	}
}
