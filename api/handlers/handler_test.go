package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/transitcore/departures-api/internal/models"
	"github.com/transitcore/departures-api/internal/resolver"
)

// fakeClient is a hand-rolled transit.Client stub; no mocking library
// is wired into the pack for this, so it's a small struct satisfying
// the interface directly.
type fakeClient struct {
	departures    []models.Departure
	resolveErr    error
	refreshErr    error
	refreshCalled bool
	lastRefreshed time.Time
	gotRequest    resolver.Request
}

func (f *fakeClient) DeparturesForStation(ctx context.Context, req resolver.Request) ([]models.Departure, error) {
	f.gotRequest = req
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return f.departures, nil
}

func (f *fakeClient) Refresh(ctx context.Context) error {
	f.refreshCalled = true
	return f.refreshErr
}

func (f *fakeClient) LastRefreshed() time.Time {
	return f.lastRefreshed
}

func newTestRouter(client *fakeClient) *mux.Router {
	r := mux.NewRouter()
	NewHandler(client).RegisterRoutes(r)
	return r
}

func TestHandleDeparturesReturnsJSONList(t *testing.T) {
	refreshed := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	client := &fakeClient{
		departures: []models.Departure{
			{TripID: "t1", RouteShortName: "L", Destination: "8 Av", Direction: "S", Source: "realtime"},
		},
		lastRefreshed: refreshed,
	}
	r := newTestRouter(client)

	req := httptest.NewRequest(http.MethodGet, "/departures/SUBWAY-L11?limitMinutes=30&source=realtime", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
	if client.gotRequest.UniqueStationKey != "SUBWAY-L11" {
		t.Errorf("station key = %q, want SUBWAY-L11", client.gotRequest.UniqueStationKey)
	}
	if client.gotRequest.LimitMinutes == nil || *client.gotRequest.LimitMinutes != 30 {
		t.Errorf("limitMinutes = %v, want 30", client.gotRequest.LimitMinutes)
	}
	if client.gotRequest.SourceFilter != "realtime" {
		t.Errorf("sourceFilter = %q, want realtime", client.gotRequest.SourceFilter)
	}

	var resp DeparturesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].TripID != "t1" {
		t.Errorf("data = %+v, want one departure with tripId t1", resp.Data)
	}
	if resp.LastRefreshed != refreshed.Format(time.RFC3339) {
		t.Errorf("lastRefreshed = %q, want %q", resp.LastRefreshed, refreshed.Format(time.RFC3339))
	}
}

func TestHandleDeparturesRejectsBadLimitMinutes(t *testing.T) {
	for _, raw := range []string{"0", "-5", "notanumber"} {
		client := &fakeClient{}
		r := newTestRouter(client)

		req := httptest.NewRequest(http.MethodGet, "/departures/SUBWAY-127?limitMinutes="+raw, nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("limitMinutes=%q: status = %d, want 400", raw, rec.Code)
		}
	}
}

func TestHandleDeparturesRejectsUnknownSource(t *testing.T) {
	client := &fakeClient{}
	r := newTestRouter(client)

	req := httptest.NewRequest(http.MethodGet, "/departures/SUBWAY-127?source=bogus", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleDeparturesSurfacesResolverError(t *testing.T) {
	client := &fakeClient{resolveErr: errors.New("store unavailable")}
	r := newTestRouter(client)

	req := httptest.NewRequest(http.MethodGet, "/departures/SUBWAY-127", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error response: %v", err)
	}
	if resp.Error != "store unavailable" {
		t.Errorf("error = %q, want %q", resp.Error, "store unavailable")
	}
}

func TestHandleRefreshTriggersClientRefresh(t *testing.T) {
	client := &fakeClient{}
	r := newTestRouter(client)

	req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !client.refreshCalled {
		t.Error("expected Refresh to be called on the underlying client")
	}
}

func TestHandleIndexServesInfo(t *testing.T) {
	client := &fakeClient{}
	r := newTestRouter(client)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
