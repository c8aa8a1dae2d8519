package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/frotahub/frotahub/internal/schema"
)

// newTestClient points a client at the given test server.
func newTestClient(t *testing.T, srv *httptest.Server, config Config) *Client {
	t.Helper()

	config.Endpoint = srv.URL
	config.HTTPClient = srv.Client()

	c := New(config)
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func testSubmission(id string) *schema.Submission {
	return &schema.Submission{
		ID:              id,
		Timestamp:       time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC),
		OperationalDate: "2024-03-01",
		UnitID:          "SVC-01",
		VehicleStatuses: []schema.VehicleStatus{
			{Plate: "ABC1D23", Category: "van", Running: true},
		},
		Incident:   schema.Incident{Description: "none"},
		SyncStatus: schema.StatusPending,
	}
}

func TestPushReportWireFormat(t *testing.T) {
	var gotContentType string
	var gotEnvelope Envelope

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotEnvelope); err != nil {
			t.Errorf("body is not an envelope: %v", err)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{})
	if err := client.PushReport(context.Background(), testSubmission("sub-1")); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	if gotContentType != "text/plain;charset=utf-8" {
		t.Errorf("expected text/plain content type, got %q", gotContentType)
	}
	if gotEnvelope.Type != EnvelopeReport {
		t.Errorf("expected report envelope, got %q", gotEnvelope.Type)
	}

	var sub schema.Submission
	if err := json.Unmarshal(gotEnvelope.Data, &sub); err != nil {
		t.Fatalf("envelope data is not a submission: %v", err)
	}
	if sub.ID != "sub-1" || sub.UnitID != "SVC-01" {
		t.Errorf("submission mangled on the wire: %+v", sub)
	}
}

func TestPushIsResponseBlind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	// Default capability: the 500 is invisible, the push counts as sent.
	client := newTestClient(t, srv, Config{})
	if err := client.PushReport(context.Background(), testSubmission("sub-1")); err != nil {
		t.Errorf("response-blind push should ignore status: %v", err)
	}

	// With ObserveResponse the same 500 is a rejection.
	observing := newTestClient(t, srv, Config{Capability: Capability{ObserveResponse: true}})
	err := observing.PushReport(context.Background(), testSubmission("sub-1"))
	if !errors.Is(err, ErrRemoteRejected) {
		t.Errorf("expected ErrRemoteRejected, got %v", err)
	}
}

func TestPushTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := New(Config{Endpoint: srv.URL})
	if err := client.PushReport(context.Background(), testSubmission("sub-1")); err == nil {
		t.Errorf("expected transport error to surface even response-blind")
	}
}

func TestPushNoEndpoint(t *testing.T) {
	client := New(Config{})
	if err := client.PushReport(context.Background(), testSubmission("sub-1")); !errors.Is(err, ErrNoEndpoint) {
		t.Errorf("expected ErrNoEndpoint, got %v", err)
	}
}

func TestPublishRoster(t *testing.T) {
	var gotEnvelope Envelope

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotEnvelope)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{})
	if err := client.PublishRoster(context.Background(), schema.DefaultRoster()); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if gotEnvelope.Type != EnvelopeConfigUpdate {
		t.Errorf("expected config_update envelope, got %q", gotEnvelope.Type)
	}

	var units []schema.Unit
	if err := json.Unmarshal(gotEnvelope.Data, &units); err != nil {
		t.Fatalf("envelope data is not a roster: %v", err)
	}
	if len(units) != len(schema.DefaultRoster()) {
		t.Errorf("roster truncated on the wire: %d units", len(units))
	}
}

func TestPullBareArray(t *testing.T) {
	var gotQuery, gotCacheControl string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotCacheControl = r.Header.Get("Cache-Control")
		// Date-time operational date: must come back normalized.
		io.WriteString(w, `[{"id":"r-1","timestamp":"2024-03-01T14:30:00Z","operationalDate":"2024-03-01T00:00:00Z","unitId":"SVC-02","vehicleStatuses":[],"incident":{"description":""}}]`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{})
	pull, err := client.Pull(context.Background())
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	if len(pull.Submissions) != 1 || pull.Submissions[0].ID != "r-1" {
		t.Fatalf("unexpected submissions: %+v", pull.Submissions)
	}
	if pull.Submissions[0].OperationalDate != "2024-03-01" {
		t.Errorf("operational date not normalized: %q", pull.Submissions[0].OperationalDate)
	}
	if len(pull.Roster) != 0 {
		t.Errorf("bare array should carry no roster")
	}
	if gotQuery != "t=1700000000000" {
		t.Errorf("expected cache buster query, got %q", gotQuery)
	}
	if gotCacheControl != "no-store" {
		t.Errorf("expected no-store, got %q", gotCacheControl)
	}
}

func TestPullEnvelopeWithRoster(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"submissions": [{"id":"r-1","timestamp":"2024-03-01T14:30:00Z","operationalDate":"2024-03-01","unitId":"SVC-01","vehicleStatuses":[],"incident":{"description":""}}],
			"config": [{"unitId":"SVC-09","displayName":"SVC Sul","vehicles":[{"plate":"XYZ9Z99","category":"van"}]}]
		}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{})
	pull, err := client.Pull(context.Background())
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	if len(pull.Submissions) != 1 {
		t.Errorf("expected 1 submission, got %d", len(pull.Submissions))
	}
	if len(pull.Roster) != 1 || pull.Roster[0].ID != "SVC-09" {
		t.Errorf("roster lost: %+v", pull.Roster)
	}
}

func TestPullActionParameter(t *testing.T) {
	var gotAction string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAction = r.URL.Query().Get("action")
		io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{PullAction: true})
	if _, err := client.Pull(context.Background()); err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if gotAction != "get_all" {
		t.Errorf("expected action=get_all, got %q", gotAction)
	}
}

func TestPullMalformedBody(t *testing.T) {
	bodies := []string{
		``,
		`not json at all`,
		`{"unrelated": true}`,
		`[{"id": 42}]`,
	}

	for _, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, body)
		}))

		client := newTestClient(t, srv, Config{})
		_, err := client.Pull(context.Background())
		if !errors.Is(err, ErrBadPayload) {
			t.Errorf("body %q: expected ErrBadPayload, got %v", body, err)
		}
		srv.Close()
	}
}

func TestPullNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{})
	if _, err := client.Pull(context.Background()); err == nil {
		t.Errorf("expected error on non-200 pull")
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") == "ping" {
			io.WriteString(w, PingSentinel)
			return
		}
		io.WriteString(w, "nope")
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{})
	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}

func TestPingWrongBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>login page</html>")
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{})
	if err := client.Ping(context.Background()); err == nil {
		t.Errorf("expected error when sentinel is missing")
	}
}
