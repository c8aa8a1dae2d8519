package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/frotahub/frotahub/internal/schema"
)

// setupTestStore creates a temporary store for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	return st
}

// newTestSubmission builds a valid submission with the given id and timestamp.
func newTestSubmission(id string, ts time.Time) *schema.Submission {
	return &schema.Submission{
		ID:              id,
		Timestamp:       ts,
		OperationalDate: ts.Format("2006-01-02"),
		UnitID:          "SVC-01",
		VehicleStatuses: []schema.VehicleStatus{
			{Plate: "ABC1D23", Category: "van", Running: true},
		},
		OfferCounts:  map[string]int{"van": 2},
		BaseCapacity: map[string]int{"van": 4},
		Incident:     schema.Incident{Description: "none"},
	}
}

func TestInitSchemaIdempotent(t *testing.T) {
	st := setupTestStore(t)

	if err := st.InitSchema(); err != nil {
		t.Fatalf("second InitSchema failed: %v", err)
	}
}

func TestSaveAndGetSubmission(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	sub := newTestSubmission("sub-1", time.Now())
	sub.WeeklyAcceptanceProof = "data:image/png;base64,AAAA"
	sub.SyncStatus = schema.StatusSynced // must be ignored on save

	if err := st.SaveSubmission(ctx, sub); err != nil {
		t.Fatalf("failed to save submission: %v", err)
	}

	got, err := st.GetSubmissionByID(ctx, "sub-1")
	if err != nil {
		t.Fatalf("failed to get submission: %v", err)
	}

	if got.SyncStatus != schema.StatusPending {
		t.Errorf("locally saved submission should be pending, got %s", got.SyncStatus)
	}
	if got.UnitID != "SVC-01" || got.OfferCounts["van"] != 2 || got.BaseCapacity["van"] != 4 {
		t.Errorf("fields lost on round trip: %+v", got)
	}
	if len(got.VehicleStatuses) != 1 || got.VehicleStatuses[0].Plate != "ABC1D23" {
		t.Errorf("vehicle statuses lost: %+v", got.VehicleStatuses)
	}
	if got.WeeklyAcceptanceProof != sub.WeeklyAcceptanceProof {
		t.Errorf("acceptance proof lost")
	}
}

func TestSaveSubmissionDuplicateID(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	sub := newTestSubmission("sub-dup", time.Now())
	if err := st.SaveSubmission(ctx, sub); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if err := st.SaveSubmission(ctx, sub); err == nil {
		t.Errorf("expected error saving duplicate id")
	}
}

func TestGetSubmissionByIDNotFound(t *testing.T) {
	st := setupTestStore(t)

	_, err := st.GetSubmissionByID(context.Background(), "absent")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestGetAllSubmissionsOrder(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	// Insert out of chronological order.
	for _, sub := range []*schema.Submission{
		newTestSubmission("mid", base.Add(1*time.Hour)),
		newTestSubmission("oldest", base),
		newTestSubmission("newest", base.Add(2*time.Hour)),
	} {
		if err := st.SaveSubmission(ctx, sub); err != nil {
			t.Fatalf("failed to save %s: %v", sub.ID, err)
		}
	}

	subs, err := st.GetAllSubmissions(ctx)
	if err != nil {
		t.Fatalf("failed to get submissions: %v", err)
	}

	want := []string{"newest", "mid", "oldest"}
	if len(subs) != len(want) {
		t.Fatalf("expected %d submissions, got %d", len(want), len(subs))
	}
	for i, id := range want {
		if subs[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, subs[i].ID)
		}
	}
}

func TestGetPendingSubmissionsInsertionOrder(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	now := time.Now()
	ids := []string{"first", "second", "third"}
	for _, id := range ids {
		if err := st.SaveSubmission(ctx, newTestSubmission(id, now)); err != nil {
			t.Fatalf("failed to save %s: %v", id, err)
		}
	}

	if err := st.MarkSynced(ctx, "second"); err != nil {
		t.Fatalf("failed to mark synced: %v", err)
	}

	pending, err := st.GetPendingSubmissions(ctx)
	if err != nil {
		t.Fatalf("failed to get pending: %v", err)
	}

	if len(pending) != 2 || pending[0].ID != "first" || pending[1].ID != "third" {
		t.Errorf("unexpected pending set: %+v", pending)
	}
}

func TestMarkSyncedIdempotent(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	sub := newTestSubmission("sub-1", time.Now())
	if err := st.SaveSubmission(ctx, sub); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := st.MarkSynced(ctx, "sub-1"); err != nil {
			t.Fatalf("MarkSynced attempt %d failed: %v", i+1, err)
		}
	}

	// Absent id is a silent no-op.
	if err := st.MarkSynced(ctx, "never-existed"); err != nil {
		t.Errorf("MarkSynced on absent id should not fail: %v", err)
	}

	got, err := st.GetSubmissionByID(ctx, "sub-1")
	if err != nil {
		t.Fatalf("failed to get submission: %v", err)
	}
	if got.SyncStatus != schema.StatusSynced {
		t.Errorf("expected synced, got %s", got.SyncStatus)
	}
}

func TestUpsertFromRemote(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	now := time.Now()

	// Local-only record: must survive the merge untouched.
	localOnly := newTestSubmission("local-only", now)
	if err := st.SaveSubmission(ctx, localOnly); err != nil {
		t.Fatalf("failed to save local-only: %v", err)
	}

	// Shared record: remote copy must win entirely.
	shared := newTestSubmission("shared", now)
	shared.UnitID = "SVC-01"
	if err := st.SaveSubmission(ctx, shared); err != nil {
		t.Fatalf("failed to save shared: %v", err)
	}

	remoteShared := newTestSubmission("shared", now.Add(time.Minute))
	remoteShared.UnitID = "SVC-02"
	remoteNew := newTestSubmission("remote-new", now.Add(2*time.Minute))

	if err := st.UpsertFromRemote(ctx, []*schema.Submission{remoteShared, remoteNew}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := st.GetSubmissionByID(ctx, "shared")
	if err != nil {
		t.Fatalf("failed to get shared: %v", err)
	}
	if got.UnitID != "SVC-02" {
		t.Errorf("remote copy should win: got unit %s", got.UnitID)
	}
	if got.SyncStatus != schema.StatusSynced {
		t.Errorf("merged record should be synced, got %s", got.SyncStatus)
	}

	got, err = st.GetSubmissionByID(ctx, "remote-new")
	if err != nil {
		t.Fatalf("remote-new not inserted: %v", err)
	}
	if got.SyncStatus != schema.StatusSynced {
		t.Errorf("remote insert should be synced, got %s", got.SyncStatus)
	}

	got, err = st.GetSubmissionByID(ctx, "local-only")
	if err != nil {
		t.Fatalf("local-only record lost in merge: %v", err)
	}
	if got.SyncStatus != schema.StatusPending {
		t.Errorf("local-only record should stay pending, got %s", got.SyncStatus)
	}
}

func TestUpsertFromRemoteSkipsEmptyIDs(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	noID := newTestSubmission("", time.Now())
	if err := st.UpsertFromRemote(ctx, []*schema.Submission{noID}); err != nil {
		t.Fatalf("upsert with empty id should be skipped, not fail: %v", err)
	}

	subs, err := st.GetAllSubmissions(ctx)
	if err != nil {
		t.Fatalf("failed to get submissions: %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("expected empty store, got %d rows", len(subs))
	}
}

func TestScanSurvivesCorruptTimestamp(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if err := st.SaveSubmission(ctx, newTestSubmission("good", time.Now())); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	// Corrupt one row's timestamp behind the store's back.
	_, err := st.RawDB().ExecContext(ctx,
		`INSERT INTO submissions (id, timestamp, operational_date, unit_id, vehicle_statuses, incident, sync_status)
		 VALUES ('corrupt', 'not-a-timestamp', '2024-03-01', 'SVC-01', '[]', '{}', 'pending')`)
	if err != nil {
		t.Fatalf("failed to insert corrupt row: %v", err)
	}

	subs, err := st.GetAllSubmissions(ctx)
	if err != nil {
		t.Fatalf("corrupt timestamp must not break reads: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected both rows back, got %d", len(subs))
	}

	// The unparseable timestamp degrades to zero and sorts last.
	if subs[0].ID != "good" || subs[1].ID != "corrupt" {
		t.Errorf("unexpected order: %s, %s", subs[0].ID, subs[1].ID)
	}
	if !subs[1].Timestamp.IsZero() {
		t.Errorf("expected zero timestamp for corrupt row, got %v", subs[1].Timestamp)
	}
}

func TestCountByStatus(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	now := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		if err := st.SaveSubmission(ctx, newTestSubmission(id, now)); err != nil {
			t.Fatalf("failed to save %s: %v", id, err)
		}
	}
	if err := st.MarkSynced(ctx, "b"); err != nil {
		t.Fatalf("failed to mark synced: %v", err)
	}

	counts, err := st.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if counts[schema.StatusPending] != 2 || counts[schema.StatusSynced] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestRosterReplaceAndGet(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if err := st.EnsureDefaultRoster(ctx); err != nil {
		t.Fatalf("failed to seed default roster: %v", err)
	}

	units, source, err := st.GetRoster(ctx)
	if err != nil {
		t.Fatalf("failed to get roster: %v", err)
	}
	if source != schema.SourceDefault {
		t.Errorf("expected default source, got %s", source)
	}
	if len(units) != len(schema.DefaultRoster()) {
		t.Errorf("expected default roster, got %d units", len(units))
	}

	// EnsureDefaultRoster must not overwrite an existing roster.
	cloud := []schema.Unit{{
		ID:          "SVC-09",
		DisplayName: "SVC Sul",
		Vehicles:    []schema.Vehicle{{Plate: "XYZ9Z99", Category: "van"}},
	}}
	if err := st.ReplaceRoster(ctx, cloud, schema.SourceCloud); err != nil {
		t.Fatalf("failed to replace roster: %v", err)
	}
	if err := st.EnsureDefaultRoster(ctx); err != nil {
		t.Fatalf("EnsureDefaultRoster after replace failed: %v", err)
	}

	units, source, err = st.GetRoster(ctx)
	if err != nil {
		t.Fatalf("failed to get roster: %v", err)
	}
	if source != schema.SourceCloud {
		t.Errorf("expected cloud source, got %s", source)
	}
	if len(units) != 1 || units[0].ID != "SVC-09" {
		t.Errorf("replace was not a full replace: %+v", units)
	}
	if len(units[0].Vehicles) != 1 || units[0].Vehicles[0].Plate != "XYZ9Z99" {
		t.Errorf("vehicles lost in replace: %+v", units[0].Vehicles)
	}
}

func TestReplaceRosterRejectsInvalid(t *testing.T) {
	st := setupTestStore(t)

	bad := []schema.Unit{{ID: "", DisplayName: "No ID"}}
	if err := st.ReplaceRoster(context.Background(), bad, schema.SourceLocal); err == nil {
		t.Errorf("expected error replacing with invalid roster")
	}
}

func TestSettings(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	got, err := st.GetSetting(ctx, SettingEndpointURL)
	if err != nil {
		t.Fatalf("failed to get unset setting: %v", err)
	}
	if got != "" {
		t.Errorf("unset setting should be empty, got %q", got)
	}

	if err := st.SetSetting(ctx, SettingEndpointURL, "https://example.com/exec"); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	if err := st.SetSetting(ctx, SettingEndpointURL, "https://example.com/v2"); err != nil {
		t.Fatalf("failed to overwrite: %v", err)
	}

	got, err = st.GetSetting(ctx, SettingEndpointURL)
	if err != nil {
		t.Fatalf("failed to get setting: %v", err)
	}
	if got != "https://example.com/v2" {
		t.Errorf("expected overwritten value, got %q", got)
	}
}

func TestReset(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if err := st.SaveSubmission(ctx, newTestSubmission("sub-1", time.Now())); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if err := st.EnsureDefaultRoster(ctx); err != nil {
		t.Fatalf("failed to seed roster: %v", err)
	}
	if err := st.SetSetting(ctx, SettingEndpointURL, "https://example.com"); err != nil {
		t.Fatalf("failed to set setting: %v", err)
	}

	if err := st.Reset(ctx); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	subs, err := st.GetAllSubmissions(ctx)
	if err != nil {
		t.Fatalf("failed to get submissions: %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("submissions survived reset: %d", len(subs))
	}

	units, _, err := st.GetRoster(ctx)
	if err != nil {
		t.Fatalf("failed to get roster: %v", err)
	}
	if len(units) != 0 {
		t.Errorf("roster survived reset: %d units", len(units))
	}

	endpoint, err := st.GetSetting(ctx, SettingEndpointURL)
	if err != nil {
		t.Fatalf("failed to get setting: %v", err)
	}
	if endpoint != "" {
		t.Errorf("settings survived reset: %q", endpoint)
	}
}
