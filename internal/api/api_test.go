package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pharmacy-intel/internal/model"
	"github.com/sells-group/pharmacy-intel/internal/pipeline"
	"github.com/sells-group/pharmacy-intel/internal/store"
)

type stubTrigger struct {
	run     *model.Run
	err     error
	started bool
}

func (s *stubTrigger) Start(ctx context.Context) (*model.Run, error) {
	s.started = true
	return s.run, s.err
}

func (s *stubTrigger) Running() bool { return s.run != nil && !s.run.Status.Terminal() }

func newTestServer(t *testing.T, trigger Trigger) (http.Handler, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pharmacies.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	return NewServer(st, trigger).Router(), st
}

func seedPharmacies(t *testing.T, st store.Store) {
	t.Helper()
	score := 72.55
	_, err := st.UpsertBatch(context.Background(), []model.Pharmacy{
		{
			NPI:              "1234567890",
			OrganizationName: model.Str("MAIN STREET PHARMACY LLC"),
			City:             model.Str("KENT"),
			State:            model.Str("OH"),
			Zip:              model.Str("44240"),
			IsIndependent:    true,
			AcquisitionScore: &score,
		},
		{
			NPI:              "9876543210",
			OrganizationName: model.Str("CVS PHARMACY #04211"),
			City:             model.Str("PHOENIX"),
			State:            model.Str("AZ"),
			IsChain:          true,
			ChainParent:      model.Str("CVS"),
		},
	})
	require.NoError(t, err)
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, &stubTrigger{})
	rec := doRequest(t, h, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestTriggerAccepted(t *testing.T) {
	trigger := &stubTrigger{run: &model.Run{ID: "run-1", Status: model.RunRunning}}
	h, _ := newTestServer(t, trigger)

	rec := doRequest(t, h, http.MethodPost, "/api/pipeline/trigger", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, trigger.started)

	var run model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, model.RunRunning, run.Status)
}

func TestTriggerConflictWhileRunning(t *testing.T) {
	h, _ := newTestServer(t, &stubTrigger{err: pipeline.ErrRunActive})
	rec := doRequest(t, h, http.MethodPost, "/api/pipeline/trigger", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already in progress")
}

func TestStatusNeverRun(t *testing.T) {
	h, _ := newTestServer(t, &stubTrigger{})
	rec := doRequest(t, h, http.MethodGet, "/api/pipeline/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"never_run"}`, rec.Body.String())
}

func TestStatusReturnsLatestRun(t *testing.T) {
	h, st := newTestServer(t, &stubTrigger{})
	run, err := st.CreateRun(context.Background())
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(context.Background(), run.ID, 100, 10, 90, 3))

	rec := doRequest(t, h, http.MethodGet, "/api/pipeline/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var got model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, model.RunCompleted, got.Status)
	assert.Equal(t, int64(100), got.RecordsProcessed)
}

func TestSearchFilters(t *testing.T) {
	h, st := newTestServer(t, &stubTrigger{})
	seedPharmacies(t, st)

	rec := doRequest(t, h, http.MethodGet, "/api/pharmacies?state=oh&independent_only=true", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var result store.SearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, int64(1), result.Total)
	require.Len(t, result.Pharmacies, 1)
	assert.Equal(t, "1234567890", result.Pharmacies[0].NPI)
}

func TestGetPharmacy(t *testing.T) {
	h, st := newTestServer(t, &stubTrigger{})
	seedPharmacies(t, st)

	rec := doRequest(t, h, http.MethodGet, "/api/pharmacies/1234567890", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var p model.Pharmacy
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "MAIN STREET PHARMACY LLC", model.Deref(p.OrganizationName))

	rec = doRequest(t, h, http.MethodGet, "/api/pharmacies/0000000000", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateContact(t *testing.T) {
	h, st := newTestServer(t, &stubTrigger{})
	seedPharmacies(t, st)

	rec := doRequest(t, h, http.MethodPatch, "/api/pharmacies/1234567890",
		`{"deal_status":"contacted","notes":"left voicemail"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	var p model.Pharmacy
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "contacted", model.Deref(p.DealStatus))
	assert.Equal(t, "left voicemail", model.Deref(p.Notes))
	assert.Nil(t, p.ContactEmail, "untouched fields stay null")
}

func TestUpdateContactRejectsEmptyAndUnknown(t *testing.T) {
	h, st := newTestServer(t, &stubTrigger{})
	seedPharmacies(t, st)

	rec := doRequest(t, h, http.MethodPatch, "/api/pharmacies/1234567890", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodPatch, "/api/pharmacies/1234567890", `not-json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodPatch, "/api/pharmacies/0000000000", `{"notes":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListChanges(t *testing.T) {
	h, st := newTestServer(t, &stubTrigger{})
	require.NoError(t, st.InsertChanges(context.Background(), []model.Change{
		{NPI: "1234567890", OrganizationName: "MAIN STREET PHARMACY LLC",
			Type: model.ChangeNew, FieldChanged: model.FieldAll,
			NewValue: "New pharmacy: MAIN STREET PHARMACY LLC", DetectedAt: time.Now().UTC()},
		{NPI: "9876543210", OrganizationName: "CVS PHARMACY #04211",
			Type: model.ChangeUpdated, FieldChanged: "phone",
			OldValue: "a", NewValue: "b", DetectedAt: time.Now().UTC()},
	}))

	rec := doRequest(t, h, http.MethodGet, "/api/changes?type=updated", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Changes []model.Change `json:"changes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Changes, 1)
	assert.Equal(t, "phone", got.Changes[0].FieldChanged)

	rec = doRequest(t, h, http.MethodGet, "/api/changes?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRuns(t *testing.T) {
	h, st := newTestServer(t, &stubTrigger{})
	_, err := st.CreateRun(context.Background())
	require.NoError(t, err)

	rec := doRequest(t, h, http.MethodGet, "/api/runs", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Runs []model.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got.Runs, 1)
}

func TestExportCSV(t *testing.T) {
	h, st := newTestServer(t, &stubTrigger{})
	seedPharmacies(t, st)

	rec := doRequest(t, h, http.MethodGet, "/api/exports/csv?state=OH", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".csv")

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2, "header plus one OH row")
	assert.Contains(t, lines[0], "Organization Name")
	assert.Contains(t, lines[1], "MAIN STREET PHARMACY LLC")
}

func TestExportTargetsLayout(t *testing.T) {
	h, st := newTestServer(t, &stubTrigger{})
	seedPharmacies(t, st)

	rec := doRequest(t, h, http.MethodGet, "/api/exports/csv?targets=true", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Competition Score")
}

func TestExportUnknownFormat(t *testing.T) {
	h, _ := newTestServer(t, &stubTrigger{})
	rec := doRequest(t, h, http.MethodGet, "/api/exports/pdf", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
