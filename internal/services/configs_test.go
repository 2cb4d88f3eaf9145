package services

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nndrao/stern-sub001/internal/domain"
	"github.com/nndrao/stern-sub001/internal/pkg/cfgerr"
	"github.com/nndrao/stern-sub001/internal/pkg/dbctx"
	"github.com/nndrao/stern-sub001/internal/platform/logger"
)

func newTestService(t *testing.T) (ConfigService, *fakeRecordRepo) {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	repo := newFakeRecordRepo()
	svc := NewConfigService(log, repo, NewNoopNotifier(), Options{})
	return svc, repo
}

func testDBC() dbctx.Context {
	return dbctx.Context{Ctx: context.Background()}
}

func validCreate(name string) CreateRequest {
	return CreateRequest{
		AppID:         "workspace",
		UserID:        "alice",
		ComponentType: "grid",
		Name:          name,
		Config:        json.RawMessage(`{"columns":["a","b"]}`),
		CreatedBy:     "alice",
	}
}

func TestCreateSynthesizesDefaultVersion(t *testing.T) {
	svc, _ := newTestService(t)

	rec, err := svc.Create(testDBC(), validCreate("my grid"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.ConfigID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Fatal("configId not generated")
	}
	if len(rec.Settings) != 1 || rec.Settings[0].Name != "Default" || !rec.Settings[0].IsActive {
		t.Fatalf("default version malformed: %+v", rec.Settings)
	}
	if rec.ActiveSetting != rec.Settings[0].VersionID {
		t.Fatal("activeSetting does not resolve inside settings")
	}
	if string(rec.Config) != `{"columns":["a","b"]}` {
		t.Fatalf("config payload: got %s", rec.Config)
	}
	if rec.LastUpdated.Before(rec.CreationTime) {
		t.Fatal("lastUpdated must not precede creationTime")
	}

	// Round trip through the store.
	got, err := svc.FindByID(testDBC(), rec.ConfigID.String())
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if string(got.Config) != string(rec.Config) {
		t.Fatal("round trip lost the payload")
	}
	if got.ActiveVersion() == nil {
		t.Fatal("round trip lost the active version")
	}
}

func TestCreateValidatesRequiredFields(t *testing.T) {
	svc, repo := newTestService(t)

	req := validCreate("x")
	req.ComponentType = ""
	req.CreatedBy = ""
	_, err := svc.Create(testDBC(), req)
	if !cfgerr.IsKind(err, cfgerr.KindValidation) {
		t.Fatalf("want validation_error, got %v", err)
	}
	if repo.size() != 0 {
		t.Fatal("invalid create must not persist")
	}
}

func TestCreateWithSuppliedSettings(t *testing.T) {
	svc, _ := newTestService(t)

	req := validCreate("versioned")
	req.Config = nil
	req.Settings = []domain.ConfigVersion{
		{VersionID: "v1", Name: "Compact", Config: []byte(`{"density":"compact"}`)},
		{VersionID: "v2", Name: "Wide", Config: []byte(`{"density":"wide"}`)},
	}
	req.ActiveSetting = "v2"

	rec, err := svc.Create(testDBC(), req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.ActiveSetting != "v2" {
		t.Fatalf("activeSetting: want v2 got %s", rec.ActiveSetting)
	}
	if string(rec.Config) != `{"density":"wide"}` {
		t.Fatalf("config mirror: got %s", rec.Config)
	}

	req.Settings = append(req.Settings, domain.ConfigVersion{VersionID: "v1"})
	_, err = svc.Create(testDBC(), req)
	if !cfgerr.IsKind(err, cfgerr.KindDuplicateVersion) {
		t.Fatalf("duplicate ids: want duplicate_version, got %v", err)
	}
}

func TestUpdateMergesOnlyPresentFields(t *testing.T) {
	svc, _ := newTestService(t)

	rec, err := svc.Create(testDBC(), validCreate("before"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var patch RecordPatch
	if err := json.Unmarshal([]byte(`{"description":"now documented","isShared":true}`), &patch); err != nil {
		t.Fatalf("unmarshal patch: %v", err)
	}

	updated, err := svc.Update(testDBC(), rec.ConfigID.String(), patch, "bob")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != "before" {
		t.Fatal("omitted name was reset")
	}
	if updated.Description != "now documented" || !updated.IsShared {
		t.Fatalf("patched fields not applied: %+v", updated)
	}
	if string(updated.Config) != string(rec.Config) {
		t.Fatal("untouched config changed")
	}
	if updated.LastUpdatedBy != "bob" {
		t.Fatalf("lastUpdatedBy: got %q", updated.LastUpdatedBy)
	}
	if !updated.LastUpdated.After(rec.LastUpdated) {
		t.Fatal("lastUpdated not bumped")
	}
}

func TestUpdateActiveSettingSwitch(t *testing.T) {
	svc, _ := newTestService(t)

	req := validCreate("switchable")
	req.Settings = []domain.ConfigVersion{
		{VersionID: "v1", Name: "One", Config: []byte(`{"n":1}`)},
		{VersionID: "v2", Name: "Two", Config: []byte(`{"n":2}`)},
	}
	req.ActiveSetting = "v1"
	rec, err := svc.Create(testDBC(), req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var patch RecordPatch
	if err := json.Unmarshal([]byte(`{"activeSetting":"v2"}`), &patch); err != nil {
		t.Fatalf("unmarshal patch: %v", err)
	}
	updated, err := svc.Update(testDBC(), rec.ConfigID.String(), patch, "alice")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	active := 0
	for _, v := range updated.Settings {
		if v.IsActive {
			active++
		}
	}
	if active != 1 || updated.ActiveSetting != "v2" || string(updated.Config) != `{"n":2}` {
		t.Fatalf("switch not applied: active=%d setting=%s config=%s", active, updated.ActiveSetting, updated.Config)
	}

	var bad RecordPatch
	if err := json.Unmarshal([]byte(`{"activeSetting":"unknown"}`), &bad); err != nil {
		t.Fatalf("unmarshal patch: %v", err)
	}
	_, err = svc.Update(testDBC(), rec.ConfigID.String(), bad, "alice")
	if !cfgerr.IsKind(err, cfgerr.KindInvalidReference) {
		t.Fatalf("want invalid_reference, got %v", err)
	}

	after, err := svc.FindByID(testDBC(), rec.ConfigID.String())
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if after.ActiveSetting != "v2" || string(after.Config) != `{"n":2}` {
		t.Fatal("failed switch must leave the stored record unchanged")
	}
}

func TestUpdateConfigOnlyRewritesActiveVersion(t *testing.T) {
	svc, _ := newTestService(t)

	rec, err := svc.Create(testDBC(), validCreate("payload"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var patch RecordPatch
	if err := json.Unmarshal([]byte(`{"config":{"columns":["c"]}}`), &patch); err != nil {
		t.Fatalf("unmarshal patch: %v", err)
	}
	updated, err := svc.Update(testDBC(), rec.ConfigID.String(), patch, "alice")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if string(updated.Config) != `{"columns":["c"]}` {
		t.Fatalf("top-level config: got %s", updated.Config)
	}
	av := updated.ActiveVersion()
	if av == nil || string(av.Config) != `{"columns":["c"]}` {
		t.Fatal("active version payload not replaced in place")
	}
	if updated.ActiveSetting != rec.ActiveSetting {
		t.Fatal("config-only update must not change the active pointer")
	}
}

func TestUpdateMissingRecord(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Update(testDBC(), "1c7b9e9a-93a8-4a8e-8f6c-5d7adbd1a111", RecordPatch{}, "alice")
	if !cfgerr.IsKind(err, cfgerr.KindNotFound) {
		t.Fatalf("want not_found, got %v", err)
	}
}

func TestDeleteExcludesFromReads(t *testing.T) {
	svc, _ := newTestService(t)

	rec, err := svc.Create(testDBC(), validCreate("doomed"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := rec.ConfigID.String()

	if err := svc.Delete(testDBC(), id, "admin"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := svc.FindByID(testDBC(), id); !cfgerr.IsKind(err, cfgerr.KindNotFound) {
		t.Fatalf("FindByID after delete: want not_found, got %v", err)
	}

	rows, err := svc.Query(testDBC(), domain.RecordFilter{AppID: "workspace"}, domain.PageRequest{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("default query must exclude soft-deleted: got %d", len(rows))
	}

	rows, err = svc.Query(testDBC(), domain.RecordFilter{AppID: "workspace", IncludeDeleted: true}, domain.PageRequest{})
	if err != nil {
		t.Fatalf("Query includeDeleted: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("includeDeleted query: want=1 got=%d", len(rows))
	}

	// Deleting again is not idempotent.
	if err := svc.Delete(testDBC(), id, "admin"); !cfgerr.IsKind(err, cfgerr.KindNotFound) {
		t.Fatalf("second delete: want not_found, got %v", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	svc, _ := newTestService(t)

	req := validCreate("original")
	req.Settings = []domain.ConfigVersion{
		{VersionID: "v1", Name: "One", Config: []byte(`{"n":1}`)},
		{VersionID: "v2", Name: "Two", Config: []byte(`{"n":2}`)},
	}
	req.ActiveSetting = "v2"
	source, err := svc.Create(testDBC(), req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	clone, err := svc.Clone(testDBC(), source.ConfigID.String(), "copied", "bob")
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if clone.ConfigID == source.ConfigID {
		t.Fatal("clone shares configId with source")
	}
	if clone.Name != "copied" || clone.UserID != "bob" || clone.CreatedBy != "bob" {
		t.Fatalf("clone identity: %+v", clone)
	}
	sourceIDs := map[string]bool{}
	for _, v := range source.Settings {
		sourceIDs[v.VersionID] = true
	}
	for _, v := range clone.Settings {
		if sourceIDs[v.VersionID] {
			t.Fatalf("clone shares versionId %s with source", v.VersionID)
		}
	}
	if clone.ActiveVersion() == nil || string(clone.ActiveVersion().Config) != `{"n":2}` {
		t.Fatal("clone active payload mismatch")
	}

	// Mutating the clone must not touch the source.
	var patch RecordPatch
	if err := json.Unmarshal([]byte(`{"config":{"n":42}}`), &patch); err != nil {
		t.Fatalf("unmarshal patch: %v", err)
	}
	if _, err := svc.Update(testDBC(), clone.ConfigID.String(), patch, "bob"); err != nil {
		t.Fatalf("Update clone: %v", err)
	}
	got, err := svc.FindByID(testDBC(), source.ConfigID.String())
	if err != nil {
		t.Fatalf("FindByID source: %v", err)
	}
	if string(got.Config) != `{"n":2}` {
		t.Fatalf("source changed after clone mutation: %s", got.Config)
	}

	if _, err := svc.Clone(testDBC(), "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", "x", ""); !cfgerr.IsKind(err, cfgerr.KindNotFound) {
		t.Fatalf("clone of missing source: want not_found, got %v", err)
	}
}

func TestBulkCreatePartialFailure(t *testing.T) {
	svc, repo := newTestService(t)

	bad := validCreate("bad")
	bad.Name = ""
	results := svc.BulkCreate(testDBC(), []CreateRequest{validCreate("good"), bad})

	if len(results) != 2 {
		t.Fatalf("results: want=2 got=%d", len(results))
	}
	if !results[0].Success || results[0].Record == nil {
		t.Fatalf("item 0 should succeed: %+v", results[0])
	}
	if results[1].Success || results[1].Error == nil || results[1].Error.Kind != cfgerr.KindValidation {
		t.Fatalf("item 1 should fail with validation_error: %+v", results[1])
	}
	if repo.size() != 1 {
		t.Fatalf("persisted records: want=1 got=%d", repo.size())
	}
}

func TestQuerySortsWithoutPagination(t *testing.T) {
	svc, _ := newTestService(t)

	for _, name := range []string{"bravo", "alpha", "charlie"} {
		if _, err := svc.Create(testDBC(), validCreate(name)); err != nil {
			t.Fatalf("Create %s: %v", name, err)
		}
	}

	filter := domain.RecordFilter{AppID: "workspace"}
	rows, err := svc.Query(testDBC(), filter, domain.PageRequest{SortBy: "name", SortOrder: "asc"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	var names []string
	for _, r := range rows {
		names = append(names, r.Name)
	}
	if len(names) != 3 || names[0] != "alpha" || names[1] != "bravo" || names[2] != "charlie" {
		t.Fatalf("asc order: got %v", names)
	}

	rows, err = svc.Query(testDBC(), filter, domain.PageRequest{SortBy: "name", SortOrder: "desc"})
	if err != nil {
		t.Fatalf("Query desc: %v", err)
	}
	if rows[0].Name != "charlie" || rows[2].Name != "alpha" {
		t.Fatalf("desc order: got %s..%s", rows[0].Name, rows[2].Name)
	}
}

func TestBulkUpdatePartialFailure(t *testing.T) {
	svc, _ := newTestService(t)

	rec, err := svc.Create(testDBC(), validCreate("bulk target"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var patch RecordPatch
	if err := json.Unmarshal([]byte(`{"description":"bulk updated"}`), &patch); err != nil {
		t.Fatalf("unmarshal patch: %v", err)
	}

	results := svc.BulkUpdate(testDBC(), []BulkUpdateItem{
		{ConfigID: rec.ConfigID.String(), UpdatedBy: "bob", RecordPatch: patch},
		{ConfigID: "99999999-8888-7777-6666-555555555555", RecordPatch: patch},
	})
	if len(results) != 2 {
		t.Fatalf("results: want=2 got=%d", len(results))
	}
	if !results[0].Success || results[0].Record == nil || results[0].Record.Description != "bulk updated" {
		t.Fatalf("item 0 should succeed with the patched record: %+v", results[0])
	}
	if results[1].Success || results[1].Error == nil || results[1].Error.Kind != cfgerr.KindNotFound {
		t.Fatalf("item 1 should fail not_found: %+v", results[1])
	}

	got, err := svc.FindByID(testDBC(), rec.ConfigID.String())
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Description != "bulk updated" || got.LastUpdatedBy != "bob" {
		t.Fatalf("valid item not persisted: desc=%q by=%q", got.Description, got.LastUpdatedBy)
	}
}

func TestConcurrentUpdatesSerializePerRecord(t *testing.T) {
	svc, _ := newTestService(t)

	rec, err := svc.Create(testDBC(), validCreate("contended"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	lower := strings.ToLower(rec.ConfigID.String())
	upper := strings.ToUpper(rec.ConfigID.String())

	const n = 20
	stamps := make([]time.Time, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		// Alternate spellings of the same id; both must take the same lock.
		id := lower
		if i%2 == 1 {
			id = upper
		}
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			var patch RecordPatch
			if err := json.Unmarshal([]byte(`{"description":"spin"}`), &patch); err != nil {
				t.Errorf("unmarshal patch: %v", err)
				return
			}
			updated, err := svc.Update(testDBC(), id, patch, "alice")
			if err != nil {
				t.Errorf("Update: %v", err)
				return
			}
			stamps[i] = updated.LastUpdated
		}(i, id)
	}
	wg.Wait()

	// Serialized updates each read the previous write, so every stamp is
	// strictly later than the one before it.
	seen := make(map[int64]bool, n)
	for i, ts := range stamps {
		if ts.IsZero() {
			t.Fatalf("update %d did not complete", i)
		}
		if seen[ts.UnixNano()] {
			t.Fatal("two updates produced the same lastUpdated; writes interleaved")
		}
		seen[ts.UnixNano()] = true
	}
}

func TestBulkDeleteReportsPerItem(t *testing.T) {
	svc, _ := newTestService(t)

	rec, err := svc.Create(testDBC(), validCreate("bulk"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	results := svc.BulkDelete(testDBC(), []string{
		rec.ConfigID.String(),
		"11111111-2222-3333-4444-555555555555",
	}, "admin")
	if len(results) != 2 {
		t.Fatalf("results: want=2 got=%d", len(results))
	}
	if !results[0].Success {
		t.Fatalf("item 0 should succeed: %+v", results[0])
	}
	if results[1].Success || results[1].Error == nil || results[1].Error.Kind != cfgerr.KindNotFound {
		t.Fatalf("item 1 should fail not_found: %+v", results[1])
	}
}

func TestQueryWithPaginationDeterminism(t *testing.T) {
	svc, repo := newTestService(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 25; i++ {
		rec, err := svc.Create(testDBC(), validCreate("rec"))
		if err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		// Spread lastUpdated so ordering is meaningful.
		repo.mu.Lock()
		repo.records[rec.ConfigID].LastUpdated = base.Add(time.Duration(i) * time.Minute)
		repo.mu.Unlock()
	}

	filter := domain.RecordFilter{AppID: "workspace"}
	page2, err := svc.QueryWithPagination(testDBC(), filter, domain.PageRequest{Page: 2, Limit: 10})
	if err != nil {
		t.Fatalf("QueryWithPagination: %v", err)
	}
	if page2.Total != 25 || page2.TotalPages != 3 || len(page2.Items) != 10 {
		t.Fatalf("page 2: total=%d pages=%d items=%d", page2.Total, page2.TotalPages, len(page2.Items))
	}

	again, err := svc.QueryWithPagination(testDBC(), filter, domain.PageRequest{Page: 2, Limit: 10})
	if err != nil {
		t.Fatalf("QueryWithPagination again: %v", err)
	}
	for i := range page2.Items {
		if page2.Items[i].ConfigID != again.Items[i].ConfigID {
			t.Fatalf("page 2 unstable at index %d", i)
		}
	}

	page3, err := svc.QueryWithPagination(testDBC(), filter, domain.PageRequest{Page: 3, Limit: 10})
	if err != nil {
		t.Fatalf("page 3: %v", err)
	}
	if len(page3.Items) != 5 {
		t.Fatalf("page 3 items: want=5 got=%d", len(page3.Items))
	}

	beyond, err := svc.QueryWithPagination(testDBC(), filter, domain.PageRequest{Page: 9, Limit: 10})
	if err != nil {
		t.Fatalf("out-of-range page: %v", err)
	}
	if len(beyond.Items) != 0 {
		t.Fatalf("out-of-range page items: want=0 got=%d", len(beyond.Items))
	}
}

func TestCleanupDryRunLeavesStoreUntouched(t *testing.T) {
	svc, repo := newTestService(t)

	rec, err := svc.Create(testDBC(), validCreate("stale"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Delete(testDBC(), rec.ConfigID.String(), "admin"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// Age the deletion stamp past the retention window.
	repo.mu.Lock()
	stored := repo.records[rec.ConfigID]
	stored.DeletedAt.Time = time.Now().UTC().Add(-40 * 24 * time.Hour)
	repo.mu.Unlock()

	first := svc.Cleanup(context.Background(), true)
	if first.Error != "" {
		t.Fatalf("dry run error: %s", first.Error)
	}
	if first.EligibleCount != 1 || len(first.ConfigIDs) != 1 {
		t.Fatalf("dry run: eligible=%d ids=%d", first.EligibleCount, len(first.ConfigIDs))
	}
	second := svc.Cleanup(context.Background(), true)
	if second.EligibleCount != first.EligibleCount {
		t.Fatal("dry run mutated storage")
	}
	if repo.size() != 1 {
		t.Fatal("dry run purged a record")
	}

	purge := svc.Cleanup(context.Background(), false)
	if purge.PurgedCount != 1 {
		t.Fatalf("purgedCount: want=1 got=%d", purge.PurgedCount)
	}
	if repo.size() != 0 {
		t.Fatal("record not purged")
	}
}

func TestCleanupNeverRaises(t *testing.T) {
	svc, repo := newTestService(t)
	repo.setDown(true)

	report := svc.Cleanup(context.Background(), false)
	if report.Error == "" {
		t.Fatal("degraded storage must surface in the report")
	}
	if report.Error != "configuration storage unavailable" {
		t.Fatalf("storage internals leaked: %s", report.Error)
	}
}

func TestHealthStatus(t *testing.T) {
	svc, repo := newTestService(t)

	ok := svc.HealthStatus(context.Background())
	if !ok.IsHealthy {
		t.Fatalf("want healthy: %+v", ok)
	}
	if _, has := ok.Details["latencyMs"]; !has {
		t.Fatal("latency missing from details")
	}

	repo.setDown(true)
	down := svc.HealthStatus(context.Background())
	if down.IsHealthy {
		t.Fatal("want degraded status")
	}
	if down.Details["error"] != "storage unreachable" {
		t.Fatalf("details: %+v", down.Details)
	}
}

func TestNotifierReceivesChangeEvents(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	repo := newFakeRecordRepo()
	notifier := &recordingNotifier{}
	svc := NewConfigService(log, repo, notifier, Options{})

	rec, err := svc.Create(testDBC(), validCreate("observed"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Publication is fire-and-forget on a separate goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for {
		notifier.mu.Lock()
		n := len(notifier.events)
		notifier.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no change event published")
		}
		time.Sleep(10 * time.Millisecond)
	}

	notifier.mu.Lock()
	ev := notifier.events[0]
	notifier.mu.Unlock()
	if ev.Type != ChangeCreated || ev.ConfigID != rec.ConfigID.String() {
		t.Fatalf("event: %+v", ev)
	}
}
