package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nndrao/stern-sub001/internal/domain"
)

var errStoreDown = errors.New("store down")

// fakeRecordRepo is an in-memory stand-in for the Postgres-backed store with
// the same filter, ordering, and soft-delete semantics.
type fakeRecordRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*domain.ConfigRecord
	down    bool
}

func newFakeRecordRepo() *fakeRecordRepo {
	return &fakeRecordRepo{records: make(map[uuid.UUID]*domain.ConfigRecord)}
}

func copyRecord(rec *domain.ConfigRecord) *domain.ConfigRecord {
	raw, err := json.Marshal(rec)
	if err != nil {
		panic(err)
	}
	var out domain.ConfigRecord
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	out.DeletedAt = rec.DeletedAt
	out.DeletedBy = rec.DeletedBy
	return &out
}

func (f *fakeRecordRepo) GetByID(_ context.Context, _ *gorm.DB, configID uuid.UUID, includeDeleted bool) (*domain.ConfigRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errStoreDown
	}
	rec, ok := f.records[configID]
	if !ok {
		return nil, nil
	}
	if !includeDeleted && rec.DeletedAt.Valid {
		return nil, nil
	}
	return copyRecord(rec), nil
}

func (f *fakeRecordRepo) Save(_ context.Context, _ *gorm.DB, rec *domain.ConfigRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errStoreDown
	}
	f.records[rec.ConfigID] = copyRecord(rec)
	return nil
}

func (f *fakeRecordRepo) SoftDelete(_ context.Context, _ *gorm.DB, configID uuid.UUID, deletedBy string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return false, errStoreDown
	}
	rec, ok := f.records[configID]
	if !ok || rec.DeletedAt.Valid {
		return false, nil
	}
	rec.DeletedAt = gorm.DeletedAt{Time: now, Valid: true}
	rec.DeletedBy = &deletedBy
	return true, nil
}

func (f *fakeRecordRepo) matching(filter domain.RecordFilter) []*domain.ConfigRecord {
	var out []*domain.ConfigRecord
	for _, rec := range f.records {
		if !filter.IncludeDeleted && rec.DeletedAt.Valid {
			continue
		}
		if filter.AppID != "" && rec.AppID != filter.AppID {
			continue
		}
		if filter.UserID != "" && rec.UserID != filter.UserID {
			continue
		}
		if filter.ComponentType != "" && rec.ComponentType != filter.ComponentType {
			continue
		}
		if filter.ComponentSubType != "" && rec.ComponentSubType != filter.ComponentSubType {
			continue
		}
		if filter.IsDefault != nil && rec.IsDefault != *filter.IsDefault {
			continue
		}
		if filter.IsShared != nil && rec.IsShared != *filter.IsShared {
			continue
		}
		out = append(out, copyRecord(rec))
	}
	return out
}

// sortRecords mirrors the store's ordering: the requested key (asc unless
// desc), falling back to lastUpdated with desc as the unspecified default,
// tie-broken by configId.
func sortRecords(rows []*domain.ConfigRecord, page domain.PageRequest) {
	desc := strings.ToLower(page.SortOrder) == "desc"
	var key func(a, b *domain.ConfigRecord) int
	switch page.SortBy {
	case "name":
		key = func(a, b *domain.ConfigRecord) int { return strings.Compare(a.Name, b.Name) }
	default:
		key = func(a, b *domain.ConfigRecord) int {
			switch {
			case a.LastUpdated.Before(b.LastUpdated):
				return -1
			case a.LastUpdated.After(b.LastUpdated):
				return 1
			}
			return 0
		}
		if page.SortOrder == "" {
			desc = true
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if c := key(rows[i], rows[j]); c != 0 {
			if desc {
				return c > 0
			}
			return c < 0
		}
		return rows[i].ConfigID.String() < rows[j].ConfigID.String()
	})
}

func (f *fakeRecordRepo) List(_ context.Context, _ *gorm.DB, filter domain.RecordFilter, page domain.PageRequest) ([]*domain.ConfigRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errStoreDown
	}
	rows := f.matching(filter)
	sortRecords(rows, page)
	if !page.Paginated() {
		return rows, nil
	}
	start := (page.Page - 1) * page.Limit
	if start >= len(rows) {
		return nil, nil
	}
	end := start + page.Limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end], nil
}

func (f *fakeRecordRepo) Count(_ context.Context, _ *gorm.DB, filter domain.RecordFilter) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return 0, errStoreDown
	}
	return int64(len(f.matching(filter))), nil
}

func (f *fakeRecordRepo) ListDeletedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time) ([]*domain.ConfigRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errStoreDown
	}
	var out []*domain.ConfigRecord
	for _, rec := range f.records {
		if rec.DeletedAt.Valid && rec.DeletedAt.Time.Before(cutoff) {
			out = append(out, copyRecord(rec))
		}
	}
	return out, nil
}

func (f *fakeRecordRepo) PurgeDeletedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return 0, errStoreDown
	}
	var purged int64
	for id, rec := range f.records {
		if rec.DeletedAt.Valid && rec.DeletedAt.Time.Before(cutoff) {
			delete(f.records, id)
			purged++
		}
	}
	return purged, nil
}

func (f *fakeRecordRepo) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errStoreDown
	}
	return nil
}

func (f *fakeRecordRepo) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *fakeRecordRepo) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// recordingNotifier captures published change events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (n *recordingNotifier) PublishConfigChange(_ context.Context, ev ChangeEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}
