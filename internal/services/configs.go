package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/nndrao/stern-sub001/internal/data/repos/configs"
	"github.com/nndrao/stern-sub001/internal/domain"
	"github.com/nndrao/stern-sub001/internal/pkg/cfgerr"
	"github.com/nndrao/stern-sub001/internal/pkg/dbctx"
	"github.com/nndrao/stern-sub001/internal/pkg/keymutex"
	"github.com/nndrao/stern-sub001/internal/platform/logger"
)

const (
	defaultStorageTimeout = 5 * time.Second
	defaultRetention      = 30 * 24 * time.Hour
	bulkConcurrency       = 8
)

type CreateRequest struct {
	AppID            string                 `json:"appId"`
	UserID           string                 `json:"userId"`
	ComponentType    string                 `json:"componentType"`
	ComponentSubType string                 `json:"componentSubType,omitempty"`
	Name             string                 `json:"name"`
	Description      string                 `json:"description,omitempty"`
	Icon             string                 `json:"icon,omitempty"`
	Tags             []string               `json:"tags,omitempty"`
	Category         string                 `json:"category,omitempty"`
	Config           json.RawMessage        `json:"config,omitempty"`
	Settings         []domain.ConfigVersion `json:"settings,omitempty"`
	ActiveSetting    string                 `json:"activeSetting,omitempty"`
	IsShared         bool                   `json:"isShared,omitempty"`
	IsDefault        bool                   `json:"isDefault,omitempty"`
	IsLocked         bool                   `json:"isLocked,omitempty"`
	CreatedBy        string                 `json:"createdBy"`
}

// RecordPatch carries only the fields the caller wants changed; omitted
// fields never reset stored values.
type RecordPatch struct {
	Name             OptionalString   `json:"name"`
	Description      OptionalString   `json:"description"`
	Icon             OptionalString   `json:"icon"`
	Category         OptionalString   `json:"category"`
	ComponentSubType OptionalString   `json:"componentSubType"`
	Tags             OptionalStrings  `json:"tags"`
	Config           OptionalJSON     `json:"config"`
	Settings         OptionalVersions `json:"settings"`
	ActiveSetting    OptionalString   `json:"activeSetting"`
	IsShared         OptionalBool     `json:"isShared"`
	IsDefault        OptionalBool     `json:"isDefault"`
	IsLocked         OptionalBool     `json:"isLocked"`
}

type BulkUpdateItem struct {
	ConfigID  string `json:"configId"`
	UpdatedBy string `json:"updatedBy,omitempty"`
	RecordPatch
}

// BulkResult is one item's outcome in a best-effort batch; failures never
// roll back sibling items.
type BulkResult struct {
	Success bool                 `json:"success"`
	Record  *domain.ConfigRecord `json:"record,omitempty"`
	Error   *cfgerr.Error        `json:"error,omitempty"`
}

type CleanupReport struct {
	DryRun        bool     `json:"dryRun"`
	EligibleCount int      `json:"eligibleCount"`
	PurgedCount   int64    `json:"purgedCount"`
	ConfigIDs     []string `json:"configIds,omitempty"`
	Error         string   `json:"error,omitempty"`
}

type HealthStatus struct {
	IsHealthy bool           `json:"isHealthy"`
	Details   map[string]any `json:"details"`
}

type ConfigService interface {
	Create(dbc dbctx.Context, req CreateRequest) (*domain.ConfigRecord, error)
	FindByID(dbc dbctx.Context, configID string) (*domain.ConfigRecord, error)
	Query(dbc dbctx.Context, filter domain.RecordFilter, sort domain.PageRequest) ([]*domain.ConfigRecord, error)
	QueryWithPagination(dbc dbctx.Context, filter domain.RecordFilter, page domain.PageRequest) (*domain.PagedRecords, error)
	Update(dbc dbctx.Context, configID string, patch RecordPatch, updatedBy string) (*domain.ConfigRecord, error)
	Delete(dbc dbctx.Context, configID string, deletedBy string) error
	Clone(dbc dbctx.Context, configID, newName, userID string) (*domain.ConfigRecord, error)
	BulkCreate(dbc dbctx.Context, reqs []CreateRequest) []BulkResult
	BulkUpdate(dbc dbctx.Context, items []BulkUpdateItem) []BulkResult
	BulkDelete(dbc dbctx.Context, configIDs []string, deletedBy string) []BulkResult
	Cleanup(ctx context.Context, dryRun bool) *CleanupReport
	HealthStatus(ctx context.Context) *HealthStatus
}

type Options struct {
	StorageTimeout time.Duration
	Retention      time.Duration
}

type configService struct {
	log            *logger.Logger
	repo           configs.RecordRepo
	notifier       ChangeNotifier
	locks          *keymutex.KeyMutex
	storageTimeout time.Duration
	retention      time.Duration
}

func NewConfigService(baseLog *logger.Logger, repo configs.RecordRepo, notifier ChangeNotifier, opts Options) ConfigService {
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = defaultStorageTimeout
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	if notifier == nil {
		notifier = NewNoopNotifier()
	}
	return &configService{
		log:            baseLog.With("service", "ConfigService"),
		repo:           repo,
		notifier:       notifier,
		locks:          keymutex.New(),
		storageTimeout: opts.StorageTimeout,
		retention:      opts.Retention,
	}
}

func (s *configService) Create(dbc dbctx.Context, req CreateRequest) (*domain.ConfigRecord, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &domain.ConfigRecord{
		ConfigID:         uuid.New(),
		AppID:            req.AppID,
		UserID:           req.UserID,
		ComponentType:    req.ComponentType,
		ComponentSubType: req.ComponentSubType,
		Name:             req.Name,
		Description:      req.Description,
		Icon:             req.Icon,
		Tags:             req.Tags,
		Category:         req.Category,
		Config:           datatypes.JSON(req.Config),
		IsShared:         req.IsShared,
		IsDefault:        req.IsDefault,
		IsLocked:         req.IsLocked,
		CreatedBy:        req.CreatedBy,
		LastUpdatedBy:    req.CreatedBy,
		CreationTime:     now,
		LastUpdated:      now,
	}

	if len(req.Settings) == 0 {
		synthesizeDefaultVersion(rec, now)
	} else {
		settings := assignVersionIDs(req.Settings, now)
		if err := validateVersionIDs(settings); err != nil {
			return nil, err
		}
		activeID, err := resolveActive(settings, req.ActiveSetting, "")
		if err != nil {
			return nil, err
		}
		if err := normalizeVersions(rec, settings, activeID, now); err != nil {
			return nil, err
		}
	}

	sctx, cancel := s.storageCtx(dbc.Ctx)
	defer cancel()
	if err := s.repo.Save(sctx, dbc.Tx, rec); err != nil {
		return nil, cfgerr.StorageUnavailable(err)
	}

	s.notify(ChangeCreated, rec)
	return rec, nil
}

func (s *configService) FindByID(dbc dbctx.Context, configID string) (*domain.ConfigRecord, error) {
	id, err := parseConfigID(configID)
	if err != nil {
		return nil, err
	}

	sctx, cancel := s.storageCtx(dbc.Ctx)
	defer cancel()
	rec, err := s.repo.GetByID(sctx, dbc.Tx, id, false)
	if err != nil {
		return nil, cfgerr.StorageUnavailable(err)
	}
	if rec == nil {
		return nil, cfgerr.NotFoundf("configuration %s not found", configID)
	}
	return rec, nil
}

func (s *configService) Query(dbc dbctx.Context, filter domain.RecordFilter, sort domain.PageRequest) ([]*domain.ConfigRecord, error) {
	// Sort-only here: slicing goes through QueryWithPagination.
	sort.Page, sort.Limit = 0, 0

	sctx, cancel := s.storageCtx(dbc.Ctx)
	defer cancel()
	rows, err := s.repo.List(sctx, dbc.Tx, filter, sort)
	if err != nil {
		return nil, cfgerr.StorageUnavailable(err)
	}
	return rows, nil
}

func (s *configService) QueryWithPagination(dbc dbctx.Context, filter domain.RecordFilter, page domain.PageRequest) (*domain.PagedRecords, error) {
	sctx, cancel := s.storageCtx(dbc.Ctx)
	defer cancel()

	total, err := s.repo.Count(sctx, dbc.Tx, filter)
	if err != nil {
		return nil, cfgerr.StorageUnavailable(err)
	}

	// Out-of-range page/limit yields an empty slice, never an error.
	if page.Page < 1 || page.Limit < 1 {
		return &domain.PagedRecords{
			Items: []*domain.ConfigRecord{},
			Total: total,
			Page:  page.Page,
			Limit: page.Limit,
		}, nil
	}

	rows, err := s.repo.List(sctx, dbc.Tx, filter, page)
	if err != nil {
		return nil, cfgerr.StorageUnavailable(err)
	}

	totalPages := total / int64(page.Limit)
	if total%int64(page.Limit) != 0 {
		totalPages++
	}
	return &domain.PagedRecords{
		Items:      rows,
		Total:      total,
		TotalPages: totalPages,
		Page:       page.Page,
		Limit:      page.Limit,
	}, nil
}

func (s *configService) Update(dbc dbctx.Context, configID string, patch RecordPatch, updatedBy string) (*domain.ConfigRecord, error) {
	id, err := parseConfigID(configID)
	if err != nil {
		return nil, err
	}

	// Canonical key, so every textual spelling of one id takes the same lock.
	s.locks.Lock(id.String())
	defer s.locks.Unlock(id.String())

	sctx, cancel := s.storageCtx(dbc.Ctx)
	defer cancel()

	rec, err := s.repo.GetByID(sctx, dbc.Tx, id, false)
	if err != nil {
		return nil, cfgerr.StorageUnavailable(err)
	}
	if rec == nil {
		return nil, cfgerr.NotFoundf("configuration %s not found", configID)
	}

	now := nextTimestamp(rec.LastUpdated)
	if err := applyPatch(rec, patch, now); err != nil {
		return nil, err
	}
	rec.LastUpdated = now
	if updatedBy != "" {
		rec.LastUpdatedBy = updatedBy
	}

	if err := s.repo.Save(sctx, dbc.Tx, rec); err != nil {
		return nil, cfgerr.StorageUnavailable(err)
	}

	s.notify(ChangeUpdated, rec)
	return rec, nil
}

func (s *configService) Delete(dbc dbctx.Context, configID string, deletedBy string) error {
	id, err := parseConfigID(configID)
	if err != nil {
		return err
	}

	s.locks.Lock(id.String())
	defer s.locks.Unlock(id.String())

	sctx, cancel := s.storageCtx(dbc.Ctx)
	defer cancel()

	deleted, err := s.repo.SoftDelete(sctx, dbc.Tx, id, deletedBy, time.Now().UTC())
	if err != nil {
		return cfgerr.StorageUnavailable(err)
	}
	if !deleted {
		return cfgerr.NotFoundf("configuration %s not found", configID)
	}

	s.notify(ChangeDeleted, &domain.ConfigRecord{ConfigID: id})
	return nil
}

func (s *configService) Clone(dbc dbctx.Context, configID, newName, userID string) (*domain.ConfigRecord, error) {
	id, err := parseConfigID(configID)
	if err != nil {
		return nil, err
	}

	sctx, cancel := s.storageCtx(dbc.Ctx)
	defer cancel()

	source, err := s.repo.GetByID(sctx, dbc.Tx, id, false)
	if err != nil {
		return nil, cfgerr.StorageUnavailable(err)
	}
	if source == nil {
		return nil, cfgerr.NotFoundf("configuration %s not found", configID)
	}

	now := time.Now().UTC()
	settings, activeID := remapVersionIDs(source.Settings, source.ActiveSetting, now)

	name := strings.TrimSpace(newName)
	if name == "" {
		name = source.Name + " (Copy)"
	}
	owner := userID
	if owner == "" {
		owner = source.UserID
	}
	createdBy := userID
	if createdBy == "" {
		createdBy = source.CreatedBy
	}

	clone := &domain.ConfigRecord{
		ConfigID:         uuid.New(),
		AppID:            source.AppID,
		UserID:           owner,
		ComponentType:    source.ComponentType,
		ComponentSubType: source.ComponentSubType,
		Name:             name,
		Description:      source.Description,
		Icon:             source.Icon,
		Tags:             append(datatypes.JSONSlice[string](nil), source.Tags...),
		Category:         source.Category,
		Settings:         settings,
		ActiveSetting:    activeID,
		Config:           cloneJSON(source.Config),
		IsShared:         source.IsShared,
		IsDefault:        source.IsDefault,
		IsLocked:         source.IsLocked,
		CreatedBy:        createdBy,
		LastUpdatedBy:    createdBy,
		CreationTime:     now,
		LastUpdated:      now,
	}

	if err := s.repo.Save(sctx, dbc.Tx, clone); err != nil {
		return nil, cfgerr.StorageUnavailable(err)
	}

	s.notify(ChangeCloned, clone)
	return clone, nil
}

func (s *configService) BulkCreate(dbc dbctx.Context, reqs []CreateRequest) []BulkResult {
	results := make([]BulkResult, len(reqs))
	s.runBulk(dbc, len(reqs), func(i int) {
		rec, err := s.Create(dbc, reqs[i])
		results[i] = toBulkResult(rec, err)
	})
	return results
}

func (s *configService) BulkUpdate(dbc dbctx.Context, items []BulkUpdateItem) []BulkResult {
	results := make([]BulkResult, len(items))
	s.runBulk(dbc, len(items), func(i int) {
		rec, err := s.Update(dbc, items[i].ConfigID, items[i].RecordPatch, items[i].UpdatedBy)
		results[i] = toBulkResult(rec, err)
	})
	return results
}

func (s *configService) BulkDelete(dbc dbctx.Context, configIDs []string, deletedBy string) []BulkResult {
	results := make([]BulkResult, len(configIDs))
	s.runBulk(dbc, len(configIDs), func(i int) {
		err := s.Delete(dbc, configIDs[i], deletedBy)
		results[i] = toBulkResult(nil, err)
	})
	return results
}

func (s *configService) Cleanup(ctx context.Context, dryRun bool) *CleanupReport {
	report := &CleanupReport{DryRun: dryRun}
	cutoff := time.Now().UTC().Add(-s.retention)

	sctx, cancel := s.storageCtx(ctx)
	defer cancel()

	if dryRun {
		rows, err := s.repo.ListDeletedBefore(sctx, nil, cutoff)
		if err != nil {
			s.log.Warn("cleanup dry run failed", "error", err)
			report.Error = "configuration storage unavailable"
			return report
		}
		report.EligibleCount = len(rows)
		for _, r := range rows {
			report.ConfigIDs = append(report.ConfigIDs, r.ConfigID.String())
		}
		return report
	}

	purged, err := s.repo.PurgeDeletedBefore(sctx, nil, cutoff)
	if err != nil {
		s.log.Warn("cleanup purge failed", "error", err)
		report.Error = "configuration storage unavailable"
		return report
	}
	report.PurgedCount = purged
	s.log.Info("cleanup purged soft-deleted configurations", "count", purged, "cutoff", cutoff)
	return report
}

func (s *configService) HealthStatus(ctx context.Context) *HealthStatus {
	sctx, cancel := s.storageCtx(ctx)
	defer cancel()

	start := time.Now()
	err := s.repo.Ping(sctx)
	latency := time.Since(start)

	details := map[string]any{
		"store":         "postgres",
		"latencyMs":     latency.Milliseconds(),
		"retentionDays": int(s.retention.Hours() / 24),
	}
	if err != nil {
		s.log.Warn("storage health probe failed", "error", err)
		details["error"] = "storage unreachable"
		return &HealthStatus{IsHealthy: false, Details: details}
	}
	return &HealthStatus{IsHealthy: true, Details: details}
}

// applyPatch merges the patch into rec. Settings, activeSetting, and config
// changes route through the version manager so invariants hold; rec is left
// unchanged only when the error is returned before any field write, so
// callers must not persist on error.
func applyPatch(rec *domain.ConfigRecord, patch RecordPatch, now time.Time) error {
	// Version concerns first: their failures must not leave half a patch.
	switch {
	case patch.Settings.Set:
		if len(patch.Settings.Value) == 0 {
			return cfgerr.Validationf("settings cannot be emptied; a record keeps at least one version")
		}
		settings := assignVersionIDs(patch.Settings.Value, now)
		if err := validateVersionIDs(settings); err != nil {
			return err
		}
		explicit := ""
		if patch.ActiveSetting.Set && patch.ActiveSetting.Value != nil {
			explicit = *patch.ActiveSetting.Value
		}
		activeID, err := resolveActive(settings, explicit, rec.ActiveSetting)
		if err != nil {
			return err
		}
		if err := normalizeVersions(rec, settings, activeID, now); err != nil {
			return err
		}
		if patch.Config.Set {
			if err := replaceActivePayload(rec, patchJSON(patch.Config), now); err != nil {
				return err
			}
		}
	case patch.ActiveSetting.Set:
		if patch.ActiveSetting.Value == nil || *patch.ActiveSetting.Value == "" {
			return cfgerr.Validationf("activeSetting cannot be cleared")
		}
		if err := switchActive(rec, *patch.ActiveSetting.Value); err != nil {
			return err
		}
		if patch.Config.Set {
			if err := replaceActivePayload(rec, patchJSON(patch.Config), now); err != nil {
				return err
			}
		}
	case patch.Config.Set:
		if err := replaceActivePayload(rec, patchJSON(patch.Config), now); err != nil {
			return err
		}
	}

	if patch.Name.Set {
		if patch.Name.Value == nil || *patch.Name.Value == "" {
			return cfgerr.Validationf("name cannot be empty")
		}
		rec.Name = *patch.Name.Value
	}
	if patch.Description.Set {
		rec.Description = stringOrEmpty(patch.Description.Value)
	}
	if patch.Icon.Set {
		rec.Icon = stringOrEmpty(patch.Icon.Value)
	}
	if patch.Category.Set {
		rec.Category = stringOrEmpty(patch.Category.Value)
	}
	if patch.ComponentSubType.Set {
		rec.ComponentSubType = stringOrEmpty(patch.ComponentSubType.Value)
	}
	if patch.Tags.Set {
		rec.Tags = patch.Tags.Value
	}
	if patch.IsShared.Set && patch.IsShared.Value != nil {
		rec.IsShared = *patch.IsShared.Value
	}
	if patch.IsDefault.Set && patch.IsDefault.Value != nil {
		rec.IsDefault = *patch.IsDefault.Value
	}
	if patch.IsLocked.Set && patch.IsLocked.Value != nil {
		rec.IsLocked = *patch.IsLocked.Value
	}
	return nil
}

// runBulk executes items independently: concurrent when no shared
// transaction is in play, sequential otherwise (a GORM tx is not safe across
// goroutines). Item failures are captured per slot and never cancel siblings.
func (s *configService) runBulk(dbc dbctx.Context, n int, item func(i int)) {
	if dbc.Tx != nil {
		for i := 0; i < n; i++ {
			item(i)
		}
		return
	}
	var g errgroup.Group
	g.SetLimit(bulkConcurrency)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			item(i)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *configService) notify(changeType string, rec *domain.ConfigRecord) {
	ev := ChangeEvent{
		Type:          changeType,
		ConfigID:      rec.ConfigID.String(),
		AppID:         rec.AppID,
		UserID:        rec.UserID,
		ComponentType: rec.ComponentType,
		Timestamp:     time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.notifier.PublishConfigChange(ctx, ev); err != nil {
			s.log.Warn("config change notification failed", "type", ev.Type, "configId", ev.ConfigID, "error", err)
		}
	}()
}

func (s *configService) storageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.storageTimeout)
}

func validateCreate(req CreateRequest) error {
	var missing []string
	if strings.TrimSpace(req.AppID) == "" {
		missing = append(missing, "appId")
	}
	if strings.TrimSpace(req.UserID) == "" {
		missing = append(missing, "userId")
	}
	if strings.TrimSpace(req.ComponentType) == "" {
		missing = append(missing, "componentType")
	}
	if strings.TrimSpace(req.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(req.CreatedBy) == "" {
		missing = append(missing, "createdBy")
	}
	if len(missing) > 0 {
		return cfgerr.Validationf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

func assignVersionIDs(settings []domain.ConfigVersion, now time.Time) []domain.ConfigVersion {
	out := make([]domain.ConfigVersion, len(settings))
	copy(out, settings)
	for i := range out {
		if out[i].VersionID == "" {
			out[i].VersionID = uuid.NewString()
		}
		if out[i].CreatedTime.IsZero() {
			out[i].CreatedTime = now
		}
		if out[i].UpdatedTime.IsZero() {
			out[i].UpdatedTime = now
		}
	}
	return out
}

func parseConfigID(configID string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(configID))
	if err != nil {
		return uuid.Nil, cfgerr.Validationf("malformed configId %q", configID)
	}
	return id, nil
}

// nextTimestamp keeps lastUpdated strictly non-decreasing even when the
// clock reads at or before the previous write.
func nextTimestamp(prev time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}

func patchJSON(o OptionalJSON) datatypes.JSON {
	if o.Value == nil {
		return datatypes.JSON([]byte(`{}`))
	}
	return datatypes.JSON(*o.Value)
}

func stringOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func toBulkResult(rec *domain.ConfigRecord, err error) BulkResult {
	if err == nil {
		return BulkResult{Success: true, Record: rec}
	}
	var se *cfgerr.Error
	if !errors.As(err, &se) {
		se = cfgerr.Wrap(cfgerr.KindStorageUnavailable, "configuration storage unavailable", err)
	}
	return BulkResult{Success: false, Error: se}
}
