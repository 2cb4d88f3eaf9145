package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nndrao/stern-sub001/internal/domain"
)

// SeedRecord inserts a minimal valid record and returns it. Mutators run
// before the insert.
func SeedRecord(tb testing.TB, ctx context.Context, tx *gorm.DB, mutate ...func(*domain.ConfigRecord)) *domain.ConfigRecord {
	tb.Helper()

	now := time.Now().UTC().Truncate(time.Millisecond)
	versionID := uuid.NewString()
	rec := &domain.ConfigRecord{
		ConfigID:      uuid.New(),
		AppID:         "workspace",
		UserID:        "user-1",
		ComponentType: "grid",
		Name:          "seed",
		Config:        datatypes.JSON([]byte(`{"theme":"dark"}`)),
		Settings: datatypes.JSONSlice[domain.ConfigVersion]{{
			VersionID:   versionID,
			Name:        "Default",
			Config:      datatypes.JSON([]byte(`{"theme":"dark"}`)),
			CreatedTime: now,
			UpdatedTime: now,
			IsActive:    true,
		}},
		ActiveSetting: versionID,
		CreatedBy:     "user-1",
		LastUpdatedBy: "user-1",
		CreationTime:  now,
		LastUpdated:   now,
	}
	for _, m := range mutate {
		m(rec)
	}
	if err := tx.WithContext(ctx).Create(rec).Error; err != nil {
		tb.Fatalf("seed record: %v", err)
	}
	return rec
}

func PtrBool(b bool) *bool { return &b }
