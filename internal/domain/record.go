package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ConfigRecord is the unified configuration record: the unit of storage and
// versioning every window, dock, and grid component persists its settings in.
// Field names form the durable schema other subsystems depend on.
type ConfigRecord struct {
	ConfigID uuid.UUID `gorm:"type:uuid;primaryKey" json:"configId"`

	AppID  string `gorm:"not null;index:idx_config_scope,priority:1" json:"appId"`
	UserID string `gorm:"not null;index:idx_config_scope,priority:2" json:"userId"`

	ComponentType    string `gorm:"not null;index" json:"componentType"`
	ComponentSubType string `gorm:"index" json:"componentSubType,omitempty"`

	Name        string                      `gorm:"not null" json:"name"`
	Description string                      `json:"description,omitempty"`
	Icon        string                      `json:"icon,omitempty"`
	Tags        datatypes.JSONSlice[string] `json:"tags,omitempty"`
	Category    string                      `json:"category,omitempty"`

	// Config mirrors the payload of the version referenced by ActiveSetting.
	// It is recomputed on every relevant mutation, never written independently.
	Config        datatypes.JSON                     `json:"config"`
	Settings      datatypes.JSONSlice[ConfigVersion] `json:"settings"`
	ActiveSetting string                             `gorm:"not null" json:"activeSetting"`

	IsShared  bool `gorm:"not null;default:false;index" json:"isShared"`
	IsDefault bool `gorm:"not null;default:false;index" json:"isDefault"`
	IsLocked  bool `gorm:"not null;default:false" json:"isLocked"`

	CreatedBy     string    `gorm:"not null" json:"createdBy"`
	LastUpdatedBy string    `json:"lastUpdatedBy"`
	CreationTime  time.Time `gorm:"not null" json:"creationTime"`
	LastUpdated   time.Time `gorm:"not null;index" json:"lastUpdated"`

	DeletedAt gorm.DeletedAt `gorm:"index" json:"deletedAt,omitempty"`
	DeletedBy *string        `json:"deletedBy,omitempty"`
}

func (ConfigRecord) TableName() string { return "unified_configs" }

func (r *ConfigRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ConfigID == uuid.Nil {
		r.ConfigID = uuid.New()
	}
	return nil
}

// ActiveVersion returns the version referenced by ActiveSetting, or nil when
// the pointer does not resolve.
func (r *ConfigRecord) ActiveVersion() *ConfigVersion {
	for i := range r.Settings {
		if r.Settings[i].VersionID == r.ActiveSetting {
			return &r.Settings[i]
		}
	}
	return nil
}

// IsLive reports whether the record has not been soft-deleted.
func (r *ConfigRecord) IsLive() bool {
	return !r.DeletedAt.Valid
}
