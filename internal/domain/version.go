package domain

import (
	"time"

	"gorm.io/datatypes"
)

// ConfigVersion is a named snapshot of a record's payload. Versions live
// inside the record's settings column; exactly one is active at a time.
type ConfigVersion struct {
	VersionID   string         `json:"versionId"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Config      datatypes.JSON `json:"config"`
	CreatedTime time.Time      `json:"createdTime"`
	UpdatedTime time.Time      `json:"updatedTime"`
	IsActive    bool           `json:"isActive"`
	Metadata    datatypes.JSON `json:"metadata,omitempty"`
}
