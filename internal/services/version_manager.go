package services

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/nndrao/stern-sub001/internal/domain"
	"github.com/nndrao/stern-sub001/internal/pkg/cfgerr"
)

// The version manager keeps a record's settings and its active pointer
// mutually consistent: exactly one version carries isActive, its id equals
// activeSetting, and the record's top-level config mirrors that version's
// payload. Every mutation of settings, activeSetting, or config funnels
// through these helpers.

func validateVersionIDs(settings []domain.ConfigVersion) error {
	seen := make(map[string]struct{}, len(settings))
	for i := range settings {
		id := settings[i].VersionID
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			return cfgerr.DuplicateVersionf("duplicate versionId %q in settings", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// resolveActive picks the active version id for a freshly supplied settings
// set: an explicit request wins, then the previously active id when still
// present, then the single version flagged isActive, then the first version.
// An explicit id that does not resolve is the caller's fault.
func resolveActive(settings []domain.ConfigVersion, explicit, current string) (string, error) {
	if explicit != "" {
		for i := range settings {
			if settings[i].VersionID == explicit {
				return explicit, nil
			}
		}
		return "", cfgerr.InvalidReferencef("activeSetting %q does not reference a version in settings", explicit)
	}
	if current != "" {
		for i := range settings {
			if settings[i].VersionID == current {
				return current, nil
			}
		}
	}
	for i := range settings {
		if settings[i].IsActive {
			return settings[i].VersionID, nil
		}
	}
	if len(settings) > 0 {
		return settings[0].VersionID, nil
	}
	return "", cfgerr.Validationf("settings must contain at least one version")
}

// normalizeVersions installs settings on the record with activeID as the
// single active version, assigns fresh ids to versions missing one, and
// mirrors the active payload onto the record's top-level config.
func normalizeVersions(rec *domain.ConfigRecord, settings []domain.ConfigVersion, activeID string, now time.Time) error {
	normalized := make([]domain.ConfigVersion, len(settings))
	copy(normalized, settings)

	activeIdx := -1
	for i := range normalized {
		if normalized[i].VersionID == "" {
			normalized[i].VersionID = uuid.NewString()
		}
		if normalized[i].CreatedTime.IsZero() {
			normalized[i].CreatedTime = now
		}
		if normalized[i].UpdatedTime.IsZero() {
			normalized[i].UpdatedTime = now
		}
		normalized[i].IsActive = normalized[i].VersionID == activeID
		if normalized[i].IsActive {
			activeIdx = i
		}
	}
	if activeIdx < 0 {
		return cfgerr.InvalidReferencef("activeSetting %q does not reference a version in settings", activeID)
	}

	rec.Settings = normalized
	rec.ActiveSetting = activeID
	rec.Config = cloneJSON(normalized[activeIdx].Config)
	return nil
}

// switchActive flips the active flag to versionID and re-mirrors the
// top-level config. The record is untouched on failure.
func switchActive(rec *domain.ConfigRecord, versionID string) error {
	target := -1
	for i := range rec.Settings {
		if rec.Settings[i].VersionID == versionID {
			target = i
			break
		}
	}
	if target < 0 {
		return cfgerr.InvalidReferencef("activeSetting %q does not reference a version in settings", versionID)
	}
	for i := range rec.Settings {
		rec.Settings[i].IsActive = i == target
	}
	rec.ActiveSetting = versionID
	rec.Config = cloneJSON(rec.Settings[target].Config)
	return nil
}

// replaceActivePayload writes payload into the currently active version and
// mirrors it to the top-level config.
func replaceActivePayload(rec *domain.ConfigRecord, payload datatypes.JSON, now time.Time) error {
	for i := range rec.Settings {
		if rec.Settings[i].VersionID == rec.ActiveSetting {
			rec.Settings[i].Config = cloneJSON(payload)
			rec.Settings[i].UpdatedTime = now
			rec.Config = cloneJSON(payload)
			return nil
		}
	}
	return cfgerr.InvalidReferencef("activeSetting %q does not reference a version in settings", rec.ActiveSetting)
}

// synthesizeDefaultVersion wraps the record's config payload in a single
// "Default" version when the caller supplied none.
func synthesizeDefaultVersion(rec *domain.ConfigRecord, now time.Time) {
	payload := rec.Config
	if len(payload) == 0 {
		payload = datatypes.JSON([]byte(`{}`))
	}
	version := domain.ConfigVersion{
		VersionID:   uuid.NewString(),
		Name:        "Default",
		Config:      cloneJSON(payload),
		CreatedTime: now,
		UpdatedTime: now,
		IsActive:    true,
	}
	rec.Settings = []domain.ConfigVersion{version}
	rec.ActiveSetting = version.VersionID
	rec.Config = cloneJSON(payload)
}

// remapVersionIDs gives every version a fresh id so a clone shares nothing
// with its source, and returns the remapped active pointer.
func remapVersionIDs(settings []domain.ConfigVersion, activeID string, now time.Time) ([]domain.ConfigVersion, string) {
	remapped := make([]domain.ConfigVersion, len(settings))
	copy(remapped, settings)

	newActive := ""
	for i := range remapped {
		fresh := uuid.NewString()
		if remapped[i].VersionID == activeID {
			newActive = fresh
		}
		remapped[i].VersionID = fresh
		remapped[i].CreatedTime = now
		remapped[i].UpdatedTime = now
		remapped[i].Config = cloneJSON(remapped[i].Config)
		remapped[i].Metadata = cloneJSON(remapped[i].Metadata)
	}
	return remapped, newActive
}

func cloneJSON(in datatypes.JSON) datatypes.JSON {
	if len(in) == 0 {
		return nil
	}
	out := make(datatypes.JSON, len(in))
	copy(out, in)
	return out
}
