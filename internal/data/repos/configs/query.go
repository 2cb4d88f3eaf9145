package configs

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/nndrao/stern-sub001/internal/domain"
)

// sortColumns maps caller-facing sort keys onto real columns. Anything not
// listed here falls back to the default ordering, which also keeps arbitrary
// input out of the ORDER BY clause.
var sortColumns = map[string]string{
	"name":          "name",
	"appId":         "app_id",
	"userId":        "user_id",
	"componentType": "component_type",
	"category":      "category",
	"creationTime":  "creation_time",
	"lastUpdated":   "last_updated",
}

// applyFilter ANDs every explicit filter field onto q. Absent fields impose
// no constraint. Unless IncludeDeleted is set, the soft-delete scope keeps
// the implicit deletedAt == null predicate in place.
func applyFilter(q *gorm.DB, filter domain.RecordFilter) *gorm.DB {
	if filter.IncludeDeleted {
		q = q.Unscoped()
	}
	if filter.AppID != "" {
		q = q.Where("app_id = ?", filter.AppID)
	}
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.ComponentType != "" {
		q = q.Where("component_type = ?", filter.ComponentType)
	}
	if filter.ComponentSubType != "" {
		q = q.Where("component_sub_type = ?", filter.ComponentSubType)
	}
	if filter.IsDefault != nil {
		q = q.Where("is_default = ?", *filter.IsDefault)
	}
	if filter.IsShared != nil {
		q = q.Where("is_shared = ?", *filter.IsShared)
	}
	return q
}

// applyOrder produces a total order: the requested (or default) sort key,
// tie-broken by config_id so identical requests always return identical
// slices.
func applyOrder(q *gorm.DB, page domain.PageRequest) *gorm.DB {
	column, ok := sortColumns[page.SortBy]
	direction := strings.ToLower(page.SortOrder)
	if direction != domain.SortDesc {
		direction = domain.SortAsc
	}
	if !ok {
		column = "last_updated"
		if page.SortOrder == "" {
			direction = domain.SortDesc
		}
	}
	return q.Order(fmt.Sprintf("%s %s", column, direction)).Order("config_id asc")
}
