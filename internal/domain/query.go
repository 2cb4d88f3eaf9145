package domain

// RecordFilter is the equality-only filter set accepted by queries. Zero
// values impose no constraint; explicit fields are ANDed together.
type RecordFilter struct {
	AppID            string `json:"appId,omitempty"`
	UserID           string `json:"userId,omitempty"`
	ComponentType    string `json:"componentType,omitempty"`
	ComponentSubType string `json:"componentSubType,omitempty"`
	IsDefault        *bool  `json:"isDefault,omitempty"`
	IsShared         *bool  `json:"isShared,omitempty"`

	// IncludeDeleted lifts the implicit deletedAt == null predicate.
	IncludeDeleted bool `json:"includeDeleted,omitempty"`
}

const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// PageRequest selects a slice of a filtered, sorted result set. Page is
// 1-based; a zero Page or Limit means "no pagination".
type PageRequest struct {
	Page      int    `json:"page,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	SortBy    string `json:"sortBy,omitempty"`
	SortOrder string `json:"sortOrder,omitempty"`
}

func (p PageRequest) Paginated() bool {
	return p.Page > 0 && p.Limit > 0
}

// PagedRecords is the paginated query result: one page plus aggregate counts.
type PagedRecords struct {
	Items      []*ConfigRecord `json:"items"`
	Total      int64           `json:"total"`
	TotalPages int64           `json:"totalPages"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
}
