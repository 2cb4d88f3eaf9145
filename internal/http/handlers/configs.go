package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nndrao/stern-sub001/internal/domain"
	"github.com/nndrao/stern-sub001/internal/http/response"
	"github.com/nndrao/stern-sub001/internal/pkg/cfgerr"
	"github.com/nndrao/stern-sub001/internal/pkg/dbctx"
	"github.com/nndrao/stern-sub001/internal/platform/ctxutil"
	"github.com/nndrao/stern-sub001/internal/platform/logger"
	"github.com/nndrao/stern-sub001/internal/services"
)

type ConfigHandler struct {
	log     *logger.Logger
	configs services.ConfigService
}

func NewConfigHandler(log *logger.Logger, configs services.ConfigService) *ConfigHandler {
	return &ConfigHandler{
		log:     log.With("handler", "ConfigHandler"),
		configs: configs,
	}
}

// POST /api/configs
func (h *ConfigHandler) Create(c *gin.Context) {
	var req services.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	fillFromIdentity(c, &req)

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	rec, err := h.configs.Create(dbc, req)
	if err != nil {
		h.respondServiceError(c, "Create", err)
		return
	}
	response.RespondCreated(c, rec)
}

// GET /api/configs/:id
func (h *ConfigHandler) Get(c *gin.Context) {
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	rec, err := h.configs.FindByID(dbc, c.Param("id"))
	if err != nil {
		h.respondServiceError(c, "Get", err)
		return
	}
	response.RespondOK(c, rec)
}

// GET /api/configs
//
// Without page/limit the full filtered list comes back; with either present
// the paginated envelope does.
func (h *ConfigHandler) Query(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_query_params", err)
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}

	if c.Query("page") == "" && c.Query("limit") == "" {
		sort := domain.PageRequest{
			SortBy:    strings.TrimSpace(c.Query("sortBy")),
			SortOrder: strings.TrimSpace(c.Query("sortOrder")),
		}
		rows, err := h.configs.Query(dbc, filter, sort)
		if err != nil {
			h.respondServiceError(c, "Query", err)
			return
		}
		response.RespondOK(c, rows)
		return
	}

	page, err := parsePage(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_query_params", err)
		return
	}
	paged, err := h.configs.QueryWithPagination(dbc, filter, page)
	if err != nil {
		h.respondServiceError(c, "QueryWithPagination", err)
		return
	}
	response.RespondOK(c, paged)
}

// PATCH /api/configs/:id
func (h *ConfigHandler) Update(c *gin.Context) {
	var patch services.RecordPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	rec, err := h.configs.Update(dbc, c.Param("id"), patch, callerID(c))
	if err != nil {
		h.respondServiceError(c, "Update", err)
		return
	}
	response.RespondOK(c, rec)
}

// DELETE /api/configs/:id
func (h *ConfigHandler) Delete(c *gin.Context) {
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	if err := h.configs.Delete(dbc, c.Param("id"), callerID(c)); err != nil {
		h.respondServiceError(c, "Delete", err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": true})
}

type cloneRequest struct {
	Name   string `json:"name"`
	UserID string `json:"userId"`
}

// POST /api/configs/:id/clone
func (h *ConfigHandler) Clone(c *gin.Context) {
	var req cloneRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
			return
		}
	}
	if req.UserID == "" {
		req.UserID = callerID(c)
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	rec, err := h.configs.Clone(dbc, c.Param("id"), req.Name, req.UserID)
	if err != nil {
		h.respondServiceError(c, "Clone", err)
		return
	}
	response.RespondCreated(c, rec)
}

// POST /api/configs/bulk
func (h *ConfigHandler) BulkCreate(c *gin.Context) {
	var reqs []services.CreateRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	for i := range reqs {
		fillFromIdentity(c, &reqs[i])
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	response.RespondOK(c, h.configs.BulkCreate(dbc, reqs))
}

// PATCH /api/configs/bulk
func (h *ConfigHandler) BulkUpdate(c *gin.Context) {
	var items []services.BulkUpdateItem
	if err := c.ShouldBindJSON(&items); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	for i := range items {
		if items[i].UpdatedBy == "" {
			items[i].UpdatedBy = callerID(c)
		}
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	response.RespondOK(c, h.configs.BulkUpdate(dbc, items))
}

type bulkDeleteRequest struct {
	ConfigIDs []string `json:"configIds"`
}

// POST /api/configs/bulk-delete
func (h *ConfigHandler) BulkDelete(c *gin.Context) {
	var req bulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	response.RespondOK(c, h.configs.BulkDelete(dbc, req.ConfigIDs, callerID(c)))
}

// POST /api/configs/cleanup?dryRun=true
func (h *ConfigHandler) Cleanup(c *gin.Context) {
	dryRun := false
	if raw := c.Query("dryRun"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_query_params", err)
			return
		}
		dryRun = v
	}
	response.RespondOK(c, h.configs.Cleanup(c.Request.Context(), dryRun))
}

// GET /api/configs/health
func (h *ConfigHandler) Health(c *gin.Context) {
	status := h.configs.HealthStatus(c.Request.Context())
	code := http.StatusOK
	if !status.IsHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *ConfigHandler) respondServiceError(c *gin.Context, op string, err error) {
	var se *cfgerr.Error
	if !errors.As(err, &se) {
		h.log.Error(op+" failed", "error", err)
		response.RespondError(c, http.StatusInternalServerError, "internal_error", err)
		return
	}
	switch se.Kind {
	case cfgerr.KindValidation:
		response.RespondError(c, http.StatusBadRequest, string(se.Kind), se)
	case cfgerr.KindNotFound:
		response.RespondError(c, http.StatusNotFound, string(se.Kind), se)
	case cfgerr.KindInvalidReference:
		response.RespondError(c, http.StatusUnprocessableEntity, string(se.Kind), se)
	case cfgerr.KindDuplicateVersion:
		response.RespondError(c, http.StatusConflict, string(se.Kind), se)
	case cfgerr.KindStorageUnavailable:
		h.log.Error(op+" failed", "error", err)
		response.RespondError(c, http.StatusServiceUnavailable, string(se.Kind), se)
	default:
		h.log.Error(op+" failed", "error", err)
		response.RespondError(c, http.StatusInternalServerError, string(se.Kind), se)
	}
}

// callerID is the acting user for audit fields, taken from the identity
// headers when present.
func callerID(c *gin.Context) string {
	if id := ctxutil.GetIdentity(c.Request.Context()); id != nil {
		return id.UserID
	}
	return ""
}

func fillFromIdentity(c *gin.Context, req *services.CreateRequest) {
	id := ctxutil.GetIdentity(c.Request.Context())
	if id == nil {
		return
	}
	if req.AppID == "" {
		req.AppID = id.AppID
	}
	if req.UserID == "" {
		req.UserID = id.UserID
	}
	if req.CreatedBy == "" {
		req.CreatedBy = id.UserID
	}
}

func parseFilter(c *gin.Context) (domain.RecordFilter, error) {
	filter := domain.RecordFilter{
		AppID:            strings.TrimSpace(c.Query("appId")),
		UserID:           strings.TrimSpace(c.Query("userId")),
		ComponentType:    strings.TrimSpace(c.Query("componentType")),
		ComponentSubType: strings.TrimSpace(c.Query("componentSubType")),
	}
	for _, q := range []struct {
		name string
		dst  **bool
	}{
		{"isDefault", &filter.IsDefault},
		{"isShared", &filter.IsShared},
	} {
		if raw := c.Query(q.name); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return domain.RecordFilter{}, err
			}
			*q.dst = &v
		}
	}
	if raw := c.Query("includeDeleted"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return domain.RecordFilter{}, err
		}
		filter.IncludeDeleted = v
	}
	return filter, nil
}

func parsePage(c *gin.Context) (domain.PageRequest, error) {
	page := domain.PageRequest{
		Page:      1,
		Limit:     50,
		SortBy:    strings.TrimSpace(c.Query("sortBy")),
		SortOrder: strings.TrimSpace(c.Query("sortOrder")),
	}
	if raw := c.Query("page"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return domain.PageRequest{}, err
		}
		page.Page = v
	}
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return domain.PageRequest{}, err
		}
		page.Limit = v
	}
	return page, nil
}
