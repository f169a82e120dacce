package rbac

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/teilehub/teilehub/internal/platform/httpx"
)

// Handler exposes role and permission administration over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	stats    singleflight.Group
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes registers role and permission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/roles", func(r chi.Router) {
		r.Get("/", h.listRoles)
		r.Post("/", h.createRole)
		r.Get("/{id}", h.getRole)
		r.Patch("/{id}", h.updateRole)
		r.Delete("/{id}", h.deleteRole)
		r.Get("/{id}/permissions", h.rolePermissions)
		r.Post("/{id}/permissions", h.assignPermissionToRole)
		r.Delete("/{id}/permissions", h.removeAllPermissionsFromRole)
		r.Delete("/{id}/permissions/{permissionID}", h.removePermissionFromRole)
	})
	r.Route("/permissions", func(r chi.Router) {
		r.Get("/", h.listPermissions)
		r.Post("/", h.createPermission)
		r.Get("/statistics", h.permissionStatistics)
		r.Get("/{id}", h.getPermission)
		r.Delete("/{id}", h.deletePermission)
		r.Post("/{id}/clone", h.clonePermission)
	})
	// Param name matches the users routes mounted on the same router; chi
	// refuses differing param names at one position.
	r.Route("/users/{id}", func(r chi.Router) {
		r.Post("/roles", h.assignRoleToUser)
		r.Delete("/roles/{roleID}", h.removeRoleFromUser)
		r.Get("/permissions", h.userDirectPermissions)
		r.Post("/permissions", h.assignPermissionToUser)
		r.Delete("/permissions/{permissionID}", h.removePermissionFromUser)
	})
}

type roleResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	GuardName   string    `json:"guard_name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type permissionResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	GuardName   string    `json:"guard_name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type assignResponse struct {
	Assigned        bool   `json:"assigned"`
	AlreadyAssigned bool   `json:"already_assigned"`
	Note            string `json:"note,omitempty"`
}

type statisticsResponse struct {
	Total       int             `json:"total"`
	SystemCount int             `json:"system_count"`
	CustomCount int             `json:"custom_count"`
	ByGuard     map[string]int  `json:"by_guard"`
	MostUsed    []usageResponse `json:"most_used"`
	UnusedCount int             `json:"unused_count"`
}

type usageResponse struct {
	Name      string `json:"name"`
	RoleCount int    `json:"role_count"`
}

func toRoleResponse(role Role) roleResponse {
	return roleResponse{
		ID:          role.ID,
		Name:        role.Name,
		GuardName:   role.GuardName,
		Description: role.Description,
		CreatedAt:   role.CreatedAt,
		UpdatedAt:   role.UpdatedAt,
	}
}

func toPermissionResponse(perm Permission) permissionResponse {
	return permissionResponse{
		ID:          perm.ID,
		Name:        perm.Name,
		GuardName:   perm.GuardName,
		Description: perm.Description,
		CreatedAt:   perm.CreatedAt,
	}
}

func toPermissionResponses(perms []Permission) []permissionResponse {
	out := make([]permissionResponse, 0, len(perms))
	for _, perm := range perms {
		out = append(out, toPermissionResponse(perm))
	}
	return out
}

func toAssignResponse(result AssignResult) assignResponse {
	return assignResponse{Assigned: true, AlreadyAssigned: result.AlreadyAssigned, Note: result.Note}
}

// ============================================================================
// ROLE HANDLERS
// ============================================================================

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		httpx.LogAndRespond(h.logger, w, "list roles", err)
		return
	}
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, toRoleResponse(role))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

type createRoleRequest struct {
	Name        string   `json:"name" validate:"required,max=255"`
	GuardName   string   `json:"guard_name"`
	Description string   `json:"description" validate:"max=1000"`
	Permissions []string `json:"permissions"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.GuardName == "" {
		req.GuardName = "api"
	}
	role, err := h.service.CreateRole(r.Context(), req.Name, req.GuardName, req.Description, req.Permissions)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRoleResponse(role))
}

type updateRoleRequest struct {
	Name          *string  `json:"name" validate:"omitempty,min=1,max=255"`
	Description   *string  `json:"description" validate:"omitempty,max=1000"`
	PermissionIDs *[]int64 `json:"permission_ids"`
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req updateRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	params := UpdateRoleParams{Name: req.Name, Description: req.Description}
	if req.PermissionIDs != nil {
		params.PermissionIDs = *req.PermissionIDs
		params.ReplacePermissions = true
	}
	role, err := h.service.UpdateRole(r.Context(), id, params)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		httpx.LogAndRespond(h.logger, w, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	perms, err := h.service.RolePermissions(r.Context(), id)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, "role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionResponses(perms))
}

type assignPermissionRequest struct {
	PermissionID int64 `json:"permission_id" validate:"required,gt=0"`
}

func (h *Handler) assignPermissionToRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req assignPermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.AssignPermissionToRole(r.Context(), id, req.PermissionID)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, "assign permission to role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAssignResponse(result))
}

func (h *Handler) removePermissionFromRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	permissionID, ok := pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.service.RemovePermissionFromRole(r.Context(), roleID, permissionID); err != nil {
		httpx.LogAndRespond(h.logger, w, "remove permission from role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeAllPermissionsFromRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.RemoveAllPermissionsFromRole(r.Context(), id); err != nil {
		httpx.LogAndRespond(h.logger, w, "remove all permissions from role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// PERMISSION HANDLERS
// ============================================================================

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		httpx.LogAndRespond(h.logger, w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionResponses(perms))
}

func (h *Handler) getPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	perm, err := h.service.GetPermission(r.Context(), id)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, "get permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionResponse(perm))
}

type createPermissionRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	GuardName   string `json:"guard_name"`
	Description string `json:"description" validate:"max=1000"`
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.GuardName == "" {
		req.GuardName = "api"
	}
	perm, err := h.service.CreatePermission(r.Context(), req.Name, req.GuardName, req.Description)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPermissionResponse(perm))
}

type clonePermissionRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=1000"`
}

func (h *Handler) clonePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req clonePermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	perm, err := h.service.ClonePermission(r.Context(), id, req.Name, req.Description)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, "clone permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPermissionResponse(perm))
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeletePermission(r.Context(), id); err != nil {
		httpx.LogAndRespond(h.logger, w, "delete permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// permissionStatistics serves the aggregate view. Concurrent requests share
// one computation through singleflight; the aggregation walks every
// permission and this endpoint tends to get hammered by dashboards.
func (h *Handler) permissionStatistics(w http.ResponseWriter, r *http.Request) {
	v, err, _ := h.stats.Do("statistics", func() (any, error) {
		return h.service.PermissionStatistics(r.Context())
	})
	if err != nil {
		httpx.LogAndRespond(h.logger, w, "permission statistics", err)
		return
	}
	stats := v.(PermissionStatistics)
	out := statisticsResponse{
		Total:       stats.Total,
		SystemCount: stats.SystemCount,
		CustomCount: stats.CustomCount,
		ByGuard:     stats.ByGuard,
		MostUsed:    make([]usageResponse, 0, len(stats.MostUsed)),
		UnusedCount: stats.UnusedCount,
	}
	for _, usage := range stats.MostUsed {
		out.MostUsed = append(out.MostUsed, usageResponse{Name: usage.Name, RoleCount: usage.RoleCount})
	}
	httpx.JSON(w, http.StatusOK, out)
}

// ============================================================================
// USER ASSIGNMENT HANDLERS
// ============================================================================

type assignRoleRequest struct {
	RoleID int64 `json:"role_id" validate:"required,gt=0"`
}

func (h *Handler) assignRoleToUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req assignRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.AssignRoleToUser(r.Context(), userID, req.RoleID)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, "assign role to user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAssignResponse(result))
}

func (h *Handler) removeRoleFromUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.service.RemoveRoleFromUser(r.Context(), userID, roleID); err != nil {
		httpx.LogAndRespond(h.logger, w, "remove role from user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) userDirectPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	perms, err := h.service.UserDirectPermissions(r.Context(), userID)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, "user direct permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionResponses(perms))
}

func (h *Handler) assignPermissionToUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req assignPermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.AssignPermissionToUser(r.Context(), userID, req.PermissionID)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, "assign permission to user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAssignResponse(result))
}

func (h *Handler) removePermissionFromUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	permissionID, ok := pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.service.RemovePermissionFromUser(r.Context(), userID, permissionID); err != nil {
		httpx.LogAndRespond(h.logger, w, "remove permission from user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// HELPER METHODS
// ============================================================================

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+param)
		return 0, false
	}
	return id, true
}
