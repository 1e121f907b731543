// Package admin provides admin-only user management endpoints.
package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rsolberg/authgate/internal/auth"
	"github.com/rsolberg/authgate/internal/logging"
	"github.com/rsolberg/authgate/internal/metrics"
	"github.com/rsolberg/authgate/internal/pagination"
)

const ctxAdminUser = "admin_user"

// Handler provides admin HTTP endpoints over the user store.
type Handler struct {
	store      auth.Store
	manager    *auth.Manager
	cookieName string
}

// NewHandler creates a new admin handler.
func NewHandler(store auth.Store, manager *auth.Manager, cookieName string) *Handler {
	return &Handler{store: store, manager: manager, cookieName: cookieName}
}

// RegisterRoutes sets up admin routes. The group gets the RequireAdmin guard;
// callers without an admin session never reach a handler.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.Use(h.RequireAdmin())
	r.GET("/admin/users", h.listUsers)
	r.GET("/admin/users/:id", h.getUser)
	r.POST("/admin/users/:id/ban", h.banUser)
	r.POST("/admin/users/:id/unban", h.unbanUser)
	r.POST("/admin/users/:id/revoke-sessions", h.revokeSessions)
	r.GET("/admin/stats/screening", h.screeningStats)
}

// RequireAdmin resolves the caller's session and rejects non-admins.
func (h *Handler) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, user, err := h.manager.GetSession(c.Request.Context(), c.Request.Header, h.cookieName)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized", "message": "Sign in required.",
			})
			return
		}
		if user.Role != auth.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "forbidden", "message": "Admin role required.",
			})
			return
		}
		c.Set(ctxAdminUser, user)
		c.Next()
	}
}

// listUsers returns users in creation order with cursor pagination.
func (h *Handler) listUsers(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": "Cursor is malformed."})
		return
	}
	var after time.Time
	var afterID string
	if cursor != nil {
		after, afterID = cursor.CreatedAt, cursor.ID
	}

	// Fetch one extra to learn whether another page exists
	users, err := h.store.ListUsers(c.Request.Context(), after, afterID, limit+1)
	if err != nil {
		logging.L(c.Request.Context()).Error("list users", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Could not list users."})
		return
	}

	page, next, hasMore := pagination.ComputePage(users, limit, func(u *auth.User) (time.Time, string) {
		return u.CreatedAt, u.ID
	})

	c.JSON(http.StatusOK, gin.H{
		"users":       page,
		"count":       len(page),
		"next_cursor": next,
		"has_more":    hasMore,
	})
}

func (h *Handler) getUser(c *gin.Context) {
	user, err := h.store.GetUserByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "User not found."})
		return
	}

	accounts, err := h.store.GetAccountsByUser(c.Request.Context(), user.ID)
	if err != nil {
		logging.L(c.Request.Context()).Warn("list linked accounts", "user", user.ID, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"user": user, "accounts": accounts})
}

// banUser suspends the account and revokes all its sessions.
func (h *Handler) banUser(c *gin.Context) {
	h.setBanned(c, true)
}

func (h *Handler) unbanUser(c *gin.Context) {
	h.setBanned(c, false)
}

func (h *Handler) setBanned(c *gin.Context, banned bool) {
	user, err := h.store.GetUserByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "User not found."})
		return
	}

	// Admins cannot ban themselves: it would lock out the caller mid-request.
	if admin, ok := c.Get(ctxAdminUser); ok && banned {
		if a, ok := admin.(*auth.User); ok && a.ID == user.ID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_target", "message": "You cannot ban your own account."})
			return
		}
	}

	user.Banned = banned
	user.UpdatedAt = time.Now()
	if err := h.store.UpdateUser(c.Request.Context(), user); err != nil {
		logging.L(c.Request.Context()).Error("update user ban state", "user", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Could not update user."})
		return
	}

	if banned {
		if err := h.store.DeleteUserSessions(c.Request.Context(), user.ID); err != nil {
			logging.L(c.Request.Context()).Warn("revoke sessions on ban", "user", user.ID, "error", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"user": user, "banned": banned})
}

// revokeSessions signs the user out everywhere.
func (h *Handler) revokeSessions(c *gin.Context) {
	user, err := h.store.GetUserByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "User not found."})
		return
	}

	if err := h.store.DeleteUserSessions(c.Request.Context(), user.ID); err != nil {
		logging.L(c.Request.Context()).Error("revoke sessions", "user", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Could not revoke sessions."})
		return
	}

	c.JSON(http.StatusOK, gin.H{"revoked": true, "userId": user.ID})
}

// screeningStats reports the screening decision counters accumulated since
// process start, broken down by rule set, outcome, and deny reason.
func (h *Handler) screeningStats(c *gin.Context) {
	decisions, err := metrics.GatherScreeningDecisions()
	if err != nil {
		logging.L(c.Request.Context()).Error("gather screening stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Could not gather screening stats."})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"decisions": decisions,
		"count":     len(decisions),
	})
}
