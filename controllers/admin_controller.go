package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/striderapp/housepoints/models"
	"github.com/striderapp/housepoints/services"
	"github.com/striderapp/housepoints/utils"
)

// AdminController groups the administrative surface: ledger resets, policy
// set management, audit log review and account classification changes.
type AdminController struct {
	db     *gorm.DB
	ledger *services.HouseLedger
	policy *services.PolicyStore
	audit  *services.GormAuditSink
}

// NewAdminController creates a new controller instance.
func NewAdminController(db *gorm.DB, ledger *services.HouseLedger, policy *services.PolicyStore, audit *services.GormAuditSink) *AdminController {
	return &AdminController{db: db, ledger: ledger, policy: policy, audit: audit}
}

// ResetHouse zeroes one house's points. Deliberate, unconditional.
func (a *AdminController) ResetHouse(ctx *gin.Context) {
	house := models.House(strings.ToLower(ctx.Param("house")))
	if err := a.ledger.Reset(ctx.Request.Context(), house); err != nil {
		if errors.Is(err, services.ErrInvalidHouse) {
			utils.Error(ctx, http.StatusBadRequest, 40030, "unknown house")
			return
		}
		utils.Error(ctx, http.StatusServiceUnavailable, 50330, "ledger unavailable")
		return
	}
	utils.InvalidateByPrefix("cache:leaderboard")
	utils.Success(ctx, gin.H{"house": house, "points": 0})
}

// GetTrustedSources returns the current step source allow-list.
func (a *AdminController) GetTrustedSources(ctx *gin.Context) {
	ids, err := a.policy.ListTrustedSourceIDs(ctx.Request.Context())
	if err != nil {
		utils.Error(ctx, http.StatusServiceUnavailable, 50331, "policy store unavailable")
		return
	}
	utils.Success(ctx, gin.H{"source_ids": ids})
}

// SetTrustedSources replaces the step source allow-list.
func (a *AdminController) SetTrustedSources(ctx *gin.Context) {
	type request struct {
		SourceIDs []string `json:"source_ids" binding:"required"`
	}
	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40031, "invalid request payload")
		return
	}
	if err := a.policy.SetTrustedSourceIDs(ctx.Request.Context(), req.SourceIDs); err != nil {
		utils.Error(ctx, http.StatusServiceUnavailable, 50332, "policy store unavailable")
		return
	}
	utils.Success(ctx, gin.H{"source_ids": req.SourceIDs})
}

// GetBlockedVersions returns the blocked client version list.
func (a *AdminController) GetBlockedVersions(ctx *gin.Context) {
	versions, err := a.policy.ListBlockedVersions(ctx.Request.Context())
	if err != nil {
		utils.Error(ctx, http.StatusServiceUnavailable, 50333, "policy store unavailable")
		return
	}
	utils.Success(ctx, gin.H{"versions": versions})
}

// SetBlockedVersions replaces the blocked client version list.
func (a *AdminController) SetBlockedVersions(ctx *gin.Context) {
	type request struct {
		Versions []string `json:"versions" binding:"required"`
	}
	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40032, "invalid request payload")
		return
	}
	if err := a.policy.SetBlockedVersions(ctx.Request.Context(), req.Versions); err != nil {
		utils.Error(ctx, http.StatusServiceUnavailable, 50334, "policy store unavailable")
		return
	}
	utils.Success(ctx, gin.H{"versions": req.Versions})
}

// ListAwards pages through the award audit log, newest first.
func (a *AdminController) ListAwards(ctx *gin.Context) {
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(ctx.DefaultQuery("page_size", "20"))

	entries, total, err := a.audit.Recent(ctx.Request.Context(), page, pageSize)
	if err != nil {
		utils.Error(ctx, http.StatusServiceUnavailable, 50335, "audit log unavailable")
		return
	}
	utils.Success(ctx, gin.H{
		"entries": entries,
		"total":   total,
		"page":    page,
	})
}

// UpdateUser changes an account's house or role classification.
func (a *AdminController) UpdateUser(ctx *gin.Context) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40033, "invalid user id")
		return
	}

	type request struct {
		House string `json:"house"`
		Role  string `json:"role"`
	}
	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40034, "invalid request payload")
		return
	}

	var user models.User
	if err := a.db.First(&user, uint(id)).Error; err != nil {
		utils.Error(ctx, http.StatusNotFound, 40411, "user not found")
		return
	}

	updates := map[string]interface{}{}
	if req.House != "" {
		house := models.House(strings.ToLower(req.House))
		if !house.Valid() {
			utils.Error(ctx, http.StatusBadRequest, 40035, "unknown house")
			return
		}
		updates["house"] = house
	}
	if req.Role != "" {
		role := models.Role(strings.ToLower(req.Role))
		if !role.Valid() {
			utils.Error(ctx, http.StatusBadRequest, 40036, "unknown role")
			return
		}
		updates["role"] = role
	}
	if len(updates) == 0 {
		utils.Error(ctx, http.StatusBadRequest, 40037, "nothing to update")
		return
	}

	if err := a.db.Model(&user).Updates(updates).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50036, "failed to update user")
		return
	}

	utils.Success(ctx, gin.H{"user": user})
}
