package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/striderapp/housepoints/models"
	"github.com/striderapp/housepoints/services"
	"github.com/striderapp/housepoints/utils"
)

// PointsController exposes the award trigger and status endpoints. The mobile
// client calls Award on every app-foreground; most calls resolve to not_due.
type PointsController struct {
	db      *gorm.DB
	awarder *services.Awarder
	ledger  *services.HouseLedger
}

// NewPointsController creates a new controller instance.
func NewPointsController(db *gorm.DB, awarder *services.Awarder, ledger *services.HouseLedger) *PointsController {
	return &PointsController{db: db, awarder: awarder, ledger: ledger}
}

// Award runs the check-and-award pipeline for the authenticated account.
// The client's version travels in the X-App-Version header.
func (p *PointsController) Award(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	var user models.User
	if err := p.db.First(&user, userID).Error; err != nil {
		utils.Error(ctx, http.StatusNotFound, 40410, "user not found")
		return
	}

	appVersion := ctx.GetHeader("X-App-Version")
	if appVersion == "" {
		utils.Error(ctx, http.StatusBadRequest, 40010, "missing X-App-Version header")
		return
	}

	result, err := p.awarder.CheckAndAward(ctx.Request.Context(), &user, appVersion)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrBlockedVersion):
			utils.Error(ctx, http.StatusUpgradeRequired, 42601, "app version is blocked, please update")
		case errors.Is(err, services.ErrAwardInFlight):
			utils.Error(ctx, http.StatusConflict, 40910, "award already in progress")
		default:
			utils.Sugar.Warnf("award attempt failed user_id=%d err=%v", userID, err)
			utils.Error(ctx, http.StatusServiceUnavailable, 50310, "award temporarily unavailable, try again later")
		}
		return
	}

	utils.Success(ctx, result)
}

// Status returns the account's award watermark state and its house total.
func (p *PointsController) Status(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	var user models.User
	if err := p.db.First(&user, userID).Error; err != nil {
		utils.Error(ctx, http.StatusNotFound, 40410, "user not found")
		return
	}

	nextEligible, err := p.awarder.NextEligibleAt(ctx.Request.Context(), &user)
	if err != nil {
		utils.Error(ctx, http.StatusServiceUnavailable, 50311, "status temporarily unavailable")
		return
	}

	resp := gin.H{
		"house":            user.House,
		"can_add_points":   user.Role.CanAddPoints(),
		"next_eligible_at": nextEligible,
	}

	if user.House.Valid() {
		points, err := p.ledger.Points(ctx.Request.Context(), user.House)
		if err == nil {
			resp["house_points"] = points
		}
	}

	utils.Success(ctx, resp)
}
