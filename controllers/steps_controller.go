package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/striderapp/housepoints/models"
	"github.com/striderapp/housepoints/utils"
)

const maxSamplesPerSync = 500

// StepsController ingests device-synced step samples. Devices push one row
// per (source, day); re-syncing replaces the previous value so repeated
// uploads stay idempotent.
type StepsController struct {
	db *gorm.DB
}

// NewStepsController creates a new controller instance.
func NewStepsController(db *gorm.DB) *StepsController {
	return &StepsController{db: db}
}

// Sync upserts a batch of step samples for the authenticated account.
func (s *StepsController) Sync(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	type sample struct {
		SourceID    string `json:"source_id" binding:"required"`
		Steps       int64  `json:"steps"`
		SampleDate  string `json:"sample_date" binding:"required"`
		ManualEntry bool   `json:"manual_entry"`
	}
	type request struct {
		Samples []sample `json:"samples" binding:"required"`
	}

	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}
	if len(req.Samples) == 0 {
		utils.Error(ctx, http.StatusBadRequest, 40021, "no samples provided")
		return
	}
	if len(req.Samples) > maxSamplesPerSync {
		utils.Error(ctx, http.StatusBadRequest, 40022, "too many samples in one sync")
		return
	}

	rows := make([]models.StepSample, 0, len(req.Samples))
	for _, smp := range req.Samples {
		day, err := time.ParseInLocation("2006-01-02", smp.SampleDate, time.Local)
		if err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40023, "invalid sample_date, expected YYYY-MM-DD")
			return
		}
		if smp.Steps < 0 {
			utils.Error(ctx, http.StatusBadRequest, 40024, "negative step count")
			return
		}
		rows = append(rows, models.StepSample{
			UserID:      userID,
			SourceID:    smp.SourceID,
			SampleDate:  day,
			Steps:       smp.Steps,
			ManualEntry: smp.ManualEntry,
		})
	}

	err := s.db.WithContext(ctx.Request.Context()).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "source_id"}, {Name: "sample_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"steps", "manual_entry", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		utils.Sugar.Warnf("step sync failed user_id=%d err=%v", userID, err)
		utils.Error(ctx, http.StatusInternalServerError, 50020, "failed to store samples")
		return
	}

	utils.Success(ctx, gin.H{"synced": len(rows)})
}
