package controllers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/striderapp/housepoints/config"
	"github.com/striderapp/housepoints/services"
	"github.com/striderapp/housepoints/utils"
)

const leaderboardCacheKey = "cache:leaderboard"

// LeaderboardController serves the public ranked house standings. Responses
// are cached briefly in Redis; the underlying ledger is the source of truth.
type LeaderboardController struct {
	ledger *services.HouseLedger
}

// NewLeaderboardController creates a new controller instance.
func NewLeaderboardController(ledger *services.HouseLedger) *LeaderboardController {
	return &LeaderboardController{ledger: ledger}
}

// Get returns all houses ranked by points.
func (l *LeaderboardController) Get(ctx *gin.Context) {
	if b, ok := utils.CacheGetBytes(leaderboardCacheKey); ok {
		var entries []services.LeaderboardEntry
		if err := json.Unmarshal(b, &entries); err == nil {
			utils.Success(ctx, gin.H{"leaderboard": entries, "cached": true})
			return
		}
	}

	entries, err := l.ledger.Leaderboard(ctx.Request.Context())
	if err != nil {
		utils.Error(ctx, http.StatusServiceUnavailable, 50320, "leaderboard temporarily unavailable")
		return
	}

	ttl := time.Duration(config.Get().LeaderboardCacheTTLSec) * time.Second
	utils.CacheSetJSON(leaderboardCacheKey, entries, ttl)

	utils.Success(ctx, gin.H{"leaderboard": entries})
}
