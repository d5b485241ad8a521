package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/striderapp/housepoints/models"
)

// ErrInvalidHouse indicates an operation referenced a house outside the fixed set.
var ErrInvalidHouse = errors.New("ledger: unknown house")

// Ledger is the durable per-house point total. Increments must be applied
// in-place on the store, never read-modify-write from the client, so that
// concurrent awards from different devices cannot lose updates.
type Ledger interface {
	Increment(ctx context.Context, house models.House, delta int) error
	Reset(ctx context.Context, house models.House) error
}

// HouseLedger implements Ledger over the house_scores table.
type HouseLedger struct {
	db *gorm.DB
}

// NewHouseLedger creates a ledger over the given database.
func NewHouseLedger(db *gorm.DB) *HouseLedger {
	return &HouseLedger{db: db}
}

// Seed ensures one score row exists per house. Idempotent; called at boot.
func (l *HouseLedger) Seed(ctx context.Context) error {
	for _, h := range models.Houses() {
		score := models.HouseScore{House: h}
		if err := l.db.WithContext(ctx).
			Where(models.HouseScore{House: h}).
			FirstOrCreate(&score).Error; err != nil {
			return fmt.Errorf("seed house %s: %w", h, err)
		}
	}
	return nil
}

// Increment atomically adds delta points to a house. delta must be positive;
// a non-positive delta is a caller bug. The add happens inside the database
// (points = points + ?), so concurrent increments serialize there.
func (l *HouseLedger) Increment(ctx context.Context, house models.House, delta int) error {
	if delta <= 0 {
		return fmt.Errorf("ledger: non-positive increment %d for house %s", delta, house)
	}
	if !house.Valid() {
		return ErrInvalidHouse
	}

	res := l.db.WithContext(ctx).
		Model(&models.HouseScore{}).
		Where("house = ?", house).
		Update("points", gorm.Expr("points + ?", delta))
	if res.Error != nil {
		return fmt.Errorf("ledger unavailable: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInvalidHouse
	}
	return nil
}

// Reset unconditionally zeroes a house's points. Administrative operation.
func (l *HouseLedger) Reset(ctx context.Context, house models.House) error {
	if !house.Valid() {
		return ErrInvalidHouse
	}
	// No RowsAffected check here: resetting an already-zero house is a no-op
	// and MySQL reports zero affected rows for it.
	if err := l.db.WithContext(ctx).
		Model(&models.HouseScore{}).
		Where("house = ?", house).
		Update("points", 0).Error; err != nil {
		return fmt.Errorf("ledger unavailable: %w", err)
	}
	return nil
}

// Points returns the current total for one house.
func (l *HouseLedger) Points(ctx context.Context, house models.House) (int64, error) {
	if !house.Valid() {
		return 0, ErrInvalidHouse
	}
	var score models.HouseScore
	if err := l.db.WithContext(ctx).Where("house = ?", house).First(&score).Error; err != nil {
		return 0, fmt.Errorf("ledger unavailable: %w", err)
	}
	return score.Points, nil
}

// LeaderboardEntry is one house's position on the ranked leaderboard.
type LeaderboardEntry struct {
	Rank   int          `json:"rank"`
	House  models.House `json:"house"`
	Points int64        `json:"points"`
}

// Leaderboard returns all houses ranked by points, highest first. Houses with
// equal points share a rank.
func (l *HouseLedger) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	var scores []models.HouseScore
	if err := l.db.WithContext(ctx).
		Order("points DESC, house ASC").
		Find(&scores).Error; err != nil {
		return nil, fmt.Errorf("ledger unavailable: %w", err)
	}

	entries := make([]LeaderboardEntry, 0, len(scores))
	rank := 0
	var prev int64
	for i, s := range scores {
		if i == 0 || s.Points != prev {
			rank = i + 1
		}
		prev = s.Points
		entries = append(entries, LeaderboardEntry{Rank: rank, House: s.House, Points: s.Points})
	}
	return entries, nil
}
