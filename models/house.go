package models

import "time"

// House is one of the fixed competing houses. The set is closed; scores are
// keyed by house name rather than a surrogate id.
type House string

const (
	HouseBlack  House = "black"
	HouseBlue   House = "blue"
	HouseGreen  House = "green"
	HouseRed    House = "red"
	HouseYellow House = "yellow"
)

// Houses lists every valid house in display order.
func Houses() []House {
	return []House{HouseBlack, HouseBlue, HouseGreen, HouseRed, HouseYellow}
}

// Valid reports whether h names a real house.
func (h House) Valid() bool {
	switch h {
	case HouseBlack, HouseBlue, HouseGreen, HouseRed, HouseYellow:
		return true
	}
	return false
}

// HouseScore is the durable per-house point total. Points only move through
// the ledger's atomic increment or an administrative reset.
type HouseScore struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	House     House     `gorm:"size:16;uniqueIndex;not null" json:"house"`
	Points    int64     `gorm:"not null;default:0" json:"points"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}
