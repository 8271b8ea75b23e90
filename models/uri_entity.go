package models

import (
	"time"
)

// UriEntity ist der Klassifikations-Cache: höchstens ein Eintrag pro URI.
// Name und Typ können nachträglich verbessert werden, wenn ein Claim
// einen expliziten Anzeigenamen mitliefert.
type UriEntity struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	URI         string `json:"uri" gorm:"column:uri;uniqueIndex;not null"`
	EntityType  string `json:"entity_type" gorm:"index"`
	EntityTable string `json:"entity_table,omitempty"`
	EntityID    string `json:"entity_id,omitempty" gorm:"column:entity_id"`
	Name        string `json:"name,omitempty"`
	Image       string `json:"image,omitempty"`
}
