package models

import (
	"time"
)

// Edge verbindet zwei Nodes und verweist auf den Claim, aus dem die
// Relation stammt. EndNodeID ist nullable, weil manche Claims kein
// Objekt haben.
type Edge struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	StartNodeID uint   `json:"start_node_id" gorm:"index;not null"`
	EndNodeID   *uint  `json:"end_node_id,omitempty" gorm:"index"`
	Label       string `json:"label"`
	ClaimID     uint   `json:"claim_id" gorm:"index;not null"`

	StartNode *Node  `json:"start_node,omitempty" gorm:"foreignKey:StartNodeID"`
	EndNode   *Node  `json:"end_node,omitempty" gorm:"foreignKey:EndNodeID"`
	Claim     *Claim `json:"claim,omitempty" gorm:"foreignKey:ClaimID"`
}
