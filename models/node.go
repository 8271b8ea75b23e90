package models

import (
	"time"
)

// Entity-Typen, mit denen URIs klassifiziert werden.
const (
	EntityPerson       = "PERSON"
	EntityOrganization = "ORGANIZATION"
	EntityCredential   = "CREDENTIAL"
	EntityDocument     = "DOCUMENT"
	EntityEvent        = "EVENT"
	EntityClaim        = "CLAIM"
	EntityUnknown      = "UNKNOWN"
)

// Node ist ein materialisierter Graph-Knoten für eine URI.
type Node struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	NodeURI   string `json:"node_uri" gorm:"column:node_uri;uniqueIndex;not null"`
	Name      string `json:"name,omitempty"`
	EntType   string `json:"ent_type,omitempty" gorm:"index"`
	Descrip   string `json:"descrip,omitempty" gorm:"type:text"`
	Image     string `json:"image,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
}
