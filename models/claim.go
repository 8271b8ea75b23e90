package models

import (
	"time"

	"gorm.io/datatypes"
)

// HowKnown-Werte beschreiben die Provenienz eines Claims.
const (
	HowKnownFirstHand        = "FIRST_HAND"
	HowKnownSecondHand       = "SECOND_HAND"
	HowKnownWebDocument      = "WEB_DOCUMENT"
	HowKnownVerifiedLogin    = "VERIFIED_LOGIN"
	HowKnownBlockchain       = "BLOCKCHAIN"
	HowKnownSignedDocument   = "SIGNED_DOCUMENT"
	HowKnownPhysicalDocument = "PHYSICAL_DOCUMENT"
	HowKnownIntegration      = "INTEGRATION"
	HowKnownResearch         = "RESEARCH"
	HowKnownOpinion          = "OPINION"
	HowKnownOther            = "OTHER"
)

// Prädikate mit spezieller Bedeutung für Identity-Linking und Graph-Aufbau.
const (
	PredicateSameAs       = "SAME_AS"
	PredicateHasProfileAt = "HAS_PROFILE_AT"
	PredicateHasAccount   = "HAS_ACCOUNT"
	PredicateHas          = "HAS"
	PredicateHasSkill     = "HAS_SKILL"
	PredicateAchieved     = "ACHIEVED"
	PredicateAgreesWith   = "AGREES_WITH"
	PredicateDisagrees    = "DISAGREES_WITH"
	PredicateConfirms     = "CONFIRMS"
	PredicateRefutes      = "REFUTES"
	PredicateQuestions    = "QUESTIONS"
	PredicateRelatesTo    = "RELATES_TO"
)

// Claim repräsentiert eine behauptete (Subjekt, Prädikat, Objekt)-Aussage
// samt Provenienz und optionalen Bewertungsfeldern.
type Claim struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Subject string `json:"subject" gorm:"index;not null"`
	Claim   string `json:"claim" gorm:"index;not null"`
	Object  string `json:"object,omitempty" gorm:"index"`

	Statement string `json:"statement,omitempty" gorm:"type:text"`
	Aspect    string `json:"aspect,omitempty"`

	IssuerID     string `json:"issuer_id,omitempty" gorm:"column:issuer_id;index"`
	IssuerIDType string `json:"issuer_id_type,omitempty" gorm:"column:issuer_id_type"`
	SourceURI    string `json:"source_uri,omitempty" gorm:"column:source_uri;index"`
	HowKnown     string `json:"how_known,omitempty"`

	Confidence *float64 `json:"confidence,omitempty"`
	Stars      *int     `json:"stars,omitempty"`
	Score      *float64 `json:"score,omitempty"`
	Amt        *float64 `json:"amt,omitempty"`
	Unit       string   `json:"unit,omitempty"`

	EffectiveDate *time.Time `json:"effective_date,omitempty" gorm:"index"`

	// Signatur-Blob, für den Kern opak.
	Proof datatypes.JSON `json:"proof,omitempty"`

	Edges []Edge `json:"edges,omitempty" gorm:"foreignKey:ClaimID"`
}
