package models

import (
	"time"

	"gorm.io/datatypes"
)

// Credential ist ein Verifiable-Credential-förmiger Datensatz. Die
// kanonische URI (Credential-ID oder urn:credential:<hash>) dient als
// Primärschlüssel und wird über einen HAS-Claim in den Graphen verlinkt.
type Credential struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CanonicalURI     string `json:"canonical_uri" gorm:"column:canonical_uri;uniqueIndex"`
	Name             string `json:"name,omitempty"`
	CredentialSchema string `json:"credential_schema,omitempty"`

	Context           datatypes.JSON `json:"context,omitempty"`
	Type              datatypes.JSON `json:"type,omitempty"`
	Issuer            datatypes.JSON `json:"issuer,omitempty"`
	IssuanceDate      *time.Time     `json:"issuance_date,omitempty"`
	ExpirationDate    *time.Time     `json:"expiration_date,omitempty"`
	CredentialSubject datatypes.JSON `json:"credential_subject,omitempty"`
	Proof             datatypes.JSON `json:"proof,omitempty"`

	// Link zum archivierten Rohdokument, falls das S3-Archiv aktiv ist.
	S3Link string `json:"s3_link,omitempty"`
}
