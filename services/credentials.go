package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"trustgraph/config"
	"trustgraph/models"
	"trustgraph/storage"
)

// CredentialService speichert Verifiable Credentials, registriert sie als
// Entities und verlinkt sie über einen HAS-Claim in den Graphen.
type CredentialService struct {
	DB       *gorm.DB
	Logger   *zap.Logger
	Config   *config.Config
	S3Client *s3.Client
}

// NewCredentialService erstellt eine neue Instanz des CredentialService.
func NewCredentialService(db *gorm.DB, logger *zap.Logger, cfg *config.Config, s3Client *s3.Client) *CredentialService {
	return &CredentialService{DB: db, Logger: logger, Config: cfg, S3Client: s3Client}
}

// credentialDoc ist die generische Sicht auf ein eingereichtes Credential.
type credentialDoc struct {
	ID                string          `json:"id"`
	Context           json.RawMessage `json:"@context"`
	AltContext        json.RawMessage `json:"context"`
	Type              json.RawMessage `json:"type"`
	Name              string          `json:"name"`
	Issuer            json.RawMessage `json:"issuer"`
	IssuanceDate      string          `json:"issuanceDate"`
	ExpirationDate    string          `json:"expirationDate"`
	CredentialSubject json.RawMessage `json:"credentialSubject"`
	Proof             json.RawMessage `json:"proof"`
	Badge             json.RawMessage `json:"badge"`
}

type credentialSubject struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Achievement *struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"achievement"`
	Skills []json.RawMessage `json:"skills"`
}

// SubmitResult ist die Antwort der Credential-Einreichung.
type SubmitResult struct {
	Credential *models.Credential `json:"credential"`
	Claim      *models.Claim      `json:"claim"`
	URI        string             `json:"uri"`
}

// Submit speichert ein Credential unter seiner kanonischen URI, legt die
// UriEntity an und erstellt den HAS-Claim vom Subjekt zum Credential.
// Bereits vorhandene Credentials melden ErrCredentialExists.
func (s *CredentialService) Submit(raw json.RawMessage, userURI string) (*SubmitResult, error) {
	var doc credentialDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, validationErr("credential", "invalid credential document")
	}

	canonicalURI := doc.ID
	if canonicalURI == "" {
		canonicalURI = "urn:credential:" + credentialHash(&doc)
	}

	var existing models.Credential
	err := s.DB.Where("id = ? OR canonical_uri = ?", canonicalURI, canonicalURI).First(&existing).Error
	if err == nil {
		return nil, ErrCredentialExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	context := doc.Context
	if len(context) == 0 {
		context = doc.AltContext
	}

	credential := models.Credential{
		ID:                canonicalURI,
		CanonicalURI:      canonicalURI,
		Name:              extractCredentialName(&doc),
		CredentialSchema:  detectCredentialSchema(&doc, context),
		Context:           datatypes.JSON(context),
		Type:              datatypes.JSON(doc.Type),
		Issuer:            datatypes.JSON(doc.Issuer),
		IssuanceDate:      parseDate(doc.IssuanceDate),
		ExpirationDate:    parseDate(doc.ExpirationDate),
		CredentialSubject: datatypes.JSON(doc.CredentialSubject),
		Proof:             datatypes.JSON(doc.Proof),
	}
	if err := s.DB.Create(&credential).Error; err != nil {
		return nil, err
	}

	entity := models.UriEntity{
		URI:         canonicalURI,
		EntityType:  models.EntityCredential,
		EntityTable: "Credential",
		EntityID:    canonicalURI,
		Name:        credential.Name,
	}
	if err := s.DB.Create(&entity).Error; err != nil {
		s.Logger.Warn("Failed to register credential entity", zap.String("uri", canonicalURI), zap.Error(err))
	}

	subjectURI := subjectURIFrom(doc.CredentialSubject, userURI)
	confidence := 1.0
	now := time.Now()
	claim := models.Claim{
		Subject:       subjectURI,
		Claim:         models.PredicateHas,
		Object:        canonicalURI,
		Statement:     "Has credential: " + credential.Name,
		IssuerID:      userURI,
		IssuerIDType:  "URL",
		SourceURI:     issuerURIFrom(doc.Issuer, canonicalURI),
		HowKnown:      models.HowKnownVerifiedLogin,
		Confidence:    &confidence,
		EffectiveDate: &now,
	}
	if err := s.DB.Create(&claim).Error; err != nil {
		return nil, err
	}

	return &SubmitResult{Credential: &credential, Claim: &claim, URI: canonicalURI}, nil
}

// ExtractClaims leitet ACHIEVED- und HAS_SKILL-Claims aus dem
// Credential-Inhalt ab. Läuft nach Submit im Hintergrund.
func (s *CredentialService) ExtractClaims(raw json.RawMessage, userURI string) ([]models.Claim, error) {
	var doc credentialDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	var subject credentialSubject
	if len(doc.CredentialSubject) > 0 {
		_ = json.Unmarshal(doc.CredentialSubject, &subject)
	}

	subjectURI := subject.ID
	if subjectURI == "" {
		subjectURI = userURI
	}
	credentialURI := doc.ID
	if credentialURI == "" {
		credentialURI = "urn:credential:" + credentialHash(&doc)
	}

	confidence := 1.0
	now := time.Now()
	var claims []models.Claim

	if subject.Achievement != nil {
		object := subject.Achievement.ID
		if object == "" {
			object = subject.Achievement.Name
		}
		statement := subject.Achievement.Description
		if statement == "" {
			statement = "Achieved: " + subject.Achievement.Name
		}
		effective := now
		if d := parseDate(doc.IssuanceDate); d != nil {
			effective = *d
		}
		claims = append(claims, models.Claim{
			Subject:       subjectURI,
			Claim:         models.PredicateAchieved,
			Object:        object,
			Statement:     statement,
			IssuerID:      userURI,
			IssuerIDType:  "URL",
			SourceURI:     credentialURI,
			HowKnown:      models.HowKnownWebDocument,
			Confidence:    &confidence,
			EffectiveDate: &effective,
		})
	}

	for _, rawSkill := range subject.Skills {
		name := skillName(rawSkill)
		if name == "" {
			continue
		}
		claims = append(claims, models.Claim{
			Subject:       subjectURI,
			Claim:         models.PredicateHasSkill,
			Object:        name,
			Statement:     "Has skill: " + name,
			IssuerID:      userURI,
			IssuerIDType:  "URL",
			SourceURI:     credentialURI,
			HowKnown:      models.HowKnownWebDocument,
			Confidence:    &confidence,
			EffectiveDate: &now,
		})
	}

	if len(claims) == 0 {
		return nil, nil
	}
	if err := s.DB.Create(&claims).Error; err != nil {
		return nil, err
	}
	return claims, nil
}

// ArchiveDocument legt das Roh-Dokument im S3-Archiv ab, falls
// konfiguriert. Best-effort.
func (s *CredentialService) ArchiveDocument(canonicalURI string, raw []byte) {
	if s.S3Client == nil || !s.Config.ArchiveEnabled() {
		return
	}
	key := fmt.Sprintf("credentials/%s.json", credentialKey(canonicalURI))
	link, err := storage.UploadDocument(s.S3Client, s.Config.ArchiveS3Bucket, key, raw, s.Config)
	if err != nil {
		s.Logger.Warn("Failed to archive credential document",
			zap.String("uri", canonicalURI), zap.Error(err))
		return
	}
	if err := s.DB.Model(&models.Credential{}).
		Where("canonical_uri = ?", canonicalURI).
		Update("s3_link", link).Error; err != nil {
		s.Logger.Warn("Failed to store archive link", zap.String("uri", canonicalURI), zap.Error(err))
	}
}

// GetResult ist die Antwort der Credential-Abfrage.
type GetResult struct {
	Credential    *models.Credential `json:"credential"`
	RelatedClaims []models.Claim     `json:"related_claims"`
}

// Get liefert ein Credential samt Claims, die es referenzieren.
func (s *CredentialService) Get(uri string) (*GetResult, error) {
	var credential models.Credential
	if err := s.DB.Where("id = ? OR canonical_uri = ?", uri, uri).First(&credential).Error; err != nil {
		return nil, err
	}

	key := credential.CanonicalURI
	if key == "" {
		key = credential.ID
	}
	var claims []models.Claim
	if err := s.DB.Where("object = ? OR source_uri = ?", key, key).
		Preload("Edges.StartNode").Preload("Edges.EndNode").
		Find(&claims).Error; err != nil {
		return nil, err
	}

	return &GetResult{Credential: &credential, RelatedClaims: claims}, nil
}

// credentialHash bildet den kanonischen SHA-256 über die stabilen Felder
// eines Credentials ohne eigene ID.
func credentialHash(doc *credentialDoc) string {
	context := doc.Context
	if len(context) == 0 {
		context = doc.AltContext
	}
	canonical, _ := json.Marshal(map[string]json.RawMessage{
		"context":           context,
		"type":              doc.Type,
		"issuer":            doc.Issuer,
		"credentialSubject": doc.CredentialSubject,
		"issuanceDate":      json.RawMessage(fmt.Sprintf("%q", doc.IssuanceDate)),
	})
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func extractCredentialName(doc *credentialDoc) string {
	if doc.Name != "" {
		return doc.Name
	}
	var subject credentialSubject
	if len(doc.CredentialSubject) > 0 {
		if err := json.Unmarshal(doc.CredentialSubject, &subject); err == nil {
			if subject.Name != "" {
				return subject.Name
			}
			if subject.Achievement != nil && subject.Achievement.Name != "" {
				return subject.Achievement.Name
			}
		}
	}
	if len(doc.Badge) > 0 {
		var badge struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(doc.Badge, &badge); err == nil && badge.Name != "" {
			return badge.Name
		}
	}
	for _, t := range credentialTypes(doc.Type) {
		if t != "VerifiableCredential" {
			return t
		}
	}
	return "Credential"
}

func detectCredentialSchema(doc *credentialDoc, context json.RawMessage) string {
	ctx := string(context)
	switch {
	case strings.Contains(ctx, "openbadges"):
		return "OpenBadges"
	case strings.Contains(ctx, "blockcerts"):
		return "Blockcerts"
	case strings.Contains(ctx, "learningmachine"):
		return "LearningMachine"
	}
	for _, t := range credentialTypes(doc.Type) {
		switch t {
		case "OpenBadgeCredential":
			return "OpenBadges"
		case "BlockcertsCredential":
			return "Blockcerts"
		}
	}
	return "VerifiableCredential"
}

func credentialTypes(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}
	}
	return nil
}

func subjectURIFrom(rawSubject json.RawMessage, fallback string) string {
	var subject credentialSubject
	if len(rawSubject) > 0 {
		if err := json.Unmarshal(rawSubject, &subject); err == nil && subject.ID != "" {
			return subject.ID
		}
	}
	return fallback
}

func issuerURIFrom(rawIssuer json.RawMessage, fallback string) string {
	if len(rawIssuer) == 0 {
		return fallback
	}
	var issuerStr string
	if err := json.Unmarshal(rawIssuer, &issuerStr); err == nil && issuerStr != "" {
		return issuerStr
	}
	var issuerObj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rawIssuer, &issuerObj); err == nil && issuerObj.ID != "" {
		return issuerObj.ID
	}
	return fallback
}

func skillName(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.ID != "" {
			return obj.ID
		}
		return obj.Name
	}
	return ""
}

func parseDate(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}

func credentialKey(uri string) string {
	sum := sha256.Sum256([]byte(uri))
	return hex.EncodeToString(sum[:8])
}
