package services

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"regexp"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"trustgraph/models"
)

var (
	base64Pattern    = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)
	uriSchemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)
)

// ClaimService validiert und persistiert eingereichte Claims und liefert
// die Claim-Leseabfragen inklusive Closure-Erweiterung.
type ClaimService struct {
	DB      *gorm.DB
	Logger  *zap.Logger
	Signer  *Signer
	Closure *ClosureResolver
}

// NewClaimService erstellt eine neue Instanz des ClaimService.
func NewClaimService(db *gorm.DB, logger *zap.Logger, signer *Signer, closure *ClosureResolver) *ClaimService {
	return &ClaimService{DB: db, Logger: logger, Signer: signer, Closure: closure}
}

// ClaimInput ist der eingehende Claim-Payload.
type ClaimInput struct {
	Name         string          `json:"name"`
	Subject      string          `json:"subject"`
	Claim        string          `json:"claim"`
	Object       string          `json:"object"`
	SourceURI    string          `json:"source_uri"`
	HowKnown     string          `json:"how_known"`
	Statement    string          `json:"statement"`
	Aspect       string          `json:"aspect"`
	Confidence   *float64        `json:"confidence"`
	Stars        *int            `json:"stars"`
	Score        *float64        `json:"score"`
	Amt          *float64        `json:"amt"`
	Unit         string          `json:"unit"`
	Proof        json.RawMessage `json:"proof"`
	IssuerID     string          `json:"issuer_id"`
	IssuerIDType string          `json:"issuer_id_type"`
}

// validate prüft die Eingabe-Invarianten vor jeder Persistenz.
func (in *ClaimInput) validate() error {
	if in.Subject == "" {
		return validationErr("subject", "subject is required")
	}
	if in.Claim == "" {
		return validationErr("claim", "claim is required")
	}
	if in.Confidence != nil && (*in.Confidence < 0 || *in.Confidence > 1) {
		return validationErr("confidence", "confidence must be between 0 and 1")
	}
	if in.Stars != nil && (*in.Stars < 0 || *in.Stars > 5) {
		return validationErr("stars", "stars must be between 0 and 5")
	}
	return nil
}

// Create validiert, signiert (falls kein Client-Proof vorliegt) und
// speichert einen Claim. callerURI ist die kanonische URI des
// authentifizierten Nutzers und dient als Default für Issuer und Quelle.
func (s *ClaimService) Create(in ClaimInput, callerURI string) (*models.Claim, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	sourceURI := in.SourceURI
	if sourceURI == "" {
		sourceURI = callerURI
	}
	issuerID := in.IssuerID
	if issuerID == "" {
		issuerID = callerURI
	}
	issuerIDType := in.IssuerIDType
	if issuerIDType == "" {
		issuerIDType = "URL"
	}
	howKnown := in.HowKnown
	if howKnown == "" {
		howKnown = models.HowKnownFirstHand
	}
	confidence := in.Confidence
	if confidence == nil {
		c := 1.0
		confidence = &c
	}

	now := time.Now()
	claim := models.Claim{
		Subject:       in.Subject,
		Claim:         in.Claim,
		Object:        in.Object,
		Statement:     in.Statement,
		Aspect:        in.Aspect,
		SourceURI:     sourceURI,
		HowKnown:      howKnown,
		Confidence:    confidence,
		Stars:         in.Stars,
		Score:         in.Score,
		Amt:           in.Amt,
		Unit:          in.Unit,
		IssuerID:      issuerID,
		IssuerIDType:  issuerIDType,
		EffectiveDate: &now,
	}

	if len(in.Proof) > 0 {
		claim.Proof = datatypes.JSON(in.Proof)
	} else if s.Signer != nil {
		// Serverseitige Signatur ist best-effort; ohne Proof wird der
		// Claim trotzdem gespeichert.
		proof, err := s.Signer.Sign(&claim, "api-token")
		if err != nil {
			s.Logger.Warn("Failed to sign claim with server key", zap.Error(err))
		} else {
			claim.Proof = proof
		}
	}

	if err := s.DB.Create(&claim).Error; err != nil {
		return nil, err
	}
	return &claim, nil
}

// GetByID liefert einen Claim samt Edges und Nodes.
func (s *ClaimService) GetByID(claimID uint) (*models.Claim, error) {
	var claim models.Claim
	err := s.DB.Preload("Edges.StartNode").Preload("Edges.EndNode").
		First(&claim, claimID).Error
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

// SubjectClaims ist die Antwort der Claims-nach-Subjekt-Abfrage.
type SubjectClaims struct {
	Claims         []models.Claim `json:"claims"`
	LinkedSubjects []string       `json:"linked_subjects"`
	Pagination     Pagination     `json:"pagination"`
}

// GetBySubject liefert Claims über eine URI. Mit includeLinked wird die
// SAME_AS-Hülle expandiert und über subject IN (closure) abgefragt.
func (s *ClaimService) GetBySubject(uri string, page, limit int, includeLinked bool) (*SubjectClaims, error) {
	page, limit = normalizePaging(page, limit)

	subjects := []string{uri}
	if includeLinked {
		closure, err := s.Closure.ClosureOf(uri)
		if err != nil {
			return nil, err
		}
		subjects = closure
	}

	var total int64
	if err := s.DB.Model(&models.Claim{}).
		Where("subject IN ?", subjects).
		Count(&total).Error; err != nil {
		return nil, err
	}

	var claims []models.Claim
	err := s.DB.Where("subject IN ?", subjects).
		Order("effective_date DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Preload("Edges.StartNode").
		Preload("Edges.EndNode").
		Find(&claims).Error
	if err != nil {
		return nil, err
	}

	return &SubjectClaims{
		Claims:         claims,
		LinkedSubjects: subjects,
		Pagination:     paginate(page, limit, total),
	}, nil
}

// DecodeSubjectURI akzeptiert URI-Pfadparameter wahlweise base64- oder
// prozent-kodiert. Base64 wird nur übernommen, wenn das Ergebnis wie
// eine URI mit Schema aussieht.
func DecodeSubjectURI(param string) string {
	if base64Pattern.MatchString(param) && len(param) > 10 {
		if decoded, err := base64.StdEncoding.DecodeString(param); err == nil {
			if uriSchemePattern.Match(decoded) {
				return string(decoded)
			}
		}
		return param
	}
	if decoded, err := url.QueryUnescape(param); err == nil {
		return decoded
	}
	return param
}
