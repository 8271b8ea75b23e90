package services

import (
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"trustgraph/models"
)

// ReportService baut die Claim- und Entity-Reports mit Validierungs-
// Rollups und Reputations-Metriken.
type ReportService struct {
	DB      *gorm.DB
	Logger  *zap.Logger
	BaseURL string
}

// NewReportService erstellt eine neue Instanz des ReportService.
func NewReportService(db *gorm.DB, logger *zap.Logger, baseURL string) *ReportService {
	return &ReportService{DB: db, Logger: logger, BaseURL: baseURL}
}

// ReportClaim ist ein Claim mit aufgelösten Subjekt/Objekt-Referenzen.
type ReportClaim struct {
	models.Claim
	SubjectRef EntityRef  `json:"subject_ref"`
	ObjectRef  *EntityRef `json:"object_ref,omitempty"`
}

// ValidationSummary zählt die Validierungen nach Prädikat.
type ValidationSummary struct {
	Total     int `json:"total"`
	Agrees    int `json:"agrees"`
	Disagrees int `json:"disagrees"`
	Confirms  int `json:"confirms"`
	Refutes   int `json:"refutes"`
}

// IssuerReputation fasst das bisherige Claim-Verhalten des Ausstellers
// zusammen.
type IssuerReputation struct {
	TotalClaims  int            `json:"total_claims"`
	RecentClaims []models.Claim `json:"recent_claims"`
}

// ClaimReport ist die Antwort des Claim-Report-Endpoints.
type ClaimReport struct {
	Claim             ReportClaim       `json:"claim"`
	Validations       []ReportClaim     `json:"validations"`
	ValidationSummary ValidationSummary `json:"validation_summary"`
	RelatedClaims     []ReportClaim     `json:"related_claims"`
	IssuerReputation  IssuerReputation  `json:"issuer_reputation"`
	ReportURI         string            `json:"report_uri"`
}

// GetClaimReport liefert einen Claim samt Validierungen (Claims über die
// Claim-URI), verwandten Claims zum selben Subjekt und Aussteller-Historie.
func (s *ReportService) GetClaimReport(claimID uint) (*ClaimReport, error) {
	var claim models.Claim
	if err := s.DB.Preload("Edges.StartNode").Preload("Edges.EndNode").
		First(&claim, claimID).Error; err != nil {
		return nil, err
	}

	claimURI := claimURIFor(s.BaseURL, claimID)

	// Validierungen erstellt der Validierungs-Endpoint mit der Claim-URI
	// als Subjekt; der Materializer macht den Claim-Knoten zum Edge-Start.
	var validations []models.Claim
	if err := s.DB.Where("subject = ? AND id <> ?", claimURI, claimID).
		Preload("Edges.StartNode").Preload("Edges.EndNode").
		Find(&validations).Error; err != nil {
		return nil, err
	}

	var related []models.Claim
	if err := s.DB.Where("subject = ? AND id <> ?", claim.Subject, claimID).
		Order("effective_date DESC").
		Limit(10).
		Preload("Edges.StartNode").Preload("Edges.EndNode").
		Find(&related).Error; err != nil {
		return nil, err
	}

	var issuerClaims []models.Claim
	if claim.IssuerID != "" {
		if err := s.DB.Where("issuer_id = ? AND id <> ?", claim.IssuerID, claimID).
			Order("effective_date DESC").
			Limit(5).
			Find(&issuerClaims).Error; err != nil {
			return nil, err
		}
	}

	summary := ValidationSummary{Total: len(validations)}
	for _, v := range validations {
		switch v.Claim {
		case models.PredicateAgreesWith:
			summary.Agrees++
		case models.PredicateDisagrees:
			summary.Disagrees++
		case models.PredicateConfirms:
			summary.Confirms++
		case models.PredicateRefutes:
			summary.Refutes++
		}
	}

	all := append([]models.Claim{claim}, validations...)
	all = append(all, related...)
	entityByURI, err := s.entityBatch(all)
	if err != nil {
		return nil, err
	}

	report := &ClaimReport{
		Claim:             s.transformClaim(claim, entityByURI),
		Validations:       s.transformClaims(validations, entityByURI),
		ValidationSummary: summary,
		RelatedClaims:     s.transformClaims(related, entityByURI),
		IssuerReputation: IssuerReputation{
			TotalClaims:  len(issuerClaims) + 1,
			RecentClaims: issuerClaims,
		},
		ReportURI: claimURI,
	}
	return report, nil
}

func claimURIFor(baseURL string, claimID uint) string {
	return strings.TrimRight(baseURL, "/") + "/claims/" + strconv.FormatUint(uint64(claimID), 10)
}

// entityBatch sammelt die Entity-Zeilen aller Subjekt/Objekt-URIs in
// einem Lookup.
func (s *ReportService) entityBatch(claims []models.Claim) (map[string]*models.UriEntity, error) {
	var uris []string
	seen := map[string]bool{}
	for _, c := range claims {
		for _, uri := range []string{c.Subject, c.Object} {
			if uri != "" && !seen[uri] {
				seen[uri] = true
				uris = append(uris, uri)
			}
		}
	}
	byURI := map[string]*models.UriEntity{}
	if len(uris) == 0 {
		return byURI, nil
	}
	var entities []models.UriEntity
	if err := s.DB.Where("uri IN ?", uris).Find(&entities).Error; err != nil {
		return nil, err
	}
	for i := range entities {
		byURI[entities[i].URI] = &entities[i]
	}
	return byURI, nil
}

func (s *ReportService) transformClaims(claims []models.Claim, entities map[string]*models.UriEntity) []ReportClaim {
	out := make([]ReportClaim, 0, len(claims))
	for _, c := range claims {
		out = append(out, s.transformClaim(c, entities))
	}
	return out
}

// transformClaim normalisiert Subjekt und Objekt mit der Präzedenz
// Entity-Name > Edge-Node-Name > "(Unnamed)" und inferiert den Typ
// notfalls aus der URL-Form.
func (s *ReportService) transformClaim(c models.Claim, entities map[string]*models.UriEntity) ReportClaim {
	var startNode, endNode *models.Node
	if len(c.Edges) > 0 {
		startNode = c.Edges[0].StartNode
		endNode = c.Edges[0].EndNode
	}

	subjectRef := entityRef(c.Subject, entities[c.Subject], startNode)
	if subjectRef.Name == c.Subject {
		subjectRef.Name = "(Unnamed)"
	}
	if subjectRef.Type == "" {
		subjectRef.Type = inferTypeFromURI(c.Subject)
	}

	rc := ReportClaim{Claim: c, SubjectRef: subjectRef}
	if c.Object != "" {
		ref := entityRef(c.Object, entities[c.Object], endNode)
		if ref.Type == "" {
			ref.Type = inferTypeFromURI(c.Object)
		}
		rc.ObjectRef = &ref
	}
	return rc
}

func inferTypeFromURI(uri string) string {
	if strings.Contains(uri, "linkedin.com/in/") {
		return models.EntityPerson
	}
	if strings.Contains(uri, "linkedin.com/company/") {
		return models.EntityOrganization
	}
	return ""
}

// EntityMetrics sind die Reputations-Zähler eines Entity-Reports.
type EntityMetrics struct {
	AsSubject struct {
		Total    int `json:"total"`
		Positive int `json:"positive"`
		Negative int `json:"negative"`
	} `json:"as_subject"`
	AsObject struct {
		Total      int `json:"total"`
		References int `json:"references"`
	} `json:"as_object"`
	AsSource struct {
		Total         int     `json:"total"`
		AvgConfidence float64 `json:"avg_confidence"`
	} `json:"as_source"`
}

// EntityReport ist die Antwort des Entity-Report-Endpoints.
type EntityReport struct {
	Entity       models.UriEntity `json:"entity"`
	Metrics      EntityMetrics    `json:"metrics"`
	RecentClaims struct {
		AsSubject []models.Claim `json:"as_subject"`
		AsObject  []models.Claim `json:"as_object"`
		AsSource  []models.Claim `json:"as_source"`
	} `json:"recent_claims"`
	TotalClaims int `json:"total_claims"`
}

// GetEntityReport liefert alle Claims rund um eine URI mit
// Reputations-Metriken. Unbekannte URIs bekommen einen UNKNOWN-Stub
// statt eines Fehlers.
func (s *ReportService) GetEntityReport(uri string) (*EntityReport, error) {
	var entity models.UriEntity
	if err := s.DB.Where("uri = ?", uri).First(&entity).Error; err != nil {
		entity = models.UriEntity{URI: uri, EntityType: models.EntityUnknown}
	}

	var subjectClaims []models.Claim
	if err := s.DB.Where("subject = ?", uri).
		Order("effective_date DESC").Find(&subjectClaims).Error; err != nil {
		return nil, err
	}

	var objectClaims []models.Claim
	if err := s.DB.Where("object = ?", uri).
		Order("effective_date DESC").Find(&objectClaims).Error; err != nil {
		return nil, err
	}

	var sourceClaims []models.Claim
	if err := s.DB.Where("source_uri = ? AND issuer_id <> ?", uri, uri).
		Order("effective_date DESC").Find(&sourceClaims).Error; err != nil {
		return nil, err
	}

	report := &EntityReport{Entity: entity}
	report.Metrics.AsSubject.Total = len(subjectClaims)
	for _, c := range subjectClaims {
		switch {
		case c.Claim == "ENDORSES" || c.Claim == "TRUSTS" || c.Claim == models.PredicateConfirms,
			c.Stars != nil && *c.Stars >= 4,
			c.Score != nil && *c.Score >= 0.7:
			report.Metrics.AsSubject.Positive++
		case c.Claim == "DISTRUSTS" || c.Claim == models.PredicateRefutes || c.Claim == "WARNS_ABOUT",
			c.Stars != nil && *c.Stars <= 2 && *c.Stars > 0,
			c.Score != nil && *c.Score <= 0.3:
			report.Metrics.AsSubject.Negative++
		}
	}

	report.Metrics.AsObject.Total = len(objectClaims)
	for _, c := range objectClaims {
		if c.Claim == "REFERS_TO" {
			report.Metrics.AsObject.References++
		}
	}

	report.Metrics.AsSource.Total = len(sourceClaims)
	confidenceSum := 0.0
	for _, c := range sourceClaims {
		if c.Confidence != nil {
			confidenceSum += *c.Confidence
		}
	}
	denominator := len(sourceClaims)
	if denominator == 0 {
		denominator = 1
	}
	report.Metrics.AsSource.AvgConfidence = confidenceSum / float64(denominator)

	report.RecentClaims.AsSubject = capClaims(subjectClaims, 10)
	report.RecentClaims.AsObject = capClaims(objectClaims, 10)
	report.RecentClaims.AsSource = capClaims(sourceClaims, 5)
	report.TotalClaims = len(subjectClaims) + len(objectClaims) + len(sourceClaims)
	return report, nil
}

func capClaims(claims []models.Claim, limit int) []models.Claim {
	if len(claims) > limit {
		return claims[:limit]
	}
	return claims
}

// SubmitValidation erstellt einen Validierungs-Claim über die Claim-URI.
func (s *ReportService) SubmitValidation(claimID uint, validationType, statement, issuer string, confidence *float64, evidenceURI, evidenceSourceURI string) (*models.Claim, error) {
	var original models.Claim
	if err := s.DB.First(&original, claimID).Error; err != nil {
		return nil, err
	}

	claimType, ok := map[string]string{
		"agree":    models.PredicateAgreesWith,
		"disagree": models.PredicateDisagrees,
		"confirm":  models.PredicateConfirms,
		"refute":   models.PredicateRefutes,
		"question": models.PredicateQuestions,
	}[validationType]
	if !ok {
		claimType = models.PredicateRelatesTo
	}

	if statement == "" {
		statement = claimType + " claim " + strconv.FormatUint(uint64(claimID), 10)
	}
	if confidence == nil {
		c := 0.8
		confidence = &c
	}
	howKnown := models.HowKnownFirstHand
	sourceURI := issuer
	if evidenceURI != "" || evidenceSourceURI != "" {
		howKnown = models.HowKnownWebDocument
		if evidenceSourceURI != "" {
			sourceURI = evidenceSourceURI
		}
	}

	now := time.Now()
	validation := models.Claim{
		Subject:       claimURIFor(s.BaseURL, claimID),
		Claim:         claimType,
		Object:        evidenceURI,
		Statement:     statement,
		IssuerID:      issuer,
		IssuerIDType:  "URL",
		SourceURI:     sourceURI,
		HowKnown:      howKnown,
		Confidence:    confidence,
		EffectiveDate: &now,
	}
	if err := s.DB.Create(&validation).Error; err != nil {
		return nil, err
	}
	return &validation, nil
}
