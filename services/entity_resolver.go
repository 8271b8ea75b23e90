package services

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"trustgraph/models"
)

var rootDomainPattern = regexp.MustCompile(`^https?://[^/]+/?$`)

// EntityResolver klassifiziert URIs in Entity-Typen und memoisiert das
// Ergebnis in UriEntity. Keine Netzwerkaufrufe; reine Funktion über dem
// aktuellen Datenbankzustand.
type EntityResolver struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewEntityResolver erstellt eine neue Instanz des EntityResolver.
func NewEntityResolver(db *gorm.DB, logger *zap.Logger) *EntityResolver {
	return &EntityResolver{DB: db, Logger: logger}
}

type detection struct {
	entityType  string
	entityTable string
	entityID    string
	name        string
}

// Resolve liefert die UriEntity für eine URI und legt sie bei Bedarf an.
// Ein mitgelieferter Name gewinnt immer gegen heuristisch abgeleitete Namen.
func (r *EntityResolver) Resolve(uri, suggestedName string) (*models.UriEntity, error) {
	var existing models.UriEntity
	err := r.DB.Where("uri = ?", uri).First(&existing).Error
	if err == nil {
		if suggestedName != "" && suggestedName != existing.Name {
			existing.Name = suggestedName
			if err := r.DB.Model(&existing).Update("name", suggestedName).Error; err != nil {
				r.Logger.Warn("Failed to refresh entity name", zap.String("uri", uri), zap.Error(err))
			}
		}
		r.syncNode(uri, suggestedName)
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	det := r.detectEntityType(uri)
	name := det.name
	if suggestedName != "" {
		name = suggestedName
	}
	entityID := det.entityID
	if entityID == "" {
		entityID = uri
	}

	entity := models.UriEntity{
		URI:         uri,
		EntityType:  det.entityType,
		EntityTable: det.entityTable,
		EntityID:    entityID,
		Name:        name,
	}
	if err := r.DB.Create(&entity).Error; err != nil {
		// Unique-Constraint-Race: ein paralleler Request war schneller,
		// also die inzwischen existierende Zeile zurückgeben.
		r.Logger.Debug("Entity already registered, refetching", zap.String("uri", uri))
		var raced models.UriEntity
		if ferr := r.DB.Where("uri = ?", uri).First(&raced).Error; ferr != nil {
			return nil, err
		}
		return &raced, nil
	}
	return &entity, nil
}

// syncNode hält den Node zur selben URI lose synchron: Name nachziehen und
// LinkedIn-Personenprofile auf PERSON korrigieren.
func (r *EntityResolver) syncNode(uri, suggestedName string) {
	var node models.Node
	if err := r.DB.Where("node_uri = ?", uri).First(&node).Error; err != nil {
		return
	}
	updates := map[string]interface{}{}
	if suggestedName != "" && suggestedName != node.Name {
		updates["name"] = suggestedName
	}
	if strings.Contains(uri, "linkedin.com/in/") && node.EntType != models.EntityPerson {
		updates["ent_type"] = models.EntityPerson
	}
	if len(updates) == 0 {
		return
	}
	if err := r.DB.Model(&node).Updates(updates).Error; err != nil {
		r.Logger.Warn("Failed to sync node with entity", zap.String("uri", uri), zap.Error(err))
	}
}

// detectEntityType klassifiziert eine URI in Prioritätsreihenfolge:
// bekannte Credentials, existierende Nodes, dann Muster-Heuristiken.
func (r *EntityResolver) detectEntityType(uri string) detection {
	var credential models.Credential
	if err := r.DB.Where("id = ? OR canonical_uri = ?", uri, uri).First(&credential).Error; err == nil {
		return detection{
			entityType:  models.EntityCredential,
			entityTable: "Credential",
			entityID:    credential.ID,
			name:        credential.Name,
		}
	}

	var node models.Node
	if err := r.DB.Where("node_uri = ?", uri).First(&node).Error; err == nil {
		entType := node.EntType
		if entType == "" {
			entType = models.EntityUnknown
		}
		return detection{
			entityType:  entType,
			entityTable: "Node",
			entityID:    uri,
			name:        node.Name,
		}
	}

	if strings.HasPrefix(uri, "did:") {
		if strings.Contains(uri, ":person:") || strings.Contains(uri, ":key:") {
			return detection{entityType: models.EntityPerson, entityTable: "person_entities", name: lastSegment(uri, ":")}
		}
		if strings.Contains(uri, ":org:") || strings.Contains(uri, ":web:") {
			return detection{entityType: models.EntityOrganization, entityTable: "organization_entities"}
		}
	}

	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		// Social-Media-Profile
		if strings.Contains(uri, "linkedin.com/in/") || strings.Contains(uri, "twitter.com/") || strings.Contains(uri, "github.com/") {
			return detection{entityType: models.EntityPerson, entityTable: "person_entities", name: lastSegment(uri, "/")}
		}

		// Firmenprofile und Root-Domains
		if strings.Contains(uri, "linkedin.com/company/") || rootDomainPattern.MatchString(uri) {
			name := ""
			if parsed, err := url.Parse(uri); err == nil {
				name = strings.TrimPrefix(parsed.Hostname(), "www.")
			}
			return detection{entityType: models.EntityOrganization, entityTable: "organization_entities", name: name}
		}

		name := lastSegment(uri, "/")
		if name == "" {
			name = "Document"
		}
		return detection{entityType: models.EntityDocument, entityTable: "documents", name: name}
	}

	if strings.Contains(uri, "@") && !strings.HasPrefix(uri, "http") {
		return detection{entityType: models.EntityPerson, entityTable: "person_entities", name: strings.SplitN(uri, "@", 2)[0]}
	}

	if strings.HasPrefix(uri, "urn:") {
		if strings.Contains(uri, ":credential:") {
			return detection{entityType: models.EntityCredential, entityTable: "Credential"}
		}
		if strings.Contains(uri, ":event:") {
			return detection{entityType: models.EntityEvent, entityTable: "events"}
		}
	}

	name := lastSegment(uri, "/")
	if name == "" {
		name = lastSegment(uri, ":")
	}
	if name == "" {
		name = uri
	}
	return detection{entityType: models.EntityUnknown, entityTable: "unknown", name: name}
}

// ProcessClaimEntities registriert Subjekt, Objekt und Quelle eines Claims.
// Läuft nach der Claim-Erstellung im Hintergrund; Fehler werden geloggt.
func (r *EntityResolver) ProcessClaimEntities(claim *models.Claim, name string) {
	uris := []string{claim.Subject}
	if claim.Object != "" {
		uris = append(uris, claim.Object)
	}
	if claim.SourceURI != "" && claim.SourceURI != claim.IssuerID {
		uris = append(uris, claim.SourceURI)
	}
	for _, uri := range uris {
		if _, err := r.Resolve(uri, name); err != nil {
			r.Logger.Warn("Entity detection failed", zap.String("uri", uri), zap.Uint("claim_id", claim.ID), zap.Error(err))
		}
	}
}

// ResolveBatch löst eine Menge von URIs auf: erst ein Batch-Lookup der
// bereits registrierten, dann Einzelauflösung der neuen.
func (r *EntityResolver) ResolveBatch(uris []string) ([]models.UriEntity, error) {
	if len(uris) == 0 {
		return nil, nil
	}
	var existing []models.UriEntity
	if err := r.DB.Where("uri IN ?", uris).Find(&existing).Error; err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, e := range existing {
		known[e.URI] = true
	}
	for _, uri := range uris {
		if known[uri] {
			continue
		}
		entity, err := r.Resolve(uri, "")
		if err != nil {
			r.Logger.Warn("Batch entity detection failed", zap.String("uri", uri), zap.Error(err))
			continue
		}
		existing = append(existing, *entity)
	}
	return existing, nil
}

func lastSegment(s, sep string) string {
	parts := strings.Split(s, sep)
	return parts[len(parts)-1]
}
