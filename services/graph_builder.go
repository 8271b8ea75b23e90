package services

import (
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"trustgraph/models"
)

// Prädikate, die beim Trust-Scoring als positiv bzw. negativ zählen.
var positivePredicates = map[string]bool{
	"TRUSTS":      true,
	"ENDORSES":    true,
	"CONFIRMS":    true,
	"AGREES_WITH": true,
	"RECOMMENDS":  true,
}

var negativePredicates = map[string]bool{
	"DISTRUSTS":      true,
	"REFUTES":        true,
	"DISAGREES_WITH": true,
	"WARNS_ABOUT":    true,
}

// GraphBuilder materialisiert Claims zu Node/Edge-Zeilen und liefert die
// graphförmigen Leseansichten (Claim-Graph, Komponente, Trust-Metriken).
type GraphBuilder struct {
	DB       *gorm.DB
	Logger   *zap.Logger
	Resolver *EntityResolver
	BaseURL  string
}

// NewGraphBuilder erstellt eine neue Instanz des GraphBuilder.
func NewGraphBuilder(db *gorm.DB, logger *zap.Logger, resolver *EntityResolver, baseURL string) *GraphBuilder {
	return &GraphBuilder{DB: db, Logger: logger, Resolver: resolver, BaseURL: baseURL}
}

// ClaimURI ist die öffentliche Adresse eines Claims und zugleich die
// nodeUri seines synthetischen Claim-Knotens.
func (g *GraphBuilder) ClaimURI(claimID uint) string {
	return claimURIFor(g.BaseURL, claimID)
}

// Materialize erzeugt Nodes und Edges für einen Claim. Idempotent pro
// Claim-ID: existieren bereits Edges, passiert nichts. Läuft bewusst
// nicht in der Transaktion der Claim-Erstellung (fire-and-forget); der
// Reconcile-Job holt liegengebliebene Claims nach.
func (g *GraphBuilder) Materialize(claimID uint) error {
	var claim models.Claim
	if err := g.DB.First(&claim, claimID).Error; err != nil {
		return err
	}

	var edgeCount int64
	if err := g.DB.Model(&models.Edge{}).Where("claim_id = ?", claimID).Count(&edgeCount).Error; err != nil {
		return err
	}
	if edgeCount > 0 {
		return nil
	}

	subjectNode, err := g.findOrCreateNode(claim.Subject, "")
	if err != nil {
		return err
	}

	claimNode, err := g.findOrCreateClaimNode(&claim)
	if err != nil {
		return err
	}

	claimNodeID := claimNode.ID
	edges := []models.Edge{
		{StartNodeID: subjectNode.ID, EndNodeID: &claimNodeID, Label: claim.Claim, ClaimID: claim.ID},
	}

	if claim.SourceURI != "" && claim.SourceURI != claim.IssuerID {
		sourceNode, err := g.findOrCreateNode(claim.SourceURI, "")
		if err != nil {
			return err
		}
		sourceID := sourceNode.ID
		edges = append(edges, models.Edge{
			StartNodeID: claimNode.ID, EndNodeID: &sourceID, Label: "source", ClaimID: claim.ID,
		})
	}

	if claim.Object != "" {
		objectNode, err := g.findOrCreateNode(claim.Object, "")
		if err != nil {
			return err
		}
		objectID := objectNode.ID
		edges = append(edges, models.Edge{
			StartNodeID: subjectNode.ID, EndNodeID: &objectID, Label: claim.Claim, ClaimID: claim.ID,
		})
	}

	if err := g.DB.Create(&edges).Error; err != nil {
		return err
	}
	g.Logger.Info("Claim materialized into graph", zap.Uint("claim_id", claim.ID), zap.Int("edges", len(edges)))
	return nil
}

// findOrCreateNode legt den Node für eine URI an; Typ und Name kommen aus
// der Entity-Auflösung. Ein Unique-Race auf node_uri wird per Refetch
// aufgelöst.
func (g *GraphBuilder) findOrCreateNode(uri, name string) (*models.Node, error) {
	var node models.Node
	err := g.DB.Where("node_uri = ?", uri).First(&node).Error
	if err == nil {
		return &node, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	entType := models.EntityUnknown
	if entity, rerr := g.Resolver.Resolve(uri, name); rerr == nil {
		entType = entity.EntityType
		if name == "" {
			name = entity.Name
		}
	}

	node = models.Node{NodeURI: uri, Name: name, EntType: entType}
	if err := g.DB.Create(&node).Error; err != nil {
		var raced models.Node
		if ferr := g.DB.Where("node_uri = ?", uri).First(&raced).Error; ferr != nil {
			return nil, err
		}
		return &raced, nil
	}
	return &node, nil
}

func (g *GraphBuilder) findOrCreateClaimNode(claim *models.Claim) (*models.Node, error) {
	uri := g.ClaimURI(claim.ID)
	var node models.Node
	err := g.DB.Where("node_uri = ?", uri).First(&node).Error
	if err == nil {
		return &node, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	node = models.Node{
		NodeURI: uri,
		Name:    claim.Claim,
		EntType: models.EntityClaim,
		Descrip: claim.Statement,
	}
	if err := g.DB.Create(&node).Error; err != nil {
		var raced models.Node
		if ferr := g.DB.Where("node_uri = ?", uri).First(&raced).Error; ferr != nil {
			return nil, err
		}
		return &raced, nil
	}
	return &node, nil
}

// ReconcileUngraphed materialisiert Claims, die noch keine Edges haben,
// z.B. nach einem Crash zwischen Claim-Erstellung und Materialisierung.
func (g *GraphBuilder) ReconcileUngraphed(limit int) (int, error) {
	var claimIDs []uint
	err := g.DB.Model(&models.Claim{}).
		Joins("LEFT JOIN edges ON edges.claim_id = claims.id").
		Where("edges.id IS NULL").
		Limit(limit).
		Pluck("claims.id", &claimIDs).Error
	if err != nil {
		return 0, err
	}

	count := 0
	for _, id := range claimIDs {
		if err := g.Materialize(id); err != nil {
			g.Logger.Warn("Reconcile failed for claim", zap.Uint("claim_id", id), zap.Error(err))
			continue
		}
		count++
	}
	return count, nil
}

// EnhancedNode ist ein Node samt aufgelöster Entity-Information für
// API-Antworten.
type EnhancedNode struct {
	models.Node
	DisplayName string             `json:"display_name"`
	Entity      *models.UriEntity  `json:"entity,omitempty"`
	EntityData  *models.Credential `json:"entity_data,omitempty"`
}

// EnhanceNodesWithEntities reichert eine Node-Liste mit Entity-Daten an.
// Genau ein Batch-Lookup auf UriEntity plus ein Batch-Lookup auf
// Credential, unabhängig von der Listengröße.
func (g *GraphBuilder) EnhanceNodesWithEntities(nodes []models.Node) ([]EnhancedNode, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	uris := make([]string, 0, len(nodes))
	for _, n := range nodes {
		uris = append(uris, n.NodeURI)
	}

	var entities []models.UriEntity
	if err := g.DB.Where("uri IN ?", uris).Find(&entities).Error; err != nil {
		return nil, err
	}
	entityByURI := make(map[string]*models.UriEntity, len(entities))
	var credentialKeys []string
	for i := range entities {
		entityByURI[entities[i].URI] = &entities[i]
		if entities[i].EntityType == models.EntityCredential {
			key := entities[i].EntityID
			if key == "" {
				key = entities[i].URI
			}
			credentialKeys = append(credentialKeys, key)
		}
	}

	credentialByID := map[string]*models.Credential{}
	if len(credentialKeys) > 0 {
		var credentials []models.Credential
		if err := g.DB.Where("id IN ? OR canonical_uri IN ?", credentialKeys, credentialKeys).
			Find(&credentials).Error; err != nil {
			return nil, err
		}
		for i := range credentials {
			credentialByID[credentials[i].ID] = &credentials[i]
			if credentials[i].CanonicalURI != "" {
				credentialByID[credentials[i].CanonicalURI] = &credentials[i]
			}
		}
	}

	enhanced := make([]EnhancedNode, 0, len(nodes))
	for _, n := range nodes {
		e := EnhancedNode{Node: n}
		if entity := entityByURI[n.NodeURI]; entity != nil {
			e.Entity = entity
			if entity.EntityType == models.EntityCredential {
				key := entity.EntityID
				if key == "" {
					key = entity.URI
				}
				e.EntityData = credentialByID[key]
			}
		}
		e.DisplayName = displayName(e.Entity, n)
		enhanced = append(enhanced, e)
	}
	return enhanced, nil
}

func displayName(entity *models.UriEntity, node models.Node) string {
	if entity != nil && entity.Name != "" {
		return entity.Name
	}
	if node.Name != "" {
		return node.Name
	}
	return node.NodeURI
}

// GraphView ist das gemeinsame Antwortformat der Graph-Endpoints.
type GraphView struct {
	Nodes []models.Node `json:"nodes"`
	Edges []models.Edge `json:"edges"`
}

// BuildGraphFromClaims sammelt Edges einer Claim-Menge und liefert die
// deduplizierte Knotenmenge plus Kantenliste. Maximal 50 Claims pro Aufruf.
func (g *GraphBuilder) BuildGraphFromClaims(claimIDs []uint) (*GraphView, error) {
	if len(claimIDs) == 0 {
		return nil, validationErr("claim_ids", "at least one claim id required")
	}
	if len(claimIDs) > 50 {
		return nil, validationErr("claim_ids", "too many claim ids, maximum 50 allowed")
	}

	var edges []models.Edge
	if err := g.DB.Where("claim_id IN ?", claimIDs).
		Preload("StartNode").Preload("EndNode").
		Find(&edges).Error; err != nil {
		return nil, err
	}

	seen := map[uint]bool{}
	var nodes []models.Node
	for _, e := range edges {
		if e.StartNode != nil && !seen[e.StartNode.ID] {
			seen[e.StartNode.ID] = true
			nodes = append(nodes, *e.StartNode)
		}
		if e.EndNode != nil && !seen[e.EndNode.ID] {
			seen[e.EndNode.ID] = true
			nodes = append(nodes, *e.EndNode)
		}
	}

	return &GraphView{Nodes: nodes, Edges: edges}, nil
}

// ConnectedComponent expandiert per Breitensuche in beide Kantenrichtungen
// vom Startknoten aus, bis maxDepth Hops erreicht sind. Jede Edge landet
// genau einmal im Ergebnis, auch wenn sie von beiden Enden entdeckt wird.
func (g *GraphBuilder) ConnectedComponent(uri string, maxDepth int) (*GraphView, error) {
	var seed models.Node
	if err := g.DB.Where("node_uri = ?", uri).First(&seed).Error; err != nil {
		return nil, err
	}

	visited := map[uint]bool{seed.ID: true}
	seenEdges := map[uint]bool{}
	nodes := []models.Node{seed}
	var resultEdges []models.Edge
	frontier := []uint{seed.ID}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var hop []models.Edge
		if err := g.DB.Where("start_node_id IN ? OR end_node_id IN ?", frontier, frontier).
			Preload("StartNode").Preload("EndNode").
			Find(&hop).Error; err != nil {
			return nil, err
		}

		var next []uint
		for _, e := range hop {
			if seenEdges[e.ID] {
				continue
			}
			seenEdges[e.ID] = true
			resultEdges = append(resultEdges, e)

			for _, n := range []*models.Node{e.StartNode, e.EndNode} {
				if n == nil || visited[n.ID] {
					continue
				}
				visited[n.ID] = true
				nodes = append(nodes, *n)
				next = append(next, n.ID)
			}
		}
		frontier = next
	}

	return &GraphView{Nodes: nodes, Edges: resultEdges}, nil
}

// TrustMetrics sind aggregierte Vertrauenswerte über alle Claims zu einem
// Subjekt.
type TrustMetrics struct {
	TotalClaims   int     `json:"total_claims"`
	PositiveCount int     `json:"positive_count"`
	NegativeCount int     `json:"negative_count"`
	NeutralCount  int     `json:"neutral_count"`
	RatingCount   int     `json:"rating_count"`
	AvgRating     float64 `json:"avg_rating"`
}

// CalculateTrustMetrics sortiert alle Claims über eine URI in
// positiv/negativ/neutral und mittelt Stern- und Score-Bewertungen auf
// eine gemeinsame 0-5-Skala.
func (g *GraphBuilder) CalculateTrustMetrics(uri string) (*TrustMetrics, error) {
	var claims []models.Claim
	if err := g.DB.Where("subject = ?", uri).Find(&claims).Error; err != nil {
		return nil, err
	}

	m := &TrustMetrics{TotalClaims: len(claims)}
	ratingSum := 0.0
	for _, c := range claims {
		switch {
		case positivePredicates[c.Claim]:
			m.PositiveCount++
		case negativePredicates[c.Claim]:
			m.NegativeCount++
		default:
			m.NeutralCount++
		}

		if c.Stars != nil {
			ratingSum += float64(*c.Stars)
			m.RatingCount++
		} else if c.Score != nil {
			ratingSum += *c.Score * 5
			m.RatingCount++
		}
	}
	if m.RatingCount > 0 {
		m.AvgRating = ratingSum / float64(m.RatingCount)
	}
	return m, nil
}
