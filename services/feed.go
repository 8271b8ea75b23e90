package services

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"trustgraph/models"
)

// FeedService produziert die paginierten, durchsuchbaren Lese-Ansichten
// über Claims, angereichert mit Entity-Daten.
type FeedService struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewFeedService erstellt eine neue Instanz des FeedService.
func NewFeedService(db *gorm.DB, logger *zap.Logger) *FeedService {
	return &FeedService{DB: db, Logger: logger}
}

// FeedQuery bündelt die Parameter der Feed-Abfrage.
type FeedQuery struct {
	Page   int
	Limit  int
	Search string
	Filter string
}

// EntityRef ist die Anzeige-Repräsentation einer URI in Feed und Reports.
type EntityRef struct {
	URI   string `json:"uri"`
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Image string `json:"image,omitempty"`
}

// FeedEntry ist ein Claim in Feed-Darstellung.
type FeedEntry struct {
	ID            uint       `json:"id"`
	Subject       EntityRef  `json:"subject"`
	Claim         string     `json:"claim"`
	Object        *EntityRef `json:"object,omitempty"`
	Statement     string     `json:"statement,omitempty"`
	EffectiveDate *time.Time `json:"effective_date,omitempty"`
	Confidence    *float64   `json:"confidence,omitempty"`
	SourceURI     string     `json:"source_uri,omitempty"`
	HowKnown      string     `json:"how_known,omitempty"`
	Stars         *int       `json:"stars,omitempty"`
	Score         *float64   `json:"score,omitempty"`
	Amount        *float64   `json:"amount,omitempty"`
	Unit          string     `json:"unit,omitempty"`
	Aspect        string     `json:"aspect,omitempty"`
}

// Pagination ist der Paginierungs-Vertrag aller Listen-Endpoints.
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

// FeedResult ist die Antwort der Feed-Endpoints.
type FeedResult struct {
	Entries    []FeedEntry `json:"entries"`
	Pagination Pagination  `json:"pagination"`
}

func normalizePaging(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	return page, limit
}

// applyFeedFilter setzt Suchterm und optionale Filter auf die Query.
// LOWER/LIKE statt ILIKE, damit dieselbe Query auch auf sqlite läuft.
func applyFeedFilter(query *gorm.DB, q FeedQuery) *gorm.DB {
	query = query.Where("effective_date IS NOT NULL AND statement <> ''")

	if q.Search != "" {
		pattern := "%" + q.Search + "%"
		query = query.Where(
			"LOWER(subject) LIKE LOWER(?) OR LOWER(statement) LIKE LOWER(?) OR LOWER(object) LIKE LOWER(?) OR LOWER(source_uri) LIKE LOWER(?) OR LOWER(aspect) LIKE LOWER(?)",
			pattern, pattern, pattern, pattern, pattern,
		)
	}

	switch q.Filter {
	case "ratings":
		query = query.Where("stars IS NOT NULL OR score IS NOT NULL")
	case "credentials":
		query = query.Where("claim = ? AND LOWER(object) LIKE ?", models.PredicateHas, "%credential%")
	}

	return query
}

// GetFeed liefert Claims mit Statement und effectiveDate, neueste zuerst.
func (s *FeedService) GetFeed(q FeedQuery) (*FeedResult, error) {
	page, limit := normalizePaging(q.Page, q.Limit)

	var total int64
	if err := applyFeedFilter(s.DB.Model(&models.Claim{}), q).Count(&total).Error; err != nil {
		return nil, err
	}

	var claims []models.Claim
	err := applyFeedFilter(s.DB.Model(&models.Claim{}), q).
		Order("effective_date DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Preload("Edges.StartNode").
		Preload("Edges.EndNode").
		Find(&claims).Error
	if err != nil {
		return nil, err
	}

	entries, err := s.buildEntries(claims)
	if err != nil {
		return nil, err
	}

	return &FeedResult{
		Entries:    entries,
		Pagination: paginate(page, limit, total),
	}, nil
}

func paginate(page, limit int, total int64) Pagination {
	pages := total / int64(limit)
	if total%int64(limit) != 0 {
		pages++
	}
	return Pagination{Page: page, Limit: limit, Total: total, Pages: pages}
}

// buildEntries transformiert Claims in Feed-Einträge. Die Entity-Daten
// kommen aus einem Batch-Lookup über alle Subjekt- und Objekt-URIs.
func (s *FeedService) buildEntries(claims []models.Claim) ([]FeedEntry, error) {
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

	entityByURI := map[string]*models.UriEntity{}
	if len(uris) > 0 {
		var entities []models.UriEntity
		if err := s.DB.Where("uri IN ?", uris).Find(&entities).Error; err != nil {
			return nil, err
		}
		for i := range entities {
			entityByURI[entities[i].URI] = &entities[i]
		}
	}

	entries := make([]FeedEntry, 0, len(claims))
	for _, c := range claims {
		var startNode, endNode *models.Node
		if len(c.Edges) > 0 {
			startNode = c.Edges[0].StartNode
			endNode = c.Edges[0].EndNode
		}

		entry := FeedEntry{
			ID:            c.ID,
			Subject:       entityRef(c.Subject, entityByURI[c.Subject], startNode),
			Claim:         c.Claim,
			Statement:     c.Statement,
			EffectiveDate: c.EffectiveDate,
			Confidence:    c.Confidence,
			SourceURI:     c.SourceURI,
			HowKnown:      c.HowKnown,
			Stars:         c.Stars,
			Score:         c.Score,
			Amount:        c.Amt,
			Unit:          c.Unit,
			Aspect:        c.Aspect,
		}
		if c.Object != "" {
			ref := entityRef(c.Object, entityByURI[c.Object], endNode)
			entry.Object = &ref
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// entityRef baut die Anzeige-Referenz mit der Fallback-Kette
// Entity -> Edge-Node -> rohe URI.
func entityRef(uri string, entity *models.UriEntity, node *models.Node) EntityRef {
	ref := EntityRef{URI: uri, Name: uri}
	if node != nil {
		if node.Name != "" {
			ref.Name = node.Name
		}
		ref.Type = node.EntType
		ref.Image = node.Image
	}
	if entity != nil {
		if entity.Name != "" {
			ref.Name = entity.Name
		}
		if entity.EntityType != "" {
			ref.Type = entity.EntityType
		}
		if entity.Image != "" {
			ref.Image = entity.Image
		}
	}
	return ref
}

// GetFeedByEntityType liefert Claims über alle Entities eines Typs.
func (s *FeedService) GetFeedByEntityType(entityType string, page, limit int) (*FeedResult, error) {
	page, limit = normalizePaging(page, limit)

	var uris []string
	if err := s.DB.Model(&models.UriEntity{}).
		Where("entity_type = ?", entityType).
		Pluck("uri", &uris).Error; err != nil {
		return nil, err
	}
	if len(uris) == 0 {
		return &FeedResult{Entries: []FeedEntry{}, Pagination: paginate(page, limit, 0)}, nil
	}

	base := func() *gorm.DB {
		return s.DB.Model(&models.Claim{}).
			Where("(subject IN ? OR object IN ?) AND effective_date IS NOT NULL", uris, uris)
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, err
	}

	var claims []models.Claim
	err := base().
		Order("effective_date DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Preload("Edges.StartNode").
		Preload("Edges.EndNode").
		Find(&claims).Error
	if err != nil {
		return nil, err
	}

	entries, err := s.buildEntries(claims)
	if err != nil {
		return nil, err
	}
	return &FeedResult{Entries: entries, Pagination: paginate(page, limit, total)}, nil
}

// TrendingItem ist ein Subjekt mit Claim-Anzahl im Zeitfenster.
type TrendingItem struct {
	URI   string `json:"uri"`
	Count int64  `json:"count"`
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Image string `json:"image,omitempty"`
}

// TrendingResult ist die Antwort des Trending-Endpoints.
type TrendingResult struct {
	Trending  []TrendingItem `json:"trending"`
	Period    string         `json:"period"`
	StartDate time.Time      `json:"start_date"`
	EndDate   time.Time      `json:"end_date"`
}

// GetTrending gruppiert Claims nach Subjekt im Zeitfenster (24h/7d/30d)
// und liefert die 20 meistgenannten Subjekte mit Anzeige-Daten.
func (s *FeedService) GetTrending(period string) (*TrendingResult, error) {
	now := time.Now()
	var start time.Time
	switch period {
	case "24h":
		start = now.AddDate(0, 0, -1)
	case "30d":
		start = now.AddDate(0, 0, -30)
	default:
		period = "7d"
		start = now.AddDate(0, 0, -7)
	}

	type row struct {
		Subject string
		Count   int64
	}
	var rows []row
	err := s.DB.Model(&models.Claim{}).
		Select("subject, COUNT(*) AS count").
		Where("effective_date >= ? AND effective_date <= ?", start, now).
		Group("subject").
		Order("count DESC").
		Limit(20).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	uris := make([]string, 0, len(rows))
	for _, r := range rows {
		uris = append(uris, r.Subject)
	}

	entityByURI := map[string]*models.UriEntity{}
	nodeByURI := map[string]*models.Node{}
	if len(uris) > 0 {
		var entities []models.UriEntity
		if err := s.DB.Where("uri IN ?", uris).Find(&entities).Error; err != nil {
			return nil, err
		}
		for i := range entities {
			entityByURI[entities[i].URI] = &entities[i]
		}
		var nodes []models.Node
		if err := s.DB.Where("node_uri IN ?", uris).Find(&nodes).Error; err != nil {
			return nil, err
		}
		for i := range nodes {
			nodeByURI[nodes[i].NodeURI] = &nodes[i]
		}
	}

	trending := make([]TrendingItem, 0, len(rows))
	for _, r := range rows {
		ref := entityRef(r.Subject, entityByURI[r.Subject], nodeByURI[r.Subject])
		trending = append(trending, TrendingItem{
			URI:   r.Subject,
			Count: r.Count,
			Name:  ref.Name,
			Type:  ref.Type,
			Image: ref.Image,
		})
	}

	return &TrendingResult{Trending: trending, Period: period, StartDate: start, EndDate: now}, nil
}
