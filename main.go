package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
	"trustgraph/config"
	"trustgraph/models"
	"trustgraph/services"
	"trustgraph/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	claimsCreatedCounter      prometheus.Counter
	claimsMaterializedCounter prometheus.Counter
)

func init() {
	claimsCreatedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "claims_created_total",
			Help: "Total number of claims created via the API.",
		},
	)
	claimsMaterializedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "claims_materialized_total",
			Help: "Total number of claims materialized into graph edges.",
		},
	)
	prometheus.MustRegister(claimsCreatedCounter, claimsMaterializedCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to claims database.")

	logging.Info("Running database auto-migration...")
	db.AutoMigrate(&models.Claim{}, &models.Node{}, &models.Edge{}, &models.UriEntity{}, &models.Credential{})

	// Setup Services
	resolver := services.NewEntityResolver(db, logging)
	closure := services.NewClosureResolver(db)
	linker := services.NewIdentityLinker(db, logging)
	graph := services.NewGraphBuilder(db, logging, resolver, cfg.BaseURL)
	feed := services.NewFeedService(db, logging)
	reports := services.NewReportService(db, logging, cfg.BaseURL)
	signer := services.NewSigner(cfg.SigningServiceURL, logging)
	claims := services.NewClaimService(db, logging, signer, closure)
	pipeline := services.NewPipelineTrigger(cfg.PipelineServiceURL, logging)

	var credentials *services.CredentialService
	if cfg.ArchiveEnabled() {
		s3Client, err := storage.NewS3Client(cfg)
		if err != nil {
			logging.Fatal("S3 client creation failed", zap.Error(err))
		}
		credentials = services.NewCredentialService(db, logging, cfg, s3Client)
	} else {
		logging.Info("Credential archive not configured, documents are kept in the database only.")
		credentials = services.NewCredentialService(db, logging, cfg, nil)
	}

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Setup Routes
	setupClaimRoutes(router, cfg, claims, reports, resolver, graph, pipeline, logging)
	setupFeedRoutes(router, feed, logging)
	setupReportRoutes(router, reports, logging)
	setupGraphRoutes(router, graph, logging)
	setupNodeRoutes(router, db, graph, logging)
	setupIdentityRoutes(router, cfg, linker, logging)
	setupCredentialRoutes(router, cfg, credentials, graph, pipeline, logging)

	// Setup Cron
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.CronSchedule, func() {
		logging.Info("Running scheduled graph reconcile job...")
		count, err := graph.ReconcileUngraphed(500)
		if err != nil {
			logging.Error("Cron job failed", zap.Error(err))
		} else {
			logging.Info("Cron job completed", zap.Int("materialized_claims", count))
			claimsMaterializedCounter.Add(float64(count))
		}
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// respondError übersetzt Service-Fehler in HTTP-Statuscodes.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	var vErr *services.ValidationError
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Message, "field": vErr.Field})
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, services.ErrCredentialExists):
		c.JSON(http.StatusConflict, gin.H{"error": "credential already exists"})
	default:
		log.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
	}
}

// callerURI leitet die kanonische Nutzer-URI aus dem X-USER-ID Header ab.
// Leer, wenn kein Nutzerkontext vorhanden ist.
func callerURI(c *gin.Context, baseURL string) string {
	userID := c.GetHeader("X-USER-ID")
	if userID == "" {
		return ""
	}
	return fmt.Sprintf("%s/users/%s", strings.TrimRight(baseURL, "/"), userID)
}

func parseUintParam(c *gin.Context, name string) (uint, bool) {
	value, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s", name)})
		return 0, false
	}
	return uint(value), true
}

func parseIntQuery(c *gin.Context, name string, fallback int) int {
	value, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return fallback
	}
	return value
}

func setupClaimRoutes(router *gin.Engine, cfg *config.Config, claims *services.ClaimService, reports *services.ReportService, resolver *services.EntityResolver, graph *services.GraphBuilder, pipeline *services.PipelineTrigger, log *zap.Logger) {
	rg := router.Group("/claims")

	// POST - Claim einreichen. Entity-Auflösung, Graph-Materialisierung und
	// Pipeline-Trigger laufen asynchron, die Antwort wartet nicht darauf.
	rg.POST("/", func(c *gin.Context) {
		var input services.ClaimInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		claim, err := claims.Create(input, callerURI(c, cfg.BaseURL))
		if err != nil {
			respondError(c, log, err)
			return
		}
		claimsCreatedCounter.Inc()

		go func(claim models.Claim, name string) {
			resolver.ProcessClaimEntities(&claim, name)
			if err := graph.Materialize(claim.ID); err != nil {
				log.Error("Async claim materialization failed", zap.Uint("claim_id", claim.ID), zap.Error(err))
			} else {
				claimsMaterializedCounter.Inc()
			}
			pipeline.ProcessClaim(claim.ID)
		}(*claim, input.Name)

		c.JSON(http.StatusCreated, claim)
	})

	// GET - Claim per ID
	rg.GET("/:id", func(c *gin.Context) {
		id, ok := parseUintParam(c, "id")
		if !ok {
			return
		}
		claim, err := claims.GetByID(id)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, claim)
	})

	// GET - Claims über eine Subjekt-URI. Die URI kommt base64- oder
	// prozent-kodiert im Pfad; include_linked expandiert die SAME_AS-Hülle.
	rg.GET("/subject/:uri", func(c *gin.Context) {
		uri := services.DecodeSubjectURI(c.Param("uri"))
		page := parseIntQuery(c, "page", 1)
		limit := parseIntQuery(c, "limit", 50)
		includeLinked := c.Query("include_linked") == "true"

		result, err := claims.GetBySubject(uri, page, limit, includeLinked)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	// POST - Validierung zu einem bestehenden Claim
	rg.POST("/:id/validations", func(c *gin.Context) {
		id, ok := parseUintParam(c, "id")
		if !ok {
			return
		}

		var req struct {
			ValidationType    string   `json:"validation_type"`
			Statement         string   `json:"statement"`
			Confidence        *float64 `json:"confidence"`
			EvidenceURI       string   `json:"evidence_uri"`
			EvidenceSourceURI string   `json:"evidence_source_uri"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		issuer := callerURI(c, cfg.BaseURL)
		validation, err := reports.SubmitValidation(id, req.ValidationType, req.Statement, issuer, req.Confidence, req.EvidenceURI, req.EvidenceSourceURI)
		if err != nil {
			respondError(c, log, err)
			return
		}
		claimsCreatedCounter.Inc()

		go func(validationID uint) {
			if err := graph.Materialize(validationID); err != nil {
				log.Error("Async validation materialization failed", zap.Uint("claim_id", validationID), zap.Error(err))
			} else {
				claimsMaterializedCounter.Inc()
			}
			pipeline.ProcessClaim(validationID)
		}(validation.ID)

		c.JSON(http.StatusCreated, validation)
	})
}

func setupFeedRoutes(router *gin.Engine, feed *services.FeedService, log *zap.Logger) {
	rg := router.Group("/feed")

	rg.GET("/", func(c *gin.Context) {
		query := services.FeedQuery{
			Page:   parseIntQuery(c, "page", 1),
			Limit:  parseIntQuery(c, "limit", 50),
			Search: c.Query("search"),
			Filter: c.Query("filter"),
		}
		result, err := feed.GetFeed(query)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	rg.GET("/trending", func(c *gin.Context) {
		result, err := feed.GetTrending(c.Query("period"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	rg.GET("/type/:entityType", func(c *gin.Context) {
		entityType := strings.ToUpper(c.Param("entityType"))
		page := parseIntQuery(c, "page", 1)
		limit := parseIntQuery(c, "limit", 50)
		result, err := feed.GetFeedByEntityType(entityType, page, limit)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})
}

func setupReportRoutes(router *gin.Engine, reports *services.ReportService, log *zap.Logger) {
	rg := router.Group("/reports")

	rg.GET("/claim/:claimId", func(c *gin.Context) {
		id, ok := parseUintParam(c, "claimId")
		if !ok {
			return
		}
		report, err := reports.GetClaimReport(id)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, report)
	})

	rg.GET("/entity/:uri", func(c *gin.Context) {
		uri := services.DecodeSubjectURI(c.Param("uri"))
		report, err := reports.GetEntityReport(uri)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, report)
	})
}

func setupGraphRoutes(router *gin.Engine, graph *services.GraphBuilder, log *zap.Logger) {
	rg := router.Group("/graph")

	// GET - Teilgraph eines einzelnen Claims
	rg.GET("/claims/:claimId", func(c *gin.Context) {
		id, ok := parseUintParam(c, "claimId")
		if !ok {
			return
		}
		view, err := graph.BuildGraphFromClaims([]uint{id})
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	// POST - Teilgraph über mehrere Claim-IDs (Batch)
	rg.POST("/nodes-by-claims", func(c *gin.Context) {
		var req struct {
			ClaimIDs []uint `json:"claim_ids" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'claim_ids' field is required."})
			return
		}
		view, err := graph.BuildGraphFromClaims(req.ClaimIDs)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	// GET - Zusammenhangskomponente um eine URI per BFS
	rg.GET("/component/:uri", func(c *gin.Context) {
		uri := services.DecodeSubjectURI(c.Param("uri"))
		depth := parseIntQuery(c, "depth", 2)
		view, err := graph.ConnectedComponent(uri, depth)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	// GET - Trust-Metriken einer URI
	rg.GET("/metrics/:uri", func(c *gin.Context) {
		uri := services.DecodeSubjectURI(c.Param("uri"))
		metrics, err := graph.CalculateTrustMetrics(uri)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, metrics)
	})
}

func setupNodeRoutes(router *gin.Engine, db *gorm.DB, graph *services.GraphBuilder, log *zap.Logger) {
	rg := router.Group("/nodes")

	// GET - Volltextsuche über Name, Beschreibung und URI
	rg.GET("/search", func(c *gin.Context) {
		search := c.Query("search")
		if search == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "search query required"})
			return
		}
		page := parseIntQuery(c, "page", 1)
		limit := parseIntQuery(c, "limit", 20)
		if page < 1 {
			page = 1
		}
		if limit < 1 || limit > 100 {
			limit = 20
		}

		pattern := "%" + search + "%"
		query := db.Model(&models.Node{}).Where(
			"LOWER(name) LIKE LOWER(?) OR LOWER(descrip) LIKE LOWER(?) OR LOWER(node_uri) LIKE LOWER(?)",
			pattern, pattern, pattern,
		)

		var total int64
		if err := query.Count(&total).Error; err != nil {
			respondError(c, log, err)
			return
		}

		var nodes []models.Node
		if err := query.Offset((page - 1) * limit).Limit(limit).Find(&nodes).Error; err != nil {
			respondError(c, log, err)
			return
		}

		enhanced, err := graph.EnhanceNodesWithEntities(nodes)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"nodes": enhanced, "total": total, "page": page, "limit": limit})
	})

	// GET - Node per ID, Edges auf 20 begrenzt
	rg.GET("/:nodeId", func(c *gin.Context) {
		id, ok := parseUintParam(c, "nodeId")
		if !ok {
			return
		}

		var node models.Node
		if err := db.First(&node, id).Error; err != nil {
			respondError(c, log, err)
			return
		}

		var edges []models.Edge
		if err := db.Where("start_node_id = ? OR end_node_id = ?", node.ID, node.ID).
			Preload("StartNode").Preload("EndNode").Preload("Claim").
			Limit(20).Find(&edges).Error; err != nil {
			respondError(c, log, err)
			return
		}

		enhanced, err := graph.EnhanceNodesWithEntities([]models.Node{node})
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"node": enhanced[0], "edges": edges})
	})

	// GET - Weitere Edges eines Nodes nachladen (Pagination)
	rg.GET("/:nodeId/expand", func(c *gin.Context) {
		id, ok := parseUintParam(c, "nodeId")
		if !ok {
			return
		}
		page := parseIntQuery(c, "page", 1)
		limit := parseIntQuery(c, "limit", 20)
		if page < 1 {
			page = 1
		}
		if limit < 1 || limit > 100 {
			limit = 20
		}

		var total int64
		if err := db.Model(&models.Edge{}).
			Where("start_node_id = ? OR end_node_id = ?", id, id).
			Count(&total).Error; err != nil {
			respondError(c, log, err)
			return
		}

		var edges []models.Edge
		if err := db.Where("start_node_id = ? OR end_node_id = ?", id, id).
			Preload("StartNode").Preload("EndNode").Preload("Claim").
			Offset((page - 1) * limit).Limit(limit).
			Find(&edges).Error; err != nil {
			respondError(c, log, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"edges": edges, "total": total, "page": page, "limit": limit})
	})
}

// setupIdentityRoutes konfiguriert die Verknüpfung verifizierter
// Plattform-Accounts mit dem kanonischen Profil eines Nutzers.
func setupIdentityRoutes(router *gin.Engine, cfg *config.Config, linker *services.IdentityLinker, log *zap.Logger) {
	rg := router.Group("/identity")

	type verifyRequest struct {
		UserID      uint   `json:"user_id" binding:"required"`
		Username    string `json:"username" binding:"required"`
		DisplayName string `json:"display_name"`
	}

	link := func(c *gin.Context, platform string, platformURI func(username string) string) {
		var req verifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'user_id' and 'username' are required."})
			return
		}

		result, err := linker.LinkPlatformAccount(req.UserID, platform, req.Username, platformURI(req.Username), req.DisplayName, cfg.ProfileBaseURL)
		if err != nil {
			respondError(c, log, err)
			return
		}

		log.Info("Platform account linked",
			zap.Uint("user_id", req.UserID),
			zap.String("platform", platform),
			zap.String("profile_url", result.ProfileURL))
		c.JSON(http.StatusOK, result)
	}

	rg.POST("/github/verify", func(c *gin.Context) {
		link(c, "github", func(username string) string {
			return "https://github.com/" + username
		})
	})

	rg.POST("/linkedin/verify", func(c *gin.Context) {
		link(c, "linkedin", func(username string) string {
			return "https://www.linkedin.com/in/" + username
		})
	})
}

func setupCredentialRoutes(router *gin.Engine, cfg *config.Config, credentials *services.CredentialService, graph *services.GraphBuilder, pipeline *services.PipelineTrigger, log *zap.Logger) {
	rg := router.Group("/credentials")

	// POST - Credential einreichen. Skill-/Achievement-Extraktion und
	// Archivierung laufen asynchron.
	rg.POST("/", func(c *gin.Context) {
		raw, err := c.GetRawData()
		if err != nil || len(raw) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		userURI := callerURI(c, cfg.BaseURL)
		result, err := credentials.Submit(json.RawMessage(raw), userURI)
		if err != nil {
			respondError(c, log, err)
			return
		}
		claimsCreatedCounter.Inc()

		go func(claimID uint, uri string, raw []byte) {
			if err := graph.Materialize(claimID); err != nil {
				log.Error("Async credential claim materialization failed", zap.Uint("claim_id", claimID), zap.Error(err))
			} else {
				claimsMaterializedCounter.Inc()
			}
			pipeline.ProcessClaim(claimID)

			extracted, err := credentials.ExtractClaims(raw, userURI)
			if err != nil {
				log.Warn("Credential claim extraction failed", zap.String("uri", uri), zap.Error(err))
			}
			for _, claim := range extracted {
				if err := graph.Materialize(claim.ID); err != nil {
					log.Error("Async extracted claim materialization failed", zap.Uint("claim_id", claim.ID), zap.Error(err))
				} else {
					claimsMaterializedCounter.Inc()
				}
			}

			credentials.ArchiveDocument(uri, raw)
		}(result.Claim.ID, result.URI, raw)

		c.JSON(http.StatusCreated, result)
	})

	// GET - Credential samt referenzierender Claims
	rg.GET("/:uri", func(c *gin.Context) {
		uri := services.DecodeSubjectURI(c.Param("uri"))
		result, err := credentials.Get(uri)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})
}
