package services

import (
	"testing"

	"trustgraph/models"
)

func TestDetectEntityType(t *testing.T) {
	db := setupTestDB(t)
	r := NewEntityResolver(db, testLogger())

	tests := []struct {
		uri      string
		wantType string
		wantName string
	}{
		{"did:person:alice", models.EntityPerson, "alice"},
		{"did:key:z6MkhaXgBZD", models.EntityPerson, "z6MkhaXgBZD"},
		{"did:org:acme", models.EntityOrganization, ""},
		{"did:web:example.com", models.EntityOrganization, ""},
		{"https://www.linkedin.com/in/jane-doe", models.EntityPerson, "jane-doe"},
		{"https://twitter.com/jdoe", models.EntityPerson, "jdoe"},
		{"https://github.com/jdoe", models.EntityPerson, "jdoe"},
		{"https://www.linkedin.com/company/acme-corp", models.EntityOrganization, "linkedin.com"},
		{"https://acme.example.com/", models.EntityOrganization, "acme.example.com"},
		{"https://acme.example.com", models.EntityOrganization, "acme.example.com"},
		{"https://example.com/reports/annual-2025.pdf", models.EntityDocument, "annual-2025.pdf"},
		{"bob@example.com", models.EntityPerson, "bob"},
		{"urn:credential:abc123", models.EntityCredential, ""},
		{"urn:event:conference-2025", models.EntityEvent, ""},
		{"some-opaque-identifier", models.EntityUnknown, "some-opaque-identifier"},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			det := r.detectEntityType(tt.uri)
			if det.entityType != tt.wantType {
				t.Errorf("detectEntityType(%q) type = %q, want %q", tt.uri, det.entityType, tt.wantType)
			}
			if tt.wantName != "" && det.name != tt.wantName {
				t.Errorf("detectEntityType(%q) name = %q, want %q", tt.uri, det.name, tt.wantName)
			}
		})
	}
}

func TestResolveMemoizes(t *testing.T) {
	db := setupTestDB(t)
	r := NewEntityResolver(db, testLogger())

	first, err := r.Resolve("https://github.com/jdoe", "")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := r.Resolve("https://github.com/jdoe", "")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("resolve created a second row: %d vs %d", first.ID, second.ID)
	}
	if got := mustCount(t, db, &models.UriEntity{}, "uri = ?", "https://github.com/jdoe"); got != 1 {
		t.Errorf("expected exactly one UriEntity row, got %d", got)
	}
}

func TestResolveSuggestedNameWins(t *testing.T) {
	db := setupTestDB(t)
	r := NewEntityResolver(db, testLogger())

	entity, err := r.Resolve("https://github.com/jdoe", "Jane Doe")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if entity.Name != "Jane Doe" {
		t.Errorf("suggested name should win over heuristic, got %q", entity.Name)
	}

	// Späterer Aufruf mit neuem Namen aktualisiert die bestehende Zeile.
	entity, err = r.Resolve("https://github.com/jdoe", "Jane D.")
	if err != nil {
		t.Fatalf("resolve refresh: %v", err)
	}
	if entity.Name != "Jane D." {
		t.Errorf("name refresh failed, got %q", entity.Name)
	}
}

func TestResolvePrefersKnownCredential(t *testing.T) {
	db := setupTestDB(t)
	r := NewEntityResolver(db, testLogger())

	cred := models.Credential{ID: "https://example.com/credentials/42", CanonicalURI: "https://example.com/credentials/42", Name: "Go Expert"}
	if err := db.Create(&cred).Error; err != nil {
		t.Fatalf("create credential: %v", err)
	}

	// Ohne den Credential-Vorrang wäre das ein DOCUMENT.
	entity, err := r.Resolve("https://example.com/credentials/42", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if entity.EntityType != models.EntityCredential {
		t.Errorf("known credential URI resolved to %q, want CREDENTIAL", entity.EntityType)
	}
	if entity.Name != "Go Expert" {
		t.Errorf("credential name not carried over, got %q", entity.Name)
	}
}

func TestResolveSyncsLinkedInNodeToPerson(t *testing.T) {
	db := setupTestDB(t)
	r := NewEntityResolver(db, testLogger())

	uri := "https://www.linkedin.com/in/jane-doe"
	node := models.Node{NodeURI: uri, Name: "", EntType: models.EntityUnknown}
	if err := db.Create(&node).Error; err != nil {
		t.Fatalf("create node: %v", err)
	}
	if _, err := r.Resolve(uri, "Jane Doe"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var synced models.Node
	if err := db.Where("node_uri = ?", uri).First(&synced).Error; err != nil {
		t.Fatalf("reload node: %v", err)
	}
	if synced.EntType != models.EntityPerson {
		t.Errorf("node type = %q, want PERSON", synced.EntType)
	}
	if synced.Name != "Jane Doe" {
		t.Errorf("node name = %q, want Jane Doe", synced.Name)
	}
}

func TestProcessClaimEntitiesSkipsSourceEqualIssuer(t *testing.T) {
	db := setupTestDB(t)
	r := NewEntityResolver(db, testLogger())

	claim := mustCreateClaim(t, db, models.Claim{
		Subject:   "https://github.com/jdoe",
		Claim:     "TRUSTS",
		Object:    "https://github.com/other",
		SourceURI: "http://localhost:9000/users/1",
		IssuerID:  "http://localhost:9000/users/1",
	})
	r.ProcessClaimEntities(&claim, "")

	if got := mustCount(t, db, &models.UriEntity{}, "1 = 1"); got != 2 {
		t.Errorf("expected subject and object entities only, got %d rows", got)
	}
	if got := mustCount(t, db, &models.UriEntity{}, "uri = ?", claim.SourceURI); got != 0 {
		t.Errorf("source equal to issuer must not be registered")
	}
}

func TestResolveBatch(t *testing.T) {
	db := setupTestDB(t)
	r := NewEntityResolver(db, testLogger())

	if _, err := r.Resolve("https://github.com/jdoe", "Jane"); err != nil {
		t.Fatalf("seed resolve: %v", err)
	}

	entities, err := r.ResolveBatch([]string{
		"https://github.com/jdoe",
		"urn:event:conference-2025",
	})
	if err != nil {
		t.Fatalf("resolve batch: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(entities))
	}
	if got := mustCount(t, db, &models.UriEntity{}, "1 = 1"); got != 2 {
		t.Errorf("batch created duplicate rows, total %d", got)
	}
}
