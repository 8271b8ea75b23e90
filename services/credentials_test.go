package services

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"trustgraph/models"
)

func newTestCredentialService(t *testing.T) *CredentialService {
	t.Helper()
	return NewCredentialService(setupTestDB(t), testLogger(), nil, nil)
}

const sampleCredential = `{
	"@context": ["https://www.w3.org/2018/credentials/v1"],
	"id": "https://issuer.example.com/credentials/42",
	"type": ["VerifiableCredential", "OpenBadgeCredential"],
	"issuer": {"id": "https://issuer.example.com"},
	"issuanceDate": "2025-06-01T12:00:00Z",
	"credentialSubject": {
		"id": "did:person:alice",
		"achievement": {
			"id": "urn:achievement:golang",
			"name": "Go Expert",
			"description": "Completed the advanced Go curriculum"
		},
		"skills": ["Go", "SQL"]
	}
}`

func TestSubmitCredential(t *testing.T) {
	s := newTestCredentialService(t)

	result, err := s.Submit(json.RawMessage(sampleCredential), "http://localhost:9000/users/1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if result.URI != "https://issuer.example.com/credentials/42" {
		t.Errorf("canonical uri = %q, want the credential id", result.URI)
	}
	if result.Credential.Name != "Go Expert" {
		t.Errorf("name = %q, want achievement name", result.Credential.Name)
	}
	if result.Credential.CredentialSchema != "OpenBadges" {
		t.Errorf("schema = %q, want OpenBadges", result.Credential.CredentialSchema)
	}
	if result.Credential.IssuanceDate == nil {
		t.Error("issuance date not parsed")
	}

	// HAS-Claim: Subjekt aus credentialSubject.id, Quelle vom Issuer.
	claim := result.Claim
	if claim.Subject != "did:person:alice" {
		t.Errorf("claim subject = %q", claim.Subject)
	}
	if claim.Claim != models.PredicateHas {
		t.Errorf("claim predicate = %q", claim.Claim)
	}
	if claim.Object != result.URI {
		t.Errorf("claim object = %q", claim.Object)
	}
	if claim.Statement != "Has credential: Go Expert" {
		t.Errorf("claim statement = %q", claim.Statement)
	}
	if claim.HowKnown != models.HowKnownVerifiedLogin {
		t.Errorf("how known = %q", claim.HowKnown)
	}
	if claim.SourceURI != "https://issuer.example.com" {
		t.Errorf("claim source = %q, want issuer id", claim.SourceURI)
	}

	// UriEntity-Registrierung.
	var entity models.UriEntity
	if err := s.DB.Where("uri = ?", result.URI).First(&entity).Error; err != nil {
		t.Fatalf("entity not registered: %v", err)
	}
	if entity.EntityType != models.EntityCredential {
		t.Errorf("entity type = %q", entity.EntityType)
	}
}

func TestSubmitCredentialConflict(t *testing.T) {
	s := newTestCredentialService(t)

	if _, err := s.Submit(json.RawMessage(sampleCredential), "user:1"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := s.Submit(json.RawMessage(sampleCredential), "user:1")
	if !errors.Is(err, ErrCredentialExists) {
		t.Errorf("expected ErrCredentialExists, got %v", err)
	}
}

func TestSubmitCredentialWithoutIDUsesHash(t *testing.T) {
	s := newTestCredentialService(t)

	doc := `{
		"@context": ["https://www.w3.org/2018/credentials/v1"],
		"type": ["VerifiableCredential"],
		"issuer": "https://issuer.example.com",
		"issuanceDate": "2025-06-01T12:00:00Z",
		"credentialSubject": {"name": "Jane Doe"}
	}`

	result, err := s.Submit(json.RawMessage(doc), "user:1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.HasPrefix(result.URI, "urn:credential:") {
		t.Errorf("hash uri = %q", result.URI)
	}
	// 64 Hex-Zeichen SHA-256.
	if len(strings.TrimPrefix(result.URI, "urn:credential:")) != 64 {
		t.Errorf("expected sha256 hex suffix, got %q", result.URI)
	}

	// Dasselbe Dokument hasht auf dieselbe URI und kollidiert.
	if _, err := s.Submit(json.RawMessage(doc), "user:1"); !errors.Is(err, ErrCredentialExists) {
		t.Errorf("identical document should conflict, got %v", err)
	}
}

func TestSubmitCredentialInvalidJSON(t *testing.T) {
	s := newTestCredentialService(t)
	var vErr *ValidationError
	if _, err := s.Submit(json.RawMessage(`{broken`), "user:1"); !errors.As(err, &vErr) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestSubmitCredentialSubjectFallsBackToUser(t *testing.T) {
	s := newTestCredentialService(t)

	doc := `{
		"type": ["VerifiableCredential"],
		"credentialSubject": {"name": "Jane"}
	}`
	result, err := s.Submit(json.RawMessage(doc), "http://localhost:9000/users/1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Claim.Subject != "http://localhost:9000/users/1" {
		t.Errorf("subject fallback = %q", result.Claim.Subject)
	}
}

func TestExtractClaims(t *testing.T) {
	s := newTestCredentialService(t)

	claims, err := s.ExtractClaims(json.RawMessage(sampleCredential), "user:1")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	// Ein ACHIEVED plus zwei HAS_SKILL.
	if len(claims) != 3 {
		t.Fatalf("extracted = %d claims, want 3", len(claims))
	}

	var achieved, skills int
	for _, c := range claims {
		switch c.Claim {
		case models.PredicateAchieved:
			achieved++
			if c.Object != "urn:achievement:golang" {
				t.Errorf("achievement object = %q", c.Object)
			}
			if c.Statement != "Completed the advanced Go curriculum" {
				t.Errorf("achievement statement = %q", c.Statement)
			}
		case models.PredicateHasSkill:
			skills++
			if c.Object != "Go" && c.Object != "SQL" {
				t.Errorf("skill object = %q", c.Object)
			}
		}
		if c.Subject != "did:person:alice" {
			t.Errorf("claim subject = %q", c.Subject)
		}
		if c.HowKnown != models.HowKnownWebDocument {
			t.Errorf("how known = %q", c.HowKnown)
		}
		if c.SourceURI != "https://issuer.example.com/credentials/42" {
			t.Errorf("source = %q", c.SourceURI)
		}
	}
	if achieved != 1 || skills != 2 {
		t.Errorf("achieved/skills = %d/%d", achieved, skills)
	}
}

func TestExtractClaimsNothingToExtract(t *testing.T) {
	s := newTestCredentialService(t)

	doc := `{"type": ["VerifiableCredential"], "credentialSubject": {"id": "did:person:alice"}}`
	claims, err := s.ExtractClaims(json.RawMessage(doc), "user:1")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(claims) != 0 {
		t.Errorf("expected no claims, got %d", len(claims))
	}
}

func TestGetCredentialWithRelatedClaims(t *testing.T) {
	s := newTestCredentialService(t)

	result, err := s.Submit(json.RawMessage(sampleCredential), "user:1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := s.ExtractClaims(json.RawMessage(sampleCredential), "user:1"); err != nil {
		t.Fatalf("extract: %v", err)
	}

	got, err := s.Get(result.URI)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Credential.Name != "Go Expert" {
		t.Errorf("credential = %+v", got.Credential)
	}
	// HAS-Claim (object) plus drei extrahierte Claims (source_uri).
	if len(got.RelatedClaims) != 4 {
		t.Errorf("related = %d, want 4", len(got.RelatedClaims))
	}
}

func TestGetCredentialNotFound(t *testing.T) {
	s := newTestCredentialService(t)
	if _, err := s.Get("urn:credential:missing"); err == nil {
		t.Error("expected error for unknown credential")
	}
}

func TestDetectCredentialSchema(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"openbadges context", `{"@context": ["https://purl.imsglobal.org/spec/ob/v3p0/context.json", "openbadges"], "type": ["VerifiableCredential"]}`, "OpenBadges"},
		{"blockcerts context", `{"@context": ["https://www.blockcerts.org/schema/3.0/context.json"], "type": ["VerifiableCredential"]}`, "Blockcerts"},
		{"openbadge type", `{"@context": ["https://www.w3.org/2018/credentials/v1"], "type": ["VerifiableCredential", "OpenBadgeCredential"]}`, "OpenBadges"},
		{"plain vc", `{"@context": ["https://www.w3.org/2018/credentials/v1"], "type": ["VerifiableCredential"]}`, "VerifiableCredential"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc credentialDoc
			if err := json.Unmarshal([]byte(tt.doc), &doc); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := detectCredentialSchema(&doc, doc.Context); got != tt.want {
				t.Errorf("schema = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractCredentialName(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"top-level name", `{"name": "Cert A", "credentialSubject": {"name": "Subject"}}`, "Cert A"},
		{"subject name", `{"credentialSubject": {"name": "Jane's Badge"}}`, "Jane's Badge"},
		{"achievement name", `{"credentialSubject": {"achievement": {"name": "Go Expert"}}}`, "Go Expert"},
		{"badge name", `{"badge": {"name": "Gold Star"}}`, "Gold Star"},
		{"type fallback", `{"type": ["VerifiableCredential", "MembershipCredential"]}`, "MembershipCredential"},
		{"empty", `{}`, "Credential"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc credentialDoc
			if err := json.Unmarshal([]byte(tt.doc), &doc); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := extractCredentialName(&doc); got != tt.want {
				t.Errorf("name = %q, want %q", got, tt.want)
			}
		})
	}
}
