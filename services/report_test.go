package services

import (
	"testing"

	"trustgraph/models"
)

func newTestReportService(t *testing.T) *ReportService {
	t.Helper()
	return NewReportService(setupTestDB(t), testLogger(), testBaseURL)
}

func TestSubmitValidationMapsTypes(t *testing.T) {
	s := newTestReportService(t)
	original := mustCreateClaim(t, s.DB, models.Claim{Subject: "uri:a", Claim: "TRUSTS"})

	tests := []struct {
		validationType string
		wantPredicate  string
	}{
		{"agree", models.PredicateAgreesWith},
		{"disagree", models.PredicateDisagrees},
		{"confirm", models.PredicateConfirms},
		{"refute", models.PredicateRefutes},
		{"question", models.PredicateQuestions},
		{"something-else", models.PredicateRelatesTo},
	}

	for _, tt := range tests {
		t.Run(tt.validationType, func(t *testing.T) {
			v, err := s.SubmitValidation(original.ID, tt.validationType, "", "user:2", nil, "", "")
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			if v.Claim != tt.wantPredicate {
				t.Errorf("predicate = %q, want %q", v.Claim, tt.wantPredicate)
			}
			if v.Subject != claimURIFor(testBaseURL, original.ID) {
				t.Errorf("validation subject = %q, want claim URI", v.Subject)
			}
		})
	}
}

func TestSubmitValidationDefaults(t *testing.T) {
	s := newTestReportService(t)
	original := mustCreateClaim(t, s.DB, models.Claim{Subject: "uri:a", Claim: "TRUSTS"})

	v, err := s.SubmitValidation(original.ID, "agree", "", "user:2", nil, "", "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if v.Confidence == nil || *v.Confidence != 0.8 {
		t.Errorf("confidence default = %v, want 0.8", v.Confidence)
	}
	if v.Statement == "" {
		t.Error("statement default missing")
	}
	if v.HowKnown != models.HowKnownFirstHand {
		t.Errorf("how known = %q, want FIRST_HAND", v.HowKnown)
	}
	if v.SourceURI != "user:2" {
		t.Errorf("source = %q, want issuer", v.SourceURI)
	}
}

func TestSubmitValidationWithEvidence(t *testing.T) {
	s := newTestReportService(t)
	original := mustCreateClaim(t, s.DB, models.Claim{Subject: "uri:a", Claim: "TRUSTS"})

	v, err := s.SubmitValidation(original.ID, "confirm", "saw it myself", "user:2",
		floatPtr(0.95), "https://example.com/evidence", "https://example.com")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if v.HowKnown != models.HowKnownWebDocument {
		t.Errorf("evidence should switch how known to WEB_DOCUMENT, got %q", v.HowKnown)
	}
	if v.Object != "https://example.com/evidence" {
		t.Errorf("evidence uri = %q", v.Object)
	}
	if v.SourceURI != "https://example.com" {
		t.Errorf("evidence source = %q", v.SourceURI)
	}
	if *v.Confidence != 0.95 {
		t.Errorf("confidence = %v", *v.Confidence)
	}
}

func TestSubmitValidationUnknownClaim(t *testing.T) {
	s := newTestReportService(t)
	if _, err := s.SubmitValidation(999, "agree", "", "user:2", nil, "", ""); err == nil {
		t.Error("expected error for unknown claim")
	}
}

func TestGetClaimReportValidationSummary(t *testing.T) {
	s := newTestReportService(t)
	original := mustCreateClaim(t, s.DB, models.Claim{Subject: "uri:a", Claim: "TRUSTS", IssuerID: "user:1"})

	for _, vt := range []string{"agree", "agree", "disagree", "confirm", "refute", "question"} {
		if _, err := s.SubmitValidation(original.ID, vt, "", "user:2", nil, "", ""); err != nil {
			t.Fatalf("submit %s: %v", vt, err)
		}
	}

	report, err := s.GetClaimReport(original.ID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	sum := report.ValidationSummary
	if sum.Total != 6 {
		t.Errorf("total = %d, want 6", sum.Total)
	}
	if sum.Agrees != 2 || sum.Disagrees != 1 || sum.Confirms != 1 || sum.Refutes != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if report.ReportURI != claimURIFor(testBaseURL, original.ID) {
		t.Errorf("report uri = %q", report.ReportURI)
	}
}

func TestGetClaimReportRelatedAndIssuer(t *testing.T) {
	s := newTestReportService(t)
	original := mustCreateClaim(t, s.DB, models.Claim{Subject: "uri:a", Claim: "TRUSTS", IssuerID: "user:1"})

	// 12 verwandte Claims zum selben Subjekt, Cap bei 10.
	for i := 0; i < 12; i++ {
		mustCreateClaim(t, s.DB, models.Claim{Subject: "uri:a", Claim: "ENDORSES", IssuerID: "user:other"})
	}
	// 7 weitere Claims desselben Ausstellers, Cap bei 5.
	for i := 0; i < 7; i++ {
		mustCreateClaim(t, s.DB, models.Claim{Subject: "uri:x", Claim: "TRUSTS", IssuerID: "user:1"})
	}

	report, err := s.GetClaimReport(original.ID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(report.RelatedClaims) != 10 {
		t.Errorf("related = %d, want 10", len(report.RelatedClaims))
	}
	if len(report.IssuerReputation.RecentClaims) != 5 {
		t.Errorf("issuer recent = %d, want 5", len(report.IssuerReputation.RecentClaims))
	}
}

func TestGetClaimReportNamesFromEntities(t *testing.T) {
	s := newTestReportService(t)

	entity := models.UriEntity{URI: "uri:a", EntityType: models.EntityPerson, Name: "Jane Doe"}
	if err := s.DB.Create(&entity).Error; err != nil {
		t.Fatalf("create entity: %v", err)
	}
	claim := mustCreateClaim(t, s.DB, models.Claim{
		Subject: "uri:a",
		Claim:   "TRUSTS",
		Object:  "https://www.linkedin.com/in/unknown-person",
	})

	report, err := s.GetClaimReport(claim.ID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Claim.SubjectRef.Name != "Jane Doe" {
		t.Errorf("subject name = %q", report.Claim.SubjectRef.Name)
	}
	// Kein Entity, kein Node: Name fällt auf "(Unnamed)"-Ersatz nur beim
	// Subjekt; das Objekt behält die URI, bekommt aber den inferierten Typ.
	if report.Claim.ObjectRef == nil {
		t.Fatal("object ref missing")
	}
	if report.Claim.ObjectRef.Type != models.EntityPerson {
		t.Errorf("linkedin /in/ object should infer PERSON, got %q", report.Claim.ObjectRef.Type)
	}
}

func TestGetClaimReportUnnamedSubject(t *testing.T) {
	s := newTestReportService(t)
	claim := mustCreateClaim(t, s.DB, models.Claim{Subject: "uri:anon", Claim: "TRUSTS"})

	report, err := s.GetClaimReport(claim.ID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Claim.SubjectRef.Name != "(Unnamed)" {
		t.Errorf("unnamed subject = %q, want (Unnamed)", report.Claim.SubjectRef.Name)
	}
}

func TestGetEntityReportMetrics(t *testing.T) {
	s := newTestReportService(t)
	uri := "https://github.com/jdoe"

	entity := models.UriEntity{URI: uri, EntityType: models.EntityPerson, Name: "Jane"}
	if err := s.DB.Create(&entity).Error; err != nil {
		t.Fatalf("create entity: %v", err)
	}

	// Als Subjekt: positiv über Prädikat, positiv über Sterne, negativ
	// über Score, neutral.
	mustCreateClaim(t, s.DB, models.Claim{Subject: uri, Claim: "ENDORSES"})
	mustCreateClaim(t, s.DB, models.Claim{Subject: uri, Claim: "rated", Stars: intPtr(5)})
	mustCreateClaim(t, s.DB, models.Claim{Subject: uri, Claim: "rated", Score: floatPtr(0.2)})
	mustCreateClaim(t, s.DB, models.Claim{Subject: uri, Claim: "mentions"})

	// Als Objekt: eine Referenz.
	mustCreateClaim(t, s.DB, models.Claim{Subject: "uri:x", Claim: "REFERS_TO", Object: uri})
	// Als Quelle: zwei Claims mit Confidence 1.0 und 0.5.
	mustCreateClaim(t, s.DB, models.Claim{Subject: "uri:y", Claim: "TRUSTS", SourceURI: uri, IssuerID: "user:1", Confidence: floatPtr(1.0)})
	mustCreateClaim(t, s.DB, models.Claim{Subject: "uri:z", Claim: "TRUSTS", SourceURI: uri, IssuerID: "user:1", Confidence: floatPtr(0.5)})

	report, err := s.GetEntityReport(uri)
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	if report.Entity.Name != "Jane" {
		t.Errorf("entity = %+v", report.Entity)
	}
	if report.Metrics.AsSubject.Total != 4 {
		t.Errorf("as subject total = %d", report.Metrics.AsSubject.Total)
	}
	if report.Metrics.AsSubject.Positive != 2 {
		t.Errorf("positive = %d, want 2", report.Metrics.AsSubject.Positive)
	}
	if report.Metrics.AsSubject.Negative != 1 {
		t.Errorf("negative = %d, want 1", report.Metrics.AsSubject.Negative)
	}
	if report.Metrics.AsObject.References != 1 {
		t.Errorf("references = %d", report.Metrics.AsObject.References)
	}
	if report.Metrics.AsSource.Total != 2 {
		t.Errorf("as source total = %d", report.Metrics.AsSource.Total)
	}
	if report.Metrics.AsSource.AvgConfidence != 0.75 {
		t.Errorf("avg confidence = %f, want 0.75", report.Metrics.AsSource.AvgConfidence)
	}
	if report.TotalClaims != 7 {
		t.Errorf("total claims = %d, want 7", report.TotalClaims)
	}
}

func TestGetEntityReportUnknownURI(t *testing.T) {
	s := newTestReportService(t)

	report, err := s.GetEntityReport("uri:never-seen")
	if err != nil {
		t.Fatalf("unknown URI must not error: %v", err)
	}
	if report.Entity.EntityType != models.EntityUnknown {
		t.Errorf("stub type = %q, want UNKNOWN", report.Entity.EntityType)
	}
	if report.TotalClaims != 0 {
		t.Errorf("total = %d", report.TotalClaims)
	}
}
