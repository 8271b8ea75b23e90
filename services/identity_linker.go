package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"trustgraph/models"
)

const slugAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// IdentityLinker verknüpft verifizierte Plattform-Accounts mit der
// kanonischen Profil-URI eines Nutzers. Die gesamte Sequenz läuft in
// einer Transaktion, damit zwei parallele Links desselben Nutzers nicht
// zwei Primärprofile anlegen.
type IdentityLinker struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewIdentityLinker erstellt eine neue Instanz des IdentityLinker.
func NewIdentityLinker(db *gorm.DB, logger *zap.Logger) *IdentityLinker {
	return &IdentityLinker{DB: db, Logger: logger}
}

// LinkResult ist das Ergebnis eines Plattform-Links.
type LinkResult struct {
	PlatformURI string `json:"platform_uri"`
	ProfileURL  string `json:"profile_url"`
	ProfileSlug string `json:"profile_slug"`
}

// LinkPlatformAccount verankert einen verifizierten Plattform-Account am
// Primärprofil des Nutzers. Das älteste HAS_PROFILE_AT bleibt das
// Primärprofil; beim ersten Link wird ein Profil-Slug generiert.
func (l *IdentityLinker) LinkPlatformAccount(userID uint, platform, username, platformURI, displayName, profileBaseURL string) (*LinkResult, error) {
	issuer := fmt.Sprintf("user:%d", userID)
	result := &LinkResult{PlatformURI: platformURI}

	err := l.DB.Transaction(func(tx *gorm.DB) error {
		var profiles []models.Claim
		if err := tx.Where("issuer_id = ? AND claim = ?", issuer, models.PredicateHasProfileAt).
			Order("created_at ASC, id ASC").
			Find(&profiles).Error; err != nil {
			return err
		}

		now := time.Now()
		confidence := 1.0

		if len(profiles) > 0 {
			primary := profiles[0]
			result.ProfileURL = primary.Object
			primarySubject := primary.Subject

			if primarySubject != platformURI {
				if err := createSameAsIfMissing(tx, platformURI, primarySubject, issuer,
					fmt.Sprintf("%s account linked to primary profile", titleCase(platform)), now); err != nil {
					return err
				}
				if err := createSameAsIfMissing(tx, primarySubject, platformURI, issuer,
					fmt.Sprintf("Primary profile linked to %s account", titleCase(platform)), now); err != nil {
					return err
				}
			}
		} else {
			profileName := displayName
			if profileName == "" {
				profileName = username
			}
			slug, err := l.generateProfileSlug(tx, profileName, userID)
			if err != nil {
				return err
			}
			result.ProfileURL = strings.TrimRight(profileBaseURL, "/") + "/profile/" + slug

			profileClaim := models.Claim{
				Subject:       platformURI,
				Claim:         models.PredicateHasProfileAt,
				Object:        result.ProfileURL,
				Statement:     "Profile URL",
				HowKnown:      models.HowKnownIntegration,
				Confidence:    &confidence,
				IssuerID:      issuer,
				IssuerIDType:  "URL",
				EffectiveDate: &now,
			}
			if err := tx.Create(&profileClaim).Error; err != nil {
				return err
			}
		}

		// HAS_ACCOUNT ist der dauerhafte Nachweis der Account-Verifikation.
		accountObject := platform + ":" + username
		var existingAccount models.Claim
		err := tx.Where("subject = ? AND claim = ? AND object = ?",
			platformURI, models.PredicateHasAccount, accountObject).
			First(&existingAccount).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			accountClaim := models.Claim{
				Subject:       platformURI,
				Claim:         models.PredicateHasAccount,
				Object:        accountObject,
				Statement:     fmt.Sprintf("Verified %s account", titleCase(platform)),
				HowKnown:      models.HowKnownVerifiedLogin,
				Confidence:    &confidence,
				SourceURI:     platformURI,
				IssuerID:      issuer,
				IssuerIDType:  "URL",
				EffectiveDate: &now,
			}
			if err := tx.Create(&accountClaim).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	parts := strings.Split(result.ProfileURL, "/")
	result.ProfileSlug = parts[len(parts)-1]
	return result, nil
}

func createSameAsIfMissing(tx *gorm.DB, subject, object, issuer, statement string, now time.Time) error {
	var existing models.Claim
	err := tx.Where("subject = ? AND claim = ? AND object = ?", subject, models.PredicateSameAs, object).
		First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	confidence := 1.0
	claim := models.Claim{
		Subject:       subject,
		Claim:         models.PredicateSameAs,
		Object:        object,
		Statement:     statement,
		HowKnown:      models.HowKnownVerifiedLogin,
		Confidence:    &confidence,
		IssuerID:      issuer,
		IssuerIDType:  "URL",
		EffectiveDate: &now,
	}
	return tx.Create(&claim).Error
}

// generateProfileSlug leitet aus dem Anzeigenamen einen URL-sicheren Slug
// ab und löst Kollisionen mit Zufalls-Suffixen auf. Nach zehn Versuchen
// greift ein Base36-Timestamp-Suffix als garantiert eindeutiger Fallback.
func (l *IdentityLinker) generateProfileSlug(tx *gorm.DB, name string, userID uint) (string, error) {
	baseSlug := slugify(name)
	if baseSlug == "" {
		return fmt.Sprintf("user-%d-%s", userID, randomSuffix()), nil
	}

	existing, err := findProfileBySlug(tx, baseSlug)
	if err != nil {
		return "", err
	}
	if existing == nil {
		return baseSlug, nil
	}

	// Gehört der Slug bereits diesem Nutzer, wird er wiederverwendet.
	if existing.IssuerID == fmt.Sprintf("user:%d", userID) {
		parts := strings.Split(existing.Object, "/")
		if last := parts[len(parts)-1]; last != "" {
			return last, nil
		}
		return baseSlug, nil
	}

	for attempts := 0; attempts < 10; attempts++ {
		candidate := baseSlug + "-" + randomSuffix()
		colliding, err := findProfileBySlug(tx, candidate)
		if err != nil {
			return "", err
		}
		if colliding == nil {
			return candidate, nil
		}
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	if len(ts) > 4 {
		ts = ts[len(ts)-4:]
	}
	return baseSlug + "-" + ts, nil
}

func findProfileBySlug(tx *gorm.DB, slug string) (*models.Claim, error) {
	var claim models.Claim
	err := tx.Where("claim = ? AND object LIKE ?", models.PredicateHasProfileAt, "%/"+slug).
		First(&claim).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

// slugify senkt den Namen auf Kleinbuchstaben und kollabiert alle
// Nicht-Alphanumerik-Läufe zu einzelnen Bindestrichen.
func slugify(name string) string {
	var b strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastHyphen = false
		} else if !lastHyphen && b.Len() > 0 {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.Trim(b.String(), "-")
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func randomSuffix() string {
	s, err := gonanoid.Generate(slugAlphabet, 4)
	if err != nil {
		ts := strconv.FormatInt(time.Now().UnixNano(), 36)
		return ts[len(ts)-4:]
	}
	return s
}
