package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"trustgraph/models"
)

// Signer ruft den externen Signatur-Dienst auf, der für serverseitig
// eingereichte Claims einen Proof-Blob erzeugt. Der Blob bleibt für den
// Kern opak; Signatur-Fehler blockieren die Claim-Erstellung nicht.
type Signer struct {
	Logger     *zap.Logger
	ServiceURL string
}

// NewSigner erstellt eine neue Instanz des Signer.
func NewSigner(serviceURL string, logger *zap.Logger) *Signer {
	return &Signer{Logger: logger, ServiceURL: serviceURL}
}

// Sign lässt den Claim vom Signatur-Dienst signieren.
func (s *Signer) Sign(claim *models.Claim, authMethod string) (datatypes.JSON, error) {
	if s.ServiceURL == "" {
		return nil, errors.New("signing service not configured")
	}

	payload, err := json.Marshal(map[string]interface{}{
		"claim":       claim,
		"auth_method": authMethod,
	})
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Post(s.ServiceURL+"/sign", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signing service returned %s", resp.Status)
	}

	proof, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(proof), nil
}
