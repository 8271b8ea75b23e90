package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// PipelineTrigger benachrichtigt den nachgelagerten Index-/Pipeline-Dienst
// über neue Claims. Fire-and-forget: Fehler werden geloggt und verworfen,
// die auslösende Anfrage scheitert nie an der Pipeline.
type PipelineTrigger struct {
	Logger     *zap.Logger
	ServiceURL string
}

// NewPipelineTrigger erstellt eine neue Instanz des PipelineTrigger.
func NewPipelineTrigger(serviceURL string, logger *zap.Logger) *PipelineTrigger {
	return &PipelineTrigger{Logger: logger, ServiceURL: serviceURL}
}

// ProcessClaim stößt die Pipeline-Verarbeitung für einen Claim an.
func (p *PipelineTrigger) ProcessClaim(claimID uint) {
	body, _ := json.Marshal(map[string]uint{"claim_id": claimID})
	url := fmt.Sprintf("%s/process-claim", p.ServiceURL)

	resp, err := httpClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		p.Logger.Warn("Pipeline trigger failed", zap.Uint("claim_id", claimID), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.Logger.Warn("Pipeline trigger returned non-OK status",
			zap.Uint("claim_id", claimID), zap.String("status", resp.Status))
		return
	}
	p.Logger.Debug("Pipeline triggered", zap.Uint("claim_id", claimID))
}
