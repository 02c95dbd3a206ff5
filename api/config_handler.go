package api

import (
	"net/http"

	"github.com/seenimoa/cvmratios/internal/analysis/indicators"
	"github.com/seenimoa/cvmratios/internal/config"
)

// ConfigResponse is the running configuration without credentials.
type ConfigResponse struct {
	Rules  indicators.Rules     `json:"rules"`
	Engine config.EngineConfig  `json:"engine"`
	Input  config.InputConfig   `json:"input"`
	API    config.APIConfig     `json:"api"`
	Log    config.LoggingConfig `json:"logging"`
}

// handleGetConfig returns the running configuration. The database URL is
// left out; /config/secrets reports it masked.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: ConfigResponse{
			Rules:  s.cfg.IndicatorRules(),
			Engine: s.cfg.Engine,
			Input:  s.cfg.Input,
			API:    s.cfg.API,
			Log:    s.cfg.Logging,
		},
	})
}

// handleGetSecrets returns the status of every credential-bearing setting.
func (s *Server) handleGetSecrets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    config.CheckSecrets(s.cfg),
	})
}
