package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"upbit-trading-bot/config"
)

// handleHealthz is a liveness probe with no dependency on bot state.
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleReport returns the bot's current performance/status report.
func (s *Server) handleReport(c *gin.Context) {
	report, err := s.botAPI.GetStatus(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to build status report: "+err.Error())
		return
	}
	successResponse(c, report)
}

// handlePositions returns every currently held position.
func (s *Server) handlePositions(c *gin.Context) {
	successResponse(c, s.botAPI.GetPositions())
}

// handleConfig returns the active strategy parameter bundle.
func (s *Server) handleConfig(c *gin.Context) {
	successResponse(c, s.botAPI.GetConfig())
}

// handleApplyConfig implements C9's reconfiguration endpoint: the posted
// bundle is validated and, only if valid, atomically replaces the running
// strategy's parameters. A rejected bundle leaves the previous parameters in
// place and is reported as a client error, not a server fault.
func (s *Server) handleApplyConfig(c *gin.Context) {
	var cfg config.StrategyConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		errorResponse(c, http.StatusBadRequest, "malformed strategy config: "+err.Error())
		return
	}
	if err := s.botAPI.ApplyConfig(cfg); err != nil {
		errorResponse(c, http.StatusBadRequest, "rejected strategy config: "+err.Error())
		return
	}
	successResponse(c, s.botAPI.GetConfig())
}
