package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/wallet-investigator/internal/investigation"
	"github.com/rawblock/wallet-investigator/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Investigation API Handlers
// ════════════════════════════════════════════════════════════════════

const maxListLimit = 500

type investigateRequest struct {
	Address string `json:"address" binding:"required"`
	Chain   string `json:"chain"`
}

// statusFor maps the failure taxonomy onto HTTP status codes. A timeout
// also wraps the error of the step it interrupted, so it is checked first.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvestigationTimedOut):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrUnrecognizedAddressFormat),
		errors.Is(err, models.ErrInvalidAddressForChain):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnsupportedChain):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, models.ErrProviderUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the structured failure returned for a failed investigation
func errorBody(id string, err error) gin.H {
	body := gin.H{"error": err.Error()}
	if id != "" {
		body["investigationId"] = id
	}
	var stepErr *investigation.StepError
	if errors.As(err, &stepErr) {
		body["step"] = string(stepErr.Step)
		body["error"] = stepErr.Err.Error()
	}
	return body
}

// POST /api/v1/detect
// Classifies an address without fetching anything.
func (h *APIHandler) handleDetect(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	det, err := h.engine.Detect(req.Address)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, det)
}

// POST /api/v1/investigations
// Runs an investigation to completion and returns the record.
func (h *APIHandler) handleCreateInvestigation(c *gin.Context) {
	var req investigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	run := h.engine.Stream(c.Request.Context(), investigation.Request{
		Address: req.Address,
		Chain:   models.ChainName(req.Chain),
	})
	rec, err := run.Wait()
	if err != nil {
		status := statusFor(err)
		ev := h.log.Info()
		if status >= http.StatusInternalServerError {
			ev = h.log.Warn()
		}
		ev.Err(err).Str("investigation", run.ID).Int("status", status).Msg("Investigation failed")
		c.JSON(status, errorBody(run.ID, err))
		return
	}

	c.JSON(http.StatusCreated, rec)
}

// GET /api/v1/investigations?status=&limit=
// Lists retained cases newest first. Records are omitted; fetch a single
// case for its record.
func (h *APIHandler) handleListInvestigations(c *gin.Context) {
	status := strings.ToLower(c.Query("status"))
	limit := maxListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxListLimit)
	}

	out := []investigation.Case{}
	for _, cs := range h.engine.Cases().List() {
		if status != "" && cs.Status != status {
			continue
		}
		cs.Record = nil
		out = append(out, cs)
		if len(out) == limit {
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{"investigations": out, "count": len(out)})
}

// GET /api/v1/investigations/:id
func (h *APIHandler) handleGetInvestigation(c *gin.Context) {
	cs, ok := h.engine.Cases().Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Investigation not found"})
		return
	}
	c.JSON(http.StatusOK, cs)
}

// GET /api/v1/wallets/:address/records?chain=
// Returns persisted records for an address, newest first.
func (h *APIHandler) handleWalletRecords(c *gin.Context) {
	sink := h.engine.Sink()
	if sink == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No storage sink configured"})
		return
	}

	address := strings.TrimSpace(c.Param("address"))
	chain := models.ChainName(strings.ToLower(c.Query("chain")))
	if chain != "" && !h.registry.Has(chain) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": models.ErrUnsupportedChain.Error() + ": " + string(chain)})
		return
	}

	records, err := sink.Query(c.Request.Context(), address, chain)
	if err != nil {
		h.log.Error().Err(err).Str("address", address).Msg("Record query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query records"})
		return
	}
	if records == nil {
		records = []models.InvestigationRecord{}
	}
	c.JSON(http.StatusOK, gin.H{
		"address": address,
		"chain":   chain,
		"records": records,
		"count":   len(records),
	})
}
