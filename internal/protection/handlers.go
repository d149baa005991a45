package protection

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Khongirad/INOMAD-sub003/internal/alerts"
	"github.com/Khongirad/INOMAD-sub003/internal/indexer"
	"github.com/Khongirad/INOMAD-sub003/internal/risk"
	"github.com/Khongirad/INOMAD-sub003/internal/validation"
)

// Handler exposes the administrative surface over HTTP.
type Handler struct {
	orch       *Orchestrator
	dispatcher *alerts.Dispatcher
}

// NewHandler creates the protection HTTP handler.
func NewHandler(orch *Orchestrator, dispatcher *alerts.Dispatcher) *Handler {
	return &Handler{orch: orch, dispatcher: dispatcher}
}

// RegisterRoutes mounts the protection endpoints on the given group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/protection/report", h.report)
	r.GET("/protection/status/:wallet", h.status)
	r.GET("/protection/history/:wallet", h.history)
	r.POST("/protection/lock", h.lock)
	r.POST("/protection/freeze", h.freeze)
	r.POST("/protection/reset/:wallet", h.reset)
	r.GET("/protection/high-risk", h.highRisk)
	r.POST("/protection/blacklist", h.blacklist)
	r.POST("/protection/whitelist", h.whitelist)
	r.GET("/protection/stats", h.stats)
}

// ReportRequest is an externally reported suspicion event.
type ReportRequest struct {
	Wallet      string   `json:"wallet" binding:"required"`
	Patterns    []string `json:"patterns" binding:"required"`
	BlockNumber uint64   `json:"blockNumber"`
	TxHash      string   `json:"txHash"`
}

// LockRequest is an operator-initiated lock.
type LockRequest struct {
	Wallet   string `json:"wallet" binding:"required"`
	Reason   string `json:"reason" binding:"required"`
	LockedBy string `json:"lockedBy" binding:"required"`
}

// FreezeRequest asks for a judicial freeze review.
type FreezeRequest struct {
	Wallet      string `json:"wallet" binding:"required"`
	CaseHash    string `json:"caseHash" binding:"required"`
	RequestedBy string `json:"requestedBy" binding:"required"`
}

// ListRequest adds an address to the blacklist or whitelist.
type ListRequest struct {
	Wallet string `json:"wallet" binding:"required"`
}

func (h *Handler) report(c *gin.Context) {
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	meta := indexer.TxMeta{BlockNumber: req.BlockNumber, TxHash: req.TxHash}
	result := h.orch.ProcessSuspiciousActivity(c.Request.Context(), req.Wallet, req.Patterns, meta)
	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

func (h *Handler) status(c *gin.Context) {
	status := h.orch.GetWalletStatus(c.Request.Context(), c.Param("wallet"))
	c.JSON(http.StatusOK, gin.H{"success": true, "data": status})
}

func (h *Handler) history(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid limit"})
			return
		}
		limit = n
	}

	history := h.orch.History(c.Param("wallet"), limit)
	if history == nil {
		history = []indexer.TransactionRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": history})
}

func (h *Handler) lock(c *gin.Context) {
	var req LockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	reason := validation.SanitizeString(req.Reason, validation.MaxReasonLength)
	if !h.orch.ManualLock(c.Request.Context(), req.Wallet, reason, req.LockedBy) {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "Failed to lock wallet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"wallet": risk.Normalize(req.Wallet), "locked": true}})
}

func (h *Handler) freeze(c *gin.Context) {
	var req FreezeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	caseHash := validation.SanitizeString(req.CaseHash, validation.MaxReasonLength)
	ack := h.orch.RequestJudicialFreeze(req.Wallet, caseHash, req.RequestedBy)
	c.JSON(http.StatusOK, gin.H{"success": true, "data": ack})
}

func (h *Handler) reset(c *gin.Context) {
	wallet := risk.Normalize(c.Param("wallet"))
	h.orch.Scorer().ResetScore(wallet)
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"wallet": wallet, "score": 0}})
}

func (h *Handler) highRisk(c *gin.Context) {
	threshold := risk.AutoLockThreshold
	if raw := c.Query("threshold"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > risk.MaxScore {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid threshold"})
			return
		}
		threshold = n
	}

	wallets := h.orch.Scorer().HighRiskWallets(threshold)
	if wallets == nil {
		wallets = []*risk.Profile{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": wallets})
}

func (h *Handler) blacklist(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	h.orch.Scorer().AddToBlacklist(req.Wallet)
	h.dispatcher.System(alerts.LevelMedium, "address blacklisted", map[string]any{
		"wallet": risk.Normalize(req.Wallet),
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"wallet": risk.Normalize(req.Wallet)}})
}

func (h *Handler) whitelist(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	h.orch.Scorer().AddToWhitelist(req.Wallet)
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"wallet": risk.Normalize(req.Wallet)}})
}

func (h *Handler) stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{
		"trackedWallets": h.orch.Scorer().ProfileCount(),
		"alerts":         h.dispatcher.Stats(),
	}})
}
