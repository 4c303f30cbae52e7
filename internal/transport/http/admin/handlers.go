package adminhttp

import (
	"errors"
	"net/http"
	"strconv"

	"copytrade/internal/engine"
	"copytrade/internal/store"

	"github.com/gin-gonic/gin"
)

type handlers struct {
	engine *engine.Engine
	ledger store.Ledger
}

func (h *handlers) startEngine(c *gin.Context) {
	if err := h.engine.Start(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.engine.Status(c.Request.Context()))
}

func (h *handlers) stopEngine(c *gin.Context) {
	h.engine.Stop()
	c.JSON(http.StatusOK, h.engine.Status(c.Request.Context()))
}

func (h *handlers) engineStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Status(c.Request.Context()))
}

type accountView struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	IsMaster       bool    `json:"is_master"`
	IsActive       bool    `json:"is_active"`
	Leverage       int     `json:"leverage"`
	RiskPercentage float64 `json:"risk_percentage"`
	Balance        float64 `json:"balance"`
}

func toAccountView(a store.Account) accountView {
	return accountView{
		ID:             a.ID,
		Name:           a.Name,
		IsMaster:       a.IsMaster,
		IsActive:       a.IsActive,
		Leverage:       a.Leverage,
		RiskPercentage: a.RiskPercentage,
		Balance:        a.Balance,
	}
}

func (h *handlers) listAccounts(c *gin.Context) {
	accounts, err := h.ledger.ListAccounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, toAccountView(a))
	}
	c.JSON(http.StatusOK, gin.H{"accounts": views})
}

type registerAccountRequest struct {
	Name           string  `json:"name" binding:"required"`
	APIKey         string  `json:"api_key" binding:"required"`
	SecretKey      string  `json:"secret_key" binding:"required"`
	IsMaster       bool    `json:"is_master"`
	IsActive       *bool   `json:"is_active"`
	Leverage       int     `json:"leverage"`
	RiskPercentage float64 `json:"risk_percentage"`
}

func (h *handlers) registerAccount(c *gin.Context) {
	var req registerAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account := &store.Account{
		Name:           req.Name,
		APIKey:         req.APIKey,
		SecretKey:      req.SecretKey,
		IsMaster:       req.IsMaster,
		IsActive:       true,
		Leverage:       req.Leverage,
		RiskPercentage: req.RiskPercentage,
	}
	if req.IsActive != nil {
		account.IsActive = *req.IsActive
	}
	if account.Leverage <= 0 {
		account.Leverage = 10
	}
	if account.RiskPercentage <= 0 {
		account.RiskPercentage = 10
	}
	if err := h.engine.RegisterAccount(c.Request.Context(), account); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, toAccountView(*account))
}

func (h *handlers) deregisterAccount(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}
	account, err := h.ledger.GetAccount(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	account.IsActive = false
	if err := h.engine.RegisterAccount(c.Request.Context(), account); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.engine.DeregisterAccount(id)
	c.JSON(http.StatusOK, toAccountView(*account))
}

type linkView struct {
	ID                int64   `json:"id"`
	MasterAccountID   int64   `json:"master_account_id"`
	FollowerAccountID int64   `json:"follower_account_id"`
	IsActive          bool    `json:"is_active"`
	CopyPercentage    float64 `json:"copy_percentage"`
	RiskMultiplier    float64 `json:"risk_multiplier"`
	MaxRiskPercentage float64 `json:"max_risk_percentage"`
}

func (h *handlers) listLinks(c *gin.Context) {
	links, err := h.ledger.ListLinks(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]linkView, 0, len(links))
	for _, l := range links {
		views = append(views, linkView{
			ID:                l.ID,
			MasterAccountID:   l.MasterAccountID,
			FollowerAccountID: l.FollowerAccountID,
			IsActive:          l.IsActive,
			CopyPercentage:    l.CopyPercentage,
			RiskMultiplier:    l.RiskMultiplier,
			MaxRiskPercentage: l.MaxRiskPercentage,
		})
	}
	c.JSON(http.StatusOK, gin.H{"links": views})
}

func (h *handlers) listTrades(c *gin.Context) {
	accountID, err := queryInt64(c, "account_id", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account_id"})
		return
	}
	limit, err := queryInt(c, "limit", 100)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	trades, err := h.ledger.ListTrades(c.Request.Context(), accountID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (h *handlers) listSystemLogs(c *gin.Context) {
	limit, err := queryInt(c, "limit", 200)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	logs, err := h.ledger.ListSystemLogs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func queryInt64(c *gin.Context, key string, def int64) (int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
