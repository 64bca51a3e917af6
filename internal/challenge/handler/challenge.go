// Package handler exposes the bot over HTTP: the mention ingress used by the
// relay bridge, a dry-run parser, challenge queries and admin operations.
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fitbounty/fitbounty/internal/challenge/model"
	"github.com/fitbounty/fitbounty/internal/challenge/repository"
	"github.com/fitbounty/fitbounty/internal/challenge/service"
	"github.com/fitbounty/fitbounty/internal/identity"
)

// challengeSvc is the interface expected by ChallengeHandler, satisfied by
// *service.Manager.
type challengeSvc interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Challenge, error)
	List(ctx context.Context, f repository.ListFilter) ([]*model.Challenge, error)
	NeedingCheck(ctx context.Context) ([]*model.Challenge, error)
	LatestByOwner(ctx context.Context, owner string) (*model.Challenge, error)
	Leaderboard(ctx context.Context, limit int) (*service.Leaderboard, error)
	Activate(ctx context.Context, id uuid.UUID, confirmationID, actor string) (*model.Challenge, error)
	RecordProgress(ctx context.Context, id uuid.UUID, day int, completed bool, proofRef, actor string) (*model.Challenge, error)
	Finish(ctx context.Context, id uuid.UUID, outcome model.Status, payoutInvoice, actor string) (*model.Challenge, error)
	Payout(ctx context.Context, id uuid.UUID, invoice, actor string) (*model.Challenge, error)
	Delete(ctx context.Context, id uuid.UUID, actor string) error
}

// ChallengeHandler serves challenge queries and admin operations.
type ChallengeHandler struct {
	svc    challengeSvc
	tokens *identity.AdminTokenIssuer // nil = admin routes disabled
	logger *zap.Logger
}

// NewChallengeHandler creates a ChallengeHandler. tokens may be nil to
// leave the admin routes unmounted.
func NewChallengeHandler(svc challengeSvc, tokens *identity.AdminTokenIssuer, logger *zap.Logger) *ChallengeHandler {
	return &ChallengeHandler{svc: svc, tokens: tokens, logger: logger}
}

// Register mounts the challenge routes on the given router group.
func (h *ChallengeHandler) Register(rg *gin.RouterGroup) {
	ch := rg.Group("/challenges")
	{
		ch.GET("", h.List)
		ch.GET("/needing-check", h.NeedingCheck)
		ch.GET("/:id", h.Get)
	}
	rg.GET("/users/:identity/challenge", h.LatestByOwner)
	rg.GET("/leaderboard", h.Leaderboard)

	if h.tokens == nil {
		return
	}
	admin := rg.Group("/challenges", identity.RequireAdmin(h.tokens))
	{
		admin.POST("/:id/activate", h.Activate)
		admin.POST("/:id/progress", h.RecordProgress)
		admin.POST("/:id/finish", h.Finish)
		admin.POST("/:id/payout", h.Payout)
		admin.DELETE("/:id", h.Delete)
	}
}

// ─── Request types ───────────────────────────────────────────────────────────

type activateRequest struct {
	ConfirmationID string `json:"confirmation_id"`
}

type progressRequest struct {
	Day       int    `json:"day"       binding:"required,min=1"`
	Completed bool   `json:"completed"`
	ProofRef  string `json:"proof_ref"`
}

type finishRequest struct {
	Outcome       string `json:"outcome"        binding:"required,oneof=completed failed"`
	PayoutInvoice string `json:"payout_invoice"`
}

type payoutRequest struct {
	Invoice string `json:"invoice" binding:"required"`
}

// ─── Queries ─────────────────────────────────────────────────────────────────

// Get handles GET /challenges/:id.
func (h *ChallengeHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ch, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// List handles GET /challenges?status=&kind=&owner=&limit=&offset=.
func (h *ChallengeHandler) List(c *gin.Context) {
	f := repository.ListFilter{
		Kind:  model.Kind(c.Query("kind")),
		Owner: c.Query("owner"),
	}
	if s := c.Query("status"); s != "" {
		st, err := model.ParseStatus(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.Status = st
	}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	list, err := h.svc.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if list == nil {
		list = []*model.Challenge{}
	}
	c.JSON(http.StatusOK, gin.H{"challenges": list, "count": len(list)})
}

// NeedingCheck handles GET /challenges/needing-check.
func (h *ChallengeHandler) NeedingCheck(c *gin.Context) {
	list, err := h.svc.NeedingCheck(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if list == nil {
		list = []*model.Challenge{}
	}
	c.JSON(http.StatusOK, gin.H{"challenges": list, "count": len(list)})
}

// LatestByOwner handles GET /users/:identity/challenge.
func (h *ChallengeHandler) LatestByOwner(c *gin.Context) {
	owner := c.Param("identity")
	if identity.IsProfileToken(owner) {
		key, err := identity.DecodeProfileKey(owner)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		owner = key
	}
	ch, err := h.svc.LatestByOwner(c.Request.Context(), owner)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// Leaderboard handles GET /leaderboard?limit=.
func (h *ChallengeHandler) Leaderboard(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	lb, err := h.svc.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, lb)
}

// ─── Admin operations ────────────────────────────────────────────────────────

// Activate handles POST /challenges/:id/activate.
func (h *ChallengeHandler) Activate(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req activateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.ConfirmationID == "" {
		req.ConfirmationID = "manual"
	}
	ch, err := h.svc.Activate(c.Request.Context(), id, req.ConfirmationID, adminActor(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// RecordProgress handles POST /challenges/:id/progress.
func (h *ChallengeHandler) RecordProgress(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req progressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ch, err := h.svc.RecordProgress(c.Request.Context(), id, req.Day, req.Completed, req.ProofRef, adminActor(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// Finish handles POST /challenges/:id/finish.
func (h *ChallengeHandler) Finish(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req finishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ch, err := h.svc.Finish(c.Request.Context(), id, model.Status(req.Outcome), req.PayoutInvoice, adminActor(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// Payout handles POST /challenges/:id/payout, retrying a failed payout.
func (h *ChallengeHandler) Payout(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req payoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ch, err := h.svc.Payout(c.Request.Context(), id, req.Invoice, adminActor(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// Delete handles DELETE /challenges/:id.
func (h *ChallengeHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id, adminActor(c)); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid challenge id"})
		return uuid.Nil, false
	}
	return id, true
}

func adminActor(c *gin.Context) string {
	if claims := identity.AdminClaimsFromCtx(c); claims != nil && claims.Subject != "" {
		return claims.Subject
	}
	return "admin"
}
