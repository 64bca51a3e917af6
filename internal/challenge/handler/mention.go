package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fitbounty/fitbounty/internal/challenge/service"
	"github.com/fitbounty/fitbounty/internal/command"
	"github.com/fitbounty/fitbounty/internal/transport"
)

const maxMentionBody = 64 << 10

// mentionBot handles one inbound mention. *bot.Bot satisfies this interface.
type mentionBot interface {
	HandleMention(ctx context.Context, m transport.Mention) *service.Response
}

// MentionHandler is the ingress for mentions forwarded by the relay bridge,
// plus a dry-run parse endpoint.
type MentionHandler struct {
	bot      mentionBot
	resolver *command.Resolver
	secret   string // empty = unsigned requests accepted
	senders  *Limiter
	logger   *zap.Logger
}

// NewMentionHandler creates a MentionHandler. When secret is set, mention
// requests must carry a valid X-FitBounty-Signature header.
func NewMentionHandler(bot mentionBot, resolver *command.Resolver, secret string, logger *zap.Logger) *MentionHandler {
	return &MentionHandler{bot: bot, resolver: resolver, secret: secret, logger: logger}
}

// SetSenderLimiter throttles mentions per sender. Mentions over the limit
// are acknowledged but never reach the bot.
func (h *MentionHandler) SetSenderLimiter(l *Limiter) {
	h.senders = l
}

// Register mounts the mention routes on the given router group.
func (h *MentionHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/mentions", h.Mention)
	rg.POST("/parse", h.Parse)
}

type parseRequest struct {
	Text string     `json:"text" binding:"required"`
	Tags [][]string `json:"tags"`
}

// Mention handles POST /mentions.
func (h *MentionHandler) Mention(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxMentionBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	if h.secret != "" && !transport.VerifySignature(body, h.secret, c.GetHeader(transport.SignatureHeader)) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var m transport.Mention
	if err := json.Unmarshal(body, &m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mention JSON: " + err.Error()})
		return
	}
	if m.ID == "" || m.Sender == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id and sender are required"})
		return
	}

	if h.senders != nil && !h.senders.Allow(m.Sender) {
		h.logger.Warn("mention dropped: sender rate limited",
			zap.String("sender", m.Sender),
			zap.String("mention_id", m.ID),
		)
		c.JSON(http.StatusAccepted, gin.H{"ignored": true, "reason": "sender rate limited"})
		return
	}

	resp := h.bot.HandleMention(c.Request.Context(), m)
	if resp == nil {
		c.JSON(http.StatusAccepted, gin.H{"ignored": true})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Parse handles POST /parse. It resolves text without executing anything.
func (h *MentionHandler) Parse(c *gin.Context) {
	var req parseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd := h.resolver.Resolve(req.Text, req.Tags)
	if cmd == nil {
		c.JSON(http.StatusOK, gin.H{"ignored": true, "reason": "bot not mentioned"})
		return
	}
	c.JSON(http.StatusOK, cmd)
}
