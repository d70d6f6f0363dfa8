package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/chainguard-dev/clog"
	"github.com/gin-gonic/gin"

	"github.com/lira-edu/lira-backend/notify"
	"github.com/lira-edu/lira-backend/pairing"
	"github.com/lira-edu/lira-backend/storage"
	"github.com/lira-edu/lira-backend/users"
	"github.com/lira-edu/lira-backend/vapid"
	"github.com/lira-edu/lira-backend/webpush"
)

func (s *Server) handleVAPIDPublicKey(c *gin.Context) {
	if len(s.publicKey) == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "VAPID keys are not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"publicKey": vapid.ApplicationServerKey(s.publicKey),
	})
}

func (s *Server) handleSubscribe(c *gin.Context) {
	ctx := c.Request.Context()
	var sub webpush.Subscription
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid subscription payload"})
		return
	}

	uid := callerID(c)
	rec, err := s.subs.UpsertWeb(ctx, uid, &sub)
	if err != nil {
		if errors.Is(err, storage.ErrInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to save subscription"})
		return
	}

	count, err := s.subs.CountByUser(ctx, uid)
	if err == nil {
		clog.InfoContextf(ctx, "user %s subscribed (%s), %d active subscriptions", uid, truncate(sub.Endpoint, 50), count)
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "subscribed",
		"subscription": gin.H{
			"id":        rec.ID,
			"userId":    rec.UserID,
			"endpoint":  truncate(sub.Endpoint, 50),
			"createdAt": rec.CreatedAt,
		},
	})
}

func (s *Server) handleSubscribeMobile(c *gin.Context) {
	ctx := c.Request.Context()
	var req struct {
		PlayerID string `json:"playerId"`
		Platform string `json:"platform"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return
	}

	uid := callerID(c)
	rec, err := s.subs.UpsertMobile(ctx, uid, req.PlayerID, storage.Platform(req.Platform))
	if err != nil {
		if errors.Is(err, storage.ErrInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to save subscription"})
		return
	}

	clog.InfoContextf(ctx, "user %s registered mobile device %s (%s)", uid, req.PlayerID, rec.Mobile.Platform)
	c.JSON(http.StatusCreated, gin.H{
		"message": "subscribed",
		"subscription": gin.H{
			"id":       rec.ID,
			"userId":   rec.UserID,
			"playerId": rec.Mobile.PlayerID,
			"platform": rec.Mobile.Platform,
		},
	})
}

func (s *Server) handleUnsubscribeMobile(c *gin.Context) {
	ctx := c.Request.Context()
	var req struct {
		PlayerID string `json:"playerId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.PlayerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "playerId is required"})
		return
	}

	uid := callerID(c)
	if err := s.subs.DeleteMobile(ctx, uid, req.PlayerID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to remove subscription"})
		return
	}
	// Removing a device that was never registered is still a success.
	c.JSON(http.StatusOK, gin.H{"message": "unsubscribed"})
}

type sendRequest struct {
	UserID  string         `json:"userId"`
	UserIDs []string       `json:"userIds"`
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	Icon    string         `json:"icon"`
	Badge   string         `json:"badge"`
	Data    map[string]any `json:"data"`
}

func (r *sendRequest) payload() *notify.Payload {
	return &notify.Payload{
		Title: r.Title,
		Body:  r.Body,
		Icon:  r.Icon,
		Badge: r.Badge,
		Data:  r.Data,
	}
}

func (s *Server) handleSendToUser(c *gin.Context) {
	ctx := c.Request.Context()
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return
	}

	summary, err := s.coord.SendToUser(ctx, callerID(c), req.UserID, req.payload())
	if err != nil {
		s.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("notification sent to %d of %d devices", summary.Sent, summary.Total),
		"sent":    summary.Sent,
		"total":   summary.Total,
	})
}

func (s *Server) handleSendToMany(c *gin.Context) {
	ctx := c.Request.Context()
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return
	}

	summary, err := s.coord.SendToMany(ctx, callerID(c), req.UserIDs, req.payload())
	if err != nil {
		s.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("notification sent to %d of %d devices across %d users", summary.Sent, summary.Total, summary.Users),
		"sent":    summary.Sent,
		"total":   summary.Total,
		"users":   summary.Users,
	})
}

func (s *Server) sendError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, notify.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"message": "admin access required"})
	case errors.Is(err, notify.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	case errors.Is(err, notify.ErrNoSubscriptions):
		c.JSON(http.StatusNotFound, gin.H{"message": "no subscriptions found for user"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to send notification"})
	}
}

// requireAdmin resolves the caller against the user store and reports
// whether they hold the admin role, writing the error response if not.
func (s *Server) requireAdmin(c *gin.Context) bool {
	u, err := s.users.Get(c.Request.Context(), callerID(c))
	if err != nil || !u.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"message": "admin access required"})
		return false
	}
	return true
}

// listPageSize is how many subscriptions the report walks per page.
const listPageSize = 1000

func (s *Server) handleUsersWithSubscriptions(c *gin.Context) {
	ctx := c.Request.Context()
	if !s.requireAdmin(c) {
		return
	}

	counts := map[string]int{}
	for offset := 0; ; offset += listPageSize {
		recs, err := s.subs.List(ctx, listPageSize, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to list subscriptions"})
			return
		}
		for _, r := range recs {
			counts[r.UserID]++
		}
		if len(recs) < listPageSize {
			break
		}
	}

	out := make([]gin.H, 0, len(counts))
	for uid, n := range counts {
		u, err := s.users.Get(ctx, uid)
		if err != nil {
			if errors.Is(err, users.ErrNotFound) {
				// Subscription outlived its user; the next delivery prunes it.
				continue
			}
			c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to resolve users"})
			return
		}
		out = append(out, gin.H{
			"id":                u.ID,
			"email":             u.Email,
			"name":              u.Name,
			"subscriptionCount": n,
		})
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

func (s *Server) handleAllUsers(c *gin.Context) {
	ctx := c.Request.Context()
	if !s.requireAdmin(c) {
		return
	}

	all, err := s.users.List(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to list users"})
		return
	}

	out := make([]gin.H, 0, len(all))
	for _, u := range all {
		out = append(out, gin.H{
			"id":    u.ID,
			"email": u.Email,
			"name":  u.Name,
			"role":  u.Role,
		})
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

func (s *Server) handlePairingCode(c *gin.Context) {
	ctx := c.Request.Context()
	code, err := pairing.NewCode()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to generate code"})
		return
	}
	if err := s.pairing.Put(ctx, code, callerID(c), s.pairingTTL); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to store code"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"code":      code,
		"expiresIn": int(s.pairingTTL.Seconds()),
	})
}

func (s *Server) handlePairingClaim(c *gin.Context) {
	ctx := c.Request.Context()
	var req struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "code is required"})
		return
	}

	uid, err := s.pairing.Claim(ctx, req.Code)
	if err != nil {
		if errors.Is(err, pairing.ErrCodeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "code not found or expired"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to claim code"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": uid})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
