package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
	"github.com/jonesrussell/north-cloud/likechat/internal/engagement"
	"github.com/jonesrussell/north-cloud/likechat/internal/history"
)

type verifyActivityRequest struct {
	UserID   int64            `json:"user_id"  binding:"required,gt=0"`
	LinkID   string           `json:"link_id"`
	Target   domain.TargetRef `json:"target"`
	TaskType string           `json:"task_type"`
	Wallet   string           `json:"wallet"`
}

type selectTaskTypeRequest struct {
	TaskType string `json:"task_type" binding:"required"`
}

type historyQuery struct {
	Kind   string `form:"kind"`
	Limit  int    `form:"limit"  binding:"omitempty,gte=0"`
	Offset int    `form:"offset" binding:"omitempty,gte=0"`
}

// VerifyActivity handles POST /api/v1/activity/verify. A negative verdict is
// still a 200: the body says whether the client may retry.
func (h *Handler) VerifyActivity(c *gin.Context) {
	var req verifyActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	taskType, err := parseTaskType(req.TaskType)
	if err != nil {
		badRequest(c, err)
		return
	}

	out, err := h.svc.VerifyActivity(c.Request.Context(), engagement.VerifyRequest{
		UserID:   req.UserID,
		LinkID:   req.LinkID,
		Target:   req.Target,
		TaskType: taskType,
		Wallet:   req.Wallet,
	})
	if err != nil {
		h.respondError(c, "verify_activity", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Progress handles GET /api/v1/users/:id/progress.
func (h *Handler) Progress(c *gin.Context) {
	userID, ok := pathUserID(c, "id")
	if !ok {
		return
	}
	p, err := h.svc.Progress(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, "get_progress", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// SelectTaskType handles PUT /api/v1/users/:id/task-type.
func (h *Handler) SelectTaskType(c *gin.Context) {
	userID, ok := pathUserID(c, "id")
	if !ok {
		return
	}
	var req selectTaskTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	p, err := h.svc.SelectTaskType(c.Request.Context(), userID, req.TaskType)
	if err != nil {
		h.respondError(c, "select_task_type", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// DailyClaim handles POST /api/v1/users/:id/daily-claim.
func (h *Handler) DailyClaim(c *gin.Context) {
	userID, ok := pathUserID(c, "id")
	if !ok {
		return
	}
	res, err := h.svc.DailyClaim(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, "daily_claim", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Eligibility handles GET /api/v1/users/:id/eligibility?wallet=.
func (h *Handler) Eligibility(c *gin.Context) {
	userID, ok := pathUserID(c, "id")
	if !ok {
		return
	}
	d, err := h.svc.Eligibility(c.Request.Context(), userID, c.Query("wallet"))
	if err != nil {
		h.respondError(c, "eligibility", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// History handles GET /api/v1/users/:id/history.
func (h *Handler) History(c *gin.Context) {
	userID, ok := pathUserID(c, "id")
	if !ok {
		return
	}
	var q historyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}

	entries, err := h.svc.UserHistory(c.Request.Context(), userID, history.Filter{
		Kind:   history.Kind(q.Kind),
		Limit:  q.Limit,
		Offset: q.Offset,
	})
	if err != nil {
		h.respondError(c, "user_history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// ResetProgress handles DELETE /api/v1/admin/users/:id/progress.
func (h *Handler) ResetProgress(c *gin.Context) {
	userID, ok := pathUserID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.ResetProgress(c.Request.Context(), userID); err != nil {
		h.respondError(c, "reset_progress", err)
		return
	}
	c.Status(http.StatusNoContent)
}
