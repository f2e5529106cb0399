package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
	"github.com/jonesrussell/north-cloud/likechat/internal/engagement"
	"github.com/jonesrussell/north-cloud/likechat/internal/queue"
)

type submitLinkRequest struct {
	UserID      int64            `json:"user_id"      binding:"required,gt=0"`
	Wallet      string           `json:"wallet"`
	DisplayName string           `json:"display_name"`
	AvatarURL   string           `json:"avatar_url"`
	Target      domain.TargetRef `json:"target"`
	TaskType    string           `json:"task_type"`
}

type pinLinkRequest struct {
	ID          string           `json:"id"`
	Target      domain.TargetRef `json:"target"`
	Slot        int              `json:"slot"          binding:"required,gt=0"`
	TaskType    string           `json:"task_type"`
	SubmitterID int64            `json:"submitter_id"`
	DisplayName string           `json:"display_name"`
	AvatarURL   string           `json:"avatar_url"`
}

// ListTasks handles GET /api/v1/tasks.
func (h *Handler) ListTasks(c *gin.Context) {
	records, err := h.svc.ListTasks(c.Request.Context(), c.Query("task_type"))
	if err != nil {
		h.respondError(c, "list_tasks", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tasks":            records,
		"count":            len(records),
		"required_actions": h.svc.RequiredActions(),
	})
}

// SubmitLink handles POST /api/v1/links.
func (h *Handler) SubmitLink(c *gin.Context) {
	var req submitLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	taskType, err := parseTaskType(req.TaskType)
	if err != nil {
		badRequest(c, err)
		return
	}

	m, err := h.svc.SubmitLink(c.Request.Context(), engagement.SubmitRequest{
		UserID:      req.UserID,
		Wallet:      req.Wallet,
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
		Target:      req.Target,
		TaskType:    taskType,
	})
	if err != nil {
		h.respondError(c, "submit_link", err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

// PinLink handles POST /api/v1/admin/pins.
func (h *Handler) PinLink(c *gin.Context) {
	var req pinLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	taskType, err := parseTaskType(req.TaskType)
	if err != nil {
		badRequest(c, err)
		return
	}

	m, err := h.svc.PinLink(c.Request.Context(), queue.PinRequest{
		ID:          req.ID,
		Target:      req.Target,
		Slot:        req.Slot,
		TaskType:    taskType,
		SubmitterID: req.SubmitterID,
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
	})
	if err != nil {
		h.respondError(c, "pin_link", err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// RemoveLink handles DELETE /api/v1/admin/links/:id.
func (h *Handler) RemoveLink(c *gin.Context) {
	if err := h.svc.RemoveLink(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, "remove_link", err)
		return
	}
	c.Status(http.StatusNoContent)
}
