package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/likechat/internal/engagement"
)

type startPurchaseRequest struct {
	UserID int64  `json:"user_id" binding:"required,gt=0"`
	Wallet string `json:"wallet"  binding:"required"`
	Token  string `json:"token"`
}

type reportPurchaseRequest struct {
	AttemptID string `json:"attempt_id" binding:"required"`
	TxHash    string `json:"tx_hash"    binding:"required"`
}

type purchaseFailureRequest struct {
	AttemptID string `json:"attempt_id" binding:"required"`
	Attempt   int    `json:"attempt"    binding:"required,gt=0"`
	Reason    string `json:"reason"     binding:"required"`
	Need      string `json:"need"`
	Have      string `json:"have"`
}

// StartPurchase handles POST /api/v1/purchases.
func (h *Handler) StartPurchase(c *gin.Context) {
	var req startPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	a, err := h.svc.StartPurchase(c.Request.Context(), req.UserID, req.Wallet, req.Token)
	if err != nil {
		h.respondError(c, "start_purchase", err)
		return
	}
	c.JSON(http.StatusAccepted, a)
}

// ReportPurchase handles POST /api/v1/purchases/:user/report.
func (h *Handler) ReportPurchase(c *gin.Context) {
	userID, ok := pathUserID(c, "user")
	if !ok {
		return
	}
	var req reportPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	a, err := h.svc.ReportPurchase(c.Request.Context(), userID, req.AttemptID, req.TxHash)
	if err != nil {
		h.respondError(c, "report_purchase", err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// ReportPurchaseFailure handles POST /api/v1/purchases/:user/failure.
func (h *Handler) ReportPurchaseFailure(c *gin.Context) {
	userID, ok := pathUserID(c, "user")
	if !ok {
		return
	}
	var req purchaseFailureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.svc.ReportPurchaseFailure(c.Request.Context(), engagement.FailureReport{
		UserID:    userID,
		AttemptID: req.AttemptID,
		Attempt:   req.Attempt,
		Reason:    req.Reason,
		Need:      req.Need,
		Have:      req.Have,
	})
	if err != nil {
		h.respondError(c, "report_purchase_failure", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// PurchaseStatus handles GET /api/v1/purchases/:user.
func (h *Handler) PurchaseStatus(c *gin.Context) {
	userID, ok := pathUserID(c, "user")
	if !ok {
		return
	}
	a, err := h.svc.PurchaseStatus(userID)
	if err != nil {
		h.respondError(c, "purchase_status", err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// CancelPurchase handles DELETE /api/v1/purchases/:user.
func (h *Handler) CancelPurchase(c *gin.Context) {
	userID, ok := pathUserID(c, "user")
	if !ok {
		return
	}
	cancelled, err := h.svc.CancelPurchase(userID)
	if err != nil {
		h.respondError(c, "cancel_purchase", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}
