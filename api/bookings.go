package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rcabanilla/labreserve/internal/domain"
	"github.com/rcabanilla/labreserve/internal/service/reservation"
	"github.com/rcabanilla/labreserve/internal/service/status"
)

type BookingHandler struct {
	reservations reservation.ReservationUseCase
	statuses     status.StatusUseCase
}

type acquireRequest struct {
	ResourceID      int64 `json:"resource_id"`
	DurationMinutes int   `json:"duration_minutes"`
}

type acquireBlockRequest struct {
	ResourceIDs     []int64 `json:"resource_ids"`
	Count           int     `json:"count"`
	DurationMinutes int     `json:"duration_minutes"`
}

type decisionRequest struct {
	Decision string `json:"decision"`
}

type endSessionRequest struct {
	Reason string `json:"reason"`
}

type extendRequest struct {
	Minutes int `json:"minutes"`
}

type bookingResponse struct {
	BookingID        int64   `json:"booking_id"`
	State            string  `json:"state"`
	Role             string  `json:"role"`
	Credential       string  `json:"credential,omitempty"`
	ResourceIDs      []int64 `json:"resource_ids"`
	ApprovalDeadline string  `json:"approval_deadline,omitempty"`
	SessionEnd       string  `json:"session_end,omitempty"`
}

func NewBookingHandler(reservations reservation.ReservationUseCase, statuses status.StatusUseCase) *BookingHandler {
	return &BookingHandler{reservations: reservations, statuses: statuses}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("/", h.acquire)
	router.POST("/block", h.acquireBlock)
	router.POST("/:id/decision", h.decide)
	router.POST("/:id/end", h.endSession)
	router.POST("/:id/extend", h.extendSession)
	router.DELETE("/:id", h.cancel)
	router.GET("/me", h.myBooking)
}

func (h *BookingHandler) acquire(c *gin.Context) {
	var req acquireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor := actorFrom(c)
	booking, err := h.reservations.Acquire(c.Request.Context(), reservation.AcquireInput{
		ResourceID:      req.ResourceID,
		RequesterID:     actor.ID,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toBookingResponse(booking))
}

func (h *BookingHandler) acquireBlock(c *gin.Context) {
	var req acquireBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor := actorFrom(c)
	booking, err := h.reservations.AcquireBlock(c.Request.Context(), reservation.AcquireBlockInput{
		ResourceIDs:     req.ResourceIDs,
		Count:           req.Count,
		RequesterID:     actor.ID,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toBookingResponse(booking))
}

func (h *BookingHandler) decide(c *gin.Context) {
	bookingID, ok := bookingIDParam(c)
	if !ok {
		return
	}
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	decision := reservation.Decision(req.Decision)
	if decision != reservation.DecisionApprove && decision != reservation.DecisionDeny {
		c.JSON(http.StatusBadRequest, gin.H{"error": "decision must be approve or deny"})
		return
	}

	booking, err := h.reservations.Decide(c.Request.Context(), bookingID, decision, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(booking))
}

func (h *BookingHandler) endSession(c *gin.Context) {
	bookingID, ok := bookingIDParam(c)
	if !ok {
		return
	}
	var req endSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reason := reservation.EndReason(req.Reason)
	if reason == "" {
		reason = reservation.EndReasonEarlyTerminate
	}

	booking, err := h.reservations.EndSession(c.Request.Context(), bookingID, actorFrom(c), reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(booking))
}

func (h *BookingHandler) extendSession(c *gin.Context) {
	bookingID, ok := bookingIDParam(c)
	if !ok {
		return
	}
	var req extendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	booking, err := h.reservations.ExtendSession(c.Request.Context(), bookingID, actorFrom(c), req.Minutes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(booking))
}

func (h *BookingHandler) cancel(c *gin.Context) {
	bookingID, ok := bookingIDParam(c)
	if !ok {
		return
	}

	booking, err := h.reservations.Cancel(c.Request.Context(), bookingID, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(booking))
}

func (h *BookingHandler) myBooking(c *gin.Context) {
	view, err := h.statuses.MyBooking(c.Request.Context(), actorFrom(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func bookingIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking id"})
		return 0, false
	}
	return id, true
}

func toBookingResponse(b *domain.Booking) bookingResponse {
	resp := bookingResponse{
		BookingID:   b.ID,
		State:       string(b.State),
		Role:        string(b.Role),
		ResourceIDs: b.ResourceIDs,
	}
	// The credential is presentable only while the booking is open.
	if b.State.Open() {
		resp.Credential = b.Credential
	}
	if b.State == domain.BookingStatePending {
		resp.ApprovalDeadline = b.ApprovalDeadline.Format(time.RFC3339)
	}
	if b.SessionEnd != nil {
		resp.SessionEnd = b.SessionEnd.Format(time.RFC3339)
	}
	return resp
}
