package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"kiosk-call/internal/audit"
	"kiosk-call/internal/calls"
	"kiosk-call/pkg/logger"

	"github.com/gin-gonic/gin"
)

// HistoryReader serves the audit trail of one call.
type HistoryReader interface {
	History(ctx context.Context, callID int64) ([]audit.Event, error)
}

// Handlers groups the Coordination API handlers.
// Keep these thin: parse/validate input, call the calls service, return JSON.
type Handlers struct {
	Calls   *calls.Service
	History HistoryReader
}

type initiateCallRequest struct {
	KioskID   ID     `json:"kioskId"`
	OfficerID ID     `json:"officerId"`
	CallType  string `json:"callType"`
	Autostart bool   `json:"autostart"`
	PeerID    string `json:"peerId"`
}

type initiateCallResponse struct {
	Success   bool         `json:"success"`
	CallID    int64        `json:"callId"`
	Autostart bool         `json:"autostart"`
	Status    calls.Status `json:"status"`
}

type callIDRequest struct {
	CallID ID `json:"callId"`
}

type endCallRequest struct {
	CallID ID              `json:"callId"`
	Notes  string          `json:"notes"`
	Reason calls.EndReason `json:"reason"`
}

type successResponse struct {
	Success bool  `json:"success"`
	CallID  int64 `json:"callId"`
}

// pendingCallResponse flattens the record next to the pendingCall flag.
type pendingCallResponse struct {
	PendingCall bool `json:"pendingCall"`
	*calls.Record
}

func (h Handlers) InitiateCall(c *gin.Context) {
	var req initiateCallRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.KioskID == 0 || req.OfficerID == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing required parameters"})
		return
	}
	rec, err := h.Calls.Initiate(requestContext(c), calls.NewCall{
		KioskID:   int64(req.KioskID),
		OfficerID: int64(req.OfficerID),
		CallType:  req.CallType,
		Autostart: req.Autostart,
		PeerID:    req.PeerID,
	})
	if err != nil {
		h.fail(c, err, "Missing required parameters")
		return
	}
	c.JSON(http.StatusOK, initiateCallResponse{
		Success:   true,
		CallID:    rec.CallID,
		Autostart: rec.Autostart,
		Status:    rec.Status,
	})
}

func (h Handlers) PendingCalls(c *gin.Context) {
	kioskID := parseID(c.Query("kioskId"))
	if kioskID == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing kioskId parameter"})
		return
	}
	rec, ok, err := h.Calls.PendingForKiosk(requestContext(c), kioskID)
	if err != nil {
		h.fail(c, err, "Missing kioskId parameter")
		return
	}
	if !ok {
		c.JSON(http.StatusOK, pendingCallResponse{PendingCall: false})
		return
	}
	c.JSON(http.StatusOK, pendingCallResponse{PendingCall: true, Record: &rec})
}

func (h Handlers) AcknowledgeCall(c *gin.Context) {
	var req callIDRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.CallID == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing callId parameter"})
		return
	}
	rec, err := h.Calls.Acknowledge(requestContext(c), int64(req.CallID))
	if err != nil {
		h.fail(c, err, "Missing callId parameter")
		return
	}
	c.JSON(http.StatusOK, successResponse{Success: true, CallID: rec.CallID})
}

func (h Handlers) OfficerCalls(c *gin.Context) {
	officerID := parseID(c.Query("officerId"))
	if officerID == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing officerId parameter"})
		return
	}
	recs, err := h.Calls.OfficerCalls(requestContext(c), officerID)
	if err != nil {
		h.fail(c, err, "Missing officerId parameter")
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": recs})
}

func (h Handlers) EndCall(c *gin.Context) {
	var req endCallRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.CallID == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing callId parameter"})
		return
	}
	if !req.Reason.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid reason"})
		return
	}
	rec, err := h.Calls.End(requestContext(c), calls.EndRequest{
		CallID: int64(req.CallID),
		Notes:  req.Notes,
		Reason: req.Reason,
	})
	if err != nil {
		h.fail(c, err, "Missing callId parameter")
		return
	}
	c.JSON(http.StatusOK, successResponse{Success: true, CallID: rec.CallID})
}

func (h Handlers) CallStats(c *gin.Context) {
	st, err := h.Calls.Stats(requestContext(c))
	if err != nil {
		h.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h Handlers) GetCall(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Call not found"})
		return
	}
	rec, err := h.Calls.Get(requestContext(c), id)
	if err != nil {
		h.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, rec)
}

// CallHistory returns the audit trail of a call.
func (h Handlers) CallHistory(c *gin.Context) {
	if h.History == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "history not configured"})
		return
	}
	id, ok := pathID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Call not found"})
		return
	}
	ctx := requestContext(c)
	if _, err := h.Calls.Get(ctx, id); err != nil {
		h.fail(c, err, "")
		return
	}
	events, err := h.History.History(ctx, id)
	if err != nil {
		h.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"callId": id, "events": events})
}

// fail maps service errors onto the API's status codes and messages.
func (h Handlers) fail(c *gin.Context, err error, invalidMsg string) {
	switch {
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Call not found"})
	case errors.Is(err, calls.ErrInvalidInput) && invalidMsg != "":
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": invalidMsg})
	default:
		logger.FromGin(c).Error("call registry failure", "err", err)
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// bindJSON treats an empty body as an empty object so missing fields surface
// as the endpoint's "Missing ..." error.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return false
	}
	return true
}

func pathID(c *gin.Context) (int64, bool) {
	n, err := strconv.ParseInt(c.Param("callId"), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// requestContext carries the client IP into the audit trail.
func requestContext(c *gin.Context) context.Context {
	return audit.WithClientIP(c.Request.Context(), c.ClientIP())
}

// Register mounts the Coordination API routes.
func (h Handlers) Register(r gin.IRouter) {
	api := r.Group("/api")
	api.POST("/initiate-call", h.InitiateCall)
	api.GET("/pending-calls", h.PendingCalls)
	api.POST("/acknowledge-call", h.AcknowledgeCall)
	api.GET("/officer-calls", h.OfficerCalls)
	api.POST("/end-call", h.EndCall)
	api.GET("/call-stats", h.CallStats)
	api.GET("/call/:callId", h.GetCall)
	api.GET("/call/:callId/history", h.CallHistory)
}
