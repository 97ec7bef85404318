package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kenichiro-kimura/thoughtlog/internal/thoughts"
	"github.com/kenichiro-kimura/thoughtlog/pkg/response"
)

// CreateThought handles POST /api/v1/thoughts.
func (h *Handler) CreateThought(c *gin.Context) {
	var payload thoughts.EntryPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	outcome, err := h.Service.CreateEntry(c.Request.Context(), payload)
	if err != nil {
		if errors.Is(err, thoughts.ErrMissingRequestID) || errors.Is(err, thoughts.ErrInvalidCapturedAt) {
			response.ValidationError(c, err.Error())
			return
		}
		h.Logger.Sugar().Errorw("create entry failed", "request_id", payload.RequestID, "err", err)
		response.InternalError(c, "failed to create entry")
		return
	}

	if !outcome.Idempotent {
		response.Created(c, outcome)
		return
	}

	switch outcome.StatusCode {
	case http.StatusOK:
		response.OK(c, gin.H{
			"idempotent":   true,
			"issue_number": outcome.Prior.IssueNumber,
			"issue_url":    outcome.Prior.IssueURL,
			"comment_id":   outcome.Prior.CommentID,
		})
	case http.StatusAccepted:
		response.Accepted(c, gin.H{"idempotent": true, "status": outcome.Status})
	case http.StatusConflict:
		response.Conflict(c, outcome.ErrorCode, "request conflicts with a previously seen request_id")
	default:
		h.Logger.Sugar().Errorw("unexpected idempotent status", "status_code", outcome.StatusCode)
		response.InternalError(c, "")
	}
}

// GetLog handles GET /api/v1/logs/:date.
func (h *Handler) GetLog(c *gin.Context) {
	dateKey, ok := dateParam(c)
	if !ok {
		return
	}

	log, err := h.Service.GetLog(c.Request.Context(), dateKey)
	if err != nil {
		h.Logger.Sugar().Errorw("get log failed", "date", dateKey, "err", err)
		response.InternalError(c, "failed to fetch log")
		return
	}
	if !log.Found {
		response.NotFound(c, "no log for "+dateKey)
		return
	}
	response.OK(c, log)
}

// UpdateLog handles PUT /api/v1/logs/:date. It replaces the day's
// container body and closes it.
func (h *Handler) UpdateLog(c *gin.Context) {
	dateKey, ok := dateParam(c)
	if !ok {
		return
	}

	var req struct {
		Body string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	updated, err := h.Service.UpdateLog(c.Request.Context(), dateKey, req.Body)
	if err != nil {
		h.Logger.Sugar().Errorw("update log failed", "date", dateKey, "err", err)
		response.InternalError(c, "failed to update log")
		return
	}
	if !updated.Found {
		response.NotFound(c, "no log for "+dateKey)
		return
	}
	response.OK(c, updated)
}

func dateParam(c *gin.Context) (string, bool) {
	dateKey := c.Param("date")
	if _, err := time.Parse("2006-01-02", dateKey); err != nil {
		response.BadRequest(c, "date must be formatted YYYY-MM-DD")
		return "", false
	}
	return dateKey, true
}
