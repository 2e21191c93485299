package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/medfolio-backend/internal/identity"
	"github.com/tbourn/medfolio-backend/internal/services"
)

// Error texts returned by the recommendation endpoint.
const (
	msgProfileIDRequired = "profileId is required"
	msgProfileIDInvalid  = "profileId must be a valid UUID"
	msgProfileNotFound   = "Profile not found"
	msgRecommendFailed   = "Failed to record recommendation"
)

// RecommendRequest is the JSON payload for recommending a doctor.
type RecommendRequest struct {
	ProfileID string `json:"profileId" example:"11111111-1111-1111-1111-111111111111"`
}

// RecommendResponse reports the outcome of a recommendation attempt. An
// attempt that was de-duplicated is still a success.
type RecommendResponse struct {
	Success            bool   `json:"success" example:"true"`
	AlreadyRecommended bool   `json:"alreadyRecommended" example:"false"`
	Message            string `json:"message" example:"Thank you for recommending this doctor"`
}

// Recommend godoc
// @ID          recommendDoctor
// @Summary     Recommend a doctor
// @Description Records one recommendation per visitor and profile. Repeat attempts (same device fingerprint, same IP within the window, or over the distributed quota) succeed with alreadyRecommended=true.
// @Tags        Recommendations
// @Accept      json
// @Produce     json
//
// @Param       X-Forwarded-For  header  string  false "Client address chain"  example(1.2.3.4)
// @Param       body             body    handlers.RecommendRequest  true  "Profile to recommend"
//
// @Success     200  {object}  handlers.RecommendResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Missing or malformed profileId"
// @Failure     404  {object}  handlers.ErrorResponse  "Profile not found"
// @Failure     429  {object}  handlers.ErrorResponse  "Too many requests"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /recommendations [post]
func (h *Handlers) Recommend(c *gin.Context) {
	var req RecommendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	req.ProfileID = strings.TrimSpace(req.ProfileID)
	if req.ProfileID == "" {
		fail(c, http.StatusBadRequest, ErrCodeInvalidProfileID, msgProfileIDRequired)
		return
	}

	out, err := h.recSvc.Recommend(c.Request.Context(), req.ProfileID, identity.FromRequest(c.Request))
	switch {
	case err == nil:
	case errors.Is(err, services.ErrInvalidProfileID):
		fail(c, http.StatusBadRequest, ErrCodeInvalidProfileID, msgProfileIDInvalid)
		return
	case errors.Is(err, services.ErrProfileNotFound):
		fail(c, http.StatusNotFound, ErrCodeProfileNotFound, msgProfileNotFound)
		return
	default:
		fail(c, http.StatusInternalServerError, ErrCodeRecommendFailed, msgRecommendFailed, err)
		return
	}

	ok(c, http.StatusOK, RecommendResponse{
		Success:            true,
		AlreadyRecommended: out.AlreadyRecommended(),
		Message:            out.Message(),
	})
}
