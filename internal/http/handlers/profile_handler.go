package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/medfolio-backend/internal/domain"
	"github.com/tbourn/medfolio-backend/internal/services"
	"github.com/tbourn/medfolio-backend/internal/utils"
)

// ClaimProfileRequest is the JSON payload for claiming a profile URL.
type ClaimProfileRequest struct {
	// Handle is folded into the slug (accents stripped, lowercased, dashes).
	Handle      string `json:"handle" binding:"required" example:"Dr. José García"`
	DisplayName string `json:"display_name" binding:"required" example:"josé garcía"`
	Specialty   string `json:"specialty" example:"Cardiology"`
	Bio         string `json:"bio" example:"Interventional cardiologist in Madrid."`
}

// UpdateVerificationRequest is the JSON payload for a verification change.
type UpdateVerificationRequest struct {
	Status string `json:"status" binding:"required" example:"approved" enums:"pending,approved,rejected"`
}

// ListProfilesResponse wraps a page of profiles and pagination information.
type ListProfilesResponse struct {
	Profiles   []domain.Profile `json:"profiles"`
	Pagination Pagination       `json:"pagination"`
}

// ClaimProfile godoc
// @ID          claimProfile
// @Summary     Claim a profile URL
// @Description Creates a pending doctor profile at the slug derived from handle.
// @Tags        Profiles
// @Accept      json
// @Produce     json
//
// @Param       X-Admin-Token  header  string  true  "Admin token"
// @Param       body           body    handlers.ClaimProfileRequest  true  "Claim payload"
//
// @Success     201  {object}  domain.Profile
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid handle or display name"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid admin token"
// @Failure     409  {object}  handlers.ErrorResponse  "Slug already taken"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /profiles [post]
func (h *Handlers) ClaimProfile(c *gin.Context) {
	var req ClaimProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "handle and display_name are required")
		return
	}

	p, err := h.profSvc.Claim(c.Request.Context(), services.ClaimInput{
		Handle:      req.Handle,
		DisplayName: req.DisplayName,
		Specialty:   req.Specialty,
		Bio:         req.Bio,
	})
	switch {
	case err == nil:
		ok(c, http.StatusCreated, p)
	case errors.Is(err, services.ErrInvalidSlug), errors.Is(err, services.ErrInvalidDisplayName):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrSlugTaken):
		fail(c, http.StatusConflict, ErrCodeSlugTaken, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to claim profile", err)
	}
}

// GetProfile godoc
// @ID          getProfile
// @Summary     Get a profile
// @Description Returns the public profile at slug.
// @Tags        Profiles
// @Produce     json
//
// @Param       slug  path  string  true  "Profile slug"  example(jose-garcia)
//
// @Success     200  {object}  domain.Profile
// @Failure     404  {object}  handlers.ErrorResponse  "Profile not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /profiles/{slug} [get]
func (h *Handlers) GetProfile(c *gin.Context) {
	p, err := h.profSvc.Get(c.Request.Context(), c.Param("slug"))
	switch {
	case err == nil:
		ok(c, http.StatusOK, p)
	case errors.Is(err, services.ErrProfileNotFound):
		fail(c, http.StatusNotFound, ErrCodeProfileNotFound, msgProfileNotFound)
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to load profile", err)
	}
}

// ListProfiles godoc
// @ID          listProfiles
// @Summary     List profiles (paginated)
// @Description Returns a page of profiles, newest first, optionally filtered by specialty. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Profiles
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"profiles::3:1700000000000000000\")
// @Param       specialty      query   string  false "Specialty filter"            example(cardiology)
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListProfilesResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /profiles [get]
func (h *Handlers) ListProfiles(c *gin.Context) {
	ctx := c.Request.Context()
	specialty := strings.ToLower(strings.TrimSpace(c.Query("specialty")))
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if count, maxTS, err := h.profSvc.Stats(ctx, specialty); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"profiles:%s:%d:%d"`, specialty, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.profSvc.ListPage(ctx, specialty, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "failed to list profiles", err)
		return
	}

	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListProfilesResponse{
		Profiles: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// UpdateVerification godoc
// @ID          updateVerification
// @Summary     Set verification status
// @Description Moves a profile to pending, approved or rejected.
// @Tags        Profiles
// @Accept      json
// @Produce     json
//
// @Param       X-Admin-Token  header  string  true  "Admin token"
// @Param       slug           path    string  true  "Profile slug"  example(jose-garcia)
// @Param       body           body    handlers.UpdateVerificationRequest  true  "New status"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Invalid status"
// @Failure     401  {object} handlers.ErrorResponse "Missing or invalid admin token"
// @Failure     404  {object} handlers.ErrorResponse "Profile not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /profiles/{slug}/verification [put]
func (h *Handlers) UpdateVerification(c *gin.Context) {
	var req UpdateVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, services.ErrInvalidStatus.Error())
		return
	}

	err := h.profSvc.SetVerification(c.Request.Context(), c.Param("slug"), req.Status)
	switch {
	case err == nil:
		noContent(c)
	case errors.Is(err, services.ErrInvalidStatus):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrProfileNotFound):
		fail(c, http.StatusNotFound, ErrCodeProfileNotFound, msgProfileNotFound)
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to update verification", err)
	}
}
