package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/medfolio-backend/internal/domain"
	"github.com/tbourn/medfolio-backend/internal/services"
)

func profileRouter(t *testing.T) (*gin.Engine, *services.ProfileService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := services.NewProfileService(newHandlerDB(t), testProfileRepo{}, nil)
	h := New(nil, svc)

	r := gin.New()
	r.POST("/profiles", h.ClaimProfile)
	r.GET("/profiles", h.ListProfiles)
	r.GET("/profiles/:slug", h.GetProfile)
	r.PUT("/profiles/:slug/verification", h.UpdateVerification)
	return r, svc
}

func TestClaimProfile(t *testing.T) {
	r, _ := profileRouter(t)

	w := doJSON(t, r, http.MethodPost, "/profiles", ClaimProfileRequest{
		Handle:      "Dr. José García",
		DisplayName: "josé   garcía",
		Specialty:   "Cardiology",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	var p domain.Profile
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Slug != "dr-jose-garcia" || p.DisplayName != "José García" || p.VerificationStatus != domain.VerificationPending {
		t.Fatalf("unexpected profile: %+v", p)
	}

	cases := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"taken", ClaimProfileRequest{Handle: "dr jose garcia", DisplayName: "Other"}, http.StatusConflict, ErrCodeSlugTaken},
		{"short slug", ClaimProfileRequest{Handle: "ab", DisplayName: "Ab"}, http.StatusBadRequest, ErrCodeBadRequest},
		{"missing name", map[string]string{"handle": "dr-who"}, http.StatusBadRequest, ErrCodeBadRequest},
		{"blank name", ClaimProfileRequest{Handle: "dr-who", DisplayName: "   "}, http.StatusBadRequest, ErrCodeBadRequest},
		{"malformed", `{"handle":`, http.StatusBadRequest, ErrCodeBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/profiles", tc.body, nil)
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d; want %d (%s)", w.Code, tc.wantStatus, w.Body.String())
			}
			if er := decodeError(t, w); er.Code != tc.wantCode || er.Error == "" {
				t.Fatalf("unexpected body: %+v", er)
			}
		})
	}
}

func TestGetProfile(t *testing.T) {
	r, svc := profileRouter(t)
	if _, err := svc.Claim(context.Background(), services.ClaimInput{Handle: "dr-house", DisplayName: "Gregory House"}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	w := doJSON(t, r, http.MethodGet, "/profiles/DR-HOUSE", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	var p domain.Profile
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil || p.Slug != "dr-house" {
		t.Fatalf("unexpected profile: %+v, %v", p, err)
	}

	w = doJSON(t, r, http.MethodGet, "/profiles/nobody-here", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if er := decodeError(t, w); er.Error != "Profile not found" {
		t.Fatalf("unexpected body: %+v", er)
	}
}

func TestListProfiles_PaginationFilterAndETag(t *testing.T) {
	r, svc := profileRouter(t)
	ctx := context.Background()
	for _, in := range []services.ClaimInput{
		{Handle: "dr-a", DisplayName: "A", Specialty: "cardiology"},
		{Handle: "dr-b", DisplayName: "B", Specialty: "cardiology"},
		{Handle: "dr-c", DisplayName: "C", Specialty: "dermatology"},
	} {
		if _, err := svc.Claim(ctx, in); err != nil {
			t.Fatalf("claim %s: %v", in.Handle, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	w := doJSON(t, r, http.MethodGet, "/profiles?specialty=Cardiology&page=1&page_size=1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	var resp ListProfilesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Profiles) != 1 || resp.Profiles[0].Slug != "dr-b" {
		t.Fatalf("expected newest cardiologist first, got %+v", resp.Profiles)
	}
	want := Pagination{Page: 1, PageSize: 1, Total: 2, TotalPages: 2, HasNext: true}
	if resp.Pagination != want {
		t.Fatalf("pagination = %+v; want %+v", resp.Pagination, want)
	}

	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("missing ETag")
	}
	w = doJSON(t, r, http.MethodGet, "/profiles?specialty=cardiology", nil, map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w.Code)
	}

	// A verification change bumps updated_at and so the ETag.
	if err := svc.SetVerification(ctx, "dr-a", domain.VerificationApproved); err != nil {
		t.Fatalf("set verification: %v", err)
	}
	w = doJSON(t, r, http.MethodGet, "/profiles?specialty=cardiology", nil, map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusOK || w.Header().Get("ETag") == etag {
		t.Fatalf("expected fresh 200 with new ETag, got %d %q", w.Code, w.Header().Get("ETag"))
	}

	w = doJSON(t, r, http.MethodGet, "/profiles?specialty=neurology", nil, nil)
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w.Code != http.StatusOK || len(resp.Profiles) != 0 || resp.Pagination.Total != 0 || resp.Pagination.HasNext {
		t.Fatalf("unexpected empty page: %d %+v", w.Code, resp)
	}
}

type failingProfileSvc struct{ ProfileService }

func (failingProfileSvc) Stats(context.Context, string) (int64, *time.Time, error) {
	return 0, nil, errors.New("stats down")
}
func (failingProfileSvc) ListPage(context.Context, string, int, int) ([]domain.Profile, int64, error) {
	return nil, 0, errors.New("db down")
}

func TestListProfiles_Failure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/profiles", New(nil, failingProfileSvc{}).ListProfiles)

	w := doJSON(t, r, http.MethodGet, "/profiles", nil, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("ETag") != "" {
		t.Fatalf("no ETag expected when stats fail")
	}
	if er := decodeError(t, w); er.Code != ErrCodeListFailed {
		t.Fatalf("unexpected body: %+v", er)
	}
}

func TestUpdateVerification(t *testing.T) {
	r, svc := profileRouter(t)
	if _, err := svc.Claim(context.Background(), services.ClaimInput{Handle: "dr-house", DisplayName: "House"}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	cases := []struct {
		name       string
		path       string
		body       any
		wantStatus int
	}{
		{"approve", "/profiles/dr-house/verification", UpdateVerificationRequest{Status: "Approved"}, http.StatusNoContent},
		{"bad status", "/profiles/dr-house/verification", UpdateVerificationRequest{Status: "verified"}, http.StatusBadRequest},
		{"missing status", "/profiles/dr-house/verification", map[string]string{}, http.StatusBadRequest},
		{"unknown slug", "/profiles/dr-nobody/verification", UpdateVerificationRequest{Status: "rejected"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPut, tc.path, tc.body, nil)
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d; want %d (%s)", w.Code, tc.wantStatus, w.Body.String())
			}
		})
	}

	p, err := svc.Get(context.Background(), "dr-house")
	if err != nil || p.VerificationStatus != domain.VerificationApproved {
		t.Fatalf("status not persisted: %+v, %v", p, err)
	}
}
