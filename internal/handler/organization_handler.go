package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/meetsprint/internal/model"
)

// OrganizationServiceInterface は組織ハンドラーが必要とするサービスインターフェース。
type OrganizationServiceInterface interface {
	// Create は組織を作成し、作成者のプロフィールを管理者として所属させる。
	Create(ctx context.Context, ownerID, name string) (*model.Organization, error)
}

// OrganizationHandler はオンボーディング（組織作成）のHTTPハンドラー。
type OrganizationHandler struct {
	service OrganizationServiceInterface
}

// NewOrganizationHandler はOrganizationHandlerを生成する。
func NewOrganizationHandler(service OrganizationServiceInterface) *OrganizationHandler {
	return &OrganizationHandler{service: service}
}

type createOrganizationRequest struct {
	Name string `json:"name"`
}

type organizationResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Create は組織を作成する。
// POST /api/organizations
func (h *OrganizationHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createOrganizationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	org, err := h.service.Create(r.Context(), userID, req.Name)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, organizationResponse{ID: org.ID, Name: org.Name})
}
