package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/meetsprint/internal/model"
)

func TestOrganizationHandler_Create(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"作成成功", `{"name":"Acme"}`, nil, http.StatusCreated, ""},
		{"名前が不正", `{"name":"  "}`, model.NewInvalidOrganizationNameError("組織名を入力してください"), http.StatusBadRequest, model.ErrCodeInvalidOrgName},
		{"作成済み", `{"name":"Acme"}`, model.NewAlreadyOnboardedError(), http.StatusConflict, model.ErrCodeAlreadyOnboarded},
		{"JSON不正", `{"name":`, nil, http.StatusBadRequest, model.ErrCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotOwner, gotName string
			svc := &mockOrganizationService{
				createFn: func(ctx context.Context, ownerID, name string) (*model.Organization, error) {
					gotOwner, gotName = ownerID, name
					if tt.err != nil {
						return nil, tt.err
					}
					return &model.Organization{ID: "org-1", Name: name, OwnerID: ownerID}, nil
				},
			}

			req := withSession(httptest.NewRequest(http.MethodPost, "/api/organizations", strings.NewReader(tt.body)))
			w := httptest.NewRecorder()
			NewOrganizationHandler(svc).Create(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantCode != "" {
				var resp apiErrorResponse
				json.NewDecoder(w.Body).Decode(&resp)
				if resp.Code != tt.wantCode {
					t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
				}
				return
			}

			var resp organizationResponse
			json.NewDecoder(w.Body).Decode(&resp)
			if resp.ID != "org-1" || resp.Name != "Acme" {
				t.Errorf("response = %+v", resp)
			}
			if gotOwner != testUserID || gotName != "Acme" {
				t.Errorf("service called with (%q, %q)", gotOwner, gotName)
			}
		})
	}
}

func TestOrganizationHandler_Create_Unauthenticated(t *testing.T) {
	w := httptest.NewRecorder()
	NewOrganizationHandler(&mockOrganizationService{}).Create(w,
		httptest.NewRequest(http.MethodPost, "/api/organizations", strings.NewReader(`{"name":"Acme"}`)))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *model.APIError
		want int
	}{
		{model.NewUnauthorizedError(), http.StatusUnauthorized},
		{model.NewInvalidTitleError(), http.StatusBadRequest},
		{model.NewInvalidAssigneeError(), http.StatusBadRequest},
		{model.NewSSRFBlockedError(), http.StatusForbidden},
		{model.NewMeetingNotFoundError("m"), http.StatusNotFound},
		{model.NewTaskNotFoundError("t"), http.StatusNotFound},
		{model.NewUserNotFoundError(), http.StatusNotFound},
		{model.NewInvalidTransitionError("done", "todo"), http.StatusConflict},
		{model.NewAlreadyOnboardedError(), http.StatusConflict},
		{model.NewFetchFailedError("timeout"), http.StatusBadGateway},
		{&model.APIError{Code: "SOMETHING_ELSE"}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := mapAPIErrorToHTTPStatus(tt.err); got != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.err.Code, got, tt.want)
		}
	}
}
