package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/meetsprint/internal/dashboard"
	"github.com/hitoshi/meetsprint/internal/meeting"
	"github.com/hitoshi/meetsprint/internal/middleware"
	"github.com/hitoshi/meetsprint/internal/model"
	"github.com/hitoshi/meetsprint/internal/repository"
	"github.com/hitoshi/meetsprint/internal/task"
)

// --- モック定義 ---

type mockAuthService struct {
	resolveTokenFn   func(ctx context.Context, token string) (*model.Session, *model.User, error)
	loginURLFn       func(provider, redirectURL, state string, params map[string]string) (string, error)
	handleCallbackFn func(ctx context.Context, code string) (*model.Session, *model.User, error)
	logoutFn         func(ctx context.Context, sessionID string) error
}

func (m *mockAuthService) ResolveToken(ctx context.Context, token string) (*model.Session, *model.User, error) {
	if m.resolveTokenFn != nil {
		return m.resolveTokenFn(ctx, token)
	}
	return nil, nil, nil
}

func (m *mockAuthService) RefreshSession(ctx context.Context, s *model.Session) (*model.Session, bool, error) {
	return s, false, nil
}

func (m *mockAuthService) IssueToken(s *model.Session) (string, error) {
	return "jwt-" + s.ID, nil
}

func (m *mockAuthService) LoginURL(provider, redirectURL, state string, params map[string]string) (string, error) {
	if m.loginURLFn != nil {
		return m.loginURLFn(provider, redirectURL, state, params)
	}
	return "https://accounts.google.com/o/oauth2/auth?state=" + state, nil
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.Session, *model.User, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

type mockProfileService struct {
	fetchOrCreateFn func(ctx context.Context, user *model.User) (*model.Profile, error)
}

func (m *mockProfileService) FetchOrCreate(ctx context.Context, user *model.User) (*model.Profile, error) {
	if m.fetchOrCreateFn != nil {
		return m.fetchOrCreateFn(ctx, user)
	}
	return &model.Profile{ID: user.ID, Email: user.Email, Role: model.RoleMember}, nil
}

type mockDashboardLoader struct {
	loadFn func(ctx context.Context, userID string) *dashboard.Data
	calls  int
}

func (m *mockDashboardLoader) Load(ctx context.Context, userID string) *dashboard.Data {
	m.calls++
	if m.loadFn != nil {
		return m.loadFn(ctx, userID)
	}
	return &dashboard.Data{Meetings: []*model.Meeting{}, Tasks: []*model.Task{}}
}

type mockOrganizationService struct {
	createFn func(ctx context.Context, ownerID, name string) (*model.Organization, error)
}

func (m *mockOrganizationService) Create(ctx context.Context, ownerID, name string) (*model.Organization, error) {
	return m.createFn(ctx, ownerID, name)
}

type mockMeetingService struct {
	listFn             func(ctx context.Context, userID string, filter repository.MeetingFilter) ([]*model.Meeting, error)
	createFn           func(ctx context.Context, userID string, in meeting.CreateInput) (*model.Meeting, error)
	changeStatusFn     func(ctx context.Context, userID, meetingID, status string) (*model.Meeting, error)
	setTranscriptionFn func(ctx context.Context, userID, meetingID, text string) (*model.Meeting, error)
	importFn           func(ctx context.Context, userID, meetingID, rawURL string) (*model.Meeting, error)
}

func (m *mockMeetingService) List(ctx context.Context, userID string, filter repository.MeetingFilter) ([]*model.Meeting, error) {
	return m.listFn(ctx, userID, filter)
}

func (m *mockMeetingService) Create(ctx context.Context, userID string, in meeting.CreateInput) (*model.Meeting, error) {
	return m.createFn(ctx, userID, in)
}

func (m *mockMeetingService) ChangeStatus(ctx context.Context, userID, meetingID, status string) (*model.Meeting, error) {
	return m.changeStatusFn(ctx, userID, meetingID, status)
}

func (m *mockMeetingService) SetTranscription(ctx context.Context, userID, meetingID, text string) (*model.Meeting, error) {
	return m.setTranscriptionFn(ctx, userID, meetingID, text)
}

func (m *mockMeetingService) ImportTranscription(ctx context.Context, userID, meetingID, rawURL string) (*model.Meeting, error) {
	return m.importFn(ctx, userID, meetingID, rawURL)
}

type mockTaskService struct {
	listFn         func(ctx context.Context, userID string, filter repository.TaskFilter) ([]*model.Task, error)
	createFn       func(ctx context.Context, userID string, in task.CreateInput) (*model.Task, error)
	changeStatusFn func(ctx context.Context, userID, taskID, status string) (*model.Task, error)
	assignFn       func(ctx context.Context, userID, taskID string, assigneeID *string) (*model.Task, error)
}

func (m *mockTaskService) List(ctx context.Context, userID string, filter repository.TaskFilter) ([]*model.Task, error) {
	return m.listFn(ctx, userID, filter)
}

func (m *mockTaskService) Create(ctx context.Context, userID string, in task.CreateInput) (*model.Task, error) {
	return m.createFn(ctx, userID, in)
}

func (m *mockTaskService) ChangeStatus(ctx context.Context, userID, taskID, status string) (*model.Task, error) {
	return m.changeStatusFn(ctx, userID, taskID, status)
}

func (m *mockTaskService) Assign(ctx context.Context, userID, taskID string, assigneeID *string) (*model.Task, error) {
	return m.assignFn(ctx, userID, taskID, assigneeID)
}

type mockUserService struct {
	withdrawFn func(ctx context.Context, userID string) error
}

func (m *mockUserService) Withdraw(ctx context.Context, userID string) error {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID)
	}
	return nil
}

// --- ヘルパー ---

const testUserID = "11111111-1111-1111-1111-111111111111"

var testCookieConfig = middleware.CookieConfig{MaxAge: time.Hour}

func testSession() (*model.Session, *model.User) {
	return &model.Session{ID: "sess-1", UserID: testUserID, ExpiresAt: time.Now().Add(time.Hour)},
		&model.User{ID: testUserID, Email: "alice@example.com", Name: "Alice"}
}

// withSession はセッションミドルウェアを通過した状態のリクエストを返す。
func withSession(r *http.Request) *http.Request {
	s, u := testSession()
	return r.WithContext(middleware.ContextWithSession(r.Context(), s, u))
}

func strPtr(s string) *string { return &s }

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}
