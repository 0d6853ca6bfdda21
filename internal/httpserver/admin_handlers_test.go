package httpserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/devco/sentinela/internal/admin"
	"github.com/devco/sentinela/internal/domain/integration"
	"github.com/devco/sentinela/internal/domain/ticket"
	"github.com/devco/sentinela/internal/domain/valueobjects"
	"github.com/devco/sentinela/internal/eventbus"
	"github.com/devco/sentinela/internal/repository"
	"github.com/devco/sentinela/pkg/chatservice"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeTicketRepo struct{ byID map[valueobjects.TicketId]*ticket.Ticket }

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{byID: make(map[valueobjects.TicketId]*ticket.Ticket)}
}
func (r *fakeTicketRepo) Save(ctx context.Context, t *ticket.Ticket) error {
	r.byID[t.ID] = t
	return nil
}
func (r *fakeTicketRepo) NextID(ctx context.Context) (valueobjects.TicketId, error) { return 1, nil }
func (r *fakeTicketRepo) FindByID(ctx context.Context, id valueobjects.TicketId) (*ticket.Ticket, error) {
	return r.byID[id], nil
}
func (r *fakeTicketRepo) FindActiveByUser(ctx context.Context, userID valueobjects.ChatUserId) (*ticket.Ticket, error) {
	return nil, nil
}
func (r *fakeTicketRepo) FindByUser(ctx context.Context, userID valueobjects.ChatUserId, limit int) ([]*ticket.Ticket, error) {
	return nil, nil
}
func (r *fakeTicketRepo) FindOfflineTickets(ctx context.Context) ([]*ticket.Ticket, error) {
	return nil, nil
}
func (r *fakeTicketRepo) FindActiveWithHubSoftID(ctx context.Context) ([]*ticket.Ticket, error) {
	return nil, nil
}
func (r *fakeTicketRepo) List(ctx context.Context, filter repository.TicketFilter, limit int) ([]*ticket.Ticket, error) {
	out := make([]*ticket.Ticket, 0, len(r.byID))
	for _, t := range r.byID {
		out = append(out, t)
	}
	return out, nil
}

type fakeAdminRepo struct{ admins []repository.Admin }

func (r *fakeAdminRepo) ReplaceAll(ctx context.Context, admins []repository.Admin) error {
	r.admins = admins
	return nil
}
func (r *fakeAdminRepo) List(ctx context.Context) ([]repository.Admin, error) { return r.admins, nil }
func (r *fakeAdminRepo) IsAdmin(ctx context.Context, userID valueobjects.ChatUserId) (bool, error) {
	for _, a := range r.admins {
		if a.ChatUserID == userID {
			return true, nil
		}
	}
	return false, nil
}

type fakeUserRepo struct{ byChatID map[valueobjects.ChatUserId]*repository.User }

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byChatID: make(map[valueobjects.ChatUserId]*repository.User)}
}
func (r *fakeUserRepo) Save(ctx context.Context, u *repository.User) error {
	r.byChatID[u.ChatUserID] = u
	return nil
}
func (r *fakeUserRepo) FindByChatUserID(ctx context.Context, id valueobjects.ChatUserId) (*repository.User, error) {
	return r.byChatID[id], nil
}
func (r *fakeUserRepo) FindByCPF(ctx context.Context, cpf valueobjects.CPF) (*repository.User, error) {
	return nil, nil
}
func (r *fakeUserRepo) Deactivate(ctx context.Context, id valueobjects.ChatUserId) error {
	if u, ok := r.byChatID[id]; ok {
		u.IsActive = false
	}
	return nil
}
func (r *fakeUserRepo) RebindCPF(ctx context.Context, fromUser, toUser valueobjects.ChatUserId, cpf valueobjects.CPF) error {
	return nil
}

type fakeIntegrationRepo struct{ saved []*integration.Integration }

func (r *fakeIntegrationRepo) Save(ctx context.Context, i *integration.Integration) error {
	r.saved = append(r.saved, i)
	return nil
}
func (r *fakeIntegrationRepo) FindByID(ctx context.Context, id uuid.UUID) (*integration.Integration, error) {
	return nil, nil
}
func (r *fakeIntegrationRepo) FindPending(ctx context.Context, itype *valueobjects.IntegrationType, limit int) ([]*integration.Integration, error) {
	return nil, nil
}
func (r *fakeIntegrationRepo) FindScheduledUntil(ctx context.Context, ts time.Time, limit int) ([]*integration.Integration, error) {
	return nil, nil
}
func (r *fakeIntegrationRepo) FindActive(ctx context.Context, itype *valueobjects.IntegrationType) ([]*integration.Integration, error) {
	return nil, nil
}
func (r *fakeIntegrationRepo) FindFailed(ctx context.Context, limit int) ([]*integration.Integration, error) {
	return nil, nil
}
func (r *fakeIntegrationRepo) CountByStatus(ctx context.Context, since *time.Time) (map[valueobjects.IntegrationStatus]int, error) {
	return map[valueobjects.IntegrationStatus]int{valueobjects.IntegrationCompleted: 3}, nil
}
func (r *fakeIntegrationRepo) FindByMetadata(ctx context.Context, key, value string, status *valueobjects.IntegrationStatus) ([]*integration.Integration, error) {
	return nil, nil
}
func (r *fakeIntegrationRepo) CleanupCompleted(ctx context.Context, olderThan time.Time, batch int) (int, error) {
	return 0, nil
}
func (r *fakeIntegrationRepo) Lease(ctx context.Context, id uuid.UUID, expectedVersion int64) (bool, error) {
	return true, nil
}

type fakeChatService struct{ banned []int64 }

func (c *fakeChatService) SendMessage(ctx context.Context, chatID int64, text string, keyboard chatservice.Keyboard, threadID *int64) (int64, error) {
	return 0, nil
}
func (c *fakeChatService) EditMessage(ctx context.Context, chatID, messageID int64, text string, keyboard chatservice.Keyboard) error {
	return nil
}
func (c *fakeChatService) CreateChatInviteLink(ctx context.Context, chatID int64, memberLimit int, name string) (string, error) {
	return "", nil
}
func (c *fakeChatService) BanChatMember(ctx context.Context, chatID, userID int64) error {
	c.banned = append(c.banned, userID)
	return nil
}
func (c *fakeChatService) UnbanChatMember(ctx context.Context, chatID, userID int64) error { return nil }
func (c *fakeChatService) GetChatAdministrators(ctx context.Context, chatID int64) ([]chatservice.Member, error) {
	return nil, nil
}
func (c *fakeChatService) GetChatMember(ctx context.Context, chatID, userID int64) (chatservice.Member, error) {
	return chatservice.Member{}, nil
}

const (
	testAdminToken = "test-token"
	testAdminID    = int64(1)
)

// testRouter wires MountAdmin behind AdminAuth, exactly as server.go does,
// with one seeded administrator and one seeded ticket.
func testRouter(t *testing.T) (*chi.Mux, *fakeTicketRepo, *fakeUserRepo, *fakeChatService) {
	t.Helper()
	r, tickets, users, chat, _ := testRouterWithIntegrations(t)
	return r, tickets, users, chat
}

func testRouterWithIntegrations(t *testing.T) (*chi.Mux, *fakeTicketRepo, *fakeUserRepo, *fakeChatService, *fakeIntegrationRepo) {
	t.Helper()
	tickets := newFakeTicketRepo()
	users := newFakeUserRepo()
	admins := &fakeAdminRepo{admins: []repository.Admin{{ChatUserID: valueobjects.ChatUserId(testAdminID), Status: "owner"}}}
	chat := &fakeChatService{}
	integrations := &fakeIntegrationRepo{}
	svc := admin.New(tickets, admins, users, integrations, chat, eventbus.New(testLogger()), 100, testLogger())

	r := chi.NewRouter()
	r.Route("/api/v1", func(api chi.Router) {
		api.Use(AdminAuth(testAdminToken, []int64{testAdminID}))
		MountAdmin(api, svc, testLogger())
	})
	return r, tickets, users, chat, integrations
}

func authedRequest(method, path, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	r.Header.Set("Authorization", "Bearer "+testAdminToken)
	r.Header.Set("X-Admin-User-ID", "1")
	return r
}

func TestAdminAuth_RejectsMissingToken(t *testing.T) {
	router, _, _, _ := testRouter(t)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/tickets", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAdminAuth_RejectsUnknownAdminID(t *testing.T) {
	router, _, _, _ := testRouter(t)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/tickets", nil)
	r.Header.Set("Authorization", "Bearer "+testAdminToken)
	r.Header.Set("X-Admin-User-ID", "999")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestListTickets_ReturnsSeededTicket(t *testing.T) {
	router, tickets, _, _ := testRouter(t)
	tk, err := ticket.Create(1, 5, valueobjects.CategoryConnectivity, "valorant", valueobjects.TimingNow, "internet caindo toda hora ontem", nil, time.Now())
	if err != nil {
		t.Fatalf("ticket.Create() error = %v", err)
	}
	tickets.byID[1] = tk

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodGet, "/api/v1/tickets", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"ticket_id":1`) {
		t.Errorf("body missing expected ticket: %s", w.Body.String())
	}
}

func TestListTickets_RejectsNonNumericUserID(t *testing.T) {
	router, _, _, _ := testRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodGet, "/api/v1/tickets?user_id=abc", ""))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAssignTicket_Validation(t *testing.T) {
	router, tickets, _, _ := testRouter(t)
	tk, _ := ticket.Create(1, 5, valueobjects.CategoryConnectivity, "valorant", valueobjects.TimingNow, "internet caindo toda hora ontem", nil, time.Now())
	tickets.byID[1] = tk

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{
			name:       "missing technician",
			path:       "/api/v1/tickets/1/assign",
			body:       `{}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "non-numeric ticket id",
			path:       "/api/v1/tickets/not-a-number/assign",
			body:       `{"technician":"tech1"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown ticket",
			path:       "/api/v1/tickets/999/assign",
			body:       `{"technician":"tech1"}`,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "valid assignment",
			path:       "/api/v1/tickets/1/assign",
			body:       `{"technician":"tech1","notes":"prioritize"}`,
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, authedRequest(http.MethodPost, tt.path, tt.body))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d; body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestUpdateTicketStatus_InvalidTransition(t *testing.T) {
	router, tickets, _, _ := testRouter(t)
	tk, _ := ticket.Create(1, 5, valueobjects.CategoryConnectivity, "valorant", valueobjects.TimingNow, "internet caindo toda hora ontem", nil, time.Now())
	tickets.byID[1] = tk

	w := httptest.NewRecorder()
	body := `{"status":"RESOLVED","reason":"skip straight to resolved"}`
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/api/v1/tickets/1/status", body))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusConflict, w.Body.String())
	}
}

func TestBanUser_Succeeds(t *testing.T) {
	router, _, users, chat := testRouter(t)
	users.byChatID[42] = &repository.User{ChatUserID: 42, IsActive: true}

	w := httptest.NewRecorder()
	body := `{"reason":"spam"}`
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/api/v1/users/42/ban", body))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	if users.byChatID[42].IsActive {
		t.Error("user should be deactivated")
	}
	if len(chat.banned) != 1 || chat.banned[0] != 42 {
		t.Errorf("banned = %v, want [42]", chat.banned)
	}
}

func TestBanUser_RejectsMissingReason(t *testing.T) {
	router, _, users, _ := testRouter(t)
	users.byChatID[42] = &repository.User{ChatUserID: 42, IsActive: true}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/api/v1/users/42/ban", `{}`))

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
}

func TestSystemStats_RejectsBadDateFormat(t *testing.T) {
	router, _, _, _ := testRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodGet, "/api/v1/stats?from=not-a-date", ""))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestSystemStats_ReturnsCounts(t *testing.T) {
	router, tickets, _, _ := testRouter(t)
	tk, _ := ticket.Create(1, 5, valueobjects.CategoryConnectivity, "valorant", valueobjects.TimingNow, "internet caindo toda hora ontem", nil, time.Now())
	tickets.byID[1] = tk

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodGet, "/api/v1/stats", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"total_tickets":1`) {
		t.Errorf("body missing expected total: %s", w.Body.String())
	}
}

func TestBulkUpdateTickets_RejectsUnknownAction(t *testing.T) {
	router, tickets, _, _ := testRouter(t)
	tk, _ := ticket.Create(1, 5, valueobjects.CategoryConnectivity, "valorant", valueobjects.TimingNow, "internet caindo toda hora ontem", nil, time.Now())
	tickets.byID[1] = tk

	w := httptest.NewRecorder()
	body := `{"ticket_ids":[1],"action":"delete_everything"}`
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/api/v1/tickets/bulk", body))

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusUnprocessableEntity, w.Body.String())
	}
}

func TestBulkUpdateTickets_IndependentItemFailures(t *testing.T) {
	router, tickets, _, _ := testRouter(t)
	tk, _ := ticket.Create(1, 5, valueobjects.CategoryConnectivity, "valorant", valueobjects.TimingNow, "internet caindo toda hora ontem", nil, time.Now())
	tickets.byID[1] = tk

	w := httptest.NewRecorder()
	body := `{"ticket_ids":[1,2],"action":"assign","params":{"technician":"tech1"}}`
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/api/v1/tickets/bulk", body))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"ticket_id":2`) || !strings.Contains(w.Body.String(), `"error"`) {
		t.Errorf("expected ticket 2 to report an error: %s", w.Body.String())
	}
}

func TestBulkSyncTickets_EnqueuesJobAndReturnsID(t *testing.T) {
	router, _, _, _, integrations := testRouterWithIntegrations(t)

	w := httptest.NewRecorder()
	body := `{"ticket_ids":[1,2,3],"batch_size":10,"delay_between_batches":5}`
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/api/v1/tickets/bulk-sync", body))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusAccepted, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"job_id"`) {
		t.Errorf("body missing job_id: %s", w.Body.String())
	}
	if len(integrations.saved) != 1 {
		t.Fatalf("jobs saved = %d, want 1", len(integrations.saved))
	}
	if integrations.saved[0].Type != valueobjects.IntegrationBulkSync {
		t.Errorf("job.Type = %v, want IntegrationBulkSync", integrations.saved[0].Type)
	}
}

func TestBulkSyncTickets_RejectsEmptyTicketIDs(t *testing.T) {
	router, _, _, _, integrations := testRouterWithIntegrations(t)

	w := httptest.NewRecorder()
	body := `{"ticket_ids":[]}`
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/api/v1/tickets/bulk-sync", body))

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusUnprocessableEntity, w.Body.String())
	}
	if len(integrations.saved) != 0 {
		t.Errorf("jobs saved = %d, want 0", len(integrations.saved))
	}
}
