package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/devco/sentinela/internal/domain/errors"
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
	var out []*ticket.Ticket
	for _, t := range r.byID {
		out = append(out, t)
	}
	return out, nil
}

type fakeAdminRepo struct {
	admins []repository.Admin
}

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

type fakeChatService struct {
	admins  []chatservice.Member
	banned  []int64
}

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
	return c.admins, nil
}
func (c *fakeChatService) GetChatMember(ctx context.Context, chatID, userID int64) (chatservice.Member, error) {
	return chatservice.Member{}, nil
}

func newTestService(t *testing.T, admins *fakeAdminRepo) (*Service, *fakeTicketRepo, *fakeUserRepo, *fakeChatService) {
	t.Helper()
	svc, tickets, users, chat, _ := newTestServiceWithIntegrations(t, admins)
	return svc, tickets, users, chat
}

func newTestServiceWithIntegrations(t *testing.T, admins *fakeAdminRepo) (*Service, *fakeTicketRepo, *fakeUserRepo, *fakeChatService, *fakeIntegrationRepo) {
	t.Helper()
	tickets := newFakeTicketRepo()
	users := newFakeUserRepo()
	chat := &fakeChatService{}
	integrations := &fakeIntegrationRepo{}
	svc := New(tickets, admins, users, integrations, chat, eventbus.New(testLogger()), 100, testLogger())
	return svc, tickets, users, chat, integrations
}

func TestAssignTicket_RejectsNonAdmin(t *testing.T) {
	svc, tickets, _, _ := newTestService(t, &fakeAdminRepo{})
	tk, _ := ticket.Create(1, 5, valueobjects.CategoryConnectivity, "valorant", valueobjects.TimingNow, "internet caindo toda hora ontem", nil, time.Now())
	tickets.byID[1] = tk

	err := svc.AssignTicket(context.Background(), 999, 1, "tech1", "")
	if !errors.Is(err, errors.KindForbidden) {
		t.Fatalf("err = %v, want Forbidden", err)
	}
}

func TestAssignTicket_Succeeds(t *testing.T) {
	admins := &fakeAdminRepo{admins: []repository.Admin{{ChatUserID: 1, Status: "owner"}}}
	svc, tickets, _, _ := newTestService(t, admins)
	tk, _ := ticket.Create(1, 5, valueobjects.CategoryConnectivity, "valorant", valueobjects.TimingNow, "internet caindo toda hora ontem", nil, time.Now())
	tickets.byID[1] = tk

	if err := svc.AssignTicket(context.Background(), 1, 1, "tech1", "prioritize"); err != nil {
		t.Fatalf("AssignTicket() error = %v", err)
	}
	if tickets.byID[1].Status != valueobjects.TicketInProgress {
		t.Errorf("status = %v, want IN_PROGRESS", tickets.byID[1].Status)
	}
	if tickets.byID[1].AssignedTechnician != "tech1" {
		t.Errorf("technician = %q, want tech1", tickets.byID[1].AssignedTechnician)
	}
	if tickets.byID[1].AssignmentNotes != "prioritize" {
		t.Errorf("notes = %q, want prioritize", tickets.byID[1].AssignmentNotes)
	}
}

func TestBanUser_DeactivatesAndBansFromChat(t *testing.T) {
	admins := &fakeAdminRepo{admins: []repository.Admin{{ChatUserID: 1, Status: "owner"}}}
	svc, _, users, chat := newTestService(t, admins)
	users.byChatID[42] = &repository.User{ChatUserID: 42, IsActive: true}

	if err := svc.BanUser(context.Background(), 1, 42, "spam", 0); err != nil {
		t.Fatalf("BanUser() error = %v", err)
	}
	if users.byChatID[42].IsActive {
		t.Error("user should be deactivated")
	}
	if len(chat.banned) != 1 || chat.banned[0] != 42 {
		t.Errorf("banned = %v, want [42]", chat.banned)
	}
}

func TestBulkUpdateTickets_IndependentFailures(t *testing.T) {
	admins := &fakeAdminRepo{admins: []repository.Admin{{ChatUserID: 1, Status: "owner"}}}
	svc, tickets, _, _ := newTestService(t, admins)
	ok, _ := ticket.Create(1, 5, valueobjects.CategoryConnectivity, "valorant", valueobjects.TimingNow, "internet caindo toda hora ontem", nil, time.Now())
	tickets.byID[1] = ok
	// ticket 2 deliberately absent -> FindByID returns nil, nil -> the nil-ticket guard in applyBulkItem turns it into a per-item error

	results, err := svc.BulkUpdateTickets(context.Background(), 1, []valueobjects.TicketId{1, 2}, BulkActionAssign, BulkParams{Technician: "tech1"})
	if err != nil {
		t.Fatalf("BulkUpdateTickets() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Error != nil {
		t.Errorf("ticket 1 result error = %v, want nil", results[0].Error)
	}
	if results[1].Error == nil {
		t.Error("ticket 2 result error = nil, want an error for missing ticket")
	}
}

func TestTriggerBulkSync_EnqueuesJobForAuthorizedAdmin(t *testing.T) {
	admins := &fakeAdminRepo{admins: []repository.Admin{{ChatUserID: 1, Status: "owner"}}}
	svc, _, _, _, integrations := newTestServiceWithIntegrations(t, admins)

	jobID, err := svc.TriggerBulkSync(context.Background(), 1, []valueobjects.TicketId{10, 11, 12}, 5, 2)
	if err != nil {
		t.Fatalf("TriggerBulkSync() error = %v", err)
	}
	if jobID == (uuid.UUID{}) {
		t.Fatal("expected a non-zero job id")
	}
	if len(integrations.saved) != 1 {
		t.Fatalf("jobs saved = %d, want 1", len(integrations.saved))
	}
	job := integrations.saved[0]
	if job.Type != valueobjects.IntegrationBulkSync {
		t.Errorf("job.Type = %v, want IntegrationBulkSync", job.Type)
	}
	if job.ID != jobID {
		t.Errorf("job.ID = %v, want %v", job.ID, jobID)
	}

	var payload struct {
		TicketIDs           []int64 `json:"ticket_ids"`
		BatchSize           int     `json:"batch_size"`
		DelayBetweenBatches int     `json:"delay_between_batches"`
	}
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		t.Fatalf("unmarshal job payload: %v", err)
	}
	if len(payload.TicketIDs) != 3 || payload.TicketIDs[0] != 10 || payload.TicketIDs[2] != 12 {
		t.Errorf("payload.TicketIDs = %v, want [10 11 12]", payload.TicketIDs)
	}
	if payload.BatchSize != 5 {
		t.Errorf("payload.BatchSize = %d, want 5", payload.BatchSize)
	}
	if payload.DelayBetweenBatches != 2 {
		t.Errorf("payload.DelayBetweenBatches = %d, want 2", payload.DelayBetweenBatches)
	}
}

func TestTriggerBulkSync_RejectsNonAdmin(t *testing.T) {
	svc, _, _, _, integrations := newTestServiceWithIntegrations(t, &fakeAdminRepo{})

	_, err := svc.TriggerBulkSync(context.Background(), 999, []valueobjects.TicketId{1}, 5, 0)
	if !errors.Is(err, errors.KindForbidden) {
		t.Fatalf("err = %v, want Forbidden", err)
	}
	if len(integrations.saved) != 0 {
		t.Errorf("jobs saved = %d, want 0 for an unauthorized caller", len(integrations.saved))
	}
}

func TestTriggerBulkSync_RejectsEmptyTicketIDs(t *testing.T) {
	admins := &fakeAdminRepo{admins: []repository.Admin{{ChatUserID: 1, Status: "owner"}}}
	svc, _, _, _, integrations := newTestServiceWithIntegrations(t, admins)

	_, err := svc.TriggerBulkSync(context.Background(), 1, nil, 5, 0)
	if err == nil {
		t.Fatal("expected an error for an empty ticket_ids list")
	}
	if len(integrations.saved) != 0 {
		t.Errorf("jobs saved = %d, want 0", len(integrations.saved))
	}
}

func TestSyncAdministrators_UnionsConfiguredAndDetected(t *testing.T) {
	admins := &fakeAdminRepo{}
	svc, _, _, chat := newTestService(t, admins)
	chat.admins = []chatservice.Member{{UserID: 1, Username: "owner1", Status: "owner"}}

	if err := svc.SyncAdministrators(context.Background(), []int64{1, 2}); err != nil {
		t.Fatalf("SyncAdministrators() error = %v", err)
	}
	if len(admins.admins) != 2 {
		t.Fatalf("got %d admins, want 2 (detected + configured-only)", len(admins.admins))
	}
}
