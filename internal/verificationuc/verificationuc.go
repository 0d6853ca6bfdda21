// Package verificationuc implements the CPF verification use case: starting
// a verification, submitting a CPF against HubSoft, resolving a duplicate
// binding conflict, and sweeping expired verifications.
package verificationuc

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devco/sentinela/internal/cache"
	domainerrors "github.com/devco/sentinela/internal/domain/errors"
	"github.com/devco/sentinela/internal/domain/events"
	"github.com/devco/sentinela/internal/domain/valueobjects"
	"github.com/devco/sentinela/internal/domain/verification"
	"github.com/devco/sentinela/internal/eventbus"
	"github.com/devco/sentinela/internal/hubsoft"
	"github.com/devco/sentinela/internal/repository"
	"github.com/devco/sentinela/pkg/chatservice"
)

const (
	conflictConfirmationTTL = 10 * time.Minute
	inviteTTL               = 1 * time.Hour
	inviteMemberLimit       = 1
)

// Service implements the verification use case.
type Service struct {
	verifications repository.VerificationRepository
	users          repository.UserRepository
	invites        repository.InviteRepository
	hubsoft        *hubsoft.Client
	cache          *cache.Cache
	bus            *eventbus.Bus
	chat           chatservice.Service
	mainChatID     int64
	logger         *slog.Logger

	mu           sync.Mutex
	confirmations map[string]*pendingConfirmation
}

type pendingConfirmation struct {
	cpf           valueobjects.CPF
	newUserID     valueobjects.ChatUserId
	newUsername   string
	existingUser  *repository.User
	verificationID uuid.UUID
	createdAt     time.Time
	expiresAt     time.Time
}

// New constructs the verification use case.
func New(
	verifications repository.VerificationRepository,
	users repository.UserRepository,
	invites repository.InviteRepository,
	hs *hubsoft.Client,
	c *cache.Cache,
	bus *eventbus.Bus,
	chat chatservice.Service,
	mainChatID int64,
	logger *slog.Logger,
) *Service {
	return &Service{
		verifications: verifications,
		users:         users,
		invites:       invites,
		hubsoft:       hs,
		cache:         c,
		bus:           bus,
		chat:          chat,
		mainChatID:    mainChatID,
		logger:        logger,
		confirmations: make(map[string]*pendingConfirmation),
	}
}

// StartVerification supersedes any existing pending verification for the
// user and starts a new one.
func (s *Service) StartVerification(ctx context.Context, userID valueobjects.ChatUserId, username, mention string, vtype valueobjects.VerificationType, sourceAction string) (*verification.Verification, error) {
	now := time.Now()

	if existing, err := s.verifications.FindPendingByUser(ctx, userID); err == nil && existing != nil {
		if err := existing.Cancel("superseded_by_new_verification", now); err == nil {
			if err := s.verifications.Save(ctx, existing); err != nil {
				return nil, err
			}
			s.bus.PublishMany(existing.PendingEvents())
		}
	}

	v := verification.Start(uuid.New(), userID, username, mention, vtype, sourceAction, now)
	if err := s.verifications.Save(ctx, v); err != nil {
		return nil, err
	}
	s.bus.PublishMany(v.PendingEvents())
	return v, nil
}

// SubmitResult is the outcome of SubmitCPF.
type SubmitResult struct {
	Success         bool
	Reason          string
	DuplicateConflict bool
	ConfirmationID  string
	ExistingClientName string
	ClientData      *verification.ClientData
	Invite          *repository.Invite
}

// issueInvite creates a single-use, one-hour group invite for a freshly
// verified subscriber. A failure here is logged, not propagated: the
// verification itself has already succeeded and must not be rolled back
// over an invite-link hiccup.
func (s *Service) issueInvite(ctx context.Context, userID valueobjects.ChatUserId, cpf valueobjects.CPF, clientName, planName string, now time.Time) *repository.Invite {
	if s.invites == nil {
		return nil
	}
	var url string
	if s.chat != nil && s.mainChatID != 0 {
		u, err := s.chat.CreateChatInviteLink(ctx, s.mainChatID, inviteMemberLimit, "sentinela-verification-"+strconv.FormatInt(int64(userID), 10))
		if err != nil {
			s.logger.Warn("failed to create chat invite link", "user_id", int64(userID), "error", err)
		}
		url = u
	}
	invite := &repository.Invite{
		InviteID:   uuid.New(),
		UserID:     userID,
		CPF:        cpf,
		URL:        url,
		CreatedAt:  now,
		ExpiresAt:  now.Add(inviteTTL),
		ClientName: clientName,
		PlanName:   planName,
	}
	if err := s.invites.Save(ctx, invite); err != nil {
		s.logger.Warn("failed to persist invite", "user_id", int64(userID), "error", err)
		return nil
	}
	return invite
}

// SubmitCPF processes a CPF submitted against the user's pending
// verification: validates format, checks HubSoft, detects a duplicate
// binding, and on success persists the client snapshot.
func (s *Service) SubmitCPF(ctx context.Context, userID valueobjects.ChatUserId, rawCPF string) (*SubmitResult, error) {
	now := time.Now()

	v, err := s.verifications.FindPendingByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return &SubmitResult{Success: false, Reason: "no_pending_verification"}, nil
	}
	if v.Status == valueobjects.VerificationPending {
		if err := v.Begin(now); err != nil {
			return nil, err
		}
	}

	cpf, ok := valueobjects.NewCPF(rawCPF)
	if !ok {
		if err := v.RecordAttempt(false, "invalid_cpf_format", nil, nil, now); err != nil {
			return nil, err
		}
		if err := s.verifications.Save(ctx, v); err != nil {
			return nil, err
		}
		s.bus.PublishMany(v.PendingEvents())
		return &SubmitResult{Success: false, Reason: "invalid_cpf_format"}, nil
	}

	cliente, cacheHit := s.clientFromCache(cpf)
	if !cacheHit {
		cliente, err = s.hubsoft.VerifyClientByCPF(ctx, cpf.String())
		if err != nil {
			return nil, domainerrors.UpstreamTransient("verifying cpf with hubsoft", err)
		}
		if cliente != nil {
			s.cache.Put(cache.CategoryClientData, cpf.String(), cliente, 0)
		}
	}
	if cliente == nil {
		if err := v.RecordAttempt(false, "cpf_not_found_hubsoft", &cpf, nil, now); err != nil {
			return nil, err
		}
		if err := s.verifications.Save(ctx, v); err != nil {
			return nil, err
		}
		s.bus.PublishMany(v.PendingEvents())
		return &SubmitResult{Success: false, Reason: "cpf_not_found"}, nil
	}

	existing, err := s.users.FindByCPF(ctx, cpf)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.ChatUserID != userID {
		s.logger.Warn("duplicate cpf binding detected", "cpf", cpf.Masked(), "existing_user_id", int64(existing.ChatUserID), "new_user_id", int64(userID))
		confirmationID := s.registerConflict(cpf, userID, v.Username, existing, v.ID, now)
		return &SubmitResult{
			Success:            false,
			Reason:             "duplicate_cpf",
			DuplicateConflict:  true,
			ConfirmationID:     confirmationID,
			ExistingClientName: existing.ClientName,
		}, nil
	}

	data := &verification.ClientData{
		ClientName:    cliente.NomeRazaoSocial,
		ServiceName:   firstServiceName(cliente),
		ServiceStatus: firstServiceStatus(cliente),
	}
	if err := v.RecordAttempt(true, "", &cpf, data, now); err != nil {
		return nil, err
	}
	if err := s.verifications.Save(ctx, v); err != nil {
		return nil, err
	}

	user := &repository.User{
		ChatUserID:       userID,
		Username:         v.Username,
		CPF:              &cpf,
		ClientName:       data.ClientName,
		ServiceName:      data.ServiceName,
		ServiceStatus:    data.ServiceStatus,
		IsActive:         true,
		CreatedAt:        now,
		LastVerification: &now,
	}
	if err := s.users.Save(ctx, user); err != nil {
		return nil, err
	}
	s.bus.PublishMany(v.PendingEvents())
	s.bus.Publish(events.CPFValidated{
		UserID:      userID,
		CPFMasked:   cpf.Masked(),
		ClientName:  data.ClientName,
		ValidatedAt: now,
	})

	invite := s.issueInvite(ctx, userID, cpf, data.ClientName, data.ServiceName, now)
	return &SubmitResult{Success: true, ClientData: data, Invite: invite}, nil
}

func (s *Service) clientFromCache(cpf valueobjects.CPF) (*hubsoft.Cliente, bool) {
	v, ok := s.cache.Get(cache.CategoryClientData, cpf.String())
	if !ok {
		return nil, false
	}
	cliente, ok := v.(*hubsoft.Cliente)
	return cliente, ok
}

func firstServiceName(c *hubsoft.Cliente) string {
	if len(c.Servicos) == 0 {
		return ""
	}
	return c.Servicos[0].NomeServico
}

func firstServiceStatus(c *hubsoft.Cliente) string {
	if len(c.Servicos) == 0 {
		return ""
	}
	return c.Servicos[0].StatusServico
}

func (s *Service) registerConflict(cpf valueobjects.CPF, newUserID valueobjects.ChatUserId, newUsername string, existing *repository.User, verificationID uuid.UUID, now time.Time) string {
	id := uuid.New().String()
	s.mu.Lock()
	s.confirmations[id] = &pendingConfirmation{
		cpf:            cpf,
		newUserID:      newUserID,
		newUsername:    newUsername,
		existingUser:   existing,
		verificationID: verificationID,
		createdAt:      now,
		expiresAt:      now.Add(conflictConfirmationTTL),
	}
	s.mu.Unlock()

	s.bus.Publish(events.CPFDuplicateDetected{
		VerificationID: verificationID,
		NewUserID:      newUserID,
		ExistingUserID: existing.ChatUserID,
		CPFMasked:      cpf.Masked(),
		DetectedAt:     now,
	})
	return id
}

// ConflictDecision is the subscriber's choice when a CPF is already bound
// to another account.
type ConflictDecision string

const (
	DecisionKeepNew ConflictDecision = "keep_new"
	DecisionKeepOld ConflictDecision = "keep_old"
	DecisionCancel  ConflictDecision = "cancel"
)

// ResolveDuplicateConflict applies the subscriber's decision about which
// account keeps the CPF binding.
func (s *Service) ResolveDuplicateConflict(ctx context.Context, confirmationID string, decision ConflictDecision) (*SubmitResult, error) {
	now := time.Now()

	s.mu.Lock()
	pc, ok := s.confirmations[confirmationID]
	if ok {
		delete(s.confirmations, confirmationID)
	}
	s.mu.Unlock()

	if !ok {
		return &SubmitResult{Success: false, Reason: "confirmation_not_found"}, nil
	}
	if now.After(pc.expiresAt) {
		return &SubmitResult{Success: false, Reason: "confirmation_expired"}, nil
	}

	v, err := s.verifications.FindByID(ctx, pc.verificationID)
	if err != nil {
		return nil, err
	}

	switch decision {
	case DecisionKeepNew:
		return s.resolveKeepNew(ctx, pc, v, now)
	case DecisionKeepOld:
		if v != nil {
			if err := v.Fail("duplicate_cpf_kept_existing_account", now); err == nil {
				s.verifications.Save(ctx, v)
				s.bus.PublishMany(v.PendingEvents())
			}
		}
		return &SubmitResult{Success: false, Reason: "kept_existing_account"}, nil
	case DecisionCancel:
		if v != nil {
			if err := v.Cancel("duplicate_cpf_conflict_cancelled", now); err == nil {
				s.verifications.Save(ctx, v)
				s.bus.PublishMany(v.PendingEvents())
			}
		}
		return &SubmitResult{Success: false, Reason: "cancelled"}, nil
	default:
		return &SubmitResult{Success: false, Reason: "invalid_decision"}, nil
	}
}

func (s *Service) resolveKeepNew(ctx context.Context, pc *pendingConfirmation, v *verification.Verification, now time.Time) (*SubmitResult, error) {
	if err := s.users.RebindCPF(ctx, pc.existingUser.ChatUserID, pc.newUserID, pc.cpf); err != nil {
		return nil, err
	}
	s.bus.Publish(events.CPFRemapped{
		OldUserID:  pc.existingUser.ChatUserID,
		NewUserID:  pc.newUserID,
		CPFMasked:  pc.cpf.Masked(),
		Reason:     "duplicate_cpf_conflict_kept_new_account",
		RemappedAt: now,
	})

	if s.chat != nil && s.mainChatID != 0 {
		if err := s.chat.BanChatMember(ctx, s.mainChatID, int64(pc.existingUser.ChatUserID)); err != nil {
			s.logger.Warn("failed to remove superseded account from chat", "user_id", int64(pc.existingUser.ChatUserID), "error", err)
		}
	}

	data := &verification.ClientData{ClientName: pc.existingUser.ClientName, ServiceName: pc.existingUser.ServiceName, ServiceStatus: pc.existingUser.ServiceStatus}
	if v != nil {
		cpf := pc.cpf
		if err := v.RecordAttempt(true, "", &cpf, data, now); err == nil {
			s.verifications.Save(ctx, v)
			s.bus.PublishMany(v.PendingEvents())
		}
	}

	invite := s.issueInvite(ctx, pc.newUserID, pc.cpf, data.ClientName, data.ServiceName, now)
	return &SubmitResult{Success: true, ClientData: data, Invite: invite}, nil
}

// ProcessExpiredVerifications expires every pending/in-progress
// verification whose 24h TTL has elapsed. Run on a sweep interval and
// on-demand via the cpf-sweep process mode.
func (s *Service) ProcessExpiredVerifications(ctx context.Context) (int, error) {
	now := time.Now()
	expired, err := s.verifications.FindExpiredPending(ctx, now)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, v := range expired {
		if err := v.Expire(now); err != nil {
			s.logger.Warn("failed to expire verification", "verification_id", v.ID, "error", err)
			continue
		}
		if err := s.verifications.Save(ctx, v); err != nil {
			s.logger.Warn("failed to save expired verification", "verification_id", v.ID, "error", err)
			continue
		}
		s.bus.PublishMany(v.PendingEvents())
		count++
	}
	return count, nil
}
