package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/devco/sentinela/internal/domain/events"
	"github.com/devco/sentinela/internal/domain/integration"
	"github.com/devco/sentinela/internal/domain/ticket"
	"github.com/devco/sentinela/internal/domain/valueobjects"
	"github.com/devco/sentinela/internal/hubsoft"
	"github.com/devco/sentinela/internal/repository"
)

const offlineSyncMaxRetries = 5
const offlineSyncTimeoutSeconds = 30

// correlationWindow bounds how far apart a local ticket and a candidate
// upstream atendimento may have been created and still be considered the
// same ticket.
const correlationWindow = 24 * time.Hour

// parseDataCadastro accepts both the RFC3339 form and the bare
// "2006-01-02 15:04:05" form HubSoft sometimes returns for data_cadastro.
func parseDataCadastro(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02 15:04:05", raw); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// ReconcileResult summarizes one offline-ticket reconciliation pass.
type ReconcileResult struct {
	Total      int
	Correlated int
	Created    int
	Failed     int
}

// reconcileLoop periodically correlates locally-created tickets that never
// synced with one already open upstream, creating one only when no match is
// found. This is the offline-ticket recovery path: the bot keeps accepting
// tickets while HubSoft is down, and this loop catches them up once it's
// back.
func (e *Engine) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.reconcileOfflineTickets(ctx); err != nil {
				e.logger.Error("offline ticket reconciliation", "error", err)
			}
		}
	}
}

func (e *Engine) reconcileOfflineTickets(ctx context.Context) (*ReconcileResult, error) {
	offline, err := e.tickets.FindOfflineTickets(ctx)
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{Total: len(offline)}
	now := time.Now()

	for _, t := range offline {
		user, err := e.users.FindByChatUserID(ctx, t.UserID)
		if err != nil || user == nil || user.CPF == nil {
			result.Failed++
			continue
		}

		candidates, err := e.hubsoft.SearchTicketsByCPF(ctx, user.CPF.String(), true, 20)
		if err != nil {
			result.Failed++
			continue
		}

		nearby := make([]hubsoft.Atendimento, 0, len(candidates))
		for _, c := range candidates {
			created, ok := parseDataCadastro(c.DataCadastro)
			if !ok {
				continue
			}
			if created.Sub(t.CreatedAt).Abs() <= correlationWindow {
				nearby = append(nearby, c)
			}
		}

		if match, ok := hubsoft.BestMatch(t.Description, nearby, func(a hubsoft.Atendimento) string { return a.Descricao }); ok {
			note := fmt.Sprintf("Correlacionado com o protocolo local %s em %s", t.LocalProtocol, now.Format(time.RFC3339))
			if err := e.hubsoft.AddMessage(ctx, match.IDAtendimento, note); err != nil {
				e.logger.Warn("failed to annotate upstream atendimento with correlation note", "ticket_id", int64(t.ID), "atendimento_id", match.IDAtendimento, "error", err)
			}
			t.AttachHubSoft(strconv.Itoa(match.IDAtendimento), match.Protocolo, valueobjects.SyncCorrelated, now)
			if err := e.tickets.Save(ctx, t); err != nil {
				result.Failed++
				continue
			}
			e.bus.PublishMany(t.PendingEvents())
			result.Correlated++
			continue
		}

		if err := e.enqueueTicketSyncRetry(ctx, t, user); err != nil {
			result.Failed++
			continue
		}
		result.Created++
	}

	e.bus.Publish(events.HubSoftBulkSyncCompleted{
		Total:       result.Total,
		Successful:  result.Correlated + result.Created,
		Failed:      result.Failed,
		CompletedAt: now,
	})
	return result, nil
}

// enqueueTicketSyncRetry schedules a fresh TICKET_SYNC attempt for a ticket
// that never matched an existing upstream atendimento.
func (e *Engine) enqueueTicketSyncRetry(ctx context.Context, t *ticket.Ticket, user *repository.User) error {
	payload, err := json.Marshal(ticketSyncPayload{
		TicketID:     int64(t.ID),
		CPF:          user.CPF.String(),
		ClientName:   user.ClientName,
		Description:  t.Description,
		Category:     string(t.Category),
		AffectedGame: t.AffectedGame,
	})
	if err != nil {
		return err
	}

	job := integration.New(uuid.New(), valueobjects.IntegrationTicketSync, valueobjects.PriorityNormal, payload, offlineSyncMaxRetries, offlineSyncTimeoutSeconds)
	job.Metadata["ticket_id"] = strconv.FormatInt(int64(t.ID), 10)
	if err := job.Schedule(time.Time{}, time.Now()); err != nil {
		return err
	}
	if err := e.integrations.Save(ctx, job); err != nil {
		return err
	}
	e.bus.PublishMany(job.PendingEvents())
	return nil
}
