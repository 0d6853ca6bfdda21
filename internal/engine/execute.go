package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/devco/sentinela/internal/cache"
	"github.com/devco/sentinela/internal/domain/events"
	"github.com/devco/sentinela/internal/domain/integration"
	"github.com/devco/sentinela/internal/domain/valueobjects"
	"github.com/devco/sentinela/internal/hubsoft"
)

// ticketSyncPayload is the TICKET_SYNC job body enqueued by ticketuc.
type ticketSyncPayload struct {
	TicketID     int64  `json:"ticket_id"`
	CPF          string `json:"cpf"`
	ClientName   string `json:"client_name"`
	Description  string `json:"description"`
	Category     string `json:"category"`
	AffectedGame string `json:"affected_game"`
}

// atendimentoTypeByCategory maps a ticket category to the upstream's
// atendimento type catalog id, configured on the HubSoft side.
var atendimentoTypeByCategory = map[valueobjects.TicketCategory]int{
	valueobjects.CategoryConnectivity:  1,
	valueobjects.CategoryPerformance:   2,
	valueobjects.CategoryGameIssues:    3,
	valueobjects.CategoryConfiguration: 4,
	valueobjects.CategoryEquipment:     5,
	valueobjects.CategoryOthers:        6,
}

const atendimentoStatusAberto = 1

// execute dispatches a job to its type-specific handler and returns the raw
// response to persist as HubSoftResponse.
func (e *Engine) execute(ctx context.Context, job *integration.Integration) (json.RawMessage, error) {
	switch job.Type {
	case valueobjects.IntegrationTicketSync:
		return e.executeTicketSync(ctx, job)
	case valueobjects.IntegrationUserVerification:
		return e.executeUserVerification(ctx, job)
	case valueobjects.IntegrationClientDataFetch:
		return e.executeClientDataFetch(ctx, job)
	case valueobjects.IntegrationStatusUpdate:
		return e.executeStatusUpdate(ctx, job)
	case valueobjects.IntegrationBulkSync:
		return e.executeBulkSync(ctx, job)
	default:
		return nil, fmt.Errorf("unknown integration type %q", job.Type)
	}
}

func (e *Engine) executeTicketSync(ctx context.Context, job *integration.Integration) (json.RawMessage, error) {
	var p ticketSyncPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, fmt.Errorf("decoding ticket sync payload: %w", err)
	}

	cliente, err := e.hubsoft.VerifyClientByCPF(ctx, p.CPF)
	if err != nil {
		return nil, err
	}
	if cliente == nil {
		return nil, &hubsoft.UpstreamError{Body: "client not found for ticket sync cpf"}
	}

	var servicoID int
	if len(cliente.Servicos) > 0 {
		servicoID = cliente.Servicos[0].IDClienteServico
	}

	atendimento, err := e.hubsoft.CreateTicket(ctx, hubsoft.CreateTicketRequest{
		IDClienteServico:   servicoID,
		IDTipoAtendimento:  atendimentoTypeByCategory[valueobjects.TicketCategory(p.Category)],
		IDAtendimentoStatus: atendimentoStatusAberto,
		Descricao:          p.Description,
		Nome:               p.ClientName,
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(atendimento)
}

// attachTicketSyncResult writes the upstream identifiers back onto the local
// ticket once a TICKET_SYNC job completes successfully.
func (e *Engine) attachTicketSyncResult(ctx context.Context, job *integration.Integration, response json.RawMessage) {
	ticketIDStr, ok := job.Metadata["ticket_id"]
	if !ok {
		return
	}
	ticketIDInt, err := strconv.ParseInt(ticketIDStr, 10, 64)
	if err != nil {
		return
	}

	var atendimento hubsoft.Atendimento
	if err := json.Unmarshal(response, &atendimento); err != nil {
		e.logger.Warn("decoding ticket sync response", "error", err)
		return
	}

	t, err := e.tickets.FindByID(ctx, valueobjects.TicketId(ticketIDInt))
	if err != nil || t == nil {
		return
	}
	t.AttachHubSoft(strconv.Itoa(atendimento.IDAtendimento), atendimento.Protocolo, valueobjects.SyncSynced, time.Now())
	if err := e.tickets.Save(ctx, t); err != nil {
		e.logger.Warn("persisting ticket sync result", "ticket_id", ticketIDInt, "error", err)
		return
	}
	e.bus.PublishMany(t.PendingEvents())
}

// userVerificationPayload is the USER_VERIFICATION job body, used by the
// checkup process mode to re-confirm a subscriber's service is still
// active upstream.
type userVerificationPayload struct {
	UserID int64  `json:"user_id"`
	CPF    string `json:"cpf"`
}

func (e *Engine) executeUserVerification(ctx context.Context, job *integration.Integration) (json.RawMessage, error) {
	var p userVerificationPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, fmt.Errorf("decoding user verification payload: %w", err)
	}

	cliente, err := e.hubsoft.VerifyClientByCPF(ctx, p.CPF)
	if err != nil {
		return nil, err
	}
	if cliente == nil {
		return nil, &hubsoft.UpstreamError{Body: "cpf no longer found upstream"}
	}

	cpf, ok := valueobjects.NewCPF(p.CPF)
	if !ok {
		return nil, fmt.Errorf("invalid cpf in verification job payload")
	}
	user, err := e.users.FindByCPF(ctx, cpf)
	if err != nil {
		return nil, err
	}
	if user != nil {
		user.ClientName = cliente.NomeRazaoSocial
		if len(cliente.Servicos) > 0 {
			user.ServiceName = cliente.Servicos[0].NomeServico
			user.ServiceStatus = cliente.Servicos[0].StatusServico
		}
		now := time.Now()
		user.LastVerification = &now
		if err := e.users.Save(ctx, user); err != nil {
			return nil, err
		}
	}
	return json.Marshal(cliente)
}

type clientDataFetchPayload struct {
	CPF string `json:"cpf"`
}

func (e *Engine) executeClientDataFetch(ctx context.Context, job *integration.Integration) (json.RawMessage, error) {
	var p clientDataFetchPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, fmt.Errorf("decoding client data fetch payload: %w", err)
	}
	cliente, err := e.hubsoft.VerifyClientByCPF(ctx, p.CPF)
	if err != nil {
		return nil, err
	}
	if cliente == nil {
		return nil, &hubsoft.UpstreamError{Body: "cpf not found during client data refresh"}
	}
	if e.cache != nil {
		e.cache.Put(cache.CategoryClientData, p.CPF, cliente, 0)
	}
	return json.Marshal(cliente)
}

// statusUpdatePayload correlates a local ticket with its upstream
// atendimento so a HubSoft-side status change can be mirrored locally.
type statusUpdatePayload struct {
	TicketID        int64  `json:"ticket_id"`
	CPF             string `json:"cpf"`
	HubSoftTicketID string `json:"hubsoft_ticket_id"`
}

var hubsoftStatusToLocal = map[string]valueobjects.TicketStatus{
	"aberto":        valueobjects.TicketOpen,
	"em_atendimento": valueobjects.TicketInProgress,
	"resolvido":     valueobjects.TicketResolved,
	"fechado":       valueobjects.TicketClosed,
}

func (e *Engine) executeStatusUpdate(ctx context.Context, job *integration.Integration) (json.RawMessage, error) {
	var p statusUpdatePayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, fmt.Errorf("decoding status update payload: %w", err)
	}

	atendimentos, err := e.hubsoft.SearchTicketsByCPF(ctx, p.CPF, false, 10)
	if err != nil {
		return nil, err
	}
	var matched *hubsoft.Atendimento
	for i := range atendimentos {
		if strconv.Itoa(atendimentos[i].IDAtendimento) == p.HubSoftTicketID {
			matched = &atendimentos[i]
			break
		}
	}
	if matched == nil {
		return nil, &hubsoft.UpstreamError{Body: "atendimento not found for status update"}
	}

	t, err := e.tickets.FindByID(ctx, valueobjects.TicketId(p.TicketID))
	if err != nil || t == nil {
		return json.Marshal(matched)
	}
	if newStatus, ok := hubsoftStatusToLocal[matched.Status]; ok && t.Status.CanTransition(newStatus) {
		if err := t.ChangeStatus(newStatus, "hubsoft_sync", time.Now()); err == nil {
			if err := e.tickets.Save(ctx, t); err != nil {
				e.logger.Warn("persisting status update", "ticket_id", p.TicketID, "error", err)
			} else {
				e.bus.PublishMany(t.PendingEvents())
			}
		}
	}
	return json.Marshal(matched)
}

// bulkSyncPayload drives an admin-triggered BULK_SYNC job: resync every
// ticket in TicketIDs against HubSoft, BatchSize at a time, pausing
// DelayBetweenBatches between batches to stay under the upstream's rate
// limit.
type bulkSyncPayload struct {
	TicketIDs           []int64 `json:"ticket_ids"`
	BatchSize           int     `json:"batch_size"`
	DelayBetweenBatches int     `json:"delay_between_batches"`
}

const defaultBulkSyncBatchSize = 10

// executeBulkSync resumes from job.Metadata["bulk_sync_next_index"] so a
// retry after a rate-limit hit doesn't resync tickets a prior attempt
// already completed. A 429 partway through a batch stops dispatch
// immediately and surfaces the RateLimitError so the generic retry
// machinery in worker.go reschedules the remainder.
func (e *Engine) executeBulkSync(ctx context.Context, job *integration.Integration) (json.RawMessage, error) {
	var p bulkSyncPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, fmt.Errorf("decoding bulk sync payload: %w", err)
	}
	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBulkSyncBatchSize
	}
	delay := time.Duration(p.DelayBetweenBatches) * time.Second

	start, _ := strconv.Atoi(job.Metadata["bulk_sync_next_index"])
	successful, _ := strconv.Atoi(job.Metadata["bulk_sync_successful"])
	failed, _ := strconv.Atoi(job.Metadata["bulk_sync_failed"])

	for i := start; i < len(p.TicketIDs); i++ {
		if i > start && (i-start)%batchSize == 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := e.syncOneBulkTicket(ctx, valueobjects.TicketId(p.TicketIDs[i])); err != nil {
			if rl, ok := err.(*hubsoft.RateLimitError); ok {
				e.bus.Publish(events.HubSoftRateLimitHit{ResetAfter: rl.ResetAfter, HitAt: time.Now()})
				job.Metadata["bulk_sync_next_index"] = strconv.Itoa(i)
				job.Metadata["bulk_sync_successful"] = strconv.Itoa(successful)
				job.Metadata["bulk_sync_failed"] = strconv.Itoa(failed)
				return nil, err
			}
			failed++
			continue
		}
		successful++
	}

	result := struct {
		Total      int `json:"total"`
		Successful int `json:"successful"`
		Failed     int `json:"failed"`
	}{Total: len(p.TicketIDs), Successful: successful, Failed: failed}
	e.bus.Publish(events.HubSoftBulkSyncCompleted{
		Total:       len(p.TicketIDs),
		Successful:  successful,
		Failed:      failed,
		CompletedAt: time.Now(),
	})
	return json.Marshal(result)
}

// syncOneBulkTicket re-syncs a single locally-known ticket against
// HubSoft, creating the upstream atendimento if it isn't synced yet.
func (e *Engine) syncOneBulkTicket(ctx context.Context, id valueobjects.TicketId) error {
	t, err := e.tickets.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if t == nil {
		return &hubsoft.UpstreamError{Body: "ticket not found for bulk sync"}
	}
	user, err := e.users.FindByChatUserID(ctx, t.UserID)
	if err != nil {
		return err
	}
	if user == nil || user.CPF == nil {
		return &hubsoft.UpstreamError{Body: "user not verified for bulk sync"}
	}

	cliente, err := e.hubsoft.VerifyClientByCPF(ctx, user.CPF.String())
	if err != nil {
		return err
	}
	if cliente == nil {
		return &hubsoft.UpstreamError{Body: "client not found for bulk sync"}
	}
	var servicoID int
	if len(cliente.Servicos) > 0 {
		servicoID = cliente.Servicos[0].IDClienteServico
	}

	atendimento, err := e.hubsoft.CreateTicket(ctx, hubsoft.CreateTicketRequest{
		IDClienteServico:   servicoID,
		IDTipoAtendimento:  atendimentoTypeByCategory[t.Category],
		IDAtendimentoStatus: atendimentoStatusAberto,
		Descricao:          t.Description,
		Nome:               cliente.NomeRazaoSocial,
	})
	if err != nil {
		return err
	}

	t.AttachHubSoft(strconv.Itoa(atendimento.IDAtendimento), atendimento.Protocolo, valueobjects.SyncSynced, time.Now())
	if err := e.tickets.Save(ctx, t); err != nil {
		return err
	}
	e.bus.PublishMany(t.PendingEvents())
	return nil
}
