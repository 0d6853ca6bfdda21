package hubsoft

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
)

// Servico is one active service line attached to a client record.
type Servico struct {
	IDClienteServico int    `json:"id_cliente_servico"`
	NomeServico      string `json:"nome_servico"`
	StatusServico    string `json:"status_servico"`
}

// Cliente is the upstream's view of a subscriber matched by CPF/CNPJ.
type Cliente struct {
	NomeRazaoSocial string    `json:"nome_razaosocial"`
	CPFCNPJ         string    `json:"cpf_cnpj"`
	Servicos        []Servico `json:"servicos"`
}

type buscarClienteResponse struct {
	Status   string    `json:"status"`
	Clientes []Cliente `json:"clientes"`
}

// VerifyClientByCPF looks up the active subscriber bound to cpf. Returns
// (nil, nil) when the upstream reports no match, distinct from a transport
// or server error.
func (c *Client) VerifyClientByCPF(ctx context.Context, cpf string) (*Cliente, error) {
	q := url.Values{
		"busca":          {"cpf_cnpj"},
		"termo_busca":    {cpf},
		"servico_status": {"servico_habilitado"},
		"limit":          {"1"},
	}
	var resp buscarClienteResponse
	if err := c.do(ctx, "GET", "/api/v1/integracao/cliente", q, nil, &resp); err != nil {
		return nil, err
	}
	if !c.statusOK(resp.Status) || len(resp.Clientes) == 0 {
		return nil, nil
	}
	return &resp.Clientes[0], nil
}

// CreateTicketRequest is the payload for atendimento creation.
type CreateTicketRequest struct {
	IDClienteServico  int    `json:"id_cliente_servico"`
	IDTipoAtendimento int    `json:"id_tipo_atendimento"`
	IDAtendimentoStatus int  `json:"id_atendimento_status"`
	Descricao         string `json:"descricao"`
	Nome              string `json:"nome"`
	Telefone          string `json:"telefone"`
}

// Atendimento is the upstream's representation of a support ticket.
type Atendimento struct {
	IDAtendimento int    `json:"id_atendimento"`
	Protocolo     string `json:"protocolo"`
	Status        string `json:"status"`
	DataCadastro  string `json:"data_cadastro"`
	Descricao     string `json:"descricao"`
}

type atendimentoResponse struct {
	Status      string      `json:"status"`
	Atendimento Atendimento `json:"atendimento"`
}

// CreateTicket opens a new upstream atendimento.
func (c *Client) CreateTicket(ctx context.Context, req CreateTicketRequest) (*Atendimento, error) {
	var resp atendimentoResponse
	if err := c.do(ctx, "POST", "/api/v1/integracao/atendimento", nil, req, &resp); err != nil {
		return nil, err
	}
	if !c.statusOK(resp.Status) {
		return nil, &UpstreamError{Body: "hubsoft reported failure creating atendimento"}
	}
	return &resp.Atendimento, nil
}

// AddMessage appends a message to an existing upstream atendimento.
func (c *Client) AddMessage(ctx context.Context, atendimentoID int, mensagem string) error {
	path := fmt.Sprintf("/api/v1/integracao/atendimento/adicionar_mensagem/%d", atendimentoID)
	body := struct {
		Mensagem string `json:"mensagem"`
	}{mensagem}
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, "POST", path, nil, body, &resp); err != nil {
		return err
	}
	if !c.statusOK(resp.Status) {
		return &UpstreamError{Body: "hubsoft reported failure adding message"}
	}
	return nil
}

// AddAttachment uploads a single file to an existing upstream atendimento as
// multipart form field files[0].
func (c *Client) AddAttachment(ctx context.Context, atendimentoID int, filename string, content io.Reader) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("files[0]", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, content); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	token, err := c.accessTokenFor(ctx)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/api/v1/integracao/atendimento/adicionar_anexo/%d", atendimentoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Host+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("uploading attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.InvalidateToken()
		return &UpstreamError{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{StatusCode: resp.StatusCode}
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	if !c.statusOK(out.Status) {
		return &UpstreamError{Body: "hubsoft reported failure adding attachment"}
	}
	return nil
}

type searchTicketsResponse struct {
	Status       string        `json:"status"`
	Atendimentos []Atendimento `json:"atendimentos"`
}

// SearchTicketsByCPF lists every upstream atendimento tied to the client
// bound to cpf. When pendingOnly is true only open atendimentos are
// returned, used by offline-ticket reconciliation to correlate a locally
// created ticket with one already opened upstream.
func (c *Client) SearchTicketsByCPF(ctx context.Context, cpf string, pendingOnly bool, limit int) ([]Atendimento, error) {
	q := url.Values{
		"busca":       {"cpf_cnpj"},
		"termo_busca": {cpf},
	}
	if pendingOnly {
		q.Set("apenas_pendente", "sim")
	} else {
		q.Set("apenas_pendente", "nao")
	}
	if limit <= 0 {
		limit = 20
	}
	q.Set("limit", strconv.Itoa(limit))

	var resp searchTicketsResponse
	if err := c.do(ctx, "GET", "/api/v1/integracao/cliente/atendimento", q, nil, &resp); err != nil {
		return nil, err
	}
	if !c.statusOK(resp.Status) {
		return nil, nil
	}
	return resp.Atendimentos, nil
}

type listAtendimentosResponse struct {
	Status       string        `json:"status"`
	Atendimentos []Atendimento `json:"atendimentos"`
	TotalPaginas int           `json:"total_paginas"`
}

// ListAtendimentosPaginatedParams narrows ListAtendimentosPaginated;
// zero-valued DataInicio/DataFim/Relacoes are omitted from the query.
type ListAtendimentosPaginatedParams struct {
	Pagina         int
	ItensPorPagina int
	DataInicio     string
	DataFim        string
	Relacoes       string
}

// ListAtendimentosPaginated pages through every upstream atendimento. With
// Pagina=0, ItensPorPagina=1 it serves as CheckAPIHealth's connectivity
// probe.
func (c *Client) ListAtendimentosPaginated(ctx context.Context, p ListAtendimentosPaginatedParams) ([]Atendimento, int, error) {
	q := url.Values{
		"pagina":           {strconv.Itoa(p.Pagina)},
		"itens_por_pagina": {strconv.Itoa(p.ItensPorPagina)},
	}
	if p.DataInicio != "" {
		q.Set("data_inicio", p.DataInicio)
	}
	if p.DataFim != "" {
		q.Set("data_fim", p.DataFim)
	}
	if p.Relacoes != "" {
		q.Set("relacoes", p.Relacoes)
	}

	var resp listAtendimentosResponse
	if err := c.do(ctx, "GET", "/api/v1/integracao/atendimento/todos", q, nil, &resp); err != nil {
		return nil, 0, err
	}
	if !c.statusOK(resp.Status) {
		return nil, 0, &UpstreamError{Body: "hubsoft reported failure listing atendimentos"}
	}
	return resp.Atendimentos, resp.TotalPaginas, nil
}

// CheckAPIHealth reports whether HubSoft is reachable and responding, via
// the cheapest real call available: a single-item atendimentos page,
// mirroring the monitor's own probe rather than a dedicated health route
// (HubSoft exposes none).
func (c *Client) CheckAPIHealth(ctx context.Context) error {
	_, _, err := c.ListAtendimentosPaginated(ctx, ListAtendimentosPaginatedParams{Pagina: 0, ItensPorPagina: 1})
	return err
}
