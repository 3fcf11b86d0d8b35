package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/duespark/dunning/internal/model"
)

// Provider is one concrete messaging backend behind the dispatcher.
type Provider interface {
	Name() string
	Ready() bool
	Acquire() bool
	Send(ctx context.Context, req Request) Result
}

// HTTPProvider posts sends as JSON to a provider endpoint, one path per
// channel, guarded by a circuit breaker.
type HTTPProvider struct {
	name         string
	baseURL      string
	emailPath    string
	whatsappPath string
	client       *http.Client
	br           *MicroBreaker
}

func NewHTTPProvider(
	name, baseURL, emailPath, whatsappPath string,
	timeoutMs, failThreshold, openForMs int,
) *HTTPProvider {
	if timeoutMs <= 0 {
		timeoutMs = 10000
	}

	if failThreshold <= 0 {
		failThreshold = 3
	}

	if openForMs <= 0 {
		openForMs = 15000
	}

	return &HTTPProvider{
		name:         name,
		baseURL:      baseURL,
		emailPath:    emailPath,
		whatsappPath: whatsappPath,
		client:       &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		br:           NewMicroBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond),
	}
}

func (p *HTTPProvider) Name() string  { return p.name }
func (p *HTTPProvider) Ready() bool   { return p.br.Ready() }
func (p *HTTPProvider) Acquire() bool { return p.br.TryAcquire() }

func (p *HTTPProvider) Send(ctx context.Context, req Request) Result {
	path := p.emailPath
	if req.Channel == model.ChannelWhatsApp {
		path = p.whatsappPath
	}

	id, err := p.post(ctx, path, req)
	if err != nil {
		p.br.OnFailure()
		return Result{Success: false, Error: err.Error()}
	}

	p.br.OnSuccess()

	return Result{Success: true, MessageID: id}
}

// providerResponse is the minimal shape expected back from a provider.
type providerResponse struct {
	MessageID string `json:"message_id"`
}

func (p *HTTPProvider) post(ctx context.Context, path string, body Request) (string, error) {
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return "", err
	}

	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return "", fmt.Errorf("provider=%s path=%s status=%d", p.name, path, res.StatusCode)
	}

	var pr providerResponse
	data, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	_ = json.Unmarshal(data, &pr)

	return pr.MessageID, nil
}
