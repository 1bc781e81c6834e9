package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"arxivchat/internal/util"
)

const maxRetriesPerProvider = 2

// SetRetryBackoff sets the base sleep between retries on one provider.
func (m *Manager) SetRetryBackoff(d time.Duration) {
	m.mu.Lock()
	m.backoff = d
	m.mu.Unlock()
}

// SetCallTimeout bounds every individual provider attempt.
func (m *Manager) SetCallTimeout(d time.Duration) {
	m.mu.Lock()
	m.callTimeout = d
	m.mu.Unlock()
}

// Complete runs req against the LLM providers in preferred order, retrying
// rate-limited and transient failures and cooling down providers that are out
// of quota. When every provider fails the error wraps
// util.ErrExternalUnavailable.
func (m *Manager) Complete(ctx context.Context, paperID string, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	var out GenerateResponse
	info, err := m.failover(ctx, "llm", m.PreferredLLMOrder(), func(callCtx context.Context, idx int) (ProviderInfo, error) {
		p, _ := m.LLMProviderByIndex(idx)
		resp, info, err := p.Generate(callCtx, req)
		if err == nil {
			out = resp
		}
		return info, err
	}, req.Operation, paperID)
	return out, info, err
}

// EmbedTexts embeds inputs with the embedding providers in preferred order.
// A preferred index >= 0 is tried first.
func (m *Manager) EmbedTexts(ctx context.Context, paperID string, req EmbedRequest, preferred int) ([][]float32, ProviderInfo, error) {
	if req.Dimension <= 0 {
		req.Dimension = m.embedDim
	}
	order := m.PreferredEmbedOrder()
	if preferred >= 0 && preferred < len(m.embedProviders) {
		order = append([]int{preferred}, without(order, preferred)...)
	}
	var out [][]float32
	info, err := m.failover(ctx, "embed", order, func(callCtx context.Context, idx int) (ProviderInfo, error) {
		p, _ := m.EmbedProviderByIndex(idx)
		vecs, info, err := p.Embed(callCtx, req)
		if err == nil && len(vecs) != len(req.Inputs) {
			err = fmt.Errorf("%s returned %d embeddings for %d inputs", info.Name, len(vecs), len(req.Inputs))
		}
		if err == nil {
			out = vecs
		}
		return info, err
	}, req.Operation, paperID)
	return out, info, err
}

func (m *Manager) failover(ctx context.Context, kind string, order []int, call func(context.Context, int) (ProviderInfo, error), operation, paperID string) (ProviderInfo, error) {
	if len(order) == 0 {
		return ProviderInfo{}, fmt.Errorf("%w: no %s providers configured", util.ErrExternalUnavailable, kind)
	}
	var lastErr error
	attempt := 0
	for _, idx := range order {
		key := fmt.Sprintf("%s-%d", kind, idx)
		if m.disabled(key) {
			continue
		}
		for retry := 0; retry <= maxRetriesPerProvider; retry++ {
			if err := ctx.Err(); err != nil {
				return ProviderInfo{}, fmt.Errorf("%w: %s %s: %v", util.ErrExternalUnavailable, kind, operation, err)
			}
			attempt++
			info, err := m.attempt(ctx, idx, call)
			if err == nil {
				m.record(ctx, CallRecord{Operation: operation, PaperID: paperID, Provider: info, Attempt: attempt, Status: "ok"})
				return info, nil
			}
			lastErr = err
			errType := ClassifyError(err)
			if ctx.Err() != nil {
				errType = ErrorTransient
			}
			if info.Name == "" {
				info.Name = fmt.Sprintf("provider-%d", idx)
			}
			m.record(ctx, CallRecord{Operation: operation, PaperID: paperID, Provider: info, Attempt: attempt, Status: "failed", ErrorType: errType})

			switch errType {
			case ErrorContext:
				return info, fmt.Errorf("%s %s: %w", kind, operation, err)
			case ErrorRate, ErrorTransient:
				if retry < maxRetriesPerProvider && m.sleep(ctx, time.Duration(retry+1)*m.retryBackoff()) {
					continue
				}
				if errType == ErrorRate {
					m.disable(key, 2*time.Minute)
				}
			case ErrorQuota:
				m.disable(key, m.cooldown)
			default:
				m.disable(key, time.Minute)
			}
			break
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("all %s providers cooling down", kind)
	}
	return ProviderInfo{}, fmt.Errorf("%w: %s %s: %v", util.ErrExternalUnavailable, kind, operation, lastErr)
}

func (m *Manager) attempt(ctx context.Context, idx int, call func(context.Context, int) (ProviderInfo, error)) (ProviderInfo, error) {
	timeout := m.timeout()
	if timeout <= 0 {
		return call(ctx, idx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	info, err := call(callCtx, idx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !strings.Contains(err.Error(), "deadline") {
		err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return info, err
}

func (m *Manager) record(ctx context.Context, rec CallRecord) {
	if m.recorder != nil {
		m.recorder.RecordCall(ctx, rec)
	}
}

func (m *Manager) disabled(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.disabledUntil[key]
	return ok && m.now().Before(until)
}

func (m *Manager) disable(key string, d time.Duration) {
	m.mu.Lock()
	m.disabledUntil[key] = m.now().Add(d)
	m.mu.Unlock()
}

func (m *Manager) retryBackoff() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backoff
}

func (m *Manager) timeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callTimeout
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func without(order []int, idx int) []int {
	out := make([]int, 0, len(order))
	for _, i := range order {
		if i != idx {
			out = append(out, i)
		}
	}
	return out
}
