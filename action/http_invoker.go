package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/mohitkumar/eduflow/logger"
	"go.uber.org/zap"
)

type idempotencyCtxKey struct{}

// WithIdempotencyKey attaches the key sent as Idempotency-Key so that
// collaborators can drop transport level retries of the same operation.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyCtxKey{}, key)
}

func IdempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyCtxKey{}).(string)
	return key
}

type HTTPInvokerConfig struct {
	BaseURL     string
	MaxRetries  int
	BackoffBase time.Duration
}

var _ Invoker = new(HTTPInvoker)

// HTTPInvoker posts {"params": ...} to <BaseURL>/actions/<actionKey> and
// decodes the JSON object in the response as the action result.
type HTTPInvoker struct {
	conf   HTTPInvokerConfig
	client *http.Client
}

func NewHTTPInvoker(conf HTTPInvokerConfig, client *http.Client) *HTTPInvoker {
	if client == nil {
		client = http.DefaultClient
	}
	if conf.BackoffBase <= 0 {
		conf.BackoffBase = 200 * time.Millisecond
	}
	conf.BaseURL = strings.TrimSuffix(conf.BaseURL, "/")
	return &HTTPInvoker{conf: conf, client: client}
}

func (h *HTTPInvoker) Invoke(ctx context.Context, actionKey string, params map[string]any) (map[string]any, error) {
	body, err := json.Marshal(map[string]any{"params": params})
	if err != nil {
		return nil, ActionInvocationError{ActionKey: actionKey, Err: err}
	}
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = h.conf.BackoffBase
	b := backoff.WithContext(backoff.WithMaxRetries(expBackoff, uint64(h.conf.MaxRetries)), ctx)

	var result map[string]any
	err = backoff.Retry(func() error {
		res, err := h.post(ctx, actionKey, body)
		if err != nil {
			return err
		}
		result = res
		return nil
	}, b)
	if err != nil {
		logger.Error("action invocation failed", zap.String("action", actionKey), zap.Error(err))
		return nil, ActionInvocationError{ActionKey: actionKey, Err: err}
	}
	return result, nil
}

func (h *HTTPInvoker) post(ctx context.Context, actionKey string, body []byte) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.conf.BaseURL+"/actions/"+url.PathEscape(actionKey), bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := IdempotencyKey(ctx); len(key) > 0 {
		req.Header.Set("Idempotency-Key", key)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("collaborator returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, backoff.Permanent(fmt.Errorf("collaborator rejected request with %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
	}
	result := make(map[string]any)
	if len(bytes.TrimSpace(payload)) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("invalid action response: %w", err))
	}
	return result, nil
}
