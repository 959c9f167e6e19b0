package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/timeout"
	"go.uber.org/zap"

	"github.com/and161185/prefsync/internal/errs"
	"github.com/and161185/prefsync/internal/metrics"
	"github.com/and161185/prefsync/internal/model"
)

// DefaultTimeout bounds every remote call. There is deliberately no retry and
// no backoff: a failed write is reported once and never reattempted.
const DefaultTimeout = 10 * time.Second

// HTTPClient implements Service over JSON/HTTP.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	exec    failsafe.Executor[*http.Response]
	log     *zap.Logger

	mu     sync.Mutex
	bearer string // identity-verification token, set on identify
}

var _ Service = (*HTTPClient)(nil)

type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying transport (tests, custom TLS).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		c.exec = failsafe.With[*http.Response](timeout.New[*http.Response](d))
	}
}

// WithLogger attaches a structured logger for one-shot failure reports.
func WithLogger(log *zap.Logger) Option {
	return func(c *HTTPClient) {
		if log != nil {
			c.log = log
		}
	}
}

// NewHTTPClient validates the endpoint and credential up front so every later
// call can assume a usable configuration.
func NewHTTPClient(baseURL, apiKey string, opts ...Option) (*HTTPClient, error) {
	if apiKey == "" {
		return nil, errs.ErrNotConfigured
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", errs.ErrInvalidEndpoint, baseURL)
	}
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{},
		exec:    failsafe.With[*http.Response](timeout.New[*http.Response](DefaultTimeout)),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetBearer installs or clears the per-user identity token sent with
// user-scoped calls.
func (c *HTTPClient) SetBearer(token string) {
	c.mu.Lock()
	c.bearer = token
	c.mu.Unlock()
}

func (c *HTTPClient) getBearer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bearer
}

// do runs one JSON round trip. out == nil means the caller only needs the ack.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	resp, err := c.exec.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Api-Key", c.apiKey)
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if tok := c.getBearer(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		return c.client.Do(req)
	})
	if err != nil {
		c.fail(op, err)
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		msg := remoteMessage(resp.Body)
		err := fmt.Errorf("%s: %w: status %d: %s", op, errs.ErrRemoteRejected, resp.StatusCode, msg)
		c.fail(op, err)
		return err
	}

	if out == nil {
		metrics.RemoteRequestsTotal.WithLabelValues(op, "ok").Inc()
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.fail(op, err)
		return fmt.Errorf("%s: read: %w", op, err)
	}
	if len(raw) == 0 {
		err := fmt.Errorf("%s: %w", op, errs.ErrNoResponseBody)
		c.fail(op, err)
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		err = fmt.Errorf("%s: %w: %v", op, errs.ErrUnparsableResponse, err)
		c.fail(op, err)
		return err
	}
	metrics.RemoteRequestsTotal.WithLabelValues(op, "ok").Inc()
	return nil
}

func (c *HTTPClient) fail(op string, err error) {
	metrics.RemoteRequestsTotal.WithLabelValues(op, "error").Inc()
	c.log.Warn("remote call failed", zap.String("op", op), zap.Error(err))
}

func remoteMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return "no message"
	}
	var we wireError
	if json.Unmarshal(raw, &we) == nil && we.Error != "" {
		return we.Error
	}
	return strings.TrimSpace(string(raw))
}

func userPath(userID, suffix string) string {
	return "/v1/users/" + url.PathEscape(userID) + suffix
}

func (c *HTTPClient) FetchConfig(ctx context.Context) (*model.PreferenceSchema, error) {
	var wc wireConfig
	if err := c.do(ctx, "fetch_config", http.MethodGet, "/v1/config", nil, &wc); err != nil {
		return nil, err
	}
	return fromWireConfig(wc), nil
}

func (c *HTTPClient) FetchUserPreferences(ctx context.Context, userID string) (*model.UserPreferenceState, error) {
	var ws wireUserState
	if err := c.do(ctx, "fetch_user_preferences", http.MethodGet, userPath(userID, "/preferences"), nil, &ws); err != nil {
		return nil, err
	}
	return fromWireUserState(ws), nil
}

func (c *HTTPClient) UpdateUserPreferences(ctx context.Context, userID string, upd PreferenceUpdate) error {
	return c.do(ctx, "update_user_preferences", http.MethodPatch, userPath(userID, "/preferences"), toWireUpdate(upd), nil)
}

func (c *HTTPClient) SubscribeTopic(ctx context.Context, userID, topicID string) error {
	return c.do(ctx, "subscribe_topic", http.MethodPut, userPath(userID, "/topics/"+url.PathEscape(topicID)), nil, nil)
}

func (c *HTTPClient) UnsubscribeTopic(ctx context.Context, userID, topicID string) error {
	return c.do(ctx, "unsubscribe_topic", http.MethodDelete, userPath(userID, "/topics/"+url.PathEscape(topicID)), nil, nil)
}

func (c *HTTPClient) RegisterPushToken(ctx context.Context, userID, token string) error {
	return c.do(ctx, "register_push_token", http.MethodPut, userPath(userID, "/push-token"), wireTokenReq{Token: token}, nil)
}

func (c *HTTPClient) RegisterPhoneNumber(ctx context.Context, userID, number string) error {
	return c.do(ctx, "register_phone_number", http.MethodPut, userPath(userID, "/phone-number"), wirePhoneReq{Number: number}, nil)
}

func (c *HTTPClient) LogAppOpen(ctx context.Context, userID string, meta map[string]string) error {
	return c.do(ctx, "log_app_open", http.MethodPost, userPath(userID, "/events/app-open"), wireEventReq{Meta: meta}, nil)
}

func (c *HTTPClient) LogPushOpen(ctx context.Context, userID string, meta map[string]string) error {
	return c.do(ctx, "log_push_open", http.MethodPost, userPath(userID, "/events/push-open"), wireEventReq{Meta: meta}, nil)
}

func (c *HTTPClient) SyncPermissionStatus(ctx context.Context, userID string, status model.OSPermission) error {
	return c.do(ctx, "sync_permission_status", http.MethodPut, userPath(userID, "/permission"), wirePermissionReq{Status: string(status)}, nil)
}

func (c *HTTPClient) SetUserAttributes(ctx context.Context, userID string, attrs map[string]string) error {
	return c.do(ctx, "set_user_attributes", http.MethodPatch, userPath(userID, "/attributes"), wireAttributesReq{Attributes: attrs}, nil)
}
