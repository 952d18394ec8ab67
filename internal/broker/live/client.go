// Package live drives the brokerage SDK through its HTTP/JSON bridge.
package live

import (
	"bytes"
	"context"
	"crypto/tls"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"brokergw/internal/apperr"
	"brokergw/internal/config"
	"brokergw/internal/pkg/circuit"
	"brokergw/internal/pkg/text"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

const (
	maxBodyBytes   = 4 << 20
	sessionHeader  = "X-Session-Token"
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 256
)

//go:embed envelope.schema.json
var envelopeSchemaJSON []byte

// Client wraps the bridge endpoints. It is shared by every live session;
// per-session state travels in the session token.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      string
	breaker    *circuit.Breaker
	schema     *jsonschema.Schema
}

// NewClient constructs a bridge client from configuration.
func NewClient(cfg config.LiveConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("live broker is disabled")
	}
	raw := strings.TrimSpace(cfg.APIURL)
	if raw == "" {
		return nil, fmt.Errorf("live.api_url cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("parse live.api_url %q failed", raw)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
		} else {
			transport.TLSClientConfig.InsecureSkipVerify = true // #nosec G402
		}
	}
	schema, err := compileEnvelopeSchema()
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		token:      strings.TrimSpace(cfg.APIToken),
		breaker: circuit.New("live-bridge", cfg.BreakerThreshold,
			time.Duration(cfg.BreakerTimeoutSeconds)*time.Second),
		schema: schema,
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func compileEnvelopeSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("envelope.schema.json", bytes.NewReader(envelopeSchemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("envelope.schema.json")
}

// call is one bridge round trip. kind is the category used when the
// envelope reports is_success=false.
type call struct {
	op      string
	method  string
	path    string
	query   url.Values
	payload any
	session string
	order   bool
	kind    apperr.Kind
	redact  []string
}

// do executes c through the breaker and returns the envelope's data node.
func (c *Client) do(ctx context.Context, req call) (gjson.Result, error) {
	var data gjson.Result
	err := c.breaker.Do(func() error {
		var err error
		data, err = c.roundTrip(ctx, req)
		return err
	}, func(err error) bool {
		return apperr.KindOf(err) == apperr.KindBackendUnavailable
	})
	if errors.Is(err, circuit.ErrOpen) {
		return gjson.Result{}, &apperr.Error{Kind: apperr.KindBackendUnavailable, Op: req.op, Detail: "broker bridge circuit open", Err: err}
	}
	return data, err
}

func (c *Client) roundTrip(ctx context.Context, req call) (gjson.Result, error) {
	endpoint, err := c.resolveEndpoint(req.path, req.query)
	if err != nil {
		return gjson.Result{}, apperr.Wrap(apperr.KindBackendUnavailable, req.op, err)
	}
	var body io.Reader
	if req.payload != nil {
		buf, err := json.Marshal(req.payload)
		if err != nil {
			return gjson.Result{}, apperr.Wrap(apperr.KindInvalidRequest, req.op, err)
		}
		body = bytes.NewReader(buf)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint.String(), body)
	if err != nil {
		return gjson.Result{}, apperr.Wrap(apperr.KindUnclassified, req.op, err)
	}
	if req.payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	if req.session != "" {
		httpReq.Header.Set(sessionHeader, req.session)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		e := &apperr.Error{Kind: apperr.KindBackendUnavailable, Op: req.op, Detail: "broker bridge unreachable", Err: err}
		if errors.Is(err, context.DeadlineExceeded) {
			e.Detail = "broker bridge timed out"
		}
		return gjson.Result{}, e
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return gjson.Result{}, &apperr.Error{Kind: apperr.KindBackendUnavailable, Op: req.op, Detail: "reading bridge response failed", Err: err}
	}
	if resp.StatusCode >= 300 {
		return gjson.Result{}, statusError(req, resp.StatusCode, raw)
	}
	return c.decode(req, raw)
}

func (c *Client) decode(req call, raw []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, apperr.Errorf(apperr.KindUnclassified, "malformed bridge response")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return gjson.Result{}, apperr.Wrap(apperr.KindUnclassified, req.op, err)
	}
	if err := c.schema.Validate(doc); err != nil {
		return gjson.Result{}, &apperr.Error{Kind: apperr.KindUnclassified, Op: req.op, Detail: "bridge response violates envelope contract", Err: err}
	}
	env := gjson.ParseBytes(raw)
	if !env.Get("is_success").Bool() {
		kind := req.kind
		if kind == "" {
			kind = apperr.KindUnclassified
		}
		msg := redact(env.Get("message").String(), req.redact)
		if msg == "" {
			msg = "request rejected by broker"
		}
		return gjson.Result{}, &apperr.Error{Kind: kind, Op: req.op, Detail: msg}
	}
	return env.Get("data"), nil
}

func statusError(req call, status int, raw []byte) error {
	msg := ""
	if gjson.ValidBytes(raw) {
		body := gjson.ParseBytes(raw)
		msg = firstNonEmpty(body.Get("message").String(), body.Get("detail").String(), body.Get("error").String())
	} else {
		msg = text.Truncate(strings.TrimSpace(string(raw)), maxErrorBody)
	}
	msg = redact(msg, req.redact)
	if msg == "" {
		msg = http.StatusText(status)
	}
	msg = fmt.Sprintf("bridge returned %d: %s", status, msg)
	kind := apperr.KindUnclassified
	switch {
	case status >= 500:
		kind = apperr.KindBackendUnavailable
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = apperr.KindNotAuthenticated
		if req.kind == apperr.KindLoginFailed {
			kind = apperr.KindLoginFailed
		}
	case status == http.StatusNotFound:
		kind = apperr.KindNotFound
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		kind = apperr.KindInvalidRequest
		if req.order {
			kind = apperr.KindOrderRejected
		}
	}
	return &apperr.Error{Kind: kind, Op: req.op, Detail: msg}
}

func (c *Client) resolveEndpoint(path string, query url.Values) (*url.URL, error) {
	if c.baseURL == nil {
		return nil, fmt.Errorf("live bridge address not set")
	}
	trimmed := strings.TrimSpace(path)
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	base := *c.baseURL
	base.Path = strings.TrimSuffix(base.Path, "/") + trimmed
	base.RawPath = ""
	base.RawQuery = query.Encode()
	base.Fragment = ""
	return &base, nil
}

// streamURL maps the bridge base onto its websocket endpoint.
func (c *Client) streamURL(path string) (*url.URL, error) {
	u, err := c.resolveEndpoint(path, nil)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u, nil
}

func (c *Client) streamHeader(session string) http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	if session != "" {
		h.Set(sessionHeader, session)
	}
	return h
}

func redact(msg string, secrets []string) string {
	for _, s := range secrets {
		if strings.TrimSpace(s) != "" {
			msg = strings.ReplaceAll(msg, s, "***")
		}
	}
	return strings.TrimSpace(msg)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
