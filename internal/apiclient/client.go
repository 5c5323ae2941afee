// Package apiclient talks to the Qupid backend over JSON/HTTP.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/suPer8Hu/qupid/internal/analysis"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("apiclient: status %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client

	// AnalyzeRetries bounds retries of the idempotent analysis calls.
	AnalyzeRetries uint64
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		// no client timeout: streams are bounded by ctx
		HTTP:           &http.Client{},
		AnalyzeRetries: 1,
	}
}

type envelope struct {
	Code    *int            `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	msg := strings.TrimSpace(string(b))
	var env envelope
	if json.Unmarshal(b, &env) == nil && env.Message != "" {
		msg = env.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: msg}
}

// doJSON sends body and decodes the response into out. Both the
// {code,message,data} envelope and bare payloads are accepted.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Code != nil {
		if *env.Code != 0 {
			return &StatusError{StatusCode: resp.StatusCode, Message: env.Message}
		}
		raw = env.Data
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

type sessionResp struct {
	SessionID string `json:"sessionId"`
}

func (c *Client) createSession(ctx context.Context, path string, body any) (string, error) {
	var out sessionResp
	if err := c.doJSON(ctx, http.MethodPost, path, body, &out); err != nil {
		return "", err
	}
	if out.SessionID == "" {
		return "", errors.New("apiclient: empty session id")
	}
	return out.SessionID, nil
}

func (c *Client) CreatePersonaSession(ctx context.Context, personaID, instruction string) (string, error) {
	return c.createSession(ctx, "/chat/sessions", map[string]string{
		"personaId":         personaID,
		"systemInstruction": instruction,
	})
}

func (c *Client) CreateCoachSession(ctx context.Context, coachID, userID string) (string, error) {
	return c.createSession(ctx, "/coaches/sessions", map[string]string{
		"coachId": coachID,
		"userId":  userID,
	})
}

type streamReq struct {
	SessionID  string `json:"sessionId"`
	Message    string `json:"message"`
	IsCoaching bool   `json:"isCoaching"`
}

// OpenStream starts a reply stream and returns the raw line-oriented body.
// The caller must close it.
func (c *Client) OpenStream(ctx context.Context, sessionID, message string, isCoaching bool) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/chat/messages/stream", streamReq{
		SessionID:  sessionID,
		Message:    message,
		IsCoaching: isCoaching,
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp.Body, nil
}

// retry runs op once plus up to AnalyzeRetries retries; 4xx responses are final.
func (c *Client) retry(ctx context.Context, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 300 * time.Millisecond
	eb.MaxElapsedTime = 10 * time.Second
	b := backoff.WithContext(backoff.WithMaxRetries(eb, c.AnalyzeRetries), ctx)

	return backoff.Retry(func() error {
		err := op()
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func (c *Client) Analyze(ctx context.Context, turns []analysis.Turn) (*analysis.Report, error) {
	if turns == nil {
		turns = []analysis.Turn{}
	}
	var out analysis.Report
	err := c.retry(ctx, func() error {
		return c.doJSON(ctx, http.MethodPost, "/chat/analyze", map[string]any{"messages": turns}, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) EndCoachingSession(ctx context.Context, sessionID string) (*analysis.Report, error) {
	var out analysis.Report
	path := "/coaches/sessions/" + url.PathEscape(sessionID) + "/end"
	err := c.retry(ctx, func() error {
		return c.doJSON(ctx, http.MethodPost, path, nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// IncrGuestChatCount bumps the guest's practice-chat counter.
func (c *Client) IncrGuestChatCount(ctx context.Context, guestID string) (int64, error) {
	var out struct {
		ChatCount int64 `json:"chatCount"`
	}
	path := "/guests/" + url.PathEscape(guestID) + "/chat-count"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &out); err != nil {
		return 0, err
	}
	return out.ChatCount, nil
}
