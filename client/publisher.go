package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"board-sync/domain"
)

const maxErrorBody = 1024

// Publisher posts events to the relay for one owner.
type Publisher struct {
	BaseURL string
	Owner   string
	Token   string
	Gzip    bool
	Client  *http.Client
}

// NewPublisher creates a Publisher for owner against the relay at baseURL.
func NewPublisher(baseURL, owner string) *Publisher {
	return &Publisher{BaseURL: baseURL, Owner: owner, Client: http.DefaultClient}
}

// Publish sends ev. Any response other than 200 is a TransportError.
func (p *Publisher) Publish(ctx context.Context, ev domain.Event) error {
	const op = "publish"
	payload, err := sonic.Marshal(ev)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	target, err := eventsURL(p.BaseURL, p.Owner)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}

	var body io.Reader = bytes.NewReader(payload)
	if p.Gzip {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return &TransportError{Op: op, Err: err}
		}
		if err := zw.Close(); err != nil {
			return &TransportError{Op: op, Err: err}
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if p.Gzip {
		req.Header.Set(echo.HeaderContentEncoding, "gzip")
	}
	if p.Token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+p.Token)
	}

	hc := p.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(op, resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func statusError(op string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	e := &TransportError{Op: op, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	if resp.StatusCode == http.StatusBadRequest {
		e.Err = domain.ErrMissingOwner
	}
	return e
}
