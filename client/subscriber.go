// Package client talks to the event relay: a reconnecting text/event-stream
// subscriber and an HTTP publisher.
package client

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
	"board-sync/internal/consts"
)

const (
	defaultMinBackoff = time.Second
	defaultMaxBackoff = 5 * time.Second
	maxLineSize       = 1 << 20
)

// Status is the connection state reported while a Subscriber runs.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusClosed       Status = "closed"
)

// Message is one dispatched server-sent event.
type Message struct {
	Event string
	Data  string
	ID    string
}

// Subscriber keeps a stream open for one owner and reconnects with a
// doubling backoff when it drops.
type Subscriber struct {
	BaseURL    string
	Owner      string
	Token      string
	Client     *http.Client
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// OnStatus is called from the Run goroutine on every state change.
	OnStatus func(Status)
	Logger   *log.Entry
}

// NewSubscriber creates a Subscriber for owner against the relay at baseURL.
func NewSubscriber(baseURL, owner string) *Subscriber {
	return &Subscriber{BaseURL: baseURL, Owner: owner}
}

// Run streams events to handle until ctx is cancelled, which returns nil.
// A rejected owner stops the subscriber with the TransportError.
func (s *Subscriber) Run(ctx context.Context, handle func(Message)) error {
	minBackoff, maxBackoff := s.MinBackoff, s.MaxBackoff
	if minBackoff <= 0 {
		minBackoff = defaultMinBackoff
	}
	if maxBackoff < minBackoff {
		maxBackoff = max(defaultMaxBackoff, minBackoff)
	}
	logger := s.Logger
	if logger == nil {
		logger = log.WithField("owner", s.Owner)
	}

	var (
		status  Status
		lastID  string
		backoff = minBackoff
	)
	setStatus := func(st Status) {
		if st == status {
			return
		}
		status = st
		if s.OnStatus != nil {
			s.OnStatus(st)
		}
	}
	defer setStatus(StatusClosed)

	for {
		if ctx.Err() != nil {
			return nil
		}
		resp, err := s.connect(ctx, lastID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var te *TransportError
			if errors.As(err, &te) && (te.StatusCode == http.StatusBadRequest || te.StatusCode == http.StatusUnauthorized) {
				return err
			}
			logger.WithError(err).Debug("stream connect failed")
		} else {
			setStatus(StatusConnected)
			backoff = minBackoff
			err = readStream(resp.Body, func(m Message) {
				if m.ID != "" {
					lastID = m.ID
				}
				handle(m)
			}, func(d time.Duration) {
				if d > 0 {
					backoff = d
				}
			})
			resp.Body.Close()
			if ctx.Err() != nil {
				return nil
			}
			logger.WithError(err).Debug("stream dropped")
		}

		setStatus(StatusReconnecting)
		if !sleep(ctx, backoff) {
			return nil
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (s *Subscriber) connect(ctx context.Context, lastID string) (*http.Response, error) {
	const op = "subscribe"
	target, err := eventsURL(s.BaseURL, s.Owner)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	if s.Token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+s.Token)
	}
	if lastID != "" {
		req.Header.Set("Last-Event-ID", lastID)
	}
	hc := s.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(op, resp)
	}
	return resp, nil
}

// readStream parses a text/event-stream body, calling handle for each
// dispatched event and retry when the server sets a reconnection delay.
// It returns when the body ends.
func readStream(r io.Reader, handle func(Message), retry func(time.Duration)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		event string
		id    string
		data  []string
	)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			if len(data) > 0 {
				name := event
				if name == "" {
					name = domain.DefaultEventName
				}
				handle(Message{Event: name, Data: strings.Join(data, "\n"), ID: id})
			}
			event, data = "", nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		case "id":
			id = value
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && retry != nil {
				retry(time.Duration(ms) * time.Millisecond)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// DecodeEvent decodes the JSON payload of m. The event name fills in a
// missing type.
func DecodeEvent(m Message) (domain.Event, error) {
	var ev domain.Event
	if err := sonic.UnmarshalString(m.Data, &ev); err != nil {
		return domain.Event{}, err
	}
	if ev.Type == "" && m.Event != domain.DefaultEventName {
		ev.Type = m.Event
	}
	return ev, nil
}

func eventsURL(base, owner string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + consts.EventsRoute)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if owner != "" {
		q.Set(consts.OwnerQueryParam, owner)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
