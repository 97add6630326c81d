package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
	"board-sync/internal/consts"
	"board-sync/relay"
)

// Register wires up the relay routes on the provided Echo instance.
func Register(e *echo.Echo, r Relay, auth Authenticator, logger *log.Logger) {
	if r.Hub == nil {
		panic("api.Register: relay hub is nil")
	}
	if r.Broadcaster == nil {
		r.Broadcaster = r.Hub
	}
	if r.KeepAlive <= 0 {
		r.KeepAlive = defaultKeepAlive
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	e.GET(consts.EventsRoute, subscribeEvents(r.Hub, auth, r.KeepAlive, logger))
	e.POST(consts.EventsRoute, publishEvent(r.Broadcaster, r.Deduper, auth, logger))
	e.GET(consts.HealthzRoute, healthz(r.Hub))
}

func healthz(hub *relay.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]int{"subscribers": hub.Len()})
	}
}

// subscribeEvents holds a text/event-stream open for the owner, writing
// relayed frames in order and a ping every keepAlive.
func subscribeEvents(hub *relay.Hub, auth Authenticator, keepAlive time.Duration, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner, status, err := resolveOwner(c, auth)
		if err != nil {
			if errors.Is(err, domain.ErrMissingOwner) {
				return c.String(status, missingOwnerMessage)
			}
			return c.String(status, err.Error())
		}
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		ch := hub.Subscribe(owner)
		defer hub.Unsubscribe(ch)
		c.Response().WriteHeader(http.StatusOK)
		flusher.Flush()

		ctx := c.Request().Context()
		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		entry := logger.WithField("owner", owner)
		entry.Debug("subscriber connected")
		defer entry.Debug("subscriber disconnected")

		for {
			var f relay.Frame
			select {
			case <-ctx.Done():
				return nil
			case f = <-ch.Frames():
			case now := <-ticker.C:
				f = relay.PingFrame(now)
			}
			if _, err := f.WriteTo(c.Response()); err != nil {
				entry.WithError(err).Debug("write to subscriber failed")
				return nil
			}
			flusher.Flush()
		}
	}
}

// publishEvent relays the posted JSON to the owner's subscriber verbatim.
// Only the type and id fields are read; gzip bodies are inflated first.
func publishEvent(bc relay.Broadcaster, deduper relay.Deduper, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newPublishMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		owner, status, ownerErr := resolveOwner(c, auth)
		if ownerErr != nil {
			metrics.SetErrorStage("owner")
			if errors.Is(ownerErr, domain.ErrMissingOwner) {
				return c.String(status, missingOwnerMessage)
			}
			return c.String(status, ownerErr.Error())
		}
		metrics.SetOwnerPresent(true)

		body, readErr := readEventBody(c.Request(), publishMaxSize)
		if errors.Is(readErr, errInvalidGzip) {
			metrics.SetErrorStage("read_body")
			return c.String(http.StatusBadRequest, readErr.Error())
		}
		if readErr != nil {
			metrics.SetErrorStage("read_body")
			logger.WithError(readErr).WithField("owner", owner).Error("Error processing event")
			return c.String(http.StatusInternalServerError, processingErrorMessage)
		}
		data, head, decodeErr := compactEvent(body)
		if decodeErr != nil {
			metrics.SetErrorStage("decode")
			logger.WithError(decodeErr).WithField("owner", owner).Error("Error processing event")
			return c.String(http.StatusInternalServerError, processingErrorMessage)
		}
		metrics.SetEventType(head.name())

		recorded := false
		if deduper != nil && head.ID != "" {
			added, dedupeErr := deduper.Add(ctx, owner, head.ID)
			switch {
			case dedupeErr != nil:
				logger.WithError(dedupeErr).WithField("owner", owner).Warn("dedupe lookup failed, relaying anyway")
			case !added:
				metrics.SetDuplicate(true)
				return c.String(http.StatusOK, eventSentMessage)
			default:
				recorded = true
			}
		}

		if bcErr := bc.Broadcast(ctx, owner, relay.Frame{Event: head.name(), Data: data}); bcErr != nil {
			metrics.SetErrorStage("broadcast")
			logger.WithError(bcErr).WithField("owner", owner).Error("Error processing event")
			if recorded {
				if rmErr := deduper.Remove(ctx, owner, head.ID); rmErr != nil {
					logger.WithError(rmErr).WithField("owner", owner).Warn("failed to forget event id")
				}
			}
			return c.String(http.StatusInternalServerError, processingErrorMessage)
		}
		return c.String(http.StatusOK, eventSentMessage)
	}
}
