package client

import (
	"context"

	log "github.com/sirupsen/logrus"

	"board-sync/session"
)

// Sync runs sub and applies every received event to s, reporting the
// connection state to s as it changes. It returns when sub.Run returns.
func Sync(ctx context.Context, sub *Subscriber, s *session.Session) error {
	onStatus := sub.OnStatus
	sub.OnStatus = func(st Status) {
		s.SetConnectionStatus(session.ConnectionStatus(st))
		if onStatus != nil {
			onStatus(st)
		}
	}
	defer func() { sub.OnStatus = onStatus }()

	return sub.Run(ctx, func(m Message) {
		if m.Event == "ping" {
			return
		}
		ev, err := DecodeEvent(m)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{"owner": s.Owner(), "event": m.Event}).Warn("undecodable event ignored")
			return
		}
		s.ApplyRemote(ev)
	})
}
