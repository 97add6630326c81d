package relay

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"board-sync/domain"
	"board-sync/internal/consts"
)

// Frame is one server-sent event.
type Frame struct {
	Event string
	Data  []byte
}

// NewFrame encodes ev as a frame named after its type.
func NewFrame(ev domain.Event) (Frame, error) {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: ev.Name(), Data: data}, nil
}

// PingFrame builds the keep-alive frame stamped with t.
func PingFrame(t time.Time) Frame {
	f, _ := NewFrame(domain.Event{Type: domain.Ping, Time: t.UnixMilli()})
	return f
}

// WriteTo writes the frame in text/event-stream format. Data containing
// newlines is split over several data lines.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	name := f.Event
	if name == "" {
		name = domain.DefaultEventName
	}
	buf.WriteString(consts.SSEEventPrefix)
	buf.WriteString(name)
	buf.WriteByte('\n')
	for _, line := range strings.Split(string(f.Data), "\n") {
		buf.WriteString(consts.SSEDataPrefix)
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.WriteTo(w)
}
