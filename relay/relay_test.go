package relay

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"board-sync/domain"
	"board-sync/internal/consts"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		rc.Close()
		m.Close()
	})
	return rc, m
}

func receive(t *testing.T, ch *Channel) Frame {
	t.Helper()
	select {
	case f := <-ch.Frames():
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame received")
	}
	return Frame{}
}

func TestHubSubscribeSendUnsubscribe(t *testing.T) {
	h := NewHub(4)
	ch := h.Subscribe("user1")
	if !h.Send("user1", Frame{Event: "statusUpdate", Data: []byte("hello")}) {
		t.Fatal("send to subscribed owner failed")
	}
	if f := receive(t, ch); string(f.Data) != "hello" {
		t.Fatalf("expected hello got %s", f.Data)
	}
	h.Unsubscribe(ch)
	if h.Send("user1", Frame{Data: []byte("world")}) {
		t.Fatal("send after unsubscribe must be dropped")
	}
	select {
	case <-ch.Frames():
		t.Fatal("received message after removal")
	default:
	}
}

func TestHubSendWithoutSubscriberIsNoop(t *testing.T) {
	h := NewHub(0)
	if err := h.Broadcast(context.Background(), "nobody", Frame{Event: "ping"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if h.Len() != 0 {
		t.Fatalf("expected no registrations, got %d", h.Len())
	}
}

func TestHubLastSubscriberWins(t *testing.T) {
	h := NewHub(4)
	first := h.Subscribe("user1")
	second := h.Subscribe("user1")
	h.Send("user1", Frame{Data: []byte("x")})
	receive(t, second)
	select {
	case <-first.Frames():
		t.Fatal("replaced channel received a frame")
	default:
	}
	h.Unsubscribe(first)
	if !h.Subscribed("user1") {
		t.Fatal("teardown of the replaced channel removed the newer registration")
	}
	h.Unsubscribe(second)
	if h.Subscribed("user1") {
		t.Fatal("expected registration removed")
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	h := NewHub(1)
	h.Subscribe("user1")
	if !h.Send("user1", Frame{Data: []byte("1")}) {
		t.Fatal("first send failed")
	}
	if h.Send("user1", Frame{Data: []byte("2")}) {
		t.Fatal("send to full buffer must drop")
	}
}

func TestHubPreservesOrder(t *testing.T) {
	h := NewHub(16)
	ch := h.Subscribe("user1")
	for i := 0; i < 10; i++ {
		h.Send("user1", Frame{Data: []byte{byte('0' + i)}})
	}
	for i := 0; i < 10; i++ {
		if f := receive(t, ch); f.Data[0] != byte('0'+i) {
			t.Fatalf("frame %d out of order: %s", i, f.Data)
		}
	}
}

func TestFrameWriteTo(t *testing.T) {
	var buf bytes.Buffer
	if _, err := (Frame{Event: "statusUpdate", Data: []byte(`{"a":1}`)}).WriteTo(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := consts.SSEEventPrefix + "statusUpdate\n" + consts.SSEDataPrefix + `{"a":1}` + consts.SSEFrameEnd
	if buf.String() != want {
		t.Fatalf("unexpected frame %q", buf.String())
	}

	buf.Reset()
	if _, err := (Frame{Data: []byte("a\nb")}).WriteTo(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.String() != "event: message\ndata: a\ndata: b\n\n" {
		t.Fatalf("unexpected multi-line frame %q", buf.String())
	}
}

func TestPingFrame(t *testing.T) {
	f := PingFrame(time.UnixMilli(1234))
	if f.Event != domain.Ping || !strings.Contains(string(f.Data), `"time":1234`) {
		t.Fatalf("unexpected ping frame %s %s", f.Event, f.Data)
	}
}

func TestRedisFanoutDeliversToHub(t *testing.T) {
	rc, _ := setupRedis(t)
	h := NewHub(4)
	ch := h.Subscribe("user1")
	other := h.Subscribe("user2")
	fan := NewRedisFanout(rc, "chan", h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fan.Run(ctx)
		close(done)
	}()
	// wait for subscription to start
	time.Sleep(50 * time.Millisecond)

	if err := fan.Broadcast(context.Background(), "user1", Frame{Event: "deleteTask", Data: []byte(`{"type":"deleteTask","taskId":"t1"}`)}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	f := receive(t, ch)
	if f.Event != "deleteTask" || string(f.Data) != `{"type":"deleteTask","taskId":"t1"}` {
		t.Fatalf("unexpected frame %s %s", f.Event, f.Data)
	}
	select {
	case <-other.Frames():
		t.Fatal("frame delivered to another owner")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit")
	}
}

func TestRedisFanoutIgnoresMalformedPayloads(t *testing.T) {
	rc, _ := setupRedis(t)
	h := NewHub(4)
	ch := h.Subscribe("user1")
	fan := NewRedisFanout(rc, "chan", h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		fan.Run(ctx)
	}()
	time.Sleep(50 * time.Millisecond)

	for _, payload := range []string{"not json", `{"event":"x","data":{}}`} {
		if err := rc.Publish(context.Background(), "chan", payload).Err(); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if err := fan.Broadcast(context.Background(), "user1", Frame{Event: "ping", Data: []byte(`{}`)}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if f := receive(t, ch); f.Event != "ping" {
		t.Fatalf("unexpected frame %s", f.Event)
	}
	cancel()
	wg.Wait()
}

func TestRedisDeduper(t *testing.T) {
	rc, m := setupRedis(t)
	d := NewRedisDeduper(rc, time.Minute)
	ctx := context.Background()

	added, err := d.Add(ctx, "user1", "ev1")
	if err != nil || !added {
		t.Fatalf("first add: %v %v", added, err)
	}
	added, err = d.Add(ctx, "user1", "ev1")
	if err != nil || added {
		t.Fatalf("second add must report duplicate: %v %v", added, err)
	}
	added, err = d.Add(ctx, "user2", "ev1")
	if err != nil || !added {
		t.Fatalf("ids are scoped per owner: %v %v", added, err)
	}
	if ttl := m.TTL(consts.DedupeKeyPrefix + "user1:ev1"); ttl != time.Minute {
		t.Fatalf("expected ttl %v, got %v", time.Minute, ttl)
	}
	m.FastForward(time.Minute + time.Second)
	added, err = d.Add(ctx, "user1", "ev1")
	if err != nil || !added {
		t.Fatalf("expired id must be accepted again: %v %v", added, err)
	}

	if err := d.Remove(ctx, "user1", "ev1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if m.Exists(consts.DedupeKeyPrefix + "user1:ev1") {
		t.Fatal("removed id still recorded")
	}
	added, err = d.Add(ctx, "user1", "ev1")
	if err != nil || !added {
		t.Fatalf("removed id must be accepted again: %v %v", added, err)
	}
	if !m.Exists(consts.DedupeKeyPrefix + "user2:ev1") {
		t.Fatal("remove must not touch other owners")
	}
}
