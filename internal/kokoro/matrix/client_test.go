package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/kokoro/internal/kokoro/processor"
)

const (
	selfID = "@kokoro:example.org"
	roomID = "!room:example.org"
)

func newTestClient(t *testing.T, homeserver string) *Client {
	t.Helper()
	c, err := New(Config{
		Homeserver:  homeserver,
		UserID:      selfID,
		AccessToken: "syt_test",
		Rooms:       []string{roomID},
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func textEvent(sender, room, body string) *event.Event {
	return &event.Event{
		Sender:    id.UserID(sender),
		RoomID:    id.RoomID(room),
		ID:        id.EventID("$evt1"),
		Type:      event.EventMessage,
		Timestamp: 1700000000000,
		Content: event.Content{Parsed: &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    body,
		}},
	}
}

func TestHandleMessage(t *testing.T) {
	edit := textEvent("@alice:example.org", roomID, "* fixed")
	edit.Content.AsMessage().RelatesTo = &event.RelatesTo{Type: event.RelReplace, EventID: "$old"}

	notice := textEvent("@alice:example.org", roomID, "fyi")
	notice.Content.AsMessage().MsgType = event.MsgNotice

	tests := []struct {
		name string
		evt  *event.Event
		want []Message
	}{
		{
			name: "accepted",
			evt:  textEvent("@alice:example.org", roomID, "hello"),
			want: []Message{{
				RoomID:    roomID,
				EventID:   "$evt1",
				Sender:    "@alice:example.org",
				Body:      "hello",
				Timestamp: time.UnixMilli(1700000000000).UTC(),
			}},
		},
		{name: "own message", evt: textEvent(selfID, roomID, "hello")},
		{name: "other room", evt: textEvent("@alice:example.org", "!elsewhere:example.org", "hello")},
		{name: "notice", evt: notice},
		{name: "edit", evt: edit},
		{name: "empty body", evt: textEvent("@alice:example.org", roomID, "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, "https://matrix.example.org")
			var got []Message
			c.handler = func(_ context.Context, m Message) { got = append(got, m) }

			c.handleMessage(context.Background(), tt.evt)

			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("messages (-want +got):\n%s", diff)
			}
		})
	}
}

type sentEvent struct {
	path string
	body map[string]any
}

func fakeHomeserver(t *testing.T) (*httptest.Server, func() []sentEvent) {
	t.Helper()
	var (
		mu   sync.Mutex
		sent []sentEvent
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || !strings.Contains(r.URL.Path, "/send/m.room.message/") {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		sent = append(sent, sentEvent{path: r.URL.Path, body: body})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"event_id":"$reply"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []sentEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]sentEvent(nil), sent...)
	}
}

func TestDeliver_RepliesToSourceEvent(t *testing.T) {
	srv, sent := fakeHomeserver(t)
	c := newTestClient(t, srv.URL)

	err := c.Deliver(context.Background(),
		processor.SuggestedOutput{Name: ReplyOutputName, Data: map[string]any{"body": "hi there"}, Confidence: 0.9},
		processor.IOContext{Platform: Platform, PlatformID: roomID, SourceID: "$src"},
	)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	got := sent()
	if len(got) != 1 {
		t.Fatalf("sent %d events, want 1", len(got))
	}
	if !strings.Contains(got[0].path, roomID) {
		t.Errorf("path %q does not target %s", got[0].path, roomID)
	}
	body := got[0].body
	if body["msgtype"] != "m.text" || body["body"] != "hi there" {
		t.Errorf("event body = %v", body)
	}
	rel, _ := body["m.relates_to"].(map[string]any)
	inReplyTo, _ := rel["m.in_reply_to"].(map[string]any)
	if inReplyTo["event_id"] != "$src" {
		t.Errorf("m.relates_to = %v, want reply to $src", body["m.relates_to"])
	}
}

func TestDeliver_Notice(t *testing.T) {
	srv, sent := fakeHomeserver(t)
	c := newTestClient(t, srv.URL)

	err := c.Deliver(context.Background(),
		processor.SuggestedOutput{Name: ReplyOutputName, Data: map[string]any{"body": "noted", "notice": true}},
		processor.IOContext{Platform: Platform, PlatformID: roomID},
	)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	got := sent()
	if len(got) != 1 || got[0].body["msgtype"] != "m.notice" {
		t.Fatalf("sent = %+v, want one m.notice", got)
	}
	if _, ok := got[0].body["m.relates_to"]; ok {
		t.Error("reply relation set without a source event")
	}
}

func TestDeliver_Rejects(t *testing.T) {
	c := newTestClient(t, "https://matrix.example.org")

	err := c.Deliver(context.Background(),
		processor.SuggestedOutput{Name: ReplyOutputName, Data: map[string]any{"body": "x"}},
		processor.IOContext{Platform: "self", PlatformID: "consciousness"},
	)
	if !errors.Is(err, ErrWrongPlatform) {
		t.Errorf("other platform: err = %v, want ErrWrongPlatform", err)
	}

	err = c.Deliver(context.Background(),
		processor.SuggestedOutput{Name: ReplyOutputName, Data: map[string]any{}},
		processor.IOContext{Platform: Platform, PlatformID: roomID},
	)
	if err == nil {
		t.Error("empty body: expected error")
	}
}

func TestReplyOutputSchema(t *testing.T) {
	out := ReplyOutput()
	if err := out.Schema.Validate([]byte(`{"body":"hello"}`)); err != nil {
		t.Errorf("valid reply rejected: %v", err)
	}
	for _, raw := range []string{`{}`, `{"body":""}`, `{"body":"x","room":"!r"}`} {
		if err := out.Schema.Validate([]byte(raw)); err == nil {
			t.Errorf("%s accepted", raw)
		}
	}
}
