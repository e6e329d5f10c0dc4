// Package matrix connects Kokoro to a Matrix homeserver: room messages
// become inbound content and the matrix.reply output posts answers back.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Platform is the platform name recorded on Matrix conversations. The
// platform id of a conversation is its room id.
const Platform = "matrix"

const (
	backoffMin = 2 * time.Second
	backoffMax = 5 * time.Minute
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string

	// Rooms are the room ids Kokoro joins and listens in. Messages from
	// any other room are ignored.
	Rooms []string

	// DB persists the sync position across restarts. When nil, an
	// in-memory store is used and room history replays on every start.
	DB *sql.DB
}

// Message is a text message received in an allowed room.
type Message struct {
	RoomID    string
	EventID   string
	Sender    string
	Body      string
	Timestamp time.Time
}

// Handler is called for every accepted message, in sync order.
type Handler func(ctx context.Context, msg Message)

// Client wraps the mautrix client.
type Client struct {
	client *mautrix.Client
	cfg    Config
	rooms  map[string]struct{}
	logger *slog.Logger

	handler Handler
}

// New creates a client. It does not contact the homeserver.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mc, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}

	c := &Client{
		client: mc,
		cfg:    cfg,
		rooms:  make(map[string]struct{}, len(cfg.Rooms)),
		logger: logger.With("platform", Platform),
	}
	for _, r := range cfg.Rooms {
		c.rooms[r] = struct{}{}
	}

	if cfg.DB != nil {
		mc.Store = newSyncStore(cfg.DB)
	} else {
		c.logger.Warn("matrix: no database configured, room history will replay on restart")
	}
	return c, nil
}

// Run joins the configured rooms and syncs until ctx is cancelled,
// reconnecting with exponential backoff after sync errors.
func (c *Client) Run(ctx context.Context, handler Handler) error {
	c.handler = handler

	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unexpected syncer type")
	}
	syncer.OnEventType(event.EventMessage, c.handleMessage)

	for _, roomID := range c.cfg.Rooms {
		if err := c.joinRoom(ctx, id.RoomID(roomID)); err != nil {
			return fmt.Errorf("matrix: join %s: %w", roomID, err)
		}
	}

	c.logger.Info("matrix: syncing", "user_id", c.cfg.UserID, "rooms", len(c.cfg.Rooms))
	backoff := backoffMin
	for {
		err := c.client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			c.logger.Info("matrix: sync stopped")
			return nil
		}
		if err == nil {
			return nil
		}
		c.logger.Error("matrix: sync failed; reconnecting", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

// Allowed reports whether roomID is one of the configured rooms.
func (c *Client) Allowed(roomID string) bool {
	_, ok := c.rooms[roomID]
	return ok
}

// UserID returns the client's own user id.
func (c *Client) UserID() string { return c.cfg.UserID }

func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(c.cfg.UserID) {
		return
	}
	msg := evt.Content.AsMessage()
	if msg == nil || msg.MsgType != event.MsgText || msg.Body == "" {
		return
	}
	// Edits arrive as new events; the original was already handled.
	if msg.RelatesTo != nil && msg.RelatesTo.Type == event.RelReplace {
		return
	}
	if !c.Allowed(evt.RoomID.String()) {
		return
	}
	if c.handler == nil {
		return
	}
	c.handler(ctx, Message{
		RoomID:    evt.RoomID.String(),
		EventID:   evt.ID.String(),
		Sender:    evt.Sender.String(),
		Body:      msg.Body,
		Timestamp: time.UnixMilli(evt.Timestamp).UTC(),
	})
}

func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(ctx, roomID)
	if err != nil {
		// Homeservers answer M_FORBIDDEN when already joined.
		if errors.Is(err, mautrix.MForbidden) {
			c.logger.Warn("matrix: join forbidden or already a member, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}

// SendText posts a plain text message.
func (c *Client) SendText(ctx context.Context, roomID, body string) error {
	return c.send(ctx, roomID, &event.MessageEventContent{MsgType: event.MsgText, Body: body})
}

// SendNotice posts a notice, which clients render less prominently and
// bots conventionally do not answer.
func (c *Client) SendNotice(ctx context.Context, roomID, body string) error {
	return c.send(ctx, roomID, &event.MessageEventContent{MsgType: event.MsgNotice, Body: body})
}

// Reply posts body as a reply to eventID.
func (c *Client) Reply(ctx context.Context, roomID, eventID, body string, notice bool) error {
	content := &event.MessageEventContent{MsgType: event.MsgText, Body: body}
	if notice {
		content.MsgType = event.MsgNotice
	}
	if eventID != "" {
		content.RelatesTo = &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: id.EventID(eventID)},
		}
	}
	return c.send(ctx, roomID, content)
}

func (c *Client) send(ctx context.Context, roomID string, content *event.MessageEventContent) error {
	if _, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, content); err != nil {
		return fmt.Errorf("matrix: send to %s: %w", roomID, err)
	}
	return nil
}
