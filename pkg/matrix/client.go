// Package matrix is the relay's Matrix side: a bot account that joins the mapped
// rooms, syncs their messages into the relay and posts relayed radio traffic.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/config"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/models"
)

const displayNameTTL = 10 * time.Minute

type Client struct {
	client     *mautrix.Client
	botUserID  id.UserID
	retryDelay time.Duration
	log        *slog.Logger
	names      *ttlcache.Cache[string, string]
}

func NewClient(settings config.MatrixSettings, retryDelay time.Duration, logger *slog.Logger, zlog zerolog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(settings.Homeserver, id.UserID(settings.BotUserID), settings.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	client.Log = zlog

	names := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](displayNameTTL),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	return &Client{
		client:     client,
		botUserID:  id.UserID(settings.BotUserID),
		retryDelay: retryDelay,
		log:        logger.With("component", "matrix"),
		names:      names,
	}, nil
}

// Verify checks the access token belongs to the configured bot account.
func (c *Client) Verify(ctx context.Context) error {
	resp, err := c.client.Whoami(ctx)
	if err != nil {
		return fmt.Errorf("matrix whoami: %w", err)
	}
	if resp.UserID != c.botUserID {
		return fmt.Errorf("access token belongs to %s, not %s", resp.UserID, c.botUserID)
	}
	c.log.Info("logged in", "user", resp.UserID, "device", resp.DeviceID)
	return nil
}

// JoinRooms resolves room aliases and joins every configured room the bot is not
// already in. It returns the alias to room ID mapping for the aliases it resolved.
// A room that cannot be resolved or joined is logged and skipped.
func (c *Client) JoinRooms(ctx context.Context, rooms []config.RoomDef) (map[string]string, error) {
	joined, err := c.client.JoinedRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing joined rooms: %w", err)
	}
	inRoom := make(map[id.RoomID]bool, len(joined.JoinedRooms))
	for _, r := range joined.JoinedRooms {
		inRoom[r] = true
	}

	aliases := make(map[string]string)
	for _, room := range rooms {
		roomID := id.RoomID(room.ID)
		if strings.HasPrefix(room.ID, "#") {
			resp, err := c.client.ResolveAlias(ctx, id.RoomAlias(room.ID))
			if err != nil {
				c.log.Error("error resolving room alias", "alias", room.ID, "error", err)
				continue
			}
			roomID = resp.RoomID
			aliases[room.ID] = roomID.String()
		}

		if inRoom[roomID] {
			c.log.Debug("already in room", "room", roomID)
			continue
		}
		if _, err := c.client.JoinRoomByID(ctx, roomID); err != nil {
			c.log.Error("error joining room", "room", roomID, "error", err)
			continue
		}
		inRoom[roomID] = true
		c.log.Info("joined room", "room", roomID)
	}
	return aliases, nil
}

// Run syncs until ctx is cancelled, handing every relayable room message to
// deliver. A failed sync is retried after the retry delay; beforeSync runs ahead
// of every (re)start.
func (c *Client) Run(ctx context.Context, deliver func(models.ChatEvent), beforeSync func()) error {
	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix client has no default syncer")
	}
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		if chat, ok := convertEvent(evt); ok {
			deliver(chat)
		}
	})

	go c.names.Start()
	defer c.names.Stop()

	for {
		if beforeSync != nil {
			beforeSync()
		}
		c.log.Info("starting sync")
		err := c.client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			c.log.Info("sync stopped")
			return nil
		}
		c.log.Error("sync failed, retrying", "error", err, "retry_in", c.retryDelay)
		select {
		case <-time.After(c.retryDelay):
		case <-ctx.Done():
			return nil
		}
	}
}

// SendRelay posts msg to roomID as a room message.
func (c *Client) SendRelay(ctx context.Context, roomID string, msg models.ChatMessage) error {
	_, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, msg)
	if err != nil {
		return fmt.Errorf("sending to %s: %w", roomID, err)
	}
	return nil
}

// DisplayName returns the user's global display name, or userID when it has none
// or the lookup fails. Names are cached for a few minutes.
func (c *Client) DisplayName(ctx context.Context, userID string) string {
	if item := c.names.Get(userID); item != nil {
		return item.Value()
	}

	name := userID
	resp, err := c.client.GetDisplayName(ctx, id.UserID(userID))
	if err != nil {
		c.log.Warn("display name lookup failed", "user", userID, "error", err)
		return name
	}
	if resp.DisplayName != "" {
		name = resp.DisplayName
	}
	c.names.Set(userID, name, ttlcache.DefaultTTL)
	return name
}

// convertEvent extracts a relayable text message. Other message types (images,
// emotes, reactions) are not relayed.
func convertEvent(evt *event.Event) (models.ChatEvent, bool) {
	raw := evt.Content.Raw
	msgType, _ := raw["msgtype"].(string)
	if msgType != models.MsgTypeText && msgType != models.MsgTypeNotice {
		return models.ChatEvent{}, false
	}
	body, _ := raw["body"].(string)
	longname, _ := raw["meshtastic_longname"].(string)
	meshnet, _ := raw["meshtastic_meshnet"].(string)

	return models.ChatEvent{
		EventID:        evt.ID.String(),
		Sender:         evt.Sender.String(),
		RoomID:         evt.RoomID.String(),
		MsgType:        msgType,
		Body:           strings.TrimSpace(body),
		Timestamp:      time.UnixMilli(evt.Timestamp),
		OriginLongname: longname,
		OriginMeshnet:  meshnet,
	}, true
}
