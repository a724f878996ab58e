package relay

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/models"
)

var ErrQueueFull = errors.New("relay queue full")

// ChatSender is the chat network's send side.
type ChatSender interface {
	SendRelay(ctx context.Context, roomID string, msg models.ChatMessage) error
	// DisplayName returns the user's display name, or userID when it has none.
	DisplayName(ctx context.Context, userID string) string
}

// RadioSender is the radio network's send side.
type RadioSender interface {
	SendText(ctx context.Context, text string, channel int) error
}

// Record describes one completed relay.
type Record struct {
	Direction string    `json:"direction"`
	From      string    `json:"from"`
	To        []string  `json:"to"`
	Text      string    `json:"text"`
	Time      time.Time `json:"time"`
}

// RelayObserver is told about every message the router delivered.
type RelayObserver interface {
	Relayed(rec Record)
}

type Source int

const (
	SourceRadio Source = iota
	SourceChat
)

// Event is the uniform queue entry both ingestion paths produce.
type Event struct {
	Source Source
	Radio  models.RadioPacket
	Chat   models.ChatEvent
}

type Options struct {
	MeshnetName         string
	BotUserID           string
	BroadcastEnabled    bool
	MaxMessageBytes     int
	SendTimeout         time.Duration
	QueueSize           int
	QueueTimeout        time.Duration
	ShortLongnameLen    int
	ShortMeshnetLen     int
	ShortDisplayNameLen int
	// StartTime marks the boundary before which chat events count as backlog.
	StartTime time.Time
}

type Deps struct {
	Channels *ChannelMap
	Identity *IdentityResolver
	Plugins  *Pipeline
	Chat     ChatSender
	Radio    RadioSender
	Metrics  *Metrics
	Logger   *slog.Logger
	Observer RelayObserver
}

// Router moves messages between the two networks. Both ingestion paths enqueue
// events; Run processes them one at a time in arrival order.
type Router struct {
	opts     Options
	channels *ChannelMap
	identity *IdentityResolver
	guard    *LoopGuard
	plugins  *Pipeline
	chat     ChatSender
	radio    RadioSender
	metrics  *Metrics
	log      *slog.Logger
	observer RelayObserver
	events   chan Event
}

func NewRouter(opts Options, deps Deps) *Router {
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 500 * time.Millisecond
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.QueueTimeout <= 0 {
		opts.QueueTimeout = opts.SendTimeout
	}
	if opts.StartTime.IsZero() {
		opts.StartTime = time.Now()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	channels := deps.Channels
	if channels == nil {
		channels = NewChannelMap(nil, nil)
	}
	identity := deps.Identity
	if identity == nil {
		identity = NewIdentityResolver(nil, logger, deps.Metrics)
	}
	plugins := deps.Plugins
	if plugins == nil {
		plugins = NewPipeline(logger, deps.Metrics, opts.SendTimeout)
	}

	return &Router{
		opts:     opts,
		channels: channels,
		identity: identity,
		guard:    NewLoopGuard(opts.MeshnetName, opts.BotUserID, opts.StartTime, channels),
		plugins:  plugins,
		chat:     deps.Chat,
		radio:    deps.Radio,
		metrics:  deps.Metrics,
		log:      logger,
		observer: deps.Observer,
		events:   make(chan Event, opts.QueueSize),
	}
}

// SubmitRadio queues a radio packet. It waits at most the queue timeout.
func (r *Router) SubmitRadio(pkt models.RadioPacket) error {
	return r.submit(Event{Source: SourceRadio, Radio: pkt})
}

// SubmitChat queues a chat event. It waits at most the queue timeout.
func (r *Router) SubmitChat(evt models.ChatEvent) error {
	return r.submit(Event{Source: SourceChat, Chat: evt})
}

func (r *Router) submit(ev Event) error {
	select {
	case r.events <- ev:
		return nil
	default:
	}

	t := time.NewTimer(r.opts.QueueTimeout)
	defer t.Stop()
	select {
	case r.events <- ev:
		return nil
	case <-t.C:
		r.metrics.QueueRejected()
		return ErrQueueFull
	}
}

// Run consumes queued events until ctx is cancelled.
func (r *Router) Run(ctx context.Context) error {
	r.log.Info("relay router started", "meshnet", r.opts.MeshnetName, "plugins", r.plugins.Names())
	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay router stopped")
			return nil
		case ev := <-r.events:
			switch ev.Source {
			case SourceRadio:
				r.OnRadioPacket(ctx, ev.Radio)
			case SourceChat:
				r.OnChatEvent(ctx, ev.Chat)
			}
		}
	}
}

// OnRadioPacket relays one radio packet to every room mapped to its channel.
func (r *Router) OnRadioPacket(ctx context.Context, pkt models.RadioPacket) {
	if v := r.guard.CheckRadio(pkt); v.Drop {
		r.metrics.Dropped(DirectionRadioToChat, v.Reason)
		r.log.Debug("dropping radio packet", "from", pkt.From, "kind", pkt.Kind.String(), "reason", v.Reason)
		return
	}

	channel, _ := pkt.ChannelIndex()
	rooms := r.channels.RoomsForChannel(channel)
	meshnet := r.opts.MeshnetName
	longname := r.identity.Resolve(ctx, pkt.From)
	formatted := FormatRadioToChat(longname, meshnet, pkt.Text)

	r.log.Info("relaying radio message", "from", pkt.From, "longname", longname, "channel", channel, "rooms", len(rooms))

	r.plugins.DispatchRadio(ctx, pkt, formatted, longname, meshnet)

	msg := models.ChatMessage{
		MsgType:  models.MsgTypeText,
		Body:     formatted,
		Longname: longname,
		Meshnet:  meshnet,
	}
	var delivered []string
	for _, room := range rooms {
		err := r.withTimeout(ctx, func(ctx context.Context) error {
			return r.chat.SendRelay(ctx, room, msg)
		})
		if err != nil {
			r.metrics.SendFailed(DirectionRadioToChat)
			if errors.Is(err, context.DeadlineExceeded) {
				r.log.Error("timed out sending to room", "room", room, "timeout", r.opts.SendTimeout)
			} else {
				r.log.Error("error sending radio message to room", "room", room, "error", err)
			}
			continue
		}
		delivered = append(delivered, room)
		r.log.Debug("sent radio message to room", "room", room)
	}

	if len(delivered) > 0 {
		r.metrics.Relayed(DirectionRadioToChat)
		r.notify(Record{
			Direction: DirectionRadioToChat,
			From:      pkt.From,
			To:        delivered,
			Text:      formatted,
			Time:      time.Now(),
		})
	}
}

// OnChatEvent relays one chat message to the radio channel mapped to its room.
func (r *Router) OnChatEvent(ctx context.Context, evt models.ChatEvent) {
	if v := r.guard.CheckChat(evt); v.Drop {
		r.metrics.Dropped(DirectionChatToRadio, v.Reason)
		r.log.Debug("dropping chat event", "room", evt.RoomID, "sender", evt.Sender, "reason", v.Reason)
		return
	}

	text := strings.TrimSpace(evt.Body)
	var fullName, label string
	if evt.HasProvenance() {
		fullName = provenanceTag(evt.OriginLongname, evt.OriginMeshnet)
		text = StripOwnPrefix(text, fullName)
		label = RemoteLabel(evt.OriginLongname, evt.OriginMeshnet, r.opts.ShortLongnameLen, r.opts.ShortMeshnetLen)
		r.log.Info("processing message from remote meshnet", "room", evt.RoomID, "origin", fullName)
	} else {
		nameCtx, cancel := context.WithTimeout(ctx, r.opts.SendTimeout)
		fullName = r.chat.DisplayName(nameCtx, evt.Sender)
		cancel()
		if fullName == "" {
			fullName = evt.Sender
		}
		label = LocalLabel(fullName, r.opts.ShortDisplayNameLen)
		r.log.Info("processing chat message", "room", evt.RoomID, "sender", fullName)
	}
	outbound := TruncateUTF8(FormatChatToRadio(label, text), r.opts.MaxMessageBytes)

	r.plugins.DispatchChat(ctx, evt.RoomID, evt, outbound)

	channel, ok := r.channels.ChannelForRoom(evt.RoomID)
	if !ok {
		r.metrics.Dropped(DirectionChatToRadio, ReasonUnmappedRoom)
		r.log.Debug("room is not mapped to a channel", "room", evt.RoomID)
		return
	}
	if !r.opts.BroadcastEnabled {
		r.metrics.Dropped(DirectionChatToRadio, ReasonBroadcastDisabled)
		r.log.Debug("broadcast disabled, message dropped", "sender", fullName)
		return
	}

	err := r.withTimeout(ctx, func(ctx context.Context) error {
		return r.radio.SendText(ctx, outbound, channel)
	})
	if err != nil {
		r.metrics.SendFailed(DirectionChatToRadio)
		r.log.Error("error sending chat message to radio", "channel", channel, "error", err)
		return
	}

	r.log.Info("sent chat message to radio", "sender", fullName, "channel", channel)
	r.metrics.Relayed(DirectionChatToRadio)
	r.notify(Record{
		Direction: DirectionChatToRadio,
		From:      evt.Sender,
		To:        []string{"channel:" + strconv.Itoa(channel)},
		Text:      outbound,
		Time:      time.Now(),
	})
}

func (r *Router) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	return callBounded(ctx, r.opts.SendTimeout, fn)
}

func (r *Router) notify(rec Record) {
	if r.observer != nil {
		r.observer.Relayed(rec)
	}
}
