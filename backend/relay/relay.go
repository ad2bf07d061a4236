package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zakisheriff/Swing-Mates/backend/model"
	"github.com/zakisheriff/Swing-Mates/backend/vsmatch"
)

const defaultQueueSize = 1024

type (
	// RoomStore owns all authoritative room state.
	RoomStore interface {
		Join(roomID, connID, identity string) ([]model.Stroke, []model.ChatMessage, []string)
		AppendStroke(roomID string, s model.Stroke)
		UndoLast(roomID string)
		Clear(roomID string)
		Strokes(roomID string) ([]model.Stroke, bool)
		AppendMessage(roomID string, m model.ChatMessage)
		SetReferenceImage(roomID string, imageData *string, opacity float64)
		SetReferenceOpacity(roomID string, opacity float64)
		Reference(roomID string) (model.ReferenceImage, bool)
		Leave(roomID, connID string) (identity string, ok bool, empty bool)
		Exists(roomID string) bool
		Delete(roomID string)
	}

	// Broadcaster delivers envelopes to connections and room subsets.
	Broadcaster interface {
		Register(connID string, wire model.Wire)
		Unregister(connID string)
		JoinRoom(roomID, connID string)
		LeaveRoom(roomID, connID string)
		Send(connID string, env model.Envelope) bool
		ToRoom(roomID, exceptConnID string, env model.Envelope)
	}

	Config struct {
		Logger    *zerolog.Logger
		Store     RoomStore
		Registry  Broadcaster
		Matches   *vsmatch.Coordinator
		QueueSize int
	}

	// Relay is the event dispatcher. All inbound traffic (messages,
	// disconnects, countdown expiries) funnels into one channel and is
	// handled to completion by a single goroutine, so store mutation
	// plus fan-out is atomic with respect to other events and every
	// room member observes the same order.
	Relay struct {
		logger   zerolog.Logger
		store    RoomStore
		reg      Broadcaster
		matches  *vsmatch.Coordinator
		events   chan event
		done     chan struct{}
		sessions map[string]*session
	}
)

type eventKind int

const (
	kindMessage eventKind = iota
	kindDisconnect
	kindMatchExpiry
)

type event struct {
	kind       eventKind
	connID     string
	env        model.Envelope
	roomID     string
	generation uint64
}

// session is the per-connection registry entry: which room and match
// the connection is in and under which identity.
type session struct {
	roomID   string
	identity string
	vsRoomID string
}

func New(cfg Config) *Relay {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Relay{
		logger:   cfg.Logger.With().Str("component", "relay").Logger(),
		store:    cfg.Store,
		reg:      cfg.Registry,
		matches:  cfg.Matches,
		events:   make(chan event, size),
		done:     make(chan struct{}),
		sessions: make(map[string]*session),
	}
}

// Run consumes the inbound queue until the context is canceled.
func (r *Relay) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer func() {
		close(r.done)
		r.logger.Debug().Msg("relay stopped")
		wg.Done()
	}()

	r.logger.Info().Msg("relay started")
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.events:
			r.dispatch(ev)
		}
	}
}

// Attach registers a connection wire and starts forwarding its inbound
// envelopes into the dispatcher queue.
func (r *Relay) Attach(ctx context.Context, connID string, wire model.Wire) {
	r.reg.Register(connID, wire)
	go r.forward(ctx, connID, wire.RX)
}

// Detach posts the connection's disconnect. Any mutations already
// applied on its behalf stand; nothing is rolled back.
func (r *Relay) Detach(connID string) {
	r.post(event{kind: kindDisconnect, connID: connID})
}

// PostMatchExpiry routes a countdown expiry back through the
// dispatcher so it is serialized with all other events.
func (r *Relay) PostMatchExpiry(roomID string, generation uint64) {
	r.post(event{kind: kindMatchExpiry, roomID: roomID, generation: generation})
}

func (r *Relay) forward(ctx context.Context, connID string, rx <-chan model.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-rx:
			if !ok {
				return
			}
			r.post(event{kind: kindMessage, connID: connID, env: env})
		}
	}
}

func (r *Relay) post(ev event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

func (r *Relay) dispatch(ev event) {
	switch ev.kind {
	case kindDisconnect:
		r.handleDisconnect(ev.connID)
	case kindMatchExpiry:
		r.handleMatchExpiry(ev.roomID, ev.generation)
	case kindMessage:
		r.handleMessage(ev.connID, ev.env)
	}
}

func (r *Relay) handleMessage(connID string, env model.Envelope) {
	s, ok := r.sessions[connID]
	if !ok {
		s = &session{}
		r.sessions[connID] = s
	}

	switch env.Event {
	case model.EventJoinRoom:
		if p, ok := decode[model.JoinRoomPayload](r, env); ok {
			r.handleJoin(connID, s, p)
		}
	case model.EventGetCanvas:
		if p, ok := decode[model.RoomOnlyPayload](r, env); ok {
			if strokes, found := r.store.Strokes(p.RoomID); found {
				r.send(connID, model.EventLoadCanvas, strokes, nil)
			}
		}
	case model.EventDrawStroke:
		if p, ok := decode[model.StrokePayload](r, env); ok {
			stroke := model.Stroke{
				Path:        p.Path,
				Color:       p.Color,
				StrokeWidth: p.StrokeWidth,
				Identity:    s.resolve(connID),
				IsEraser:    p.IsEraser,
			}
			r.store.AppendStroke(p.RoomID, stroke)
			r.broadcast(p.RoomID, connID, model.EventDrawStroke, stroke)
		}
	case model.EventDrawingMove:
		// Ephemeral preview channel: relayed, never stored.
		if p, ok := decode[model.StrokePayload](r, env); ok {
			preview := model.Stroke{
				Path:        p.Path,
				Color:       p.Color,
				StrokeWidth: p.StrokeWidth,
				Identity:    s.resolve(connID),
				IsEraser:    p.IsEraser,
			}
			r.broadcast(p.RoomID, connID, model.EventDrawingMove, preview)
		}
	case model.EventUndoStroke:
		if p, ok := decode[model.RoomOnlyPayload](r, env); ok {
			r.store.UndoLast(p.RoomID)
			r.broadcast(p.RoomID, connID, model.EventUndoStroke, nil)
		}
	case model.EventClearCanvas:
		if p, ok := decode[model.RoomOnlyPayload](r, env); ok {
			r.store.Clear(p.RoomID)
			// Sender included: it resets its local state on the echo.
			r.broadcast(p.RoomID, "", model.EventClearCanvas, nil)
		}
	case model.EventSendMessage:
		if p, ok := decode[model.ChatPayload](r, env); ok {
			r.handleChat(connID, s, p)
		}
	case model.EventReferenceImage:
		if p, ok := decode[model.ReferenceImagePayload](r, env); ok {
			r.store.SetReferenceImage(p.RoomID, p.ImageData, p.Opacity)
			r.broadcast(p.RoomID, connID, model.EventReferenceImage, model.ReferenceImagePayload{
				ImageData: p.ImageData,
				Opacity:   p.Opacity,
			})
		}
	case model.EventReferenceOpacity:
		if p, ok := decode[model.ReferenceOpacityPayload](r, env); ok {
			r.store.SetReferenceOpacity(p.RoomID, p.Opacity)
			r.broadcast(p.RoomID, connID, model.EventReferenceOpacity, model.ReferenceOpacityPayload{
				Opacity: p.Opacity,
			})
		}
	case model.EventCheckRoom:
		if p, ok := decode[model.RoomOnlyPayload](r, env); ok {
			r.send(connID, model.EventCheckRoom, model.RoomExistsPayload{
				RoomID: p.RoomID,
				Exists: r.store.Exists(p.RoomID),
			}, env.Ack)
		}
	case model.EventCheckVSRoom:
		if p, ok := decode[model.RoomOnlyPayload](r, env); ok {
			r.send(connID, model.EventCheckVSRoom, model.RoomExistsPayload{
				RoomID: p.RoomID,
				Exists: r.matches.Exists(p.RoomID),
			}, env.Ack)
		}
	case model.EventJoinVSRoom:
		if p, ok := decode[model.JoinVSRoomPayload](r, env); ok {
			identity := p.Identity
			if identity == "" {
				identity = connID
			}
			s.identity = identity
			s.vsRoomID = p.RoomID
			res := r.matches.Join(p.RoomID, connID, identity, p.DurationSec)
			r.fanOutMatchStart(identity, res)
		}
	case model.EventVSSubmit:
		if p, ok := decode[model.VSSubmitPayload](r, env); ok {
			identity := p.Identity
			if identity == "" {
				identity = s.resolve(connID)
			}
			res := r.matches.Submit(p.RoomID, identity, p.ImageURI)
			if res.Ended {
				r.fanOutMatchEnd(res.Submissions, res.ConnIDs)
			} else if res.Accepted && res.OtherConnID != "" {
				r.send(res.OtherConnID, model.EventVSOpponentSubmitted, nil, nil)
			}
		}
	case model.EventVSReady:
		if p, ok := decode[model.VSReadyPayload](r, env); ok {
			identity := p.Identity
			if identity == "" {
				identity = s.resolve(connID)
			}
			s.identity = identity
			s.vsRoomID = p.RoomID
			res := r.matches.Ready(p.RoomID, connID, identity)
			r.fanOutMatchStart(identity, res)
		}
	default:
		r.logger.Debug().
			Str("connID", connID).
			Str("event", env.Event).
			Msg("unknown event dropped")
	}
}

func (r *Relay) handleJoin(connID string, s *session, p model.JoinRoomPayload) {
	identity := p.Identity
	if identity == "" {
		identity = connID
	}

	// A connection switching rooms leaves the old one first.
	if s.roomID != "" && s.roomID != p.RoomID {
		r.leaveRoom(connID, s.roomID)
	}
	s.roomID = p.RoomID
	s.identity = identity

	strokes, messages, members := r.store.Join(p.RoomID, connID, identity)
	r.reg.JoinRoom(p.RoomID, connID)

	r.send(connID, model.EventLoadCanvas, strokes, nil)
	r.send(connID, model.EventLoadMessages, messages, nil)
	r.send(connID, model.EventRoomUsers, members, nil)
	if ref, ok := r.store.Reference(p.RoomID); ok {
		r.send(connID, model.EventReferenceImage, model.ReferenceImagePayload{
			ImageData: ref.ImageData,
			Opacity:   ref.Opacity,
		}, nil)
	}
	r.broadcast(p.RoomID, connID, model.EventUserJoined, model.PresencePayload{Identity: identity})

	r.logger.Debug().
		Str("connID", connID).
		Str("roomID", p.RoomID).
		Str("identity", identity).
		Int("members", len(members)).
		Msg("joined room")
}

func (r *Relay) handleChat(connID string, s *session, p model.ChatPayload) {
	msg := model.ChatMessage{
		Text:      p.Text,
		Identity:  p.Identity,
		Timestamp: p.Timestamp,
	}
	if msg.Identity == "" {
		msg.Identity = s.resolve(connID)
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	r.store.AppendMessage(p.RoomID, msg)
	r.broadcast(p.RoomID, connID, model.EventReceiveMessage, msg)
}

func (r *Relay) handleDisconnect(connID string) {
	s := r.sessions[connID]
	delete(r.sessions, connID)
	r.reg.Unregister(connID)
	if s == nil {
		return
	}
	if s.roomID != "" {
		r.leaveRoom(connID, s.roomID)
	}
	if s.vsRoomID != "" {
		r.matches.Disconnect(s.vsRoomID, connID)
	}
	r.logger.Debug().Str("connID", connID).Msg("disconnected")
}

// leaveRoom removes the membership and tears the room down the moment
// it empties. No grace period: a fast reconnect after the last member
// left lands in a fresh, historyless room.
func (r *Relay) leaveRoom(connID, roomID string) {
	identity, wasMember, empty := r.store.Leave(roomID, connID)
	r.reg.LeaveRoom(roomID, connID)
	if wasMember {
		r.broadcast(roomID, connID, model.EventUserLeft, model.PresencePayload{Identity: identity})
	}
	if empty {
		r.store.Delete(roomID)
		r.logger.Debug().Str("roomID", roomID).Msg("room deleted, last member left")
	}
}

func (r *Relay) handleMatchExpiry(roomID string, generation uint64) {
	res := r.matches.Expire(roomID, generation)
	if res.Ended {
		r.fanOutMatchEnd(res.Submissions, res.ConnIDs)
	}
}

func (r *Relay) fanOutMatchStart(joinerIdentity string, res vsmatch.JoinResult) {
	if !res.Started {
		return
	}
	r.send(res.FirstConnID, model.EventVSOpponentJoined, model.PresencePayload{Identity: joinerIdentity}, nil)
	start := model.VSGameStartPayload{
		ChallengeImage: res.ChallengeImage,
		DurationSec:    res.DurationSec,
	}
	for _, connID := range res.ConnIDs {
		r.send(connID, model.EventVSGameStart, start, nil)
	}
}

func (r *Relay) fanOutMatchEnd(submissions map[string]string, connIDs []string) {
	payload := model.VSGameEndPayload{Submissions: submissions}
	for _, connID := range connIDs {
		r.send(connID, model.EventVSGameEnd, payload, nil)
	}
}

func (r *Relay) send(connID, eventName string, payload any, ack *int64) {
	env, err := model.NewEnvelope(eventName, payload)
	if err != nil {
		r.logger.Error().Err(err).Str("event", eventName).Msg("failed to marshal outgoing payload")
		return
	}
	env.Ack = ack
	r.reg.Send(connID, env)
}

func (r *Relay) broadcast(roomID, exceptConnID, eventName string, payload any) {
	env, err := model.NewEnvelope(eventName, payload)
	if err != nil {
		r.logger.Error().Err(err).Str("event", eventName).Msg("failed to marshal broadcast payload")
		return
	}
	r.reg.ToRoom(roomID, exceptConnID, env)
}

func (s *session) resolve(connID string) string {
	if s.identity != "" {
		return s.identity
	}
	return connID
}

// decode unmarshals the envelope payload into its typed form. Absent
// data yields the zero payload (downstream defaulting keeps forward
// progress); malformed data drops the event with a log line.
func decode[T any](r *Relay, env model.Envelope) (T, bool) {
	var v T
	if len(env.Data) == 0 {
		return v, true
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		r.logger.Warn().Err(err).Str("event", env.Event).Msg("malformed payload dropped")
		return v, false
	}
	return v, true
}
