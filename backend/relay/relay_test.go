package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zakisheriff/Swing-Mates/backend/fanout"
	"github.com/zakisheriff/Swing-Mates/backend/model"
	"github.com/zakisheriff/Swing-Mates/backend/storage/memory"
	"github.com/zakisheriff/Swing-Mates/backend/vsmatch"
)

// Tests drive handleMessage directly: the production dispatcher is a
// single goroutine pulling from one queue, so synchronous calls
// observe exactly the same ordering it guarantees.

func newTestRelay() *Relay {
	logger := zerolog.Nop()
	matches := vsmatch.NewCoordinator(vsmatch.Config{
		Logger:          &logger,
		DefaultDuration: time.Minute,
		ChallengeImages: []string{"img-a"},
	})
	return New(Config{
		Logger:   &logger,
		Store:    memory.NewMemStore(0),
		Registry: fanout.NewRegistry(&logger),
		Matches:  matches,
	})
}

func connect(r *Relay, connID string) model.Wire {
	wire := model.NewWire()
	r.reg.Register(connID, wire)
	return wire
}

func emit(t *testing.T, r *Relay, connID, event string, payload any) {
	t.Helper()
	env, err := model.NewEnvelope(event, payload)
	require.NoError(t, err)
	r.handleMessage(connID, env)
}

func next(t *testing.T, wire model.Wire) model.Envelope {
	t.Helper()
	select {
	case env := <-wire.TX:
		return env
	default:
		t.Fatal("expected an envelope, got none")
		return model.Envelope{}
	}
}

func expectNone(t *testing.T, wire model.Wire) {
	t.Helper()
	select {
	case env := <-wire.TX:
		t.Fatalf("expected no envelope, got %q", env.Event)
	default:
	}
}

func payload[T any](t *testing.T, env model.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func drainWire(wire model.Wire) {
	for {
		select {
		case <-wire.TX:
		default:
			return
		}
	}
}

func joinRoom(t *testing.T, r *Relay, connID, roomID, identity string) model.Wire {
	t.Helper()
	wire := connect(r, connID)
	emit(t, r, connID, model.EventJoinRoom, model.JoinRoomPayload{RoomID: roomID, Identity: identity})
	return wire
}

func TestJoinCatchUpOrder(t *testing.T) {
	r := newTestRelay()
	wireA := joinRoom(t, r, "A", "12345", "alice-x7f2q")

	assert.Equal(t, model.EventLoadCanvas, next(t, wireA).Event)
	assert.Equal(t, model.EventLoadMessages, next(t, wireA).Event)
	users := next(t, wireA)
	assert.Equal(t, model.EventRoomUsers, users.Event)
	assert.Equal(t, []string{"alice-x7f2q"}, payload[[]string](t, users))
	expectNone(t, wireA)

	wireB := joinRoom(t, r, "B", "12345", "bob-9k1la")
	next(t, wireB) // load-canvas
	next(t, wireB) // load-messages
	assert.Equal(t, []string{"alice-x7f2q", "bob-9k1la"}, payload[[]string](t, next(t, wireB)))

	joined := next(t, wireA)
	assert.Equal(t, model.EventUserJoined, joined.Event)
	assert.Equal(t, "bob-9k1la", payload[model.PresencePayload](t, joined).Identity)
	// the joiner never hears its own arrival
	expectNone(t, wireB)
}

func TestCommittedStrokeFanOutAndLateJoinReplay(t *testing.T) {
	r := newTestRelay()
	wireA := joinRoom(t, r, "A", "12345", "alice-x7f2q")
	wireB := joinRoom(t, r, "B", "12345", "bob-9k1la")
	drainWire(wireA)
	drainWire(wireB)

	emit(t, r, "A", model.EventDrawStroke, model.StrokePayload{
		RoomID:      "12345",
		Path:        "M0,0L10,10",
		Color:       "#FF0000",
		StrokeWidth: 5,
	})

	got := next(t, wireB)
	require.Equal(t, model.EventDrawStroke, got.Event, "committed strokes arrive as draw-stroke, not drawing-move")
	stroke := payload[model.Stroke](t, got)
	assert.Equal(t, model.Stroke{
		Path:        "M0,0L10,10",
		Color:       "#FF0000",
		StrokeWidth: 5,
		Identity:    "alice-x7f2q",
	}, stroke)
	// sender already has it locally
	expectNone(t, wireA)

	wireC := joinRoom(t, r, "C", "12345", "carol-m3t8d")
	canvas := next(t, wireC)
	require.Equal(t, model.EventLoadCanvas, canvas.Event)
	strokes := payload[[]model.Stroke](t, canvas)
	require.Len(t, strokes, 1)
	assert.Equal(t, stroke, strokes[0])
}

func TestDrawingMoveIsEphemeral(t *testing.T) {
	r := newTestRelay()
	wireA := joinRoom(t, r, "A", "12345", "alice-x7f2q")
	wireB := joinRoom(t, r, "B", "12345", "bob-9k1la")
	drainWire(wireA)
	drainWire(wireB)

	emit(t, r, "A", model.EventDrawingMove, model.StrokePayload{
		RoomID: "12345",
		Path:   "M0,0L5,5",
		Color:  "#00FF00",
	})

	assert.Equal(t, model.EventDrawingMove, next(t, wireB).Event)
	expectNone(t, wireA)

	wireC := joinRoom(t, r, "C", "12345", "carol-m3t8d")
	canvas := next(t, wireC)
	assert.Empty(t, payload[[]model.Stroke](t, canvas), "previews are never replayed to late joiners")
}

func TestUndoBroadcastToOthers(t *testing.T) {
	r := newTestRelay()
	wireA := joinRoom(t, r, "A", "12345", "alice-x7f2q")
	wireB := joinRoom(t, r, "B", "12345", "bob-9k1la")
	drainWire(wireA)
	drainWire(wireB)

	emit(t, r, "A", model.EventDrawStroke, model.StrokePayload{RoomID: "12345", Path: "M0,0L10,10"})
	drainWire(wireB)

	emit(t, r, "A", model.EventUndoStroke, model.RoomOnlyPayload{RoomID: "12345"})

	undo := next(t, wireB)
	assert.Equal(t, model.EventUndoStroke, undo.Event)
	assert.Empty(t, undo.Data, "receivers pop their own last local entry")
	expectNone(t, wireA)

	wireC := joinRoom(t, r, "C", "12345", "carol-m3t8d")
	assert.Empty(t, payload[[]model.Stroke](t, next(t, wireC)))
}

func TestClearCanvasReachesSenderToo(t *testing.T) {
	r := newTestRelay()
	wireA := joinRoom(t, r, "A", "12345", "alice-x7f2q")
	wireB := joinRoom(t, r, "B", "12345", "bob-9k1la")
	drainWire(wireA)
	drainWire(wireB)

	emit(t, r, "A", model.EventDrawStroke, model.StrokePayload{RoomID: "12345", Path: "M0,0L10,10"})
	drainWire(wireB)

	emit(t, r, "A", model.EventClearCanvas, model.RoomOnlyPayload{RoomID: "12345"})

	assert.Equal(t, model.EventClearCanvas, next(t, wireA).Event)
	assert.Equal(t, model.EventClearCanvas, next(t, wireB).Event)

	wireC := joinRoom(t, r, "C", "12345", "carol-m3t8d")
	assert.Empty(t, payload[[]model.Stroke](t, next(t, wireC)))
}

func TestChatDeliveryAndHistory(t *testing.T) {
	r := newTestRelay()
	wireA := joinRoom(t, r, "A", "12345", "alice-x7f2q")
	wireB := joinRoom(t, r, "B", "12345", "bob-9k1la")
	drainWire(wireA)
	drainWire(wireB)

	emit(t, r, "A", model.EventSendMessage, model.ChatPayload{
		RoomID:    "12345",
		Text:      "hi",
		Identity:  "alice-x7f2q",
		Timestamp: 1700000000000,
	})

	got := next(t, wireB)
	require.Equal(t, model.EventReceiveMessage, got.Event)
	msg := payload[model.ChatMessage](t, got)
	assert.Equal(t, "hi", msg.Text)
	assert.Equal(t, "alice-x7f2q", msg.Identity)
	// sender renders its own message locally
	expectNone(t, wireA)

	wireC := joinRoom(t, r, "C", "12345", "carol-m3t8d")
	next(t, wireC) // load-canvas
	history := payload[[]model.ChatMessage](t, next(t, wireC))
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Text)
}

func TestChatDefaultsMissingFields(t *testing.T) {
	r := newTestRelay()
	wireA := joinRoom(t, r, "A", "12345", "alice-x7f2q")
	wireB := joinRoom(t, r, "B", "12345", "bob-9k1la")
	drainWire(wireA)
	drainWire(wireB)

	emit(t, r, "A", model.EventSendMessage, model.ChatPayload{RoomID: "12345", Text: "hi"})

	msg := payload[model.ChatMessage](t, next(t, wireB))
	assert.Equal(t, "alice-x7f2q", msg.Identity, "missing identity resolves to the sender's session")
	assert.NotZero(t, msg.Timestamp)
}

func TestReferenceImageStoredAndReplayedOnJoin(t *testing.T) {
	r := newTestRelay()
	wireA := joinRoom(t, r, "A", "12345", "alice-x7f2q")
	wireB := joinRoom(t, r, "B", "12345", "bob-9k1la")
	drainWire(wireA)
	drainWire(wireB)

	img := "data:image/png;base64,AAAA"
	emit(t, r, "A", model.EventReferenceImage, model.ReferenceImagePayload{
		RoomID:    "12345",
		ImageData: &img,
		Opacity:   0.3,
	})

	got := next(t, wireB)
	require.Equal(t, model.EventReferenceImage, got.Event)
	ref := payload[model.ReferenceImagePayload](t, got)
	require.NotNil(t, ref.ImageData)
	assert.Equal(t, img, *ref.ImageData)
	expectNone(t, wireA)

	emit(t, r, "B", model.EventReferenceOpacity, model.ReferenceOpacityPayload{RoomID: "12345", Opacity: 0.8})
	assert.Equal(t, model.EventReferenceOpacity, next(t, wireA).Event)

	wireC := joinRoom(t, r, "C", "12345", "carol-m3t8d")
	next(t, wireC) // load-canvas
	next(t, wireC) // load-messages
	next(t, wireC) // room-users
	replayed := next(t, wireC)
	require.Equal(t, model.EventReferenceImage, replayed.Event)
	assert.Equal(t, 0.8, payload[model.ReferenceImagePayload](t, replayed).Opacity)
}

func TestCheckRoomRepliesWithAckEcho(t *testing.T) {
	r := newTestRelay()
	wireA := joinRoom(t, r, "A", "12345", "alice-x7f2q")
	drainWire(wireA)

	ack := int64(7)
	env, err := model.NewEnvelope(model.EventCheckRoom, model.RoomOnlyPayload{RoomID: "12345"})
	require.NoError(t, err)
	env.Ack = &ack
	r.handleMessage("A", env)

	reply := next(t, wireA)
	assert.Equal(t, model.EventCheckRoom, reply.Event)
	require.NotNil(t, reply.Ack)
	assert.Equal(t, ack, *reply.Ack)
	assert.True(t, payload[model.RoomExistsPayload](t, reply).Exists)

	emit(t, r, "A", model.EventCheckRoom, model.RoomOnlyPayload{RoomID: "99999"})
	assert.False(t, payload[model.RoomExistsPayload](t, next(t, wireA)).Exists)
}

func TestDisconnectNotifiesAndTearsDownEmptyRoom(t *testing.T) {
	r := newTestRelay()
	wireA := joinRoom(t, r, "A", "12345", "alice-x7f2q")
	wireB := joinRoom(t, r, "B", "12345", "bob-9k1la")
	drainWire(wireA)
	drainWire(wireB)

	r.handleDisconnect("A")

	left := next(t, wireB)
	assert.Equal(t, model.EventUserLeft, left.Event)
	assert.Equal(t, "alice-x7f2q", payload[model.PresencePayload](t, left).Identity)

	r.handleDisconnect("B")
	assert.False(t, r.store.Exists("12345"))

	wireC := joinRoom(t, r, "C", "12345", "carol-m3t8d")
	assert.Empty(t, payload[[]model.Stroke](t, next(t, wireC)), "fresh room after last leave")
}

func TestRoomSwitchLeavesPreviousRoom(t *testing.T) {
	r := newTestRelay()
	wireA := joinRoom(t, r, "A", "12345", "alice-x7f2q")
	wireB := joinRoom(t, r, "B", "12345", "bob-9k1la")
	drainWire(wireA)
	drainWire(wireB)

	emit(t, r, "A", model.EventJoinRoom, model.JoinRoomPayload{RoomID: "67890", Identity: "alice-x7f2q"})

	left := next(t, wireB)
	assert.Equal(t, model.EventUserLeft, left.Event)
	assert.Equal(t, "alice-x7f2q", payload[model.PresencePayload](t, left).Identity)
}

func TestMalformedPayloadDropped(t *testing.T) {
	r := newTestRelay()
	wireA := joinRoom(t, r, "A", "12345", "alice-x7f2q")
	wireB := joinRoom(t, r, "B", "12345", "bob-9k1la")
	drainWire(wireA)
	drainWire(wireB)

	r.handleMessage("A", model.Envelope{
		Event: model.EventDrawStroke,
		Data:  json.RawMessage(`{"strokeWidth":"not-a-number"}`),
	})

	expectNone(t, wireB)
	wireC := joinRoom(t, r, "C", "12345", "carol-m3t8d")
	assert.Empty(t, payload[[]model.Stroke](t, next(t, wireC)))
}

func TestMissingIdentityFallsBackToConnectionID(t *testing.T) {
	r := newTestRelay()
	wireA := connect(r, "A")
	emit(t, r, "A", model.EventJoinRoom, model.JoinRoomPayload{RoomID: "12345"})

	next(t, wireA) // load-canvas
	next(t, wireA) // load-messages
	assert.Equal(t, []string{"A"}, payload[[]string](t, next(t, wireA)))
}

func TestStrokeAfterRoomTeardownIsDropped(t *testing.T) {
	r := newTestRelay()
	wireA := joinRoom(t, r, "A", "12345", "alice-x7f2q")
	drainWire(wireA)
	r.handleDisconnect("A")

	// In-flight stroke racing the teardown: silently dropped.
	wireB := connect(r, "B")
	emit(t, r, "B", model.EventDrawStroke, model.StrokePayload{RoomID: "12345", Path: "M0,0L1,1"})
	expectNone(t, wireB)

	wireC := joinRoom(t, r, "C", "12345", "carol-m3t8d")
	assert.Empty(t, payload[[]model.Stroke](t, next(t, wireC)))
}

func TestVSMatchFullFlow(t *testing.T) {
	r := newTestRelay()
	wireA := connect(r, "A")
	wireB := connect(r, "B")

	emit(t, r, "A", model.EventJoinVSRoom, model.JoinVSRoomPayload{RoomID: "500", Identity: "alice-x7f2q"})
	// waiting state: no vs-game-start yet
	expectNone(t, wireA)

	emit(t, r, "B", model.EventJoinVSRoom, model.JoinVSRoomPayload{RoomID: "500", Identity: "bob-9k1la"})

	opponent := next(t, wireA)
	assert.Equal(t, model.EventVSOpponentJoined, opponent.Event)
	assert.Equal(t, "bob-9k1la", payload[model.PresencePayload](t, opponent).Identity)

	startA := next(t, wireA)
	startB := next(t, wireB)
	require.Equal(t, model.EventVSGameStart, startA.Event)
	require.Equal(t, model.EventVSGameStart, startB.Event)
	assert.Equal(t,
		payload[model.VSGameStartPayload](t, startA).ChallengeImage,
		payload[model.VSGameStartPayload](t, startB).ChallengeImage,
		"both participants draw the same challenge")

	emit(t, r, "A", model.EventVSSubmit, model.VSSubmitPayload{
		RoomID:   "500",
		Identity: "alice-x7f2q",
		ImageURI: "uri-a",
	})
	assert.Equal(t, model.EventVSOpponentSubmitted, next(t, wireB).Event)
	expectNone(t, wireA)

	// B never submits; the countdown expires.
	r.handleMatchExpiry("500", 1)

	endA := next(t, wireA)
	endB := next(t, wireB)
	require.Equal(t, model.EventVSGameEnd, endA.Event)
	require.Equal(t, model.EventVSGameEnd, endB.Event)
	subs := payload[model.VSGameEndPayload](t, endA).Submissions
	assert.Equal(t, map[string]string{"alice-x7f2q": "uri-a"}, subs)
}

func TestVSReadyStartsRematch(t *testing.T) {
	r := newTestRelay()
	wireA := connect(r, "A")
	wireB := connect(r, "B")
	emit(t, r, "A", model.EventJoinVSRoom, model.JoinVSRoomPayload{RoomID: "500", Identity: "alice-x7f2q"})
	emit(t, r, "B", model.EventJoinVSRoom, model.JoinVSRoomPayload{RoomID: "500", Identity: "bob-9k1la"})
	emit(t, r, "A", model.EventVSSubmit, model.VSSubmitPayload{RoomID: "500", Identity: "alice-x7f2q", ImageURI: "uri-a"})
	emit(t, r, "B", model.EventVSSubmit, model.VSSubmitPayload{RoomID: "500", Identity: "bob-9k1la", ImageURI: "uri-b"})
	drainWire(wireA)
	drainWire(wireB)

	emit(t, r, "A", model.EventVSReady, model.VSReadyPayload{RoomID: "500", Identity: "alice-x7f2q"})
	// reset back to waiting
	expectNone(t, wireB)

	emit(t, r, "B", model.EventVSReady, model.VSReadyPayload{RoomID: "500", Identity: "bob-9k1la"})
	assert.Equal(t, model.EventVSOpponentJoined, next(t, wireA).Event)
	assert.Equal(t, model.EventVSGameStart, next(t, wireA).Event)
	assert.Equal(t, model.EventVSGameStart, next(t, wireB).Event)
}

func TestCheckVSRoom(t *testing.T) {
	r := newTestRelay()
	wireA := connect(r, "A")

	emit(t, r, "A", model.EventCheckVSRoom, model.RoomOnlyPayload{RoomID: "500"})
	assert.False(t, payload[model.RoomExistsPayload](t, next(t, wireA)).Exists)

	emit(t, r, "A", model.EventJoinVSRoom, model.JoinVSRoomPayload{RoomID: "500", Identity: "alice-x7f2q"})
	emit(t, r, "A", model.EventCheckVSRoom, model.RoomOnlyPayload{RoomID: "500"})
	assert.True(t, payload[model.RoomExistsPayload](t, next(t, wireA)).Exists)
}

func TestVSDisconnectCleansUpMatch(t *testing.T) {
	r := newTestRelay()
	connect(r, "A")
	emit(t, r, "A", model.EventJoinVSRoom, model.JoinVSRoomPayload{RoomID: "500", Identity: "alice-x7f2q"})

	r.handleDisconnect("A")

	wireB := connect(r, "B")
	emit(t, r, "B", model.EventCheckVSRoom, model.RoomOnlyPayload{RoomID: "500"})
	assert.False(t, payload[model.RoomExistsPayload](t, next(t, wireB)).Exists)
}
