package model

import "encoding/json"

// Stroke is one committed drawing operation. Path geometry is an opaque
// string the server never parses.
type Stroke struct {
	Path        string  `json:"path"`
	Color       string  `json:"color"`
	StrokeWidth float64 `json:"strokeWidth"`
	Identity    string  `json:"identity"`
	IsEraser    bool    `json:"isEraser"`
}

type ChatMessage struct {
	Text      string `json:"text"`
	Identity  string `json:"identity"`
	Timestamp int64  `json:"timestamp"`
}

// ReferenceImage is a shared tracing image overlaid on the canvas.
// Last writer wins, never logged, never undoable.
type ReferenceImage struct {
	ImageData *string `json:"imageData"`
	Opacity   float64 `json:"opacity"`
}

// Client->server event names.
const (
	EventJoinRoom         = "join-room"
	EventGetCanvas        = "get-canvas"
	EventDrawStroke       = "draw-stroke"
	EventDrawingMove      = "drawing-move"
	EventUndoStroke       = "undo-stroke"
	EventClearCanvas      = "clear-canvas"
	EventSendMessage      = "send-message"
	EventReferenceImage   = "reference-image-update"
	EventReferenceOpacity = "reference-opacity-update"
	EventCheckRoom        = "check-room"
	EventCheckVSRoom      = "check-vs-room"
	EventJoinVSRoom       = "join-vs-room"
	EventVSSubmit         = "vs-submit"
	EventVSReady          = "vs-ready"
)

// Server->client event names.
const (
	EventLoadCanvas          = "load-canvas"
	EventLoadMessages        = "load-messages"
	EventRoomUsers           = "room-users"
	EventUserJoined          = "user-joined"
	EventUserLeft            = "user-left"
	EventReceiveMessage      = "receive-message"
	EventVSOpponentJoined    = "vs-opponent-joined"
	EventVSGameStart         = "vs-game-start"
	EventVSOpponentSubmitted = "vs-opponent-submitted"
	EventVSGameEnd           = "vs-game-end"
)

// Envelope is the wire frame for every message in both directions. Ack
// carries a client-chosen id on request/reply events (check-room,
// check-vs-room); the server's reply echoes it.
type Envelope struct {
	Event string          `json:"event"`
	Ack   *int64          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(event string, payload any) (Envelope, error) {
	env := Envelope{Event: event}
	if payload == nil {
		return env, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return env, err
	}
	env.Data = b
	return env, nil
}

type JoinRoomPayload struct {
	RoomID   string `json:"roomId"`
	Identity string `json:"identity"`
}

type RoomOnlyPayload struct {
	RoomID string `json:"roomId"`
}

// StrokePayload is shared by draw-stroke and drawing-move. Identity is
// resolved server-side from the sender's session before rebroadcast.
type StrokePayload struct {
	RoomID      string  `json:"roomId,omitempty"`
	Path        string  `json:"path"`
	Color       string  `json:"color"`
	StrokeWidth float64 `json:"strokeWidth"`
	Identity    string  `json:"identity,omitempty"`
	IsEraser    bool    `json:"isEraser"`
}

type ChatPayload struct {
	RoomID    string `json:"roomId,omitempty"`
	Text      string `json:"text"`
	Identity  string `json:"identity"`
	Timestamp int64  `json:"timestamp"`
}

type ReferenceImagePayload struct {
	RoomID    string  `json:"roomId,omitempty"`
	ImageData *string `json:"imageData"`
	Opacity   float64 `json:"opacity"`
}

type ReferenceOpacityPayload struct {
	RoomID  string  `json:"roomId,omitempty"`
	Opacity float64 `json:"opacity"`
}

type RoomExistsPayload struct {
	RoomID string `json:"roomId"`
	Exists bool   `json:"exists"`
}

type PresencePayload struct {
	Identity string `json:"identity"`
}

type JoinVSRoomPayload struct {
	RoomID   string `json:"roomId"`
	Identity string `json:"identity"`
	// DurationSec is honored only for the participant that creates the
	// match; 0 means the server default.
	DurationSec int `json:"durationSec,omitempty"`
}

type VSGameStartPayload struct {
	ChallengeImage string `json:"challengeImage"`
	DurationSec    int    `json:"durationSec"`
}

type VSSubmitPayload struct {
	RoomID   string `json:"roomId"`
	Identity string `json:"identity"`
	ImageURI string `json:"imageUri"`
}

type VSReadyPayload struct {
	RoomID   string `json:"roomId"`
	Identity string `json:"identity"`
}

type VSGameEndPayload struct {
	Submissions map[string]string `json:"submissions"`
}

// Wire is the pair of channels connecting one websocket session to the
// relay. RX carries inbound envelopes, TX outbound. TX is buffered so a
// slow consumer never stalls the dispatcher.
type Wire struct {
	RX chan Envelope
	TX chan Envelope
}

const defaultTXBuffer = 256

func NewWire() Wire {
	return Wire{
		RX: make(chan Envelope),
		TX: make(chan Envelope, defaultTXBuffer),
	}
}
