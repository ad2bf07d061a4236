package vsmatch

import (
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// State of a match. Terminal is StateEnded; a vs-ready request resets
// an ended match back to StateWaiting on the same room id.
type State int

const (
	StateWaiting State = iota
	StatePlaying
	StateEnded
)

const (
	DefaultDuration = 90 * time.Second
	maxParticipants = 2
)

var defaultChallengeImages = []string{
	"https://img.icons8.com/emoji/200/cat-emoji.png",
	"https://img.icons8.com/emoji/200/dog-face.png",
	"https://img.icons8.com/emoji/200/sun-with-face.png",
	"https://img.icons8.com/emoji/200/rocket-emji.png",
	"https://img.icons8.com/emoji/200/house.png",
	"https://img.icons8.com/emoji/200/car-emoji.png",
}

type participant struct {
	connID    string
	identity  string
	connected bool
}

type match struct {
	state          State
	generation     uint64
	duration       time.Duration
	challengeImage string
	participants   []*participant
	submissions    map[string]string
	timer          *time.Timer
}

func (m *match) find(identity string) *participant {
	for _, p := range m.participants {
		if p.identity == identity {
			return p
		}
	}
	return nil
}

func (m *match) connIDs() []string {
	ids := make([]string, 0, len(m.participants))
	for _, p := range m.participants {
		if p.connected {
			ids = append(ids, p.connID)
		}
	}
	return ids
}

// Coordinator runs the two-player duel state machines. Every method is
// invoked from the relay's single dispatcher goroutine, so match state
// needs no locking; countdown timers fire on their own goroutine but
// only post an expiry notification back through the dispatcher.
type Coordinator struct {
	logger          zerolog.Logger
	matches         map[string]*match
	defaultDuration time.Duration
	images          []string
	notifyExpiry    func(roomID string, generation uint64)
}

type Config struct {
	Logger          *zerolog.Logger
	DefaultDuration time.Duration
	ChallengeImages []string
}

func NewCoordinator(cfg Config) *Coordinator {
	c := &Coordinator{
		logger:          cfg.Logger.With().Str("component", "vsmatch").Logger(),
		matches:         make(map[string]*match),
		defaultDuration: cfg.DefaultDuration,
		images:          cfg.ChallengeImages,
	}
	if c.defaultDuration <= 0 {
		c.defaultDuration = DefaultDuration
	}
	if len(c.images) == 0 {
		c.images = defaultChallengeImages
	}
	return c
}

// OnExpiry installs the countdown-expiry callback. It is called from a
// timer goroutine and must hand the notification back to the
// dispatcher, never mutate match state directly.
func (c *Coordinator) OnExpiry(fn func(roomID string, generation uint64)) {
	c.notifyExpiry = fn
}

// JoinResult describes what the relay must broadcast after a join.
type JoinResult struct {
	State          State
	Started        bool // this join fired waiting -> playing
	Ignored        bool
	ChallengeImage string
	DurationSec    int
	FirstConnID    string // opponent to notify when Started
	ConnIDs        []string
}

// Join handles join-vs-room. The first joiner creates the match (and
// fixes the countdown duration), the second distinct identity starts
// it. A participant rejoining updates its connection id; any other
// join on a full match is ignored.
func (c *Coordinator) Join(roomID, connID, identity string, durationSec int) JoinResult {
	m, ok := c.matches[roomID]
	if !ok {
		duration := c.defaultDuration
		if durationSec > 0 {
			duration = time.Duration(durationSec) * time.Second
		}
		m = &match{
			state:       StateWaiting,
			duration:    duration,
			submissions: make(map[string]string),
		}
		c.matches[roomID] = m
	}

	if p := m.find(identity); p != nil {
		p.connID = connID
		p.connected = true
		return JoinResult{State: m.state, ConnIDs: m.connIDs()}
	}

	if len(m.participants) >= maxParticipants || m.state != StateWaiting {
		c.logger.Debug().
			Str("roomID", roomID).
			Str("identity", identity).
			Msg("join ignored, match is full or already running")
		return JoinResult{State: m.state, Ignored: true}
	}

	m.participants = append(m.participants, &participant{
		connID:    connID,
		identity:  identity,
		connected: true,
	})

	res := JoinResult{State: m.state, ConnIDs: m.connIDs()}
	if len(m.participants) < maxParticipants {
		return res
	}

	// Second distinct identity: waiting -> playing.
	m.state = StatePlaying
	m.generation++
	m.challengeImage = c.images[rand.Intn(len(c.images))]
	gen := m.generation
	m.timer = time.AfterFunc(m.duration, func() {
		if c.notifyExpiry != nil {
			c.notifyExpiry(roomID, gen)
		}
	})

	res.State = m.state
	res.Started = true
	res.ChallengeImage = m.challengeImage
	res.DurationSec = int(m.duration / time.Second)
	res.FirstConnID = m.participants[0].connID
	c.logger.Debug().
		Str("roomID", roomID).
		Str("challenge", m.challengeImage).
		Dur("duration", m.duration).
		Msg("match started")
	return res
}

// SubmitResult describes the fan-out after a submission.
type SubmitResult struct {
	Accepted    bool
	Ended       bool
	Submissions map[string]string
	OtherConnID string // opponent to notify when not yet ended
	ConnIDs     []string
}

// Submit records one participant's drawing. Idempotent: a duplicate
// submission, a submission from a non-participant, or one arriving
// outside StatePlaying is a quiet no-op. The second submission ends
// the match early and stops the countdown.
func (c *Coordinator) Submit(roomID, identity, imageURI string) SubmitResult {
	m, ok := c.matches[roomID]
	if !ok || m.state != StatePlaying {
		return SubmitResult{}
	}
	p := m.find(identity)
	if p == nil {
		return SubmitResult{}
	}
	if _, dup := m.submissions[identity]; dup {
		return SubmitResult{}
	}
	m.submissions[identity] = imageURI

	if len(m.submissions) < maxParticipants {
		res := SubmitResult{Accepted: true}
		for _, other := range m.participants {
			if other.identity != identity && other.connected {
				res.OtherConnID = other.connID
			}
		}
		return res
	}

	c.end(m)
	return SubmitResult{
		Accepted:    true,
		Ended:       true,
		Submissions: c.submissionsCopy(m),
		ConnIDs:     m.connIDs(),
	}
}

// ExpireResult describes the fan-out after a countdown expiry.
type ExpireResult struct {
	Ended       bool
	Submissions map[string]string
	ConnIDs     []string
}

// Expire handles a countdown notification routed back through the
// dispatcher. A stale notification (match already ended, reset, or
// restarted) is identified by generation mismatch and dropped.
func (c *Coordinator) Expire(roomID string, generation uint64) ExpireResult {
	m, ok := c.matches[roomID]
	if !ok || m.state != StatePlaying || m.generation != generation {
		return ExpireResult{}
	}
	c.end(m)
	c.logger.Debug().
		Str("roomID", roomID).
		Int("submissions", len(m.submissions)).
		Msg("match ended on countdown expiry")
	return ExpireResult{
		Ended:       true,
		Submissions: c.submissionsCopy(m),
		ConnIDs:     m.connIDs(),
	}
}

// Ready handles vs-ready ("play again"). On an ended match the state
// machine resets to waiting and the sender becomes the first
// participant of the fresh round; on an unknown room it is a plain
// join. In any other state it defers to Join, which treats a known
// identity as a reconnect.
func (c *Coordinator) Ready(roomID, connID, identity string) JoinResult {
	m, ok := c.matches[roomID]
	if ok && m.state == StateEnded {
		c.stopTimer(m)
		m.state = StateWaiting
		m.challengeImage = ""
		m.participants = nil
		m.submissions = make(map[string]string)
		c.logger.Debug().Str("roomID", roomID).Msg("match reset")
	}
	return c.Join(roomID, connID, identity, 0)
}

// Disconnect drops the connection from its match. The match survives
// as long as one participant is still connected (a mid-game leaver is
// simply missing from the submissions at expiry); when the last one
// goes, the countdown is stopped and the match deleted.
func (c *Coordinator) Disconnect(roomID, connID string) {
	m, ok := c.matches[roomID]
	if !ok {
		return
	}
	for _, p := range m.participants {
		if p.connID == connID {
			p.connected = false
		}
	}
	if len(m.connIDs()) == 0 {
		c.stopTimer(m)
		delete(c.matches, roomID)
		c.logger.Debug().Str("roomID", roomID).Msg("match deleted, all participants gone")
	}
}

// Exists reports whether the room id hosts a match with at least one
// connected participant.
func (c *Coordinator) Exists(roomID string) bool {
	m, ok := c.matches[roomID]
	return ok && len(m.connIDs()) > 0
}

func (c *Coordinator) end(m *match) {
	c.stopTimer(m)
	m.state = StateEnded
}

// stopTimer clears the countdown handle on every path out of
// StatePlaying; an already-fired timer is neutralized by the
// generation check in Expire.
func (c *Coordinator) stopTimer(m *match) {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (c *Coordinator) submissionsCopy(m *match) map[string]string {
	out := make(map[string]string, len(m.submissions))
	for k, v := range m.submissions {
		out[k] = v
	}
	return out
}
