package fanout

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/zakisheriff/Swing-Mates/backend/model"
)

// Registry tracks live connection wires and their room grouping, and
// fans envelopes out to room subsets. Sends never block: a consumer
// whose TX buffer is full has the envelope dropped with a log line,
// so one dead endpoint cannot stall dispatch for a whole room.
type Registry struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	wires  map[string]model.Wire
	rooms  map[string]map[string]struct{}
}

func NewRegistry(logger *zerolog.Logger) *Registry {
	return &Registry{
		logger: logger.With().Str("component", "fanout").Logger(),
		mx:     &sync.RWMutex{},
		wires:  make(map[string]model.Wire),
		rooms:  make(map[string]map[string]struct{}),
	}
}

func (reg *Registry) Register(connID string, wire model.Wire) {
	reg.mx.Lock()
	defer reg.mx.Unlock()
	reg.wires[connID] = wire
	reg.logger.Debug().Str("connID", connID).Msg("endpoint registered")
}

func (reg *Registry) Unregister(connID string) {
	reg.mx.Lock()
	defer reg.mx.Unlock()
	delete(reg.wires, connID)
	reg.logger.Debug().Str("connID", connID).Msg("endpoint unregistered")
}

func (reg *Registry) JoinRoom(roomID, connID string) {
	reg.mx.Lock()
	defer reg.mx.Unlock()

	members, ok := reg.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		reg.rooms[roomID] = members
	}
	members[connID] = struct{}{}
}

func (reg *Registry) LeaveRoom(roomID, connID string) {
	reg.mx.Lock()
	defer reg.mx.Unlock()

	members, ok := reg.rooms[roomID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(reg.rooms, roomID)
	}
}

// Send unicasts to one connection. Reports whether the envelope was
// accepted into the endpoint's buffer.
func (reg *Registry) Send(connID string, env model.Envelope) bool {
	reg.mx.RLock()
	wire, ok := reg.wires[connID]
	reg.mx.RUnlock()
	if !ok {
		reg.logger.Debug().
			Str("connID", connID).
			Str("event", env.Event).
			Msg("cannot send, endpoint not found")
		return false
	}
	return reg.push(connID, wire, env)
}

// ToRoom sends to every room member except the excluded connection.
// Pass an empty exclusion to reach the whole room.
func (reg *Registry) ToRoom(roomID, exceptConnID string, env model.Envelope) {
	type target struct {
		connID string
		wire   model.Wire
	}

	reg.mx.RLock()
	members := reg.rooms[roomID]
	targets := make([]target, 0, len(members))
	for connID := range members {
		if connID == exceptConnID {
			continue
		}
		if wire, ok := reg.wires[connID]; ok {
			targets = append(targets, target{connID: connID, wire: wire})
		}
	}
	reg.mx.RUnlock()

	for _, tg := range targets {
		reg.push(tg.connID, tg.wire, env)
	}
}

func (reg *Registry) push(connID string, wire model.Wire, env model.Envelope) bool {
	select {
	case wire.TX <- env:
		return true
	default:
		reg.logger.Warn().
			Str("connID", connID).
			Str("event", env.Event).
			Msg("endpoint buffer full, envelope dropped")
		return false
	}
}
