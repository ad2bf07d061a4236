package memory

import (
	"sync"

	"github.com/zakisheriff/Swing-Mates/backend/model"
)

const defaultMaxMessages = 100

// room is one collaboration session: the authoritative stroke log, the
// member map in join order, the capped chat log and the shared
// reference image.
type room struct {
	strokes   []model.Stroke
	members   map[string]string // connection id -> identity
	joinOrder []string          // connection ids, join order
	messages  []model.ChatMessage
	reference *model.ReferenceImage
}

// MemStore is the in-memory room table. All state dies with the
// process; rooms are created lazily on first join and torn down the
// moment the last member leaves.
type MemStore struct {
	mx          *sync.Mutex
	db          map[string]*room
	maxMessages int
}

// NewMemStore creates an empty store. maxMessages caps the per-room
// chat log; 0 selects the default of 100.
func NewMemStore(maxMessages int) *MemStore {
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}
	return &MemStore{
		mx:          &sync.Mutex{},
		db:          make(map[string]*room),
		maxMessages: maxMessages,
	}
}

// EnsureRoom creates the room if it does not exist yet. Idempotent.
func (ms *MemStore) EnsureRoom(roomID string) {
	ms.mx.Lock()
	defer ms.mx.Unlock()
	ms.ensure(roomID)
}

func (ms *MemStore) ensure(roomID string) *room {
	r, ok := ms.db[roomID]
	if !ok {
		r = &room{
			strokes: make([]model.Stroke, 0),
			members: make(map[string]string),
		}
		ms.db[roomID] = r
	}
	return r
}

// Join registers the connection as a room member and returns snapshots
// of the stroke log, chat log and member identities (join order) for
// late-join catch-up. Never fails; an unseen room starts empty.
func (ms *MemStore) Join(roomID, connID, identity string) ([]model.Stroke, []model.ChatMessage, []string) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r := ms.ensure(roomID)
	if _, ok := r.members[connID]; !ok {
		r.joinOrder = append(r.joinOrder, connID)
	}
	r.members[connID] = identity

	strokes := make([]model.Stroke, len(r.strokes))
	copy(strokes, r.strokes)
	messages := make([]model.ChatMessage, len(r.messages))
	copy(messages, r.messages)
	identities := make([]string, 0, len(r.joinOrder))
	for _, id := range r.joinOrder {
		identities = append(identities, r.members[id])
	}
	return strokes, messages, identities
}

// AppendStroke appends to the room's stroke log. Silently dropped if
// the room has been torn down (a stroke can race its room's teardown).
func (ms *MemStore) AppendStroke(roomID string, s model.Stroke) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, ok := ms.db[roomID]
	if !ok {
		return
	}
	r.strokes = append(r.strokes, s)
}

// UndoLast removes the most recently appended stroke. No-op on an
// empty log or absent room.
func (ms *MemStore) UndoLast(roomID string) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, ok := ms.db[roomID]
	if !ok || len(r.strokes) == 0 {
		return
	}
	r.strokes = r.strokes[:len(r.strokes)-1]
}

// Clear empties the stroke log only. Members and chat are untouched.
func (ms *MemStore) Clear(roomID string) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, ok := ms.db[roomID]
	if !ok {
		return
	}
	r.strokes = make([]model.Stroke, 0)
}

// Strokes returns a snapshot of the room's stroke log.
func (ms *MemStore) Strokes(roomID string) ([]model.Stroke, bool) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, ok := ms.db[roomID]
	if !ok {
		return nil, false
	}
	strokes := make([]model.Stroke, len(r.strokes))
	copy(strokes, r.strokes)
	return strokes, true
}

// AppendMessage appends to the room's chat log, evicting from the
// front once the cap is reached.
func (ms *MemStore) AppendMessage(roomID string, m model.ChatMessage) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, ok := ms.db[roomID]
	if !ok {
		return
	}
	r.messages = append(r.messages, m)
	if len(r.messages) > ms.maxMessages {
		r.messages = r.messages[len(r.messages)-ms.maxMessages:]
	}
}

// SetReferenceImage stores the shared reference image, last writer
// wins. A nil imageData clears it but keeps broadcasting semantics to
// the relay (the payload is relayed as-is).
func (ms *MemStore) SetReferenceImage(roomID string, imageData *string, opacity float64) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, ok := ms.db[roomID]
	if !ok {
		return
	}
	r.reference = &model.ReferenceImage{ImageData: imageData, Opacity: opacity}
}

// SetReferenceOpacity updates only the opacity of the current
// reference image. No-op if none is set.
func (ms *MemStore) SetReferenceOpacity(roomID string, opacity float64) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, ok := ms.db[roomID]
	if !ok || r.reference == nil {
		return
	}
	r.reference.Opacity = opacity
}

// Reference returns the room's reference image, if one is set.
func (ms *MemStore) Reference(roomID string) (model.ReferenceImage, bool) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, ok := ms.db[roomID]
	if !ok || r.reference == nil || r.reference.ImageData == nil {
		return model.ReferenceImage{}, false
	}
	return *r.reference, true
}

// Leave removes the connection from the room. Returns the identity it
// held (ok reports whether it was a member) and whether the room is
// now empty and should be torn down.
func (ms *MemStore) Leave(roomID, connID string) (identity string, ok bool, empty bool) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, exists := ms.db[roomID]
	if !exists {
		return "", false, false
	}
	identity, ok = r.members[connID]
	if ok {
		delete(r.members, connID)
		for i, id := range r.joinOrder {
			if id == connID {
				r.joinOrder = append(r.joinOrder[:i], r.joinOrder[i+1:]...)
				break
			}
		}
	}
	return identity, ok, len(r.members) == 0
}

// Exists reports whether the room has at least one member.
func (ms *MemStore) Exists(roomID string) bool {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, ok := ms.db[roomID]
	return ok && len(r.members) > 0
}

// Delete tears the room down. Room lifecycle policy lives with the
// caller; keeping teardown behind this single method lets a grace
// period be added later without touching dispatch logic.
func (ms *MemStore) Delete(roomID string) {
	ms.mx.Lock()
	defer ms.mx.Unlock()
	delete(ms.db, roomID)
}
