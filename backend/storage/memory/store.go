package memory

import (
	"errors"
	"sync"

	"github.com/adwski/webrtc-rendezvous/backend/model"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrRoomIsFull   = errors.New("room is full")
	ErrRoomNotFound = errors.New("room is not found")
)

// MemStore is the room registry. Rooms are created on first join
// and removed when the last occupant leaves.
type MemStore struct {
	mx    *sync.Mutex
	db    map[string][]model.Conn
	rooms prometheus.Gauge
}

// NewMemStore creates empty registry. rooms gauge tracks number of rooms, can be nil.
func NewMemStore(rooms prometheus.Gauge) *MemStore {
	return &MemStore{
		mx:    &sync.Mutex{},
		db:    make(map[string][]model.Conn),
		rooms: rooms,
	}
}

// Join adds conn to the room and returns occupancy after joining.
// Full room is left unchanged and ErrRoomIsFull is returned.
// Joining a room the conn already occupies returns current occupancy.
func (ms *MemStore) Join(roomID string, conn model.Conn) (int, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	occupants := ms.db[roomID]
	for _, c := range occupants {
		if c == conn {
			return len(occupants), nil
		}
	}
	if len(occupants) >= model.MaxPeers {
		return len(occupants), ErrRoomIsFull
	}

	if len(occupants) == 0 && ms.rooms != nil {
		ms.rooms.Inc()
	}
	occupants = append(occupants, conn)
	ms.db[roomID] = occupants
	return len(occupants), nil
}

// Leave removes conn from the room and returns occupancy after leaving.
// ok is false if room does not exist. Removing conn that is not
// an occupant leaves the room unchanged.
func (ms *MemStore) Leave(roomID string, conn model.Conn) (occupancy int, ok bool) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	occupants, ok := ms.db[roomID]
	if !ok {
		return 0, false
	}
	remaining := make([]model.Conn, 0, len(occupants))
	for _, c := range occupants {
		if c != conn {
			remaining = append(remaining, c)
		}
	}
	if len(remaining) == 0 {
		delete(ms.db, roomID)
		if ms.rooms != nil {
			ms.rooms.Dec()
		}
		return 0, true
	}
	ms.db[roomID] = remaining
	return len(remaining), true
}

// OccupantsExcept returns snapshot of room occupants other than conn.
func (ms *MemStore) OccupantsExcept(roomID string, conn model.Conn) []model.Conn {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	var out []model.Conn
	for _, c := range ms.db[roomID] {
		if c != conn {
			out = append(out, c)
		}
	}
	return out
}

func (ms *MemStore) GetRoom(roomID string) (*model.Room, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	occupants, ok := ms.db[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return &model.Room{
		ID:    roomID,
		Peers: len(occupants),
	}, nil
}
