package server

import (
	"sync"

	"github.com/samber/lo"
)

// deliveryResult reports what happened to one queued frame.
type deliveryResult int

const (
	delivered deliveryResult = iota
	// dropped means the subscriber was already closed.
	dropped
	// overflowed means the subscriber's buffer was full and it has been closed.
	overflowed
)

// subscriber is a room member. deliver must not block.
type subscriber interface {
	deliver(payload []byte) deliveryResult
}

type room struct {
	mu      sync.Mutex
	members map[subscriber]struct{}
}

// RoomRegistry maps channel ids to their live subscribers. Locks are always
// taken registry first, then room. An empty room is removed.
type RoomRegistry struct {
	mu      sync.RWMutex
	rooms   map[string]*room
	metrics *metrics
}

// BroadcastResult summarizes one Broadcast call.
type BroadcastResult struct {
	Attempted  int
	Delivered  int
	Overflowed int
}

func newRoomRegistry(m *metrics) *RoomRegistry {
	return &RoomRegistry{rooms: make(map[string]*room), metrics: m}
}

// Join subscribes s to channelID and reports whether it was newly added.
func (r *RoomRegistry) Join(channelID string, s subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[channelID]
	if !ok {
		rm = &room{members: make(map[subscriber]struct{})}
		r.rooms[channelID] = rm
		r.metrics.roomsActive.Inc()
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if _, exists := rm.members[s]; exists {
		return false
	}
	rm.members[s] = struct{}{}
	return true
}

// Leave unsubscribes s from channelID and reports whether it was a member.
func (r *RoomRegistry) Leave(channelID string, s subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(channelID, s)
}

// LeaveAll unsubscribes s from every listed channel in one critical section.
func (r *RoomRegistry) LeaveAll(s subscriber, channelIDs []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, channelID := range channelIDs {
		if r.leaveLocked(channelID, s) {
			removed++
		}
	}
	return removed
}

func (r *RoomRegistry) leaveLocked(channelID string, s subscriber) bool {
	rm, ok := r.rooms[channelID]
	if !ok {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if _, exists := rm.members[s]; !exists {
		return false
	}
	delete(rm.members, s)
	if len(rm.members) == 0 {
		delete(r.rooms, channelID)
		r.metrics.roomsActive.Dec()
	}
	return true
}

// Broadcast queues payload to every subscriber of channelID at the time of
// the call. Calls for the same room are serialized, so each subscriber sees
// them in invocation order.
func (r *RoomRegistry) Broadcast(channelID string, payload []byte) BroadcastResult {
	r.mu.RLock()
	rm, ok := r.rooms[channelID]
	if !ok {
		r.mu.RUnlock()
		return BroadcastResult{}
	}
	rm.mu.Lock()
	r.mu.RUnlock()
	defer rm.mu.Unlock()

	result := BroadcastResult{Attempted: len(rm.members)}
	for member := range rm.members {
		switch member.deliver(payload) {
		case delivered:
			result.Delivered++
		case overflowed:
			result.Overflowed++
		}
	}

	r.metrics.broadcastDeliveries.Add(float64(result.Delivered))
	return result
}

// Size returns the number of subscribers of channelID.
func (r *RoomRegistry) Size(channelID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[channelID]
	if !ok {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.members)
}

func (r *RoomRegistry) subscribers(channelID string) []subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[channelID]
	if !ok {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return lo.Keys(rm.members)
}

// Rooms returns the ids of every non-empty room.
func (r *RoomRegistry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.rooms)
}

func (r *RoomRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.metrics.roomsActive.Sub(float64(len(r.rooms)))
	r.rooms = make(map[string]*room)
}
