package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type fakeSubscriber struct {
	mu       sync.Mutex
	payloads []string
	result   deliveryResult
}

func (f *fakeSubscriber) deliver(payload []byte) deliveryResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.result == delivered {
		f.payloads = append(f.payloads, string(payload))
	}
	return f.result
}

func (f *fakeSubscriber) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.payloads...)
}

func newTestRegistry() *RoomRegistry {
	return newRoomRegistry(newMetrics(prometheus.NewRegistry()))
}

// metricValue sums the gauge and counter samples of name in reg.
func metricValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			total += m.GetGauge().GetValue() + m.GetCounter().GetValue()
		}
	}
	return total
}

// TestJoinIsIdempotent verifies that joining twice has the same effect as
// joining once.
func TestJoinIsIdempotent(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry()
	a := &fakeSubscriber{}

	req.True(r.Join("c1", a))
	req.False(r.Join("c1", a))
	req.Equal(1, r.Size("c1"))

	res := r.Broadcast("c1", []byte("x"))
	req.Equal(1, res.Attempted)
	req.Equal([]string{"x"}, a.received())
}

// TestLeaveIsIdempotent verifies that leaving a room not joined is a no-op
// and that an emptied room is removed.
func TestLeaveIsIdempotent(t *testing.T) {
	req := require.New(t)
	reg := prometheus.NewRegistry()
	r := newRoomRegistry(newMetrics(reg))
	a := &fakeSubscriber{}
	b := &fakeSubscriber{}

	req.False(r.Leave("c1", a))

	r.Join("c1", a)
	r.Join("c1", b)
	req.True(r.Leave("c1", a))
	req.False(r.Leave("c1", a))
	req.Equal(1, r.Size("c1"))
	req.ElementsMatch([]string{"c1"}, r.Rooms())

	req.True(r.Leave("c1", b))
	req.Empty(r.Rooms())
	req.Equal(0.0, metricValue(t, reg, "huddle_rooms_active"))
}

// TestBroadcastReachesOnlyCurrentMembers verifies that sessions that left
// before a broadcast never receive it and other rooms are untouched.
func TestBroadcastReachesOnlyCurrentMembers(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry()
	a := &fakeSubscriber{}
	b := &fakeSubscriber{}
	other := &fakeSubscriber{}

	r.Join("c1", a)
	r.Join("c1", b)
	r.Join("c2", other)
	r.Leave("c1", b)

	res := r.Broadcast("c1", []byte("hi"))
	req.Equal(BroadcastResult{Attempted: 1, Delivered: 1}, res)
	req.Equal([]string{"hi"}, a.received())
	req.Empty(b.received())
	req.Empty(other.received())
}

// TestBroadcastToEmptyRoom verifies a broadcast with no subscribers attempts
// nothing.
func TestBroadcastToEmptyRoom(t *testing.T) {
	res := newTestRegistry().Broadcast("nobody", []byte("x"))
	require.Equal(t, BroadcastResult{}, res)
}

// TestBroadcastCountsOverflowAndDrops verifies delivery outcomes are
// reported per subscriber.
func TestBroadcastCountsOverflowAndDrops(t *testing.T) {
	req := require.New(t)
	reg := prometheus.NewRegistry()
	r := newRoomRegistry(newMetrics(reg))
	r.Join("c1", &fakeSubscriber{})
	r.Join("c1", &fakeSubscriber{result: overflowed})
	r.Join("c1", &fakeSubscriber{result: dropped})

	res := r.Broadcast("c1", []byte("x"))
	req.Equal(BroadcastResult{Attempted: 3, Delivered: 1, Overflowed: 1}, res)
	req.Equal(1.0, metricValue(t, reg, "huddle_broadcast_deliveries_total"))
}

// TestLeaveAllRemovesEverySubscription verifies disconnect cleanup: after
// LeaveAll no broadcast attempts delivery to the subscriber.
func TestLeaveAllRemovesEverySubscription(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry()
	a := &fakeSubscriber{}
	b := &fakeSubscriber{}

	r.Join("c1", a)
	r.Join("c2", a)
	r.Join("c2", b)

	req.Equal(2, r.LeaveAll(a, []string{"c1", "c2", "never-joined"}))
	req.Equal(0, r.Broadcast("c1", []byte("x")).Attempted)
	req.Equal(1, r.Broadcast("c2", []byte("y")).Attempted)
	req.Empty(a.received())
	req.NotContains(r.subscribers("c2"), subscriber(a))
}

// TestBroadcastPreservesOrderPerSubscriber verifies that every member sees a
// room's broadcasts in invocation order while membership churns.
func TestBroadcastPreservesOrderPerSubscriber(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry()
	members := make([]*fakeSubscriber, 4)
	for i := range members {
		members[i] = &fakeSubscriber{}
		r.Join("c1", members[i])
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		churn := &fakeSubscriber{}
		for i := 0; i < 200; i++ {
			r.Join("c1", churn)
			r.Leave("c1", churn)
		}
	}()

	want := make([]string, 100)
	for i := range want {
		want[i] = fmt.Sprintf("m%03d", i)
		r.Broadcast("c1", []byte(want[i]))
	}
	wg.Wait()

	for _, m := range members {
		req.Equal(want, m.received())
	}
}

// TestConcurrentMembershipChanges exercises join, leave, and broadcast from
// many goroutines; run with -race.
func TestConcurrentMembershipChanges(t *testing.T) {
	r := newTestRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := &fakeSubscriber{}
			channel := fmt.Sprintf("c%d", i%4)
			for j := 0; j < 50; j++ {
				r.Join(channel, s)
				r.Broadcast(channel, []byte("x"))
				r.Leave(channel, s)
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, r.Rooms())
}

// TestClearReleasesRooms verifies the registry is empty after clear.
func TestClearReleasesRooms(t *testing.T) {
	req := require.New(t)
	reg := prometheus.NewRegistry()
	r := newRoomRegistry(newMetrics(reg))
	r.Join("c1", &fakeSubscriber{})
	r.Join("c2", &fakeSubscriber{})
	req.Equal(2.0, metricValue(t, reg, "huddle_rooms_active"))

	r.clear()
	req.Empty(r.Rooms())
	req.Equal(0.0, metricValue(t, reg, "huddle_rooms_active"))
}
