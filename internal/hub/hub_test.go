package hub

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pingme/pingme-server/internal/model"
)

func drain(sub *Subscriber) []model.Event {
	events := []model.Event{}
	for {
		select {
		case ev := <-sub.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestJoinAndBroadcast(t *testing.T) {
	assert := assert.New(t)
	registry := NewRegistry()

	alice := NewSubscriber("alice")
	bob := NewSubscriber("bob")
	registry.Join("t1", alice)
	registry.Join("t1", bob)

	sent := registry.Broadcast("t1", model.NewSystemEvent("hello"))
	assert.Equal(2, sent)
	assert.Len(drain(alice), 1)
	assert.Len(drain(bob), 1)
}

func TestBroadcastExcept(t *testing.T) {
	assert := assert.New(t)
	registry := NewRegistry()

	// alice on two devices, bob on one
	alicePhone := NewSubscriber("alice")
	aliceLaptop := NewSubscriber("alice")
	bob := NewSubscriber("bob")
	registry.Join("t1", alicePhone)
	registry.Join("t1", aliceLaptop)
	registry.Join("t1", bob)

	sent := registry.BroadcastExcept("t1", model.NewTypingEvent("alice", true), "alice")
	assert.Equal(1, sent)
	assert.Len(drain(alicePhone), 0)
	assert.Len(drain(aliceLaptop), 0)
	assert.Len(drain(bob), 1)
}

func TestEmptyThreadBroadcast(t *testing.T) {
	assert := assert.New(t)
	registry := NewRegistry()

	sent := registry.Broadcast("nobody-here", model.NewSystemEvent("hello"))
	assert.Equal(0, sent)
}

func TestLeave(t *testing.T) {
	assert := assert.New(t)
	registry := NewRegistry()

	alice := NewSubscriber("alice")
	bob := NewSubscriber("bob")
	registry.Join("t1", alice)
	before := registry.Count("t1")

	registry.Join("t1", bob)
	registry.Leave("t1", bob)
	assert.Equal(before, registry.Count("t1"))

	// bob's channel is closed and he receives nothing further
	registry.Broadcast("t1", model.NewSystemEvent("hello"))
	_, open := <-bob.Events()
	assert.False(open)
	assert.Len(drain(alice), 1)

	// leave is idempotent
	registry.Leave("t1", bob)
	registry.Leave("t1", alice)
	assert.Equal(0, registry.Count("t1"))
	registry.Leave("t1", alice)
}

func TestPerSubscriberOrder(t *testing.T) {
	assert := assert.New(t)
	registry := NewRegistry()

	alice := NewSubscriber("alice")
	registry.Join("t1", alice)

	registry.Broadcast("t1", model.NewSystemEvent("one"))
	registry.Broadcast("t1", model.NewSystemEvent("two"))
	registry.Broadcast("t1", model.NewSystemEvent("three"))

	events := drain(alice)
	assert.Len(events, 3)
	assert.Equal("one", events[0].(model.SystemEvent).Msg)
	assert.Equal("two", events[1].(model.SystemEvent).Msg)
	assert.Equal("three", events[2].(model.SystemEvent).Msg)
}

func TestFullQueueDrops(t *testing.T) {
	assert := assert.New(t)
	registry := NewRegistry()

	alice := NewSubscriber("alice")
	registry.Join("t1", alice)

	for i := 0; i < sendQueueSize+10; i++ {
		registry.Broadcast("t1", model.NewSystemEvent("spam"))
	}
	assert.Len(drain(alice), sendQueueSize)
}

func TestBroadcastDuringLeave(t *testing.T) {
	assert := assert.New(t)
	registry := NewRegistry()

	subs := make([]*Subscriber, 50)
	for i := range subs {
		subs[i] = NewSubscriber("alice")
		registry.Join("t1", subs[i])
	}

	// broadcasters race the leaver; an enqueue landing after a
	// subscriber's channel closed must be dropped, never panic
	wg := sync.WaitGroup{}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				registry.Broadcast("t1", model.NewSystemEvent("hello"))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, sub := range subs {
			registry.Leave("t1", sub)
		}
	}()
	wg.Wait()

	assert.Equal(0, registry.Count("t1"))
	assert.False(subs[0].Enqueue(model.NewSystemEvent("late")))
}

func TestConcurrentJoinLeaveBroadcast(t *testing.T) {
	assert := assert.New(t)
	registry := NewRegistry()

	wg := sync.WaitGroup{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := NewSubscriber("alice")
			registry.Join("t1", sub)
			registry.Broadcast("t1", model.NewSystemEvent("hello"))
			registry.Leave("t1", sub)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := NewSubscriber("bob")
			registry.Join("t2", sub)
			registry.Broadcast("t2", model.NewSystemEvent("hello"))
			registry.Leave("t2", sub)
		}()
	}
	wg.Wait()

	assert.Equal(0, registry.Count("t1"))
	assert.Equal(0, registry.Count("t2"))
}
