package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"xdao.co/archiver/contentkey"
)

func key(b byte) contentkey.Key {
	var k contentkey.Key
	k[0] = b
	return k
}

func TestSubscribeByKind(t *testing.T) {
	bus := NewBus()
	var adds, removes, all []Event
	bus.Subscribe(Add, func(e Event) { adds = append(adds, e) })
	bus.Subscribe(Remove, func(e Event) { removes = append(removes, e) })
	bus.Subscribe(0, func(e Event) { all = append(all, e) })

	bus.Emit(Event{Kind: Add, Key: key(1)})
	bus.Emit(Event{Kind: Remove, Key: key(1)})
	bus.Emit(Event{Kind: Add, Key: key(2)})

	assert.Equal(t, []Event{{Add, key(1)}, {Add, key(2)}}, adds)
	assert.Equal(t, []Event{{Remove, key(1)}}, removes)
	assert.Equal(t, []Event{{Add, key(1)}, {Remove, key(1)}, {Add, key(2)}}, all)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	n := 0
	unsub := bus.Subscribe(Add, func(Event) { n++ })
	bus.Emit(Event{Kind: Add})
	unsub()
	unsub()
	bus.Emit(Event{Kind: Add})
	assert.Equal(t, 1, n)
}

func TestSubscriptionOrder(t *testing.T) {
	bus := NewBus()
	var order []int
	for i := 0; i < 3; i++ {
		bus.Subscribe(0, func(Event) { order = append(order, i) })
	}
	bus.Emit(Event{Kind: Remove})
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestConcurrentEmitIsSerialized(t *testing.T) {
	bus := NewBus()
	var inFlight, maxInFlight int
	var mu sync.Mutex
	bus.Subscribe(0, func(Event) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		mu.Lock()
		inFlight--
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(Event{Kind: Add})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInFlight)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "add", Add.String())
	assert.Equal(t, "remove", Remove.String())
	assert.Equal(t, "unknown", Kind(9).String())
}
