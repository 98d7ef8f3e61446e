package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishReachesSubscribers(t *testing.T) {
	bus := NewBus[int]()

	var a, b []int
	bus.Subscribe(func(v int) { a = append(a, v) })
	bus.Subscribe(func(v int) { b = append(b, v) })

	bus.Publish(1)
	bus.Publish(2)

	assert.Equal(t, []int{1, 2}, a)
	assert.Equal(t, []int{1, 2}, b)
	assert.Equal(t, 2, bus.Len())
}

func TestCancelStopsDelivery(t *testing.T) {
	bus := NewBus[string]()

	var got []string
	sub := bus.Subscribe(func(v string) { got = append(got, v) })

	bus.Publish("one")
	sub.Cancel()
	bus.Publish("two")

	assert.Equal(t, []string{"one"}, got)
	assert.Equal(t, 0, bus.Len())

	// Cancelling twice is harmless, as is cancelling a nil subscription.
	sub.Cancel()
	var none *Subscription
	none.Cancel()
}

func TestDeliveryInSubscriptionOrder(t *testing.T) {
	bus := NewBus[struct{}]()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		bus.Subscribe(func(struct{}) { order = append(order, i) })
	}

	bus.Publish(struct{}{})
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}
