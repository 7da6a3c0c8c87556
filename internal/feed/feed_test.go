package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeed_PublishOrder(t *testing.T) {
	f := New[int]()

	var got []string
	f.Subscribe(func(v int) { got = append(got, "a") })
	f.Subscribe(func(v int) { got = append(got, "b") })
	f.Subscribe(func(v int) { got = append(got, "c") })

	f.Publish(1)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestFeed_Unsubscribe(t *testing.T) {
	t.Run("stops delivery", func(t *testing.T) {
		f := New[string]()
		var count int
		unsub := f.Subscribe(func(string) { count++ })

		f.Publish("x")
		unsub()
		f.Publish("y")

		assert.Equal(t, 1, count)
		assert.Equal(t, 0, f.Len())
	})

	t.Run("is idempotent", func(t *testing.T) {
		f := New[string]()
		unsubA := f.Subscribe(func(string) {})
		f.Subscribe(func(string) {})

		unsubA()
		unsubA()
		assert.Equal(t, 1, f.Len())
	})

	t.Run("subscriber may unsubscribe itself while handling", func(t *testing.T) {
		f := New[int]()
		var count int
		var unsub func()
		unsub = f.Subscribe(func(int) {
			count++
			unsub()
		})

		f.Publish(1)
		f.Publish(2)
		assert.Equal(t, 1, count)
	})
}

func TestFeed_Close(t *testing.T) {
	f := New[int]()
	var count int
	f.Subscribe(func(int) { count++ })

	f.Close()
	f.Publish(1)
	unsub := f.Subscribe(func(int) { count++ })
	unsub()
	f.Publish(2)

	assert.Equal(t, 0, count)
	assert.Equal(t, 0, f.Len())
}

func TestFeed_NilSubscriber(t *testing.T) {
	f := New[int]()
	unsub := f.Subscribe(nil)
	assert.NotPanics(t, func() {
		unsub()
		f.Publish(1)
	})
	assert.Equal(t, 0, f.Len())
}
