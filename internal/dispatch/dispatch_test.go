// internal/dispatch/dispatch_test.go
package dispatch

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestHandlersRunInRegistrationOrder(t *testing.T) {
	d := New(quietLogger())
	var order []int
	d.On("evt", func(json.RawMessage) { order = append(order, 1) })
	d.On("evt", func(json.RawMessage) { order = append(order, 2) })
	d.On("evt", func(json.RawMessage) { order = append(order, 3) })

	d.Emit("evt", nil)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestPanickingHandlerDoesNotStopTheRest(t *testing.T) {
	d := New(quietLogger())
	var ran []string
	d.On("evt", func(json.RawMessage) { ran = append(ran, "first") })
	d.On("evt", func(json.RawMessage) { panic("bad payload") })
	d.On("evt", func(json.RawMessage) { ran = append(ran, "third") })

	d.Emit("evt", json.RawMessage(`{}`))
	assert.Equal(t, []string{"first", "third"}, ran)
}

func TestOffRemovesAllHandlersForEvent(t *testing.T) {
	d := New(quietLogger())
	calls := 0
	d.On("a", func(json.RawMessage) { calls++ })
	d.On("a", func(json.RawMessage) { calls++ })
	d.On("b", func(json.RawMessage) { calls++ })

	d.Off("a")
	d.Emit("a", nil)
	d.Emit("b", nil)
	assert.Equal(t, 1, calls, "only the b handler should remain")
}

func TestRemoveDropsOnlyThatHandler(t *testing.T) {
	d := New(quietLogger())
	var got []string
	remove := d.On("evt", func(json.RawMessage) { got = append(got, "one") })
	d.On("evt", func(json.RawMessage) { got = append(got, "two") })

	remove()
	d.Emit("evt", nil)
	assert.Equal(t, []string{"two"}, got)

	// Removing twice is harmless.
	remove()
	d.Emit("evt", nil)
	assert.Equal(t, []string{"two", "two"}, got)
}

func TestClearRemovesEverything(t *testing.T) {
	d := New(quietLogger())
	calls := 0
	d.On("a", func(json.RawMessage) { calls++ })
	d.On("b", func(json.RawMessage) { calls++ })

	d.Clear()
	d.Emit("a", nil)
	d.Emit("b", nil)
	assert.Zero(t, calls)
}

func TestEmitWithNoHandlersIsANoOp(t *testing.T) {
	d := New(quietLogger())
	assert.NotPanics(t, func() { d.Emit("nobody-listens", json.RawMessage(`{"x":1}`)) })
}
