// internal/throttle/throttle_test.go
package throttle

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sendRecorder struct {
	mu   sync.Mutex
	sent []interface{}
}

func (r *sendRecorder) send(p interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, p)
}

func (r *sendRecorder) snapshot() []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]interface{}(nil), r.sent...)
}

func TestFirstOfferSendsImmediately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &sendRecorder{}
	th := New(clock, 100*time.Millisecond, rec.send)

	th.Offer("a")
	assert.Equal(t, []interface{}{"a"}, rec.snapshot())
}

func TestLastValueWinsWithinWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &sendRecorder{}
	th := New(clock, 100*time.Millisecond, rec.send)

	th.Offer("first") // opens the window
	for _, p := range []string{"b", "c", "d", "e"} {
		th.Offer(p)
	}
	// Nothing else goes out while the window is open.
	assert.Equal(t, []interface{}{"first"}, rec.snapshot())

	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 2
	}, time.Second, time.Millisecond, "the window flush should deliver exactly one send")
	assert.Equal(t, "e", rec.snapshot()[1], "the flushed payload is the last offered, not the first dropped")
}

func TestSendAfterIdleWindowIsImmediate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &sendRecorder{}
	th := New(clock, 100*time.Millisecond, rec.send)

	th.Offer("a")
	clock.Advance(150 * time.Millisecond)
	th.Offer("b")
	assert.Equal(t, []interface{}{"a", "b"}, rec.snapshot())
}

func TestStopDiscardsPending(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &sendRecorder{}
	th := New(clock, 100*time.Millisecond, rec.send)

	th.Offer("a")
	th.Offer("pending")
	th.Stop()
	clock.Advance(time.Second)

	assert.Equal(t, []interface{}{"a"}, rec.snapshot())
	th.Offer("after-stop")
	assert.Equal(t, []interface{}{"a"}, rec.snapshot())
}

func TestWindowReopensAfterFlush(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &sendRecorder{}
	th := New(clock, 100*time.Millisecond, rec.send)

	th.Offer("a")
	th.Offer("b")
	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, time.Millisecond)

	// The flush restarts the window: an immediate offer is pended again.
	th.Offer("c")
	assert.Len(t, rec.snapshot(), 2)
	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, "c", rec.snapshot()[2])
}
