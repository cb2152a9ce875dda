package internal_transcriber_deepgram

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

type capture struct {
	mu       sync.Mutex
	interims []string
	finals   []string
}

func (c *capture) onInterim(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interims = append(c.interims, text)
}

func (c *capture) onFinal(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finals = append(c.finals, text)
}

func (c *capture) finalsSnapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.finals...)
}

func (c *capture) interimsSnapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.interims...)
}

func newTestFinalizer(t *testing.T) (*finalizer, *capture) {
	t.Helper()
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	cap := &capture{}
	f := newFinalizer(logger, cap.onInterim, cap.onFinal)
	t.Cleanup(f.Close)
	return f, cap
}

func TestFinalizer_NonEmptyFinalEmitsOnce(t *testing.T) {
	f, cap := newTestFinalizer(t)

	f.HandleInterim("what is")
	f.HandleInterim("what is my balance")
	f.HandleFinal("what is my balance?")

	assert.Equal(t, []string{"what is", "what is my balance"}, cap.interimsSnapshot())
	assert.Equal(t, []string{"what is my balance?"}, cap.finalsSnapshot())

	// The fallback timer must be disarmed by the final.
	time.Sleep(interimFallbackDelay + 200*time.Millisecond)
	assert.Equal(t, []string{"what is my balance?"}, cap.finalsSnapshot())
}

func TestFinalizer_EmptyFinalSalvagesInterim(t *testing.T) {
	f, cap := newTestFinalizer(t)

	f.HandleInterim("yes please")
	f.HandleFinal("")

	assert.Equal(t, []string{"yes please"}, cap.finalsSnapshot())
}

func TestFinalizer_EmptyFinalWithoutInterimIsDropped(t *testing.T) {
	f, cap := newTestFinalizer(t)

	f.HandleFinal("")
	f.HandleFinal("   ")

	assert.Empty(t, cap.finalsSnapshot())
}

func TestFinalizer_UtteranceEndSalvagesInterim(t *testing.T) {
	f, cap := newTestFinalizer(t)

	f.HandleInterim("call me tomorrow")
	f.HandleUtteranceEnd()

	assert.Equal(t, []string{"call me tomorrow"}, cap.finalsSnapshot())

	// A second UtteranceEnd must not re-emit.
	f.HandleUtteranceEnd()
	assert.Equal(t, []string{"call me tomorrow"}, cap.finalsSnapshot())
}

func TestFinalizer_FallbackPromotesInterim(t *testing.T) {
	f, cap := newTestFinalizer(t)

	f.HandleInterim("hello there")
	assert.Empty(t, cap.finalsSnapshot())

	deadline := time.Now().Add(interimFallbackDelay + 500*time.Millisecond)
	for time.Now().Before(deadline) {
		if len(cap.finalsSnapshot()) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, []string{"hello there"}, cap.finalsSnapshot())
}

func TestFinalizer_NewInterimRearmsFallback(t *testing.T) {
	f, cap := newTestFinalizer(t)

	f.HandleInterim("one")
	time.Sleep(interimFallbackDelay / 2)
	f.HandleInterim("one two")
	time.Sleep(interimFallbackDelay / 2)

	// First timer would have fired by now if the second interim had not
	// re-armed it.
	assert.Empty(t, cap.finalsSnapshot())

	deadline := time.Now().Add(interimFallbackDelay + 500*time.Millisecond)
	for time.Now().Before(deadline) {
		if len(cap.finalsSnapshot()) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, []string{"one two"}, cap.finalsSnapshot())
}

func TestFinalizer_ClearBufferSuppressesEvents(t *testing.T) {
	f, cap := newTestFinalizer(t)

	f.HandleInterim("stale echo")
	f.ClearBuffer()

	// Everything inside the suppression window is dropped, including the
	// interim that was pending when the buffer was cleared.
	f.HandleInterim("agent voice leaking back")
	f.HandleFinal("agent voice leaking back")
	f.HandleUtteranceEnd()

	assert.Empty(t, cap.finalsSnapshot())

	// After the window closes, events flow again.
	time.Sleep(clearBufferSuppression + 100*time.Millisecond)
	f.HandleFinal("real user speech")
	assert.Equal(t, []string{"real user speech"}, cap.finalsSnapshot())
}

func TestFinalizer_MutedDropsEverything(t *testing.T) {
	f, cap := newTestFinalizer(t)

	f.SetMuted(true)
	f.HandleInterim("echo")
	f.HandleFinal("echo")
	assert.Empty(t, cap.finalsSnapshot())
	assert.Empty(t, cap.interimsSnapshot())

	f.SetMuted(false)
	time.Sleep(10 * time.Millisecond)
	f.HandleFinal("back to listening")
	assert.Equal(t, []string{"back to listening"}, cap.finalsSnapshot())
}

func TestFinalizer_CloseStopsFallback(t *testing.T) {
	f, cap := newTestFinalizer(t)

	f.HandleInterim("never emitted")
	f.Close()

	time.Sleep(interimFallbackDelay + 200*time.Millisecond)
	assert.Empty(t, cap.finalsSnapshot())
}

func TestFinalizer_WhitespaceOnlyInterimIgnored(t *testing.T) {
	f, cap := newTestFinalizer(t)

	f.HandleInterim("   ")
	assert.Empty(t, cap.interimsSnapshot())

	time.Sleep(interimFallbackDelay + 200*time.Millisecond)
	assert.Empty(t, cap.finalsSnapshot())
}
