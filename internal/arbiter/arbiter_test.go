package arbiter

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeElement struct {
	mu      sync.Mutex
	src     string
	playing bool
	playErr error
	plays   int
	pauses  int
}

func (f *fakeElement) Play(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays++
	if f.playErr != nil {
		return f.playErr
	}
	f.playing = true
	return nil
}

func (f *fakeElement) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	f.playing = false
}

func (f *fakeElement) Source() string { return f.src }

func (f *fakeElement) isPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func TestFirstRequestGranted(t *testing.T) {
	a := New()
	el := &fakeElement{src: "a.mp3"}
	token := a.Register(el, PriorityMiniPlayer)

	granted, err := a.RequestPlay(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, granted)
	assert.True(t, el.isPlaying())

	got, ok := a.Granted()
	require.True(t, ok)
	assert.Equal(t, token, got)
}

func TestHigherPriorityPreempts(t *testing.T) {
	a := New()
	mini := &fakeElement{src: "a.mp3"}
	modal := &fakeElement{src: "b.mp3"}
	miniTok := a.Register(mini, PriorityMiniPlayer)
	modalTok := a.Register(modal, PriorityModal)

	_, err := a.RequestPlay(context.Background(), miniTok)
	require.NoError(t, err)

	granted, err := a.RequestPlay(context.Background(), modalTok)
	require.NoError(t, err)
	assert.True(t, granted)
	assert.False(t, mini.isPlaying())
	assert.True(t, modal.isPlaying())
}

func TestLowerPriorityDeferred(t *testing.T) {
	a := New()
	modal := &fakeElement{src: "b.mp3"}
	ambient := &fakeElement{src: "c.mp3"}
	modalTok := a.Register(modal, PriorityModal)
	ambientTok := a.Register(ambient, PriorityAmbient)

	_, err := a.RequestPlay(context.Background(), modalTok)
	require.NoError(t, err)

	granted, err := a.RequestPlay(context.Background(), ambientTok)
	require.NoError(t, err)
	assert.False(t, granted)
	assert.False(t, ambient.isPlaying())
	assert.True(t, modal.isPlaying())

	got, _ := a.Granted()
	assert.Equal(t, modalTok, got)
}

func TestEqualPriorityWins(t *testing.T) {
	a := New()
	first := &fakeElement{src: "a.mp3"}
	second := &fakeElement{src: "b.mp3"}
	firstTok := a.Register(first, PriorityMiniPlayer)
	secondTok := a.Register(second, PriorityMiniPlayer)

	_, err := a.RequestPlay(context.Background(), firstTok)
	require.NoError(t, err)
	granted, err := a.RequestPlay(context.Background(), secondTok)
	require.NoError(t, err)

	assert.True(t, granted)
	assert.False(t, first.isPlaying())
	assert.True(t, second.isPlaying())
}

func TestReleaseRestoresPreempted(t *testing.T) {
	a := New()
	mini := &fakeElement{src: "a.mp3"}
	modal := &fakeElement{src: "b.mp3"}
	miniTok := a.Register(mini, PriorityMiniPlayer)
	modalTok := a.Register(modal, PriorityModal)

	_, err := a.RequestPlay(context.Background(), miniTok)
	require.NoError(t, err)
	_, err = a.RequestPlay(context.Background(), modalTok)
	require.NoError(t, err)

	a.Release(modalTok)

	assert.True(t, mini.isPlaying(), "preempted claim should resume")
	got, ok := a.Granted()
	require.True(t, ok)
	assert.Equal(t, miniTok, got)
}

func TestReleaseSkipsSourcelessElement(t *testing.T) {
	a := New()
	mini := &fakeElement{src: ""}
	modal := &fakeElement{src: "b.mp3"}
	miniTok := a.Register(mini, PriorityMiniPlayer)
	modalTok := a.Register(modal, PriorityModal)

	_, err := a.RequestPlay(context.Background(), miniTok)
	require.NoError(t, err)
	_, err = a.RequestPlay(context.Background(), modalTok)
	require.NoError(t, err)

	a.Release(modalTok)

	// The sourceless claim must not be resumed; the output goes idle.
	assert.False(t, mini.isPlaying())
	_, ok := a.Granted()
	assert.False(t, ok)
}

func TestReleaseOfNonHolder(t *testing.T) {
	a := New()
	mini := &fakeElement{src: "a.mp3"}
	modal := &fakeElement{src: "b.mp3"}
	miniTok := a.Register(mini, PriorityMiniPlayer)
	modalTok := a.Register(modal, PriorityModal)

	_, err := a.RequestPlay(context.Background(), miniTok)
	require.NoError(t, err)
	_, err = a.RequestPlay(context.Background(), modalTok)
	require.NoError(t, err)

	a.Release(miniTok)

	assert.True(t, modal.isPlaying())
	got, _ := a.Granted()
	assert.Equal(t, modalTok, got)
}

func TestReleaseAll(t *testing.T) {
	a := New()
	mini := &fakeElement{src: "a.mp3"}
	modal := &fakeElement{src: "b.mp3"}
	miniTok := a.Register(mini, PriorityMiniPlayer)
	modalTok := a.Register(modal, PriorityModal)

	_, err := a.RequestPlay(context.Background(), miniTok)
	require.NoError(t, err)
	_, err = a.RequestPlay(context.Background(), modalTok)
	require.NoError(t, err)

	a.ReleaseAll()

	assert.False(t, mini.isPlaying())
	assert.False(t, modal.isPlaying())
	_, ok := a.Granted()
	assert.False(t, ok)

	// Claims survive ReleaseAll and can request again.
	granted, err := a.RequestPlay(context.Background(), miniTok)
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestPlayFailureKeepsGrant(t *testing.T) {
	a := New()
	el := &fakeElement{src: "a.mp3", playErr: errors.New("autoplay blocked")}
	token := a.Register(el, PriorityModal)

	granted, err := a.RequestPlay(context.Background(), token)
	assert.True(t, granted)
	assert.Error(t, err)
	assert.False(t, el.isPlaying())

	// The grant stands; a retry after user interaction succeeds.
	el.playErr = nil
	granted, err = a.RequestPlay(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, granted)
	assert.True(t, el.isPlaying())
}

func TestUnknownTokenIgnored(t *testing.T) {
	a := New()
	granted, err := a.RequestPlay(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, granted)
	a.Release("nope")
}

func TestExclusivityAcrossSequence(t *testing.T) {
	a := New()
	els := []*fakeElement{
		{src: "a.mp3"}, {src: "b.mp3"}, {src: "c.mp3"},
	}
	tokens := []string{
		a.Register(els[0], PriorityAmbient),
		a.Register(els[1], PriorityMiniPlayer),
		a.Register(els[2], PriorityModal),
	}

	for _, tok := range tokens {
		_, err := a.RequestPlay(context.Background(), tok)
		require.NoError(t, err)
		playing := 0
		for _, el := range els {
			if el.isPlaying() {
				playing++
			}
		}
		assert.LessOrEqual(t, playing, 1, "at most one element may play")
	}

	a.Release(tokens[2])
	a.Release(tokens[1])
	assert.True(t, els[0].isPlaying(), "ambient claim promoted last")
}
