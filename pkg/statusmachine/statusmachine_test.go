package statusmachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialStateIsEmpty(t *testing.T) {
	m := New()
	assert.Equal(t, StateEmpty, m.State())
}

func TestHappyPathTraversal(t *testing.T) {
	m := New()
	require.NoError(t, m.Transition(EventLoad))
	require.NoError(t, m.Transition(EventAutoReady))
	require.NoError(t, m.Transition(EventPlay))
	require.NoError(t, m.Transition(EventPause))
	require.NoError(t, m.Transition(EventPlay))
	assert.Equal(t, StatePlaying, m.State())
}

func TestLoadingErrorReturnsToEmpty(t *testing.T) {
	m := New()
	require.NoError(t, m.Transition(EventLoad))
	require.NoError(t, m.Transition(EventError))
	assert.Equal(t, StateEmpty, m.State())
}

func TestUnknownTransitionIsRefused(t *testing.T) {
	m := New()
	err := m.Transition(EventPlay)
	assert.Error(t, err)
	assert.Equal(t, StateEmpty, m.State())
}

func TestErrorNotAcceptedOutsideLoading(t *testing.T) {
	m := New()
	require.NoError(t, m.Transition(EventLoad))
	require.NoError(t, m.Transition(EventAutoReady))
	err := m.Transition(EventError)
	assert.Error(t, err)
	assert.Equal(t, StateReady, m.State())
}

func TestObserverIsNotifiedOnAcceptedTransition(t *testing.T) {
	m := New()
	var gotState State
	var gotLabel string
	m.Observe(func(state State, label string) {
		gotState = state
		gotLabel = label
	})

	require.NoError(t, m.Transition(EventLoad))
	assert.Equal(t, StateLoading, gotState)
	assert.Equal(t, "Loading track...", gotLabel)
}

func TestObserverNotCalledOnRefusedTransition(t *testing.T) {
	m := New()
	called := false
	m.Observe(func(State, string) { called = true })

	_ = m.Transition(EventPlay)
	assert.False(t, called)
}
