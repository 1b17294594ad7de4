package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockAdapter_DefaultFinalText(t *testing.T) {
	m := NewMockAdapter("")
	require.Equal(t, "mock final transcript", m.FinalText)
	require.Equal(t, "mock", m.Name())
}

func TestMockAdapter_StreamingEmitsInterimThenFinal(t *testing.T) {
	m := NewMockAdapter("goodbye")
	ctrl, err := m.StartStreaming(context.Background(), StreamingOptions{})
	require.NoError(t, err)
	require.Equal(t, Open, ctrl.State())

	var events []PartialTranscript
	ctrl.OnData(func(p PartialTranscript) { events = append(events, p) })

	require.NoError(t, ctrl.SendAudio(context.Background(), []byte{1, 2, 3, 4}, FrameMeta{Seq: 1}))
	require.NoError(t, ctrl.End(context.Background()))

	require.Len(t, events, 2)
	require.False(t, events[0].IsFinal)
	require.Equal(t, "4 bytes", events[0].Text)
	require.True(t, events[1].IsFinal)
	require.Equal(t, "goodbye", events[1].Text)
	require.Equal(t, Closed, ctrl.State())
}

func TestMockAdapter_SendAudioAfterCloseErrors(t *testing.T) {
	m := NewMockAdapter("")
	ctrl, err := m.StartStreaming(context.Background(), StreamingOptions{})
	require.NoError(t, err)
	require.NoError(t, ctrl.Close())

	err = ctrl.SendAudio(context.Background(), []byte{1}, FrameMeta{})
	require.Error(t, err)
}

func TestMockAdapter_TranscribeFileFromPCM(t *testing.T) {
	m := NewMockAdapter("batched")
	res, err := m.TranscribeFileFromPCM(context.Background(), []byte{1, 2}, StreamingOptions{})
	require.NoError(t, err)
	require.Equal(t, "batched", res.Text)
}

func TestRegistry_LookupAndNames(t *testing.T) {
	r := NewRegistry(map[string]Adapter{
		"mock": NewMockAdapter(""),
	})

	a, ok := r.Lookup("mock")
	require.True(t, ok)
	require.Equal(t, "mock", a.Name())

	_, ok = r.Lookup("nope")
	require.False(t, ok)

	require.ElementsMatch(t, []string{"mock"}, r.Names())
}
