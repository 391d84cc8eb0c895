package services

import (
	"context"
	"testing"

	"depthcap/internal/core/domain"
	apperrors "depthcap/pkg/errors"
	"depthcap/pkg/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyRetainStage_NotifiesInOrderAndRetains(t *testing.T) {
	control := newFakeChannel()
	captured := queue.New[domain.Frame]()
	retention := queue.New[domain.Frame]()

	for _, ts := range []uint64{5, 6, 7} {
		captured.Push(testImage(ts))
	}
	captured.Stop()

	s := NewNotifyRetainStage(control, captured, retention, nopMetrics{}, testLog)
	require.NoError(t, s.Run(context.Background()))

	notes := control.SentOfType(domain.MsgFrameNotify)
	require.Len(t, notes, 3)
	for i, want := range []uint64{5, 6, 7} {
		ts, err := domain.DecodeUint64(notes[i].Payload)
		require.NoError(t, err)
		assert.Equal(t, want, ts)
	}

	assert.Equal(t, 3, retention.Len())
	retained := drainFrames(retention)
	assert.Equal(t, uint64(5), retained[0].Timestamp)
}

func TestNotifyRetainStage_SendFailureStopsRetention(t *testing.T) {
	control := newFakeChannel()
	require.NoError(t, control.Close())

	captured := queue.New[domain.Frame]()
	retention := queue.New[domain.Frame]()
	captured.Push(testImage(1))

	s := NewNotifyRetainStage(control, captured, retention, nopMetrics{}, testLog)
	err := s.Run(context.Background())

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransport))
	_, err = retention.WaitAndPop()
	assert.ErrorIs(t, err, queue.ErrClosed)
}
