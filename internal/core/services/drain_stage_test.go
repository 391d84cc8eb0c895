package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"depthcap/internal/core/domain"
	"depthcap/internal/core/ports"
	"depthcap/internal/infrastructure/codec"
	"depthcap/internal/infrastructure/repositories/memory"
	"depthcap/internal/infrastructure/spool"
	"depthcap/pkg/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSerial = "000835513412"

type drainFixture struct {
	stage     *DrainStage
	requests  *queue.Queue[DrainRequest]
	retention *queue.Queue[domain.Frame]
	spool     *queue.Queue[domain.SpoolEntry]
	store     *spool.FileFrameStore
	journal   ports.SpoolJournal
}

func newDrainFixture(t *testing.T, root string) *drainFixture {
	t.Helper()
	f := &drainFixture{
		requests:  queue.New[DrainRequest](),
		retention: queue.New[domain.Frame](),
		spool:     queue.New[domain.SpoolEntry](),
		store:     spool.NewFileFrameStore(root, testSerial, codec.NewPNGCodec()),
		journal:   memory.NewMemorySpoolJournal(),
	}
	f.stage = NewDrainStage(f.requests, f.retention, f.spool, f.store, f.journal, testSerial, nopMetrics{}, testLog)
	return f
}

func (f *drainFixture) retain(timestamps ...uint64) {
	for _, ts := range timestamps {
		f.retention.Push(testImage(ts))
	}
}

func (f *drainFixture) spooled() []uint64 {
	var out []uint64
	for {
		entry, ok := f.spool.TryPop()
		if !ok {
			return out
		}
		out = append(out, entry.Timestamp)
	}
}

// Frames at FrameDelay+{100,200,300,400} against the window [150, 350]:
// only the two strictly inside the shifted window survive.
func TestDrainStage_KeepsOnlyFramesInsideWindow(t *testing.T) {
	f := newDrainFixture(t, t.TempDir())
	d := domain.FrameDelay
	f.retain(d+100, d+200, d+300, d+400, d+500)

	req := DrainRequest{
		UpTo:   d + 400,
		Window: domain.RecordingWindow{Start: 150, Stop: 350},
		Folder: "master",
	}
	require.NoError(t, f.stage.Drain(context.Background(), req))

	assert.Equal(t, []uint64{d + 200, d + 300}, f.spooled())
	assert.Equal(t, 1, f.retention.Len(), "the frame past UpTo stays retained")

	dir := f.store.Dir("master")
	for _, ts := range []uint64{d + 200, d + 300} {
		assert.True(t, f.store.Exists(domain.SpoolEntry{Timestamp: ts, Dir: dir}), "ts %d", ts)
	}
	for _, ts := range []uint64{d + 100, d + 400} {
		assert.False(t, f.store.Exists(domain.SpoolEntry{Timestamp: ts, Dir: dir}), "ts %d", ts)
	}

	pending, err := f.journal.Pending(context.Background(), testSerial)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestDrainStage_RepeatedDrainIsNoop(t *testing.T) {
	f := newDrainFixture(t, t.TempDir())
	d := domain.FrameDelay
	f.retain(d+100, d+200, d+300, d+400, d+500)

	req := DrainRequest{UpTo: d + 400, Window: domain.RecordingWindow{Start: 150, Stop: 350}, Folder: "master"}
	require.NoError(t, f.stage.Drain(context.Background(), req))
	first := f.spooled()

	require.NoError(t, f.stage.Drain(context.Background(), req))
	assert.Empty(t, f.spooled())
	assert.Len(t, first, 2)
	assert.Equal(t, 1, f.retention.Len())
}

func TestDrainStage_BoundariesAreExclusive(t *testing.T) {
	f := newDrainFixture(t, t.TempDir())
	d := domain.FrameDelay
	f.retain(d+150, d+151, d+349, d+350, d+1000)

	req := DrainRequest{UpTo: d + 350, Window: domain.RecordingWindow{Start: 150, Stop: 350}, Folder: "master"}
	require.NoError(t, f.stage.Drain(context.Background(), req))

	assert.Equal(t, []uint64{d + 151, d + 349}, f.spooled())
}

func TestDrainStage_BlocksUntilNewerFrameArrives(t *testing.T) {
	f := newDrainFixture(t, t.TempDir())
	f.retain(10, 20)

	done := make(chan error, 1)
	go func() {
		done <- f.stage.Drain(context.Background(), DrainRequest{UpTo: 20, Folder: "master"})
	}()

	select {
	case <-done:
		t.Fatal("drain returned before a newer frame was retained")
	case <-time.After(50 * time.Millisecond):
	}

	f.retain(30)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("drain did not return")
	}
	assert.Equal(t, 1, f.retention.Len())
}

func TestDrainStage_ReturnsClosedWhenRetentionExhausted(t *testing.T) {
	f := newDrainFixture(t, t.TempDir())
	f.retain(10)
	f.retention.Stop()

	err := f.stage.Drain(context.Background(), DrainRequest{UpTo: 100, Folder: "master"})
	assert.ErrorIs(t, err, queue.ErrClosed)
	assert.Equal(t, 0, f.retention.Len())
}

func TestDrainStage_UnwritableFolderDropsFrames(t *testing.T) {
	root := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0o644))

	f := newDrainFixture(t, root)
	d := domain.FrameDelay
	f.retain(d+200, d+300, d+500)

	req := DrainRequest{UpTo: d + 400, Window: domain.RecordingWindow{Start: 150, Stop: 350}, Folder: "master"}
	require.NoError(t, f.stage.Drain(context.Background(), req))

	assert.Empty(t, f.spooled())
	assert.Equal(t, 1, f.retention.Len())
}

func TestDrainStage_RunFinishesQueuedRequestsThenStopsSpool(t *testing.T) {
	f := newDrainFixture(t, t.TempDir())
	d := domain.FrameDelay
	f.retain(d+200, d+300, d+600, d+700)
	f.retention.Stop()

	f.requests.Push(DrainRequest{UpTo: d + 300, Window: domain.RecordingWindow{Start: 0, Stop: 1000}, Folder: "master"})
	f.requests.Stop()

	require.NoError(t, f.stage.Run(context.Background()))

	assert.Equal(t, []uint64{d + 200, d + 300}, f.spooled())
	assert.Equal(t, 0, f.retention.Len(), "frames past the last request are discarded")

	_, err := f.spool.WaitAndPop()
	assert.ErrorIs(t, err, queue.ErrClosed)
}
