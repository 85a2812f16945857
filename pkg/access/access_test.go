package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JulianBaader/mimocorb2/pkg/ring"
	"github.com/JulianBaader/mimocorb2/pkg/slot"
)

func newTestBuffer(t *testing.T) *ring.Buffer {
	t.Helper()
	layout := slot.DataLayout{Schema: slot.Schema{{Name: "x", Type: slot.Int32}}, DataLength: 1}
	b, err := ring.New(ring.DefaultConfig("A", 2, layout))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestWriterReaderRoundTrip(t *testing.T) {
	ctx := context.Background()
	buf := newTestBuffer(t)

	w, err := OpenWriter(ctx, buf)
	require.NoError(t, err)
	require.False(t, w.IsTrash())

	meta := slot.Metadata{Counter: 1, Timestamp: 1.5, Deadtime: 0.1}
	meta.Encode(w.Metadata())
	copy(w.Data(), []byte{1, 0, 0, 0})
	require.NoError(t, w.Release(0.1))

	r, err := OpenReader(ctx, buf)
	require.NoError(t, err)
	require.False(t, r.IsFlush())
	require.Equal(t, int64(1), r.Metadata().Counter)
	require.Equal(t, 0.1, r.Metadata().Deadtime)
	require.NoError(t, r.Release())
}

func TestReaderObservesFlushSentinel(t *testing.T) {
	ctx := context.Background()
	buf := newTestBuffer(t)
	buf.SendFlushEvent()

	r, err := OpenReader(ctx, buf)
	require.NoError(t, err)
	require.True(t, r.IsFlush())
	require.NoError(t, r.Release())
}

func TestDoubleReleaseIsNoop(t *testing.T) {
	ctx := context.Background()
	buf := newTestBuffer(t)

	w, err := OpenWriter(ctx, buf)
	require.NoError(t, err)
	require.NoError(t, w.Release(0))
	require.NoError(t, w.Release(0)) // second Release must not double-publish
}
