package binlog

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JulianBaader/mimocorb2/pkg/slot"
)

func testLayout() slot.DataLayout {
	return slot.DataLayout{Schema: slot.Schema{{Name: "x", Type: slot.Float64}, {Name: "n", Type: slot.Int32}}, DataLength: 1}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.mcb2")
	layout := testLayout()

	w, err := Create(path, layout)
	require.NoError(t, err)

	records := []struct {
		meta slot.Metadata
		data []byte
	}{
		{slot.Metadata{Counter: 1, Timestamp: 100.5, Deadtime: 0.1}, make([]byte, layout.DataBytes())},
		{slot.Metadata{Counter: 2, Timestamp: 101.5, Deadtime: 0.2}, make([]byte, layout.DataBytes())},
	}
	for _, r := range records {
		require.NoError(t, w.WriteRecord(r.meta, r.data))
	}
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	require.True(t, layout.Equal(r.Header.Layout))

	for _, want := range records {
		meta, data, err := r.ReadRecord()
		require.NoError(t, err)
		require.Equal(t, want.meta, meta)
		require.Equal(t, want.data, data)
	}
	_, _, err = r.ReadRecord()
	require.ErrorIs(t, err, io.EOF)
}

func TestWriteRecordRejectsWrongLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.mcb2")
	layout := testLayout()
	w, err := Create(path, layout)
	require.NoError(t, err)
	defer w.Close()

	err = w.WriteRecord(slot.Metadata{}, make([]byte, layout.DataBytes()+1))
	require.Error(t, err)
}
