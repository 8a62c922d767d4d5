package tail

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzyongx/tail2kafka-sub000/internal/fileid"
	"github.com/zzyongx/tail2kafka-sub000/internal/spec"
)

type fakeStore struct {
	offs map[uint64]int64
}

func (f fakeStore) GetOff(inode uint64) (int64, bool) {
	off, ok := f.offs[inode]
	return off, ok
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReaderFramesCompleteLines(t *testing.T) {
	path := writeFile(t, "one\ntwo\nthree\n")
	fs := spec.FileSpec{File: path, Topic: "t", StartPos: spec.Start}

	r, err := Open(fs, fakeStore{}, nil, nil)
	require.NoError(t, err)

	go r.Run(5 * time.Millisecond)

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case line := <-r.Lines():
			got = append(got, string(line.Bytes))
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for line")
		}
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)

	r.Stop()
	assert.True(t, r.IsFinished())
}

func TestOpenEmitsStartEvent(t *testing.T) {
	path := writeFile(t, "one\n")
	fs := spec.FileSpec{File: path, Topic: "t", StartPos: spec.Start}

	r, err := Open(fs, fakeStore{}, nil, nil)
	require.NoError(t, err)
	defer r.f.Close()

	select {
	case ev := <-r.Events():
		assert.Equal(t, EventStart, ev.Kind)
		assert.Equal(t, path, ev.File)
	default:
		t.Fatal("expected a buffered START event")
	}
}

func TestReaderStartPositions(t *testing.T) {
	path := writeFile(t, "abcdefghij")

	fs := spec.FileSpec{File: path, Topic: "t", StartPos: spec.End}
	r, err := Open(fs, fakeStore{}, nil, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 10, r.LastReadOffset())
	r.f.Close()

	fs2 := spec.FileSpec{File: path, Topic: "t", StartPos: spec.Start}
	r2, err := Open(fs2, fakeStore{}, nil, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, r2.LastReadOffset())
	r2.f.Close()
}

func TestReaderLogStartResumesFromOffsetStore(t *testing.T) {
	path := writeFile(t, "0123456789")
	ident, err := fileid.Of(path)
	require.NoError(t, err)

	fs := spec.FileSpec{File: path, Topic: "t", StartPos: spec.LogStart}
	r, err := Open(fs, fakeStore{offs: map[uint64]int64{ident.Inode: 5}}, nil, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 5, r.LastReadOffset())
	r.f.Close()
}
