package tail

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzyongx/tail2kafka-sub000/internal/fileid"
	"github.com/zzyongx/tail2kafka-sub000/internal/spec"
)

func TestRotationCheckDetectsInodeChange(t *testing.T) {
	path := writeFile(t, "one\n")
	ident, err := fileid.Of(path)
	require.NoError(t, err)

	rotated, err := RotationCheck(path, ident)
	require.NoError(t, err)
	assert.False(t, rotated)

	require.NoError(t, os.Remove(path))
	require.NoError(t, os.WriteFile(path, []byte("two\n"), 0o644))

	rotated, err = RotationCheck(path, ident)
	require.NoError(t, err)
	assert.True(t, rotated)
}

func TestRotationCheckDetectsMissingFile(t *testing.T) {
	path := writeFile(t, "one\n")
	ident, err := fileid.Of(path)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))

	rotated, err := RotationCheck(path, ident)
	require.NoError(t, err)
	assert.True(t, rotated)
}

// TestRunDetectsRotationAndRotateOpensSuccessor exercises the whole chain:
// Run notices the rename-then-recreate at EOF, emits an END, marks itself
// rotated and exits; Rotate then opens a fresh Reader on the recreated path.
func TestRunDetectsRotationAndRotateOpensSuccessor(t *testing.T) {
	path := writeFile(t, "one\n")
	fs := spec.FileSpec{File: path, Topic: "t", StartPos: spec.Start}

	r, err := Open(fs, fakeStore{}, nil, nil)
	require.NoError(t, err)

	go r.Run(5 * time.Millisecond)

	// drain the initial START event and the one framed line
	<-r.Events()
	select {
	case line := <-r.Lines():
		assert.Equal(t, "one", string(line.Bytes))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for line")
	}

	require.NoError(t, os.Remove(path))
	require.NoError(t, os.WriteFile(path, []byte("two\n"), 0o644))

	select {
	case ev := <-r.Events():
		assert.Equal(t, EventEnd, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for END event")
	}
	<-r.done
	assert.True(t, r.HasRotated())
	assert.True(t, r.IsFinished())

	successor, err := Rotate(r, path, fakeStore{}, nil, nil)
	require.NoError(t, err)
	go successor.Run(5 * time.Millisecond)
	defer successor.Stop()

	select {
	case line := <-successor.Lines():
		assert.Equal(t, "two", string(line.Bytes))
	case <-time.After(time.Second):
		t.Fatal("successor did not pick up the recreated file from the start")
	}
}
