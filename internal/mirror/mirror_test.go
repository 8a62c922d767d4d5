package mirror

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzyongx/tail2kafka-sub000/internal/wire"
)

func TestMirrorReassemblesHostFile(t *testing.T) {
	wdir := t.TempDir()
	tr := New(wdir, "topic1", 0, nil, nil)

	require.NoError(t, tr.Write(mustDecode(mustEncodeNMSG("h1", 0, "hello\n"))))
	require.NoError(t, tr.Write(mustDecode(mustEncodeNMSG("h1", 6, "world\n"))))
	require.NoError(t, tr.Close())

	path := filepath.Join(wdir, "topic1", "h1")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", string(data))
}

func TestMirrorRotatesOnEnd(t *testing.T) {
	wdir := t.TempDir()
	tr := New(wdir, "topic1", 0, nil, nil)

	require.NoError(t, tr.Write(mustDecode(mustEncodeNMSG("h1", 0, "x\n"))))
	require.NoError(t, tr.Write(mustDecode(wire.EncodeMETAEnd("h1", time.Now(), "/var/log/app.log", 2, 2, 1, 1, "abc"))))

	_, err := os.Stat(filepath.Join(wdir, "topic1", "h1"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(wdir, "topic1", "h1_app.log"))
	assert.NoError(t, err)
}

func TestMirrorDedupesReplayAfterFlush(t *testing.T) {
	wdir := t.TempDir()
	tr := New(wdir, "topic1", 0, nil, nil)

	require.NoError(t, tr.Write(mustDecode(mustEncodeNMSG("h1", 0, "hello\n"))))

	// Force an internal batch flush (flushHostLocked clears bufs but keeps
	// pos) without a META END, so the host cache entry survives.
	tr.mu.Lock()
	hc := tr.hosts["h1"]
	require.NoError(t, tr.flushHostLocked("h1", hc))
	tr.mu.Unlock()

	// A replayed duplicate at the same position must still be dropped, even
	// though bufs is now empty.
	require.NoError(t, tr.Write(mustDecode(mustEncodeNMSG("h1", 0, "hello\n"))))
	require.NoError(t, tr.Close())

	path := filepath.Join(wdir, "topic1", "h1")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func mustEncodeNMSG(host string, pos uint64, payload string) []byte {
	return wire.EncodeNMSG(host, pos, []byte(payload))
}

func mustDecode(raw []byte) wire.Message {
	msg, err := wire.Decode(raw)
	if err != nil {
		panic(err)
	}
	return msg
}
