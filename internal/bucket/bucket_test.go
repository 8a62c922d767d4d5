package bucket

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() Schema {
	return Schema{
		Fields:         []string{"time", "request", "status"},
		TimestampField: "time",
		RequestField:   "request",
	}
}

func TestNewRejectsStaleCurrentFile(t *testing.T) {
	wdir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(wdir, "topic1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(wdir, "topic1", "topic1.0_stale.current"), []byte("x"), 0o644))

	_, err := New(wdir, "topic1", 0, time.Minute, 10*time.Second, testSchema(), nil, nil)
	assert.Error(t, err)
}

func TestWriteCreatesCurrentFileWithJSONLines(t *testing.T) {
	wdir := t.TempDir()
	tr, err := New(wdir, "topic1", 0, time.Minute, 10*time.Second, testSchema(), nil, nil)
	require.NoError(t, err)

	now := time.Date(2015, 2, 28, 12, 30, 0, 0, time.UTC)
	line := `28/Feb/2015:12:30:23 "GET /a?x=1 HTTP/1.1" 200`
	require.NoError(t, tr.Write(line, now))

	entries, err := os.ReadDir(filepath.Join(wdir, "topic1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), ".current")

	data, err := os.ReadFile(filepath.Join(wdir, "topic1", entries[0].Name()))
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(data[:len(data)-1], &rec))
	assert.Equal(t, "GET", rec["method"])
	assert.Equal(t, "/a", rec["uri"])
	assert.Equal(t, "x=1", rec["querystring"])
}

func TestWriteRotatesOnIntervalAdvance(t *testing.T) {
	wdir := t.TempDir()
	tr, err := New(wdir, "topic1", 0, time.Minute, 10*time.Second, testSchema(), nil, nil)
	require.NoError(t, err)

	t0 := time.Date(2015, 2, 28, 12, 30, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)

	line := `28/Feb/2015:12:30:23 "GET / HTTP/1.1" 200`
	require.NoError(t, tr.Write(line, t0))
	require.NoError(t, tr.Write(line, t1))

	entries, err := os.ReadDir(filepath.Join(wdir, "topic1"))
	require.NoError(t, err)

	var current, last int
	for _, e := range entries {
		switch filepath.Ext(e.Name()) {
		case ".current":
			current++
		case ".last":
			last++
		}
	}
	assert.Equal(t, 1, current)
	assert.Equal(t, 1, last)
}

func TestTickFinishesLastAfterDelay(t *testing.T) {
	wdir := t.TempDir()
	tr, err := New(wdir, "topic1", 0, time.Minute, 10*time.Second, testSchema(), nil, nil)
	require.NoError(t, err)

	t0 := time.Date(2015, 2, 28, 12, 30, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)
	line := `28/Feb/2015:12:30:23 "GET / HTTP/1.1" 200`
	require.NoError(t, tr.Write(line, t0))
	require.NoError(t, tr.Write(line, t1))

	require.NoError(t, tr.Tick(t1))
	entries, _ := os.ReadDir(filepath.Join(wdir, "topic1"))
	var last int
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".last" {
			last++
		}
	}
	assert.Equal(t, 1, last, "last bucket should not finish before its delay window elapses")

	require.NoError(t, tr.Tick(t1.Add(time.Minute+11*time.Second)))
	entries, _ = os.ReadDir(filepath.Join(wdir, "topic1"))
	last = 0
	var finished int
	for _, e := range entries {
		switch filepath.Ext(e.Name()) {
		case ".last":
			last++
		case ".current":
		default:
			finished++
		}
	}
	assert.Equal(t, 0, last)
	assert.Equal(t, 1, finished)
}

// TestWriteRoutesLateArrivalIntoLastBucket is spec.md section 8 scenario 6:
// a record timestamped for the just-rotated-away bucket must append to
// .last, not prematurely finish it and open a bogus new current bucket.
func TestWriteRoutesLateArrivalIntoLastBucket(t *testing.T) {
	wdir := t.TempDir()
	tr, err := New(wdir, "topic1", 0, time.Minute, 10*time.Second, testSchema(), nil, nil)
	require.NoError(t, err)

	t0 := time.Date(2015, 2, 28, 12, 5, 0, 0, time.UTC)
	t1 := time.Date(2015, 2, 28, 12, 6, 5, 0, time.UTC)
	late := time.Date(2015, 2, 28, 12, 5, 59, 0, time.UTC)

	line := `28/Feb/2015:12:30:23 "GET / HTTP/1.1" 200`
	require.NoError(t, tr.Write(line, t0))   // opens current for the 12:05 bucket
	require.NoError(t, tr.Write(line, t1))   // rotates 12:05 to last, opens current for 12:06
	require.NoError(t, tr.Write(line, late)) // late arrival for 12:05, belongs in .last

	entries, err := os.ReadDir(filepath.Join(wdir, "topic1"))
	require.NoError(t, err)

	var currentPath, lastPath string
	for _, e := range entries {
		switch filepath.Ext(e.Name()) {
		case ".current":
			currentPath = filepath.Join(wdir, "topic1", e.Name())
		case ".last":
			lastPath = filepath.Join(wdir, "topic1", e.Name())
		}
	}
	require.NotEmpty(t, currentPath, "the 12:06 bucket must still be current, not finished away")
	require.NotEmpty(t, lastPath, "the 12:05 bucket must still be last, not rotated a second time")

	lastData, err := os.ReadFile(lastPath)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(lastData), "\n"), "late record should append to last bucket")

	currentData, err := os.ReadFile(currentPath)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(currentData), "\n"))
}

func TestWriteDropsRecordOlderThanLastBucket(t *testing.T) {
	wdir := t.TempDir()
	tr, err := New(wdir, "topic1", 0, time.Minute, 10*time.Second, testSchema(), nil, nil)
	require.NoError(t, err)

	t0 := time.Date(2015, 2, 28, 12, 5, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)
	ancient := t0.Add(-time.Hour)

	line := `28/Feb/2015:12:30:23 "GET / HTTP/1.1" 200`
	require.NoError(t, tr.Write(line, t0))
	require.NoError(t, tr.Write(line, t1))
	require.NoError(t, tr.Write(line, ancient))

	entries, err := os.ReadDir(filepath.Join(wdir, "topic1"))
	require.NoError(t, err)
	require.Len(t, entries, 2, "record older than both current and last must be dropped, not open a third bucket")
}

func TestCloseFinalisesPendingBuckets(t *testing.T) {
	wdir := t.TempDir()
	tr, err := New(wdir, "topic1", 0, time.Minute, 10*time.Second, testSchema(), nil, nil)
	require.NoError(t, err)

	now := time.Date(2015, 2, 28, 12, 30, 0, 0, time.UTC)
	line := `28/Feb/2015:12:30:23 "GET / HTTP/1.1" 200`
	require.NoError(t, tr.Write(line, now))
	require.NoError(t, tr.Close())

	entries, err := os.ReadDir(filepath.Join(wdir, "topic1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "topic1.0_2015-02-28_12-30-00", entries[0].Name())
}
