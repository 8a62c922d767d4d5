package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitFieldsPlain(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitFields("a b c"))
}

func TestSplitFieldsQuotedAndBracketed(t *testing.T) {
	got := SplitFields(`a "b c" [d e] f`)
	assert.Equal(t, []string{"a", "b c", "d e", "f"}, got)
}

func TestSplitFieldsEscape(t *testing.T) {
	got := SplitFields(`a\ b c`)
	assert.Equal(t, []string{`a\ b`, "c"}, got)
}

func TestAbsIndex(t *testing.T) {
	assert.Equal(t, 0, AbsIndex(1, 5))
	assert.Equal(t, 4, AbsIndex(-1, 5))
	assert.Equal(t, -1, AbsIndex(0, 5))
	assert.Equal(t, -1, AbsIndex(6, 5))
	assert.Equal(t, -1, AbsIndex(-6, 5))
}

func TestISO8601(t *testing.T) {
	got, ok := ISO8601("28/Feb/2015:12:30:23 +0800")
	assert.True(t, ok)
	assert.Equal(t, "2015-02-28T12:30:23", got)
}

func TestISO8601Invalid(t *testing.T) {
	_, ok := ISO8601("not-a-date")
	assert.False(t, ok)
}

func TestFilter(t *testing.T) {
	fields := []string{"one", "two", "three"}
	out, err := Filter(fields, []int{1, -1}, false, "")
	assert.NoError(t, err)
	assert.Equal(t, "one three", out)

	out, err = Filter(fields, []int{2}, true, "host1")
	assert.NoError(t, err)
	assert.Equal(t, "host1 two", out)
}

func TestFilterOutOfRange(t *testing.T) {
	_, err := Filter([]string{"a"}, []int{5}, false, "")
	assert.Error(t, err)
}

func TestNormalizeTimeField(t *testing.T) {
	fields := []string{"GET", "28/Feb/2015:12:30:23 +0800", "200"}
	ok := NormalizeTimeField(fields, 2)
	assert.True(t, ok)
	assert.Equal(t, "2015-02-28T12:30:23", fields[1])
}

func TestAggregatorFlushOnTimeAdvance(t *testing.T) {
	agg := NewAggregator(false, false, "", "")

	flushed := agg.Add("t1", "key1", map[string]int{"hit": 1})
	assert.Nil(t, flushed)

	flushed = agg.Add("t1", "key1", map[string]int{"hit": 2})
	assert.Nil(t, flushed)

	flushed = agg.Add("t2", "key1", map[string]int{"hit": 1})
	assert.Equal(t, []string{"key1 hit=3"}, flushed)
}

func TestAggregatorFlushAtShutdown(t *testing.T) {
	agg := NewAggregator(true, false, "hostA", "")
	agg.Add("t1", "key1", map[string]int{"hit": 5})

	flushed := agg.Flush()
	assert.Equal(t, []string{"hostA key1 hit=5"}, flushed)

	assert.Nil(t, agg.Flush())
}

func TestAggregatorExtraKey(t *testing.T) {
	agg := NewAggregator(false, false, "", "total")
	agg.Add("t1", "key1", map[string]int{"hit": 1})
	agg.Add("t1", "key2", map[string]int{"hit": 2})

	flushed := agg.Flush()
	assert.ElementsMatch(t, []string{"key1 hit=1", "key2 hit=2", "total hit=3"}, flushed)
}
