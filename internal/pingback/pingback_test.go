package pingback

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func httpHandler(received chan<- string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case received <- r.URL.RawQuery:
		default:
		}
		w.WriteHeader(http.StatusOK)
	})
}

func blockingHandler(block <-chan struct{}) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
		w.WriteHeader(http.StatusOK)
	})
}

func TestNewWithEmptyURLReturnsNil(t *testing.T) {
	assert.Nil(t, New("", 0, 0, nil))
}

func TestEventDeliversToServer(t *testing.T) {
	received := make(chan string, 1)
	srv := httptest.NewServer(httpHandler(received))
	defer srv.Close()

	c := New(srv.URL, 1, 4, nil)
	require.NotNil(t, c)
	defer c.Close()

	c.Rotate("/data/app.log", 1024, "deadbeef")

	select {
	case q := <-received:
		values, err := url.ParseQuery(q)
		require.NoError(t, err)
		assert.Equal(t, "ROTATE", values.Get("event"))
		assert.Equal(t, "/data/app.log", values.Get("file"))
		assert.Equal(t, "1024", values.Get("size"))
		assert.Equal(t, "deadbeef", values.Get("md5"))
	case <-time.After(2 * time.Second):
		t.Fatal("pingback request never arrived")
	}
}

func TestEventDropsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(blockingHandler(block))
	defer srv.Close()

	c := New(srv.URL, 1, 1, nil)
	require.NotNil(t, c)

	before := testutil.ToFloat64(dropped)
	for i := 0; i < 10; i++ {
		c.Event("X", nil)
	}
	// one worker blocked in the handler plus a one-slot queue hold at most
	// two of the ten events; the rest are dropped
	assert.GreaterOrEqual(t, testutil.ToFloat64(dropped)-before, float64(8))

	close(block) // let the handler return so Close below can drain cleanly
	c.Close()
}
