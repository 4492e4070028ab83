package lichess

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

const gamesBody = `{"id":"g1","rated":true,"speed":"blitz","moves":"e4 e5 Nf3","players":{"white":{"user":{"name":"alice","id":"alice"},"rating":1510},"black":{"user":{"name":"bob","id":"bob"},"rating":1490}}}
{"id":"g2","rated":true,"speed":"rapid","moves":"d4 d5","players":{"white":{"user":{"name":"carol","id":"carol"},"rating":1620},"black":{"user":{"name":"alice","id":"alice"},"rating":1515}}}
not json

`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/user/alice", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"alice","username":"alice","perfs":{"blitz":{"rating":1500,"games":300},"rapid":{"rating":1600,"games":100},"bullet":{"rating":1200,"games":50}}}`)
	})
	mux.HandleFunc("/api/user/closed", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"closed","username":"closed","disabled":true}`)
	})
	mux.HandleFunc("/api/user/busy", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("/api/games/user/alice", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/x-ndjson", r.Header.Get("Accept"))
		assert.Equal(t, "2", r.URL.Query().Get("max"))
		assert.Equal(t, "blitz,rapid", r.URL.Query().Get("perfType"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		fmt.Fprint(w, gamesBody)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchUser(t *testing.T) {
	srv := newServer(t)
	c := NewClient(Options{BaseURL: srv.URL})

	u, err := c.FetchUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, 1525, u.EstimateElo([]string{"blitz", "rapid"}))

	_, err = c.FetchUser(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.FetchUser(context.Background(), "closed")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.FetchUser(context.Background(), "busy")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestFetchGames(t *testing.T) {
	srv := newServer(t)
	c := NewClient(Options{BaseURL: srv.URL, Token: "tok"})

	games, err := c.FetchGames(context.Background(), "alice", 2, []string{"blitz", "rapid"})
	require.NoError(t, err)
	require.Len(t, games, 2)
	assert.Equal(t, "g1", games[0].ID)
	assert.True(t, strings.HasPrefix(string(games[0].Raw), `{"id":"g1"`))

	name, rating, ok := games[1].Opponent("alice")
	require.True(t, ok)
	assert.Equal(t, "carol", name)
	assert.Equal(t, 1620, rating)
}

func TestFixedDelayBetweenCalls(t *testing.T) {
	srv := newServer(t)
	c := NewClient(Options{BaseURL: srv.URL, Delay: 50 * time.Millisecond})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.FetchUser(context.Background(), "alice")
		require.NoError(t, err)
	}
	// first call is immediate, the next two wait one delay each
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestWaitHonoursContext(t *testing.T) {
	srv := newServer(t)
	c := NewClient(Options{BaseURL: srv.URL, Delay: time.Hour})

	_, err := c.FetchUser(context.Background(), "alice")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = c.FetchUser(ctx, "alice")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

type countingFetcher struct {
	calls int
}

func (f *countingFetcher) FetchUser(_ context.Context, username string) (User, error) {
	f.calls++
	if username == "ghost" {
		return User{}, ErrNotFound
	}
	if username == "flaky" {
		return User{}, errors.New("connection reset")
	}
	return User{Username: username}, nil
}

func TestCachedUsers(t *testing.T) {
	inner := &countingFetcher{}
	c := NewCachedUsers(inner, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		u, err := c.FetchUser(ctx, "dave")
		require.NoError(t, err)
		assert.Equal(t, "dave", u.Username)
		_, err = c.FetchUser(ctx, "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, 2, inner.calls)

	_, err := c.FetchUser(ctx, "flaky")
	require.Error(t, err)
	_, err = c.FetchUser(ctx, "flaky")
	require.Error(t, err)
	assert.Equal(t, 4, inner.calls, "transient errors must not be cached")

	_, err = c.FetchUser(ctx, "Dave")
	require.NoError(t, err)
	assert.Equal(t, 4, inner.calls, "names are case insensitive")

	c.Forget("DAVE")
	_, _ = c.FetchUser(ctx, "dave")
	assert.Equal(t, 5, inner.calls)
	assert.Greater(t, c.HitRate(), 0.0)
}
