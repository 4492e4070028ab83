// Package lichess fetches player profiles and game archives from the lichess.org API.
// Calls are spaced by a fixed delay; the API's own rate limit is reported as
// ErrRateLimited rather than retried.
package lichess

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hailam/chesstuner/internal/telemetry"
)

// DefaultBaseURL is the public lichess API.
const DefaultBaseURL = "https://lichess.org"

var (
	// ErrNotFound means the account does not exist or is closed.
	ErrNotFound = errors.New("lichess user not found")
	// ErrRateLimited means the API answered 429.
	ErrRateLimited = errors.New("lichess rate limit hit")
)

// Perf is the rating record of one speed.
type Perf struct {
	Rating int  `json:"rating"`
	Games  int  `json:"games"`
	Prov   bool `json:"prov"`
}

// User is the subset of a lichess profile the tuner needs.
type User struct {
	ID           string          `json:"id"`
	Username     string          `json:"username"`
	Disabled     bool            `json:"disabled"`
	TosViolation bool            `json:"tosViolation"`
	Perfs        map[string]Perf `json:"perfs"`
}

// EstimateElo returns the games-weighted rating over speeds, ignoring
// provisional ratings. It returns 0 when no speed has an established rating.
func (u User) EstimateElo(speeds []string) int {
	var sum, games int
	for _, s := range speeds {
		p, ok := u.Perfs[s]
		if !ok || p.Prov || p.Games == 0 {
			continue
		}
		sum += p.Rating * p.Games
		games += p.Games
	}
	if games == 0 {
		return 0
	}
	return (sum + games/2) / games
}

// GamePlayer is one side of a game.
type GamePlayer struct {
	User struct {
		Name string `json:"name"`
		ID   string `json:"id"`
	} `json:"user"`
	Rating int `json:"rating"`
}

// Game is one exported game. Raw keeps the original ndjson line for caching.
type Game struct {
	ID      string `json:"id"`
	Rated   bool   `json:"rated"`
	Speed   string `json:"speed"`
	Moves   string `json:"moves"`
	Players struct {
		White GamePlayer `json:"white"`
		Black GamePlayer `json:"black"`
	} `json:"players"`
	Raw json.RawMessage `json:"-"`
}

// Opponent returns the name and rating of the side that is not username.
func (g Game) Opponent(username string) (string, int, bool) {
	white, black := g.Players.White, g.Players.Black
	switch {
	case strings.EqualFold(white.User.Name, username) && black.User.Name != "":
		return black.User.Name, black.Rating, true
	case strings.EqualFold(black.User.Name, username) && white.User.Name != "":
		return white.User.Name, white.Rating, true
	}
	return "", 0, false
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	// Delay is the fixed spacing between two API calls.
	Delay   time.Duration
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// Client talks to the lichess REST API.
type Client struct {
	client  *http.Client
	baseURL string
	token   string
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// NewClient creates a new lichess client.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}
	return &Client{
		client:  &http.Client{Timeout: opts.Timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		limiter: rate.NewLimiter(limit, 1),
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// FetchUser loads a profile. Closed or banned accounts count as not found.
func (c *Client) FetchUser(ctx context.Context, username string) (User, error) {
	resp, err := c.do(ctx, "user", "/api/user/"+url.PathEscape(username), "application/json")
	if err != nil {
		return User{}, err
	}
	defer resp.Body.Close()

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return User{}, fmt.Errorf("decode lichess user %s: %w", username, err)
	}
	if u.Disabled || u.TosViolation {
		return User{}, fmt.Errorf("%w: %s is closed", ErrNotFound, username)
	}
	return u, nil
}

// FetchGames exports up to max rated games of username in the given speeds,
// newest first.
func (c *Client) FetchGames(ctx context.Context, username string, max int, speeds []string) ([]Game, error) {
	q := url.Values{}
	q.Set("max", strconv.Itoa(max))
	q.Set("rated", "true")
	q.Set("moves", "true")
	q.Set("evals", "true")
	q.Set("opening", "true")
	if len(speeds) > 0 {
		q.Set("perfType", strings.Join(speeds, ","))
	}
	path := "/api/games/user/" + url.PathEscape(username) + "?" + q.Encode()

	resp, err := c.do(ctx, "games", path, "application/x-ndjson")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var games []Game
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		g, err := ParseGame([]byte(line))
		if err != nil {
			c.logger.Debug("Skipping undecodable game line", zap.String("user", username), zap.Error(err))
			continue
		}
		games = append(games, g)
	}
	if err := scanner.Err(); err != nil {
		return games, fmt.Errorf("read games of %s: %w", username, err)
	}
	return games, nil
}

// ParseGame decodes one ndjson game line and keeps the raw bytes.
func ParseGame(line []byte) (Game, error) {
	var g Game
	if err := json.Unmarshal(line, &g); err != nil {
		return Game{}, err
	}
	g.Raw = append(json.RawMessage(nil), line...)
	return g, nil
}

func (c *Client) do(ctx context.Context, endpoint, path, accept string) (*http.Response, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.APICall(endpoint, "network_error")
		return nil, fmt.Errorf("lichess %s request: %w", endpoint, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		c.metrics.APICall(endpoint, "ok")
		return resp, nil
	case http.StatusNotFound:
		resp.Body.Close()
		c.metrics.APICall(endpoint, "not_found")
		return nil, ErrNotFound
	case http.StatusTooManyRequests:
		resp.Body.Close()
		c.metrics.APICall(endpoint, "rate_limited")
		return nil, ErrRateLimited
	default:
		resp.Body.Close()
		c.metrics.APICall(endpoint, "server_error")
		return nil, fmt.Errorf("lichess %s: unexpected status %d", endpoint, resp.StatusCode)
	}
}

// wait blocks until the fixed inter-call delay has passed.
func (c *Client) wait(ctx context.Context) error {
	r := c.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate: cannot reserve token")
	}
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}
	c.metrics.APIWait()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}
