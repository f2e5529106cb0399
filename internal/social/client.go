// Package social reads the social graph API. Each call has one normalizer
// that maps the loosely shaped JSON response onto the Cast type.
package social

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonesrussell/north-cloud/likechat/infrastructure/circuitbreaker"
	infraerrors "github.com/jonesrussell/north-cloud/likechat/infrastructure/errors"
	infrahttp "github.com/jonesrussell/north-cloud/likechat/infrastructure/http"
	infralogger "github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	apiKeyHeader       = "api_key"
	defaultBaseURL     = "https://api.neynar.com"
	defaultTimeout     = 8 * time.Second
	defaultUserCasts   = 50
	maxResponseBody    = 4 << 20
	castPath           = "/v2/farcaster/cast"
	conversationPath   = "/v2/farcaster/cast/conversation"
	repliesPath        = "/v2/farcaster/cast/replies"
	userCastsPath      = "/v2/farcaster/feed/user/casts"
	identifierTypeURL  = "url"
	identifierTypeHash = "hash"
)

// Config configures the API client.
type Config struct {
	BaseURL string        `yaml:"base_url" env:"SOCIAL_API_BASE_URL"`
	APIKey  string        `yaml:"api_key"  env:"SOCIAL_API_KEY"`
	Timeout time.Duration `yaml:"timeout"  env:"SOCIAL_API_TIMEOUT"`
	// RequestsPerSecond caps outbound calls; zero disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"SOCIAL_API_RPS"`
	Burst             int     `yaml:"burst"`
	UserCastsLimit    int     `yaml:"user_casts_limit"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.UserCastsLimit <= 0 {
		c.UserCastsLimit = defaultUserCasts
	}
}

// Client calls the social graph API. Without an API key every call fails
// with domain.ErrUpstreamUnavailable and no request is made.
type Client struct {
	baseURL    string
	apiKey     string
	userCasts  int
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuitbreaker.Breaker
	log        infralogger.Logger
}

// NewClient creates a Client from cfg.
func NewClient(cfg Config, log infralogger.Logger) *Client {
	cfg.SetDefaults()
	if log == nil {
		log = infralogger.NewNop()
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	breakerCfg := circuitbreaker.DefaultConfig()
	breakerCfg.IsFailure = countsAgainstAPI
	breakerCfg.OnStateChange = func(from, to circuitbreaker.State) {
		log.Warn("Social API circuit changed state",
			infralogger.String("from", from.String()),
			infralogger.String("to", to.String()),
		)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		userCasts:  cfg.UserCastsLimit,
		httpClient: infrahttp.NewClient(&infrahttp.ClientConfig{Timeout: cfg.Timeout}),
		limiter:    rate.NewLimiter(limit, cfg.Burst),
		breaker:    circuitbreaker.New(breakerCfg),
		log:        log,
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// CastByURL looks a cast up by its public URL.
func (c *Client) CastByURL(ctx context.Context, castURL string) (Cast, error) {
	q := url.Values{}
	q.Set("identifier", castURL)
	q.Set("type", identifierTypeURL)

	res, err := c.get(ctx, castPath, q)
	if err != nil {
		return Cast{}, fmt.Errorf("cast by url: %w", err)
	}
	return normalizeCastResponse(res)
}

// CastByHash fetches a cast. When viewerFID is positive the response carries
// that user's viewer context.
func (c *Client) CastByHash(ctx context.Context, hash string, viewerFID int64) (Cast, error) {
	q := url.Values{}
	q.Set("identifier", hash)
	q.Set("type", identifierTypeHash)
	if viewerFID > 0 {
		q.Set("viewer_fid", strconv.FormatInt(viewerFID, 10))
	}

	res, err := c.get(ctx, castPath, q)
	if err != nil {
		return Cast{}, fmt.Errorf("cast by hash: %w", err)
	}
	return normalizeCastResponse(res)
}

// Conversation returns the direct replies of a cast.
func (c *Client) Conversation(ctx context.Context, hash string) ([]Cast, error) {
	q := url.Values{}
	q.Set("identifier", hash)
	q.Set("type", identifierTypeHash)
	q.Set("reply_depth", "1")

	res, err := c.get(ctx, conversationPath, q)
	if err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}
	return normalizeCastList(res, conversationReplyPaths...), nil
}

// CastsByParent queries casts whose parent is parentHash. The hash is sent
// exactly as given.
func (c *Client) CastsByParent(ctx context.Context, parentHash string) ([]Cast, error) {
	q := url.Values{}
	q.Set("parent_hash", parentHash)

	res, err := c.get(ctx, repliesPath, q)
	if err != nil {
		return nil, fmt.Errorf("casts by parent: %w", err)
	}
	return normalizeCastList(res, castListPaths...), nil
}

// UserCasts returns the user's recent casts, replies included.
func (c *Client) UserCasts(ctx context.Context, fid int64) ([]Cast, error) {
	q := url.Values{}
	q.Set("fid", strconv.FormatInt(fid, 10))
	q.Set("limit", strconv.Itoa(c.userCasts))
	q.Set("include_replies", "true")

	res, err := c.get(ctx, userCastsPath, q)
	if err != nil {
		return nil, fmt.Errorf("user casts: %w", err)
	}
	return normalizeCastList(res, castListPaths...), nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	if !c.Enabled() {
		return gjson.Result{}, fmt.Errorf("%w: social api key not configured", domain.ErrUpstreamUnavailable)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, fmt.Errorf("%w: rate limiter: %w", domain.ErrUpstreamUnavailable, err)
	}

	var res gjson.Result
	err := c.breaker.Execute(ctx, func() error {
		var doErr error
		res, doErr = c.do(ctx, path, query)
		return doErr
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return gjson.Result{}, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}
	return res, err
}

func (c *Client) do(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	endpoint := c.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %s: %w", domain.ErrUpstreamUnavailable, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.log.Debug("Social API call",
		infralogger.String("path", path),
		infralogger.Int("status", resp.StatusCode),
		infralogger.Duration("duration", time.Since(start)),
	)

	if httpErr := infraerrors.ParseHTTPError(resp); httpErr != nil {
		if resp.StatusCode == http.StatusNotFound {
			return gjson.Result{}, fmt.Errorf("%s: %w: %w", path, domain.ErrNotFound, httpErr)
		}
		return gjson.Result{}, fmt.Errorf("%w: %s: %w", domain.ErrUpstreamUnavailable, path, httpErr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: read %s: %w", domain.ErrUpstreamUnavailable, path, err)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%w: %s returned invalid JSON", domain.ErrUpstreamUnavailable, path)
	}
	return gjson.ParseBytes(body), nil
}

// countsAgainstAPI keeps lookups of unknown casts and caller cancellations
// from opening the circuit.
func countsAgainstAPI(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}
