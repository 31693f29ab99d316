package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/fenrick/MiroDiagramming/task"
)

// TokenResponse is the shape returned by the OAuth token endpoint, shared
// between the authorization-code exchange and the refresh-token exchange.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// Client performs the upstream operation named by a task.Kind, plus the two
// OAuth RPCs the token lifecycle needs. Implementations must return one of
// RateLimited, Transient, or Permanent on failure (see Classify).
type Client interface {
	CreateNode(ctx context.Context, accessToken string, p task.CreateNodePayload) error
	UpdateCard(ctx context.Context, accessToken string, p task.UpdateCardPayload) error
	CreateShape(ctx context.Context, accessToken string, p task.CreateShapePayload) error
	UpdateShape(ctx context.Context, accessToken string, p task.UpdateShapePayload) error
	DeleteShape(ctx context.Context, accessToken string, p task.DeleteShapePayload) error

	// GetBoard fetches the authoritative snapshot used to refresh the
	// cache for board_id after a debounced refresh fires.
	GetBoard(ctx context.Context, accessToken string, boardID string) (json.RawMessage, error)

	ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error)
}

// HTTPClient is the production Client, talking to the real upstream API over
// HTTPS. A gobreaker.CircuitBreaker fast-fails once the upstream looks sick
// rather than letting every worker goroutine pile retries onto it, and a
// golang.org/x/time/rate limiter caps total outbound QPS as a coarse safety
// valve underneath the per-user token buckets in package ratelimit.
type HTTPClient struct {
	baseURL     string
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker
	limiter     *rate.Limiter
	oauthConfig *oauth2.Config
}

// HTTPClientConfig configures an HTTPClient.
type HTTPClientConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	// GlobalQPS bounds total outbound requests/sec across all users.
	GlobalQPS float64
	// BreakerFailureRatio trips the breaker once at least 10 requests
	// have been counted and this fraction of them failed. While the
	// breaker is closed the counts are not reset on a timer.
	BreakerFailureRatio float64

	// AuthURL and TokenURL are the OAuth authorization and token
	// endpoints. Scope is a space-separated scope list.
	AuthURL  string
	TokenURL string
	Scope    string
}

func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	st := gobreaker.Settings{
		Name:    "upstream",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.BreakerFailureRatio
		},
	}
	limit := rate.Limit(cfg.GlobalQPS)
	if cfg.GlobalQPS <= 0 {
		limit = rate.Inf
	}
	return &HTTPClient{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    gobreaker.NewCircuitBreaker(st),
		limiter:    rate.NewLimiter(limit, 1),
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			Scopes: strings.Fields(cfg.Scope),
		},
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, accessToken string, body any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, &Permanent{Cause: err}
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, &Permanent{Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.httpClient.Do(req)
		if cerr := Classify(resp, err); cerr != nil {
			if resp != nil {
				resp.Body.Close()
			}
			return nil, cerr
		}
		defer resp.Body.Close()
		raw, err := json.RawMessage{}, error(nil)
		dec := json.NewDecoder(resp.Body)
		if dErr := dec.Decode(&raw); dErr != nil && dErr.Error() != "EOF" {
			err = dErr
		}
		return raw, err
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, &Transient{Cause: err}
		}
		return nil, err
	}
	raw, _ := result.(json.RawMessage)
	return raw, nil
}

func (c *HTTPClient) CreateNode(ctx context.Context, accessToken string, p task.CreateNodePayload) error {
	_, err := c.do(ctx, http.MethodPost, "/v2/boards/nodes", accessToken, p)
	return err
}

func (c *HTTPClient) UpdateCard(ctx context.Context, accessToken string, p task.UpdateCardPayload) error {
	_, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/v2/cards/%s", p.CardID), accessToken, p.Payload)
	return err
}

func (c *HTTPClient) CreateShape(ctx context.Context, accessToken string, p task.CreateShapePayload) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v2/boards/%s/shapes", p.BoardID), accessToken, p.Data)
	return err
}

func (c *HTTPClient) UpdateShape(ctx context.Context, accessToken string, p task.UpdateShapePayload) error {
	_, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/v2/boards/%s/shapes/%s", p.BoardID, p.ShapeID), accessToken, p.Data)
	return err
}

func (c *HTTPClient) DeleteShape(ctx context.Context, accessToken string, p task.DeleteShapePayload) error {
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/v2/boards/%s/shapes/%s", p.BoardID, p.ShapeID), accessToken, nil)
	return err
}

func (c *HTTPClient) GetBoard(ctx context.Context, accessToken string, boardID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, fmt.Sprintf("/v2/boards/%s", boardID), accessToken, nil)
}

// ExchangeCode trades an authorization code for a token pair via the
// standard OAuth2 authorization-code grant.
func (c *HTTPClient) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauthConfig.Exchange(ctx, code, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	if err != nil {
		return nil, classifyOAuthErr(err)
	}
	return fromOAuthToken(tok), nil
}

// RefreshToken exchanges a refresh token for a new access token.
func (c *HTTPClient) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	ts := c.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	if err != nil {
		return nil, classifyOAuthErr(err)
	}
	return fromOAuthToken(tok), nil
}

func fromOAuthToken(tok *oauth2.Token) *TokenResponse {
	var expiresIn time.Duration
	if !tok.Expiry.IsZero() {
		expiresIn = time.Until(tok.Expiry)
	}
	return &TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn,
	}
}

// classifyOAuthErr maps an oauth2 library error onto this package's
// RateLimited/Transient/Permanent taxonomy, reusing Classify when the
// underlying HTTP response is available.
func classifyOAuthErr(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		if cerr := Classify(retrieveErr.Response, nil); cerr != nil {
			return cerr
		}
	}
	return &Permanent{Cause: err}
}
