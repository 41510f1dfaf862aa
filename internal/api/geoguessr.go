// Package api is the client for GeoGuessr's feed and game-server endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"
)

const (
	feedURL     = "https://www.geoguessr.com/api/v4/feed/private"
	duelBaseURL = "https://game-server.geoguessr.com/api/duels/"
)

var (
	// ErrAuthentication covers 401/403 responses: the _ncfa session cookie
	// is missing, wrong, or expired. Terminal for a fetch run.
	ErrAuthentication = errors.New("api: authentication failed, check your _ncfa cookie")

	// ErrRateLimited covers 429 responses. Callers back off and retry the
	// same request.
	ErrRateLimited = errors.New("api: rate limited by upstream")

	// ErrTransport covers connection-level failures before any status code
	// was received.
	ErrTransport = errors.New("api: transport failure")

	// ErrMalformedPayload covers 200 responses whose body does not decode.
	// The resource itself is broken, so retrying will not help.
	ErrMalformedPayload = errors.New("api: malformed response body")
)

// Client talks to GeoGuessr authenticated by a session-scoped _ncfa cookie.
// Construct one per fetch run; the cookie is supplied by the caller, not
// configuration.
type Client struct {
	ncfa string
	http *fasthttp.Client
}

func NewClient(ncfa string) *Client {
	return &Client{
		ncfa: ncfa,
		http: &fasthttp.Client{
			MaxConnsPerHost:     10,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: 1 * time.Minute,
		},
	}
}

func (c *Client) ListFeedPage(ctx context.Context, paginationToken string) (*FeedPage, error) {
	u := feedURL
	if paginationToken != "" {
		u += "?paginationToken=" + url.QueryEscape(paginationToken)
	}
	return doRequest[FeedPage](ctx, c, u)
}

func (c *Client) GetDuel(ctx context.Context, gameID string) (*DuelPayload, error) {
	return doRequest[DuelPayload](ctx, c, duelBaseURL+url.PathEscape(gameID))
}

func doRequest[T any](ctx context.Context, client *Client, u string) (*T, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(u)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.SetCookie("_ncfa", client.ncfa)

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = client.http.DoDeadline(req, resp, deadline)
	} else {
		err = client.http.Do(req, resp)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	switch resp.StatusCode() {
	case fasthttp.StatusOK:
	case fasthttp.StatusUnauthorized, fasthttp.StatusForbidden:
		return nil, ErrAuthentication
	case fasthttp.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		return nil, fmt.Errorf("api: unexpected status %d for %s", resp.StatusCode(), u)
	}

	var result T
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &result, nil
}
