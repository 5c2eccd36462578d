package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/geonexus/entitlements/internal/entitlement"
	"github.com/geonexus/entitlements/internal/store"
	"golang.org/x/sync/singleflight"
)

// CheckPath is the entitlement endpoint queried by RemoteChecker.
const CheckPath = "/api/check-subscription"

// RemoteChecker queries the entitlement endpoint over HTTP. Concurrent
// checks for the same identity share one request.
type RemoteChecker struct {
	baseURL string
	client  *http.Client
	group   singleflight.Group
}

// NewRemoteChecker creates a checker for the service at baseURL. A nil
// client gets one with DefaultTimeout.
func NewRemoteChecker(baseURL string, client *http.Client) *RemoteChecker {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &RemoteChecker{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Check implements Checker. Transport failures and 503 answers are returned
// wrapped in store.ErrUnavailable.
func (c *RemoteChecker) Check(ctx context.Context, id entitlement.Identity) (entitlement.Result, error) {
	ch := c.group.DoChan(string(id), func() (any, error) {
		// The shared call must outlive any single caller's cancellation.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultTimeout)
		defer cancel()
		return c.fetch(fctx, id)
	})

	select {
	case <-ctx.Done():
		return entitlement.Result{}, fmt.Errorf("check entitlement %s: %w: %w", id, store.ErrUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return entitlement.Result{}, res.Err
		}
		return res.Val.(entitlement.Result), nil
	}
}

func (c *RemoteChecker) fetch(ctx context.Context, id entitlement.Identity) (entitlement.Result, error) {
	u := c.baseURL + CheckPath + "?uid=" + url.QueryEscape(string(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return entitlement.Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return entitlement.Result{}, fmt.Errorf("check entitlement %s: %w: %w", id, store.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return entitlement.Result{}, fmt.Errorf("check entitlement %s: %w: read body: %w", id, store.ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode >= 500:
		return entitlement.Result{}, fmt.Errorf("check entitlement %s: %w: status %d after %s",
			id, store.ErrUnavailable, resp.StatusCode, time.Since(start).Round(time.Millisecond))
	default:
		return entitlement.Result{}, fmt.Errorf("check entitlement %s: unexpected status %d: %s",
			id, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var res entitlement.Result
	if err := json.Unmarshal(body, &res); err != nil {
		return entitlement.Result{}, fmt.Errorf("decode entitlement response: %w", err)
	}
	return res, nil
}
