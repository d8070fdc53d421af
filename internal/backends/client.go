package backends

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/logging"
	"github.com/czcorpus/wag-sub001/internal/storage"
	"github.com/czcorpus/wag-sub001/internal/version"
)

// Request is one vendor call.
type Request struct {
	Vendor  VendorID
	BaseURL string
	Args    Args
	Accept  string
	Headers map[string]string
	// NoCache bypasses the response cache in both directions
	NoCache bool
}

// Client is the HTTP client shared by all vendor adapters. It applies the
// vendor limits, retries transient failures and caches successful bodies.
type Client struct {
	http    *http.Client
	policy  *Policy
	limiter *Limiter
	cache   storage.KeyValueStore
	logger  *logging.Logger
}

// NewClient creates a client. cache may be nil.
func NewClient(policy *Policy, limiter *Limiter, cache storage.KeyValueStore, logger *logging.Logger) *Client {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if limiter == nil {
		limiter = NewLimiter(policy)
	}
	if cache == nil {
		cache = storage.Dummy{}
	}
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Client{
		http:    &http.Client{},
		policy:  policy,
		limiter: limiter,
		cache:   cache,
		logger:  logger,
	}
}

// Cache returns the response cache.
func (c *Client) Cache() storage.KeyValueStore {
	return c.cache
}

type cachedBody struct {
	Body []byte `json:"body"`
}

// cacheKey generates a cache key from components.
func cacheKey(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(hash[:16])
}

// Fetch performs req and returns the response body.
func (c *Client) Fetch(ctx context.Context, req Request) ([]byte, error) {
	key := cacheKey(string(req.Vendor), req.BaseURL, req.Args.Fingerprint())

	if !req.NoCache {
		var entry cachedBody
		found, err := c.cache.Get(ctx, key, &entry)
		if err != nil {
			c.logger.Warn("Cache lookup failed", map[string]interface{}{
				"vendor": req.Vendor,
				"error":  err.Error(),
			})
		} else if found {
			c.logger.Debug("Cache hit", map[string]interface{}{
				"vendor": req.Vendor,
				"path":   req.Args.Path,
			})
			return entry.Body, nil
		}
	}

	body, shared, err := c.limiter.Coalesce(ctx, key, func() ([]byte, error) {
		// the shared call must not die with the first caller
		callCtx := context.WithoutCancel(ctx)
		if t := c.policy.For(req.Vendor).Timeout; t > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, t)
			defer cancel()
		}
		release, err := c.limiter.Acquire(callCtx, req.Vendor)
		if err != nil {
			return nil, errors.New(errors.RateLimited, fmt.Sprintf("%s: no request slot", req.Vendor), err)
		}
		defer release()
		return c.doRequest(callCtx, req)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("Coalesced request", map[string]interface{}{
			"vendor": req.Vendor,
			"path":   req.Args.Path,
		})
	}

	if !req.NoCache {
		if err := c.cache.Set(ctx, key, cachedBody{Body: body}); err != nil {
			c.logger.Warn("Failed to cache response", map[string]interface{}{
				"vendor": req.Vendor,
				"error":  err.Error(),
			})
		}
	}
	return body, nil
}

// FetchJSON performs req and decodes the JSON body into dst.
func (c *Client) FetchJSON(ctx context.Context, req Request, dst interface{}) error {
	if req.Accept == "" {
		req.Accept = "application/json"
	}
	body, err := c.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.New(errors.MalformedResponse, fmt.Sprintf("%s: invalid JSON response", req.Vendor), err)
	}
	return nil
}

// doRequest performs an HTTP request with retry logic.
func (c *Client) doRequest(ctx context.Context, req Request) ([]byte, error) {
	u, err := req.Args.URL(req.BaseURL)
	if err != nil {
		return nil, errors.New(errors.ConfigInvalid, fmt.Sprintf("%s: invalid URL", req.Vendor), err)
	}
	method := req.Args.Method
	if method == "" {
		method = http.MethodGet
	}

	var lastErr error
	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.policy.RetryBaseDelay * time.Duration(1<<uint(attempt-1))
			if delay > c.policy.RetryMaxDelay {
				delay = c.policy.RetryMaxDelay
			}
			select {
			case <-ctx.Done():
				return nil, errors.New(errors.AdapterError, fmt.Sprintf("%s: request cancelled", req.Vendor), ctx.Err())
			case <-time.After(delay):
			}
			c.logger.Debug("Retrying request", map[string]interface{}{
				"vendor":  req.Vendor,
				"attempt": attempt + 1,
				"url":     u.String(),
			})
		}

		var body io.Reader
		if len(req.Args.Body) > 0 {
			body = bytes.NewReader(req.Args.Body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
		if err != nil {
			return nil, errors.New(errors.AdapterError, "failed to create request", err)
		}
		accept := req.Accept
		if accept == "" {
			accept = "application/json"
		}
		httpReq.Header.Set("Accept", accept)
		httpReq.Header.Set("User-Agent", version.UserAgent())
		if body != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		for k, v := range req.Headers {
			httpReq.Header.Set(k, v)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		data, readErr := io.ReadAll(io.LimitReader(resp.Body, c.policy.MaxBodySize))
		_ = resp.Body.Close()

		if resp.StatusCode >= 500 {
			lastErr = statusError(req.Vendor, resp.StatusCode, data)
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, statusError(req.Vendor, resp.StatusCode, data)
		}
		if readErr != nil {
			return nil, errors.New(errors.AdapterError, fmt.Sprintf("%s: failed to read response", req.Vendor), readErr)
		}
		return data, nil
	}

	if we, ok := lastErr.(*errors.WagError); ok {
		return nil, we
	}
	return nil, errors.New(errors.AdapterError,
		fmt.Sprintf("%s: request failed after %d retries", req.Vendor, c.policy.MaxRetries), lastErr)
}

func statusError(vendor VendorID, status int, body []byte) error {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return errors.Newf(errors.HTTPStatus, "%s returned status %d", vendor, status).
		WithDetails(map[string]interface{}{"status": status, "body": snippet})
}
