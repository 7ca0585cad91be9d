package policy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

// ExtAuthzClient calls one external authorization service. The production
// wiring uses HTTP (a sidecar or shared authz service); a gRPC client
// satisfying this interface can be substituted per-target.
type ExtAuthzClient interface {
	Check(ctx context.Context, target string, req *http.Request) (allow bool, err error)
}

// HTTPExtAuthzClient calls target's /check endpoint, forwarding the
// original request's method/path/headers for policy evaluation.
type HTTPExtAuthzClient struct {
	HTTPClient *http.Client
}

func (c *HTTPExtAuthzClient) Check(ctx context.Context, target string, req *http.Request) (bool, error) {
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	checkReq, err := http.NewRequestWithContext(ctx, req.Method, "http://"+target+"/check"+req.URL.Path, nil)
	if err != nil {
		return false, err
	}
	checkReq.Header = req.Header.Clone()

	resp, err := client.Do(checkReq)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode < 300, nil
}

// RunExtAuthzChain evaluates chain in attachment order, every entry applying
// (MergeAppend). Each link's timeout and FailOpen govern what happens when
// the external service errors or times out; the first denial short-circuits
// the remainder of the chain.
func RunExtAuthzChain(ctx context.Context, client ExtAuthzClient, chain []*config.ExtAuthzSpec, req *http.Request) error {
	for _, link := range chain {
		timeout := link.Timeout
		if timeout <= 0 {
			timeout = 200 * time.Millisecond
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		allow, err := client.Check(callCtx, link.Target, req)
		cancel()

		if err != nil {
			if link.FailOpen {
				continue
			}
			return fmt.Errorf("extauthz %q unavailable: %w", link.Target, err)
		}
		if !allow {
			return fmt.Errorf("extauthz %q denied the request", link.Target)
		}
	}
	return nil
}
