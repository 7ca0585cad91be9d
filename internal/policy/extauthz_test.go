package policy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

type fakeExtAuthzClient struct {
	allow []bool
	errs  []error
	calls int
}

func (f *fakeExtAuthzClient) Check(ctx context.Context, target string, req *http.Request) (bool, error) {
	i := f.calls
	f.calls++
	var allow bool
	var err error
	if i < len(f.allow) {
		allow = f.allow[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return allow, err
}

func newCheckRequest() *http.Request {
	return httptest.NewRequest(http.MethodGet, "/v1/chat", nil)
}

func TestRunExtAuthzChainEmptyChainAllows(t *testing.T) {
	err := RunExtAuthzChain(context.Background(), &fakeExtAuthzClient{}, nil, newCheckRequest())
	assert.NoError(t, err)
}

func TestRunExtAuthzChainDeniesOnFirstRejection(t *testing.T) {
	client := &fakeExtAuthzClient{allow: []bool{false}}
	chain := []*config.ExtAuthzSpec{{Target: "authz1:9000"}}
	err := RunExtAuthzChain(context.Background(), client, chain, newCheckRequest())
	assert.Error(t, err)
}

func TestRunExtAuthzChainAllowsWhenAllLinksAllow(t *testing.T) {
	client := &fakeExtAuthzClient{allow: []bool{true, true}}
	chain := []*config.ExtAuthzSpec{{Target: "authz1:9000"}, {Target: "authz2:9000"}}
	err := RunExtAuthzChain(context.Background(), client, chain, newCheckRequest())
	assert.NoError(t, err)
}

func TestRunExtAuthzChainFailOpenToleratesClientError(t *testing.T) {
	client := &fakeExtAuthzClient{errs: []error{errors.New("unreachable")}}
	chain := []*config.ExtAuthzSpec{{Target: "authz1:9000", FailOpen: true}}
	err := RunExtAuthzChain(context.Background(), client, chain, newCheckRequest())
	assert.NoError(t, err)
}

func TestRunExtAuthzChainFailClosedPropagatesClientError(t *testing.T) {
	client := &fakeExtAuthzClient{errs: []error{errors.New("unreachable")}}
	chain := []*config.ExtAuthzSpec{{Target: "authz1:9000", FailOpen: false}}
	err := RunExtAuthzChain(context.Background(), client, chain, newCheckRequest())
	assert.Error(t, err)
}

func TestRunExtAuthzChainShortCircuitsAfterDenial(t *testing.T) {
	client := &fakeExtAuthzClient{allow: []bool{false, true}}
	chain := []*config.ExtAuthzSpec{{Target: "authz1:9000"}, {Target: "authz2:9000"}}
	err := RunExtAuthzChain(context.Background(), client, chain, newCheckRequest())
	require.Error(t, err)
	assert.Equal(t, 1, client.calls, "the chain must not call the second link after the first denies")
}

func TestHTTPExtAuthzClientChecksResponseStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/check/v1/chat" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := &HTTPExtAuthzClient{}
	allow, err := client.Check(context.Background(), server.Listener.Addr().String(), newCheckRequest())
	require.NoError(t, err)
	assert.False(t, allow)
}
