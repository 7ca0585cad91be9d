package policy

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

func TestApplyHeaderOpsAddAppendsToExisting(t *testing.T) {
	headers := http.Header{"X-Trace": []string{"a"}}
	ApplyHeaderOps(headers, []config.HeaderOp{{Op: config.FilterAddHeader, Name: "X-Trace", Value: "b"}})
	assert.Equal(t, []string{"a", "b"}, headers.Values("X-Trace"))
}

func TestApplyHeaderOpsSetReplacesExisting(t *testing.T) {
	headers := http.Header{"X-Trace": []string{"a"}}
	ApplyHeaderOps(headers, []config.HeaderOp{{Op: config.FilterSetHeader, Name: "X-Trace", Value: "b"}})
	assert.Equal(t, []string{"b"}, headers.Values("X-Trace"))
}

func TestApplyHeaderOpsRemoveDeletesHeader(t *testing.T) {
	headers := http.Header{"X-Trace": []string{"a"}}
	ApplyHeaderOps(headers, []config.HeaderOp{{Op: config.FilterRemoveHeader, Name: "X-Trace"}})
	assert.Empty(t, headers.Values("X-Trace"))
}

func TestApplyHeaderOpsAppliesInOrder(t *testing.T) {
	headers := http.Header{}
	ApplyHeaderOps(headers, []config.HeaderOp{
		{Op: config.FilterSetHeader, Name: "X-Trace", Value: "first"},
		{Op: config.FilterSetHeader, Name: "X-Trace", Value: "second"},
	})
	assert.Equal(t, []string{"second"}, headers.Values("X-Trace"))
}
