package policy

import (
	"net/http"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

// ApplyHeaderOps mutates headers in place per ops, in order.
func ApplyHeaderOps(headers http.Header, ops []config.HeaderOp) {
	for _, op := range ops {
		switch op.Op {
		case config.FilterAddHeader:
			headers.Add(op.Name, op.Value)
		case config.FilterSetHeader:
			headers.Set(op.Name, op.Value)
		case config.FilterRemoveHeader:
			headers.Del(op.Name)
		}
	}
}
