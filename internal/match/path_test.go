package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain", in: "/a/b", want: "/a/b"},
		{name: "decodes unreserved", in: "/a%2Db/c%5Fd", want: "/a-b/c_d"},
		{name: "keeps reserved escapes", in: "/a%2Fb", want: "/a%2Fb"},
		{name: "rejects dotdot segment", in: "/a/../b", wantErr: true},
		{name: "rejects encoded dotdot segment", in: "/a/%2e%2e/b", wantErr: true},
		{name: "allows single dot segment literal text", in: "/a.b/c", want: "/a.b/c"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizePath(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
