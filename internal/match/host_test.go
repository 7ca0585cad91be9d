package match

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

func buildTestSnapshot(t *testing.T, listeners []config.Listener) (*config.Snapshot, []config.ListenerIndex) {
	t.Helper()
	b := config.NewBuilder(1)
	bindIdx, err := b.AddBind(config.Bind{Address: "0.0.0.0", Port: 443, Protocol: config.ProtocolHTTPTLS})
	require.NoError(t, err)
	var idxs []config.ListenerIndex
	for _, l := range listeners {
		l.Bind = bindIdx
		idxs = append(idxs, b.AddListener(l))
	}
	snap, err := b.Build()
	require.NoError(t, err)
	return snap, idxs
}

func TestHostTableWildcardSuffix(t *testing.T) {
	snap, idxs := buildTestSnapshot(t, []config.Listener{
		{Name: "wildcard", Hostnames: []string{"*.example.com"}},
	})
	table := BuildHostTable(snap, idxs)

	got, ok := table.Lookup("A.Example.COM")
	require.True(t, ok)
	require.Equal(t, idxs[0], got)

	_, ok = table.Lookup("example.com")
	require.False(t, ok)
}

func TestHostTableExactBeatsWildcard(t *testing.T) {
	snap, idxs := buildTestSnapshot(t, []config.Listener{
		{Name: "wildcard", Hostnames: []string{"*.example.com"}},
		{Name: "exact", Hostnames: []string{"a.example.com"}},
	})
	table := BuildHostTable(snap, idxs)

	got, ok := table.Lookup("a.example.com")
	require.True(t, ok)
	require.Equal(t, idxs[1], got)
}
