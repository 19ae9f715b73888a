package consensus

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRegistry(t *testing.T) {
	data := []byte(`
agents:
  - id: planning
  - id: inventory
    type: builtin
  - id: remote-quality
    type: remote
    role: quality
    url: http://127.0.0.1:1/decide
    timeout: 1s
domains:
  planning:
    primary: planning
    peers: [inventory, remote-quality]
    policy: "approval_rate >= 0.6"
  production:
    primary: production
    peers: [inventory]
`)
	reg, err := ParseRegistry(data)
	require.NoError(t, err)

	route, primary, peers, err := reg.Resolve(DomainPlanning)
	require.NoError(t, err)
	assert.Equal(t, "planning", primary.ID())
	require.Len(t, peers, 2)
	assert.Equal(t, "quality", peers[1].Role())
	assert.Equal(t, "approval_rate >= 0.6", route.Policy)

	_, _, _, err = reg.Resolve(DomainQuality)
	assert.Error(t, err, "routes from file replace the defaults")
}

func TestParseRegistryErrors(t *testing.T) {
	cases := map[string]string{
		"unknown builtin": "agents:\n  - id: ghost\n",
		"remote no url":   "agents:\n  - id: r\n    type: remote\n",
		"bad type":        "agents:\n  - id: r\n    type: grpc\n",
		"unknown peer":    "domains:\n  planning:\n    primary: planning\n    peers: [ghost]\n",
		"bad yaml":        "domains: [",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRegistry([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestRegistryRemoteAgentEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"decision":"approve","confidence":0.9,"reasoning":"ok"}`))
	}))
	defer srv.Close()

	reg, err := ParseRegistry([]byte("agents:\n  - id: ext\n    type: remote\n    url: " + srv.URL + "\ndomains:\n  planning:\n    primary: ext\n"))
	require.NoError(t, err)
	_, primary, _, err := reg.Resolve(DomainPlanning)
	require.NoError(t, err)
	assert.IsType(t, &RemoteAgent{}, primary)
}
