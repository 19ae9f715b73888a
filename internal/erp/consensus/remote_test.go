package consensus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteAgentEvaluate(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(Opinion{Decision: DecisionConditional, Confidence: 0.7, Conditions: []string{"double check"}})
	}))
	defer srv.Close()

	a := NewRemoteAgent("ext", "quality", srv.URL, time.Second)
	op, err := a.Evaluate(context.Background(), &Request{Domain: DomainPlanning, EntityID: "o-9"})
	require.NoError(t, err)
	assert.Equal(t, "ext", op.AgentID)
	assert.Equal(t, "quality", op.Role)
	assert.Equal(t, DecisionConditional, op.Decision)
	assert.Equal(t, "o-9", got.EntityID)
}

func TestRemoteAgentRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"decision":"approve","confidence":1}`))
	}))
	defer srv.Close()

	a := NewRemoteAgent("ext", "", srv.URL, time.Second)
	op, err := a.Evaluate(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, DecisionApprove, op.Decision)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRemoteAgentClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	a := NewRemoteAgent("ext", "", srv.URL, time.Second)
	_, err := a.Evaluate(context.Background(), &Request{})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRemoteAgentInvalidDecision(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"decision":"maybe","confidence":1}`))
	}))
	defer srv.Close()

	a := NewRemoteAgent("ext", "", srv.URL, time.Second)
	_, err := a.Evaluate(context.Background(), &Request{})
	assert.Error(t, err)
}
