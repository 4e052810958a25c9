package queue

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maxpop/internal/provision"
)

func endpointOf(t *testing.T, ts *httptest.Server) Endpoint {
	t.Helper()
	host, port, err := net.SplitHostPort(ts.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return Endpoint{Host: host, Port: p}
}

func TestPop(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/queue/q0/pop", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("max"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Write([]byte(`{"ok":true,"data":["hello"]}`))
	}))
	defer ts.Close()

	c := NewClient("http", 0, 0)
	res, err := c.Pop(context.Background(), endpointOf(t, ts), "q0", 1)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.Status)
	assert.False(t, res.Empty())
	assert.JSONEq(t, `["hello"]`, string(res.Data))
}

func TestPopEmptyQueue(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"data": [] }`))
	}))
	defer ts.Close()

	c := NewClient("http", 0, 0)
	res, err := c.Pop(context.Background(), endpointOf(t, ts), "q0", 1)
	require.NoError(t, err)
	assert.True(t, res.Empty())
}

func TestPopNonJSONBodyIsNotEmpty(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer ts.Close()

	c := NewClient("http", 0, 0)
	res, err := c.Pop(context.Background(), endpointOf(t, ts), "q0", 1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, res.Status)
	assert.False(t, res.Empty())
}

func TestPopNoResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ep := endpointOf(t, ts)
	ts.Close()

	c := NewClient("http", time.Second, 0)
	_, err := c.Pop(context.Background(), ep, "q0", 1)
	assert.Error(t, err)
}

func TestPush(t *testing.T) {
	var got provision.Provision
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trans", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	p, err := provision.Generate(1, 16)
	require.NoError(t, err)

	f := HTTPFiller{Client: NewClient("http", 0, 0), Endpoint: endpointOf(t, ts)}
	require.NoError(t, f.Push(context.Background(), "work", p))
	assert.Equal(t, p.Payload, got.Payload)
	assert.Equal(t, []provision.QueueRef{{ID: "work"}}, got.Queues)
	assert.Equal(t, []provision.QueueRef{{ID: "q0"}}, p.Queues, "caller's provision is left alone")
}

func TestPushRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	p, err := provision.Generate(1, 1)
	require.NoError(t, err)

	c := NewClient("http", 0, 0)
	assert.Error(t, c.Push(context.Background(), endpointOf(t, ts), p))
}

func TestEndpointString(t *testing.T) {
	assert.Equal(t, "localhost:3001", Endpoint{Host: "localhost", Port: 3001}.String())
}
