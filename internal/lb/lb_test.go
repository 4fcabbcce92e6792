package lb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/serverledge-faas/smartlambda/internal/node"
	"github.com/serverledge-faas/smartlambda/internal/registration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	mu    sync.Mutex
	nodes []registration.NodeRegistration
	err   error
}

func (f *fakeLister) Nodes(context.Context, string) ([]registration.NodeRegistration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodes, f.err
}

// backend starts a server answering with its own name.
func backend(t *testing.T, name string) registration.NodeRegistration {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Backend", name)
		_, _ = w.Write([]byte(name + " " + r.Method + " " + r.URL.RequestURI() + " " + string(body)))
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return registration.NodeRegistration{NodeID: node.NodeID{Area: "ROME", Key: name}, IPAddress: u.Hostname(), APIPort: port}
}

func serve(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func newTestProxy(t *testing.T, lister NodeLister) *echo.Echo {
	policy, err := NewPolicy(CONST_HASH_POLICY)
	require.NoError(t, err)
	p := NewProxy(lister, "ROME", policy)
	require.NoError(t, p.Refresh(context.Background()))
	e := echo.New()
	p.Routes(e)
	return e
}

func TestInvocationsOfAFunctionStickToANode(t *testing.T) {
	lister := &fakeLister{nodes: []registration.NodeRegistration{backend(t, "a"), backend(t, "b"), backend(t, "c")}}
	e := newTestProxy(t, lister)

	first := serve(e, http.MethodPost, "/invoke/inc", `{"Params":1}`)
	require.Equal(t, http.StatusOK, first.Code)
	chosen := first.Header().Get("X-Backend")
	require.NotEmpty(t, chosen)
	assert.Equal(t, chosen+` POST /invoke/inc {"Params":1}`, first.Body.String())

	for i := 0; i < 5; i++ {
		rec := serve(e, http.MethodPost, "/invoke/inc", `{}`)
		assert.Equal(t, chosen, rec.Header().Get("X-Backend"))
	}
}

func TestOtherRequestsRotate(t *testing.T) {
	lister := &fakeLister{nodes: []registration.NodeRegistration{backend(t, "a"), backend(t, "b")}}
	e := newTestProxy(t, lister)

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		rec := serve(e, http.MethodGet, "/poll/req-1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		seen[rec.Header().Get("X-Backend")] = true
	}
	assert.Len(t, seen, 2)
}

func TestNoTargets(t *testing.T) {
	e := newTestProxy(t, &fakeLister{})
	assert.Equal(t, http.StatusServiceUnavailable, serve(e, http.MethodPost, "/invoke/inc", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(e, http.MethodGet, "/status", "").Code)
}

func TestRefreshKeepsTargetsOnError(t *testing.T) {
	a := backend(t, "a")
	lister := &fakeLister{nodes: []registration.NodeRegistration{a}}
	policy, err := NewPolicy(RANDOM_POLICY)
	require.NoError(t, err)
	p := NewProxy(lister, "ROME", policy)
	require.NoError(t, p.Refresh(context.Background()))

	lister.mu.Lock()
	lister.err = errors.New("etcd down")
	lister.mu.Unlock()
	assert.Error(t, p.Refresh(context.Background()))
	assert.Len(t, p.Targets(), 1)

	target, err := policy.Route("any")
	require.NoError(t, err)
	assert.Equal(t, "a", target.Key)
}

func TestConstHashRemovalOnlyMovesRemovedNode(t *testing.T) {
	nodes := []registration.NodeRegistration{
		{NodeID: node.NodeID{Key: "a"}, IPAddress: "10.0.0.1", APIPort: 1323},
		{NodeID: node.NodeID{Key: "b"}, IPAddress: "10.0.0.2", APIPort: 1323},
		{NodeID: node.NodeID{Key: "c"}, IPAddress: "10.0.0.3", APIPort: 1323},
	}
	c := newConstHashBalancer()
	c.Update(nodes)

	functions := []string{"f1", "f2", "f3", "f4", "f5", "f6", "f7", "f8"}
	before := map[string]string{}
	for _, f := range functions {
		target, err := c.Route(f)
		require.NoError(t, err)
		before[f] = target.Key
	}

	c.Update(nodes[:2])
	for _, f := range functions {
		target, err := c.Route(f)
		require.NoError(t, err)
		assert.NotEqual(t, "c", target.Key)
		if before[f] != "c" {
			assert.Equal(t, before[f], target.Key, f)
		}
	}

	c.Update(nil)
	_, err := c.Route("f1")
	assert.ErrorIs(t, err, ErrNoTarget)
}

func TestUnknownPolicy(t *testing.T) {
	_, err := NewPolicy("round-robin")
	assert.Error(t, err)
}
