package httpd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/impact-eintr/fekv/httpclient"
	"github.com/impact-eintr/fekv/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testStore struct {
	mu       sync.Mutex
	m        map[string][]byte
	follower bool
	leader   string
	lastLvl  store.ConsistencyLevel
	joined   []string
}

func newTestStore() *testStore {
	return &testStore{m: make(map[string][]byte)}
}

func (t *testStore) Get(key string, lvl store.ConsistencyLevel) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastLvl = lvl
	if t.follower && lvl != store.Stale {
		return nil, store.ErrNotLeader
	}
	v, ok := t.m[key]
	if !ok {
		return nil, store.ErrKeyNotFound
	}
	return v, nil
}

func (t *testStore) Set(key string, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.follower {
		return store.ErrNotLeader
	}
	t.m[key] = value
	return nil
}

func (t *testStore) Delete(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.follower {
		return store.ErrNotLeader
	}
	delete(t.m, key)
	return nil
}

func (t *testStore) Join(nodeID, httpAddr, addr string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.follower {
		return store.ErrNotLeader
	}
	t.joined = append(t.joined, nodeID+"@"+addr+"/"+httpAddr)
	return nil
}

func (t *testStore) LeaderAPIAddr() string { return t.leader }

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestKeyRoundTrip(t *testing.T) {
	st := newTestStore()
	h := New(":0", st, nil).newRouter()

	w := do(h, http.MethodPut, "/fekv/foo", "bar")
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("put: %d %q", w.Code, w.Body.String())
	}
	w = do(h, http.MethodPost, "/fekv/apple", "apple")
	if w.Code != http.StatusOK {
		t.Fatalf("post: %d", w.Code)
	}

	w = do(h, http.MethodGet, "/fekv/foo", "")
	if w.Code != http.StatusOK || w.Body.String() != "bar" {
		t.Fatalf("get: %d %q", w.Code, w.Body.String())
	}
	w = do(h, http.MethodGet, "/fekv/apple", "")
	if w.Body.String() != "apple" {
		t.Fatalf("get apple: %q", w.Body.String())
	}

	w = do(h, http.MethodDelete, "/fekv/foo", "")
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("delete: %d %q", w.Code, w.Body.String())
	}
	w = do(h, http.MethodGet, "/fekv/foo", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("get deleted: %d", w.Code)
	}
}

func TestNestedKeyAndLevel(t *testing.T) {
	st := newTestStore()
	h := New(":0", st, nil).newRouter()

	do(h, http.MethodPut, "/fekv/a/b", "nested")
	if _, ok := st.m["a/b"]; !ok {
		t.Fatalf("nested key not stored: %v", st.m)
	}

	w := do(h, http.MethodGet, "/fekv/a/b?level=stale", "")
	if w.Body.String() != "nested" || st.lastLvl != store.Stale {
		t.Fatalf("stale get: %q lvl %d", w.Body.String(), st.lastLvl)
	}
	do(h, http.MethodGet, "/fekv/a/b?level=consistent", "")
	if st.lastLvl != store.Consistent {
		t.Fatalf("lvl %d", st.lastLvl)
	}
}

func TestEmptyKey(t *testing.T) {
	h := New(":0", newTestStore(), nil).newRouter()
	if w := do(h, http.MethodPut, "/fekv/", "x"); w.Code != http.StatusBadRequest {
		t.Fatalf("empty key: %d", w.Code)
	}
}

func TestHelloAndIndex(t *testing.T) {
	h := New(":0", newTestStore(), nil).newRouter()

	if w := do(h, http.MethodGet, "/hello", ""); w.Body.String() != "Hello World!" {
		t.Fatalf("hello: %q", w.Body.String())
	}
	if w := do(h, http.MethodGet, "/hello/gopher", ""); w.Body.String() != "Hello gopher!" {
		t.Fatalf("hello name: %q", w.Body.String())
	}
	for _, p := range []string{"/", "/index.html"} {
		w := do(h, http.MethodGet, p, "")
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<h1>fekv</h1>") {
			t.Fatalf("%s: %d", p, w.Code)
		}
	}
}

func TestUnknownRoute(t *testing.T) {
	h := New(":0", newTestStore(), nil).newRouter()
	for _, p := range []string{"/favicon.ico", "/nope", "/kv/foo"} {
		if w := do(h, http.MethodGet, p, ""); w.Code != http.StatusNotFound {
			t.Fatalf("%s: %d", p, w.Code)
		}
	}
}

func TestFollowerRedirect(t *testing.T) {
	st := newTestStore()
	st.follower = true
	st.leader = "10.0.0.1:3000"
	h := New(":0", st, nil).newRouter()

	w := do(h, http.MethodPut, "/fekv/foo?x=1", "bar")
	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("put on follower: %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "http://10.0.0.1:3000/fekv/foo?x=1" {
		t.Fatalf("location: %s", loc)
	}

	w = do(h, http.MethodPost, "/fekv/what%3F", "x")
	if loc := w.Header().Get("Location"); loc != "http://10.0.0.1:3000/fekv/what%3F" {
		t.Fatalf("escaped key location: %s", loc)
	}
	w = do(h, http.MethodDelete, "/fekv/a%20b%23c?level=stale", "")
	if loc := w.Header().Get("Location"); loc != "http://10.0.0.1:3000/fekv/a%20b%23c?level=stale" {
		t.Fatalf("escaped key with query location: %s", loc)
	}

	st.leader = ""
	w = do(h, http.MethodGet, "/fekv/foo", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("get without leader: %d", w.Code)
	}
}

func TestJoin(t *testing.T) {
	st := newTestStore()
	svc := New("127.0.0.1:0", st, nil)
	if err := svc.Start(); err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	client := httpclient.New(httpclient.DefaultConfig())
	err := Join(context.Background(), client, svc.Addr().String(), "node1", "127.0.0.1:3001", "127.0.0.1:12001")
	if err != nil {
		t.Fatal(err)
	}
	if len(st.joined) != 1 || st.joined[0] != "node1@127.0.0.1:12001/127.0.0.1:3001" {
		t.Fatalf("joined: %v", st.joined)
	}

	w := do(svc.newRouter(), http.MethodPost, "/join", `{"id":"node2"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("incomplete join: %d", w.Code)
	}
}
