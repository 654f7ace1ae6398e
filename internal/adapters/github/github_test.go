package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/adapters/store"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/delivery"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/testutil"
)

type comment struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
}

// fakeGitHub keeps the comments of a single pull request, acme/api#7.
type fakeGitHub struct {
	mu       sync.Mutex
	comments []comment
	nextID   int64
	perPage  int
	status   int // forced status for every call when non-zero
	auth     []string
	server   *httptest.Server
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()
	f := &fakeGitHub{nextID: 100, perPage: 2}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/api/pulls/7", f.diff)
	mux.HandleFunc("GET /repos/acme/api/issues/7/comments", f.list)
	mux.HandleFunc("POST /repos/acme/api/issues/7/comments", f.create)
	mux.HandleFunc("PATCH /repos/acme/api/issues/comments/{id}", f.edit)
	f.server = httptest.NewServer(f.guard(mux))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeGitHub) client(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient("ghs_test", WithBaseURL(f.server.URL), WithTimeout(5*time.Second))
	require.NoError(t, err)
	return c
}

func (f *fakeGitHub) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		status := f.status
		f.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"message":"forced"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *fakeGitHub) diff(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Accept") != "application/vnd.github.v3.diff" {
		http.Error(w, "want diff media type", http.StatusNotAcceptable)
		return
	}
	_, _ = w.Write([]byte(testutil.SampleDiff))
}

func (f *fakeGitHub) list(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	start := (page - 1) * f.perPage
	end := min(start+f.perPage, len(f.comments))
	if start > len(f.comments) {
		start = end
	}
	if end < len(f.comments) {
		w.Header().Set("Link", fmt.Sprintf(`<%s%s?page=%d>; rel="next"`, f.server.URL, r.URL.Path, page+1))
	}
	_ = json.NewEncoder(w).Encode(f.comments[start:end])
}

func (f *fakeGitHub) create(w http.ResponseWriter, r *http.Request) {
	var c comment
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.nextID++
	c.ID = f.nextID
	f.comments = append(f.comments, c)
	f.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(c)
}

func (f *fakeGitHub) edit(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	var c comment
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.comments {
		if f.comments[i].ID == id {
			f.comments[i].Body = c.Body
			_ = json.NewEncoder(w).Encode(f.comments[i])
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"message":"Not Found"}`))
}

func (f *fakeGitHub) add(body string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.comments = append(f.comments, comment{ID: f.nextID, Body: body})
	return f.nextID
}

func (f *fakeGitHub) remove(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.comments {
		if c.ID == id {
			f.comments = append(f.comments[:i], f.comments[i+1:]...)
			return
		}
	}
}

func (f *fakeGitHub) body(id int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.comments {
		if c.ID == id {
			return c.Body
		}
	}
	return ""
}

func (f *fakeGitHub) force(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

var ref = core.PullRef{Owner: "acme", Repo: "api", Number: 7}

func TestNewClient(t *testing.T) {
	_, err := NewClient("")
	assert.True(t, core.IsCategory(err, core.ErrCatAuth))

	_, err = NewClient("t", WithBaseURL("://bad"))
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))

	c, err := NewClient("t", WithHTTPClient(&http.Client{}))
	require.NoError(t, err)
	assert.Equal(t, "https://api.github.com/", c.api.BaseURL.String())
}

func TestFetchDiff(t *testing.T) {
	f := newFakeGitHub(t)
	diff, err := f.client(t).FetchDiff(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, testutil.SampleDiff, diff)
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "Bearer ghs_test", f.auth[0])
}

func TestFetchDiff_Errors(t *testing.T) {
	tests := []struct {
		status int
		cat    core.ErrorCategory
		retry  bool
	}{
		{http.StatusUnauthorized, core.ErrCatAuth, false},
		{http.StatusNotFound, core.ErrCatNotFound, false},
		{http.StatusTooManyRequests, core.ErrCatRateLimit, true},
		{http.StatusBadGateway, core.ErrCatExecution, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			f := newFakeGitHub(t)
			f.force(tt.status)
			_, err := f.client(t).FetchDiff(context.Background(), ref)
			require.Error(t, err)
			assert.Equal(t, tt.cat, core.GetCategory(err))
			assert.Equal(t, tt.retry, core.IsRetryable(err))
		})
	}
}

func TestFetchDiff_Timeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(slow.Close)

	c, err := NewClient("t", WithBaseURL(slow.URL), WithTimeout(50*time.Millisecond))
	require.NoError(t, err)
	_, err = c.FetchDiff(context.Background(), ref)
	assert.True(t, core.IsCategory(err, core.ErrCatTimeout), "got %v", err)
}

func TestSink_CreateUpdate(t *testing.T) {
	f := newFakeGitHub(t)
	s := NewSink(f.client(t), "")
	assert.Equal(t, "github", s.Name())

	id, err := s.Create(context.Background(), "acme/api#7", &core.Report{Body: "first\n"})
	require.NoError(t, err)
	assert.Equal(t, "101", id)
	assert.Equal(t, "first\n\n"+DefaultMarker+"\n", f.body(101))

	require.NoError(t, s.Update(context.Background(), "acme/api#7", id, &core.Report{Body: "second"}))
	assert.Equal(t, "second\n\n"+DefaultMarker+"\n", f.body(101))
}

func TestSink_UpdateMissingComment(t *testing.T) {
	f := newFakeGitHub(t)
	s := NewSink(f.client(t), "")

	err := s.Update(context.Background(), "acme/api#7", "555", &core.Report{Body: "x"})
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))

	err = s.Update(context.Background(), "acme/api#7", "not-a-number", &core.Report{Body: "x"})
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestSink_InvalidKey(t *testing.T) {
	f := newFakeGitHub(t)
	s := NewSink(f.client(t), "")

	_, err := s.Create(context.Background(), "not a pull request", &core.Report{})
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
	_, _, err = s.FindArtifact(context.Background(), "acme/api")
	assert.Error(t, err)
}

func TestSink_FindArtifact(t *testing.T) {
	f := newFakeGitHub(t)
	s := NewSink(f.client(t), "<!-- custom -->")

	_, found, err := s.FindArtifact(context.Background(), "acme/api#7")
	require.NoError(t, err)
	assert.False(t, found)

	f.add("LGTM")
	f.add("nice")
	f.add("also " + DefaultMarker)
	want := f.add("review\n<!-- custom -->\n")

	id, found, err := s.FindArtifact(context.Background(), "acme/api#7")
	require.NoError(t, err)
	assert.True(t, found, "the marked comment is on the second page")
	assert.Equal(t, strconv.FormatInt(want, 10), id)
}

func TestSink_WithGuard(t *testing.T) {
	f := newFakeGitHub(t)
	sink := NewSink(f.client(t), "")
	guard := delivery.NewGuard(sink, store.NewMemoryStore())
	ctx := context.Background()

	d, err := guard.Deliver(ctx, "acme/api#7", &core.Report{Body: "v1"})
	require.NoError(t, err)
	assert.Equal(t, core.DeliveryCreated, d.Action)

	d, err = guard.Deliver(ctx, "acme/api#7", &core.Report{Body: "v1"})
	require.NoError(t, err)
	assert.Equal(t, core.DeliverySkipped, d.Action)

	id, _ := strconv.ParseInt(d.ArtifactID, 10, 64)
	f.remove(id)
	d, err = guard.Deliver(ctx, "acme/api#7", &core.Report{Body: "v2"})
	require.NoError(t, err)
	assert.Equal(t, core.DeliveryCreated, d.Action, "a deleted comment is recreated")

	// A fresh store finds the marked comment instead of posting a second one.
	d, err = delivery.NewGuard(sink, store.NewMemoryStore()).Deliver(ctx, "acme/api#7", &core.Report{Body: "v3"})
	require.NoError(t, err)
	assert.Equal(t, core.DeliveryUpdated, d.Action)
	f.mu.Lock()
	n := len(f.comments)
	f.mu.Unlock()
	assert.Equal(t, 1, n)
	assert.True(t, strings.HasPrefix(f.body(mustID(t, d.ArtifactID)), "v3"))
}

func mustID(t *testing.T, s string) int64 {
	t.Helper()
	id, err := strconv.ParseInt(s, 10, 64)
	require.NoError(t, err)
	return id
}
