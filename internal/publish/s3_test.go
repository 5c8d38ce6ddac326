package publish

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBucket = "content-bucket"

// fakeS3 serves a path-style subset of the S3 API: object GET/PUT/DELETE
// and ListObjectsV2 with a small page size.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string]string
	pageSize int
	listReqs int
}

type listResult struct {
	XMLName               xml.Name      `xml:"ListBucketResult"`
	Name                  string        `xml:"Name"`
	Prefix                string        `xml:"Prefix"`
	KeyCount              int           `xml:"KeyCount"`
	IsTruncated           bool          `xml:"IsTruncated"`
	Contents              []listContent `xml:"Contents"`
	NextContinuationToken string        `xml:"NextContinuationToken,omitempty"`
}

type listContent struct {
	Key  string `xml:"Key"`
	Size int    `xml:"Size"`
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/"+testBucket)
	key := strings.TrimPrefix(path, "/")

	switch {
	case key == "" && r.Method == http.MethodGet:
		f.list(w, r)
	case r.Method == http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message><Key>`+key+`</Key></Error>`)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		io.WriteString(w, body)
	case r.Method == http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = string(data)
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.objects[key]
	return v, ok
}

func (f *fakeS3) set(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = value
}

func (f *fakeS3) listCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listReqs
}

func (f *fakeS3) list(w http.ResponseWriter, r *http.Request) {
	f.listReqs++
	prefix := r.URL.Query().Get("prefix")

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if tok := r.URL.Query().Get("continuation-token"); tok != "" {
		start, _ = strconv.Atoi(tok)
	}
	end := start + f.pageSize
	if end > len(keys) {
		end = len(keys)
	}

	res := listResult{Name: testBucket, Prefix: prefix, KeyCount: end - start}
	for _, k := range keys[start:end] {
		res.Contents = append(res.Contents, listContent{Key: k, Size: len(f.objects[k])})
	}
	if end < len(keys) {
		res.IsTruncated = true
		res.NextContinuationToken = strconv.Itoa(end)
	}

	w.Header().Set("Content-Type", "application/xml")
	io.WriteString(w, xml.Header)
	xml.NewEncoder(w).Encode(res)
}

func newTestS3Store(t *testing.T) (*S3Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string]string), pageSize: 2}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := NewS3Store(context.Background(), S3Config{
		Bucket:    testBucket,
		Region:    "us-east-1",
		Endpoint:  srv.URL,
		AccessKey: "AKIDEXAMPLE",
		SecretKey: "secret",
	})
	require.NoError(t, err)
	return s, fake
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Config{})
	assert.Error(t, err)
}

func TestS3Store_MissingKeyIsNotFound(t *testing.T) {
	s, _ := newTestS3Store(t)

	_, err := s.Get(context.Background(), "foo/.version")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.False(t, isTransient(err))
}

func TestS3Store_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestS3Store(t)

	require.NoError(t, s.Put(ctx, "foo/index.html", strings.NewReader("<html/>"), "text/html"))
	stored, ok := fake.get("foo/index.html")
	require.True(t, ok)
	assert.Contains(t, stored, "<html/>")

	fake.set("foo/.version", `{"name":"foo","version":"2"}`)
	body, err := s.Get(ctx, "foo/.version")
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	body.Close()
	require.NoError(t, err)
	assert.Equal(t, `{"name":"foo","version":"2"}`, string(data))

	require.NoError(t, s.Delete(ctx, "foo/index.html"))
	_, ok = fake.get("foo/index.html")
	assert.False(t, ok)
}

func TestS3Store_ListFollowsContinuation(t *testing.T) {
	s, fake := newTestS3Store(t)
	for _, k := range []string{"foo/a.html", "foo/b.html", "foo/c/d.png", "foo/e.xml", "foo/f", "bar/index.html"} {
		fake.set(k, "x")
	}

	keys, err := s.List(context.Background(), "foo/")
	require.NoError(t, err)
	assert.Equal(t, []string{"foo/a.html", "foo/b.html", "foo/c/d.png", "foo/e.xml", "foo/f"}, keys)
	assert.Equal(t, 3, fake.listCalls())
}
