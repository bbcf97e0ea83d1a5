package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/aobake/internal/jobs"
)

type fakeCleaner struct{ calls int }

func (c *fakeCleaner) Cleanup() (int, error) {
	c.calls++
	return 3, nil
}

type fixture struct {
	srv     *httptest.Server
	queue   *jobs.Queue
	cleaner *fakeCleaner
	outDir  string
}

// newFixture starts a queue whose jobs finish with an image named after
// their id.
func newFixture(t *testing.T, start bool) *fixture {
	t.Helper()
	outDir := t.TempDir()
	runner := jobs.RunnerFunc(func(ctx context.Context, args jobs.Args) (*jobs.Result, error) {
		return &jobs.Result{URLAoMapImage: "AO_test.png"}, nil
	})
	q := jobs.New(runner, 5*time.Millisecond)
	if start {
		q.Start(context.Background())
		t.Cleanup(q.Stop)
	}
	cleaner := &fakeCleaner{}
	s := New(q, cleaner, Options{OutputDir: outDir, Resolution: 256})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, queue: q, cleaner: cleaner, outDir: outDir}
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestBakeFile(t *testing.T) {
	f := newFixture(t, false)

	resp, err := http.Get(f.srv.URL + "/bakeFile/scenes/room.igxc")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "1", body["jobId"])

	job, ok := f.queue.Query("1")
	require.True(t, ok)
	assert.Equal(t, "scenes/room.igxc", job.Args["file"])
	assert.Equal(t, 256, job.Args["resolution"])
	assert.Equal(t, jobs.Pending, job.State)
}

func TestBakeURL(t *testing.T) {
	f := newFixture(t, false)

	resp, err := http.Post(f.srv.URL+"/bakeUrl/", "application/json",
		strings.NewReader(`{"url": "https://host/scene.igxc", "resolution": 512}`))
	require.NoError(t, err)
	id := decode[map[string]string](t, resp)["jobId"]

	job, _ := f.queue.Query(id)
	assert.Equal(t, "https://host/scene.igxc", job.Args["url"])
	assert.Equal(t, 512, job.Args["resolution"])

	resp, err = http.PostForm(f.srv.URL+"/bakeUrl/", url.Values{"url": {"https://host/b.igxc"}})
	require.NoError(t, err)
	id = decode[map[string]string](t, resp)["jobId"]
	job, _ = f.queue.Query(id)
	assert.Equal(t, "https://host/b.igxc", job.Args["url"])
	assert.Equal(t, 256, job.Args["resolution"])

	resp, err = http.Post(f.srv.URL+"/bakeUrl/", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestBakeDirect(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"object", `{"igxcContent": {"Objects": [], "Geometries": {}}, "basePath": "https://host/base/"}`, ""},
		{"json string", `{"igxcContent": "{\"Objects\": [], \"Geometries\": {}}"}`, ""},
		{"missing", `{"basePath": "x"}`, "No igxcContent found in POST request in bakeDirect/"},
		{"null string", `{"igxcContent": "null"}`, "No igxcContent found in POST request in bakeDirect/"},
		{"unparsable", `{"igxcContent": "{nope"}`, "igxcContent couldn't be parsed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			resp, err := http.Post(f.srv.URL+"/bakeDirect/", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			body := decode[map[string]string](t, resp)

			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, body["error"])
				assert.Len(t, f.queue.List(), 0)
				return
			}
			job, ok := f.queue.Query(body["jobId"])
			require.True(t, ok)
			content, ok := job.Args["igxcContent"].(map[string]any)
			require.True(t, ok, "content is decoded before enqueueing")
			assert.Contains(t, content, "Objects")
		})
	}
}

func TestPullState(t *testing.T) {
	f := newFixture(t, true)

	resp, err := http.Get(f.srv.URL + "/pullState/99")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"state": "undefined"}, decode[map[string]string](t, resp))

	id := f.queue.Enqueue(jobs.Args{"test": true})
	_, err = f.queue.Wait(context.Background(), id)
	require.NoError(t, err)

	resp, err = http.Get(f.srv.URL + "/pullState/" + id)
	require.NoError(t, err)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, id, body["jobId"])
	assert.Equal(t, "finished", body["state"])
	assert.Equal(t, "AO_test.png", body["urlAoMapImage"])
}

func TestPullAll(t *testing.T) {
	f := newFixture(t, false)
	f.queue.Enqueue(jobs.Args{})
	f.queue.Enqueue(jobs.Args{})

	resp, err := http.Get(f.srv.URL + "/pullAll/")
	require.NoError(t, err)
	all := decode[[]jobs.Job](t, resp)
	require.Len(t, all, 2)
	assert.Equal(t, "1", all[0].ID)
	assert.Equal(t, jobs.Pending, all[1].State)
}

func TestGetImage(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, os.WriteFile(filepath.Join(f.outDir, "AO_test.png"), []byte("png"), 0o644))

	resp, err := http.Get(f.srv.URL + "/getImage/1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	id := f.queue.Enqueue(jobs.Args{})
	_, err = f.queue.Wait(context.Background(), id)
	require.NoError(t, err)

	resp, err = http.Get(f.srv.URL + "/getImage/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetFile(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, os.WriteFile(filepath.Join(f.outDir, "AO_x.json"), []byte(`{}`), 0o644))

	resp, err := http.Get(f.srv.URL + "/getFile/AO_x.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "AO_x.json")

	missing, err := http.Get(f.srv.URL + "/getFile/nope.json")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestRemoveResults(t *testing.T) {
	f := newFixture(t, false)
	resp, err := http.Get(f.srv.URL + "/removeResults/")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"removed": 3}, decode[map[string]int](t, resp))
	assert.Equal(t, 1, f.cleaner.calls)
}

func TestPreflight(t *testing.T) {
	f := newFixture(t, false)
	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/bakeUrl/", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
	assert.Len(t, f.queue.List(), 0)
}

func TestWebSocketStream(t *testing.T) {
	f := newFixture(t, false)
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var initial []jobs.Job
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Empty(t, initial)

	id := f.queue.Enqueue(jobs.Args{})
	var snapshot []jobs.Job
	require.NoError(t, conn.ReadJSON(&snapshot))
	require.Len(t, snapshot, 1)
	assert.Equal(t, id, snapshot[0].ID)
}
