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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/nanoledger/app/apikey"
	"github.com/umputun/nanoledger/app/common"
	"github.com/umputun/nanoledger/app/jobs"
	"github.com/umputun/nanoledger/app/store"
	"github.com/umputun/nanoledger/app/store/enums"
	"github.com/umputun/nanoledger/app/uploads"
)

func TestServer_Jobs(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.routes()

	w := request(t, h, "POST", "/api/v1/jobs/text-to-image",
		`{"prompts":["a cat","a dog"],"output_size":"2K","temperature":0.7,"aspect_ratio":"16:9"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var created jobs.JobWithItems
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	assert.Equal(t, enums.ModeTextToImage, created.Job.Mode)
	assert.Equal(t, enums.JobStatusPending, created.Job.Status)
	assert.Equal(t, 2, created.Job.TotalItems)
	assert.Equal(t, "2K", created.Job.OutputSize)
	require.Len(t, created.Items, 2)

	w = request(t, h, "POST", "/api/v1/jobs/image-to-image",
		`{"prompt":"blue","image_paths":["/x/1.png"],"output_size":"1K","temperature":1,"aspect_ratio":"1:1"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = request(t, h, "GET", "/api/v1/jobs", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []jobs.Job
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list, 2)
	assert.Equal(t, enums.ModeImageToImage, list[0].Mode, "newest first")

	w = request(t, h, "GET", "/api/v1/jobs/"+created.Job.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var got jobs.JobWithItems
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, created.Job.ID, got.Job.ID)
	assert.Len(t, got.Items, 2)

	// raw json keeps snake case and nulls
	w = request(t, h, "GET", "/api/v1/jobs/"+created.Job.ID, "")
	assert.Contains(t, w.Body.String(), `"batch_job_name":null`)
	assert.Contains(t, w.Body.String(), `"status":"pending"`)

	w = request(t, h, "DELETE", "/api/v1/jobs/"+created.Job.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = request(t, h, "DELETE", "/api/v1/jobs/"+created.Job.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code, "idempotent")

	w = request(t, h, "GET", "/api/v1/jobs/"+created.Job.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	errResp := decodeError(t, w)
	assert.Equal(t, common.KindNotFound, errResp.Kind)
	assert.Contains(t, errResp.Error, created.Job.ID)
}

func TestServer_CreateValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.routes()

	tests := []struct {
		name, path, body, msg string
	}{
		{"no prompts", "/api/v1/jobs/text-to-image", `{"prompts":[],"output_size":"1K","aspect_ratio":"1:1"}`,
			"at least one prompt"},
		{"bad size", "/api/v1/jobs/text-to-image", `{"prompts":["a"],"output_size":"3K","aspect_ratio":"1:1"}`,
			"output size"},
		{"no images", "/api/v1/jobs/image-to-image", `{"prompt":"x","output_size":"1K","aspect_ratio":"1:1"}`,
			"at least one image"},
		{"bad json", "/api/v1/jobs/text-to-image", `{"prompts":`, "can't decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := request(t, h, "POST", tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, common.KindValidation, resp.Kind)
			assert.Contains(t, resp.Error, tt.msg)
		})
	}

	w := request(t, h, "GET", "/api/v1/jobs", "")
	var list []jobs.Job
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Empty(t, list, "nothing created")
}

func TestServer_ListFilter(t *testing.T) {
	srv, repo := newTestServer(t)
	h := srv.routes()
	ctx := t.Context()

	done, err := repo.CreateTextToImage(ctx, jobs.TextToImageRequest{Prompts: []string{"a"}, Params: testParams})
	require.NoError(t, err)
	active, err := repo.CreateTextToImage(ctx, jobs.TextToImageRequest{Prompts: []string{"b"}, Params: testParams})
	require.NoError(t, err)

	item := done.Items[0].ID
	w := request(t, h, "POST", "/api/v1/items/"+item+"/transition", `{"status":"processing"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = request(t, h, "POST", "/api/v1/items/"+item+"/transition", `{"status":"failed","error":"boom"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = request(t, h, "GET", "/api/v1/jobs?filter=active", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []jobs.Job
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, active.Job.ID, list[0].ID)

	w = request(t, h, "GET", "/api/v1/jobs?filter=all", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Len(t, list, 2)

	w = request(t, h, "GET", "/api/v1/jobs?filter=weird", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_ItemLifecycle(t *testing.T) {
	srv, repo := newTestServer(t)
	h := srv.routes()
	ctx := t.Context()

	res, err := repo.CreateTextToImage(ctx, jobs.TextToImageRequest{Prompts: []string{"a", "b"}, Params: testParams})
	require.NoError(t, err)

	w := request(t, h, "GET", "/api/v1/items/pending?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var pending []jobs.JobItem
	require.NoError(t, json.NewDecoder(w.Body).Decode(&pending))
	require.Len(t, pending, 1)
	assert.Equal(t, res.Items[0].ID, pending[0].ID)

	w = request(t, h, "GET", "/api/v1/items/pending?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// skipping processing is rejected
	w = request(t, h, "POST", "/api/v1/items/"+res.Items[0].ID+"/transition",
		`{"status":"completed","output_image_path":"/r/a.png"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w).Error, "invalid status transition")

	w = request(t, h, "POST", "/api/v1/items/"+res.Items[0].ID+"/transition", `{"status":"cancelled"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = request(t, h, "POST", "/api/v1/items/missing/transition", `{"status":"processing"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	name := "batches/42"
	w = request(t, h, "PUT", "/api/v1/jobs/"+res.Job.ID+"/batch", `{"batch_job_name":"`+name+`","batch_temp_file":null}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var job jobs.Job
	require.NoError(t, json.NewDecoder(w.Body).Decode(&job))
	require.NotNil(t, job.BatchJobName)
	assert.Equal(t, name, *job.BatchJobName)
	assert.Nil(t, job.BatchTempFile)

	w = request(t, h, "POST", "/api/v1/jobs/"+res.Job.ID+"/recompute", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&job))
	assert.Equal(t, enums.JobStatusPending, job.Status)

	w = request(t, h, "POST", "/api/v1/jobs/missing/recompute", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Config(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.routes()

	w := request(t, h, "GET", "/api/v1/config", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"has_key":false,"masked":null}`, w.Body.String())

	w = request(t, h, "PUT", "/api/v1/config", `{"key":"sk-wrong-format"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, common.KindValidation, resp.Kind)
	assert.NotContains(t, resp.Error, "sk-wrong-format")

	w = request(t, h, "PUT", "/api/v1/config", `{"key":"AIzaSy1234567890"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"has_key":true,"masked":"AI...890"}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "AIzaSy1234567890")

	w = request(t, h, "DELETE", "/api/v1/config", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = request(t, h, "GET", "/api/v1/config", "")
	assert.JSONEq(t, `{"has_key":false,"masked":null}`, w.Body.String())
}

func TestServer_Uploads(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.routes()

	src := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(src, []byte("jpeg data"), 0o600))
	body, err := json.Marshal(UploadRequest{Paths: []string{src}})
	require.NoError(t, err)

	w := request(t, h, "POST", "/api/v1/uploads", string(body))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var files []uploads.File
	require.NoError(t, json.NewDecoder(w.Body).Decode(&files))
	require.Len(t, files, 1)
	assert.Equal(t, "photo.jpg", files[0].Name)

	w = request(t, h, "GET", "/api/v1/image?path="+url.QueryEscape(files[0].Path), "")
	require.Equal(t, http.StatusOK, w.Code)
	var img ImageResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&img))
	assert.Equal(t, "data:image/jpeg;base64,anBlZyBkYXRh", img.DataURL)

	w = request(t, h, "DELETE", "/api/v1/uploads?path="+url.QueryEscape(src), "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, common.KindPermission, decodeError(t, w).Kind)

	w = request(t, h, "DELETE", "/api/v1/uploads?path="+url.QueryEscape(files[0].Path), "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = request(t, h, "GET", "/api/v1/image?path="+url.QueryEscape(files[0].Path), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = request(t, h, "DELETE", "/api/v1/uploads", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = request(t, h, "GET", "/api/v1/image", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_UploadRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.routes()

	bmp := filepath.Join(t.TempDir(), "photo.bmp")
	require.NoError(t, os.WriteFile(bmp, []byte("bmp"), 0o600))
	body, err := json.Marshal(UploadRequest{Paths: []string{bmp}})
	require.NoError(t, err)

	w := request(t, h, "POST", "/api/v1/uploads", string(body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, common.KindValidation, resp.Kind)
	assert.Contains(t, resp.Error, "bmp")
}

func TestServer_UploadRateLimit(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.routes()

	limited := false
	for range 20 {
		w := request(t, h, "POST", "/api/v1/uploads", `{"paths":[]}`)
		if w.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
		require.Equal(t, http.StatusCreated, w.Code)
	}
	require.True(t, limited)

	w := request(t, h, "POST", "/api/v1/uploads", `{"paths":[]}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	resp := decodeError(t, w)
	assert.Equal(t, common.KindRateLimit, resp.Kind)
	assert.Equal(t, "too many upload requests", resp.Error)
}

func TestServer_CrossOrigin(t *testing.T) {
	srv, repo := newTestServer(t)
	h := srv.routes()

	tests := []struct {
		name    string
		method  string
		target  string
		body    string
		headers map[string]string
		want    int
	}{
		{name: "cross-site create", method: "POST", target: "/api/v1/jobs/text-to-image",
			body:    `{"prompts":["a cat"],"output_size":"1K","temperature":1,"aspect_ratio":"1:1"}`,
			headers: map[string]string{"Content-Type": "text/plain", "Origin": "https://evil.example", "Sec-Fetch-Site": "cross-site"},
			want:    http.StatusForbidden},
		{name: "cross-site upload", method: "POST", target: "/api/v1/uploads", body: `{"paths":[]}`,
			headers: map[string]string{"Sec-Fetch-Site": "cross-site"}, want: http.StatusForbidden},
		{name: "cross-site transition", method: "POST", target: "/api/v1/items/some-id/transition",
			body: `{"status":"processing"}`, headers: map[string]string{"Sec-Fetch-Site": "cross-site"},
			want: http.StatusForbidden},
		{name: "cross-site key delete", method: "DELETE", target: "/api/v1/config",
			headers: map[string]string{"Sec-Fetch-Site": "cross-site"}, want: http.StatusForbidden},
		{name: "foreign origin without fetch metadata", method: "PUT", target: "/api/v1/config",
			body: `{"key":"AIzaSy1234567890"}`, headers: map[string]string{"Origin": "https://evil.example"},
			want: http.StatusForbidden},
		{name: "cross-site read", method: "GET", target: "/api/v1/jobs",
			headers: map[string]string{"Sec-Fetch-Site": "cross-site"}, want: http.StatusOK},
		{name: "same-origin create", method: "POST", target: "/api/v1/jobs/text-to-image",
			body:    `{"prompts":["a dog"],"output_size":"1K","temperature":1,"aspect_ratio":"1:1"}`,
			headers: map[string]string{"Sec-Fetch-Site": "same-origin"}, want: http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			require.Equal(t, tt.want, w.Code, w.Body.String())
			if tt.want == http.StatusForbidden {
				assert.Equal(t, common.KindPermission, decodeError(t, w).Kind)
			}
		})
	}

	list, err := repo.List(t.Context(), enums.FilterAll)
	require.NoError(t, err)
	require.Len(t, list, 1, "only the same-origin job is created")
	assert.Equal(t, "a dog", list[0].Prompt)
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t)
	w := request(t, srv.routes(), "GET", "/api/v1/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
	require.NotNil(t, resp.Disk)
	assert.Positive(t, resp.Disk.Total)
	assert.WithinDuration(t, time.Now(), resp.Timestamp, 5*time.Second)
}

func TestServer_Schema(t *testing.T) {
	srv, _ := newTestServer(t)
	w := request(t, srv.routes(), "GET", "/api/v1/schema", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "nanoledger bridge records")
	assert.Contains(t, body, `"enum":["pending","processing","completed","failed","partial"]`)
	assert.Contains(t, body, `"enum":["text-to-image","image-to-image"]`)
	assert.Contains(t, body, `"batch_temp_file"`)
	assert.Contains(t, body, `"output_size"`)
}

func TestServer_Ping(t *testing.T) {
	srv, _ := newTestServer(t)
	w := request(t, srv.routes(), "GET", "/ping", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
	assert.Equal(t, "nanoledger", w.Header().Get("App-Name"))
}

func TestServer_Run(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, srv.Run(ctx, "127.0.0.1:0"))
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		kind common.Kind
		want int
	}{
		{common.KindNotFound, http.StatusNotFound},
		{common.KindValidation, http.StatusBadRequest},
		{common.KindPermission, http.StatusForbidden},
		{common.KindLock, http.StatusServiceUnavailable},
		{common.KindStorage, http.StatusInternalServerError},
		{common.KindIO, http.StatusInternalServerError},
		{common.KindUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCode(tt.kind), tt.kind)
	}
}

var testParams = jobs.Params{OutputSize: "1K", Temperature: 1, AspectRatio: "1:1"}

func newTestServer(t *testing.T) (*Server, *jobs.Repository) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	up, err := uploads.New(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	repo := jobs.New(st)
	srv, err := New(Config{Jobs: repo, Keys: apikey.New(st), Uploads: up, DataDir: dir, Version: "test", UploadRate: 1})
	require.NoError(t, err)
	return srv, repo
}

func request(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}
