package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/PixelDrop/internal/config"
	"github.com/dharsanguruparan/PixelDrop/internal/intake"
	"github.com/dharsanguruparan/PixelDrop/internal/model"
	"github.com/dharsanguruparan/PixelDrop/internal/queue"
	"github.com/dharsanguruparan/PixelDrop/internal/repository"
)

type fakeBatches struct {
	batches map[string]*repository.Batch
}

func (f *fakeBatches) Create(_ context.Context, b *repository.Batch) error {
	b.Status = repository.StatusQueued
	b.Total = len(b.Jobs)
	for i := range b.Jobs {
		b.Jobs[i].BatchID = b.ID
		b.Jobs[i].Position = i
		b.Jobs[i].Status = model.StatusPending
	}
	f.batches[b.ID] = b
	return nil
}

func (f *fakeBatches) Get(_ context.Context, id string) (*repository.Batch, error) {
	b, ok := f.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", id, repository.ErrNotFound)
	}
	return b, nil
}

func (f *fakeBatches) GetJob(_ context.Context, batchID, jobID string) (*repository.Job, error) {
	b, ok := f.batches[batchID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	for i := range b.Jobs {
		if b.Jobs[i].ID == jobID {
			return &b.Jobs[i], nil
		}
	}
	return nil, repository.ErrNotFound
}

type fakeObjects struct {
	raw map[string][]byte
}

func (f *fakeObjects) UploadRaw(_ context.Context, key string, data []byte, _ string) error {
	f.raw[key] = data
	return nil
}

func (f *fakeObjects) PresignProcessedURL(_ context.Context, key, name string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://s3.local/%s?name=%s&ttl=%d", key, name, int(ttl.Seconds())), nil
}

func newTestAPI(t *testing.T) (*httptest.Server, *fakeBatches, *fakeObjects, *[]queue.ConvertPayload) {
	t.Helper()
	cfg := &config.Config{
		MaxFileBytes:  1 << 20,
		DefaultFormat: model.FormatPNG,
		SignedURLTTL:  time.Minute,
	}
	batches := &fakeBatches{batches: map[string]*repository.Batch{}}
	objects := &fakeObjects{raw: map[string][]byte{}}
	var queued []queue.ConvertPayload
	enqueue := func(_ context.Context, p queue.ConvertPayload) error {
		queued = append(queued, p)
		return nil
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(cfg, batches, objects, enqueue, intake.New(intake.Options{}, logger), logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, batches, objects, &queued
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, name := range []string{"a.png", "notes.txt", "b.gif"} {
		ct, ok := files[name]
		if !ok {
			continue
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
		h.Set("Content-Type", ct)
		pw, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = pw.Write([]byte("bytes of " + name))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func TestUploadQueuesBatch(t *testing.T) {
	ts, batches, objects, queued := newTestAPI(t)
	body, ct := multipartBody(t, map[string]string{
		"a.png":     "image/png",
		"notes.txt": "text/plain",
		"b.gif":     "image/gif",
	})

	resp, err := http.Post(ts.URL+"/batches?format=webp", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Accepted int    `json:"accepted"`
		Rejected int    `json:"rejected"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "queued", out.Status)
	assert.Equal(t, 2, out.Accepted)
	assert.Equal(t, 1, out.Rejected)

	b := batches.batches[out.ID]
	require.NotNil(t, b)
	assert.Equal(t, model.FormatWEBP, b.TargetFormat)
	require.Len(t, b.Jobs, 2)
	assert.Equal(t, "a.png", b.Jobs[0].FileName)
	assert.Equal(t, "b.gif", b.Jobs[1].FileName)
	assert.Equal(t, []byte("bytes of a.png"), objects.raw[b.Jobs[0].ObjectKey])
	assert.Equal(t, []queue.ConvertPayload{{BatchID: out.ID}}, *queued)
}

func TestUploadWithoutImages(t *testing.T) {
	ts, _, _, queued := newTestAPI(t)
	body, ct := multipartBody(t, map[string]string{"notes.txt": "text/plain"})
	resp, err := http.Post(ts.URL+"/batches", ct, body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, *queued)
}

func TestUploadUnknownFormat(t *testing.T) {
	ts, _, _, _ := newTestAPI(t)
	body, ct := multipartBody(t, map[string]string{"a.png": "image/png"})
	resp, err := http.Post(ts.URL+"/batches?format=svg", ct, body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetBatchAndJobURL(t *testing.T) {
	ts, batches, _, _ := newTestAPI(t)
	out, key := "a.webp", "converted/b1/j1/a.webp"
	require.NoError(t, batches.Create(context.Background(), &repository.Batch{
		ID:           "b1",
		TargetFormat: model.FormatWEBP,
		Jobs:         []repository.Job{{ID: "j1", FileName: "a.png"}, {ID: "j2", FileName: "b.png"}},
	}))
	batches.batches["b1"].Jobs[0].Status = model.StatusSucceeded
	batches.batches["b1"].Jobs[0].OutputName = &out
	batches.batches["b1"].Jobs[0].ProcessedKey = &key

	resp, err := http.Get(ts.URL + "/batches/b1")
	require.NoError(t, err)
	var got repository.Batch
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	require.Len(t, got.Jobs, 2)
	assert.Equal(t, model.StatusSucceeded, got.Jobs[0].Status)

	resp, err = http.Get(ts.URL + "/batches/b1/jobs/j1/url")
	require.NoError(t, err)
	var u map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&u))
	resp.Body.Close()
	assert.True(t, strings.HasPrefix(u["url"], "https://s3.local/"+key))

	resp, err = http.Get(ts.URL + "/batches/b1/jobs/j2/url")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/batches/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEnqueueFailure(t *testing.T) {
	cfg := &config.Config{DefaultFormat: model.FormatPNG}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(cfg, &fakeBatches{batches: map[string]*repository.Batch{}}, &fakeObjects{raw: map[string][]byte{}},
		func(context.Context, queue.ConvertPayload) error { return errors.New("redis down") },
		intake.New(intake.Options{}, logger), logger)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body, ct := multipartBody(t, map[string]string{"a.png": "image/png"})
	resp, err := http.Post(ts.URL+"/batches", ct, body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
