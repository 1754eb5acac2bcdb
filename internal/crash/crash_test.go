package crash

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirSink_Report(t *testing.T) {
	dir := t.TempDir()
	sink := NewDirSink(dir, zerolog.Nop())

	id, err := sink.Report(context.Background(), Report{
		Host:    "web01",
		Service: "CPU load",
		Plugin:  "cpu_loads",
		Params:  map[string]any{"levels": []any{5.0, 10.0}},
		Error:   "division by zero",
	})
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err, "crash id should be a UUID")

	data, err := os.ReadFile(filepath.Join(dir, id, "crash.json"))
	require.NoError(t, err)
	var stored Report
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, id, stored.ID)
	assert.Equal(t, "web01", stored.Host)
	assert.Equal(t, "division by zero", stored.Error)
	assert.False(t, stored.Time.IsZero())
}

func TestOutput(t *testing.T) {
	assert.Equal(t, "check failed - please submit a crash report! (Crash-ID: abc)", Output("abc"))
	assert.Contains(t, FailedOutput(errors.New("disk full")), "disk full")
}

func TestObjectSink_Report(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusNotImplemented)
			return
		}
		mu.Lock()
		path = r.URL.Path
		body, _ = io.ReadAll(r.Body)
		mu.Unlock()
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink, err := NewObjectSink(ObjectConfig{
		Endpoint:        strings.TrimPrefix(server.URL, "http://"),
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		BucketName:      "crashes",
		Region:          "us-east-1",
	}, zerolog.Nop())
	require.NoError(t, err)

	id, err := sink.Report(context.Background(), Report{ID: "fixed-id", Host: "web01", Error: "boom"})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", id)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/crashes/crashes/fixed-id.json", path)
	assert.Contains(t, string(body), `"error": "boom"`)
}

type failingSink struct{ calls int }

func (f *failingSink) Report(context.Context, Report) (string, error) {
	f.calls++
	return "", errors.New("unavailable")
}

func TestTee_SecondaryFailureIsIgnored(t *testing.T) {
	dir := t.TempDir()
	secondary := &failingSink{}
	tee := NewTee(zerolog.Nop(), NewDirSink(dir, zerolog.Nop()), secondary)

	id, err := tee.Report(context.Background(), Report{Host: "h"})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, id, "crash.json"))
	assert.Equal(t, 1, secondary.calls)

	_, err = NewTee(zerolog.Nop(), secondary).Report(context.Background(), Report{})
	assert.Error(t, err)
}
