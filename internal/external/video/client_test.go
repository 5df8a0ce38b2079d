package video

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGenerate(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("mp4-bytes"))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, TempDir: t.TempDir()}, zap.NewNop())
	path, err := c.Generate(context.Background(), Request{TaskID: 3, Language: "ru", Question: "q"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "mp4-bytes", string(data))
	assert.Equal(t, int64(3), got.TaskID)
	assert.Equal(t, "ru", got.Language)

	metrics := c.GetMetrics()
	assert.Equal(t, int64(1), metrics["successful_requests"])
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "Ошибка сервиса",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name:    "Пустой ответ",
			handler: func(w http.ResponseWriter, _ *http.Request) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			dir := t.TempDir()
			c := NewClient(Config{BaseURL: srv.URL, TempDir: dir}, zap.NewNop())
			_, err := c.Generate(context.Background(), Request{TaskID: 1, Language: "en"})
			require.Error(t, err)

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries)
			assert.Equal(t, int64(1), c.GetMetrics()["failed_requests"])
		})
	}
}
