// Package video содержит клиент внешнего сервиса генерации видео.
package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Client представляет клиент сервиса генерации видео
type Client struct {
	baseURL    string
	httpClient *http.Client
	tempDir    string
	logger     *zap.Logger
	mu         sync.Mutex
	// Метрики
	requestCount    int64
	successCount    int64
	errorCount      int64
	lastRequestTime time.Time
}

// Config конфигурация клиента
type Config struct {
	BaseURL string
	Timeout time.Duration
	// TempDir каталог для скачанных роликов; пустой означает os.TempDir
	TempDir string
}

// Request описание ролика для одной пары (задача, язык)
type Request struct {
	TaskID             int64    `json:"task_id"`
	TranslationGroupID string   `json:"translation_group_id"`
	Language           string   `json:"language"`
	Question           string   `json:"question"`
	Answers            []string `json:"answers"`
	CorrectAnswer      string   `json:"correct_answer"`
	Explanation        string   `json:"explanation,omitempty"`
	ImageURL           string   `json:"image_url,omitempty"`
}

// NewClient создает новый клиент видео сервиса
func NewClient(config Config, logger *zap.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Minute
	}
	return &Client{
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		tempDir: config.TempDir,
		logger:  logger,
	}
}

// Generate запрашивает ролик и сохраняет его во временный файл.
// Удаление файла остается за вызывающей стороной.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	c.mu.Lock()
	c.requestCount++
	c.lastRequestTime = time.Now()
	c.mu.Unlock()

	path, err := c.generate(ctx, req)
	if err != nil {
		c.incrementError()
		return "", err
	}
	c.incrementSuccess()
	return path, nil
}

func (c *Client) generate(ctx context.Context, req Request) (string, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "video/mp4")

	c.logger.Info("Requesting video generation",
		zap.Int64("task_id", req.TaskID),
		zap.String("language", req.Language))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("video service returned status %d: %s", resp.StatusCode, string(body))
	}

	f, err := os.CreateTemp(c.tempDir, fmt.Sprintf("task-%d-%s-*.mp4", req.TaskID, req.Language))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	written, err := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to save video: %w", err)
	}
	if written == 0 {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("video service returned empty body")
	}

	c.logger.Info("Video generated",
		zap.Int64("task_id", req.TaskID),
		zap.String("language", req.Language),
		zap.Int64("bytes", written))
	return f.Name(), nil
}

// GetMetrics возвращает метрики клиента
func (c *Client) GetMetrics() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	return map[string]interface{}{
		"total_requests":      c.requestCount,
		"successful_requests": c.successCount,
		"failed_requests":     c.errorCount,
		"last_request_time":   c.lastRequestTime,
	}
}

func (c *Client) incrementSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successCount++
}

func (c *Client) incrementError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorCount++
}
