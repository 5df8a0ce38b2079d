package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"codequiz/internal/model"
	"codequiz/internal/retry"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Заголовки запросов
const (
	HeaderRequestID = "X-Request-ID"
	HeaderBatch     = "X-Webhook-Batch"
	HeaderSequence  = "X-Webhook-Sequence"
	HeaderLanguage  = "X-Webhook-Language"
)

// Config параметры рассылки
type Config struct {
	Timeout        time.Duration
	Retries        int
	RetryBaseDelay time.Duration
	// PauseMin и PauseMax задают случайную паузу между элементами одного получателя
	PauseMin time.Duration
	PauseMax time.Duration
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		Timeout:        10 * time.Second,
		Retries:        3,
		RetryBaseDelay: 5 * time.Second,
		PauseMin:       2 * time.Second,
		PauseMax:       4 * time.Second,
	}
}

// Item один запрос к получателю
type Item struct {
	Body     any
	Language string
	TaskIDs  []int64
}

// Destination получатель и его очередь элементов
type Destination struct {
	Webhook model.Webhook
	Items   []Item
}

// Result итог отправки одного элемента одному получателю
type Result struct {
	WebhookID   uuid.UUID `json:"webhook_id"`
	ServiceName string    `json:"service_name"`
	URL         string    `json:"url"`
	Sequence    int       `json:"sequence"`
	TaskIDs     []int64   `json:"task_ids"`
	OK          bool      `json:"ok"`
	Skipped     bool      `json:"skipped"`
	Attempts    int       `json:"attempts"`
	Err         error     `json:"-"`
}

// Summary итог рассылки
type Summary struct {
	BatchID            uuid.UUID `json:"batch_id"`
	Destinations       int       `json:"destinations"`
	Sent               int       `json:"sent"`
	Failed             int       `json:"failed"`
	Skipped            int       `json:"skipped"`
	FailedDestinations []string  `json:"failed_destinations,omitempty"`
	Results            []Result  `json:"results"`
}

// OK сообщает, что все элементы доставлены
func (s *Summary) OK() bool {
	return s.Failed == 0 && s.Skipped == 0
}

// Dispatcher рассылает payload по вебхукам: параллельно между получателями,
// последовательно внутри получателя
type Dispatcher struct {
	client *http.Client
	cfg    Config
	logger *zap.Logger
	pause  func(ctx context.Context, d time.Duration) error
}

// NewDispatcher создает рассыльщик
func NewDispatcher(cfg Config, logger *zap.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = def.Retries
	}
	if cfg.RetryBaseDelay < 0 {
		cfg.RetryBaseDelay = 0
	}
	if cfg.PauseMax < cfg.PauseMin {
		cfg.PauseMax = cfg.PauseMin
	}
	return &Dispatcher{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		logger: logger,
		pause:  sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *Dispatcher) pauseDuration() time.Duration {
	spread := d.cfg.PauseMax - d.cfg.PauseMin
	if spread <= 0 {
		return d.cfg.PauseMin
	}
	return d.cfg.PauseMin + time.Duration(rand.Int64N(int64(spread)))
}

// Dispatch отправляет все элементы плана. Сбой получателя не влияет на остальных.
func (d *Dispatcher) Dispatch(ctx context.Context, plan []Destination) *Summary {
	summary := &Summary{
		BatchID:      uuid.New(),
		Destinations: len(plan),
	}
	perDest := make([][]Result, len(plan))

	var g errgroup.Group
	for i := range plan {
		g.Go(func() error {
			perDest[i] = d.deliver(ctx, summary.BatchID, plan[i])
			return nil
		})
	}
	_ = g.Wait()

	for i, results := range perDest {
		failed := false
		for _, r := range results {
			switch {
			case r.OK:
				summary.Sent++
			case r.Skipped:
				summary.Skipped++
			default:
				summary.Failed++
				failed = true
			}
		}
		if failed {
			summary.FailedDestinations = append(summary.FailedDestinations, plan[i].Webhook.URL)
		}
		summary.Results = append(summary.Results, results...)
	}

	d.logger.Info("Webhook dispatch completed",
		zap.String("batch_id", summary.BatchID.String()),
		zap.Int("destinations", summary.Destinations),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped))
	return summary
}

func (d *Dispatcher) deliver(ctx context.Context, batchID uuid.UUID, dest Destination) []Result {
	hook := dest.Webhook
	total := len(dest.Items)
	results := make([]Result, 0, total)
	circuitOpen := false

	for i, item := range dest.Items {
		res := Result{
			WebhookID:   hook.ID,
			ServiceName: hook.ServiceName,
			URL:         hook.URL,
			Sequence:    i + 1,
			TaskIDs:     item.TaskIDs,
		}

		if circuitOpen {
			res.Skipped = true
			results = append(results, res)
			continue
		}

		if i > 0 {
			if err := d.pause(ctx, d.pauseDuration()); err != nil {
				res.Skipped = true
				res.Err = err
				results = append(results, res)
				circuitOpen = true
				continue
			}
		}

		res.Attempts, res.Err = d.post(ctx, batchID, hook, item, i+1, total)
		if res.Err != nil {
			circuitOpen = true
			d.logger.Error("Webhook destination failed, skipping rest of batch",
				zap.String("service", hook.ServiceName),
				zap.String("url", hook.URL),
				zap.Int("sequence", i+1),
				zap.Int("remaining", total-i-1),
				zap.Error(res.Err))
		} else {
			res.OK = true
		}
		results = append(results, res)
	}
	return results
}

func (d *Dispatcher) post(ctx context.Context, batchID uuid.UUID, hook model.Webhook, item Item, seq, total int) (int, error) {
	body, err := json.Marshal(item.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal payload: %w", err)
	}

	policy := retry.Config{
		MaxAttempts:  d.cfg.Retries,
		InitialDelay: d.cfg.RetryBaseDelay,
		Backoff:      retry.Linear,
	}

	attempts := 0
	err = retry.Do(ctx, d.logger, policy, func(ctx context.Context, attempt int) error {
		attempts = attempt
		err := d.send(ctx, batchID, hook, item, body, seq, total)
		if err != nil {
			d.logger.Warn("Webhook request failed",
				zap.String("service", hook.ServiceName),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", d.cfg.Retries),
				zap.Error(err))
		}
		return err
	})
	if err != nil {
		return attempts, &model.Error{Kind: model.KindWebhookTransportFailed, Op: "webhook " + hook.ServiceName, Err: err}
	}
	return attempts, nil
}

func (d *Dispatcher) send(ctx context.Context, batchID uuid.UUID, hook model.Webhook, item Item, body []byte, seq, total int) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRequestID, uuid.NewString())
	req.Header.Set(HeaderBatch, batchID.String())
	req.Header.Set(HeaderSequence, strconv.Itoa(seq)+"/"+strconv.Itoa(total))
	if item.Language != "" {
		req.Header.Set(HeaderLanguage, item.Language)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		if err := resp.Body.Close(); err != nil {
			d.logger.Warn("Failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &model.Error{
			Kind: model.KindWebhookTransportFailed,
			Op:   "webhook " + hook.ServiceName,
			Code: strconv.Itoa(resp.StatusCode),
			Err:  fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	return nil
}
