package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/domain/kgload"
)

const (
	DefaultHealthInterval = 2 * time.Second
	DefaultHealthTimeout  = 60 * time.Second
)

// HTTPHealth polls an HTTP endpoint until it answers 2xx.
type HTTPHealth struct {
	URL      string
	Interval time.Duration
	Client   *http.Client
}

func NewHTTPHealth(url string, interval time.Duration) *HTTPHealth {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	return &HTTPHealth{
		URL:      url,
		Interval: interval,
		Client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Probe performs a single health request.
func (h *HTTPHealth) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health endpoint returned %s", resp.Status)
	}
	return nil
}

// WaitHealthy polls every Interval until the endpoint is healthy or timeout
// elapses, in which case it returns *kgload.StartupTimeout.
func (h *HTTPHealth) WaitHealthy(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}
	ctx = logging.WithAttrs(ctx, slog.String("component", "lifecycle"), slog.String("stage", kgload.StageHealth))
	start := time.Now()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempts := 0
	_, err := backoff.Retry(waitCtx, func() (struct{}, error) {
		attempts++
		return struct{}{}, h.Probe(waitCtx)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(h.Interval)),
		backoff.WithMaxElapsedTime(timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			logging.Debug(ctx, "service not healthy yet", slog.String("url", h.URL), slog.String("err", err.Error()), slog.Duration("retry_in", next))
		}),
	)
	if err == nil {
		logging.Info(ctx, "service healthy", slog.String("url", h.URL), slog.Int("attempts", attempts), slog.Duration("waited", time.Since(start)))
		return nil
	}
	if parent := ctx.Err(); parent != nil {
		return parent
	}

	var lastErr error
	if !errors.Is(err, context.DeadlineExceeded) {
		lastErr = err
	}
	return kgload.AtStage(kgload.StageHealth, &kgload.StartupTimeout{Endpoint: h.URL, Waited: time.Since(start), LastErr: lastErr})
}
