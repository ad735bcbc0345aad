package heartbeat

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/hive-discover/clip-api/internal/metrics"
)

// Reporter pings an uptime monitor with the cycle latency. Errors are
// logged and counted, never returned.
type Reporter struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

// NewReporter creates a reporter. An empty url disables reporting.
func NewReporter(url string, timeout time.Duration, log zerolog.Logger) *Reporter {
	return &Reporter{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

func (r *Reporter) Report(ctx context.Context, elapsed time.Duration) {
	if r.url == "" {
		return
	}
	if err := r.send(ctx, elapsed); err != nil {
		metrics.HeartbeatFailures.Inc()
		r.log.Warn().Err(err).Msg("heartbeat failed")
	}
}

func (r *Reporter) send(ctx context.Context, elapsed time.Duration) error {
	target, err := pingURL(r.url, elapsed)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("monitor returned status %d", resp.StatusCode)
	}
	return nil
}

// pingURL appends msg=OK and the latency in whole milliseconds, rounded up.
func pingURL(base string, elapsed time.Duration) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid heartbeat url: %w", err)
	}
	ms := int64(math.Ceil(float64(elapsed) / float64(time.Millisecond)))
	q := u.Query()
	q.Set("msg", "OK")
	q.Set("ping", strconv.FormatInt(ms, 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
