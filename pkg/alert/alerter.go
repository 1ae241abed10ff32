// Package alert sends operator alerts for faucet anomalies that cannot be recovered locally,
// such as a claim that moved funds on-chain without a local record.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/logger"
)

// Severity represents alert severity levels
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert represents an alert message
type Alert struct {
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Severity    Severity          `json:"severity"`
	Source      string            `json:"source"`
	Environment string            `json:"environment"`
	Tags        map[string]string `json:"tags,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Alerter is the interface for sending alerts
type Alerter interface {
	Send(ctx context.Context, alert *Alert) error
	// SendAsync queues the alert; it never blocks the caller
	SendAsync(alert *Alert)
	Close()
}

// Config holds alerter configuration
type Config struct {
	Enabled            bool          `yaml:"enabled"`
	Environment        string        `yaml:"environment"`
	ServiceName        string        `yaml:"service_name"`
	WebhookURL         string        `yaml:"webhook_url"`
	WebhookType        string        `yaml:"webhook_type"` // dingtalk, generic
	WebhookTimeout     time.Duration `yaml:"webhook_timeout"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
}

type webhookAlerter struct {
	cfg    *Config
	client *http.Client

	mu          sync.Mutex
	alertCount  int
	windowStart time.Time

	queue  chan *Alert
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewAlerter creates a webhook alerter, or a no-op one when alerting is disabled
func NewAlerter(cfg *Config) Alerter {
	if cfg == nil || !cfg.Enabled || cfg.WebhookURL == "" {
		return NoopAlerter{}
	}

	timeout := cfg.WebhookTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	a := &webhookAlerter{
		cfg:         cfg,
		client:      &http.Client{Timeout: timeout},
		windowStart: time.Now(),
		queue:       make(chan *Alert, 100),
		stopCh:      make(chan struct{}),
	}
	a.wg.Add(1)
	go a.worker()
	return a
}

func (a *webhookAlerter) stamp(alert *Alert) {
	alert.Source = a.cfg.ServiceName
	alert.Environment = a.cfg.Environment
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
}

func (a *webhookAlerter) Send(ctx context.Context, alert *Alert) error {
	if !a.allow() {
		logger.Warn("alert rate limited",
			zap.String("title", alert.Title),
			zap.String("severity", string(alert.Severity)))
		return nil
	}
	a.stamp(alert)
	return a.post(ctx, alert)
}

func (a *webhookAlerter) SendAsync(alert *Alert) {
	a.stamp(alert)
	select {
	case a.queue <- alert:
	default:
		logger.Warn("alert queue full, dropping alert", zap.String("title", alert.Title))
	}
}

func (a *webhookAlerter) worker() {
	defer a.wg.Done()
	for {
		select {
		case <-a.stopCh:
			return
		case alert := <-a.queue:
			if !a.allow() {
				continue
			}
			if err := a.post(context.Background(), alert); err != nil {
				logger.Error("async alert send failed",
					zap.String("title", alert.Title),
					zap.Error(err))
			}
		}
	}
}

// allow 每分钟限流
func (a *webhookAlerter) allow() bool {
	if a.cfg.RateLimitPerMinute <= 0 {
		return true
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	if now.Sub(a.windowStart) > time.Minute {
		a.windowStart = now
		a.alertCount = 0
	}
	if a.alertCount >= a.cfg.RateLimitPerMinute {
		return false
	}
	a.alertCount++
	return true
}

func (a *webhookAlerter) post(ctx context.Context, alert *Alert) error {
	var (
		payload []byte
		err     error
	)
	if a.cfg.WebhookType == "dingtalk" {
		payload, err = formatDingTalk(alert)
	} else {
		payload, err = json.Marshal(alert)
	}
	if err != nil {
		return fmt.Errorf("format alert failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func formatDingTalk(alert *Alert) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "### [%s] %s\n\n**环境**: %s\n**服务**: %s\n**时间**: %s\n\n%s",
		strings.ToUpper(string(alert.Severity)), alert.Title,
		alert.Environment, alert.Source,
		alert.Timestamp.Format("2006-01-02 15:04:05"),
		alert.Message)

	if len(alert.Tags) > 0 {
		keys := make([]string, 0, len(alert.Tags))
		for k := range alert.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n\n**标签**:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, alert.Tags[k])
		}
	}

	return json.Marshal(map[string]interface{}{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": alert.Title,
			"text":  b.String(),
		},
	})
}

// Close stops the async worker; queued alerts not yet sent are dropped
func (a *webhookAlerter) Close() {
	a.once.Do(func() {
		close(a.stopCh)
		a.wg.Wait()
	})
}

// NoopAlerter is used when alerting is disabled
type NoopAlerter struct{}

func (NoopAlerter) Send(context.Context, *Alert) error { return nil }
func (NoopAlerter) SendAsync(*Alert)                   {}
func (NoopAlerter) Close()                             {}
