// Package webhook notifies batch owners when their conversions finish.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelconvert/internal/id"
)

const (
	HeaderSignature = "X-Pixelconvert-Signature"
	HeaderTimestamp = "X-Pixelconvert-Timestamp"
	HeaderEvent     = "X-Pixelconvert-Event"
	// HeaderDelivery is stable across retries of one event so receivers
	// can drop duplicates.
	HeaderDelivery = "X-Pixelconvert-Delivery"

	EventBatchCompleted = "batch.completed"
)

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	httpClient *http.Client
	secret     string
	attempts   int
	backoff    time.Duration
	maxBackoff time.Duration
	now        func() time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		secret:     cfg.SigningSecret,
		attempts:   max(1, cfg.MaxAttempts),
		backoff:    cfg.InitialBackoff,
		maxBackoff: max(cfg.MaxBackoff, cfg.InitialBackoff),
		now:        time.Now,
	}
}

// errPermanent marks receiver answers that a retry cannot change.
var errPermanent = errors.New("permanent webhook rejection")

// delivery is one signed event, posted up to Client.attempts times.
type delivery struct {
	id        string
	event     string
	timestamp string
	signature string
	body      []byte
}

// Send posts payload as a signed event. An empty endpoint is a no-op.
func (c *Client) Send(ctx context.Context, endpoint, event string, payload any) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	ts := strconv.FormatInt(c.now().UTC().Unix(), 10)
	d := delivery{
		id:        id.New(),
		event:     event,
		timestamp: ts,
		signature: Sign(c.secret, ts, body),
		body:      body,
	}

	wait := c.backoff
	for attempt := 1; ; attempt++ {
		err = c.post(ctx, endpoint, d)
		if err == nil {
			return nil
		}
		if errors.Is(err, errPermanent) || attempt >= c.attempts {
			return fmt.Errorf("deliver %s %s after %d attempt(s): %w", event, d.id, attempt, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait = min(wait*2, c.maxBackoff)
	}
}

func (c *Client) post(ctx context.Context, endpoint string, d delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(d.body))
	if err != nil {
		return fmt.Errorf("build request: %w: %w", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, d.event)
	req.Header.Set(HeaderDelivery, d.id)
	req.Header.Set(HeaderTimestamp, d.timestamp)
	req.Header.Set(HeaderSignature, d.signature)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return fmt.Errorf("receiver answered %d", code)
	default:
		return fmt.Errorf("%w: receiver answered %d", errPermanent, code)
	}
}

// Sign returns the signature header value over "timestamp.body".
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify is the receiver-side check for Sign.
func Verify(secret, timestamp string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}
