package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/presencekit/presenced/internal/models"
)

const (
	defaultSignatureHeader = "X-Presence-Signature"
	defaultWebhookTimeout  = 3 * time.Second
	defaultWebhookRetries  = 1
	retryInterval          = 250 * time.Millisecond
)

// SendOn gates webhook delivery per event kind. Away is accepted for
// config compatibility but no code path delivers it: away is a read-time
// classification, never a transition the engine emits.
type SendOn struct {
	Online    bool
	Offline   bool
	Heartbeat bool
	Away      bool
}

// DefaultSendOn matches the shipped defaults: everything but heartbeat.
func DefaultSendOn() SendOn {
	return SendOn{Online: true, Offline: true, Heartbeat: false, Away: true}
}

// WebhookOptions configures signed outbound delivery. Zero values fall back
// to the defaults noted per field.
type WebhookOptions struct {
	URL             string
	Secret          string
	Timeout         time.Duration     // per-attempt timeout, default 3s
	Retries         int               // extra attempts after the first, default 1
	SignatureHeader string            // default X-Presence-Signature
	Algo            string            // sha1, sha256 or sha512, default sha256
	SendOn          SendOn
	Headers         map[string]string // extra static headers
}

// WebhookNotifier wraps a local notifier: every transition is published to
// the bus first, then POSTed to the configured URL with an HMAC signature,
// gated per event kind. Delivery is bounded by timeout x (retries + 1) plus
// a fixed 250ms pause between attempts.
type WebhookNotifier struct {
	next   Notifier
	opts   WebhookOptions
	client *http.Client
	clock  Clock
	logger zerolog.Logger
}

func NewWebhookNotifier(next Notifier, opts WebhookOptions, clock Clock, logger zerolog.Logger) *WebhookNotifier {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultWebhookTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = defaultWebhookRetries
	}
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = defaultSignatureHeader
	}
	if opts.Algo == "" {
		opts.Algo = "sha256"
	}
	return &WebhookNotifier{
		next:   next,
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		clock:  clock,
		logger: logger.With().Str("component", "webhook").Logger(),
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, event models.TransitionEvent) error {
	if err := n.next.Notify(ctx, event); err != nil {
		return err
	}
	if !n.enabled(event) {
		return nil
	}
	return n.deliver(ctx, event)
}

// enabled maps transitions onto wire kinds: came_online and updated(online)
// both deliver as "online"; the came-online distinction is local-only.
func (n *WebhookNotifier) enabled(event models.TransitionEvent) bool {
	switch event.Kind {
	case models.EventCameOnline:
		return n.opts.SendOn.Online
	case models.EventWentOffline:
		return n.opts.SendOn.Offline
	case models.EventUpdated:
		if event.Update == models.UpdateHeartbeat {
			return n.opts.SendOn.Heartbeat
		}
		return n.opts.SendOn.Online
	}
	return false
}

func (n *WebhookNotifier) deliver(ctx context.Context, event models.TransitionEvent) error {
	payload := webhookPayload{
		UserID:     string(event.UserID),
		OccurredAt: event.OccurredAt.Format(time.RFC3339),
		Meta:       event.Meta,
	}
	body, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	timestamp := strconv.FormatInt(n.clock.Now().Unix(), 10)
	signature, err := n.sign(timestamp, body)
	if err != nil {
		return err
	}

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.opts.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		for name, value := range n.opts.Headers {
			req.Header.Set(name, value)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(n.opts.SignatureHeader, fmt.Sprintf("t=%s,v1=%s", timestamp, signature))

		resp, err := n.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(retryInterval), uint64(n.opts.Retries)),
		ctx,
	)
	if err := backoff.Retry(attempt, policy); err != nil {
		n.logger.Error().Err(err).
			Str("url", n.opts.URL).
			Str("kind", string(event.Kind)).
			Msg("delivery failed after retries")
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

// sign computes HMAC(secret, timestamp + "." + body) with the configured
// hash, hex-encoded, for the t=<ts>,v1=<sig> header value.
func (n *WebhookNotifier) sign(timestamp string, body []byte) (string, error) {
	var newHash func() hash.Hash
	switch n.opts.Algo {
	case "sha1":
		newHash = sha1.New
	case "sha256":
		newHash = sha256.New
	case "sha512":
		newHash = sha512.New
	default:
		return "", fmt.Errorf("unsupported signature algorithm %q", n.opts.Algo)
	}

	mac := hmac.New(newHash, []byte(n.opts.Secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

type webhookPayload struct {
	UserID     string         `json:"user_id"`
	OccurredAt string         `json:"occurred_at"`
	Meta       map[string]any `json:"meta"`
}

// encodePayload produces the canonical JSON form the signature covers: no
// HTML escaping, no trailing newline, forward slashes verbatim.
func encodePayload(payload webhookPayload) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
