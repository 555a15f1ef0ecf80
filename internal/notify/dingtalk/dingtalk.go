// Package dingtalk sends triage alerts to DingTalk group robots via
// signed webhooks.
package dingtalk

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/junxiaogit/wecom-ai-platform/internal/triage"
)

const (
	maxSummaryLen = 1000
	httpTimeout   = 10 * time.Second
)

// Notifier sends alert notifications to a DingTalk robot webhook.
type Notifier struct {
	webhookURL string
	secret     string
	client     *http.Client
	now        func() time.Time
}

// New creates a new DingTalk notifier. If webhookURL is empty, Send is a
// no-op. secret enables request signing when the robot has it configured.
func New(webhookURL, secret string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		secret:     secret,
		client:     &http.Client{Timeout: httpTimeout},
		now:        time.Now,
	}
}

// Send posts an alert notification to the configured webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, note *triage.Notification) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(note))
	if err != nil {
		return fmt.Errorf("dingtalk: marshal message: %w", err)
	}

	target, err := n.signedURL()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dingtalk: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("dingtalk: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("dingtalk: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	// DingTalk reports robot-level failures in the body with HTTP 200.
	var apiResp struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.Unmarshal(respBody, &apiResp); err == nil && apiResp.ErrCode != 0 {
		return fmt.Errorf("dingtalk: api error %d: %s", apiResp.ErrCode, apiResp.ErrMsg)
	}
	return nil
}

// signedURL appends the timestamp+sign query parameters the robot expects
// when a signing secret is configured.
func (n *Notifier) signedURL() (string, error) {
	if n.secret == "" {
		return n.webhookURL, nil
	}
	ts := strconv.FormatInt(n.now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(n.secret))
	mac.Write([]byte(ts + "\n" + n.secret))
	sign := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	u, err := url.Parse(n.webhookURL)
	if err != nil {
		return "", fmt.Errorf("dingtalk: parse webhook url: %w", err)
	}
	q := u.Query()
	q.Set("timestamp", ts)
	q.Set("sign", sign)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func buildMessage(note *triage.Notification) map[string]any {
	title := fmt.Sprintf("%s %s 群问题告警", levelEmoji(note.Level), note.Level)

	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", title)
	fmt.Fprintf(&b, "- **群**: %s\n", note.RoomID)
	fmt.Fprintf(&b, "- **问题**: %s\n", note.Phenomenon)
	if note.IssueType != "" {
		fmt.Fprintf(&b, "- **类型**: %s\n", note.IssueType)
	}
	fmt.Fprintf(&b, "- **风险分**: %d\n", note.RiskScore)
	if note.HitCount > 1 {
		fmt.Fprintf(&b, "- **累计上报**: %d 次\n", note.HitCount)
	}
	if note.Reason != "" {
		fmt.Fprintf(&b, "- **研判**: %s\n", note.Reason)
	}
	if note.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", truncate(note.Summary, maxSummaryLen))
	}
	if note.DetailURL != "" {
		fmt.Fprintf(&b, "\n[查看详情](%s)\n", note.DetailURL)
	}
	fmt.Fprintf(&b, "\n> %s\n", note.IssueAt.Format("2006-01-02 15:04"))

	return map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]any{
			"title": title,
			"text":  b.String(),
		},
	}
}

func levelEmoji(level triage.AlertLevel) string {
	switch level {
	case triage.LevelP0:
		return "\U0001f534" // red circle
	case triage.LevelP1:
		return "\U0001f7e0" // orange circle
	case triage.LevelP2:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

// truncate cuts s to at most limit runes, not bytes, so CJK summaries
// never lose a byte mid-character.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}
