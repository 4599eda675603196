package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chartwatch/chartwatch/internal/scanner"
)

const (
	telegramAPIBase = "https://api.telegram.org"
	maxMessageLen   = 4000
	interChunkDelay = 300 * time.Millisecond
	notifierTimeout = 15 * time.Second
)

// Notifier sends scan summaries to Telegram chats, chunking long messages
// under the per-send budget with a small delay between chunks.
type Notifier struct {
	BaseURL    string
	Token      string
	Recipients []string
	Dedup      *AlertCache // optional, suppresses repeat alerts
	client     *http.Client
}

func NewNotifier(token string, recipients []string) *Notifier {
	return &Notifier{
		BaseURL:    telegramAPIBase,
		Token:      token,
		Recipients: recipients,
		client:     &http.Client{Timeout: notifierTimeout},
	}
}

// Deliver implements the orchestrator sink: render the results and send to
// every recipient. Send failures are logged per recipient and never abort
// the remaining sends.
func (n *Notifier) Deliver(ctx context.Context, results map[string][]scanner.Result) error {
	fresh := results
	if n.Dedup != nil {
		fresh = n.Dedup.FilterResults(ctx, results)
	}
	text := RenderResults(fresh)
	if text == "" {
		return nil
	}
	for _, chat := range n.Recipients {
		if err := n.Send(ctx, chat, text); err != nil {
			log.Error().Str("chat", chat).Err(err).Msg("telegram send failed")
		}
	}
	return nil
}

// Send chunks the text and posts each chunk to the chat.
func (n *Notifier) Send(ctx context.Context, chatID, text string) error {
	for i, chunk := range ChunkMessage(text, maxMessageLen) {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interChunkDelay):
			}
		}
		if err := n.sendOne(ctx, chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (n *Notifier) sendOne(ctx context.Context, chatID, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.BaseURL, n.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: status %d", resp.StatusCode)
	}
	return nil
}

// ChunkMessage splits text into pieces no longer than limit, breaking on
// newlines when possible so alerts stay intact.
func ChunkMessage(text string, limit int) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = limit
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// RenderResults formats the merged results as a plain-text digest, one
// strategy section at a time.
func RenderResults(results map[string][]scanner.Result) string {
	strategies := make([]string, 0, len(results))
	for name, rs := range results {
		if len(rs) > 0 {
			strategies = append(strategies, name)
		}
	}
	if len(strategies) == 0 {
		return ""
	}
	sort.Strings(strategies)

	var b strings.Builder
	for _, name := range strategies {
		fmt.Fprintf(&b, "— %s —\n", name)
		rs := append([]scanner.Result(nil), results[name]...)
		sort.Slice(rs, func(i, j int) bool {
			if rs[i].Venue != rs[j].Venue {
				return rs[i].Venue < rs[j].Venue
			}
			return rs[i].Symbol < rs[j].Symbol
		})
		for _, r := range rs {
			fmt.Fprintf(&b, "%s %s [%s] close=%s vol=$%s%s\n",
				r.Venue, r.Symbol, r.TF, trimFloat(r.Close), humanUSD(r.VolumeUSD), renderTags(r))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderTags(r scanner.Result) string {
	var tags []string
	if d, ok := r.Payload["direction"]; ok {
		tags = append(tags, fmt.Sprintf("dir=%v", d))
	}
	if s, ok := r.Payload["strength"].(string); ok {
		tags = append(tags, "strength="+s)
	}
	if bt, ok := r.Payload["breakout_type"].(string); ok {
		tags = append(tags, "type="+bt)
	}
	if len(tags) == 0 {
		return ""
	}
	return " (" + strings.Join(tags, ", ") + ")"
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.6f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

func humanUSD(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%.1fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.0fk", v/1e3)
	}
	return fmt.Sprintf("%.0f", v)
}
