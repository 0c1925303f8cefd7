package ui

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/micksolo/VanishVoice-sub000/internal/message"
	"github.com/micksolo/VanishVoice-sub000/internal/status"
	"github.com/micksolo/VanishVoice-sub000/internal/store"
)

const (
	ansiReset = "\x1b[0m"
	ansiTime  = "\x1b[36m"
	ansiName  = "\x1b[33m"
	ansiTick  = "\x1b[35m"
	ansiSys   = "\x1b[32m"
)

// CLIDisplay renders the conversation to stdout, re-printing the transcript
// whenever the view-model changes.
type CLIDisplay struct {
	viewer string
	color  bool
	out    io.Writer
	mu     sync.Mutex
}

func NewCLIDisplay(viewer string, color bool) *CLIDisplay {
	return &CLIDisplay{viewer: viewer, color: color, out: os.Stdout}
}

func (c *CLIDisplay) RenderConversation(entries []store.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	fmt.Fprintln(c.out, strings.Repeat("-", 40))
	for _, e := range entries {
		fmt.Fprintln(c.out, c.formatLine(e, now))
	}
}

func (c *CLIDisplay) ShowSystem(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := time.Now().Format("15:04:05")
	if c.color {
		fmt.Fprintf(c.out, "%s[%s]%s %sSYSTEM%s: %s\n", ansiTime, ts, ansiReset, ansiSys, ansiReset, text)
		return
	}
	fmt.Fprintf(c.out, "[%s] SYSTEM: %s\n", ts, text)
}

func (c *CLIDisplay) ShowNotification(n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := n.Timestamp.Format("15:04:05")
	prefix := "NOTIFY"
	if n.Level != "" {
		prefix = strings.ToUpper(n.Level)
	}
	line := fmt.Sprintf("[%s] %s: %s", ts, prefix, n.Text)
	if c.color {
		fmt.Fprintf(c.out, "%s%s%s\n", ansiSys, line, ansiReset)
		return
	}
	fmt.Fprintln(c.out, line)
}

func (c *CLIDisplay) formatLine(e store.Entry, now time.Time) string {
	msg := e.Msg
	ts := msg.CreatedAt.Format("15:04:05")
	if msg.CreatedAt.IsZero() {
		ts = now.Format("15:04:05")
	}
	body := contentLabel(e)
	extras := strings.Join(extraLabels(e, c.viewer, now), " ")
	if extras != "" {
		extras = " " + extras
	}
	if c.color {
		return fmt.Sprintf("%s[%s]%s %s%s%s: %s%s%s%s",
			ansiTime, ts, ansiReset, ansiName, msg.SenderID, ansiReset, body, ansiTick, extras, ansiReset)
	}
	return fmt.Sprintf("[%s] %s: %s%s", ts, msg.SenderID, body, extras)
}

func contentLabel(e store.Entry) string {
	msg := e.Msg
	if msg.Expired || e.Clearing {
		return "[expired]"
	}
	switch msg.Kind {
	case message.KindVoice:
		return fmt.Sprintf("[voice %s]", durationLabel(msg.Blob))
	case message.KindVideo:
		return fmt.Sprintf("[video %s]", durationLabel(msg.Blob))
	}
	return msg.Body
}

func extraLabels(e store.Entry, viewer string, now time.Time) []string {
	var labels []string
	if e.Msg.SenderID == viewer {
		labels = append(labels, statusTick(e.Status(viewer, now)))
	}
	if lbl := expiryLabel(e.Msg.Expiry); lbl != "" {
		labels = append(labels, lbl)
	}
	if e.UploadPercent > 0 && e.UploadPercent < 100 {
		labels = append(labels, fmt.Sprintf("uploading %d%%", e.UploadPercent))
	}
	if e.DownloadPercent > 0 && e.DownloadPercent < 100 {
		labels = append(labels, fmt.Sprintf("downloading %d%%", e.DownloadPercent))
	}
	if e.Playing {
		labels = append(labels, "playing")
	}
	return labels
}

func statusTick(st status.Status) string {
	switch st {
	case status.Sending:
		return "…"
	case status.Sent:
		return "✓"
	case status.Delivered:
		return "✓✓"
	case status.Read:
		return "✓✓ read"
	case status.Failed:
		return "✗ failed"
	}
	return ""
}

func expiryLabel(rule message.ExpiryRule) string {
	switch rule.Type {
	case message.ExpiryView:
		return "(view once)"
	case message.ExpiryPlayback:
		if rule.PlayCount > 1 {
			return fmt.Sprintf("(plays: %d)", rule.PlayCount)
		}
		return "(play once)"
	case message.ExpiryTime:
		return fmt.Sprintf("(expires %ds)", rule.DurationSec)
	}
	return ""
}

func durationLabel(blob *message.BlobRef) string {
	if blob == nil || blob.DurationMs <= 0 {
		return "?"
	}
	return (time.Duration(blob.DurationMs) * time.Millisecond).Round(time.Second).String()
}

// ShouldUseColor determines if ANSI coloring should be enabled for CLI output.
func ShouldUseColor(disable bool) bool {
	if disable {
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if runtime.GOOS == "windows" {
		if os.Getenv("WT_SESSION") != "" || os.Getenv("ANSICON") != "" || strings.EqualFold(os.Getenv("ConEmuANSI"), "ON") {
			return true
		}
		return false
	}
	return true
}
