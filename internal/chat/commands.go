package chat

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/micksolo/VanishVoice-sub000/internal/message"
	"github.com/micksolo/VanishVoice-sub000/internal/ui"
)

// ReadInput consumes lines from the reader until EOF, routing each through
// ProcessLine.
func (a *App) ReadInput(reader io.Reader) {
	buf := bufio.NewReader(reader)
	for {
		line, err := buf.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return
			}
			log.Printf("stdin err: %v", err)
			return
		}
		a.ProcessLine(line)
	}
}

// ProcessLine treats slash-prefixed lines as commands and everything else
// as an outgoing text message.
func (a *App) ProcessLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if strings.HasPrefix(line, "/") {
		a.handleCommand(line)
		return
	}
	a.SendText(line)
}

func (a *App) handleCommand(line string) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return
	}
	switch parts[0] {
	case "/voice":
		if len(parts) < 2 {
			a.systemf("usage: /voice <path> [duration-ms]")
			return
		}
		a.SendMedia(message.KindVoice, parts[1], parseDuration(parts, 2))
	case "/video":
		if len(parts) < 2 {
			a.systemf("usage: /video <path> [duration-ms]")
			return
		}
		a.SendMedia(message.KindVideo, parts[1], parseDuration(parts, 2))
	case "/open":
		a.runOnMessage(parts, a.OpenMessage)
	case "/play":
		a.runOnMessage(parts, a.PlayMessage)
	case "/close":
		a.runOnMessage(parts, a.CloseMessage)
	case "/older":
		n, err := a.LoadOlder()
		if err != nil {
			a.systemf("load older failed: %v", err)
			return
		}
		if n == 0 {
			a.systemf("no older messages")
		}
	case "/expiry":
		rule, err := parseExpiryRule(parts[1:])
		if err != nil {
			a.systemf("usage: /expiry none|view|play <count>|time <seconds> (%v)", err)
			return
		}
		if err := a.SetExpiryRule(rule); err != nil {
			a.systemf("expiry not saved: %v", err)
			return
		}
		a.systemf("%s", ui.ExpirySummary(rule))
	case "/refresh":
		a.Session.PollNow(a.ctx)
	case "/stats":
		a.systemf("%s pending_writes=%d", a.Session.Counters().String(), a.Notifier.PendingWrites())
	case "/quit":
		a.systemf("bye")
		a.Shutdown()
		os.Exit(0)
	default:
		a.systemf("commands: /voice /video /open /play /close /older /expiry /refresh /stats /quit")
	}
}

// runOnMessage resolves the user-supplied reference (1-based transcript
// position or raw id) and invokes the action.
func (a *App) runOnMessage(parts []string, action func(string) error) {
	if len(parts) < 2 {
		a.systemf("usage: %s <number|id>", parts[0])
		return
	}
	key, err := a.resolveKey(parts[1])
	if err != nil {
		a.systemf("%v", err)
		return
	}
	if err := action(key); err != nil {
		a.systemf("%v", err)
	}
}

func (a *App) resolveKey(ref string) (string, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		entries := a.Store.Snapshot()
		if n < 1 || n > len(entries) {
			return "", fmt.Errorf("no message #%d", n)
		}
		return entries[n-1].Msg.Key(), nil
	}
	return ref, nil
}

func parseDuration(parts []string, idx int) int64 {
	if len(parts) <= idx {
		return 0
	}
	ms, err := strconv.ParseInt(parts[idx], 10, 64)
	if err != nil || ms < 0 {
		return 0
	}
	return ms
}

func parseExpiryRule(args []string) (message.ExpiryRule, error) {
	if len(args) == 0 {
		return message.ExpiryRule{}, fmt.Errorf("rule required")
	}
	switch args[0] {
	case "none":
		return message.ExpiryRule{Type: message.ExpiryNone}, nil
	case "view":
		return message.ExpiryRule{Type: message.ExpiryView}, nil
	case "play":
		count := 1
		if len(args) >= 2 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return message.ExpiryRule{}, fmt.Errorf("bad count %q", args[1])
			}
			count = n
		}
		return message.ExpiryRule{Type: message.ExpiryPlayback, PlayCount: count}, nil
	case "time":
		if len(args) < 2 {
			return message.ExpiryRule{}, fmt.Errorf("seconds required")
		}
		sec, err := strconv.Atoi(args[1])
		if err != nil {
			return message.ExpiryRule{}, fmt.Errorf("bad seconds %q", args[1])
		}
		return message.ExpiryRule{Type: message.ExpiryTime, DurationSec: sec}, nil
	}
	return message.ExpiryRule{}, fmt.Errorf("unknown rule %q", args[0])
}
