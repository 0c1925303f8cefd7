package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/micksolo/VanishVoice-sub000/internal/message"
	"github.com/micksolo/VanishVoice-sub000/internal/store"
)

// TUIDisplay renders the conversation using tview. The transcript view is
// rewritten in full on each render; the store already suppresses no-change
// renders so this stays cheap.
type TUIDisplay struct {
	app        *tview.Application
	transcript *tview.TextView
	statusBar  *tview.TextView
	input      *tview.InputField
	viewer     string
	submit     func(string)
	once       sync.Once
}

func NewTUIDisplay(viewer string, submit func(string)) *TUIDisplay {
	transcript := tview.NewTextView().
		SetDynamicColors(true).
		SetRegions(false).
		SetScrollable(true)
	transcript.SetBorder(true).SetTitle("Conversation")

	statusBar := tview.NewTextView().SetDynamicColors(true)
	statusBar.SetBorder(true).SetTitle("Status")

	input := tview.NewInputField().
		SetLabel("> ").
		SetFieldTextColor(tcell.ColorWhite)

	td := &TUIDisplay{
		app:        tview.NewApplication(),
		transcript: transcript,
		statusBar:  statusBar,
		input:      input,
		viewer:     viewer,
		submit:     submit,
	}

	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			text := strings.TrimSpace(input.GetText())
			if text != "" {
				go td.submit(text)
			}
			input.SetText("")
		}
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(transcript, 0, 5, false).
		AddItem(statusBar, 3, 1, false).
		AddItem(input, 3, 1, true)

	td.app.SetRoot(layout, true).EnableMouse(true)
	return td
}

func (t *TUIDisplay) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		t.once.Do(func() {
			t.app.Stop()
		})
	}()
	return t.app.Run()
}

func (t *TUIDisplay) RenderConversation(entries []store.Entry) {
	now := time.Now()
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(t.formatLine(e, now))
		b.WriteByte('\n')
	}
	content := b.String()
	t.app.QueueUpdateDraw(func() {
		t.transcript.Clear()
		fmt.Fprint(t.transcript, content)
		t.transcript.ScrollToEnd()
	})
}

func (t *TUIDisplay) formatLine(e store.Entry, now time.Time) string {
	msg := e.Msg
	ts := msg.CreatedAt.Format("15:04:05")
	nameColor := "lightgreen"
	if msg.SenderID == t.viewer {
		nameColor = "yellow"
	}
	body := contentLabel(e)
	if msg.Expired || e.Clearing {
		body = "[gray]" + body + "[-]"
	}
	line := fmt.Sprintf("[yellow][%s][-] [%s]%s[-]: %s", ts, nameColor, msg.SenderID, body)
	if extras := extraLabels(e, t.viewer, now); len(extras) > 0 {
		line += fmt.Sprintf(" [orange]%s[-]", strings.Join(extras, " "))
	}
	return line
}

func (t *TUIDisplay) ShowSystem(text string) {
	t.app.QueueUpdateDraw(func() {
		t.statusBar.Clear()
		fmt.Fprintf(t.statusBar, "[green]%s[-]", tview.Escape(text))
	})
}

func (t *TUIDisplay) ShowNotification(n Notification) {
	content := fmt.Sprintf("[orange]** %s [-] %s\n", strings.ToUpper(n.Level), tview.Escape(n.Text))
	t.app.QueueUpdateDraw(func() {
		fmt.Fprint(t.transcript, content)
	})
}

// ExpirySummary renders the standing default rule for the status bar.
func ExpirySummary(rule message.ExpiryRule) string {
	if lbl := expiryLabel(rule); lbl != "" {
		return "default expiry " + lbl
	}
	return "messages do not expire"
}
