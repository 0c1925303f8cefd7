package chat

import (
	"fmt"
	"time"

	"github.com/micksolo/VanishVoice-sub000/internal/message"
	"github.com/micksolo/VanishVoice-sub000/internal/store"
)

// SendText queues a text message. The entry appears immediately as sending;
// the backend write confirms or fails it in the background.
func (a *App) SendText(body string) {
	msg := a.newOutgoing(message.KindText)
	msg.Body = body
	a.Store.ApplyInsert(store.Entry{Msg: msg})
	a.renderAll()
	go a.confirmSend(msg)
}

// SendMedia uploads a local recording and sends the message referencing it.
// durationMs is the media duration reported by the capture layer.
func (a *App) SendMedia(kind message.Kind, path string, durationMs int64) {
	msg := a.newOutgoing(kind)
	a.Store.ApplyInsert(store.Entry{Msg: msg})
	a.renderAll()
	go func() {
		tempID := msg.TempID
		ref, err := a.Blobs.Upload(path, durationMs, func(pct int) {
			if a.Store.SetUploadPercent(tempID, pct) {
				a.renderAll()
			}
		})
		if err != nil {
			a.Store.MarkFailed(tempID)
			a.renderAll()
			a.notify("error", fmt.Sprintf("upload failed: %v", err))
			return
		}
		msg.Blob = &ref
		a.Store.ReplaceMessage(tempID, msg)
		a.confirmSend(msg)
	}()
}

func (a *App) newOutgoing(kind message.Kind) message.Message {
	return message.Message{
		TempID:      message.NewTempID(),
		SenderID:    a.userID,
		RecipientID: a.peerID,
		Kind:        kind,
		CreatedAt:   time.Now().UTC(),
		Expiry:      a.Prefs.DefaultExpiry(),
	}
}

// confirmSend performs the backend insert and resolves the optimistic entry
// either way. A failed entry stays visible as failed until resent.
func (a *App) confirmSend(msg message.Message) {
	stored, err := a.Client.Insert(a.ctx, msg)
	if err != nil {
		if a.Store.MarkFailed(msg.TempID) {
			a.renderAll()
		}
		a.notify("error", fmt.Sprintf("send failed: %v", err))
		return
	}
	if a.Store.ReplaceTempID(msg.TempID, stored) {
		a.renderAll()
	}
}

// OpenMessage records that the local user opened a message. Only incoming
// messages are consumable; opening your own copy changes nothing.
func (a *App) OpenMessage(key string) error {
	entry, ok := a.Store.Get(key)
	if !ok {
		return fmt.Errorf("no message %s", key)
	}
	if entry.Msg.SenderID == a.userID {
		return nil
	}
	a.Notifier.MarkConsumed(key, message.ConsumedOpened)
	return nil
}

// PlayMessage downloads the sealed payload and plays it, recording the
// playback consumption once playback starts.
func (a *App) PlayMessage(key string) error {
	entry, ok := a.Store.Get(key)
	if !ok {
		return fmt.Errorf("no message %s", key)
	}
	if entry.Msg.Blob == nil {
		return fmt.Errorf("message %s has no media", key)
	}
	if entry.Msg.SenderID == a.userID {
		return nil
	}
	go func() {
		path, err := a.Blobs.Download(*entry.Msg.Blob, func(pct int) {
			if a.Store.SetDownloadPercent(key, pct) {
				a.renderAll()
			}
		})
		if err != nil {
			a.notify("error", fmt.Sprintf("download failed: %v", err))
			return
		}
		a.systemf("playing %s", path)
		if a.Store.SetPlaying(key, true) {
			a.renderAll()
		}
		a.Notifier.MarkConsumed(key, message.ConsumedPlayed)
		dur := time.Duration(entry.Msg.Blob.DurationMs) * time.Millisecond
		time.AfterFunc(dur, func() {
			if a.Store.SetPlaying(key, false) {
				a.renderAll()
			}
		})
	}()
	return nil
}

// CloseMessage records that the viewer dismissed an opened message, which
// is what arms removal for view-once content.
func (a *App) CloseMessage(key string) error {
	entry, ok := a.Store.Get(key)
	if !ok {
		return fmt.Errorf("no message %s", key)
	}
	if entry.Msg.SenderID == a.userID {
		return nil
	}
	a.Notifier.MarkConsumed(key, message.ConsumedClosed)
	return nil
}

// LoadOlder fetches the next history page going back in time.
func (a *App) LoadOlder() (int, error) {
	n, err := a.Store.LoadOlderPage(a.ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		a.renderAll()
	}
	return n, nil
}

// SetExpiryRule updates the standing default applied to future sends.
func (a *App) SetExpiryRule(rule message.ExpiryRule) error {
	if err := a.Prefs.SetDefaultExpiry(rule); err != nil {
		return err
	}
	return nil
}
