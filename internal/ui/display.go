package ui

import (
	"time"

	"github.com/micksolo/VanishVoice-sub000/internal/store"
)

// Notification is used for system level alerts such as failed sends or a
// peer consuming an ephemeral message.
type Notification struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Level     string    `json:"level"`
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from"`
}

// Sink is the unified interface every UI surface must satisfy.
type Sink interface {
	RenderConversation([]store.Entry)
	ShowSystem(string)
	ShowNotification(Notification)
}

type multiSink struct {
	sinks []Sink
}

// NewMultiSink fans conversation updates out to each registered sink.
func NewMultiSink(sinks ...Sink) Sink {
	return &multiSink{sinks: sinks}
}

func (m *multiSink) RenderConversation(entries []store.Entry) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.RenderConversation(entries)
		}
	}
}

func (m *multiSink) ShowSystem(text string) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.ShowSystem(text)
		}
	}
}

func (m *multiSink) ShowNotification(n Notification) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.ShowNotification(n)
		}
	}
}
