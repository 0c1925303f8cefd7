package chat

import (
	"context"
	"log"

	"github.com/micksolo/VanishVoice-sub000/internal/backend"
	"github.com/micksolo/VanishVoice-sub000/internal/crypto"
	"github.com/micksolo/VanishVoice-sub000/internal/message"
)

// undecryptableBody replaces text the local key cannot open. The row itself
// still flows through reconciliation so consumption state stays correct.
const undecryptableBody = "[unable to decrypt]"

// secureClient wraps the transport so text bodies are sealed before they
// leave the device and opened as rows arrive. Media payloads are sealed by
// the blob store instead; their rows pass through untouched.
type secureClient struct {
	inner backend.Client
	box   *crypto.Box
}

func newSecureClient(inner backend.Client, box *crypto.Box) backend.Client {
	return &secureClient{inner: inner, box: box}
}

func (c *secureClient) Query(ctx context.Context, conv backend.Conversation, page backend.Page) ([]message.Message, error) {
	msgs, err := c.inner.Query(ctx, conv, page)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i] = c.open(msgs[i])
	}
	return msgs, nil
}

func (c *secureClient) Insert(ctx context.Context, msg message.Message) (message.Message, error) {
	sealed, err := c.seal(msg)
	if err != nil {
		return message.Message{}, err
	}
	stored, err := c.inner.Insert(ctx, sealed)
	if err != nil {
		return message.Message{}, err
	}
	return c.open(stored), nil
}

func (c *secureClient) Update(ctx context.Context, id string, patch backend.Patch) error {
	return c.inner.Update(ctx, id, patch)
}

func (c *secureClient) Subscribe(ctx context.Context, conv backend.Conversation, onEvent func(backend.Event), onState func(backend.ChannelState)) (backend.UnsubscribeFunc, error) {
	wrapped := func(evt backend.Event) {
		evt.New = c.open(evt.New)
		if evt.Old != nil {
			opened := c.open(*evt.Old)
			evt.Old = &opened
		}
		onEvent(evt)
	}
	return c.inner.Subscribe(ctx, conv, wrapped, onState)
}

func (c *secureClient) seal(msg message.Message) (message.Message, error) {
	if msg.Kind != message.KindText || msg.Body == "" {
		return msg, nil
	}
	env, err := c.box.EncryptFor([]byte(msg.Body))
	if err != nil {
		return message.Message{}, err
	}
	msg.Body = env.Data
	msg.Nonce = env.Nonce
	msg.KeyHint = env.KeyHint
	return msg, nil
}

// open decrypts a stored row for display. A key-hint mismatch is logged and
// decryption still attempted; only an actual failure masks the body.
func (c *secureClient) open(msg message.Message) message.Message {
	if msg.Kind != message.KindText || msg.Body == "" {
		return msg
	}
	if c.box.CheckHint(msg.KeyHint) == crypto.HintMismatch {
		log.Printf("key hint mismatch on %s, attempting decryption anyway", msg.Key())
	}
	plain, err := c.box.DecryptFrom(crypto.Envelope{Nonce: msg.Nonce, Data: msg.Body, KeyHint: msg.KeyHint})
	if err != nil {
		log.Printf("decrypt %s: %v", msg.Key(), err)
		msg.Body = undecryptableBody
	} else {
		msg.Body = string(plain)
	}
	msg.Nonce = ""
	return msg
}
