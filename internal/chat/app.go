// Package chat wires the client together: local stores, the encrypted
// transport, the reconciliation session, and the consumption notifier,
// driven by a CLI or terminal UI.
package chat

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/micksolo/VanishVoice-sub000/internal/backend"
	"github.com/micksolo/VanishVoice-sub000/internal/blob"
	"github.com/micksolo/VanishVoice-sub000/internal/consume"
	"github.com/micksolo/VanishVoice-sub000/internal/crypto"
	"github.com/micksolo/VanishVoice-sub000/internal/prefs"
	"github.com/micksolo/VanishVoice-sub000/internal/reconcile"
	"github.com/micksolo/VanishVoice-sub000/internal/remote"
	"github.com/micksolo/VanishVoice-sub000/internal/store"
	"github.com/micksolo/VanishVoice-sub000/internal/ui"
)

// App encapsulates the client runtime components for one open conversation.
type App struct {
	Cfg *Config

	ctx    context.Context
	cancel context.CancelFunc

	Prefs    *prefs.Store
	Blobs    *blob.Store
	Remote   *remote.Client
	Client   backend.Client
	Store    *store.Store
	Session  *reconcile.Session
	Notifier *consume.Notifier

	userID string
	peerID string

	sink ui.Sink
	tui  *ui.TUIDisplay

	startOnce    sync.Once
	shutdownOnce sync.Once
}

// NewApp wires all client dependencies according to the provided config,
// including account registration/login against the sync server.
func NewApp(cfg *Config) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	pf, err := prefs.Open(cfg.PrefsDB)
	if err != nil {
		log.Printf("prefs db unavailable (%v), running without persistence", err)
	}
	_ = pf.SetUserID(cfg.Username)

	box, err := crypto.NewBox(cfg.Secret, cfg.Username, cfg.PeerID)
	if err != nil {
		cancel()
		return nil, err
	}

	blobs, err := blob.Open(cfg.BlobsDB, cfg.BlobsDir, box)
	if err != nil {
		cancel()
		_ = pf.Close()
		return nil, err
	}

	rc := remote.New(cfg.ServerURL)
	authCtx, authCancel := context.WithTimeout(ctx, 15*time.Second)
	defer authCancel()
	if cfg.Register {
		if err := rc.Register(authCtx, cfg.Username, cfg.Password); err != nil {
			log.Printf("register: %v (continuing, account may already exist)", err)
		}
	}
	if _, err := rc.Login(authCtx, cfg.Username, cfg.Password); err != nil {
		cancel()
		_ = pf.Close()
		_ = blobs.Close()
		return nil, fmt.Errorf("login: %w", err)
	}

	client := newSecureClient(rc, box)
	conv := backend.Conversation{UserID: cfg.Username, PeerID: cfg.PeerID}
	st := store.New(client, conv, store.DefaultPageSize)

	app := &App{
		Cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		Prefs:  pf,
		Blobs:  blobs,
		Remote: rc,
		Client: client,
		Store:  st,
		userID: cfg.Username,
		peerID: cfg.PeerID,
	}
	app.Session = reconcile.NewSession(reconcile.Options{
		Client: client,
		Store:  st,
		Conv:   conv,
		Render: app.renderAll,
	})
	app.Notifier = consume.NewNotifier(consume.Options{
		Client: client,
		Store:  st,
		Sched:  app.Session,
		Render: app.renderAll,
	})
	return app, nil
}

// Start launches the UIs, loads the first page, and begins reconciling.
func (a *App) Start() {
	if a == nil {
		return
	}
	a.startOnce.Do(func() {
		var sinks []ui.Sink
		if a.Cfg.UseCLI {
			sinks = append(sinks, ui.NewCLIDisplay(a.userID, ui.ShouldUseColor(a.Cfg.NoColor)))
		}
		if a.Cfg.UseTUI {
			a.tui = ui.NewTUIDisplay(a.userID, a.ProcessLine)
			sinks = append(sinks, a.tui)
			go func() {
				if err := a.tui.Run(a.ctx); err != nil {
					log.Printf("tui error: %v", err)
				}
			}()
		}
		if len(sinks) == 0 {
			sinks = append(sinks, ui.NewCLIDisplay(a.userID, ui.ShouldUseColor(a.Cfg.NoColor)))
		}
		a.sink = ui.NewMultiSink(sinks...)

		if err := a.Store.LoadInitialPage(a.ctx); err != nil {
			log.Printf("initial page: %v", err)
			a.sink.ShowSystem(fmt.Sprintf("could not load conversation: %v", err))
		}
		a.renderAll()
		a.sink.ShowSystem(fmt.Sprintf("chatting with %s, %s", a.peerID, ui.ExpirySummary(a.Prefs.DefaultExpiry())))

		a.Session.Start(a.ctx)

		if a.Cfg.UseCLI {
			go a.ReadInput(os.Stdin)
		}
	})
}

// Shutdown stops background routines and releases resources. Idempotent.
func (a *App) Shutdown() {
	if a == nil {
		return
	}
	a.shutdownOnce.Do(func() {
		a.cancel()
		if a.Session != nil {
			a.Session.Dispose()
		}
		if a.Notifier != nil {
			a.Notifier.Stop()
		}
		if a.Blobs != nil {
			_ = a.Blobs.Close()
		}
		if a.Prefs != nil {
			_ = a.Prefs.Close()
		}
	})
}

// WaitForShutdown blocks until SIGINT/SIGTERM then stops the app.
func WaitForShutdown(app *App) {
	if app == nil {
		return
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")
	app.Shutdown()
}

func (a *App) renderAll() {
	if a.sink == nil {
		return
	}
	a.sink.RenderConversation(a.Store.Snapshot())
}

func (a *App) systemf(format string, args ...any) {
	if a.sink == nil {
		return
	}
	a.sink.ShowSystem(fmt.Sprintf(format, args...))
}

func (a *App) notify(level, text string) {
	if a.sink == nil {
		return
	}
	a.sink.ShowNotification(ui.Notification{
		Text:      text,
		Level:     level,
		Timestamp: time.Now(),
		From:      a.peerID,
	})
}
