package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edusphere/chat-core/internal/config"
	httpcontroller "github.com/edusphere/chat-core/internal/controller/http"
	"github.com/edusphere/chat-core/internal/database"
	"github.com/edusphere/chat-core/internal/domain/chat/dao"
	"github.com/edusphere/chat-core/internal/domain/chat/entity"
	"github.com/edusphere/chat-core/internal/domain/chat/panel"
	"github.com/edusphere/chat-core/internal/domain/chat/presence"
	"github.com/edusphere/chat-core/internal/domain/chat/room"
	"github.com/edusphere/chat-core/internal/domain/chat/scheduler"
	"github.com/edusphere/chat-core/internal/domain/chat/service"
	"github.com/edusphere/chat-core/internal/httpx/upstream/edusphere"
	"github.com/edusphere/chat-core/internal/socket"
	"github.com/edusphere/chat-core/internal/storage"
)

// App is the sync agent container: one authenticated session, one realtime
// connection, an optional local mirror, and a read-only HTTP surface.
type App struct {
	cfg        config.Config
	logger     *slog.Logger
	router     *chi.Mux
	httpServer *http.Server

	self        entity.Participant
	api         *edusphere.Client
	sock        *socket.Client
	presence    *presence.Tracker
	rooms       *room.Membership
	core        *service.Service
	attachments *storage.AttachmentStore

	pool    *pgxpool.Pool
	convDAO *dao.ConversationPostgres
	msgDAO  *dao.MessagePostgres
	mirror  *scheduler.Scheduler

	unsubs []func()
}

// NewApp creates and initializes the agent
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	self := entity.Participant{
		ID:          cfg.Session.ParticipantID,
		Role:        entity.Role(cfg.Session.Role),
		DisplayName: cfg.Session.DisplayName,
	}
	if self.ID == "" {
		return nil, fmt.Errorf("session participant id is required")
	}
	if !self.Role.Valid() {
		return nil, fmt.Errorf("session role %q: %w", cfg.Session.Role, entity.ErrInvalidRole)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Timeout(30 * time.Second))

	app := &App{
		cfg:    cfg,
		logger: logger,
		router: r,
		self:   self,
	}

	if err := app.initInfrastructure(ctx); err != nil {
		return nil, fmt.Errorf("initializing infrastructure: %w", err)
	}

	app.initChatCore()
	app.registerRoutes()

	app.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Mirror.Enabled && app.pool != nil {
		app.mirror = scheduler.New(app.api, app.convDAO, app.msgDAO, self, scheduler.Config{
			Interval:  cfg.Mirror.Interval,
			BatchSize: cfg.Mirror.BatchSize,
		}, logger)
	}

	return app, nil
}

// initInfrastructure initializes the mirror database and attachment store
func (a *App) initInfrastructure(ctx context.Context) error {
	if dsn := a.cfg.Database.PostgresDSN; dsn != "" {
		pool, err := database.NewPostgresPool(ctx, dsn, database.PoolConfig{
			MaxConns: a.cfg.Database.MaxConns,
			MinConns: a.cfg.Database.MinConns,
		})
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		if err := dao.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return err
		}
		a.pool = pool
		a.convDAO = dao.NewConversationPostgres(pool)
		a.msgDAO = dao.NewMessagePostgres(pool)
	}

	store, err := storage.NewAttachmentStore(storage.S3Config{
		Endpoint:        a.cfg.S3.Endpoint,
		AccessKeyID:     a.cfg.S3.AccessKeyID,
		SecretAccessKey: a.cfg.S3.SecretAccessKey,
		Bucket:          a.cfg.S3.Bucket,
		Region:          a.cfg.S3.Region,
		PublicURL:       a.cfg.S3.PublicURL,
	})
	if err != nil {
		return fmt.Errorf("creating attachment store: %w", err)
	}
	a.attachments = store

	return nil
}

// initChatCore wires the connection, presence, rooms and synchronizer
func (a *App) initChatCore() {
	a.api = edusphere.New(
		edusphere.WithBaseURL(a.cfg.API.BaseURL),
		edusphere.WithAuthToken(a.cfg.Session.AuthToken),
		edusphere.WithHTTPClient(&http.Client{Timeout: a.cfg.API.Timeout}),
	)

	a.sock = socket.NewClient(a.cfg.Socket.URL, a.cfg.Session.AuthToken,
		socket.WithLogger(a.logger),
		socket.WithMaxRetries(a.cfg.Socket.MaxRetries),
		socket.WithBackoff(a.cfg.Socket.Backoff),
		socket.WithPingPeriod(a.cfg.Socket.PingPeriod),
	)

	a.presence = presence.NewTracker(a.sock, a.self, a.logger)
	a.rooms = room.NewMembership(a.sock, a.logger)

	a.core = service.New(&apiAdapter{a.api}, a.sock, a.self, a.logger,
		service.WithAttachmentStore(&attachmentAdapter{a.attachments}),
	)
}

// NewPanel creates a chat panel controller bound to this session. Embedding
// consumers open one per visible conversation.
func (a *App) NewPanel() *panel.Controller {
	return panel.NewController(a.core, a.rooms, a.presence, a.sock, a.logger)
}

// registerRoutes registers all HTTP routes
func (a *App) registerRoutes() {
	a.router.Get("/healthz", a.healthHandler)
	a.router.Get("/readyz", a.readyHandler)

	a.router.Route("/api/v1", func(r chi.Router) {
		var convs httpcontroller.ConversationReader
		var msgs httpcontroller.MessageReader
		if a.convDAO != nil {
			convs = a.convDAO
			msgs = a.msgDAO
		}
		chatHandler := httpcontroller.NewChatHandler(a.self, convs, msgs, a.sock.CurrentState)
		chatHandler.RegisterRoutes(r)
	})
}

// healthHandler handles health check requests
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// readyHandler reports readiness: the realtime connection must not be in
// the terminal unavailable state and the mirror database must answer.
func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{
		"status":     "ready",
		"connection": string(a.sock.CurrentState()),
	}
	code := http.StatusOK

	if a.sock.CurrentState() == socket.StateUnavailable {
		status["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	if a.pool != nil {
		if err := a.pool.Ping(r.Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

// Run starts the agent and blocks until shutdown signal
func (a *App) Run(ctx context.Context) error {
	if err := a.sock.Connect(ctx); err != nil {
		// The mirror HTTP surface still serves; reconnection is manual via
		// restart since the initial dial never succeeded.
		a.logger.Error("realtime connect failed", "error", err)
	} else {
		a.bindRealtime(ctx)
	}

	if a.mirror != nil {
		a.mirror.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting HTTP server", "addr", a.cfg.Server.Address())
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		a.logger.Info("context cancelled")
	}

	return a.Shutdown(context.Background())
}

// bindRealtime joins the rooms of every known conversation and persists
// room traffic into the mirror as it arrives
func (a *App) bindRealtime(ctx context.Context) {
	convs, err := a.api.GetConversations(ctx, a.self.ID, a.self.Role, "")
	if err != nil {
		a.logger.Warn("listing conversations failed", "error", err)
	}
	for _, conv := range convs {
		if err := a.rooms.Join(conv.ID); err != nil {
			a.logger.Warn("joining room failed", "conversation_id", conv.ID, "error", err)
		}
		if a.convDAO != nil {
			c := conv
			if err := a.convDAO.Upsert(ctx, &c); err != nil {
				a.logger.Warn("mirroring conversation failed", "conversation_id", conv.ID, "error", err)
			}
		}
	}

	a.unsubs = append(a.unsubs,
		a.sock.Subscribe(socket.EventReceiveMessage, func(data json.RawMessage) {
			var payload socket.ReceiveMessagePayload
			if err := json.Unmarshal(data, &payload); err != nil {
				a.logger.Warn("bad receive-message payload", "error", err)
				return
			}
			msg := payload.Message.Entity()
			if !a.core.HandleInbound(msg) {
				return
			}
			if a.msgDAO != nil {
				mirrorCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := a.msgDAO.Upsert(mirrorCtx, &msg); err != nil {
					a.logger.Warn("mirroring message failed", "message_id", msg.ID, "error", err)
				}
			}
		}),
		a.sock.Subscribe(socket.EventMessageDeleted, func(data json.RawMessage) {
			var payload socket.MessageDeletedPayload
			if err := json.Unmarshal(data, &payload); err != nil {
				a.logger.Warn("bad message-deleted payload", "error", err)
				return
			}
			var latest *entity.MessageSummary
			if payload.LatestMessage != nil {
				msg := payload.LatestMessage.Entity()
				latest = msg.Summary()
			}
			a.core.HandleDeleted(payload.ChatID, payload.MessageID, latest)
			if a.msgDAO != nil {
				mirrorCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := a.msgDAO.Delete(mirrorCtx, payload.MessageID); err != nil {
					a.logger.Warn("removing mirrored message failed", "message_id", payload.MessageID, "error", err)
				}
			}
		}),
	)
}

// Shutdown gracefully shuts down the agent
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")

	if a.mirror != nil {
		a.mirror.Stop()
	}
	for _, unsub := range a.unsubs {
		unsub()
	}
	a.presence.Close()
	a.rooms.Close()
	_ = a.sock.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}

	if a.pool != nil {
		a.pool.Close()
	}

	a.logger.Info("shutdown complete")
	return nil
}

// apiAdapter adapts edusphere.Client to service.APIClient
type apiAdapter struct {
	*edusphere.Client
}

func (a *apiAdapter) PersistMessage(ctx context.Context, in service.PersistMessageInput) (*entity.Message, error) {
	return a.Client.SendMessage(ctx, edusphere.SendMessageInput{
		ChatID:     in.ChatID,
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		Text:       in.Text,
		ReplyToID:  in.ReplyToID,
		FileURL:    in.FileURL,
	})
}

// attachmentAdapter adapts storage.AttachmentStore to service.AttachmentStore
type attachmentAdapter struct {
	store *storage.AttachmentStore
}

func (a *attachmentAdapter) Upload(ctx context.Context, in service.UploadAttachmentInput) (string, error) {
	out, err := a.store.Upload(ctx, storage.UploadInput{
		Reader:      in.Reader,
		ContentType: in.ContentType,
		Size:        in.Size,
		Filename:    in.Filename,
	})
	if err != nil {
		return "", err
	}
	return out.URL, nil
}
