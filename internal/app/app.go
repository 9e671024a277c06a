package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/meetsprint/internal/auth"
	"github.com/hitoshi/meetsprint/internal/config"
	"github.com/hitoshi/meetsprint/internal/dashboard"
	"github.com/hitoshi/meetsprint/internal/database"
	"github.com/hitoshi/meetsprint/internal/event"
	"github.com/hitoshi/meetsprint/internal/handler"
	"github.com/hitoshi/meetsprint/internal/logger"
	"github.com/hitoshi/meetsprint/internal/meeting"
	"github.com/hitoshi/meetsprint/internal/metrics"
	"github.com/hitoshi/meetsprint/internal/middleware"
	"github.com/hitoshi/meetsprint/internal/notify"
	"github.com/hitoshi/meetsprint/internal/organization"
	"github.com/hitoshi/meetsprint/internal/profile"
	"github.com/hitoshi/meetsprint/internal/repository"
	"github.com/hitoshi/meetsprint/internal/security"
	"github.com/hitoshi/meetsprint/internal/task"
	"github.com/hitoshi/meetsprint/internal/user"
	"github.com/hitoshi/meetsprint/internal/worker/cleanup"
)

const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでログを再設定する
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	logger.SetupDefault(w, level)

	return cfg, nil
}

// server はAPIサーバーを構成する依存関係一式。
type server struct {
	handler  http.Handler
	bus      *event.Bus
	notifier  *notify.Notifier
	publisher *notify.AMQPPublisher
	limiter   *middleware.RateLimiter
}

// newServer はリポジトリ、サービス、ルーターをワイヤリングする。
// dbへの接続は行わないため、到達できないDBでも構築できる。
func newServer(cfg *config.Config, db *sql.DB, sessionRepo repository.SessionRepository) *server {
	// 1. イベントバスとメトリクス
	bus := event.NewBus()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)
	collector.Attach(bus)

	var notifier *notify.Notifier
	var publisher *notify.AMQPPublisher
	if cfg.AMQPURL != "" {
		publisher = notify.NewAMQPPublisher(cfg.AMQPURL, notify.DefaultQueue)
		notifier = notify.NewNotifier(publisher.Publish, slog.Default())
		notifier.Attach(bus)
	}

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)
	orgRepo := repository.NewPostgresOrganizationRepo(db)
	meetingRepo := repository.NewPostgresMeetingRepo(db)
	taskRepo := repository.NewPostgresTaskRepo(db)

	// 3. 認証
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, userRepo, identRepo, sessionRepo,
		auth.NewTokenCodec(cfg.SessionSecret), bus,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	// 4. ドメインサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	fetcher := meeting.NewSafeTranscriptFetcher(ssrfGuard, cfg.TranscriptFetchTimeout, cfg.TranscriptMaxSize)

	profileService := profile.NewService(profileRepo, collector)
	orgService := organization.NewService(orgRepo, collector).WithProfiles(userRepo, profileService)
	meetingService := meeting.NewService(meetingRepo, profileRepo, ssrfGuard, fetcher, security.NewTranscriptSanitizer(), collector)
	taskService := task.NewService(taskRepo, meetingRepo, profileRepo)
	dashboardService := dashboard.NewService(meetingRepo, taskRepo, collector)
	userService := user.NewService(userRepo, sessionRepo, bus)

	// 5. ルーターの構築
	limiter := middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RateLimitGeneral, cfg.RateLimitOnboarding))

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		HTTPMetrics:       collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		Cookie: middleware.CookieConfig{
			Secure: cfg.CookieSecure,
			Domain: cfg.CookieDomain,
			MaxAge: authService.SessionMaxAge(),
		},
		HSTS: cfg.CookieSecure,

		AuthService:    authService,
		ProfileService: profileService,
		SessionEvents:  bus,

		OrganizationService: orgService,
		MeetingService:      meetingService,
		TaskService:         taskService,
		Dashboard:           dashboardService,
		UserService:         userService,

		MetricsHandler: metrics.Handler(reg),
	})

	return &server{handler: router, bus: bus, notifier: notifier, publisher: publisher, limiter: limiter}
}

// openSessionRepo はSESSION_BACKENDに応じたセッションリポジトリを返す。
// 返されたclose関数は呼び出し側が必ず呼ぶこと。
func openSessionRepo(ctx context.Context, cfg *config.Config, db *sql.DB) (repository.SessionRepository, func(), error) {
	if cfg.SessionBackend != config.SessionBackendRedis {
		return repository.NewPostgresSessionRepo(db), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis session store connected", slog.String("addr", cfg.RedisAddr))
	return repository.NewRedisSessionRepo(client), func() { client.Close() }, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. セッションストア
	sessionRepo, closeSessions, err := openSessionRepo(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeSessions()

	// 3. ワイヤリング
	srv := newServer(cfg, db, sessionRepo)
	defer srv.limiter.Stop()

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 4. 起動とシャットダウン
	g, gctx := errgroup.WithContext(ctx)

	if srv.notifier != nil {
		g.Go(func() error {
			srv.notifier.Run(gctx)
			if err := srv.publisher.Close(); err != nil {
				slog.Warn("failed to close amqp connection", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		slog.Info("API server starting",
			slog.String("addr", httpServer.Addr),
			slog.String("session_backend", cfg.SessionBackend),
			slog.Bool("amqp_enabled", srv.notifier != nil),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down API server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// PostgreSQLバックエンドでは期限切れセッションのクリーンアップを定期実行する。
// 監視用に/healthと/metricsをSERVER_PORTで公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	var job *cleanup.CleanupJob
	if cfg.SessionBackend == config.SessionBackendPostgres {
		db, err := database.Connect(ctx, cfg.DatabaseURL, database.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		slog.Info("database connection established (worker)")
		job = cleanup.NewCleanupJob(db, slog.Default(), collector)
	} else {
		slog.Info("session cleanup disabled: redis sessions expire by TTL")
	}

	opsServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if job != nil {
		g.Go(func() error {
			job.Start(gctx, cfg.SessionCleanupInterval)
			return nil
		})
	}

	g.Go(func() error {
		slog.Info("worker starting",
			slog.String("addr", opsServer.Addr),
			slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
		)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("worker listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down worker...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return opsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// downが0の場合はすべての未適用マイグレーションを適用し、正の場合はその件数だけ取り消す。
func runMigrate(cfg *config.Config, down int) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Int("down", down),
	)

	if down > 0 {
		if err := database.RollbackMigrations(cfg.DatabaseURL, down); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
	} else {
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	version, dirty, err := database.CurrentVersion(cfg.DatabaseURL)
	if err != nil {
		return err
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
