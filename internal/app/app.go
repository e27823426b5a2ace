package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/clarus/internal/analysis"
	"github.com/hitoshi/clarus/internal/chat"
	"github.com/hitoshi/clarus/internal/config"
	"github.com/hitoshi/clarus/internal/database"
	"github.com/hitoshi/clarus/internal/extractor"
	"github.com/hitoshi/clarus/internal/handler"
	"github.com/hitoshi/clarus/internal/logger"
	"github.com/hitoshi/clarus/internal/metrics"
	"github.com/hitoshi/clarus/internal/middleware"
	"github.com/hitoshi/clarus/internal/model"
	"github.com/hitoshi/clarus/internal/remote"
	"github.com/hitoshi/clarus/internal/repository"
	"github.com/hitoshi/clarus/internal/security"
	"github.com/hitoshi/clarus/internal/store"
	"github.com/hitoshi/clarus/internal/submission"
	"github.com/hitoshi/clarus/internal/worker/cleanup"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		return runHealthcheck(healthcheckTarget(args, os.Getenv))
	}

	// scrape はリモート推論サービスの設定を必要としない
	if cmd == CommandScrape {
		logger.SetupDefault(w)
		return runScrape(config.LoadScraper())
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("store_driver", cfg.StoreDriver),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// server はAPIサーバーの構成要素と後始末をまとめる。
type server struct {
	handler http.Handler
	cleanup *cleanup.CleanupJob
	closers []func()
}

// Close は取得したリソースを取得順と逆に解放する。
func (s *server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// newServer は設定から全依存関係をワイヤリングし、APIのHTTPハンドラーを構築する。
func newServer(cfg *config.Config, log *slog.Logger) (*server, error) {
	s := &server{}

	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc := metrics.NewCollector(reg)

	// 2. 永続ストア
	repo, db, err := openRegisterRepo(cfg)
	if err != nil {
		return nil, err
	}
	if db != nil {
		s.closers = append(s.closers, func() { db.Close() })
	}

	// 3. 表示中の分析のキャッシュ
	cache, closeCache, err := newSessionCache(cfg, log, mc)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, closeCache)

	// 4. 外部サービスのクライアント
	sanitizer := security.NewContentSanitizer()
	ext := newExtractor(cfg, sanitizer, log)
	remoteClient := remote.NewClient(remote.Config{
		APIKey:        cfg.PerplexityAPIKey,
		BaseURL:       cfg.PerplexityBaseURL,
		AnalysisModel: cfg.AnalysisModel,
		ChatModel:     cfg.ChatModel,
		Timeout:       cfg.RemoteTimeout,
	}, log, mc)

	// 5. ドメインサービス
	analysisService := analysis.NewService(
		submission.NewRouter(ext, log, mc),
		remoteClient,
		store.NewCollectionStore(repo, log, mc),
		cache,
		sanitizer,
		log,
		mc,
	)
	chatService := chat.NewService(store.NewRegisterChatStore(repo, log, mc), remoteClient, log, mc)

	// 6. ルーター
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAnalyze))
	s.closers = append(s.closers, rateLimiter.Stop)

	deps := &handler.RouterDeps{
		Logger:            log,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		MetricsHandler:    metrics.Handler(reg),
		AnalysisService:   analysisService,
		ChatService:       chatService,
	}
	if db != nil {
		deps.HealthChecker = db
	}
	// 端末共有モードでは、リクエストごとに他スコープの表示中データを破棄する
	if cfg.DeviceMode {
		deps.ScopeActivator = cache
	}

	s.handler = handler.NewRouter(deps)

	// 7. ゲストデータの自動削除
	if cfg.GuestRetention > 0 {
		if pruner, ok := repo.(repository.RegisterPruner); ok {
			s.cleanup = cleanup.NewCleanupJob(pruner, store.ScopeKeys(model.GuestScope), log)
			s.cleanup.Retention = cfg.GuestRetention
		}
	}

	return s, nil
}

// openRegisterRepo はストアドライバーに応じたレジスタリポジトリを開く。
// インメモリの場合は *sql.DB を返さない。
func openRegisterRepo(cfg *config.Config) (repository.RegisterRepository, *sql.DB, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		slog.Warn("using in-memory store; analyses are lost on restart")
		return repository.NewMemoryRegisterRepo(), nil, nil
	case config.StoreDriverPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established")
		return repository.NewPostgresRegisterRepo(db), db, nil
	default:
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("sqlite store opened", slog.String("path", cfg.SQLitePath))
		return repository.NewSQLiteRegisterRepo(db), db, nil
	}
}

// newSessionCache はREDIS_URLが設定されていればRedis、なければプロセス内メモリのキャッシュを返す。
func newSessionCache(cfg *config.Config, log *slog.Logger, mc metrics.MetricsCollector) (store.SessionCache, func(), error) {
	if cfg.RedisURL == "" {
		return store.NewMemorySessionCache(), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// 起動時に到達できなくてもキャッシュなしとして動作を続ける
		log.Warn("redis is unreachable; current analysis will not be cached until it recovers",
			slog.String("error", err.Error()),
		)
	}

	return store.NewRedisSessionCache(rdb, cfg.SessionCacheTTL, log, mc), func() { rdb.Close() }, nil
}

// newExtractor はSCRAPER_URLが設定されていれば外部ブリッジ、なければプロセス内のスクレイパーを返す。
func newExtractor(cfg *config.Config, sanitizer extractor.TextSanitizer, log *slog.Logger) extractor.Extractor {
	if cfg.ScraperURL != "" {
		slog.Info("using external extraction bridge", slog.String("url", cfg.ScraperURL))
		return extractor.NewBridgeClient(cfg.ScraperURL, &http.Client{Timeout: cfg.ScrapeTimeout + 5*time.Second}, log)
	}
	return extractor.NewScraper(security.NewSSRFGuard(), sanitizer, log, cfg.ScrapeTimeout, cfg.ScrapeMaxSize)
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	srv, err := newServer(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer srv.Close()

	if srv.cleanup != nil {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go srv.cleanup.Start(ctx, cfg.CleanupInterval)
	}

	// 分析はリモート推論の応答を待つため、書き込みタイムアウトをその分延ばす
	return listenAndServe(&http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RemoteTimeout + cfg.ScrapeTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}, "API server")
}

// runScrape はURL抽出ブリッジを単独のHTTPサービスとして起動する。
func runScrape(cfg *config.ScraperConfig) error {
	log := slog.Default()
	scraper := extractor.NewScraper(
		security.NewSSRFGuard(), security.NewContentSanitizer(),
		log, cfg.ScrapeTimeout, cfg.ScrapeMaxSize,
	)

	routes := extractor.NewScrapeHandler(scraper, log).Routes()
	h := middleware.NewRecoveryMiddleware(log)(middleware.NewLoggingMiddleware(log)(routes))

	return listenAndServe(&http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ScrapeTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}, "scraper")
}

// listenAndServe はサーバーを起動し、シグナル受信でグレースフルシャットダウンする。
func listenAndServe(server *http.Server, name string) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("%s listen error: %w", name, err)
	case <-stop:
	}

	slog.Info("shutting down " + name + "...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// SQLiteとインメモリはスキーマを起動時に作成するため、Postgres以外では何もしない。
func runMigrate(cfg *config.Config) error {
	if cfg.StoreDriver != config.StoreDriverPostgres {
		slog.Info("migrations are only needed for postgres; nothing to do",
			slog.String("store_driver", cfg.StoreDriver),
		)
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
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
