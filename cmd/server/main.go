// StaffPlan 人员分配优化服务
// 主程序入口

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/paiban/staffplan/internal/config"
	"github.com/paiban/staffplan/internal/database"
	"github.com/paiban/staffplan/internal/handler"
	"github.com/paiban/staffplan/internal/lock"
	"github.com/paiban/staffplan/internal/metrics"
	"github.com/paiban/staffplan/internal/middleware"
	"github.com/paiban/staffplan/internal/repository"
	"github.com/paiban/staffplan/internal/topology"
	"github.com/paiban/staffplan/pkg/engine"
	"github.com/paiban/staffplan/pkg/logger"
	"github.com/paiban/staffplan/pkg/model"
	"github.com/paiban/staffplan/pkg/normalize"
	"github.com/paiban/staffplan/pkg/scoring"
	"github.com/paiban/staffplan/pkg/supply"
)

// 构建信息（通过 ldflags 注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	_ engine.Store  = (*repository.MemoryStore)(nil)
	_ engine.Store  = (*repository.PostgresStore)(nil)
	_ engine.Locker = (*lock.LocalLocker)(nil)
	_ engine.Locker = (*lock.RedisLocker)(nil)
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Format: cfg.App.LogFormat,
	})

	fmt.Printf("StaffPlan 人员分配优化引擎 v%s\n", Version)
	fmt.Printf("Build: %s (%s)\n", BuildTime, GitCommit)
	fmt.Println()

	topo, err := topology.Load(cfg.Topology.File)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.Topology.File).Msg("加载站点拓扑失败")
	}

	engCfg, err := engineConfig(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("优化配置无效")
	}

	system := handler.NewSystemHandler(cfg.App.Name, handler.BuildInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	})

	store, closeStore, err := openStore(cfg, system)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("初始化存储失败")
	}
	defer closeStore()

	locker, closeLocker, err := openLocker(cfg, system)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Lock.Backend).Msg("初始化范围锁失败")
	}
	defer closeLocker()

	reg := metrics.New()
	eng := engine.New(engCfg, store, topo,
		engine.WithLocker(locker),
		engine.WithObserver(reg),
	)

	mux := http.NewServeMux()
	system.Register(mux)

	api := http.NewServeMux()
	handler.NewOptimizeHandler(eng, reg).Register(api)
	handler.NewConstraintHandler(engCfg.Weights).Register(api)
	var apiHandler http.Handler = api
	if cfg.API.Timeout > 0 {
		apiHandler = http.TimeoutHandler(api, cfg.API.Timeout, `{"code":"TIMEOUT","message":"请求超时"}`)
	}
	mux.Handle("/api/v1/", apiHandler)

	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, reg.Handler())
	}

	mws := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.Recovery,
		middleware.RateLimit(middleware.NewRateLimiter(float64(cfg.API.RateLimit))),
	}
	if cfg.API.CORS.Enabled {
		mws = append(mws, middleware.CORS(cfg.API.CORS.Origins))
	}
	mws = append(mws, middleware.SecurityHeaders, middleware.Logging(reg))

	port := fmt.Sprintf("%d", cfg.App.Port)
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      middleware.Chain(mux, mws...),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.API.Timeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 启动服务器（非阻塞）
	go func() {
		logger.Info().
			Str("port", port).
			Str("version", Version).
			Str("env", cfg.App.Env).
			Str("store", cfg.Store.Backend).
			Str("lock", cfg.Lock.Backend).
			Str("url", fmt.Sprintf("http://localhost:%s", port)).
			Msg("服务器启动")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("服务器启动失败")
			os.Exit(1)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("服务器关闭失败")
		return
	}

	logger.Info().Msg("服务器已关闭")
}

// engineConfig 将应用配置映射为引擎配置
func engineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.DefaultConfig()
	o := cfg.Optimizer

	morning, err := model.NewClockWindow(o.MorningStart, o.MorningEnd)
	if err != nil {
		return out, fmt.Errorf("上午时段: %w", err)
	}
	afternoon, err := model.NewClockWindow(o.AfternoonStart, o.AfternoonEnd)
	if err != nil {
		return out, fmt.Errorf("下午时段: %w", err)
	}
	if afternoon.Start < morning.End {
		return out, fmt.Errorf("下午时段必须在上午时段之后")
	}
	windows := model.HalfDayWindows{Morning: morning, Afternoon: afternoon}

	out.Normalize = normalize.Config{
		Windows:              windows,
		ReferenceSlotMinutes: o.ReferenceSlotMinutes,
		IncludeWeekends:      o.IncludeWeekends,
	}
	out.Supply = supply.Config{
		Windows:            windows,
		IncludeWeekends:    o.IncludeWeekends,
		BackupGenericShare: o.BackupGenericShare,
	}
	if o.SolverTimeout > 0 {
		out.Exact.Timeout = o.SolverTimeout
	}
	if o.NodeBudget > 0 {
		out.Exact.NodeBudget = o.NodeBudget
	}
	if o.MaxVars > 0 {
		out.Exact.MaxVars = o.MaxVars
	}
	if o.LocalSearchIterations > 0 {
		out.Search.MaxIterations = o.LocalSearchIterations
	}
	if o.HistoryLookbackDays > 0 {
		out.HistoryLookbackDays = o.HistoryLookbackDays
	}
	if o.MaxConcurrentScopes > 0 {
		out.MaxConcurrentScopes = o.MaxConcurrentScopes
	}
	out.AssignAdministrative = o.AssignAdministrative

	w := cfg.Weights
	out.Weights = scoring.Weights{
		CoverageReward:    w.CoverageReward,
		SiteChange:        w.SiteChange,
		ClosureOverload:   w.ClosureOverload,
		OverloadThreshold: w.OverloadThreshold,
		OverloadWindow:    w.OverloadWindow,
		LocationOveruse:   w.LocationOveruse,
		OveruseWindow:     w.OveruseWindow,
		Continuity:        w.Continuity,
		PreferredLocation: w.PreferredLocation,
	}
	if out.Weights.CoverageReward <= 0 {
		return out, fmt.Errorf("覆盖奖励权重必须为正数")
	}
	return out, nil
}

// openStore 按配置创建存储，postgres 时注册数据库健康检查
func openStore(cfg *config.Config, system *handler.SystemHandler) (engine.Store, func(), error) {
	switch cfg.Store.Backend {
	case "", "memory":
		if cfg.Store.SeedFile == "" {
			logger.Warn().Msg("未配置初始数据，内存存储为空")
			return repository.NewMemoryStore(nil), func() {}, nil
		}
		store, err := repository.LoadSeedFile(cfg.Store.SeedFile)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "postgres":
		db, err := database.New(&cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Store.AutoMigrate {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := repository.Migrate(ctx, db); err != nil {
				db.Close()
				return nil, nil, err
			}
		}
		system.AddCheck("database", db.Health)
		return repository.NewPostgresStore(db), func() { db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("未知存储类型 %q", cfg.Store.Backend)
	}
}

// openLocker 按配置创建范围锁，redis 时注册连接健康检查
func openLocker(cfg *config.Config, system *handler.SystemHandler) (engine.Locker, func(), error) {
	opts := lock.Options{
		TTL:           cfg.Lock.TTL,
		WaitTimeout:   cfg.Lock.WaitTimeout,
		RetryInterval: cfg.Lock.RetryInterval,
	}
	switch cfg.Lock.Backend {
	case "", "local":
		return lock.NewLocalLocker(opts), func() {}, nil
	case "redis":
		client, err := lock.NewRedisClient(&cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		system.AddCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		return lock.NewRedisLocker(client, opts), closeRedis(client), nil
	default:
		return nil, nil, fmt.Errorf("未知锁类型 %q", cfg.Lock.Backend)
	}
}

func closeRedis(client *redis.Client) func() {
	return func() {
		if err := client.Close(); err != nil {
			logger.Warn().Err(err).Msg("关闭 redis 连接失败")
		}
	}
}
