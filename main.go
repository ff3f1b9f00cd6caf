package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/little-cache/little-cache/internal/cache"
	"github.com/little-cache/little-cache/internal/config"
	"github.com/little-cache/little-cache/internal/logging"
	"github.com/little-cache/little-cache/internal/resolver"
	"github.com/little-cache/little-cache/internal/server"
	"github.com/little-cache/little-cache/internal/server/routes"
	"github.com/little-cache/little-cache/internal/upstream"
	"github.com/little-cache/little-cache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["buckets"] = cfg.Buckets
		fields["key_hash"] = cfg.Global.KeyHash
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	svc, err := buildService(context.Background(), cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "%v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["buckets"] = cfg.Buckets
	fields["listen_port"] = cfg.Global.ListenPort
	fields["max_conns_per_host"] = cfg.Global.MaxConnsPerHost
	if cfg.HasDefaultBucket() {
		fields["default_bucket"] = cfg.DefaultBucket
	}
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, svc, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// service 聚合启动后共享的缓存组件。
type service struct {
	store    cache.Store
	manager  *resolver.Manager
	resolver *resolver.Resolver
}

// buildService 遵循“磁盘缓存 → bucket 预创建 → 连接池 → Resolver”顺序，
// 保证所有请求共享同一个 Store 与 http.Client。
func buildService(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*service, error) {
	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	manager, err := resolver.NewManager(store, logger)
	if err != nil {
		return nil, err
	}
	if len(cfg.Buckets) > 0 {
		if err := manager.CreateBuckets(ctx, cfg.Buckets); err != nil {
			return nil, fmt.Errorf("创建 bucket 失败: %w", err)
		}
	}

	fetcher, err := upstream.NewHTTPFetcher(upstream.NewClient(cfg))
	if err != nil {
		return nil, err
	}
	res, err := resolver.New(resolver.Options{
		Store:               store,
		Fetcher:             fetcher,
		KeyFunc:             cfg.KeyFunc(),
		Logger:              logger,
		PrefetchConcurrency: cfg.Global.PrefetchConcurrency,
	})
	if err != nil {
		return nil, err
	}

	return &service{store: store, manager: manager, resolver: res}, nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("little-cache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 LITTLE_CACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("LITTLE_CACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(cfg *config.Config, svc *service, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:        logger,
		Resolver:      svc.resolver,
		DefaultBucket: cfg.DefaultBucket,
		ListenPort:    port,
	})
	if err != nil {
		return err
	}
	routes.RegisterBucketRoutes(app, svc.manager, svc.resolver)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
