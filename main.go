package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/page-shelf/page-shelf/internal/cache"
	"github.com/page-shelf/page-shelf/internal/config"
	"github.com/page-shelf/page-shelf/internal/lifecycle"
	"github.com/page-shelf/page-shelf/internal/logging"
	"github.com/page-shelf/page-shelf/internal/offline"
	"github.com/page-shelf/page-shelf/internal/server"
	"github.com/page-shelf/page-shelf/internal/version"
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

	manifest, err := cfg.ResolveManifest()
	if err != nil {
		fmt.Fprintf(stdErr, "加载资源清单失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["generation"] = cfg.Global.Generation
		fields["manifest"] = len(manifest)
		fields["backend"] = cfg.Global.StoreBackend
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序固定为“配置 → 存储 → 预加载(install) → 激活(activate) →
	// Fiber server”，保证请求到达时激活 generation 已经就绪。
	registry, err := cache.NewRegistry(cfg.Global.StoreBackend, cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存存储失败: %v\n", err)
		return 1
	}
	defer registry.Close()

	origin, err := url.Parse(cfg.Global.Origin)
	if err != nil {
		fmt.Fprintf(stdErr, "解析 Origin 失败: %v\n", err)
		return 1
	}

	client := server.NewOriginClient(cfg.Global.UpstreamTimeout.DurationValue())
	manager, err := offline.NewManager(offline.Options{
		Client:             client,
		Logger:             logger,
		Registry:           registry,
		Origin:             origin,
		PreloadConcurrency: cfg.Global.PreloadConcurrency,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存管理器失败: %v\n", err)
		return 1
	}
	defer manager.Drain()

	driver, err := lifecycle.NewDriver(manager, registry, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化生命周期驱动失败: %v\n", err)
		return 1
	}

	ctx := context.Background()
	if err := driver.Install(ctx, cfg.Global.Generation, manifest); err != nil {
		fmt.Fprintf(stdErr, "预加载失败: %v\n", err)
		return 1
	}
	if err := driver.Activate(ctx, cfg.Global.Generation); err != nil {
		fmt.Fprintf(stdErr, "激活失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["generation"] = cfg.Global.Generation
	fields["manifest"] = len(manifest)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["backend"] = cfg.Global.StoreBackend
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, driver, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("page-shelf", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 PAGE_SHELF_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("PAGE_SHELF_CONFIG")
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

func startHTTPServer(cfg *config.Config, driver *lifecycle.Driver, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Handler:    driver,
		Inspector:  driver,
		ListenPort: port,
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
