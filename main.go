package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/config"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/manifest"
	"github.com/any-hub/offline-hub/internal/metrics"
	"github.com/any-hub/offline-hub/internal/offline"
	"github.com/any-hub/offline-hub/internal/proxy"
	"github.com/any-hub/offline-hub/internal/server"
	"github.com/any-hub/offline-hub/internal/server/routes"
	"github.com/any-hub/offline-hub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	generateDir string
	core        []string
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
	if opts.generateDir != "" {
		return runGenerate(opts)
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

	manifests, err := loadManifests(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "加载资源清单失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["apps"] = config.AppSummaries(cfg.Apps)
		fields["store_backend"] = cfg.Global.StoreBackend
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap(ctx, cfg, manifests, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}
	defer rt.Close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["apps"] = config.AppSummaries(cfg.Apps)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["store_backend"] = cfg.Global.StoreBackend
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(ctx, cfg, rt.app, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// loadManifests 读取每个 App 的资源清单，任何一个失败都会阻止启动。
func loadManifests(cfg *config.Config) (map[string]*manifest.Manifest, error) {
	result := make(map[string]*manifest.Manifest, len(cfg.Apps))
	for _, app := range cfg.Apps {
		m, err := manifest.Load(app.Manifest)
		if err != nil {
			return nil, fmt.Errorf("App[%s]: %w", app.Name, err)
		}
		result[app.Name] = m
	}
	return result, nil
}

// runGenerate 扫描构建目录生成清单并以 JSON 输出到 stdout。
func runGenerate(opts cliOptions) int {
	m, err := manifest.Generate(opts.generateDir, opts.core)
	if err != nil {
		fmt.Fprintf(stdErr, "生成清单失败: %v\n", err)
		return 1
	}
	encoder := json.NewEncoder(stdOut)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(manifest.File{Resources: m.Resources(), Core: m.Core()}); err != nil {
		fmt.Fprintf(stdErr, "输出清单失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("offline-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag  string
		checkOnly   bool
		showVer     bool
		generateDir string
		coreList    string
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 OFFLINE_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.StringVar(&generateDir, "generate-manifest", "", "扫描构建目录生成资源清单（JSON 输出到 stdout）")
	fs.StringVar(&coreList, "core", "", "生成清单时的核心资源，逗号分隔")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if coreList != "" && generateDir == "" {
		return cliOptions{}, errors.New("-core 只能与 -generate-manifest 一起使用")
	}

	path := os.Getenv("OFFLINE_HUB_CONFIG")
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
		generateDir: generateDir,
		core:        splitList(coreList),
	}, nil
}

func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// service 持有启动阶段构建的共享实例。
type service struct {
	app         *fiber.App
	registry    *server.AppRegistry
	controllers *offline.Controllers
	store       cache.Store
	gatherer    prometheus.Gatherer
}

// Close 等待后台下载任务退出并释放缓存后端。
func (rt *service) Close() {
	rt.controllers.Close()
	if err := rt.store.Close(); err != nil {
		fmt.Fprintf(stdErr, "关闭缓存失败: %v\n", err)
	}
}

// bootstrap 遵循“配置 → AppRegistry → 缓存 → Controller → Fiber server”顺序，
// 保证所有请求共享统一的路由、缓存与指标实例。
func bootstrap(ctx context.Context, cfg *config.Config, manifests map[string]*manifest.Manifest, logger *logrus.Logger) (*service, error) {
	registry, err := server.NewAppRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("构建 App 注册表失败: %w", err)
	}

	store, err := cache.Open(cfg.Global.StoreBackend, cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存失败: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	httpClient := server.NewUpstreamClient(cfg)
	network := offline.NewHTTPFetcher(httpClient)
	controllers := offline.NewControllers()

	for _, route := range registry.List() {
		controller, err := newController(route, cfg, store, network, logger, m)
		if err != nil {
			store.Close()
			return nil, err
		}
		if err := controllers.Add(controller); err != nil {
			store.Close()
			return nil, err
		}
		deployApp(ctx, controller, manifests[route.Config.Name], logger)
		if route.Config.WatchManifest {
			watchManifest(ctx, route, controller, manifests[route.Config.Name], logger)
		}
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      proxy.NewForwarder(controllers, proxy.NewHandler(httpClient, logger), logger),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		controllers.Close()
		store.Close()
		return nil, err
	}
	routes.RegisterAppRoutes(app, routes.Options{
		Registry:    registry,
		Controllers: controllers,
		Gatherer:    reg,
		Logger:      logger,
	})

	return &service{
		app:         app,
		registry:    registry,
		controllers: controllers,
		store:       store,
		gatherer:    reg,
	}, nil
}

func newController(route server.AppRoute, cfg *config.Config, store cache.Store, network offline.Network, logger *logrus.Logger, m *metrics.Metrics) (*offline.Controller, error) {
	app := route.Config
	return offline.NewController(offline.ControllerOptions{
		Name:   app.Name,
		Domain: app.Domain,
		NewWorker: func(mf *manifest.Manifest) (*offline.Worker, error) {
			return offline.NewWorker(offline.Options{
				App:              app.Name,
				Domain:           app.Domain,
				Origin:           route.OriginURL,
				Manifest:         mf,
				Store:            store,
				Network:          network,
				Logger:           logger,
				Metrics:          m,
				Concurrency:      cfg.Global.DownloadConcurrency,
				ManualActivation: app.ManualActivation,
			})
		},
		Logger:  logger,
		Metrics: m,
	})
}

// deployApp 部署启动时的清单。失败只记录日志：App 仍可透传请求，等待下一次清单变更。
func deployApp(ctx context.Context, controller *offline.Controller, m *manifest.Manifest, logger *logrus.Logger) {
	if m == nil {
		return
	}
	if err := controller.Deploy(ctx, m); err != nil {
		logger.WithFields(logging.LifecycleFields(controller.Name(), string(offline.EventInstall), m.Digest())).
			WithError(err).
			Error("deploy_failed")
	}
}

func watchManifest(ctx context.Context, route server.AppRoute, controller *offline.Controller, current *manifest.Manifest, logger *logrus.Logger) {
	go func() {
		err := manifest.Watch(ctx, route.Config.Manifest, current, logger, func(next *manifest.Manifest) {
			deployApp(ctx, controller, next, logger)
		})
		if err != nil {
			logger.WithFields(logrus.Fields{
				"action": "manifest_watch",
				"app":    route.Config.Name,
				"path":   route.Config.Manifest,
			}).WithError(err).Error("manifest_watch_failed")
		}
	}()
}

func startHTTPServer(ctx context.Context, cfg *config.Config, app *fiber.App, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", port))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.WithField("action", "shutdown").Info("收到退出信号，正在关闭服务")
		return app.Shutdown()
	}
}
