// tripguard 启动可靠性核心的运维进程：装配存储、特性开关、告警与熔断器，
// 并对外暴露 admin HTTP 接口，收到 SIGINT/SIGTERM 后按阶段逆序关闭。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/config"
	"github.com/ceyewan/tripguard/internal/app"
)

func main() {
	var (
		paths     = flag.String("config", ".,./config", "comma separated config search paths")
		name      = flag.String("name", "config", "config file name without extension")
		envPrefix = flag.String("env-prefix", "TRIPGUARD", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, &config.Config{
		Name:      *name,
		Paths:     strings.Split(*paths, ","),
		EnvPrefix: *envPrefix,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "tripguard: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, loaderCfg *config.Config) error {
	loader, err := config.New(loaderCfg, config.WithAllowEmpty())
	if err != nil {
		return err
	}
	cfg, err := app.Load(ctx, loader)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	a.Logger.InfoContext(ctx, "tripguard starting",
		clog.String("env", cfg.App.Env), clog.String("admin_addr", cfg.Admin.Addr))
	return a.Run(ctx)
}
