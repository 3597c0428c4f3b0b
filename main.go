package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"merilcat/pkg/api"
	"merilcat/pkg/bot"
	"merilcat/pkg/config"
	"merilcat/pkg/llm"
	_ "merilcat/pkg/llm/autoload" // registers LLM providers
	"merilcat/pkg/monitor"
	"merilcat/pkg/plugin"
	"merilcat/pkg/plugins"
	_ "merilcat/pkg/plugins/autoload" // registers configurable plugins
	"merilcat/pkg/plugins/help"
)

const version = "0.3.0"

var (
	configPath string
	systemPath string
)

func main() {
	root := &cobra.Command{
		Use:          "merilcat",
		Short:        "Plugin bot for OneBot v11 gateways",
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.json", "application config file")
	root.PersistentFlags().StringVar(&systemPath, "system", "system.json", "system config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Connect to the gateway and run the plugins",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "plugins",
			Short: "List the plugins the config would load",
			RunE:  runPlugins,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "merilcat", version)
			},
		},
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loader builds the configured plugins with the shared dependencies.
func loader(cfg *config.Config, sys *config.SystemConfig) (bot.PluginLoader, error) {
	var client llm.Client
	if len(cfg.LLM) > 0 {
		c, err := llm.NewFromConfig(cfg.LLM, sys)
		if err != nil {
			return nil, fmt.Errorf("init LLM client: %w", err)
		}
		client = c
	}
	return func(lister api.PluginLister) []*plugin.Plugin {
		return plugins.LoadFromConfig(cfg.Plugins, plugins.Deps{
			Config:  cfg,
			System:  sys,
			LLM:     client,
			Plugins: lister,
		})
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, sys, err := config.Load(configPath, systemPath)
	if err != nil {
		return err
	}
	monitor.SetupSlog(sys.LogLevel)
	monitor.PrintBanner(version)

	load, err := loader(cfg, sys)
	if err != nil {
		return err
	}
	b, err := bot.NewBotBuilder().
		WithConfig(cfg).
		WithSystemConfig(sys).
		WithMonitor(monitor.NewCLIMonitor()).
		WithPluginLoader(load).
		Build()
	if err != nil {
		return fmt.Errorf("build bot: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("start bot: %w", err)
	}

	sysAbs, _ := filepath.Abs(systemPath)
	changes := config.WatchConfig(ctx, sysAbs)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Received shutdown signal, stopping")
			b.Stop()
			slog.Info("Bye!")
			return nil
		case path, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			slog.Info("System config changed, reloading", "path", path)
			b.ApplySystemConfig(config.LoadSystemConfig(path))
		}
	}
}

func runPlugins(cmd *cobra.Command, args []string) error {
	cfg, sys, err := config.Load(configPath, systemPath)
	if err != nil {
		return err
	}
	monitor.SetupSlog("warn")

	load, err := loader(cfg, sys)
	if err != nil {
		return err
	}
	b, err := bot.NewBotBuilder().WithConfig(cfg).WithSystemConfig(sys).WithPluginLoader(load).Build()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), help.Listing(b.Plugins().List()))
	return nil
}
