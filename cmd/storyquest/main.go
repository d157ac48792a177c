// Command storyquest serves the StoryQuest story API.
//
// Usage:
//
//	storyquest serve
//	storyquest check-input --age-range 6-8 "let's ride a comet"
//	storyquest version
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/storyquest/internal/app"
	"github.com/ent0n29/storyquest/internal/config"
	"github.com/ent0n29/storyquest/internal/observability"
)

type CLI struct {
	Serve      ServeCmd      `cmd:"" default:"1" help:"Start the story API server."`
	CheckInput CheckInputCmd `cmd:"" name:"check-input" help:"Run the safety input filter on a string."`
	Version    VersionCmd    `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to a YAML config file." type:"path" env:"STORYQUEST_CONFIG_FILE"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." env:"LOG_LEVEL" default:"info"`
	LogFormat string `help:"Log format (console or json)." env:"LOG_FORMAT" default:"console"`
}

func (c *CLI) load() (config.Config, zerolog.Logger, error) {
	logger := observability.NewLogger(c.LogLevel, c.LogFormat)
	if err := config.LoadEnvFiles(); err != nil {
		return config.Config{}, logger, err
	}
	if c.Config != "" {
		if err := os.Setenv("STORYQUEST_CONFIG_FILE", c.Config); err != nil {
			return config.Config{}, logger, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, logger, fmt.Errorf("config error: %w", err)
	}
	return cfg, logger, nil
}

type ServeCmd struct {
	Addr string `help:"Listen address (overrides APP_BIND_ADDR)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, logger, err := cli.load()
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.BindAddr = c.Addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	built, err := app.Build(ctx, cfg, logger, version())
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.BindAddr).Msg("storyquest listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), built.Cleanup(shutdownCtx))
	})
	return g.Wait()
}

type CheckInputCmd struct {
	AgeRange string `help:"Age bracket to check against." default:"6-8"`
	Text     string `arg:"" help:"Text to check."`
}

func (c *CheckInputCmd) Run(cli *CLI) error {
	cfg, logger, err := cli.load()
	if err != nil {
		return err
	}
	filter, err := app.NewFilter(cfg, logger, nil)
	if err != nil {
		return err
	}
	res := filter.FilterInput(context.Background(), c.Text, c.AgeRange)
	if res.OK() {
		fmt.Printf("allowed: %q\n", res.Text)
		return nil
	}
	fmt.Printf("rejected: %s\n", res.Reason)
	if v := res.Violation; v != nil {
		fmt.Printf("  type=%s severity=%s\n", v.Kind, v.Severity)
		for k, val := range v.Details {
			fmt.Printf("  %s=%s\n", k, val)
		}
	}
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("storyquest %s\n", version())
	return nil
}

func version() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			return info.Main.Version
		}
	}
	return "dev"
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("storyquest"),
		kong.Description("Safe interactive stories for kids."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
