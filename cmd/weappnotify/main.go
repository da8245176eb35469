package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"weappnotify/internal/api"
	"weappnotify/internal/app"
	"weappnotify/internal/config"
	"weappnotify/pkg/systemd"
)

func main() {
	var (
		cfgPath  string
		envFiles string
		token    string
		tokenTTL time.Duration
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json)")
	flag.StringVar(&envFiles, "env", ".env", "comma-separated dotenv files (missing files are ignored)")
	flag.StringVar(&token, "issue-token", "", "print a bearer token for this subject and exit")
	flag.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of -issue-token tokens")
	flag.Parse()

	if err := config.LoadDotEnv(splitList(envFiles)...); err != nil {
		fmt.Println("fatal env:", err)
		os.Exit(1)
	}

	if token != "" {
		if err := issueToken(cfgPath, token, tokenTTL); err != nil {
			fmt.Println("fatal:", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}
	_, _ = systemd.Ready()
	go func() { _ = systemd.Watchdog(ctx) }()

	reason := app.StopSIGTERM
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	_, _ = systemd.Stopping()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		fmt.Println("stop:", err)
	}
	if err := a.Err(); err != nil && reason == app.StopFatalError {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func issueToken(cfgPath, subject string, ttl time.Duration) error {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return err
	}
	if cfg.HTTP.JWTSecret == "" {
		return errors.New("http.jwt_secret is not set")
	}
	tok, err := api.GenerateToken(cfg.HTTP.JWTSecret, subject, ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
