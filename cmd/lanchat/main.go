package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"lanchat/internal/peer"
)

func main() {
	cfg, err := peer.LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "lanchat: %v\n", err)
		os.Exit(2)
	}
	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lanchat: init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	app, err := peer.NewApp(cfg, log)
	if err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}
	app.Start()
	if cfg.APIAddr != "" {
		if token, err := app.Token(app.Chat.Name()); err == nil {
			log.Info("api token issued", zap.String("addr", cfg.APIAddr), zap.String("token", token))
		}
	}
	if err := peer.WaitForShutdown(app); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
}

// newLogger writes to stderr so the CLI keeps stdout to itself. The TUI
// owns the terminal, so its logs go to a file in the data directory.
func newLogger(cfg *peer.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewDevelopmentConfig()
	if cfg.LogJSON {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.TimeKey = "ts"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zcfg.Level = level
	zcfg.OutputPaths = []string{"stderr"}
	if cfg.UI == "tui" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		zcfg.OutputPaths = []string{filepath.Join(cfg.DataDir, "lanchat.log")}
	}
	return zcfg.Build()
}
