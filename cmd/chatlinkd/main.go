package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/chatlink/internal/daemon"
	"github.com/matheus3301/chatlink/internal/session"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	userFlag := flag.Int64("user", 0, "user id to sign in at start (overrides config user_id)")
	configFlag := flag.String("config", "", "config file (default ~/.chatlink/config.toml)")
	debugFlag := flag.Bool("debug", false, "log every frame")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := session.ValidateUserID(*userFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			ConfigPath:  *configFlag,
			UserID:      *userFlag,
			Debug:       *debugFlag,
		}),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: logger.Named("fx")}
			l.UseLogLevel(zap.DebugLevel)
			return l
		}),
	)

	app.Run()
}
