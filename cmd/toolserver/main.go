// Broker MCP tool server: exposes the app server's provider API as
// JSON-RPC tools over POST /mcp.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/credbroker/broker/internal/toolserver"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var version = "0.1.0"

// CLI holds the tool server flags.
type CLI struct {
	AppServerURL string        `name:"app-server-url" env:"APP_SERVER_URL" default:"http://127.0.0.1:8000" help:"Base URL of the broker app server"`
	Host         string        `env:"MCP_HOST" default:"127.0.0.1" help:"Listen host"`
	Port         int           `env:"MCP_PORT" default:"9001" help:"Listen port"`
	LogLevel     string        `env:"LOG_LEVEL" default:"info" enum:"trace,debug,info,warn,error" help:"Log level"`
	Timeout      time.Duration `env:"APP_SERVER_TIMEOUT" default:"15s" help:"Timeout for app server requests"`
}

func (c *CLI) Run() error {
	if lvl, err := zerolog.ParseLevel(c.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	app := toolserver.NewAppClient(c.AppServerURL, &http.Client{Timeout: c.Timeout})
	srv := toolserver.New(app, version)

	addr := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("🛑 Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Str("app_server", c.AppServerURL).Msg("🧰 MCP tool server listening")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("toolserver"),
		kong.Description("MCP tool server for the credential broker"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	if err := ctx.Run(); err != nil {
		log.Fatal().Err(err).Msg("Tool server failed")
	}
}
