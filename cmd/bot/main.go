package main

import (
	"answer-bot/internal/app"
	"answer-bot/internal/config"
	"answer-bot/internal/logger"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	debug            bool
	providersPath    string
	disabledCommands []string
)

var rootCmd = &cobra.Command{
	Use:   "answer-bot",
	Short: "Telegram bot that answers a message with several LLM providers at once",
	Long: `answer-bot sends a captured chat message to every configured LLM provider,
streams their progress into the chat and publishes the joined answers as one
document, followed by an optional summary.

Run without arguments to start serving.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if debug {
			logger.SetLevel("debug")
		}
		if providersPath != "" {
			return os.Setenv("PROVIDERS_CONFIG_PATH", providersPath)
		}
		return nil
	},
	RunE: serve,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot and the health endpoint until interrupted",
	RunE:  serve,
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Print the resolved provider registry",
	RunE:  listProviders,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&providersPath, "providers", "", "Path to the provider registry (overrides PROVIDERS_CONFIG_PATH)")
	rootCmd.PersistentFlags().StringSliceVar(&disabledCommands, "disable-command", nil, "Chat command to turn off (repeatable)")

	rootCmd.AddCommand(serveCmd, providersCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appConfig, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	api, err := tgbotapi.NewBotAPI(appConfig.Telegram.BotToken)
	if err != nil {
		return fmt.Errorf("failed to connect to telegram: %w", err)
	}
	logger.Log.WithField("bot_name", api.Self.UserName).Info("Authorized on telegram")

	application, err := app.NewConfig(ctx, appConfig, api, app.Options{
		DisabledCommands: disabledCommands,
		BotName:          api.Self.UserName,
	})
	if err != nil {
		return err
	}
	defer application.Close()

	server := newHealthServer(appConfig.Server.Port)
	go func() {
		logger.Log.WithField("port", appConfig.Server.Port).Info("Health check listening on /api/health")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.WithError(err).Error("Health server failed")
		}
	}()

	application.Run(ctx)

	logger.Log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newHealthServer(port string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
}

func listProviders(cmd *cobra.Command, args []string) error {
	path := providersPath
	if path == "" {
		path = os.Getenv("PROVIDERS_CONFIG_PATH")
	}
	if path == "" {
		path = "config/providers.yaml"
	}
	providers, err := config.NewProvidersConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load providers config: %w", err)
	}
	providers.Disable(disabledCommands)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCOMMAND\tKIND\tMODEL\tSTREAMING\tAGGREGATE\tENABLED")
	for _, p := range providers.All() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%t\t%t\n", p.Name, p.Command, p.Kind, p.Model, p.Streaming, p.Aggregate, p.Enabled)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	logger.Log.WithFields(logrus.Fields{
		"path":    path,
		"total":   len(providers.All()),
		"enabled": len(providers.Enabled()),
	}).Debug("Provider registry resolved")
	return nil
}
