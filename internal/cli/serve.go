package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zaplink/zaplink/internal/alert"
	"github.com/zaplink/zaplink/internal/bus"
	"github.com/zaplink/zaplink/internal/config"
	"github.com/zaplink/zaplink/internal/gatewayapi"
	"github.com/zaplink/zaplink/internal/httpapi"
	"github.com/zaplink/zaplink/internal/hub"
	"github.com/zaplink/zaplink/internal/instance"
	"github.com/zaplink/zaplink/internal/poller"
	"github.com/zaplink/zaplink/internal/relay"
	"github.com/zaplink/zaplink/internal/reply"
	"github.com/zaplink/zaplink/internal/replycache"
	"github.com/zaplink/zaplink/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the instance lifecycle service",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	printHeader("🌐 ZapLink Service")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.EnsureDir(cfg.Paths.DataDir); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store, err := instance.NewStore(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open instance store: %w", err)
	}
	defer store.Close()
	fmt.Printf("💾 Instance store: %s\n", cfg.DatabasePath())

	gw := gatewayapi.NewHTTPClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, gatewayapi.CallTimeout)
	fmt.Printf("🔌 WhatsApp gateway: %s\n", cfg.Gateway.BaseURL)

	p := poller.New(store, gw, cfg.Poller.Interval, cfg.Poller.MaxUnattended)
	defer p.StopAll()

	h := hub.New(store, p, cfg.Hub.LivenessTTL)
	store.AddListener(h)

	if cfg.Kafka.Enabled {
		pub := relay.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer pub.Close()
		store.AddListener(relay.NewListener(pub))
		fmt.Printf("📦 Transition relay: kafka %s topic %s\n", cfg.Kafka.Brokers, cfg.Kafka.Topic)
	}
	if alerter := alert.NewSlackAlerter(cfg.Slack.Token, cfg.Slack.Channel); alerter != nil {
		store.AddListener(alerter)
		fmt.Printf("🔔 Error alerts: slack %s\n", cfg.Slack.Channel)
	}

	msgBus := bus.NewMessageBus()
	ingestor := webhook.NewIngestor(store, msgBus, cfg.Webhook.DedupTTL)
	cache := replycache.New(cfg.ReplyCache.TTL, cfg.ReplyCache.Capacity)
	worker := reply.NewWorker(msgBus, cache, ackGenerator(), gw)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go h.Run(ctx)
	go worker.Run(ctx)

	api := httpapi.New(store, h, p, ingestor, gw, version)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		fmt.Println("\n👋 Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	fmt.Printf("📡 API Server listening on http://%s\n", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ackGenerator is the built-in reply pipeline: a plain acknowledgement.
// Deployments with an AI backend replace it by running their own worker
// against the same bus.
func ackGenerator() reply.Generator {
	return reply.GeneratorFunc(func(ctx context.Context, agentID, message string) (string, error) {
		return "Recebemos sua mensagem e retornaremos em breve.", nil
	})
}
