// Command chatserver wires the whole backend into one process: the
// JSON API (signup/login, friends, groups, history), the websocket
// session hub, the outbox notifier, and the broker consumer.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/shopmindai/chatcore/internal/authn"
	"github.com/shopmindai/chatcore/internal/broker"
	"github.com/shopmindai/chatcore/internal/config"
	"github.com/shopmindai/chatcore/internal/conversation"
	"github.com/shopmindai/chatcore/internal/httpapi"
	"github.com/shopmindai/chatcore/internal/hub"
	"github.com/shopmindai/chatcore/internal/metrics"
	"github.com/shopmindai/chatcore/internal/outbox"
	"github.com/shopmindai/chatcore/internal/relationship"
	"github.com/shopmindai/chatcore/internal/sessionstore"
	"github.com/shopmindai/chatcore/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	migrationsPath := flag.String("migrations", "file://migrations", "golang-migrate source URL")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(envOr("CHAT_LOG_FILTER", "info"))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	entry := logrus.NewEntry(log)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if cfg.UsedDevSigningKey() {
		log.Warn("JWT_SIGNING_KEY not set; using development default signing key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, storage.Config{DSN: cfg.Database.DSN})
	if err != nil {
		log.WithError(err).Fatal("open postgres")
	}
	defer db.Close()

	if err := storage.Migrate(db, *migrationsPath); err != nil {
		log.WithError(err).Fatal("apply migrations")
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
	defer redisClient.Close()
	refreshTokens := sessionstore.New(redisClient)

	publisher := outbox.NewKafkaPublisher(cfg.Kafka.Brokers)
	defer publisher.Close()

	relationships := relationship.New(db)
	conversations := conversation.New(db)

	issuer := authn.NewTokenIssuer(cfg.JWTSigningKey, cfg.Auth.AccessTTL)
	accounts := authn.NewService(db, issuer, refreshTokens, cfg.Auth.RefreshTTL)
	verifier := authn.NewJWTVerifier(cfg.JWTSigningKey)
	if cfg.Captcha.Backend != "fake" {
		log.WithField("backend", cfg.Captcha.Backend).Fatal("only the fake captcha backend is compiled into this binary")
	}
	captcha := authn.FakeCaptchaVerifier{}

	reg := prometheus.NewRegistry()
	metrics.Register(reg)

	router := hub.NewCommandRouter(conversations)
	sessionHub := hub.New(hub.Config{
		MaxInflightMessages: cfg.Hub.MaxInflightMessages,
		MaxInflightResults:  cfg.Hub.MaxInflightResults,
		WorkerTimeout:       cfg.Hub.WorkerTimeout,
		MailboxCapacity:     cfg.Hub.MailboxCapacity,
		MessageRateLimit:    rate.Limit(cfg.Hub.MessageRateLimit),
		MessageRateBurst:    cfg.Hub.MessageRateBurst,
	}, router, entry.WithField("component", "hub"))

	notifier := outbox.NewNotifier(db, outbox.Config{
		BatchSize:    cfg.Outbox.BatchSize,
		PollInterval: cfg.Outbox.PollInterval,
		RetryBackoff: cfg.Outbox.RetryBackoff,
	}, publisher, cfg.Kafka.EventsTopic, entry.WithField("component", "notifier"))
	go notifier.Run(ctx)

	fanout := broker.NewFanoutHandler(sessionHub, entry.WithField("component", "fanout"))
	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, cfg.Kafka.ConsumerGroup, entry.WithField("component", "consumer"))
	go func() {
		if err := consumer.Run(ctx, fanout); err != nil {
			entry.WithError(err).Error("broker consumer stopped")
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	r.GET("/ws", wsHandler(verifier, sessionHub, entry))

	api := httpapi.New(accounts, captcha, verifier, relationships, conversations, entry.WithField("component", "httpapi"))
	api.Register(r.Group("/api/v1"))

	srv := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the hub owns write deadlines per frame
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		entry.WithField("addr", cfg.Server.HTTPAddr).Info("starting http server")
		var err error
		if cfg.Server.CertPath != "" && cfg.Server.KeyPath != "" {
			err = srv.ListenAndServeTLS(cfg.Server.CertPath, cfg.Server.KeyPath)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			entry.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	entry.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sessionHub.Shutdown(shutdownCtx)
	_ = srv.Shutdown(shutdownCtx)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsHandler authenticates the upgrade request against the bearer
// token, then hands the connection to the hub under the verified user
// id — the only identity the hub's command dispatch ever trusts.
func wsHandler(verifier authn.TokenVerifier, h *hub.Hub, log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := verifier.Verify(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.WithError(err).Warn("websocket upgrade failed")
			return
		}

		h.Accept(c.Request.Context(), userID, conn)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
