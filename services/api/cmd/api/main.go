package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"formpilot/internal/credcrypt"
	"formpilot/internal/oauthstate"
	"formpilot/internal/usertoken"
	"formpilot/internal/util"
	"formpilot/pkg/ai"
	"formpilot/pkg/providers/googleforms"
	"formpilot/pkg/providers/tally"
	"formpilot/pkg/providers/typeform"
	"formpilot/pkg/queue"
	"formpilot/pkg/shortlink"
	"formpilot/pkg/storage"
	"formpilot/pkg/store"
	"formpilot/services/api/internal/app"
	"formpilot/services/api/internal/config"
	"formpilot/services/api/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		util.Fatal("failed to connect redis", "addr", cfg.RedisAddr, "err", err)
	}

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to open store", "err", err)
	}
	defer st.Close()

	cipher, err := credcrypt.New(cfg.CredentialSecret)
	if err != nil {
		util.Fatal("failed to init credential cipher", "err", err)
	}
	states, err := oauthstate.NewManager(cfg.StateSecret, redisClient, 0)
	if err != nil {
		util.Fatal("failed to init oauth state", "err", err)
	}

	generationTimeout, _ := config.ParseDuration(cfg.GenerationTimeout)
	generator, err := ai.New(ai.Config{
		Provider: cfg.GenerationProvider,
		BaseURL:  cfg.GenerationBaseURL,
		APIKey:   cfg.GenerationAPIKey,
		Model:    cfg.GenerationModel,
		Timeout:  generationTimeout,
	})
	if err != nil {
		util.Fatal("failed to init generator", "err", err)
	}

	appCfg := app.Config{
		Store:         st,
		Generator:     generator,
		Cipher:        cipher,
		States:        states,
		PublicBaseURL: cfg.PublicBaseURL,
		GoogleForms:   googleforms.NewClient(cfg.GoogleFormsEndpoint),
		Typeform:      typeform.NewClient(cfg.TypeformAPIBaseURL),
		Tally:         tally.NewClient(cfg.TallyAPIBaseURL, cfg.TallyFormBaseURL),
	}
	if cfg.BitlyToken != "" {
		bitly, err := shortlink.NewBitlyClient(cfg.BitlyToken, cfg.BitlyDomain, cfg.BitlyBaseURL)
		if err != nil {
			util.Fatal("failed to init bitly", "err", err)
		}
		appCfg.Shortener = bitly
	}
	if cfg.GoogleClientID != "" {
		appCfg.GoogleOAuth = googleforms.OAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	}
	if cfg.TypeformClientID != "" {
		appCfg.TypeformOAuth = typeform.OAuthConfig(cfg.TypeformClientID, cfg.TypeformClientSecret, cfg.TypeformRedirectURL, cfg.TypeformAPIBaseURL)
	}
	logger.Info("oauth providers", "google", appCfg.GoogleOAuth != nil, "typeform", appCfg.TypeformOAuth != nil)

	var exportQueue *queue.ExportQueue
	if cfg.MinioEndpoint != "" {
		objects, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			ExportTTL: queue.DefaultJobTTL,
		})
		if err != nil {
			util.Fatal("failed to init object store", "err", err)
		}
		exportQueue, err = queue.NewExportQueue(queue.Config{
			Client:     redisClient,
			Stream:     cfg.ExportStream,
			MaxRetries: cfg.ExportMaxRetries,
		})
		if err != nil {
			util.Fatal("failed to init export queue", "err", err)
		}
		appCfg.Exports = exportQueue
		appCfg.Objects = objects
		appCfg.ExportURLExpiry, _ = config.ParseDuration(cfg.ExportURLExpiry)
	} else {
		logger.Info("exports disabled", "reason", "minioEndpoint not set")
	}

	appCore, err := app.New(appCfg)
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}
	if exportQueue != nil {
		concurrency := cfg.ExportConcurrency
		if concurrency <= 0 {
			concurrency = 2
		}
		exportQueue.Start(ctx, concurrency, appCore.ProcessExport)
	}

	var tokenVerifier *usertoken.Verifier
	if cfg.AuthSecret != "" || cfg.AuthJWKSURL != "" {
		leeway, _ := config.ParseDuration(cfg.JWTLeeway)
		tokenVerifier, err = usertoken.NewVerifier(usertoken.Config{
			Secret:     cfg.AuthSecret,
			JWKSURL:    cfg.AuthJWKSURL,
			Issuer:     cfg.JWTIssuer,
			Audience:   cfg.JWTAudience,
			Leeway:     leeway,
			HTTPClient: &http.Client{Timeout: 5 * time.Second},
		})
		if err != nil {
			util.Fatal("failed to init token verifier", "err", err)
		}
	}

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		PublicBaseURL:              cfg.PublicBaseURL,
		AllowedOrigins:             cfg.AllowedOrigins,
		TrustedProxies:             cfg.TrustedProxyCIDRs,
		TokenVerifier:              tokenVerifier,
		Redis:                      redisClient,
		GenerateRateLimitPerMinute: cfg.GenerateRateLimitPerMinute,
		SubmitRateLimitPerMinute:   cfg.SubmitRateLimitPerMinute,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	// Form generation streams for as long as the model takes.
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout(generationTimeout),
		IdleTimeout:  60 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		util.Fatal("failed to listen", "addr", addr, "err", err)
	}
	logger.Info("api server listening", "addr", addr)
	if err := serve(ctx, srv, ln, shutdownGrace); err != nil {
		logger.Error("server error", "err", err)
	}
	if exportQueue != nil {
		exportQueue.Wait()
	}
	logger.Info("api server stopped")
}

func writeTimeout(generation time.Duration) time.Duration {
	if generation <= 0 {
		generation = 60 * time.Second
	}
	return max(30*time.Second, generation+15*time.Second)
}
