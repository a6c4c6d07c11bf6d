package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/clearpix/clearpix-api/internal/config"
	"github.com/clearpix/clearpix-api/internal/domain/billing"
	"github.com/clearpix/clearpix-api/internal/domain/credit"
	"github.com/clearpix/clearpix-api/internal/domain/notification"
	"github.com/clearpix/clearpix-api/internal/domain/upscale"
	"github.com/clearpix/clearpix-api/internal/domain/user"
	"github.com/clearpix/clearpix-api/internal/middleware"
	"github.com/clearpix/clearpix-api/internal/pkg/database"
	"github.com/clearpix/clearpix-api/internal/pkg/email"
	"github.com/clearpix/clearpix-api/internal/pkg/inference"
	"github.com/clearpix/clearpix-api/internal/pkg/jwt"
	"github.com/clearpix/clearpix-api/internal/pkg/logger"
	pkgresponse "github.com/clearpix/clearpix-api/internal/pkg/response"
	"github.com/clearpix/clearpix-api/internal/pkg/storage"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
	})

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting ClearPix API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	jwtService := jwt.NewService(cfg.JWTSecret, 24*time.Hour)

	r2Storage, err := storage.NewR2Storage(storage.R2Config{
		AccountID:       cfg.R2AccountID,
		AccessKeyID:     cfg.R2AccessKeyID,
		AccessKeySecret: cfg.R2AccessKeySecret,
		BucketName:      cfg.R2BucketName,
		PublicURL:       cfg.R2PublicURL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create R2 storage")
	}

	inferenceClient := inference.NewClient(inference.Config{
		BaseURL: cfg.InferenceBaseURL,
		APIKey:  cfg.InferenceAPIKey,
		Timeout: cfg.InferenceTimeout,
	})

	// ---------- Repositories ----------
	userRepo := user.NewRepository(db)
	creditRepo := credit.NewRepository(db)
	jobRepo := upscale.NewRepository(db)
	subscriptionRepo := billing.NewRepository(db)

	// ---------- Email fallback chain ----------
	emailUsage := email.NewPostgresUsageStore(db)
	sendGrid := email.NewProvider("sendgrid", 1, cfg.SendGridEnabled,
		email.Caps{DailyRequests: cfg.SendGridDailyCap, MonthlyCredits: cfg.SendGridMonthlyCap},
		email.NewSendGridClient(email.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}),
		emailUsage,
	)
	resend := email.NewProvider("resend", 2, cfg.ResendEnabled,
		email.Caps{DailyRequests: cfg.ResendDailyCap, MonthlyCredits: cfg.ResendMonthlyCap},
		email.NewResendClient(email.ResendConfig{
			APIKey:    cfg.ResendAPIKey,
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}),
		emailUsage,
	)
	mailer := email.NewManager(emailUsage, userRepo, sendGrid, resend)

	// ---------- Services ----------
	creditService := credit.NewService(creditRepo, cfg.InferenceTimeout)

	upscaleService := upscale.NewService(
		jobRepo,
		creditService,
		inferenceClient,
		r2Storage,
		userRepo,
		upscale.CostLimits{Min: cfg.CostMin, Max: cfg.CostMax},
		upscale.HourlyCaps{
			Default: 10,
			PerTier: map[string]int{
				"free":     10,
				"hobby":    30,
				"pro":      100,
				"business": 300,
			},
		},
		upscale.FeatureGates{
			Scale8:      []string{"pro", "business"},
			FaceEnhance: []string{"hobby", "pro", "business"},
		},
	)

	catalog := billing.NewCatalog([]billing.Plan{
		{
			Key:             "hobby",
			Name:            "Hobby",
			CreditsPerCycle: 200,
			PriceIDMonthly:  cfg.PriceHobbyMonthly,
			PriceIDYearly:   cfg.PriceHobbyYearly,
			Features:        []string{"200 credits / cycle", "2x and 4x upscaling"},
		},
		{
			Key:             "pro",
			Name:            "Pro",
			CreditsPerCycle: 1000,
			PriceIDMonthly:  cfg.PriceProMonthly,
			PriceIDYearly:   cfg.PriceProYearly,
			Features:        []string{"1000 credits / cycle", "8x upscaling", "face enhancement"},
		},
		{
			Key:             "business",
			Name:            "Business",
			CreditsPerCycle: 5000,
			PriceIDMonthly:  cfg.PriceBusinessMonthly,
			PriceIDYearly:   cfg.PriceBusinessYearly,
			Features:        []string{"5000 credits / cycle", "priority processing"},
		},
	})

	stripeClient := billing.NewStripeClient(cfg.StripeAPIKey)
	billingService := billing.NewService(subscriptionRepo, stripeClient, catalog, userRepo)

	notificationService := notification.NewService(mailer, &userEmailResolver{repo: userRepo})

	// ---------- Handlers ----------
	creditHandler := credit.NewHandler(creditService)
	upscaleHandler := upscale.NewHandler(upscaleService)
	billingHandler := billing.NewHandler(billingService)
	webhookHandler := billing.NewWebhookHandler(
		cfg.StripeWebhookSecret,
		subscriptionRepo,
		catalog,
		creditService,
		userRepo,
		notificationService,
	)

	authMiddleware := middleware.Auth(jwtService)
	upscaleRateLimit := middleware.RateLimit(redis, cfg.UpscaleRatePerMinute, time.Minute)

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))
	r.Use(chimw.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/credits", creditHandler.Routes(authMiddleware))
		r.Mount("/upscales", upscaleHandler.Routes(authMiddleware, upscaleRateLimit))
		r.Mount("/plans", billingHandler.PlanRoutes())
		r.Mount("/subscriptions", billingHandler.Routes(authMiddleware))
	})

	r.Mount("/webhooks", webhookHandler.WebhookRoutes())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

// userEmailResolver adapts user.Repository to notification.AddressResolver
type userEmailResolver struct {
	repo *user.Repository
}

func (a *userEmailResolver) EmailByUserID(ctx context.Context, userID uuid.UUID) (string, error) {
	u, err := a.repo.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.Email, nil
}
