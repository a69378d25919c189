package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/teammemory/teammemory/internal/api/handlers"
	"github.com/teammemory/teammemory/internal/config"
	"github.com/teammemory/teammemory/internal/database"
	"github.com/teammemory/teammemory/internal/domain"
	"github.com/teammemory/teammemory/internal/jobs"
	"github.com/teammemory/teammemory/internal/openai"
	"github.com/teammemory/teammemory/internal/repository"
	"github.com/teammemory/teammemory/internal/server"
	"github.com/teammemory/teammemory/internal/service"
	"github.com/teammemory/teammemory/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the teammemory API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if cfg.SentryDSN != "" {
		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if cfg.Environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	userRepo := repository.NewUserRepository(pool)
	conversationRepo := repository.NewConversationRepository(pool)
	messageRepo := repository.NewMessageRepository(pool)
	cardRepo := repository.NewKnowledgeCardRepository(pool)
	embeddingRepo := repository.NewEmbeddingRepository(pool)

	if !cfg.HasOpenAI() {
		return fmt.Errorf("TEAMMEMORY_OPENAI_API_KEY is required")
	}

	aiClient := openai.NewClientWithConfig(openai.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
	})

	runner, err := jobs.NewRunner(cfg.PipelineWorkers)
	if err != nil {
		return fmt.Errorf("failed to create pipeline runner: %w", err)
	}
	defer runner.Release()

	summarizer := service.NewSummarizer(aiClient, cfg.SummaryModel)
	searchSvc := service.NewSearchService(&searchRepoAdapter{cards: cardRepo, embeddings: embeddingRepo}, aiClient)
	pipeline := service.NewIngestionPipeline(messageRepo, cardRepo, embeddingRepo, summarizer, aiClient, runner)

	chatHandler := handlers.NewChatHandler(userRepo, conversationRepo, messageRepo, aiClient, searchSvc, pipeline, cfg.ChatModel)
	searchHandler := handlers.NewSearchHandler(searchSvc)

	router := server.NewRouter(server.RouterConfig{
		ChatHandler:   chatHandler,
		SearchHandler: searchHandler,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// searchRepoAdapter joins the card and embedding repositories into the
// single datastore the search service expects
type searchRepoAdapter struct {
	cards      *repository.KnowledgeCardRepository
	embeddings *repository.EmbeddingRepository
}

func (a *searchRepoAdapter) SearchCardsByKeyword(ctx context.Context, query string, filters service.SearchFilters) ([]*domain.KnowledgeCard, error) {
	return a.cards.SearchCardsByKeyword(ctx, query, filters)
}

func (a *searchRepoAdapter) SearchSimilarEmbeddings(ctx context.Context, vector []float32, refType domain.ReferenceType, threshold float64, limit int) ([]service.EmbeddingMatch, error) {
	return a.embeddings.SearchSimilarEmbeddings(ctx, vector, refType, threshold, limit)
}

func (a *searchRepoAdapter) GetCardsByIDs(ctx context.Context, ids []string, filters service.SearchFilters) ([]*domain.KnowledgeCard, error) {
	return a.cards.GetCardsByIDs(ctx, ids, filters)
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
