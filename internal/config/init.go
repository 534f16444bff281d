package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tablecrate/tablecrate/internal/admission"
	"github.com/tablecrate/tablecrate/internal/appcontext"
	"github.com/tablecrate/tablecrate/internal/engine"
	"github.com/tablecrate/tablecrate/internal/entity"
	"github.com/tablecrate/tablecrate/internal/hub"
	"github.com/tablecrate/tablecrate/internal/metastore"
	"github.com/tablecrate/tablecrate/internal/publish"
)

func InitContext() (*appcontext.Context, error) {
	if err := godotenv.Load(); err != nil {
		zap.L().Warn("No .env file found, using environment variables")
	}

	log, err := InitLogger()
	if err != nil {
		return nil, err
	}

	db, err := InitDB()
	if err != nil {
		return nil, err
	}

	policy := InitPolicy()
	session := engine.NewSession(log)
	hubClient := hub.New(
		envString("TC_HUB_URL", "http://localhost:8080"),
		envDuration("TC_HUB_TIMEOUT", 10*time.Minute),
		log,
	)
	store := metastore.New(db, log)
	controller := admission.NewController(policy, store, hubClient, log)
	publisher := publish.NewPublisher(controller, hubClient, store, log)

	ctx := &appcontext.Context{
		DB:     db,
		Logger: log,

		Session:   session,
		Hub:       hubClient,
		Store:     store,
		Policy:    policy,
		Admission: controller,
		Publisher: publisher,
	}

	return ctx, nil
}

func InitDB() (*gorm.DB, error) {
	path := envString("TC_META_DB", "tablecrate.db")

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata database: %w", err)
	}

	if err := db.AutoMigrate(&entity.User{}, &entity.FileRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate metadata database: %w", err)
	}

	return db, nil
}

func InitLogger() (*zap.Logger, error) {
	if os.Getenv("TC_LOG_DEV") != "" {
		log, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		return log, nil
	}
	log, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}

func InitPolicy() admission.Policy {
	policy := admission.DefaultPolicy()
	policy.MaxDatabaseMB = envFloat("TC_MAX_DATABASE_MB", policy.MaxDatabaseMB)
	policy.MaxUploadMB = envFloat("TC_MAX_UPLOAD_MB", policy.MaxUploadMB)
	policy.MaxParquetMB = envFloat("TC_MAX_PARQUET_MB", policy.MaxParquetMB)
	policy.DBInflationFactor = envFloat("TC_DB_INFLATION_FACTOR", policy.DBInflationFactor)
	policy.DefaultFileLimit = envInt("TC_DEFAULT_FILE_LIMIT", policy.DefaultFileLimit)
	return policy
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		zap.L().Warn("Ignoring invalid numeric environment variable", zap.String("key", key))
		return fallback
	}
	return f
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		zap.L().Warn("Ignoring invalid numeric environment variable", zap.String("key", key))
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		zap.L().Warn("Ignoring invalid duration environment variable", zap.String("key", key))
		return fallback
	}
	return d
}
