package main

import (
	"context"
	"log"
	"os"
	"time"

	"docbrief/internal/api"
	"docbrief/internal/auth"
	"docbrief/internal/config"
	"docbrief/internal/drive"
	"docbrief/internal/redis"
	"docbrief/internal/service/ai"
	"docbrief/internal/service/assistant"
	"docbrief/internal/storage"
	"docbrief/internal/tts"
	"docbrief/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("DOCBRIEF_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("DOCBRIEF_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		log.Fatalf("create redis client: %v", err)
	}
	defer rdb.Close()

	// Create necessary tables: users, apiKeys, documents, sessions, messages
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	// The blob store is optional: without credentials every document
	// simply stays local.
	var blobs assistant.BlobStore
	if cfg.Drive.ClientSecretFile != "" {
		gateway, err := drive.NewGateway(cfg.Drive.ClientSecretFile, cfg.Drive.TokenFile, cfg.Drive.FolderID)
		if err != nil {
			log.Printf("drive gateway unavailable: %v", err)
		} else {
			if !gateway.Ready() {
				log.Printf("drive not authorized yet, visit: %s", gateway.AuthURL())
			}
			blobs = gateway
		}
	}

	speech := tts.NewSynthesizer(cfg.Speech.WorkDir)
	factory := func(ctx context.Context, apiKey string) (assistant.Summarizer, error) {
		return ai.NewService(ctx, apiKey, cfg.Summarizer.Model)
	}
	assistantService := assistant.NewService(db, blobs, speech, factory, cfg.Summarizer.APIKey)

	fileBase := cfg.BasicConfig.FileBaseDir
	if fileBase == "" {
		fileBase = "./data/uploads"
	}
	cleanCtx, cleanCancel := context.WithCancel(context.Background())
	defer cleanCancel()
	cleanInterval := time.Duration(cfg.BasicConfig.CleanupInterval) * time.Minute
	if cleanInterval <= 0 {
		cleanInterval = assistant.DefaultLeftoverCleanupInterval
	}
	assistantService.StartLeftoverCleaner(cleanCtx, fileBase, cleanInterval)

	authService := auth.NewService(db, rdb, 24*time.Hour)
	dispatcher := worker.NewDispatcher(
		cfg.BasicConfig.MinWorkers,
		cfg.BasicConfig.MaxWorkers,
		cfg.BasicConfig.QueueSize,
		time.Duration(cfg.BasicConfig.WorkerIdleTimeout)*time.Minute,
	)
	handlers := api.NewHandler(assistantService, authService, dispatcher, fileBase, cfg.BasicConfig.MaxUploadMB<<20)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
