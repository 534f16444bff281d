package main

import (
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/tablecrate/tablecrate/internal/hubstub"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	addr := os.Getenv("HUBSTUB_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	stub := hubstub.New(logger)
	logger.Info("Hub stub listening", zap.String("addr", addr))
	if err := stub.Engine().Run(addr); err != nil {
		logger.Fatal("Failed to start the server", zap.Error(err))
	}
}
