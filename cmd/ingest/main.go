// Command ingest replays feed rows from a JSON file through the reconciliation
// pipeline. Already processed orders are skipped like in the running service.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"order-reconciler/config"
	"order-reconciler/internal/app"
	"order-reconciler/internal/models"
	"order-reconciler/internal/service"
	"order-reconciler/internal/util"

	"go.uber.org/zap"
)

func main() {
	file := flag.String("file", "", "JSON file with one feed row or a list of rows")
	flag.Parse()

	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	body, err := os.ReadFile(*file)
	if err != nil {
		logger.Fatal("Failed to read input", zap.String("file", *file), zap.Error(err))
	}
	rows, err := models.DecodeFeedRows(body)
	if err != nil {
		logger.Fatal("Invalid input", zap.String("file", *file), zap.Error(err))
	}

	ctx := context.Background()
	reconciler, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to wire pipeline", zap.Error(err))
	}
	defer reconciler.Close()

	statuses := make(map[service.Status]int)
	groups := models.GroupRows(rows)
	for _, group := range groups {
		group.Source = models.SourceManual
		res, err := reconciler.Pipeline.Ingest(ctx, group)
		if err != nil {
			logger.Warn("Order not reconciled",
				zap.String("phone", group.Phone),
				zap.String("date", group.Date),
				zap.String("time", group.Time),
				zap.Error(err))
		}
		statuses[res.Status]++
	}

	fields := []zap.Field{zap.Int("rows", len(rows)), zap.Int("groups", len(groups))}
	for status, n := range statuses {
		fields = append(fields, zap.Int(string(status), n))
	}
	logger.Info("Ingest finished", fields...)
}
