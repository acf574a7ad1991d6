// Command core runs the Finch data layer standalone: it opens the local
// store, plans notifications and keeps the dispatcher loop running until
// interrupted. Host applications embed the internal packages directly;
// this binary exists for local smoke runs and operational debugging.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/finch-app/finch-core/internal/db"
	"github.com/finch-app/finch-core/internal/logging"
	"github.com/finch-app/finch-core/internal/models"
	"github.com/finch-app/finch-core/internal/notify"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	dataDir := flag.String("data-dir", defaultDataDir(), "directory holding the local database")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	level := logging.LevelInfo
	if *verbose {
		level = logging.LevelDebug
	}
	logging.Init(os.Stdout, level)
	logging.Info("finch core starting", map[string]interface{}{
		"version":  Version,
		"data_dir": *dataDir,
	})

	database, err := db.Open(*dataDir)
	if err != nil {
		logging.Error("failed to open database", err, nil)
		os.Exit(1)
	}
	defer database.Close()

	if err := database.InitSchema(); err != nil {
		logging.Error("failed to initialize schema", err, nil)
		os.Exit(1)
	}

	repo := db.NewRepository(database)
	defer repo.Close()

	scheduler := notify.NewScheduler(repo)
	dispatcher := notify.NewDispatcher(scheduler, logDeliverer(), nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	logging.Info("finch core ready", nil)
	<-ctx.Done()
	logging.Info("finch core shutting down", nil)
}

// logDeliverer prints due notifications to stdout. Real delivery goes
// through the host platform's notification surface.
func logDeliverer() notify.Deliverer {
	return notify.DelivererFunc(func(_ context.Context, n *models.ScheduledNotification) error {
		fmt.Printf("[notification] %s: %s\n", n.Title, n.Body)
		return nil
	})
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home + "/.finch"
}
