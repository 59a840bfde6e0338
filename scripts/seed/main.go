// Seed inserts demo tasks through the configured store. Run from project root:
//
//	go run ./scripts/seed -n 200
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"task-manager/internal/config"
	"task-manager/internal/database"
	"task-manager/internal/models"
	"task-manager/internal/repository"
)

func main() {
	total := flag.Int("n", 100, "number of tasks to insert")
	flag.Parse()
	_ = godotenv.Load()

	ctx := context.Background()
	cfg, err := config.Get()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Config failed:", err)
		os.Exit(1)
	}

	var store repository.TaskStore
	if cfg.DBDriver == config.DriverSQLite {
		db, err := database.OpenSQLite(cfg.SQLitePath, time.Now)
		if err == nil {
			store, err = repository.NewGormStore(db)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "SQLite failed:", err)
			os.Exit(1)
		}
	} else {
		db, err := database.Open(ctx, cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, "DATABASE_URL not set or DB connection failed:", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := database.Migrate(ctx, db); err != nil {
			fmt.Fprintln(os.Stderr, "Schema failed:", err)
			os.Exit(1)
		}
		store = repository.NewPostgresStore(db, time.Now)
	}

	start := time.Now()
	for i := 1; i <= *total; i++ {
		desc := fmt.Sprintf("Descrição da tarefa %d", i)
		task := &models.Task{
			ID:          uuid.NewString(),
			Name:        fmt.Sprintf("Tarefa %d", i),
			Description: &desc,
			Completed:   i%4 == 0,
		}
		// a third of the tasks get a due date, some already past
		if i%3 == 0 {
			due := start.Add(time.Duration(i%7-2) * 24 * time.Hour)
			task.DueAt = &due
		}
		if err := store.Create(ctx, task); err != nil {
			fmt.Fprintln(os.Stderr, "Insert failed:", err)
			os.Exit(1)
		}
		fmt.Printf("\rInserted %d / %d", i, *total)
	}
	fmt.Printf("\nDone: %d tasks in %v\n", *total, time.Since(start))
}
