package main

import (
	"context"
	"log"
	"time"

	"arxivchat/internal/activities"
	"arxivchat/internal/app"
	"arxivchat/internal/config"
	"arxivchat/internal/workflows"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()
	activities.Register(w, activities.New(cfg, a.Pipeline, a.Papers, a.Insight))

	log.Printf("arxivchat worker listening on %s queue=%s llm_providers=%q embed_providers=%q", cfg.TemporalAddress, cfg.TemporalTaskQueue, cfg.LLMProviders, cfg.EmbedProviders)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatal(err)
	}
}
