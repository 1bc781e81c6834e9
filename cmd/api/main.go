package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"arxivchat/internal/api"
	"arxivchat/internal/app"
	"arxivchat/internal/config"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	h := api.NewServer(cfg, api.Deps{
		Library:   a.Papers,
		Search:    a.Search,
		Lookup:    a.Arxiv,
		Abstracts: a.Vector,
		Embedder:  a.Providers,
		Chat:      a.Chat,
		Insights:  a.Insight,
		Temporal:  c,
		Health:    a.Health,
		Logger:    a.Logger,
	})
	log.Printf("arxivchat api listening on %s llm_providers=%q embed_providers=%q redis=%t", cfg.APIAddr, cfg.LLMProviders, cfg.EmbedProviders, a.Redis != nil)
	if err := http.ListenAndServe(cfg.APIAddr, h.Routes()); err != nil {
		log.Fatal(err)
	}
}
