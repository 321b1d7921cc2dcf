package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/sql-insight-saga/internal/api"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/config"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/knowledgebase"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/llm"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/queue/streams"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/sagastore"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("api config load: %v", err)
	}

	ctx := context.Background()

	sagaRedis := redis.NewClient(&redis.Options{Addr: cfg.SagaStore.Addr(), Password: cfg.SagaStore.Password, DB: cfg.SagaStore.DB})
	if err := sagaRedis.Ping(ctx).Err(); err != nil {
		log.Fatalf("api saga store redis connection: %v", err)
	}
	store := sagastore.New(sagaRedis, sagastore.WithTTL(cfg.Saga.StateTTL))

	busRedis := redis.NewClient(&redis.Options{Addr: cfg.Bus.Addr(), Password: cfg.Bus.Password, DB: cfg.Bus.DB})
	if err := busRedis.Ping(ctx).Err(); err != nil {
		log.Fatalf("api bus redis connection: %v", err)
	}
	schemaRegistry := streams.NewSchemaRegistry()
	if err := streams.RegisterBaseSchemas(schemaRegistry); err != nil {
		log.Fatalf("api schema registry init: %v", err)
	}
	publisher := streams.NewPublisher(busRedis, schemaRegistry)

	db, err := sql.Open("postgres", cfg.KnowledgeBase.Postgres.URL)
	if err != nil {
		log.Fatalf("api knowledge base postgres open: %v", err)
	}
	defer db.Close()
	if err := knowledgebase.Migrate("", cfg.KnowledgeBase.Postgres.URL, "up", 0); err != nil {
		log.Fatalf("api knowledge base migrate: %v", err)
	}
	kbStore := knowledgebase.New(db)

	var provider llm.Provider
	if cfg.LLM.Mock {
		provider = llm.NewMockProvider()
	} else {
		provider = llm.NewOpenAIProvider(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.CompletionModel, cfg.LLM.EmbeddingModel, cfg.LLM.CallTimeout)
	}

	chunker := knowledgebase.NewChunker(provider, knowledgebase.ChunkerConfig{
		MaxChunkSize:        cfg.KnowledgeBase.MaxChunkSize,
		SimilarityThreshold: cfg.KnowledgeBase.SimilarityThreshold,
	})
	ingestor := knowledgebase.NewIngestor(chunker, kbStore, provider, cfg.KnowledgeBase.WriterBatchSize, nil)
	asker := knowledgebase.NewAsker(kbStore, provider, cfg.KnowledgeBase.TopK)

	engine := api.New(api.Deps{
		Store:     store,
		Publisher: publisher,
		Ingestor:  ingestor,
		Asker:     asker,
		API:       cfg.API,
		Saga:      cfg.Saga,
	})

	log.Printf("sagaapi listening on %s", cfg.API.Addr)
	if err := engine.Start(cfg.API.Addr); err != nil {
		log.Fatalf("api service exited: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
}
