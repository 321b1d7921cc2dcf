// cmd/kbworker runs C6's knowledge-base ingestion consumer, spec.md
// §4.6: drain kb.document, chunk, embed, upsert.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/sql-insight-saga/internal/config"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/knowledgebase"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/llm"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/queue/streams"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("kbworker config load: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	busRedis := redis.NewClient(&redis.Options{Addr: cfg.Bus.Addr(), Password: cfg.Bus.Password, DB: cfg.Bus.DB})
	if err := busRedis.Ping(ctx).Err(); err != nil {
		log.Fatalf("kbworker bus redis connection: %v", err)
	}
	schemaRegistry := streams.NewSchemaRegistry()
	if err := streams.RegisterBaseSchemas(schemaRegistry); err != nil {
		log.Fatalf("kbworker schema registry init: %v", err)
	}
	if err := streams.EnsureGroup(ctx, busRedis, streams.StreamKBDocument, "kbworker"); err != nil {
		log.Fatalf("kbworker ensure group: %v", err)
	}
	consumer := streams.NewConsumer(busRedis, schemaRegistry, "kbworker", "kbworker-1")

	db, err := sql.Open("postgres", cfg.KnowledgeBase.Postgres.URL)
	if err != nil {
		log.Fatalf("kbworker knowledge base postgres open: %v", err)
	}
	defer db.Close()
	if err := knowledgebase.Migrate("", cfg.KnowledgeBase.Postgres.URL, "up", 0); err != nil {
		log.Fatalf("kbworker knowledge base migrate: %v", err)
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
	ingestor := knowledgebase.NewIngestor(chunker, kbStore, provider, cfg.KnowledgeBase.WriterBatchSize, telemetry.NewLogger("KB"))

	go func() {
		if err := telemetry.ServeMetrics(cfg.Telemetry.MetricsAddr); err != nil {
			log.Printf("kbworker metrics listener exited: %v", err)
		}
	}()

	kbConsumer := knowledgebase.NewConsumer(ingestor, telemetry.NewLogger("KB-CONSUMER"))
	if err := kbConsumer.Start(ctx, consumer); err != nil {
		log.Fatalf("kbworker consumer exited: %v", err)
	}
}
