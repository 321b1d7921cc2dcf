// cmd/sagaworker runs C4's four stage workers against the bus, grounded
// on cmd/worker/main.go's bootstrap shape: ensure the consumer group,
// build a consumer/publisher pair, hand them to a processor, run until
// signalled. Generalized from one stream/processor pair to the saga
// pipeline's four stage loops (q.initiated, q.executed, and two groups on
// q.generated), each in its own goroutine so a slow stage never blocks
// the others.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/sql-insight-saga/internal/config"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/llm"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/orchestrator"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/queue/streams"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/registry"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/sagastore"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("sagaworker config load: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sagaRedis := redis.NewClient(&redis.Options{Addr: cfg.SagaStore.Addr(), Password: cfg.SagaStore.Password, DB: cfg.SagaStore.DB})
	if err := sagaRedis.Ping(ctx).Err(); err != nil {
		log.Fatalf("sagaworker saga store redis connection: %v", err)
	}
	store := sagastore.New(sagaRedis, sagastore.WithTTL(cfg.Saga.StateTTL))

	busRedis := redis.NewClient(&redis.Options{Addr: cfg.Bus.Addr(), Password: cfg.Bus.Password, DB: cfg.Bus.DB})
	if err := busRedis.Ping(ctx).Err(); err != nil {
		log.Fatalf("sagaworker bus redis connection: %v", err)
	}
	schemaRegistry := streams.NewSchemaRegistry()
	if err := streams.RegisterBaseSchemas(schemaRegistry); err != nil {
		log.Fatalf("sagaworker schema registry init: %v", err)
	}
	publisher := streams.NewPublisher(busRedis, schemaRegistry)

	var provider llm.Provider
	if cfg.LLM.Mock {
		provider = llm.NewMockProvider()
	} else {
		provider = llm.NewOpenAIProvider(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.CompletionModel, cfg.LLM.EmbeddingModel, cfg.LLM.CallTimeout)
	}

	registryClient := registry.NewClient(cfg.Registry.URL)

	deps := &orchestrator.Deps{
		Store:     store,
		Registry:  registryClient,
		Provider:  provider,
		Publisher: publisher,
		Logger:    telemetry.NewLogger("ORCHESTRATOR"),
		Tracer:    telemetry.NewTracer("orchestrator"),
		Metrics:   telemetry.NewMetrics(),
		Saga:      cfg.Saga,
	}

	go func() {
		if err := telemetry.ServeMetrics(cfg.Telemetry.MetricsAddr); err != nil {
			log.Printf("sagaworker metrics listener exited: %v", err)
		}
	}()

	type stageLoop struct {
		group, stream string
		run           func(ctx context.Context, consumer *streams.Consumer) error
	}

	discoverGenerate := orchestrator.NewDiscoverGenerateWorker(deps)
	execute := orchestrator.NewExecuteWorker(deps)
	format := orchestrator.NewFormatWorker(deps)

	loops := []stageLoop{
		{group: "discover_generate", stream: streams.StreamQueryInitiated, run: discoverGenerate.Start},
		{group: "discover_generate_retry", stream: streams.StreamQueryGenerated, run: discoverGenerate.StartRetries},
		{group: "execute", stream: streams.StreamQueryGenerated, run: execute.Start},
		{group: "format", stream: streams.StreamQueryExecuted, run: format.Start},
	}

	var wg sync.WaitGroup
	for _, l := range loops {
		if err := streams.EnsureGroup(ctx, busRedis, l.stream, l.group); err != nil {
			log.Fatalf("sagaworker ensure group %s/%s: %v", l.stream, l.group, err)
		}
		consumerName := fmt.Sprintf("%s-%s", l.group, uuid.NewString()[:8])
		consumer := streams.NewConsumer(busRedis, schemaRegistry, l.group, consumerName)

		wg.Add(1)
		go func(l stageLoop, consumer *streams.Consumer) {
			defer wg.Done()
			if err := l.run(ctx, consumer); err != nil {
				log.Printf("sagaworker stage %s exited: %v", l.group, err)
			}
		}(l, consumer)
	}

	wg.Wait()
}
