package streams

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	streamMetricsOnce     sync.Once
	sagasInitiated        otelmetric.Int64Counter
	sagasGenerated        otelmetric.Int64Counter
	sagasExecuted         otelmetric.Int64Counter
	sagasTerminal         otelmetric.Int64Counter
	selfCorrectionBudget  otelmetric.Float64Histogram
)

func initStreamMetrics() {
	meter := otel.Meter("sql-insight-saga/queue/streams")
	var err error
	sagasInitiated, err = meter.Int64Counter(
		"saga_query_initiated_total",
		otelmetric.WithDescription("Queries submitted onto q.initiated"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: saga_query_initiated_total: %v", err)
	}
	sagasGenerated, err = meter.Int64Counter(
		"saga_query_generated_total",
		otelmetric.WithDescription("SQL generation outcomes published to q.generated"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: saga_query_generated_total: %v", err)
	}
	sagasExecuted, err = meter.Int64Counter(
		"saga_query_executed_total",
		otelmetric.WithDescription("Execution outcomes published to q.executed"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: saga_query_executed_total: %v", err)
	}
	sagasTerminal, err = meter.Int64Counter(
		"saga_query_terminal_total",
		otelmetric.WithDescription("Terminal saga outcomes published to q.terminal, labelled by status"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: saga_query_terminal_total: %v", err)
	}
	selfCorrectionBudget, err = meter.Float64Histogram(
		"saga_self_correction_budget_remaining",
		otelmetric.WithDescription("Self-correction budget remaining reported on q.executed"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: saga_self_correction_budget_remaining: %v", err)
	}
}

// recordStreamMetrics observes the saga-domain event stream at publish time,
// grounded on the teacher's per-event-type OTel observation in this
// package (previously recording crawler-specific event shapes; now
// recording the four saga bus topics from spec.md §4.4/§6).
func recordStreamMetrics(ctx context.Context, eventType string, payload []byte) {
	streamMetricsOnce.Do(initStreamMetrics)
	ctx = contextOrBackground(ctx)

	var doc map[string]interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return
	}
	tenant, _ := doc["tenant_id"].(string)
	attrs := otelmetric.WithAttributes(attribute.String("tenant_id", tenant))

	switch eventType {
	case "query.initiated":
		if sagasInitiated != nil {
			sagasInitiated.Add(ctx, 1, attrs)
		}
	case "query.generated":
		if sagasGenerated != nil {
			sagasGenerated.Add(ctx, 1, attrs)
		}
	case "query.executed":
		if sagasExecuted != nil {
			sagasExecuted.Add(ctx, 1, attrs)
		}
		if remaining, ok := doc["self_correction_budget_remaining"].(float64); ok && selfCorrectionBudget != nil {
			selfCorrectionBudget.Record(ctx, remaining, attrs)
		}
	case "query.terminal":
		if sagasTerminal != nil {
			status, _ := doc["status"].(string)
			sagasTerminal.Add(ctx, 1, otelmetric.WithAttributes(
				attribute.String("tenant_id", tenant),
				attribute.String("status", status),
			))
		}
	}
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
