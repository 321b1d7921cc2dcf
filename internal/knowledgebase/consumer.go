package knowledgebase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/mohammad-safakhou/sql-insight-saga/internal/queue/streams"
)

// documentMessage is kb.document's payload, spec.md §4.6: "a separate
// consumer receives {tenant_id, doc_bytes, filename} messages."
type documentMessage struct {
	TenantID string `json:"tenant_id"`
	Filename string `json:"filename"`
	DocBytes string `json:"doc_bytes"`
}

// Consumer drains kb.document and runs each document through an
// Ingestor, grounded on internal/orchestrator/worker.go's runLoop shape
// (read/decode/handle/ack, leave unacked on error for redelivery) but
// specialised to this package's own message type instead of
// orchestrator.StagePayload.
type Consumer struct {
	ingestor *Ingestor
	logger   *log.Logger
}

func NewConsumer(ingestor *Ingestor, logger *log.Logger) *Consumer {
	if logger == nil {
		logger = log.New(log.Writer(), "[KB-CONSUMER] ", log.LstdFlags)
	}
	return &Consumer{ingestor: ingestor, logger: logger}
}

// Start reads kb.document messages until ctx is cancelled, extracting
// text by file extension and handing it to the ingestor.
func (c *Consumer) Start(ctx context.Context, consumer *streams.Consumer) error {
	c.logger.Printf("knowledge base ingestion consumer starting")
	for {
		select {
		case <-ctx.Done():
			c.logger.Printf("knowledge base ingestion consumer stopping: %v", ctx.Err())
			return nil
		default:
		}

		msgs, err := consumer.Read(ctx, streams.StreamKBDocument, streams.WithBlock(5*time.Second), streams.WithCount(8))
		if err != nil {
			c.logger.Printf("error reading stream %s: %v", streams.StreamKBDocument, err)
			time.Sleep(time.Second)
			continue
		}
		for _, msg := range msgs {
			if err := c.handle(ctx, msg); err != nil {
				c.logger.Printf("error handling message %s: %v", msg.ID, err)
				continue // leave unacked; bus will redeliver
			}
			if err := consumer.Ack(ctx, streams.StreamKBDocument, msg.ID); err != nil {
				c.logger.Printf("warn: failed to ack message %s: %v", msg.ID, err)
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg streams.Message) error {
	var doc documentMessage
	if err := json.Unmarshal(msg.Envelope.Data, &doc); err != nil {
		return fmt.Errorf("unmarshal document message: %w", err)
	}
	if doc.TenantID == "" || doc.Filename == "" {
		return fmt.Errorf("document message missing tenant_id or filename")
	}

	raw, err := base64.StdEncoding.DecodeString(doc.DocBytes)
	if err != nil {
		return fmt.Errorf("decode doc_bytes: %w", err)
	}

	text := extractText(doc.Filename, raw)

	n, err := c.ingestor.Ingest(ctx, doc.TenantID, doc.Filename, text)
	if err != nil {
		return err
	}
	c.logger.Printf("ingested %d chunks for tenant=%s doc=%s", n, doc.TenantID, doc.Filename)
	return nil
}

// extractText dispatches on the document's file extension, per spec.md
// §4.6's "extract text (format detected by extension)". No extension gets
// format-specific extraction: .txt, .md and every other extension alike
// are returned as the raw bytes read as text.
func extractText(filename string, raw []byte) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".markdown":
		return string(raw)
	default:
		return string(raw)
	}
}
