package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/Yonatanhaile/tigray-marketplace/internal/config"
	"github.com/Yonatanhaile/tigray-marketplace/internal/email"
	"github.com/Yonatanhaile/tigray-marketplace/internal/models"
	"github.com/Yonatanhaile/tigray-marketplace/internal/realtime"
	"github.com/Yonatanhaile/tigray-marketplace/internal/services"
	"github.com/Yonatanhaile/tigray-marketplace/internal/storage"
	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

// TaskType defines the type of a background task.
const (
	TypeEmailDelivery   = "email:deliver"
	TypeInvoiceGenerate = "invoice:generate"
)

// --- Task Client (Enqueuing tasks) ---

func NewClient(rdb *redis.Client) *asynq.Client {
	clientOpt := asynq.RedisClientOpt{
		Addr:     rdb.Options().Addr,
		Password: rdb.Options().Password,
		DB:       rdb.Options().DB,
	}
	return asynq.NewClient(clientOpt)
}

// InvoiceGeneratePayload is the payload of an invoice:generate task.
type InvoiceGeneratePayload struct {
	InvoiceID string `json:"invoice_id"`
}

// EmailTaskPayload is the payload of an email:deliver task.
type EmailTaskPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Enqueuer wraps the asynq client behind the small interfaces the
// services consume.
type Enqueuer struct {
	cfg    *config.Config
	client *asynq.Client
}

// NewEnqueuer creates an Enqueuer.
func NewEnqueuer(cfg *config.Config, client *asynq.Client) *Enqueuer {
	return &Enqueuer{cfg: cfg, client: client}
}

// EnqueueInvoiceGeneration implements services.InvoiceEnqueuer.
func (e *Enqueuer) EnqueueInvoiceGeneration(ctx context.Context, invoiceID utils.SixID) error {
	payload, err := json.Marshal(InvoiceGeneratePayload{InvoiceID: invoiceID.String()})
	if err != nil {
		return fmt.Errorf("failed to marshal invoice task payload: %w", err)
	}
	task := asynq.NewTask(TypeInvoiceGenerate, payload)
	info, err := e.client.EnqueueContext(ctx, task,
		asynq.Queue(e.cfg.InvoiceQueueName),
		asynq.MaxRetry(e.cfg.InvoiceMaxRetries),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue invoice generation for %s: %w", invoiceID.String(), err)
	}
	log.Printf("Enqueued invoice generation task %s for invoice %s", info.ID, invoiceID.String())
	return nil
}

// EnqueueEmail queues an email for background delivery.
func (e *Enqueuer) EnqueueEmail(ctx context.Context, to, subject, body string) error {
	payload, err := json.Marshal(EmailTaskPayload{To: to, Subject: subject, Body: body})
	if err != nil {
		return fmt.Errorf("failed to marshal email task payload: %w", err)
	}
	task := asynq.NewTask(TypeEmailDelivery, payload)
	if _, err := e.client.EnqueueContext(ctx, task, asynq.Queue("default")); err != nil {
		return fmt.Errorf("failed to enqueue email to %s: %w", to, err)
	}
	return nil
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
// It holds dependencies needed by task handlers.
type TaskProcessor struct {
	cfg            *config.Config
	emailSender    email.Sender
	storageService storage.IS3Storage
	invoiceService services.IInvoiceService
	notifier       *realtime.Notifier // nil when the worker runs out of process
}

func NewTaskProcessor(
	cfg *config.Config,
	emailSender email.Sender,
	storageService storage.IS3Storage,
	invoiceService services.IInvoiceService,
	notifier *realtime.Notifier,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:            cfg,
		emailSender:    emailSender,
		storageService: storageService,
		invoiceService: invoiceService,
		notifier:       notifier,
	}
}

// SetupServer configures and returns an Asynq server instance. Run
// blocks, so callers start it on its own goroutine.
func SetupServer(cfg *config.Config, rdb *redis.Client, processor *TaskProcessor) (*asynq.Server, *asynq.ServeMux) {
	serverOpt := asynq.RedisClientOpt{
		Addr:     rdb.Options().Addr,
		Password: rdb.Options().Password,
		DB:       rdb.Options().DB,
	}

	srv := asynq.NewServer(
		serverOpt,
		asynq.Config{
			Queues: map[string]int{
				"critical":           6,
				cfg.InvoiceQueueName: 4,
				"default":            3,
				"low":                1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("[Asynq Error] Task Type: %s, Payload: %s, Error: %v", task.Type(), string(task.Payload()), err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeEmailDelivery, processor.HandleEmailDeliveryTask)
	mux.HandleFunc(TypeInvoiceGenerate, processor.HandleInvoiceGenerateTask)

	return srv, mux
}

// --- Task Handlers ---

// HandleInvoiceGenerateTask renders the PDF for a pending invoice,
// uploads it and completes the record. The denormalized template data
// snapshot on the invoice is the only input to rendering.
func (p *TaskProcessor) HandleInvoiceGenerateTask(ctx context.Context, t *asynq.Task) error {
	var payload InvoiceGeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal invoice task payload: %v: %w", err, asynq.SkipRetry)
	}
	invoiceID, err := utils.ParseSixID(payload.InvoiceID)
	if err != nil {
		return fmt.Errorf("invalid invoice ID in payload: %w", asynq.SkipRetry)
	}

	invoice, err := p.invoiceService.FindByID(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return fmt.Errorf("invoice %s not found: %w", payload.InvoiceID, asynq.SkipRetry)
		}
		return err
	}

	switch invoice.Status {
	case models.InvoiceStatusCompleted:
		log.Printf("Invoice %s already completed, skipping", payload.InvoiceID)
		return nil
	case models.InvoiceStatusFailed:
		log.Printf("Invoice %s marked failed, skipping", payload.InvoiceID)
		return nil
	case models.InvoiceStatusPending:
		if err := p.invoiceService.MarkProcessing(ctx, invoiceID); err != nil {
			if errors.Is(err, services.ErrConflict) {
				// Another worker claimed it between the fetch and the pin.
				return nil
			}
			return err
		}
	case models.InvoiceStatusProcessing:
		// A previous attempt died mid-generation; redo the work.
		log.Printf("Invoice %s was left in processing, regenerating", payload.InvoiceID)
	}

	started := time.Now()
	pdfBytes, err := renderInvoicePDF(invoice)
	if err != nil {
		// Rendering is deterministic over the snapshot, so a failure here
		// will not fix itself on retry.
		log.Printf("Invoice %s PDF rendering failed: %v", payload.InvoiceID, err)
		p.failInvoice(ctx, invoice, fmt.Sprintf("pdf rendering failed: %v", err))
		return fmt.Errorf("pdf rendering failed: %w", asynq.SkipRetry)
	}

	key := fmt.Sprintf("invoices/%d/%s.pdf", invoice.CreatedAt.UTC().Year(), invoice.InvoiceNumber)
	pdfURL, err := p.storageService.UploadObject(ctx, key, "application/pdf", pdfBytes)
	if err != nil {
		// Upload failures are usually transient; leave the invoice in
		// processing and let asynq retry. The final retry marks it failed.
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		if retried >= maxRetry {
			p.failInvoice(ctx, invoice, fmt.Sprintf("pdf upload failed: %v", err))
		}
		return fmt.Errorf("failed to upload invoice pdf %s: %w", key, err)
	}

	metadata := models.InvoiceMetadata{
		FileSize:         int64(len(pdfBytes)),
		GenerationTimeMs: time.Since(started).Milliseconds(),
	}
	completed, err := p.invoiceService.MarkCompleted(ctx, invoiceID, pdfURL, metadata)
	if err != nil {
		return fmt.Errorf("failed to complete invoice %s: %w", payload.InvoiceID, err)
	}

	if p.notifier != nil {
		p.notifier.InvoiceReady(completed)
	}
	log.Printf("Invoice %s generated: %s (%d bytes in %dms)",
		completed.InvoiceNumber, pdfURL, metadata.FileSize, metadata.GenerationTimeMs)
	return nil
}

func (p *TaskProcessor) failInvoice(ctx context.Context, invoice *models.Invoice, reason string) {
	if err := p.invoiceService.MarkFailed(ctx, invoice.ID, reason); err != nil {
		log.Printf("Failed to mark invoice %s failed: %v", invoice.ID.String(), err)
		return
	}
	if p.notifier != nil {
		failed := *invoice
		failed.Status = models.InvoiceStatusFailed
		failed.ErrorMessage = reason
		p.notifier.InvoiceFailed(&failed)
	}
}

// HandleEmailDeliveryTask processes email delivery tasks.
func (p *TaskProcessor) HandleEmailDeliveryTask(ctx context.Context, t *asynq.Task) error {
	var payload EmailTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal email task payload: %v: %w", err, asynq.SkipRetry)
	}

	fromAddress := p.cfg.SmtpFromAddress
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("To: %s\r\n", payload.To))
	sb.WriteString(fmt.Sprintf("From: %s\r\n", fromAddress))
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", payload.Subject))
	sb.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(payload.Body)
	sb.WriteString("\r\n")

	if err := p.emailSender.Send(ctx, []string{payload.To}, payload.Subject, []byte(sb.String())); err != nil {
		log.Printf("Email delivery to %s failed (will retry): %v", payload.To, err)
		return err
	}
	return nil
}
