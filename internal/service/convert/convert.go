// Package convert runs conversion requests: materialize the sources, convert
// them, assemble the batch and deliver it inline, zipped or to a bucket.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/document-converter/internal/engine"
	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/internal/source"
	"github.com/feichai0017/document-converter/pkg/converters"
	"github.com/feichai0017/document-converter/pkg/logger"
	"github.com/feichai0017/document-converter/pkg/queue"
	"github.com/feichai0017/document-converter/pkg/storage"
)

const (
	componentPipeline = "pipeline"
	componentStorage  = "storage"
	moduleAbort       = "abort_on_error"
)

var (
	ErrTaskNotFinished = errors.New("task has not finished")
	ErrNoResultTarget  = errors.New("no target and no results location configured")
)

// Materializer fetches the bytes of every source of a request.
type Materializer interface {
	MaterializeAll(ctx context.Context, descs []models.SourceDescriptor) []source.Outcome
}

// ProgressFunc is called after every document with the running totals.
type ProgressFunc func(meta models.TaskProcessingMeta)

type Service struct {
	materializer Materializer
	engines      engine.Converter
	resolver     storage.Resolver
	queue        queue.Queue
	statuses     queue.StatusStore
	logger       logger.Logger

	policy     ResultPolicy
	resultsURI string
	now        func() time.Time
}

type Option func(*Service)

// WithResultPolicy replaces TargetPolicy.
func WithResultPolicy(p ResultPolicy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// WithResultsURI sets the bucket prefix for async results and for remote
// results of requests without a target.
func WithResultsURI(uri string) Option {
	return func(s *Service) {
		s.resultsURI = uri
	}
}

func NewService(
	materializer Materializer,
	engines engine.Converter,
	resolver storage.Resolver,
	q queue.Queue,
	statuses queue.StatusStore,
	log logger.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		materializer: materializer,
		engines:      engines,
		resolver:     resolver,
		queue:        q,
		statuses:     statuses,
		logger:       log.Named("convert"),
		policy:       TargetPolicy,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Convert runs req synchronously.
func (s *Service) Convert(ctx context.Context, req models.ConvertDocumentsRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.run(ctx, req, nil)
}

func (s *Service) run(ctx context.Context, req models.ConvertDocumentsRequest, progress ProgressFunc) (*Result, error) {
	log := logger.FromContext(ctx, s.logger)
	start := s.now()

	items := s.convertAll(ctx, req, progress)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batch := converters.Assemble(items, s.now().Sub(start).Seconds())

	log.Info("Batch converted",
		logger.String("kind", string(req.Kind)),
		logger.Int("documents", len(items)),
		logger.String("status", string(batch.Status)),
		logger.Float64("processingTime", batch.ProcessingTime),
	)

	result := &Result{Status: batch.Status, Meta: meta(items, len(items))}
	formats := req.Options.Formats()

	switch {
	case s.policy(req):
		remote, err := s.writeRemote(ctx, req, batch, formats)
		if err != nil {
			return nil, err
		}
		result.Remote = remote
	case len(items) > 1 || req.Options.ReturnAsFile:
		var buf bytes.Buffer
		if err := batch.WriteZip(&buf, formats); err != nil {
			return nil, err
		}
		result.Archive = buf.Bytes()
	default:
		inline, err := batch.Inline(formats)
		if err != nil {
			return nil, err
		}
		result.Inline = inline
	}
	return result, nil
}

// convertAll converts the materialized sources in submission order. With
// abort_on_error the first failed item ends the batch and the rest are
// reported as skipped.
func (s *Service) convertAll(ctx context.Context, req models.ConvertDocumentsRequest, progress ProgressFunc) []converters.Item {
	outcomes := s.materializer.MaterializeAll(ctx, req.Sources)
	items := make([]converters.Item, 0, len(outcomes))

	aborted := false
	for _, o := range outcomes {
		it := converters.Item{Name: source.Describe(o.Source), Kind: o.Source.Kind()}

		switch {
		case aborted || ctx.Err() != nil:
			it.Document = skippedDocument(it.Name)
		case o.Err != nil:
			it.Err = o.Err
		default:
			it.Name = o.Document.Name
			it.Document = s.engines.Convert(ctx, o.Document, req.Options)
		}
		items = append(items, it)

		if req.Options.AbortOnError && !aborted && it.Status() == models.ConversionFailure {
			aborted = true
		}
		if progress != nil {
			progress(meta(items, len(outcomes)))
		}
	}
	return items
}

func skippedDocument(name string) *models.ConvertedDocument {
	return &models.ConvertedDocument{
		Filename: name,
		Status:   models.ConversionFailure,
		Errors: []models.ErrorItem{{
			ComponentType: componentPipeline,
			ModuleName:    moduleAbort,
			ErrorMessage:  "skipped after an earlier document failed",
		}},
	}
}

func skipped(doc *models.ConvertedDocument) bool {
	return len(doc.Errors) == 1 && doc.Errors[0].ComponentType == componentPipeline && doc.Errors[0].ModuleName == moduleAbort
}

// writeRemote stores one JSON result per item below the target (or the
// configured results location). Items that cannot be stored are reported
// as failures in the response.
func (s *Service) writeRemote(ctx context.Context, req models.ConvertDocumentsRequest, batch *converters.Batch, formats []models.OutputFormat) (*models.RemoteConvertDocumentsResponse, error) {
	uri := s.resultsURI
	if req.Target != nil {
		uri = req.Target.URI
	}
	if uri == "" {
		return nil, ErrNoResultTarget
	}
	loc, err := models.ParseBucketPrefix(uri)
	if err != nil {
		return nil, &models.ValidationError{Fields: []models.FieldError{{Field: "target.uri", Message: err.Error()}}}
	}
	store, err := s.resolver.Resolve(ctx, loc.Locator)
	if err != nil {
		return nil, fmt.Errorf("failed to open result target: %w", err)
	}

	resp := &models.RemoteConvertDocumentsResponse{
		Results:        make([]models.RemoteConvertDocumentResult, 0, len(batch.Items)),
		ProcessingTime: batch.ProcessingTime,
	}
	stems := converters.UniqueStems(batch.Items)
	for i, it := range batch.Items {
		doc, err := converters.ItemResponse(it, formats)
		if err != nil {
			return nil, err
		}
		res := models.RemoteConvertDocumentResult{
			Status:  doc.Status,
			Errors:  doc.Errors,
			Timings: doc.Timings,
		}
		if it.Document == nil {
			resp.Results = append(resp.Results, res)
			continue
		}

		dest := loc.Join(stems[i] + ".json")
		payload, err := jsonPayload(doc)
		if err == nil {
			_, err = store.Store(ctx, bytes.NewReader(payload.Body), dest.Key, payload.ContentType)
		}
		if err != nil {
			s.logger.Warn("Failed to write result",
				logger.String("uri", dest.URI()),
				logger.Error(err),
			)
			res.Status = models.ConversionFailure
			res.Errors = append(res.Errors, models.ErrorItem{
				ComponentType: componentStorage,
				ModuleName:    loc.Scheme,
				ErrorMessage:  err.Error(),
			})
		} else {
			res.ResultURI = dest.URI()
		}
		resp.Results = append(resp.Results, res)
	}
	return resp, nil
}

// Submit validates req, records a pending task and enqueues it.
func (s *Service) Submit(ctx context.Context, req models.ConvertDocumentsRequest) (models.TaskStatusResponse, error) {
	if err := req.Validate(); err != nil {
		return models.TaskStatusResponse{}, err
	}

	task := &queue.Task{ID: uuid.NewString(), Request: req, CreatedAt: s.now()}
	record := models.NewPendingTask(task.ID, 0, len(req.Sources))
	if err := s.statuses.Create(ctx, record); err != nil {
		return models.TaskStatusResponse{}, err
	}

	position, err := s.queue.Enqueue(ctx, task)
	if err != nil {
		if _, terr := s.statuses.Transition(context.WithoutCancel(ctx), task.ID, models.TaskFailure, nil); terr != nil {
			s.logger.Error("Failed to mark undispatched task", logger.String("taskId", task.ID), logger.Error(terr))
		}
		return models.TaskStatusResponse{}, fmt.Errorf("failed to submit task: %w", err)
	}

	logger.FromContext(ctx, s.logger).Info("Task submitted",
		logger.String("taskId", task.ID),
		logger.Int("documents", len(req.Sources)),
		logger.Int("position", position),
	)
	return record.WithPosition(position), nil
}

// Process runs a dequeued task: running, per-document progress, then the
// terminal status once the result is stored. A task that is already
// terminal (cancelled) is skipped.
func (s *Service) Process(ctx context.Context, task *queue.Task) error {
	ctx = logger.WithTaskID(ctx, task.ID)
	log := logger.FromContext(ctx, s.logger)
	numDocs := len(task.Request.Sources)

	if _, err := s.statuses.Transition(ctx, task.ID, models.TaskRunning, &models.TaskProcessingMeta{NumDocs: numDocs}); err != nil {
		if errors.Is(err, models.ErrTerminalTask) {
			log.Info("Skipping finished task")
			return nil
		}
		return fmt.Errorf("%w: %w", queue.ErrTaskNotStarted, err)
	}

	progress := func(m models.TaskProcessingMeta) {
		if _, err := s.statuses.Transition(ctx, task.ID, models.TaskRunning, &m); err != nil {
			log.Warn("Failed to publish progress", logger.Error(err))
		}
	}

	result, err := s.run(ctx, task.Request, progress)
	if err != nil {
		s.finish(ctx, task.ID, models.TaskFailure, &models.TaskProcessingMeta{NumDocs: numDocs})
		return err
	}

	payload, err := result.Payload()
	if err == nil {
		err = s.saveResult(ctx, task.ID, payload)
	}
	if err != nil {
		s.finish(ctx, task.ID, models.TaskFailure, &result.Meta)
		return err
	}

	s.finish(ctx, task.ID, models.TaskStatusFromConversion(result.Status), &result.Meta)
	return nil
}

// Abandon fails a task that could not be started and will not be retried.
func (s *Service) Abandon(ctx context.Context, task *queue.Task) error {
	_, err := s.statuses.Transition(context.WithoutCancel(ctx), task.ID, models.TaskFailure,
		&models.TaskProcessingMeta{NumDocs: len(task.Request.Sources)})
	if err != nil && !errors.Is(err, models.ErrTerminalTask) {
		return fmt.Errorf("failed to abandon task %s: %w", task.ID, err)
	}
	return nil
}

func (s *Service) finish(ctx context.Context, taskID string, status models.TaskStatus, m *models.TaskProcessingMeta) {
	// the terminal write must land even when the task context was cancelled
	if _, err := s.statuses.Transition(context.WithoutCancel(ctx), taskID, status, m); err != nil {
		logger.FromContext(ctx, s.logger).Warn("Failed to finish task",
			logger.String("status", string(status)),
			logger.Error(err),
		)
	}
}

func (s *Service) saveResult(ctx context.Context, taskID string, payload *Payload) error {
	data, err := payload.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if err := s.statuses.SaveResult(ctx, taskID, data); err != nil {
		return err
	}

	if s.resultsURI == "" {
		return nil
	}
	// the bucket copy is best effort; the status store holds the result
	if err := s.archive(ctx, taskID, payload); err != nil {
		logger.FromContext(ctx, s.logger).Warn("Failed to archive result", logger.Error(err))
	}
	return nil
}

func (s *Service) archive(ctx context.Context, taskID string, payload *Payload) error {
	loc, err := models.ParseBucketPrefix(s.resultsURI)
	if err != nil {
		return err
	}
	store, err := s.resolver.Resolve(ctx, loc.Locator)
	if err != nil {
		return err
	}
	_, err = store.Store(ctx, bytes.NewReader(payload.Body), loc.Join(taskID+payload.Extension()).Key, payload.ContentType)
	return err
}

// Cancel fails a task that has not finished yet and removes it from the queue.
func (s *Service) Cancel(ctx context.Context, taskID string) (models.TaskStatusResponse, error) {
	current, err := s.statuses.Get(ctx, taskID)
	if err != nil {
		return models.TaskStatusResponse{}, err
	}
	if current.TaskStatus.Terminal() {
		return models.TaskStatusResponse{}, fmt.Errorf("%w: %s is %s", models.ErrTerminalTask, taskID, current.TaskStatus)
	}

	if err := s.queue.Cancel(ctx, taskID); err != nil && !errors.Is(err, queue.ErrTaskNotFound) {
		return models.TaskStatusResponse{}, err
	}
	return s.statuses.Transition(ctx, taskID, models.TaskFailure, current.TaskMeta)
}

// Result returns the stored result of a finished task.
func (s *Service) Result(ctx context.Context, taskID string) (*Payload, error) {
	current, err := s.statuses.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !current.TaskStatus.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrTaskNotFinished, taskID, current.TaskStatus)
	}
	data, err := s.statuses.GetResult(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return DecodePayload(data)
}

// ClearConverters drops the engines' cached conversions.
func (s *Service) ClearConverters() {
	s.engines.Clear()
}

// ClearResults removes archived results older than olderThan from the
// results location and returns how many were removed.
func (s *Service) ClearResults(ctx context.Context, olderThan time.Duration) (int, error) {
	if s.resultsURI == "" {
		return 0, nil
	}
	loc, err := models.ParseBucketPrefix(s.resultsURI)
	if err != nil {
		return 0, err
	}
	store, err := s.resolver.Resolve(ctx, loc.Locator)
	if err != nil {
		return 0, fmt.Errorf("failed to open results location: %w", err)
	}
	removed, err := store.CleanupBefore(ctx, loc.Key, s.now().Add(-olderThan))
	if err != nil {
		return removed, err
	}
	s.logger.Info("Cleared results",
		logger.String("uri", s.resultsURI),
		logger.Int("removed", removed),
		logger.Duration("olderThan", olderThan),
	)
	return removed, nil
}
