package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tender-engine/backend/internal/evaluation"
	"github.com/tender-engine/backend/internal/extract"
	"github.com/tender-engine/backend/internal/fetch"
	"github.com/tender-engine/backend/internal/metrics"
	"github.com/tender-engine/backend/internal/requirements"
	"github.com/tender-engine/backend/internal/storage/models"
	"github.com/tender-engine/backend/pkg/logger"
)

const (
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusError   = "error"
)

var (
	ErrNoRequirementURLs = errors.New("at least one requirement document URL is required")
	ErrNoCandidateURLs   = errors.New("at least one candidate URL is required")
	ErrTooManyCandidates = errors.New("too many candidates")
	ErrNoRequirements    = errors.New("no requirements could be extracted")
)

// Store is the persistence surface the service needs, satisfied by the
// sqlite client.
type Store interface {
	InsertRun(run *models.Run) error
	UpdateRun(run *models.Run) error
	GetRun(id string) (*models.Run, error)
	ListRuns(limit int) ([]models.Run, error)
	InsertCandidateResult(result *models.CandidateResult) error
	GetCandidateResults(runID string) ([]models.CandidateResult, error)
	InsertFinding(finding *models.Finding) error
	GetFindings(candidateID string) ([]models.Finding, error)
}

// ProgressPublisher pushes per-candidate state changes to whoever is
// watching a run.
type ProgressPublisher interface {
	Publish(runID string, event evaluation.ProgressEvent)
}

// RunRequest names the source documents for one evaluation run.
type RunRequest struct {
	RequirementURLs []string
	CandidateURLs   []string
}

// RunDetail is the assembled view of a run with its per-candidate results.
type RunDetail struct {
	Run        models.Run
	Candidates []CandidateDetail
}

type CandidateDetail struct {
	Result   models.CandidateResult
	Findings []models.Finding
}

// Service runs the whole pipeline for a tender: download the source
// documents, extract the requirement set, evaluate every candidate and
// persist the outcome. Evaluation happens in the background; callers poll
// or subscribe for progress.
type Service struct {
	db            Store
	downloader    *fetch.Downloader
	walker        *extract.Walker
	parser        *requirements.Parser
	classifier    evaluation.Classifier
	summarizer    evaluation.Summarizer
	cache         evaluation.VerdictCache
	publisher     ProgressPublisher
	evalOpts      evaluation.Options
	maxCandidates int
}

type ServiceOptions struct {
	Downloader    *fetch.Downloader
	Walker        *extract.Walker
	Parser        *requirements.Parser
	Classifier    evaluation.Classifier
	Summarizer    evaluation.Summarizer
	Cache         evaluation.VerdictCache
	Publisher     ProgressPublisher
	EvalOptions   evaluation.Options
	MaxCandidates int
}

func NewService(db Store, opts ServiceOptions) *Service {
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = 20
	}
	return &Service{
		db:            db,
		downloader:    opts.Downloader,
		walker:        opts.Walker,
		parser:        opts.Parser,
		classifier:    opts.Classifier,
		summarizer:    opts.Summarizer,
		cache:         opts.Cache,
		publisher:     opts.Publisher,
		evalOpts:      opts.EvalOptions,
		maxCandidates: opts.MaxCandidates,
	}
}

// StartRun validates the request, records the run and kicks off the
// pipeline in the background.
func (s *Service) StartRun(req RunRequest) (*models.Run, error) {
	if len(req.RequirementURLs) == 0 {
		return nil, ErrNoRequirementURLs
	}
	if len(req.CandidateURLs) == 0 {
		return nil, ErrNoCandidateURLs
	}
	if len(req.CandidateURLs) > s.maxCandidates {
		return nil, fmt.Errorf("%w: %d exceeds limit of %d", ErrTooManyCandidates, len(req.CandidateURLs), s.maxCandidates)
	}

	run := &models.Run{
		ID:              uuid.New().String(),
		RequirementURLs: req.RequirementURLs,
		CandidateURLs:   req.CandidateURLs,
		Status:          RunStatusRunning,
		CreatedAt:       time.Now(),
	}

	if err := s.db.InsertRun(run); err != nil {
		return nil, err
	}

	metrics.RunsTotal.WithLabelValues(RunStatusRunning).Inc()

	logger.Info("evaluation run started",
		zap.String("run_id", run.ID),
		zap.Int("requirement_docs", len(req.RequirementURLs)),
		zap.Int("candidates", len(req.CandidateURLs)),
	)

	go s.execute(context.Background(), run)

	return run, nil
}

// GetRun assembles the stored run with its candidate results and findings.
func (s *Service) GetRun(id string) (*RunDetail, error) {
	run, err := s.db.GetRun(id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, nil
	}

	results, err := s.db.GetCandidateResults(id)
	if err != nil {
		return nil, err
	}

	detail := &RunDetail{Run: *run}
	for _, result := range results {
		findings, err := s.db.GetFindings(result.ID)
		if err != nil {
			return nil, err
		}
		detail.Candidates = append(detail.Candidates, CandidateDetail{
			Result:   result,
			Findings: findings,
		})
	}

	return detail, nil
}

func (s *Service) ListRuns(limit int) ([]models.Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.db.ListRuns(limit)
}

func (s *Service) execute(ctx context.Context, run *models.Run) {
	start := time.Now()

	set, err := s.buildRequirementSet(ctx, run.RequirementURLs)
	if err != nil {
		s.failRun(run, start, err)
		return
	}
	run.RequirementCount = set.Len()
	run.Requirements = set.ByCategory()
	metrics.RequirementsExtracted.Observe(float64(set.Len()))

	candidates, unfetched := s.downloadCandidates(ctx, run.CandidateURLs)
	for _, ev := range unfetched {
		if s.publisher != nil {
			s.publisher.Publish(run.ID, evaluation.ProgressEvent{Candidate: ev.Candidate, State: evaluation.StateError})
		}
	}

	orchestrator := evaluation.NewOrchestrator(s.walker, s.classifier, s.runOptions(run.ID))
	evaluations := orchestrator.Evaluate(ctx, set, candidates)
	evaluations = append(evaluations, unfetched...)

	for _, ev := range evaluations {
		s.persistCandidate(run.ID, ev)
		s.recordCandidateMetrics(ev)
	}

	done := time.Now()
	run.Status = RunStatusDone
	run.CompletedAt = &done
	if err := s.db.UpdateRun(run); err != nil {
		logger.Error("failed to persist finished run", zap.String("run_id", run.ID), zap.Error(err))
	}

	metrics.RunsTotal.WithLabelValues(RunStatusDone).Inc()
	metrics.RunDuration.WithLabelValues(RunStatusDone).Observe(time.Since(start).Seconds())

	logger.Info("evaluation run finished",
		zap.String("run_id", run.ID),
		zap.Int("requirements", run.RequirementCount),
		zap.Int("candidates", len(evaluations)),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// buildRequirementSet downloads every requirement document, extracts its
// text and merges the per-document requirement sets. Requirement documents
// must all be readable: an incomplete requirement set would silently skew
// every verdict.
func (s *Service) buildRequirementSet(ctx context.Context, urls []string) (*requirements.Set, error) {
	docs, err := s.downloader.DownloadAll(ctx, urls)
	if err != nil {
		metrics.DownloadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("requirement download failed: %w", err)
	}
	metrics.DownloadsTotal.WithLabelValues("ok").Add(float64(len(docs)))

	set := requirements.NewSet()
	for _, doc := range docs {
		extraction, err := s.walker.Walk(doc.Data, doc.Filename)
		if err != nil {
			return nil, fmt.Errorf("requirement document %s unreadable: %w", doc.Filename, err)
		}

		result, err := s.parser.Parse(ctx, extraction.CombinedText)
		if err != nil {
			return nil, fmt.Errorf("requirement extraction from %s failed: %w", doc.Filename, err)
		}
		metrics.ChunksPerDocument.Observe(float64(result.Chunks))
		if result.FailedChunks > 0 {
			logger.Warn("some requirement chunks could not be parsed",
				zap.String("document", doc.Filename),
				zap.Int("failed_chunks", result.FailedChunks),
			)
		}

		set.Merge(result.Set.ByCategory())
	}

	if set.Empty() {
		return nil, ErrNoRequirements
	}
	return set, nil
}

// downloadCandidates fetches each candidate on its own. A candidate whose
// document cannot be retrieved is returned as a finished red error result
// instead of aborting the run, so its siblings are still evaluated.
func (s *Service) downloadCandidates(ctx context.Context, urls []string) ([]evaluation.CandidateInput, []evaluation.CandidateEvaluation) {
	candidates := make([]evaluation.CandidateInput, 0, len(urls))
	var unfetched []evaluation.CandidateEvaluation

	for _, u := range urls {
		doc, err := s.downloader.Download(ctx, u)
		if err != nil {
			metrics.DownloadsTotal.WithLabelValues("error").Inc()
			logger.Warn("candidate download failed",
				zap.String("url", u),
				zap.Error(err),
			)
			unfetched = append(unfetched, evaluation.FailedCandidate(
				candidateNameFromURL(u),
				fmt.Sprintf("download failed: %v", err),
			))
			continue
		}
		metrics.DownloadsTotal.WithLabelValues("ok").Inc()
		candidates = append(candidates, evaluation.CandidateInput{
			Name:     candidateName(doc.Filename),
			Filename: doc.Filename,
			Data:     doc.Data,
		})
	}

	return candidates, unfetched
}

func (s *Service) runOptions(runID string) evaluation.Options {
	opts := s.evalOpts
	opts.Summarizer = s.summarizer
	opts.Cache = s.cache
	opts.OnProgress = func(event evaluation.ProgressEvent) {
		if s.publisher != nil {
			s.publisher.Publish(runID, event)
		}
	}
	return opts
}

func (s *Service) persistCandidate(runID string, ev evaluation.CandidateEvaluation) {
	files := make([]models.FileRecord, 0, len(ev.Files))
	for _, m := range ev.Files {
		files = append(files, models.FileRecord{Name: m.Name, Size: m.Size, Type: string(m.Type)})
	}

	summary := ""
	if data, err := json.Marshal(ev.Summary); err == nil {
		summary = string(data)
	}

	result := &models.CandidateResult{
		ID:            ev.ID,
		RunID:         runID,
		Name:          ev.Candidate,
		State:         string(ev.State),
		Status:        string(ev.Status),
		Icon:          ev.Icon,
		Confidence:    ev.Confidence,
		GreenCount:    ev.Counts.Green,
		YellowCount:   ev.Counts.Yellow,
		RedCount:      ev.Counts.Red,
		TotalCount:    ev.Counts.Total,
		Truncated:     ev.Truncated,
		DegradedUnits: ev.DegradedUnits,
		Files:         files,
		Summary:       summary,
		Error:         ev.Error,
		CreatedAt:     time.Now(),
	}

	if err := s.db.InsertCandidateResult(result); err != nil {
		logger.Error("failed to persist candidate result",
			zap.String("run_id", runID),
			zap.String("candidate", ev.Candidate),
			zap.Error(err),
		)
		return
	}

	for _, f := range ev.Findings {
		err := s.db.InsertFinding(&models.Finding{
			CandidateID: ev.ID,
			Category:    f.Category,
			Requirement: f.Requirement,
			Status:      string(f.Verdict.Status),
			Issue:       f.Verdict.Reason.Issue,
			Risk:        f.Verdict.Reason.Risk,
			Note:        f.Verdict.Reason.Note,
			Degraded:    f.Degraded,
		})
		if err != nil {
			logger.Error("failed to persist finding",
				zap.String("candidate", ev.Candidate),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) recordCandidateMetrics(ev evaluation.CandidateEvaluation) {
	metrics.CandidatesEvaluated.WithLabelValues(string(ev.Status)).Inc()
	metrics.ConfidenceScore.Observe(ev.Confidence)
	if ev.Truncated {
		metrics.ExtractionTruncated.Inc()
	}
	if ev.DegradedUnits > 0 {
		metrics.DegradedUnitsTotal.Add(float64(ev.DegradedUnits))
	}
	for _, f := range ev.Findings {
		metrics.VerdictsTotal.WithLabelValues(string(f.Verdict.Status)).Inc()
	}
}

func (s *Service) failRun(run *models.Run, start time.Time, cause error) {
	logger.Error("evaluation run failed",
		zap.String("run_id", run.ID),
		zap.Error(cause),
	)

	done := time.Now()
	run.Status = RunStatusError
	run.Error = cause.Error()
	run.CompletedAt = &done
	if err := s.db.UpdateRun(run); err != nil {
		logger.Error("failed to persist failed run", zap.String("run_id", run.ID), zap.Error(err))
	}

	metrics.RunsTotal.WithLabelValues(RunStatusError).Inc()
	metrics.RunDuration.WithLabelValues(RunStatusError).Observe(time.Since(start).Seconds())
}

// candidateName derives the display name from the filename, dropping the
// extension.
func candidateName(filename string) string {
	name := strings.TrimSuffix(filename, filepath.Ext(filename))
	if name == "" {
		return filename
	}
	return name
}

// candidateNameFromURL names a candidate whose document never arrived, so
// no filename is available. Falls back to the raw URL when the path has no
// usable base.
func candidateNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return rawURL
	}
	return candidateName(base)
}
