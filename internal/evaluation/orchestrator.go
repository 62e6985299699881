package evaluation

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tender-engine/backend/internal/chunker"
	"github.com/tender-engine/backend/internal/compliance"
	"github.com/tender-engine/backend/internal/extract"
	"github.com/tender-engine/backend/internal/requirements"
	"github.com/tender-engine/backend/pkg/logger"
	"github.com/tender-engine/backend/pkg/utils"
)

// Classifier judges one requirement against a block of candidate content.
// It is treated as a slow, failure-prone remote call; the orchestrator
// applies the yellow fail-safe to any error it returns.
type Classifier interface {
	Classify(ctx context.Context, requirement, candidateText string) (compliance.Verdict, error)
}

// Summarizer produces the free-form rollup for a finished candidate.
// Optional; failures degrade to an empty summary.
type Summarizer interface {
	Summarize(ctx context.Context, findings []RequirementRecord) (compliance.Summary, error)
}

// VerdictCache memoizes classifier verdicts by content hash. Optional.
type VerdictCache interface {
	GetVerdict(ctx context.Context, key string) (compliance.Verdict, bool)
	SetVerdict(ctx context.Context, key string, verdict compliance.Verdict)
}

type Options struct {
	ChunkTargetSize int
	ChunkOverlap    int
	Workers         int
	Summarizer      Summarizer
	Cache           VerdictCache
	OnProgress      func(ProgressEvent)
}

// Orchestrator drives extraction, chunked classification and aggregation
// for N requirements x M candidates. Candidates are independent: they run
// concurrently and one candidate's failure never aborts its siblings.
type Orchestrator struct {
	walker     *extract.Walker
	classifier Classifier
	summarizer Summarizer
	cache      VerdictCache
	onProgress func(ProgressEvent)

	chunkTarget  int
	chunkOverlap int

	// bounds in-flight classifier calls across all candidates of a run
	workers int

	progressMu sync.Mutex
}

func NewOrchestrator(walker *extract.Walker, classifier Classifier, opts Options) *Orchestrator {
	if opts.ChunkTargetSize <= 0 {
		opts.ChunkTargetSize = chunker.DefaultTargetSize
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkTargetSize {
		opts.ChunkOverlap = chunker.DefaultOverlap
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}

	return &Orchestrator{
		walker:       walker,
		classifier:   classifier,
		summarizer:   opts.Summarizer,
		cache:        opts.Cache,
		onProgress:   opts.OnProgress,
		chunkTarget:  opts.ChunkTargetSize,
		chunkOverlap: opts.ChunkOverlap,
		workers:      opts.Workers,
	}
}

// Evaluate scores every candidate against the requirement set. The returned
// slice matches the input order and always has one entry per candidate.
func (o *Orchestrator) Evaluate(ctx context.Context, reqs *requirements.Set, candidates []CandidateInput) []CandidateEvaluation {
	results := make([]CandidateEvaluation, len(candidates))
	sem := semaphore.NewWeighted(int64(o.workers))

	var g errgroup.Group
	for i := range candidates {
		i := i
		g.Go(func() error {
			results[i] = o.evaluateCandidate(ctx, reqs, candidates[i], sem)
			return nil
		})
	}
	g.Wait()

	return results
}

func (o *Orchestrator) evaluateCandidate(ctx context.Context, reqs *requirements.Set, cand CandidateInput, sem *semaphore.Weighted) (ev CandidateEvaluation) {
	ev = CandidateEvaluation{
		ID:        uuid.NewString(),
		Candidate: cand.Name,
		State:     StatePending,
	}

	defer func() {
		// one candidate's panic must not take down its siblings
		if r := recover(); r != nil {
			logger.Error("candidate evaluation panicked",
				zap.String("candidate", cand.Name),
				zap.Any("cause", r),
			)
			ev = o.failCandidate(ev, fmt.Sprintf("internal error: %v", r))
		}
	}()

	o.transition(&ev, StateExtracting)

	extraction, err := o.walker.Walk(cand.Data, cand.Filename)
	if err != nil {
		logger.Warn("candidate extraction failed",
			zap.String("candidate", cand.Name),
			zap.Error(err),
		)
		return o.failCandidate(ev, fmt.Sprintf("extraction failed: %v", err))
	}

	ev.Files = extraction.Members
	ev.Truncated = extraction.Truncated

	if chunker.IsBlank(extraction.CombinedText) {
		return o.failCandidate(ev, "no readable content in candidate documents")
	}

	o.transition(&ev, StateClassifying)

	flat := reqs.Flatten()
	findings := make([]RequirementRecord, len(flat))

	var g errgroup.Group
	for i := range flat {
		i := i
		g.Go(func() error {
			findings[i] = o.scoreRequirement(ctx, flat[i], extraction.CombinedText, sem)
			return nil
		})
	}
	g.Wait()

	o.transition(&ev, StateAggregating)

	verdicts := make([]compliance.Verdict, len(findings))
	for i, f := range findings {
		verdicts[i] = f.Verdict
		if f.Degraded {
			ev.DegradedUnits++
		}
	}

	status, confidence := compliance.Aggregate(verdicts)
	ev.Findings = findings
	ev.Counts = compliance.CountStatuses(verdicts)
	ev.Status = status
	ev.Icon = status.Icon()
	ev.Confidence = confidence
	ev.Summary = o.summarize(ctx, findings)

	o.transition(&ev, StateDone)

	logger.Info("candidate evaluated",
		zap.String("candidate", cand.Name),
		zap.String("status", string(status)),
		zap.Float64("confidence", confidence),
		zap.Int("requirements", len(findings)),
		zap.Int("degraded_units", ev.DegradedUnits),
		zap.Bool("truncated", ev.Truncated),
	)

	return ev
}

// FailedCandidate builds the error result for a candidate that never
// reached the pipeline, such as one whose source document could not be
// fetched. Like any un-evaluatable candidate it scores red.
func FailedCandidate(name, detail string) CandidateEvaluation {
	return CandidateEvaluation{
		ID:        uuid.NewString(),
		Candidate: name,
		State:     StateError,
		Status:    compliance.StatusRed,
		Icon:      compliance.StatusRed.Icon(),
		Error:     detail,
	}
}

// failCandidate converts a hard per-candidate failure into a red-status
// result: an un-evaluatable candidate cannot be presumed compliant.
func (o *Orchestrator) failCandidate(ev CandidateEvaluation, detail string) CandidateEvaluation {
	ev.Status = compliance.StatusRed
	ev.Icon = compliance.StatusRed.Icon()
	ev.Confidence = 0
	ev.Error = detail
	o.transition(&ev, StateError)
	return ev
}

// scoreRequirement produces one RequirementRecord. Candidate text longer
// than the chunk target is split, each segment classified separately, and
// the segment verdicts rolled up with the same dominance rule used at the
// candidate level.
func (o *Orchestrator) scoreRequirement(ctx context.Context, req requirements.Requirement, candidateText string, sem *semaphore.Weighted) RequirementRecord {
	record := RequirementRecord{
		Requirement: req.Text,
		Category:    req.Category,
	}

	if len([]rune(candidateText)) <= o.chunkTarget {
		record.Verdict, record.Degraded = o.classifyUnit(ctx, req.Text, candidateText, sem)
		return record
	}

	chunks, err := chunker.Split(candidateText, o.chunkTarget, o.chunkOverlap)
	if err != nil || len(chunks) == 0 {
		record.Verdict = compliance.Fallback(fmt.Sprintf("failed to chunk candidate text: %v", err))
		record.Degraded = true
		return record
	}

	verdicts := make([]compliance.Verdict, len(chunks))
	degraded := make([]bool, len(chunks))

	var g errgroup.Group
	for i := range chunks {
		i := i
		g.Go(func() error {
			verdicts[i], degraded[i] = o.classifyUnit(ctx, req.Text, chunks[i].Text, sem)
			return nil
		})
	}
	g.Wait()

	status, _ := compliance.Aggregate(verdicts)
	worst := compliance.Worst(verdicts)

	record.Verdict = compliance.NewVerdict(status, worst.Reason)
	for _, d := range degraded {
		if d {
			record.Degraded = true
			break
		}
	}

	return record
}

// classifyUnit performs one classifier call under the shared concurrency
// bound, consulting the verdict cache first. A failed call yields the
// synthetic yellow fail-safe verdict, never an error.
func (o *Orchestrator) classifyUnit(ctx context.Context, requirement, text string, sem *semaphore.Weighted) (compliance.Verdict, bool) {
	key := utils.HashString(requirement + "\x00" + text)

	if o.cache != nil {
		if verdict, ok := o.cache.GetVerdict(ctx, key); ok {
			return verdict, false
		}
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		return compliance.Fallback(fmt.Sprintf("evaluation cancelled: %v", err)), true
	}
	verdict, err := o.safeClassify(ctx, requirement, text)
	sem.Release(1)

	if err != nil {
		logger.Warn("classifier call failed, degrading to yellow",
			zap.String("requirement", truncateForLog(requirement)),
			zap.Error(err),
		)
		return compliance.Fallback(err.Error()), true
	}

	if o.cache != nil {
		o.cache.SetVerdict(ctx, key, verdict)
	}

	return verdict, false
}

// safeClassify shields the pipeline from a panicking classifier
// implementation; a panic degrades exactly like a returned error.
func (o *Orchestrator) safeClassify(ctx context.Context, requirement, text string) (verdict compliance.Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("classifier panic: %v", r)
		}
	}()
	return o.classifier.Classify(ctx, requirement, text)
}

func (o *Orchestrator) summarize(ctx context.Context, findings []RequirementRecord) compliance.Summary {
	if o.summarizer == nil {
		return compliance.Summary{}
	}

	summary, err := o.summarizer.Summarize(ctx, findings)
	if err != nil {
		logger.Warn("summary generation failed", zap.Error(err))
		return compliance.Summary{}
	}
	return summary
}

func (o *Orchestrator) transition(ev *CandidateEvaluation, state State) {
	ev.State = state
	if o.onProgress == nil {
		return
	}
	o.progressMu.Lock()
	defer o.progressMu.Unlock()
	o.onProgress(ProgressEvent{Candidate: ev.Candidate, State: state})
}

func truncateForLog(s string) string {
	const max = 60
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
