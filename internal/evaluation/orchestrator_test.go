package evaluation

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tender-engine/backend/internal/compliance"
	"github.com/tender-engine/backend/internal/extract"
	"github.com/tender-engine/backend/internal/requirements"
)

// keywordClassifier returns green when the content mentions a keyword of
// the requirement, red otherwise.
type keywordClassifier struct {
	keyword string

	mu    sync.Mutex
	calls int
}

func (c *keywordClassifier) Classify(_ context.Context, _ string, candidateText string) (compliance.Verdict, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()

	if strings.Contains(candidateText, c.keyword) {
		return compliance.NewVerdict(compliance.StatusGreen, compliance.Reason{Note: "explicit match"}), nil
	}
	return compliance.NewVerdict(compliance.StatusRed, compliance.Reason{Issue: "not mentioned"}), nil
}

func (c *keywordClassifier) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type failingClassifier struct{}

func (failingClassifier) Classify(context.Context, string, string) (compliance.Verdict, error) {
	return compliance.Verdict{}, errors.New("model timeout")
}

type panickingClassifier struct{}

func (panickingClassifier) Classify(context.Context, string, string) (compliance.Verdict, error) {
	panic("classifier blew up")
}

type memoryCache struct {
	mu    sync.Mutex
	items map[string]compliance.Verdict
	hits  int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: make(map[string]compliance.Verdict)}
}

func (c *memoryCache) GetVerdict(_ context.Context, key string) (compliance.Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	if ok {
		c.hits++
	}
	return v, ok
}

func (c *memoryCache) SetVerdict(_ context.Context, key string, verdict compliance.Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = verdict
}

func isoRequirements(t *testing.T) *requirements.Set {
	t.Helper()
	set := requirements.NewSet()
	set.Add("qualification", "Vendor must hold ISO 9001")
	return set
}

func txtCandidate(name, content string) CandidateInput {
	return CandidateInput{Name: name, Filename: name + ".txt", Data: []byte(content)}
}

func newTestOrchestrator(classifier Classifier, opts Options) *Orchestrator {
	return NewOrchestrator(extract.NewWalker(extract.DefaultLimits()), classifier, opts)
}

// recordingSummarizer captures the findings it is handed.
type recordingSummarizer struct {
	mu       sync.Mutex
	received []RequirementRecord
}

func (s *recordingSummarizer) Summarize(_ context.Context, findings []RequirementRecord) (compliance.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append([]RequirementRecord(nil), findings...)
	return compliance.Summary{Overview: "meets the quality requirement"}, nil
}

func TestSummarizerReceivesFindings(t *testing.T) {
	summarizer := &recordingSummarizer{}
	o := newTestOrchestrator(&keywordClassifier{keyword: "ISO 9001"}, Options{Summarizer: summarizer})

	results := o.Evaluate(context.Background(), isoRequirements(t), []CandidateInput{
		txtCandidate("acme", "Our company holds a valid ISO 9001 certificate since 2019."),
	})

	require.Len(t, results, 1)
	assert.Equal(t, "meets the quality requirement", results[0].Summary.Overview)

	summarizer.mu.Lock()
	defer summarizer.mu.Unlock()
	require.Len(t, summarizer.received, 1)
	assert.Equal(t, "Vendor must hold ISO 9001", summarizer.received[0].Requirement)
	assert.Equal(t, compliance.StatusGreen, summarizer.received[0].Verdict.Status)
}

func TestEvaluateCompliantCandidate(t *testing.T) {
	classifier := &keywordClassifier{keyword: "ISO 9001"}
	o := newTestOrchestrator(classifier, Options{})

	results := o.Evaluate(context.Background(), isoRequirements(t), []CandidateInput{
		txtCandidate("acme", "Our company holds a valid ISO 9001 certificate since 2019."),
	})

	require.Len(t, results, 1)
	ev := results[0]

	assert.Equal(t, StateDone, ev.State)
	assert.Equal(t, compliance.StatusGreen, ev.Status)
	assert.Equal(t, 1.0, ev.Confidence)
	assert.Equal(t, compliance.Counts{Green: 1, Total: 1}, ev.Counts)
	require.Len(t, ev.Findings, 1)
	assert.Equal(t, "Vendor must hold ISO 9001", ev.Findings[0].Requirement)
	assert.Equal(t, "qualification", ev.Findings[0].Category)
	assert.False(t, ev.Truncated)
	assert.Zero(t, ev.DegradedUnits)
	assert.NotEmpty(t, ev.ID)
}

func TestEvaluateNonCompliantCandidate(t *testing.T) {
	classifier := &keywordClassifier{keyword: "ISO 9001"}
	o := newTestOrchestrator(classifier, Options{})

	results := o.Evaluate(context.Background(), isoRequirements(t), []CandidateInput{
		txtCandidate("shady", "We promise quality but hold no certifications."),
	})

	require.Len(t, results, 1)
	assert.Equal(t, compliance.StatusRed, results[0].Status)
	assert.Equal(t, 0.0, results[0].Confidence)
}

func TestEvaluateClassifierFailureDegradesToYellow(t *testing.T) {
	set := requirements.NewSet()
	set.Add("legal", "Must hold a trade license")
	set.Add("technical", "Must support IPv6")

	o := newTestOrchestrator(failingClassifier{}, Options{})

	results := o.Evaluate(context.Background(), set, []CandidateInput{
		txtCandidate("acme", "some readable offer text"),
	})

	require.Len(t, results, 1)
	ev := results[0]

	assert.Equal(t, compliance.StatusYellow, ev.Status)
	assert.NotEqual(t, compliance.StatusGreen, ev.Status)
	assert.Equal(t, 2, ev.DegradedUnits)

	for _, f := range ev.Findings {
		assert.Equal(t, compliance.StatusYellow, f.Verdict.Status)
		assert.True(t, f.Degraded)
		assert.NotEmpty(t, f.Verdict.Reason.Note)
		assert.Equal(t, "evaluation error", f.Verdict.Reason.Issue)
	}
}

func TestEvaluatePanickingClassifierDegrades(t *testing.T) {
	o := newTestOrchestrator(panickingClassifier{}, Options{})

	results := o.Evaluate(context.Background(), isoRequirements(t), []CandidateInput{
		txtCandidate("acme", "offer text"),
	})

	require.Len(t, results, 1)
	assert.Equal(t, compliance.StatusYellow, results[0].Status)
	assert.Equal(t, 1, results[0].DegradedUnits)
}

func TestEvaluateCandidateIsolation(t *testing.T) {
	classifier := &keywordClassifier{keyword: "ISO 9001"}
	o := newTestOrchestrator(classifier, Options{})

	results := o.Evaluate(context.Background(), isoRequirements(t), []CandidateInput{
		{Name: "broken", Filename: "broken.zip", Data: []byte("not an archive")},
		txtCandidate("healthy", "ISO 9001 certified since 2019"),
	})

	require.Len(t, results, 2)

	assert.Equal(t, StateError, results[0].State)
	assert.Equal(t, compliance.StatusRed, results[0].Status)
	assert.Contains(t, results[0].Error, "extraction failed")
	assert.Equal(t, "broken", results[0].Candidate)

	assert.Equal(t, StateDone, results[1].State)
	assert.Equal(t, compliance.StatusGreen, results[1].Status)
}

func TestEvaluateNoReadableContent(t *testing.T) {
	o := newTestOrchestrator(&keywordClassifier{keyword: "x"}, Options{})

	results := o.Evaluate(context.Background(), isoRequirements(t), []CandidateInput{
		txtCandidate("empty", "   \n  "),
	})

	require.Len(t, results, 1)
	assert.Equal(t, StateError, results[0].State)
	assert.Equal(t, compliance.StatusRed, results[0].Status)
	assert.Contains(t, results[0].Error, "no readable content")
}

func TestEvaluateChunkedCandidateText(t *testing.T) {
	// candidate text far above the chunk target forces the inner
	// chunk-classify-aggregate path; the keyword appears only once, so at
	// least one chunk scores red and dominance makes the requirement red
	long := strings.Repeat("Padding sentence about the offer. ", 40) +
		"We are ISO 9001 certified. " +
		strings.Repeat("More padding about unrelated matters. ", 40)

	classifier := &keywordClassifier{keyword: "ISO 9001"}
	o := newTestOrchestrator(classifier, Options{ChunkTargetSize: 500, ChunkOverlap: 50})

	results := o.Evaluate(context.Background(), isoRequirements(t), []CandidateInput{
		txtCandidate("verbose", long),
	})

	require.Len(t, results, 1)
	ev := results[0]

	assert.Greater(t, classifier.callCount(), 1, "long text must be classified per chunk")
	require.Len(t, ev.Findings, 1)
	assert.Equal(t, compliance.StatusRed, ev.Findings[0].Verdict.Status)
	assert.Equal(t, "not mentioned", ev.Findings[0].Verdict.Reason.Issue)
}

func TestEvaluateUsesVerdictCache(t *testing.T) {
	classifier := &keywordClassifier{keyword: "ISO 9001"}
	cache := newMemoryCache()
	o := newTestOrchestrator(classifier, Options{Cache: cache})

	candidates := []CandidateInput{txtCandidate("acme", "ISO 9001 certified")}
	reqs := isoRequirements(t)

	o.Evaluate(context.Background(), reqs, candidates)
	firstCalls := classifier.callCount()

	o.Evaluate(context.Background(), reqs, candidates)
	assert.Equal(t, firstCalls, classifier.callCount(), "second run must be served from cache")
	assert.Greater(t, cache.hits, 0)
}

func TestEvaluateProgressEvents(t *testing.T) {
	var mu sync.Mutex
	var states []State

	o := newTestOrchestrator(&keywordClassifier{keyword: "ISO"}, Options{
		OnProgress: func(ev ProgressEvent) {
			mu.Lock()
			states = append(states, ev.State)
			mu.Unlock()
		},
	})

	o.Evaluate(context.Background(), isoRequirements(t), []CandidateInput{
		txtCandidate("acme", "ISO 9001"),
	})

	assert.Equal(t, []State{StateExtracting, StateClassifying, StateAggregating, StateDone}, states)
}

func TestEvaluateTruncationPropagates(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("big.txt")
	require.NoError(t, err)
	_, err = w.Write(bytes.Repeat([]byte("x"), 4096))
	require.NoError(t, err)
	w, err = zw.Create("small.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("ISO 9001 certified"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	walker := extract.NewWalker(extract.Limits{MaxDepth: 3, MaxMembers: 100, MaxMemberSize: 1024})
	o := NewOrchestrator(walker, &keywordClassifier{keyword: "ISO 9001"}, Options{})

	results := o.Evaluate(context.Background(), isoRequirements(t), []CandidateInput{
		{Name: "acme", Filename: "acme.zip", Data: buf.Bytes()},
	})

	require.Len(t, results, 1)
	assert.True(t, results[0].Truncated, "resource-limit truncation must reach the final report")
	assert.Equal(t, compliance.StatusGreen, results[0].Status)
}

func TestEvaluateResultOrderMatchesInput(t *testing.T) {
	classifier := &keywordClassifier{keyword: "ISO 9001"}
	o := newTestOrchestrator(classifier, Options{Workers: 2})

	names := []string{"alpha", "beta", "gamma", "delta"}
	candidates := make([]CandidateInput, 0, len(names))
	for _, n := range names {
		candidates = append(candidates, txtCandidate(n, "ISO 9001 text for "+n))
	}

	results := o.Evaluate(context.Background(), isoRequirements(t), candidates)
	require.Len(t, results, len(names))
	for i, n := range names {
		assert.Equal(t, n, results[i].Candidate)
	}
}

func TestEvaluateZeroRequirements(t *testing.T) {
	o := newTestOrchestrator(&keywordClassifier{keyword: "x"}, Options{})

	results := o.Evaluate(context.Background(), requirements.NewSet(), []CandidateInput{
		txtCandidate("acme", "some offer text"),
	})

	require.Len(t, results, 1)
	assert.Equal(t, compliance.StatusGreen, results[0].Status)
	assert.Equal(t, 0, results[0].Counts.Total, "empty requirement set must be visible in the counts")
	assert.Equal(t, 0.0, results[0].Confidence)
}
