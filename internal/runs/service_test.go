package runs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tender-engine/backend/internal/compliance"
	"github.com/tender-engine/backend/internal/evaluation"
	"github.com/tender-engine/backend/internal/extract"
	"github.com/tender-engine/backend/internal/fetch"
	"github.com/tender-engine/backend/internal/requirements"
	"github.com/tender-engine/backend/internal/storage/models"
)

// memoryStore keeps everything in maps so service tests need no database.
type memoryStore struct {
	mu         sync.Mutex
	runs       map[string]models.Run
	candidates map[string][]models.CandidateResult
	findings   map[string][]models.Finding
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		runs:       make(map[string]models.Run),
		candidates: make(map[string][]models.CandidateResult),
		findings:   make(map[string][]models.Finding),
	}
}

func (s *memoryStore) InsertRun(run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = *run
	return nil
}

func (s *memoryStore) UpdateRun(run *models.Run) error {
	return s.InsertRun(run)
}

func (s *memoryStore) GetRun(id string) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	return &run, nil
}

func (s *memoryStore) ListRuns(limit int) ([]models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Run
	for _, run := range s.runs {
		out = append(out, run)
	}
	return out, nil
}

func (s *memoryStore) InsertCandidateResult(result *models.CandidateResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates[result.RunID] = append(s.candidates[result.RunID], *result)
	return nil
}

func (s *memoryStore) GetCandidateResults(runID string) ([]models.CandidateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CandidateResult(nil), s.candidates[runID]...), nil
}

func (s *memoryStore) InsertFinding(finding *models.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings[finding.CandidateID] = append(s.findings[finding.CandidateID], *finding)
	return nil
}

func (s *memoryStore) GetFindings(candidateID string) ([]models.Finding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Finding(nil), s.findings[candidateID]...), nil
}

// stubExtractor emits one fixed requirement per chunk.
type stubExtractor struct{}

func (stubExtractor) ExtractRequirements(_ context.Context, _ []string, _ string) (map[string][]string, error) {
	return map[string][]string{
		"qualification": {"Vendor must hold ISO 9001"},
	}, nil
}

type stubClassifier struct{ keyword string }

func (c stubClassifier) Classify(_ context.Context, _ string, text string) (compliance.Verdict, error) {
	if strings.Contains(text, c.keyword) {
		return compliance.NewVerdict(compliance.StatusGreen, compliance.Reason{Note: "found"}), nil
	}
	return compliance.NewVerdict(compliance.StatusRed, compliance.Reason{Issue: "missing"}), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []evaluation.ProgressEvent
	runIDs map[string]bool
}

func (p *recordingPublisher) Publish(runID string, event evaluation.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runIDs == nil {
		p.runIDs = make(map[string]bool)
	}
	p.runIDs[runID] = true
	p.events = append(p.events, event)
}

func newTestService(t *testing.T, store Store, publisher ProgressPublisher) *Service {
	t.Helper()
	return NewService(store, ServiceOptions{
		Downloader: fetch.NewDownloader(5, 1<<20),
		Walker:     extract.NewWalker(extract.DefaultLimits()),
		Parser:     requirements.NewParser(stubExtractor{}, 5000, 300),
		Classifier: stubClassifier{keyword: "ISO 9001"},
		Publisher:  publisher,
	})
}

func waitForRun(t *testing.T, store *memoryStore, id string) models.Run {
	t.Helper()
	var run models.Run
	require.Eventually(t, func() bool {
		got, err := store.GetRun(id)
		if err != nil || got == nil || got.Status == RunStatusRunning {
			return false
		}
		run = *got
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return run
}

func TestStartRunValidation(t *testing.T) {
	svc := newTestService(t, newMemoryStore(), nil)

	_, err := svc.StartRun(RunRequest{CandidateURLs: []string{"http://x/a.txt"}})
	assert.ErrorIs(t, err, ErrNoRequirementURLs)

	_, err = svc.StartRun(RunRequest{RequirementURLs: []string{"http://x/r.txt"}})
	assert.ErrorIs(t, err, ErrNoCandidateURLs)

	many := make([]string, 21)
	for i := range many {
		many[i] = "http://x/c.txt"
	}
	_, err = svc.StartRun(RunRequest{
		RequirementURLs: []string{"http://x/r.txt"},
		CandidateURLs:   many,
	})
	assert.ErrorIs(t, err, ErrTooManyCandidates)
}

func TestRunEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "requirements.txt"):
			w.Write([]byte("The vendor shall hold a valid ISO 9001 certificate."))
		case strings.HasSuffix(r.URL.Path, "good.txt"):
			w.Write([]byte("We are ISO 9001 certified since 2019."))
		case strings.HasSuffix(r.URL.Path, "bad.txt"):
			w.Write([]byte("No certifications to speak of."))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	store := newMemoryStore()
	publisher := &recordingPublisher{}
	svc := newTestService(t, store, publisher)

	run, err := svc.StartRun(RunRequest{
		RequirementURLs: []string{srv.URL + "/requirements.txt"},
		CandidateURLs:   []string{srv.URL + "/good.txt", srv.URL + "/bad.txt"},
	})
	require.NoError(t, err)

	finished := waitForRun(t, store, run.ID)
	assert.Equal(t, RunStatusDone, finished.Status)
	assert.Equal(t, 1, finished.RequirementCount)
	require.NotNil(t, finished.CompletedAt)

	detail, err := svc.GetRun(run.ID)
	require.NoError(t, err)
	require.NotNil(t, detail)
	require.Len(t, detail.Candidates, 2)

	byName := map[string]CandidateDetail{}
	for _, c := range detail.Candidates {
		byName[c.Result.Name] = c
	}

	good := byName["good"]
	assert.Equal(t, string(compliance.StatusGreen), good.Result.Status)
	assert.Equal(t, 1.0, good.Result.Confidence)
	require.Len(t, good.Findings, 1)
	assert.Equal(t, "qualification", good.Findings[0].Category)

	bad := byName["bad"]
	assert.Equal(t, string(compliance.StatusRed), bad.Result.Status)
	assert.Equal(t, 0.0, bad.Result.Confidence)

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	assert.True(t, publisher.runIDs[run.ID])
	assert.NotEmpty(t, publisher.events)
}

func TestRunSurvivesFailedCandidateDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "requirements.txt"):
			w.Write([]byte("The vendor shall hold a valid ISO 9001 certificate."))
		case strings.HasSuffix(r.URL.Path, "good.txt"):
			w.Write([]byte("We are ISO 9001 certified since 2019."))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	store := newMemoryStore()
	publisher := &recordingPublisher{}
	svc := newTestService(t, store, publisher)

	run, err := svc.StartRun(RunRequest{
		RequirementURLs: []string{srv.URL + "/requirements.txt"},
		CandidateURLs:   []string{srv.URL + "/good.txt", srv.URL + "/gone.txt"},
	})
	require.NoError(t, err)

	finished := waitForRun(t, store, run.ID)
	assert.Equal(t, RunStatusDone, finished.Status)
	assert.Empty(t, finished.Error)

	detail, err := svc.GetRun(run.ID)
	require.NoError(t, err)
	require.NotNil(t, detail)
	require.Len(t, detail.Candidates, 2)

	byName := map[string]CandidateDetail{}
	for _, c := range detail.Candidates {
		byName[c.Result.Name] = c
	}

	good := byName["good"]
	assert.Equal(t, string(compliance.StatusGreen), good.Result.Status)
	assert.Equal(t, string(evaluation.StateDone), good.Result.State)

	gone := byName["gone"]
	assert.Equal(t, string(compliance.StatusRed), gone.Result.Status)
	assert.Equal(t, string(evaluation.StateError), gone.Result.State)
	assert.Contains(t, gone.Result.Error, "download failed")
	assert.Empty(t, gone.Findings)

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	var sawError bool
	for _, e := range publisher.events {
		if e.Candidate == "gone" && e.State == evaluation.StateError {
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestRunFailsWhenRequirementDocMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := newMemoryStore()
	svc := newTestService(t, store, nil)

	run, err := svc.StartRun(RunRequest{
		RequirementURLs: []string{srv.URL + "/requirements.txt"},
		CandidateURLs:   []string{srv.URL + "/offer.txt"},
	})
	require.NoError(t, err)

	finished := waitForRun(t, store, run.ID)
	assert.Equal(t, RunStatusError, finished.Status)
	assert.Contains(t, finished.Error, "requirement download failed")
}

func TestRunFailsWhenNoRequirementsExtracted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("some text"))
	}))
	defer srv.Close()

	store := newMemoryStore()
	svc := NewService(store, ServiceOptions{
		Downloader: fetch.NewDownloader(5, 1<<20),
		Walker:     extract.NewWalker(extract.DefaultLimits()),
		Parser:     requirements.NewParser(emptyExtractor{}, 5000, 300),
		Classifier: stubClassifier{keyword: "x"},
	})

	run, err := svc.StartRun(RunRequest{
		RequirementURLs: []string{srv.URL + "/req.txt"},
		CandidateURLs:   []string{srv.URL + "/offer.txt"},
	})
	require.NoError(t, err)

	finished := waitForRun(t, store, run.ID)
	assert.Equal(t, RunStatusError, finished.Status)
	assert.Contains(t, finished.Error, ErrNoRequirements.Error())
}

type emptyExtractor struct{}

func (emptyExtractor) ExtractRequirements(context.Context, []string, string) (map[string][]string, error) {
	return map[string][]string{}, nil
}

func TestCandidateName(t *testing.T) {
	assert.Equal(t, "offer-a", candidateName("offer-a.zip"))
	assert.Equal(t, "offer", candidateName("offer.edoc"))
	assert.Equal(t, ".zip", candidateName(".zip"))
}

func TestCandidateNameFromURL(t *testing.T) {
	assert.Equal(t, "offer-a", candidateNameFromURL("http://host/docs/offer-a.zip"))
	assert.Equal(t, "offer", candidateNameFromURL("http://host/offer.pdf?token=abc"))
	assert.Equal(t, "http://host/", candidateNameFromURL("http://host/"))
}
