package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/tender-engine/backend/internal/storage/models"
	"github.com/tender-engine/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("sqlite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		requirement_urls TEXT NOT NULL,
		candidate_urls TEXT NOT NULL,
		status TEXT NOT NULL,
		requirement_count INTEGER DEFAULT 0,
		requirements TEXT,
		error TEXT,
		created_at INTEGER NOT NULL,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

	CREATE TABLE IF NOT EXISTS candidate_results (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		name TEXT NOT NULL,
		state TEXT NOT NULL,
		status TEXT NOT NULL,
		icon TEXT,
		confidence REAL,
		green_count INTEGER DEFAULT 0,
		yellow_count INTEGER DEFAULT 0,
		red_count INTEGER DEFAULT 0,
		total_count INTEGER DEFAULT 0,
		truncated INTEGER DEFAULT 0,
		degraded_units INTEGER DEFAULT 0,
		files TEXT,
		summary TEXT,
		error TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_candidates_run ON candidate_results(run_id);

	CREATE TABLE IF NOT EXISTS findings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		candidate_id TEXT NOT NULL,
		category TEXT NOT NULL,
		requirement TEXT NOT NULL,
		status TEXT NOT NULL,
		issue TEXT,
		risk TEXT,
		note TEXT,
		degraded INTEGER DEFAULT 0,
		FOREIGN KEY (candidate_id) REFERENCES candidate_results(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_findings_candidate ON findings(candidate_id);
	CREATE INDEX IF NOT EXISTS idx_findings_status ON findings(status);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("sqlite schema initialized")
	return nil
}

func (c *Client) InsertRun(run *models.Run) error {
	reqURLs, _ := json.Marshal(run.RequirementURLs)
	candURLs, _ := json.Marshal(run.CandidateURLs)

	query := `
		INSERT INTO runs (id, requirement_urls, candidate_urls, status, requirement_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		run.ID,
		string(reqURLs),
		string(candURLs),
		run.Status,
		run.RequirementCount,
		run.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	logger.Debug("run inserted", zap.String("run_id", run.ID))
	return nil
}

func (c *Client) UpdateRun(run *models.Run) error {
	reqs, _ := json.Marshal(run.Requirements)

	query := `
		UPDATE runs
		SET status = ?, requirement_count = ?, requirements = ?, error = ?, completed_at = ?
		WHERE id = ?
	`

	var completedAt interface{}
	if run.CompletedAt != nil {
		completedAt = run.CompletedAt.Unix()
	}

	_, err := c.db.Exec(
		query,
		run.Status,
		run.RequirementCount,
		string(reqs),
		run.Error,
		completedAt,
		run.ID,
	)

	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	return nil
}

func (c *Client) GetRun(id string) (*models.Run, error) {
	query := `
		SELECT id, requirement_urls, candidate_urls, status, requirement_count, requirements, error, created_at, completed_at
		FROM runs WHERE id = ?
	`

	var run models.Run
	var reqURLs, candURLs string
	var reqs, runErr sql.NullString
	var createdAt int64
	var completedAt sql.NullInt64

	err := c.db.QueryRow(query, id).Scan(
		&run.ID,
		&reqURLs,
		&candURLs,
		&run.Status,
		&run.RequirementCount,
		&reqs,
		&runErr,
		&createdAt,
		&completedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	json.Unmarshal([]byte(reqURLs), &run.RequirementURLs)
	json.Unmarshal([]byte(candURLs), &run.CandidateURLs)
	if reqs.Valid && reqs.String != "" {
		json.Unmarshal([]byte(reqs.String), &run.Requirements)
	}
	// error stays NULL until the run finishes
	run.Error = runErr.String
	run.CreatedAt = time.Unix(createdAt, 0)
	if completedAt.Valid {
		done := time.Unix(completedAt.Int64, 0)
		run.CompletedAt = &done
	}

	return &run, nil
}

func (c *Client) ListRuns(limit int) ([]models.Run, error) {
	query := `
		SELECT id, requirement_urls, candidate_urls, status, requirement_count, error, created_at, completed_at
		FROM runs
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var run models.Run
		var reqURLs, candURLs string
		var runErr sql.NullString
		var createdAt int64
		var completedAt sql.NullInt64

		err := rows.Scan(
			&run.ID,
			&reqURLs,
			&candURLs,
			&run.Status,
			&run.RequirementCount,
			&runErr,
			&createdAt,
			&completedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		run.Error = runErr.String
		json.Unmarshal([]byte(reqURLs), &run.RequirementURLs)
		json.Unmarshal([]byte(candURLs), &run.CandidateURLs)
		run.CreatedAt = time.Unix(createdAt, 0)
		if completedAt.Valid {
			done := time.Unix(completedAt.Int64, 0)
			run.CompletedAt = &done
		}

		runs = append(runs, run)
	}

	return runs, nil
}

func (c *Client) InsertCandidateResult(result *models.CandidateResult) error {
	files, _ := json.Marshal(result.Files)

	query := `
		INSERT INTO candidate_results (id, run_id, name, state, status, icon, confidence,
			green_count, yellow_count, red_count, total_count, truncated, degraded_units,
			files, summary, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	truncated := 0
	if result.Truncated {
		truncated = 1
	}

	_, err := c.db.Exec(
		query,
		result.ID,
		result.RunID,
		result.Name,
		result.State,
		result.Status,
		result.Icon,
		result.Confidence,
		result.GreenCount,
		result.YellowCount,
		result.RedCount,
		result.TotalCount,
		truncated,
		result.DegradedUnits,
		string(files),
		result.Summary,
		result.Error,
		result.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert candidate result: %w", err)
	}

	logger.Debug("candidate result inserted",
		zap.String("candidate_id", result.ID),
		zap.String("run_id", result.RunID),
		zap.String("status", result.Status),
	)

	return nil
}

func (c *Client) GetCandidateResults(runID string) ([]models.CandidateResult, error) {
	query := `
		SELECT id, run_id, name, state, status, icon, confidence,
			green_count, yellow_count, red_count, total_count, truncated, degraded_units,
			files, summary, error, created_at
		FROM candidate_results
		WHERE run_id = ?
		ORDER BY created_at ASC, name ASC
	`

	rows, err := c.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get candidate results: %w", err)
	}
	defer rows.Close()

	var results []models.CandidateResult
	for rows.Next() {
		var r models.CandidateResult
		var truncated int
		var files sql.NullString
		var createdAt int64

		err := rows.Scan(
			&r.ID,
			&r.RunID,
			&r.Name,
			&r.State,
			&r.Status,
			&r.Icon,
			&r.Confidence,
			&r.GreenCount,
			&r.YellowCount,
			&r.RedCount,
			&r.TotalCount,
			&truncated,
			&r.DegradedUnits,
			&files,
			&r.Summary,
			&r.Error,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.Truncated = truncated != 0
		if files.Valid && files.String != "" {
			json.Unmarshal([]byte(files.String), &r.Files)
		}
		r.CreatedAt = time.Unix(createdAt, 0)

		results = append(results, r)
	}

	return results, nil
}

func (c *Client) InsertFinding(finding *models.Finding) error {
	query := `
		INSERT INTO findings (candidate_id, category, requirement, status, issue, risk, note, degraded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	degraded := 0
	if finding.Degraded {
		degraded = 1
	}

	_, err := c.db.Exec(
		query,
		finding.CandidateID,
		finding.Category,
		finding.Requirement,
		finding.Status,
		finding.Issue,
		finding.Risk,
		finding.Note,
		degraded,
	)

	if err != nil {
		return fmt.Errorf("failed to insert finding: %w", err)
	}

	return nil
}

func (c *Client) GetFindings(candidateID string) ([]models.Finding, error) {
	query := `
		SELECT id, candidate_id, category, requirement, status, issue, risk, note, degraded
		FROM findings
		WHERE candidate_id = ?
		ORDER BY id ASC
	`

	rows, err := c.db.Query(query, candidateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get findings: %w", err)
	}
	defer rows.Close()

	var findings []models.Finding
	for rows.Next() {
		var f models.Finding
		var degraded int

		err := rows.Scan(&f.ID, &f.CandidateID, &f.Category, &f.Requirement, &f.Status, &f.Issue, &f.Risk, &f.Note, &degraded)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		f.Degraded = degraded != 0
		findings = append(findings, f)
	}

	return findings, nil
}
