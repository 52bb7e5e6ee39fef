package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/contentmigrate/migrate-framework/events"
	"github.com/contentmigrate/migrate-framework/executable"
	"github.com/contentmigrate/migrate-framework/migration"
)

// Operation is what a run did.
type Operation string

const (
	OperationImport   Operation = "import"
	OperationRollback Operation = "rollback"
)

// Def identifies the migration definition a report belongs to.
type Def struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

// Report is the record of one migration run.
type Report struct {
	ID        string        `json:"id"`
	Def       Def           `json:"definition"`
	Operation Operation     `json:"operation"`
	Counts    events.Counts `json:"counts"`
	FailedIDs []string      `json:"failedIds,omitempty"`
	Timestamp *time.Time    `json:"timestamp"`
	Err       *ReportError  `json:"error"`
}

// NewReport creates a report of a finished run.
func NewReport(def migration.Definition, op Operation, res executable.Result, err error) Report {
	now := time.Now()
	r := Report{
		ID:        uuid.New().String(),
		Def:       Def{ID: def.ID},
		Operation: op,
		Counts:    res.Counts(),
		Timestamp: &now,
	}
	if def.Version != nil {
		r.Def.Version = def.Version.String()
	}
	for _, ids := range res.FailedIDs {
		r.FailedIDs = append(r.FailedIDs, ids.String())
	}
	if err == nil {
		err = res.Err
	}
	if err != nil {
		r.Err = &ReportError{Message: err.Error()}
	}

	return r
}

// Succeeded reports whether the run completed.
func (r Report) Succeeded() bool {
	return r.Counts.State == executable.StateCompleted.String()
}

// ReportError represents an error in the Report. Its purpose is to have an exported field
// Message for marshalling as the native error can't be marshaled to JSON.
type ReportError struct {
	Message string `json:"message"`
}

// Error implements the error interface.
func (o ReportError) Error() string {
	return o.Message
}

var ErrReportNotFound = errors.New("report not found")

// Reporter stores run reports.
type Reporter interface {
	GetReport(id string) (Report, error)
	GetReports() ([]Report, error)
	AddReport(report Report) error
}

// LastSuccessfulImport returns the latest completed import of a migration. A completed
// rollback after it resets the migration and yields ErrReportNotFound.
func LastSuccessfulImport(r Reporter, migrationID string) (Report, error) {
	reports, err := r.GetReports()
	if err != nil {
		return Report{}, err
	}
	for i := len(reports) - 1; i >= 0; i-- {
		rep := reports[i]
		if rep.Def.ID != migrationID || !rep.Succeeded() {
			continue
		}
		if rep.Operation == OperationRollback {
			break
		}

		return rep, nil
	}

	return Report{}, fmt.Errorf("%w: no successful import of %s", ErrReportNotFound, migrationID)
}

// MemoryReporter stores reports in memory.
// This is thread-safe and can be used in a multi-threaded environment.
type MemoryReporter struct {
	reports []Report
	mu      sync.RWMutex
}

var _ Reporter = &MemoryReporter{}

// NewMemoryReporter creates a new MemoryReporter, optionally holding reports.
func NewMemoryReporter(reports ...Report) *MemoryReporter {
	return &MemoryReporter{reports: reports}
}

// AddReport adds a report to the memory reporter.
func (e *MemoryReporter) AddReport(report Report) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.reports = append(e.reports, report)

	return nil
}

// GetReports returns all reports.
func (e *MemoryReporter) GetReports() ([]Report, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	// Create a copy to avoid data races after returning
	reports := make([]Report, len(e.reports))
	copy(reports, e.reports)

	return reports, nil
}

// GetReport returns a report by ID.
// Returns ErrReportNotFound if the report is not found.
func (e *MemoryReporter) GetReport(id string) (Report, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, report := range e.reports {
		if report.ID == id {
			return report, nil
		}
	}

	return Report{}, fmt.Errorf("report_id %s: %w", id, ErrReportNotFound)
}

// FileReporter keeps reports in a JSON file so that later invocations see earlier runs.
type FileReporter struct {
	path string
	mem  *MemoryReporter
	mu   sync.Mutex
}

var _ Reporter = &FileReporter{}

// NewFileReporter loads the reports stored at path. A missing file holds no reports.
func NewFileReporter(path string) (*FileReporter, error) {
	var reports []Report
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read reports file: %w", err)
	default:
		if err := json.Unmarshal(b, &reports); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reports file: %w", err)
		}
	}

	return &FileReporter{path: path, mem: NewMemoryReporter(reports...)}, nil
}

func (f *FileReporter) GetReport(id string) (Report, error) { return f.mem.GetReport(id) }

func (f *FileReporter) GetReports() ([]Report, error) { return f.mem.GetReports() }

// AddReport adds the report and rewrites the file.
func (f *FileReporter) AddReport(report Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.mem.AddReport(report); err != nil {
		return err
	}
	reports, err := f.mem.GetReports()
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}

	return os.Rename(tmp, f.path)
}
