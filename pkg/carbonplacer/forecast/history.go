package forecast

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"k8s.io/klog/v2"
)

// Supported history backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// HistoryStore persists carbon observations and summarises them into
// hour-of-day profiles used when live forecasts are unavailable.
type HistoryStore interface {
	Store(records []Record) error
	HourlyProfile(datacenterID string, since time.Time) (Profile, error)
	Cleanup(before time.Time) (int64, error)
	Close() error
}

// Open creates the history store for backend at path. An empty backend
// defaults to SQLite.
func Open(backend, path string) (HistoryStore, error) {
	switch backend {
	case "", BackendSQLite:
		return NewSQLiteHistoryStore(path)
	case BackendFile:
		return NewFileHistoryStore(path)
	default:
		return nil, fmt.Errorf("unknown history backend: %s", backend)
	}
}

// SQLiteHistoryStore implements HistoryStore using SQLite for local persistence
type SQLiteHistoryStore struct {
	db       *sql.DB
	dbPath   string
	mutex    sync.RWMutex
	prepared map[string]*sql.Stmt
}

// NewSQLiteHistoryStore opens (creating if needed) the database at dbPath.
func NewSQLiteHistoryStore(dbPath string) (*SQLiteHistoryStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteHistoryStore{
		db:       db,
		dbPath:   dbPath,
		prepared: make(map[string]*sql.Stmt),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return store, nil
}

func (s *SQLiteHistoryStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS carbon_observations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		observed_at INTEGER NOT NULL, -- unix seconds
		hour_of_day INTEGER NOT NULL, -- UTC
		datacenter_id TEXT NOT NULL,
		intensity REAL NOT NULL,
		renewable REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_dc_observed ON carbon_observations(datacenter_id, observed_at);
	CREATE INDEX IF NOT EXISTS idx_observed ON carbon_observations(observed_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteHistoryStore) prepareStatements() error {
	statements := map[string]string{
		"insert": `
			INSERT INTO carbon_observations (observed_at, hour_of_day, datacenter_id, intensity, renewable)
			VALUES (?, ?, ?, ?, ?)
		`,
		"profile": `
			SELECT hour_of_day, AVG(intensity), AVG(renewable), COUNT(*)
			FROM carbon_observations
			WHERE datacenter_id = ? AND observed_at >= ?
			GROUP BY hour_of_day
		`,
		"cleanup": `
			DELETE FROM carbon_observations
			WHERE observed_at < ?
		`,
	}

	for name, query := range statements {
		stmt, err := s.db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		s.prepared[name] = stmt
	}

	return nil
}

// Store saves records in a single transaction.
func (s *SQLiteHistoryStore) Store(records []Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt := tx.Stmt(s.prepared["insert"])
	for _, r := range records {
		ts := r.Timestamp.UTC()
		if _, err := stmt.Exec(ts.Unix(), ts.Hour(), r.DatacenterID, r.Intensity, r.Renewable); err != nil {
			tx.Rollback()
			klog.V(2).InfoS("Failed to store carbon observation", "error", err, "datacenter", r.DatacenterID)
			return fmt.Errorf("failed to store record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}

	klog.V(3).InfoS("Stored carbon observations", "records", len(records))
	return nil
}

// HourlyProfile averages the observations of datacenterID made since the given time.
func (s *SQLiteHistoryStore) HourlyProfile(datacenterID string, since time.Time) (Profile, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	rows, err := s.prepared["profile"].Query(datacenterID, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly profile: %w", err)
	}
	defer rows.Close()

	profile := make(Profile)
	for rows.Next() {
		var hour int
		var stat HourStat
		if err := rows.Scan(&hour, &stat.Intensity, &stat.Renewable, &stat.Samples); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		profile[hour] = stat
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return profile, nil
}

// Cleanup removes observations older than before.
func (s *SQLiteHistoryStore) Cleanup(before time.Time) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	result, err := s.prepared["cleanup"].Exec(before.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old records: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	klog.V(2).InfoS("Cleaned up old carbon observations",
		"cutoff", before,
		"rowsDeleted", rowsAffected)

	return rowsAffected, nil
}

// Close closes the database connection
func (s *SQLiteHistoryStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, stmt := range s.prepared {
		stmt.Close()
	}

	return s.db.Close()
}

// FileHistoryStore implements HistoryStore with one JSON-lines file per
// datacenter and UTC day.
type FileHistoryStore struct {
	dataDir string
	mutex   sync.RWMutex
}

const fileDateLayout = "2006-01-02"

// NewFileHistoryStore creates the store rooted at dataDir.
func NewFileHistoryStore(dataDir string) (*FileHistoryStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return &FileHistoryStore{dataDir: dataDir}, nil
}

// splitFileName parses "<datacenter>_<date>.jsonl". The date follows the last
// underscore, so datacenter ids may contain underscores.
func splitFileName(name string) (string, time.Time, bool) {
	base, ok := strings.CutSuffix(name, ".jsonl")
	if !ok {
		return "", time.Time{}, false
	}
	idx := strings.LastIndex(base, "_")
	if idx < 0 {
		return "", time.Time{}, false
	}
	day, err := time.Parse(fileDateLayout, base[idx+1:])
	if err != nil {
		return "", time.Time{}, false
	}
	return base[:idx], day, true
}

func (s *FileHistoryStore) fileName(datacenterID string, day time.Time) string {
	return filepath.Join(s.dataDir, fmt.Sprintf("%s_%s.jsonl", datacenterID, day.UTC().Format(fileDateLayout)))
}

// Store appends each record to its daily file.
func (s *FileHistoryStore) Store(records []Record) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}

		path := s.fileName(r.DatacenterID, r.Timestamp)
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open records file: %w", err)
		}
		_, err = f.Write(append(line, '\n'))
		closeErr := f.Close()
		if err != nil {
			return fmt.Errorf("failed to write records file: %w", err)
		}
		if closeErr != nil {
			return fmt.Errorf("failed to close records file: %w", closeErr)
		}
	}

	klog.V(3).InfoS("Stored carbon observations to files", "dir", s.dataDir, "records", len(records))
	return nil
}

// HourlyProfile reads the daily files from since up to the newest on disk.
func (s *FileHistoryStore) HourlyProfile(datacenterID string, since time.Time) (Profile, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	type sums struct {
		intensity, renewable float64
		n                    int
	}
	acc := make(map[int]*sums)
	sinceDay := since.UTC().Truncate(24 * time.Hour)

	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() {
			continue
		}
		id, day, ok := splitFileName(name)
		if !ok || id != datacenterID || day.Before(sinceDay) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dataDir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			var r Record
			if err := json.Unmarshal([]byte(line), &r); err != nil {
				klog.V(2).InfoS("Skipping malformed history line", "file", name, "error", err)
				continue
			}
			if r.Timestamp.Before(since) {
				continue
			}
			h := r.Timestamp.UTC().Hour()
			if acc[h] == nil {
				acc[h] = &sums{}
			}
			acc[h].intensity += r.Intensity
			acc[h].renewable += r.Renewable
			acc[h].n++
		}
	}

	profile := make(Profile, len(acc))
	for h, a := range acc {
		profile[h] = HourStat{
			Intensity: a.intensity / float64(a.n),
			Renewable: a.renewable / float64(a.n),
			Samples:   a.n,
		}
	}
	return profile, nil
}

// Cleanup removes daily files for days entirely before the cutoff and
// reports how many files were deleted.
func (s *FileHistoryStore) Cleanup(before time.Time) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read data directory: %w", err)
	}

	cutoffDay := before.UTC().Truncate(24 * time.Hour)
	var removed int64
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() {
			continue
		}
		_, day, ok := splitFileName(name)
		if !ok || !day.Before(cutoffDay) {
			continue
		}
		path := filepath.Join(s.dataDir, name)
		if err := os.Remove(path); err != nil {
			klog.V(2).InfoS("Failed to remove old file", "file", path, "error", err)
			continue
		}
		removed++
	}

	klog.V(2).InfoS("Cleaned up old carbon observation files",
		"cutoff", before,
		"filesDeleted", removed)

	return removed, nil
}

// Close is a no-op for the file store
func (s *FileHistoryStore) Close() error {
	return nil
}
