package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when no incident matches the given id.
var ErrNotFound = errors.New("incident not found")

// Incident is the durable record of an extracted clip.
type Incident struct {
	ID            string    `json:"id"`
	IncidentType  string    `json:"incident_type"`
	DetectedAt    time.Time `json:"detected_at"`
	VideoPath     string    `json:"video_path"`
	ThumbnailPath string    `json:"thumbnail_path,omitempty"`
	Duration      float64   `json:"duration"`
	Confidence    float64   `json:"confidence"`
	FrameCount    int       `json:"frame_count"`
	DeviceID      string    `json:"device_id"`
	IsChecked     bool      `json:"is_checked"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store wraps the SQLite database connection with thread-safe access.
type Store struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// New creates and initializes the incident database.
func New(dbPath string) (*Store, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	s := &Store{conn: conn}

	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// migrate creates the necessary tables if they don't exist.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		incident_type TEXT NOT NULL,
		detected_at DATETIME NOT NULL,
		video_path TEXT NOT NULL,
		thumbnail_path TEXT,
		duration REAL DEFAULT 0,
		confidence REAL DEFAULT 0,
		frame_count INTEGER DEFAULT 0,
		device_id TEXT NOT NULL DEFAULT 'unknown',
		is_checked INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_incidents_detected_at ON incidents(detected_at);
	CREATE INDEX IF NOT EXISTS idx_incidents_type ON incidents(incident_type);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// CreateIncident persists a new incident record, assigning an id and
// creation time when missing.
func (s *Store) CreateIncident(inc *Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = time.Now().UTC()
	}

	var thumb sql.NullString
	if inc.ThumbnailPath != "" {
		thumb = sql.NullString{String: inc.ThumbnailPath, Valid: true}
	}

	_, err := s.conn.Exec(`
		INSERT INTO incidents (id, incident_type, detected_at, video_path, thumbnail_path,
			duration, confidence, frame_count, device_id, is_checked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inc.ID, inc.IncidentType, inc.DetectedAt.UTC(), inc.VideoPath, thumb,
		inc.Duration, inc.Confidence, inc.FrameCount, inc.DeviceID, inc.IsChecked, inc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert incident: %w", err)
	}
	return nil
}

// GetIncident retrieves one incident by id.
func (s *Store) GetIncident(id string) (*Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.conn.QueryRow(`
		SELECT id, incident_type, detected_at, video_path, thumbnail_path,
			duration, confidence, frame_count, device_id, is_checked, created_at
		FROM incidents WHERE id = ?
	`, id)

	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query incident: %w", err)
	}
	return inc, nil
}

// ListIncidents returns incidents newest-first, up to limit (0 means
// no limit), optionally filtered by incident type.
func (s *Store) ListIncidents(limit int, incidentType string) ([]Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, incident_type, detected_at, video_path, thumbnail_path,
			duration, confidence, frame_count, device_id, is_checked, created_at
		FROM incidents
	`
	args := []any{}
	if incidentType != "" {
		query += " WHERE incident_type = ?"
		args = append(args, incidentType)
	}
	query += " ORDER BY detected_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	var incidents []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, *inc)
	}
	return incidents, rows.Err()
}

// MarkChecked flags an incident as reviewed.
func (s *Store) MarkChecked(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.conn.Exec(`UPDATE incidents SET is_checked = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to update incident: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*Incident, error) {
	var inc Incident
	var thumb sql.NullString
	err := row.Scan(&inc.ID, &inc.IncidentType, &inc.DetectedAt, &inc.VideoPath, &thumb,
		&inc.Duration, &inc.Confidence, &inc.FrameCount, &inc.DeviceID, &inc.IsChecked, &inc.CreatedAt)
	if err != nil {
		return nil, err
	}
	if thumb.Valid {
		inc.ThumbnailPath = thumb.String
	}
	return &inc, nil
}
