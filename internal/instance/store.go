package instance

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is the explicit "no instance" marker returned by Get.
var ErrNotFound = errors.New("no instance for agent")

// ErrExists is returned by Create when the agent already has a live record.
var ErrExists = errors.New("instance already exists for agent")

// Listener receives committed changes. Callbacks run while the per-agent
// lock is held and must not block.
type Listener interface {
	// OnTransition fires after a transition (including Create) commits.
	OnTransition(from State, rec Record)
	// OnDelete fires after a record is removed.
	OnDelete(agentID string)
}

// Store is the single source of truth for instance records. All writes for
// one agent are serialized through a per-agent lock so webhook pushes and
// reconciliation polls never interleave into an inconsistent state.
type Store struct {
	db *sql.DB

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	listenersMu sync.RWMutex
	listeners   []Listener
}

// NewStore opens (or creates) the instance database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open instance db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	// Best-effort migration for databases created before raw_status existed.
	_, _ = db.Exec(`ALTER TABLE instances ADD COLUMN raw_status TEXT NOT NULL DEFAULT ''`)

	return &Store{
		db:    db,
		locks: map[string]*sync.Mutex{},
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// AddListener registers a change listener.
func (s *Store) AddListener(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) lockFor(agentID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[agentID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[agentID] = mu
	}
	return mu
}

func (s *Store) notifyTransition(from State, rec Record) {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	for _, l := range s.listeners {
		l.OnTransition(from, rec)
	}
}

func (s *Store) notifyDelete(agentID string) {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	for _, l := range s.listeners {
		l.OnDelete(agentID)
	}
}

// Create inserts a fresh record in state CREATED. The agent must not have
// a live record; the UI deletes stale instances before recreating.
func (s *Store) Create(agentID, instanceName, phoneNumber string) (Record, error) {
	mu := s.lockFor(agentID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.get(agentID); err == nil {
		return Record{}, ErrExists
	} else if !errors.Is(err, ErrNotFound) {
		return Record{}, err
	}

	now := time.Now().UTC()
	rec := Record{
		AgentID:      agentID,
		InstanceName: instanceName,
		State:        StateCreated,
		PhoneNumber:  phoneNumber,
		LastEventAt:  now,
		UpdatedAt:    now,
		CreatedAt:    now,
	}
	if err := s.put(rec); err != nil {
		return Record{}, err
	}
	slog.Info("Instance created", "agent_id", agentID, "instance", instanceName)
	s.notifyTransition(StateNone, rec)
	return rec, nil
}

// Get returns the current record, or ErrNotFound. Never blocks on writers
// for other agents.
func (s *Store) Get(agentID string) (Record, error) {
	return s.get(agentID)
}

// GetByInstanceName correlates a gateway-side instance name back to its
// record. Used by the webhook ingestor.
func (s *Store) GetByInstanceName(instanceName string) (Record, error) {
	row := s.db.QueryRow(`SELECT agent_id, instance_name, state, qr_code, qr_issued_at,
		phone_number, raw_status, last_event_at, updated_at, created_at
		FROM instances WHERE instance_name = ?`, instanceName)
	return scanRecord(row)
}

// Delete removes the record and notifies listeners so pollers and observer
// streams shut down. Deleting a non-existent record is a successful no-op:
// the dashboard calls delete defensively to clear ghost state.
func (s *Store) Delete(agentID string) error {
	mu := s.lockFor(agentID)
	mu.Lock()
	defer mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM instances WHERE agent_id = ?`, agentID)
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Debug("Instance delete: nothing to clean up", "agent_id", agentID)
		return nil
	}
	slog.Info("Instance deleted", "agent_id", agentID)
	s.notifyDelete(agentID)
	return nil
}

// ApplyTransition moves the record to target if the graph allows it.
// Unreachable targets are rejected as a logged no-op and the current
// record is returned with applied=false; the system favors idempotent
// convergence over strict failure, which tolerates duplicate and
// out-of-order webhook or poll delivery.
func (s *Store) ApplyTransition(agentID string, target State, payload Payload) (Record, bool, error) {
	mu := s.lockFor(agentID)
	mu.Lock()
	defer mu.Unlock()

	cur, err := s.get(agentID)
	if errors.Is(err, ErrNotFound) {
		slog.Debug("Transition dropped: no instance", "agent_id", agentID, "target", target)
		return Record{AgentID: agentID, State: StateNone}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}

	if !CanTransition(cur.State, target) {
		slog.Debug("Transition rejected",
			"agent_id", agentID, "from", cur.State, "to", target, "raw", payload.RawStatus)
		return cur, false, nil
	}

	from := cur.State
	now := time.Now().UTC()
	// updated_at is monotonically non-decreasing even if the wall clock
	// steps backwards between transitions.
	if !now.After(cur.UpdatedAt) {
		now = cur.UpdatedAt
	}

	next := cur
	next.State = target
	next.LastEventAt = now
	next.UpdatedAt = now
	next.RawStatus = payload.RawStatus

	if target == StateAwaitingQRScan {
		if payload.QRCode != "" {
			next.QRCode = payload.QRCode
			next.QRIssuedAt = payload.QRIssuedAt
			if next.QRIssuedAt.IsZero() {
				next.QRIssuedAt = now
			}
		}
		// A poll result can report "awaiting scan" without carrying a
		// fresh QR; the previous one stays valid until replaced.
	} else {
		// qr_code is non-empty only while AWAITING_QR_SCAN.
		next.QRCode = ""
		next.QRIssuedAt = time.Time{}
	}

	if err := s.put(next); err != nil {
		return Record{}, false, err
	}
	slog.Info("Instance transition", "agent_id", agentID, "from", from, "to", target)
	s.notifyTransition(from, next)
	return next, true, nil
}

func (s *Store) get(agentID string) (Record, error) {
	row := s.db.QueryRow(`SELECT agent_id, instance_name, state, qr_code, qr_issued_at,
		phone_number, raw_status, last_event_at, updated_at, created_at
		FROM instances WHERE agent_id = ?`, agentID)
	return scanRecord(row)
}

func (s *Store) put(rec Record) error {
	_, err := s.db.Exec(`INSERT INTO instances
		(agent_id, instance_name, state, qr_code, qr_issued_at, phone_number,
		 raw_status, last_event_at, updated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			instance_name = excluded.instance_name,
			state = excluded.state,
			qr_code = excluded.qr_code,
			qr_issued_at = excluded.qr_issued_at,
			phone_number = excluded.phone_number,
			raw_status = excluded.raw_status,
			last_event_at = excluded.last_event_at,
			updated_at = excluded.updated_at`,
		rec.AgentID, rec.InstanceName, string(rec.State), rec.QRCode,
		formatTime(rec.QRIssuedAt), rec.PhoneNumber, rec.RawStatus,
		formatTime(rec.LastEventAt), formatTime(rec.UpdatedAt), formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to persist instance: %w", err)
	}
	return nil
}

func scanRecord(row *sql.Row) (Record, error) {
	var rec Record
	var state, qrIssued, lastEvent, updated, created string
	err := row.Scan(&rec.AgentID, &rec.InstanceName, &state, &rec.QRCode, &qrIssued,
		&rec.PhoneNumber, &rec.RawStatus, &lastEvent, &updated, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to read instance: %w", err)
	}
	rec.State = State(state)
	rec.QRIssuedAt = parseTime(qrIssued)
	rec.LastEventAt = parseTime(lastEvent)
	rec.UpdatedAt = parseTime(updated)
	rec.CreatedAt = parseTime(created)
	return rec, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
