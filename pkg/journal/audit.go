// Package journal provides the audit trail and export functionality of the
// rating history. Fits can be recorded in an append-only JSON Lines log with
// tamper-evident hash chaining, and ledgers exported as CSV, JSON or text.
package journal

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pashagolub/elohistory/pkg/elo"
)

// Error types for audit trail operations
var (
	ErrAuditLogCorrupted = errors.New("audit log corrupted or tampered")
	ErrNotInitialized    = errors.New("audit trail not initialized")
	ErrEmptyRunID        = errors.New("run ID cannot be empty")
)

// AuditEventType represents the type of event being logged
type AuditEventType string

const (
	EventFitStarted     AuditEventType = "fit_started"
	EventMatchApplied   AuditEventType = "match_applied"
	EventSeasonReverted AuditEventType = "season_reverted"
	EventFitCompleted   AuditEventType = "fit_completed"
)

// AuditEntry represents a single entry in the audit log
type AuditEntry struct {
	ID        string         `json:"id"`         // Unique entry identifier
	Timestamp time.Time      `json:"timestamp"`  // When the event was logged
	EventType AuditEventType `json:"event_type"` // Type of event being logged
	RunID     string         `json:"run_id"`     // Fit this event belongs to

	Data map[string]any `json:"data"` // Event-specific payload

	// Integrity protection
	PreviousHash string `json:"previous_hash"` // Hash of previous entry
	EntryHash    string `json:"entry_hash"`    // Hash of this entry's content
	Sequence     uint64 `json:"sequence"`      // Sequential entry number
}

// AuditTrail is an append-only log of fits. It implements elo.Observer so it
// can be attached to an engine with elo.WithObserver.
type AuditTrail struct {
	runID         string
	logFilePath   string
	file          *os.File
	mutex         sync.Mutex
	lastHash      string
	sequence      uint64
	isInitialized bool
	competitors   map[string]int
	err           error // first write error seen by an observer callback
}

// NewAuditTrail opens (or creates) the audit log of a run inside logDirectory.
// An existing log is verified before new entries are appended.
func NewAuditTrail(runID, logDirectory string) (*AuditTrail, error) {
	if runID == "" {
		return nil, ErrEmptyRunID
	}
	if err := os.MkdirAll(logDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	audit := &AuditTrail{
		runID:       runID,
		logFilePath: AuditLogPath(logDirectory, runID),
		competitors: map[string]int{},
	}
	if err := audit.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize audit trail: %w", err)
	}
	return audit, nil
}

// AuditLogPath returns where the audit log of a run lives inside logDirectory
func AuditLogPath(logDirectory, runID string) string {
	return filepath.Join(logDirectory, fmt.Sprintf("audit_%s.jsonl", runID))
}

func (a *AuditTrail) initialize() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	file, err := os.OpenFile(a.logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	a.file = file

	last, sequence, err := a.scan()
	if err != nil {
		_ = a.file.Close()
		return fmt.Errorf("audit log validation failed: %w", err)
	}
	a.lastHash, a.sequence = last, sequence
	a.isInitialized = true
	return nil
}

// scan walks the log and checks the sequence and hash chain.
// It returns the hash of the last entry and the next sequence number.
func (a *AuditTrail) scan() (string, uint64, error) {
	readFile, err := os.Open(a.logFilePath)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = readFile.Close() }()

	scanner := bufio.NewScanner(readFile)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var previousHash string
	sequence := uint64(0)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry AuditEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return "", 0, fmt.Errorf("%w: invalid JSON at sequence %d: %v", ErrAuditLogCorrupted, sequence, err)
		}
		if entry.Sequence != sequence {
			return "", 0, fmt.Errorf("%w: sequence mismatch at entry %d, got %d", ErrAuditLogCorrupted, sequence, entry.Sequence)
		}
		if entry.PreviousHash != previousHash {
			return "", 0, fmt.Errorf("%w: hash chain broken at sequence %d", ErrAuditLogCorrupted, sequence)
		}
		if entry.EntryHash != calculateEntryHash(&entry) {
			return "", 0, fmt.Errorf("%w: entry hash mismatch at sequence %d", ErrAuditLogCorrupted, sequence)
		}

		previousHash = entry.EntryHash
		sequence++
	}
	if err := scanner.Err(); err != nil {
		return "", 0, fmt.Errorf("error reading audit log: %w", err)
	}
	return previousHash, sequence, nil
}

// LogFitStarted records the configuration and competitor set of a fit.
// Later match events use the competitor order to report ratings.
func (a *AuditTrail) LogFitStarted(config elo.Config, competitors []string, matches int) error {
	a.mutex.Lock()
	a.competitors = make(map[string]int, len(competitors))
	for i, c := range competitors {
		a.competitors[c] = i
	}
	a.mutex.Unlock()

	return a.logEntry(EventFitStarted, map[string]any{
		"k":                       config.K,
		"elo_init":                config.InitialRating,
		"elo_diff":                config.Scale,
		"seasonal_mean_reversion": config.SeasonalMeanReversion,
		"competitors":             len(competitors),
		"matches":                 matches,
	})
}

// MatchApplied implements elo.Observer
func (a *AuditTrail) MatchApplied(row elo.Row) {
	data := map[string]any{
		"match_id": row.ID,
		"winner":   row.Winner,
		"loser":    row.Loser,
		"win_prob": row.WinProb,
	}
	if !row.Timestamp.IsZero() {
		data["match_time"] = row.Timestamp.Format(time.RFC3339)
	}
	a.mutex.Lock()
	if i, ok := a.competitors[row.Winner]; ok && i < len(row.Ratings) {
		data["winner_rating"] = row.Ratings[i]
	}
	if i, ok := a.competitors[row.Loser]; ok && i < len(row.Ratings) {
		data["loser_rating"] = row.Ratings[i]
	}
	a.mutex.Unlock()

	a.record(a.logEntry(EventMatchApplied, data))
}

// SeasonReverted implements elo.Observer
func (a *AuditTrail) SeasonReverted(year int, mean float64) {
	a.record(a.logEntry(EventSeasonReverted, map[string]any{
		"year": year,
		"mean": mean,
	}))
}

// FitCompleted implements elo.Observer
func (a *AuditTrail) FitCompleted(rows, competitors int, elapsed time.Duration) {
	a.record(a.logEntry(EventFitCompleted, map[string]any{
		"rows":        rows,
		"competitors": competitors,
		"elapsed":     elapsed.String(),
	}))
}

// Err returns the first error raised while logging observer events
func (a *AuditTrail) Err() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.err
}

func (a *AuditTrail) record(err error) {
	if err == nil {
		return
	}
	a.mutex.Lock()
	if a.err == nil {
		a.err = err
	}
	a.mutex.Unlock()
}

// logEntry writes a new entry to the audit log
func (a *AuditTrail) logEntry(eventType AuditEventType, data map[string]any) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.isInitialized {
		return ErrNotInitialized
	}

	entry := AuditEntry{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		EventType:    eventType,
		RunID:        a.runID,
		Data:         data,
		PreviousHash: a.lastHash,
		Sequence:     a.sequence,
	}
	entry.EntryHash = calculateEntryHash(&entry)

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	if _, err := a.file.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}

	a.lastHash = entry.EntryHash
	a.sequence++
	return nil
}

// calculateEntryHash computes the SHA-256 hash of an entry's content
func calculateEntryHash(entry *AuditEntry) string {
	// EntryHash itself is excluded
	hashContent := fmt.Sprintf("%s|%s|%s|%s|%s|%d|%s",
		entry.ID,
		entry.Timestamp.Format(time.RFC3339Nano),
		entry.EventType,
		entry.RunID,
		entry.PreviousHash,
		entry.Sequence,
		hashData(entry.Data))

	hash := sha256.Sum256([]byte(hashContent))
	return hex.EncodeToString(hash[:])
}

// hashData creates a deterministic hash of the data map
func hashData(data map[string]any) string {
	jsonData, _ := json.Marshal(data)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

// Close flushes and closes the audit trail
func (a *AuditTrail) Close() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.file == nil {
		return nil
	}
	err := a.file.Sync()
	if cerr := a.file.Close(); err == nil {
		err = cerr
	}
	a.file = nil
	a.isInitialized = false
	return err
}

// GetLogPath returns the path to the audit log file
func (a *AuditTrail) GetLogPath() string {
	return a.logFilePath
}

// GetSequence returns the current sequence number
func (a *AuditTrail) GetSequence() uint64 {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.sequence
}

// QueryOptions defines filtering criteria for audit log queries
type QueryOptions struct {
	EventTypes []AuditEventType `json:"event_types,omitempty"` // Filter by event types
	MatchID    string           `json:"match_id,omitempty"`    // Filter by match
	Competitor string           `json:"competitor,omitempty"`  // Matches won or lost by a competitor
	Limit      int              `json:"limit,omitempty"`       // Maximum number of entries to return
	Offset     int              `json:"offset,omitempty"`      // Number of entries to skip
}

// QueryResult contains the results of an audit log query
type QueryResult struct {
	Entries    []AuditEntry `json:"entries"`
	TotalCount int          `json:"total_count"`
	HasMore    bool         `json:"has_more"`
}

// Query searches the audit log for entries matching the specified criteria
func (a *AuditTrail) Query(options QueryOptions) (*QueryResult, error) {
	readFile, err := os.Open(a.logFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &QueryResult{Entries: []AuditEntry{}}, nil
		}
		return nil, fmt.Errorf("failed to open audit log for reading: %w", err)
	}
	defer func() { _ = readFile.Close() }()

	allMatches := []AuditEntry{}
	scanner := bufio.NewScanner(readFile)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry AuditEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if matchesQuery(&entry, options) {
			allMatches = append(allMatches, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading audit log during query: %w", err)
	}

	totalCount := len(allMatches)
	start := min(options.Offset, totalCount)
	end := start + options.Limit
	if options.Limit <= 0 || end > totalCount {
		end = totalCount
	}

	return &QueryResult{
		Entries:    allMatches[start:end],
		TotalCount: totalCount,
		HasMore:    end < totalCount,
	}, nil
}

func matchesQuery(entry *AuditEntry, options QueryOptions) bool {
	if len(options.EventTypes) > 0 {
		found := false
		for _, eventType := range options.EventTypes {
			if entry.EventType == eventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if options.MatchID != "" {
		if id, ok := entry.Data["match_id"].(string); !ok || id != options.MatchID {
			return false
		}
	}
	if options.Competitor != "" {
		winner, _ := entry.Data["winner"].(string)
		loser, _ := entry.Data["loser"].(string)
		if winner != options.Competitor && loser != options.Competitor {
			return false
		}
	}
	return true
}

// VerifyIntegrity performs a complete integrity check of the audit log
func (a *AuditTrail) VerifyIntegrity() error {
	_, _, err := a.scan()
	return err
}

// AuditStatistics provides summary information about the audit log
type AuditStatistics struct {
	RunID        string                 `json:"run_id"`
	TotalEntries int                    `json:"total_entries"`
	EventCounts  map[AuditEventType]int `json:"event_counts"`
	FirstEntry   *time.Time             `json:"first_entry,omitempty"`
	LastEntry    *time.Time             `json:"last_entry,omitempty"`
}

// GetStatistics returns statistics about the audit log
func (a *AuditTrail) GetStatistics() (*AuditStatistics, error) {
	result, err := a.Query(QueryOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to generate statistics: %w", err)
	}

	stats := &AuditStatistics{
		RunID:        a.runID,
		TotalEntries: result.TotalCount,
		EventCounts:  make(map[AuditEventType]int),
	}
	if len(result.Entries) > 0 {
		stats.FirstEntry = &result.Entries[0].Timestamp
		stats.LastEntry = &result.Entries[len(result.Entries)-1].Timestamp
	}
	for _, entry := range result.Entries {
		stats.EventCounts[entry.EventType]++
	}
	return stats, nil
}
