package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pashagolub/elohistory/pkg/elo"
)

// Error types for match ingestion
var (
	ErrCSVFormat    = errors.New("CSV format error")
	ErrAtomicWrite  = errors.New("atomic write operation failed")
	ErrMissingInput = errors.New("input file is required")
)

// MatchFile is the result of reading a match list
type MatchFile struct {
	Input          elo.Input       `json:"-"`
	PartitionKeys  []string        `json:"-"` // aligned with Input rows when a partition column is mapped
	ParseErrors    []CSVParseError `json:"parse_errors,omitempty"`
	SkippedRows    []int           `json:"skipped_rows,omitempty"`
	TotalRows      int             `json:"total_rows"`
	SuccessfulRows int             `json:"successful_rows"`
	Metadata       CSVMetadata     `json:"metadata"`
}

// CSVParseError represents an error encountered while parsing a CSV row
type CSVParseError struct {
	RowNumber int    `json:"row_number"`
	Field     string `json:"field"`
	Value     string `json:"value"`
	Message   string `json:"error"`
}

// Error implements the error interface
func (e CSVParseError) Error() string {
	return fmt.Sprintf("row %d, field '%s' (value: '%s'): %s", e.RowNumber, e.Field, e.Value, e.Message)
}

// CSVMetadata contains information about the CSV parsing process
type CSVMetadata struct {
	Headers         []string       `json:"headers"`
	DetectedColumns map[string]int `json:"detected_columns"`
	UnmappedColumns []string       `json:"unmapped_columns"`
	HasIDs          bool           `json:"has_ids"`
	HasTimestamps   bool           `json:"has_timestamps"`
	HasPartitions   bool           `json:"has_partitions"`
	ParsedAt        time.Time      `json:"parsed_at"`
}

// LoadMatchesFromCSV reads a match list from a file
func LoadMatchesFromCSV(filename string, config CSVConfig) (*MatchFile, error) {
	if filename == "" {
		return nil, ErrMissingInput
	}
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open CSV file %s: %v", ErrCSVFormat, filename, err)
	}
	defer func() { _ = file.Close() }()

	return ParseMatches(file, config)
}

// ParseMatches reads a match list. Values are taken verbatim: competitors,
// ids and timestamps are checked later by the rating engine's validator.
// The id and timestamp columns are optional; when absent the corresponding
// Input slices stay nil.
func ParseMatches(reader io.Reader, config CSVConfig) (*MatchFile, error) {
	csvReader := csv.NewReader(reader)
	if config.Delimiter != "" {
		csvReader.Comma = rune(config.Delimiter[0])
	}
	csvReader.LazyQuotes = true
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse CSV: %v", ErrCSVFormat, err)
	}

	result := &MatchFile{
		Input: elo.Input{Winners: []string{}, Losers: []string{}},
		Metadata: CSVMetadata{
			Headers:         []string{},
			DetectedColumns: map[string]int{},
			UnmappedColumns: []string{},
			ParsedAt:        time.Now(),
		},
	}
	if len(records) == 0 {
		return result, nil
	}

	var headers []string
	startRow := 0
	if config.HasHeader {
		headers = records[0]
		startRow = 1
	} else {
		for i := range records[0] {
			headers = append(headers, fmt.Sprintf("col_%d", i))
		}
	}

	columnMap := make(map[string]int, len(headers))
	for i, header := range headers {
		columnMap[strings.TrimSpace(strings.ToLower(header))] = i
	}

	winnerCol := findColumn(config.WinnerColumn, columnMap)
	loserCol := findColumn(config.LoserColumn, columnMap)
	idCol := findColumn(config.IDColumn, columnMap)
	tsCol := findColumn(config.TimestampColumn, columnMap)
	partCol := findColumn(config.PartitionColumn, columnMap)

	if config.PartitionColumn != "" && partCol == -1 {
		return nil, fmt.Errorf("%w: partition column '%s' not found", ErrCSVFormat, config.PartitionColumn)
	}
	if winnerCol == -1 {
		return nil, fmt.Errorf("%w: required winner column '%s' not found", ErrCSVFormat, config.WinnerColumn)
	}
	if loserCol == -1 {
		return nil, fmt.Errorf("%w: required loser column '%s' not found", ErrCSVFormat, config.LoserColumn)
	}

	in := &result.Input
	if idCol >= 0 {
		in.IDs = []string{}
	}
	if tsCol >= 0 {
		in.Timestamps = []string{}
	}

	for rowIdx := startRow; rowIdx < len(records); rowIdx++ {
		row := records[rowIdx]
		rowNum := rowIdx + 1

		if isEmptyRow(row) {
			result.SkippedRows = append(result.SkippedRows, rowNum)
			continue
		}

		if need := maxIndex(winnerCol, loserCol, idCol, tsCol, partCol); len(row) <= need {
			result.ParseErrors = append(result.ParseErrors, CSVParseError{
				RowNumber: rowNum,
				Message:   fmt.Sprintf("row has %d columns but needs at least %d", len(row), need+1),
			})
			continue
		}

		fields := []struct {
			name string
			col  int
		}{{"winner", winnerCol}, {"loser", loserCol}, {"id", idCol}, {"timestamp", tsCol}, {"partition", partCol}}
		values := make(map[string]string, len(fields))
		var rowErr *CSVParseError
		for _, f := range fields {
			if f.col < 0 {
				continue
			}
			v := strings.TrimSpace(row[f.col])
			if v == "" {
				rowErr = &CSVParseError{RowNumber: rowNum, Field: f.name, Message: f.name + " cannot be empty"}
				break
			}
			values[f.name] = v
		}
		if rowErr != nil {
			result.ParseErrors = append(result.ParseErrors, *rowErr)
			continue
		}

		in.Winners = append(in.Winners, values["winner"])
		in.Losers = append(in.Losers, values["loser"])
		if idCol >= 0 {
			in.IDs = append(in.IDs, values["id"])
		}
		if tsCol >= 0 {
			in.Timestamps = append(in.Timestamps, values["timestamp"])
		}
		if partCol >= 0 {
			result.PartitionKeys = append(result.PartitionKeys, values["partition"])
		}
		result.SuccessfulRows++
	}

	used := map[int]bool{winnerCol: true, loserCol: true, idCol: true, tsCol: true, partCol: true}
	for i, header := range headers {
		if !used[i] {
			result.Metadata.UnmappedColumns = append(result.Metadata.UnmappedColumns, header)
		}
	}
	result.TotalRows = len(records) - startRow
	result.Metadata.Headers = headers
	result.Metadata.DetectedColumns = columnMap
	result.Metadata.HasIDs = idCol >= 0
	result.Metadata.HasTimestamps = tsCol >= 0
	result.Metadata.HasPartitions = partCol >= 0
	return result, nil
}

// SplitPartitions groups the rows by partition key, keeping the file order
// inside every group. Keys are returned in order of first appearance.
// Without a partition column the whole file is one partition with an empty key.
func (m *MatchFile) SplitPartitions() ([]string, []elo.Input) {
	if !m.Metadata.HasPartitions {
		return []string{""}, []elo.Input{m.Input}
	}
	var keys []string
	index := make(map[string]int)
	var parts []elo.Input
	for row, key := range m.PartitionKeys {
		i, ok := index[key]
		if !ok {
			i = len(parts)
			index[key] = i
			keys = append(keys, key)
			part := elo.Input{Winners: []string{}, Losers: []string{}}
			if m.Input.IDs != nil {
				part.IDs = []string{}
			}
			if m.Input.Timestamps != nil {
				part.Timestamps = []string{}
			}
			parts = append(parts, part)
		}
		p := &parts[i]
		p.Winners = append(p.Winners, m.Input.Winners[row])
		p.Losers = append(p.Losers, m.Input.Losers[row])
		if p.IDs != nil {
			p.IDs = append(p.IDs, m.Input.IDs[row])
		}
		if p.Timestamps != nil {
			p.Timestamps = append(p.Timestamps, m.Input.Timestamps[row])
		}
	}
	return keys, parts
}

// WriteFileAtomic writes to a temporary file, syncs it and renames it into
// place. An error from write leaves any existing file untouched.
func WriteFileAtomic(filename string, write func(w io.Writer) error) error {
	tempFile := filename + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("%w: cannot create temp file: %v", ErrAtomicWrite, err)
	}

	if err := write(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tempFile)
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(tempFile)
		return fmt.Errorf("%w: failed to sync file: %v", ErrAtomicWrite, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("%w: failed to close temp file: %v", ErrAtomicWrite, err)
	}

	if err := os.Rename(tempFile, filename); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("%w: atomic rename failed: %v", ErrAtomicWrite, err)
	}
	return nil
}

// findColumn locates a column by name in the column mapping, case-insensitive
func findColumn(columnName string, columnMap map[string]int) int {
	if columnName == "" {
		return -1
	}
	if idx, exists := columnMap[strings.TrimSpace(strings.ToLower(columnName))]; exists {
		return idx
	}
	return -1
}

// isEmptyRow checks if a CSV row is empty or contains only whitespace
func isEmptyRow(row []string) bool {
	for _, field := range row {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// maxIndex returns the maximum value among the given indices
func maxIndex(indices ...int) int {
	m := -1
	for _, idx := range indices {
		if idx > m {
			m = idx
		}
	}
	return m
}
