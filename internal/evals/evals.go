// Package evals records retrieval quality data into a shared CSV dataset.
//
// The dataset is prepared outside this process with one row per planned
// evaluation case. Each recorded retrieval fills the first still-empty row
// with the synthesized query, the retrieved contexts and their scores.
// Recording is best effort: every failure is logged and swallowed so an
// evaluation misconfiguration can never break a chat turn.
package evals

import (
	"encoding/csv"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/gofrs/flock"

	"github.com/parleyhq/parley/internal/log"
)

// Column names appended to the dataset on first use.
const (
	columnQuery    = "similarity_query"
	columnContexts = "retrieved_contexts"
	columnScores   = "scores"
)

// CSVSink appends retrieval evaluation data to a CSV file. Concurrent
// writers (including other processes) are serialized with an advisory file
// lock next to the dataset.
type CSVSink struct {
	path   string
	lock   *flock.Flock
	logger log.Logger
}

// NewCSVSink creates a sink writing to the dataset at path.
func NewCSVSink(path string, logger log.Logger) *CSVSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVSink{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logger,
	}
}

// Append records one retrieval into the first empty dataset row.
// If every row is already filled, the dataset is left unchanged.
func (s *CSVSink) Append(query string, contexts []string, scores []float64) {
	if err := s.lock.Lock(); err != nil {
		s.logger.Warn("writing retrieval evaluation data failed", "error", err)
		return
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("releasing evaluation dataset lock failed", "error", err)
		}
	}()

	if err := s.append(query, contexts, scores); err != nil {
		s.logger.Warn("writing retrieval evaluation data failed", "error", err)
	}
}

func (s *CSVSink) append(query string, contexts []string, scores []float64) error {
	records, err := s.read()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		// Dataset without a header row: nothing to fill.
		return nil
	}

	header := records[0]
	for _, column := range []string{columnQuery, columnContexts, columnScores} {
		if !slices.Contains(header, column) {
			header = append(header, column)
		}
	}
	records[0] = header

	// Pad every data row to the (possibly grown) header width.
	for i := 1; i < len(records); i++ {
		for len(records[i]) < len(header) {
			records[i] = append(records[i], "")
		}
	}

	queryCol := slices.Index(header, columnQuery)
	contextsCol := slices.Index(header, columnContexts)
	scoresCol := slices.Index(header, columnScores)

	for i := 1; i < len(records); i++ {
		if records[i][queryCol] != "" {
			continue
		}
		records[i][queryCol] = query
		records[i][contextsCol] = encodeList(contexts)
		records[i][scoresCol] = encodeList(scores)
		break
	}

	return s.write(records)
}

// read loads the whole dataset. Rows may have ragged lengths while columns
// are being introduced, so per-record field count checks are disabled.
func (s *CSVSink) read() ([][]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck // read-only handle

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	return reader.ReadAll()
}

// write replaces the dataset atomically via a temp file rename so readers
// never observe a half-written file.
func (s *CSVSink) write(records [][]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "evals-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // best-effort cleanup

	writer := csv.NewWriter(tmp)
	if err := writer.WriteAll(records); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// encodeList renders a slice as its JSON representation, the stable
// stringified form the evaluation notebooks parse.
func encodeList[T any](items []T) string {
	encoded, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}
