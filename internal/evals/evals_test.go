package evals

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/parleyhq/parley/internal/log"
)

func writeDataset(t *testing.T, rows [][]string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "evals.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating dataset: %v", err)
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		t.Fatalf("writing dataset: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("closing dataset: %v", err)
	}
	return path
}

func readDataset(t *testing.T, path string) [][]string {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening dataset: %v", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("reading dataset: %v", err)
	}
	return records
}

func TestAppendFillsFirstEmptyRow(t *testing.T) {
	path := writeDataset(t, [][]string{
		{"question", "answer"},
		{"what is our password policy?", "twelve characters minimum"},
		{"who approves access?", "the data owner"},
	})
	sink := NewCSVSink(path, log.NewNop())

	sink.Append("password policy", []string{"chunk a", "chunk b"}, []float64{0.9, 0.5})

	records := readDataset(t, path)
	wantHeader := []string{"question", "answer", "similarity_query", "retrieved_contexts", "scores"}
	if !reflect.DeepEqual(records[0], wantHeader) {
		t.Errorf("header = %v, want %v", records[0], wantHeader)
	}

	first := records[1]
	if first[2] != "password policy" {
		t.Errorf("similarity_query = %q", first[2])
	}
	if first[3] != `["chunk a","chunk b"]` {
		t.Errorf("retrieved_contexts = %q", first[3])
	}
	if first[4] != "[0.9,0.5]" {
		t.Errorf("scores = %q", first[4])
	}

	// The second row is padded but left empty.
	second := records[2]
	if len(second) != len(wantHeader) {
		t.Fatalf("second row width = %d, want %d", len(second), len(wantHeader))
	}
	if second[2] != "" {
		t.Errorf("second row similarity_query = %q, want empty", second[2])
	}
}

func TestAppendAdvancesThroughRows(t *testing.T) {
	path := writeDataset(t, [][]string{
		{"question"},
		{"q1"},
		{"q2"},
	})
	sink := NewCSVSink(path, log.NewNop())

	sink.Append("first query", nil, nil)
	sink.Append("second query", nil, nil)

	records := readDataset(t, path)
	col := 1 // similarity_query is appended after the existing column
	if records[1][col] != "first query" {
		t.Errorf("row 1 query = %q", records[1][col])
	}
	if records[2][col] != "second query" {
		t.Errorf("row 2 query = %q", records[2][col])
	}
}

func TestAppendWithAllRowsFilled(t *testing.T) {
	path := writeDataset(t, [][]string{
		{"question", "similarity_query", "retrieved_contexts", "scores"},
		{"q1", "already filled", "[]", "[]"},
	})
	sink := NewCSVSink(path, log.NewNop())

	sink.Append("overflow query", nil, nil)

	records := readDataset(t, path)
	if records[1][1] != "already filled" {
		t.Errorf("filled row was overwritten: %v", records[1])
	}
	if len(records) != 2 {
		t.Errorf("row count = %d, want 2: full datasets must not grow", len(records))
	}
}

func TestAppendReusesExistingColumns(t *testing.T) {
	path := writeDataset(t, [][]string{
		{"similarity_query", "question", "retrieved_contexts", "scores"},
		{"", "q1", "", ""},
	})
	sink := NewCSVSink(path, log.NewNop())

	sink.Append("a query", []string{"ctx"}, []float64{1})

	records := readDataset(t, path)
	if got := len(records[0]); got != 4 {
		t.Errorf("header width = %d, want unchanged 4", got)
	}
	if records[1][0] != "a query" {
		t.Errorf("similarity_query = %q", records[1][0])
	}
}

func TestAppendMissingFileIsSwallowed(t *testing.T) {
	sink := NewCSVSink(filepath.Join(t.TempDir(), "absent.csv"), log.NewNop())

	// Must not panic; the failure is logged and dropped.
	sink.Append("query", nil, nil)
}

func TestAppendEmptyDatasetIsNoop(t *testing.T) {
	path := writeDataset(t, nil)
	sink := NewCSVSink(path, log.NewNop())

	sink.Append("query", nil, nil)

	if records := readDataset(t, path); len(records) != 0 {
		t.Errorf("records = %v, want none", records)
	}
}
