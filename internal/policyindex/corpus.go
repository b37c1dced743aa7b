package policyindex

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"whistle-agent/internal/domain"
)

// DefaultChunkSize is the target passage length in characters when plain
// text documents are split into passages.
const DefaultChunkSize = 1024

type corpusRecord struct {
	DocID   string `json:"doc_id"`
	Source  string `json:"source"`
	Section string `json:"section"`
	Text    string `json:"text"`
}

// LoadStats reports how many corpus lines were accepted and skipped.
type LoadStats struct {
	Loaded  int
	Skipped int
}

// LoadCorpus reads line-delimited JSON records {doc_id, section, text}.
// "source" is accepted when doc_id is absent. Malformed lines and records
// without text are skipped and counted.
func LoadCorpus(r io.Reader) ([]domain.PolicyPassage, LoadStats, error) {
	if r == nil {
		return nil, LoadStats{}, errors.New("policyindex: corpus reader must not be nil")
	}
	var (
		out   []domain.PolicyPassage
		stats LoadStats
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec corpusRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			stats.Skipped++
			continue
		}
		docID := strings.TrimSpace(rec.DocID)
		if docID == "" {
			docID = strings.TrimSpace(rec.Source)
		}
		text := strings.TrimSpace(rec.Text)
		if docID == "" || text == "" {
			stats.Skipped++
			continue
		}
		out = append(out, domain.PolicyPassage{
			DocID:   docID,
			Section: strings.TrimSpace(rec.Section),
			Text:    text,
		})
		stats.Loaded++
	}
	if err := sc.Err(); err != nil {
		return nil, stats, fmt.Errorf("policyindex: read corpus: %w", err)
	}
	return out, stats, nil
}

// LoadCorpusFile opens path and loads it with LoadCorpus.
func LoadCorpusFile(path string) ([]domain.PolicyPassage, LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("policyindex: open corpus: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadCorpus(f)
}

// LoadTextDir turns every .txt file in dir into passages. The file name is
// the document id and each chunk is labeled chunk_N.
func LoadTextDir(dir string, chunkSize int) ([]domain.PolicyPassage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("policyindex: read dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".txt") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []domain.PolicyPassage
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("policyindex: read %s: %w", name, err)
		}
		for i, chunk := range ChunkText(string(raw), chunkSize) {
			out = append(out, domain.PolicyPassage{
				DocID:   name,
				Section: fmt.Sprintf("chunk_%d", i),
				Text:    chunk,
			})
		}
	}
	return out, nil
}

// ChunkText splits text on blank lines and cuts paragraphs longer than
// size runes into fixed-size pieces.
func ChunkText(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var out []string
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		runes := []rune(para)
		for start := 0; start < len(runes); start += size {
			end := min(start+size, len(runes))
			out = append(out, string(runes[start:end]))
		}
	}
	return out
}
