package record

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const ledgerFile = "ledger.jsonl"

// Ledger is the append-only collection of sealed ResultRecords for one
// run. Each worker writes exactly one record per cell, keyed uniquely by
// cell_id; the mutex only serializes the file append itself.
type Ledger struct {
	mu      sync.Mutex
	file    *os.File
	records map[string]*ResultRecord
	order   []string
}

// CreateRunDir makes a timestamped run directory under baseDir and
// repoints the latest symlink at it.
func CreateRunDir(baseDir string) (string, error) {
	runsDir := filepath.Join(baseDir, "runs")
	stamp := time.Now().UTC().Format("2006-01-02T15-04-05")
	runDir := filepath.Join(runsDir, stamp)
	runDir, err := filepath.Abs(runDir)
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	latest := filepath.Join(baseDir, "latest")
	os.Remove(latest)
	if err := os.Symlink(runDir, latest); err != nil {
		return "", fmt.Errorf("creating latest symlink: %w", err)
	}
	return runDir, nil
}

// Open opens (or creates) the ledger for runDir, replaying any existing
// entries so a restarted run can skip cells already RECORDED. The last
// sealed line per cell_id wins.
func Open(runDir string) (*Ledger, error) {
	path := filepath.Join(runDir, ledgerFile)
	l := &Ledger{records: make(map[string]*ResultRecord)}

	if data, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(data)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var rec ResultRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				continue
			}
			if rec.Status != StatusRecorded {
				continue
			}
			l.put(&rec)
		}
		data.Close()
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("replaying ledger: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening ledger for append: %w", err)
	}
	l.file = f
	return l, nil
}

func (l *Ledger) put(rec *ResultRecord) {
	if _, exists := l.records[rec.CellID]; !exists {
		l.order = append(l.order, rec.CellID)
	}
	l.records[rec.CellID] = rec
}

// Append seals rec and writes it as one ledger line. It rejects records
// that are not terminal and cells that were already recorded, so a run
// can never produce duplicate entries.
func (l *Ledger) Append(rec *ResultRecord) error {
	if err := rec.Seal(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.records[rec.CellID]; exists {
		return fmt.Errorf("ledger: cell %s already recorded", rec.CellID)
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record %s: %w", rec.CellID, err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending record %s: %w", rec.CellID, err)
	}
	l.put(rec)
	return nil
}

// Recorded reports whether cellID already has a sealed entry.
func (l *Ledger) Recorded(cellID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.records[cellID]
	return ok
}

// Get returns the sealed record for cellID, if any.
func (l *Ledger) Get(cellID string) (*ResultRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[cellID]
	return rec, ok
}

// Snapshot returns the sealed records in append order. The slice is a
// copy; summary statistics are always recomputed from it, never cached.
func (l *Ledger) Snapshot() []*ResultRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*ResultRecord, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.records[id])
	}
	return out
}

// Len returns the number of sealed records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Close closes the underlying ledger file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Rewrite replaces runDir's ledger with records, via a temp file and
// rename. Used only by offline re-scoring; live runs append-only.
func Rewrite(runDir string, records []*ResultRecord) error {
	tmp := filepath.Join(runDir, ledgerFile+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating ledger temp file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			f.Close()
			return fmt.Errorf("marshaling record %s: %w", rec.CellID, err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flushing ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing ledger temp file: %w", err)
	}
	return os.Rename(tmp, filepath.Join(runDir, ledgerFile))
}

// WriteManifest stores the manifest alongside the ledger so a resumed
// run executes the identical schedule.
func WriteManifest(runDir string, m *RunManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(runDir, "manifest.json"), data, 0o644)
}

// ReadManifest loads the manifest stored by WriteManifest.
func ReadManifest(runDir string) (*RunManifest, error) {
	data, err := os.ReadFile(filepath.Join(runDir, "manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m RunManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}
