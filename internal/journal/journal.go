package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dogsight/alert-server/internal/logger"
	"github.com/dogsight/alert-server/pkg/types"
)

// Record is one journal line.
type Record struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// Status describes the journal state for the API.
type Status struct {
	Active       bool    `json:"active"`
	Filename     string  `json:"filename,omitempty"`
	Records      uint64  `json:"records"`
	BytesWritten uint64  `json:"bytes_written"`
	Duration     float64 `json:"duration_seconds"`
}

// Journal appends dispatched notifications and session markers to a JSONL
// file. It sits behind the same Sink interface as the notification channel,
// so a journaled alert is just another fanout target. Writes go through a
// buffered channel; a full buffer drops the record rather than blocking the
// alert path.
type Journal struct {
	mu           sync.RWMutex
	file         *os.File
	filename     string
	basePath     string
	active       bool
	records      uint64
	bytesWritten uint64
	startTime    time.Time
	recordChan   chan Record
	wg           sync.WaitGroup
}

// New creates a journal writing under basePath.
func New(basePath string) *Journal {
	return &Journal{
		basePath:   basePath,
		recordChan: make(chan Record, 64),
	}
}

// Start opens a new timestamped journal file.
func (j *Journal) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.active {
		return fmt.Errorf("journal already active")
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("alerts_%s.jsonl", timestamp)
	path := filepath.Join(j.basePath, filename)

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create journal file: %w", err)
	}

	j.file = file
	j.filename = filename
	j.active = true
	j.records = 0
	j.bytesWritten = 0
	j.startTime = time.Now()

	j.wg.Add(1)
	go j.writeRecords()

	logger.Info("Journal", "Journaling to %s", filename)
	return nil
}

// Stop closes the journal file.
func (j *Journal) Stop() error {
	j.mu.Lock()
	if !j.active {
		j.mu.Unlock()
		return fmt.Errorf("journal not active")
	}
	j.active = false
	j.mu.Unlock()

	j.wg.Wait()

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		if err := j.file.Sync(); err != nil {
			logger.Warn("Journal", "Sync failed: %v", err)
		}
		if err := j.file.Close(); err != nil {
			return fmt.Errorf("failed to close journal file: %w", err)
		}
		j.file = nil
	}
	logger.Info("Journal", "Closed %s (%d records)", j.filename, j.records)
	return nil
}

// Send records a dispatched notification. Implements the notifier Sink.
func (j *Journal) Send(kind types.AlertKind, text string) {
	j.Append(string(kind), text)
}

// Append records an arbitrary event (session start/stop, zone updates).
func (j *Journal) Append(kind, message string) {
	j.mu.RLock()
	active := j.active
	j.mu.RUnlock()
	if !active {
		return
	}

	select {
	case j.recordChan <- Record{Time: time.Now(), Kind: kind, Message: message}:
	default:
		// Buffer full; journaling must never block the alert path.
		logger.Warn("Journal", "Record buffer full, dropping %s entry", kind)
	}
}

func (j *Journal) writeRecords() {
	defer j.wg.Done()

	flush := time.NewTicker(100 * time.Millisecond)
	defer flush.Stop()

	for {
		select {
		case rec := <-j.recordChan:
			j.writeOne(rec)
		case <-flush.C:
			j.mu.RLock()
			active := j.active
			j.mu.RUnlock()
			if !active {
				// Drain what is left before exiting.
				for {
					select {
					case rec := <-j.recordChan:
						j.writeOne(rec)
					default:
						return
					}
				}
			}
		}
	}
}

func (j *Journal) writeOne(rec Record) {
	line, err := json.Marshal(rec)
	if err != nil {
		logger.Warn("Journal", "Marshal failed: %v", err)
		return
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return
	}
	n, err := j.file.Write(line)
	if err != nil {
		logger.Warn("Journal", "Write failed: %v", err)
		return
	}
	j.records++
	j.bytesWritten += uint64(n)
}

// IsActive reports whether the journal is currently writing.
func (j *Journal) IsActive() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.active
}

// Status returns the journal status.
func (j *Journal) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()

	st := Status{
		Active:       j.active,
		Filename:     j.filename,
		Records:      j.records,
		BytesWritten: j.bytesWritten,
	}
	if j.active {
		st.Duration = time.Since(j.startTime).Seconds()
	}
	return st
}

// Close stops the journal if it is active.
func (j *Journal) Close() {
	if j.IsActive() {
		_ = j.Stop()
	}
}
