// Package persistence implements the overview journal: an append-only file
// holding one CRC-framed record per persisted overview batch. The server
// appends after every successful write-back and replays the file at startup
// to report what the database should already contain.
package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Record describes one persisted overview batch.
type Record struct {
	RunID   string    `json:"run_id"` // persist task id
	Model   string    `json:"model"`
	Nodes   int       `json:"nodes"`
	Edges   int       `json:"edges"`
	Written time.Time `json:"written"`
}

// Journal appends records to a single file. Appends are rare (one per graph
// build), so every Append flushes and fsyncs before returning.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	fw   *FrameWriter
	path string
}

// NewJournal opens or creates the journal file at path.
func NewJournal(path string) (*Journal, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}
	buf := bufio.NewWriter(file)
	return &Journal{
		file: file,
		buf:  buf,
		fw:   NewFrameWriter(buf),
		path: path,
	}, nil
}

// Append writes one record. Written defaults to the current time when zero.
func (j *Journal) Append(rec Record) error {
	if rec.Written.IsZero() {
		rec.Written = time.Now().UTC()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode journal record: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.fw.WriteFrame(OpCodeRecord, payload); err != nil {
		return fmt.Errorf("failed to append journal record: %w", err)
	}
	if err := j.buf.Flush(); err != nil {
		return err
	}
	return j.file.Sync()
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Close flushes and closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.buf.Flush(); err != nil {
		_ = j.file.Close()
		return err
	}
	return j.file.Close()
}

// Replay is the result of reading a journal back.
type Replay struct {
	Records []Record
	// CorruptTail is set when the file ends mid-frame or with a damaged
	// frame: the records before the damage are still returned.
	CorruptTail bool
}

// LastWritten returns the timestamp of the newest record, or the zero time
// for an empty journal.
func (r *Replay) LastWritten() time.Time {
	if len(r.Records) == 0 {
		return time.Time{}
	}
	return r.Records[len(r.Records)-1].Written
}

// Load replays the journal at path. A missing file yields an empty replay;
// a torn or corrupt tail stops reading and sets CorruptTail instead of
// failing, since everything before it is still trustworthy.
func Load(path string) (*Replay, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Replay{}, nil
		}
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}
	defer file.Close()

	replay := &Replay{}
	reader := bufio.NewReader(file)
	for {
		payload, _, err := ReadFrame(reader)
		if err == io.EOF {
			return replay, nil
		}
		if err != nil {
			replay.CorruptTail = true
			return replay, nil
		}
		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			replay.CorruptTail = true
			return replay, nil
		}
		replay.Records = append(replay.Records, rec)
	}
}
