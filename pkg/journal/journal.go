package journal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultMaxFileSize is the size at which a journal file is rotated (16MB)
	DefaultMaxFileSize = 16 << 20
)

// Operation is a begun but uncommitted multi-step operation.
type Operation struct {
	OpID     uint64
	Kind     string
	Payload  []byte
	Steps    [][]byte
	StartLSN uint64
	Started  time.Time
}

// Intents is the journal surface used by multi-step operations.
type Intents interface {
	Begin(kind string, payload []byte) (uint64, error)
	Step(opID uint64, payload []byte) error
	Commit(opID uint64) error
	Pending() ([]Operation, error)
}

// Discard is an Intents that records nothing.
type Discard struct{}

func (Discard) Begin(string, []byte) (uint64, error) { return 0, nil }
func (Discard) Step(uint64, []byte) error { return nil }
func (Discard) Commit(uint64) error { return nil }
func (Discard) Pending() ([]Operation, error) { return nil, nil }

// Options tune a file journal.
type Options struct {
	MaxFileSize int64

	// SyncWrites fsyncs after every begin and commit.
	SyncWrites bool
}

// Journal is an append-only, checksummed operation log split across
// numbered files next to Path.
type Journal struct {
	path string
	opts Options

	mu        sync.Mutex
	fd        *os.File
	lsn       uint64
	fileSize  int64
	fileIndex int
	open      map[uint64]bool
	closed    bool
}

// Open opens or creates the journal rooted at path (e.g. "/data/anchorstore.journal").
func Open(path string, opts Options) (*Journal, error) {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	j := &Journal{path: path, opts: opts, open: make(map[uint64]bool)}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	files, err := j.findLogFiles()
	if err != nil {
		return nil, err
	}

	if len(files) == 0 {
		return j, j.openFile(0)
	}

	entries, err := readAll(files)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		j.lsn = max(j.lsn, e.LSN)
	}
	for _, op := range pendingFrom(entries) {
		j.open[op.OpID] = true
	}

	var index int
	if _, err := fmt.Sscanf(filepath.Base(files[len(files)-1]), j.baseName()+".%d", &index); err != nil {
		index = 0
	}
	// A torn tail may end the last file; new entries start in a fresh one
	return j, j.openFile(index + 1)
}

func (j *Journal) openFile(index int) error {
	fd, err := os.OpenFile(j.logFilePath(index), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	stat, err := fd.Stat()
	if err != nil {
		fd.Close()
		return err
	}
	j.fd = fd
	j.fileIndex = index
	j.fileSize = stat.Size()
	return nil
}

// Begin records the intent of a new operation and returns its id.
func (j *Journal) Begin(kind string, payload []byte) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return 0, ErrClosed
	}
	j.lsn++
	opID := j.lsn
	if err := j.writeNoLock(Entry{LSN: opID, OpID: opID, OpType: OpBegin, Kind: kind, Payload: payload}, j.opts.SyncWrites); err != nil {
		return 0, err
	}
	j.open[opID] = true
	return opID, nil
}

// Step records progress of an open operation.
func (j *Journal) Step(opID uint64, payload []byte) error {
	return j.append(opID, OpStep, payload, false)
}

// Commit closes an operation; it will no longer be reported as pending.
func (j *Journal) Commit(opID uint64) error {
	if err := j.append(opID, OpCommit, nil, j.opts.SyncWrites); err != nil {
		return err
	}
	j.mu.Lock()
	delete(j.open, opID)
	j.mu.Unlock()
	return nil
}

func (j *Journal) append(opID uint64, t OpType, payload []byte, sync bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	if !j.open[opID] {
		return fmt.Errorf("%w: %d", ErrUnknownOperation, opID)
	}
	j.lsn++
	return j.writeNoLock(Entry{LSN: j.lsn, OpID: opID, OpType: t, Payload: payload}, sync)
}

// writeNoLock appends an entry (caller must hold mu)
func (j *Journal) writeNoLock(e Entry, sync bool) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	data := e.Encode()
	if j.fileSize > 0 && j.fileSize+int64(len(data)) > j.opts.MaxFileSize {
		if err := j.rotateNoLock(); err != nil {
			return err
		}
	}
	n, err := j.fd.Write(data)
	j.fileSize += int64(n)
	if err != nil {
		return err
	}
	if sync {
		return j.fd.Sync()
	}
	return nil
}

// rotateNoLock switches to the next file (caller must hold mu)
func (j *Journal) rotateNoLock() error {
	if err := j.fd.Sync(); err != nil {
		return err
	}
	if err := j.fd.Close(); err != nil {
		return err
	}
	return j.openFile(j.fileIndex + 1)
}

// Pending returns operations begun after the last checkpoint and never
// committed, oldest first.
func (j *Journal) Pending() ([]Operation, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrClosed
	}
	return j.pendingNoLock()
}

func (j *Journal) pendingNoLock() ([]Operation, error) {
	files, err := j.findLogFiles()
	if err != nil {
		return nil, err
	}
	entries, err := readAll(files)
	if err != nil {
		return nil, err
	}
	return pendingFrom(entries), nil
}

// Checkpoint starts a fresh file holding a checkpoint marker followed by
// the still pending operations, then removes every older file.
func (j *Journal) Checkpoint() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}

	pending, err := j.pendingNoLock()
	if err != nil {
		return err
	}
	oldFiles, err := j.findLogFiles()
	if err != nil {
		return err
	}
	if err := j.rotateNoLock(); err != nil {
		return err
	}

	j.lsn++
	if err := j.writeNoLock(Entry{LSN: j.lsn, OpType: OpCheckpoint}, false); err != nil {
		return err
	}
	for _, op := range pending {
		j.lsn++
		begin := Entry{LSN: j.lsn, OpID: op.OpID, OpType: OpBegin, Kind: op.Kind, Payload: op.Payload, Timestamp: op.Started}
		if err := j.writeNoLock(begin, false); err != nil {
			return err
		}
		for _, step := range op.Steps {
			j.lsn++
			if err := j.writeNoLock(Entry{LSN: j.lsn, OpID: op.OpID, OpType: OpStep, Payload: step}, false); err != nil {
				return err
			}
		}
	}
	if err := j.fd.Sync(); err != nil {
		return err
	}

	current := j.logFilePath(j.fileIndex)
	for _, f := range oldFiles {
		if f == current {
			continue
		}
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Close closes the journal
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.fd.Close()
}

func (j *Journal) baseName() string {
	return filepath.Base(j.path)
}

func (j *Journal) logFilePath(index int) string {
	return filepath.Join(filepath.Dir(j.path), fmt.Sprintf("%s.%03d", j.baseName(), index))
}

// findLogFiles returns the journal files sorted by index
func (j *Journal) findLogFiles() ([]string, error) {
	dir := filepath.Dir(j.path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	type indexed struct {
		path  string
		index int
	}
	var found []indexed
	for _, entry := range entries {
		var index int
		if entry.IsDir() {
			continue
		}
		if _, err := fmt.Sscanf(entry.Name(), j.baseName()+".%d", &index); err == nil {
			found = append(found, indexed{filepath.Join(dir, entry.Name()), index})
		}
	}
	sort.Slice(found, func(a, b int) bool { return found[a].index < found[b].index })

	files := make([]string, len(found))
	for i, f := range found {
		files[i] = f.path
	}
	return files, nil
}

// pendingFrom groups entries by operation, honouring the last checkpoint.
func pendingFrom(entries []*Entry) []Operation {
	start := 0
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].OpType == OpCheckpoint {
			start = i + 1
			break
		}
	}

	ops := make(map[uint64]*Operation)
	var order []uint64
	for _, e := range entries[start:] {
		switch e.OpType {
		case OpBegin:
			if _, ok := ops[e.OpID]; !ok {
				order = append(order, e.OpID)
			}
			ops[e.OpID] = &Operation{OpID: e.OpID, Kind: e.Kind, Payload: e.Payload, StartLSN: e.LSN, Started: e.Timestamp}
		case OpStep:
			if op, ok := ops[e.OpID]; ok {
				op.Steps = append(op.Steps, e.Payload)
			}
		case OpCommit:
			delete(ops, e.OpID)
		}
	}

	var out []Operation
	for _, id := range order {
		if op, ok := ops[id]; ok {
			out = append(out, *op)
		}
	}
	return out
}

// readAll reads every intact entry. Reading a file stops at the first torn
// or corrupted entry, which can only be the tail of an interrupted write.
func readAll(files []string) ([]*Entry, error) {
	var entries []*Entry
	for _, f := range files {
		fd, err := os.Open(f)
		if err != nil {
			return nil, err
		}
		for {
			e, err := readEntry(fd)
			if err != nil {
				if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) || err == ErrCorrupted || err == ErrTruncated {
					break
				}
				fd.Close()
				return nil, err
			}
			entries = append(entries, e)
		}
		fd.Close()
	}
	return entries, nil
}

// readEntry reads a single entry from r
func readEntry(r io.Reader) (*Entry, error) {
	header := make([]byte, EntryHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	n, err := bodyLen(header)
	if err != nil {
		return nil, err
	}
	data := make([]byte, EntryHeaderSize+n)
	copy(data, header)
	if _, err := io.ReadFull(r, data[EntryHeaderSize:]); err != nil {
		return nil, err
	}
	return DecodeEntry(data)
}
