package persistence

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// The WAL records every mutation since the last checkpoint as a
// length-prefixed frame: uvarint id length, uvarint payload length, id
// bytes, payload bytes. A zero-length payload marks a delete. Vectors are
// logged raw (unquantized) so replay can retrain an uncalibrated quantizer.

// WALEntry is the decoded form of one frame.
type WALEntry struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
	Deleted  bool
}

type walPayload struct {
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// WAL is an append-only mutation log for one collection.
type WAL struct {
	mu   sync.Mutex
	path string
	file *os.File
	buf  *bufio.Writer
}

// OpenWAL opens (or creates) the log at path for appending.
func OpenWAL(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open wal: %w", err)
	}
	return &WAL{
		path: path,
		file: file,
		buf:  bufio.NewWriter(file),
	}, nil
}

// AppendUpsert logs an insert or replace of id.
func (w *WAL) AppendUpsert(id string, vector []float32, metadata map[string]any) error {
	payload, err := json.Marshal(walPayload{Vector: vector, Metadata: metadata})
	if err != nil {
		return err
	}
	return w.append(id, payload)
}

// AppendDelete logs a delete of id.
func (w *WAL) AppendDelete(id string) error {
	return w.append(id, nil)
}

func (w *WAL) append(id string, payload []byte) error {
	var header [2 * binary.MaxVarintLen64]byte
	n := binary.PutUvarint(header[0:], uint64(len(id)))
	n += binary.PutUvarint(header[n:], uint64(len(payload)))

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.buf.Write(header[:n]); err != nil {
		return err
	}
	if _, err := w.buf.WriteString(id); err != nil {
		return err
	}
	_, err := w.buf.Write(payload)
	return err
}

// Sync flushes buffered frames and forces them to durable storage.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Rotate seals the log's current contents into sealedPath and starts a
// fresh, empty log at the same path. Frames already sealed there by an
// earlier rotation are preserved ahead of the newly sealed ones, so replay
// order survives a failed checkpoint.
func (w *WAL) Rotate(sealedPath string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}

	if _, err := os.Stat(sealedPath); errors.Is(err, os.ErrNotExist) {
		if err := os.Rename(w.path, sealedPath); err != nil {
			return fmt.Errorf("failed to seal wal: %w", err)
		}
	} else {
		if err := appendFile(sealedPath, w.path); err != nil {
			return fmt.Errorf("failed to seal wal: %w", err)
		}
		if err := os.Remove(w.path); err != nil {
			return fmt.Errorf("failed to seal wal: %w", err)
		}
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to reopen wal: %w", err)
	}
	w.file = file
	w.buf = bufio.NewWriter(file)
	return nil
}

func appendFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// Close flushes and closes the log file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// ReplayWAL streams every frame in the log through fn, in append order.
// A missing log file means nothing to replay.
func ReplayWAL(path string, fn func(entry *WALEntry) error) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	for {
		idLen, err := binary.ReadUvarint(reader)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read wal frame: %w", err)
		}
		payloadLen, err := binary.ReadUvarint(reader)
		if err != nil {
			return fmt.Errorf("failed to read wal frame: %w", err)
		}

		idBuf := make([]byte, idLen)
		if _, err := io.ReadFull(reader, idBuf); err != nil {
			return fmt.Errorf("failed to read wal frame: %w", err)
		}

		entry := &WALEntry{ID: string(idBuf)}
		if payloadLen == 0 {
			entry.Deleted = true
		} else {
			payloadBuf := make([]byte, payloadLen)
			if _, err := io.ReadFull(reader, payloadBuf); err != nil {
				return fmt.Errorf("failed to read wal frame: %w", err)
			}
			var payload walPayload
			if err := json.Unmarshal(payloadBuf, &payload); err != nil {
				return fmt.Errorf("failed to decode wal payload: %w", err)
			}
			entry.Vector = payload.Vector
			entry.Metadata = payload.Metadata
		}

		if err := fn(entry); err != nil {
			return err
		}
	}
}
