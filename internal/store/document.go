package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// document is one JSON file read and written as a whole. mu serialises
// read-modify-write cycles on the file.
type document[T any] struct {
	mu    sync.Mutex
	name  string
	path  string
	empty func() T
	fix   func(*T)
}

func (d *document[T]) Name() string { return d.name }

func (d *document[T]) Path() string { return d.path }

func (d *document[T]) load() (T, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return d.empty(), nil
		}
		return d.empty(), fmt.Errorf("read %s: %w", d.name, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return d.empty(), nil
	}
	return d.decode(data)
}

func (d *document[T]) decode(data []byte) (T, error) {
	v := d.empty()
	if err := json.Unmarshal(data, &v); err != nil {
		return d.empty(), fmt.Errorf("decode %s: %w", d.name, err)
	}
	if d.fix != nil {
		d.fix(&v)
	}
	return v, nil
}

func (d *document[T]) save(v T) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", d.name, err)
	}
	return d.write(data)
}

func (d *document[T]) write(data []byte) error {
	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create storage directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+d.name+".*")
	if err != nil {
		return fmt.Errorf("write %s: %w", d.name, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", d.name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", d.name, err)
	}
	if err := os.Rename(tmp.Name(), d.path); err != nil {
		return fmt.Errorf("write %s: %w", d.name, err)
	}
	return nil
}

func (d *document[T]) update(fn func(*T) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.load()
	if err != nil {
		return err
	}
	if err := fn(&v); err != nil {
		return err
	}
	return d.save(v)
}

func (d *document[T]) read() (T, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.load()
}

// ReadRaw returns the document as compact JSON. A missing file yields the
// empty document.
func (d *document[T]) ReadRaw() (json.RawMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := os.ReadFile(d.path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", d.name, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		data, err = json.Marshal(d.empty())
		if err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, fmt.Errorf("read %s: %w", d.name, err)
	}
	return buf.Bytes(), nil
}

// Validate reports whether raw decodes into this document's shape.
func (d *document[T]) Validate(raw json.RawMessage) error {
	if !json.Valid(raw) {
		return errors.New("invalid JSON")
	}
	_, err := d.decode(raw)
	return err
}

// WriteRaw replaces the file with raw. The value is decoded and written back
// through save, so the file reads exactly as a local save would leave it.
func (d *document[T]) WriteRaw(raw json.RawMessage) error {
	if !json.Valid(raw) {
		return fmt.Errorf("%s: invalid JSON", d.name)
	}
	v, err := d.decode(raw)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.save(v)
}
