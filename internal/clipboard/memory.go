package clipboard

import (
	"bytes"
	"sync"
)

// Memory is an in-process clipboard for tests and headless runs.
type Memory struct {
	mu    sync.Mutex
	text  string
	image []byte
}

// NewMemory returns an empty in-memory clipboard
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) ReadText() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, nil
}

func (m *Memory) ReadImage() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.image) == 0 {
		return nil, nil
	}
	return bytes.Clone(m.image), nil
}

func (m *Memory) WriteText(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = text
	return nil
}

func (m *Memory) WriteImage(png []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.image = bytes.Clone(png)
	return nil
}
