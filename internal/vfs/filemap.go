package vfs

import (
	"path"
	"sort"
	"strings"
)

// FileMap is an immutable snapshot of in-memory module files keyed by
// slash-separated path relative to the virtual root.
type FileMap struct {
	files map[string][]byte
}

// NewFileMap copies files into a FileMap. Leading slashes and "./" are
// dropped from the keys.
func NewFileMap(files map[string]string) *FileMap {
	m := &FileMap{files: make(map[string][]byte, len(files))}
	for name, content := range files {
		m.files[cleanName(name)] = []byte(content)
	}
	return m
}

func cleanName(name string) string {
	return strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(name, "\\", "/")), "/")
}

// Get returns the bytes stored under name.
func (m *FileMap) Get(name string) ([]byte, bool) {
	b, ok := m.files[cleanName(name)]
	return b, ok
}

// Has reports whether name is present.
func (m *FileMap) Has(name string) bool {
	_, ok := m.files[cleanName(name)]
	return ok
}

// Names returns every stored path in sorted order.
func (m *FileMap) Names() []string {
	names := make([]string, 0, len(m.files))
	for n := range m.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of files.
func (m *FileMap) Len() int { return len(m.files) }
