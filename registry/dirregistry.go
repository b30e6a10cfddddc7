package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DirRegistry stores tagged images as JSON files under a directory, one
// file per tag. It backs the CLI when promoting against local registry
// checkouts; network registries plug in behind the same interface.
type DirRegistry struct {
	name string
	root string
	mu   sync.Mutex
}

// NewDirRegistry returns a DirRegistry rooted at dir, creating it if
// needed.
func NewDirRegistry(name, dir string) (*DirRegistry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("registry %s: create root %s: %w", name, dir, err)
	}
	return &DirRegistry{name: name, root: dir}, nil
}

func (r *DirRegistry) Name() string { return r.name }

func (r *DirRegistry) tagPath(tag string) (string, error) {
	if tag == "" || strings.ContainsAny(tag, "/\\") {
		return "", fmt.Errorf("registry %s: invalid tag %q", r.name, tag)
	}
	return filepath.Join(r.root, tag+".json"), nil
}

func (r *DirRegistry) HasTag(ctx context.Context, tag string) (bool, error) {
	p, err := r.tagPath(tag)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (r *DirRegistry) Image(ctx context.Context, tag string) (Image, error) {
	p, err := r.tagPath(tag)
	if err != nil {
		return Image{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Image{}, fmt.Errorf("%s:%s: %w", r.name, tag, ErrTagNotFound)
	}
	if err != nil {
		return Image{}, err
	}
	var img Image
	if err := json.Unmarshal(data, &img); err != nil {
		return Image{}, fmt.Errorf("registry %s: decode tag %s: %w", r.name, tag, err)
	}
	return img, nil
}

func (r *DirRegistry) Push(ctx context.Context, tag string, img Image) error {
	p, err := r.tagPath(tag)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(img, "", "  ")
	if err != nil {
		return fmt.Errorf("registry %s: encode tag %s: %w", r.name, tag, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return os.WriteFile(p, data, 0o644)
}

func (r *DirRegistry) Tags(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, fmt.Errorf("registry %s: read root: %w", r.name, err)
	}
	var tags []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		tags = append(tags, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(tags)
	return tags, nil
}
