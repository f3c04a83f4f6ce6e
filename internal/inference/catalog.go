package inference

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownModel is returned for ids that were never registered.
var ErrUnknownModel = errors.New("unknown model")

// ModelCategory groups models by modality.
type ModelCategory string

const (
	CategoryLanguage ModelCategory = "language"
	CategorySTT      ModelCategory = "stt"
	CategoryTTS      ModelCategory = "tts"
	CategoryVAD      ModelCategory = "vad"
)

// ModelStatus tracks the lifecycle of a registered model.
type ModelStatus string

const (
	StatusRegistered ModelStatus = "registered"
	StatusDownloaded ModelStatus = "downloaded"
	StatusLoaded     ModelStatus = "loaded"
)

// Model describes one entry in the catalog.
type Model struct {
	ID       string        `json:"id"`
	Category ModelCategory `json:"category"`
	URL      string        `json:"url,omitempty"`
	File     string        `json:"file,omitempty"`
	Status   ModelStatus   `json:"status"`
}

// LoadOptions controls model loading.
type LoadOptions struct {
	ContextLength int
}

// ModelBackend performs the storage side of the lifecycle.
type ModelBackend interface {
	Present(ctx context.Context, m Model) (bool, error)
	Fetch(ctx context.Context, m Model) error
	Load(ctx context.Context, m Model, opts LoadOptions) error
}

// ModelManager exposes the idempotent model lifecycle.
type ModelManager interface {
	RegisterModels(models []Model)
	Models() []Model
	DownloadModel(ctx context.Context, id string) error
	LoadModel(ctx context.Context, id string, opts LoadOptions) error
}

// Catalog is a ModelManager over a single backend. Downloading a model that
// is already present or loaded, and loading a loaded model, are no-ops.
type Catalog struct {
	backend ModelBackend

	mu     sync.Mutex
	models map[string]*Model
}

// NewCatalog returns an empty catalog.
func NewCatalog(backend ModelBackend) *Catalog {
	return &Catalog{backend: backend, models: make(map[string]*Model)}
}

// RegisterModels adds models; re-registering keeps the current status.
func (c *Catalog) RegisterModels(models []Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range models {
		if existing, ok := c.models[m.ID]; ok {
			m.Status = existing.Status
		} else {
			m.Status = StatusRegistered
		}
		mm := m
		c.models[m.ID] = &mm
	}
}

// Models returns a snapshot sorted by id.
func (c *Catalog) Models() []Model {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Model, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) lookup(id string) (Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.models[id]
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	return *m, nil
}

func (c *Catalog) setStatus(id string, status ModelStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.models[id]; ok {
		m.Status = status
	}
}

// Present reports whether the backend already holds the model.
func (c *Catalog) Present(ctx context.Context, id string) (bool, error) {
	m, err := c.lookup(id)
	if err != nil {
		return false, err
	}
	if m.Status == StatusDownloaded || m.Status == StatusLoaded {
		return true, nil
	}
	return c.backend.Present(ctx, m)
}

// DownloadModel fetches the model unless it is already available.
func (c *Catalog) DownloadModel(ctx context.Context, id string) error {
	m, err := c.lookup(id)
	if err != nil {
		return err
	}
	if m.Status == StatusDownloaded || m.Status == StatusLoaded {
		return nil
	}
	present, err := c.backend.Present(ctx, m)
	if err != nil {
		return fmt.Errorf("check model %s: %w", id, err)
	}
	if !present {
		if err := c.backend.Fetch(ctx, m); err != nil {
			return fmt.Errorf("download model %s: %w", id, err)
		}
	}
	c.setStatus(id, StatusDownloaded)
	return nil
}

// LoadModel loads a downloaded model into memory.
func (c *Catalog) LoadModel(ctx context.Context, id string, opts LoadOptions) error {
	m, err := c.lookup(id)
	if err != nil {
		return err
	}
	if m.Status == StatusLoaded {
		return nil
	}
	if m.Status != StatusDownloaded {
		if err := c.DownloadModel(ctx, id); err != nil {
			return err
		}
	}
	if err := c.backend.Load(ctx, m, opts); err != nil {
		return fmt.Errorf("load model %s: %w", id, err)
	}
	c.setStatus(id, StatusLoaded)
	return nil
}
