// internal/catalog/catalog.go
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	stderrors "gatekeeper/internal/common/errors"
	"gatekeeper/internal/common/logger"
	"gatekeeper/internal/models"

	"github.com/xeipuuv/gojsonschema"
)

// Catalog is the read side consumed by the intake and decision engines. The
// engine never caches definitions; every call reads the current document so
// that admin edits take effect immediately.
type Catalog interface {
	Get(ctx context.Context, formKey string) (*models.FormDefinition, error)
	List(ctx context.Context) (map[string]models.FormDefinition, error)
}

const defaultReapplyCooldownDays = 30

// formSchema constrains one catalog entry. Mirrors the shape of
// models.FormDefinition minus the key, which is the map key in the document.
const formSchema = `{
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"questions": {"type": "array", "items": {"type": "string"}},
		"reviewSurfaceId": {"type": "string"},
		"acceptedRoleId": {"type": "string"},
		"reapplyCooldownDays": {"type": "integer", "minimum": 0}
	},
	"required": ["name", "questions"],
	"additionalProperties": false
}`

// FileCatalog is a JSON-document-backed catalog with admin mutations. Writes
// are serialized; reads go straight to disk.
type FileCatalog struct {
	path   string
	schema *gojsonschema.Schema
	logger logger.Logger

	mu sync.Mutex // guards read-modify-write cycles of the document
}

func NewFileCatalog(path string, log logger.Logger) (*FileCatalog, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(formSchema))
	if err != nil {
		return nil, fmt.Errorf("compile form schema: %w", err)
	}

	c := &FileCatalog{
		path:   path,
		schema: schema,
		logger: log.WithFields(map[string]interface{}{"component": "catalog"}),
	}

	if err := c.ensureDocument(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *FileCatalog) ensureDocument() error {
	if _, err := os.Stat(c.path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create catalog dir: %w", err)
	}
	if err := os.WriteFile(c.path, []byte("{}\n"), 0o644); err != nil {
		return fmt.Errorf("create catalog document: %w", err)
	}
	return nil
}

type formDocument map[string]models.FormDefinition

func (c *FileCatalog) load() (formDocument, error) {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return nil, stderrors.NewCatalogReadFailedError(err)
	}

	doc := formDocument{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, stderrors.NewCatalogReadFailedError(err)
	}

	for key, form := range doc {
		form.Key = key
		doc[key] = form
	}
	return doc, nil
}

func (c *FileCatalog) save(doc formDocument) error {
	// Keys live in the map, not the entries, on disk.
	out := make(map[string]models.FormDefinition, len(doc))
	for key, form := range doc {
		form.Key = ""
		out[key] = form
	}

	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return stderrors.NewCatalogReadFailedError(err)
	}
	if err := os.WriteFile(c.path, append(raw, '\n'), 0o644); err != nil {
		return stderrors.NewCatalogReadFailedError(err)
	}
	return nil
}

func (c *FileCatalog) validate(formKey string, form models.FormDefinition) error {
	form.Key = ""
	raw, err := json.Marshal(form)
	if err != nil {
		return stderrors.NewFormInvalidError(formKey, err.Error())
	}

	result, err := c.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return stderrors.NewFormInvalidError(formKey, err.Error())
	}
	if !result.Valid() {
		descs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			descs[i] = desc.String()
		}
		return stderrors.NewFormInvalidError(formKey, strings.Join(descs, "; "))
	}
	return nil
}

// Get returns the definition for formKey or FORM_NOT_FOUND.
func (c *FileCatalog) Get(ctx context.Context, formKey string) (*models.FormDefinition, error) {
	doc, err := c.load()
	if err != nil {
		return nil, err
	}
	form, ok := doc[formKey]
	if !ok {
		return nil, stderrors.NewFormNotFoundError(formKey)
	}
	return &form, nil
}

// List returns all form definitions keyed by form key.
func (c *FileCatalog) List(ctx context.Context) (map[string]models.FormDefinition, error) {
	return c.load()
}

// Keys returns the catalog's form keys in sorted order.
func (c *FileCatalog) Keys(ctx context.Context) ([]string, error) {
	doc, err := c.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(doc))
	for key := range doc {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// --- Admin mutations ---

// CreateForm registers a new empty form under key.
func (c *FileCatalog) CreateForm(ctx context.Context, key, displayName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.load()
	if err != nil {
		return err
	}
	if _, exists := doc[key]; exists {
		return stderrors.NewFormExistsError(key)
	}

	if displayName == "" {
		displayName = key
	}
	form := models.FormDefinition{
		Name:                displayName,
		Questions:           []string{},
		ReapplyCooldownDays: defaultReapplyCooldownDays,
	}
	if err := c.validate(key, form); err != nil {
		return err
	}

	doc[key] = form
	if err := c.save(doc); err != nil {
		return err
	}

	c.logger.Info("form created", map[string]interface{}{"formKey": key})
	return nil
}

// AddQuestion appends a question to the form's ordered list.
func (c *FileCatalog) AddQuestion(ctx context.Context, key, question string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.load()
	if err != nil {
		return 0, err
	}
	form, exists := doc[key]
	if !exists {
		return 0, stderrors.NewFormNotFoundError(key)
	}

	form.Questions = append(form.Questions, question)
	if err := c.validate(key, form); err != nil {
		return 0, err
	}

	doc[key] = form
	if err := c.save(doc); err != nil {
		return 0, err
	}
	return len(form.Questions), nil
}

// RemoveQuestion removes the question at the zero-based index and returns its
// text.
func (c *FileCatalog) RemoveQuestion(ctx context.Context, key string, index int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.load()
	if err != nil {
		return "", err
	}
	form, exists := doc[key]
	if !exists {
		return "", stderrors.NewFormNotFoundError(key)
	}
	if index < 0 || index >= len(form.Questions) {
		return "", stderrors.NewFormInvalidError(key, fmt.Sprintf("question index out of range: %d", index))
	}

	removed := form.Questions[index]
	form.Questions = append(form.Questions[:index], form.Questions[index+1:]...)
	doc[key] = form
	if err := c.save(doc); err != nil {
		return "", err
	}
	return removed, nil
}

// SetReviewSurface sets the destination decision requests are posted to.
func (c *FileCatalog) SetReviewSurface(ctx context.Context, key, surfaceID string) error {
	return c.update(key, func(form *models.FormDefinition) {
		form.ReviewSurfaceID = surfaceID
	})
}

// SetAcceptedRole sets the role granted when an application is accepted.
func (c *FileCatalog) SetAcceptedRole(ctx context.Context, key, roleID string) error {
	return c.update(key, func(form *models.FormDefinition) {
		form.AcceptedRoleID = roleID
	})
}

func (c *FileCatalog) update(key string, mutate func(*models.FormDefinition)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.load()
	if err != nil {
		return err
	}
	form, exists := doc[key]
	if !exists {
		return stderrors.NewFormNotFoundError(key)
	}

	mutate(&form)
	if err := c.validate(key, form); err != nil {
		return err
	}

	doc[key] = form
	return c.save(doc)
}
