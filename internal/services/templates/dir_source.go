package templates

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/meme-tgbot-go/internal/models"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DirSource loads template manifests from yaml files in a directory tree.
// Each file describes one template; the file name is the key when none is given.
type DirSource struct {
	dir    string
	logger *logrus.Logger
}

// NewDirSource creates a directory-backed template source
func NewDirSource(dir string, logger *logrus.Logger) *DirSource {
	return &DirSource{dir: dir, logger: logger}
}

// Load walks the directory and parses every .yaml/.yml manifest.
// Invalid manifests are skipped with a warning.
func (s *DirSource) Load(ctx context.Context) ([]models.Template, error) {
	s.logger.WithField("dir", s.dir).Info("Loading template manifests")

	var templates []models.Template
	seen := make(map[string]string)

	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		ext := strings.ToLower(filepath.Ext(path))
		if d.IsDir() || (ext != ".yaml" && ext != ".yml") {
			return nil
		}

		tmpl, err := s.loadManifest(path)
		if err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("Failed to load template manifest")
			return nil
		}

		if prev, dup := seen[tmpl.Key]; dup {
			s.logger.WithFields(logrus.Fields{
				"key":   tmpl.Key,
				"path":  path,
				"first": prev,
			}).Warn("Duplicate template key, keeping the first")
			return nil
		}
		seen[tmpl.Key] = path

		templates = append(templates, *tmpl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk template directory: %w", err)
	}

	sort.Slice(templates, func(a, b int) bool {
		return templates[a].Key < templates[b].Key
	})

	s.logger.WithField("count", len(templates)).Info("Template manifests loaded")
	return templates, nil
}

func (s *DirSource) loadManifest(path string) (*models.Template, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var tmpl models.Template
	if err := yaml.Unmarshal(content, &tmpl); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if tmpl.Key == "" {
		tmpl.Key = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := validateTemplate(&tmpl); err != nil {
		return nil, err
	}

	return &tmpl, nil
}

func validateTemplate(t *models.Template) error {
	if t.MinImages < 0 || t.MinTexts < 0 {
		return fmt.Errorf("template %s: negative minimum", t.Key)
	}
	if t.MaxImages < t.MinImages {
		return fmt.Errorf("template %s: max_images %d below min_images %d", t.Key, t.MaxImages, t.MinImages)
	}
	if t.MaxTexts < t.MinTexts {
		return fmt.Errorf("template %s: max_texts %d below min_texts %d", t.Key, t.MaxTexts, t.MinTexts)
	}
	return nil
}
