package settings

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/meme-tgbot-go/internal/config"
	"github.com/sirupsen/logrus"
)

const storageKey = "settings"

// Store persists the settings document
type Store interface {
	GetJSON(ctx context.Context, key string, out any) (bool, error)
	SetJSON(ctx context.Context, key string, v any) error
}

// Settings is the runtime-mutable part of the plugin configuration
type Settings struct {
	PluginEnabled     bool     `json:"plugin_enabled"`
	DisabledTemplates []string `json:"disabled_templates"`
}

// Service manages runtime settings changed through admin commands
type Service struct {
	store     Store
	logger    *logrus.Logger
	mu        sync.RWMutex
	current   Settings
	listeners []func(Settings)
}

// NewService starts from the static config and overlays any persisted settings
func NewService(ctx context.Context, cfg *config.PluginConfig, store Store, logger *logrus.Logger) (*Service, error) {
	s := &Service{
		store:  store,
		logger: logger,
		current: Settings{
			PluginEnabled:     cfg.Enabled,
			DisabledTemplates: slices.Clone(cfg.DisabledTemplates),
		},
	}

	var persisted Settings
	found, err := store.GetJSON(ctx, storageKey, &persisted)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if found {
		s.current = persisted
		logger.WithFields(logrus.Fields{
			"plugin_enabled": persisted.PluginEnabled,
			"disabled":       len(persisted.DisabledTemplates),
		}).Info("Loaded persisted settings")
	}

	return s, nil
}

// Current returns a copy of the settings
func (s *Service) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Settings{
		PluginEnabled:     s.current.PluginEnabled,
		DisabledTemplates: slices.Clone(s.current.DisabledTemplates),
	}
}

// PluginEnabled reports the global generation switch
func (s *Service) PluginEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.PluginEnabled
}

// IsTemplateDisabled reports whether key was disabled by an admin
func (s *Service) IsTemplateDisabled(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.current.DisabledTemplates, key)
}

// DisabledTemplates returns the disabled keys in the order they were disabled
func (s *Service) DisabledTemplates() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.current.DisabledTemplates)
}

// EnablePlugin turns generation on. It reports false if it was already on.
func (s *Service) EnablePlugin(ctx context.Context) (bool, error) {
	return s.update(ctx, func(cur *Settings) bool {
		if cur.PluginEnabled {
			return false
		}
		cur.PluginEnabled = true
		return true
	})
}

// DisablePlugin turns generation off. It reports false if it was already off.
func (s *Service) DisablePlugin(ctx context.Context) (bool, error) {
	return s.update(ctx, func(cur *Settings) bool {
		if !cur.PluginEnabled {
			return false
		}
		cur.PluginEnabled = false
		return true
	})
}

// DisableTemplate adds key to the disabled list. It reports false if already disabled.
func (s *Service) DisableTemplate(ctx context.Context, key string) (bool, error) {
	return s.update(ctx, func(cur *Settings) bool {
		if slices.Contains(cur.DisabledTemplates, key) {
			return false
		}
		cur.DisabledTemplates = append(cur.DisabledTemplates, key)
		return true
	})
}

// EnableTemplate removes key from the disabled list. It reports false if it was not disabled.
func (s *Service) EnableTemplate(ctx context.Context, key string) (bool, error) {
	return s.update(ctx, func(cur *Settings) bool {
		idx := slices.Index(cur.DisabledTemplates, key)
		if idx < 0 {
			return false
		}
		cur.DisabledTemplates = slices.Delete(cur.DisabledTemplates, idx, idx+1)
		return true
	})
}

// RegisterChangeListener registers a callback invoked after each persisted change
func (s *Service) RegisterChangeListener(listener func(Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// update applies mutate to a copy, persists it, and only then makes it current
func (s *Service) update(ctx context.Context, mutate func(*Settings) bool) (bool, error) {
	s.mu.Lock()

	next := Settings{
		PluginEnabled:     s.current.PluginEnabled,
		DisabledTemplates: slices.Clone(s.current.DisabledTemplates),
	}
	if !mutate(&next) {
		s.mu.Unlock()
		return false, nil
	}

	if err := s.store.SetJSON(ctx, storageKey, next); err != nil {
		s.mu.Unlock()
		return false, fmt.Errorf("failed to save settings: %w", err)
	}
	s.current = next
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"plugin_enabled": next.PluginEnabled,
		"disabled":       next.DisabledTemplates,
	}).Info("Settings updated")

	for _, listener := range listeners {
		listener(next)
	}
	return true, nil
}
