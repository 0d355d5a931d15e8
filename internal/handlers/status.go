package handlers

import (
	"github.com/meme-tgbot-go/internal/services/avatar"
)

// StatusReport is the runtime state shown by /meme_status and served on /status
type StatusReport struct {
	PluginEnabled          bool          `json:"plugin_enabled"`
	AvatarCacheEnabled     bool          `json:"avatar_cache_enabled"`
	CooldownSeconds        float64       `json:"cooldown_seconds"`
	GenerationTimeout      float64       `json:"generation_timeout"`
	CacheExpireHours       int           `json:"cache_expire_hours"`
	DisabledTemplatesCount int           `json:"disabled_templates_count"`
	TotalTemplates         int           `json:"total_templates"`
	TotalKeywords          int           `json:"total_keywords"`
	IndexState             string        `json:"index_state"`
	CooldownUsers          int           `json:"cooldown_users"`
	Cache                  avatar.Stats  `json:"cache"`
	Cleaner                avatar.Status `json:"cleaner"`
}

// Report collects the current status. It never triggers a template load.
func (h *CommandHandler) Report() StatusReport {
	cacheStats := h.cache.Stats()
	templatesCount, keywords := h.index.Counts()

	return StatusReport{
		PluginEnabled:          h.settings.PluginEnabled(),
		AvatarCacheEnabled:     cacheStats.Enabled,
		CooldownSeconds:        h.cooldown.Window().Seconds(),
		GenerationTimeout:      h.config.Plugin.Timeout().Seconds(),
		CacheExpireHours:       cacheStats.ExpireHours,
		DisabledTemplatesCount: len(h.settings.DisabledTemplates()),
		TotalTemplates:         templatesCount,
		TotalKeywords:          keywords,
		IndexState:             h.index.State().String(),
		CooldownUsers:          h.cooldown.Users(),
		Cache:                  cacheStats,
		Cleaner:                h.cleaner.Status(),
	}
}
