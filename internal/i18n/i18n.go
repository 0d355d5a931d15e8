package i18n

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/meme-tgbot-go/internal/config"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
	matcher         language.Matcher
	tags            []string
}

// NewLocalizer loads one <lang>.json file per configured language from cfg.Directory
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	defaultTag, err := language.Parse(cfg.DefaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("invalid default language %q: %w", cfg.DefaultLanguage, err)
	}

	bundle := i18n.NewBundle(defaultTag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	// the default language goes first so the matcher falls back to it
	langs := []string{cfg.DefaultLanguage}
	for _, lang := range cfg.Languages {
		if lang != cfg.DefaultLanguage {
			langs = append(langs, lang)
		}
	}

	tags := make([]language.Tag, 0, len(langs))
	localizers := make(map[string]*i18n.Localizer, len(langs))
	for _, lang := range langs {
		path := filepath.Join(cfg.Directory, lang+".json")
		if _, err := bundle.LoadMessageFile(path); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
		tags = append(tags, language.Make(lang))
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		localizers:      localizers,
		matcher:         language.NewMatcher(tags),
		tags:            langs,
	}, nil
}

// Match maps a client language code such as "en-US" to a loaded language
func (l *Localizer) Match(code string) string {
	if code == "" {
		return l.defaultLanguage
	}
	_, idx, confidence := l.matcher.Match(language.Make(code))
	if confidence == language.No {
		return l.defaultLanguage
	}
	return l.tags[idx]
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// Message IDs
const (
	MsgHelp                    = "help"
	MsgPermissionDenied        = "permission_denied"
	MsgPluginDisabledNotice    = "plugin_disabled_notice"
	MsgPluginEnabled           = "plugin_enabled"
	MsgPluginAlreadyEnabled    = "plugin_already_enabled"
	MsgPluginDisabled          = "plugin_disabled"
	MsgPluginAlreadyDisabled   = "plugin_already_disabled"
	MsgTemplateNotSpecified    = "template_not_specified"
	MsgTemplateNotFound        = "template_not_found"
	MsgTemplateDisabled        = "template_disabled"
	MsgTemplateAlreadyDisabled = "template_already_disabled"
	MsgTemplateEnabled         = "template_enabled"
	MsgTemplateNotDisabled     = "template_not_disabled"
	MsgDisabledListEmpty       = "disabled_list_empty"
	MsgDisabledListTitle       = "disabled_list_title"
	MsgDisabledListMore        = "disabled_list_more"
	MsgTemplateListEmpty       = "template_list_empty"
	MsgTemplateListTitle       = "template_list_title"
	MsgTemplateListMore        = "template_list_more"
	MsgTemplateInfo            = "template_info"
	MsgStatus                  = "status"
	MsgRefreshDone             = "refresh_done"
	MsgRefreshFailed           = "refresh_failed"
	MsgCacheCleared            = "cache_cleared"
	MsgCacheSwept              = "cache_swept"
	MsgCooldownReset           = "cooldown_reset"
	MsgCooldownResetAll        = "cooldown_reset_all"
	MsgError                   = "error"
	MsgYes                     = "yes"
	MsgNo                      = "no"
	MsgNone                    = "none"
)
