package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/meme-tgbot-go/internal/config"
	"github.com/meme-tgbot-go/internal/i18n"
	"github.com/meme-tgbot-go/internal/middleware"
	"github.com/meme-tgbot-go/internal/models"
	"github.com/meme-tgbot-go/internal/services/avatar"
	"github.com/meme-tgbot-go/internal/services/profile"
	"github.com/meme-tgbot-go/internal/services/settings"
	"github.com/meme-tgbot-go/internal/services/templates"
	"github.com/meme-tgbot-go/pkg/markdown"
	"github.com/sirupsen/logrus"
)

const (
	listPageSize     = 30
	disabledPageSize = 20
)

const (
	cmdHelp          = "meme_help"
	cmdList          = "meme_list"
	cmdInfo          = "meme_info"
	cmdDisable       = "meme_disable"
	cmdEnable        = "meme_enable"
	cmdDisabled      = "meme_disabled"
	cmdOn            = "meme_on"
	cmdOff           = "meme_off"
	cmdStatus        = "meme_status"
	cmdRefresh       = "meme_refresh"
	cmdCacheClear    = "meme_cache_clear"
	cmdCacheSweep    = "meme_cache_sweep"
	cmdCooldownReset = "meme_cooldown_reset"
)

var publicCommands = map[string]bool{
	cmdHelp: true,
	cmdList: true,
	cmdInfo: true,
}

var adminCommands = map[string]bool{
	cmdDisable:       true,
	cmdEnable:        true,
	cmdDisabled:      true,
	cmdOn:            true,
	cmdOff:           true,
	cmdStatus:        true,
	cmdRefresh:       true,
	cmdCacheClear:    true,
	cmdCacheSweep:    true,
	cmdCooldownReset: true,
}

// CommandHandler handles the /meme_* commands
type CommandHandler struct {
	bot       BotAPI
	config    *config.Config
	settings  *settings.Service
	index     *templates.Index
	cache     *avatar.Cache
	cleaner   *avatar.Manager
	cooldown  *middleware.Cooldown
	profiles  *profile.Cache
	localizer *i18n.Localizer
	logger    *logrus.Logger
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(
	bot BotAPI,
	cfg *config.Config,
	settings *settings.Service,
	index *templates.Index,
	cache *avatar.Cache,
	cleaner *avatar.Manager,
	cooldown *middleware.Cooldown,
	profiles *profile.Cache,
	localizer *i18n.Localizer,
	logger *logrus.Logger,
) *CommandHandler {
	return &CommandHandler{
		bot:       bot,
		config:    cfg,
		settings:  settings,
		index:     index,
		cache:     cache,
		cleaner:   cleaner,
		cooldown:  cooldown,
		profiles:  profiles,
		localizer: localizer,
		logger:    logger,
	}
}

// IsMemeCommand reports whether command is handled here
func IsMemeCommand(command string) bool {
	return publicCommands[command] || adminCommands[command]
}

// HandleCommand processes telegram commands
func (h *CommandHandler) HandleCommand(ctx context.Context, message *tgbotapi.Message) error {
	if message.From == nil {
		return nil
	}

	command := message.Command()
	lang := h.localizer.Match(message.From.LanguageCode)
	isAdmin := h.config.Bot.IsAdmin(message.From.ID)
	args := strings.Fields(message.CommandArguments())

	switch {
	case adminCommands[command]:
		if !isAdmin {
			return h.reply(message, h.localizer.Get(lang, i18n.MsgPermissionDenied, nil))
		}
	case publicCommands[command]:
		// public commands go quiet with the plugin for everyone but admins
		if !isAdmin && !h.settings.PluginEnabled() {
			return nil
		}
	default:
		return nil
	}

	h.logger.WithFields(logrus.Fields{
		"command": command,
		"user_id": message.From.ID,
		"chat_id": message.Chat.ID,
	}).Debug("Handling command")

	switch command {
	case cmdHelp:
		return h.reply(message, h.localizer.Get(lang, i18n.MsgHelp, nil))
	case cmdList:
		return h.handleList(ctx, message, lang, args)
	case cmdInfo:
		return h.handleInfo(ctx, message, lang, args)
	case cmdDisable:
		return h.handleDisable(ctx, message, lang, args)
	case cmdEnable:
		return h.handleEnable(ctx, message, lang, args)
	case cmdDisabled:
		return h.handleDisabledList(message, lang)
	case cmdOn:
		return h.handlePluginSwitch(ctx, message, lang, true)
	case cmdOff:
		return h.handlePluginSwitch(ctx, message, lang, false)
	case cmdStatus:
		return h.handleStatus(message, lang)
	case cmdRefresh:
		return h.handleRefresh(ctx, message, lang)
	case cmdCacheClear:
		return h.handleCacheClear(message, lang)
	case cmdCacheSweep:
		return h.handleCacheSweep(message, lang)
	case cmdCooldownReset:
		return h.handleCooldownReset(message, lang, args)
	}
	return nil
}

func (h *CommandHandler) handleList(ctx context.Context, message *tgbotapi.Message, lang string, args []string) error {
	all := h.index.AllTemplates(ctx)
	if len(all) == 0 {
		return h.reply(message, h.localizer.Get(lang, i18n.MsgTemplateListEmpty, nil))
	}

	page := 1
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
			page = n
		}
	}
	pages := pageCount(len(all), listPageSize)
	if page > pages {
		page = pages
	}

	start := (page - 1) * listPageSize
	end := min(start+listPageSize, len(all))
	names := make([]string, 0, end-start)
	for _, tmpl := range all[start:end] {
		names = append(names, templateLabel(tmpl))
	}

	var b strings.Builder
	b.WriteString(h.localizer.Get(lang, i18n.MsgTemplateListTitle, map[string]interface{}{"Total": len(all)}))
	b.WriteString("\n\n")
	b.WriteString(numberedBlock(names, start+1, len(all)))
	if pages > 1 {
		b.WriteString("\n")
		b.WriteString(h.localizer.Get(lang, i18n.MsgTemplateListMore, map[string]interface{}{
			"Page":  page,
			"Pages": pages,
		}))
	}
	return h.reply(message, b.String())
}

func (h *CommandHandler) handleInfo(ctx context.Context, message *tgbotapi.Message, lang string, args []string) error {
	if len(args) == 0 {
		return h.reply(message, h.localizer.Get(lang, i18n.MsgTemplateNotSpecified, nil))
	}

	tmpl, ok := h.index.FindByKeyword(ctx, args[0])
	if !ok {
		return h.reply(message, h.localizer.Get(lang, i18n.MsgTemplateNotFound, nameData(args[0])))
	}

	none := h.localizer.Get(lang, i18n.MsgNone, nil)
	return h.reply(message, h.localizer.Get(lang, i18n.MsgTemplateInfo, map[string]interface{}{
		"Name":     markdown.Escape(tmpl.Key),
		"Keywords": joinOr(tmpl.Keywords, ", ", none),
		"Images":   formatRange(tmpl.MinImages, tmpl.MaxImages),
		"Texts":    formatRange(tmpl.MinTexts, tmpl.MaxTexts),
		"Defaults": joinOr(tmpl.DefaultTexts, ", ", none),
		"Tags":     joinOr(tmpl.Tags, ", ", none),
	}))
}

func (h *CommandHandler) handleDisable(ctx context.Context, message *tgbotapi.Message, lang string, args []string) error {
	if len(args) == 0 {
		return h.reply(message, h.localizer.Get(lang, i18n.MsgTemplateNotSpecified, nil))
	}
	name := args[0]
	if !h.index.KeywordExists(ctx, name) {
		return h.reply(message, h.localizer.Get(lang, i18n.MsgTemplateNotFound, nameData(name)))
	}

	changed, err := h.settings.DisableTemplate(ctx, name)
	if err != nil {
		h.logger.WithError(err).WithField("template", name).Error("Failed to disable template")
		return h.reply(message, h.localizer.Get(lang, i18n.MsgError, nil))
	}
	if !changed {
		return h.reply(message, h.localizer.Get(lang, i18n.MsgTemplateAlreadyDisabled, nameData(name)))
	}
	return h.reply(message, h.localizer.Get(lang, i18n.MsgTemplateDisabled, nameData(name)))
}

func (h *CommandHandler) handleEnable(ctx context.Context, message *tgbotapi.Message, lang string, args []string) error {
	if len(args) == 0 {
		return h.reply(message, h.localizer.Get(lang, i18n.MsgTemplateNotSpecified, nil))
	}
	name := args[0]

	changed, err := h.settings.EnableTemplate(ctx, name)
	if err != nil {
		h.logger.WithError(err).WithField("template", name).Error("Failed to enable template")
		return h.reply(message, h.localizer.Get(lang, i18n.MsgError, nil))
	}
	if !changed {
		return h.reply(message, h.localizer.Get(lang, i18n.MsgTemplateNotDisabled, nameData(name)))
	}
	return h.reply(message, h.localizer.Get(lang, i18n.MsgTemplateEnabled, nameData(name)))
}

// handleDisabledList shows the first page of disabled templates
func (h *CommandHandler) handleDisabledList(message *tgbotapi.Message, lang string) error {
	disabled := h.settings.DisabledTemplates()
	if len(disabled) == 0 {
		return h.reply(message, h.localizer.Get(lang, i18n.MsgDisabledListEmpty, nil))
	}

	shown := disabled[:min(disabledPageSize, len(disabled))]

	var b strings.Builder
	b.WriteString(h.localizer.Get(lang, i18n.MsgDisabledListTitle, map[string]interface{}{"Total": len(disabled)}))
	b.WriteString("\n\n")
	b.WriteString(numberedBlock(shown, 1, len(disabled)))
	if pages := pageCount(len(disabled), disabledPageSize); pages > 1 {
		b.WriteString("\n")
		b.WriteString(h.localizer.Get(lang, i18n.MsgDisabledListMore, map[string]interface{}{
			"Page":  1,
			"Pages": pages,
			"More":  len(disabled) - len(shown),
		}))
	}
	return h.reply(message, b.String())
}

func (h *CommandHandler) handlePluginSwitch(ctx context.Context, message *tgbotapi.Message, lang string, enable bool) error {
	var (
		changed bool
		err     error
	)
	if enable {
		changed, err = h.settings.EnablePlugin(ctx)
	} else {
		changed, err = h.settings.DisablePlugin(ctx)
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to switch plugin")
		return h.reply(message, h.localizer.Get(lang, i18n.MsgError, nil))
	}

	var msgID string
	switch {
	case enable && changed:
		msgID = i18n.MsgPluginEnabled
	case enable:
		msgID = i18n.MsgPluginAlreadyEnabled
	case changed:
		msgID = i18n.MsgPluginDisabled
	default:
		msgID = i18n.MsgPluginAlreadyDisabled
	}
	return h.reply(message, h.localizer.Get(lang, msgID, nil))
}

func (h *CommandHandler) handleStatus(message *tgbotapi.Message, lang string) error {
	report := h.Report()
	onOff := func(b bool) string {
		if b {
			return h.localizer.Get(lang, i18n.MsgYes, nil)
		}
		return h.localizer.Get(lang, i18n.MsgNo, nil)
	}

	lastSweep := h.localizer.Get(lang, i18n.MsgNone, nil)
	if !report.Cleaner.LastRun.IsZero() {
		lastSweep = humanize.Time(report.Cleaner.LastRun)
	}

	return h.reply(message, h.localizer.Get(lang, i18n.MsgStatus, map[string]interface{}{
		"PluginEnabled":      onOff(report.PluginEnabled),
		"AvatarCacheEnabled": onOff(report.AvatarCacheEnabled),
		"CacheEntries":       report.Cache.Count,
		"CacheSize":          humanize.IBytes(uint64(report.Cache.TotalBytes)),
		"CacheExpireHours":   report.CacheExpireHours,
		"Cooldown":           time.Duration(report.CooldownSeconds * float64(time.Second)).String(),
		"Timeout":            time.Duration(report.GenerationTimeout * float64(time.Second)).String(),
		"IndexState":         report.IndexState,
		"TotalTemplates":     report.TotalTemplates,
		"TotalKeywords":      report.TotalKeywords,
		"DisabledTemplates":  report.DisabledTemplatesCount,
		"LastSweep":          lastSweep,
	}))
}

func (h *CommandHandler) handleRefresh(ctx context.Context, message *tgbotapi.Message, lang string) error {
	if err := h.index.Refresh(ctx); err != nil {
		h.logger.WithError(err).Error("Template refresh failed")
		return h.reply(message, h.localizer.Get(lang, i18n.MsgRefreshFailed, map[string]interface{}{
			"Error": markdown.Escape(err.Error()),
		}))
	}

	templatesCount, keywords := h.index.Counts()
	return h.reply(message, h.localizer.Get(lang, i18n.MsgRefreshDone, map[string]interface{}{
		"Templates": templatesCount,
		"Keywords":  keywords,
	}))
}

func (h *CommandHandler) handleCacheClear(message *tgbotapi.Message, lang string) error {
	if err := h.cache.ClearAll(); err != nil {
		h.logger.WithError(err).Error("Failed to clear avatar cache")
		return h.reply(message, h.localizer.Get(lang, i18n.MsgError, nil))
	}
	if h.profiles != nil {
		h.profiles.Clear()
	}
	return h.reply(message, h.localizer.Get(lang, i18n.MsgCacheCleared, nil))
}

func (h *CommandHandler) handleCacheSweep(message *tgbotapi.Message, lang string) error {
	result, err := h.cleaner.ForceCleanup()
	if err != nil {
		return h.reply(message, h.localizer.Get(lang, i18n.MsgError, nil))
	}
	return h.reply(message, h.localizer.Get(lang, i18n.MsgCacheSwept, map[string]interface{}{
		"Removed": result.Removed,
		"Size":    humanize.IBytes(uint64(result.Bytes)),
	}))
}

// handleCooldownReset resets the user given as argument or replied to, or everyone
func (h *CommandHandler) handleCooldownReset(message *tgbotapi.Message, lang string, args []string) error {
	var userID string
	switch {
	case len(args) > 0:
		userID = args[0]
	case message.ReplyToMessage != nil && message.ReplyToMessage.From != nil:
		userID = strconv.FormatInt(message.ReplyToMessage.From.ID, 10)
	}

	if userID == "" {
		h.cooldown.ResetAll()
		return h.reply(message, h.localizer.Get(lang, i18n.MsgCooldownResetAll, nil))
	}

	h.cooldown.Reset(userID)
	return h.reply(message, h.localizer.Get(lang, i18n.MsgCooldownReset, map[string]interface{}{
		"UserID": markdown.Escape(userID),
	}))
}

// reply sends markdown text rendered as Telegram HTML
func (h *CommandHandler) reply(message *tgbotapi.Message, text string) error {
	msg := tgbotapi.NewMessage(message.Chat.ID, markdown.ToTelegramHTML(text))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyToMessageID = message.MessageID

	_, err := h.bot.Send(msg)
	return err
}

func nameData(name string) map[string]interface{} {
	return map[string]interface{}{"Name": markdown.Escape(name)}
}

func templateLabel(tmpl models.Template) string {
	if len(tmpl.Keywords) == 0 {
		return tmpl.Key
	}
	return strings.Join(tmpl.Keywords, " / ")
}

// numberedBlock renders items as a fenced block with right-aligned indexes starting at first
func numberedBlock(items []string, first, total int) string {
	width := len(strconv.Itoa(total))
	var b strings.Builder
	b.WriteString("```\n")
	for i, item := range items {
		fmt.Fprintf(&b, "%*d. %s\n", width, first+i, item)
	}
	b.WriteString("```\n")
	return b.String()
}

func formatRange(lo, hi int) string {
	if hi > lo {
		return fmt.Sprintf("%d ~ %d", lo, hi)
	}
	return strconv.Itoa(lo)
}

func joinOr(items []string, sep, empty string) string {
	if len(items) == 0 {
		return empty
	}
	escaped := make([]string, len(items))
	for i, item := range items {
		escaped[i] = markdown.Escape(item)
	}
	return strings.Join(escaped, sep)
}

func pageCount(total, size int) int {
	return (total + size - 1) / size
}
