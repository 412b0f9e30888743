// Package commands implements the chat commands that manage a channel's
// platform, language and tracked notification types and items.
package commands

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync/atomic"
	"time"

	"wsnotifier/internal/storage"
	"wsnotifier/internal/transport/telegram/router"
	"wsnotifier/internal/worldstate"
	"wsnotifier/pkg/logx"
)

const commandTimeout = 10 * time.Second

// Store is the subscription side of storage.Store.
type Store interface {
	UpsertChannel(ctx context.Context, ch storage.Channel) error
	GetChannel(ctx context.Context, chatID int64, threadID int) (storage.Channel, bool, error)
	AddTypes(ctx context.Context, chatID int64, threadID int, types ...string) (int, error)
	RemoveTypes(ctx context.Context, chatID int64, threadID int, types ...string) (int, error)
	AddItems(ctx context.Context, chatID int64, threadID int, items ...string) (int, error)
	RemoveItems(ctx context.Context, chatID int64, threadID int, items ...string) (int, error)
	ListTracking(ctx context.Context, chatID int64, threadID int) (storage.Tracking, error)
}

type Locales interface {
	Resolve(code string) string
	Locales() []string
}

type Handlers struct {
	store   Store
	locales Locales
	catalog atomic.Pointer[Catalog]
	status  atomic.Pointer[StatusFunc]
	log     logx.Logger
}

func New(store Store, locales Locales, catalog *Catalog, log logx.Logger) *Handlers {
	if log.IsZero() {
		log = logx.Nop()
	}
	if catalog == nil {
		catalog = NewCatalog(nil)
	}
	h := &Handlers{store: store, locales: locales, log: log}
	h.catalog.Store(catalog)
	return h
}

// SetCatalog swaps the trackable keys, e.g. after the syndicate list changes.
func (h *Handlers) SetCatalog(c *Catalog) {
	if c != nil {
		h.catalog.Store(c)
	}
}

func (h *Handlers) Commands() []router.Command {
	return []router.Command{
		{Route: "start", Description: "show this chat's settings", Usage: "/start", Timeout: commandTimeout, Handle: h.start},
		{Route: "track", Description: "track notification types", Usage: "/track <type...|all>", Timeout: commandTimeout, Handle: h.track},
		{Route: "untrack", Description: "stop tracking notification types", Usage: "/untrack <type...|all>", Timeout: commandTimeout, Handle: h.untrack},
		{Route: "track item", Aliases: []string{"trackitem", "items"}, Description: "track reward items", Usage: "/track item <item...>", Timeout: commandTimeout, Handle: h.trackItems},
		{Route: "untrack item", Aliases: []string{"untrackitem"}, Description: "stop tracking reward items", Usage: "/untrack item <item...|all>", Timeout: commandTimeout, Handle: h.untrackItems},
		{Route: "tracking", Aliases: []string{"settings"}, Description: "list what this chat tracks", Usage: "/tracking", Timeout: commandTimeout, Handle: h.tracking},
		{Route: "types", Description: "list trackable types", Usage: "/types", Timeout: commandTimeout, Handle: h.types},
		{Route: "platform", Description: "show or set the platform", Usage: "/platform [pc|ps4|xb1|swi]", Timeout: commandTimeout, Handle: h.platform},
		{Route: "language", Aliases: []string{"lang"}, Description: "show or set the language", Usage: "/language [code]", Timeout: commandTimeout, Handle: h.language},
		{Route: "status", Description: "pipeline and runtime status", Usage: "/status", Access: router.AccessOwnerOnly, Timeout: commandTimeout, Handle: h.statusCmd},
	}
}

func (h *Handlers) channel(ctx context.Context, req *router.Request) (storage.Channel, error) {
	ch, _, err := h.store.GetChannel(ctx, req.Chat.ChatID, req.Chat.ThreadID)
	return ch, err
}

func (h *Handlers) start(ctx context.Context, req *router.Request) error {
	ch, found, err := h.store.GetChannel(ctx, req.Chat.ChatID, req.Chat.ThreadID)
	if err != nil {
		return err
	}
	if !found {
		if err := h.store.UpsertChannel(ctx, ch); err != nil {
			return err
		}
	}
	return req.Reply(ctx, fmt.Sprintf(
		"Notifications for <b>%s</b> in <code>%s</code>.\nUse /track to pick notification types and /help for everything else.",
		html.EscapeString(platformLabel(ch.Platform)), html.EscapeString(ch.Language)))
}

func (h *Handlers) track(ctx context.Context, req *router.Request) error {
	keys, unknown, err := h.typeArgs(req.Args)
	if err != nil {
		return err
	}
	n, err := h.store.AddTypes(ctx, req.Chat.ChatID, req.Chat.ThreadID, keys...)
	if err != nil {
		return err
	}
	req.Logger.Info("types tracked", logx.Strings("types", keys), logx.Int("added", n))
	msg := fmt.Sprintf("Tracking %d new type(s).", n)
	if len(unknown) > 0 {
		msg += "\nNot a known type, tracked verbatim: " + codeList(unknown)
	}
	return req.Reply(ctx, msg)
}

func (h *Handlers) untrack(ctx context.Context, req *router.Request) error {
	var keys []string
	if isAll(req.Args) {
		t, err := h.store.ListTracking(ctx, req.Chat.ChatID, req.Chat.ThreadID)
		if err != nil {
			return err
		}
		keys = t.Types
	} else {
		var err error
		if keys, _, err = h.typeArgs(req.Args); err != nil {
			return err
		}
	}
	n, err := h.store.RemoveTypes(ctx, req.Chat.ChatID, req.Chat.ThreadID, keys...)
	if err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("Stopped tracking %d type(s).", n))
}

// typeArgs validates type keys; "all" expands to every known key.
func (h *Handlers) typeArgs(args []string) (keys, unknown []string, err error) {
	cat := h.catalog.Load()
	if len(args) == 0 {
		return nil, nil, router.Usagef("Give at least one type, or \"all\". See /types.")
	}
	if isAll(args) {
		return cat.All(), nil, nil
	}
	var bad []string
	for _, a := range args {
		for _, part := range strings.Split(a, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			norm, ok, known := cat.Normalize(part)
			switch {
			case !ok:
				bad = append(bad, part)
			case !known:
				unknown = append(unknown, norm)
				keys = append(keys, norm)
			default:
				keys = append(keys, norm)
			}
		}
	}
	if len(bad) > 0 {
		return nil, nil, router.Usagef("Invalid type: %s. Types look like fissures.t1.capture.", strings.Join(bad, ", "))
	}
	if len(keys) == 0 {
		return nil, nil, router.Usagef("Give at least one type, or \"all\". See /types.")
	}
	return keys, unknown, nil
}

func (h *Handlers) trackItems(ctx context.Context, req *router.Request) error {
	items := itemArgs(req.RawArgs)
	if len(items) == 0 {
		return router.Usagef("Give at least one item, e.g. /track item nitain, orokin catalyst")
	}
	n, err := h.store.AddItems(ctx, req.Chat.ChatID, req.Chat.ThreadID, items...)
	if err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("Tracking %d new item(s).", n))
}

func (h *Handlers) untrackItems(ctx context.Context, req *router.Request) error {
	items := itemArgs(req.RawArgs)
	if isAll(items) {
		t, err := h.store.ListTracking(ctx, req.Chat.ChatID, req.Chat.ThreadID)
		if err != nil {
			return err
		}
		items = t.Items
	}
	if len(items) == 0 {
		return router.Usagef("Give at least one item, or \"all\".")
	}
	n, err := h.store.RemoveItems(ctx, req.Chat.ChatID, req.Chat.ThreadID, items...)
	if err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("Stopped tracking %d item(s).", n))
}

func (h *Handlers) tracking(ctx context.Context, req *router.Request) error {
	ch, err := h.channel(ctx, req)
	if err != nil {
		return err
	}
	t, err := h.store.ListTracking(ctx, req.Chat.ChatID, req.Chat.ThreadID)
	if err != nil {
		return err
	}
	lines := []string{
		"<b>Platform:</b> " + html.EscapeString(platformLabel(ch.Platform)),
		"<b>Language:</b> <code>" + html.EscapeString(ch.Language) + "</code>",
		"<b>Types:</b> " + orNone(codeList(t.Types)),
		"<b>Items:</b> " + orNone(codeList(t.Items)),
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (h *Handlers) types(ctx context.Context, req *router.Request) error {
	lines := []string{
		"<b>Trackable types</b>",
		codeList(h.catalog.Load().All()),
		"",
		"Patterns: <code>fissures.t&lt;tier&gt;.&lt;mission&gt;</code>, <code>arbitration.&lt;enemy&gt;.&lt;mission&gt;</code>, <code>cetus.day.&lt;minutes&gt;</code> and the same for earth and solaris.",
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (h *Handlers) platform(ctx context.Context, req *router.Request) error {
	ch, err := h.channel(ctx, req)
	if err != nil {
		return err
	}
	if len(req.Args) == 0 {
		return req.Reply(ctx, "Platform: <b>"+html.EscapeString(platformLabel(ch.Platform))+"</b>\nChoose one of: "+codeList(platformNames()))
	}
	p, err := worldstate.ParsePlatform(req.Args[0])
	if err != nil {
		return router.Usagef("Unknown platform %q. Choose one of: %s", req.Args[0], strings.Join(platformNames(), ", "))
	}
	ch.Platform = string(p)
	if err := h.store.UpsertChannel(ctx, ch); err != nil {
		return err
	}
	return req.Reply(ctx, "Platform set to <b>"+html.EscapeString(p.Label())+"</b>.")
}

func (h *Handlers) language(ctx context.Context, req *router.Request) error {
	ch, err := h.channel(ctx, req)
	if err != nil {
		return err
	}
	if len(req.Args) == 0 {
		return req.Reply(ctx, "Language: <code>"+html.EscapeString(ch.Language)+"</code>\nAvailable: "+codeList(h.locales.Locales()))
	}
	ch.Language = h.locales.Resolve(req.Args[0])
	if err := h.store.UpsertChannel(ctx, ch); err != nil {
		return err
	}
	msg := "Language set to <code>" + html.EscapeString(ch.Language) + "</code>."
	if !strings.EqualFold(ch.Language, req.Args[0]) {
		msg += " (closest match for " + html.EscapeString(req.Args[0]) + ")"
	}
	return req.Reply(ctx, msg)
}

// itemArgs joins raw args and splits on commas so multi-word items work
// without quotes: /track item orokin catalyst, forma
func itemArgs(raw []string) []string {
	var out []string
	for _, part := range strings.Split(strings.Join(raw, " "), ",") {
		if part = strings.ToLower(strings.Join(strings.Fields(part), " ")); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isAll(args []string) bool {
	return len(args) == 1 && strings.EqualFold(args[0], "all")
}

func platformLabel(p string) string {
	if pl, err := worldstate.ParsePlatform(p); err == nil {
		return pl.Label()
	}
	return p
}

func platformNames() []string {
	var out []string
	for _, p := range worldstate.All() {
		out = append(out, string(p))
	}
	return out
}

func codeList(ss []string) string {
	parts := make([]string, 0, len(ss))
	for _, s := range ss {
		parts = append(parts, "<code>"+html.EscapeString(s)+"</code>")
	}
	return strings.Join(parts, ", ")
}

func orNone(s string) string {
	if s == "" {
		return "<i>none</i>"
	}
	return s
}
