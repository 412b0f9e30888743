// Package router turns Telegram command messages into handler calls. It
// resolves routes and aliases, checks access, and runs handlers on a
// bounded worker pool under a supervisor.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "wsnotifier/internal/runtime/supervisor"
	"wsnotifier/internal/transport"
	"wsnotifier/pkg/logx"
)

const (
	defaultJobQueue = 256
	menuTimeout     = 5 * time.Second
	parseModeHTML   = "HTML"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	// Route is a space-separated path, e.g. "track" or "track item".
	Route       string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

// Sender is the part of the chat adapter the router replies through.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

type Request struct {
	Update  transport.Update
	Chat    transport.ChatTarget
	FromID  int64
	IsGroup bool
	Path    []string
	Command string

	Args      []string
	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string
	Owner     bool

	Sender Sender
	Logger logx.Logger
}

// Reply sends an HTML message back to the request's chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Sender.SendText(ctx, r.Chat, text, &transport.SendOptions{ParseMode: parseModeHTML, DisablePreview: true})
	return err
}

type Router struct {
	mu     sync.RWMutex
	root   *cmdNode
	alias  map[string]*cmdNode
	menu   []transport.BotCommand
	owners []int64

	log    logx.Logger
	sender Sender

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	workers int
	jobs    chan func()
}

type Option func(*Router)

func WithWorkers(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithJobQueue(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.jobs = make(chan func(), n)
		}
	}
}

func New(log logx.Logger, sender Sender, owners []int64, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		root:    newRoot(),
		alias:   map[string]*cmdNode{},
		owners:  append([]int64(nil), owners...),
		log:     log,
		sender:  sender,
		workers: max(2, runtime.NumCPU()),
		jobs:    make(chan func(), defaultJobQueue),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Supervisor returns the worker pool supervisor while DispatchLoop runs.
func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return nil
	}
	return r.sup
}

func (r *Router) setSupervisor(sup *rtsup.Supervisor, running bool) {
	r.runMu.Lock()
	r.sup = sup
	r.running = running
	r.runMu.Unlock()
}

// SetOwners replaces the ids allowed to run owner-only commands.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.owners {
		if o == id {
			return true
		}
	}
	return false
}

// SetRegistry installs cmds plus a generated /help and rebuilds the menu.
func (r *Router) SetRegistry(cmds []Command) {
	cmds = append(cmds, Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "show help",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText(req.Args))
		},
	})

	root := newRoot()
	alias := map[string]*cmdNode{}
	added := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		root.add(route, c)
		added = append(added, c)
		leaf := root.find(route)

		// Multi-token routes get a single-token alias for the menu
		// ("track item" -> "track_item"). The canonical first token is
		// never aliased or it would hide its subcommands.
		if menu, ok := telegramCommandNameFromRoute(route); ok && (len(route) > 1 || menu != route[0]) {
			if _, exists := alias[menu]; !exists {
				alias[menu] = leaf
			}
		}
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = leaf
			if sa := sanitizeTelegramCommand(a); sa != "" {
				if _, exists := alias[sa]; !exists {
					alias[sa] = leaf
				}
			}
		}
	}
	menu := buildTelegramMenuCommands(root, added)

	r.mu.Lock()
	r.root = root
	r.alias = alias
	r.menu = menu
	r.mu.Unlock()
}

// PublishMenu pushes the command menu when the sender supports it.
func (r *Router) PublishMenu(ctx context.Context) error {
	up, ok := r.sender.(transport.CommandMenuUpdater)
	if !ok {
		return nil
	}
	r.mu.RLock()
	menu := append([]transport.BotCommand(nil), r.menu...)
	r.mu.RUnlock()
	ctx, cancel := context.WithTimeout(ctx, menuTimeout)
	defer cancel()
	return up.UpdateMenuCommands(ctx, menu)
}

func (r *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx ends or updates closes.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	r.setSupervisor(sup, true)
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers), logx.Int("job_queue_cap", cap(r.jobs)))

	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					r.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		r.setSupervisor(sup, false)
		close(r.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.setSupervisor(nil, false)
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == transport.UpdateMessage {
				r.route(ctx, up)
			}
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

// resolve maps a command line to its command, matched path and remaining
// args. ok is false for unknown commands; a group without a handler
// returns a nil command and its path.
func (r *Router) resolve(text string) (cmd *Command, path, args []string, ok bool) {
	parts := tokenize(text)
	if len(parts) == 0 || !strings.HasPrefix(parts[0], "/") {
		return nil, nil, nil, false
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	args = parts[1:]

	r.mu.RLock()
	root, alias := r.root, r.alias
	r.mu.RUnlock()

	if leaf, hit := alias[word]; hit && leaf != nil && leaf.cmd != nil {
		return leaf.cmd, splitRoute(leaf.cmd.Route), args, true
	}
	cur, hit := root.child(word)
	if !hit {
		return nil, nil, args, false
	}
	path = []string{word}
	for len(args) > 0 {
		next, hit := cur.child(strings.ToLower(args[0]))
		if !hit {
			break
		}
		cur = next
		path = append(path, next.name)
		args = args[1:]
	}
	return cur.cmd, path, args, true
}

func (r *Router) route(ctx context.Context, up transport.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	chat := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	opts := &transport.SendOptions{ParseMode: parseModeHTML, DisablePreview: true}

	cmd, path, args, ok := r.resolve(text)
	if !ok {
		// Group chats see every bot's commands; stay quiet there.
		if !msg.IsGroup {
			_, _ = r.sender.SendText(ctx, chat, "unknown command, try /help", nil)
		}
		return
	}
	if cmd == nil {
		_, _ = r.sender.SendText(ctx, chat, r.helpText(path), opts)
		return
	}

	owner := r.isOwner(msg.FromID)
	if cmd.Access == AccessOwnerOnly && !owner {
		_, _ = r.sender.SendText(ctx, chat, "unauthorized", nil)
		return
	}

	rid := uuid.NewString()[:8]
	pos, flags, bools := parseFlags(args)
	req := &Request{
		Update:    up,
		Chat:      chat,
		FromID:    msg.FromID,
		IsGroup:   msg.IsGroup,
		Path:      path,
		Command:   cmd.Route,
		Args:      pos,
		RawArgs:   args,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		Owner:     owner,
		Sender:    r.sender,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int("thread_id", msg.ThreadID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
	}

	final := Chain(cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWReplyError(),
		MWTimeout(cmd.Timeout),
	)
	if !r.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = r.sender.SendText(ctx, chat, "busy, try again", nil)
	}
}
