package commands

import (
	"context"
	"fmt"
	"html"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"wsnotifier/internal/transport/telegram/router"
)

// PlatformStatus is the outcome of the last cycle for one platform.
type PlatformStatus struct {
	Platform    string
	CycleID     string
	WindowStart time.Time
	Skipped     bool
	Dispatched  int
	Failed      int
	Err         string
	Duration    time.Duration
}

type Status struct {
	StartedAt  time.Time
	Broadcast  bool
	BusDropped uint64
	Platforms  []PlatformStatus
}

type StatusFunc func() Status

// SetStatus installs the snapshot source behind /status.
func (h *Handlers) SetStatus(fn StatusFunc) {
	if fn != nil {
		h.status.Store(&fn)
	}
}

func (h *Handlers) statusCmd(ctx context.Context, req *router.Request) error {
	var st Status
	if fn := h.status.Load(); fn != nil {
		st = (*fn)()
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	state := "running"
	for _, p := range st.Platforms {
		if p.Err != "" || p.Failed > 0 {
			state = "degraded"
			break
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>Status:</b> %s\n", state)
	if !st.StartedAt.IsZero() {
		fmt.Fprintf(&b, "<b>Uptime:</b> %s\n", fmtUptime(time.Since(st.StartedAt)))
	}
	fmt.Fprintf(&b, "<b>Broadcast:</b> %s\n", onOff(st.Broadcast))
	if st.BusDropped > 0 {
		fmt.Fprintf(&b, "<b>Dropped events:</b> %d\n", st.BusDropped)
	}

	b.WriteString("\n<b>Last cycles</b>\n")
	if len(st.Platforms) == 0 {
		b.WriteString("<i>none yet</i>\n")
	}
	sort.Slice(st.Platforms, func(i, j int) bool { return st.Platforms[i].Platform < st.Platforms[j].Platform })
	for _, p := range st.Platforms {
		fmt.Fprintf(&b, "• <code>%s</code> ", html.EscapeString(p.Platform))
		switch {
		case p.Err != "":
			fmt.Fprintf(&b, "error: %s", html.EscapeString(p.Err))
		case p.Skipped:
			b.WriteString("skipped")
		default:
			fmt.Fprintf(&b, "%d sent, %d failed in %s", p.Dispatched, p.Failed, p.Duration.Round(time.Millisecond))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n<b>Runtime</b>\n")
	fmt.Fprintf(&b, "• Go %s, %d goroutines\n", runtime.Version(), runtime.NumGoroutine())
	fmt.Fprintf(&b, "• Heap %s, sys %s, %d GC runs", humanize.IBytes(m.HeapInuse), humanize.IBytes(m.Sys), m.NumGC)
	return req.Reply(ctx, b.String())
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func fmtUptime(d time.Duration) string {
	d = d.Round(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	if days > 0 {
		return fmt.Sprintf("%dd %s", days, d)
	}
	return d.String()
}
