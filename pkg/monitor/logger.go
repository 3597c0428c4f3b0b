package monitor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// level is shared by every handler installed through SetupSlog so the
// threshold can change at runtime.
var level = new(slog.LevelVar)

// CustomHandler implements slog.Handler with a
// "[TIME] [LEVEL] message key=value" line format.
type CustomHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	opts   slog.HandlerOptions
	attrs  []slog.Attr
	prefix string
}

func NewCustomHandler(w io.Writer, opts slog.HandlerOptions) *CustomHandler {
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}
	return &CustomHandler{
		mu:   &sync.Mutex{},
		w:    w,
		opts: opts,
	}
}

func (h *CustomHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.opts.Level.Level()
}

func (h *CustomHandler) Handle(ctx context.Context, r slog.Record) error {
	buf := bytes.NewBuffer(nil)

	// Format: [2006-01-02 15:04:05] [LEVEL] Message key="value" ...
	fmt.Fprintf(buf, "[%s] [%s] %s",
		r.Time.Format("2006-01-02 15:04:05"),
		r.Level,
		r.Message,
	)

	for _, a := range h.attrs {
		h.appendAttr(buf, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(buf, h.prefix, a)
		return true
	})

	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *CustomHandler) appendAttr(buf *bytes.Buffer, prefix string, a slog.Attr) {
	val := a.Value.Resolve()
	if val.Kind() == slog.KindGroup {
		for _, ga := range val.Group() {
			h.appendAttr(buf, prefix+a.Key+".", ga)
		}
		return
	}
	if a.Key == "" {
		return
	}

	buf.WriteString(" ")
	buf.WriteString(prefix)
	buf.WriteString(a.Key)
	buf.WriteString("=")

	switch val.Kind() {
	case slog.KindString:
		fmt.Fprintf(buf, "%q", val.String())
	case slog.KindTime:
		buf.WriteString(val.Time().Format(time.RFC3339))
	default:
		fmt.Fprintf(buf, "%v", val.Any())
	}
}

func (h *CustomHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefixed := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	prefixed = append(prefixed, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		prefixed = append(prefixed, a)
	}
	return &CustomHandler{
		mu:     h.mu,
		w:      h.w,
		opts:   h.opts,
		attrs:  prefixed,
		prefix: h.prefix,
	}
}

// WithGroup qualifies later attribute keys as "group.key".
func (h *CustomHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &CustomHandler{
		mu:     h.mu,
		w:      h.w,
		opts:   h.opts,
		attrs:  h.attrs,
		prefix: h.prefix + name + ".",
	}
}

// ParseLevel maps a config string to a slog level. Unknown values mean info.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupSlog installs the CustomHandler on stderr as the default logger.
func SetupSlog(levelStr string) {
	level.Set(ParseLevel(levelStr))
	handler := NewCustomHandler(os.Stderr, slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

// SetLevel changes the threshold of the logger installed by SetupSlog.
func SetLevel(levelStr string) {
	l := ParseLevel(levelStr)
	if level.Level() != l {
		level.Set(l)
		slog.Info("Log level changed", "level", l)
	}
}

// PrintBanner prints the startup banner
func PrintBanner(version string) {
	banner := `
  __  __           _ _  ____      _
 |  \/  | ___ _ __(_) |/ ___|__ _| |_
 | |\/| |/ _ \ '__| | | |   / _' | __|
 | |  | |  __/ |  | | | |__| (_| | |_
 |_|  |_|\___|_|  |_|_|\____\__,_|\__|
`
	fmt.Println(banner)
	fmt.Printf("  version %s\n\n", version)
}
