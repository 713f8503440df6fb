// Package logger provides a compact, colored slog.Handler for the server's console output.
package logger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Options configures a Handler.
type Options struct {
	// Level is the minimum level that is written. Defaults to slog.LevelInfo.
	Level slog.Leveler
	// TimeFormat formats record times. Defaults to time.DateTime.
	TimeFormat string
	// NoColor disables ANSI colors.
	NoColor bool
}

// Handler writes one line per record: time, level, message, then key=value attributes. Attributes whose
// key mentions "err" are highlighted.
type Handler struct {
	opts   Options
	attrs  []slog.Attr
	groups []string

	mu  *sync.Mutex
	out io.Writer
}

var (
	levelColors = map[slog.Level]*color.Color{
		slog.LevelDebug: color.New(color.BgCyan, color.FgHiWhite),
		slog.LevelInfo:  color.New(color.BgGreen, color.FgHiWhite),
		slog.LevelWarn:  color.New(color.BgYellow, color.FgHiWhite),
		slog.LevelError: color.New(color.BgRed, color.FgHiWhite),
	}
	timeColor = color.New(color.Faint)
	keyColor  = color.New(color.FgCyan)
	errColor  = color.New(color.FgRed)
)

func init() {
	// Colors are decided per handler through Options.NoColor, not by color's own terminal detection.
	for _, c := range []*color.Color{timeColor, keyColor, errColor} {
		c.EnableColor()
	}
	for _, c := range levelColors {
		c.EnableColor()
	}
}

// New creates a Handler writing to out.
func New(out io.Writer, opts Options) *Handler {
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}
	if opts.TimeFormat == "" {
		opts.TimeFormat = time.DateTime
	}
	return &Handler{opts: opts, mu: &sync.Mutex{}, out: out}
}

// ParseLevel maps a config string (debug, info, warn, error) to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return l, nil
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

// Handle implements slog.Handler.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer

	if !r.Time.IsZero() {
		buf.WriteString(h.paint(timeColor, r.Time.Format(h.opts.TimeFormat)))
		buf.WriteByte(' ')
	}
	buf.WriteString(h.paint(levelColor(r.Level), fmt.Sprintf("%-5s", r.Level.String())))
	buf.WriteString(" | ")
	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	write := func(a slog.Attr) bool {
		if a.Equal(slog.Attr{}) {
			return true
		}
		buf.WriteByte(' ')
		buf.WriteString(h.paint(attrColor(a.Key), prefix+a.Key+"="))
		buf.WriteString(a.Value.Resolve().String())
		return true
	}
	for _, a := range h.attrs {
		buf.WriteByte(' ')
		buf.WriteString(h.paint(attrColor(a.Key), a.Key+"="))
		buf.WriteString(a.Value.Resolve().String())
	}
	r.Attrs(write)
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf.Bytes())
	return err
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	h2 := *h
	h2.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		h2.attrs = append(h2.attrs, slog.Attr{Key: prefix + a.Key, Value: a.Value})
	}
	return &h2
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = append(append([]string(nil), h.groups...), name)
	return &h2
}

func (h *Handler) paint(c *color.Color, s string) string {
	if h.opts.NoColor {
		return s
	}
	return c.Sprint(s)
}

func attrColor(key string) *color.Color {
	if strings.Contains(key, "err") {
		return errColor
	}
	return keyColor
}

func levelColor(l slog.Level) *color.Color {
	switch {
	case l >= slog.LevelError:
		return levelColors[slog.LevelError]
	case l >= slog.LevelWarn:
		return levelColors[slog.LevelWarn]
	case l >= slog.LevelInfo:
		return levelColors[slog.LevelInfo]
	default:
		return levelColors[slog.LevelDebug]
	}
}
