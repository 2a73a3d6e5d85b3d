package progress

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Bar renders embedding progress for the CLI. A nil *Bar is a no-op.
type Bar struct {
	w    io.Writer
	desc string

	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

// DefaultEnabled reports whether stderr is a terminal.
func DefaultEnabled() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// New returns a bar writing to stderr, or nil when disabled.
func New(enabled bool, desc string) *Bar {
	if !enabled {
		return nil
	}
	return NewWithWriter(os.Stderr, desc)
}

// NewWithWriter returns a bar writing to w.
func NewWithWriter(w io.Writer, desc string) *Bar {
	return &Bar{w: w, desc: desc}
}

// Update moves the bar to done out of total. The bar is created on the first call.
func (b *Bar) Update(done, total int) {
	if b == nil || total <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar == nil {
		b.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(b.w),
			progressbar.OptionSetDescription(b.desc),
			progressbar.OptionSetWidth(32),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}
	_ = b.bar.Set(done)
}

// Finish completes and clears the bar.
func (b *Bar) Finish() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar != nil {
		_ = b.bar.Finish()
	}
}

// Spinner shows an indeterminate spinner until the returned func is called.
func Spinner(enabled bool, desc string) func() {
	if !enabled {
		return func() {}
	}
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSpinnerType(9),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWidth(10),
		progressbar.OptionClearOnFinish(),
	)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				_ = bar.Add(1)
			}
			select {
			case <-done:
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
			_ = bar.Finish()
		})
	}
}
