package translation

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrCancelled is returned when a run stops on external cancellation.
var ErrCancelled = errors.New("translation cancelled")

// SupportedLanguages is the closed set of language codes accepted for a run.
var SupportedLanguages = []string{"en", "zh", "ja", "ko", "fr", "es", "de", "ru", "pt"}

// State is a pipeline stage for one document.
type State string

const (
	StateExtracting         State = "extracting"
	StateGrouping           State = "grouping"
	StateDispatching        State = "dispatching"
	StateReconciling        State = "reconciling"
	StateRetryingUnresolved State = "retrying_unresolved"
	StateRewriting          State = "rewriting"
	StateDone               State = "done"
	StateCancelled          State = "cancelled"
	StateFailed             State = "failed"
)

// Options selects the language pair for a run.
type Options struct {
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	// FormatOnly passes documents through untouched when the languages match.
	FormatOnly bool `json:"format_only"`
}

// Validate checks the language pair against the supported set.
func (o Options) Validate() error {
	if !isSupported(o.SourceLang) {
		return fmt.Errorf("unsupported source language %q (supported: %s)", o.SourceLang, strings.Join(SupportedLanguages, ", "))
	}
	if !isSupported(o.TargetLang) {
		return fmt.Errorf("unsupported target language %q (supported: %s)", o.TargetLang, strings.Join(SupportedLanguages, ", "))
	}
	if o.SourceLang == o.TargetLang && !o.FormatOnly {
		return fmt.Errorf("source and target language are both %q", o.SourceLang)
	}
	return nil
}

func (o Options) passthrough() bool {
	return o.FormatOnly && o.SourceLang == o.TargetLang
}

func isSupported(code string) bool {
	for _, lang := range SupportedLanguages {
		if lang == code {
			return true
		}
	}
	return false
}

// Reporter receives status lines and overall progress in percent.
type Reporter interface {
	Status(message string)
	Progress(percent float64)
}

type nopReporter struct{}

func (nopReporter) Status(string)    {}
func (nopReporter) Progress(float64) {}

// LogReporter forwards status and progress to a logger.
type LogReporter struct {
	Logger *logrus.Logger
}

func (r LogReporter) Status(message string) { r.Logger.Info(message) }

func (r LogReporter) Progress(percent float64) {
	r.Logger.Debugf("Progress: %.1f%%", percent)
}

// Run carries the state of one translation run across its documents. It is
// created per run so nothing leaks between runs.
type Run struct {
	ID string
	Options

	reporter Reporter
	cache    *Cache

	tokens atomic.Int64
	calls  atomic.Int64

	mu       sync.Mutex
	haltErr  error
	docIndex int
	docTotal int
	percent  float64
}

// NewRun validates opts and prepares a fresh run.
func (s *Service) NewRun(opts Options, reporter Reporter) (*Run, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &Run{
		ID:       uuid.New().String(),
		Options:  opts,
		reporter: reporter,
		cache:    NewCache(s.settings.CacheSize),
		docTotal: 1,
	}, nil
}

// Tokens is the total usage reported by the backend so far.
func (r *Run) Tokens() int64 { return r.tokens.Load() }

// Calls is the number of backend requests issued so far.
func (r *Run) Calls() int64 { return r.calls.Load() }

// Halted returns the error that stopped further dispatch, if any.
func (r *Run) Halted() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.haltErr
}

func (r *Run) halt(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.haltErr == nil {
		r.haltErr = err
	}
}

func (r *Run) setDocument(index, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docIndex, r.docTotal = index, max(total, 1)
}

func (r *Run) status(format string, args ...interface{}) {
	r.reporter.Status(fmt.Sprintf(format, args...))
}

// advance reports progress for the current document as a fraction in [0,1].
// Reported values never decrease.
func (r *Run) advance(fraction float64) {
	r.mu.Lock()
	pct := (float64(r.docIndex) + min(fraction, 1)) / float64(r.docTotal) * 100
	if pct <= r.percent {
		r.mu.Unlock()
		return
	}
	r.percent = pct
	r.mu.Unlock()
	r.reporter.Progress(pct)
}

// docProgress counts characters reconciled within one document.
type docProgress struct {
	run   *Run
	total int64
	done  atomic.Int64
}

func (p *docProgress) add(chars int) {
	done := p.done.Add(int64(chars))
	if p.total > 0 {
		p.run.advance(float64(done) / float64(p.total))
	}
}
