package translation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"epubllm/internal/backend"
	"epubllm/internal/markup"

	"github.com/sirupsen/logrus"
)

// Settings tunes batching, concurrency, retries and caching.
type Settings struct {
	Window            Window
	MaxConcurrent     int
	RequestsPerSecond float64
	Retry             Policy
	Timeout           time.Duration
	CacheSize         int
	StripRules        []StripRule
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Window:        DefaultWindow(),
		MaxConcurrent: 4,
		Retry:         DefaultPolicy(),
		Timeout:       backend.DefaultTimeout,
		CacheSize:     DefaultCacheSize,
	}
}

// Service runs documents through extraction, batching, dispatch,
// reconciliation and rewriting. The gate is shared by every run.
type Service struct {
	backend    backend.Backend
	logger     *logrus.Logger
	settings   Settings
	gate       *Gate
	reconciler *Reconciler
}

func NewService(b backend.Backend, settings Settings, logger *logrus.Logger) (*Service, error) {
	if settings.Timeout <= 0 {
		settings.Timeout = backend.DefaultTimeout
	}
	if settings.Retry.MaxAttempts <= 0 {
		settings.Retry = DefaultPolicy()
	}
	settings.Window = settings.Window.normalized()

	reconciler, err := NewReconciler(settings.StripRules)
	if err != nil {
		return nil, fmt.Errorf("failed to build reconciler: %w", err)
	}

	return &Service{
		backend:    b,
		logger:     logger,
		settings:   settings,
		gate:       NewGate(settings.MaxConcurrent, settings.RequestsPerSecond),
		reconciler: reconciler,
	}, nil
}

// Gate exposes the shared concurrency gate.
func (s *Service) Gate() *Gate { return s.gate }

// DocumentResult summarizes one processed document.
type DocumentResult struct {
	Name       string `json:"name"`
	State      State  `json:"state"`
	Fragments  int    `json:"fragments"`
	Translated int    `json:"translated"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Batches    int    `json:"batches"`
	Error      string `json:"error,omitempty"`

	Output []byte `json:"-"`
	Err    error  `json:"-"`

	// Units holds the extracted fragments with their final text and skip reasons.
	Units []*markup.Fragment `json:"-"`
}

// Changed reports whether Output differs from the input document.
func (r *DocumentResult) Changed() bool {
	return r.Translated > 0 && (r.State == StateDone || r.State == StateCancelled)
}

// TranslateDocument runs one content document through the pipeline. It never
// returns without output: on any failure the original bytes are kept.
func (s *Service) TranslateDocument(ctx context.Context, run *Run, name string, content []byte) *DocumentResult {
	res := &DocumentResult{Name: name, State: StateExtracting, Output: content}
	log := s.logger.WithFields(logrus.Fields{"run": run.ID, "document": name})

	if run.passthrough() {
		res.State = StateDone
		run.advance(1)
		return res
	}

	doc, err := markup.Parse(name, string(content))
	if err != nil {
		return s.fail(res, log, err)
	}
	frags := markup.Extract(doc)
	res.Fragments = len(frags)
	res.Units = frags

	var pending []*markup.Fragment
	for _, f := range frags {
		if f.Translatable() {
			pending = append(pending, f)
		} else {
			res.Skipped++
		}
	}
	if len(pending) == 0 {
		log.Debug("No translatable fragments")
		res.State = StateDone
		run.advance(1)
		return res
	}

	res.State = StateGrouping
	batches := Group(pending, s.settings.Window)
	res.Batches = len(batches)

	progress := &docProgress{run: run}
	for _, f := range pending {
		progress.total += int64(f.Len())
	}

	res.State = StateDispatching
	run.status("Translating %s: %d fragments in %d batches", name, len(pending), len(batches))
	log.Debugf("Dispatching %d batches for %d fragments", len(batches), len(pending))
	s.dispatch(ctx, run, log, batches, progress)
	res.State = StateReconciling

	if ctx.Err() == nil && run.Halted() == nil {
		var unresolved []*Batch
		for _, f := range pending {
			if !f.IsTranslated() {
				unresolved = append(unresolved, &Batch{Index: len(unresolved), Fragments: []*markup.Fragment{f}})
			}
		}
		if len(unresolved) > 0 {
			res.State = StateRetryingUnresolved
			log.Infof("Retrying %d unresolved fragments individually", len(unresolved))
			s.dispatch(ctx, run, log.WithField("round", "retry"), unresolved, nil)
		}
	}
	cancelled := ctx.Err() != nil

	for _, f := range pending {
		if f.IsTranslated() {
			res.Translated++
		} else {
			res.Failed++
		}
	}

	res.State = StateRewriting
	if res.Translated > 0 {
		markup.Apply(doc, frags)
		doc.SetLanguage(run.TargetLang)
		out, err := doc.Render()
		if err != nil {
			return s.fail(res, log, err)
		}
		res.Output = []byte(out)
	}

	if cancelled {
		res.State = StateCancelled
		res.Err = ErrCancelled
		res.Error = ErrCancelled.Error()
		log.Warnf("Cancelled with %d of %d fragments translated", res.Translated, len(pending))
		return res
	}

	res.State = StateDone
	run.advance(1)
	if res.Failed > 0 {
		log.Warnf("%d of %d fragments kept their original text", res.Failed, len(pending))
	}
	return res
}

func (s *Service) fail(res *DocumentResult, log *logrus.Entry, err error) *DocumentResult {
	res.State = StateFailed
	res.Err = err
	res.Error = err.Error()
	log.Errorf("Document failed: %v", err)
	return res
}

// dispatch sends batches through the gate in order and waits for all of them.
// progress may be nil for rounds that should not count towards progress.
func (s *Service) dispatch(ctx context.Context, run *Run, log *logrus.Entry, batches []*Batch, progress *docProgress) {
	var wg sync.WaitGroup

	for _, b := range batches {
		if ctx.Err() != nil {
			b.MarkSkipped(markup.SkipCancelled)
			continue
		}
		if run.Halted() != nil {
			b.MarkSkipped(markup.SkipHalted)
			continue
		}

		release, err := s.gate.Acquire(ctx)
		if err != nil {
			b.MarkSkipped(markup.SkipCancelled)
			continue
		}
		if run.Halted() != nil {
			release()
			b.MarkSkipped(markup.SkipHalted)
			continue
		}

		wg.Add(1)
		go func(b *Batch) {
			defer wg.Done()
			defer release()
			s.translateBatch(ctx, run, log, b)
			if progress != nil {
				progress.add(b.Chars())
			}
		}(b)
	}

	wg.Wait()
}

func (s *Service) translateBatch(ctx context.Context, run *Run, log *logrus.Entry, b *Batch) {
	text := b.Text()
	expected := b.Expected()
	entry := log.WithFields(logrus.Fields{"batch": b.Index, "fragments": expected})

	if cached, ok := run.cache.Get(text, run.SourceLang, run.TargetLang); ok {
		entry.Debug("Cache hit")
		b.Assign(s.reconciler.Split(cached, expected))
		return
	}

	res := WithRetry(ctx, s.settings.Retry, func(ctx context.Context, attempt int) (backend.Response, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.settings.Timeout)
		defer cancel()

		run.calls.Add(1)
		resp, err := s.backend.Translate(callCtx, backend.Request{
			Text:       text,
			SourceLang: run.SourceLang,
			TargetLang: run.TargetLang,
			Segments:   expected,
		})
		if err == nil && strings.TrimSpace(resp.Text) == "" {
			err = fmt.Errorf("%w: empty completion", backend.ErrMalformed)
		}
		if err != nil {
			entry.WithField("attempt", attempt).Warnf("Backend call failed: %v", err)
		}
		return resp, err
	})

	if !res.OK() {
		switch {
		case errors.Is(res.Err, backend.ErrAuth):
			run.halt(res.Err)
			run.status("Authentication failed: %v", res.Err)
		case ctx.Err() != nil:
			b.MarkSkipped(markup.SkipCancelled)
			return
		}
		b.MarkSkipped(fmt.Sprintf("%s: %v", markup.SkipFailed, res.Err))
		entry.Errorf("Batch failed after %d attempt(s): %v", res.Attempts, res.Err)
		return
	}

	run.tokens.Add(int64(res.Value.TotalTokens))
	cleaned := s.reconciler.Clean(res.Value.Text)
	segments := s.reconciler.Split(cleaned, expected)
	b.Assign(segments)

	if len(segments) < expected {
		entry.Warnf("Response carried %d of %d segments", len(segments), expected)
		return
	}
	run.cache.Put(text, run.SourceLang, run.TargetLang, cleaned)
}
