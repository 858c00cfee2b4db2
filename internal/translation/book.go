package translation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"epubllm/internal/epub"

	"github.com/sirupsen/logrus"
)

// ErrMissingDocument marks a spine entry with no matching archive member.
var ErrMissingDocument = errors.New("document missing from archive")

// BookReport aggregates the per-document results of a run.
type BookReport struct {
	RunID      string            `json:"run_id"`
	SourceLang string            `json:"source_lang"`
	TargetLang string            `json:"target_lang"`
	Documents  []*DocumentResult `json:"documents"`
	Fragments  int               `json:"fragments"`
	Translated int               `json:"translated"`
	Skipped    int               `json:"skipped"`
	Failed     int               `json:"failed"`
	Tokens     int64             `json:"tokens"`
	Calls      int64             `json:"calls"`
	Duration   time.Duration     `json:"duration"`
}

func (r *BookReport) add(res *DocumentResult) {
	r.Documents = append(r.Documents, res)
	r.Fragments += res.Fragments
	r.Translated += res.Translated
	r.Skipped += res.Skipped
	r.Failed += res.Failed
}

// TranslateBook translates every content document of book in place. A
// document that fails structurally keeps its original bytes; the run stops
// early on cancellation or an authentication failure, and that error is
// returned alongside the partial report.
func (s *Service) TranslateBook(ctx context.Context, run *Run, book *epub.Book) (*BookReport, error) {
	start := time.Now()
	docs := book.Documents()
	report := &BookReport{RunID: run.ID, SourceLang: run.SourceLang, TargetLang: run.TargetLang}

	s.logger.Infof("Translating %d documents from %s to %s", len(docs), run.SourceLang, run.TargetLang)
	run.status("Translating %d documents", len(docs))

	var runErr error
	for i, name := range docs {
		if ctx.Err() != nil {
			runErr = ErrCancelled
			break
		}
		if err := run.Halted(); err != nil {
			runErr = err
			break
		}

		run.setDocument(i, len(docs))
		content, ok := book.Read(name)
		if !ok {
			err := fmt.Errorf("%w: %s", ErrMissingDocument, name)
			s.logger.WithFields(logrus.Fields{"run": run.ID, "document": name}).Warnf("Skipping document: %v", err)
			report.add(&DocumentResult{Name: name, State: StateFailed, Err: err, Error: err.Error()})
			run.advance(1)
			continue
		}
		res := s.TranslateDocument(ctx, run, name, content)
		report.add(res)

		if res.Changed() {
			book.Set(name, res.Output)
		}
		if res.State == StateCancelled {
			runErr = ErrCancelled
			break
		}
	}
	if runErr == nil {
		runErr = run.Halted()
	}

	if report.Translated > 0 && !run.passthrough() {
		if err := book.SetLanguage(run.TargetLang); err != nil {
			s.logger.Warnf("Failed to update package language: %v", err)
		}
	}

	report.Tokens = run.Tokens()
	report.Calls = run.Calls()
	report.Duration = time.Since(start)

	switch {
	case runErr != nil:
		run.status("Stopped: %v", runErr)
		return report, fmt.Errorf("translation stopped after %d of %d documents: %w", len(report.Documents), len(docs), runErr)
	default:
		run.advance(1)
		run.status("Done: %d of %d fragments translated, %d failed, %d skipped",
			report.Translated, report.Fragments, report.Failed, report.Skipped)
		return report, nil
	}
}
