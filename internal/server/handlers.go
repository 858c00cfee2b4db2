package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"epubllm/internal/backend"
	"epubllm/internal/epub"
	"epubllm/internal/storage"
	"epubllm/internal/translation"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const maxUploadSize = 50 << 20

func (s *Server) handleCreateJob(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	if !strings.EqualFold(filepath.Ext(file.Filename), ".epub") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File must be an EPUB"})
		return
	}
	if file.Size > maxUploadSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File too large (max 50MB)"})
		return
	}

	opts := translation.Options{
		SourceLang: c.DefaultPostForm("source", s.config.Translation.SourceLanguage),
		TargetLang: c.DefaultPostForm("target", s.config.Translation.TargetLanguage),
	}
	if v := c.PostForm("format_only"); v != "" {
		opts.FormatOnly, _ = strconv.ParseBool(v)
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read upload"})
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read upload"})
		return
	}

	book, err := s.epubParser.Open(data)
	if err == nil {
		err = s.epubParser.Validate(book)
	}
	if err != nil {
		s.logger.Warnf("Rejected upload %s: %v", file.Filename, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid EPUB file: %v", err)})
		return
	}

	job := &Job{
		Filename:   file.Filename,
		Title:      book.Package.Metadata.Title,
		SourceLang: opts.SourceLang,
		TargetLang: opts.TargetLang,
		FormatOnly: opts.FormatOnly,
		State:      JobQueued,
		Chapters:   book.Chapters(),
		CreatedAt:  time.Now(),
	}

	reporter := &jobReporter{jobs: s.jobs, hub: s.wsHub}
	run, err := s.translationSvc.NewRun(opts, reporter)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job.ID = run.ID
	reporter.id = run.ID

	if err := s.store.Put(c.Request.Context(), inputKey(job.ID), bytes.NewReader(data)); err != nil {
		s.logger.Errorf("Failed to store upload for job %s: %v", job.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store file"})
		return
	}

	s.startJob(job, run, book)

	s.logger.Infof("Accepted job %s: %s (%s -> %s, %d documents)",
		job.ID, file.Filename, opts.SourceLang, opts.TargetLang, len(book.Documents()))

	c.JSON(http.StatusAccepted, gin.H{
		"id":           job.ID,
		"state":        JobQueued,
		"status_url":   fmt.Sprintf("/api/jobs/%s", job.ID),
		"download_url": fmt.Sprintf("/api/jobs/%s/download", job.ID),
	})
}

// startJob registers job and translates book in the background. The job
// context derives from the server so Close reaches every job.
func (s *Server) startJob(job *Job, run *translation.Run, book *epub.Book) {
	ctx, cancel := context.WithCancel(s.ctx)
	job.cancel = cancel
	s.jobs.Add(job)

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer cancel()
		s.runJob(ctx, job.ID, run, book)
	}()
}

func (s *Server) runJob(ctx context.Context, id string, run *translation.Run, book *epub.Book) {
	logger := s.logger.WithFields(logrus.Fields{"job": id})
	s.jobs.Update(id, func(j *Job) { j.State = JobRunning })

	report, runErr := s.translationSvc.TranslateBook(ctx, run, book)

	// cancelled and halted runs still publish what was translated
	hasOutput := false
	if out, err := s.epubBuilder.Bytes(book); err != nil {
		logger.Errorf("Failed to build output: %v", err)
		if runErr == nil {
			runErr = err
		}
	} else if err := s.store.Put(context.WithoutCancel(ctx), outputKey(id), bytes.NewReader(out)); err != nil {
		logger.Errorf("Failed to store output: %v", err)
		if runErr == nil {
			runErr = err
		}
	} else {
		hasOutput = true
	}

	if report != nil {
		if data, err := json.MarshalIndent(report, "", "  "); err == nil {
			if err := s.store.Put(context.WithoutCancel(ctx), reportKey(id), bytes.NewReader(data)); err != nil {
				logger.Warnf("Failed to store report: %v", err)
			}
		}
	}

	now := time.Now()
	job, _ := s.jobs.Update(id, func(j *Job) {
		j.Report = report
		j.HasOutput = hasOutput
		j.FinishedAt = &now
		switch {
		case runErr == nil:
			j.State = JobDone
			j.Progress = 100
		case errors.Is(runErr, translation.ErrCancelled):
			j.State = JobCancelled
		default:
			j.State = JobFailed
		}
		if runErr != nil {
			j.Error = runErr.Error()
		}
	})

	msg := progressMessage(job)
	if job.State == JobDone {
		logger.Infof("Job finished: %d/%d fragments translated", report.Translated, report.Fragments)
		s.wsHub.publishJob(MessageTypeJobComplete, msg)
	} else {
		logger.Warnf("Job ended %s: %v", job.State, runErr)
		msg.Status = job.Error
		s.wsHub.publishJob(MessageTypeJobError, msg)
	}
}

func (s *Server) handleListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.jobs.List()})
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, ok := s.jobs.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleCancelJob(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.jobs.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	job, ok := s.jobs.Cancel(id)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "Job already finished"})
		return
	}
	s.logger.Infof("Cancellation requested for job %s", id)
	c.JSON(http.StatusAccepted, gin.H{"id": job.ID, "state": job.State, "message": job.Status})
}

func (s *Server) handleDownload(c *gin.Context) {
	job, ok := s.jobs.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	if !job.HasOutput {
		c.JSON(http.StatusConflict, gin.H{"error": "Translation not finished", "state": job.State})
		return
	}

	rc, err := s.store.Get(c.Request.Context(), outputKey(job.ID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Output not found"})
			return
		}
		s.logger.Errorf("Failed to read output for job %s: %v", job.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read output"})
		return
	}
	defer rc.Close()

	name := strings.TrimSpace(job.Title)
	if name == "" {
		name = strings.TrimSuffix(job.Filename, filepath.Ext(job.Filename))
	}
	filename := fmt.Sprintf("%s_%s.epub", sanitizeFilename(name), job.TargetLang)

	c.DataFromReader(http.StatusOK, -1, "application/epub+zip", rc, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", filename),
	})
}

func (s *Server) handleLanguages(c *gin.Context) {
	langs := make([]gin.H, 0, len(translation.SupportedLanguages))
	for _, code := range translation.SupportedLanguages {
		langs = append(langs, gin.H{"code": code, "name": backend.LanguageName(code)})
	}
	c.JSON(http.StatusOK, gin.H{"languages": langs})
}

func sanitizeFilename(filename string) string {
	var b strings.Builder
	for _, r := range filename {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "translated_book"
	}
	return b.String()
}
