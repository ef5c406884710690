// Package pipeline defines the contracts the production stages must satisfy:
// script synthesis, media assembly and upload. The scheduling core drives
// these interfaces; the real implementations (AI provider, encoder, platform
// uploader) live outside the core.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ScriptRequest is the input to script synthesis.
type ScriptRequest struct {
	Topic          string
	Style          string
	TargetDuration time.Duration
}

// Script is the synthesized script plus publish metadata.
type Script struct {
	Text        string
	Title       string
	Description string
	Tags        []string
}

// ScriptSynthesizer produces a script for a topic. Network and rate-limit
// failures should be returned as Transient; validation failures as Permanent.
type ScriptSynthesizer interface {
	Synthesize(ctx context.Context, req ScriptRequest) (*Script, error)
}

// AssembleRequest is the input to media assembly.
type AssembleRequest struct {
	ScriptText string
	AssetsDir  string
	OutputDir  string
}

// Media is the assembled output. Assembly is idempotent for identical
// inputs; implementations may cache.
type Media struct {
	Path            string
	ThumbnailPath   string
	DurationSeconds float64
}

// MediaAssembler renders the script into a media file.
type MediaAssembler interface {
	Assemble(ctx context.Context, req AssembleRequest) (*Media, error)
}

// UploadRequest is the input to the upload stage.
type UploadRequest struct {
	Account       string
	MediaPath     string
	ThumbnailPath string
	Title         string
	Description   string
	Tags          []string
	Category      string
	Privacy       string
	PublishAt     *time.Time
}

// Upload is the remote handle of a published artifact.
type Upload struct {
	RemoteID string
	URL      string
}

// Uploader publishes the media. Transport errors are retryable; quota and
// auth errors are not and must be returned as Permanent.
type Uploader interface {
	Upload(ctx context.Context, req UploadRequest) (*Upload, error)
}

// StageError classifies a stage failure so the scheduler can decide whether
// to retry. Permanent errors short-circuit the retry loop.
type StageError struct {
	Err       error
	permanent bool
}

func (e *StageError) Error() string   { return e.Err.Error() }
func (e *StageError) Unwrap() error   { return e.Err }
func (e *StageError) Permanent() bool { return e.permanent }

// Transient wraps a retryable failure (network, rate limit, timeout).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Err: err}
}

// Transientf is Transient with formatting.
func Transientf(format string, args ...any) error {
	return &StageError{Err: fmt.Errorf(format, args...)}
}

// Permanent wraps a non-retryable failure (validation, auth, quota).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Err: err, permanent: true}
}

// Permanentf is Permanent with formatting.
func Permanentf(format string, args ...any) error {
	return &StageError{Err: fmt.Errorf(format, args...), permanent: true}
}

// IsPermanent reports whether err is classified non-retryable.
func IsPermanent(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.permanent
}
