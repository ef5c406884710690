package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Stub collaborators back the CLI demo mode and the scheduler tests. They
// produce deterministic artifacts on the local filesystem without touching
// any external service.

// StubSynthesizer returns a canned script derived from the topic.
type StubSynthesizer struct {
	// Delay simulates provider latency.
	Delay time.Duration
}

func (s *StubSynthesizer) Synthesize(ctx context.Context, req ScriptRequest) (*Script, error) {
	if req.Topic == "" {
		return nil, Permanentf("script synthesis: topic is required")
	}
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return &Script{
		Text:        fmt.Sprintf("Today we're talking about %s. Let's dive in.", req.Topic),
		Title:       req.Topic,
		Description: fmt.Sprintf("An automated short about %s.", req.Topic),
		Tags:        strings.Fields(strings.ToLower(req.Topic)),
	}, nil
}

// StubAssembler writes a placeholder media file and thumbnail under OutputDir.
type StubAssembler struct {
	Delay time.Duration
}

func (a *StubAssembler) Assemble(ctx context.Context, req AssembleRequest) (*Media, error) {
	if req.ScriptText == "" {
		return nil, Permanentf("media assembly: empty script")
	}
	if req.AssetsDir != "" {
		entries, err := os.ReadDir(req.AssetsDir)
		if err != nil || len(entries) == 0 {
			return nil, Permanentf("media assembly: assets directory %q is empty or unreadable", req.AssetsDir)
		}
	}
	if a.Delay > 0 {
		select {
		case <-time.After(a.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	outDir := req.OutputDir
	if outDir == "" {
		outDir = os.TempDir()
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, Transientf("media assembly: creating output dir: %w", err)
	}

	base := fmt.Sprintf("reel-%d", time.Now().UnixNano())
	mediaPath := filepath.Join(outDir, base+".mp4")
	thumbPath := filepath.Join(outDir, base+".jpg")
	if err := os.WriteFile(mediaPath, []byte(req.ScriptText), 0o644); err != nil {
		return nil, Transientf("media assembly: writing media: %w", err)
	}
	if err := os.WriteFile(thumbPath, []byte("thumbnail"), 0o644); err != nil {
		return nil, Transientf("media assembly: writing thumbnail: %w", err)
	}

	return &Media{
		Path:            mediaPath,
		ThumbnailPath:   thumbPath,
		DurationSeconds: float64(len(req.ScriptText)) / 15.0,
	}, nil
}

// StubUploader fabricates a remote id and URL under the configured host.
type StubUploader struct {
	// Host is the base URL of the fake platform. Default "https://videos.example.com".
	Host  string
	Delay time.Duration
}

func (u *StubUploader) Upload(ctx context.Context, req UploadRequest) (*Upload, error) {
	if req.MediaPath == "" {
		return nil, Permanentf("upload: media path is required")
	}
	if _, err := os.Stat(req.MediaPath); err != nil {
		return nil, Permanentf("upload: media file missing: %v", err)
	}
	if u.Delay > 0 {
		select {
		case <-time.After(u.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	host := u.Host
	if host == "" {
		host = "https://videos.example.com"
	}
	id := fmt.Sprintf("vid_%d", time.Now().UnixNano())
	return &Upload{
		RemoteID: id,
		URL:      fmt.Sprintf("%s/watch/%s", strings.TrimRight(host, "/"), id),
	}, nil
}
