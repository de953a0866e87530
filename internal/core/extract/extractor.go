// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
)

const (
	FramePattern  = "frame-%03d.jpg"
	TempDirPrefix = "frames-"

	ThumbnailQuality = 85
	// frameEdge bounds the longest side of frames sent to the describer.
	frameEdge = 1024
)

var ErrNoFrames = errors.New("extract: no frames could be extracted")

type Extractor struct {
	pool          *Pool
	ffmpegPath    string
	thumbnailSize int
}

func NewExtractor(pool *Pool, ffmpegPath string, thumbnailSize int) *Extractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if thumbnailSize <= 0 {
		thumbnailSize = 256
	}
	return &Extractor{pool: pool, ffmpegPath: ffmpegPath, thumbnailSize: thumbnailSize}
}

// Frames samples up to max JPEG frames from the video at path, in order.
func (e *Extractor) Frames(ctx context.Context, path string, max int) ([][]byte, error) {
	if max <= 0 {
		return nil, fmt.Errorf("extract: frame limit must be positive, got %d", max)
	}
	return Run(ctx, e.pool, func(ctx context.Context) ([][]byte, error) {
		return e.frames(ctx, path, max)
	})
}

func (e *Extractor) frames(ctx context.Context, path string, max int) ([][]byte, error) {
	dir, err := os.MkdirTemp("", TempDirPrefix)
	if err != nil {
		return nil, fmt.Errorf("extract: create frame dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("failed to remove frame dir", "path", dir, "error", err)
		}
	}()

	cmd := exec.CommandContext(ctx, e.ffmpegPath, ffmpegArgs(path, max, filepath.Join(dir, FramePattern))...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("error running ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	names, err := filepath.Glob(filepath.Join(dir, "frame-*.jpg"))
	if err != nil {
		return nil, fmt.Errorf("extract: list frames: %w", err)
	}
	sort.Strings(names)
	if len(names) > max {
		names = names[:max]
	}
	out := make([][]byte, 0, len(names))
	for _, name := range names {
		img, err := imaging.Open(name)
		if err != nil {
			slog.WarnContext(ctx, "skipping unreadable frame", "frame", name, "error", err)
			continue
		}
		data, err := encodeJPEG(imaging.Fit(img, frameEdge, frameEdge, imaging.Lanczos), ThumbnailQuality)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	if len(out) == 0 {
		return nil, ErrNoFrames
	}
	return out, nil
}

// Thumbnail renders a JPEG that fits in a thumbnailSize square and reports
// what it learned about the source. Videos use their first frame.
func (e *Extractor) Thumbnail(ctx context.Context, kind model.MediaKind, path string) ([]byte, model.MediaMetadata, error) {
	out, err := Run(ctx, e.pool, func(ctx context.Context) (thumbnail, error) {
		return e.thumbnail(ctx, kind, path)
	})
	return out.data, out.meta, err
}

type thumbnail struct {
	data []byte
	meta model.MediaMetadata
}

func (e *Extractor) thumbnail(ctx context.Context, kind model.MediaKind, path string) (thumbnail, error) {
	var (
		out thumbnail
		src image.Image
	)
	switch kind {
	case model.KindVideo:
		frames, err := e.frames(ctx, path, 1)
		if err != nil {
			return out, err
		}
		if src, err = imaging.Decode(bytes.NewReader(frames[0])); err != nil {
			return out, fmt.Errorf("extract: decode frame: %w", err)
		}
	default:
		var err error
		if src, err = imaging.Open(path, imaging.AutoOrientation(true)); err != nil {
			return out, fmt.Errorf("extract: decode image: %w", err)
		}
		out.meta.Format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	b := src.Bounds()
	out.meta.Width, out.meta.Height = b.Dx(), b.Dy()

	data, err := encodeJPEG(imaging.Fit(src, e.thumbnailSize, e.thumbnailSize, imaging.Lanczos), ThumbnailQuality)
	if err != nil {
		return thumbnail{}, err
	}
	out.data = data
	return out, nil
}

// ffmpegArgs samples one frame per second, at most max of them, into
// numbered JPEGs.
func ffmpegArgs(input string, max int, output string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", input,
		"-vf", "fps=1",
		"-frames:v", strconv.Itoa(max),
		"-q:v", "3",
		output,
	}
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("extract: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
