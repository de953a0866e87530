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

package extract_test

import (
	"context"
	"errors"
	"image/color"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-photo-search/internal/core/extract"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	test "github.com/jaycherian/gcp-go-photo-search/internal/testutil"
	"github.com/zeebo/assert"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := extract.NewPool(2, 8)
	defer pool.Close()

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pool.Do(context.Background(), func(context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.That(t, atomic.LoadInt32(&peak) <= 2)
}

func TestPoolRecoversPanics(t *testing.T) {
	pool := extract.NewPool(1, 1)
	defer pool.Close()

	err := pool.Do(context.Background(), func(context.Context) error { panic("boom") })
	assert.Error(t, err)

	// The worker survives the panic.
	want := errors.New("second")
	assert.Equal(t, want, pool.Do(context.Background(), func(context.Context) error { return want }))
}

func TestPoolRejectsAfterClose(t *testing.T) {
	pool := extract.NewPool(1, 0)
	pool.Close()
	pool.Close()
	_, err := pool.Submit(context.Background(), func(context.Context) error { return nil })
	assert.That(t, errors.Is(err, extract.ErrPoolClosed))
}

func TestRunDropsResultWhenCallerGivesUp(t *testing.T) {
	pool := extract.NewPool(1, 1)
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	started, release := make(chan struct{}), make(chan struct{})
	var (
		frames [][]byte
		runErr error
		done   = make(chan struct{})
	)
	go func() {
		defer close(done)
		frames, runErr = extract.Run(ctx, pool, func(context.Context) ([][]byte, error) {
			close(started)
			<-release
			return [][]byte{[]byte("late")}, nil
		})
	}()

	<-started
	cancel()
	<-done
	close(release)
	assert.That(t, errors.Is(runErr, context.Canceled))
	assert.Nil(t, frames)

	// The worker finishes the abandoned job and keeps serving.
	got, err := extract.Run(context.Background(), pool, func(context.Context) (int, error) { return 7, nil })
	assert.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestThumbnailFitsBox(t *testing.T) {
	pool := extract.NewPool(1, 1)
	defer pool.Close()
	ex := extract.NewExtractor(pool, "", 256)

	path := filepath.Join(t.TempDir(), "wide.jpg")
	assert.NoError(t, os.WriteFile(path, test.JPEG(1024, 512, color.RGBA{R: 200, A: 255}), 0o644))

	thumb, meta, err := ex.Thumbnail(context.Background(), model.KindImage, path)
	assert.NoError(t, err)
	assert.Equal(t, 1024, meta.Width)
	assert.Equal(t, 512, meta.Height)
	assert.Equal(t, "jpg", meta.Format)

	sniffed, ok := extract.Sniff(thumb)
	assert.That(t, ok)
	assert.Equal(t, "image/jpeg", sniffed.MIMEType)

	thumbPath := filepath.Join(t.TempDir(), "thumb.jpg")
	assert.NoError(t, os.WriteFile(thumbPath, thumb, 0o644))
	_, thumbMeta, err := ex.Thumbnail(context.Background(), model.KindImage, thumbPath)
	assert.NoError(t, err)
	assert.Equal(t, 256, thumbMeta.Width)
	assert.Equal(t, 128, thumbMeta.Height)
}

func TestThumbnailRejectsGarbage(t *testing.T) {
	pool := extract.NewPool(1, 1)
	defer pool.Close()
	ex := extract.NewExtractor(pool, "", 256)

	path := filepath.Join(t.TempDir(), "broken.jpg")
	assert.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))
	_, _, err := ex.Thumbnail(context.Background(), model.KindImage, path)
	assert.Error(t, err)
}

func TestFramesWithFfmpeg(t *testing.T) {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	video := filepath.Join(t.TempDir(), "clip.mp4")
	gen := exec.Command(ffmpeg, "-hide_banner", "-loglevel", "error", "-y",
		"-f", "lavfi", "-i", "testsrc=duration=12:size=160x120:rate=5", "-pix_fmt", "yuv420p", video)
	if out, err := gen.CombinedOutput(); err != nil {
		t.Skipf("cannot synthesise test video: %v: %s", err, out)
	}

	pool := extract.NewPool(1, 1)
	defer pool.Close()
	ex := extract.NewExtractor(pool, ffmpeg, 256)

	frames, err := ex.Frames(context.Background(), video, 10)
	assert.NoError(t, err)
	assert.Equal(t, 10, len(frames))

	_, meta, err := ex.Thumbnail(context.Background(), model.KindVideo, video)
	assert.NoError(t, err)
	assert.Equal(t, 160, meta.Width)
}

func TestFramesFailsOnMissingBinary(t *testing.T) {
	pool := extract.NewPool(1, 1)
	defer pool.Close()
	ex := extract.NewExtractor(pool, filepath.Join(t.TempDir(), "no-ffmpeg"), 256)
	_, err := ex.Frames(context.Background(), "clip.mp4", 3)
	assert.Error(t, err)
}

func TestSniff(t *testing.T) {
	s, ok := extract.Sniff(test.JPEG(4, 4, color.White))
	assert.That(t, ok)
	assert.Equal(t, model.KindImage, s.Kind)
	assert.Equal(t, "jpg", s.Extension)

	_, ok = extract.Sniff([]byte("plain text"))
	assert.That(t, !ok)

	kind, ok := extract.KindOfContentType("Video/MP4; codecs=avc1")
	assert.That(t, ok)
	assert.Equal(t, model.KindVideo, kind)
}
