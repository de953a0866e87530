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

package commands

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"text/template"

	"github.com/jaycherian/gcp-go-photo-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/providers"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MediaDescriber asks the describer for a searchable description of the
// item. Images are sent as uploaded; videos as their first framesPerCall
// sampled frames.
type MediaDescriber struct {
	cor.BaseCommand
	describer     providers.DescriptionGenerator
	imagePrompt   string
	videoPrompt   *template.Template
	framesPerCall int
}

func NewMediaDescriber(
	name string,
	describer providers.DescriptionGenerator,
	imagePrompt string,
	videoPrompt *template.Template,
	framesPerCall int) *MediaDescriber {
	return &MediaDescriber{
		BaseCommand:   itemCommand(name),
		describer:     describer,
		imagePrompt:   imagePrompt,
		videoPrompt:   videoPrompt,
		framesPerCall: framesPerCall,
	}
}

// ParsePrompts returns the image prompt and the parsed video template,
// falling back to the built-in prompts for empty values.
func ParsePrompts(imagePrompt, videoPrompt string) (string, *template.Template, error) {
	if imagePrompt == "" {
		imagePrompt = model.DefaultImagePrompt
	}
	if videoPrompt == "" {
		videoPrompt = model.DefaultVideoPrompt
	}
	tmpl, err := template.New("video-prompt").Parse(videoPrompt)
	if err != nil {
		return "", nil, fmt.Errorf("parse video prompt: %w", err)
	}
	return imagePrompt, tmpl, nil
}

func (c *MediaDescriber) Execute(context cor.Context) {
	item := context.Get(c.GetInputParam()).(*model.MediaItem)
	ctx := context.GetContext()

	req, err := c.request(context, item)
	if err != nil {
		c.Fail(context, err)
		return
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("item_id", item.ID.String()),
		attribute.Int("frames", len(req.Frames)),
	)

	description, err := c.describer.Describe(ctx, req)
	if err != nil {
		c.Fail(context, err)
		return
	}

	slog.InfoContext(ctx, "generated description", "item_id", item.ID, "chars", len(description))
	context.Add(ParamDescription, description)
	c.Succeed(context, description)
}

func (c *MediaDescriber) request(context cor.Context, item *model.MediaItem) (providers.DescribeRequest, error) {
	req := providers.DescribeRequest{Context: fmt.Sprintf("File name: %s", item.Filename)}

	if item.Kind == model.KindVideo {
		frames, _ := context.Get(ParamFrames).([][]byte)
		if len(frames) == 0 {
			return req, fmt.Errorf("no frames available for video %s", item.ID)
		}
		if c.framesPerCall > 0 && len(frames) > c.framesPerCall {
			frames = frames[:c.framesPerCall]
		}
		var prompt bytes.Buffer
		if err := c.videoPrompt.Execute(&prompt, map[string]any{"FrameCount": len(frames)}); err != nil {
			return req, fmt.Errorf("render video prompt: %w", err)
		}
		req.Image = frames[0]
		req.MIMEType = "image/jpeg"
		req.Frames = frames[1:]
		req.Prompt = prompt.String()
		return req, nil
	}

	path, _ := context.Get(ParamLocalFile).(string)
	data, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("read image: %w", err)
	}
	req.Image = data
	req.MIMEType = item.ContentType
	req.Prompt = c.imagePrompt
	return req, nil
}
