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
	"fmt"

	"github.com/jaycherian/gcp-go-photo-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/repository"
)

// DescriptionPersist stores the description and moves the item from analyzing
// to embedding, so the description always exists before the embedding does.
type DescriptionPersist struct {
	cor.BaseCommand
	repo *repository.MediaRepository
}

func NewDescriptionPersist(name string, repo *repository.MediaRepository) *DescriptionPersist {
	return &DescriptionPersist{BaseCommand: itemCommand(name), repo: repo}
}

func (c *DescriptionPersist) IsExecutable(context cor.Context) bool {
	return c.BaseCommand.IsExecutable(context) && context.Get(ParamDescription) != nil
}

func (c *DescriptionPersist) Execute(context cor.Context) {
	item := context.Get(c.GetInputParam()).(*model.MediaItem)
	description := context.Get(ParamDescription).(string)

	version, err := c.repo.SaveDescription(context.GetContext(), item.ID, item.Version, description)
	if err != nil {
		c.Fail(context, fmt.Errorf("save description: %w", err))
		return
	}
	item.Description = &description
	item.Status = model.StatusEmbedding
	item.Version = version
	c.Succeed(context, item)
}
