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
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
)

// ProcessRequestReader decodes the queue payload into a model.ProcessRequest.
type ProcessRequestReader struct {
	cor.BaseCommand
}

func NewProcessRequestReader(name string) *ProcessRequestReader {
	return &ProcessRequestReader{BaseCommand: *cor.NewBaseCommand(name)}
}

func (c *ProcessRequestReader) Execute(context cor.Context) {
	var req model.ProcessRequest
	switch in := context.Get(c.GetInputParam()).(type) {
	case string:
		if err := json.Unmarshal([]byte(in), &req); err != nil {
			c.Fail(context, fmt.Errorf("failed to unmarshal process request: %w", err))
			context.Add(ParamSkipped, true)
			return
		}
	case *model.ProcessRequest:
		req = *in
	case model.ProcessRequest:
		req = in
	default:
		c.Fail(context, fmt.Errorf("unexpected process request type %T", in))
		context.Add(ParamSkipped, true)
		return
	}
	if req.ItemID == uuid.Nil {
		c.Fail(context, fmt.Errorf("process request without item id"))
		context.Add(ParamSkipped, true)
		return
	}
	context.Add(ParamRequest, &req)
	c.Succeed(context, &req)
}
