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

package model

import "fmt"

// ProcessingStatus is the lifecycle state of a media item.
type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusAnalyzing ProcessingStatus = "analyzing"
	StatusEmbedding ProcessingStatus = "embedding"
	StatusCompleted ProcessingStatus = "completed"
	StatusFailed    ProcessingStatus = "failed"
)

var validStatuses = []ProcessingStatus{
	StatusPending,
	StatusAnalyzing,
	StatusEmbedding,
	StatusCompleted,
	StatusFailed,
}

// transitions lists the allowed next states. failed -> pending is only taken
// by an explicit reprocess request.
var transitions = map[ProcessingStatus][]ProcessingStatus{
	StatusPending:   {StatusAnalyzing},
	StatusAnalyzing: {StatusEmbedding, StatusFailed},
	StatusEmbedding: {StatusCompleted, StatusFailed},
	StatusFailed:    {StatusPending},
}

func (s ProcessingStatus) IsValid() bool {
	for _, candidate := range validStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no pipeline step will move the item further.
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InFlight reports whether a worker currently owns the item.
func (s ProcessingStatus) InFlight() bool {
	return s == StatusAnalyzing || s == StatusEmbedding
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to ProcessingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func ParseProcessingStatus(value string) (ProcessingStatus, error) {
	for _, candidate := range validStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid processing status %q", value)
}

// MediaKind is the coarse type of an uploaded file.
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
)

func (k MediaKind) IsValid() bool {
	return k == KindImage || k == KindVideo
}

func ParseMediaKind(value string) (MediaKind, error) {
	switch MediaKind(value) {
	case KindImage:
		return KindImage, nil
	case KindVideo:
		return KindVideo, nil
	}
	return "", fmt.Errorf("invalid media kind %q", value)
}
