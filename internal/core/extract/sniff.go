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
	"strings"

	"github.com/h2non/filetype"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
)

// SniffLen is how many leading bytes Sniff needs.
const SniffLen = 512

// Sniffed is what the content of an upload says it is.
type Sniffed struct {
	Kind      model.MediaKind
	MIMEType  string
	Extension string
}

// Sniff identifies an image or video from its leading bytes. ok is false when
// the content is neither.
func Sniff(head []byte) (Sniffed, bool) {
	t, err := filetype.Match(head)
	if err != nil || t == filetype.Unknown {
		return Sniffed{}, false
	}
	var kind model.MediaKind
	switch t.MIME.Type {
	case "image":
		kind = model.KindImage
	case "video":
		kind = model.KindVideo
	default:
		return Sniffed{}, false
	}
	return Sniffed{Kind: kind, MIMEType: t.MIME.Value, Extension: t.Extension}, true
}

// KindOfContentType maps a declared MIME type onto a media kind.
func KindOfContentType(contentType string) (model.MediaKind, bool) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case strings.HasPrefix(ct, "image/"):
		return model.KindImage, true
	case strings.HasPrefix(ct, "video/"):
		return model.KindVideo, true
	}
	return "", false
}
