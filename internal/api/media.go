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

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/apperr"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/services"
)

// multipartSlack covers the multipart framing around the file part.
const multipartSlack = 1 << 20

type listQuery struct {
	Kind   string `form:"kind"`
	Status string `form:"status"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

type listResponse struct {
	Items  []model.MediaItem `json:"items"`
	Total  int64             `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// MediaRouter registers the upload routes.
//
//   - POST   /uploads              multipart upload, field "file"
//   - GET    /uploads              list, filtered by kind and status
//   - GET    /uploads/:id          one item
//   - DELETE /uploads/:id          remove the item and its files
//   - POST   /uploads/:id/reprocess  retry a failed item
//   - GET    /uploads/:id/url      signed link, ?thumbnail=true for the preview
func MediaRouter(r *gin.RouterGroup, media *services.MediaService) {
	uploads := r.Group("/uploads")
	{
		uploads.POST("", func(c *gin.Context) {
			if limit := media.Config.MaxUploadBytes; limit > 0 {
				c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartSlack)
			}
			header, err := c.FormFile("file")
			if err != nil {
				var maxBytes *http.MaxBytesError
				if errors.As(err, &maxBytes) {
					Fail(c, apperr.New(apperr.CodePayloadTooLarge, "file too large").
						WithDetails(map[string]int64{"maxBytes": media.Config.MaxUploadBytes}))
					return
				}
				Fail(c, apperr.Validation("multipart field \"file\" is required"))
				return
			}
			file, err := header.Open()
			if err != nil {
				Fail(c, apperr.Wrap(apperr.CodeInternal, err, "failed to open upload"))
				return
			}
			defer file.Close()

			item, err := media.Ingest(c.Request.Context(), services.IngestRequest{
				OwnerID:     Owner(c),
				Filename:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Size:        header.Size,
				Body:        file,
			})
			if err != nil {
				Fail(c, err)
				return
			}
			c.JSON(http.StatusAccepted, item)
		})

		uploads.GET("", func(c *gin.Context) {
			var q listQuery
			if err := c.ShouldBindQuery(&q); err != nil {
				Fail(c, apperr.Validation("invalid list parameters").WithDetails(err.Error()))
				return
			}
			filter := model.ListFilter{
				OwnerID: Owner(c),
				Kind:    model.MediaKind(q.Kind),
				Status:  model.ProcessingStatus(q.Status),
				Limit:   q.Limit,
				Offset:  q.Offset,
			}
			items, total, err := media.List(c.Request.Context(), filter)
			if err != nil {
				Fail(c, err)
				return
			}
			if items == nil {
				items = []model.MediaItem{}
			}
			c.JSON(http.StatusOK, listResponse{Items: items, Total: total, Limit: q.Limit, Offset: q.Offset})
		})

		uploads.GET("/:id", func(c *gin.Context) {
			id, ok := pathID(c)
			if !ok {
				return
			}
			item, err := media.Get(c.Request.Context(), Owner(c), id)
			if err != nil {
				Fail(c, err)
				return
			}
			c.JSON(http.StatusOK, item)
		})

		uploads.DELETE("/:id", func(c *gin.Context) {
			id, ok := pathID(c)
			if !ok {
				return
			}
			existed, err := media.Delete(c.Request.Context(), Owner(c), id)
			if err != nil {
				Fail(c, err)
				return
			}
			if !existed {
				Fail(c, apperr.NotFound("media item not found"))
				return
			}
			c.Status(http.StatusNoContent)
		})

		uploads.POST("/:id/reprocess", func(c *gin.Context) {
			id, ok := pathID(c)
			if !ok {
				return
			}
			item, err := media.Reprocess(c.Request.Context(), Owner(c), id)
			if err != nil {
				Fail(c, err)
				return
			}
			c.JSON(http.StatusAccepted, item)
		})

		uploads.GET("/:id/url", func(c *gin.Context) {
			id, ok := pathID(c)
			if !ok {
				return
			}
			thumbnail := c.Query("thumbnail") == "true"
			url, err := media.MediaURL(c.Request.Context(), Owner(c), id, thumbnail)
			if err != nil {
				Fail(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"url": url})
		})
	}
}
