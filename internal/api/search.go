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
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/apperr"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/services"
)

type similarQuery struct {
	Limit              int      `form:"limit"`
	Threshold          *float32 `form:"threshold"`
	IncludeOtherOwners bool     `form:"includeOtherOwners"`
	ExcludeSameOwner   bool     `form:"excludeSameOwner"`
}

type suggestionQuery struct {
	Partial string `form:"q"`
	Limit   int    `form:"limit"`
}

// SearchRouter registers the semantic search routes.
func SearchRouter(r *gin.RouterGroup, search *services.SearchService) {
	group := r.Group("/search")
	{
		group.POST("", func(c *gin.Context) {
			var req model.SearchRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				Fail(c, apperr.Validation("invalid search body").WithDetails(err.Error()))
				return
			}
			resp, err := search.Search(c.Request.Context(), Owner(c), req)
			if err != nil {
				Fail(c, err)
				return
			}
			c.JSON(http.StatusOK, resp)
		})

		group.GET("/similar/:id", func(c *gin.Context) {
			id, ok := pathID(c)
			if !ok {
				return
			}
			var q similarQuery
			if err := c.ShouldBindQuery(&q); err != nil {
				Fail(c, apperr.Validation("invalid similar parameters").WithDetails(err.Error()))
				return
			}
			resp, err := search.FindSimilar(c.Request.Context(), Owner(c), id, model.SimilarRequest{
				Limit:               q.Limit,
				SimilarityThreshold: q.Threshold,
				IncludeOtherOwners:  q.IncludeOtherOwners,
				ExcludeSameOwner:    q.ExcludeSameOwner,
			})
			if err != nil {
				Fail(c, err)
				return
			}
			c.JSON(http.StatusOK, resp)
		})

		group.POST("/batch", func(c *gin.Context) {
			var req model.BatchSearchRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				Fail(c, apperr.Validation("invalid batch body").WithDetails(err.Error()))
				return
			}
			resp, err := search.BatchSearch(c.Request.Context(), Owner(c), req)
			if err != nil {
				Fail(c, err)
				return
			}
			c.JSON(http.StatusOK, resp)
		})

		group.GET("/suggestions", func(c *gin.Context) {
			var q suggestionQuery
			if err := c.ShouldBindQuery(&q); err != nil {
				Fail(c, apperr.Validation("invalid suggestion parameters").WithDetails(err.Error()))
				return
			}
			c.JSON(http.StatusOK, gin.H{"suggestions": search.Suggestions(q.Partial, q.Limit)})
		})
	}
}
