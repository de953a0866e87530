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

package vector

// SQL used by PgVectorIndex. The <=> operator is pgvector's cosine distance.
const (
	// QryKnn is completed with a WHERE clause and bound as
	// (query, query, min_similarity, filter args..., limit). The threshold is
	// applied to the clamped score so anti-correlated rows survive a zero floor.
	QryKnn = `SELECT id, (embedding <=> ?) AS distance
FROM media_items
WHERE embedding IS NOT NULL AND GREATEST(1 - (embedding <=> ?), 0) >= ? %s
ORDER BY distance ASC, created_at ASC, id ASC
LIMIT ?`

	QryCountEmbedded = `SELECT count(*) FROM media_items WHERE embedding IS NOT NULL`

	QryIndexExists = `SELECT count(*) FROM pg_indexes WHERE tablename = 'media_items' AND indexname = ?`

	// QryCreateHnsw uses %d placeholders for m and ef_construction.
	QryCreateHnsw = `CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_media_items_embedding_hnsw
ON media_items USING hnsw (embedding vector_cosine_ops) WITH (m = %d, ef_construction = %d)`

	QryReindexHnsw = `REINDEX INDEX CONCURRENTLY idx_media_items_embedding_hnsw`

	// QrySetEfSearch uses a %d placeholder; SET does not accept bind parameters.
	QrySetEfSearch = `SET LOCAL hnsw.ef_search = %d`

	HnswIndexName = "idx_media_items_embedding_hnsw"
)
