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

package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore keeps objects in an S3 compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioClient connects to endpoint with static credentials.
func NewMinioClient(endpoint, accessKey, secretKey string, useSSL bool) (*minio.Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return client, nil
}

// NewMinioStore creates the bucket when it does not exist yet.
func NewMinioStore(ctx context.Context, client *minio.Client, bucket string) (*MinioStore, error) {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
		slog.InfoContext(ctx, "created bucket", "bucket", bucket)
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

func (s *MinioStore) Save(ctx context.Context, owner, id uuid.UUID, r io.Reader, ext string) (string, error) {
	key := OriginalKey(owner, id, ext)
	if err := s.put(ctx, key, r, -1); err != nil {
		return "", err
	}
	return key, nil
}

func (s *MinioStore) SaveDerived(ctx context.Context, owner, id uuid.UUID, name string, data []byte) (string, error) {
	key := DerivedKey(owner, id, name)
	if err := s.put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		return "", err
	}
	return key, nil
}

// put relies on multipart semantics: an upload that fails is never completed,
// and incomplete parts are aborted by the client.
func (s *MinioStore) put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: ContentTypeOf(key),
	})
	if err != nil {
		return storageErr(err, "upload media object")
	}
	return nil
}

func (s *MinioStore) Delete(ctx context.Context, owner, id uuid.UUID) (bool, error) {
	found := false
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: Prefix(owner, id), Recursive: true}) {
		if obj.Err != nil {
			return found, storageErr(obj.Err, "list media objects")
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			if minio.ToErrorResponse(err).Code == "NoSuchKey" {
				continue
			}
			return found, storageErr(err, "delete media object")
		}
		found = true
	}
	return found, nil
}

func (s *MinioStore) ReadOriginal(ctx context.Context, owner, id uuid.UUID) (io.ReadCloser, string, error) {
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var key string
	for obj := range s.client.ListObjects(listCtx, s.bucket, minio.ListObjectsOptions{Prefix: Prefix(owner, id) + OriginalBase + "."}) {
		if obj.Err != nil {
			return nil, "", storageErr(obj.Err, "locate original")
		}
		key = obj.Key
		break
	}
	if key == "" {
		return nil, "", notFound(owner, id)
	}
	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", storageErr(err, "download media object")
	}
	return object, ExtOf(key), nil
}

func (s *MinioStore) URL(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, ref, ttl, nil)
	if err != nil {
		return "", storageErr(err, "presign media url")
	}
	return u.String(), nil
}
