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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/iam/credentials/apiv1/credentialspb"
	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
)

// GCSStore keeps objects in a Cloud Storage bucket. Signed URLs are produced
// through the IAM credentials API when a signer account is configured, so the
// service does not need a private key on disk.
type GCSStore struct {
	client      *gcs.Client
	bucket      string
	signer      *credentials.IamCredentialsClient
	signerEmail string
}

func NewGCSStore(client *gcs.Client, bucket string, signer *credentials.IamCredentialsClient, signerEmail string) *GCSStore {
	return &GCSStore{client: client, bucket: bucket, signer: signer, signerEmail: signerEmail}
}

func (s *GCSStore) Save(ctx context.Context, owner, id uuid.UUID, r io.Reader, ext string) (string, error) {
	key := OriginalKey(owner, id, ext)
	if err := s.write(ctx, key, r); err != nil {
		return "", err
	}
	return key, nil
}

func (s *GCSStore) SaveDerived(ctx context.Context, owner, id uuid.UUID, name string, data []byte) (string, error) {
	key := DerivedKey(owner, id, name)
	if err := s.write(ctx, key, bytes.NewReader(data)); err != nil {
		return "", err
	}
	return key, nil
}

// write cancels the writer's context on a failed copy. An upload whose
// context is cancelled before Close never creates the object.
func (s *GCSStore) write(ctx context.Context, key string, r io.Reader) error {
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(writeCtx)
	writer.ContentType = ContentTypeOf(key)

	if written, err := io.Copy(writer, r); err != nil {
		slog.WarnContext(ctx, "failed to copy to GCS or partial write", "object", key, "bytes", written, "error", err)
		cancel()
		_ = writer.Close()
		return storageErr(err, "write media object")
	}
	if err := writer.Close(); err != nil {
		return storageErr(err, "finalize media object")
	}
	slog.DebugContext(ctx, "uploaded media object", "bucket", s.bucket, "object", key)
	return nil
}

func (s *GCSStore) Delete(ctx context.Context, owner, id uuid.UUID) (bool, error) {
	bucket := s.client.Bucket(s.bucket)
	it := bucket.Objects(ctx, &gcs.Query{Prefix: Prefix(owner, id)})
	found := false
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return found, storageErr(err, "list media objects")
		}
		if err := bucket.Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
			return found, storageErr(err, "delete media object")
		}
		found = true
	}
	return found, nil
}

func (s *GCSStore) ReadOriginal(ctx context.Context, owner, id uuid.UUID) (io.ReadCloser, string, error) {
	bucket := s.client.Bucket(s.bucket)
	it := bucket.Objects(ctx, &gcs.Query{Prefix: Prefix(owner, id) + OriginalBase + "."})
	attrs, err := it.Next()
	if errors.Is(err, iterator.Done) {
		return nil, "", notFound(owner, id)
	}
	if err != nil {
		return nil, "", storageErr(err, "locate original")
	}
	reader, err := bucket.Object(attrs.Name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, "", notFound(owner, id)
		}
		return nil, "", storageErr(err, fmt.Sprintf("open gs://%s/%s", s.bucket, attrs.Name))
	}
	return reader, ExtOf(attrs.Name), nil
}

func (s *GCSStore) URL(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	opts := &gcs.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(ttl),
		Scheme:  gcs.SigningSchemeV4,
	}
	if s.signer != nil && s.signerEmail != "" {
		opts.GoogleAccessID = s.signerEmail
		opts.SignBytes = func(payload []byte) ([]byte, error) {
			resp, err := s.signer.SignBlob(ctx, &credentialspb.SignBlobRequest{
				Name:    "projects/-/serviceAccounts/" + s.signerEmail,
				Payload: payload,
			})
			if err != nil {
				return nil, err
			}
			return resp.SignedBlob, nil
		}
	}
	u, err := s.client.Bucket(s.bucket).SignedURL(ref, opts)
	if err != nil {
		return "", storageErr(err, "sign media url")
	}
	return u, nil
}
