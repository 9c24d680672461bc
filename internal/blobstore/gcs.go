/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package blobstore

import (
	"context"
	"io"
	"time"

	"cloud.google.com/go/storage"

	"github.com/jordigilh/riskline/internal/errkind"
)

// GCSStore is the alternate backend selected by storage.use_gcs,
// for deployments that keep uploaded and exported video in Google
// Cloud Storage instead of an S3-compatible bucket.
type GCSStore struct {
	client         *storage.Client
	bucket         string
	signingAccount string
}

func NewGCSStore(ctx context.Context, bucket, signingServiceAccount string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "create gcs client")
	}
	return &GCSStore{client: client, bucket: bucket, signingAccount: signingServiceAccount}, nil
}

func (g *GCSStore) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return errkind.Wrap(errkind.TransientUpstream, err, "gcs write object")
	}
	if err := w.Close(); err != nil {
		return errkind.Wrap(errkind.TransientUpstream, err, "gcs close object writer")
	}
	return nil
}

func (g *GCSStore) Download(ctx context.Context, key string, dst io.Writer) error {
	r, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return errkind.Wrap(errkind.TransientUpstream, err, "gcs new reader")
	}
	defer r.Close()

	if _, err := io.Copy(dst, r); err != nil {
		return errkind.Wrap(errkind.Internal, err, "copy gcs object body")
	}
	return nil
}

func (g *GCSStore) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	url, err := storage.SignedURL(g.bucket, key, &storage.SignedURLOptions{
		GoogleAccessID: g.signingAccount,
		Method:         "GET",
		Expires:        time.Now().Add(expiry),
	})
	if err != nil {
		return "", errkind.Wrap(errkind.Internal, err, "sign gcs url")
	}
	return url, nil
}

func (g *GCSStore) Delete(ctx context.Context, key string) error {
	if err := g.client.Bucket(g.bucket).Object(key).Delete(ctx); err != nil {
		return errkind.Wrap(errkind.TransientUpstream, err, "gcs delete object")
	}
	return nil
}
