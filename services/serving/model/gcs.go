// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSRegistry serves models published to a Cloud Storage bucket. Objects
// under gs://bucket/prefix mirror the FSRegistry layout:
//
//	gs://bucket/prefix/aliases.yaml
//	gs://bucket/prefix/1.4.2/manifest.yaml
//	gs://bucket/prefix/1.4.2/model.yaml
//
// Resolve refreshes the alias table and the version index into a local
// cache directory on every call; artifact objects are fetched on first
// Open and kept, since published version directories never change.
type GCSRegistry struct {
	client   *storage.Client
	bucket   string
	prefix   string
	cacheDir string
	local    *FSRegistry

	// mirrorMu serializes cache refreshes so concurrent reloads do not
	// race on partially written files.
	mirrorMu sync.Mutex
}

// NewGCSRegistry connects to the bucket and prepares the local cache.
// credentialsFile may be empty to use ambient application credentials.
func NewGCSRegistry(ctx context.Context, bucket, prefix, cacheDir, credentialsFile string) (*GCSRegistry, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", credentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	if err := os.MkdirAll(cacheDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create registry cache %s: %w", cacheDir, err)
	}
	local, err := NewFSRegistry(cacheDir)
	if err != nil {
		return nil, err
	}

	return &GCSRegistry{
		client:   client,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		cacheDir: cacheDir,
		local:    local,
	}, nil
}

// Resolve implements Registry.
func (g *GCSRegistry) Resolve(ctx context.Context, alias string) (Manifest, error) {
	if err := g.refreshIndex(ctx); err != nil {
		return Manifest{}, err
	}
	m, err := g.local.Resolve(ctx, alias)
	if err != nil {
		return Manifest{}, err
	}
	m.Source = "gs://" + path.Join(g.bucket, g.prefix)
	return m, nil
}

// Open implements Registry.
func (g *GCSRegistry) Open(ctx context.Context, m Manifest) (Scorer, error) {
	artifact := filepath.Join(g.cacheDir, m.Version, filepath.Clean("/"+m.Artifact))
	if _, err := os.Stat(artifact); err != nil {
		object := path.Join(g.prefix, m.Version, m.Artifact)
		if err := g.fetchObject(ctx, object, artifact); err != nil {
			return nil, fmt.Errorf("%w: fetch artifact %s: %w", ErrUnavailable, object, err)
		}
	}
	return g.local.Open(ctx, m)
}

// refreshIndex pulls the alias table and every version's manifest into the
// cache. The alias table is always re-fetched because promotions rewrite
// it in place; manifests are fetched only when absent.
func (g *GCSRegistry) refreshIndex(ctx context.Context) error {
	g.mirrorMu.Lock()
	defer g.mirrorMu.Unlock()

	aliasObject := path.Join(g.prefix, "aliases.yaml")
	if err := g.fetchObject(ctx, aliasObject, filepath.Join(g.cacheDir, "aliases.yaml")); err != nil {
		return fmt.Errorf("%w: fetch alias table: %w", ErrUnavailable, err)
	}

	versions, err := g.listVersions(ctx)
	if err != nil {
		return err
	}
	for _, version := range versions {
		local := filepath.Join(g.cacheDir, version, "manifest.yaml")
		if _, err := os.Stat(local); err == nil {
			continue
		}
		object := path.Join(g.prefix, version, "manifest.yaml")
		if err := g.fetchObject(ctx, object, local); err != nil {
			return fmt.Errorf("%w: fetch manifest for version %s: %w", ErrUnavailable, version, err)
		}
	}
	return nil
}

// listVersions enumerates the version directories under the registry prefix.
func (g *GCSRegistry) listVersions(ctx context.Context) ([]string, error) {
	query := &storage.Query{
		Prefix:    g.prefix + "/",
		Delimiter: "/",
	}
	if g.prefix == "" {
		query.Prefix = ""
	}

	var versions []string
	it := g.client.Bucket(g.bucket).Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: list registry versions: %w", ErrUnavailable, err)
		}
		if attrs.Prefix == "" {
			continue
		}
		name := strings.Trim(strings.TrimPrefix(attrs.Prefix, query.Prefix), "/")
		if name != "" {
			versions = append(versions, name)
		}
	}
	return versions, nil
}

// fetchObject downloads one object to a local path, creating parent
// directories as needed.
func (g *GCSRegistry) fetchObject(ctx context.Context, object, localPath string) error {
	reader, err := g.client.Bucket(g.bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to open gs://%s/%s: %w", g.bucket, object, err)
	}
	defer reader.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		return fmt.Errorf("failed to create cache directory for %s: %w", localPath, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".fetch-*")
	if err != nil {
		return fmt.Errorf("failed to stage download for %s: %w", localPath, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to copy gs://%s/%s: %w", g.bucket, object, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to finish download for %s: %w", localPath, err)
	}
	return os.Rename(tmp.Name(), localPath)
}

// Close releases the underlying storage client.
func (g *GCSRegistry) Close() error {
	return g.client.Close()
}

var _ Registry = (*GCSRegistry)(nil)
