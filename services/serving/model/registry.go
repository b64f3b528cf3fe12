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
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/Bellwether/pkg/validation"
)

// LatestVersion is the alias target that resolves to the highest semantic
// version present in the registry.
const LatestVersion = "latest"

// Manifest describes one published model version.
//
// A registry version directory holds a manifest.yaml naming the artifact
// file relative to that directory.
type Manifest struct {
	Name     string `yaml:"model_name"`
	Version  string `yaml:"version"`
	Artifact string `yaml:"artifact"`

	// Source records where the manifest came from ("fs:<root>" or
	// "gs://bucket/prefix"). Set by the registry, not the file.
	Source string `yaml:"-"`
}

// Registry resolves aliases to model versions and opens their scorers.
//
// # Description
//
// The registry is the external collaborator boundary for model storage.
// Resolve maps a human-facing alias (what operators promote) to a concrete
// version manifest; Open materializes the scorer. Both are context-aware
// because remote implementations fetch over the network.
type Registry interface {
	Resolve(ctx context.Context, alias string) (Manifest, error)
	Open(ctx context.Context, m Manifest) (Scorer, error)
}

// =============================================================================
// Filesystem Registry
// =============================================================================

// aliasesFile is the wire form of the registry's alias table.
type aliasesFile struct {
	Aliases map[string]string `yaml:"aliases"`
}

// FSRegistry serves models from a local directory tree:
//
//	root/
//	  aliases.yaml        aliases: {champion-alias: 1.4.2, staging: latest}
//	  1.4.2/
//	    manifest.yaml     model_name, version, artifact
//	    model.yaml        the scorer artifact
//
// The alias table is re-read on every Resolve, so promoting a version is a
// file edit followed by a reload call, no restart.
type FSRegistry struct {
	root string
}

// NewFSRegistry opens a directory-backed registry.
func NewFSRegistry(root string) (*FSRegistry, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: registry root: %w", ErrUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: registry root %s is not a directory", ErrUnavailable, root)
	}
	return &FSRegistry{root: root}, nil
}

// Resolve implements Registry.
func (r *FSRegistry) Resolve(ctx context.Context, alias string) (Manifest, error) {
	if err := ctx.Err(); err != nil {
		return Manifest{}, err
	}
	if err := validation.ValidateAlias(alias); err != nil {
		return Manifest{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	data, err := os.ReadFile(filepath.Join(r.root, "aliases.yaml"))
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: read alias table: %w", ErrUnavailable, err)
	}
	var table aliasesFile
	if err := yaml.Unmarshal(data, &table); err != nil {
		return Manifest{}, fmt.Errorf("%w: parse alias table: %w", ErrUnavailable, err)
	}

	version, ok := table.Aliases[alias]
	if !ok {
		return Manifest{}, fmt.Errorf("%w: no model registered for alias %q", ErrUnavailable, alias)
	}
	if version == LatestVersion {
		version, err = r.latestVersion()
		if err != nil {
			return Manifest{}, err
		}
	}

	manifest, err := r.readManifest(version)
	if err != nil {
		return Manifest{}, err
	}
	return manifest, nil
}

// latestVersion picks the highest semantic version directory under root.
func (r *FSRegistry) latestVersion() (string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return "", fmt.Errorf("%w: scan registry: %w", ErrUnavailable, err)
	}

	best := ""
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if !semver.IsValid("v" + name) {
			continue
		}
		if best == "" || semver.Compare("v"+name, "v"+best) > 0 {
			best = name
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: registry has no versioned models", ErrUnavailable)
	}
	return best, nil
}

// readManifest loads a version directory's manifest.
func (r *FSRegistry) readManifest(version string) (Manifest, error) {
	path := filepath.Join(r.root, version, "manifest.yaml")
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: read manifest for version %s: %w", ErrUnavailable, version, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: parse manifest for version %s: %w", ErrUnavailable, version, err)
	}
	if m.Version == "" {
		m.Version = version
	}
	if m.Artifact == "" {
		return Manifest{}, fmt.Errorf("%w: manifest %s names no artifact", ErrUnavailable, version)
	}
	m.Source = "fs:" + r.root
	return m, nil
}

// Open implements Registry.
func (r *FSRegistry) Open(ctx context.Context, m Manifest) (Scorer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The artifact path stays inside the version directory; a manifest
	// cannot point the loader elsewhere on disk.
	artifact := filepath.Join(r.root, m.Version, filepath.Clean("/"+m.Artifact))
	art, err := LoadArtifact(artifact)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if art.Version == "" {
		art.Version = m.Version
	}
	if art.ModelName == "" {
		art.ModelName = m.Name
	}

	scorer, err := NewLinearScorer(art)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return scorer, nil
}

var _ Registry = (*FSRegistry)(nil)
