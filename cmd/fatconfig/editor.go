package main

import (
	"context"

	"github.com/open-edge-platform/fatconfig/internal/config"
	"github.com/open-edge-platform/fatconfig/internal/imageconfig"
	"github.com/open-edge-platform/fatconfig/internal/staging"
)

// editor is the part of imageconfig.Editor the commands use.
type editor interface {
	Read(ctx context.Context, image string, data map[string][]string) (map[string]map[string]*string, error)
	Write(ctx context.Context, image string, data map[string]map[string]string) error
}

// Allow tests to inject a fake editor.
var newEditor = func() editor {
	return imageconfig.NewEditorFromConfig(config.Global(), staging.WithProgress(progressFunc()))
}

// loadManifestFlag loads the --data manifest, or returns an empty one.
func loadManifestFlag(path string) (*config.Manifest, error) {
	if path == "" {
		return &config.Manifest{}, nil
	}
	return config.LoadManifest(path)
}
