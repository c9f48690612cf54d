// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package workspace owns the on-disk layout of capture sessions:
//
//	<root>/<session id>/Images/IMG_0001.jpg
//	<root>/<session id>/Thumbnails/IMG_0001.jpg
//	<root>/<session id>/Model/model-mobile.usdz
//	<root>/<session id>/session.yaml
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrIO wraps every filesystem failure reported by this package.
var ErrIO = errors.New("workspace: io error")

const (
	ImagesDir    = "Images"
	ThumbsDir    = "Thumbnails"
	ModelDir     = "Model"
	ModelFile    = "model-mobile.usdz"
	ManifestFile = "session.yaml"
)

// Workspace is the directory holding all sessions.
type Workspace struct {
	Root string
}

func New(root string) (*Workspace, error) {
	if err := EnsureDir(root); err != nil {
		return nil, err
	}
	return &Workspace{Root: root}, nil
}

// Session returns the layout for one session.
func (w *Workspace) Session(id string) Layout {
	return Layout{Root: filepath.Join(w.Root, id)}
}

// Layout is the directory tree of a single session.
type Layout struct {
	Root string
}

func (l Layout) ImagesPath() string   { return filepath.Join(l.Root, ImagesDir) }
func (l Layout) ThumbsPath() string   { return filepath.Join(l.Root, ThumbsDir) }
func (l Layout) ModelPath() string    { return filepath.Join(l.Root, ModelDir, ModelFile) }
func (l Layout) ManifestPath() string { return filepath.Join(l.Root, ManifestFile) }

func (l Layout) ImagePath(id uint64) string {
	return filepath.Join(l.ImagesPath(), imageName(id))
}

func (l Layout) ThumbnailPath(id uint64) string {
	return filepath.Join(l.ThumbsPath(), imageName(id))
}

func imageName(id uint64) string {
	return fmt.Sprintf("IMG_%04d.jpg", id)
}

// PrepareCapture clears any previous images and creates empty image folders.
func (l Layout) PrepareCapture() error {
	for _, dir := range []string{l.ImagesPath(), l.ThumbsPath()} {
		if err := RemoveAll(dir); err != nil {
			return err
		}
		if err := EnsureDir(dir); err != nil {
			return err
		}
	}
	return nil
}

// PrepareOutput deletes a prior model and recreates the model folder.
func (l Layout) PrepareOutput() (string, error) {
	dir := filepath.Join(l.Root, ModelDir)
	if err := RemoveAll(dir); err != nil {
		return "", err
	}
	if err := EnsureDir(dir); err != nil {
		return "", err
	}
	return l.ModelPath(), nil
}

// Discard removes the whole session tree.
func (l Layout) Discard() error {
	return RemoveAll(l.Root)
}

func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrIO, path, err)
	}
	return nil
}

func RemoveAll(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("%w: remove %s: %v", ErrIO, path, err)
	}
	return nil
}

func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
