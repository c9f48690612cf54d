package camera

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCommandCameraWritesImage(t *testing.T) {
	out := filepath.Join(t.TempDir(), "IMG_0001.jpg")
	cam := NewCommandCamera("sh", []string{"-c", "printf jpeg > " + PathPlaceholder})
	if !cam.Ready() {
		t.Fatalf("expected camera ready when sh is on PATH")
	}
	if err := cam.Capture(context.Background(), out); err != nil {
		t.Fatalf("capture: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil || string(data) != "jpeg" {
		t.Fatalf("unexpected output %q (%v)", data, err)
	}
	if !cam.Ready() {
		t.Fatalf("camera must be ready again after capture")
	}
}

func TestCommandCameraFailures(t *testing.T) {
	dir := t.TempDir()

	missing := NewCommandCamera("definitely-not-a-camera-binary", nil)
	if missing.Ready() {
		t.Fatalf("missing command must not be ready")
	}
	if err := missing.Capture(context.Background(), filepath.Join(dir, "a.jpg")); !errors.Is(err, ErrCameraUnavailable) {
		t.Fatalf("expected ErrCameraUnavailable, got %v", err)
	}

	failing := NewCommandCamera("sh", []string{"-c", "exit 3"})
	if err := failing.Capture(context.Background(), filepath.Join(dir, "b.jpg")); !errors.Is(err, ErrCameraUnavailable) {
		t.Fatalf("expected ErrCameraUnavailable for non-zero exit, got %v", err)
	}

	silent := NewCommandCamera("sh", []string{"-c", "true"})
	if err := silent.Capture(context.Background(), filepath.Join(dir, "c.jpg")); !errors.Is(err, ErrCameraUnavailable) {
		t.Fatalf("expected ErrCameraUnavailable when no file is written, got %v", err)
	}
}

func TestNewCommandCameraDefaultArgs(t *testing.T) {
	cam := NewCommandCamera("libcamera-still", nil)
	if len(cam.args) != len(DefaultArgs) || cam.args[len(cam.args)-1] != PathPlaceholder {
		t.Fatalf("unexpected default args %v", cam.args)
	}
}
