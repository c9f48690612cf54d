package workspace

import (
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"
)

// DefaultThumbnailSize is the longest edge of a generated thumbnail in pixels.
const DefaultThumbnailSize = 256

// MakeThumbnail scales the image at src so its longest edge is maxEdge and
// writes it to dst as JPEG. Images already smaller are copied at their size.
func MakeThumbnail(src, dst string, maxEdge int) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrIO, src, err)
	}
	defer in.Close()

	img, _, err := image.Decode(in)
	if err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrIO, src, err)
	}

	w, h := thumbnailSize(img.Bounds().Dx(), img.Bounds().Dy(), maxEdge)
	thumb := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(thumb, thumb.Bounds(), img, img.Bounds(), draw.Over, nil)

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrIO, dst, err)
	}
	if err := jpeg.Encode(out, thumb, &jpeg.Options{Quality: 80}); err != nil {
		out.Close()
		return fmt.Errorf("%w: encode %s: %v", ErrIO, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrIO, dst, err)
	}
	return nil
}

func thumbnailSize(w, h, maxEdge int) (int, int) {
	if maxEdge <= 0 {
		maxEdge = DefaultThumbnailSize
	}
	if w <= maxEdge && h <= maxEdge {
		return w, h
	}
	if w >= h {
		return maxEdge, max(1, h*maxEdge/w)
	}
	return max(1, w*maxEdge/h), maxEdge
}
