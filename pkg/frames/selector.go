// Package frames discovers input images and selects keyframes by
// optical-flow disparity, producing the ordered stream consumed by the
// submap builder.
package frames

import (
	"archive/zip"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/sdunifon/vggt-slam/internal/models"
)

// ErrNoImages is returned when the input contains no decodable images.
var ErrNoImages = errors.New("no valid images found")

// Discover lists candidate image paths under root, which may be a
// directory tree or a .zip archive. Recognized extensions are .jpg,
// .jpeg and .png; files whose name contains "depth" are skipped.
// Paths are returned in trajectory order: by the numeric token embedded
// in the filename, ties broken lexicographically.
func Discover(root string) ([]string, error) {
	if strings.EqualFold(filepath.Ext(root), ".zip") {
		extracted, err := extractArchive(root)
		if err != nil {
			return nil, errors.Wrap(err, "extracting archive")
		}
		root = extracted
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isImagePath(path) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "reading input directory")
	}
	if len(paths) == 0 {
		return nil, ErrNoImages
	}

	// Sort by the numeric part of the filename to keep the sequential
	// nature of the trajectory, the same way slices are ordered.
	sort.Slice(paths, func(i, j int) bool {
		numI := extractNumber(paths[i])
		numJ := extractNumber(paths[j])
		if numI != numJ {
			return numI < numJ
		}
		return paths[i] < paths[j]
	})
	return paths, nil
}

func isImagePath(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	if strings.Contains(name, "depth") {
		return false
	}
	switch filepath.Ext(name) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// extractNumber extracts the numeric part from a filename
func extractNumber(path string) int {
	base := filepath.Base(path)
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}
	if numStr != "" {
		if num, err := strconv.Atoi(numStr); err == nil {
			return num
		}
	}
	return 0
}

// extractArchive unpacks a zip of images into a temporary directory and
// returns that directory. Directory entries and oversized names are
// skipped rather than failing the whole archive.
func extractArchive(zipPath string) (string, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	dir, err := os.MkdirTemp("", "vggt-slam-images-")
	if err != nil {
		return "", err
	}

	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() || !isImagePath(entry.Name) {
			continue
		}
		dst := filepath.Join(dir, filepath.Base(entry.Name))
		if err := copyZipEntry(entry, dst); err != nil {
			return "", errors.Wrapf(err, "extracting %s", entry.Name)
		}
	}
	return dir, nil
}

func copyZipEntry(entry *zip.File, dst string) error {
	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, src)
	return err
}

// loadImage decodes a single image from disk.
func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if strings.EqualFold(filepath.Ext(path), ".png") {
		return png.Decode(file)
	}
	img, err := jpeg.Decode(file)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// Item is one element of the keyframe stream: a keyframe or a terminal
// error, never both.
type Item struct {
	Keyframe models.Keyframe
	Err      error
}

// Selector filters an ordered image set down to keyframes. A candidate
// is accepted when its flow disparity against the last accepted
// keyframe reaches MinDisparity; the first decodable frame is always
// accepted. The selector holds no state between Stream calls, so the
// same input always yields the same keyframe sequence.
type Selector struct {
	paths        []string
	minDisparity float64
	logger       golog.Logger
}

// NewSelector creates a selector over discovered image paths.
func NewSelector(paths []string, minDisparity float64, logger golog.Logger) *Selector {
	return &Selector{paths: paths, minDisparity: minDisparity, logger: logger}
}

// Stream lazily decodes and gates candidates, emitting keyframes in
// order. The channel is closed after the last item; if no candidate
// decodes, the final item carries ErrNoImages. Cancellation stops the
// stream at the next frame boundary; a consumer that stops reading
// must cancel ctx so the producer goroutine can exit.
func (s *Selector) Stream(ctx context.Context) <-chan Item {
	// Buffered so decoding and gating run ahead while the consumer is
	// busy building the current submap.
	out := make(chan Item, 16)
	go func() {
		defer close(out)

		tracker := newFlowTracker()
		index := 0
		for _, path := range s.paths {
			if ctx.Err() != nil {
				// Best effort only: a gone consumer must not keep the
				// producer alive.
				select {
				case out <- Item{Err: ctx.Err()}:
				default:
				}
				return
			}

			img, err := loadImage(path)
			if err != nil {
				s.logger.Debugw("skipping undecodable image", "path", path, "error", err)
				continue
			}

			disparity, enough := tracker.Advance(img, s.minDisparity)
			if !enough {
				continue
			}

			kf := models.Keyframe{
				Frame: models.Frame{
					Path:     path,
					OrderKey: extractNumber(path),
					Image:    img,
				},
				Index:     index,
				Disparity: disparity,
			}
			index++

			select {
			case out <- Item{Keyframe: kf}:
			case <-ctx.Done():
				select {
				case out <- Item{Err: ctx.Err()}:
				default:
				}
				return
			}
		}

		if index == 0 {
			out <- Item{Err: ErrNoImages}
		}
	}()
	return out
}

// Select drains the stream into a slice. Mostly a test convenience;
// the solver consumes Stream directly.
func (s *Selector) Select(ctx context.Context) ([]models.Keyframe, error) {
	var kfs []models.Keyframe
	for item := range s.Stream(ctx) {
		if item.Err != nil {
			return nil, item.Err
		}
		kfs = append(kfs, item.Keyframe)
	}
	return kfs, nil
}
