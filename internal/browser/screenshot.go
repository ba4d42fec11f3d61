// File: internal/browser/screenshot.go
package browser

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // decoder for captured frames
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

// TrajectoryDir holds the per-step screenshots inside a task output directory.
const TrajectoryDir = "trajectory"

var errNoImageData = errors.New("screenshot response carried no image data")

// EncodedImage is a compressed frame ready to attach to an agent message.
type EncodedImage struct {
	Name     string
	MimeType string
	Width    int
	Height   int
	Data     []byte
}

// Base64 returns the standard base64 encoding of the image bytes.
func (e *EncodedImage) Base64() string {
	return base64.StdEncoding.EncodeToString(e.Data)
}

// captureScreenshot takes a PNG screenshot and saves it under the trajectory
// directory, retrying a bounded number of times. A capture that fails every
// attempt is counted and otherwise ignored.
func (f *Facade) captureScreenshot(ctx context.Context, name string) (string, bool) {
	var lastErr error
	for attempt := 1; attempt <= f.opts.ScreenshotAttempts; attempt++ {
		path, err := f.saveScreenshot(ctx, name)
		if err == nil {
			f.mu.Lock()
			f.screenshots = append(f.screenshots, path)
			f.mu.Unlock()
			f.logger.Debug("Saved screenshot", zap.String("path", path), zap.Int("attempt", attempt))
			return path, true
		}
		lastErr = err
		f.logger.Debug("Screenshot attempt failed", zap.String("name", name), zap.Int("attempt", attempt), zap.Error(err))

		if attempt < f.opts.ScreenshotAttempts {
			if err := f.sleep(ctx, f.opts.ScreenshotRetryInterval); err != nil {
				lastErr = err
				break
			}
		}
	}

	f.mu.Lock()
	f.screenshotFailures++
	f.mu.Unlock()
	f.logger.Warn("Screenshot capture failed", zap.String("name", name), zap.Error(lastErr))
	return "", false
}

func (f *Facade) saveScreenshot(ctx context.Context, name string) (string, error) {
	res, err := f.caller.CallTool(ctx, toolScreenshot, map[string]interface{}{"type": "png"})
	if err != nil {
		return "", err
	}
	data, ok := res.ImageData()
	if !ok || len(data) == 0 {
		return "", errNoImageData
	}

	dir := filepath.Join(f.opts.OutputDir, TrajectoryDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create trajectory directory: %w", err)
	}
	path := filepath.Join(dir, name+".png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}
	return path, nil
}

// LatestScreenshotJPEG re-encodes the most recent screenshot as a JPEG no
// wider than the configured maximum. Transparent pixels are flattened onto
// white. It returns (nil, nil) when no screenshot has been captured.
func (f *Facade) LatestScreenshotJPEG() (*EncodedImage, error) {
	f.mu.Lock()
	if len(f.screenshots) == 0 {
		f.mu.Unlock()
		return nil, nil
	}
	path := f.screenshots[len(f.screenshots)-1]
	f.mu.Unlock()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read screenshot %s: %w", path, err)
	}
	img, err := CompressJPEG(raw, f.opts.MaxWidth, f.opts.JPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("failed to compress screenshot %s: %w", path, err)
	}
	img.Name = filepath.Base(path)
	return img, nil
}

// CompressJPEG decodes an image, scales it down to maxWidth when wider and
// encodes it as a JPEG on a white background.
func CompressJPEG(raw []byte, maxWidth, quality int) (*EncodedImage, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if maxWidth > 0 && w > maxWidth {
		h = h * maxWidth / w
		if h < 1 {
			h = 1
		}
		w = maxWidth
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	if w == bounds.Dx() && h == bounds.Dy() {
		draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	}

	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return &EncodedImage{MimeType: "image/jpeg", Width: w, Height: h, Data: buf.Bytes()}, nil
}
