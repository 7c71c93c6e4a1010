package rendering

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"fluidviz/core"
)

// Capture renders the current fields into an offscreen target sized from
// the capture resolution and writes it as a PNG. It returns the file path.
func (c *Compositor) Capture() (string, error) {
	dev := c.ctx.Device
	res := c.opts.CaptureResolution
	if res <= 0 {
		res = c.ctx.Config.CaptureResolution
	}
	bw, bh := dev.DrawingBufferSize()
	w, h := core.Resolution(float64(res), bw, bh)

	target, err := c.ctx.Pool.Allocate(w, h, c.ctx.Caps.RGBA, core.FilterNearest)
	if err != nil {
		return "", fmt.Errorf("capture target: %w", err)
	}
	defer dev.DeleteTarget(target)

	c.render(target)
	px, err := dev.ReadPixels(target)
	if err != nil {
		return "", fmt.Errorf("capture readback: %w", err)
	}

	dir := c.opts.CaptureDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("capture dir: %w", err)
	}
	path := filepath.Join(dir, c.captureName())
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("capture file: %w", err)
	}
	if err := writePNG(f, captureImage(px, w, h)); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	c.captureCount++
	c.logger.Info("frame captured", zap.String("path", path), zap.Int("width", w), zap.Int("height", h))
	return path, nil
}

// writePNG encodes img into w and closes it. A failed close is reported
// since it may be the write that actually flushed the file.
func writePNG(w io.WriteCloser, img image.Image) (err error) {
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()
	return png.Encode(w, img)
}

func (c *Compositor) captureName() string {
	event, ticket := "", ""
	if c.opts.Session != nil {
		event, ticket = c.opts.Session()
	}
	if event == "" {
		event = "fluid"
	}
	if ticket == "" {
		ticket = "none"
	}
	return fmt.Sprintf("%s_%s_%d.png", event, ticket, c.captureCount)
}

// captureImage clamps readback components to [0,1] and flips the rows so
// the image is top row first.
func captureImage(px []float32, w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := px[y*w*4 : (y+1)*w*4]
		dst := img.Pix[(h-1-y)*img.Stride:]
		for i, v := range src {
			dst[i] = toByte(v)
		}
	}
	return img
}

func toByte(v float32) uint8 {
	if v <= 0 || v != v {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v * 255)
}
