package rendering

import (
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"os"

	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"fluidviz/core"
)

// LoadDither decodes the image at path in the background. The channel
// yields the decoded image once and is then closed; it is closed without a
// value if decoding fails.
func LoadDither(ctx context.Context, path string, logger *zap.Logger) <-chan image.Image {
	out := make(chan image.Image, 1)
	go func() {
		defer close(out)
		img, err := decodeDither(path)
		if err != nil {
			logger.Warn("dithering texture unavailable, keeping placeholder", zap.String("path", path), zap.Error(err))
			return
		}
		select {
		case out <- img:
		case <-ctx.Done():
		}
	}()
	return out
}

func decodeDither(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	b := src.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("decode %s: empty %s image", path, format)
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst, nil
}

func placeholderDither(dev core.Device) (core.Texture, error) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.White)
	tex, err := dev.NewImageTexture(img)
	if err != nil {
		return nil, fmt.Errorf("dithering placeholder: %w", err)
	}
	return tex, nil
}

// swapDither installs a loaded dithering texture at the frame boundary.
func (c *Compositor) swapDither() {
	if c.opts.Dither == nil {
		return
	}
	select {
	case img, ok := <-c.opts.Dither:
		c.opts.Dither = nil
		if !ok {
			return
		}
		tex, err := c.ctx.Device.NewImageTexture(img)
		if err != nil {
			c.logger.Warn("dithering upload failed", zap.Error(err))
			return
		}
		c.ctx.Device.DeleteTexture(c.dither)
		c.dither = tex
		c.logger.Info("dithering texture loaded", zap.Int("width", tex.Width()), zap.Int("height", tex.Height()))
	default:
	}
}

// DitherTexture returns the texture currently bound for dithering.
func (c *Compositor) DitherTexture() core.Texture { return c.dither }
