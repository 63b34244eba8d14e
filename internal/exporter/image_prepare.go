package exporter

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Ganzhe0906/ty-productselect/internal/parser"
)

const thumbnailQuality = 85

// embeddable excelize 可直接嵌入且能计算尺寸的格式
var embeddable = map[string]bool{
	"png":  true,
	"jpeg": true,
	"gif":  true,
}

// preparedImage 可嵌入的图片
type preparedImage struct {
	Data   []byte
	Ext    string // 带点，如 ".png"
	Width  int
	Height int
}

// prepareImage 下载的图片：非 png/jpeg/gif 或宽度超过 maxWidth 时转为 JPEG 缩略图
func prepareImage(data []byte, maxWidth int) (*preparedImage, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unsupported image: %w", err)
	}
	format = parser.NormalizeExt(format)

	if embeddable[format] && (maxWidth <= 0 || cfg.Width <= maxWidth) {
		return &preparedImage{
			Data:   data,
			Ext:    "." + parser.FileExt(format),
			Width:  cfg.Width,
			Height: cfg.Height,
		}, nil
	}

	thumb, w, h, err := resizeToJPEG(data, maxWidth)
	if err != nil {
		return nil, err
	}
	return &preparedImage{Data: thumb, Ext: ".jpg", Width: w, Height: h}, nil
}

// prepareSourceImage 模板图片原样嵌入，只有 excelize 不支持的格式才转码
func prepareSourceImage(img parser.Image, maxWidth int) (*preparedImage, error) {
	ext := parser.NormalizeExt(img.Ext)
	if ext == "webp" {
		return prepareImage(img.Data, maxWidth)
	}

	out := &preparedImage{Data: img.Data, Ext: "." + parser.FileExt(ext)}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data)); err == nil {
		out.Width, out.Height = cfg.Width, cfg.Height
	}
	return out, nil
}

func resizeToJPEG(data []byte, maxWidth int) ([]byte, int, int, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	if maxWidth > 0 && bounds.Dx() > maxWidth {
		height := uint(float64(maxWidth) * float64(bounds.Dy()) / float64(bounds.Dx()))
		if height == 0 {
			height = 1
		}
		img = resize.Resize(uint(maxWidth), height, img, resize.Lanczos3)
		bounds = img.Bounds()
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return nil, 0, 0, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}

// fitScale 等比缩放到 box×box 像素内；尺寸未知时不缩放
func fitScale(width, height, box int) float64 {
	if width <= 0 || height <= 0 || box <= 0 {
		return 1
	}
	scale := math.Min(float64(box)/float64(width), float64(box)/float64(height))
	return math.Round(scale*10000) / 10000
}
