package image

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"
	"sync/atomic"

	"pixport-server-go/src/configs"
	"pixport-server-go/src/core/utils"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"golang.org/x/image/bmp"
)

// Converter 格式转换器：把解码后的位图重新编码为目标格式
type Converter struct {
	config  *configs.ConvertConfig
	logger  *utils.Logger
	metrics *Metrics
}

// NewConverter 创建新的格式转换器
func NewConverter(config *configs.ConvertConfig, logger *utils.Logger) *Converter {
	return &Converter{
		config:  config,
		logger:  logger,
		metrics: &Metrics{},
	}
}

// Convert 把解码后的图片重新编码为目标格式
// 表面尺寸与源图一致，不做缩放裁剪；编码失败统一返回 *ConversionError
func (c *Converter) Convert(decoded *DecodedImage, req ConversionRequest) (result *ConversionResult, err error) {
	// 编码器内部异常不允许外泄
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&c.metrics.FailedConversions, 1)
			result = nil
			err = &ConversionError{Cause: fmt.Errorf("编码器异常: %v", r)}
		}
	}()

	targetFormat := FormatFromMIME(req.TargetMIME)
	targetMIME := MIMEFromFormat(targetFormat)
	if targetMIME == "" {
		atomic.AddInt64(&c.metrics.FailedConversions, 1)
		return nil, &ConversionError{Cause: fmt.Errorf("未知的目标格式: %s", req.TargetMIME)}
	}

	surface := c.composite(decoded.Bitmap, targetFormat)

	var buf bytes.Buffer
	buf.Grow(512 * 1024)

	quality := clampQuality(req.Quality)

	switch targetFormat {
	case "jpeg":
		err = jpeg.Encode(&buf, surface, &jpeg.Options{Quality: qualityScale(quality)})
	case "png":
		// 质量因子对无损格式不生效
		enc := &png.Encoder{CompressionLevel: png.BestCompression}
		err = enc.Encode(&buf, surface)
	case "webp":
		err = webp.Encode(&buf, surface, &webp.Options{Quality: float32(qualityScale(quality))})
	case "bmp":
		err = bmp.Encode(&buf, surface)
	default:
		err = fmt.Errorf("没有可用的编码器: %s", targetFormat)
	}

	if err != nil {
		atomic.AddInt64(&c.metrics.FailedConversions, 1)
		c.logger.Warn("编码失败", map[string]interface{}{
			"target_format": targetFormat,
			"error":         err.Error(),
		})
		return nil, &ConversionError{Cause: err}
	}

	dataURI := EncodeDataURI(targetMIME, buf.Bytes())

	atomic.AddInt64(&c.metrics.TotalConverted, 1)

	return &ConversionResult{
		DataURI:        dataURI,
		TargetMIME:     targetMIME,
		Bytes:          int64(buf.Len()),
		EstimatedBytes: EstimateDataURIBytes(dataURI, targetMIME),
	}, nil
}

// composite 把源位图绘制到等尺寸的离屏表面上
// JPEG没有alpha通道，先铺一层不透明白色，透明像素落成白色而不是黑色
func (c *Converter) composite(src image.Image, targetFormat string) *image.RGBA {
	bounds := src.Bounds()
	surface := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	if targetFormat == "jpeg" {
		draw.Draw(surface, surface.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	}

	draw.Draw(surface, surface.Bounds(), src, bounds.Min, draw.Over)
	return surface
}

// Preview 生成预览缩略图，最长边不超过maxSize，输出PNG data URI
func (c *Converter) Preview(decoded *DecodedImage, maxSize int) (string, error) {
	if maxSize <= 0 {
		maxSize = configs.DefaultPreviewMaxSize
	}

	thumb := imaging.Fit(decoded.Bitmap, maxSize, maxSize, imaging.Lanczos)

	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		return "", &ConversionError{Cause: fmt.Errorf("预览编码失败: %v", err)}
	}

	return EncodeDataURI(MIMEPNG, buf.Bytes()), nil
}

// GetMetrics 获取转换统计信息
func (c *Converter) GetMetrics() Metrics {
	return Metrics{
		TotalConverted:    atomic.LoadInt64(&c.metrics.TotalConverted),
		FailedConversions: atomic.LoadInt64(&c.metrics.FailedConversions),
	}
}

// EncodeDataURI 把编码后的字节打包成data URI
func EncodeDataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// EstimateDataURIBytes 由data URI文本长度估算载荷字节数
// bytes ≈ floor((uriLen - headerLen) * 3 / 4)
// 这是估算值而不是编码器的精确字节数，base64填充会带来最多2字节偏差
func EstimateDataURIBytes(dataURI string, mime string) int64 {
	headerLen := len("data:") + len(mime) + len(";base64,")
	payloadLen := len(dataURI) - headerLen
	if payloadLen < 0 {
		return 0
	}
	return int64(payloadLen) * 3 / 4
}

// clampQuality 把质量因子限制在[0,1]
func clampQuality(q float64) float64 {
	if q <= 0 {
		return 0
	}
	if q >= 1 {
		return 1
	}
	return q
}

// qualityScale 把[0,1]的质量因子换算成编码器的1..100档位
func qualityScale(q float64) int {
	scaled := int(math.Round(q * 100))
	if scaled < 1 {
		scaled = 1
	}
	if scaled > 100 {
		scaled = 100
	}
	return scaled
}
