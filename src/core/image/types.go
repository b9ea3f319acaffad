package image

import (
	"image"
	"strings"
)

// UploadedFile 已接受的上传文件，接受后不再修改
type UploadedFile struct {
	Data     []byte // 原始字节
	MIMEType string // 声明的MIME类型
	Size     int64  // 字节长度
	Filename string // 原始文件名
}

// DecodedImage 解码后的图片，持有位图与像素尺寸
type DecodedImage struct {
	Bitmap image.Image
	Width  int
	Height int
	Format string        // 实际解码出的格式
	Source *UploadedFile // 来源文件
}

// ConversionRequest 转换请求：目标MIME类型与质量因子
type ConversionRequest struct {
	TargetMIME string  // image/jpeg, image/png, image/webp, image/bmp
	Quality    float64 // [0,1]，无损格式忽略
}

// ConversionResult 转换结果
type ConversionResult struct {
	DataURI        string // data:<mime>;base64,<payload>
	TargetMIME     string
	Bytes          int64 // 编码后精确字节数
	EstimatedBytes int64 // 由base64文本长度反推的估算值，仅用于展示
}

// ValidationResult 图片验证结果
type ValidationResult struct {
	IsValid      bool   // 是否有效
	Format       string // 实际格式
	Width        int    // 图片宽度
	Height       int    // 图片高度
	FileSize     int64  // 文件大小
	Err          error  // 错误信息
	SecurityRisk string // 安全风险描述
}

// Metrics 图片处理统计信息
type Metrics struct {
	TotalAccepted     int64 // 接受的上传数量
	TotalConverted    int64 // 完成的转换数量
	FailedValidations int64 // 验证失败次数
	FailedDecodes     int64 // 解码失败次数
	FailedConversions int64 // 转换失败次数
}

// 支持的MIME类型
const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
	MIMEWEBP = "image/webp"
	MIMEBMP  = "image/bmp"
)

// mimeByFormat 格式名到MIME类型的映射
var mimeByFormat = map[string]string{
	"jpeg": MIMEJPEG,
	"png":  MIMEPNG,
	"webp": MIMEWEBP,
	"bmp":  MIMEBMP,
}

// NormalizeFormat 归一化格式名，jpg与jpeg等价
func NormalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimPrefix(format, "."))
	if f == "jpg" {
		return "jpeg"
	}
	return f
}

// FormatFromMIME 从MIME类型取子类型token
func FormatFromMIME(mime string) string {
	_, sub, ok := strings.Cut(strings.ToLower(mime), "/")
	if !ok {
		return NormalizeFormat(mime)
	}
	return NormalizeFormat(sub)
}

// MIMEFromFormat 从格式名得到MIME类型，未知格式返回空串
func MIMEFromFormat(format string) string {
	return mimeByFormat[NormalizeFormat(format)]
}
