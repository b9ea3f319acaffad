package image

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"pixport-server-go/src/configs"
	"pixport-server-go/src/core/utils"

	_ "image/jpeg" // 注册JPEG解码器
	_ "image/png"  // 注册PNG解码器

	_ "golang.org/x/image/bmp"  // 注册BMP解码器
	_ "golang.org/x/image/webp" // 注册WEBP解码器
)

// Validator 图片验证器，在完整解码前做类型、大小与文件头检查
type Validator struct {
	config *configs.UploadConfig
	logger *utils.Logger
}

// NewValidator 创建新的图片验证器
func NewValidator(config *configs.UploadConfig, logger *utils.Logger) *Validator {
	return &Validator{
		config: config,
		logger: logger,
	}
}

// 图片格式魔数签名
var imageSignatures = map[string][]byte{
	"jpeg": {0xFF, 0xD8}, // JPEG文件只需要前两个字节
	"png":  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	"webp": {0x52, 0x49, 0x46, 0x46}, // RIFF，需要进一步检查WEBP标识
	"bmp":  {0x42, 0x4D},
}

// 可执行文件签名，出现在文件开头时直接拒绝
var executableSignatures = [][]byte{
	{0x4D, 0x5A},             // PE文件头 (MZ)
	{0x7F, 0x45, 0x4C, 0x46}, // ELF文件头
	{0xCA, 0xFE, 0xBA, 0xBE}, // Mach-O文件头
}

// Validate 验证图片数据
// 顺序：大小 -> 声明格式 -> 可执行签名 -> 文件头 -> 解码探测
// 前四步失败返回ValidationError，解码探测失败返回DecodeError
func (v *Validator) Validate(data []byte, declaredFormat string) ValidationResult {
	result := ValidationResult{IsValid: false, Format: NormalizeFormat(declaredFormat)}

	// 1. 基础大小检查
	if int64(len(data)) > v.config.MaxFileSize {
		result.Err = &ValidationError{Reason: fmt.Sprintf(
			"文件大小超限: %d bytes，最大允许: %d bytes", len(data), v.config.MaxFileSize)}
		result.SecurityRisk = "文件过大，解码为未压缩位图时可能耗尽内存"
		v.logger.Warn("检测到超大文件", map[string]interface{}{
			"size":     len(data),
			"max_size": v.config.MaxFileSize,
			"format":   declaredFormat,
		})
		return result
	}

	// 2. 格式支持检查
	if declaredFormat != "" && !v.isFormatAllowed(declaredFormat) {
		result.Err = &ValidationError{Reason: fmt.Sprintf("不支持的格式: %s", declaredFormat)}
		result.SecurityRisk = "使用了不被允许的格式"
		return result
	}

	// 3. 可执行文件检查
	for _, signature := range executableSignatures {
		if bytes.HasPrefix(data, signature) {
			result.Err = &ValidationError{Reason: "文件开头检测到可执行文件签名"}
			result.SecurityRisk = "可能包含恶意载荷"
			v.logger.Warn("文件开头检测到可执行文件签名", map[string]interface{}{
				"signature_hex": fmt.Sprintf("%x", signature),
			})
			return result
		}
	}

	// 4. 文件头检查
	// 文件头不匹配只记录警告，交给解码探测做最终裁决，
	// 有些图片文件头稍有出入但仍然可以解码
	if declaredFormat != "" && !v.validateFileSignature(data, declaredFormat) {
		v.logger.Warn("文件头验证失败，继续尝试解码", map[string]interface{}{
			"declared_format": declaredFormat,
			"actual_header":   fmt.Sprintf("%x", data[:utils.MinInt(len(data), 16)]),
		})
	}

	// 5. 解码探测，这是最可靠的验证方式
	return v.probeDecoding(data, result.Format)
}

// validateFileSignature 验证文件头签名
func (v *Validator) validateFileSignature(data []byte, format string) bool {
	signature, exists := imageSignatures[NormalizeFormat(format)]
	if !exists {
		return false
	}

	if len(data) < len(signature) {
		return false
	}

	if !bytes.HasPrefix(data, signature) {
		return false
	}

	// WEBP需要额外验证RIFF块里的WEBP标识
	if NormalizeFormat(format) == "webp" && len(data) >= 12 {
		return bytes.Equal(data[8:12], []byte("WEBP"))
	}

	return true
}

// isFormatAllowed 检查格式是否被允许
func (v *Validator) isFormatAllowed(format string) bool {
	formatLower := NormalizeFormat(format)
	for _, allowedFormat := range v.config.AllowedFormats {
		if strings.ToLower(allowedFormat) == formatLower {
			return true
		}
	}
	return false
}

// probeDecoding 用解码器探测图片头信息并检查尺寸限制
func (v *Validator) probeDecoding(data []byte, format string) ValidationResult {
	result := ValidationResult{Format: format}
	reader := bytes.NewReader(data)

	config, actualFormat, err := image.DecodeConfig(reader)
	if err != nil {
		result.Err = &DecodeError{Cause: err}
		result.SecurityRisk = "可能包含损坏的图片数据"
		return result
	}

	// 更新实际格式
	if actualFormat != "" {
		result.Format = NormalizeFormat(actualFormat)
	}

	// 检查尺寸限制
	if config.Width > v.config.MaxWidth || config.Height > v.config.MaxHeight {
		result.Err = &ValidationError{Reason: fmt.Sprintf(
			"图片尺寸超限: %dx%d，最大允许: %dx%d",
			config.Width, config.Height, v.config.MaxWidth, v.config.MaxHeight)}
		result.SecurityRisk = "图片过大，可能消耗过多资源"
		return result
	}

	// 检查像素总数
	totalPixels := int64(config.Width) * int64(config.Height)
	if totalPixels > v.config.MaxPixels {
		result.Err = &ValidationError{Reason: fmt.Sprintf(
			"像素总数超限: %d，最大允许: %d", totalPixels, v.config.MaxPixels)}
		result.SecurityRisk = "像素过多，可能导致内存耗尽"
		return result
	}

	result.IsValid = true
	result.Width = config.Width
	result.Height = config.Height
	result.FileSize = int64(len(data))

	v.logger.Debug("图片验证成功", map[string]interface{}{
		"format": result.Format,
		"width":  result.Width,
		"height": result.Height,
		"size":   result.FileSize,
	})

	return result
}
