package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"sync/atomic"

	"pixport-server-go/src/configs"
	"pixport-server-go/src/core/utils"
)

// Intake 上传接收器：读取、验证并解码上传文件
// 读取与解码对调用方表现为一次调用，返回解码结果或带类型的错误
type Intake struct {
	config    *configs.UploadConfig
	validator *Validator
	logger    *utils.Logger
	metrics   *Metrics
}

// NewIntake 创建新的上传接收器
func NewIntake(config *configs.UploadConfig, logger *utils.Logger) *Intake {
	return &Intake{
		config:    config,
		validator: NewValidator(config, logger),
		logger:    logger,
		metrics:   &Metrics{},
	}
}

// AcceptFile 接收上传文件并解码
// declaredSize 是平台在读取前就能拿到的字节长度，<0 表示未知
// 验证失败返回 *ValidationError，读取或解码失败返回 *DecodeError
func (in *Intake) AcceptFile(ctx context.Context, r io.Reader, declaredMIME string, declaredSize int64, filename string) (*DecodedImage, error) {
	// 声明的MIME类型不在允许集合内时不做任何解码尝试
	declaredFormat := FormatFromMIME(declaredMIME)
	if MIMEFromFormat(declaredFormat) == "" || !in.validator.isFormatAllowed(declaredFormat) {
		atomic.AddInt64(&in.metrics.FailedValidations, 1)
		return nil, &ValidationError{Reason: fmt.Sprintf("不支持的类型: %s", declaredMIME)}
	}

	// 读取前先用声明的大小挡掉超限文件
	if declaredSize > in.config.MaxFileSize {
		atomic.AddInt64(&in.metrics.FailedValidations, 1)
		return nil, &ValidationError{Reason: fmt.Sprintf(
			"文件大小超限: %d bytes，最大允许: %d bytes", declaredSize, in.config.MaxFileSize)}
	}

	if err := ctx.Err(); err != nil {
		return nil, &DecodeError{Cause: err}
	}

	// 多读一个字节以便识别声明大小不实的流
	data, err := io.ReadAll(io.LimitReader(r, in.config.MaxFileSize+1))
	if err != nil {
		atomic.AddInt64(&in.metrics.FailedDecodes, 1)
		return nil, &DecodeError{Cause: fmt.Errorf("读取上传数据失败: %v", err)}
	}
	if len(data) == 0 {
		atomic.AddInt64(&in.metrics.FailedDecodes, 1)
		return nil, &DecodeError{Cause: fmt.Errorf("上传数据为空")}
	}
	if int64(len(data)) > in.config.MaxFileSize {
		atomic.AddInt64(&in.metrics.FailedValidations, 1)
		return nil, &ValidationError{Reason: fmt.Sprintf(
			"文件大小超限: 超过最大允许 %d bytes", in.config.MaxFileSize)}
	}

	// 验证：大小、格式、文件头与解码探测
	result := in.validator.Validate(data, declaredFormat)
	if !result.IsValid {
		if _, ok := result.Err.(*DecodeError); ok {
			atomic.AddInt64(&in.metrics.FailedDecodes, 1)
		} else {
			atomic.AddInt64(&in.metrics.FailedValidations, 1)
		}
		if result.SecurityRisk != "" {
			in.logger.Warn("上传验证未通过", map[string]interface{}{
				"error":         result.Err.Error(),
				"security_risk": result.SecurityRisk,
				"filename":      filename,
			})
		}
		return nil, result.Err
	}

	// 完整解码为位图
	bitmap, actualFormat, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		atomic.AddInt64(&in.metrics.FailedDecodes, 1)
		return nil, &DecodeError{Cause: err}
	}

	atomic.AddInt64(&in.metrics.TotalAccepted, 1)

	decoded := &DecodedImage{
		Bitmap: bitmap,
		Width:  result.Width,
		Height: result.Height,
		Format: NormalizeFormat(actualFormat),
		Source: &UploadedFile{
			Data:     data,
			MIMEType: declaredMIME,
			Size:     int64(len(data)),
			Filename: filename,
		},
	}

	in.logger.Debug("上传解码完成", map[string]interface{}{
		"filename": filename,
		"format":   decoded.Format,
		"width":    decoded.Width,
		"height":   decoded.Height,
		"size":     decoded.Source.Size,
	})

	return decoded, nil
}

// GetMetrics 获取处理统计信息
func (in *Intake) GetMetrics() Metrics {
	return Metrics{
		TotalAccepted:     atomic.LoadInt64(&in.metrics.TotalAccepted),
		FailedValidations: atomic.LoadInt64(&in.metrics.FailedValidations),
		FailedDecodes:     atomic.LoadInt64(&in.metrics.FailedDecodes),
	}
}
