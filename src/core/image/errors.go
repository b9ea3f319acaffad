package image

import "fmt"

// 三类错误：验证失败（同步）、解码失败（异步）、转换失败
// 全部以toast形式反馈给用户，不中断服务

// ValidationError 类型或大小不符合要求，在解码之前检出
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("图片验证失败: %s", e.Reason)
}

// DecodeError 文件读取或图片解码失败
type DecodeError struct {
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("图片解码失败: %v", e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// ConversionError 编码阶段失败，统一报告，不区分具体原因
type ConversionError struct {
	Cause error
}

func (e *ConversionError) Error() string {
	return "图片转换失败"
}

func (e *ConversionError) Unwrap() error {
	return e.Cause
}
