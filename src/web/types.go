package web

import (
	img "pixport-server-go/src/core/image"
	"pixport-server-go/src/session"
)

// UploadResponse 上传接口响应
type UploadResponse struct {
	Success  bool          `json:"success"`
	Message  string        `json:"message,omitempty"`
	Token    string        `json:"token,omitempty"` // 会话token，后续请求携带
	Filename string        `json:"filename,omitempty"`
	Format   string        `json:"format,omitempty"`
	Width    int           `json:"width,omitempty"`
	Height   int           `json:"height,omitempty"`
	Size     int64         `json:"size,omitempty"`
	SizeText string        `json:"size_text,omitempty"`
	Preview  string        `json:"preview,omitempty"` // 缩略图data URI
	State    session.State `json:"state,omitempty"`
}

// ConvertRequest 转换接口请求
type ConvertRequest struct {
	Format  string   `json:"format" binding:"required,oneof=jpeg png webp bmp"`
	Quality *float64 `json:"quality" binding:"omitempty,min=0,max=1"` // 缺省用配置默认值
}

// ConvertResponse 转换接口响应
type ConvertResponse struct {
	Success        bool          `json:"success"`
	Message        string        `json:"message,omitempty"`
	DataURI        string        `json:"data_uri,omitempty"`
	Filename       string        `json:"filename,omitempty"` // 建议下载文件名
	MIMEType       string        `json:"mime_type,omitempty"`
	OriginalBytes  int64         `json:"original_bytes,omitempty"`
	EstimatedBytes int64         `json:"estimated_bytes,omitempty"` // base64长度估算值
	Savings        *img.Savings  `json:"savings,omitempty"`
	DurationMs     int64         `json:"duration_ms,omitempty"`
	State          session.State `json:"state,omitempty"`
}

// ThemeRequest 主题偏好请求
type ThemeRequest struct {
	Theme string `json:"theme" binding:"required,oneof=light dark"`
}

// ErrorResponse 统一错误响应，kind对应三类错误提示
type ErrorResponse struct {
	Success bool   `json:"success"`
	Kind    string `json:"kind,omitempty"` // validation / decode / conversion
	Message string `json:"message"`
}

// 错误提示类别
const (
	ErrorKindValidation = "validation"
	ErrorKindDecode     = "decode"
	ErrorKindConversion = "conversion"
)
