package configs

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config 主配置结构
type Config struct {
	Server struct {
		IP    string `yaml:"ip"`
		Port  int    `yaml:"port"`
		Token string `yaml:"token"` // 会话token签名密钥
	} `yaml:"server"`

	Log struct {
		LogFormat string `yaml:"log_format"`
		LogLevel  string `yaml:"log_level"`
		LogDir    string `yaml:"log_dir"`
		LogFile   string `yaml:"log_file"`
	} `yaml:"log"`

	Web struct {
		Enabled   bool   `yaml:"enabled"`
		StaticDir string `yaml:"static_dir"`
	} `yaml:"web"`

	Upload  UploadConfig  `yaml:"upload"`
	Convert ConvertConfig `yaml:"convert"`
}

// UploadConfig 上传验证配置
type UploadConfig struct {
	MaxFileSize    int64    `yaml:"max_file_size"`   // 最大文件大小（字节）
	AllowedFormats []string `yaml:"allowed_formats"` // 允许的图片格式
	MaxWidth       int      `yaml:"max_width"`       // 最大宽度
	MaxHeight      int      `yaml:"max_height"`      // 最大高度
	MaxPixels      int64    `yaml:"max_pixels"`      // 最大像素数量
}

// ConvertConfig 转换服务配置
type ConvertConfig struct {
	MaxWorkers      int     `yaml:"max_workers"`       // 转换工作者数量
	MaxTasksPerDay  int     `yaml:"max_tasks_per_day"` // 每客户端每日转换配额
	MaxConcurrent   int     `yaml:"max_concurrent"`    // 每客户端并发转换上限
	DefaultQuality  float64 `yaml:"default_quality"`   // 默认质量因子 [0,1]
	PreviewMaxSize  int     `yaml:"preview_max_size"`  // 预览缩略图最长边（像素）
	ErrorDismissMs  int     `yaml:"error_dismiss_ms"`  // 错误提示自动消失时间（毫秒）
	TaskTimeoutSec  int     `yaml:"task_timeout_sec"`  // 单个转换任务超时（秒）
	HistoryPageSize int     `yaml:"history_page_size"` // 历史记录每页条数
}

// 默认值，配置文件缺省时兜底
const (
	DefaultMaxFileSize    = 15 * 1024 * 1024 // 15 MiB
	DefaultPreviewMaxSize = 320
	DefaultErrorDismissMs = 3500
)

// LoadConfig 从文件加载配置
func LoadConfig() (*Config, string, error) {
	path := ".config.yaml"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, err
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, path, err
	}

	config.ApplyDefaults()
	return config, path, nil
}

// ApplyDefaults 填充缺省配置
func (c *Config) ApplyDefaults() {
	if c.Upload.MaxFileSize <= 0 {
		c.Upload.MaxFileSize = DefaultMaxFileSize
	}
	if len(c.Upload.AllowedFormats) == 0 {
		c.Upload.AllowedFormats = []string{"jpeg", "png", "webp", "bmp"}
	}
	if c.Upload.MaxWidth <= 0 {
		c.Upload.MaxWidth = 16384
	}
	if c.Upload.MaxHeight <= 0 {
		c.Upload.MaxHeight = 16384
	}
	if c.Upload.MaxPixels <= 0 {
		c.Upload.MaxPixels = 64 * 1024 * 1024
	}
	if c.Convert.MaxWorkers <= 0 {
		c.Convert.MaxWorkers = 4
	}
	if c.Convert.MaxTasksPerDay <= 0 {
		c.Convert.MaxTasksPerDay = 500
	}
	if c.Convert.MaxConcurrent <= 0 {
		c.Convert.MaxConcurrent = 1 // 同一会话同时只允许一个转换
	}
	if c.Convert.DefaultQuality <= 0 || c.Convert.DefaultQuality > 1 {
		c.Convert.DefaultQuality = 0.92
	}
	if c.Convert.PreviewMaxSize <= 0 {
		c.Convert.PreviewMaxSize = DefaultPreviewMaxSize
	}
	if c.Convert.ErrorDismissMs <= 0 {
		c.Convert.ErrorDismissMs = DefaultErrorDismissMs
	}
	if c.Convert.TaskTimeoutSec <= 0 {
		c.Convert.TaskTimeoutSec = 60
	}
	if c.Convert.HistoryPageSize <= 0 {
		c.Convert.HistoryPageSize = 20
	}
}
