package image

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"pixport-server-go/src/configs"
	"pixport-server-go/src/core/utils"
)

// newTestLogger 测试用日志记录器，日志写到临时目录
func newTestLogger(tb testing.TB) *utils.Logger {
	tb.Helper()

	config := &configs.Config{}
	config.Log.LogLevel = "error"
	config.Log.LogDir = tb.TempDir()
	config.Log.LogFile = "test.log"

	logger, err := utils.NewLogger(config)
	if err != nil {
		tb.Fatalf("创建测试日志记录器失败: %v", err)
	}
	tb.Cleanup(func() { logger.Close() })
	return logger
}

// testUploadConfig 测试用上传配置
func testUploadConfig() *configs.UploadConfig {
	return &configs.UploadConfig{
		MaxFileSize:    configs.DefaultMaxFileSize,
		AllowedFormats: []string{"jpeg", "png", "webp", "bmp"},
		MaxWidth:       16384,
		MaxHeight:      16384,
		MaxPixels:      64 * 1024 * 1024,
	}
}

// makePNG 生成测试用PNG字节，withAlpha为true时左半边完全透明
func makePNG(tb testing.TB, width, height int, withAlpha bool) []byte {
	tb.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if withAlpha && x < width/2 {
				img.Set(x, y, color.RGBA{0, 0, 0, 0})
			} else {
				img.Set(x, y, color.RGBA{255, 0, 0, 255})
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		tb.Fatalf("生成测试PNG失败: %v", err)
	}
	return buf.Bytes()
}

func TestValidatorRejectsOversizedFile(t *testing.T) {
	config := testUploadConfig()
	config.MaxFileSize = 64
	v := NewValidator(config, newTestLogger(t))

	data := makePNG(t, 16, 16, false)
	if int64(len(data)) <= config.MaxFileSize {
		t.Fatalf("测试数据应超过大小限制")
	}

	result := v.Validate(data, "png")
	if result.IsValid {
		t.Fatal("超限文件不应通过验证")
	}
	var validationErr *ValidationError
	if !errors.As(result.Err, &validationErr) {
		t.Errorf("期望ValidationError，实际: %T", result.Err)
	}
}

func TestValidatorRejectsDisallowedFormat(t *testing.T) {
	v := NewValidator(testUploadConfig(), newTestLogger(t))

	result := v.Validate(makePNG(t, 4, 4, false), "gif")
	if result.IsValid {
		t.Fatal("不在允许集合内的格式不应通过验证")
	}
	var validationErr *ValidationError
	if !errors.As(result.Err, &validationErr) {
		t.Errorf("期望ValidationError，实际: %T", result.Err)
	}
}

func TestValidatorRejectsExecutableHeader(t *testing.T) {
	v := NewValidator(testUploadConfig(), newTestLogger(t))

	tests := []struct {
		name string
		data []byte
	}{
		{"PE文件头", append([]byte{0x4D, 0x5A}, make([]byte, 64)...)},
		{"ELF文件头", append([]byte{0x7F, 0x45, 0x4C, 0x46}, make([]byte, 64)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(tt.data, "png")
			if result.IsValid {
				t.Fatal("可执行文件签名不应通过验证")
			}
			var validationErr *ValidationError
			if !errors.As(result.Err, &validationErr) {
				t.Errorf("期望ValidationError，实际: %T", result.Err)
			}
		})
	}
}

func TestValidatorCorruptDataIsDecodeError(t *testing.T) {
	v := NewValidator(testUploadConfig(), newTestLogger(t))

	// 带PNG文件头但内容损坏
	data := append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, bytes.Repeat([]byte{0xAB}, 64)...)
	result := v.Validate(data, "png")
	if result.IsValid {
		t.Fatal("损坏数据不应通过验证")
	}
	var decodeErr *DecodeError
	if !errors.As(result.Err, &decodeErr) {
		t.Errorf("期望DecodeError，实际: %T", result.Err)
	}
}

func TestValidatorAcceptsValidImage(t *testing.T) {
	v := NewValidator(testUploadConfig(), newTestLogger(t))

	result := v.Validate(makePNG(t, 32, 24, false), "png")
	if !result.IsValid {
		t.Fatalf("有效PNG应通过验证: %v", result.Err)
	}
	if result.Format != "png" {
		t.Errorf("Format = %q, want png", result.Format)
	}
	if result.Width != 32 || result.Height != 24 {
		t.Errorf("尺寸 = %dx%d, want 32x24", result.Width, result.Height)
	}
}

func TestValidatorRejectsPixelBomb(t *testing.T) {
	config := testUploadConfig()
	config.MaxPixels = 100
	v := NewValidator(config, newTestLogger(t))

	result := v.Validate(makePNG(t, 32, 32, false), "png")
	if result.IsValid {
		t.Fatal("像素总数超限不应通过验证")
	}
	var validationErr *ValidationError
	if !errors.As(result.Err, &validationErr) {
		t.Errorf("期望ValidationError，实际: %T", result.Err)
	}
}

func TestValidateFileSignature(t *testing.T) {
	v := NewValidator(testUploadConfig(), newTestLogger(t))

	tests := []struct {
		name   string
		data   []byte
		format string
		want   bool
	}{
		{"PNG签名匹配", makePNG(t, 2, 2, false), "png", true},
		{"JPEG前两个字节", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "jpeg", true},
		{"jpg与jpeg等价", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "jpg", true},
		{"BMP签名", []byte{0x42, 0x4D, 0x00, 0x00}, "bmp", true},
		{"RIFF但不是WEBP", append([]byte("RIFF1234"), []byte("WAVE")...), "webp", false},
		{"完整WEBP签名", append([]byte("RIFF1234"), []byte("WEBP")...), "webp", true},
		{"签名不匹配", []byte{0x00, 0x01, 0x02, 0x03}, "png", false},
		{"数据太短", []byte{0x89}, "png", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := v.validateFileSignature(tt.data, tt.format); got != tt.want {
				t.Errorf("validateFileSignature(%s) = %v, want %v", tt.format, got, tt.want)
			}
		})
	}
}
