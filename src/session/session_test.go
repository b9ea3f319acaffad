package session

import (
	"sync"
	"testing"
	"time"

	img "pixport-server-go/src/core/image"
)

// newTestManager 测试用会话管理器，错误提示很快消失
func newTestManager(tb testing.TB) *Manager {
	tb.Helper()
	m := NewManager(20 * time.Millisecond)
	tb.Cleanup(m.Stop)
	return m
}

// testDecoded 最小的解码结果占位
func testDecoded() *img.DecodedImage {
	return &img.DecodedImage{
		Width:  4,
		Height: 4,
		Format: "png",
		Source: &img.UploadedFile{
			MIMEType: img.MIMEPNG,
			Size:     128,
			Filename: "test.png",
		},
	}
}

func TestSessionLifecycle(t *testing.T) {
	m := newTestManager(t)
	s := m.NewSession()

	if s.State() != StateIdle {
		t.Fatalf("初始状态 = %s, want idle", s.State())
	}

	s.SetUpload(testDecoded())
	if s.State() != StateEditing {
		t.Fatalf("上传后状态 = %s, want editing", s.State())
	}

	decoded, err := s.BeginConvert()
	if err != nil {
		t.Fatalf("BeginConvert失败: %v", err)
	}
	if decoded == nil {
		t.Fatal("BeginConvert应返回解码结果")
	}

	s.CompleteConvert(&img.ConversionResult{TargetMIME: img.MIMEWEBP}, "test_converted.webp")
	if s.State() != StateResult {
		t.Fatalf("转换后状态 = %s, want result", s.State())
	}

	result, filename := s.Result()
	if result == nil || filename != "test_converted.webp" {
		t.Error("转换结果未保存")
	}
}

func TestSessionConvertGuard(t *testing.T) {
	m := newTestManager(t)
	s := m.NewSession()

	// 没有上传时拒绝转换
	if _, err := s.BeginConvert(); err == nil {
		t.Error("没有上传时BeginConvert应失败")
	}

	s.SetUpload(testDecoded())
	if _, err := s.BeginConvert(); err != nil {
		t.Fatalf("第一次BeginConvert失败: %v", err)
	}

	// 转换进行中拒绝重入
	if _, err := s.BeginConvert(); err == nil {
		t.Error("转换进行中BeginConvert应失败")
	}

	// 失败后允许重试
	s.FailConvert("转换失败")
	if _, err := s.BeginConvert(); err != nil {
		t.Errorf("失败后重试BeginConvert不应被拒绝: %v", err)
	}
}

func TestSessionResetDiscardsEverything(t *testing.T) {
	m := newTestManager(t)
	s := m.NewSession()

	s.SetUpload(testDecoded())
	s.CompleteConvert(&img.ConversionResult{TargetMIME: img.MIMEJPEG}, "x_converted.jpeg")
	s.ShowError("测试错误")

	s.Reset()

	if s.State() != StateIdle {
		t.Errorf("重置后状态 = %s, want idle", s.State())
	}
	if s.Decoded() != nil {
		t.Error("重置后解码结果应被丢弃")
	}
	if result, _ := s.Result(); result != nil {
		t.Error("重置后转换结果应被丢弃")
	}
	if snap := s.Snapshot(); snap.ErrorVisible {
		t.Error("重置后错误提示应被清除")
	}
}

func TestSessionNewUploadReplacesPair(t *testing.T) {
	m := newTestManager(t)
	s := m.NewSession()

	first := testDecoded()
	second := testDecoded()
	second.Source.Filename = "second.png"

	s.SetUpload(first)
	s.CompleteConvert(&img.ConversionResult{TargetMIME: img.MIMEPNG}, "first_converted.png")
	s.SetUpload(second)

	if s.Decoded().Source.Filename != "second.png" {
		t.Error("新上传应替换旧的解码结果")
	}
	if result, _ := s.Result(); result != nil {
		t.Error("新上传应丢弃旧的转换结果")
	}
	if s.State() != StateEditing {
		t.Errorf("新上传后状态 = %s, want editing", s.State())
	}
}

func TestSessionErrorAutoDismiss(t *testing.T) {
	m := newTestManager(t)
	s := m.NewSession()

	s.ShowError("短暂提示")
	if snap := s.Snapshot(); !snap.ErrorVisible || snap.ErrorMessage != "短暂提示" {
		t.Fatal("错误提示应立即可见")
	}

	// 等待自动消失
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !s.Snapshot().ErrorVisible {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("错误提示未自动消失")
}

func TestSessionListenerReceivesEvents(t *testing.T) {
	m := newTestManager(t)

	var mu sync.Mutex
	var events []Event
	m.SetListener(func(event Event) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})

	s := m.NewSession()
	s.SetUpload(testDecoded())
	s.Reset()

	// 监听器异步执行，等事件到齐
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(events)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) < 2 {
		t.Fatalf("收到%d个事件, 至少应有2个", len(events))
	}
	for _, event := range events {
		if event.SessionID != s.ID {
			t.Errorf("事件SessionID = %q, want %q", event.SessionID, s.ID)
		}
	}
}

func TestManagerGetAndRemove(t *testing.T) {
	m := newTestManager(t)

	s := m.NewSession()
	got, err := m.Get(s.ID)
	if err != nil || got != s {
		t.Fatalf("Get(%s)失败: %v", s.ID, err)
	}

	if _, err := m.Get("does-not-exist"); err == nil {
		t.Error("不存在的会话应返回错误")
	}

	m.Remove(s.ID)
	if _, err := m.Get(s.ID); err == nil {
		t.Error("移除后的会话应返回错误")
	}
	if m.Count() != 0 {
		t.Errorf("Count = %d, want 0", m.Count())
	}
}
