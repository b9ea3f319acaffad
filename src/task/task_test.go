package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

// testResourceConfig 测试用资源配置
func testResourceConfig() ResourceConfig {
	return ResourceConfig{
		MaxWorkers:     2,
		MaxTasksPerDay: 5,
		MaxConcurrent:  1,
		TaskTimeout:    5 * time.Second,
	}
}

func TestResourceQuotaDailyLimit(t *testing.T) {
	rq := NewResourceQuota(3, 10)

	for i := 0; i < 3; i++ {
		if err := rq.TryAcquire(); err != nil {
			t.Fatalf("第%d次TryAcquire失败: %v", i+1, err)
		}
		rq.Release()
	}

	if err := rq.TryAcquire(); err == nil {
		t.Error("超过每日配额后TryAcquire应失败")
	}
}

func TestResourceQuotaConcurrentLimit(t *testing.T) {
	rq := NewResourceQuota(100, 1)

	if err := rq.TryAcquire(); err != nil {
		t.Fatalf("TryAcquire失败: %v", err)
	}

	// 并发名额已满，失败时不消耗每日配额
	usedBefore := rq.UsedToday
	if err := rq.TryAcquire(); err == nil {
		t.Error("并发已满时TryAcquire应失败")
	}
	if rq.UsedToday != usedBefore {
		t.Errorf("失败的TryAcquire不应消耗配额: UsedToday=%d", rq.UsedToday)
	}

	rq.Release()
	if err := rq.TryAcquire(); err != nil {
		t.Errorf("释放后TryAcquire应成功: %v", err)
	}
}

func TestResourceQuotaRollback(t *testing.T) {
	rq := NewResourceQuota(2, 2)

	if err := rq.TryAcquire(); err != nil {
		t.Fatalf("TryAcquire失败: %v", err)
	}
	rq.Rollback()

	if rq.UsedToday != 0 || rq.Running != 0 {
		t.Errorf("回滚后 UsedToday=%d Running=%d, want 0 0", rq.UsedToday, rq.Running)
	}
}

func TestResourceQuotaDailyReset(t *testing.T) {
	rq := NewResourceQuota(1, 10)

	if err := rq.TryAcquire(); err != nil {
		t.Fatalf("TryAcquire失败: %v", err)
	}
	rq.Release()
	if err := rq.TryAcquire(); err == nil {
		t.Fatal("配额用完后TryAcquire应失败")
	}

	// 模拟跨天
	rq.mu.Lock()
	rq.LastResetDate = time.Now().AddDate(0, 0, -1)
	rq.mu.Unlock()

	if err := rq.TryAcquire(); err != nil {
		t.Errorf("跨天后配额应重置: %v", err)
	}
}

func TestSubmitTaskUnregisteredType(t *testing.T) {
	tm := NewTaskManager(testResourceConfig())
	tm.Start()
	defer tm.Stop()

	task, _ := NewTask(context.Background(), TaskType("never-registered"), nil)
	if err := tm.SubmitTask("client-1", task); err == nil {
		t.Error("未注册的任务类型应被拒绝")
	}
}

func TestSubmitTaskExecutesAndReleasesQuota(t *testing.T) {
	taskType := TaskType("test-echo")
	RegisterTaskExecutor(taskType, func(t *Task) error {
		t.Result = t.Params
		return nil
	})

	tm := NewTaskManager(testResourceConfig())
	tm.Start()
	defer tm.Stop()

	done := make(chan interface{}, 1)
	task, _ := NewTask(context.Background(), taskType, "payload")
	task.Callback = NewCallBack(func(result interface{}, err error) {
		if err != nil {
			done <- err
			return
		}
		done <- result
	})

	if err := tm.SubmitTask("client-echo", task); err != nil {
		t.Fatalf("SubmitTask失败: %v", err)
	}

	select {
	case got := <-done:
		if got != "payload" {
			t.Errorf("回调结果 = %v, want payload", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("等待任务回调超时")
	}

	// 并发名额应在任务结束后释放，可以再次提交
	deadline := time.Now().Add(2 * time.Second)
	for {
		next, _ := NewTask(context.Background(), taskType, "again")
		next.Callback = NewCallBack(func(result interface{}, err error) {})
		err := tm.SubmitTask("client-echo", next)
		if err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("任务结束后配额未释放: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSubmitTaskFailureReachesCallback(t *testing.T) {
	taskType := TaskType("test-always-fail")
	wantErr := errors.New("执行失败")
	RegisterTaskExecutor(taskType, func(t *Task) error {
		return wantErr
	})

	tm := NewTaskManager(testResourceConfig())
	tm.Start()
	defer tm.Stop()

	done := make(chan error, 1)
	task, _ := NewTask(context.Background(), taskType, nil)
	task.Callback = NewCallBack(func(result interface{}, err error) {
		done <- err
	})

	if err := tm.SubmitTask("client-fail", task); err != nil {
		t.Fatalf("SubmitTask失败: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, wantErr) {
			t.Errorf("回调错误 = %v, want %v", err, wantErr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("等待失败回调超时")
	}
}

func TestSubmitTaskConcurrentGuard(t *testing.T) {
	taskType := TaskType("test-slow")
	release := make(chan struct{})
	RegisterTaskExecutor(taskType, func(t *Task) error {
		<-release
		return nil
	})
	defer close(release)

	tm := NewTaskManager(testResourceConfig())
	tm.Start()
	defer tm.Stop()

	first, _ := NewTask(context.Background(), taskType, nil)
	first.Callback = NewCallBack(func(result interface{}, err error) {})
	if err := tm.SubmitTask("client-slow", first); err != nil {
		t.Fatalf("第一次SubmitTask失败: %v", err)
	}

	// 同一客户端第二个任务被并发上限拒绝
	second, _ := NewTask(context.Background(), taskType, nil)
	if err := tm.SubmitTask("client-slow", second); err == nil {
		t.Error("并发上限内的第二次提交应被拒绝")
	}

	// 其他客户端不受影响
	other, _ := NewTask(context.Background(), taskType, nil)
	other.Callback = NewCallBack(func(result interface{}, err error) {})
	if err := tm.SubmitTask("client-other", other); err != nil {
		t.Errorf("其他客户端提交不应被拒绝: %v", err)
	}
}

func TestTaskExecutorPanicIsFailure(t *testing.T) {
	taskType := TaskType("test-panic")
	RegisterTaskExecutor(taskType, func(t *Task) error {
		panic("boom")
	})

	tm := NewTaskManager(testResourceConfig())
	tm.Start()
	defer tm.Stop()

	done := make(chan error, 1)
	task, _ := NewTask(context.Background(), taskType, nil)
	task.Callback = NewCallBack(func(result interface{}, err error) {
		done <- err
	})

	if err := tm.SubmitTask("client-panic", task); err != nil {
		t.Fatalf("SubmitTask失败: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Error("panic的任务应以错误结束")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("等待panic回调超时")
	}
}

func TestClientManagerQuotaIsolation(t *testing.T) {
	cm := NewClientManager(testResourceConfig())

	a := cm.GetClientContext("a")
	b := cm.GetClientContext("b")
	if a == b {
		t.Fatal("不同客户端应有独立上下文")
	}
	if got := cm.GetClientContext("a"); got != a {
		t.Error("同一客户端应复用上下文")
	}

	if err := a.ResourceQuota.TryAcquire(); err != nil {
		t.Fatalf("TryAcquire失败: %v", err)
	}
	if err := b.ResourceQuota.TryAcquire(); err != nil {
		t.Errorf("客户端a的占用不应影响客户端b: %v", err)
	}

	cm.RemoveClient("a")
	if got := cm.GetClientContext("a"); got == a {
		t.Error("移除后应重新创建上下文")
	}
}
