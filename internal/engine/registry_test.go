package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestRegistryConcurrentRegistration(t *testing.T) {
	const n = 64
	reg := NewRegistry(0)
	contexts := make([]*ExecutionContext, n)
	for i := range contexts {
		contexts[i] = &ExecutionContext{TaskID: fmt.Sprintf("task-%d", i)}
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, ec := range contexts {
		wg.Add(1)
		go func(ec *ExecutionContext) {
			defer wg.Done()
			if err := reg.Register(ec, func() {}); err != nil {
				errs <- err
			}
		}(ec)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("登记失败: %v", err)
	}
	if reg.Len() != n {
		t.Fatalf("期望 %d 个在途任务，实际 %d", n, reg.Len())
	}
	if got := len(reg.Active()); got != n {
		t.Fatalf("快照数量不一致: %d", got)
	}

	for _, ec := range contexts {
		wg.Add(1)
		go func(ec *ExecutionContext) {
			defer wg.Done()
			reg.Unregister(ec)
		}(ec)
	}
	wg.Wait()
	if reg.Len() != 0 {
		t.Fatalf("注销后仍有 %d 个任务", reg.Len())
	}
	for _, ec := range contexts {
		if ec.StartedAt.IsZero() || ec.CompletedAt.IsZero() {
			t.Fatalf("任务 %s 缺少时间戳", ec.TaskID)
		}
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry(0)
	first := &ExecutionContext{TaskID: "t1"}
	if err := reg.Register(first, nil); err != nil {
		t.Fatalf("首次登记失败: %v", err)
	}
	second := &ExecutionContext{TaskID: "t1"}
	if err := reg.Register(second, nil); err != ErrTaskDuplicate {
		t.Fatalf("期望重复登记错误，实际 %v", err)
	}
	if reg.Unregister(second) {
		t.Fatalf("不应移除其他任务的条目")
	}
	if _, ok := reg.Status("t1"); !ok {
		t.Fatalf("原任务应仍在途")
	}
	if !reg.Unregister(first) {
		t.Fatalf("应能移除原任务")
	}
	if _, ok := reg.Status("t1"); ok {
		t.Fatalf("注销后状态应为空")
	}
}

func TestRegistryCapacityReleasedOnce(t *testing.T) {
	reg := NewRegistry(1)
	ctx, cancel := context.WithCancel(context.Background())
	a := &ExecutionContext{TaskID: "a"}
	if err := reg.Register(a, cancel); err != nil {
		t.Fatalf("登记失败: %v", err)
	}
	if err := reg.Register(&ExecutionContext{TaskID: "b"}, nil); err != ErrTaskCapacity {
		t.Fatalf("期望容量错误，实际 %v", err)
	}

	if !reg.Cancel("a") {
		t.Fatalf("取消应返回 true")
	}
	if ctx.Err() == nil {
		t.Fatalf("取消应传递到任务上下文")
	}
	// 任务收尾时再次注销不会重复释放名额。
	if reg.Unregister(a) {
		t.Fatalf("已取消的任务不应再次移除")
	}

	b := &ExecutionContext{TaskID: "b"}
	if err := reg.Register(b, nil); err != nil {
		t.Fatalf("名额应已释放: %v", err)
	}
	if err := reg.Register(&ExecutionContext{TaskID: "c"}, nil); err != ErrTaskCapacity {
		t.Fatalf("名额不应被重复释放，实际 %v", err)
	}
	if reg.Cancel("missing") {
		t.Fatalf("取消未知任务应返回 false")
	}
}
