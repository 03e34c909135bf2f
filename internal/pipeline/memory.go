package pipeline

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"
)

// readMemoryUsedPercent 返回当前系统内存占用百分比, 测试中可替换为桩实现。
var readMemoryUsedPercent = func() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// checkMemoryBudget 在向量化开始前检查系统内存水位。超过阈值时返回错误,
// 任务由消息队列在退避后重新投递, 而不是在高水位下继续加载文档。
func checkMemoryBudget(maxPercent float64) error {
	used, err := readMemoryUsedPercent()
	if err != nil {
		return fmt.Errorf("读取系统内存信息失败: %w", err)
	}
	if used > maxPercent {
		return fmt.Errorf("系统内存占用 %.1f%% 超过阈值 %.1f%%, 任务暂缓处理", used, maxPercent)
	}
	return nil
}
