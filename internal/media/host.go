package media

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
)

// HostInfo 是附加在图像提示词后的主机信息。
type HostInfo struct {
	System    string
	Release   string
	Processor string
}

// String 输出 "System: X, Release: Y, Processor: Z"。
func (h HostInfo) String() string {
	return fmt.Sprintf("System: %s, Release: %s, Processor: %s", h.System, h.Release, h.Processor)
}

// DetectHost 读取操作系统、内核版本与处理器型号，读取失败的字段回退到运行时信息。
func DetectHost(ctx context.Context) HostInfo {
	info := HostInfo{System: titleCase(runtime.GOOS), Processor: runtime.GOARCH}
	if stat, err := host.InfoWithContext(ctx); err == nil {
		if stat.OS != "" {
			info.System = titleCase(stat.OS)
		}
		info.Release = stat.KernelVersion
		if stat.KernelArch != "" {
			info.Processor = stat.KernelArch
		}
	}
	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 && cpus[0].ModelName != "" {
		info.Processor = strings.TrimSpace(cpus[0].ModelName)
	}
	return info
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
