package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PathBuilder 在存储目录下生成录音文件路径
type PathBuilder struct {
	dir string
	now func() time.Time
}

func NewPathBuilder(dir string, now func() time.Time) *PathBuilder {
	if now == nil {
		now = time.Now
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return &PathBuilder{dir: filepath.Clean(dir), now: now}
}

func (p *PathBuilder) Dir() string { return p.dir }

// Next 返回 <dir>/recording_<毫秒时间戳>.<ext>；同一毫秒内重复调用会得到相同路径
func (p *PathBuilder) Next(ext string) string {
	name := fmt.Sprintf("recording_%d.%s", p.now().UnixMilli(), ext)
	return filepath.Join(p.dir, name)
}

// EnsureDir 创建存储目录
func (p *PathBuilder) EnsureDir() error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("%w: create storage dir: %v", ErrIO, err)
	}
	return nil
}

// Contains 报告 path 是否位于存储目录之内
func (p *PathBuilder) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(p.dir, abs)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
