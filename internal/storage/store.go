// Package storage 管理产物所在的存储根目录。引擎独占该目录，
// 所有写入先落到临时名再原子改名，读者和清理器永远看不到半成品。
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/Slade66/media-fetcher/internal/fault"
)

// PartialPrefix 是提交过程中临时文件的前缀
const PartialPrefix = ".partial-"

// Artifact 是一个已提交的可下载文件
type Artifact struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
	// Partial 为 true 表示这是提交中断后遗留的临时文件
	Partial bool `json:"-"`
}

// Usage 是存储根目录所在磁盘和目录本身的占用情况
type Usage struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
	StoredBytes int64   `json:"stored_bytes"`
	Artifacts   int     `json:"artifacts"`
}

// Store 管理下载目录和临时目录
type Store struct {
	root     string
	tempRoot string
	now      func() time.Time
}

// New 创建 Store，必要时创建目录
func New(root, tempRoot string) (*Store, error) {
	for _, dir := range []string{root, tempRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fault.E(fault.KindStorage, "storage.init", fmt.Errorf("无法创建目录 %s: %w", dir, err))
		}
	}
	return &Store{root: root, tempRoot: tempRoot, now: time.Now}, nil
}

// SetClock 替换时钟，仅用于测试
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) Root() string { return s.root }

func (s *Store) TempRoot() string { return s.tempRoot }

// WorkDir 为任务创建独占的临时工作目录
func (s *Store) WorkDir(jobID string) (string, error) {
	dir := filepath.Join(s.tempRoot, "job-"+jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fault.E(fault.KindStorage, "storage.workdir", err)
	}
	return dir, nil
}

// Commit 把 src 原子地移动为存储根目录下的 name。
// 跨文件系统无法直接改名时，先复制到同目录的隐藏临时名再改名。
func (s *Store) Commit(src, name string) (Artifact, error) {
	const op = "storage.commit"
	if !ValidName(name) {
		return Artifact{}, fault.Errorf(fault.KindStorage, op, "非法的文件名: %q", name)
	}
	dst := filepath.Join(s.root, name)
	if _, err := os.Stat(dst); err == nil {
		return Artifact{}, fault.Errorf(fault.KindStorage, op, "目标文件已存在: %s", name)
	}

	if err := os.Rename(src, dst); err != nil {
		partial := filepath.Join(s.root, PartialPrefix+name)
		if err := copyFile(src, partial); err != nil {
			os.Remove(partial)
			return Artifact{}, fault.E(fault.KindStorage, op, err)
		}
		if err := os.Rename(partial, dst); err != nil {
			os.Remove(partial)
			return Artifact{}, fault.E(fault.KindStorage, op, err)
		}
		os.Remove(src)
	}

	now := s.now()
	if err := os.Chtimes(dst, now, now); err != nil {
		return Artifact{}, fault.E(fault.KindStorage, op, err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		return Artifact{}, fault.E(fault.KindStorage, op, err)
	}
	return Artifact{Name: name, Path: dst, SizeBytes: info.Size(), CreatedAt: info.ModTime()}, nil
}

// List 返回存储根目录下的所有文件（包括遗留的临时文件），按创建时间从旧到新排列
func (s *Store) List() ([]Artifact, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fault.E(fault.KindStorage, "storage.list", err)
	}
	out := make([]Artifact, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// 文件可能刚被删除
			continue
		}
		out = append(out, Artifact{
			Name:      e.Name(),
			Path:      filepath.Join(s.root, e.Name()),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime(),
			Partial:   strings.HasPrefix(e.Name(), PartialPrefix),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Lookup 返回名为 name 的产物，不存在或名称非法时返回 not_found
func (s *Store) Lookup(name string) (Artifact, error) {
	const op = "storage.lookup"
	if !ValidName(name) {
		return Artifact{}, fault.Errorf(fault.KindNotFound, op, "文件不存在: %s", name)
	}
	p := filepath.Join(s.root, name)
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return Artifact{}, fault.Errorf(fault.KindNotFound, op, "文件不存在: %s", name)
	}
	return Artifact{Name: name, Path: p, SizeBytes: info.Size(), CreatedAt: info.ModTime()}, nil
}

// Remove 删除 name，文件不存在不算错误
func (s *Store) Remove(name string) error {
	if name == "" || name != filepath.Base(name) {
		return fault.Errorf(fault.KindStorage, "storage.remove", "非法的文件名: %q", name)
	}
	if err := os.Remove(filepath.Join(s.root, name)); err != nil && !os.IsNotExist(err) {
		return fault.E(fault.KindStorage, "storage.remove", err)
	}
	return nil
}

// Usage 统计磁盘和存储目录的占用
func (s *Store) Usage() (Usage, error) {
	u := Usage{Path: s.root}
	if d, err := disk.Usage(s.root); err == nil {
		u.TotalBytes = d.Total
		u.FreeBytes = d.Free
		u.UsedPercent = d.UsedPercent
	}
	artifacts, err := s.List()
	if err != nil {
		return u, err
	}
	for _, a := range artifacts {
		if a.Partial {
			continue
		}
		u.StoredBytes += a.SizeBytes
		u.Artifacts++
	}
	return u, nil
}

// ValidName 判断 name 是否是存储根目录下合法的产物名
func ValidName(name string) bool {
	return name != "" &&
		name == filepath.Base(name) &&
		!strings.HasPrefix(name, ".") &&
		!strings.ContainsAny(name, `/\`)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
