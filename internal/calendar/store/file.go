package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const fileExt = ".txt"

// FileBackend 目录即分区，{name}.txt 即记录
type FileBackend struct {
	root string
}

// NewFileBackend 创建数据根目录，失败属于致命错误
func NewFileBackend(root string) (*FileBackend, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("data dir is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileBackend{root: root}, nil
}

func (b *FileBackend) Root() string { return b.root }

func (b *FileBackend) path(partition, name string) string {
	return filepath.Join(b.root, filepath.FromSlash(partition), name+fileExt)
}

func (b *FileBackend) Get(_ context.Context, partition, name string) ([]byte, error) {
	data, err := os.ReadFile(b.path(partition, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Put 先写临时文件再 rename
func (b *FileBackend) Put(_ context.Context, partition, name string, data []byte) error {
	target := b.path(partition, name)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+name+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, target)
}

func (b *FileBackend) Size(_ context.Context, partition, name string) (int64, error) {
	fi, err := os.Stat(b.path(partition, name))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (b *FileBackend) DropPartition(_ context.Context, partition string) error {
	dir := filepath.Join(b.root, filepath.FromSlash(partition))
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

func (b *FileBackend) Partitions(_ context.Context, prefix string) ([]string, error) {
	base := filepath.Join(b.root, filepath.FromSlash(prefix))
	if _, err := os.Stat(base); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	seen := map[string]bool{}
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(p) != fileExt {
			return nil
		}
		rel, err := filepath.Rel(b.root, filepath.Dir(p))
		if err != nil {
			return err
		}
		seen[filepath.ToSlash(rel)] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (b *FileBackend) Close() error { return nil }
