package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound 分区下没有该名称的记录
var ErrNotFound = errors.New("snapshot not found")

// Backend 键值存储抽象：键 = (分区路径, 名称)，值 = JSON 字节
// 文件系统、sqlite、mongo 三种实现可以互换，检测与生命周期逻辑不感知
type Backend interface {
	Get(ctx context.Context, partition, name string) ([]byte, error)
	Put(ctx context.Context, partition, name string, data []byte) error
	// Size 返回存储的字节数，不存在时返回 ErrNotFound
	Size(ctx context.Context, partition, name string) (int64, error)
	// DropPartition 清空整个分区
	DropPartition(ctx context.Context, partition string) error
	// Partitions 列出以 prefix 开头且至少有一条记录的分区
	Partitions(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMongo  = "mongo"
)

// Options 构造后端所需的参数
type Options struct {
	Kind       string
	DataDir    string
	SQLitePath string
	Mongo      MongoOptions
}

type MongoOptions struct {
	Host       string
	DBName     string
	Username   string
	Password   string
	AuthSource string
}

// Open 按配置打开后端
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Kind {
	case "", BackendFile:
		return NewFileBackend(opts.DataDir)
	case BackendSQLite:
		return OpenSQLite(opts.SQLitePath)
	case BackendMongo:
		return OpenMongo(ctx, opts.Mongo)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", opts.Kind)
	}
}
