package store

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"invest-calendar/internal/calendar/helper"
)

// snapshotDoc snapshots 集合中的文档
// Payload 保存与文件、sqlite 后端相同的 JSON 字节，Size 也按这份字节计算，
// 首次运行判定和 SnapshotStore 的编解码在三种后端上一致
type snapshotDoc struct {
	ID        string    `bson:"_id"` // partition + "/" + name
	Partition string    `bson:"partition"`
	Name      string    `bson:"name"`
	Payload   string    `bson:"payload"`
	Size      int64     `bson:"size"`
	UpdatedAt time.Time `bson:"updatedAt"` // UTC
}

// MongoBackend 使用 snapshots 集合保存所有分区
type MongoBackend struct {
	stores *helper.Stores
	coll   *mongo.Collection
}

func OpenMongo(ctx context.Context, opts MongoOptions) (*MongoBackend, error) {
	stores, err := helper.ConnectMongo(ctx, opts.Host, opts.DBName, opts.Username, opts.Password, opts.AuthSource)
	if err != nil {
		return nil, err
	}
	return NewMongoBackend(stores), nil
}

func NewMongoBackend(stores *helper.Stores) *MongoBackend {
	return &MongoBackend{stores: stores, coll: stores.Snapshots}
}

func docID(partition, name string) string {
	return partition + "/" + name
}

func (b *MongoBackend) Get(ctx context.Context, partition, name string) ([]byte, error) {
	var doc snapshotDoc
	err := b.coll.FindOne(ctx, bson.M{"_id": docID(partition, name)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(doc.Payload), nil
}

func (b *MongoBackend) Put(ctx context.Context, partition, name string, data []byte) error {
	doc := snapshotDoc{
		ID:        docID(partition, name),
		Partition: partition,
		Name:      name,
		Payload:   string(data),
		Size:      int64(len(data)),
		UpdatedAt: time.Now().UTC(),
	}
	_, err := b.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (b *MongoBackend) Size(ctx context.Context, partition, name string) (int64, error) {
	var doc struct {
		Size int64 `bson:"size"`
	}
	err := b.coll.FindOne(ctx,
		bson.M{"_id": docID(partition, name)},
		options.FindOne().SetProjection(bson.M{"size": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return doc.Size, nil
}

func (b *MongoBackend) DropPartition(ctx context.Context, partition string) error {
	_, err := b.coll.DeleteMany(ctx, bson.M{"partition": partition})
	return err
}

func (b *MongoBackend) Partitions(ctx context.Context, prefix string) ([]string, error) {
	filter := bson.M{"partition": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
	vals, err := b.coll.Distinct(ctx, "partition", filter)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (b *MongoBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.stores.Close(ctx)
}
