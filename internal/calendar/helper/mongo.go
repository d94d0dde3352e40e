package helper

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type Stores struct {
	Client    *mongo.Client
	DB        *mongo.Database
	Snapshots *mongo.Collection // 固定集合：snapshots，每个文档是一个分区下的一个快照
}

// ConnectMongo 连接 Mongo 并确保索引
func ConnectMongo(ctx context.Context, host, dbname, username, password, authSource string) (*Stores, error) {
	clientOpts := options.Client().ApplyURI("mongodb://" + host)
	if username != "" {
		clientOpts.SetAuth(options.Credential{
			Username:   username,
			Password:   password,
			AuthSource: authSource,
		})
	}

	cli, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err = cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := cli.Database(dbname)
	s := &Stores{
		Client:    cli,
		DB:        db,
		Snapshots: db.Collection("snapshots"),
	}
	ensureIndexes(ctx, s)
	return s, nil
}

func (s *Stores) Close(ctx context.Context) error {
	if s == nil || s.Client == nil {
		return nil
	}
	return s.Client.Disconnect(ctx)
}

func ensureIndexes(ctx context.Context, s *Stores) {
	// snapshots: 分区内按名称唯一
	_, _ = s.Snapshots.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "partition", Value: 1}, {Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "updatedAt", Value: 1}}},
	})
}
