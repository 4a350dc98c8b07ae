package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

// Table 集合名 + 需要的索引
type Table interface {
	GetTableName() string
	Indexes() []mongo.IndexModel
}

// EnsureIndexes 幂等创建索引；同名同定义的索引重复创建不会报错
func EnsureIndexes(ctx context.Context, db *mongo.Database, tables ...Table) error {
	for _, t := range tables {
		idx := t.Indexes()
		if len(idx) == 0 {
			continue
		}
		if _, err := db.Collection(t.GetTableName()).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("ensure indexes on %s: %w", t.GetTableName(), err)
		}
	}
	return nil
}
