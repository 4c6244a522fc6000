package sink

import (
	"context"
	"fmt"

	"pricehunter/internal/model"

	"gorm.io/gorm"
)

// GormSink 将搜索与验证记录写入 MySQL；峰值快照不入库。
type GormSink struct {
	db *gorm.DB
}

// NewGormSink 创建数据库记录器并迁移所需表结构。
func NewGormSink(db *gorm.DB) (*GormSink, error) {
	if err := db.AutoMigrate(&model.SearchLog{}, &model.VerifyLog{}); err != nil {
		return nil, fmt.Errorf("migrate sink tables: %w", err)
	}
	return &GormSink{db: db}, nil
}

func (g *GormSink) RecordSearch(ctx context.Context, ev SearchEvent) error {
	row := model.SearchLog{
		CreatedAt:   ev.At,
		Keyword:     ev.Keyword,
		SessionID:   ev.SessionID,
		MomoCount:   ev.MomoCount,
		PChomeCount: ev.PChomeCount,
	}
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert search log: %w", err)
	}
	return nil
}

func (g *GormSink) RecordVerify(ctx context.Context, ev VerifyEvent) error {
	row := model.VerifyLog{
		CreatedAt:       ev.At,
		SourceProductID: ev.SourceProductID,
		SourceTitle:     ev.SourceTitle,
		BatchSize:       ev.BatchSize,
		DurationSeconds: ev.Duration.Seconds(),
		MatchedCount:    ev.MatchedCount,
	}
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert verify log: %w", err)
	}
	return nil
}

func (g *GormSink) RecordPeak(ctx context.Context, ev PeakEvent) error {
	return nil
}
