package journal

import (
	"context"

	"gorm.io/gorm"

	"arclink/pkg/conn"
)

// PostgresSink persists journal entries through gorm.
type PostgresSink struct {
	db *gorm.DB
}

// NewPostgresSink opens the pool and migrates the journal tables.
func NewPostgresSink(opt conn.PostgresOption) (*PostgresSink, error) {
	db, err := conn.OpenPostgres(opt)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&RequestLog{}, &SocketEvent{}); err != nil {
		_ = conn.ClosePostgres(db)
		return nil, err
	}
	return &PostgresSink{db: db}, nil
}

func (s *PostgresSink) SaveRequest(ctx context.Context, entry *RequestLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *PostgresSink) SaveSocketEvent(ctx context.Context, entry *SocketEvent) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *PostgresSink) Close() error {
	return conn.ClosePostgres(s.db)
}
