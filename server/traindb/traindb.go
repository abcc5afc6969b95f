package traindb

// traindb persists the few-shot classifier's training samples, so that
// training survives a restart. The classifier itself performs no I/O: we
// load a snapshot into it at startup, and its auto-save hook writes
// snapshots back here.

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/cardsight/cardsight/pkg/knn"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

type TrainDB struct {
	log logs.Log
	db  *gorm.DB
}

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

type Sample struct {
	BaseModel
	Label     string      `json:"label"`
	Embedding []byte      `json:"embedding"` // float32 vector, little-endian
	CreatedAt dbh.IntTime `json:"createdAt"`
}

// Open or create a training sample DB
func Open(logger logs.Log, dbFilename string) (*TrainDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbFilename), 0777); err != nil {
		return nil, fmt.Errorf("Failed to create directory for training DB %v: %w", dbFilename, err)
	}
	db, err := dbh.OpenDB(logger, dbh.MakeSqliteConfig(dbFilename), Migrations(logger), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open training DB %v: %w", dbFilename, err)
	}
	return &TrainDB{
		log: logger,
		db:  db,
	}, nil
}

// SaveSnapshot replaces the stored samples with the snapshot's, preserving
// their order (the classifier's FIFO eviction depends on it).
func (t *TrainDB) SaveSnapshot(snapshot *knn.Snapshot) error {
	return t.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM sample").Error; err != nil {
			return err
		}
		now := dbh.MakeIntTime(time.Now())
		for _, s := range snapshot.Samples {
			rec := &Sample{
				Label:     s.Label,
				Embedding: encodeEmbedding(s.Embedding),
				CreatedAt: now,
			}
			if err := tx.Create(rec).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadSamples returns all stored samples in insertion order
func (t *TrainDB) LoadSamples() ([]knn.Sample, error) {
	records := []Sample{}
	if err := t.db.Order("id").Find(&records).Error; err != nil {
		return nil, err
	}
	samples := make([]knn.Sample, 0, len(records))
	for _, rec := range records {
		samples = append(samples, knn.Sample{
			Label:     rec.Label,
			Embedding: decodeEmbedding(rec.Embedding),
		})
	}
	return samples, nil
}

func (t *TrainDB) Close() error {
	sqlDB, err := t.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func encodeEmbedding(embedding []float32) []byte {
	raw := make([]byte, 4*len(embedding))
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return raw
}

func decodeEmbedding(raw []byte) []float32 {
	embedding := make([]float32, len(raw)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return embedding
}
