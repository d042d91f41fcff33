package vectordb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"QuizGazer/internal/modules/knowledge/domain/kb"
	"QuizGazer/internal/modules/knowledge/domain/repository"
	"QuizGazer/pkg/xerr"
	"QuizGazer/pkg/zlog"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// vcCollection 本地向量集合
type vcCollection struct {
	Id        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;type:varchar(128);not null;uniqueIndex:uniq_kb_vc_name"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (vcCollection) TableName() string { return "kb_vector_collection" }

// vcChunk 本地向量 chunk，embedding 以小端 float32 blob 存储
type vcChunk struct {
	Id           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Collection   string    `gorm:"column:collection;type:varchar(128);not null;uniqueIndex:uniq_kb_vc_chunk,priority:1;index:idx_kb_vc_doc,priority:1"`
	ChunkID      string    `gorm:"column:chunk_id;type:varchar(128);not null;uniqueIndex:uniq_kb_vc_chunk,priority:2"`
	DocumentID   string    `gorm:"column:document_id;type:char(36);not null;index:idx_kb_vc_doc,priority:2"`
	ChunkIndex   int       `gorm:"column:chunk_index;type:int;not null"`
	Content      string    `gorm:"column:content;type:text"`
	Embedding    []byte    `gorm:"column:embedding;type:blob;not null"`
	MetadataJSON string    `gorm:"column:metadata_json;type:text"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
}

func (vcChunk) TableName() string { return "kb_vector_chunk" }

// LocalStore 嵌入式向量库：sqlite 落盘 + 进程内余弦暴力检索。
// 单机规模下足够，换远程后端不改调用方。
type LocalStore struct {
	db   *gorm.DB
	path string
	dim  int
}

var _ repository.VectorStore = (*LocalStore)(nil)

func NewLocalStore(path string, dim int) (*LocalStore, error) {
	if path == "" {
		return nil, xerr.New(xerr.StorageConnection, "local vector store path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, xerr.New(xerr.StorageConnection, fmt.Sprintf("local vector store path not writable: %v", err))
		}
	}

	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_journal_mode=WAL"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, xerr.New(xerr.StorageConnection, fmt.Sprintf("open local vector store: %v", err))
	}
	return &LocalStore{db: db, path: path, dim: dim}, nil
}

func (s *LocalStore) Initialize(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&vcCollection{}, &vcChunk{}); err != nil {
		return xerr.New(xerr.StorageConnection, fmt.Sprintf("migrate local vector store: %v", err))
	}
	zlog.Info("local vector store ready", zap.String("path", s.path), zap.Int("dim", s.dim))
	return nil
}

func (s *LocalStore) CreateCollection(ctx context.Context, name string) error {
	exists, err := s.HasCollection(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.db.WithContext(ctx).Create(&vcCollection{Name: name, CreatedAt: time.Now()}).Error
}

// DeleteCollection 集合不存在时为 no-op 成功
func (s *LocalStore) DeleteCollection(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection = ?", name).Delete(&vcChunk{}).Error; err != nil {
			return err
		}
		return tx.Where("name = ?", name).Delete(&vcCollection{}).Error
	})
}

func (s *LocalStore) HasCollection(ctx context.Context, name string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&vcCollection{}).Where("name = ?", name).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// AddChunks 整批一个事务，部分失败回滚
func (s *LocalStore) AddChunks(ctx context.Context, collection string, chunks []kb.DocumentChunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks/vectors length mismatch: %d vs %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	now := time.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, chunk := range chunks {
			if s.dim > 0 && len(vectors[i]) != s.dim {
				return fmt.Errorf("vector dim mismatch for chunk %s: got %d want %d", chunk.ID, len(vectors[i]), s.dim)
			}
			metaJSON, err := json.Marshal(chunk.Metadata)
			if err != nil {
				return err
			}
			row := vcChunk{
				Collection:   collection,
				ChunkID:      chunk.ID,
				DocumentID:   chunk.DocumentID,
				ChunkIndex:   chunk.Index,
				Content:      chunk.Content,
				Embedding:    float32SliceToBytes(vectors[i]),
				MetadataJSON: string(metaJSON),
				CreatedAt:    now,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *LocalStore) DeleteChunks(ctx context.Context, collection string, documentID string) error {
	return s.db.WithContext(ctx).
		Where("collection = ? AND document_id = ?", collection, documentID).
		Delete(&vcChunk{}).Error
}

// Search 跨集合暴力余弦检索，距离升序。不存在的集合跳过。
func (s *LocalStore) Search(ctx context.Context, collections []string, queryVec []float32, topK int) ([]kb.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	results := make([]kb.SearchResult, 0, topK)

	for _, name := range collections {
		exists, err := s.HasCollection(ctx, name)
		if err != nil {
			return nil, err
		}
		if !exists {
			zlog.Warn("search skipping missing collection", zap.String("collection", name))
			continue
		}

		var rows []vcChunk
		if err := s.db.WithContext(ctx).Where("collection = ?", name).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, row := range rows {
			vec := bytesToFloat32Slice(row.Embedding)
			dist := cosineDistance(queryVec, vec)

			var meta kb.ChunkMetadata
			if row.MetadataJSON != "" {
				_ = json.Unmarshal([]byte(row.MetadataJSON), &meta)
			}
			results = append(results, kb.SearchResult{
				ChunkID:    row.ChunkID,
				DocumentID: row.DocumentID,
				Collection: name,
				Content:    row.Content,
				Distance:   dist,
				Metadata:   meta,
			})
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *LocalStore) CountChunks(ctx context.Context, collection string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&vcChunk{}).Where("collection = ?", collection).Count(&count).Error
	return count, err
}

func (s *LocalStore) TestConnection(ctx context.Context) kb.ConnectionStatus {
	if err := s.db.WithContext(ctx).Exec("SELECT 1").Error; err != nil {
		return kb.ConnectionStatus{Connected: false, Message: fmt.Sprintf("local store unreachable: %v", err)}
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&vcCollection{}).Count(&count).Error; err != nil {
		return kb.ConnectionStatus{Connected: false, Message: fmt.Sprintf("local store unreadable: %v", err)}
	}
	return kb.ConnectionStatus{Connected: true, CollectionCount: int(count), Message: "ok"}
}

func (s *LocalStore) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// float32SliceToBytes 小端序列化 embedding
func float32SliceToBytes(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32Slice(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

// cosineDistance 1 - cosine 相似度，长度不一致或零范数时视为最远
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
