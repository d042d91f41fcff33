package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"QuizGazer/internal/modules/knowledge/domain/kb"
	"QuizGazer/internal/modules/knowledge/domain/repository"
	"QuizGazer/pkg/xerr"
	"QuizGazer/pkg/zlog"

	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"
)

const maxContentLen = 4096

// MilvusStore 远程向量库实现。每个知识库集合对应一个 milvus collection。
type MilvusStore struct {
	cli    mclient.Client
	prefix string
	dim    int

	// 同一集合的写入串行化
	mu sync.Mutex
}

var _ repository.VectorStore = (*MilvusStore)(nil)

type MilvusOptions struct {
	Host       string
	Port       int
	AuthToken  string
	SSLEnabled bool
	DBName     string
	Prefix     string
	Dim        int
}

func NewMilvusStore(ctx context.Context, opts MilvusOptions) (*MilvusStore, error) {
	addr := fmt.Sprintf("%s:%d", strings.TrimSpace(opts.Host), opts.Port)
	cfg := mclient.Config{
		Address: addr,
		DBName:  strings.TrimSpace(opts.DBName),
	}
	if opts.AuthToken != "" {
		cfg.APIKey = opts.AuthToken
	}
	if opts.SSLEnabled {
		cfg.EnableTLSAuth = true
	}

	cli, err := mclient.NewClient(ctx, cfg)
	if err != nil {
		return nil, xerr.New(xerr.StorageConnection, fmt.Sprintf("milvus unreachable at %s: %v", addr, err))
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "kb_"
	}
	dim := opts.Dim
	if dim <= 0 {
		dim = 768
	}
	return &MilvusStore{cli: cli, prefix: prefix, dim: dim}, nil
}

func (s *MilvusStore) Initialize(ctx context.Context) error {
	if _, err := s.cli.ListCollections(ctx); err != nil {
		return xerr.New(xerr.StorageConnection, fmt.Sprintf("milvus not ready: %v", err))
	}
	zlog.Info("milvus vector store ready", zap.String("prefix", s.prefix), zap.Int("dim", s.dim))
	return nil
}

var milvusNameRe = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// physicalName 集合名映射为合法的 milvus collection 名
func (s *MilvusStore) physicalName(name string) string {
	return s.prefix + milvusNameRe.ReplaceAllString(name, "_")
}

func (s *MilvusStore) CreateCollection(ctx context.Context, name string) error {
	phys := s.physicalName(name)
	exists, err := s.cli.HasCollection(ctx, phys)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: phys,
		Description:    "QuizGazer knowledge base chunks",
		Fields: []*entity.Field{
			{
				Name:       "id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:       "vector",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{entity.TypeParamDim: fmt.Sprintf("%d", s.dim)},
			},
			{
				Name:       "document_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:     "chunk_index",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       "content",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": strconv.Itoa(maxContentLen)},
			},
			{
				Name:     "metadata",
				DataType: entity.FieldTypeJSON,
			},
		},
	}

	if err := s.cli.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return err
	}
	idx, err := entity.NewIndexAUTOINDEX(entity.COSINE)
	if err != nil {
		return err
	}
	if err := s.cli.CreateIndex(ctx, phys, "vector", idx, false); err != nil {
		return err
	}
	return s.cli.LoadCollection(ctx, phys, false)
}

func (s *MilvusStore) DeleteCollection(ctx context.Context, name string) error {
	phys := s.physicalName(name)
	exists, err := s.cli.HasCollection(ctx, phys)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return s.cli.DropCollection(ctx, phys)
}

func (s *MilvusStore) HasCollection(ctx context.Context, name string) (bool, error) {
	return s.cli.HasCollection(ctx, s.physicalName(name))
}

// AddChunks 列式批量插入。插入后 flush 失败或中途出错时按 document_id
// 回删本批数据，保持整批原子。
func (s *MilvusStore) AddChunks(ctx context.Context, collection string, chunks []kb.DocumentChunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks/vectors length mismatch: %d vs %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	phys := s.physicalName(collection)

	ids := make([]string, 0, len(chunks))
	docIDs := make([]string, 0, len(chunks))
	indexes := make([]int64, 0, len(chunks))
	contents := make([]string, 0, len(chunks))
	metas := make([][]byte, 0, len(chunks))
	docID := ""

	for i, chunk := range chunks {
		if s.dim > 0 && len(vectors[i]) != s.dim {
			return fmt.Errorf("vector dim mismatch for chunk %s: got %d want %d", chunk.ID, len(vectors[i]), s.dim)
		}
		metaJSON, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return err
		}
		ids = append(ids, chunk.ID)
		docIDs = append(docIDs, chunk.DocumentID)
		indexes = append(indexes, int64(chunk.Index))
		contents = append(contents, truncateRunes(chunk.Content, maxContentLen))
		metas = append(metas, metaJSON)
		docID = chunk.DocumentID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.cli.Insert(
		ctx,
		phys,
		"", // partition
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnFloatVector("vector", s.dim, vectors),
		entity.NewColumnVarChar("document_id", docIDs),
		entity.NewColumnInt64("chunk_index", indexes),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnJSONBytes("metadata", metas),
	)
	if err != nil {
		// 插入可能部分落盘，回删整个文档的数据
		if docID != "" {
			if delErr := s.deleteByDocument(ctx, phys, docID); delErr != nil {
				zlog.Error("rollback after failed insert also failed",
					zap.String("collection", phys), zap.String("document_id", docID), zap.Error(delErr))
			}
		}
		return err
	}
	if err := s.cli.Flush(ctx, phys, false); err != nil {
		if delErr := s.deleteByDocument(ctx, phys, docID); delErr != nil {
			zlog.Error("rollback after failed flush also failed",
				zap.String("collection", phys), zap.String("document_id", docID), zap.Error(delErr))
		}
		return err
	}
	return nil
}

func (s *MilvusStore) DeleteChunks(ctx context.Context, collection string, documentID string) error {
	phys := s.physicalName(collection)
	exists, err := s.cli.HasCollection(ctx, phys)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return s.deleteByDocument(ctx, phys, documentID)
}

func (s *MilvusStore) deleteByDocument(ctx context.Context, phys, documentID string) error {
	expr := fmt.Sprintf(`document_id == "%s"`, documentID)
	return s.cli.Delete(ctx, phys, "", expr)
}

// Search 逐集合检索后合并，按 cosine 距离升序截断
func (s *MilvusStore) Search(ctx context.Context, collections []string, queryVec []float32, topK int) ([]kb.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	if s.dim > 0 && len(queryVec) != s.dim {
		return nil, fmt.Errorf("query vector dim mismatch: got %d want %d", len(queryVec), s.dim)
	}

	results := make([]kb.SearchResult, 0, topK)
	for _, name := range collections {
		phys := s.physicalName(name)
		exists, err := s.cli.HasCollection(ctx, phys)
		if err != nil {
			return nil, err
		}
		if !exists {
			zlog.Warn("search skipping missing collection", zap.String("collection", name))
			continue
		}

		sp, _ := entity.NewIndexAUTOINDEXSearchParam(1)
		res, err := s.cli.Search(
			ctx,
			phys,
			nil,
			"",
			[]string{"id", "document_id", "chunk_index", "content", "metadata"},
			[]entity.Vector{entity.FloatVector(queryVec)},
			"vector",
			entity.COSINE,
			topK,
			sp,
		)
		if err != nil {
			return nil, err
		}
		for _, sr := range res {
			if sr.Err != nil {
				return nil, sr.Err
			}
			getCol := func(name string) entity.Column {
				for _, c := range sr.Fields {
					if c.Name() == name {
						return c
					}
				}
				return nil
			}
			docCol := getCol("document_id")
			contentCol := getCol("content")
			metaCol := getCol("metadata")

			for i := 0; i < sr.ResultCount; i++ {
				id, _ := sr.IDs.GetAsString(i)
				hit := kb.SearchResult{
					ChunkID:    id,
					Collection: name,
					// COSINE score 为相似度，统一换算为距离
					Distance: 1 - float64(sr.Scores[i]),
				}
				if docCol != nil {
					v, _ := docCol.GetAsString(i)
					hit.DocumentID = v
				}
				if contentCol != nil {
					v, _ := contentCol.GetAsString(i)
					hit.Content = v
				}
				if metaCol != nil {
					if v, err := metaCol.Get(i); err == nil {
						if bs, ok := v.([]byte); ok {
							_ = json.Unmarshal(bs, &hit.Metadata)
						}
					}
				}
				results = append(results, hit)
			}
		}
	}

	sortByDistance(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *MilvusStore) CountChunks(ctx context.Context, collection string) (int64, error) {
	phys := s.physicalName(collection)
	exists, err := s.cli.HasCollection(ctx, phys)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	stats, err := s.cli.GetCollectionStatistics(ctx, phys)
	if err != nil {
		return 0, err
	}
	n, _ := strconv.ParseInt(stats["row_count"], 10, 64)
	return n, nil
}

func (s *MilvusStore) TestConnection(ctx context.Context) kb.ConnectionStatus {
	cols, err := s.cli.ListCollections(ctx)
	if err != nil {
		return kb.ConnectionStatus{Connected: false, Message: fmt.Sprintf("milvus unreachable: %v", err)}
	}
	count := 0
	for _, c := range cols {
		if strings.HasPrefix(c.Name, s.prefix) {
			count++
		}
	}
	return kb.ConnectionStatus{Connected: true, CollectionCount: count, Message: "ok"}
}

func (s *MilvusStore) Close(ctx context.Context) error {
	return s.cli.Close()
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
