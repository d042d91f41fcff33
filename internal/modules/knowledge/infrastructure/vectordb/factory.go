package vectordb

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"QuizGazer/internal/config"
	"QuizGazer/internal/modules/knowledge/domain/kb"
	"QuizGazer/internal/modules/knowledge/domain/repository"
	"QuizGazer/pkg/xerr"
)

// NewVectorStore 按 connection_type 在构造期选择后端实现
func NewVectorStore(ctx context.Context, conf *config.Config) (repository.VectorStore, error) {
	if conf == nil {
		return nil, fmt.Errorf("nil config")
	}
	vs := conf.VectorStoreConfig
	if err := vs.Validate(); err != nil {
		return nil, xerr.New(xerr.StorageConnection, err.Error())
	}

	switch strings.ToLower(strings.TrimSpace(vs.ConnectionType)) {
	case "local":
		return NewLocalStore(vs.LocalPath, conf.EmbeddingConfig.Dimensions)
	case "remote":
		return NewMilvusStore(ctx, MilvusOptions{
			Host:       vs.Host,
			Port:       vs.Port,
			AuthToken:  vs.AuthToken,
			SSLEnabled: vs.SSLEnabled,
			DBName:     vs.DBName,
			Prefix:     vs.CollectionPrefix,
			Dim:        conf.EmbeddingConfig.Dimensions,
		})
	default:
		return nil, xerr.New(xerr.StorageConnection, fmt.Sprintf("unknown vector store connection type %q", vs.ConnectionType))
	}
}

func sortByDistance(results []kb.SearchResult) {
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
}
