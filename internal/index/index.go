// Package index 实现职位语料上的语义向量索引
// 构建一次、落盘持久化、可直接重载，检索时按嵌入空间距离返回最近职位
package index

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"job-matcher-go/internal/corpus"
	"job-matcher-go/internal/logger"
	"job-matcher-go/internal/ratelimit"
	"job-matcher-go/internal/tracing"
	"job-matcher-go/internal/types"
)

var indexTracer = otel.Tracer("job-matcher-go/index")

var (
	// ErrCorruptIndex 持久化的索引文件不可读，调用方应回退到重建
	ErrCorruptIndex = errors.New("索引文件损坏")
	// ErrEmbeddingUnavailable 嵌入后端不可用，构建与检索均无法进行
	ErrEmbeddingUnavailable = errors.New("嵌入后端不可用")
)

// entryIDNamespace 用于生成确定性索引条目ID的命名空间
// 同一序号加同一文本始终得到同一ID
// UUID generated via `uuidgen`
var entryIDNamespace = uuid.Must(uuid.FromString("a1c9fdc4-02f7-4f3e-9b7a-6c2d8e5b1f03"))

// 单次embedding请求携带的文本上限，与服务端批量限制对齐
const embedBatchSize = 10

// Hit 一次检索命中，Ordinal为职位在语料中的序号
// Distance为欧氏距离，非负且越小越相似
type Hit struct {
	Ordinal  int
	Distance float64
}

// Entry 索引条目，向量与元数据一一对应
// 元数据只携带来源语料序号
type Entry struct {
	ID      string    `json:"id"`
	Ordinal int       `json:"ordinal"`
	Vector  []float64 `json:"vector"`
}

// persistedIndex 索引文件的落盘格式
type persistedIndex struct {
	Model     string  `json:"model"`
	Dimension int     `json:"dimension"`
	Entries   []Entry `json:"entries"`
}

// VectorCache 职位向量缓存，语料未变时避免重复嵌入
// 实现方的读写失败都应表现为未命中，不得影响构建流程
type VectorCache interface {
	GetVector(ctx context.Context, textMD5 string, model string) ([]float64, error)
	SetVector(ctx context.Context, textMD5 string, model string, vector []float64) error
}

// VectorIndex 内存态向量索引
// 初始化完成后只读，重建通过快照整体替换完成
type VectorIndex struct {
	model        string
	dimension    int
	entries      []Entry
	embedder     embedding.Embedder
	limiter      *ratelimit.TokenBucket
	cache        VectorCache
	embedTimeout time.Duration
}

// Option 索引的配置选项
type Option func(*VectorIndex)

// WithRateLimiter 设置嵌入调用限流器
func WithRateLimiter(limiter *ratelimit.TokenBucket) Option {
	return func(idx *VectorIndex) {
		idx.limiter = limiter
	}
}

// WithVectorCache 设置职位向量缓存
func WithVectorCache(cache VectorCache) Option {
	return func(idx *VectorIndex) {
		idx.cache = cache
	}
}

// WithEmbedTimeout 设置单次嵌入调用的超时
func WithEmbedTimeout(timeout time.Duration) Option {
	return func(idx *VectorIndex) {
		idx.embedTimeout = timeout
	}
}

// NewVectorIndex 创建空索引，内容通过Build或Load填充
func NewVectorIndex(embedder embedding.Embedder, model string, options ...Option) *VectorIndex {
	idx := &VectorIndex{
		model:        model,
		embedder:     embedder,
		embedTimeout: 30 * time.Second,
	}
	for _, opt := range options {
		opt(idx)
	}
	return idx
}

// Size 返回索引条目数
func (idx *VectorIndex) Size() int {
	return len(idx.entries)
}

// Build 对语料中每个职位的复合文本做嵌入并建立索引
// 任一批次嵌入失败则整体失败，不产生半成品索引
func (idx *VectorIndex) Build(ctx context.Context, jobs []types.JobPosting) error {
	ctx, span := indexTracer.Start(ctx, "VectorIndex.Build",
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	span.SetAttributes(
		attribute.String("index.model", idx.model),
		attribute.Int("corpus.size", len(jobs)),
	)

	if len(jobs) == 0 {
		idx.entries = nil
		idx.dimension = 0
		span.SetStatus(codes.Ok, "")
		return nil
	}

	texts := make([]string, len(jobs))
	for i, job := range jobs {
		texts[i] = corpus.CompositeText(job)
	}

	vectors, cacheHits, err := idx.embedCorpus(ctx, texts)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return err
	}

	entries := make([]Entry, len(jobs))
	for i, vec := range vectors {
		entries[i] = Entry{
			ID:      entryID(i, texts[i]),
			Ordinal: i,
			Vector:  vec,
		}
	}

	idx.entries = entries
	idx.dimension = len(vectors[0])

	span.SetAttributes(
		attribute.Int("index.dimension", idx.dimension),
		attribute.Int("index.cache_hits", cacheHits),
	)
	span.SetStatus(codes.Ok, "")

	logger.Info().
		Int("jobs", len(jobs)).
		Int("dimension", idx.dimension).
		Int("cache_hits", cacheHits).
		Msg("向量索引构建完成")

	return nil
}

// embedCorpus 为语料文本取向量，优先命中缓存，缺失部分分批调用嵌入后端
func (idx *VectorIndex) embedCorpus(ctx context.Context, texts []string) ([][]float64, int, error) {
	vectors := make([][]float64, len(texts))
	md5s := make([]string, len(texts))

	cacheHits := 0
	var missing []int
	for i, text := range texts {
		md5s[i] = textMD5(text)
		if idx.cache != nil {
			if vec, err := idx.cache.GetVector(ctx, md5s[i], idx.model); err == nil && len(vec) > 0 {
				vectors[i] = vec
				cacheHits++
				continue
			}
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]

		batchTexts := make([]string, len(batch))
		for j, i := range batch {
			batchTexts[j] = texts[i]
		}

		embedded, err := idx.embedWithLimit(ctx, batchTexts)
		if err != nil {
			return nil, cacheHits, err
		}
		if len(embedded) != len(batchTexts) {
			return nil, cacheHits, fmt.Errorf("%w: 返回向量数(%d)与请求文本数(%d)不一致",
				ErrEmbeddingUnavailable, len(embedded), len(batchTexts))
		}

		for j, i := range batch {
			vectors[i] = embedded[j]
			if idx.cache != nil {
				if err := idx.cache.SetVector(ctx, md5s[i], idx.model, embedded[j]); err != nil {
					logger.Warn().Err(err).Msg("写入向量缓存失败，忽略")
				}
			}
		}
	}

	return vectors, cacheHits, nil
}

// embedWithLimit 经过限流器与超时约束调用嵌入后端
func (idx *VectorIndex) embedWithLimit(ctx context.Context, texts []string) ([][]float64, error) {
	if idx.limiter != nil {
		if err := idx.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: 等待嵌入配额失败: %v", ErrEmbeddingUnavailable, err)
		}
	}

	embedCtx, cancel := context.WithTimeout(ctx, idx.embedTimeout)
	defer cancel()

	vectors, err := idx.embedder.EmbedStrings(embedCtx, texts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(embedCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: 嵌入调用超时(%s)", ErrEmbeddingUnavailable, idx.embedTimeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	return vectors, nil
}

// Save 把索引序列化到path，幂等覆盖写
func (idx *VectorIndex) Save(path string) error {
	persisted := persistedIndex{
		Model:     idx.model,
		Dimension: idx.dimension,
		Entries:   idx.entries,
	}

	data, err := json.Marshal(persisted)
	if err != nil {
		return fmt.Errorf("序列化索引失败: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("写入索引文件失败: %w", err)
	}

	logger.Info().
		Str("path", path).
		Int("entries", len(idx.entries)).
		Msg("向量索引已持久化")

	return nil
}

// Load 从path反序列化索引，格式不可读时返回ErrCorruptIndex
func (idx *VectorIndex) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: 索引文件不存在: %s", ErrCorruptIndex, path)
		}
		return fmt.Errorf("读取索引文件失败: %w", err)
	}

	var persisted persistedIndex
	if err := json.Unmarshal(data, &persisted); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}

	// 维度自洽检查，条目间维度不一致视为损坏
	for _, entry := range persisted.Entries {
		if len(entry.Vector) != persisted.Dimension {
			return fmt.Errorf("%w: 条目%d维度(%d)与索引维度(%d)不一致",
				ErrCorruptIndex, entry.Ordinal, len(entry.Vector), persisted.Dimension)
		}
	}

	idx.model = persisted.Model
	idx.dimension = persisted.Dimension
	idx.entries = persisted.Entries

	logger.Info().
		Str("path", path).
		Int("entries", len(idx.entries)).
		Msg("向量索引已从磁盘加载")

	return nil
}

// Search 嵌入text并返回最近的k个职位序号，按距离升序排列
// 距离相等时按序号升序，保证结果次序确定
func (idx *VectorIndex) Search(ctx context.Context, text string, k int) ([]Hit, error) {
	ctx, span := indexTracer.Start(ctx, "VectorIndex.Search",
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	span.SetAttributes(
		attribute.Int("search.k", k),
		attribute.Int("index.size", len(idx.entries)),
	)

	if len(idx.entries) == 0 {
		span.SetStatus(codes.Ok, "")
		return nil, nil
	}
	if k <= 0 {
		k = 5
	}

	queryVectors, err := idx.embedWithLimit(ctx, []string{text})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, err
	}
	if len(queryVectors) != 1 {
		err := fmt.Errorf("%w: 查询向量数异常: %d", ErrEmbeddingUnavailable, len(queryVectors))
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, err
	}
	queryVector := queryVectors[0]

	if len(queryVector) != idx.dimension {
		err := fmt.Errorf("查询向量维度(%d)与索引维度(%d)不匹配", len(queryVector), idx.dimension)
		tracing.RecordError(span, err, tracing.ErrorTypeVectorIndex)
		return nil, err
	}

	hits := make([]Hit, len(idx.entries))
	for i, entry := range idx.entries {
		hits[i] = Hit{
			Ordinal:  entry.Ordinal,
			Distance: euclideanDistance(queryVector, entry.Vector),
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Ordinal < hits[j].Ordinal
	})

	if len(hits) > k {
		hits = hits[:k]
	}

	span.SetAttributes(attribute.Int("search.results", len(hits)))
	span.SetStatus(codes.Ok, "")
	return hits, nil
}

// euclideanDistance 两个向量的欧氏距离
func euclideanDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// entryID 生成确定性条目ID
func entryID(ordinal int, text string) string {
	return uuid.NewV5(entryIDNamespace, fmt.Sprintf("%d:%s", ordinal, textMD5(text))).String()
}

// textMD5 文本内容的MD5十六进制摘要
func textMD5(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
