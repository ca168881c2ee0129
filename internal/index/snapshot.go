package index

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/embedding"

	"job-matcher-go/internal/corpus"
	"job-matcher-go/internal/logger"
	"job-matcher-go/internal/types"
)

// State 快照生命周期状态
type State int

const (
	// StateUninitialized 尚未初始化
	StateUninitialized State = iota
	// StateLoading 正在从磁盘加载
	StateLoading
	// StateBuilding 正在重新构建
	StateBuilding
	// StateReady 可服务查询
	StateReady
	// StateUnavailable 加载与构建均失败，查询一律返回空结果
	StateUnavailable
)

// String 状态名
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// SnapshotConfig 快照初始化参数
type SnapshotConfig struct {
	DatasetPath string // 职位数据集路径
	MaxJobs     int    // 语料上限
	StoragePath string // 索引持久化路径
	Model       string // 嵌入模型名，写入索引文件用于一致性校验
}

// Snapshot 进程级语料与索引快照
// 初始化完成后只读，重建以整体替换的方式完成，查询期间不会观察到半成品
type Snapshot struct {
	mu       sync.RWMutex
	state    State
	jobs     []types.JobPosting
	index    *VectorIndex
	cfg      SnapshotConfig
	embedder embedding.Embedder
	indexOpt []Option
}

// NewSnapshot 创建未初始化快照
func NewSnapshot(cfg SnapshotConfig, embedder embedding.Embedder, indexOptions ...Option) *Snapshot {
	return &Snapshot{
		state:    StateUninitialized,
		cfg:      cfg,
		embedder: embedder,
		indexOpt: indexOptions,
	}
}

// Bootstrap 启动时初始化：优先加载持久化索引，失败则回退到构建
// 初始化失败只降级为Unavailable，不让进程退出
// 初始化期间的并发查询会在锁上等待，绝不会命中半成品索引
func (s *Snapshot) Bootstrap(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateReady {
		return nil
	}

	jobs, err := corpus.Load(s.cfg.DatasetPath, s.cfg.MaxJobs)
	if err != nil {
		if errors.Is(err, corpus.ErrDataUnavailable) {
			logger.Warn().
				Str("path", s.cfg.DatasetPath).
				Msg("职位数据集不存在，索引保持不可用状态")
			s.state = StateUnavailable
			return nil
		}
		s.state = StateUnavailable
		return fmt.Errorf("加载职位语料失败: %w", err)
	}

	// 先尝试加载已持久化的索引
	s.state = StateLoading
	idx := s.newIndex()
	if err := idx.Load(s.cfg.StoragePath); err == nil && idx.Size() == len(jobs) {
		s.jobs = jobs
		s.index = idx
		s.state = StateReady
		logger.Info().Int("jobs", len(jobs)).Msg("索引快照就绪(磁盘加载)")
		return nil
	} else if errors.Is(err, ErrCorruptIndex) {
		logger.Warn().Err(err).Str("path", s.cfg.StoragePath).Msg("索引文件缺失或损坏，回退到重建")
	} else if err != nil {
		logger.Warn().Err(err).Msg("加载索引文件失败，回退到重建")
	} else {
		logger.Warn().
			Int("index_entries", idx.Size()).
			Int("corpus_size", len(jobs)).
			Msg("索引条目数与语料不一致，回退到重建")
	}

	// 加载失败或索引与语料不一致，重新构建
	return s.buildLocked(ctx, jobs)
}

// Rebuild 重新加载语料并整体替换快照
// 新索引完全构建成功之前，旧快照持续服务查询
func (s *Snapshot) Rebuild(ctx context.Context) error {
	jobs, err := corpus.Load(s.cfg.DatasetPath, s.cfg.MaxJobs)
	if err != nil {
		return fmt.Errorf("加载职位语料失败: %w", err)
	}

	idx := s.newIndex()
	if err := idx.Build(ctx, jobs); err != nil {
		return fmt.Errorf("重建索引失败: %w", err)
	}
	if err := idx.Save(s.cfg.StoragePath); err != nil {
		logger.Warn().Err(err).Msg("持久化重建索引失败，仅保留内存态")
	}

	s.mu.Lock()
	s.jobs = jobs
	s.index = idx
	s.state = StateReady
	s.mu.Unlock()

	logger.Info().Int("jobs", len(jobs)).Msg("索引快照已整体替换")
	return nil
}

// buildLocked 持锁构建索引并持久化，构建失败时快照降级为不可用
func (s *Snapshot) buildLocked(ctx context.Context, jobs []types.JobPosting) error {
	s.state = StateBuilding

	idx := s.newIndex()
	if err := idx.Build(ctx, jobs); err != nil {
		s.state = StateUnavailable
		logger.Error().Err(err).Msg("构建索引失败，索引降级为不可用")
		return err
	}

	if err := idx.Save(s.cfg.StoragePath); err != nil {
		// 持久化失败不影响本次服务，下次启动会再次构建
		logger.Warn().Err(err).Msg("持久化索引失败，仅保留内存态")
	}

	s.jobs = jobs
	s.index = idx
	s.state = StateReady
	logger.Info().Int("jobs", len(jobs)).Msg("索引快照就绪(重新构建)")
	return nil
}

func (s *Snapshot) newIndex() *VectorIndex {
	return NewVectorIndex(s.embedder, s.cfg.Model, s.indexOpt...)
}

// State 当前状态
func (s *Snapshot) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// CorpusSize 当前语料条数
func (s *Snapshot) CorpusSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// JobAt 按序号取职位，序号越界时ok为false
func (s *Snapshot) JobAt(ordinal int) (types.JobPosting, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ordinal < 0 || ordinal >= len(s.jobs) {
		return types.JobPosting{}, false
	}
	return s.jobs[ordinal], true
}

// Query 在快照上检索最近职位
// 快照不可用时返回空结果而非错误，上层据此渲染"暂无匹配"
func (s *Snapshot) Query(ctx context.Context, text string, k int) ([]Hit, error) {
	s.mu.RLock()
	state, idx := s.state, s.index
	s.mu.RUnlock()

	if state != StateReady || idx == nil {
		return nil, nil
	}
	// 索引本身只读，检索放在锁外执行，嵌入调用不阻塞快照替换
	return idx.Search(ctx, text, k)
}
