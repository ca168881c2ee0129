// Package pipeline 编排一次简历分析的端到端排序流程
package pipeline

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"job-matcher-go/internal/index"
	"job-matcher-go/internal/logger"
	"job-matcher-go/internal/scorer"
	"job-matcher-go/internal/tracing"
	"job-matcher-go/internal/types"
)

var pipelineTracer = otel.Tracer("job-matcher-go/pipeline")

// Analysis 一次分析的产出
type Analysis struct {
	Matches []types.MatchResult // 按匹配度降序的完整结果，不在此层截断
	Missing []string            // 所有命中职位缺失技能的并集，交给报告生成使用
}

// Pipeline 排序管道
type Pipeline struct {
	snapshot *index.Snapshot
	scorer   *scorer.Scorer
	topK     int
}

// New 创建排序管道
func New(snapshot *index.Snapshot, matchScorer *scorer.Scorer, topK int) *Pipeline {
	if topK <= 0 {
		topK = 5
	}
	return &Pipeline{
		snapshot: snapshot,
		scorer:   matchScorer,
		topK:     topK,
	}
}

// Analyze 对简历文本与提取出的技能执行检索、打分与排序
// 索引不可用时返回空结果；检索返回的过期序号直接跳过
func (p *Pipeline) Analyze(ctx context.Context, resumeText string, candidateSkills []string) (*Analysis, error) {
	ctx, span := pipelineTracer.Start(ctx, "Pipeline.Analyze",
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	span.SetAttributes(
		attribute.Int("resume.skills", len(candidateSkills)),
		attribute.Int("pipeline.top_k", p.topK),
	)

	hits, err := p.snapshot.Query(ctx, resumeText, p.topK)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorIndex)
		return nil, err
	}

	matches := make([]types.MatchResult, 0, len(hits))
	missingSet := make(map[string]struct{})

	for _, hit := range hits {
		job, ok := p.snapshot.JobAt(hit.Ordinal)
		if !ok {
			// 语料缩小后索引可能携带过期序号，静默跳过
			logger.Debug().
				Int("ordinal", hit.Ordinal).
				Int("corpus_size", p.snapshot.CorpusSize()).
				Msg("检索结果序号越界，已跳过")
			continue
		}

		details := p.scorer.Score(candidateSkills, job, hit.Distance)
		matches = append(matches, types.MatchResult{
			JobID:           job.JobID,
			Title:           job.Title,
			Location:        job.Location,
			MatchPercentage: details.TotalScore,
			Details:         details,
		})

		for _, skill := range details.MissingSkills {
			missingSet[skill] = struct{}{}
		}
	}

	// 匹配度降序，同分保持输入相对次序
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].MatchPercentage > matches[j].MatchPercentage
	})

	missing := make([]string, 0, len(missingSet))
	for skill := range missingSet {
		missing = append(missing, skill)
	}
	sort.Strings(missing)

	span.SetAttributes(
		attribute.Int("pipeline.matches", len(matches)),
		attribute.Int("pipeline.missing_skills", len(missing)),
	)
	span.SetStatus(codes.Ok, "")

	return &Analysis{Matches: matches, Missing: missing}, nil
}
