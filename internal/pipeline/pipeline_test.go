package pipeline_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-matcher-go/internal/config"
	"job-matcher-go/internal/index"
	"job-matcher-go/internal/pipeline"
	"job-matcher-go/internal/scorer"
	"job-matcher-go/internal/types"
)

// fakeEmbedder 按文本内容生成确定性向量
type fakeEmbedder struct {
	dimension int
}

func (f *fakeEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, f.dimension)
		for j, r := range text {
			vec[j%f.dimension] += float64(r)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func newTestScorer() *scorer.Scorer {
	return scorer.New(config.MatcherConfig{
		SemanticWeight: 0.5,
		SkillWeight:    0.3,
		BaselineWeight: 0.2,
		BaselineScore:  0.8,
	})
}

func bootstrapSnapshot(t *testing.T, jobs []types.JobPosting) *index.Snapshot {
	t.Helper()
	dir := t.TempDir()

	data, err := json.Marshal(jobs)
	require.NoError(t, err)
	datasetPath := filepath.Join(dir, "job_dataset.json")
	require.NoError(t, os.WriteFile(datasetPath, data, 0o644))

	snap := index.NewSnapshot(index.SnapshotConfig{
		DatasetPath: datasetPath,
		MaxJobs:     100,
		StoragePath: filepath.Join(dir, "index_snapshot.json"),
		Model:       "test-model",
	}, &fakeEmbedder{dimension: 4})
	require.NoError(t, snap.Bootstrap(context.Background()))
	require.Equal(t, index.StateReady, snap.State())
	return snap
}

// TestPipeline_Analyze 结果按匹配度降序，缺失技能为并集
func TestPipeline_Analyze(t *testing.T) {
	jobs := []types.JobPosting{
		{JobID: "j1", Title: "Go Backend", Location: "Beijing", Skills: []string{"Go", "Redis"}},
		{JobID: "j2", Title: "Data Platform", Location: "Shanghai", Skills: []string{"Python", "Spark"}},
		{JobID: "j3", Title: "SRE", Location: "Remote", Skills: []string{"Go", "Kubernetes"}},
	}
	p := pipeline.New(bootstrapSnapshot(t, jobs), newTestScorer(), 5)

	analysis, err := p.Analyze(context.Background(), "Go developer with Redis experience", []string{"Go", "Redis"})
	require.NoError(t, err)
	require.Len(t, analysis.Matches, 3)

	// 降序排列
	for i := 1; i < len(analysis.Matches); i++ {
		assert.GreaterOrEqual(t,
			analysis.Matches[i-1].MatchPercentage,
			analysis.Matches[i].MatchPercentage)
	}

	// 每条结果携带完整明细
	for _, match := range analysis.Matches {
		assert.NotEmpty(t, match.JobID)
		assert.NotEmpty(t, match.Title)
		assert.Equal(t, match.Details.TotalScore, match.MatchPercentage)
	}

	// 缺失技能是所有命中职位的小写并集，按字典序排列
	assert.Equal(t, []string{"kubernetes", "python", "spark"}, analysis.Missing)
}

// TestPipeline_Analyze_TopKTruncation 命中数不超过topK
func TestPipeline_Analyze_TopKTruncation(t *testing.T) {
	jobs := make([]types.JobPosting, 8)
	for i := range jobs {
		jobs[i] = types.JobPosting{
			JobID:  string(rune('a' + i)),
			Title:  "Job",
			Skills: []string{"Go"},
		}
	}
	p := pipeline.New(bootstrapSnapshot(t, jobs), newTestScorer(), 3)

	analysis, err := p.Analyze(context.Background(), "resume text", []string{"Go"})
	require.NoError(t, err)
	assert.Len(t, analysis.Matches, 3)
}

// TestPipeline_Analyze_SmallCorpus 语料少于topK时返回全部职位
func TestPipeline_Analyze_SmallCorpus(t *testing.T) {
	jobs := []types.JobPosting{
		{JobID: "j1", Title: "Only Job", Skills: []string{"Go"}},
	}
	p := pipeline.New(bootstrapSnapshot(t, jobs), newTestScorer(), 5)

	analysis, err := p.Analyze(context.Background(), "resume text", []string{"Go"})
	require.NoError(t, err)
	assert.Len(t, analysis.Matches, 1)
}

// TestPipeline_Analyze_UnavailableIndex 索引不可用时返回空结果而非错误
func TestPipeline_Analyze_UnavailableIndex(t *testing.T) {
	dir := t.TempDir()
	snap := index.NewSnapshot(index.SnapshotConfig{
		DatasetPath: filepath.Join(dir, "missing.json"),
		MaxJobs:     100,
		StoragePath: filepath.Join(dir, "index_snapshot.json"),
		Model:       "test-model",
	}, &fakeEmbedder{dimension: 4})
	require.NoError(t, snap.Bootstrap(context.Background()))
	require.Equal(t, index.StateUnavailable, snap.State())

	p := pipeline.New(snap, newTestScorer(), 5)
	analysis, err := p.Analyze(context.Background(), "resume text", []string{"Go"})
	require.NoError(t, err)
	assert.Empty(t, analysis.Matches)
	assert.Empty(t, analysis.Missing)
}

// TestPipeline_Analyze_TieStability 同分结果保持检索返回的相对次序
func TestPipeline_Analyze_TieStability(t *testing.T) {
	// 复合文本完全相同: 距离相等，检索按序号升序返回；打分输入也相同，总分并列
	jobs := []types.JobPosting{
		{JobID: "j1", Title: "Backend Engineer", Responsibilities: []string{"build"}, Skills: []string{"Go"}},
		{JobID: "j2", Title: "Backend Engineer", Responsibilities: []string{"build"}, Skills: []string{"Go"}},
		{JobID: "j3", Title: "Backend Engineer", Responsibilities: []string{"build"}, Skills: []string{"Go"}},
	}
	p := pipeline.New(bootstrapSnapshot(t, jobs), newTestScorer(), 5)

	analysis, err := p.Analyze(context.Background(), "resume text", []string{"Go"})
	require.NoError(t, err)
	require.Len(t, analysis.Matches, 3)

	// 全部同分，稳定排序不得改变输入次序
	assert.Equal(t, analysis.Matches[0].MatchPercentage, analysis.Matches[1].MatchPercentage)
	assert.Equal(t, analysis.Matches[1].MatchPercentage, analysis.Matches[2].MatchPercentage)
	assert.Equal(t, "j1", analysis.Matches[0].JobID)
	assert.Equal(t, "j2", analysis.Matches[1].JobID)
	assert.Equal(t, "j3", analysis.Matches[2].JobID)
}

// TestPipeline_Analyze_StaleOrdinalSkipped 索引携带过期序号时该命中被跳过，其余正常返回
func TestPipeline_Analyze_StaleOrdinalSkipped(t *testing.T) {
	dir := t.TempDir()
	jobs := []types.JobPosting{
		{JobID: "j1", Title: "Go Backend", Skills: []string{"Go"}},
		{JobID: "j2", Title: "SRE", Skills: []string{"Kubernetes"}},
	}

	data, err := json.Marshal(jobs)
	require.NoError(t, err)
	datasetPath := filepath.Join(dir, "job_dataset.json")
	require.NoError(t, os.WriteFile(datasetPath, data, 0o644))

	// 手工落盘一个条目数与语料一致、但其中一个序号越界的索引文件
	// 条目数匹配使其通过启动加载，越界序号只能在排序阶段被发现
	storagePath := filepath.Join(dir, "index_snapshot.json")
	staleIndex := `{"model":"test-model","dimension":4,"entries":[` +
		`{"id":"a","ordinal":0,"vector":[1,0,0,0]},` +
		`{"id":"b","ordinal":7,"vector":[0,1,0,0]}]}`
	require.NoError(t, os.WriteFile(storagePath, []byte(staleIndex), 0o644))

	snap := index.NewSnapshot(index.SnapshotConfig{
		DatasetPath: datasetPath,
		MaxJobs:     100,
		StoragePath: storagePath,
		Model:       "test-model",
	}, &fakeEmbedder{dimension: 4})
	require.NoError(t, snap.Bootstrap(context.Background()))
	require.Equal(t, index.StateReady, snap.State())

	p := pipeline.New(snap, newTestScorer(), 5)
	analysis, err := p.Analyze(context.Background(), "resume text", []string{"Go"})
	require.NoError(t, err)

	// 序号7无对应职位被丢弃，序号0正常参与排序
	require.Len(t, analysis.Matches, 1)
	assert.Equal(t, "j1", analysis.Matches[0].JobID)
	assert.Empty(t, analysis.Missing)
}

// TestPipeline_Analyze_NoCandidateSkills 候选人无技能时仍产出排序结果
func TestPipeline_Analyze_NoCandidateSkills(t *testing.T) {
	jobs := []types.JobPosting{
		{JobID: "j1", Title: "Go Backend", Skills: []string{"Go"}},
		{JobID: "j2", Title: "SRE", Skills: []string{"Kubernetes"}},
	}
	p := pipeline.New(bootstrapSnapshot(t, jobs), newTestScorer(), 5)

	analysis, err := p.Analyze(context.Background(), "resume text", nil)
	require.NoError(t, err)
	require.Len(t, analysis.Matches, 2)
	assert.Equal(t, []string{"go", "kubernetes"}, analysis.Missing)
}
