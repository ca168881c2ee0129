package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-matcher-go/internal/api/handler"
	"job-matcher-go/internal/api/router"
	"job-matcher-go/internal/config"
	"job-matcher-go/internal/index"
	"job-matcher-go/internal/parser"
	"job-matcher-go/internal/pipeline"
	"job-matcher-go/internal/scorer"
	"job-matcher-go/internal/types"
)

// fakeEmbedder 确定性向量嵌入器
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

// routingMockLLM 按系统提示词区分技能提取与报告生成两条链
type routingMockLLM struct {
	skillResponse  string
	reportResponse string
	skillErr       error
}

func (m *routingMockLLM) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	if len(messages) > 0 && strings.Contains(messages[0].Content, "Career Coach") {
		return &schema.Message{Role: schema.Assistant, Content: m.reportResponse}, nil
	}
	if m.skillErr != nil {
		return nil, m.skillErr
	}
	return &schema.Message{Role: schema.Assistant, Content: m.skillResponse}, nil
}

func (m *routingMockLLM) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported in mock")
}

func (m *routingMockLLM) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func defaultTestJobs() []types.JobPosting {
	return []types.JobPosting{
		{JobID: "j1", Title: "Go Backend", Location: "Beijing", Skills: []string{"Go", "Redis"}},
		{JobID: "j2", Title: "Data Platform", Location: "Shanghai", Skills: []string{"Python", "Spark"}},
	}
}

// newTestServer 组装带mock依赖的完整服务
func newTestServer(t *testing.T, llm model.ToolCallingChatModel, jobs []types.JobPosting) *server.Hertz {
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

	textExtractor, err := parser.NewTextExtractor(context.Background())
	require.NoError(t, err)

	matchScorer := scorer.New(config.MatcherConfig{
		SemanticWeight: 0.5,
		SkillWeight:    0.3,
		BaselineWeight: 0.2,
		BaselineScore:  0.8,
	})

	analyzeHandler := handler.NewAnalyzeHandler(
		textExtractor,
		parser.NewLLMSkillExtractor(llm),
		parser.NewLLMReportGenerator(llm),
		pipeline.New(snap, matchScorer, 5),
		snap,
	)

	h := server.Default()
	router.RegisterRoutes(h, analyzeHandler)
	return h
}

// multipartResume 构造携带简历文件的multipart请求体
func multipartResume(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

// TestHandleAnalyze_Success 完整分析流程
func TestHandleAnalyze_Success(t *testing.T) {
	llm := &routingMockLLM{
		skillResponse:  `{"skills": ["Go", "Redis"]}`,
		reportResponse: "# Career Report\n\nYou are on track.",
	}
	h := newTestServer(t, llm, defaultTestJobs())

	body, contentType := multipartResume(t, "resume.txt", []byte("Experienced Go developer with Redis background."))
	resp := ut.PerformRequest(h.Engine, "POST", "/api/v1/analyze",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType},
	)

	require.Equal(t, http.StatusOK, resp.Code)

	var result types.AnalyzeResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.Len(t, result.TopJobs, 2)
	assert.Equal(t, "# Career Report\n\nYou are on track.", result.CareerReport)

	// 降序排列且携带明细
	assert.GreaterOrEqual(t, result.TopJobs[0].MatchPercentage, result.TopJobs[1].MatchPercentage)
	for _, job := range result.TopJobs {
		assert.NotEmpty(t, job.JobID)
		assert.NotEmpty(t, job.Title)
	}
}

// TestHandleAnalyze_NoFile 缺少文件字段返回400
func TestHandleAnalyze_NoFile(t *testing.T) {
	llm := &routingMockLLM{skillResponse: `{"skills": []}`, reportResponse: "# R"}
	h := newTestServer(t, llm, defaultTestJobs())

	resp := ut.PerformRequest(h.Engine, "POST", "/api/v1/analyze", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

// TestHandleAnalyze_EmptyFile 提取不出文本返回400
func TestHandleAnalyze_EmptyFile(t *testing.T) {
	llm := &routingMockLLM{skillResponse: `{"skills": []}`, reportResponse: "# R"}
	h := newTestServer(t, llm, defaultTestJobs())

	body, contentType := multipartResume(t, "resume.txt", []byte("   \n  "))
	resp := ut.PerformRequest(h.Engine, "POST", "/api/v1/analyze",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType},
	)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

// TestHandleAnalyze_UnreadablePDF 无法解析的PDF返回400
func TestHandleAnalyze_UnreadablePDF(t *testing.T) {
	llm := &routingMockLLM{skillResponse: `{"skills": []}`, reportResponse: "# R"}
	h := newTestServer(t, llm, defaultTestJobs())

	body, contentType := multipartResume(t, "resume.pdf", []byte("not a pdf at all"))
	resp := ut.PerformRequest(h.Engine, "POST", "/api/v1/analyze",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType},
	)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

// TestHandleAnalyze_SkillExtractionFailure 技能链失败返回500且不泄露内部细节
func TestHandleAnalyze_SkillExtractionFailure(t *testing.T) {
	llm := &routingMockLLM{skillErr: errors.New("upstream quota exceeded"), reportResponse: "# R"}
	h := newTestServer(t, llm, defaultTestJobs())

	body, contentType := multipartResume(t, "resume.txt", []byte("Go developer resume."))
	resp := ut.PerformRequest(h.Engine, "POST", "/api/v1/analyze",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType},
	)

	require.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.NotContains(t, resp.Body.String(), "quota")
}

// TestHandleAnalyze_UnavailableIndex 索引不可用时仍返回200与空结果
func TestHandleAnalyze_UnavailableIndex(t *testing.T) {
	llm := &routingMockLLM{
		skillResponse:  `{"skills": ["Go"]}`,
		reportResponse: "# Career Report",
	}

	dir := t.TempDir()
	snap := index.NewSnapshot(index.SnapshotConfig{
		DatasetPath: filepath.Join(dir, "missing.json"),
		MaxJobs:     100,
		StoragePath: filepath.Join(dir, "index_snapshot.json"),
		Model:       "test-model",
	}, &fakeEmbedder{dimension: 4})
	require.NoError(t, snap.Bootstrap(context.Background()))
	require.Equal(t, index.StateUnavailable, snap.State())

	textExtractor, err := parser.NewTextExtractor(context.Background())
	require.NoError(t, err)

	analyzeHandler := handler.NewAnalyzeHandler(
		textExtractor,
		parser.NewLLMSkillExtractor(llm),
		parser.NewLLMReportGenerator(llm),
		pipeline.New(snap, scorer.New(config.MatcherConfig{
			SemanticWeight: 0.5, SkillWeight: 0.3, BaselineWeight: 0.2, BaselineScore: 0.8,
		}), 5),
		snap,
	)
	h := server.Default()
	router.RegisterRoutes(h, analyzeHandler)

	body, contentType := multipartResume(t, "resume.txt", []byte("Go developer resume."))
	resp := ut.PerformRequest(h.Engine, "POST", "/api/v1/analyze",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType},
	)

	require.Equal(t, http.StatusOK, resp.Code)
	var result types.AnalyzeResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	assert.Empty(t, result.TopJobs)
	assert.NotEmpty(t, result.CareerReport)
}

// TestHandleHealth 健康检查携带索引状态
func TestHandleHealth(t *testing.T) {
	llm := &routingMockLLM{skillResponse: `{"skills": []}`, reportResponse: "# R"}
	h := newTestServer(t, llm, defaultTestJobs())

	resp := ut.PerformRequest(h.Engine, "GET", "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	assert.Equal(t, "ok", payload["status"])
	assert.Equal(t, "ready", payload["index_state"])
	assert.EqualValues(t, 2, payload["corpus_size"])
}
