// Package handler 实现简历分析的HTTP处理逻辑
package handler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"job-matcher-go/internal/index"
	"job-matcher-go/internal/logger"
	"job-matcher-go/internal/parser"
	"job-matcher-go/internal/pipeline"
	"job-matcher-go/internal/tracing"
	"job-matcher-go/internal/types"
)

var handlerTracer = otel.Tracer("job-matcher-go/api/handler")

// AnalyzeHandler 负责处理简历分析请求
type AnalyzeHandler struct {
	extractor       *parser.TextExtractor
	skillExtractor  *parser.LLMSkillExtractor
	reportGenerator *parser.LLMReportGenerator
	rankingPipeline *pipeline.Pipeline
	snapshot        *index.Snapshot
}

// NewAnalyzeHandler 创建分析处理器
func NewAnalyzeHandler(
	extractor *parser.TextExtractor,
	skillExtractor *parser.LLMSkillExtractor,
	reportGenerator *parser.LLMReportGenerator,
	rankingPipeline *pipeline.Pipeline,
	snapshot *index.Snapshot,
) *AnalyzeHandler {
	return &AnalyzeHandler{
		extractor:       extractor,
		skillExtractor:  skillExtractor,
		reportGenerator: reportGenerator,
		rankingPipeline: rankingPipeline,
		snapshot:        snapshot,
	}
}

// HandleAnalyze 处理一次简历上传与分析
// 客户端错误返回具体原因，后端错误返回笼统消息并把细节写入日志
func (h *AnalyzeHandler) HandleAnalyze(c context.Context, ctx *app.RequestContext) {
	c, span := handlerTracer.Start(c, "AnalyzeHandler.HandleAnalyze",
		trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	requestID := newRequestID()
	span.SetAttributes(attribute.String("request.id", requestID))
	reqLogger := logger.Logger.With().Str("request_id", requestID).Logger()

	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		tracing.RecordHTTPError(span, err, consts.StatusBadRequest)
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "文件未找到"})
		return
	}

	// 上传文件落到临时目录，所有退出路径都会清理
	ext := filepath.Ext(fileHeader.Filename)
	tmpFile, err := os.CreateTemp("", "resume_*"+ext)
	if err != nil {
		reqLogger.Error().Err(err).Msg("创建临时文件失败")
		tracing.RecordHTTPError(span, err, consts.StatusInternalServerError)
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "分析失败"})
		return
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer func() {
		if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			reqLogger.Warn().Err(err).Str("path", tmpPath).Msg("清理临时文件失败")
		}
	}()

	if err := ctx.SaveUploadedFile(fileHeader, tmpPath); err != nil {
		reqLogger.Error().Err(err).Msg("保存上传文件失败")
		tracing.RecordHTTPError(span, err, consts.StatusInternalServerError)
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "分析失败"})
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")

	// 1. 提取简历文本
	resumeText, err := h.extractor.Extract(c, tmpPath, contentType)
	if err != nil {
		reqLogger.Warn().Err(err).Str("filename", fileHeader.Filename).Msg("简历文本提取失败")
		tracing.RecordHTTPError(span, err, consts.StatusBadRequest)
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": fmt.Sprintf("无法读取文件: %v", err)})
		return
	}
	if resumeText == "" {
		err := errors.New("提取结果为空")
		tracing.RecordHTTPError(span, err, consts.StatusBadRequest)
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "无法从文件中提取文本"})
		return
	}

	// 2. LLM提取技能，失败对本次请求致命
	skills, err := h.skillExtractor.Extract(c, resumeText)
	if err != nil {
		reqLogger.Error().Err(err).Msg("技能提取失败")
		tracing.RecordHTTPError(span, err, consts.StatusInternalServerError)
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "分析失败"})
		return
	}

	// 3. 检索 + 打分 + 排序
	analysis, err := h.rankingPipeline.Analyze(c, resumeText, skills)
	if err != nil {
		reqLogger.Error().Err(err).Msg("排序管道执行失败")
		tracing.RecordHTTPError(span, err, consts.StatusInternalServerError)
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "分析失败"})
		return
	}

	// 4. 生成职业报告
	titles := make([]string, len(analysis.Matches))
	for i, match := range analysis.Matches {
		titles[i] = match.Title
	}
	report, err := h.reportGenerator.Generate(c, resumeText, titles, analysis.Missing)
	if err != nil {
		reqLogger.Error().Err(err).Msg("职业报告生成失败")
		tracing.RecordHTTPError(span, err, consts.StatusInternalServerError)
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "分析失败"})
		return
	}

	reqLogger.Info().
		Int("matches", len(analysis.Matches)).
		Int("skills", len(skills)).
		Msg("简历分析完成")

	span.SetAttributes(attribute.Int("analysis.matches", len(analysis.Matches)))
	span.SetStatus(codes.Ok, "")

	ctx.JSON(consts.StatusOK, types.AnalyzeResponse{
		TopJobs:      analysis.Matches,
		CareerReport: report,
	})
}

// HandleHealth 健康检查，附带索引状态
func (h *AnalyzeHandler) HandleHealth(c context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, utils.H{
		"status":      "ok",
		"index_state": h.snapshot.State().String(),
		"corpus_size": h.snapshot.CorpusSize(),
	})
}

// newRequestID 生成UUIDv7请求ID，生成失败时退化为空串
func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return ""
	}
	return id.String()
}
