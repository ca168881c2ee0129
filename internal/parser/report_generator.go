package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"

	"job-matcher-go/internal/logger"
)

// 简历文本送入报告链前的截断长度
const reportInputLimit = 2000

// 报告链最多引用的缺失技能条数
const reportMissingSkillLimit = 10

// LLMReportGenerator 职业发展报告生成链
// 输出的Markdown对本服务是不透明的，原样透传给前端
type LLMReportGenerator struct {
	llmModel     model.ToolCallingChatModel
	systemPrompt string
}

// ReportGeneratorOption 报告生成器配置选项
type ReportGeneratorOption func(*LLMReportGenerator)

// WithReportSystemPrompt 覆盖默认系统提示词
func WithReportSystemPrompt(prompt string) ReportGeneratorOption {
	return func(g *LLMReportGenerator) {
		g.systemPrompt = prompt
	}
}

// NewLLMReportGenerator 创建报告生成器
func NewLLMReportGenerator(llmModel model.ToolCallingChatModel, options ...ReportGeneratorOption) *LLMReportGenerator {
	generator := &LLMReportGenerator{
		llmModel:     llmModel,
		systemPrompt: "You are an expert Career Coach. Generate a structured career report in Markdown.",
	}
	for _, opt := range options {
		opt(generator)
	}
	return generator
}

// Generate 基于简历摘要、匹配职位与缺失技能生成报告
func (g *LLMReportGenerator) Generate(ctx context.Context, resumeText string, jobTitles []string, missingSkills []string) (string, error) {
	if g.llmModel == nil {
		return "", fmt.Errorf("LLMReportGenerator: llmModel未初始化")
	}

	if len(missingSkills) > reportMissingSkillLimit {
		missingSkills = missingSkills[:reportMissingSkillLimit]
	}

	userPrompt := fmt.Sprintf(
		"Resume Summary:\n%s\n\n"+
			"Top Matched Jobs:\n%s\n\n"+
			"Missing Skills:\n%s\n\n"+
			"Include: 1) Executive Summary  2) Top Job Fits  "+
			"3) Skill Gap Analysis  4) 3-Month Learning Roadmap  5) Resume Tips",
		truncateRunes(resumeText, reportInputLimit),
		strings.Join(jobTitles, ", "),
		strings.Join(missingSkills, ", "),
	)

	messages := []*einoschema.Message{
		einoschema.SystemMessage(g.systemPrompt),
		einoschema.UserMessage(userPrompt),
	}

	response, err := g.llmModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("LLMReportGenerator: LLM调用失败: %w", err)
	}
	if response == nil || response.Content == "" {
		return "", fmt.Errorf("LLMReportGenerator: LLM返回空响应")
	}

	logger.Debug().Int("chars", len(response.Content)).Msg("职业报告生成完成")
	return response.Content, nil
}
