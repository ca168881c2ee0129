package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"

	"job-matcher-go/internal/logger"
	"job-matcher-go/internal/types"
)

// ErrSkillExtraction 技能提取链失败
// 没有技能就无法计算技能重合度，该错误对单个请求是致命的
var ErrSkillExtraction = errors.New("技能提取失败")

// 简历文本送入技能提取链前的截断长度
const skillExtractionInputLimit = 4000

// LLMSkillExtractor 基于对话模型的技能提取器
type LLMSkillExtractor struct {
	llmModel       model.ToolCallingChatModel
	promptTemplate string
}

// SkillExtractorOption 技能提取器配置选项
type SkillExtractorOption func(*LLMSkillExtractor)

// WithSkillPromptTemplate 覆盖默认提示词模板
func WithSkillPromptTemplate(template string) SkillExtractorOption {
	return func(e *LLMSkillExtractor) {
		e.promptTemplate = template
	}
}

// NewLLMSkillExtractor 创建技能提取器
func NewLLMSkillExtractor(llmModel model.ToolCallingChatModel, options ...SkillExtractorOption) *LLMSkillExtractor {
	extractor := &LLMSkillExtractor{
		llmModel: llmModel,
		promptTemplate: `Extract all technical skills, soft skills, and tools from this resume. ` +
			`Respond ONLY with valid JSON in exactly this shape: {"skills": ["skill1", "skill2", ...]}. ` +
			`Do not output any text outside the JSON object.`,
	}
	for _, opt := range options {
		opt(extractor)
	}
	return extractor
}

// Extract 从简历文本提取技能列表
func (e *LLMSkillExtractor) Extract(ctx context.Context, resumeText string) ([]string, error) {
	if e.llmModel == nil {
		return nil, fmt.Errorf("%w: llmModel未初始化", ErrSkillExtraction)
	}

	truncated := truncateRunes(resumeText, skillExtractionInputLimit)

	messages := []*einoschema.Message{
		einoschema.SystemMessage(e.promptTemplate),
		einoschema.UserMessage(truncated),
	}

	response, err := e.llmModel.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("%w: LLM调用失败: %v", ErrSkillExtraction, err)
	}
	if response == nil || response.Content == "" {
		return nil, fmt.Errorf("%w: LLM返回空响应", ErrSkillExtraction)
	}

	// 去掉可能的BOM后提取JSON
	processed := strings.TrimPrefix(response.Content, "\uFEFF")
	jsonStr := extractJSONFromResponse(processed)
	if jsonStr == "" {
		return nil, fmt.Errorf("%w: 响应中未找到JSON对象: %.200s", ErrSkillExtraction, processed)
	}
	if !utf8.ValidString(jsonStr) {
		jsonStr = strings.ToValidUTF8(jsonStr, "")
	}

	var skillList types.SkillList
	if err := json.Unmarshal([]byte(jsonStr), &skillList); err != nil {
		// 解析失败时自动修复字符串内未转义的引号再试一次
		fixed := sanitizeJSON(jsonStr)
		if jsonErr := json.Unmarshal([]byte(fixed), &skillList); jsonErr != nil {
			return nil, fmt.Errorf("%w: 解析JSON失败: %v (修复后: %v)", ErrSkillExtraction, err, jsonErr)
		}
	}

	skills := make([]string, 0, len(skillList.Skills))
	for _, skill := range skillList.Skills {
		if trimmed := strings.TrimSpace(skill); trimmed != "" {
			skills = append(skills, trimmed)
		}
	}

	logger.Debug().Int("skills", len(skills)).Msg("简历技能提取完成")
	return skills, nil
}

// truncateRunes 按rune截断文本
func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

// extractJSONFromResponse 从文本中取出第一个完整的JSON对象
func extractJSONFromResponse(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	level := 0
	for i := start; i < len(text); i++ {
		if text[i] == '{' {
			level++
		} else if text[i] == '}' {
			level--
			if level == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// sanitizeJSON 把字符串字面量内部未转义的双引号改写为\"
// 通过检查下一个非空白字符是否为 :, ], }, 或 , 判断当前引号是否为真正的字符串结束
func sanitizeJSON(src string) string {
	var b strings.Builder
	inStr := false
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]

		if c == '"' && !escaped {
			if !inStr {
				inStr = true
				b.WriteByte(c)
			} else {
				j := i + 1
				for j < len(src) && (src[j] == ' ' || src[j] == '\t' || src[j] == '\n' || src[j] == '\r') {
					j++
				}
				if j < len(src) && (src[j] == ':' || src[j] == ',' || src[j] == ']' || src[j] == '}') {
					inStr = false
					b.WriteByte(c)
				} else {
					b.WriteString("\\\"")
				}
			}
			escaped = false
		} else if c == '\\' && !escaped {
			escaped = true
			b.WriteByte(c)
		} else {
			b.WriteByte(c)
			escaped = false
		}
	}

	return b.String()
}
