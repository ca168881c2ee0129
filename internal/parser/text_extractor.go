// Package parser 承担简历文本提取与两条LLM链(技能提取、报告生成)
package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
	"github.com/nguyenthenguyen/docx"

	"job-matcher-go/internal/logger"
)

// ErrExtractionFailed 上传文件无法读取为文本
var ErrExtractionFailed = errors.New("无法读取文件内容")

// TextExtractor 从简历文件提取纯文本
// PDF走Eino解析器，DOCX走docx库，其余按UTF-8纯文本读取
type TextExtractor struct {
	pdfParser *pdf.PDFParser
}

// NewTextExtractor 初始化文本提取器
// ToPages为false以获取整份文档的连续文本
func NewTextExtractor(ctx context.Context) (*TextExtractor, error) {
	p, err := pdf.NewPDFParser(ctx, &pdf.Config{
		ToPages: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Eino PDF parser: %w", err)
	}
	return &TextExtractor{pdfParser: p}, nil
}

// Extract 根据文件名后缀与声明的content type提取文本
func (e *TextExtractor) Extract(ctx context.Context, path string, contentType string) (string, error) {
	start := time.Now()

	var (
		text string
		err  error
	)
	switch {
	case strings.HasSuffix(path, ".pdf") || strings.Contains(contentType, "pdf"):
		text, err = e.extractPDF(ctx, path)
	case strings.HasSuffix(path, ".docx") || strings.Contains(contentType, "wordprocessingml"):
		text, err = e.extractDocx(path)
	default:
		text, err = e.extractPlain(path)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	logger.Debug().
		Str("path", path).
		Int("chars", len(text)).
		Dur("elapsed", time.Since(start)).
		Msg("简历文本提取完成")

	return strings.TrimSpace(text), nil
}

// extractPDF 解析PDF全文
func (e *TextExtractor) extractPDF(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("打开PDF文件失败: %w", err)
	}
	defer file.Close()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	docs, err := e.pdfParser.Parse(ctx, file, einoParser.WithURI(filepath.Base(path)))
	if err != nil {
		return "", fmt.Errorf("eino PDF parser failed: %w", err)
	}
	if len(docs) == 0 {
		return "", fmt.Errorf("eino PDF parser returned no documents")
	}

	var sb strings.Builder
	for i, doc := range docs {
		sb.WriteString(doc.Content)
		if i < len(docs)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

// extractDocx 解析DOCX正文
func (e *TextExtractor) extractDocx(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("读取DOCX文件失败: %w", err)
	}

	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to parse docx: %w", err)
	}
	defer doc.Close()

	return stripXMLTags(doc.Editable().GetContent()), nil
}

// extractPlain 按纯文本读取，非法字节由调用方容忍
func (e *TextExtractor) extractPlain(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("读取文件失败: %w", err)
	}
	return string(data), nil
}

// stripXMLTags 去掉document.xml中的标签，段落边界以换行代替
func stripXMLTags(content string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range content {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
