// Package corpus 负责从静态数据集加载职位语料
package corpus

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"job-matcher-go/internal/logger"
	"job-matcher-go/internal/types"
)

// ErrDataUnavailable 数据集文件不存在
// 调用方应将其视为"暂无语料"而非致命错误
var ErrDataUnavailable = errors.New("职位数据集不可用")

const (
	// DefaultJobID 数据集中缺失JobID时的占位值
	DefaultJobID = "N/A"
	// DefaultTitle 缺失标题时的占位值
	DefaultTitle = "Unknown"
	// DefaultLocation 缺失工作地点时的占位值
	DefaultLocation = "Remote/Not Specified"
)

// Load 从path加载职位语料，按数据集顺序截断到limit条
// 职位在返回切片中的下标即其序号(ordinal)，是索引与语料之间的连接键
func Load(path string, limit int) ([]types.JobPosting, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDataUnavailable, path)
		}
		return nil, fmt.Errorf("访问职位数据集失败: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取职位数据集失败: %w", err)
	}

	var jobs []types.JobPosting
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("解析职位数据集失败: %w", err)
	}

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}

	for i := range jobs {
		normalize(&jobs[i])
	}

	logger.Info().
		Str("path", path).
		Int("count", len(jobs)).
		Msg("职位语料加载完成")

	return jobs, nil
}

// normalize 为缺失字段填充占位值
func normalize(job *types.JobPosting) {
	if job.JobID == "" {
		job.JobID = DefaultJobID
	}
	if job.Title == "" {
		job.Title = DefaultTitle
	}
	if job.Location == "" {
		job.Location = DefaultLocation
	}
}

// CompositeText 生成职位的复合文本，仅用作嵌入输入
// 拼接格式与打分逻辑约定一致: 标题、职责、技能
func CompositeText(job types.JobPosting) string {
	return fmt.Sprintf("%s. %s. Skills: %s",
		job.Title,
		strings.Join(job.Responsibilities, " "),
		strings.Join(job.Skills, ", "),
	)
}
