// Package types 定义职位匹配服务的共享数据结构
package types

// JobPosting 职位记录，从静态数据集加载后不再修改
// 字段名与数据集JSON的键保持一致
type JobPosting struct {
	JobID            string   `json:"JobID"`
	Title            string   `json:"Title"`
	Location         string   `json:"Location"`
	Responsibilities []string `json:"Responsibilities"`
	Skills           []string `json:"Skills"`
}

// MatchDetails 单个职位的打分明细，百分比均为一位小数
type MatchDetails struct {
	TotalScore    float64  `json:"total_score"`
	SemanticScore float64  `json:"semantic_score"`
	SkillMatch    float64  `json:"skill_match"`
	MissingSkills []string `json:"missing_skills"` // 职位要求但候选人缺失的技能(小写形式)
}

// MatchResult 单个职位的匹配结果
type MatchResult struct {
	JobID           string       `json:"job_id"`
	Title           string       `json:"title"`
	Location        string       `json:"location"`
	MatchPercentage float64      `json:"match_percentage"`
	Details         MatchDetails `json:"details"`
}

// SkillList LLM技能提取的结构化输出
type SkillList struct {
	Skills []string `json:"skills"`
}

// AnalyzeResponse /analyze 接口的响应体
type AnalyzeResponse struct {
	TopJobs      []MatchResult `json:"top_jobs"`
	CareerReport string        `json:"career_report"`
}
