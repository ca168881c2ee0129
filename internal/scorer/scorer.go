// Package scorer 把语义距离与技能重合度合成为可解释的匹配分
package scorer

import (
	"math"
	"sort"
	"strings"

	"job-matcher-go/internal/config"
	"job-matcher-go/internal/types"
)

// Scorer 匹配打分器，纯函数式，无内部状态
type Scorer struct {
	cfg config.MatcherConfig
}

// New 创建打分器，权重来自配置
func New(cfg config.MatcherConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// SemanticScore 把非负距离转换为(0,1]的相似度
// d=0时为1，距离越大越趋近0，天然避免除零
func SemanticScore(distance float64) float64 {
	return 1.0 / (1.0 + distance)
}

// Score 计算候选人对单个职位的匹配明细
// 技能比较统一转小写，missing_skills以小写形式返回并按字典序排列
func (s *Scorer) Score(candidateSkills []string, job types.JobPosting, distance float64) types.MatchDetails {
	jobSkills := toLowerSet(job.Skills)
	mySkills := toLowerSet(candidateSkills)

	var skillScore float64
	if len(jobSkills) > 0 {
		overlap := 0
		for skill := range jobSkills {
			if _, ok := mySkills[skill]; ok {
				overlap++
			}
		}
		skillScore = float64(overlap) / float64(len(jobSkills))
	}

	semanticScore := SemanticScore(distance)
	total := semanticScore*s.cfg.SemanticWeight +
		skillScore*s.cfg.SkillWeight +
		s.cfg.BaselineScore*s.cfg.BaselineWeight

	missing := make([]string, 0)
	for skill := range jobSkills {
		if _, ok := mySkills[skill]; !ok {
			missing = append(missing, skill)
		}
	}
	sort.Strings(missing)

	// 三个百分比各自独立取一位小数，展示值相加不必恰好等于总分
	return types.MatchDetails{
		TotalScore:    roundPercent(total),
		SemanticScore: roundPercent(semanticScore),
		SkillMatch:    roundPercent(skillScore),
		MissingSkills: missing,
	}
}

// toLowerSet 技能列表转小写集合，空串忽略
func toLowerSet(skills []string) map[string]struct{} {
	set := make(map[string]struct{}, len(skills))
	for _, skill := range skills {
		lowered := strings.ToLower(strings.TrimSpace(skill))
		if lowered != "" {
			set[lowered] = struct{}{}
		}
	}
	return set
}

// roundPercent 比例值转为一位小数的百分比
// 0.05边界按远离零方向进位，如62.65% -> 62.7
func roundPercent(ratio float64) float64 {
	return math.Round(ratio*1000) / 10
}
