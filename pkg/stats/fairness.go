package stats

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/paiban/staffplan/pkg/model"
)

// FairnessMetrics 公平性指标
type FairnessMetrics struct {
	// 工作量公平性（按半天计）
	WorkloadGini    float64 `json:"workload_gini"`     // 半天数基尼系数 (0=完全公平, 1=完全不公平)
	WorkloadStdDev  float64 `json:"workload_std_dev"`  // 半天数标准差
	AvgHalfDays     float64 `json:"avg_half_days"`     // 人均半天数
	MaxHalfDays     float64 `json:"max_half_days"`     // 最多半天数
	MinHalfDays     float64 `json:"min_half_days"`     // 最少半天数
	HalfDayRange    float64 `json:"half_day_range"`    // 极差
	SiteChangeCount int     `json:"site_change_count"` // 上下午换站点次数

	// 关门职责公平性
	ClosingGini       float64 `json:"closing_gini"`        // 关门次数基尼系数
	ClosingMax        int     `json:"closing_max"`         // 单人最多关门次数
	WeeklyRoleHolders int     `json:"weekly_role_holders"` // 承担过 2F/3F 的人数

	// 人员级别统计
	PersonStats []PersonStat `json:"person_stats"`

	// 综合评分
	OverallFairnessScore float64 `json:"overall_fairness_score"` // 综合公平性评分 (0-100)
}

// PersonStat 人员统计
type PersonStat struct {
	PersonID     uuid.UUID `json:"person_id"`
	Name         string    `json:"name"`
	HalfDays     int       `json:"half_days"`
	Placeholders int       `json:"placeholders"`
	Closings     int       `json:"closings"`
	WeeklyRoles  int       `json:"weekly_roles"`
	Locations    int       `json:"locations"`
	Deviation    float64   `json:"deviation"` // 与平均值的偏差百分比
}

// FairnessAnalyzer 公平性分析器
type FairnessAnalyzer struct{}

// NewFairnessAnalyzer 创建公平性分析器
func NewFairnessAnalyzer() *FairnessAnalyzer {
	return &FairnessAnalyzer{}
}

// Analyze 分析分配公平性，persons 中没有分配的人员也参与计算
func (f *FairnessAnalyzer) Analyze(assignments []model.Assignment, persons []model.Person) *FairnessMetrics {
	if len(assignments) == 0 {
		return &FairnessMetrics{OverallFairnessScore: 100}
	}

	personStats := f.calculatePersonStats(assignments, persons)

	halfDays := make([]float64, len(personStats))
	closings := make([]float64, len(personStats))
	maxClosing := 0
	holders := 0
	for i, stat := range personStats {
		halfDays[i] = float64(stat.HalfDays)
		closings[i] = float64(stat.Closings)
		if stat.Closings > maxClosing {
			maxClosing = stat.Closings
		}
		if stat.WeeklyRoles > 0 {
			holders++
		}
	}

	avg := f.calculateMean(halfDays)
	stdDev := math.Sqrt(f.calculateVariance(halfDays, avg))
	maxDays, minDays := f.calculateRange(halfDays)

	for i := range personStats {
		if avg > 0 {
			personStats[i].Deviation = (float64(personStats[i].HalfDays) - avg) / avg * 100
		}
	}

	workloadGini := f.calculateGini(halfDays)
	closingGini := f.calculateGini(closings)

	return &FairnessMetrics{
		WorkloadGini:         workloadGini,
		WorkloadStdDev:       stdDev,
		AvgHalfDays:          avg,
		MaxHalfDays:          maxDays,
		MinHalfDays:          minDays,
		HalfDayRange:         maxDays - minDays,
		SiteChangeCount:      countSiteChanges(assignments),
		ClosingGini:          closingGini,
		ClosingMax:           maxClosing,
		WeeklyRoleHolders:    holders,
		PersonStats:          personStats,
		OverallFairnessScore: f.calculateOverallScore(workloadGini, closingGini, stdDev, avg),
	}
}

// calculatePersonStats 计算人员统计数据
func (f *FairnessAnalyzer) calculatePersonStats(assignments []model.Assignment, persons []model.Person) []PersonStat {
	statMap := make(map[uuid.UUID]*PersonStat)
	locations := make(map[uuid.UUID]model.StringSet)

	for _, p := range persons {
		if p.Active {
			statMap[p.ID] = &PersonStat{PersonID: p.ID, Name: p.Name}
		}
	}

	for _, a := range assignments {
		stat, exists := statMap[a.PersonID]
		if !exists {
			stat = &PersonStat{PersonID: a.PersonID, Name: a.PersonID.String()}
			statMap[a.PersonID] = stat
		}
		if a.IsPlaceholder() {
			stat.Placeholders++
			continue
		}
		stat.HalfDays++
		if a.RoleTag != model.TagNone {
			stat.Closings++
		}
		if a.RoleTag.IsWeeklyLimited() {
			stat.WeeklyRoles++
		}
		if locations[a.PersonID] == nil {
			locations[a.PersonID] = model.NewStringSet()
		}
		locations[a.PersonID][a.LocationID] = struct{}{}
	}

	result := make([]PersonStat, 0, len(statMap))
	for id, stat := range statMap {
		stat.Locations = len(locations[id])
		result = append(result, *stat)
	}

	// 按半天数排序
	sort.Slice(result, func(i, j int) bool {
		if result[i].HalfDays != result[j].HalfDays {
			return result[i].HalfDays > result[j].HalfDays
		}
		return result[i].PersonID.String() < result[j].PersonID.String()
	})

	return result
}

// countSiteChanges 同一人同一天上下午不在同一站点的次数
func countSiteChanges(assignments []model.Assignment) int {
	type dayKey struct {
		person uuid.UUID
		date   string
	}
	am := make(map[dayKey]string)
	pm := make(map[dayKey]string)
	for _, a := range assignments {
		if a.IsPlaceholder() {
			continue
		}
		k := dayKey{a.PersonID, a.Date}
		if a.HalfDay == model.Morning {
			am[k] = a.LocationID
		} else {
			pm[k] = a.LocationID
		}
	}
	n := 0
	for k, loc := range am {
		if other, ok := pm[k]; ok && other != loc {
			n++
		}
	}
	return n
}

// calculateMean 计算平均值
func (f *FairnessAnalyzer) calculateMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// calculateVariance 计算方差
func (f *FairnessAnalyzer) calculateVariance(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sumSquares := 0.0
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}
	return sumSquares / float64(len(values))
}

// calculateRange 计算极值
func (f *FairnessAnalyzer) calculateRange(values []float64) (max, min float64) {
	if len(values) == 0 {
		return 0, 0
	}
	max, min = values[0], values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
		if v < min {
			min = v
		}
	}
	return
}

// calculateGini 计算基尼系数
func (f *FairnessAnalyzer) calculateGini(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	if sum == 0 {
		return 0
	}

	gini := 0.0
	for i, v := range sorted {
		gini += (2*float64(i+1) - float64(n) - 1) * v
	}

	gini = gini / (float64(n) * sum)
	return math.Max(0, math.Min(1, gini))
}

// calculateOverallScore 计算综合公平性评分
func (f *FairnessAnalyzer) calculateOverallScore(workloadGini, closingGini, stdDev, avg float64) float64 {
	const (
		workloadWeight = 0.5
		closingWeight  = 0.35
		stdDevWeight   = 0.15
	)

	// 基尼系数转换为分数 (0=100分, 1=0分)
	workloadScore := (1 - workloadGini) * 100
	closingScore := (1 - closingGini) * 100

	// 变异系数越低分数越高
	cvScore := 100.0
	if avg > 0 {
		cvScore = math.Max(0, 100-stdDev/avg*200)
	}

	score := workloadWeight*workloadScore +
		closingWeight*closingScore +
		stdDevWeight*cvScore

	return math.Max(0, math.Min(100, score))
}

// CompareSchedules 比较两个方案的公平性
func (f *FairnessAnalyzer) CompareSchedules(before, after []model.Assignment, persons []model.Person) map[string]float64 {
	m1 := f.Analyze(before, persons)
	m2 := f.Analyze(after, persons)

	return map[string]float64{
		"workload_gini_diff":   m2.WorkloadGini - m1.WorkloadGini,
		"closing_gini_diff":    m2.ClosingGini - m1.ClosingGini,
		"overall_score_diff":   m2.OverallFairnessScore - m1.OverallFairnessScore,
		"before_overall_score": m1.OverallFairnessScore,
		"after_overall_score":  m2.OverallFairnessScore,
	}
}
