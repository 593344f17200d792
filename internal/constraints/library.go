// Package constraints 约束系统目录：各阶段写入模型的规则与目标函数中的评分项
package constraints

import (
	"fmt"
	"sort"

	"github.com/paiban/staffplan/pkg/model"
	"github.com/paiban/staffplan/pkg/scheduler/constraint"
	"github.com/paiban/staffplan/pkg/scoring"
)

// ConstraintParam 约束参数定义
type ConstraintParam struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // int, float
	Description string `json:"description"`
	Default     string `json:"default,omitempty"`
}

// ConstraintDefinition 约束定义
type ConstraintDefinition struct {
	Name        string            `json:"name"`
	DisplayName string            `json:"display_name"`
	Type        string            `json:"type"`     // hard 硬约束, soft 软约束
	Category    string            `json:"category"` // rule 模型规则, objective 评分项
	Description string            `json:"description"`
	Phases      []model.Phase     `json:"phases"` // 适用阶段
	Weight      int               `json:"weight,omitempty"`
	Params      []ConstraintParam `json:"params,omitempty"`
}

// LibraryResponse 约束库响应
type LibraryResponse struct {
	Library []ConstraintDefinition `json:"library"`
	Summary map[string]int         `json:"summary"`
}

var ruleDescriptions = map[constraint.Type]string{
	constraint.TypeSingleUse:      "每个人员半天至多分配一次，跨阶段由剩余供给保证。",
	constraint.TypeCoverage:       "需求单元的分配人数不超过向上取整后的需求，减去其他阶段已覆盖的人数。",
	constraint.TypeSiteContinuity: "同一人员上下午在同一站点时返还换站惩罚。",
	constraint.TypeWeeklyCloser:   "每人每周承担 2F/3F 合计不超过一次，范围外已承担的次数计入。",
	constraint.TypeCloserPerDay:   "每人每天至多承担一个关门职责。",
	constraint.TypeCloserUnique:   "每个关门站点每天 1R、2F（需要时 3F）各一人，候选人不足时后面的职责可以空缺。",
	constraint.TypeFlexibleQuota:  "灵活配额人员每周出勤天数不超过配额。",
}

// GetLibrary 返回当前生效的约束库
func GetLibrary(w scoring.Weights) LibraryResponse {
	lib := append(rules(), objectives(w)...)
	summary := map[string]int{"total": len(lib)}
	for _, d := range lib {
		summary[d.Type]++
	}
	return LibraryResponse{Library: lib, Summary: summary}
}

// rules 按阶段默认规则集合汇总，同一规则出现在多个阶段时合并
func rules() []ConstraintDefinition {
	index := make(map[constraint.Type]int)
	var out []ConstraintDefinition
	for _, phase := range model.PhaseOrder() {
		for _, r := range constraint.DefaultManager(phase).GetAll() {
			if i, ok := index[r.Type()]; ok {
				out[i].Phases = append(out[i].Phases, phase)
				continue
			}
			index[r.Type()] = len(out)
			out = append(out, ConstraintDefinition{
				Name:        string(r.Type()),
				DisplayName: r.Name(),
				Type:        string(r.Category()),
				Category:    "rule",
				Description: ruleDescriptions[r.Type()],
				Phases:      []model.Phase{phase},
				Weight:      r.Weight(),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type == string(constraint.CategoryHard)
		}
		return out[i].Weight > out[j].Weight
	})
	return out
}

// objectives 目标函数中的评分项
func objectives(w scoring.Weights) []ConstraintDefinition {
	sites := []model.Phase{model.PhaseSites, model.PhaseFlexible}
	all := model.PhaseOrder()
	return []ConstraintDefinition{
		{
			Name:        "coverage_reward",
			DisplayName: "需求覆盖",
			Type:        "soft",
			Category:    "objective",
			Description: "每填充一个席位获得覆盖奖励，在目标函数中保持主导。",
			Phases:      all,
			Params:      []ConstraintParam{floatParam("weight", "覆盖奖励", w.CoverageReward)},
		},
		{
			Name:        scoring.PenaltySiteChange,
			DisplayName: "上下午换站点",
			Type:        "soft",
			Category:    "objective",
			Description: "同一人员上下午分配到不同站点时扣分。",
			Phases:      sites,
			Params:      []ConstraintParam{floatParam("weight", "惩罚权重", w.SiteChange)},
		},
		{
			Name:        scoring.PenaltyClosureOverload,
			DisplayName: "关门职责过载",
			Type:        "soft",
			Category:    "objective",
			Description: "统计窗口内关门次数超过阈值后按平方递增扣分。",
			Phases:      []model.Phase{model.PhaseClosing},
			Params: []ConstraintParam{
				floatParam("weight", "惩罚权重", w.ClosureOverload),
				intParam("threshold", "不计惩罚的次数", w.OverloadThreshold),
				intParam("window_days", "统计窗口（天）", w.OverloadWindow),
			},
		},
		{
			Name:        scoring.PenaltyLocationOveruse,
			DisplayName: "高需求站点重复使用",
			Type:        "soft",
			Category:    "objective",
			Description: "非偏好人员在统计窗口内重复去高需求站点时扣分。",
			Phases:      sites,
			Params: []ConstraintParam{
				floatParam("weight", "惩罚权重", w.LocationOveruse),
				intParam("window_days", "统计窗口（天）", w.OveruseWindow),
			},
		},
		{
			Name:        scoring.BonusContinuity,
			DisplayName: "结果连续性",
			Type:        "soft",
			Category:    "objective",
			Description: "与上次提交的分配一致时加分，保证重跑稳定。",
			Phases:      all,
			Params:      []ConstraintParam{floatParam("weight", "奖励权重", w.Continuity)},
		},
		{
			Name:        "preferred_location",
			DisplayName: "偏好站点",
			Type:        "soft",
			Category:    "objective",
			Description: "分配到人员偏好的站点时加分。",
			Phases:      sites,
			Params:      []ConstraintParam{floatParam("weight", "奖励权重", w.PreferredLocation)},
		},
	}
}

func floatParam(name, desc string, v float64) ConstraintParam {
	return ConstraintParam{Name: name, Type: "float", Description: desc, Default: fmt.Sprintf("%g", v)}
}

func intParam(name, desc string, v int) ConstraintParam {
	return ConstraintParam{Name: name, Type: "int", Description: desc, Default: fmt.Sprintf("%d", v)}
}
