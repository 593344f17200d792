// Package engine 按阶段编排需求归一化、模型构建、求解与结果落库
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/paiban/staffplan/pkg/errors"
	"github.com/paiban/staffplan/pkg/logger"
	"github.com/paiban/staffplan/pkg/model"
	"github.com/paiban/staffplan/pkg/normalize"
	"github.com/paiban/staffplan/pkg/scheduler/constraint"
	"github.com/paiban/staffplan/pkg/scheduler/optimizer"
	"github.com/paiban/staffplan/pkg/scheduler/solver"
	"github.com/paiban/staffplan/pkg/scoring"
	"github.com/paiban/staffplan/pkg/stats"
	"github.com/paiban/staffplan/pkg/supply"
	"github.com/paiban/staffplan/pkg/validator"
)

// Store 持久化接口
type Store interface {
	// LoadInputs 读取与范围相交的需求、人员与可用性记录
	LoadInputs(ctx context.Context, scope model.Scope) (*model.Inputs, error)
	// LoadCommitted 读取日期区间内已提交的全部分配
	LoadCommitted(ctx context.Context, r model.DateRange) ([]model.Assignment, error)
	// LoadHistory 读取 [from, to) 内已提交的分配
	LoadHistory(ctx context.Context, from, to string) ([]model.Assignment, error)
	// ReplacePhase 在同一事务内删除阶段在范围内的分配并写入新批次
	ReplacePhase(ctx context.Context, phase model.Phase, scope model.Scope, batch []model.Assignment) error
	// ReplaceRoleTags 在同一事务内清空范围内的关门职责并写入新标签
	ReplaceRoleTags(ctx context.Context, scope model.Scope, tagged []model.Assignment) error
	// ApplyChanges 按人员半天逐条替换
	ApplyChanges(ctx context.Context, changes []model.Change) error
	// SaveRun 保存运行记录
	SaveRun(ctx context.Context, run *model.OptimizationRun) error
}

// Locker 范围锁
type Locker interface {
	Lock(ctx context.Context, keys []string) (unlock func(), err error)
}

// Observer 运行指标回调
type Observer interface {
	ObserveRun(status string, duration time.Duration)
	ObservePhase(phase model.Phase, solverName string, fellBack bool, unmet int, duration time.Duration)
}

// Topology 引擎需要的站点信息
type Topology interface {
	normalize.Topology
	constraint.Topology
	scoring.HighDemand
	Administrative() string
}

// Config 引擎配置
type Config struct {
	Normalize            normalize.Config
	Supply               supply.Config
	Weights              scoring.Weights
	Exact                solver.BranchAndBoundConfig
	Search               optimizer.OptimizationConfig
	HistoryLookbackDays  int
	AssignAdministrative bool
	MaxConcurrentScopes  int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Normalize:            normalize.DefaultConfig(),
		Supply:               supply.DefaultConfig(),
		Weights:              scoring.DefaultWeights(),
		Exact:                solver.DefaultBranchAndBoundConfig(),
		Search:               *optimizer.DefaultOptConfig(),
		HistoryLookbackDays:  28,
		AssignAdministrative: true,
		MaxConcurrentScopes:  4,
	}
}

// Option 引擎选项
type Option func(*Engine)

// WithLocker 设置范围锁
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithObserver 设置指标回调
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// Engine 分阶段优化引擎
type Engine struct {
	cfg          Config
	store        Store
	topo         Topology
	locker       Locker
	observer     Observer
	normalizer   *normalize.Normalizer
	aggregator   *supply.Aggregator
	materializer *Materializer
	logger       *logger.OptimizerLogger
}

// New 创建引擎
func New(cfg Config, store Store, topo Topology, opts ...Option) *Engine {
	e := &Engine{
		cfg:          cfg,
		store:        store,
		topo:         topo,
		normalizer:   normalize.New(cfg.Normalize, topo),
		aggregator:   supply.NewAggregator(cfg.Supply),
		materializer: NewMaterializer(store, validator.NewConflictDetector(nil)),
		logger:       logger.NewOptimizerLogger().With("stage", "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Request 优化请求：Date 为单日，否则使用 WeekStart..WeekEnd
type Request struct {
	Date      string        `json:"date,omitempty"`
	WeekStart string        `json:"week_start,omitempty"`
	WeekEnd   string        `json:"week_end,omitempty"`
	Phases    []model.Phase `json:"phases,omitempty"`
	DryRun    bool          `json:"dry_run"`
}

// Scope 解析请求范围
func (r Request) Scope() (model.Scope, error) {
	var scope model.Scope
	switch {
	case r.Date != "":
		scope = model.DayScope(r.Date)
	case r.WeekStart != "":
		end := r.WeekEnd
		if end == "" {
			end = model.AddDays(r.WeekStart, 6)
		}
		scope = model.Scope{DateRange: model.DateRange{StartDate: r.WeekStart, EndDate: end}}
	default:
		return scope, apperrors.InvalidInput("scope", "需要 date 或 week_start")
	}
	if _, err := scope.Dates(); err != nil {
		return scope, apperrors.InvalidInput("scope", err.Error())
	}
	return scope, nil
}

// PhaseList 按固定顺序返回要执行的阶段，为空时执行全部
func (r Request) PhaseList() ([]model.Phase, error) {
	if len(r.Phases) == 0 {
		return model.PhaseOrder(), nil
	}
	want := make(map[model.Phase]bool, len(r.Phases))
	for _, p := range r.Phases {
		if !p.Valid() {
			return nil, apperrors.InvalidInput("phases", "未知阶段 "+string(p))
		}
		want[p] = true
	}
	var out []model.Phase
	for _, p := range model.PhaseOrder() {
		if want[p] {
			out = append(out, p)
		}
	}
	return out, nil
}

// PhaseResult 阶段结果
type PhaseResult struct {
	Phase         model.Phase        `json:"phase"`
	Solver        string             `json:"solver"`
	Status        solver.Status      `json:"status"`
	FellBack      bool               `json:"fell_back"`
	AssignedCount int                `json:"assigned_count"`
	UnmetCount    int                `json:"unmet_count"`
	Placeholders  int                `json:"placeholders,omitempty"`
	Objective     float64            `json:"objective"`
	Penalties     map[string]float64 `json:"penalties"`
	Vars          int                `json:"vars"`
	Rows          int                `json:"rows"`
	Warnings      []string           `json:"warnings,omitempty"`
	Duration      time.Duration      `json:"duration"`
}

// Response 优化响应
type Response struct {
	Success     bool                   `json:"success"`
	RunID       uuid.UUID              `json:"run_id"`
	Scope       model.Scope            `json:"scope"`
	DryRun      bool                   `json:"dry_run"`
	Phases      []PhaseResult          `json:"phases"`
	Score       scoring.Score          `json:"score"`
	Coverage    *stats.CoverageMetrics `json:"coverage"`
	Fairness    *stats.FairnessMetrics `json:"fairness"`
	Assignments []model.Assignment     `json:"assignments"`
	Diff        []model.Change         `json:"diff,omitempty"`
	Issues      []model.InputIssue     `json:"issues,omitempty"`
	Duration    time.Duration          `json:"duration"`

	// FairnessDelta 预演结果相对已提交排班的公平性变化
	FairnessDelta map[string]float64 `json:"fairness_delta,omitempty"`
}

// Run 执行一次优化运行，阶段严格按顺序执行，任一阶段落库失败即终止
func (e *Engine) Run(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	scope, err := req.Scope()
	if err != nil {
		return nil, err
	}
	phases, err := req.PhaseList()
	if err != nil {
		return nil, err
	}

	run := model.NewOptimizationRun(scope, req.DryRun)
	runID := run.ID.String()
	e.logger.StartRun(runID, scope.Key(), len(phases), req.DryRun)

	unlock, err := e.lock(ctx, scope)
	if err != nil {
		e.observeRun("locked", start)
		return nil, err
	}
	defer unlock()

	st, err := e.prepare(ctx, scope, phases)
	if err != nil {
		e.logger.RunFailed(runID, "prepare", err)
		e.observeRun("failed", start)
		return nil, err
	}

	resp := &Response{
		RunID:  run.ID,
		Scope:  scope,
		DryRun: req.DryRun,
		Issues: st.issues,
	}

	for _, phase := range phases {
		pr, err := e.runPhase(ctx, st, run.ID, phase, req.DryRun)
		if err != nil {
			e.logger.RunFailed(runID, string(phase), err)
			e.observeRun("failed", start)
			return nil, err
		}
		resp.Phases = append(resp.Phases, *pr)
		run.PhasesExecuted = append(run.PhasesExecuted, phase)
	}

	final := st.inScope()
	resp.Assignments = final
	resp.Score = st.evaluator.Evaluate(final)
	resp.Coverage = stats.NewCoverageAnalyzer().Analyze(st.demand, final)
	resp.Fairness = stats.NewFairnessAnalyzer().Analyze(final, st.inputs.Persons)

	run.ObjectiveScore = resp.Score.Total
	for k, v := range resp.Score.Penalties {
		run.Penalties[k] = v
	}

	if req.DryRun {
		resp.Diff = Diff(st.previous, final)
		resp.FairnessDelta = stats.NewFairnessAnalyzer().CompareSchedules(st.previous, final, st.inputs.Persons)
	} else if err := e.store.SaveRun(ctx, run); err != nil {
		e.logger.RunFailed(runID, "save_run", err)
		e.observeRun("failed", start)
		return nil, apperrors.PersistenceFailed("run", err)
	}

	resp.Success = true
	resp.Duration = time.Since(start)
	e.logger.RunComplete(runID, resp.Duration, resp.Score.Total)
	e.observeRun("success", start)
	return resp, nil
}

// RunMany 并发执行多个互不重叠范围的运行
func (e *Engine) RunMany(ctx context.Context, reqs []Request) ([]*Response, error) {
	scopes := make([]model.Scope, len(reqs))
	for i, r := range reqs {
		s, err := r.Scope()
		if err != nil {
			return nil, err
		}
		for j := 0; j < i; j++ {
			if scopes[j].Overlaps(s.DateRange) {
				return nil, apperrors.InvalidInput("scope", "范围 "+s.Key()+" 与 "+scopes[j].Key()+" 重叠")
			}
		}
		scopes[i] = s
	}

	out := make([]*Response, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	if e.cfg.MaxConcurrentScopes > 0 {
		g.SetLimit(e.cfg.MaxConcurrentScopes)
	}
	for i := range reqs {
		g.Go(func() error {
			resp, err := e.Run(gctx, reqs[i])
			if err != nil {
				return err
			}
			out[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

func (e *Engine) lock(ctx context.Context, scope model.Scope) (func(), error) {
	if e.locker == nil {
		return func() {}, nil
	}
	dates, err := scope.Dates()
	if err != nil {
		return nil, apperrors.InvalidInput("scope", err.Error())
	}
	return e.locker.Lock(ctx, dates)
}

func (e *Engine) observeRun(status string, start time.Time) {
	if e.observer != nil {
		e.observer.ObserveRun(status, time.Since(start))
	}
}
