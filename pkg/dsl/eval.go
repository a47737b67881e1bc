package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/dropfeed/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

// initCELEnv 初始化 CEL 环境，定义变量
func initCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("item", cel.DynType),
		cel.Variable("rctx", cel.DynType),
	)
}

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = initCELEnv()
	})
	return celEnv, celEnvErr
}

// Rule 是编译好的候选准入表达式，使用 CEL (Common Expression Language)。
// 编译一次，可在多个请求/goroutine 中并发 Evaluate。
//
// 可用变量：
//   - item.id / item.score / item.features.<name> / item.meta.<field>
//   - rctx.user_id / rctx.role / rctx.surface / rctx.algorithm / rctx.rec_version
//
// 示例：
//   - `item.features.price > 0.0`
//   - `item.meta.image != ""`
//   - `size(item.meta.tags) > 0`
type Rule struct {
	expr string
	prg  cel.Program
}

// Compile 编译表达式；空表达式返回 nil（表示全部放行）。
func Compile(expr string) (*Rule, error) {
	if expr == "" {
		return nil, nil
	}
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	return &Rule{expr: expr, prg: prg}, nil
}

// String 返回原始表达式。
func (r *Rule) String() string {
	if r == nil {
		return ""
	}
	return r.expr
}

// Evaluate 对单个候选求值。nil Rule 总是返回 true。
// 访问不存在的字段会得到错误，调用方应将错误视为不准入。
func (r *Rule) Evaluate(item *core.Item, rctx *core.RecommendContext) (bool, error) {
	if r == nil {
		return true, nil
	}
	out, _, err := r.prg.Eval(map[string]any{
		"item": buildItem(item),
		"rctx": buildRctx(rctx),
	})
	if err != nil {
		return false, fmt.Errorf("eval %q: %w", r.expr, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q must return boolean, got %T", r.expr, out.Value())
	}
	return result, nil
}

func buildItem(it *core.Item) map[string]any {
	if it == nil {
		return map[string]any{}
	}
	features := make(map[string]any, len(it.Features))
	for k, v := range it.Features {
		features[k] = v
	}
	meta := it.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	return map[string]any{
		"id":       it.ID,
		"score":    it.Score,
		"features": features,
		"meta":     meta,
	}
}

func buildRctx(rctx *core.RecommendContext) map[string]any {
	if rctx == nil {
		return map[string]any{}
	}
	return map[string]any{
		"user_id":     rctx.UserID,
		"role":        string(rctx.Role),
		"surface":     string(rctx.Surface),
		"algorithm":   string(rctx.Algorithm),
		"rec_version": int64(rctx.RecVersion),
	}
}
