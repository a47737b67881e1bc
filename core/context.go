package core

// RecommendContext 承载一次 Feed 请求的用户/场景/实验信息，贯穿整个 Pipeline 透传。
type RecommendContext struct {
	UserID     string
	Role       Role
	RecVersion int
	Surface    Surface
	Algorithm  Algorithm
	ABGroup    string

	// Limit 是请求的条目数，重排节点据此截断
	Limit int

	// Signals 是用户偏好信号，可能为空对象但不为 nil
	Signals *UserSignals

	// Seen 是本次请求实时计算的已曝光 target key 集合
	Seen map[string]struct{}
	// SeenDegraded 表示曝光记录读取失败，Seen 为空集合而非真实结果
	SeenDegraded bool

	// Params 请求级上下文参数（如 stream、debug 等）
	Params map[string]any
}

// IsSeen 检查 key 是否已曝光。
func (rctx *RecommendContext) IsSeen(key string) bool {
	if rctx == nil || rctx.Seen == nil {
		return false
	}
	_, ok := rctx.Seen[key]
	return ok
}

// UserSignals 返回信号，nil 时返回空对象。
func (rctx *RecommendContext) UserSignals() *UserSignals {
	if rctx == nil || rctx.Signals == nil {
		return &UserSignals{}
	}
	return rctx.Signals
}
