package autoscaler

// Action priorities and estimated impacts per scaling direction
const (
	ScaleUpPriority   = 3
	ScaleUpImpact     = 0.3
	ScaleDownPriority = 2
	ScaleDownImpact   = 0.1
)

// ScalingHistorySize bounds the recorded scaling event history
const ScalingHistorySize = 100

// Action parameter keys
const (
	ParamPoolKind   = "pool_kind"
	ParamTargetSize = "target_size"
)
