package types

import "github.com/pkg/errors"

// 配置类错误：在修改任何状态之前被拒绝，调用方换一个合法输入重试即可
var (
	ErrInvalidNodeCount   = errors.New("node count out of range")
	ErrNodeOutOfRange     = errors.New("node id out of range")
	ErrNodeAlreadyFaulty  = errors.New("node already faulty")
	ErrNodeNotFaulty      = errors.New("node is not faulty")
	ErrInvalidFaultStatus = errors.New("invalid fault status")
	ErrTooManyFaults      = errors.New("fault count would exceed n-1")
)

// 时序类错误：阶段调用顺序不对，不改变任何状态
var (
	ErrPhaseOutOfOrder    = errors.New("phase out of order")
	ErrRoundHalted        = errors.New("round halted by safety violation, re-initialize first")
	ErrViewChangeMidRound = errors.New("view change only allowed between rounds")
)

// IsConfigurationError reports whether err was caused by invalid input such as
// a bad node count or an illegal fault injection.
func IsConfigurationError(err error) bool {
	switch errors.Cause(err) {
	case ErrInvalidNodeCount, ErrNodeOutOfRange, ErrNodeAlreadyFaulty,
		ErrNodeNotFaulty, ErrInvalidFaultStatus, ErrTooManyFaults:
		return true
	}
	return false
}

// IsSequencingError reports whether err was caused by calling a phase out of
// order.
func IsSequencingError(err error) bool {
	switch errors.Cause(err) {
	case ErrPhaseOutOfOrder, ErrRoundHalted, ErrViewChangeMidRound:
		return true
	}
	return false
}
