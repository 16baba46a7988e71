package types

import "github.com/pkg/errors"

const (
	MinNodeCount = 4
	MaxNodeCount = 10
)

// 以下都是纯函数，每次调用都根据传入的n重新计算，不做任何缓存

// MaxTolerableFaults f = ⌊(n-1)/3⌋
func MaxTolerableFaults(n int) int {
	if n < 1 {
		return 0
	}
	return (n - 1) / 3
}

// PreparedThreshold 除自己以外需要收到的prepare数，2f
func PreparedThreshold(n int) int {
	return 2 * MaxTolerableFaults(n)
}

// CommittedThreshold 需要收到的commit数，2f+1
func CommittedThreshold(n int) int {
	return 2*MaxTolerableFaults(n) + 1
}

// FinalQuorum 最终提交区块所需的最少非故障节点数，f+1
func FinalQuorum(n int) int {
	return MaxTolerableFaults(n) + 1
}

func IsOverTolerance(activeFaults, n int) bool {
	return activeFaults > MaxTolerableFaults(n)
}

func ValidateNodeCount(n int) error {
	if n < MinNodeCount || n > MaxNodeCount {
		return errors.Wrapf(ErrInvalidNodeCount, "got %d, expected %d..%d", n, MinNodeCount, MaxNodeCount)
	}
	return nil
}
