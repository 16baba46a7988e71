package rpc

import (
	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"

	"pbftsim_demo/consensus"
	"pbftsim_demo/types"
)

type ResultSnapshot struct {
	Snapshot consensus.RoundSnapshot `json:"snapshot"`
}

type ResultMessageLog struct {
	Offset int                  `json:"offset"`
	Total  int                  `json:"total"`
	Events []types.MessageEvent `json:"events"`
}

type ResultBlocks struct {
	Blocks []*types.Block `json:"blocks"`
}

// Initialize 以nodes个节点重新开始模拟，日志保留
func Initialize(ctx *rpctypes.Context, nodes int) (*ResultSnapshot, error) {
	snap, err := env.Engine.Initialize(nodes)
	if err != nil {
		return nil, err
	}
	return &ResultSnapshot{snap}, nil
}

func Reset(ctx *rpctypes.Context) (*ResultSnapshot, error) {
	snap, err := env.Engine.Reset()
	if err != nil {
		return nil, err
	}
	return &ResultSnapshot{snap}, nil
}

// InjectFault fault是"crash"、"byzantine"或"omission"
func InjectFault(ctx *rpctypes.Context, node int, fault string) (*ResultSnapshot, error) {
	status, err := types.ParseFaultStatus(fault)
	if err != nil {
		return nil, err
	}
	if err := env.Engine.InjectFault(node, status); err != nil {
		return nil, err
	}
	return &ResultSnapshot{env.Engine.Snapshot()}, nil
}

func ClearFault(ctx *rpctypes.Context, node int) (*ResultSnapshot, error) {
	if err := env.Engine.ClearFault(node); err != nil {
		return nil, err
	}
	return &ResultSnapshot{env.Engine.Snapshot()}, nil
}

func ClearFaults(ctx *rpctypes.Context) (*ResultSnapshot, error) {
	return &ResultSnapshot{env.Engine.ClearAllFaults()}, nil
}

func Step(ctx *rpctypes.Context, phase int) (*ResultSnapshot, error) {
	snap, err := env.Engine.Step(phase)
	if err != nil {
		return nil, err
	}
	return &ResultSnapshot{snap}, nil
}

// StepNext 执行引擎期望的下一个阶段，供自动播放使用
func StepNext(ctx *rpctypes.Context) (*ResultSnapshot, error) {
	return Step(ctx, env.Engine.RoundState().NextPhase)
}

func ViewChange(ctx *rpctypes.Context) (*ResultSnapshot, error) {
	snap, err := env.Engine.TriggerViewChange()
	if err != nil {
		return nil, err
	}
	return &ResultSnapshot{snap}, nil
}

func Snapshot(ctx *rpctypes.Context) (*ResultSnapshot, error) {
	return &ResultSnapshot{env.Engine.Snapshot()}, nil
}

// MessageLog 返回offset之后的日志，前端记住total作为下次的offset
func MessageLog(ctx *rpctypes.Context, offset int) (*ResultMessageLog, error) {
	if offset < 0 {
		offset = 0
	}
	if total := env.Engine.LogLen(); offset > total {
		offset = total
	}
	events := env.Engine.LogSince(offset)
	return &ResultMessageLog{
		Offset: offset,
		Total:  offset + len(events),
		Events: events,
	}, nil
}

func Blocks(ctx *rpctypes.Context) (*ResultBlocks, error) {
	blocks, err := env.Engine.Blocks()
	if err != nil {
		return nil, err
	}
	return &ResultBlocks{Blocks: blocks}, nil
}
