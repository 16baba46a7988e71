package rpc

import rpc "github.com/tendermint/tendermint/rpc/jsonrpc/server"

// Routes 前端通过HTTP或websocket调用这些方法
var Routes = map[string]*rpc.RPCFunc{
	// simulation control
	"initialize":   rpc.NewRPCFunc(Initialize, "nodes"),
	"reset":        rpc.NewRPCFunc(Reset, ""),
	"inject_fault": rpc.NewRPCFunc(InjectFault, "node,fault"),
	"clear_fault":  rpc.NewRPCFunc(ClearFault, "node"),
	"clear_faults": rpc.NewRPCFunc(ClearFaults, ""),
	"step":         rpc.NewRPCFunc(Step, "phase"),
	"step_next":    rpc.NewRPCFunc(StepNext, ""),
	"view_change":  rpc.NewRPCFunc(ViewChange, ""),

	// info API
	"snapshot":    rpc.NewRPCFunc(Snapshot, ""),
	"message_log": rpc.NewRPCFunc(MessageLog, "offset"),
	"blocks":      rpc.NewRPCFunc(Blocks, ""),
	"metrics":     rpc.NewRPCFunc(JSONMetrics, "label"),
}
