package consensus

import (
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	cstypes "pbftsim_demo/consensus/types"
)

func newRoundMetric() *roundMetric {
	return &roundMetric{
		NodeCount:     0,
		LastUpdate:    time.Time{},
		Phase:         cstypes.PhaseInit.String(),
		Verdict:       cstypes.VerdictUnset.String(),
		ViewChanges:   0,
		UnsafeRounds:  0,
		MessageLogLen: 0,
	}
}

type roundMetric struct {
	mtx sync.RWMutex

	NodeCount    int       `json:"node_count"`
	MaxFaults    int       `json:"max_tolerable_faults"`
	ActiveFaults int       `json:"active_faults"`
	LastUpdate   time.Time `json:"last_update"`

	View            int64  `json:"view"`
	Sequence        int64  `json:"sequence"`
	Phase           string `json:"phase"`
	Verdict         string `json:"verdict"`
	CommittedBlocks int64  `json:"committed_blocks"`
	ViewChanges     int64  `json:"view_changes"`
	UnsafeRounds    int64  `json:"unsafe_rounds"`

	MessageLogLen int `json:"message_log_len"`
}

func (rm *roundMetric) JSONString() string {
	rm.mtx.RLock()
	defer rm.mtx.RUnlock()
	s, _ := jsoniter.MarshalToString(rm)
	return s
}

// MarkRound 每次操作结束后整体刷新一次
func (rm *roundMetric) MarkRound(rs cstypes.RoundState, nodeCount, maxFaults, activeFaults, logLen int) {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()
	rm.NodeCount = nodeCount
	rm.MaxFaults = maxFaults
	rm.ActiveFaults = activeFaults
	rm.View = rs.View
	rm.Sequence = rs.Sequence
	rm.Phase = rs.Phase.String()
	rm.Verdict = rs.Verdict.String()
	rm.CommittedBlocks = rs.CommittedBlockCount
	rm.MessageLogLen = logLen
	rm.LastUpdate = time.Now()
}

func (rm *roundMetric) MarkViewChange() {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()
	rm.ViewChanges++
}

func (rm *roundMetric) MarkUnsafe() {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()
	rm.UnsafeRounds++
}
