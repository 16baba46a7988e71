package consensus

import (
	"time"

	"github.com/tendermint/tendermint/libs/service"

	"pbftsim_demo/types"
)

const DefaultAutoPlayInterval = 800 * time.Millisecond

// AutoPlayer 按固定间隔推进engine，相当于逐步执行的"播放"
// 轮次被判定为Unsafe后停在原地，除非设置了resetOnUnsafe
type AutoPlayer struct {
	service.BaseService

	engine        *RoundEngine
	interval      time.Duration
	resetOnUnsafe bool

	// 每执行完一次step都会通知，测试用
	stepped chan RoundSnapshot
}

type AutoPlayOption func(*AutoPlayer)

func WithInterval(interval time.Duration) AutoPlayOption {
	return func(ap *AutoPlayer) {
		if interval > 0 {
			ap.interval = interval
		}
	}
}

// WithResetOnUnsafe makes the player start a fresh simulation after an unsafe
// verdict instead of idling.
func WithResetOnUnsafe(reset bool) AutoPlayOption {
	return func(ap *AutoPlayer) {
		ap.resetOnUnsafe = reset
	}
}

func NewAutoPlayer(engine *RoundEngine, options ...AutoPlayOption) *AutoPlayer {
	ap := &AutoPlayer{
		engine:   engine,
		interval: DefaultAutoPlayInterval,
		stepped:  make(chan RoundSnapshot, 1),
	}
	ap.BaseService = *service.NewBaseService(nil, "AUTOPLAY", ap)

	for _, opt := range options {
		opt(ap)
	}
	return ap
}

func (ap *AutoPlayer) OnStart() error {
	go ap.playRoutine()
	ap.Logger.Info("auto play started", "interval", ap.interval)
	return nil
}

func (ap *AutoPlayer) OnStop() {
	ap.Logger.Info("auto play stopped")
}

// Stepped 每次step后的快照，channel满时丢弃旧值
func (ap *AutoPlayer) Stepped() <-chan RoundSnapshot {
	return ap.stepped
}

func (ap *AutoPlayer) playRoutine() {
	ticker := time.NewTicker(ap.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ap.Quit():
			ap.Logger.Debug("playRoutine quit.")
			return
		case <-ticker.C:
			ap.tick()
		}
	}
}

func (ap *AutoPlayer) tick() {
	rs := ap.engine.RoundState()
	if rs.IsHalted() {
		if !ap.resetOnUnsafe {
			return
		}
		ap.Logger.Info("round unsafe, restarting simulation", "view", rs.View, "sequence", rs.Sequence)
		if _, err := ap.engine.Reset(); err != nil {
			ap.Logger.Error("reset failed", "err", err)
		}
		return
	}

	snap, err := ap.engine.Step(rs.NextPhase)
	if err != nil {
		// 外部可能同时调用了Step，下一次tick重新读取NextPhase
		if types.IsSequencingError(err) {
			ap.Logger.Debug("step skipped", "phase", rs.NextPhase, "err", err)
		} else {
			ap.Logger.Error("step failed", "phase", rs.NextPhase, "err", err)
		}
		return
	}

	select {
	case <-ap.stepped:
	default:
	}
	select {
	case ap.stepped <- snap:
	default:
	}
}
