package node

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
	rpcserver "github.com/tendermint/tendermint/rpc/jsonrpc/server"

	cfg "pbftsim_demo/config"
	"pbftsim_demo/consensus"
	"pbftsim_demo/libs/metric"
	"pbftsim_demo/rpc"
)

const metricLabelNode = "node"

// Provider takes a config and a logger and returns a ready to go Node.
type Provider func(*cfg.Config, log.Logger) (*Node, error)

// Node 把模拟引擎、自动播放和RPC server组合成一个服务
type Node struct {
	service.BaseService

	// config
	config *cfg.Config

	// services
	engine     *consensus.RoundEngine
	autoPlayer *consensus.AutoPlayer
	metricSet  *metric.MetricSet

	rpcListeners []net.Listener
}

type Option func(*Node)

// WithAutoPlayer replaces the auto player built from the config.
func WithAutoPlayer(ap *consensus.AutoPlayer) Option {
	return func(n *Node) {
		n.autoPlayer = ap
	}
}

// DefaultNewNode returns a Node built from the config alone.
func DefaultNewNode(config *cfg.Config, logger log.Logger) (*Node, error) {
	return NewNode(config, logger)
}

func NewNode(config *cfg.Config, logger log.Logger, options ...Option) (*Node, error) {
	engine, err := createEngine(config.Simulation, logger.With("module", "consensus"))
	if err != nil {
		return nil, err
	}

	metricSet := metric.NewMetricSet()
	if err := metricSet.Register(metricLabelNode, metric.Static(fmt.Sprintf(`{"moniker":%q}`, config.Moniker))); err != nil {
		return nil, err
	}
	if err := engine.RegisterMetrics(metricSet); err != nil {
		return nil, err
	}

	node := &Node{
		config:    config,
		engine:    engine,
		metricSet: metricSet,
	}
	if config.Simulation.AutoPlay {
		node.autoPlayer = consensus.NewAutoPlayer(engine,
			consensus.WithInterval(config.Simulation.AutoPlayInterval),
			consensus.WithResetOnUnsafe(config.Simulation.ResetOnUnsafe),
		)
	}

	node.BaseService = *service.NewBaseService(logger, "Node", node)
	for _, option := range options {
		option(node)
	}
	if node.autoPlayer != nil {
		node.autoPlayer.SetLogger(logger.With("module", "autoplay"))
	}

	return node, nil
}

// createEngine 按配置创建引擎并注入初始故障
func createEngine(config *cfg.SimulationConfig, logger log.Logger) (*consensus.RoundEngine, error) {
	opts := []consensus.EngineOption{}
	if config.FaultSeed != 0 {
		opts = append(opts, consensus.WithFaultModel(consensus.NewFaultModelWithSeed(config.FaultSeed)))
	}

	engine, err := consensus.NewRoundEngine(config.Nodes, opts...)
	if err != nil {
		return nil, err
	}
	engine.SetLogger(logger)

	for _, spec := range config.Faults {
		id, status, err := cfg.ParseFault(spec)
		if err != nil {
			return nil, err
		}
		if err := engine.InjectFault(id, status); err != nil {
			return nil, errors.Wrapf(err, "inject fault %q", spec)
		}
	}
	return engine, nil
}

func (n *Node) Engine() *consensus.RoundEngine {
	return n.engine
}

func (n *Node) MetricSet() *metric.MetricSet {
	return n.metricSet
}

// RPCAddrs 实际监听的地址，laddr端口为0时由系统分配
func (n *Node) RPCAddrs() []string {
	addrs := make([]string, 0, len(n.rpcListeners))
	for _, l := range n.rpcListeners {
		addrs = append(addrs, l.Addr().String())
	}
	return addrs
}

func (n *Node) OnStart() error {
	n.ConfigureRPC()

	if n.config.RPC.ListenAddress != "" {
		listeners, err := n.startRPC()
		if err != nil {
			return err
		}
		n.rpcListeners = listeners
	}

	if n.autoPlayer != nil {
		if err := n.autoPlayer.Start(); err != nil {
			return err
		}
	}

	n.Logger.Info("simulation node started", "nodes", n.engine.NodeCount(), "rpc", n.RPCAddrs())
	return nil
}

func (n *Node) OnStop() {
	n.Logger.Info("Stopping Node")

	if n.autoPlayer != nil && n.autoPlayer.IsRunning() {
		if err := n.autoPlayer.Stop(); err != nil {
			n.Logger.Error("Error stopping auto player", "err", err)
		}
	}

	for _, l := range n.rpcListeners {
		n.Logger.Info("Closing rpc listener", "listener", l)
		if err := l.Close(); err != nil {
			n.Logger.Error("Error closing listener", "listener", l, "err", err)
		}
	}
}

// ConfigureRPC makes sure RPC has all the objects it needs to operate.
func (n *Node) ConfigureRPC() {
	rpc.SetEnvironment(&rpc.Environment{
		Engine:    n.engine,
		MetricSet: n.metricSet,
		Logger:    n.Logger.With("module", "rpc"),
	})
}

func (n *Node) startRPC() ([]net.Listener, error) {
	listenAddrs := splitAndTrimEmpty(n.config.RPC.ListenAddress, ",", " ")

	config := rpcserver.DefaultConfig()
	config.MaxBodyBytes = n.config.RPC.MaxBodyBytes
	config.MaxHeaderBytes = n.config.RPC.MaxHeaderBytes
	config.MaxOpenConnections = n.config.RPC.MaxOpenConnections

	listeners := make([]net.Listener, 0, len(listenAddrs))
	for _, listenAddr := range listenAddrs {
		mux := http.NewServeMux()
		rpcLogger := n.Logger.With("module", "rpc-server")
		wmLogger := rpcLogger.With("protocol", "websocket")
		wm := rpcserver.NewWebsocketManager(rpc.Routes,
			rpcserver.OnDisconnect(func(remoteAddr string) {
				wmLogger.Debug("websocket client disconnected", "remote", remoteAddr)
			}),
			rpcserver.ReadLimit(config.MaxBodyBytes),
		)
		wm.SetLogger(wmLogger)
		mux.HandleFunc("/websocket", wm.WebsocketHandler)
		rpcserver.RegisterRPCFuncs(mux, rpc.Routes, rpcLogger)

		listener, err := rpcserver.Listen(listenAddr, config)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return nil, err
		}

		go func() {
			if err := rpcserver.Serve(listener, mux, rpcLogger, config); err != nil {
				n.Logger.Error("Error serving server", "err", err)
			}
		}()
		listeners = append(listeners, listener)
	}

	return listeners, nil
}

// splitAndTrimEmpty slices s into all subslices separated by sep and returns a
// slice of the string s with all leading and trailing Unicode code points
// contained in cutset removed. If sep is empty, SplitAndTrim splits after each
// UTF-8 sequence. First part is equivalent to strings.SplitN with a count of
// -1.  also filter out empty strings, only return non-empty strings.
func splitAndTrimEmpty(s, sep, cutset string) []string {
	if s == "" {
		return []string{}
	}

	spl := strings.Split(s, sep)
	nonEmptyStrings := make([]string, 0, len(spl))
	for i := 0; i < len(spl); i++ {
		element := strings.Trim(spl[i], cutset)
		if element != "" {
			nonEmptyStrings = append(nonEmptyStrings, element)
		}
	}
	return nonEmptyStrings
}
