package main

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tendermint/tendermint/libs/log"
	jsonrpc "github.com/tendermint/tendermint/rpc/jsonrpc/types"

	cfg "pbftsim_demo/config"
)

const (
	sendTimeout = 10 * time.Second
	// see https://github.com/tendermint/tendermint/blob/master/rpc/jsonrpc/server/ws_handler.go
	pingPeriod = (30 * 9 / 10) * time.Second
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// player 通过websocket驱动一个正在运行的模拟节点，相当于前端的"播放"按钮
type player struct {
	Target   string
	Interval time.Duration
	Rounds   int
	Nodes    int
	Faults   []string

	conn   *websocket.Conn
	nextID int
	logger log.Logger
}

type roundResult struct {
	Verdict   string
	Phase     string
	Committed interface{}
	LogLen    int
}

func main() {
	p := &player{logger: log.NewTMLogger(log.NewSyncWriter(os.Stdout))}

	cmd := &cobra.Command{
		Use:   "autoplay",
		Short: "Drive a running pbftsim node over its websocket RPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			return p.Run()
		},
	}
	cmd.Flags().StringVar(&p.Target, "target", "127.0.0.1:26657", "host:port of the node RPC")
	cmd.Flags().DurationVar(&p.Interval, "interval", 800*time.Millisecond, "delay between steps")
	cmd.Flags().IntVar(&p.Rounds, "rounds", 1, "rounds to play before exiting")
	cmd.Flags().IntVar(&p.Nodes, "nodes", 0, "re-initialize with this many nodes first (0 = keep)")
	cmd.Flags().StringSliceVar(&p.Faults, "fault", []string{}, "fault to inject first, id:type")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (p *player) Run() error {
	c, _, err := connect(p.Target)
	if err != nil {
		return errors.Wrapf(err, "connect %s", p.Target)
	}
	p.conn = c
	defer p.close()

	c.SetPingHandler(func(message string) error {
		err := c.WriteControl(websocket.PongMessage, []byte(message), time.Now().Add(sendTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		} else if e, ok := err.(net.Error); ok && e.Temporary() {
			return nil
		}
		return err
	})

	if p.Nodes != 0 {
		if _, err := p.call("initialize", map[string]interface{}{"nodes": strconv.Itoa(p.Nodes)}); err != nil {
			return err
		}
	}
	for _, spec := range p.Faults {
		id, status, err := cfg.ParseFault(spec)
		if err != nil {
			return err
		}
		params := map[string]interface{}{"node": strconv.Itoa(id), "fault": status.String()}
		if _, err := p.call("inject_fault", params); err != nil {
			return err
		}
	}

	stepTicker := time.NewTicker(p.Interval)
	pingsTicker := time.NewTicker(pingPeriod)
	defer func() {
		stepTicker.Stop()
		pingsTicker.Stop()
	}()

	finished := 0
	for finished < p.Rounds {
		select {
		case <-stepTicker.C:
			res, err := p.call("step_next", map[string]interface{}{})
			if err != nil {
				return err
			}
			p.logger.Info("step", "phase", res.Phase, "verdict", res.Verdict, "committed", res.Committed, "log", res.LogLen)

			switch res.Verdict {
			case "unsafe":
				p.logger.Error("round is unsafe, stop playing")
				return nil
			case "safe":
				if res.Phase == "Finalize" {
					finished++
				}
			}

		case <-pingsTicker.C:
			// go-rpc server closes the connection in the absence of pings
			c.SetWriteDeadline(time.Now().Add(sendTimeout))
			if err := c.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return errors.Wrap(err, "failed to write ping message")
			}
		}
	}
	return nil
}

// call 发送一个请求并同步等待对应的响应
func (p *player) call(method string, params map[string]interface{}) (*roundResult, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode params")
	}

	p.nextID++
	p.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	err = p.conn.WriteJSON(jsonrpc.RPCRequest{
		JSONRPC: "2.0",
		ID:      jsonrpc.JSONRPCIntID(p.nextID),
		Method:  method,
		Params:  paramsJSON,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "%s send failed", method)
	}

	p.conn.SetReadDeadline(time.Now().Add(sendTimeout))
	_, bz, err := p.conn.ReadMessage()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s response", method)
	}

	var resp jsonrpc.RPCResponse
	if err := json.Unmarshal(bz, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to decode response")
	}
	if resp.Error != nil {
		return nil, errors.Errorf("%s failed: %v", method, resp.Error)
	}
	return parseRoundResult(resp.Result)
}

func parseRoundResult(raw []byte) (*roundResult, error) {
	var result struct {
		Snapshot struct {
			RoundState map[string]interface{} `json:"round_state"`
			MessageLog []interface{}          `json:"message_log"`
		} `json:"snapshot"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode snapshot")
	}

	rs := result.Snapshot.RoundState
	verdict, _ := rs["verdict"].(string)
	phase, _ := rs["phase"].(string)
	return &roundResult{
		Verdict:   verdict,
		Phase:     phase,
		Committed: rs["committed_block_count"],
		LogLen:    len(result.Snapshot.MessageLog),
	}, nil
}

func (p *player) close() {
	// To cleanly close a connection, a client should send a close
	// frame and wait for the server to close the connection.
	p.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	err := p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		p.logger.Error("failed to write close message", "err", err)
	}
	p.conn.Close()
}

func connect(host string) (*websocket.Conn, *http.Response, error) {
	u := url.URL{Scheme: "ws", Host: host, Path: "/websocket"}
	return websocket.DefaultDialer.Dial(u.String(), nil)
}
