package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
)

// The exact-input swap entrypoints of the v2 router. Anything else in
// the mempool is not a swap intent the engine can act on.
const routerABIJSON = `[
	{"inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"swapExactTokensForTokens","outputs":[{"name":"amounts","type":"uint256[]"}],"type":"function"},
	{"inputs":[{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"swapExactETHForTokens","outputs":[{"name":"amounts","type":"uint256[]"}],"type":"function","payable":true},
	{"inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"swapExactTokensForETH","outputs":[{"name":"amounts","type":"uint256[]"}],"type":"function"}
]`

// IntentSink receives every decoded swap intent from the stream
type IntentSink func(intent *types.SwapIntent) error

// StreamConfig configures the pending-transaction subscription
type StreamConfig struct {
	URL     string
	WETH    common.Address
	Routers map[common.Address]string // router address -> venue id

	// OnReorg fires when a new head does not extend the previous one.
	// Cached pool state is suspect after a reorg; the application hooks
	// the snapshot cache purge here. May be nil.
	OnReorg func()
}

// IntentStream subscribes to pending transactions over a websocket
// JSON-RPC endpoint and decodes router swaps into intents. Transactions
// that do not target a known router, or call anything but an
// exact-input swap, are dropped silently.
type IntentStream struct {
	cfg       StreamConfig
	sink      IntentSink
	routerABI abi.ABI

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// head tracking; touched only by the connection's read loop
	lastHead common.Hash
	haveHead bool
}

// NewIntentStream creates the stream; Start begins consuming
func NewIntentStream(cfg StreamConfig, sink IntentSink) (*IntentStream, error) {
	routerABI, err := abi.JSON(strings.NewReader(routerABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse router abi: %w", err)
	}
	return &IntentStream{cfg: cfg, sink: sink, routerABI: routerABI}, nil
}

// Start launches the consume loop. Connection loss reconnects with
// backoff until the context is cancelled.
func (s *IntentStream) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// Stop tears down the subscription and waits for the loop to exit
func (s *IntentStream) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *IntentStream) run(ctx context.Context) {
	defer s.wg.Done()

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.consume(ctx); err != nil && ctx.Err() == nil {
			log.Printf("chain: intent stream disconnected: %v (reconnecting in %v)", err, backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *IntentStream) consume(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 30 * time.Second,
		ReadBufferSize:   16 * 1024,
		WriteBufferSize:  16 * 1024,
	}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, http.Header{})
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer conn.Close()

	sub := map[string]interface{}{
		"id":      1,
		"jsonrpc": "2.0",
		"method":  "eth_subscribe",
		"params":  []interface{}{"newPendingTransactions", true},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	heads := map[string]interface{}{
		"id":      2,
		"jsonrpc": "2.0",
		"method":  "eth_subscribe",
		"params":  []interface{}{"newHeads"},
	}
	if err := conn.WriteJSON(heads); err != nil {
		return fmt.Errorf("subscribe heads: %w", err)
	}

	// a fresh connection has no head continuity to compare against
	s.haveHead = false

	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.pingLoop(conn, pingDone)

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})
	conn.SetReadDeadline(time.Now().Add(90 * time.Second))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		s.handleMessage(message)
	}
}

func (s *IntentStream) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

// rpcTransaction is the subset of a pending transaction notification
// the decoder reads
type rpcTransaction struct {
	Hash                 common.Hash     `json:"hash"`
	To                   *common.Address `json:"to"`
	Input                hexutil.Bytes   `json:"input"`
	Value                *hexutil.Big    `json:"value"`
	GasPrice             *hexutil.Big    `json:"gasPrice"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas"`
}

// rpcHead is the subset of a newHeads notification the stream reads.
// Pending-transaction results never carry a parentHash, which is how
// the two subscriptions are told apart.
type rpcHead struct {
	Hash       common.Hash  `json:"hash"`
	ParentHash *common.Hash `json:"parentHash"`
}

type subscriptionMessage struct {
	Method string `json:"method"`
	Params struct {
		Result json.RawMessage `json:"result"`
	} `json:"params"`
}

func (s *IntentStream) handleMessage(message []byte) {
	var msg subscriptionMessage
	if err := json.Unmarshal(message, &msg); err != nil || msg.Method != "eth_subscription" {
		return
	}

	var head rpcHead
	if err := json.Unmarshal(msg.Params.Result, &head); err == nil && head.ParentHash != nil {
		s.handleHead(&head)
		return
	}

	var tx rpcTransaction
	if err := json.Unmarshal(msg.Params.Result, &tx); err != nil {
		return
	}

	intent := s.decodeIntent(&tx)
	if intent == nil {
		return
	}
	if err := s.sink(intent); err != nil {
		log.Printf("chain: intent %s dropped: %v", intent.TxHash, err)
	}
}

// handleHead tracks the canonical tip. A head whose parent is not the
// previous tip means blocks were replaced, so cached pool state can no
// longer be trusted.
func (s *IntentStream) handleHead(head *rpcHead) {
	if s.haveHead && *head.ParentHash != s.lastHead {
		log.Printf("chain: reorg detected, head %s does not extend %s", head.Hash.Hex(), s.lastHead.Hex())
		if s.cfg.OnReorg != nil {
			s.cfg.OnReorg()
		}
	}
	s.lastHead = head.Hash
	s.haveHead = true
}

// decodeIntent turns a raw router call into a swap intent, or nil when
// the transaction is not an actionable swap
func (s *IntentStream) decodeIntent(tx *rpcTransaction) *types.SwapIntent {
	if tx.To == nil {
		return nil
	}
	dexID, ok := s.cfg.Routers[*tx.To]
	if !ok || len(tx.Input) < 4 {
		return nil
	}

	method, err := s.routerABI.MethodById(tx.Input[:4])
	if err != nil {
		return nil
	}
	args, err := method.Inputs.Unpack(tx.Input[4:])
	if err != nil {
		return nil
	}

	var amountIn *big.Int
	var path []common.Address
	switch method.Name {
	case "swapExactTokensForTokens", "swapExactTokensForETH":
		amountIn, _ = args[0].(*big.Int)
		path, _ = args[2].([]common.Address)
	case "swapExactETHForTokens":
		if tx.Value != nil {
			amountIn = tx.Value.ToInt()
		}
		path, _ = args[1].([]common.Address)
	default:
		return nil
	}
	if amountIn == nil || amountIn.Sign() <= 0 || len(path) < 2 {
		return nil
	}

	tokenIn := path[0]
	if method.Name == "swapExactETHForTokens" {
		tokenIn = s.cfg.WETH
	}

	intent := &types.SwapIntent{
		TxHash:     tx.Hash.Hex(),
		DexID:      dexID,
		TokenIn:    tokenIn,
		TokenOut:   path[len(path)-1],
		AmountIn:   amountIn,
		ObservedAt: time.Now(),
	}
	if tx.GasPrice != nil {
		intent.GasPrice = tx.GasPrice.ToInt()
	} else if tx.MaxFeePerGas != nil {
		intent.GasPrice = tx.MaxFeePerGas.ToInt()
	}
	if tx.MaxPriorityFeePerGas != nil {
		intent.MaxPriorityFee = tx.MaxPriorityFeePerGas.ToInt()
	}
	return intent
}
