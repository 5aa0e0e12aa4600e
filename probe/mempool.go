package probe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// explorerClient is the subset of a mempool.space-compatible explorer API
// the prober needs. mempoolClient and blockstreamClient both implement it.
type explorerClient interface {
	addressInfo(ctx context.Context, address string) (*addrInfo, error)
	addressTxs(ctx context.Context, address string) ([]probeTx, error)
	blockHeight(ctx context.Context) (int64, error)
}

// addrInfo is the subset of the /address/{addr} response this package needs.
type addrInfo struct {
	fundedSats int64
}

// probeTx is the subset of a mempool.space/Esplora transaction this
// package needs to determine payment state.
type probeTx struct {
	TxID        string
	Confirmed   bool
	BlockHeight int64
	BlockTime   int64
	Outputs     []probeOutput
}

type probeOutput struct {
	Address string
	ValueSats uint64
}

func (t probeTx) seenAt() int64 {
	return t.BlockTime
}

func (t probeTx) creditedAmountBTC(address string) float64 {
	var sats int64
	for _, o := range t.Outputs {
		if o.Address == address {
			sats += int64(o.ValueSats)
		}
	}
	return satsToBTC(sats)
}

// mempoolClient implements explorerClient against the mempool.space API.
type mempoolClient struct {
	baseURL    string
	httpClient *http.Client
}

func newMempoolClient(baseURL string) *mempoolClient {
	return &mempoolClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

func (m *mempoolClient) addressInfo(ctx context.Context, address string) (*addrInfo, error) {
	var result struct {
		ChainStats struct {
			FundedTxoSum uint64 `json:"funded_txo_sum"`
			SpentTxoSum  uint64 `json:"spent_txo_sum"`
		} `json:"chain_stats"`
		MempoolStats struct {
			FundedTxoSum uint64 `json:"funded_txo_sum"`
			SpentTxoSum  uint64 `json:"spent_txo_sum"`
		} `json:"mempool_stats"`
	}

	if err := m.get(ctx, "/address/"+address, &result); err != nil {
		return nil, err
	}

	funded := result.ChainStats.FundedTxoSum + result.MempoolStats.FundedTxoSum
	spent := result.ChainStats.SpentTxoSum + result.MempoolStats.SpentTxoSum
	return &addrInfo{fundedSats: int64(funded) - int64(spent)}, nil
}

func (m *mempoolClient) addressTxs(ctx context.Context, address string) ([]probeTx, error) {
	var raw []rawMempoolTx
	if err := m.get(ctx, "/address/"+address+"/txs", &raw); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}

	txs := make([]probeTx, 0, len(raw))
	for _, rt := range raw {
		outputs := make([]probeOutput, 0, len(rt.Vout))
		for _, o := range rt.Vout {
			outputs = append(outputs, probeOutput{Address: o.ScriptPubKeyAddr, ValueSats: o.Value})
		}
		txs = append(txs, probeTx{
			TxID:        rt.TxID,
			Confirmed:   rt.Status.Confirmed,
			BlockHeight: rt.Status.BlockHeight,
			BlockTime:   rt.Status.BlockTime,
			Outputs:     outputs,
		})
	}
	return txs, nil
}

func (m *mempoolClient) blockHeight(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/blocks/tip/height", nil)
	if err != nil {
		return 0, err
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, errUnexpectedStatus(resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}

	var height int64
	if err := json.Unmarshal(body, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// get performs a GET request against the explorer and decodes a JSON body,
// mapping the status codes this package cares about.
func (m *mempoolClient) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return errUnexpectedStatus(resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

func errUnexpectedStatus(code int) error {
	return &statusError{code: code}
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return "probe: unexpected explorer status " + http.StatusText(e.code)
}

// rawMempoolTx mirrors the mempool.space/Esplora transaction JSON shape.
type rawMempoolTx struct {
	TxID   string `json:"txid"`
	Status struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight int64  `json:"block_height"`
		BlockTime   int64  `json:"block_time"`
	} `json:"status"`
	Vout []struct {
		ScriptPubKeyAddr string `json:"scriptpubkey_address"`
		Value            uint64 `json:"value"`
	} `json:"vout"`
}
