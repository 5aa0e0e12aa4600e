package probe

// blockstreamClient implements explorerClient using the blockstream.info
// Esplora API. Esplora's address/tx/block endpoints are wire-compatible
// with mempool.space, so this type just points a mempoolClient at a
// different base URL rather than reimplementing the decode logic.
type blockstreamClient struct {
	*mempoolClient
}

func newBlockstreamClient(baseURL string) *blockstreamClient {
	return &blockstreamClient{mempoolClient: newMempoolClient(baseURL)}
}

var _ explorerClient = (*blockstreamClient)(nil)
