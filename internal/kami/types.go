package kami

type KamiResponse[T any] struct {
	StatusCode int            `json:"statusCode"`
	Success    bool           `json:"success"`
	Data       T              `json:"data"`
	Error      map[string]any `json:"error"`
}

type (
	SubnetMetagraphResponse = KamiResponse[SubnetMetagraph]
	BlockHashResponse       = KamiResponse[BlockHash]
	CommitmentResponse      = KamiResponse[Commitment]
	KeyringPairInfoResponse = KamiResponse[KeyringPairInfo]
	ExtrinsicHashResponse   = KamiResponse[string]
)

// SubnetMetagraph is the subset of the subnet metagraph the protocol reads.
type SubnetMetagraph struct {
	Netuid          int        `json:"netuid"`
	Block           int        `json:"block"`
	NumUids         int        `json:"numUids"`
	Hotkeys         []string   `json:"hotkeys"`
	Coldkeys        []string   `json:"coldkeys"`
	Axons           []AxonInfo `json:"axons"`
	Active          []bool     `json:"active"`
	ValidatorPermit []bool     `json:"validatorPermit"`
	TotalStake      []float64  `json:"totalStake"`
	LastUpdate      []int      `json:"lastUpdate"`
}

type AxonInfo struct {
	Block    int    `json:"block"`
	Version  int    `json:"version"`
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	IPType   int    `json:"ipType"`
	Protocol int    `json:"protocol"`
}

type BlockHash struct {
	BlockNumber int    `json:"blockNumber"`
	Hash        string `json:"hash"`
}

// Commitment is the raw data a participant committed for its uid. An empty
// Data means nothing has been committed.
type Commitment struct {
	Uid   int    `json:"uid"`
	Block int    `json:"block"`
	Data  string `json:"data"`
}

type KeyringPair struct {
	Address    string                 `json:"address"`
	AddressRaw map[string]interface{} `json:"addressRaw"`
	IsLocked   bool                   `json:"isLocked"`
	Meta       map[string]interface{} `json:"meta"`
	PublicKey  map[string]interface{} `json:"publicKey"`
	Type       string                 `json:"type"`
}

type KeyringPairInfo struct {
	KeyringPair   KeyringPair `json:"keyringPair"`
	WalletColdkey string      `json:"walletColdkey"`
}

type SetWeightsParams struct {
	Netuid     int   `json:"netuid"`
	Dests      []int `json:"dests"`
	Weights    []int `json:"weights"`
	VersionKey int   `json:"versionKey"`
}

type SetCommitmentParams struct {
	Netuid int    `json:"netuid"`
	Data   string `json:"data"`
}
