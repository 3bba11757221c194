package api

import "encoding/json"

// Status tags the result of one node API call. Every call lands in exactly
// one of these buckets; transport failures and domain rejections are kept
// apart so verifiers can tell a dead node from a node that said no.
type Status string

const (
	// StatusAccepted means the node processed the request successfully.
	StatusAccepted Status = "accepted"
	// StatusRejected means the node reached a decision and said no
	// (HTTP 400 or success=false in the response envelope).
	StatusRejected Status = "rejected"
	// StatusUnreachable means the call never produced a node decision:
	// connect failure, timeout, open breaker, or a 5xx.
	StatusUnreachable Status = "unreachable"
	// StatusNotImplemented means the node does not expose the endpoint
	// (HTTP 404 or 501). Optional surfaces report this instead of failing.
	StatusNotImplemented Status = "not_implemented"
)

// Outcome is the tagged result of a single API call.
type Outcome struct {
	Status     Status
	Reason     string
	HTTPStatus int
}

func (o Outcome) Accepted() bool       { return o.Status == StatusAccepted }
func (o Outcome) Rejected() bool       { return o.Status == StatusRejected }
func (o Outcome) NotImplemented() bool { return o.Status == StatusNotImplemented }

// Reachable reports whether the node produced any decision at all.
func (o Outcome) Reachable() bool { return o.Status != StatusUnreachable }

func accepted(code int) Outcome {
	return Outcome{Status: StatusAccepted, HTTPStatus: code}
}

func rejected(reason string, code int) Outcome {
	return Outcome{Status: StatusRejected, Reason: reason, HTTPStatus: code}
}

func unreachable(reason string) Outcome {
	return Outcome{Status: StatusUnreachable, Reason: reason}
}

func notImplemented(code int) Outcome {
	return Outcome{Status: StatusNotImplemented, Reason: "endpoint not implemented", HTTPStatus: code}
}

// envelope is the JSON wrapper every node response uses.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// Transaction mirrors the node's transaction representation.
type Transaction struct {
	Sender   string  `json:"sender"`
	Receiver string  `json:"receiver"`
	Amount   float64 `json:"amount"`
	Message  string  `json:"message,omitempty"`
}

// Block mirrors the node's block representation.
type Block struct {
	Index        int64         `json:"index"`
	Hash         string        `json:"hash"`
	PreviousHash string        `json:"previous_hash"`
	Timestamp    float64       `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
	Nonce        int64         `json:"nonce"`
}

// ChainView is the decoded body of GET /chain.
type ChainView struct {
	Blocks            []Block `json:"blocks"`
	ChainHash         string  `json:"chain_hash"`
	TotalTransactions int64   `json:"total_transactions"`
}

// BalanceView is the decoded body of GET /balance/{address}.
type BalanceView struct {
	Address string  `json:"address"`
	Balance float64 `json:"balance"`
}

// TransactionRequest is the body of POST /transaction.
type TransactionRequest struct {
	Sender   string  `json:"sender"`
	Receiver string  `json:"receiver"`
	Amount   float64 `json:"amount"`
	Message  string  `json:"message,omitempty"`
}

type mineRequest struct {
	MinerAddress string `json:"miner_address"`
}

type pendingData struct {
	Transactions []Transaction `json:"transactions"`
}
