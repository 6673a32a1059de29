// Package msg defines the interface for different message brokers.
//
package msg

import (
	"sync"
)

// Queues consumed by the fund-movement workers. One queue per worker, one message per record to process.
const (
	DepositCollection = "deposit_collection"
	WithdrawCoin      = "withdraw_coin"
	BeneficiaryEnable = "beneficiary_enable"
)

// Job is the payload published to the worker queues: the identifier of the record to process. Unknown fields in the
// payload are ignored so producers can attach extra metadata.
type Job struct {
	ID string `json:"id"`
}

type MsgBroker interface {
	Setup(interface{}) error
	Close() error

	// Publish enqueues a job on the named queue.
	Publish(queue string, j Job) error

	// GetJobs consumes jobs from the named queue pushing them to the returned channel. The Mutex pointer is
	// provided to ensure the consumed message has been fully dealt with by the worker, so the message consumed is
	// only acknowledged when the mutex is unlocked.
	GetJobs(queue string, mut *sync.Mutex) (<-chan Job, <-chan error, error)
}
