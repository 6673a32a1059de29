// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"sync"

	"github.com/streadway/amqp"

	log "github.com/sirupsen/logrus"

	"github.com/tarancss/custody/lib/msg"
)

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// New instantiates a new amqp broker.
func New(uri string) (msg.MsgBroker, error) {
	r := Amqp{}
	var err error

	if r.conn, err = amqp.Dial(uri); err != nil {
		return &r, err
	}
	r.ch = nil
	log.Printf("Connected to %s", uri)

	return &r, err
}

// Setup obtains a one-use amqp channel and declares the durable worker queues on the default exchange:
// deposit_collection, withdraw_coin and beneficiary_enable.
func (r *Amqp) Setup(x interface{}) error {
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()
	// declare queues
	for _, queue := range []string{msg.DepositCollection, msg.WithdrawCoin, msg.BeneficiaryEnable} {
		if _, err = channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return err
		}
	}
	return nil
}

// Close terminates gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			log.Printf("Error closing amqp.Channel:%e", err)
		}
		r.ch = nil
		log.Printf("amqp.Channel closed!")
	}
	return r.conn.Close()
}

// Publish enqueues a job on the named queue via the default exchange.
func (r *Amqp) Publish(queue string, j msg.Job) (err error) {
	// marshal to JSON
	var jsonDoc []byte
	if jsonDoc, err = json.Marshal(j); err != nil {
		return
	}
	// obtain channel if not present
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return
		}
	}
	// build body
	m := amqp.Publishing{
		Headers:      amqp.Table{"x-job-id": j.ID},
		Body:         jsonDoc,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
	}
	// publish to the default exchange, routing key is the queue name
	if err = r.ch.Publish("", queue, false, false, m); err != nil {
		log.Printf("[%s] Error publishing job to message broker %e", queue, err)
	}
	return
}

// GetJobs consumes jobs from the named queue pushing them to the returned channel. The Mutex pointer is provided to
// ensure the consumed message has been fully dealt with by the worker, so the message consumed is only acknowledged
// when the mutex is unlocked. A redelivered message whose record has already moved on resolves to a no-op in the
// worker, so the at-least-once delivery is safe.
func (r *Amqp) GetJobs(queue string, mut *sync.Mutex) (<-chan msg.Job, <-chan error, error) {
	var err error
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return nil, nil, err
		}
	}
	// declare queue
	if _, err = r.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, nil, err
	}
	// create channel for receiving jobs
	msgs, errCons := r.ch.Consume(queue, "worker-"+queue, false, false, false, false, nil)
	if errCons != nil {
		return nil, nil, errCons
	}
	// define channels to return
	jobs := make(chan msg.Job)
	errors := make(chan error)
	// start routine to consume messages from broker
	go func() {
		for m := range msgs {
			var j *msg.Job = new(msg.Job)
			err := json.Unmarshal(m.Body, j)
			if err != nil {
				errors <- err
				continue
			}
			jobs <- *j
			mut.Lock() // wait for the worker to finish processing the job
			m.Ack(false)
		}
	}()
	return jobs, errors, nil
}
