// Package custody and its sub-packages implement the fund-movement backend of a cryptocurrency exchange: collecting
// confirmed deposits into custody wallets and dispatching withdrawals to the blockchains.
/*
custody provides one microservice, the worker (package worker), driven entirely by a message broker and a database.

Architecture

Producers (the exchange front-office, chain scanners) publish jobs to three broker queues: deposit_collection,
withdraw_coin and beneficiary_enable. Each job carries the identifier of a database record; the worker loads the
record, checks its state and acts only when the record is in the one state the pipeline owns. Delivery is
at-least-once and every transition is a compare-and-set, so duplicate or stale messages resolve to no-ops and
several workers can safely share the queues. The message broker is implemented as a product agnostic layer
(package lib/msg) and is configured via a JSON config file at service startup.

All balances live in a double-entry ledger (package lib/store): every member holds one account per currency with an
available and a locked amount. Collecting a deposit credits the account in the same database transaction that marks
the deposit collected; settling a withdrawal debits or releases the locked reservation in the same transaction that
finishes the withdrawal. The store is product agnostic with MongoDB and PostgreSQL implementations.

Custody backends are pluggable adapters (package lib/wallet): an opendax-style vault gateway spoken to over REST,
and a direct ethereum node connection with locally derived HD wallet keys. A wallet record in the database names
its adapter; the registry resolves it at job time and an unknown adapter name fails fast.

Inbound funds pass an AML gate (package lib/aml) before any collection: every source address of a deposit and every
withdrawal beneficiary is screened. A cron loop inside the worker re-examines records waiting on a screening
decision every minute. Without a configured provider the gate degrades to an always-clear backend so the pipelines
keep the same shape.

Worker

The worker microservice can be started running cmd/worker/main.go. Besides the queue consumers and the cron loop it
exposes an HTTP RESTful management API: deposit and withdrawal lookups, re-enqueueing of withdrawals parked by a
missing wallet or a backend failure, and operator-triggered refunds of deposits back to their senders. The service
can also be monitored via a Prometheus API by setting the flag "-m" at startup.

Depending on workload and resources, one or more instances of the worker can be orchestrated in order to provide
the required service level.

*/
package custody
