package worker

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	log "github.com/sirupsen/logrus"
)

const timeout = 15

// Init sets up and starts the http/https server to service the management API. If sslPort, sslCert and sslKey are
// informed, it will start an https (TLS) server on the specified endpoint.
func (w *Worker) Init(endpoint, port, sslPort, sslCert, sslKey string) string {
	var err, errTLS error

	// API definition
	r := mux.NewRouter()
	r.HandleFunc("/", w.homeHandler)
	r.HandleFunc("/health", w.healthHandler).Methods("GET")                     // liveness probe
	r.HandleFunc("/deposits/{id}", w.depositHandler).Methods("GET")             // get deposit details
	r.HandleFunc("/withdraws/{id}", w.withdrawHandler).Methods("GET")           // get withdrawal details
	r.HandleFunc("/withdraws/{id}/retry", w.retryWithdrawHandler).Methods("POST") // re-enqueue a parked withdrawal
	r.HandleFunc("/refunds", w.refundHandler).Methods("POST")                   // return a deposit to its sender
	http.Handle("/", r)

	// setup shutdown channel
	w.sc = make(chan struct{})

	// start http server
	if port != "" {
		w.s = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + port,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			err = w.s.ListenAndServe()
		}()

		log.Printf("Listening to API http requests on %s:%s", endpoint, port)
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		w.ss = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + sslPort,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			errTLS = w.ss.ListenAndServeTLS(sslCert, sslKey)
		}()

		log.Printf("Listening to API https requests on %s:%s", endpoint, sslPort)
	}
	// wait for servers to be shutdown
	<-w.sc

	return fmt.Sprintf("shutdown http server:%e, https server:%e", err, errTLS)
}
