// Package main: fund-movement worker service.
//
// The worker consumes the deposit_collection, withdraw_coin and beneficiary_enable queues, drives the AML gate on
// a cron loop and serves the management API. All state lives in the database; multiple workers can run against the
// same queues because every message resolves to a compare-and-set transition.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	log "github.com/sirupsen/logrus"

	"github.com/tarancss/custody/lib/aml"
	"github.com/tarancss/custody/lib/config"
	"github.com/tarancss/custody/lib/msg"
	"github.com/tarancss/custody/lib/msg/amqp"
	"github.com/tarancss/custody/lib/store"
	"github.com/tarancss/custody/lib/store/db"
	"github.com/tarancss/custody/lib/wallet"
	"github.com/tarancss/custody/lib/wallet/ethereum"
	"github.com/tarancss/custody/lib/wallet/opendax"
	"github.com/tarancss/custody/worker"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9090")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		panic(err)
	}

	log.Printf("Configuration:%+v", conf)

	// connect to database
	var dbConn store.DB

	if conf.DBConn != "" {
		if dbConn, err = db.New(conf.DBType, conf.DBConn); err != nil {
			panic(err)
		}

		log.Printf("Connecting to database:%+v\n", conf.DBConn)
	}

	// load wallet adapters
	reg := wallet.NewRegistry()
	reg.Register("opendax", opendax.New)
	reg.Register("ethereum", ethereum.New)

	log.Print("Wallet adapters loaded")

	// load AML screening backend
	amlReg := aml.NewRegistry()

	scr, err := amlReg.Resolve(conf.AMLBackend)
	if err != nil {
		panic(err)
	}

	// load Prometheus monitor
	if *monitor {
		go func() {
			log.Println("Serving metrics API")

			h := http.NewServeMux()

			h.Handle("/metrics", promhttp.Handler())
			http.ListenAndServe(":9100", h)
		}()
	}

	// load message broker
	var mb msg.MsgBroker

	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if mb, err = amqp.New(conf.MbConn); err != nil {
				panic(err)
			}
		}

		if err = mb.Setup(nil); err != nil {
			panic(err)
		}
	default:
		log.Printf("Unknown message broker type: %s\n", conf.MbType)
	}

	// create worker service
	w := worker.New(conf, dbConn, mb, scr, reg)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan int)

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// do last actions and wait for all write operations to end
		w.Stop()
		close(finish)
	}()

	// consume worker queues and start the AML cron loop
	if err := w.Run(); err != nil {
		log.Printf("Error setting up broker readers for jobs:%e", err)
	}

	// init RESTful API, wait for its return and log response
	log.Printf("Worker: %s\n", w.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey))

	<-finish
}
