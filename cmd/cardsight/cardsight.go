package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/cardsight/cardsight/server"
	"github.com/cyclopcam/logs"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("cardsight", "Detection stabilization and few-shot classification server")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration file", Default: "cardsight.json"})
	port := parser.Int("p", "port", &argparse.Options{Help: "HTTP listen port", Default: 8099})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := server.LoadConfig(*configFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	srv, err := server.NewServer(logger, cfg)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	// Close flushes unsaved training samples, so make kill signals orderly
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sig
		logger.Infof("Received signal %v, shutting down", s)
		srv.Close()
		os.Exit(0)
	}()

	check(srv.ListenAndServe(fmt.Sprintf(":%v", *port)))
}
