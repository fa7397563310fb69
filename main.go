package main

import (
	"log"

	"github.com/roiko/ev-server/internal/config"
	"github.com/roiko/ev-server/metrics"
	"github.com/roiko/ev-server/server"
)

func main() {

	conf, err := config.GetConfig()
	if err != nil {
		log.Println("configuration load failed", err)
		return
	}

	go func() {
		if err := metrics.Listen(conf); err != nil {
			log.Println("metrics server failed", err)
		}
	}()

	centralSystem, err := server.NewCentralSystem(conf)
	if err != nil {
		log.Println("central system initialization failed", err)
		return
	}
	centralSystem.Start()

}
