package main

import (
	"flag"

	"surgedb/internal/config"
	"surgedb/internal/db"
	"surgedb/internal/server"
	"surgedb/pkg/logger"
)

func main() {
	var (
		confPath = flag.String("config", "", "path to YAML config file")
		dataDir  = flag.String("data", "./data", "data directory (ignored when -config is set)")
	)
	flag.Parse()

	var conf *config.Config
	var err error
	if *confPath != "" {
		conf, err = config.LoadConfig(*confPath)
	} else {
		conf, err = config.NewConfig(*dataDir)
	}
	if err != nil {
		panic(err)
	}

	logger.InitLogger(conf.Log.Level, conf.Log.File)

	database, err := db.New(conf)
	if err != nil {
		logger.Fatal("failed to initialize database", "error", err)
	}
	if err := database.Open(); err != nil {
		logger.Fatal("failed to recover collections", "error", err)
	}
	defer database.Close()

	logger.Info("surgedb listening", "addr", conf.Addr(), "dir", conf.Dir)
	srv := server.New(database)
	if err := srv.Run(conf.Addr()); err != nil {
		logger.Fatal("server stopped", "error", err)
	}
}
