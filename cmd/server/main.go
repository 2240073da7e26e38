package main

import (
	"github.com/mirojs/graphrag-orchestration-sub001/internal/server"
	"github.com/mirojs/graphrag-orchestration-sub001/internal/util"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/logger"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
