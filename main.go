package main

import (
	"context"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"signalengine/src/app"
	"signalengine/src/database"
	"signalengine/src/server"
)

const appName = "signalengine"

func main() {
	database.SetupLogger(database.GetConfig())
	defer handlePanic()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	a, err := app.New(database.MainDB, app.FromEnv())
	if err != nil {
		logger.WithError(err).Fatal("Failed to wire application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := a.Watcher().StartLoop(ctx); err != nil {
			logger.WithError(err).Error("position watcher stopped")
		}
	}()

	server.StartServer(server.GetConfig(), a.Router())
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", appName))
		//nolint
		time.Sleep(time.Second * 5)
	}
}
