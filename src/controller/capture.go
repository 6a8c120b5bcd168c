package controller

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"time"

	logger "github.com/sirupsen/logrus"

	"signalengine/src/model"
	"signalengine/src/repository"
)

const (
	LevelWarn  = "warn"
	LevelError = "error"
)

// Capture records an operational failure, logs it locally and, when repo is
// set, persists it as a model.Exception.
func Capture(
	ctx context.Context,
	repo *repository.ExceptionRepository,
	service string,
	module string,
	method string,
	level string,
	err error,
	contextData map[string]interface{},
) {
	if err == nil {
		return
	}

	var ctxJSON string
	if contextData != nil {
		if b, e := json.Marshal(contextData); e == nil {
			ctxJSON = string(b)
		}
	}

	exc := &model.Exception{
		Service:   service,
		Module:    module,
		Method:    method,
		Message:   err.Error(),
		Level:     level,
		Context:   ctxJSON,
		CreatedAt: time.Now().UTC(),
	}
	if level == LevelError {
		exc.Stack = string(debug.Stack())
	}

	entry := logger.WithFields(map[string]interface{}{
		"service": service,
		"module":  module,
		"method":  method,
		"level":   level,
	}).WithError(err)
	if level == LevelWarn {
		entry.Warn("System exception captured")
	} else {
		entry.Error("System exception captured")
	}

	if repo != nil {
		// a cancelled request still gets its failure recorded
		if e := repo.Create(context.WithoutCancel(ctx), exc); e != nil {
			logger.WithError(e).Error("Failed to persist exception")
		}
	}
}
