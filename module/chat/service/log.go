package service

import (
	"PPDirect/logger"

	"go.uber.org/zap"
)

func logWarn(msg string, kv ...any) {
	logger.Log.Sugar().Warnw(msg, kv...)
}

func logError(msg string, err error, fields ...zap.Field) {
	logger.Error(msg, append(fields, zap.Error(err))...)
}
