package analytics

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogFileDataCollector struct {
	fileName string
	logger   *zap.Logger
}

func NewLogFileDataCollector(fileName string) (*LogFileDataCollector, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = ""
	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(fileEncoder, zapcore.AddSync(logFile), zapcore.InfoLevel)
	return &LogFileDataCollector{
		fileName: fileName,
		logger:   zap.New(core),
	}, nil
}

func (lc *LogFileDataCollector) RecordNodeSuccess(workflowId string, runKey string, nodeId string, nodeType string, data map[string]any) {
	lc.logger.Info("node success", zap.String("workflow", workflowId), zap.String("idempotencyKey", runKey), zap.String("node", nodeId), zap.String("type", nodeType), zap.Any("data", data))
}

func (lc *LogFileDataCollector) RecordNodeFailure(workflowId string, runKey string, nodeId string, nodeType string, reason string) {
	lc.logger.Info("node failure", zap.String("workflow", workflowId), zap.String("idempotencyKey", runKey), zap.String("node", nodeId), zap.String("type", nodeType), zap.String("reason", reason))
}

func (lc *LogFileDataCollector) RecordRunCompleted(workflowId string, runKey string, status string) {
	lc.logger.Info("run completed", zap.String("workflow", workflowId), zap.String("idempotencyKey", runKey), zap.String("status", status))
}
