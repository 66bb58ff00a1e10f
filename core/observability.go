package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// instrumentation is shared by the pipeline components for structured logs
// and metrics.
type instrumentation struct {
	logger  Logger
	metrics MetricsRecorder
}

func newInstrumentation(logger Logger, metrics MetricsRecorder) instrumentation {
	if logger == nil {
		logger = glog.Nop()
	}
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return instrumentation{logger: logger, metrics: metrics}
}

func (i instrumentation) observeOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "failure"
	}

	contextFields := cloneFields(fields)
	contextFields["operation"] = operation
	contextFields["status"] = status
	contextFields["duration_ms"] = time.Since(startedAt).Milliseconds()
	if err != nil {
		contextFields["error"] = err.Error()
		if kind := ErrorKind(err); kind != "" {
			contextFields["error_code"] = kind
		}
	}

	tags := map[string]string{
		"operation": operation,
		"status":    status,
	}
	for _, key := range []string{"provider", "event", "error_code"} {
		if value := strings.TrimSpace(fmt.Sprint(contextFields[key])); value != "" && value != "<nil>" {
			tags[key] = value
		}
	}

	i.recordCounter(ctx, "webhooks."+operation+".total", 1, tags)
	i.recordHistogram(ctx, "webhooks."+operation+".duration_ms", float64(time.Since(startedAt).Milliseconds()), tags)

	if err != nil {
		i.logError(ctx, operation+" failed", contextFields)
		return
	}
	i.logInfo(ctx, operation+" succeeded", contextFields)
}

func (i instrumentation) logInfo(ctx context.Context, message string, fields map[string]any) {
	i.logWithLevel(ctx, "info", message, fields)
}

func (i instrumentation) logWarn(ctx context.Context, message string, fields map[string]any) {
	i.logWithLevel(ctx, "warn", message, fields)
}

func (i instrumentation) logError(ctx context.Context, message string, fields map[string]any) {
	i.logWithLevel(ctx, "error", message, fields)
}

func (i instrumentation) logWithLevel(ctx context.Context, level string, message string, fields map[string]any) {
	if i.logger == nil {
		return
	}
	logger := i.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (i instrumentation) recordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if i.metrics == nil {
		return
	}
	i.metrics.IncCounter(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func (i instrumentation) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if i.metrics == nil {
		return
	}
	i.metrics.ObserveHistogram(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func cloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	operation = strings.ReplaceAll(operation, "-", "_")
	return operation
}
