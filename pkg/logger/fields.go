package logger

import (
	"go.uber.org/zap"
)

// CallFields returns the standard fields attached to call lifecycle log lines.
func CallFields(callID, event string, extra ...zap.Field) []zap.Field {
	fields := make([]zap.Field, 0, 2+len(extra))
	fields = append(fields,
		zap.String("call_id", callID),
		zap.String("event", event),
	)
	return append(fields, extra...)
}

// CallEvent logs a call lifecycle event at info level with the standard fields.
func CallEvent(callID, event string, extra ...zap.Field) {
	if Log == nil {
		return
	}
	Log.Info("call_event", CallFields(callID, event, extra...)...)
}
