package logger

import (
	"fmt"

	oarklog "github.com/oarkflow/log"
)

// OarkLogger adapts the oarkflow/log package to the Logger interface.
type OarkLogger struct{}

func NewOarkLogger() *OarkLogger { return &OarkLogger{} }

func (o *OarkLogger) Debug(msg string, keyvals ...any) { emit(oarklog.Debug(), msg, keyvals) }
func (o *OarkLogger) Info(msg string, keyvals ...any)  { emit(oarklog.Info(), msg, keyvals) }
func (o *OarkLogger) Error(msg string, keyvals ...any) { emit(oarklog.Error(), msg, keyvals) }

func emit(e *oarklog.Entry, msg string, keyvals []any) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		switch v := keyvals[i+1].(type) {
		case string:
			e = e.Str(key, v)
		case bool:
			e = e.Bool(key, v)
		case int:
			e = e.Int(key, v)
		case int64:
			e = e.Int64(key, v)
		case float64:
			e = e.Float64(key, v)
		default:
			e = e.Any(key, v)
		}
	}
	e.Msg(msg)
}
