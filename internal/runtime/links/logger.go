package links

import (
	"time"

	"github.com/drblury/flowrpc/internal/runtime/link"
	"github.com/drblury/flowrpc/internal/runtime/logging"
)

// LoggerLink logs every operation and each result it produces. A nil logger
// uses the runtime's.
func LoggerLink(logger logging.ServiceLogger) link.Link {
	return func(rt *link.Runtime) link.OperationLink {
		log := logger
		if log == nil {
			log = rt.Logger
		}
		log = logging.OrNop(log)

		return func(c link.Call) {
			started := time.Now()
			opLog := log.With(logging.LogFields{
				"operation_id": c.Op.ID,
				"type":         string(c.Op.Type),
				"path":         c.Op.Path,
			})
			opLog.Debug("Operation started", nil)

			c.Next(c.Op, func(res link.Result) {
				fields := logging.LogFields{
					"result":     string(res.Type),
					"elapsed_ms": time.Since(started).Milliseconds(),
				}
				if res.Err != nil {
					fields["code"] = string(res.Err.Code)
					opLog.Error("Operation failed", res.Err, fields)
				} else {
					opLog.Debug("Operation result", fields)
				}
				c.Prev(res)
			})
		}
	}
}
