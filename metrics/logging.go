package metrics

import "eve.evalgo.org/entityrt/runtimelog"

// LoggingHooks reports every hook as a structured log line through a
// runtimelog.Logger, the same wrap-and-report pattern eve/common.LogOperation
// uses around HTTP and DB calls.
type LoggingHooks struct {
	Log *runtimelog.Logger
}

var _ Hooks = LoggingHooks{}

func (h LoggingHooks) OnHydrate(entityID string, version int) {
	h.Log.WithFields(map[string]interface{}{"entity": entityID, "version": version}).Info("entity hydrated")
}

func (h LoggingHooks) OnBeforeSnapshot(entityID string, version int) {
	h.Log.WithFields(map[string]interface{}{"entity": entityID, "version": version}).Debug("snapshot starting")
}

func (h LoggingHooks) OnSnapshot(entityID string, version int) {
	h.Log.WithFields(map[string]interface{}{"entity": entityID, "version": version}).Debug("snapshot committed")
}

func (h LoggingHooks) OnAfterCommit(entityID string, version int) {
	h.Log.WithFields(map[string]interface{}{"entity": entityID, "version": version}).Debug("event committed")
}

func (h LoggingHooks) OnEvict(entityID string) {
	h.Log.WithField("entity", entityID).Info("entity evicted by passivation sweep")
}

func (h LoggingHooks) OnError(entityID string, err error) {
	h.Log.WithField("entity", entityID).WithError(err).Error("entity error")
}
