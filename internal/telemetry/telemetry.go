package telemetry

import (
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"

	"deployx/internal/config"
	"deployx/internal/logger"
)

// Telemetry wraps the optional New Relic agent. Disabled is the
// default; every method on a disabled Telemetry is a no-op, so call
// sites never branch.
type Telemetry struct {
	app *newrelic.Application
	log *logrus.Entry
}

// Initialize builds the telemetry handle from settings. Failure to
// reach the agent never fails the caller; deploys work the same with
// telemetry off.
func Initialize(settings *config.Settings) *Telemetry {
	tlog := logger.WithModule("telemetry")
	t := &Telemetry{log: tlog}

	if !settings.TelemetryEnabled {
		return t
	}
	if settings.NewRelicLicense == "" {
		tlog.Warn("telemetry enabled but no license key provided, disabling")
		return t
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(settings.NewRelicAppName),
		newrelic.ConfigLicense(settings.NewRelicLicense),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigLogger(agentLogger{logger: tlog}),
	)
	if err != nil {
		tlog.WithError(err).Warn("telemetry agent failed to start, continuing without it")
		return t
	}

	tlog.WithField("app_name", settings.NewRelicAppName).Info("telemetry initialized")
	t.app = app
	return t
}

// StartDeployment opens a transaction covering one deployment attempt.
func (t *Telemetry) StartDeployment(project, platform string) *Transaction {
	if t == nil || t.app == nil {
		return nil
	}
	txn := t.app.StartTransaction("deploy")
	txn.AddAttribute("project", project)
	txn.AddAttribute("platform", platform)
	return &Transaction{txn: txn}
}

// Shutdown flushes pending data. Safe on a disabled handle.
func (t *Telemetry) Shutdown() {
	if t == nil || t.app == nil {
		return
	}
	t.app.Shutdown(0)
}

// Transaction tracks one deployment attempt. A nil Transaction is
// valid and inert.
type Transaction struct {
	txn     *newrelic.Transaction
	segment *newrelic.Segment
}

// Stage closes the previous stage segment and opens a new one named
// after the deployment state.
func (tx *Transaction) Stage(name string) {
	if tx == nil {
		return
	}
	if tx.segment != nil {
		tx.segment.End()
	}
	tx.segment = tx.txn.StartSegment(name)
}

// End finishes the transaction, recording the error when present.
func (tx *Transaction) End(err error) {
	if tx == nil {
		return
	}
	if tx.segment != nil {
		tx.segment.End()
	}
	if err != nil {
		tx.txn.NoticeError(err)
	}
	tx.txn.End()
}

// agentLogger routes agent logs into the structured logger.
type agentLogger struct {
	logger *logrus.Entry
}

func (l agentLogger) Error(msg string, context map[string]interface{}) {
	l.logger.WithFields(logrus.Fields(context)).Error(msg)
}

func (l agentLogger) Warn(msg string, context map[string]interface{}) {
	l.logger.WithFields(logrus.Fields(context)).Warn(msg)
}

func (l agentLogger) Info(msg string, context map[string]interface{}) {
	l.logger.WithFields(logrus.Fields(context)).Debug(msg)
}

func (l agentLogger) Debug(msg string, context map[string]interface{}) {
	l.logger.WithFields(logrus.Fields(context)).Debug(msg)
}

func (l agentLogger) DebugEnabled() bool {
	return l.logger.Logger.IsLevelEnabled(logrus.DebugLevel)
}
