package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the session's base zerolog logger from configuration.
func NewLogger(cfg LoggingConfig) (zerolog.Logger, error) {
	var writer io.Writer
	switch cfg.Output {
	case "", "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), err
		}
		writer = file
	}

	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: time.RFC3339,
		}
	}
	zerolog.TimeFieldFormat = time.RFC3339

	log := zerolog.New(writer).With().Timestamp().Logger()
	log = log.Level(parseLogLevel(cfg.Level))
	if cfg.EnableCaller {
		log = log.With().Caller().Logger()
	}
	return log, nil
}

// ComponentLogger returns a child logger tagged with a component name.
func ComponentLogger(log zerolog.Logger, component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithDemandID tags entries with the demand they concern.
func WithDemandID(log zerolog.Logger, id string) zerolog.Logger {
	return log.With().Str("demand_id", id).Logger()
}

// WithProposalID tags entries with the proposal they concern.
func WithProposalID(log zerolog.Logger, id string) zerolog.Logger {
	return log.With().Str("proposal_id", id).Logger()
}

// WithAgreementID tags entries with the agreement they concern.
func WithAgreementID(log zerolog.Logger, id string) zerolog.Logger {
	return log.With().Str("agreement_id", id).Logger()
}

// WithActivityID tags entries with the activity they concern.
func WithActivityID(log zerolog.Logger, id string) zerolog.Logger {
	return log.With().Str("activity_id", id).Logger()
}

// WithScriptID tags entries with the script they concern.
func WithScriptID(log zerolog.Logger, id int64) zerolog.Logger {
	return log.With().Int64("script_id", id).Logger()
}

// WithProviderID tags entries with the provider on the other side.
func WithProviderID(log zerolog.Logger, id string) zerolog.Logger {
	return log.With().Str("provider_id", id).Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
