// Package logging builds the process zap logger from configuration.
//
// The logger writes JSON (or console) entries with an ISO8601 "ts" key, caller
// information, and stacktraces from the configured level up. Constant fields
// from the configuration are attached to every entry. Values under sensitive
// keys, and credentials embedded in connection URLs, are redacted by the encoder.
//
// Sampling, when enabled, only applies below the error level.
//
// # Usage
//
//	logger, err := logging.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer logging.Sync(logger)
//
// Tests use NewTestLogger to observe entries:
//
//	tl := logging.NewTestLogger()
//	svc := NewService(tl.Logger())
//	tl.AssertLogged(t, zapcore.WarnLevel, "search failed")
package logging
