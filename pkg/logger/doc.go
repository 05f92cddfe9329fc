// Package logger builds slog loggers for the usage gate service.
//
// New returns a *slog.Logger configured by functional options. WithEnvironment
// picks text output at debug level for development and JSON at info level for
// staging and production; WithConfig lets LOG_LEVEL and LOG_FORMAT override
// that choice. Handlers are wrapped by LogHandlerDecorator, which runs the
// registered ContextExtractor callbacks on every record so request-scoped
// values such as the request id end up in the log line.
//
// Helper constructors in attr.go (UserID, Feature, SubscriptionRef, EventID,
// Error and friends) keep attribute keys consistent across packages:
//
//	log := logger.New(
//	    logger.WithEnvironment(environment.Production, "usagegate"),
//	    logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//	log.WarnContext(ctx, "gate failing open",
//	    logger.UserID(userID),
//	    logger.Feature("detection"),
//	    logger.Error(err),
//	)
//
// Error and Errors return an empty attribute for nil errors, so they can be
// passed unconditionally.
package logger
