// Package httpserver runs an http.Server tied to a context: Run returns once
// the context is cancelled and in-flight requests have drained, or the
// shutdown timeout elapsed.
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	g.Go(func() error { return srv.Run(ctx, router) })
//
// HealthCheckHandler builds a JSON readiness probe from named dependency
// checks such as mongo.Healthcheck or redis.Healthcheck.
package httpserver
