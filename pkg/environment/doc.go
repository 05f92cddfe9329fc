// Package environment names the deployment environment the service runs in.
//
// The value comes from APP_ENV and drives environment-dependent defaults
// such as the log format:
//
//	env, err := environment.Parse(os.Getenv("APP_ENV"))
//	if err != nil {
//		return err
//	}
//	log := logger.New(logger.WithEnvironment(env, "usagegate"))
package environment
