/*
Package adapter assembles one objectftp process from its configuration.

New builds, in order:

  - the metrics collector (disabled collectors record nothing)
  - the storage backend chosen by storage.backend
  - the shared cache tier (memcache or an in-process LRU) behind a circuit
    breaker, or none
  - the session manager, which retries logins that fail transiently, and the
    per-address connection tracker
  - readiness checks for the backend and the shared tier, served on the
    metrics /health endpoint

A protocol front end calls Connect for each incoming connection:

	a, err := adapter.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Stop(ctx)

	sess, ticket, err := a.Connect(ctx, conn.RemoteAddr().String(), user, password)
	if err != nil {
		return err // limit exceeded or login refused
	}
	defer ticket.Release()
	names, err := sess.FS().ListDir(ctx, "/")
*/
package adapter
