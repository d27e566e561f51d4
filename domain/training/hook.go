package training

// Hook is invoked once per completed global step with the environment of the
// worker that completed it. Hook invocations never run concurrently.
type Hook func(env Environment, agent Agent, globalStep int64) error
