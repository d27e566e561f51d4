package logging

import (
	"time"

	"github.com/felixgeelhaar/bolt/v3"
)

// Field is a function that applies structured data to a log event.
type Field func(*bolt.Event) *bolt.Event

// RunID adds a run ID field.
func RunID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("run_id", id)
	}
}

// Worker adds the process index of a training worker.
func Worker(index int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int("worker", index)
	}
}

// GlobalStep adds the shared step counter value.
func GlobalStep(step int64) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64("global_step", step)
	}
}

// Episode adds the shared episode counter value.
func Episode(n int64) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64("episode", n)
	}
}

// EpisodeLen adds the length of the episode that just ended.
func EpisodeLen(n int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int("episode_len", n)
	}
}

// Reward adds an episode return.
func Reward(r float64) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Float64("reward", r)
	}
}

// Float64 adds a float field with custom key.
func Float64(key string, value float64) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Float64(key, value)
	}
}

// Path adds a filesystem path, usually a checkpoint directory.
func Path(p string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("path", p)
	}
}

// Status adds a run status field.
func Status(s string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("status", s)
	}
}

// Duration adds a duration field in milliseconds.
func Duration(d time.Duration) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64("duration_ms", d.Milliseconds())
	}
}

// ErrorField adds an error field.
func ErrorField(err error) Field {
	return func(e *bolt.Event) *bolt.Event {
		if err == nil {
			return e
		}
		return e.Err(err)
	}
}

// Component adds a component field for categorization.
func Component(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("component", name)
	}
}

// Operation adds an operation field.
func Operation(op string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("operation", op)
	}
}

// Str adds a string field with custom key.
func Str(key, value string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str(key, value)
	}
}

// Int adds an int field with custom key.
func Int(key string, value int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int(key, value)
	}
}
