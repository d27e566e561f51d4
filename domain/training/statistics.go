package training

import "time"

// Stat is a single named statistic.
type Stat struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Statistics is an ordered list of named values.
type Statistics []Stat

// Get returns the value of the named statistic.
func (s Statistics) Get(name string) (float64, bool) {
	for _, st := range s {
		if st.Name == name {
			return st.Value, true
		}
	}
	return 0, false
}

// Map converts the statistics to a map. Later duplicates win.
func (s Statistics) Map() map[string]float64 {
	m := make(map[string]float64, len(s))
	for _, st := range s {
		m[st.Name] = st.Value
	}
	return m
}

// Names returns the statistic names in order.
func (s Statistics) Names() []string {
	names := make([]string, len(s))
	for i, st := range s {
		names[i] = st.Name
	}
	return names
}

// Clone returns a copy that shares no memory with s.
func (s Statistics) Clone() Statistics {
	if s == nil {
		return nil
	}
	out := make(Statistics, len(s))
	copy(out, s)
	return out
}

// Record is an immutable statistics snapshot taken at an episode boundary.
type Record struct {
	// Worker is the index of the worker that completed the episode.
	Worker int `json:"worker"`

	// Episode is the value of the global episode counter after the increment.
	Episode int64 `json:"episode"`

	// GlobalStep is the global step at which the episode ended.
	GlobalStep int64 `json:"global_step"`

	// EpisodeLen is the number of steps in the finished episode.
	EpisodeLen int `json:"episode_len"`

	// Stats are the agent statistics at the boundary.
	Stats Statistics `json:"stats"`

	// Timestamp is when the record was produced.
	Timestamp time.Time `json:"timestamp"`
}

// NewRecord creates a record holding a private copy of stats.
func NewRecord(worker int, episode, globalStep int64, episodeLen int, stats Statistics) Record {
	return Record{
		Worker:     worker,
		Episode:    episode,
		GlobalStep: globalStep,
		EpisodeLen: episodeLen,
		Stats:      stats.Clone(),
		Timestamp:  time.Now(),
	}
}

// Map returns the record's statistics keyed by name.
func (r Record) Map() map[string]float64 {
	return r.Stats.Map()
}
