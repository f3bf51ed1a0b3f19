package logging

import (
	"time"
)

// Generic field constructors

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Domain helpers. Analysis stages key their entries by device and
// artifact so one grep follows a GUID through the whole pipeline.

func GUID(guid string) Field {
	return String("guid", guid)
}

func Port(port int) Field {
	return Int("port", port)
}

func Artifact(name string) Field {
	return String("artifact", name)
}

func Stage(name string) Field {
	return String("stage", name)
}

func RunID(id string) Field {
	return String("run_id", id)
}

func Component(name string) Field {
	return String("component", name)
}

func Count(n int) Field {
	return Int("count", n)
}

func Path(p string) Field {
	return String("path", p)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}
