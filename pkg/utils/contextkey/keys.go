package contextkey

// key is a private type to avoid context key collisions across packages.
type key string

const (
	TraceID   key = "trace_id"
	RequestID key = "request_id"
	RunID     key = "run_id"
	Cgroup    key = "cgroup"
)

// All lists the keys the logger lifts into structured fields.
var All = []key{TraceID, RequestID, RunID, Cgroup}

// String returns the field name used for the key.
func (k key) String() string {
	return string(k)
}
