package autoprobe

// Structured log field names.
const (
	FieldInstanceID    = "instance_id"
	FieldError         = "error"
	FieldSeverity      = "severity"
	FieldHook          = "hook"
	FieldUnit          = "execution_unit"
	FieldContext       = "context_ptr"
	FieldRequest       = "request_ptr"
	FieldHeaders       = "headers_ptr"
	FieldWriter        = "writer_ptr"
	FieldMap           = "map_ptr"
	FieldField         = "field"
	FieldRequestMethod = "request_method"
	FieldRequestPath   = "request_path"
	FieldRequestHost   = "request_host"
	FieldStatusCode    = "status_code"
	FieldCallDuration  = "call_duration"
	FieldTraceID       = "trace_id"
	FieldSpanID        = "span_id"
	FieldParentSpanID  = "parent_span_id"
	FieldRuntime       = "runtime_version"
	FieldPID           = "pid"
	FieldSink          = "sink"
)
