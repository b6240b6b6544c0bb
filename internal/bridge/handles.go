package bridge

// PagePointer addresses a page owned by a Bridge
type PagePointer uintptr

// HostHandle is an opaque host value echoed back to callbacks
type HostHandle uintptr

// PersistentHandle is an opaque host value echoed back to bytecode callbacks
type PersistentHandle uintptr

// ModuleEventResult carries the JSON encoded return value of a module
// listener. Value is "null" when the module had no listener.
type ModuleEventResult struct {
	OK    bool   `json:"ok"`
	Value []byte `json:"value,omitempty"`
}

// EvaluateScriptsCallback receives the outcome of EvaluateScripts
type EvaluateScriptsCallback func(host HostHandle, ok bool)

// EvaluateByteCodeCallback receives the outcome of EvaluateByteCode
type EvaluateByteCodeCallback func(persisted PersistentHandle, ok bool)

// InvokeModuleEventCallback receives the outcome of InvokeModuleEvent
type InvokeModuleEventCallback func(host HostHandle, result ModuleEventResult)

// Operation names used in logs and metrics
const (
	OpEvaluateScripts   = "evaluate_scripts"
	OpEvaluateByteCode  = "evaluate_bytecode"
	OpParseHTML         = "parse_html"
	OpInvokeModuleEvent = "invoke_module_event"
)
