package api

// StackTrace is a walk of one thread.
type StackTrace struct {
	// WalkID identifies the walk in the logs.
	WalkID string `json:"walkId"`
	Pid    int    `json:"pid"`
	Tid    int    `json:"tid"`
	// Arch is the architecture the thread was walked as.
	Arch     string       `json:"arch"`
	Emulated bool         `json:"emulated"`
	Frames   []Stackframe `json:"frames"`
	// Truncated is set when the walk stopped before the outermost frame.
	Truncated bool `json:"truncated"`
	// Cyclic is set when the walk stopped on a repeating frame.
	Cyclic bool `json:"cyclic"`
	// Err is set instead of Frames when the walk failed.
	Err string `json:"error,omitempty"`
}

// Stackframe is one frame of a StackTrace.
type Stackframe struct {
	PC        uint64 `json:"pc"`
	Return    uint64 `json:"return"`
	FrameBase uint64 `json:"frameBase"`
	Stack     uint64 `json:"stack"`

	// Symbol is the display form of the code location, see
	// proc.ResolvedSymbol.
	Symbol     string `json:"symbol"`
	Function   string `json:"function,omitempty"`
	Offset     uint64 `json:"offset"`
	Module     string `json:"module,omitempty"`
	ModuleBase uint64 `json:"moduleBase,omitempty"`
	File       string `json:"file,omitempty"`
	Line       int    `json:"line,omitempty"`

	Instruction string `json:"instruction,omitempty"`
}

// Module is an image loaded in a process.
type Module struct {
	Base uint64 `json:"base"`
	Size uint32 `json:"size"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// Thread is a thread of a process.
type Thread struct {
	ID  int `json:"id"`
	Pid int `json:"pid"`
}

// Register is one register of a captured thread context.
type Register struct {
	Name  string `json:"name"`
	Value uint64 `json:"value"`
}

// ProcessInfo summarizes a process.
type ProcessInfo struct {
	Pid      int    `json:"pid"`
	Arch     string `json:"arch"`
	Emulated bool   `json:"emulated"`
	// PEB is the address of the process environment block, zero if it
	// could not be read.
	PEB     uint64 `json:"peb"`
	Modules int    `json:"modules"`
	Threads int    `json:"threads"`
}
