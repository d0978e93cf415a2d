package config

// Version is reported by the CLI and the gRPC server.
// Can be set at build time using: -ldflags "-X github.com/funvibe/cxbridge/internal/config.Version=..."
var Version = "0.1.0-dev"

// ConfigFileNames are the recognized configuration file names, in lookup order.
var ConfigFileNames = []string{"cxbridge.yaml", "cxbridge.yml"}

// SourceFileExtensions are the recognized declaration source extensions.
var SourceFileExtensions = []string{".h", ".hh", ".hpp", ".hxx", ".cxx"}

// SessionHeader is the gRPC metadata key carrying the client session id.
const SessionHeader = "x-cxbridge-session"

// Backend names
const (
	BackendMemory = "memory"
	BackendNative = "native"
	BackendRemote = "remote"
)

// Native layout
const (
	PointerWidth = 8
	MaxAlign     = 16
)

// Built-in names available inside method bodies
const (
	PrintfFuncName = "printf"
	PutsFuncName   = "puts"
	TypeidFuncName = "typeid"
	SizeofFuncName = "sizeof"
	ThisName       = "this"
)

// Symbols the native backend resolves in the interop library.
const (
	ParseSymbol               = "Clang_Parse"
	LookupNameSymbol          = "Clang_LookupName"
	CreateObjectSymbol        = "Clang_CreateObject"
	DestroyObjectSymbol       = "Clang_DestroyObject"
	InstantiateTemplateSymbol = "Clang_InstantiateTemplate"
	GetFunctionAddressSymbol  = "Clang_GetFunctionAddress"
)
