// Package rpc carries the Compiler Service over gRPC without generated
// stubs. The schema is parsed at runtime with protoparse and every request
// and reply is a dynamic message.
package rpc

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "cxbridge.abi.v1.CompilerService"

const schemaFile = "cxbridge/abi/v1/compiler.proto"

//go:embed compiler.proto
var schema string

var (
	schemaOnce sync.Once
	schemaDesc *desc.ServiceDescriptor
	schemaErr  error
)

// serviceDescriptor parses the embedded schema once.
func serviceDescriptor() (*desc.ServiceDescriptor, error) {
	schemaOnce.Do(func() {
		parser := protoparse.Parser{
			Accessor: protoparse.FileContentsFromMap(map[string]string{schemaFile: schema}),
		}
		fds, err := parser.ParseFiles(schemaFile)
		if err != nil {
			schemaErr = fmt.Errorf("parsing %s: %w", schemaFile, err)
			return
		}
		schemaDesc = fds[0].FindService(ServiceName)
		if schemaDesc == nil {
			schemaErr = fmt.Errorf("%s does not define %s", schemaFile, ServiceName)
		}
	})
	return schemaDesc, schemaErr
}

func methodDescriptor(name string) (*desc.MethodDescriptor, error) {
	sd, err := serviceDescriptor()
	if err != nil {
		return nil, err
	}
	md := sd.FindMethodByName(name)
	if md == nil {
		return nil, fmt.Errorf("%s has no method %s", ServiceName, name)
	}
	return md, nil
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}
