package rpc

import (
	"fmt"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/funvibe/cxbridge/internal/abi"
)

// fields is the host-side form of a message: scalars keyed by field name,
// nested fields for message fields and []any for repeated fields. Enums are
// int32. An absent message field has no key.
type fields map[string]any

func encode(md *desc.MessageDescriptor, f fields) (*dynamic.Message, error) {
	msg := dynamic.NewMessage(md)
	for name, v := range f {
		fd := md.FindFieldByName(name)
		if fd == nil {
			return nil, fmt.Errorf("%s has no field %s", md.GetFullyQualifiedName(), name)
		}
		if v == nil {
			continue
		}
		pv, err := toProto(fd, v)
		if err != nil {
			return nil, err
		}
		if err := msg.TrySetField(fd, pv); err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
	}
	return msg, nil
}

func toProto(fd *desc.FieldDescriptor, v any) (any, error) {
	if !fd.IsRepeated() {
		return toProtoSingle(fd, v)
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("field %s: expected a list, got %T", fd.GetName(), v)
	}
	out := make([]any, 0, len(list))
	for _, item := range list {
		pv, err := toProtoSingle(fd, item)
		if err != nil {
			return nil, err
		}
		out = append(out, pv)
	}
	return out, nil
}

func toProtoSingle(fd *desc.FieldDescriptor, v any) (any, error) {
	switch fd.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_UINT64, descriptorpb.FieldDescriptorProto_TYPE_FIXED64:
		if u, ok := v.(uint64); ok {
			return u, nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_INT32:
		if i, ok := v.(int32); ok {
			return i, nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_BOOL:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_STRING:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_ENUM:
		if i, ok := v.(int32); ok {
			if fd.GetEnumType().FindValueByNumber(i) == nil {
				return nil, fmt.Errorf("field %s: %d is not a %s", fd.GetName(), i, fd.GetEnumType().GetName())
			}
			return i, nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_MESSAGE:
		if f, ok := v.(fields); ok {
			return encode(fd.GetMessageType(), f)
		}
	}
	return nil, fmt.Errorf("field %s: cannot encode %T as %v", fd.GetName(), v, fd.GetType())
}

func decode(msg *dynamic.Message) (fields, error) {
	out := fields{}
	for _, fd := range msg.GetMessageDescriptor().GetFields() {
		if fd.GetMessageType() != nil && !fd.IsRepeated() && !msg.HasField(fd) {
			continue
		}
		v, err := fromProto(fd, msg.GetField(fd))
		if err != nil {
			return nil, err
		}
		out[fd.GetName()] = v
	}
	return out, nil
}

func fromProto(fd *desc.FieldDescriptor, v any) (any, error) {
	if !fd.IsRepeated() {
		return fromProtoSingle(fd, v)
	}
	list, _ := v.([]any)
	out := make([]any, 0, len(list))
	for _, item := range list {
		dv, err := fromProtoSingle(fd, item)
		if err != nil {
			return nil, err
		}
		out = append(out, dv)
	}
	return out, nil
}

func fromProtoSingle(fd *desc.FieldDescriptor, v any) (any, error) {
	if fd.GetType() != descriptorpb.FieldDescriptorProto_TYPE_MESSAGE {
		return v, nil
	}
	m, ok := v.(*dynamic.Message)
	if !ok {
		return nil, fmt.Errorf("field %s: unexpected %T", fd.GetName(), v)
	}
	return decode(m)
}

func (f fields) str(key string) string {
	s, _ := f[key].(string)
	return s
}

func (f fields) u64(key string) uint64 {
	u, _ := f[key].(uint64)
	return u
}

func (f fields) i32(key string) int32 {
	i, _ := f[key].(int32)
	return i
}

func (f fields) boolean(key string) bool {
	b, _ := f[key].(bool)
	return b
}

func (f fields) message(key string) (fields, bool) {
	m, ok := f[key].(fields)
	return m, ok
}

func (f fields) list(key string) []fields {
	items, _ := f[key].([]any)
	out := make([]fields, 0, len(items))
	for _, item := range items {
		if m, ok := item.(fields); ok {
			out = append(out, m)
		}
	}
	return out
}

func paramFields(p abi.Param) fields {
	return fields{
		"name":  p.Name,
		"type":  p.Type,
		"mode":  int32(p.Mode),
		"width": int32(p.Width),
		"kind":  int32(p.Kind),
	}
}

func paramOf(f fields) abi.Param {
	return abi.Param{
		Name:  f.str("name"),
		Type:  f.str("type"),
		Mode:  abi.PassMode(f.i32("mode")),
		Width: int(f.i32("width")),
		Kind:  abi.Kind(f.i32("kind")),
	}
}

func signatureFields(sig abi.Signature) fields {
	params := make([]any, 0, len(sig.Params))
	for _, p := range sig.Params {
		params = append(params, paramFields(p))
	}
	f := fields{
		"name":     sig.Name,
		"params":   params,
		"result":   paramFields(sig.Result),
		"variadic": sig.Variadic,
	}
	if sig.Receiver != nil {
		f["receiver"] = paramFields(*sig.Receiver)
	}
	return f
}

func signatureOf(f fields) abi.Signature {
	sig := abi.Signature{Name: f.str("name"), Variadic: f.boolean("variadic")}
	if r, ok := f.message("receiver"); ok {
		p := paramOf(r)
		sig.Receiver = &p
	}
	for _, p := range f.list("params") {
		sig.Params = append(sig.Params, paramOf(p))
	}
	if r, ok := f.message("result"); ok {
		sig.Result = paramOf(r)
	}
	return sig
}

func slotFields(s abi.Slot) fields {
	return fields{
		"mode":  int32(s.Mode),
		"width": int32(s.Width),
		"kind":  int32(s.Kind),
		"bits":  s.Bits,
	}
}

func slotOf(f fields) abi.Slot {
	return abi.Slot{
		Mode:  abi.PassMode(f.i32("mode")),
		Width: int(f.i32("width")),
		Kind:  abi.Kind(f.i32("kind")),
		Bits:  f.u64("bits"),
	}
}
